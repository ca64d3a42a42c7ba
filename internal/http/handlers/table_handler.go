// Table HTTP handlers.
//
//   - POST /tables                 (create, Idempotency-Key aware)
//   - GET  /tables                 (list, paginated, weak ETag)
//   - GET  /tables/{id}
//   - GET  /tables/{id}/summary    (live split)
//   - POST /tables/{id}/close
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/splitbuddy/internal/domain"
	"github.com/tbourn/splitbuddy/internal/http/middleware"
	"github.com/tbourn/splitbuddy/internal/services"
	"github.com/tbourn/splitbuddy/internal/utils"
)

// HeaderIdempotencyReplayed marks a response served from an earlier request
// with the same Idempotency-Key.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

// CreateTableRequest is the JSON payload for opening a table.
type CreateTableRequest struct {
	Name  string             `json:"name" binding:"required" example:"Friday dinner"`
	Items []services.NewItem `json:"items"`
	// ParticipantIDs are accepted buddies of the caller; the caller is always added.
	ParticipantIDs []string `json:"participant_ids"`
	TaxAmount      float64  `json:"tax_amount" example:"2.15"`
	TipAmount      float64  `json:"tip_amount" example:"4.00"`
	// PreAssignedItemIndices are positions in Items that start assigned to the caller.
	PreAssignedItemIndices []int `json:"pre_assigned_item_indices"`
}

// ListTablesResponse wraps a page of tables and pagination information.
type ListTablesResponse struct {
	Tables     []domain.Table `json:"tables"`
	Pagination Pagination     `json:"pagination"`
}

// CreateTable godoc
// @ID          createTable
// @Summary     Open a shared table
// @Description Creates the table, its items and roster atomically. A repeated
// @Description Idempotency-Key returns the first result with Idempotency-Replayed: true.
// @Tags        Tables
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       body             body    handlers.CreateTableRequest  true  "Table"
// @Success     201  {object}  services.TableDetail
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Participant is not an accepted buddy"
// @Router      /tables [post]
func (h *Handlers) CreateTable(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	// A stored result is served by key alone, so a replayed retry does not
	// need a body that still parses.
	var req CreateTableRequest
	if err := c.ShouldBindJSON(&req); err != nil && !middleware.IsReplay(c) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)

	detail, replayed, err := h.tables.CreateTable(c.Request.Context(), uid, services.CreateTableInput{
		Name:                   req.Name,
		Items:                  req.Items,
		ParticipantIDs:         req.ParticipantIDs,
		TaxAmount:              req.TaxAmount,
		TipAmount:              req.TipAmount,
		PreAssignedItemIndices: req.PreAssignedItemIndices,
		IdempotencyKey:         key,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	if replayed {
		c.Header(HeaderIdempotencyReplayed, "true")
	}
	ok(c, http.StatusCreated, detail)
}

// ListTables godoc
// @ID          listTables
// @Summary     Tables the caller participates in (paginated)
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Tables
// @Produce     json
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListTablesResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Router      /tables [get]
func (h *Handlers) ListTables(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	ctx := c.Request.Context()
	page, pageSize := utils.PageParams(c.Query("page"), c.Query("page_size"))

	// Validator pre-check; a stats failure just skips conditional handling.
	if count, latest, err := h.tables.ListStats(ctx, uid); err == nil {
		var ts int64
		if latest != nil {
			ts = latest.UnixNano()
		}
		etag := fmt.Sprintf(`W/"tables:%s:%d:%d:%d:%d"`, uid, count, ts, page, pageSize)
		c.Header("ETag", etag)
		c.Header("Cache-Control", "private, max-age=0, must-revalidate")
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	tables, total, err := h.tables.ListTables(ctx, uid, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	if tables == nil {
		tables = []domain.Table{}
	}
	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListTablesResponse{
		Tables: tables,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetTable godoc
// @ID          getTable
// @Summary     Table with items and roster (participants only)
// @Tags        Tables
// @Produce     json
// @Param       id   path      string  true  "Table ID"  format(uuid)
// @Success     200  {object}  services.TableDetail
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Table not found"
// @Router      /tables/{id} [get]
func (h *Handlers) GetTable(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	id, okID := pathID(c, "id", "table")
	if !okID {
		return
	}
	detail, err := h.tables.GetTable(c.Request.Context(), id, uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, detail)
}

// TableSummary godoc
// @ID          tableSummary
// @Summary     Live per-participant split of a table
// @Description Tax and tip are prorated by each participant's share of the
// @Description subtotal; unassigned items form their own bucket.
// @Tags        Tables
// @Produce     json
// @Param       id   path      string  true  "Table ID"  format(uuid)
// @Success     200  {object}  calculator.Shares
// @Router      /tables/{id}/summary [get]
func (h *Handlers) TableSummary(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	id, okID := pathID(c, "id", "table")
	if !okID {
		return
	}
	shares, err := h.tables.Summary(c.Request.Context(), id, uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, shares)
}

// CloseTable godoc
// @ID          closeTable
// @Summary     Close a table (creator only)
// @Tags        Tables
// @Param       id   path  string  true  "Table ID"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     409  {object}  handlers.ErrorResponse  "Already closed"
// @Router      /tables/{id}/close [post]
func (h *Handlers) CloseTable(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	id, okID := pathID(c, "id", "table")
	if !okID {
		return
	}
	if err := h.tables.CloseTable(c.Request.Context(), id, uid); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
