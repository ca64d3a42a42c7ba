// Item HTTP handlers.
//
//   - PUT    /items/{id}/assignment  (claim or release)
//   - PATCH  /items/{id}             (edit, optimistic)
//   - DELETE /items/{id}             (If-Match: <version> optional)
//
// Item responses carry the version as a strong ETag so clients can send it
// back in If-Match.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/splitbuddy/internal/domain"
	"github.com/tbourn/splitbuddy/internal/services"
)

// AssignItemRequest claims (true) or releases (false) an item for the caller.
type AssignItemRequest struct {
	Assign *bool `json:"assign" binding:"required" example:"true"`
}

// EditItemRequest is a partial item update; omitted fields stay unchanged.
// ExpectedVersion falls back to the If-Match header.
type EditItemRequest struct {
	Name            *string  `json:"name,omitempty" example:"Burger"`
	UnitPrice       *float64 `json:"unit_price,omitempty" example:"12.99"`
	Quantity        *int     `json:"quantity,omitempty" example:"2"`
	ExpectedVersion *int64   `json:"expected_version,omitempty" example:"3"`
}

// AssignItem godoc
// @ID          assignItem
// @Summary     Claim or release an item
// @Tags        Items
// @Accept      json
// @Produce     json
// @Param       id    path      string                      true  "Item ID"  format(uuid)
// @Param       body  body      handlers.AssignItemRequest  true  "Assignment"
// @Success     200   {object}  domain.TableItem
// @Failure     409   {object}  handlers.ErrorResponse  "Table closed or concurrent write"
// @Router      /items/{id}/assignment [put]
func (h *Handlers) AssignItem(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	id, okID := pathID(c, "id", "item")
	if !okID {
		return
	}
	var req AssignItemRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Assign == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "assign (bool) required")
		return
	}
	item, err := h.tables.AssignItem(c.Request.Context(), id, uid, *req.Assign)
	if err != nil {
		failErr(c, err)
		return
	}
	writeItem(c, item)
}

// EditItem godoc
// @ID          editItem
// @Summary     Edit an item
// @Description Optimistic update: a stale expected_version (or If-Match) yields 409 conflict.
// @Tags        Items
// @Accept      json
// @Produce     json
// @Param       id        path      string                    true   "Item ID"  format(uuid)
// @Param       If-Match  header    string                    false  "Expected item version"
// @Param       body      body      handlers.EditItemRequest  true   "Changes"
// @Success     200       {object}  domain.TableItem
// @Failure     409       {object}  handlers.ErrorResponse  "Version mismatch"
// @Router      /items/{id} [patch]
func (h *Handlers) EditItem(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	id, okID := pathID(c, "id", "item")
	if !okID {
		return
	}
	var req EditItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	expected := req.ExpectedVersion
	if expected == nil {
		v, err := parseIfMatch(c)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		expected = v
	}

	item, err := h.tables.EditItem(c.Request.Context(), id, uid, services.ItemPatch{
		Name:            req.Name,
		UnitPrice:       req.UnitPrice,
		Quantity:        req.Quantity,
		ExpectedVersion: expected,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	writeItem(c, item)
}

// DeleteItem godoc
// @ID          deleteItem
// @Summary     Delete an item
// @Tags        Items
// @Param       id        path    string  true   "Item ID"  format(uuid)
// @Param       If-Match  header  string  false  "Expected item version"
// @Success     204  {string}  string  "No Content"
// @Failure     409  {object}  handlers.ErrorResponse  "Version mismatch or table closed"
// @Router      /items/{id} [delete]
func (h *Handlers) DeleteItem(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	id, okID := pathID(c, "id", "item")
	if !okID {
		return
	}
	expected, err := parseIfMatch(c)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	if err := h.tables.DeleteItem(c.Request.Context(), id, uid, expected); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

func writeItem(c *gin.Context, item *domain.TableItem) {
	c.Header("ETag", versionTag(item.Version))
	ok(c, http.StatusOK, item)
}
