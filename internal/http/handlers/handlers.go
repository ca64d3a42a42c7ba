// Package handlers implements the JSON endpoints of the public API.
//
// Handlers are transport-thin: they bind and shape input, pass the
// authenticated user id explicitly into a service call, and translate the
// result (or the service error) into an HTTP response.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/splitbuddy/internal/calculator"
	"github.com/tbourn/splitbuddy/internal/domain"
	"github.com/tbourn/splitbuddy/internal/http/middleware"
	"github.com/tbourn/splitbuddy/internal/receipt"
	"github.com/tbourn/splitbuddy/internal/services"
)

// UserService reads mirrored profiles.
type UserService interface {
	Get(ctx context.Context, id string) (*domain.User, error)
}

// BuddyService is the friend-request lifecycle.
type BuddyService interface {
	SendRequest(ctx context.Context, senderID, recipientUsername string) (*domain.BuddyConnection, error)
	AcceptRequest(ctx context.Context, connectionID, actingUserID string) error
	RejectRequest(ctx context.Context, connectionID, actingUserID string) error
	CancelRequest(ctx context.Context, connectionID, actingUserID string) error
	RemoveConnection(ctx context.Context, connectionID, actingUserID string) error
	ListAccepted(ctx context.Context, userID string) ([]services.BuddyView, error)
	ListIncoming(ctx context.Context, userID string) ([]services.BuddyView, error)
	ListOutgoing(ctx context.Context, userID string) ([]services.BuddyView, error)
}

// TableService is the shared-table ledger.
type TableService interface {
	CreateTable(ctx context.Context, creatorID string, in services.CreateTableInput) (*services.TableDetail, bool, error)
	GetTable(ctx context.Context, tableID, actingUserID string) (*services.TableDetail, error)
	Summary(ctx context.Context, tableID, actingUserID string) (*calculator.Shares, error)
	ListTables(ctx context.Context, userID string, page, pageSize int) ([]domain.Table, int64, error)
	ListStats(ctx context.Context, userID string) (int64, *time.Time, error)
	CloseTable(ctx context.Context, tableID, actingUserID string) error
	AssignItem(ctx context.Context, itemID, actingUserID string, assign bool) (*domain.TableItem, error)
	EditItem(ctx context.Context, itemID, actingUserID string, patch services.ItemPatch) (*domain.TableItem, error)
	DeleteItem(ctx context.Context, itemID, actingUserID string, expectedVersion *int64) error
}

// ReceiptService extracts candidate items from a receipt image.
type ReceiptService interface {
	Scan(ctx context.Context, image []byte, mimeType string) ([]receipt.CandidateItem, error)
}

// Handlers groups every endpoint. Receipts may be nil when no OCR service
// is configured; the router then leaves the scan route unmounted.
type Handlers struct {
	users    UserService
	buddies  BuddyService
	tables   TableService
	receipts ReceiptService

	// MaxUploadBytes caps receipt uploads read from the multipart form.
	MaxUploadBytes int64
}

// New constructs Handlers bound to the given services.
func New(users UserService, buddies BuddyService, tables TableService, receipts ReceiptService) *Handlers {
	return &Handlers{users: users, buddies: buddies, tables: tables, receipts: receipts, MaxUploadBytes: 8 << 20}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// currentUser returns the authenticated id, aborting with 401 when the
// identity middleware did not run.
func currentUser(c *gin.Context) (string, bool) {
	uid := middleware.GetUserID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return "", false
	}
	return uid, true
}

// pathID reads a UUID path parameter, aborting with 400 when malformed.
func pathID(c *gin.Context, name, what string) (string, bool) {
	id := c.Param(name)
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, what+" id must be a UUID")
		return "", false
	}
	return id, true
}

// versionTag renders an item version as a strong entity tag.
func versionTag(v int64) string { return fmt.Sprintf(`"%d"`, v) }

// parseIfMatch reads an item version from If-Match. Accepted forms: "3",
// W/"3" and a bare 3. An absent header yields nil.
func parseIfMatch(c *gin.Context) (*int64, error) {
	raw := strings.TrimSpace(c.GetHeader("If-Match"))
	if raw == "" {
		return nil, nil
	}
	raw = strings.TrimPrefix(raw, "W/")
	raw = strings.Trim(raw, `"`)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 1 {
		return nil, fmt.Errorf("If-Match must carry an item version")
	}
	return &v, nil
}
