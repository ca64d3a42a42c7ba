package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/splitbuddy/internal/calculator"
	"github.com/tbourn/splitbuddy/internal/domain"
	"github.com/tbourn/splitbuddy/internal/receipt"
	"github.com/tbourn/splitbuddy/internal/services"
)

func init() { gin.SetMode(gin.TestMode) }

const (
	testConnID  = "0b6e1f52-2f4b-4d38-9d5e-6a1c4d0b7e11"
	testTableID = "5a0d2c1e-8f3b-4b6a-9c7d-2e1f0a9b8c7d"
	testItemID  = "9c8b7a6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"
)

type stubUsers struct {
	get func(ctx context.Context, id string) (*domain.User, error)
}

func (s stubUsers) Get(ctx context.Context, id string) (*domain.User, error) {
	if s.get != nil {
		return s.get(ctx, id)
	}
	return &domain.User{ID: id, Username: "alice", DisplayName: "Alice"}, nil
}

type stubBuddies struct {
	send       func(ctx context.Context, senderID, username string) (*domain.BuddyConnection, error)
	transition func(op, connectionID, userID string) error
	list       func(which, userID string) ([]services.BuddyView, error)
}

func (s stubBuddies) SendRequest(ctx context.Context, senderID, username string) (*domain.BuddyConnection, error) {
	return s.send(ctx, senderID, username)
}
func (s stubBuddies) AcceptRequest(_ context.Context, id, uid string) error {
	return s.transition("accept", id, uid)
}
func (s stubBuddies) RejectRequest(_ context.Context, id, uid string) error {
	return s.transition("reject", id, uid)
}
func (s stubBuddies) CancelRequest(_ context.Context, id, uid string) error {
	return s.transition("cancel", id, uid)
}
func (s stubBuddies) RemoveConnection(_ context.Context, id, uid string) error {
	return s.transition("remove", id, uid)
}
func (s stubBuddies) ListAccepted(_ context.Context, uid string) ([]services.BuddyView, error) {
	return s.list("accepted", uid)
}
func (s stubBuddies) ListIncoming(_ context.Context, uid string) ([]services.BuddyView, error) {
	return s.list("incoming", uid)
}
func (s stubBuddies) ListOutgoing(_ context.Context, uid string) ([]services.BuddyView, error) {
	return s.list("outgoing", uid)
}

// stubTables panics on any method a test did not wire.
type stubTables struct {
	create    func(ctx context.Context, creatorID string, in services.CreateTableInput) (*services.TableDetail, bool, error)
	get       func(ctx context.Context, tableID, uid string) (*services.TableDetail, error)
	summary   func(ctx context.Context, tableID, uid string) (*calculator.Shares, error)
	list      func(ctx context.Context, uid string, page, size int) ([]domain.Table, int64, error)
	stats     func(ctx context.Context, uid string) (int64, *time.Time, error)
	closeT    func(ctx context.Context, tableID, uid string) error
	assign    func(ctx context.Context, itemID, uid string, assign bool) (*domain.TableItem, error)
	edit      func(ctx context.Context, itemID, uid string, p services.ItemPatch) (*domain.TableItem, error)
	deleteItm func(ctx context.Context, itemID, uid string, v *int64) error
}

func (s stubTables) CreateTable(ctx context.Context, creatorID string, in services.CreateTableInput) (*services.TableDetail, bool, error) {
	return s.create(ctx, creatorID, in)
}
func (s stubTables) GetTable(ctx context.Context, tableID, uid string) (*services.TableDetail, error) {
	return s.get(ctx, tableID, uid)
}
func (s stubTables) Summary(ctx context.Context, tableID, uid string) (*calculator.Shares, error) {
	return s.summary(ctx, tableID, uid)
}
func (s stubTables) ListTables(ctx context.Context, uid string, page, size int) ([]domain.Table, int64, error) {
	return s.list(ctx, uid, page, size)
}
func (s stubTables) ListStats(ctx context.Context, uid string) (int64, *time.Time, error) {
	return s.stats(ctx, uid)
}
func (s stubTables) CloseTable(ctx context.Context, tableID, uid string) error {
	return s.closeT(ctx, tableID, uid)
}
func (s stubTables) AssignItem(ctx context.Context, itemID, uid string, assign bool) (*domain.TableItem, error) {
	return s.assign(ctx, itemID, uid, assign)
}
func (s stubTables) EditItem(ctx context.Context, itemID, uid string, p services.ItemPatch) (*domain.TableItem, error) {
	return s.edit(ctx, itemID, uid, p)
}
func (s stubTables) DeleteItem(ctx context.Context, itemID, uid string, v *int64) error {
	return s.deleteItm(ctx, itemID, uid, v)
}

type stubReceipts struct {
	scan func(ctx context.Context, image []byte, mimeType string) ([]receipt.CandidateItem, error)
}

func (s stubReceipts) Scan(ctx context.Context, image []byte, mimeType string) ([]receipt.CandidateItem, error) {
	return s.scan(ctx, image, mimeType)
}

// testRouter mounts every route with a fake identity: the X-Test-User header
// becomes the authenticated user id.
func testRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-test")
		if uid := c.GetHeader("X-Test-User"); uid != "" {
			c.Set("userID", uid)
		}
		c.Next()
	})
	r.GET("/me", h.Me)
	r.POST("/buddies/requests", h.SendBuddyRequest)
	r.POST("/buddies/requests/:id/accept", h.AcceptBuddyRequest)
	r.POST("/buddies/requests/:id/reject", h.RejectBuddyRequest)
	r.DELETE("/buddies/requests/:id", h.CancelBuddyRequest)
	r.DELETE("/buddies/:id", h.RemoveBuddy)
	r.GET("/buddies", h.ListBuddies)
	r.GET("/buddies/requests/incoming", h.ListIncomingRequests)
	r.GET("/buddies/requests/outgoing", h.ListOutgoingRequests)
	r.POST("/tables", h.CreateTable)
	r.GET("/tables", h.ListTables)
	r.GET("/tables/:id", h.GetTable)
	r.GET("/tables/:id/summary", h.TableSummary)
	r.POST("/tables/:id/close", h.CloseTable)
	r.PUT("/items/:id/assignment", h.AssignItem)
	r.PATCH("/items/:id", h.EditItem)
	r.DELETE("/items/:id", h.DeleteItem)
	r.POST("/receipts/scan", h.ScanReceipt)
	return r
}

// do sends a request as user (empty for anonymous) with an optional JSON body.
func do(r http.Handler, method, path, user string, body any, headers ...string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return er
}
