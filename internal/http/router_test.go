package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/splitbuddy/internal/config"
	"github.com/tbourn/splitbuddy/internal/http/middleware"
	"github.com/tbourn/splitbuddy/internal/receipt"
	"github.com/tbourn/splitbuddy/internal/repo"
)

func init() { gin.SetMode(gin.TestMode) }

// newTestDB opens a migrated in-memory database private to the test.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:router_%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		GinMode:        gin.DebugMode,
		APIBasePath:    "/api/v1",
		RateRPS:        100,
		RateBurst:      100,
		MaxItems:       50,
		IdempotencyTTL: time.Hour,
		Receipt:        config.ReceiptConfig{MaxUploadBytes: 1 << 20},
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
	}
}

type fakeParser struct {
	items []receipt.RawItem
	err   error
}

func (p fakeParser) Parse(context.Context, []byte, string) ([]receipt.RawItem, error) {
	return p.items, p.err
}

// client issues requests with dev identity headers.
type client struct {
	t *testing.T
	r http.Handler
}

func (cl client) do(method, path, user string, body any, headers ...string) *httptest.ResponseRecorder {
	cl.t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			cl.t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, "id-"+user)
		req.Header.Set(middleware.HeaderUsername, user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	cl.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), nil, nil, testConfig())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://anywhere.test")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" || w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing baseline headers: %v", w.Header())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "splitbuddy_http_requests_total") {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_Swagger(t *testing.T) {
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), nil, nil, testConfig())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("swagger disabled: GET /swagger/doc.json = %d", w.Code)
	}

	cfg := testConfig()
	cfg.SwaggerEnabled = true
	cfg.APIBasePath = "/api/v2"
	r = gin.New()
	RegisterRoutes(r, newTestDB(t), nil, nil, cfg)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("swagger enabled: GET /swagger/doc.json = %d", w.Code)
	}
	doc := decode[map[string]any](t, w)
	if doc["basePath"] != "/api/v2" {
		t.Fatalf("basePath = %v", doc["basePath"])
	}
	paths, _ := doc["paths"].(map[string]any)
	for _, p := range []string{"/tables", "/items/{id}", "/buddies/requests", "/receipts/scan"} {
		if _, ok := paths[p]; !ok {
			t.Fatalf("doc.json missing path %s", p)
		}
	}
}

func TestRegisterRoutes_CORSWithOrigins(t *testing.T) {
	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), nil, nil, cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.test")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unlisted origin got ACAO %q", got)
	}
}

func TestRegisterRoutes_IdentityRequired(t *testing.T) {
	cfg := testConfig()
	cfg.GinMode = gin.ReleaseMode
	cfg.Auth = config.AuthConfig{JWTSecret: "s3cret"}
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), nil, nil, cfg)
	cl := client{t: t, r: r}

	// Dev headers are ignored once a secret is configured.
	w := cl.do(http.MethodGet, "/api/v1/me", "alice", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("header identity in release = %d", w.Code)
	}
	if er := decode[map[string]string](t, w); er["code"] != "unauthorized" || er["request_id"] == "" {
		t.Fatalf("401 envelope = %v", er)
	}
}

func TestRegisterRoutes_UsernameHeldByAnotherIdentity(t *testing.T) {
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), nil, nil, testConfig())
	cl := client{t: t, r: r}

	if w := cl.do(http.MethodGet, "/api/v1/me", "alice", nil); w.Code != http.StatusOK {
		t.Fatalf("first alice = %d", w.Code)
	}
	w := cl.do(http.MethodGet, "/api/v1/me", "alice", nil, middleware.HeaderUserID, "id-impostor")
	if w.Code != http.StatusConflict {
		t.Fatalf("second id claiming alice = %d %s", w.Code, w.Body.String())
	}
	if er := decode[map[string]string](t, w); er["code"] != "conflict" {
		t.Fatalf("409 envelope = %v", er)
	}
}

func TestRegisterRoutes_LedgerFlow(t *testing.T) {
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), nil, nil, testConfig())
	cl := client{t: t, r: r}
	const base = "/api/v1"

	// First contact syncs both profiles.
	for _, u := range []string{"alice", "bob"} {
		w := cl.do(http.MethodGet, base+"/me", u, nil)
		if me := decode[map[string]string](t, w); w.Code != http.StatusOK || me["username"] != u {
			t.Fatalf("GET /me %s = %d %v", u, w.Code, me)
		}
	}

	w := cl.do(http.MethodPost, base+"/buddies/requests", "alice", map[string]string{"username": "bob"})
	if w.Code != http.StatusCreated {
		t.Fatalf("send request = %d %s", w.Code, w.Body.String())
	}
	connID := decode[map[string]any](t, w)["connection_id"].(string)

	if w := cl.do(http.MethodPost, base+"/buddies/requests", "alice", map[string]string{"username": "alice"}); w.Code != http.StatusBadRequest {
		t.Fatalf("self request = %d", w.Code)
	}
	if w := cl.do(http.MethodPost, base+"/buddies/requests/"+connID+"/accept", "alice", nil); w.Code != http.StatusForbidden {
		t.Fatalf("sender accept = %d", w.Code)
	}
	if w := cl.do(http.MethodPost, base+"/buddies/requests/"+connID+"/accept", "bob", nil); w.Code != http.StatusNoContent {
		t.Fatalf("accept = %d %s", w.Code, w.Body.String())
	}

	create := map[string]any{
		"name": "Dinner",
		"items": []map[string]any{
			{"name": "Burger", "unit_price": 12.99, "quantity": 1},
			{"name": "Salad", "unit_price": 10.00, "quantity": 1},
		},
		"participant_ids":           []string{"id-bob"},
		"tax_amount":                2.3,
		"tip_amount":                4.6,
		"pre_assigned_item_indices": []int{0},
	}
	w = cl.do(http.MethodPost, base+"/tables", "alice", create, middleware.HeaderIdempotencyKey, "dinner-1")
	if w.Code != http.StatusCreated || w.Header().Get("Idempotency-Replayed") != "" {
		t.Fatalf("create table = %d %s", w.Code, w.Body.String())
	}
	type detail struct {
		Table struct {
			ID          string  `json:"table_id"`
			TotalAmount float64 `json:"total_amount"`
		} `json:"table"`
		Items []struct {
			ID      string `json:"item_id"`
			Version int64  `json:"version"`
		} `json:"items"`
	}
	d := decode[detail](t, w)
	if len(d.Items) != 2 {
		t.Fatalf("items = %+v", d.Items)
	}

	w = cl.do(http.MethodPost, base+"/tables", "alice", create, middleware.HeaderIdempotencyKey, "dinner-1")
	if w.Code != http.StatusCreated || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay = %d %v", w.Code, w.Header())
	}
	if again := decode[detail](t, w); again.Table.ID != d.Table.ID {
		t.Fatalf("replay created a second table: %s vs %s", again.Table.ID, d.Table.ID)
	}

	salad := d.Items[1]
	w = cl.do(http.MethodPut, base+"/items/"+salad.ID+"/assignment", "bob", map[string]bool{"assign": true})
	if w.Code != http.StatusOK || w.Header().Get("ETag") == "" {
		t.Fatalf("bob assigns salad = %d %s", w.Code, w.Body.String())
	}

	w = cl.do(http.MethodGet, base+"/tables/"+d.Table.ID+"/summary", "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("summary = %d %s", w.Code, w.Body.String())
	}
	type share struct {
		ShareCents int64 `json:"share_cents"`
	}
	sum := decode[struct {
		Total          float64          `json:"total"`
		PerParticipant map[string]share `json:"per_participant"`
	}](t, w)
	got := sum.PerParticipant["id-alice"].ShareCents + sum.PerParticipant["id-bob"].ShareCents
	if got != 2989 || sum.Total != 29.89 {
		t.Fatalf("shares do not add up: %+v", sum)
	}

	// Stale version is a conflict, current version goes through.
	w = cl.do(http.MethodPatch, base+"/items/"+salad.ID, "alice", map[string]any{"unit_price": 11.0, "expected_version": salad.Version})
	if w.Code != http.StatusConflict {
		t.Fatalf("stale edit = %d %s", w.Code, w.Body.String())
	}

	w = cl.do(http.MethodGet, base+"/tables", "bob", nil)
	etag := w.Header().Get("ETag")
	if w.Code != http.StatusOK || etag == "" {
		t.Fatalf("list = %d %v", w.Code, w.Header())
	}
	if w := cl.do(http.MethodGet, base+"/tables", "bob", nil, "If-None-Match", etag); w.Code != http.StatusNotModified {
		t.Fatalf("conditional list = %d", w.Code)
	}

	if w := cl.do(http.MethodPost, base+"/tables/"+d.Table.ID+"/close", "bob", nil); w.Code != http.StatusForbidden {
		t.Fatalf("bob closes = %d", w.Code)
	}
	if w := cl.do(http.MethodPost, base+"/tables/"+d.Table.ID+"/close", "alice", nil); w.Code != http.StatusNoContent {
		t.Fatalf("alice closes = %d", w.Code)
	}
	w = cl.do(http.MethodPut, base+"/items/"+salad.ID+"/assignment", "bob", map[string]bool{"assign": false})
	if w.Code != http.StatusConflict {
		t.Fatalf("write after close = %d", w.Code)
	}
}

func TestRegisterRoutes_JSONBodyLimit(t *testing.T) {
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), nil, nil, testConfig())
	cl := client{t: t, r: r}

	huge := map[string]string{"username": strings.Repeat("x", jsonBodyLimit)}
	if w := cl.do(http.MethodPost, "/api/v1/buddies/requests", "alice", huge); w.Code != http.StatusBadRequest {
		t.Fatalf("oversized body = %d", w.Code)
	}
}

func TestRegisterRoutes_ReceiptScan(t *testing.T) {
	upload := func(r http.Handler) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, _ := mw.CreateFormFile("image", "r.png")
		_, _ = part.Write([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
		_ = mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/receipts/scan", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set(middleware.HeaderUserID, "id-alice")
		req.Header.Set(middleware.HeaderUsername, "alice")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	// Without a parser the route does not exist.
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), nil, nil, testConfig())
	if w := upload(r); w.Code != http.StatusNotFound {
		t.Fatalf("unmounted scan = %d", w.Code)
	}

	two := 2.0
	r = gin.New()
	RegisterRoutes(r, newTestDB(t), nil, fakeParser{items: []receipt.RawItem{
		{Item: " Burger ", Amount: &two, Price: 12.99},
		{Item: "Discount", Price: -3},
	}}, testConfig())
	w := upload(r)
	if w.Code != http.StatusOK {
		t.Fatalf("scan = %d %s", w.Code, w.Body.String())
	}
	resp := decode[struct {
		Items []receipt.CandidateItem `json:"items"`
	}](t, w)
	if len(resp.Items) != 1 || resp.Items[0].Name != "Burger" || resp.Items[0].Quantity != 2 {
		t.Fatalf("scan items = %+v", resp.Items)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	for body, want := range map[string]int{"0123456789": http.StatusOK, "0123456789AB": http.StatusRequestEntityTooLarge} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString(body)))
		if w.Code != want {
			t.Fatalf("body %q: got %d, want %d", body, w.Code, want)
		}
	}
}

func Test_groupWithPrefix_joinPath(t *testing.T) {
	r := gin.New()
	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, c.FullPath()) })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, c.FullPath()) })

	for path, want := range map[string]string{"/one": joinPath("/", "/one"), "/api/ping": joinPath("/api", "/ping")} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s = %d %q; want %q", path, w.Code, w.Body.String(), want)
		}
	}
}
