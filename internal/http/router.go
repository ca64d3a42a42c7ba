// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, identity, idempotency, and rate limiting.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/splitbuddy/docs"
	"github.com/tbourn/splitbuddy/internal/cache"
	"github.com/tbourn/splitbuddy/internal/config"
	"github.com/tbourn/splitbuddy/internal/http/handlers"
	"github.com/tbourn/splitbuddy/internal/http/middleware"
	"github.com/tbourn/splitbuddy/internal/receipt"
	"github.com/tbourn/splitbuddy/internal/repo"
	"github.com/tbourn/splitbuddy/internal/services"
)

// jsonBodyLimit caps every JSON request body.
const jsonBodyLimit = 1 << 20

// multipartOverhead is the slack allowed on top of MAX_UPLOAD_BYTES for
// multipart boundaries and part headers.
const multipartOverhead = 64 << 10

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the API under cfg.APIBasePath.
//
// rdb may be nil, in which case username lookups go straight to the database.
// parser may be nil, in which case /receipts/scan is not mounted. Swagger UI is
// served at /swagger/ only when cfg.SwaggerEnabled is set.
//
// Global middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. RedactingLogger
//  4. Recovery
//  5. Metrics
//  6. CORS, security headers, gzip
//
// The API group then runs Identity, the idempotency validator and the rate
// limiter, in that order, so replays can bypass the limiter and both see the
// authenticated user.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, rdb redis.Cmdable, parser receipt.Parser, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery())

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(cors.New(corsConfig(cfg.CORS)))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Services
	users := &services.UserService{DB: db}
	var dir services.UserDirectory
	if rdb != nil {
		dir = cache.NewUserDirectory(db, rdb, cfg.Redis.UserTTL)
	}
	buddies := services.NewBuddyService(db, dir)
	tables := services.NewTableService(db)
	tables.IdempotencyTTL = cfg.IdempotencyTTL
	tables.MaxItems = cfg.MaxItems

	var receipts handlers.ReceiptService
	if parser != nil {
		receipts = &services.ReceiptService{Parser: parser, MaxBytes: cfg.Receipt.MaxUploadBytes}
	}
	h := handlers.New(users, buddies, tables, receipts)
	h.MaxUploadBytes = cfg.Receipt.MaxUploadBytes

	apiBase := cfg.APIBasePath
	api := groupWithPrefix(r, apiBase)
	api.Use(middleware.RequireIdentity(middleware.IdentityOptions{
		Secret:       cfg.Auth.JWTSecret,
		Issuer:       cfg.Auth.Issuer,
		TrustHeaders: cfg.GinMode != gin.ReleaseMode,
		Sync: func(ctx context.Context, id middleware.Identity) error {
			_, err := users.Sync(ctx, id.ID, id.Username, id.DisplayName)
			if errors.Is(err, services.ErrUsernameTaken) {
				return fmt.Errorf("%w: %v", middleware.ErrIdentityConflict, err)
			}
			return err
		},
	}))
	api.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
			Scope: middleware.ScopeByRoute(map[string]string{
				joinPath(apiBase, "/tables"): services.IdempotencyScopeTables,
			}),
		},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
			if errors.Is(err, repo.ErrNotFound) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			return rec != nil, nil
		},
	))
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	api.Use(rl.Handler())

	if parser != nil {
		api.POST("/receipts/scan", limitBody(cfg.Receipt.MaxUploadBytes+multipartOverhead), h.ScanReceipt)
	}

	v := api.Group("", limitBody(jsonBodyLimit))
	{
		v.GET("/me", h.Me)

		// Buddies
		v.POST("/buddies/requests", h.SendBuddyRequest)
		v.GET("/buddies/requests/incoming", h.ListIncomingRequests)
		v.GET("/buddies/requests/outgoing", h.ListOutgoingRequests)
		v.POST("/buddies/requests/:id/accept", h.AcceptBuddyRequest)
		v.POST("/buddies/requests/:id/reject", h.RejectBuddyRequest)
		v.DELETE("/buddies/requests/:id", h.CancelBuddyRequest)
		v.GET("/buddies", h.ListBuddies)
		v.DELETE("/buddies/:id", h.RemoveBuddy)

		// Tables
		v.POST("/tables", h.CreateTable)
		v.GET("/tables", h.ListTables)
		v.GET("/tables/:id", h.GetTable)
		v.GET("/tables/:id/summary", h.TableSummary)
		v.POST("/tables/:id/close", h.CloseTable)

		// Items
		v.PUT("/items/:id/assignment", h.AssignItem)
		v.PATCH("/items/:id", h.EditItem)
		v.DELETE("/items/:id", h.DeleteItem)
	}
}

// corsConfig allows any origin when no allowlist is configured. Credentials
// stay off either way: the API authenticates with bearer tokens.
func corsConfig(cc config.CORSConfig) cors.Config {
	c := cors.Config{
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			"If-Match", "If-None-Match",
			middleware.HeaderUserID, middleware.HeaderUsername, middleware.HeaderDisplayName,
			middleware.HeaderIdempotencyKey,
		},
		ExposeHeaders: []string{"X-Request-ID", "ETag", handlers.HeaderIdempotencyReplayed, "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(cc.AllowedOrigins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cc.AllowedOrigins
	}
	return c
}

// limitBody caps the request body at maxBytes using http.MaxBytesReader.
// Reads past the cap fail, which handlers report as a bad request.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// joinPath builds the route template gin reports from c.FullPath().
func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}
