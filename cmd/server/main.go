// Command server runs the splitbuddy HTTP API.
//
//	@title						SplitBuddy API
//	@version					1.0
//	@description				Buddy graph, shared-table ledger and bill split service.
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token issued by the identity provider.
package main

//go:generate swag init -d ../.. -g cmd/server/main.go -o ../../docs --parseInternal --outputTypes go

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/splitbuddy/internal/config"
	httpapi "github.com/tbourn/splitbuddy/internal/http"
	"github.com/tbourn/splitbuddy/internal/observability"
	"github.com/tbourn/splitbuddy/internal/receipt"
	"github.com/tbourn/splitbuddy/internal/repo"
	"github.com/tbourn/splitbuddy/internal/sysutil"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		sysutil.SetupLogger(nil, "info", false)
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetupLogger(nil, cfg.LogLevel, cfg.LogPretty)
	version := sysutil.Version(os.Getenv("APP_VERSION"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup")
	}

	db, err := repo.Open(repo.Options{Driver: cfg.DB.Driver, DSN: cfg.DB.DSN, Tracing: cfg.OTEL.Enabled})
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			// The directory falls back to the database on every Redis error.
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, user cache degraded")
		}
		cancel()
	}

	var parser receipt.Parser
	if cfg.Receipt.URL != "" {
		parser = receipt.NewHTTPParser(cfg.Receipt.URL, cfg.Receipt.APIKey, cfg.Receipt.Timeout, uint(cfg.Receipt.MaxAttempts))
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	// A nil *redis.Client must not reach the router as a non-nil Cmdable.
	if rdb != nil {
		httpapi.RegisterRoutes(r, db, rdb, parser, cfg)
	} else {
		httpapi.RegisterRoutes(r, db, nil, parser, cfg)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", version).
			Str("db_driver", cfg.DB.Driver).
			Bool("redis", rdb != nil).
			Bool("receipts", parser != nil).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(sctx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
