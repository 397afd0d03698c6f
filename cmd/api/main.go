package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collabflow/internal/auth"
	"collabflow/internal/auth/refreshstore"
	"collabflow/internal/authflow"
	"collabflow/internal/config"
	"collabflow/internal/oauth"
	"collabflow/internal/proxy"
	"collabflow/internal/session"
	"collabflow/pkg/logger"
	"collabflow/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	tokenManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("token manager init failed", "err", err)
		os.Exit(1)
	}

	refreshTokens, sessions, cleanup, err := openStores(rootCtx, cfg)
	if err != nil {
		log.Error("store init failed", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	provider := oauth.NewProvider(cfg.OAuth)

	flowService, err := authflow.NewService(provider, tokenManager, refreshTokens, sessions, cfg.Auth.JWTSecret)
	if err != nil {
		log.Error("auth flow init failed", "err", err)
		os.Exit(1)
	}

	forwarder, err := proxy.NewForwarder(cfg.Proxy)
	if err != nil {
		log.Error("proxy init failed", "err", err)
		os.Exit(1)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:       cfg,
		tokens:    tokenManager,
		flows:     flowService,
		forwarder: forwarder,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("gateway listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

// openStores builds the refresh-token and session stores for the
// configured backend. The returned cleanup closes any connections.
func openStores(ctx context.Context, cfg config.Config) (refreshstore.Store, session.Store, func(), error) {
	if cfg.Store.Backend == config.StoreBackendMemory {
		return refreshstore.NewMemory(), session.NewMemory(cfg.Auth.SessionMaxAge), func() {}, nil
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, nil, nil, err
	}

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}

	refreshTokens, err := refreshstore.NewRedis(rdb, cfg.Auth.RefreshTokenTTL)
	if err != nil {
		_ = db.Close()
		_ = rdb.Close()
		return nil, nil, nil, err
	}
	sessions, err := session.NewPostgres(db, cfg.Auth.SessionMaxAge)
	if err != nil {
		_ = db.Close()
		_ = rdb.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		_ = rdb.Close()
		_ = db.Close()
	}
	return refreshTokens, sessions, cleanup, nil
}
