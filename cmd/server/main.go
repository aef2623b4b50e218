package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/kyshr/asap-roadworthy-test-backend/internal/app"
	"github.com/kyshr/asap-roadworthy-test-backend/internal/config"
	"github.com/kyshr/asap-roadworthy-test-backend/internal/server"
	"github.com/kyshr/asap-roadworthy-test-backend/internal/util"
	"github.com/kyshr/asap-roadworthy-test-backend/pkg/storage"
	"github.com/kyshr/asap-roadworthy-test-backend/pkg/store"
	"github.com/kyshr/asap-roadworthy-test-backend/pkg/token"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	tokenTTL, err := config.ParseTokenTTL(cfg.TokenTTL)
	if err != nil {
		log.Fatalf("failed to parse token TTL: %v", err)
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init postgres store: %v", err)
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init object store: %v", err)
		}
	} else {
		slog.Warn("object storage not configured, attachment uploads disabled")
	}

	tokens := token.NewService(cfg.JWTSecret, tokenTTL)

	appCore, err := app.New(app.Config{
		Store:             dataStore,
		Tokens:            tokens,
		Objects:           objects,
		BcryptCost:        cfg.BcryptCost,
		AllowedExtensions: cfg.AllowedExtensions,
		MaxUploadBytes:    cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		Tokens:                     tokens,
		Env:                        cfg.Env,
		CORSOrigin:                 cfg.CORSOrigin,
		CookieTTL:                  time.Duration(cfg.CookieTTLDays) * 24 * time.Hour,
		RedisAddr:                  cfg.RedisAddr,
		RedisPassword:              cfg.RedisPassword,
		RegisterRateLimitPerMinute: cfg.RegisterRateLimitPerMinute,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		MaxUploadBytes:             cfg.MaxUploadBytes,
		TrustedProxies:             trustedProxies,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server listening", "addr", addr, "env", cfg.Env)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
