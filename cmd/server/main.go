package main

import (
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"littlehero/internal/app"
	"littlehero/internal/config"
	"littlehero/internal/ratelimit"
	"littlehero/internal/server"
	"littlehero/internal/util"
	"littlehero/pkg/auth"
	"littlehero/pkg/queue"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	tokens, err := auth.NewTokenProvider(auth.TokenConfig{
		Secret: cfg.JWTSecret,
		Issuer: cfg.JWTIssuer,
		TTL:    time.Duration(cfg.SessionTTLMinutes) * time.Minute,
	})
	if err != nil {
		log.Fatalf("failed to init token provider: %v", err)
	}

	var notifier app.Notifier
	switch strings.ToLower(strings.TrimSpace(cfg.GeneratorMode)) {
	case "redis":
		notifier, err = queue.NewRedisNotifier(queue.RedisNotifierConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.GeneratorStream,
		})
	default:
		notifier, err = app.NewHTTPNotifier(cfg.GeneratorURL, cfg.InternalToken)
	}
	if err != nil {
		log.Fatalf("failed to init generation notifier: %v", err)
	}

	var loginLimiter *ratelimit.FixedWindowLimiter
	if cfg.LoginRateLimit > 0 && cfg.RedisAddr != "" {
		window := time.Duration(cfg.LoginRateWindowSeconds) * time.Second
		if window <= 0 {
			window = time.Minute
		}
		loginLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "littlehero:ratelimit", cfg.LoginRateLimit, window)
		if err != nil {
			log.Fatalf("failed to init login rate limiter: %v", err)
		}
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:    cfg.DatabaseURL,
		MinioEndpoint:  cfg.MinioEndpoint,
		MinioAccessKey: cfg.MinioAccessKey,
		MinioSecretKey: cfg.MinioSecretKey,
		MinioBucket:    cfg.MinioBucket,
		MinioUseSSL:    cfg.MinioUseSSL,
		Notifier:       notifier,
		Tokens:         tokens,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		InternalToken:  cfg.InternalToken,
		MaxUploadBytes: cfg.MaxUploadBytes,
		LoginLimiter:   loginLimiter,
		TrustedProxies: trustedProxies,
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

	slog.Info("littlehero server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
