package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"pocketbook/internal/util"
	"pocketbook/pkg/queue"
	"pocketbook/pkg/sessiontoken"
	"pocketbook/services/library/internal/app"
	"pocketbook/services/library/internal/config"
	"pocketbook/services/library/internal/server"
)

func main() {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	signingKey := []byte(cfg.HMACKey)
	if len(signingKey) == 0 {
		signingKey, err = sessiontoken.LoadOrCreateKeyFile(cfg.HMACKeyFile)
		if err != nil {
			log.Fatalf("failed to load signing key: %v", err)
		}
		slog.Info("using bootstrapped signing key", "path", cfg.HMACKeyFile)
	}
	previousKeys, err := sessiontoken.ParseKeyList(cfg.HMACPreviousKeys)
	if err != nil {
		log.Fatalf("failed to parse previous signing keys: %v", err)
	}
	sessionTTL, err := config.ParseDuration(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session ttl: %v", err)
	}
	coverCacheTTL, err := config.ParseDuration(cfg.CoverCacheTTL)
	if err != nil {
		log.Fatalf("failed to parse cover cache ttl: %v", err)
	}

	var redisClient *redis.Client
	var coverQueue app.CoverQueue
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		q, err := queue.New(redisClient, queue.Config{
			Stream: "pocketbook:library:covers",
			Group:  "cover-warmers",
		})
		if err != nil {
			log.Fatalf("failed to init cover queue: %v", err)
		}
		coverQueue = q
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:      cfg.DatabaseURL,
		StorageBackend:   cfg.StorageBackend,
		BooksDir:         cfg.BooksDir,
		MinioEndpoint:    cfg.MinioEndpoint,
		MinioAccessKey:   cfg.MinioAccessKey,
		MinioSecretKey:   cfg.MinioSecretKey,
		MinioBucket:      cfg.MinioBucket,
		MinioUseSSL:      cfg.MinioUseSSL,
		Redis:            redisClient,
		CoverCacheTTL:    coverCacheTTL,
		CoverQueue:       coverQueue,
		SigningKey:       signingKey,
		KeyID:            cfg.HMACKeyID,
		PreviousKeys:     previousKeys,
		SessionTTL:       sessionTTL,
		MaxUploadBytes:   cfg.MaxUploadBytes,
		CoverConcurrency: cfg.CoverConcurrency,
		Demo:             cfg.Demo,
		OpenLibraryURL:   cfg.OpenLibraryURL,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer func() {
		if err := appCore.Close(); err != nil {
			logger.Warn("close app", "err", err)
		}
	}()

	if cfg.SeedAdminPassword != "" {
		if err := appCore.SeedAdmin(context.Background(), cfg.SeedAdminUsername, cfg.SeedAdminPassword); err != nil {
			log.Fatalf("failed to seed admin user: %v", err)
		}
	}

	go func() {
		if err := appCore.RunCoverWarmer(context.Background()); err != nil {
			logger.Error("cover warmer stopped", "err", err)
		}
	}()

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	var pages http.Handler
	if cfg.WebDir != "" {
		pages = http.FileServer(http.Dir(cfg.WebDir))
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		Redis:                      redisClient,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		PasswordRateLimitPerMinute: cfg.PasswordRateLimitPerMinute,
		MaxUploadFiles:             cfg.MaxUploadFiles,
		TrustedProxies:             trusted,
		CORSOrigins:                cfg.CORSOrigins,
		Pages:                      pages,
		SecureCookies:              cfg.SecureCookies,
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

	slog.Info("library server listening", "addr", addr, "demo", cfg.Demo)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
