// zmforum/main.go
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"zmforum/config"
	"zmforum/database"
	"zmforum/handlers"
	"zmforum/models"
	"zmforum/utils"
)

type Application struct {
	db          *database.DatabaseService
	rateLimiter *models.RateLimiter
	logger      *slog.Logger
	mediaDir    string
	jwtSecret   []byte
	storage     models.StorageService
}

// Methods to satisfy the handlers.App interface
func (a *Application) DB() *database.DatabaseService    { return a.db }
func (a *Application) RateLimiter() *models.RateLimiter { return a.rateLimiter }
func (a *Application) Logger() *slog.Logger             { return a.logger }
func (a *Application) Storage() models.StorageService   { return a.storage }
func (a *Application) JWTSecret() []byte                { return a.jwtSecret }
func (a *Application) MediaDir() string                 { return a.mediaDir }

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- External Configuration ---
	port := utils.GetEnv("FORUM_PORT", "8080")
	dbPath := utils.GetEnv("FORUM_DB_PATH", "./forum.db?_journal_mode=WAL&_foreign_keys=on")
	backupDir := utils.GetEnv("FORUM_BACKUP_DIR", "./backups")
	mediaDir := utils.GetEnv("FORUM_MEDIA_DIR", "./media")

	jwtSecret := os.Getenv("FORUM_JWT_SECRET")
	if jwtSecret == "" {
		logger.Error("FATAL: FORUM_JWT_SECRET is not set")
		os.Exit(1)
	}

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		logger.Error("FATAL: Could not create backup directory", "path", backupDir, "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(mediaDir, 0755); err != nil {
		logger.Error("FATAL: Could not create media directory", "path", mediaDir, "error", err)
		os.Exit(1)
	}

	rateLimitEvery, err := time.ParseDuration(utils.GetEnv("FORUM_RATE_EVERY", config.DefaultRateLimitEvery))
	if err != nil {
		logger.Warn("Invalid FORUM_RATE_EVERY duration, using default", "value", utils.GetEnv("FORUM_RATE_EVERY", ""), "default", config.DefaultRateLimitEvery)
		rateLimitEvery, _ = time.ParseDuration(config.DefaultRateLimitEvery)
	}
	rateLimitBurst, err := strconv.Atoi(utils.GetEnv("FORUM_RATE_BURST", strconv.Itoa(config.DefaultRateLimitBurst)))
	if err != nil {
		logger.Warn("Invalid FORUM_RATE_BURST integer, using default", "value", utils.GetEnv("FORUM_RATE_BURST", ""), "default", config.DefaultRateLimitBurst)
		rateLimitBurst = config.DefaultRateLimitBurst
	}
	rateLimitPrune, err := time.ParseDuration(utils.GetEnv("FORUM_RATE_PRUNE", config.DefaultRateLimitPrune))
	if err != nil {
		logger.Warn("Invalid FORUM_RATE_PRUNE duration, using default", "value", utils.GetEnv("FORUM_RATE_PRUNE", ""), "default", config.DefaultRateLimitPrune)
		rateLimitPrune, _ = time.ParseDuration(config.DefaultRateLimitPrune)
	}
	rateLimitExpire, err := time.ParseDuration(utils.GetEnv("FORUM_RATE_EXPIRE", config.DefaultRateLimitExpire))
	if err != nil {
		logger.Warn("Invalid FORUM_RATE_EXPIRE duration, using default", "value", utils.GetEnv("FORUM_RATE_EXPIRE", ""), "default", config.DefaultRateLimitExpire)
		rateLimitExpire, _ = time.ParseDuration(config.DefaultRateLimitExpire)
	}

	dbService, err := database.InitDB(dbPath, backupDir, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbService.DB.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	// --- Storage Service Init ---
	var storageService models.StorageService
	if utils.GetEnv("FORUM_S3_ENABLED", "false") == "true" {
		endpoint := utils.GetEnv("FORUM_S3_ENDPOINT", "")
		accessKey := utils.GetEnv("FORUM_S3_ACCESS_KEY", "")
		secretKey := utils.GetEnv("FORUM_S3_SECRET_KEY", "")
		bucket := utils.GetEnv("FORUM_S3_BUCKET", "")
		region := utils.GetEnv("FORUM_S3_REGION", "us-east-1")
		publicURL := utils.GetEnv("FORUM_S3_PUBLIC_URL", "")
		useSSL := utils.GetEnv("FORUM_S3_USE_SSL", "true") == "true"

		storageService, err = utils.NewS3Storage(endpoint, accessKey, secretKey, bucket, region, publicURL, useSSL)
		if err != nil {
			logger.Error("Failed to initialize S3 storage", "error", err)
			os.Exit(1)
		}
		logger.Info("S3 Storage initialized", "endpoint", endpoint, "bucket", bucket)
	} else {
		storageService = &utils.LocalStorage{MediaDir: mediaDir}
		logger.Info("Local Storage initialized", "dir", mediaDir)
	}

	app := &Application{
		db:          dbService,
		rateLimiter: models.NewRateLimiter(rateLimitEvery, rateLimitBurst, rateLimitPrune, rateLimitExpire),
		logger:      logger,
		mediaDir:    mediaDir,
		jwtSecret:   []byte(jwtSecret),
		storage:     storageService,
	}

	mux := handlers.SetupRouter(app)

	// --- Graceful Shutdown ---
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("zmforum server started successfully",
		"version", config.AppVersion,
		"address", "http://localhost:"+port,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("Server exiting")
}
