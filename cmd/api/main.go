package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	guide "github.com/jordiportal/japan-guide"
	"github.com/jordiportal/japan-guide/api"
	"github.com/jordiportal/japan-guide/db"
	"github.com/jordiportal/japan-guide/metrics"
	"github.com/jordiportal/japan-guide/storage"
	"github.com/jordiportal/japan-guide/tracing"
)

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(logger *slog.Logger, key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warn("invalid integer environment variable, using default",
			"key", key, "provided", raw, "default", defaultValue)
		return defaultValue
	}
	return value
}

func main() {
	// Setup structured logging with JSON output
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("guide service initializing", "version", "1.0.0")

	// Initialize tracing
	tp, err := tracing.InitTracer("japan-guide")
	if err != nil {
		logger.Warn("failed to initialize tracer, continuing without tracing", "error", err)
	} else {
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Error("error shutting down tracer", "error", err)
			}
		}()
		logger.Info("tracing initialized successfully")
	}

	// Default values
	defaultPort := getEnv("PORT", "8080")
	defaultMediaPath := getEnv("MEDIA_PATH", storage.DefaultConfig().BasePath)
	enrichPasses := getEnvInt(logger, "ENRICH_PASSES", 0)
	enrichBatch := getEnvInt(logger, "ENRICH_BATCH", 30)

	// Command-line flags (override environment variables)
	port := flag.String("port", defaultPort, "Server port")
	mediaPath := flag.String("media-path", defaultMediaPath, "Directory for downloaded images")
	disableCORS := flag.Bool("disable-cors", false, "Disable CORS")
	flag.Parse()

	// PostgreSQL database configuration (required)
	dbHost := getEnv("DB_HOST", "")
	if dbHost == "" {
		logger.Error("DB_HOST environment variable is required")
		os.Exit(1)
	}

	dbPort := getEnv("DB_PORT", "5432")
	dbUser := getEnv("DB_USER", "guide")
	dbPassword := getEnv("DB_PASSWORD", "guide_dev_pass")
	dbName := getEnv("DB_NAME", "guide")

	dbConfig := db.Config{
		DSN: fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", dbHost, dbPort, dbUser, dbPassword, dbName),
	}
	logger.Info("using PostgreSQL database", "host", dbHost, "port", dbPort, "database", dbName)

	guideConfig := guide.DefaultConfig()
	guideConfig.GoogleCSEKey = getEnv("GOOGLE_CSE_KEY", "")
	guideConfig.GoogleCSEID = getEnv("GOOGLE_CSE_ID", "")

	config := api.Config{
		Addr:            ":" + *port,
		DBConfig:        dbConfig,
		GuideConfig:     guideConfig,
		MediaPath:       *mediaPath,
		CORSEnabled:     !*disableCORS,
		EnrichBatchSize: enrichBatch,
	}

	server, err := api.NewServer(config)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Optional S3 mirror for the media directory
	s3Config := storage.S3Config{
		Endpoint:        getEnv("S3_ENDPOINT", ""),
		Region:          getEnv("S3_REGION", "us-east-1"),
		Bucket:          getEnv("S3_BUCKET", ""),
		AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		UsePathStyle:    getEnv("S3_USE_PATH_STYLE", "") == "true",
	}
	if s3Config.Enabled() {
		mirror, err := storage.NewS3Storage(context.Background(), s3Config)
		if err != nil {
			logger.Warn("failed to initialize S3 mirror, continuing without it", "error", err)
		} else {
			server.Guide().SetMediaMirror(mirror)
			logger.Info("S3 media mirror enabled", "bucket", s3Config.Bucket)
		}
	}

	// Initialize database metrics
	dbMetrics := metrics.NewDatabaseMetrics("guide")
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			dbMetrics.UpdateDBStats(server.DB().DB())
		}
	}()
	logger.Info("database metrics initialized")

	// Kick off startup enrichment when configured
	if enrichPasses > 0 {
		go server.Guide().EnrichOnce(context.Background(), enrichPasses, enrichBatch)
		logger.Info("startup enrichment launched", "passes", enrichPasses, "batch", enrichBatch)
	}

	// Start server in a goroutine
	go func() {
		logger.Info("guide service starting",
			"port", *port,
			"database_host", dbHost,
			"database_name", dbName,
			"media_path", *mediaPath,
			"google_cse_enabled", guideConfig.GoogleCSEEnabled(),
			"enrich_passes", enrichPasses,
		)

		if err := server.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	logger.Info("shutting down gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
