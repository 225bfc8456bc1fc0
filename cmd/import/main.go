// Command import loads a KML placemark export into the database and
// optionally runs image enrichment afterwards.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	guide "github.com/jordiportal/japan-guide"
	"github.com/jordiportal/japan-guide/db"
	"github.com/jordiportal/japan-guide/storage"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	file := flag.String("file", "", "Path to the KML file to import")
	enrichPasses := flag.Int("enrich", 0, "Enrichment passes to run after the import (0 disables)")
	batchSize := flag.Int("batch", 30, "Places per enrichment pass")
	mediaPath := flag.String("media-path", storage.DefaultConfig().BasePath, "Directory for downloaded images")
	flag.Parse()

	if *file == "" {
		logger.Error("-file is required")
		flag.Usage()
		os.Exit(2)
	}

	dbHost := getEnv("DB_HOST", "")
	if dbHost == "" {
		logger.Error("DB_HOST environment variable is required")
		os.Exit(1)
	}
	dbPort := getEnv("DB_PORT", "5432")
	dbUser := getEnv("DB_USER", "guide")
	dbPassword := getEnv("DB_PASSWORD", "guide_dev_pass")
	dbName := getEnv("DB_NAME", "guide")

	database, err := db.New(db.Config{
		DSN: fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", dbHost, dbPort, dbUser, dbPassword, dbName),
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	media, err := storage.New(storage.Config{BasePath: *mediaPath})
	if err != nil {
		logger.Error("failed to initialize media storage", "error", err)
		os.Exit(1)
	}

	config := guide.DefaultConfig()
	config.GoogleCSEKey = getEnv("GOOGLE_CSE_KEY", "")
	config.GoogleCSEID = getEnv("GOOGLE_CSE_ID", "")

	svc := guide.New(config, database, media)

	ctx := context.Background()
	logger.Info("importing KML file", "file", *file)
	if err := svc.ImportFile(ctx, *file); err != nil {
		logger.Error("import failed", "error", err)
		os.Exit(1)
	}

	count, err := database.CountPlaces()
	if err == nil {
		logger.Info("import complete", "places", count)
	} else {
		logger.Info("import complete")
	}

	if *enrichPasses > 0 {
		logger.Info("running enrichment", "passes", *enrichPasses, "batch", *batchSize)
		svc.EnrichOnce(ctx, *enrichPasses, *batchSize)
	}
}
