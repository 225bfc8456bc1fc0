// Package guide implements the point-of-interest pipeline: KML import
// with bilingual title handling and deduplication, keyword-based
// auto-tagging, and asynchronous image enrichment through a provider
// cascade.
package guide

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jordiportal/japan-guide/metrics"
	"github.com/jordiportal/japan-guide/models"
	"github.com/jordiportal/japan-guide/storage"
)

// Config contains pipeline configuration
type Config struct {
	HTTPTimeout time.Duration // Timeout for each image provider call

	// Image provider endpoints. Overridable for tests; the zero value
	// means the public endpoint.
	WikipediaBaseURL string
	GoogleCSEBaseURL string
	OpenverseBaseURL string

	// Google Custom Search credentials. The provider is skipped when
	// either is empty.
	GoogleCSEKey string
	GoogleCSEID  string
}

// DefaultConfig returns default pipeline configuration
func DefaultConfig() Config {
	return Config{
		HTTPTimeout: 10 * time.Second,
	}
}

// GoogleCSEEnabled reports whether the Google Custom Search provider
// has the credentials it needs.
func (c Config) GoogleCSEEnabled() bool {
	return c.GoogleCSEKey != "" && c.GoogleCSEID != ""
}

// Store is the persistence surface the pipeline needs. *db.DB
// implements it.
type Store interface {
	UpsertFolder(name string) (*models.Folder, error)
	FindPlaceForImport(folderID, nameCA string, lat, lng float64) (*models.Place, error)
	InsertPlace(place *models.Place) error
	UpdatePlaceFromImport(place *models.Place) error
	UpsertTag(name, color string) (*models.Tag, error)
	LinkPlaceTag(placeID, tagID string) error
	ListPlacesWithoutImage(limit int) ([]*models.Place, error)
	UpdatePlaceImage(placeID, imageURL, localPath string, width, height int, imageType string, exif *models.EXIFData) error
}

// Service runs the import and enrichment pipeline against a Store and
// a media directory.
type Service struct {
	config     Config
	store      Store
	media      *storage.Storage
	httpClient *http.Client
}

// New creates a new Service instance
func New(config Config, store Store, media *storage.Storage) *Service {
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = DefaultConfig().HTTPTimeout
	}

	return &Service{
		config: config,
		store:  store,
		media:  media,
		httpClient: &http.Client{
			Timeout:   config.HTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// SetMediaMirror attaches an S3-compatible mirror to the media store.
func (s *Service) SetMediaMirror(mirror *storage.S3Storage) {
	s.media.SetMirror(mirror)
}

// ImportFile parses a KML file and upserts its folders and placemarks.
// Placemarks without coordinates are skipped; file-level parse errors
// and store errors abort the import.
func (s *Service) ImportFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		metrics.ImportsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to read KML file: %w", err)
	}

	doc, err := parseKML(data)
	if err != nil {
		metrics.ImportsTotal.WithLabelValues("error").Inc()
		return err
	}

	for _, folder := range doc.Document.Folders {
		if err := ctx.Err(); err != nil {
			metrics.ImportsTotal.WithLabelValues("error").Inc()
			return err
		}

		folderName := folder.Name
		if folderName == "" {
			folderName = defaultFolderName
		}

		dbFolder, err := s.store.UpsertFolder(folderName)
		if err != nil {
			metrics.ImportsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("failed to upsert folder %q: %w", folderName, err)
		}

		for _, placemark := range folder.Placemarks {
			if err := s.importPlacemark(dbFolder.ID, placemark); err != nil {
				metrics.ImportsTotal.WithLabelValues("error").Inc()
				return err
			}
		}
	}

	metrics.ImportsTotal.WithLabelValues("ok").Inc()
	return nil
}

func (s *Service) importPlacemark(folderID string, placemark kmlPlacemark) error {
	if placemark.Point.Coordinates == "" {
		metrics.PlacemarksImported.WithLabelValues("skipped").Inc()
		return nil
	}
	lat, lng, err := parseCoordinates(placemark.Point.Coordinates)
	if err != nil {
		slog.Default().Warn("skipping placemark with malformed coordinates",
			"name", placemark.Name, "error", err)
		metrics.PlacemarksImported.WithLabelValues("skipped").Inc()
		return nil
	}

	descriptionCA := NormalizeText(StripHTML(placemark.Description))
	nameBase, nameJA := SplitScripts(placemark.Name)
	nameCA := EnsureTitle(nameBase, descriptionCA)

	existing, err := s.store.FindPlaceForImport(folderID, nameCA, lat, lng)
	if err != nil {
		return fmt.Errorf("failed to look up place %q: %w", nameCA, err)
	}

	var placeID string
	if existing != nil {
		placeID = existing.ID
		existing.NameJA = nameJA
		existing.DescriptionCA = descriptionCA
		if err := s.store.UpdatePlaceFromImport(existing); err != nil {
			return fmt.Errorf("failed to update place %q: %w", nameCA, err)
		}
		metrics.PlacemarksImported.WithLabelValues("updated").Inc()
	} else {
		now := time.Now()
		place := &models.Place{
			ID:            uuid.New().String(),
			NameCA:        nameCA,
			NameJA:        nameJA,
			DescriptionCA: descriptionCA,
			FolderID:      folderID,
			Latitude:      lat,
			Longitude:     lng,
			Source:        models.SourceKML,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.store.InsertPlace(place); err != nil {
			return fmt.Errorf("failed to insert place %q: %w", nameCA, err)
		}
		placeID = place.ID
		metrics.PlacemarksImported.WithLabelValues("created").Inc()
	}

	for _, suggestion := range DeriveTags(nameCA, descriptionCA) {
		tag, err := s.store.UpsertTag(suggestion.Name, suggestion.Color)
		if err != nil {
			return fmt.Errorf("failed to upsert tag %q: %w", suggestion.Name, err)
		}
		if err := s.store.LinkPlaceTag(placeID, tag.ID); err != nil {
			return fmt.Errorf("failed to link tag %q: %w", suggestion.Name, err)
		}
	}

	return nil
}
