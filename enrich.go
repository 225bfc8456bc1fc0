package guide

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jordiportal/japan-guide/metrics"
	"github.com/jordiportal/japan-guide/slug"
)

// EnrichOnce runs up to passes batches of image enrichment. Each pass
// selects at most batchSize places that still lack a local image and
// tries, sequentially, to resolve and download a photo for each. A
// failure on one place is logged and skipped; it never aborts the
// pass. A pass that finds no candidates ends the run early.
func (s *Service) EnrichOnce(ctx context.Context, passes, batchSize int) {
	logger := slog.Default()

	for pass := 0; pass < passes; pass++ {
		if err := ctx.Err(); err != nil {
			logger.Info("enrichment cancelled", "pass", pass)
			return
		}

		places, err := s.store.ListPlacesWithoutImage(batchSize)
		if err != nil {
			logger.Error("failed to list places for enrichment", "error", err)
			return
		}
		if len(places) == 0 {
			logger.Info("enrichment complete, no places without images", "passes_run", pass)
			return
		}

		logger.Info("enrichment pass starting", "pass", pass, "candidates", len(places))

		for _, place := range places {
			if err := ctx.Err(); err != nil {
				logger.Info("enrichment cancelled mid-pass", "pass", pass)
				return
			}

			if err := s.enrichPlace(ctx, place.ID, place.NameCA, place.NameJA); err != nil {
				metrics.EnrichmentFailures.Inc()
				logger.Warn("image enrichment failed for place",
					"place_id", place.ID, "name", place.NameCA, "error", err)
			}
		}
	}
}

// enrichPlace resolves, downloads and persists one place's image.
// "No provider found anything" is not an error; the place is simply
// retried on a later run.
func (s *Service) enrichPlace(ctx context.Context, placeID, nameCA, nameJA string) error {
	imageURL := s.FindImage(ctx, nameCA, nameJA)
	if imageURL == "" {
		return nil
	}

	data, ext, err := s.fetchImage(ctx, imageURL)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}

	// Readable, deterministic file name: name slug plus the place id.
	baseName := "place_" + placeID
	if nameSlug := slug.Generate(nameCA); nameSlug != "" {
		baseName = nameSlug + "_" + placeID
	}

	localPath, err := s.media.SaveImage(data, slug.Filename(baseName), ext)
	if err != nil {
		return fmt.Errorf("failed to store image: %w", err)
	}

	metrics.ImagesDownloaded.Inc()
	metrics.ImageBytesDownloaded.Add(float64(len(data)))

	width, height, mimeType, exifMeta := inspectImage(data)

	if err := s.store.UpdatePlaceImage(placeID, imageURL, localPath, width, height, mimeType, exifMeta); err != nil {
		return fmt.Errorf("failed to record image on place: %w", err)
	}

	slog.Default().Info("saved image for place",
		"place_id", placeID, "name", nameCA, "path", localPath,
		"width", width, "height", height)
	return nil
}
