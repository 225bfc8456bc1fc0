package guide

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jordiportal/japan-guide/models"
)

// A 1x1 transparent GIF, the smallest decodable fixture.
var tinyGIF = []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00\x00\x00\x00\xff\xff\xff!\xf9\x04\x00\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x02D\x01\x00;")

func addPlaceWithoutImage(store *fakeStore, nameCA string) *models.Place {
	place := &models.Place{
		ID:        uuid.New().String(),
		NameCA:    nameCA,
		Latitude:  35.0,
		Longitude: 135.0,
		Source:    models.SourceKML,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	store.places = append(store.places, place)
	return place
}

func newEnrichmentFixture(t *testing.T, store *fakeStore) *Service {
	t.Helper()

	image := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/gif")
		w.Write(tinyGIF)
	}))
	t.Cleanup(image.Close)

	wiki := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, wikipediaResponse(image.URL+"/photo.gif"))
	}))
	t.Cleanup(wiki.Close)

	svc := newTestService(t, store)
	svc.config.WikipediaBaseURL = wiki.URL
	return svc
}

func TestEnrichOnce(t *testing.T) {
	store := newFakeStore()
	place := addPlaceWithoutImage(store, "Temple Kinkaku-ji")

	svc := newEnrichmentFixture(t, store)
	svc.EnrichOnce(context.Background(), 1, 10)

	if place.LocalImagePath == "" {
		t.Fatal("Place was not enriched")
	}
	if !strings.Contains(filepath.Base(place.LocalImagePath), "temple-kinkaku-ji_") {
		t.Errorf("Image file name should carry the name slug, got %q", place.LocalImagePath)
	}
	if place.ImageURL == "" {
		t.Error("Remote image URL was not recorded")
	}
	if place.ImageWidth != 1 || place.ImageHeight != 1 {
		t.Errorf("Image dimensions = %dx%d, want 1x1", place.ImageWidth, place.ImageHeight)
	}
	if place.ImageType != "image/gif" {
		t.Errorf("Image type = %q, want image/gif", place.ImageType)
	}
}

func TestEnrichOncePreservesExistingImageURL(t *testing.T) {
	store := newFakeStore()
	place := addPlaceWithoutImage(store, "Temple Ginkaku-ji")
	place.ImageURL = "https://images.example.org/original.jpg"

	svc := newEnrichmentFixture(t, store)
	svc.EnrichOnce(context.Background(), 1, 10)

	if place.LocalImagePath == "" {
		t.Fatal("Place was not enriched")
	}
	if place.ImageURL != "https://images.example.org/original.jpg" {
		t.Errorf("Existing image URL was overwritten: %q", place.ImageURL)
	}
}

func TestEnrichOnceIsolatesFailures(t *testing.T) {
	store := newFakeStore()
	addPlaceWithoutImage(store, "Primer lloc")
	addPlaceWithoutImage(store, "Segon lloc")

	// Every persistence attempt fails; the pass must still visit every
	// candidate instead of aborting on the first failure.
	store.updateImageErr = errors.New("disk full")

	svc := newEnrichmentFixture(t, store)
	svc.EnrichOnce(context.Background(), 1, 10)

	if len(store.imageUpdates) != 0 {
		t.Errorf("Expected no successful updates, got %v", store.imageUpdates)
	}
	for _, p := range store.places {
		if p.LocalImagePath != "" {
			t.Errorf("Place %q should remain unenriched", p.NameCA)
		}
	}
}

func TestEnrichOnceStopsWhenNothingToDo(t *testing.T) {
	store := newFakeStore()
	place := addPlaceWithoutImage(store, "Lloc amb imatge")
	place.LocalImagePath = "/media/ja-te.jpg"

	var providerCalls int
	wiki := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		providerCalls++
		fmt.Fprint(w, wikipediaResponse(""))
	}))
	defer wiki.Close()

	svc := newTestService(t, store)
	svc.config.WikipediaBaseURL = wiki.URL

	svc.EnrichOnce(context.Background(), 5, 10)

	if providerCalls != 0 {
		t.Errorf("No provider calls expected when every place has an image, got %d", providerCalls)
	}
}

func TestEnrichOnceNoProviderResultLeavesPlaceUntouched(t *testing.T) {
	store := newFakeStore()
	place := addPlaceWithoutImage(store, "Lloc desconegut")

	wiki := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, wikipediaResponse(""))
	}))
	defer wiki.Close()

	openverse := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[]}`)
	}))
	defer openverse.Close()

	svc := newTestService(t, store)
	svc.config.WikipediaBaseURL = wiki.URL
	svc.config.OpenverseBaseURL = openverse.URL

	svc.EnrichOnce(context.Background(), 1, 10)

	if place.LocalImagePath != "" || place.ImageURL != "" {
		t.Errorf("Place without provider result should stay untouched: %+v", place)
	}
	if len(store.imageUpdates) != 0 {
		t.Errorf("Expected no image updates, got %v", store.imageUpdates)
	}
}

func TestEnrichOnceRespectsCancellation(t *testing.T) {
	store := newFakeStore()
	addPlaceWithoutImage(store, "Lloc cancel·lat")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := newEnrichmentFixture(t, store)
	svc.EnrichOnce(ctx, 3, 10)

	if len(store.imageUpdates) != 0 {
		t.Errorf("Cancelled run should not enrich, got %v", store.imageUpdates)
	}
}
