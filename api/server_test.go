package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jordiportal/japan-guide/db"
	"github.com/jordiportal/japan-guide/models"
	"github.com/jordiportal/japan-guide/storage"
)

// fakeStore is an in-memory Store for handler tests.
type fakeStore struct {
	folders []models.Folder
	places  []*models.Place
	tags    map[string]*models.Tag
	links   map[string]bool
	votes   map[string]map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tags:  make(map[string]*models.Tag),
		links: make(map[string]bool),
		votes: make(map[string]map[string]bool),
	}
}

func (f *fakeStore) UpsertFolder(name string) (*models.Folder, error) {
	for i := range f.folders {
		if f.folders[i].Name == name {
			return &f.folders[i], nil
		}
	}
	folder := models.Folder{ID: uuid.New().String(), Name: name, CreatedAt: time.Now()}
	f.folders = append(f.folders, folder)
	return &f.folders[len(f.folders)-1], nil
}

func (f *fakeStore) FindPlaceForImport(folderID, nameCA string, lat, lng float64) (*models.Place, error) {
	for _, p := range f.places {
		if p.FolderID == folderID && p.NameCA == nameCA &&
			math.Abs(p.Latitude-lat) < 0.00001 && math.Abs(p.Longitude-lng) < 0.00001 {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) InsertPlace(place *models.Place) error {
	f.places = append(f.places, place)
	return nil
}

func (f *fakeStore) UpdatePlaceFromImport(place *models.Place) error {
	return nil
}

func (f *fakeStore) UpsertTag(name, color string) (*models.Tag, error) {
	if tag, ok := f.tags[name]; ok {
		return tag, nil
	}
	tag := &models.Tag{ID: uuid.New().String(), Name: name, Color: color}
	f.tags[name] = tag
	return tag, nil
}

func (f *fakeStore) LinkPlaceTag(placeID, tagID string) error {
	f.links[placeID+"|"+tagID] = true
	return nil
}

func (f *fakeStore) ListPlacesWithoutImage(limit int) ([]*models.Place, error) {
	return nil, nil
}

func (f *fakeStore) UpdatePlaceImage(placeID, imageURL, localPath string, width, height int, imageType string, exifMeta *models.EXIFData) error {
	return nil
}

func (f *fakeStore) ListPlaces(filter db.PlaceFilter) ([]*models.Place, error) {
	result := []*models.Place{}
	for _, p := range f.places {
		if filter.FolderID != "" && p.FolderID != filter.FolderID {
			continue
		}
		result = append(result, p)
	}
	return result, nil
}

func (f *fakeStore) GetPlaceByID(id string) (*models.Place, error) {
	for _, p := range f.places {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListTagsByPlace(placeID string) ([]models.Tag, error) {
	tags := []models.Tag{}
	for _, tag := range f.tags {
		if f.links[placeID+"|"+tag.ID] {
			tags = append(tags, *tag)
		}
	}
	return tags, nil
}

func (f *fakeStore) ListFolders() ([]models.Folder, error) {
	return f.folders, nil
}

func (f *fakeStore) ListTags() ([]models.Tag, error) {
	tags := []models.Tag{}
	for _, tag := range f.tags {
		tags = append(tags, *tag)
	}
	return tags, nil
}

func (f *fakeStore) AddVote(placeID, deviceID string) (bool, error) {
	if f.votes[placeID] == nil {
		f.votes[placeID] = make(map[string]bool)
	}
	if f.votes[placeID][deviceID] {
		return false, nil
	}
	f.votes[placeID][deviceID] = true
	return true, nil
}

func (f *fakeStore) CountVotes(placeID string) (int, error) {
	return len(f.votes[placeID]), nil
}

func (f *fakeStore) CountPlaces() (int, error) {
	return len(f.places), nil
}

func newTestServer(t *testing.T) (*Server, *fakeStore) {
	t.Helper()

	store := newFakeStore()
	media, err := storage.New(storage.Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create media storage: %v", err)
	}

	config := DefaultConfig()
	return newServer(config, store, media), store
}

func addTestPlace(store *fakeStore, nameCA string) *models.Place {
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

func doRequest(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	s, store := newTestServer(t)
	addTestPlace(store, "Tokyo Tower")

	w := doRequest(s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("status = %v", resp["status"])
	}
	if resp["places"] != float64(1) {
		t.Errorf("places = %v, want 1", resp["places"])
	}

	if w := doRequest(s, http.MethodPost, "/health", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health = %d, want 405", w.Code)
	}
}

func TestHandlePlaces(t *testing.T) {
	s, store := newTestServer(t)
	folder, _ := store.UpsertFolder("Dia 1")
	place := addTestPlace(store, "Tokyo Tower")
	place.FolderID = folder.ID
	addTestPlace(store, "Fushimi Inari")

	w := doRequest(s, http.MethodGet, "/api/places", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/places = %d", w.Code)
	}
	var all []models.Place
	if err := json.Unmarshal(w.Body.Bytes(), &all); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 places, got %d", len(all))
	}

	w = doRequest(s, http.MethodGet, "/api/places?folder="+folder.ID, nil)
	var filtered []models.Place
	if err := json.Unmarshal(w.Body.Bytes(), &filtered); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(filtered) != 1 || filtered[0].NameCA != "Tokyo Tower" {
		t.Errorf("Folder filter returned %v", filtered)
	}
}

func TestHandlePlaceDetail(t *testing.T) {
	s, store := newTestServer(t)
	place := addTestPlace(store, "Sushi Daiwa")
	place.ImageURL = "https://images.example.org/daiwa.jpg"

	tag, _ := store.UpsertTag("restaurants", "#D32F2F")
	store.LinkPlaceTag(place.ID, tag.ID)
	store.AddVote(place.ID, "device-1")

	w := doRequest(s, http.MethodGet, "/api/places/"+place.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET place = %d: %s", w.Code, w.Body.String())
	}

	var detail models.PlaceDetail
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if detail.NameCA != "Sushi Daiwa" {
		t.Errorf("NameCA = %q", detail.NameCA)
	}
	if len(detail.Tags) != 1 || detail.Tags[0].Name != "restaurants" {
		t.Errorf("Tags = %v", detail.Tags)
	}
	if detail.Votes != 1 {
		t.Errorf("Votes = %d, want 1", detail.Votes)
	}
	// No local copy yet: the remote URL is the image reference.
	if detail.Image != "https://images.example.org/daiwa.jpg" {
		t.Errorf("Image = %q", detail.Image)
	}

	// With a local copy the /media route takes over.
	place.LocalImagePath = "/data/images/place_x.jpg"
	w = doRequest(s, http.MethodGet, "/api/places/"+place.ID, nil)
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if detail.Image != "/media/place_x.jpg" {
		t.Errorf("Image = %q, want /media/place_x.jpg", detail.Image)
	}
}

func TestHandlePlaceDetailNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/places/"+uuid.New().String(), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Unknown place = %d, want 404", w.Code)
	}
}

func TestHandleAddTag(t *testing.T) {
	s, store := newTestServer(t)
	place := addTestPlace(store, "Cafè del barri")

	// Known tag names get their canonical color when none is sent.
	w := doRequest(s, http.MethodPost, "/api/places/"+place.ID+"/tags/restaurants", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("POST tag = %d: %s", w.Code, w.Body.String())
	}
	var tag models.Tag
	if err := json.Unmarshal(w.Body.Bytes(), &tag); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if tag.Color != "#D32F2F" {
		t.Errorf("Color = %q, want #D32F2F", tag.Color)
	}

	// Unknown tag names default to the neutral color.
	w = doRequest(s, http.MethodPost, "/api/places/"+place.ID+"/tags/temples", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &tag); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if tag.Color != "#616161" {
		t.Errorf("Default color = %q, want #616161", tag.Color)
	}

	// An explicit color wins.
	w = doRequest(s, http.MethodPost, "/api/places/"+place.ID+"/tags/nocturn", AddTagRequest{Color: "#222222"})
	if err := json.Unmarshal(w.Body.Bytes(), &tag); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if tag.Color != "#222222" {
		t.Errorf("Explicit color = %q, want #222222", tag.Color)
	}

	tags, _ := store.ListTagsByPlace(place.ID)
	if len(tags) != 3 {
		t.Errorf("Expected 3 linked tags, got %d", len(tags))
	}
}

func TestHandleAddVote(t *testing.T) {
	s, store := newTestServer(t)
	place := addTestPlace(store, "Parc de Nara")

	vote := func() (bool, int) {
		w := doRequest(s, http.MethodPost, "/api/places/"+place.ID+"/votes", AddVoteRequest{DeviceID: "device-1"})
		if w.Code != http.StatusOK {
			t.Fatalf("POST vote = %d: %s", w.Code, w.Body.String())
		}
		var resp struct {
			Added bool `json:"added"`
			Votes int  `json:"votes"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		return resp.Added, resp.Votes
	}

	added, votes := vote()
	if !added || votes != 1 {
		t.Errorf("First vote: added=%v votes=%d", added, votes)
	}

	// Same device again: idempotent.
	added, votes = vote()
	if added || votes != 1 {
		t.Errorf("Repeated vote: added=%v votes=%d", added, votes)
	}

	w := doRequest(s, http.MethodPost, "/api/places/"+place.ID+"/votes", AddVoteRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Vote without device_id = %d, want 400", w.Code)
	}
}

func TestHandleImport(t *testing.T) {
	s, store := newTestServer(t)

	kml := `<?xml version="1.0" encoding="UTF-8"?>
<kml><Document><Folder>
  <name>Dia 1</name>
  <Placemark>
    <name>Tokyo Tower</name>
    <Point><coordinates>139.7454,35.6586</coordinates></Point>
  </Placemark>
</Folder></Document></kml>`

	path := filepath.Join(t.TempDir(), "mapa.kml")
	if err := os.WriteFile(path, []byte(kml), 0644); err != nil {
		t.Fatal(err)
	}

	w := doRequest(s, http.MethodPost, "/api/import", ImportRequest{Path: path})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /api/import = %d: %s", w.Code, w.Body.String())
	}
	if len(store.places) != 1 {
		t.Errorf("Expected 1 imported place, got %d", len(store.places))
	}

	w = doRequest(s, http.MethodPost, "/api/import", ImportRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Import without path = %d, want 400", w.Code)
	}

	w = doRequest(s, http.MethodPost, "/api/import", ImportRequest{Path: "/nonexistent.kml"})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Import of missing file = %d, want 500", w.Code)
	}
}

func TestHandleEnrich(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/enrich", EnrichRequest{Passes: 2})
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST /api/enrich = %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["passes"] != float64(2) {
		t.Errorf("passes = %v, want 2", resp["passes"])
	}

	if w := doRequest(s, http.MethodGet, "/api/enrich", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/enrich = %d, want 405", w.Code)
	}
}

func TestHandleMedia(t *testing.T) {
	s, _ := newTestServer(t)

	if _, err := s.media.SaveImage([]byte("image payload"), "place_m", "jpg"); err != nil {
		t.Fatalf("Failed to seed media file: %v", err)
	}

	w := doRequest(s, http.MethodGet, "/media/place_m.jpg", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /media = %d", w.Code)
	}
	if w.Body.String() != "image payload" {
		t.Errorf("Media body = %q", w.Body.String())
	}

	w = doRequest(s, http.MethodGet, "/media/absent.jpg", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Missing media file = %d, want 404", w.Code)
	}
}

func TestHandleMetrics(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("go_")) {
		t.Error("Expected Prometheus metrics in response body")
	}
}

func TestCORSPreflightAndFolders(t *testing.T) {
	s, store := newTestServer(t)
	store.UpsertFolder("Dia 1")

	req := httptest.NewRequest(http.MethodOptions, "/api/folders", nil)
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("OPTIONS preflight = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}

	w2 := doRequest(s, http.MethodGet, "/api/folders", nil)
	var folders []models.Folder
	if err := json.Unmarshal(w2.Body.Bytes(), &folders); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(folders) != 1 || folders[0].Name != "Dia 1" {
		t.Errorf("Folders = %v", folders)
	}
}

func TestUnknownPlaceSubroute(t *testing.T) {
	s, store := newTestServer(t)
	place := addTestPlace(store, "Lloc")

	w := doRequest(s, http.MethodGet, fmt.Sprintf("/api/places/%s/unknown", place.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Unknown subroute = %d, want 404", w.Code)
	}
}
