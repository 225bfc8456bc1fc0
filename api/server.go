// Package api exposes the guide service over HTTP: the read API for
// folders, places and tags, tag and vote writes, import and enrichment
// triggers, downloaded media files and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	guide "github.com/jordiportal/japan-guide"
	"github.com/jordiportal/japan-guide/db"
	"github.com/jordiportal/japan-guide/models"
	"github.com/jordiportal/japan-guide/storage"
)

// Store is the persistence surface the handlers need. *db.DB
// implements it.
type Store interface {
	guide.Store

	ListPlaces(filter db.PlaceFilter) ([]*models.Place, error)
	GetPlaceByID(id string) (*models.Place, error)
	ListTagsByPlace(placeID string) ([]models.Tag, error)
	ListFolders() ([]models.Folder, error)
	ListTags() ([]models.Tag, error)
	AddVote(placeID, deviceID string) (bool, error)
	CountVotes(placeID string) (int, error)
	CountPlaces() (int, error)
}

// Server represents the API server
type Server struct {
	store       Store
	guide       *guide.Service
	media       *storage.Storage
	addr        string
	server      *http.Server
	mux         *http.ServeMux
	corsEnabled bool
	enrichBatch int
	db          *db.DB // nil when constructed with an external store
}

// Config contains server configuration
type Config struct {
	Addr            string
	DBConfig        db.Config
	GuideConfig     guide.Config
	MediaPath       string
	CORSEnabled     bool
	EnrichBatchSize int
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		GuideConfig:     guide.DefaultConfig(),
		MediaPath:       storage.DefaultConfig().BasePath,
		CORSEnabled:     true,
		EnrichBatchSize: 30,
	}
}

// NewServer creates a new API server backed by Postgres.
func NewServer(config Config) (*Server, error) {
	database, err := db.New(config.DBConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	media, err := storage.New(storage.Config{BasePath: config.MediaPath})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	s := newServer(config, database, media)
	s.db = database
	return s, nil
}

// newServer wires a server around an already-constructed store and
// media directory.
func newServer(config Config, store Store, media *storage.Storage) *Server {
	if config.EnrichBatchSize <= 0 {
		config.EnrichBatchSize = DefaultConfig().EnrichBatchSize
	}

	s := &Server{
		store:       store,
		guide:       guide.New(config.GuideConfig, store, media),
		media:       media,
		addr:        config.Addr,
		mux:         http.NewServeMux(),
		corsEnabled: config.CORSEnabled,
		enrichBatch: config.EnrichBatchSize,
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.middleware(s.mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // imports can take a while
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/api/folders", s.handleFolders)
	s.mux.HandleFunc("/api/places", s.handlePlaces)
	s.mux.HandleFunc("/api/places/", s.handlePlace) // /api/places/{id}[/tags/{name}|/votes]
	s.mux.HandleFunc("/api/tags", s.handleTags)
	s.mux.HandleFunc("/api/import", s.handleImport)
	s.mux.HandleFunc("/api/enrich", s.handleEnrich)
	s.mux.HandleFunc("/media/", s.handleMedia)
}

// DB returns the underlying database, if the server owns one.
func (s *Server) DB() *db.DB {
	return s.db
}

// Guide returns the pipeline service.
func (s *Server) Guide() *guide.Service {
	return s.guide
}

// Start starts the API server
func (s *Server) Start() error {
	slog.Default().Info("starting API server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Default().Info("shutting down API server")
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// middleware applies common middleware to all routes
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.corsEnabled {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		// Logging (skip health checks to reduce noise)
		start := time.Now()
		next.ServeHTTP(w, r)
		if r.URL.Path != "/health" && r.URL.Path != "/metrics" {
			slog.Default().Info("request completed",
				"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		}
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	count, err := s.store.CountPlaces()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get count")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"places": count,
		"time":   time.Now(),
	})
}

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	folders, err := s.store.ListFolders()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list folders")
		return
	}

	respondJSON(w, http.StatusOK, folders)
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	tags, err := s.store.ListTags()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list tags")
		return
	}

	respondJSON(w, http.StatusOK, tags)
}

func (s *Server) handlePlaces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filter := db.PlaceFilter{
		FolderID: r.URL.Query().Get("folder"),
		Query:    r.URL.Query().Get("q"),
		Tag:      r.URL.Query().Get("tag"),
	}

	places, err := s.store.ListPlaces(filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list places")
		return
	}

	respondJSON(w, http.StatusOK, places)
}

// handlePlace routes /api/places/{id}, /api/places/{id}/tags/{name}
// and /api/places/{id}/votes.
func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/places/")
	if path == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	parts := strings.Split(path, "/")
	id := parts[0]

	switch {
	case len(parts) == 1:
		s.handlePlaceDetail(w, r, id)
	case len(parts) == 3 && parts[1] == "tags" && parts[2] != "":
		s.handleAddTag(w, r, id, parts[2])
	case len(parts) == 2 && parts[1] == "votes":
		s.handleAddVote(w, r, id)
	default:
		respondError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handlePlaceDetail(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	place, err := s.store.GetPlaceByID(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get place")
		return
	}
	if place == nil {
		respondError(w, http.StatusNotFound, "place not found")
		return
	}

	tags, err := s.store.ListTagsByPlace(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get place tags")
		return
	}

	votes, err := s.store.CountVotes(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count votes")
		return
	}

	respondJSON(w, http.StatusOK, models.PlaceDetail{
		Place: *place,
		Tags:  tags,
		Votes: votes,
		Image: resolveImage(place),
	})
}

// resolveImage picks the image reference clients should use: the local
// media route when a copy was downloaded, else the remote URL.
func resolveImage(place *models.Place) string {
	if place.LocalImagePath != "" {
		return "/media/" + filepath.Base(place.LocalImagePath)
	}
	return place.ImageURL
}

// AddTagRequest carries the optional color for a new tag.
type AddTagRequest struct {
	Color string `json:"color"`
}

func (s *Server) handleAddTag(w http.ResponseWriter, r *http.Request, id, tagName string) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	place, err := s.store.GetPlaceByID(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get place")
		return
	}
	if place == nil {
		respondError(w, http.StatusNotFound, "place not found")
		return
	}

	var req AddTagRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // missing body means default color
	}
	color := req.Color
	if color == "" {
		color = guide.ColorForTag(tagName)
	}

	tag, err := s.store.UpsertTag(tagName, color)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to upsert tag")
		return
	}
	if err := s.store.LinkPlaceTag(id, tag.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to link tag")
		return
	}

	respondJSON(w, http.StatusOK, tag)
}

// AddVoteRequest identifies the voting device.
type AddVoteRequest struct {
	DeviceID string `json:"device_id"`
}

func (s *Server) handleAddVote(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req AddVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DeviceID == "" {
		respondError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	place, err := s.store.GetPlaceByID(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get place")
		return
	}
	if place == nil {
		respondError(w, http.StatusNotFound, "place not found")
		return
	}

	added, err := s.store.AddVote(id, req.DeviceID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to add vote")
		return
	}

	votes, err := s.store.CountVotes(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count votes")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"added": added,
		"votes": votes,
	})
}

// ImportRequest names the KML file to import.
type ImportRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	if err := s.guide.ImportFile(ctx, req.Path); err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("import failed: %v", err))
		return
	}

	count, err := s.store.CountPlaces()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "import succeeded but count failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "imported",
		"places": count,
	})
}

// EnrichRequest sets how many enrichment passes to run.
type EnrichRequest struct {
	Passes int `json:"passes"`
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req EnrichRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // missing body means defaults
	}
	passes := req.Passes
	if passes <= 0 {
		passes = 5
	}

	// Enrichment runs detached; the request only triggers it.
	go s.guide.EnrichOnce(context.Background(), passes, s.enrichBatch)

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "enrichment started",
		"passes": passes,
	})
}

// handleMedia serves downloaded images from the media directory.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/media/")
	if name == "" {
		respondError(w, http.StatusBadRequest, "file name is required")
		return
	}

	// filepath.Base keeps requests inside the media directory.
	http.ServeFile(w, r, s.media.GetFullPath(filepath.Base(name)))
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
