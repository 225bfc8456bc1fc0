package storage

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveImage(t *testing.T) {
	store, err := New(Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	data := []byte("fake image bytes")
	path, err := store.SaveImage(data, "place_abc123", "jpg")
	if err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}

	if filepath.Base(path) != "place_abc123.jpg" {
		t.Errorf("Unexpected file name %q", filepath.Base(path))
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read saved file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("Saved bytes do not match input")
	}
}

func TestSaveImageOverwrites(t *testing.T) {
	store, err := New(Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	first, err := store.SaveImage([]byte("first"), "place_x", "jpg")
	if err != nil {
		t.Fatalf("First SaveImage failed: %v", err)
	}
	second, err := store.SaveImage([]byte("second"), "place_x", "jpg")
	if err != nil {
		t.Fatalf("Second SaveImage failed: %v", err)
	}

	if first != second {
		t.Errorf("Expected deterministic path, got %q then %q", first, second)
	}

	got, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("Failed to read saved file: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("Expected overwrite, file contains %q", got)
	}

	entries, err := os.ReadDir(store.BasePath())
	if err != nil {
		t.Fatalf("Failed to list media dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 file after overwrite, found %d", len(entries))
	}
}

func TestReadImage(t *testing.T) {
	store, err := New(Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	if _, err := store.SaveImage([]byte("payload"), "place_r", "png"); err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}

	data, err := store.ReadImage("place_r.png")
	if err != nil {
		t.Fatalf("ReadImage failed: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("ReadImage = %q, want %q", data, "payload")
	}

	// Path components in the requested name must not escape the media dir.
	if _, err := store.ReadImage("../place_r.png"); err != nil {
		// Base() strips the traversal, so this resolves to the same file.
		t.Errorf("ReadImage with traversal prefix failed: %v", err)
	}
}

func TestSaveImageMirrorFailureKeepsLocalWrite(t *testing.T) {
	// An S3 endpoint that rejects every upload.
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bucket unavailable", http.StatusInternalServerError)
	}))
	defer endpoint.Close()

	mirror, err := NewS3Storage(context.Background(), S3Config{
		Endpoint:        endpoint.URL,
		Region:          "us-east-1",
		Bucket:          "test-bucket",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("Failed to create mirror: %v", err)
	}

	store, err := New(Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	store.SetMirror(mirror)

	path, err := store.SaveImage([]byte("payload"), "place_m", "jpg")
	if err != nil {
		t.Fatalf("SaveImage must not fail when only the mirror fails: %v", err)
	}
	if path == "" {
		t.Fatal("Expected the local path despite the mirror failure")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Local copy missing after mirror failure: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("Local copy content = %q", data)
	}
}

func TestDeleteImageMissingIsNoError(t *testing.T) {
	store, err := New(Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	if err := store.DeleteImage("never-existed.jpg"); err != nil {
		t.Errorf("DeleteImage of missing file should be a no-op, got %v", err)
	}
}

func TestContentTypeRoundTrip(t *testing.T) {
	tests := []struct {
		ext         string
		contentType string
	}{
		{"jpg", "image/jpeg"},
		{"png", "image/png"},
		{"gif", "image/gif"},
		{"webp", "image/webp"},
	}

	for _, tt := range tests {
		if got := ContentTypeFromExtension(tt.ext); got != tt.contentType {
			t.Errorf("ContentTypeFromExtension(%q) = %q, want %q", tt.ext, got, tt.contentType)
		}
		if got := ExtensionFromContentType(tt.contentType); got != tt.ext {
			t.Errorf("ExtensionFromContentType(%q) = %q, want %q", tt.contentType, got, tt.ext)
		}
	}

	if got := ExtensionFromContentType("image/jpeg; charset=binary"); got != "jpg" {
		t.Errorf("ExtensionFromContentType with parameters = %q, want jpg", got)
	}
	if got := ExtensionFromContentType("text/html"); got != "" {
		t.Errorf("ExtensionFromContentType for non-image = %q, want empty", got)
	}
}
