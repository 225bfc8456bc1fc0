package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config contains storage configuration
type Config struct {
	BasePath string // Base directory for downloaded media files
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		BasePath: "./data/images",
	}
}

// Storage handles filesystem storage for downloaded place images.
// Filenames are deterministic: the same base name and extension always map
// to the same path, so re-downloading a place's image overwrites the old
// copy instead of accumulating duplicates.
type Storage struct {
	config Config
	mirror *S3Storage // optional, nil when S3 is not configured
}

// New creates a new Storage instance
func New(config Config) (*Storage, error) {
	// Create base directory if it doesn't exist
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	return &Storage{
		config: config,
	}, nil
}

// SetMirror attaches an S3-compatible mirror. Every subsequent SaveImage
// also uploads the bytes to the bucket; mirror failures do not fail the
// local write.
func (s *Storage) SetMirror(mirror *S3Storage) {
	s.mirror = mirror
}

// SaveImage writes image bytes under the media directory as baseName.ext
// and returns the full path. An existing file of the same name is
// overwritten.
func (s *Storage) SaveImage(imageData []byte, baseName, ext string) (string, error) {
	if err := os.MkdirAll(s.config.BasePath, 0755); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}

	filename := baseName + "." + ext
	filePath := filepath.Join(s.config.BasePath, filename)

	if err := os.WriteFile(filePath, imageData, 0644); err != nil {
		return "", fmt.Errorf("failed to write image file: %w", err)
	}

	if s.mirror != nil {
		if _, err := s.mirror.SaveImage(imageData, filename, ContentTypeFromExtension(ext)); err != nil {
			// Local copy is authoritative; the mirror is best-effort.
			slog.Default().Warn("mirror upload failed, keeping local copy",
				"file", filename, "error", err)
		}
	}

	return filePath, nil
}

// ReadImage reads a previously saved image by file name.
func (s *Storage) ReadImage(filename string) ([]byte, error) {
	fullPath := filepath.Join(s.config.BasePath, filepath.Base(filename))

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}

	return data, nil
}

// DeleteImage deletes an image from the media directory.
func (s *Storage) DeleteImage(filename string) error {
	fullPath := filepath.Join(s.config.BasePath, filepath.Base(filename))

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete image file: %w", err)
	}

	return nil
}

// BasePath returns the media directory the store writes into.
func (s *Storage) BasePath() string {
	return s.config.BasePath
}

// GetFullPath returns the full filesystem path for a stored file name.
func (s *Storage) GetFullPath(filename string) string {
	return filepath.Join(s.config.BasePath, filepath.Base(filename))
}

// ContentTypeFromExtension returns the MIME type for a media file extension.
func ContentTypeFromExtension(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "svg":
		return "image/svg+xml"
	case "bmp":
		return "image/bmp"
	case "tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

// ExtensionFromContentType returns the file extension for a content type.
func ExtensionFromContentType(contentType string) string {
	// Normalize content type (remove charset, etc.)
	contentType = strings.ToLower(strings.Split(contentType, ";")[0])
	contentType = strings.TrimSpace(contentType)

	switch contentType {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/svg+xml":
		return "svg"
	case "image/bmp":
		return "bmp"
	case "image/tiff":
		return "tiff"
	default:
		return ""
	}
}
