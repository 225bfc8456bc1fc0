package slug

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Generate creates a URL-friendly slug from a string
func Generate(s string) string {
	if s == "" {
		return ""
	}

	// Convert to lowercase
	s = strings.ToLower(s)

	// Transliterate unicode to ASCII
	s = transliterate(s)

	// Replace spaces and underscores with hyphens
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")

	// Remove all non-alphanumeric characters except hyphens
	reg := regexp.MustCompile("[^a-z0-9-]+")
	s = reg.ReplaceAllString(s, "")

	// Remove consecutive hyphens
	reg = regexp.MustCompile("-+")
	s = reg.ReplaceAllString(s, "-")

	// Trim hyphens from start and end
	s = strings.Trim(s, "-")

	// Limit length to 100 characters
	if len(s) > 100 {
		s = s[:100]
		// Trim any trailing hyphen after truncation
		s = strings.TrimRight(s, "-")
	}

	return s
}

var filenameUnsafe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Filename sanitizes a media filename to alphanumerics, dot, underscore
// and hyphen. Anything else is dropped so the same input always maps to
// the same on-disk name.
func Filename(s string) string {
	return filenameUnsafe.ReplaceAllString(s, "")
}

// ExtFromURL derives a file extension from the path segment of an image
// URL: the part after the final dot, with any query string stripped.
// Returns "jpg" when the path carries no usable extension.
func ExtFromURL(rawURL string) string {
	s := rawURL
	if idx := strings.IndexAny(s, "?#"); idx != -1 {
		s = s[:idx]
	}
	parts := strings.Split(s, "/")
	last := parts[len(parts)-1]
	idx := strings.LastIndex(last, ".")
	if idx == -1 || idx == len(last)-1 {
		return "jpg"
	}
	ext := strings.ToLower(last[idx+1:])
	if filenameUnsafe.MatchString(ext) || len(ext) > 5 {
		return "jpg"
	}
	return ext
}

// transliterate converts unicode characters to ASCII equivalents
func transliterate(s string) string {
	// Normalize unicode characters to NFD form (decomposed)
	t := transform.Chain(norm.NFD, transform.RemoveFunc(isMn), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// isMn checks if a rune is a nonspacing mark (accents, diacritics)
func isMn(r rune) bool {
	return unicode.Is(unicode.Mn, r)
}
