package guide

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/jordiportal/japan-guide/metrics"
	"github.com/jordiportal/japan-guide/slug"
	"github.com/jordiportal/japan-guide/storage"
)

// Public provider endpoints. Config can override them for tests.
const (
	wikipediaAPI    = "https://en.wikipedia.org/w/api.php"
	googleCSEAPI    = "https://www.googleapis.com/customsearch/v1"
	openverseAPI    = "https://api.openverse.org/v1/images/"
	maxImageBytes   = 10 * 1024 * 1024
	thumbnailWidth  = "640"
)

// FindImage resolves a representative photo URL for a place through
// the provider cascade: Wikipedia page images (primary title, then
// secondary), Google Custom Search when credentials are configured,
// then Openverse. The first hit wins. Provider failures of any kind
// mean "no result" for that step; the empty string means no provider
// found anything.
func (s *Service) FindImage(ctx context.Context, nameCA, nameJA string) string {
	for _, candidate := range []string{nameCA, nameJA} {
		if candidate == "" {
			continue
		}
		if img := s.searchWikipedia(ctx, candidate); img != "" {
			return img
		}
	}

	combined := strings.TrimSpace(nameCA + " " + nameJA)
	if combined == "" {
		return ""
	}

	if s.config.GoogleCSEEnabled() {
		if img := s.searchGoogleCSE(ctx, combined); img != "" {
			return img
		}
	}

	return s.searchOpenverse(ctx, combined)
}

func (s *Service) searchWikipedia(ctx context.Context, title string) string {
	metrics.ProviderAttempts.WithLabelValues("wikipedia").Inc()

	base := s.config.WikipediaBaseURL
	if base == "" {
		base = wikipediaAPI
	}

	params := url.Values{
		"action":      {"query"},
		"prop":        {"pageimages"},
		"format":      {"json"},
		"piprop":      {"thumbnail|original"},
		"pithumbsize": {thumbnailWidth},
		"generator":   {"search"},
		"gsrlimit":    {"1"},
		"gsrsearch":   {title},
	}

	var result struct {
		Query struct {
			Pages map[string]struct {
				Thumbnail struct {
					Source string `json:"source"`
				} `json:"thumbnail"`
				Original struct {
					Source string `json:"source"`
				} `json:"original"`
			} `json:"pages"`
		} `json:"query"`
	}
	if !s.providerGet(ctx, "wikipedia", base+"?"+params.Encode(), &result) {
		return ""
	}

	for _, page := range result.Query.Pages {
		if page.Thumbnail.Source != "" {
			metrics.ProviderHits.WithLabelValues("wikipedia").Inc()
			return page.Thumbnail.Source
		}
		if page.Original.Source != "" {
			metrics.ProviderHits.WithLabelValues("wikipedia").Inc()
			return page.Original.Source
		}
	}
	return ""
}

func (s *Service) searchGoogleCSE(ctx context.Context, query string) string {
	metrics.ProviderAttempts.WithLabelValues("google_cse").Inc()

	base := s.config.GoogleCSEBaseURL
	if base == "" {
		base = googleCSEAPI
	}

	params := url.Values{
		"key":        {s.config.GoogleCSEKey},
		"cx":         {s.config.GoogleCSEID},
		"searchType": {"image"},
		"num":        {"1"},
		"q":          {query},
	}

	var result struct {
		Items []struct {
			Link string `json:"link"`
		} `json:"items"`
	}
	if !s.providerGet(ctx, "google_cse", base+"?"+params.Encode(), &result) {
		return ""
	}

	if len(result.Items) > 0 && result.Items[0].Link != "" {
		metrics.ProviderHits.WithLabelValues("google_cse").Inc()
		return result.Items[0].Link
	}
	return ""
}

func (s *Service) searchOpenverse(ctx context.Context, query string) string {
	metrics.ProviderAttempts.WithLabelValues("openverse").Inc()

	base := s.config.OpenverseBaseURL
	if base == "" {
		base = openverseAPI
	}

	params := url.Values{
		"q":         {query},
		"page_size": {"1"},
	}

	var result struct {
		Results []struct {
			URL string `json:"url"`
		} `json:"results"`
	}
	if !s.providerGet(ctx, "openverse", base+"?"+params.Encode(), &result) {
		return ""
	}

	if len(result.Results) > 0 && result.Results[0].URL != "" {
		metrics.ProviderHits.WithLabelValues("openverse").Inc()
		return result.Results[0].URL
	}
	return ""
}

// providerGet performs a provider API call with the per-call timeout
// and decodes the JSON body into out. Any failure is reported as false
// so the cascade can move on.
func (s *Service) providerGet(ctx context.Context, provider, requestURL string, out interface{}) bool {
	callCtx, cancel := context.WithTimeout(ctx, s.config.HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, requestURL, nil)
	if err != nil {
		return false
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Default().Debug("image provider request failed", "provider", provider, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Default().Debug("image provider returned non-OK status",
			"provider", provider, "status", resp.StatusCode)
		return false
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		slog.Default().Debug("image provider response decode failed", "provider", provider, "error", err)
		return false
	}
	return true
}

// DownloadImage fetches an image URL and stores it in the media
// directory as baseName plus the URL's extension. The path of the
// saved file is returned; an empty URL or a failed fetch yields ""
// without leaving a partial file behind.
func (s *Service) DownloadImage(ctx context.Context, imageURL, baseName string) (string, error) {
	data, ext, err := s.fetchImage(ctx, imageURL)
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", nil
	}

	path, err := s.media.SaveImage(data, slug.Filename(baseName), ext)
	if err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}

	metrics.ImagesDownloaded.Inc()
	metrics.ImageBytesDownloaded.Add(float64(len(data)))
	return path, nil
}

// fetchImage downloads image bytes. A nil slice with nil error means
// the URL was empty or the server refused the request.
func (s *Service) fetchImage(ctx context.Context, imageURL string) (data []byte, ext string, err error) {
	if imageURL == "" {
		return nil, "", nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build image request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Default().Debug("image fetch returned non-OK status",
			"url", imageURL, "status", resp.StatusCode)
		return nil, "", nil
	}

	data, err = io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image body: %w", err)
	}

	ext = storage.ExtensionFromContentType(resp.Header.Get("Content-Type"))
	if ext == "" {
		ext = slug.ExtFromURL(imageURL)
	}

	return data, ext, nil
}
