package runbook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tarsy-oss/tarsy/pkg/config"
)

// Service fetches runbook content for alert URLs with validation and
// caching. Implements orchestrator.RunbookResolver.
type Service struct {
	httpClient *http.Client
	cache      *Cache
	cfg        *config.RunbookConfig
	token      string
}

// NewService creates a runbook service. token is the resolved GitHub token
// value (empty string = no auth, public repos only).
func NewService(cfg *config.RunbookConfig, token string) *Service {
	cacheTTL := 1 * time.Minute
	if cfg != nil && cfg.CacheTTL > 0 {
		cacheTTL = cfg.CacheTTL
	}
	return &Service{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      NewCache(cacheTTL),
		cfg:        cfg,
		token:      token,
	}
}

// Resolve returns the runbook text for a URL. The URL is validated against
// the allowed-domain list, GitHub blob URLs are converted to raw content
// URLs, and results are cached. Fetch failures are returned to the caller,
// which applies the fail-open policy.
func (s *Service) Resolve(ctx context.Context, rawURL string) (string, error) {
	var allowedDomains []string
	if s.cfg != nil {
		allowedDomains = s.cfg.AllowedDomains
	}
	if err := ValidateURL(rawURL, allowedDomains); err != nil {
		return "", fmt.Errorf("fetch runbook %s: %w", rawURL, err)
	}

	downloadURL := ConvertToRawURL(rawURL)
	if content, ok := s.cache.Get(downloadURL); ok {
		return content, nil
	}

	content, err := s.download(ctx, downloadURL)
	if err != nil {
		return "", fmt.Errorf("fetch runbook %s: %w", rawURL, err)
	}

	s.cache.Set(downloadURL, content)
	return content, nil
}

// download performs the HTTP fetch with optional bearer auth.
func (s *Service) download(ctx context.Context, downloadURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	return string(body), nil
}

// OverrideHTTPClientForTest replaces the internal HTTP client. Testing only.
func (s *Service) OverrideHTTPClientForTest(httpClient *http.Client) {
	s.httpClient = httpClient
}
