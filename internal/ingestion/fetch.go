package ingestion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/pkg/logger"
)

const maxFetchBytes = 10 << 20

// Fetcher downloads pages for indexing.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  "adaptive-search-indexer/1.0",
	}
}

// Fetch returns the page at rawURL as an Input ready for ProcessDocument.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Input, error) {
	if !ValidURL(rawURL) {
		return Input{}, &search.ValidationError{Field: "url", Message: "must be an absolute http(s) URL"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Input{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Input{}, search.Dependency("fetcher", "get", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Input{}, search.Dependency("fetcher", "get", fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return Input{}, fmt.Errorf("failed to read response: %w", err)
	}

	logger.Debug("Page fetched", zap.String("url", rawURL), zap.Int("bytes", len(body)))
	return Input{
		Source:      rawURL,
		Content:     string(body),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func ValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
