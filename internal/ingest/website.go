package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// fetchTimeout bounds a single page download.
const fetchTimeout = 30 * time.Second

// maxFetchBytes caps how much of a page is read. Pages beyond this are
// truncated rather than rejected.
const maxFetchBytes = 10 << 20

// fallbackBase is used when readability parses HTML that did not come
// from a URL (direct HTML uploads).
var fallbackBase = &url.URL{Scheme: "https", Host: "localhost"}

// extractHTML runs readability over raw HTML and returns the main
// article text, dropping navigation and boilerplate.
func extractHTML(raw []byte) (Extraction, error) {
	article, err := readability.FromReader(bytes.NewReader(raw), fallbackBase)
	if err != nil {
		return Extraction{}, fmt.Errorf("%w: parsing html: %w", ErrCorruptDocument, err)
	}
	text := NormalizeWhitespace(article.TextContent)
	if text == "" {
		return Extraction{}, nil
	}
	return Extraction{Pages: []Page{{Text: text}}}, nil
}

// FetchPage downloads pageURL and extracts its readable text. The
// returned bytes are the raw HTML for spooling; the extraction happens
// later in the worker so fetch and parse failures are distinguishable.
func FetchPage(ctx context.Context, client *http.Client, pageURL string) ([]byte, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", pageURL)
	}

	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", "knoll-ingest/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", parsed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", parsed, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", parsed, err)
	}
	return raw, nil
}
