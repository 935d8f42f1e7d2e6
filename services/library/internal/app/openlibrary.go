package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultOpenLibraryURL = "https://openlibrary.org"
	openLibraryUserAgent  = "PocketBook/1.0 (geektraindev@gmail.com)"
)

type openLibraryClient struct {
	baseURL string
	client  *http.Client
}

func newOpenLibraryClient(baseURL string, client *http.Client) *openLibraryClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenLibraryURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &openLibraryClient{baseURL: baseURL, client: client}
}

// SearchResult is the outcome of an id lookup. Lookup failures are reported
// in Message with Success false rather than as errors.
type SearchResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Title   string `json:"title"`
	Desc    string `json:"desc"`
}

// SearchID looks up a work by OpenLibrary id (OL...W). ISBN shaped ids are
// recognised but unsupported.
func (a *App) SearchID(ctx context.Context, id string) (SearchResult, error) {
	if len(id) < 9 || len(id) > 13 {
		return SearchResult{}, ErrInvalidSearchID
	}
	switch {
	case strings.HasPrefix(id, "OL") && strings.HasSuffix(id, "W"):
		return a.openLibrary.work(ctx, id)
	case len(id) == 10 || len(id) == 13:
		return SearchResult{Message: "Unsupported ID type!"}, nil
	default:
		return SearchResult{Message: "Invalid ID!"}, nil
	}
}

func (c *openLibraryClient) work(ctx context.Context, id string) (SearchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/works/"+url.PathEscape(id)+".json", nil)
	if err != nil {
		return SearchResult{}, err
	}
	req.Header.Set("User-Agent", openLibraryUserAgent)
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return SearchResult{}, fmt.Errorf("openlibrary request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SearchResult{Message: fmt.Sprintf("HTTP error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))}, nil
	}
	var payload struct {
		Title *string `json:"title"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil || payload.Title == nil {
		return SearchResult{Message: "Invalid response format from OpenLibrary API"}, nil
	}
	return SearchResult{Success: true, Title: *payload.Title}, nil
}
