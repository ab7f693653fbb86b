// Package client talks to a running nowplaying server over its query API
// and its WebSocket feed.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/np-widget/backend/internal/session"
	"github.com/np-widget/backend/internal/version"
)

// HTTPClient makes query API calls.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting baseURL, e.g. "http://127.0.0.1:8080".
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Sessions fetches /api/sessions, or /api/sessions/ordered when ordered is
// set. It returns the decoded records along with the raw body. Unordered
// results are sorted by session id.
func (c *HTTPClient) Sessions(ctx context.Context, ordered bool) ([]*session.SessionRecord, []byte, error) {
	path := "/api/sessions"
	if ordered {
		path += "/ordered"
	}
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, nil, err
	}

	if ordered {
		var records []*session.SessionRecord
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, nil, fmt.Errorf("decoding %s: %w", path, err)
		}
		return records, body, nil
	}

	var snap session.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return sortedByID(snap), body, nil
}

// Session fetches a single record.
func (c *HTTPClient) Session(ctx context.Context, id session.ID) (*session.SessionRecord, error) {
	body, err := c.get(ctx, "/api/sessions/"+id.String())
	if err != nil {
		return nil, err
	}
	var rec session.SessionRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &rec, nil
}

func sortedByID(snap session.Snapshot) []*session.SessionRecord {
	records := make([]*session.SessionRecord, 0, len(snap))
	for _, rec := range snap {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].SessionID < records[j].SessionID })
	return records
}

func (c *HTTPClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	c.setAuth(req.Header)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (c *HTTPClient) setAuth(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}
