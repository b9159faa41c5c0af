// Package feed pulls agent predictions from the upstream memory API.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Config drives feed client behaviour.
type Config struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
	CacheTTL  time.Duration
	PageLimit int
}

// Prediction is one upstream prediction record.
type Prediction struct {
	ID         string
	Agent      string
	Prediction string
	FullPost   string
	Topic      string
	SourceURL  string
	PostedAt   time.Time
}

// Client fetches predictions with pagination, basic caching, and a single
// retry on rate limiting.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
	pageLimit  int
	cacheTTL   time.Duration
	cache      sync.Map // map[string]cacheEntry
}

type cacheEntry struct {
	at      time.Time
	records []Prediction
}

// ErrMissingBaseURL is returned when the client has nowhere to call.
var ErrMissingBaseURL = errors.New("feed client missing base url")

// NewClient constructs a feed client if configuration is valid.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	limit := cfg.PageLimit
	if limit <= 0 {
		limit = 1000
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		authToken:  strings.TrimSpace(cfg.AuthToken),
		pageLimit:  limit,
		cacheTTL:   ttl,
	}, nil
}

// ListSince fetches every prediction posted at or after the supplied time,
// walking pages until a short page arrives.
func (c *Client) ListSince(ctx context.Context, since time.Time) ([]Prediction, error) {
	if c == nil {
		return nil, errors.New("feed client is nil")
	}

	key := since.UTC().Format(time.RFC3339)
	if entry, ok := c.cache.Load(key); ok {
		cached := entry.(cacheEntry)
		if time.Since(cached.at) < c.cacheTTL {
			return cached.records, nil
		}
		c.cache.Delete(key)
	}

	var records []Prediction
	offset := 0
	for {
		page, err := c.fetchPage(ctx, since, offset)
		if err != nil {
			return nil, err
		}
		records = append(records, page...)
		if len(page) < c.pageLimit {
			break
		}
		offset += c.pageLimit
	}

	c.cache.Store(key, cacheEntry{at: time.Now(), records: records})
	return records, nil
}

func (c *Client) fetchPage(ctx context.Context, since time.Time, offset int) ([]Prediction, error) {
	params := url.Values{}
	params.Set("limit", fmt.Sprintf("%d", c.pageLimit))
	params.Set("offset", fmt.Sprintf("%d", offset))
	if !since.IsZero() {
		params.Set("since", since.UTC().Format(time.RFC3339))
	}

	endpoint := c.baseURL + "/predictions/list?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		// back off for 5 seconds and retry once
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
		}
		resp.Body.Close()
		retryReq, retryErr := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if retryErr != nil {
			return nil, retryErr
		}
		retryReq.Header = req.Header.Clone()
		resp, err = c.httpClient.Do(retryReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed api status %d", resp.StatusCode)
	}

	var payload listResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode feed response: %w", err)
	}

	out := make([]Prediction, 0, len(payload.Predictions))
	for _, item := range payload.Predictions {
		text := strings.TrimSpace(item.Prediction)
		if text == "" {
			continue
		}
		record := Prediction{
			ID:         strings.TrimSpace(item.ID),
			Agent:      strings.TrimSpace(item.Agent),
			Prediction: text,
			FullPost:   strings.TrimSpace(item.FullPost),
			Topic:      strings.TrimSpace(item.Topic),
			SourceURL:  strings.TrimSpace(item.URL),
		}
		if record.ID == "" {
			continue
		}
		record.PostedAt = parseTimestamp(item.Timestamp)
		out = append(out, record)
	}
	return out, nil
}

type listResponse struct {
	Predictions []listItem `json:"predictions"`
	Total       int        `json:"total"`
}

type listItem struct {
	ID         string `json:"id"`
	Agent      string `json:"agent"`
	Prediction string `json:"prediction"`
	FullPost   string `json:"full_post"`
	Topic      string `json:"topic"`
	URL        string `json:"url"`
	Timestamp  string `json:"timestamp"`
}

func parseTimestamp(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}
