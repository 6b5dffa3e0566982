package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hardstop-labs/sentinel/pkg/config"
	"github.com/hardstop-labs/sentinel/pkg/contracts"
)

// ErrNoAdapter reports a source type with no registered adapter.
var ErrNoAdapter = errors.New("no adapter for source type")

// DefaultAdapter is the built-in factory. It knows the json feed shape;
// other source types need a caller-supplied factory.
func DefaultAdapter(src config.Source, defaults config.Defaults) (Adapter, error) {
	switch src.Type {
	case "json", "json_feed":
		return NewJSONFeed(src, defaults), nil
	}
	return nil, fmt.Errorf("%w: %q (source %s)", ErrNoAdapter, src.Type, src.ID)
}

// JSONFeed fetches a feed that serves raw item candidates as JSON, either a
// bare array or an object with an "items" array.
type JSONFeed struct {
	URL       string
	UserAgent string
	Client    *http.Client
}

// NewJSONFeed builds the adapter with the catalog defaults applied.
func NewJSONFeed(src config.Source, defaults config.Defaults) *JSONFeed {
	timeout := time.Duration(defaults.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &JSONFeed{
		URL:       src.URL,
		UserAgent: defaults.UserAgent,
		Client:    &http.Client{Timeout: timeout},
	}
}

type jsonFeedDoc struct {
	Items []contracts.RawItemCandidate `json:"items"`
}

// Fetch downloads and decodes the feed. Candidates published before since
// are dropped when since is set; candidates without a published timestamp
// pass through.
func (j *JSONFeed) Fetch(ctx context.Context, since time.Time) ([]contracts.RawItemCandidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if j.UserAgent != "" {
		req.Header.Set("User-Agent", j.UserAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := j.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", j.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: unexpected status %d", j.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", j.URL, err)
	}

	var items []contracts.RawItemCandidate
	var doc jsonFeedDoc
	if err := json.Unmarshal(body, &doc); err == nil && doc.Items != nil {
		items = doc.Items
	} else if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", j.URL, err)
	}

	if since.IsZero() {
		return items, nil
	}
	filtered := items[:0]
	for _, it := range items {
		if it.PublishedAtUTC == "" {
			filtered = append(filtered, it)
			continue
		}
		ts, err := time.Parse(time.RFC3339, it.PublishedAtUTC)
		if err != nil || !ts.Before(since) {
			filtered = append(filtered, it)
		}
	}
	return filtered, nil
}
