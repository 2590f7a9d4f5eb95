package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hazyhaar/relance/retrieve/internal/backoff"
)

// Searxng queries a self-hosted SearXNG instance's JSON API.
type Searxng struct {
	core
	endpoint string
}

// NewSearxng builds the adapter. The instance endpoint is mandatory; there
// is no public default worth hardcoding.
func NewSearxng(cfg Config, client *http.Client, logger *slog.Logger) (*Searxng, error) {
	if cfg.Endpoint == "" {
		return nil, &backoff.ConfigError{Msg: "searxng: missing endpoint"}
	}
	return &Searxng{
		core:     newCore(cfg, client, logger),
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
	}, nil
}

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (s *Searxng) Attempt(ctx context.Context, query string, maxResults int) ([]SearchHit, error) {
	return s.run(ctx, func(ctx context.Context) ([]SearchHit, error) {
		return s.search(ctx, query, maxResults)
	})
}

func (s *Searxng) search(ctx context.Context, query string, maxResults int) ([]SearchHit, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("searxng: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, backoff.NewStatusError(resp.StatusCode, "searxng: search")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("searxng: read body: %w", err)
	}

	var parsed searxngResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &backoff.ParseError{Err: fmt.Errorf("searxng: decode: %w", err)}
	}

	hits := make([]SearchHit, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if len(hits) >= maxResults {
			break
		}
		if r.URL == "" {
			continue
		}
		hits = append(hits, SearchHit{
			Title:   cleanText(r.Title),
			URL:     r.URL,
			Snippet: cleanText(r.Content),
		})
	}
	return hits, nil
}
