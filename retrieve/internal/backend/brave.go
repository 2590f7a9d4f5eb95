package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hazyhaar/relance/retrieve/internal/backoff"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave queries the Brave Search API. Requires a subscription token.
type Brave struct {
	core
	apiKey   string
	endpoint string
}

// NewBrave builds the API adapter. A missing key on an enabled provider is
// a configuration error, surfaced at startup rather than mid-cascade.
func NewBrave(cfg Config, client *http.Client, logger *slog.Logger) (*Brave, error) {
	if cfg.APIKey == "" {
		return nil, &backoff.ConfigError{Msg: "brave: missing API key"}
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = braveEndpoint
	}
	return &Brave{
		core:     newCore(cfg, client, logger),
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
	}, nil
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (b *Brave) Attempt(ctx context.Context, query string, maxResults int) ([]SearchHit, error) {
	return b.run(ctx, func(ctx context.Context) ([]SearchHit, error) {
		return b.search(ctx, query, maxResults)
	})
}

func (b *Brave) search(ctx context.Context, query string, maxResults int) ([]SearchHit, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("brave: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, backoff.NewStatusError(resp.StatusCode, "brave: search")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("brave: read body: %w", err)
	}

	var parsed braveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &backoff.ParseError{Err: fmt.Errorf("brave: decode: %w", err)}
	}

	hits := make([]SearchHit, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		if len(hits) >= maxResults {
			break
		}
		if r.URL == "" {
			continue
		}
		hits = append(hits, SearchHit{
			Title:   cleanText(r.Title),
			URL:     r.URL,
			Snippet: cleanText(r.Description),
		})
	}
	return hits, nil
}
