// Package fetch retrieves single pages for the visit cascade: one guarded
// GET, body capped, title pulled from the markup. Content extraction
// beyond the <title> scan belongs to downstream pipelines, not here.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/relance/retrieve/internal/backoff"
	"github.com/hazyhaar/relance/websafe"
)

// Page is one fetched document.
type Page struct {
	URL        string // final URL after redirects
	Title      string
	Content    string
	StatusCode int
}

// Config configures the fetcher.
type Config struct {
	Timeout  time.Duration // HTTP timeout. Default: 30s.
	MaxBytes int64         // Max response body size. Default: websafe.MaxResponseBody.
	// UserAgent sent with requests. Default is browser-like; archive
	// frontends and many news sites refuse obvious bot agents.
	UserAgent string
	// URLValidator validates URLs before fetch and on every redirect
	// (SSRF prevention). Default: websafe.ValidateURL.
	URLValidator func(string) error
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = websafe.MaxResponseBody
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	}
	if c.URLValidator == nil {
		c.URLValidator = websafe.ValidateURL
	}
}

// Fetcher performs guarded single-page GETs.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher with SSRF protection on the initial URL and on
// redirects.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked (SSRF): %w", err)
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Fetch retrieves rawURL. Non-2xx statuses return a typed status error so
// callers can classify retryability; the Page carries the final URL after
// redirects.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if err := f.config.URLValidator(rawURL); err != nil {
		return nil, fmt.Errorf("fetch: URL blocked (SSRF): %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8,ja;q=0.6")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, backoff.NewStatusError(resp.StatusCode, "fetch: "+rawURL)
	}

	body, err := websafe.LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}

	content := string(body)
	return &Page{
		URL:        resp.Request.URL.String(),
		Title:      titleOf(content),
		Content:    content,
		StatusCode: resp.StatusCode,
	}, nil
}

// titleOf extracts the first <title> text, or "".
func titleOf(content string) string {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return ""
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" {
			var sb strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					sb.WriteString(c.Data)
				}
			}
			title = strings.TrimSpace(sb.String())
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}
