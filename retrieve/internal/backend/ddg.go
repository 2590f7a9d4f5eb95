package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/relance/retrieve/internal/backoff"
)

const ddgEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGo scrapes the HTML search interface. No API key; result rows
// are div.result blocks whose links are wrapped in a uddg= redirect.
type DuckDuckGo struct {
	core
	endpoint string
}

// NewDuckDuckGo builds the scraper. Endpoint override is for self-hosted
// mirrors and tests.
func NewDuckDuckGo(cfg Config, client *http.Client, logger *slog.Logger) *DuckDuckGo {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = ddgEndpoint
	}
	return &DuckDuckGo{
		core:     newCore(cfg, client, logger),
		endpoint: endpoint,
	}
}

func (d *DuckDuckGo) Attempt(ctx context.Context, query string, maxResults int) ([]SearchHit, error) {
	return d.run(ctx, func(ctx context.Context) ([]SearchHit, error) {
		return d.search(ctx, query, maxResults)
	})
}

func (d *DuckDuckGo) search(ctx context.Context, query string, maxResults int) ([]SearchHit, error) {
	u := d.endpoint + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("ddg: new request: %w", err)
	}
	// Browser-like headers; the plain default UA gets a challenge page.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ddg: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, backoff.NewStatusError(resp.StatusCode, "ddg: search")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("ddg: read body: %w", err)
	}
	return parseDDGResults(string(body), maxResults)
}

// parseDDGResults walks the document for div.result blocks and extracts
// the anchor (title + href) and snippet of each.
func parseDDGResults(htmlContent string, maxResults int) ([]SearchHit, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, &backoff.ParseError{Err: fmt.Errorf("ddg: parse html: %w", err)}
	}

	var hits []SearchHit
	var findResults func(*html.Node)
	findResults = func(n *html.Node) {
		if len(hits) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			cls := attrValue(n, "class")
			if strings.Contains(cls, "result") && strings.Contains(cls, "results_links") {
				if hit := extractDDGHit(n); hit.URL != "" && hit.Title != "" {
					hits = append(hits, hit)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findResults(c)
		}
	}
	findResults(doc)
	return hits, nil
}

func extractDDGHit(n *html.Node) SearchHit {
	var hit SearchHit
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			cls := attrValue(n, "class")
			if strings.Contains(cls, "result__a") {
				hit.URL = unwrapDDGRedirect(attrValue(n, "href"))
				hit.Title = cleanText(textContent(n))
			} else if strings.Contains(cls, "result__snippet") {
				hit.Snippet = cleanText(textContent(n))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return hit
}

// unwrapDDGRedirect resolves the //duckduckgo.com/l/?uddg= indirection to
// the target URL. Unrecognized hrefs pass through unchanged.
func unwrapDDGRedirect(href string) string {
	const marker = "/l/?uddg="
	idx := strings.Index(href, marker)
	if idx < 0 || !strings.Contains(href[:idx], "duckduckgo.com") {
		return href
	}
	decoded, err := url.QueryUnescape(href[idx+len(marker):])
	if err != nil {
		return href
	}
	if amp := strings.Index(decoded, "&"); amp > 0 {
		decoded = decoded[:amp]
	}
	return decoded
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(strings.TrimSpace(n.Data))
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
