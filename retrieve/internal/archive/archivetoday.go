package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const archiveTodayBase = "https://archive.today"

// ArchiveToday finds the newest memento of a URL. There is no JSON API:
// the timemap endpoint speaks RFC 5988 link-format on a good day and HTML
// on a bad one, and the /newest/ endpoint answers with a redirect.
type ArchiveToday struct {
	base   string
	client *http.Client
	logger *slog.Logger
}

func NewArchiveToday(base string, client *http.Client, logger *slog.Logger) *ArchiveToday {
	if base == "" {
		base = archiveTodayBase
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveToday{base: strings.TrimSuffix(base, "/"), client: client, logger: logger}
}

// Newest returns the most recent snapshot of target, trying the timemap
// (link-format, then embedded anchors) and finally a HEAD probe against
// /newest/ with manual redirect handling. ErrNoSnapshot when all three
// come up empty.
func (a *ArchiveToday) Newest(ctx context.Context, target string) (*Snapshot, error) {
	snap, err := a.fromTimemap(ctx, target)
	if err == nil {
		return snap, nil
	}
	a.logger.InfoContext(ctx, "archive: timemap miss, probing /newest/",
		"url", target, "reason", err)

	return a.fromNewestProbe(ctx, target)
}

func (a *ArchiveToday) fromTimemap(ctx context.Context, target string) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+"/timemap/"+target, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: new request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("archive: timemap http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("archive: read body: %w", err)
	}

	if m, ok := newestMemento(string(body)); ok {
		return &Snapshot{
			URL:       m.url,
			Original:  target,
			Timestamp: isoDatetime(m.datetime),
			Source:    "archive-today",
		}, nil
	}
	if href, ok := a.snapshotAnchor(string(body)); ok {
		return &Snapshot{
			URL:       href,
			Original:  target,
			Timestamp: timestampFromPath(href),
			Source:    "archive-today",
		}, nil
	}
	return nil, ErrNoSnapshot
}

type memento struct {
	url      string
	rel      string
	datetime string
}

// newestMemento parses RFC 5988 link-format and picks the newest memento:
// the entry whose rel contains "last", else the final memento listed.
// Entries cannot be split on commas (datetime values contain them), so the
// scan anchors on the <uri> brackets instead.
func newestMemento(body string) (memento, bool) {
	var mementos []memento
	rest := body
	for {
		open := strings.IndexByte(rest, '<')
		if open < 0 {
			break
		}
		rest = rest[open+1:]
		gt := strings.IndexByte(rest, '>')
		if gt < 0 {
			break
		}
		uri := rest[:gt]
		rest = rest[gt+1:]

		// Params run until the next '<' or end of input.
		end := strings.IndexByte(rest, '<')
		if end < 0 {
			end = len(rest)
		}
		m := memento{url: uri}
		for _, param := range strings.Split(rest[:end], ";") {
			key, val, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok {
				continue
			}
			val = strings.Trim(strings.TrimSuffix(strings.TrimSpace(val), ","), `"`)
			switch strings.TrimSpace(key) {
			case "rel":
				m.rel = val
			case "datetime":
				m.datetime = val
			}
		}
		if strings.Contains(m.rel, "memento") {
			mementos = append(mementos, m)
		}
	}

	if len(mementos) == 0 {
		return memento{}, false
	}
	for _, m := range mementos {
		if strings.Contains(m.rel, "last") {
			return m, true
		}
	}
	return mementos[len(mementos)-1], true
}

// snapshotAnchor scans an HTML body for the first anchor pointing at an
// archive snapshot: an archive.* host with a leading numeric path segment.
func (a *ArchiveToday) snapshotAnchor(body string) (string, bool) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return "", false
	}
	var found string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" && a.isSnapshotURL(attr.Val) {
					found = attr.Val
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found, found != ""
}

func (a *ArchiveToday) isSnapshotURL(href string) bool {
	u, err := url.Parse(href)
	if err != nil || u.Host == "" {
		return false
	}
	if !strings.HasPrefix(u.Host, "archive.") && u.Host != hostOf(a.base) {
		return false
	}
	seg := strings.TrimPrefix(u.Path, "/")
	if i := strings.IndexByte(seg, '/'); i > 0 {
		seg = seg[:i]
	}
	if seg == "" {
		return false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func hostOf(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return u.Host
}

// fromNewestProbe sends HEAD {base}/newest/{url} without following the
// redirect and reads the snapshot location from the response.
func (a *ArchiveToday) fromNewestProbe(ctx context.Context, target string) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.base+"/newest/"+target, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: new request: %w", err)
	}

	noRedirect := *a.client
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		return nil, ErrNoSnapshot
	}
	loc, err := resp.Location()
	if err != nil {
		return nil, ErrNoSnapshot
	}
	return &Snapshot{
		URL:       loc.String(),
		Original:  target,
		Timestamp: timestampFromPath(loc.String()),
		Source:    "archive-today",
	}, nil
}

// timestampFromPath extracts a compact 14-digit timestamp from a snapshot
// URL path, if one is present.
func timestampFromPath(snapshot string) string {
	u, err := url.Parse(snapshot)
	if err != nil {
		return ""
	}
	seg := strings.TrimPrefix(u.Path, "/")
	if i := strings.IndexByte(seg, '/'); i > 0 {
		seg = seg[:i]
	}
	if len(seg) != 14 {
		return ""
	}
	iso := formatTimestamp(seg)
	if iso == seg {
		return ""
	}
	return iso
}

// isoDatetime converts an RFC 1123 memento datetime to ISO 8601, passing
// unparseable values through.
func isoDatetime(dt string) string {
	if dt == "" {
		return ""
	}
	t, err := time.Parse(time.RFC1123, dt)
	if err != nil {
		if t, err = time.Parse(time.RFC1123Z, dt); err != nil {
			return dt
		}
	}
	return t.UTC().Format(time.RFC3339)
}
