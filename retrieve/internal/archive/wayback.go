// Package archive holds the snapshot lookup clients for the Wayback
// Machine and Archive.today. Both answer one question: is there an
// archived copy of this URL, and where.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// ErrNoSnapshot means the archive answered and has no copy. A miss, not
// a failure: the visit cascade moves to its next candidate.
var ErrNoSnapshot = errors.New("archive: no snapshot")

const waybackAPI = "https://archive.org/wayback/available"

// Snapshot is an archived copy of a URL at a point in time.
type Snapshot struct {
	URL       string `json:"url"`
	Original  string `json:"original"`
	Timestamp string `json:"timestamp,omitempty"` // ISO 8601 when derivable
	Source    string `json:"source"`              // "wayback" or "archive-today"
}

// Wayback queries the availability API.
type Wayback struct {
	api    string
	client *http.Client
	logger *slog.Logger
}

func NewWayback(api string, client *http.Client, logger *slog.Logger) *Wayback {
	if api == "" {
		api = waybackAPI
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Wayback{api: api, client: client, logger: logger}
}

type waybackResponse struct {
	ArchivedSnapshots struct {
		Closest *struct {
			URL       string `json:"url"`
			Timestamp string `json:"timestamp"`
			Available bool   `json:"available"`
			Status    string `json:"status"`
		} `json:"closest"`
	} `json:"archived_snapshots"`
	URL string `json:"url"`
}

// Closest returns the closest available snapshot for target, or
// ErrNoSnapshot when the archive has none.
func (w *Wayback) Closest(ctx context.Context, target string) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.api+"?url="+url.QueryEscape(target), nil)
	if err != nil {
		return nil, fmt.Errorf("wayback: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wayback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wayback: http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("wayback: read body: %w", err)
	}

	var parsed waybackResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("wayback: decode: %w", err)
	}

	closest := parsed.ArchivedSnapshots.Closest
	if closest == nil || !closest.Available || closest.URL == "" {
		return nil, ErrNoSnapshot
	}
	return &Snapshot{
		URL:       closest.URL,
		Original:  target,
		Timestamp: formatTimestamp(closest.Timestamp),
		Source:    "wayback",
	}, nil
}

// formatTimestamp converts the archive's compact YYYYMMDDHHmmss form to
// ISO 8601. Anything that is not exactly 14 digits passes through
// unchanged.
func formatTimestamp(ts string) string {
	if len(ts) != 14 {
		return ts
	}
	for _, r := range ts {
		if r < '0' || r > '9' {
			return ts
		}
	}
	return fmt.Sprintf("%s-%s-%sT%s:%s:%sZ",
		ts[0:4], ts[4:6], ts[6:8], ts[8:10], ts[10:12], ts[12:14])
}
