package e2e

import (
	"context"
	"log/slog"
	"sync"
)

// warnCounter counts log records carrying one exact message.
type warnCounter struct {
	msg string
	mu  sync.Mutex
	n   int
}

func (c *warnCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type countingHandler struct {
	counter *warnCounter
}

func (h *countingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *countingHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Message == h.counter.msg {
		h.counter.mu.Lock()
		h.counter.n++
		h.counter.mu.Unlock()
	}
	return nil
}

func (h *countingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *countingHandler) WithGroup(string) slog.Handler      { return h }

func newCountingLogger(c *warnCounter) *slog.Logger {
	return slog.New(&countingHandler{counter: c})
}
