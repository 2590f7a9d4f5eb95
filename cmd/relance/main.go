// Entry point for the relance retrieval service: chi ops surface, optional
// MCP-over-QUIC tool transport, SQLite result cache.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/relance/cache"
	"github.com/hazyhaar/relance/mcpquic"
	"github.com/hazyhaar/relance/retrieve"
	"github.com/hazyhaar/relance/shield"
)

func main() {
	_ = godotenv.Load()

	port := env("PORT", "8086")
	configPath := env("CONFIG", "")
	cachePath := env("CACHE_DB", "db/cache.db")
	mcpTransport := env("MCP_TRANSPORT", "")
	logLevel := env("LOG_LEVEL", "info")
	logFormat := env("LOG_FORMAT", "json")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	var handler slog.Handler
	if logFormat == "text" {
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: lvl, TimeFormat: time.RFC3339})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Config.
	cfg := retrieve.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = retrieve.LoadConfig(configPath)
		if err != nil {
			slog.Error("config", "error", err)
			os.Exit(1)
		}
	}

	// Result cache.
	if cfg.Cache.Path != "" {
		cachePath = cfg.Cache.Path
	}
	store, err := cache.Open(cachePath, cache.Config{
		TTL:     time.Duration(cfg.Cache.TTLMs) * time.Millisecond,
		MaxRows: cfg.Cache.MaxRows,
	})
	if err != nil {
		slog.Error("cache db", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Service.
	svc, err := retrieve.New(cfg, retrieve.WithLogger(logger), retrieve.WithCache(store))
	if err != nil {
		slog.Error("retrieve service", "error", err)
		os.Exit(1)
	}

	// Optional MCP QUIC.
	if mcpTransport == "quic" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "relance",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)

		quicAddr := env("MCP_QUIC_ADDR", ":9444")
		certFile := env("TLS_CERT", "")
		keyFile := env("TLS_KEY", "")

		var tlsCfg *tls.Config
		if certFile != "" && keyFile != "" {
			tlsCfg, err = mcpquic.ServerTLSConfig(certFile, keyFile)
		} else {
			tlsCfg, err = mcpquic.SelfSignedTLSConfig()
		}
		if err != nil {
			slog.Error("MCP QUIC TLS", "error", err)
		} else {
			ql, qErr := mcpquic.NewListener(quicAddr, tlsCfg, mcpSrv, logger)
			if qErr != nil {
				slog.Error("MCP QUIC listener", "error", qErr)
			} else {
				go func() {
					slog.Info("MCP QUIC starting", "addr", quicAddr)
					if sErr := ql.Serve(ctx); sErr != nil && ctx.Err() == nil {
						slog.Error("MCP QUIC", "error", sErr)
					}
				}()
			}
		}
	}

	// Router.
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
	r.Use(shield.MaxBody(64 * 1024))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, svc.HealthReport())
	})

	r.Get("/api/stats", func(w http.ResponseWriter, req *http.Request) {
		window := time.Duration(queryInt(req, "window_ms", 0)) * time.Millisecond
		writeJSON(w, 200, svc.RecoveryStats(window))
	})

	r.Get("/api/ledger", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, svc.LedgerEntries())
	})

	r.Post("/api/search", func(w http.ResponseWriter, req *http.Request) {
		var sr retrieve.SearchRequest
		if err := json.NewDecoder(req.Body).Decode(&sr); err != nil {
			writeError(w, 400, err)
			return
		}
		resp, err := svc.Search(req.Context(), sr)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, 200, resp)
	})

	r.Post("/api/visit", func(w http.ResponseWriter, req *http.Request) {
		var vr retrieve.VisitRequest
		if err := json.NewDecoder(req.Body).Decode(&vr); err != nil {
			writeError(w, 400, err)
			return
		}
		out, err := svc.Visit(req.Context(), vr)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, 200, out)
	})

	// HTTP server.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, retrieve.ErrEmptyQuery), errors.Is(err, retrieve.ErrEmptyURL):
		return 400
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return 499
	default:
		return 500
	}
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
