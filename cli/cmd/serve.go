package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/conduit/adapter"
	"github.com/pithecene-io/conduit/adapter/redis"
	"github.com/pithecene-io/conduit/adapter/webhook"
	"github.com/pithecene-io/conduit/bus"
	"github.com/pithecene-io/conduit/cli/config"
	"github.com/pithecene-io/conduit/iox"
	"github.com/pithecene-io/conduit/log"
	"github.com/pithecene-io/conduit/metrics"
	"github.com/pithecene-io/conduit/registry"
	"github.com/pithecene-io/conduit/runtime"
	"github.com/pithecene-io/conduit/store"
	"github.com/pithecene-io/conduit/store/sqlite"
	"github.com/pithecene-io/conduit/transport"
	"github.com/pithecene-io/conduit/transport/sse"
	"github.com/pithecene-io/conduit/transport/ws"
)

// shutdownTimeout bounds the graceful drain on SIGINT/SIGTERM.
const shutdownTimeout = 15 * time.Second

// ServeCommand returns the serve command: the long-running engine daemon.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the streaming engine",
		Flags: []cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address (overrides config server.listen)",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadServeConfig(c)
	if err != nil {
		return err
	}

	logger := log.NewLogger("serve")
	collector := metrics.NewCollector("http", cfg.Storage.Backend)

	b := bus.New(log.NewLogger("bus"), collector, cfg.Bus.QueueCapacity)
	reg := registry.New(log.NewLogger("registry"))

	var st store.Store
	var writer *store.Writer
	if cfg.Storage.Backend == "sqlite" {
		st, err = sqlite.Open(sqlite.PoolConfig{
			Path:     cfg.Storage.Path,
			PoolSize: cfg.Storage.PoolSize,
			Logger:   log.NewLogger("sqlite"),
		})
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer iox.DiscardClose(st)
		writer = store.NewWriter(st, log.NewLogger("writer"), collector, cfg.Storage.WriterQueue)
	}

	adp, err := buildAdapter(cfg.Adapter)
	if err != nil {
		return err
	}
	if adp != nil {
		defer iox.DiscardClose(adp)
	}

	engine, err := runtime.New(runtime.Config{
		Logger:    log.NewLogger("runtime"),
		Collector: collector,
		Bus:       b,
		Registry:  reg,
		Writer:    writer,
		Adapter:   adp,
	})
	if err != nil {
		return err
	}

	// Sessions left non-terminal by a previous process can never complete.
	if st != nil {
		swept, err := engine.RecoverSessions(c.Context, st)
		if err != nil {
			return fmt.Errorf("recovery sweep: %w", err)
		}
		if swept > 0 {
			logger.Warn("recovery sweep complete", map[string]any{
				"sessions_failed": swept,
			})
		}
	}

	opts := transport.Options{
		KeepAliveInterval: cfg.Server.KeepAlive.Duration,
		WriteTimeout:      cfg.Server.WriteTimeout.Duration,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /v1/stream/sse", sse.NewHandler(b, log.NewLogger("sse"), opts))
	mux.Handle("GET /v1/stream/ws", ws.NewHandler(b, log.NewLogger("ws"), opts))
	mux.HandleFunc("POST /v1/ingest", ingestHandler(engine, logger))
	mux.HandleFunc("DELETE /v1/sessions/{id}", cancelHandler(engine))
	mux.HandleFunc("GET /v1/metrics", metricsHandler(collector))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	listen := cfg.Server.Listen
	if override := c.String("listen"); override != "" {
		listen = override
	}
	server := &http.Server{
		Addr:    listen,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", map[string]any{
			"addr":    listen,
			"storage": cfg.Storage.Backend,
			"adapter": cfg.Adapter.Type,
		})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown incomplete", map[string]any{
			"error": err.Error(),
		})
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Error("engine shutdown incomplete", map[string]any{
			"error": err.Error(),
		})
	}
	writer.Close()
	b.Close()
	return nil
}

// loadServeConfig loads the config file named by --config, or the built-in
// defaults when the flag is absent.
func loadServeConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildAdapter constructs the completion notification adapter, or nil for
// type "none".
func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	retries := func(fallback int) int {
		if cfg.Retries != nil {
			return *cfg.Retries
		}
		return fallback
	}

	switch cfg.Type {
	case "none":
		return nil, nil
	case "redis":
		return redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retries(redis.DefaultRetries),
		})
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries(webhook.DefaultRetries),
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Type)
	}
}

// ingestHandler accepts a producer's fragment stream. The body is a
// sequence of length-prefixed msgpack frames; the response is sent after
// the session reaches a terminal state.
func ingestHandler(engine *runtime.Engine, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := r.URL.Query().Get("thread")
		if threadID == "" {
			http.Error(w, "thread query parameter is required", http.StatusBadRequest)
			return
		}
		runID := r.URL.Query().Get("run")

		sessionID, err := engine.StartSession(r.Context(), threadID, runID, runtime.NewReaderSource(r.Body))
		if err != nil {
			if errors.Is(err, runtime.ErrSessionActive) {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		// Hold the request open until the drain loop finishes: returning
		// early would close r.Body under the source.
		if err := engine.WaitSession(r.Context(), sessionID); err != nil {
			logger.Warn("producer disconnected before drain finished", map[string]any{
				"session_id": sessionID,
				"error":      err.Error(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"sessionId": sessionID,
		})
	}
}

// cancelHandler stops a live session's producer.
func cancelHandler(engine *runtime.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !engine.CancelSession(sessionID) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// metricsHandler exposes the collector snapshot as JSON.
func metricsHandler(collector *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(collector.Snapshot())
	}
}
