package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/spark-client/pkg/classify"
	"github.com/Sternrassler/spark-client/pkg/client"
	"github.com/Sternrassler/spark-client/pkg/logging"
	"github.com/Sternrassler/spark-client/pkg/metrics"
	"github.com/Sternrassler/spark-client/pkg/scheduler"
)

const shutdownTimeout = 10 * time.Second

// truncatedHeader marks proxied collections cut short by --max-pages.
const truncatedHeader = "X-Spark-Truncated"

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local HTTP proxy in front of the Spark API",
		Long: `Run a local HTTP proxy that forwards /api/* to the Spark API through the
throttled client. Every caller shares one dispatch queue and, with
--redis-url, one rate-limit state.

Routes:
  /health    liveness
  /ready     Redis reachability (always ready without Redis)
  /metrics   Prometheus metrics
  /status    queue depth and rate-limit state as JSON
  /api/*     proxied Spark requests

SIGINT or SIGTERM shuts the server down gracefully.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, rdb, closeAll, err := a.newClient()
			if err != nil {
				return err
			}
			defer closeAll()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, a.v.GetString("addr"), newRouter(c, rdb))
		},
	}

	cmd.Flags().String("addr", ":8080", "listen address")
	_ = a.v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}

// serve runs handler on addr until ctx is done, then shuts down gracefully.
func serve(ctx context.Context, addr string, handler http.Handler) error {
	logger := logging.NewLogger("server")

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Starting Spark proxy server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down Spark proxy server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRouter builds the proxy routes. rdb may be nil.
func newRouter(c *client.Client, rdb *redis.Client) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(rdb))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/status", statusHandler(c))
	r.HandleFunc("/api/*", proxyHandler(c))
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

func readyHandler(rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rdb != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"ready": true})
	}
}

func statusHandler(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"queue_depth": c.QueueLen()}

		if tracker := c.Tracker(); tracker != nil {
			state, err := tracker.GetState(r.Context())
			if err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
				return
			}
			body["rate_limit"] = map[string]any{
				"count_429":     state.Count429,
				"healthy":       state.IsHealthy(),
				"retry_after_s": state.RetryAfter.Seconds(),
				"reset_in_s":    state.TimeUntilReset().Seconds(),
			}
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// proxyHandler forwards /api/<path> to the Spark API. The caller's query
// string is kept, so /api/rooms?max=250 collects 250 rooms across pages.
func proxyHandler(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := "/" + chi.URLParam(r, "*")
		if r.URL.RawQuery != "" {
			path += "?" + r.URL.RawQuery
		}

		var body any
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
				writeJSON(w, http.StatusBadRequest, map[string]any{"message": "request body is not valid JSON"})
				return
			}
		}

		res, err := c.Do(r.Context(), r.Method, path, body)
		switch {
		case errors.Is(err, scheduler.ErrPageLimit):
			w.Header().Set(truncatedHeader, "true")
		case err != nil:
			writeError(w, err)
			return
		}

		out := resultBody(res)
		if out == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// statusFor maps a client error to the proxy's response status.
func statusFor(err error) int {
	var httpErr *classify.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
		return httpErr.StatusCode
	}

	switch client.ClassifyError(err) {
	case client.ErrorClassConfig:
		return http.StatusInternalServerError
	case client.ErrorClassRateLimit:
		return http.StatusTooManyRequests
	case client.ErrorClassNetwork:
		return http.StatusGatewayTimeout
	case client.ErrorClassCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, err error) {
	body := map[string]any{
		"message": err.Error(),
		"class":   string(client.ClassifyError(err)),
	}
	var httpErr *classify.HTTPError
	if errors.As(err, &httpErr) {
		body["upstream_status"] = httpErr.StatusCode
	}
	writeJSON(w, statusFor(err), body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
