// Package health serves liveness and status endpoints for the worker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-cart/internal/resilience"
	"github.com/sells-group/pharma-cart/internal/worker"
)

// StatusSource reports the run loop's state.
type StatusSource interface {
	Status() worker.Status
}

// ChannelSource reports the outbound channels' circuit states.
type ChannelSource interface {
	Channels() map[string]resilience.CircuitState
}

// Snapshot is the /status response body.
type Snapshot struct {
	Worker   worker.Status     `json:"worker"`
	Channels map[string]string `json:"channels,omitempty"`
	Uptime   string            `json:"uptime"`
}

// NewRouter returns the health routes. channels may be nil.
func NewRouter(status StatusSource, channels ChannelSource) http.Handler {
	started := time.Now()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		snap := Snapshot{
			Worker: status.Status(),
			Uptime: time.Since(started).Round(time.Second).String(),
		}
		if channels != nil {
			snap.Channels = make(map[string]string)
			for name, st := range channels.Channels() {
				snap.Channels[name] = st.String()
			}
		}
		writeJSON(w, http.StatusOK, snap)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("health: encode response", zap.Error(err))
	}
}

// Serve listens on port until ctx is cancelled.
func Serve(ctx context.Context, port int, h http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("health: shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("health: listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "health: listen")
	}
	return nil
}
