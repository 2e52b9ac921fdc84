// Package metrics holds the prometheus collectors for book-buddy and an
// optional /metrics listener.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bookbuddy_voice_sessions_active",
		Help: "Currently connected voice sessions",
	})

	SessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookbuddy_voice_sessions_started_total",
		Help: "Voice session starts by outcome",
	}, []string{"outcome"})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookbuddy_voice_reconnects_total",
		Help: "Reconnect attempts after error disconnects",
	})

	Disconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookbuddy_voice_disconnects_total",
		Help: "Remote disconnects by reason",
	}, []string{"reason"})

	ChunksPlayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookbuddy_chunks_played_total",
		Help: "play_chunk invocations by outcome",
	}, []string{"outcome"})

	ChunkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bookbuddy_chunk_duration_seconds",
		Help:    "Wall time of play_chunk including settle delay and lookup",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	BackendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookbuddy_backend_requests_total",
		Help: "Backend HTTP requests by endpoint and status",
	}, []string{"endpoint", "status"})

	AudioFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookbuddy_mic_frames_dropped_total",
		Help: "Microphone frames dropped because the session was not keeping up",
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookbuddy_errors_total",
		Help: "Error counts by component",
	}, []string{"component", "error_type"})
)

// Serve exposes /metrics on addr until ctx is done. An empty addr is a no-op.
func Serve(ctx context.Context, addr string, log *slog.Logger) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
