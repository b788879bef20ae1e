// Package metrics holds the prometheus collectors shared by the chat core.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Generation outcomes, used as the "outcome" label.
const (
	OutcomeFinalized = "finalized"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

var (
	Generations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ollamachat_generations_total",
		Help: "Generations by terminal outcome.",
	}, []string{"outcome", "model"})

	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ollamachat_generation_duration_seconds",
		Help:    "Wall-clock time from request to terminal state.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"outcome"})

	StreamDeltas = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ollamachat_stream_deltas_total",
		Help: "Text deltas received from inference streams.",
	})

	SkippedLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ollamachat_stream_skipped_lines_total",
		Help: "Malformed stream lines that were ignored.",
	})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ollamachat_store_errors_total",
		Help: "Conversation store failures by operation.",
	}, []string{"op"})
)

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
