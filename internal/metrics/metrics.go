// Package metrics instruments the agent event loops and optionally exposes
// them over HTTP in Prometheus format.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// EventsProcessed counts notification events fully processed per agent
	// and table.
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swss_events_processed_total",
			Help: "Total number of store notification events processed",
		},
		[]string{"agent", "table"},
	)

	// EventsSkipped counts events dropped by the log-and-continue policy.
	EventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swss_events_skipped_total",
			Help: "Total number of store notification events skipped",
		},
		[]string{"agent", "reason"},
	)

	// ObjectsCreated counts simulated SAI objects created per object type.
	ObjectsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swss_sai_objects_created_total",
			Help: "Total number of simulated SAI objects created",
		},
		[]string{"type"},
	)

	// IdentityEntries tracks the size of the sync daemon's identity table.
	IdentityEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swss_identity_entries",
			Help: "Current number of logical name to object id mappings",
		},
	)
)

// Serve exposes /metrics and /healthz on addr until ctx is cancelled. It
// blocks, so callers run it on its own goroutine.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
		})
	})

	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logrus.WithField("addr", addr).Info("Serving metrics")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
