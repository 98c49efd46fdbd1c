package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/engine"
	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// newServer wires the operational HTTP surface: inbound event intake,
// Prometheus metrics, and a health probe.
func newServer(addr string, dispatcher *engine.Dispatcher, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /events", func(w http.ResponseWriter, r *http.Request) {
		var event schema.InboundEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			http.Error(w, "malformed event: "+err.Error(), http.StatusBadRequest)
			return
		}
		if event.TenantID == "" || event.ChannelID == "" || event.Correspondent == "" {
			http.Error(w, "tenant_id, channel_id and correspondent are required", http.StatusBadRequest)
			return
		}
		if event.ReceivedAt.IsZero() {
			event.ReceivedAt = time.Now().UTC()
		}

		// Fire and forget: turns run on the dispatcher's pool.
		dispatcher.HandleInboundEvent(r.Context(), &event)
		w.WriteHeader(http.StatusAccepted)
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}
}
