package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/akinalp/hearth/pkg"
	"github.com/akinalp/hearth/ws"
)

// initRoutes binds the HTTP surface: a health probe, the realtime endpoint and
// the Prometheus scrape endpoint.
//
// The websocket authenticates inside its own handler because browsers cannot
// set headers on the upgrade request; the token travels as ?token=.
func initRoutes(mux *http.ServeMux, wsHandler *ws.Handler, hub *ws.Hub, reg *prometheus.Registry) {
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		pkg.JSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"service":     "hearth",
			"connections": hub.ClientCount(),
			"online":      hub.OnlineCount(),
		})
	})

	mux.HandleFunc("GET /ws", wsHandler.HandleConnection)

	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
}

func withCORS(h http.Handler, origins []string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(h)
}
