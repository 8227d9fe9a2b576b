package main

import (
	"net/http"

	"github.com/cfoust/tether/pkg/ingress"
	"github.com/cfoust/tether/pkg/server"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func routes(ws *ingress.WSIngress, gameServer *server.Server, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/ws", ws)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/api/status", ws.StatusHandler(gameServer.Status))
	return r
}
