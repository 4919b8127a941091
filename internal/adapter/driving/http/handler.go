package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Wyydra/ya-sfu/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/ya-sfu/internal/core/service"
)

type Handler struct {
	RouterService *service.RouterService
	Hub           *ws.Hub
	Gatherer      prometheus.Gatherer
}

func NewHandler(routerService *service.RouterService, hub *ws.Hub, gatherer prometheus.Gatherer) *Handler {
	return &Handler{
		RouterService: routerService,
		Hub:           hub,
		Gatherer:      gatherer,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/worker", h.GetWorker)

	r.Route("/routers", func(r chi.Router) {
		r.Get("/", h.ListRouters)
		r.Post("/", h.CreateRouter)
		r.Get("/{routerID}", h.GetRouter)
		r.Delete("/{routerID}", h.DeleteRouter)
	})

	r.Get("/ws", h.ServeWS)

	return r
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
