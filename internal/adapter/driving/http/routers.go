package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
	"github.com/Wyydra/ya-sfu/internal/core/port"
)

type routerDTO struct {
	ID     string          `json:"id"`
	Closed bool            `json:"closed"`
	Dump   json.RawMessage `json:"dump,omitempty"`
}

type createRouterDTO struct {
	AppData domain.AppData `json:"appData"`
}

func toDTO(r port.Router) routerDTO {
	return routerDTO{ID: r.ID().String(), Closed: r.Closed()}
}

func (h *Handler) GetWorker(w http.ResponseWriter, r *http.Request) {
	dump, err := h.RouterService.DumpWorker(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dump)
}

func (h *Handler) ListRouters(w http.ResponseWriter, r *http.Request) {
	routers, err := h.RouterService.ListRouters(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]routerDTO, 0, len(routers))
	for _, router := range routers {
		out = append(out, toDTO(router))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateRouter(w http.ResponseWriter, r *http.Request) {
	var req createRouterDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	router, err := h.RouterService.CreateRouter(r.Context(), req.AppData)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDTO(router))
}

func (h *Handler) GetRouter(w http.ResponseWriter, r *http.Request) {
	id, ok := routerID(w, r)
	if !ok {
		return
	}

	router, err := h.RouterService.GetRouter(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	dump, err := h.RouterService.DumpRouter(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	dto := toDTO(router)
	dto.Dump = dump
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) DeleteRouter(w http.ResponseWriter, r *http.Request) {
	id, ok := routerID(w, r)
	if !ok {
		return
	}

	if err := h.RouterService.CloseRouter(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func routerID(w http.ResponseWriter, r *http.Request) (domain.RouterID, bool) {
	id, err := domain.ParseRouterID(chi.URLParam(r, "routerID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid router id"})
		return domain.RouterID{}, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var reqErr *domain.RequestError
	switch {
	case errors.Is(err, domain.ErrRouterNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrEntityClosed), errors.Is(err, domain.ErrChannelClosed):
		status = http.StatusServiceUnavailable
	case errors.As(err, &reqErr):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Error writing response")
	}
}
