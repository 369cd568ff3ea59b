package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/you/whisperd/internal/domain"
)

// Handler re-exposes submit and poll on the public edge, translating
// proxy errors into the gateway's HTTP vocabulary: 503 when the
// processing tier is unreachable, 502 when it failed server-side, 404
// passed through, other 4xx with their original status.
type Handler struct {
	proxy  *Proxy
	logger *zap.Logger
}

func NewHandler(proxy *Proxy, logger *zap.Logger) *Handler {
	return &Handler{proxy: proxy, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	rtr := chi.NewRouter()
	rtr.Post("/v1/jobs", h.handleSubmit)
	rtr.Get("/v1/jobs/{id}", h.handlePoll)
	rtr.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	return rtr
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	out, err := h.proxy.Submit(r.Context(), r.Body, r.Header.Get("Content-Type"), r.URL.Query())
	if err != nil {
		h.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, out)
}

func (h *Handler) handlePoll(w http.ResponseWriter, r *http.Request) {
	job, err := h.proxy.Poll(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) writeMapped(w http.ResponseWriter, err error) {
	var clientErr *ClientError
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
	case errors.Is(err, ErrServiceUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "transcription service unavailable"})
	case errors.As(err, &clientErr):
		writeJSON(w, clientErr.Status, map[string]string{"error": clientErr.Message})
	default:
		h.logger.Error("upstream failure", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "transcription service error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
