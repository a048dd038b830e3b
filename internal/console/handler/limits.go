package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/xela07ax/ratewarden/internal/console/service"
	"github.com/xela07ax/ratewarden/internal/governor"
	"go.uber.org/zap"
)

type LimitsHandler struct {
	service *service.LimitsService
	logger  *zap.Logger
}

func NewLimitsHandler(s *service.LimitsService, logger *zap.Logger) *LimitsHandler {
	return &LimitsHandler{service: s, logger: logger}
}

type ResetRequest struct {
	Identity string `json:"identity"`
	Endpoint string `json:"endpoint,omitempty"`
}

type ResetResponse struct {
	Identity string `json:"identity"`
	Endpoint string `json:"endpoint,omitempty"`
	Deleted  int64  `json:"deleted"`
}

// Reset снимает ограничения с личности.
// POST /v1/limits/reset
func (h *LimitsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	deleted, err := h.service.Reset(r.Context(), req.Identity, req.Endpoint)
	if err != nil {
		if errors.Is(err, governor.ErrEmptyIdentity) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("reset failed", zap.String("identity", req.Identity), zap.Error(err))
		http.Error(w, "Failed to reset limits", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, ResetResponse{
		Identity: req.Identity,
		Endpoint: req.Endpoint,
		Deleted:  deleted,
	})
}

// Stats возвращает сводку по хранилищу учета.
// GET /v1/stats?horizon=3600
func (h *LimitsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var horizon int64
	if raw := r.URL.Query().Get("horizon"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			http.Error(w, "horizon must be a positive number of seconds", http.StatusBadRequest)
			return
		}
		horizon = v
	}

	report, err := h.service.Stats(r.Context(), horizon)
	if errors.Is(err, governor.ErrInvalidHorizon) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error("stats failed", zap.Error(err))
		http.Error(w, "Failed to build stats", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Health: живо ли хранилище учета.
// GET /health
func (h *LimitsHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Health(r.Context()); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
