package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/yndnr/tokvault-go/internal/core/domain"
)

// readyTimeout bounds the readiness check.
const readyTimeout = 2 * time.Second

// handleHealth handles GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady handles GET /ready.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			h.logger.Warn("readiness check failed", "error", err)
			h.writeError(w, r, http.StatusServiceUnavailable, domain.ErrStoreUnavailable.Code, "not ready", nil)
			return
		}
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
