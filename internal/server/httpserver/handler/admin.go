package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/infra/buildinfo"
)

// handleAdminStatus handles GET /admin/v1/status/summary.
func (h *Handler) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	summary := map[string]any{
		"status": "running",
		"build":  buildinfo.Get(),
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if h.status != nil {
		for k, v := range h.status() {
			summary[k] = v
		}
	}
	h.writeJSON(w, r, http.StatusOK, summary)
}

// handleSweep handles POST /admin/v1/tokens/sweep.
func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, http.StatusBadRequest, domain.ErrBadRequest.Code, "invalid request body", nil)
		return
	}

	var (
		removed int
		err     error
	)
	if req.Before > 0 {
		removed, err = h.sweeper.SweepBefore(r.Context(), time.UnixMilli(req.Before))
	} else {
		removed, err = h.sweeper.SweepOnce(r.Context())
	}
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, SweepResponse{
		Removed:     removed,
		TriggeredAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleInspectToken handles GET /admin/v1/tokens/{token}. The response
// carries a masked token and never consumes a use.
func (h *Handler) handleInspectToken(w http.ResponseWriter, r *http.Request) {
	view, err := h.download.Inspect(r.Context(), r.PathValue("token"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, view)
}
