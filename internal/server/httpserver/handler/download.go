package handler

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
	"github.com/yndnr/tokvault-go/internal/telemetry/logger"
)

// Download failures visible to clients. Every token failure shares one
// response so an expired link cannot be told apart from a guessed one.
const (
	invalidLinkCode    = "TV-TOKN-4040"
	invalidLinkMessage = "invalid or expired download link"
)

// handleDownload handles GET /download/{token}.
//
// One use is consumed before the first byte is written. A transfer that
// fails or is aborted by the client afterwards still counts as a download.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	tokenID := r.PathValue("token")

	red, err := h.download.Redeem(r.Context(), tokenID)
	if err != nil {
		h.writeDownloadError(w, r, err)
		return
	}
	defer red.Body.Close()

	setDownloadHeaders(w.Header(), red)
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, red.Body)
	if err != nil {
		logger.L(r.Context()).Warn("download stream interrupted",
			"token", domain.MaskToken(tokenID),
			"product_id", red.Asset.ProductID,
			"bytes", n,
			"error", err)
	}
}

// handleDownloadHead handles HEAD /download/{token}. Link checkers and
// mail previewers send HEAD; it reports the download without spending a use.
func (h *Handler) handleDownloadHead(w http.ResponseWriter, r *http.Request) {
	red, err := h.download.Check(r.Context(), r.PathValue("token"))
	if err != nil {
		h.writeDownloadError(w, r, err)
		return
	}
	setDownloadHeaders(w.Header(), red)
	w.WriteHeader(http.StatusOK)
}

func setDownloadHeaders(hdr http.Header, red *service.Redemption) {
	hdr.Set("Content-Type", red.Asset.ContentType)
	hdr.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": red.Asset.FileName}))
	if red.Asset.Size > 0 {
		hdr.Set("Content-Length", strconv.FormatInt(red.Asset.Size, 10))
	}
	hdr.Set("Cache-Control", "no-store")
	hdr.Set("X-Content-Type-Options", "nosniff")
	hdr.Set("X-Downloads-Remaining", strconv.Itoa(red.Remaining))
}

func (h *Handler) writeDownloadError(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("Cache-Control", "no-store")
	switch {
	case isTokenError(err):
		h.writeError(w, r, http.StatusNotFound, invalidLinkCode, invalidLinkMessage, nil)
	case errors.Is(err, domain.ErrAssetUnavailable):
		w.Header().Set("Retry-After", "60")
		h.writeError(w, r, http.StatusServiceUnavailable, domain.ErrAssetUnavailable.Code,
			"file is being prepared, try again later", nil)
	case domain.IsTransient(err):
		w.Header().Set("Retry-After", "1")
		h.writeError(w, r, http.StatusServiceUnavailable, domain.GetErrorCode(err),
			"service temporarily unavailable", nil)
	default:
		logger.L(r.Context()).Error("download failed", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternalServer.Code, "internal server error", nil)
	}
}

func isTokenError(err error) bool {
	return errors.Is(err, domain.ErrTokenIntegrity) ||
		errors.Is(err, domain.ErrTokenNotFound) ||
		errors.Is(err, domain.ErrTokenExpired) ||
		errors.Is(err, domain.ErrTokenExhausted)
}
