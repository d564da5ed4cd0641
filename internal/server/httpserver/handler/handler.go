package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
	"github.com/yndnr/tokvault-go/internal/telemetry/logger"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Config wires the services behind the HTTP API.
type Config struct {
	Orders   *service.OrderService
	Download *service.DownloadService
	Sweeper  *service.Sweeper

	// Ready reports whether dependencies can serve traffic. Nil is always ready.
	Ready func(ctx context.Context) error

	// Status adds fields to the admin status summary.
	Status func() map[string]any

	Logger *slog.Logger
}

// Handler is the main HTTP handler that routes requests to appropriate handlers.
type Handler struct {
	orders   *service.OrderService
	download *service.DownloadService
	sweeper  *service.Sweeper
	ready    func(ctx context.Context) error
	status   func() map[string]any
	logger   *slog.Logger
	mux      *http.ServeMux
}

// New creates a new Handler with the given services.
func New(cfg *Config) *Handler {
	h := &Handler{
		orders:   cfg.Orders,
		download: cfg.Download,
		sweeper:  cfg.Sweeper,
		ready:    cfg.Ready,
		status:   cfg.Status,
		logger:   cfg.Logger,
		mux:      http.NewServeMux(),
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}

	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	h.mux.HandleFunc("GET /download/{token}", h.handleDownload)
	h.mux.HandleFunc("HEAD /download/{token}", h.handleDownloadHead)

	h.mux.HandleFunc("POST /orders", h.handleCreateOrder)
	h.mux.HandleFunc("GET /orders/{id}", h.handleGetOrder)
	h.mux.HandleFunc("PUT /orders/{id}/status", h.handleUpdateOrderStatus)
	h.mux.HandleFunc("POST /orders/{id}/deliver", h.handleRedeliver)
	h.mux.HandleFunc("POST /orders/{id}/notify", h.handleRenotify)
	h.mux.HandleFunc("GET /users/{user_id}/orders", h.handleListUserOrders)

	h.mux.HandleFunc("GET /admin/v1/status/summary", h.handleAdminStatus)
	h.mux.HandleFunc("POST /admin/v1/tokens/sweep", h.handleSweep)
	h.mux.HandleFunc("GET /admin/v1/tokens/{token}", h.handleInspectToken)
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	response := NewResponse(logger.RequestIDFromContext(r.Context()), data)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	response := NewErrorResponse(logger.RequestIDFromContext(r.Context()), code, message, details)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// handleServiceError converts service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if domain.IsDomainError(err, "") {
		code := domain.GetErrorCode(err)
		status := errorCodeToHTTPStatus(code)
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "1")
		}
		if status >= 500 {
			logger.L(r.Context()).Error("request failed", "error", err)
		}
		h.writeError(w, r, status, code, err.Error(), nil)
		return
	}

	logger.L(r.Context()).Error("internal error", "error", err)
	h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternalServer.Code, "internal server error", nil)
}

// errorCodeToHTTPStatus maps error codes to HTTP status codes.
func errorCodeToHTTPStatus(code string) int {
	switch {
	case strings.HasSuffix(code, "-5030"), strings.HasSuffix(code, "-5031"):
		return http.StatusServiceUnavailable
	case strings.HasSuffix(code, "-4040"), strings.HasSuffix(code, "-4041"), strings.HasSuffix(code, "-4042"):
		return http.StatusNotFound
	case strings.HasSuffix(code, "-4090"), strings.HasSuffix(code, "-4091"):
		return http.StatusConflict
	case strings.HasSuffix(code, "-4290"):
		return http.StatusTooManyRequests
	case strings.HasSuffix(code, "-4000"), strings.HasSuffix(code, "-4001"):
		return http.StatusBadRequest
	case strings.HasSuffix(code, "-4010"), strings.HasSuffix(code, "-4011"):
		return http.StatusUnauthorized
	case strings.HasSuffix(code, "-4030"):
		return http.StatusForbidden
	case strings.HasPrefix(code, "TV-ARG-"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
