package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/yndnr/tokvault-go/internal/core/domain"
)

// handleCreateOrder handles POST /orders.
func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, domain.ErrBadRequest.Code, "invalid request body", nil)
		return
	}

	order, err := h.orders.Create(r.Context(), &req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, OrderResponse{Order: order})
}

// handleGetOrder handles GET /orders/{id}.
func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, OrderResponse{Order: order})
}

// handleListUserOrders handles GET /users/{user_id}/orders.
func (h *Handler) handleListUserOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListByUser(r.Context(), r.PathValue("user_id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	h.writeJSON(w, r, http.StatusOK, ListOrdersResponse{Orders: orders, Total: len(orders)})
}

// handleUpdateOrderStatus handles PUT /orders/{id}/status.
//
// The status may be passed as ?status=completed&payment_id=... or in a JSON
// body. Completing an order delivers its products.
func (h *Handler) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := UpdateStatusRequest{Status: q.Get("status"), PaymentID: q.Get("payment_id")}
	if req.Status == "" {
		if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, r, http.StatusBadRequest, domain.ErrBadRequest.Code, "invalid request body", nil)
			return
		}
	}
	if req.Status == "" {
		h.writeError(w, r, http.StatusBadRequest, domain.ErrInvalidArgument.Code, "status is required", nil)
		return
	}
	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	upd, err := h.orders.UpdateStatus(r.Context(), r.PathValue("id"), status, req.PaymentID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, OrderResponse{Order: upd.Order, Delivery: upd.Delivery})
}

// handleRedeliver handles POST /orders/{id}/deliver.
func (h *Handler) handleRedeliver(w http.ResponseWriter, r *http.Request) {
	upd, err := h.orders.Redeliver(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, OrderResponse{Order: upd.Order, Delivery: upd.Delivery})
}

// handleRenotify handles POST /orders/{id}/notify.
func (h *Handler) handleRenotify(w http.ResponseWriter, r *http.Request) {
	n, err := h.orders.Renotify(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusAccepted, RenotifyResponse{Notified: n})
}
