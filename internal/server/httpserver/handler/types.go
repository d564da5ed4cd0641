package handler

import (
	"time"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
)

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics and file downloads).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// CreateOrderRequest is the request body for POST /orders.
type CreateOrderRequest = service.CreateOrderRequest

// UpdateStatusRequest is the optional body of PUT /orders/{id}/status.
// Query parameters take precedence.
type UpdateStatusRequest struct {
	Status    string `json:"status"`
	PaymentID string `json:"payment_id,omitempty"`
}

// OrderResponse is an order together with the result of the delivery run
// the request triggered, if any.
type OrderResponse struct {
	Order    *domain.Order           `json:"order"`
	Delivery *service.DeliveryResult `json:"delivery,omitempty"`
}

// ListOrdersResponse is the response body for GET /users/{user_id}/orders.
type ListOrdersResponse struct {
	Orders []*domain.Order `json:"orders"`
	Total  int             `json:"total"`
}

// RenotifyResponse is the response body for POST /orders/{id}/notify.
type RenotifyResponse struct {
	Notified int `json:"notified"`
}

// SweepRequest is the optional body of POST /admin/v1/tokens/sweep.
type SweepRequest struct {
	// Before removes tokens that expired before this Unix millisecond
	// timestamp. Zero applies the configured retention.
	Before int64 `json:"before,omitempty"`
}

// SweepResponse is the response body for POST /admin/v1/tokens/sweep.
type SweepResponse struct {
	Removed     int    `json:"removed"`
	TriggeredAt string `json:"triggered_at"`
}
