// Package httpapi exposes the checkout coordinator over HTTP: session
// creation, state snapshots, retry, the gateway status webhook, and the
// banking QR payload.
package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"ticket-checkout/internal/booking"
	"ticket-checkout/internal/channel"
	"ticket-checkout/internal/checkout"
)

type Handlers struct {
	manager   *checkout.Manager
	booker    *booking.RedisBooker
	publisher channel.Publisher
	pubnub    channel.Pubnub // nil when running against the simulator
}

func NewHandlers(manager *checkout.Manager, booker *booking.RedisBooker, publisher channel.Publisher, pubnub channel.Pubnub) *Handlers {
	return &Handlers{manager: manager, booker: booker, publisher: publisher, pubnub: pubnub}
}

func SetupRoutes(e *echo.Echo, h *Handlers) {
	api := e.Group("/api/v1")

	// Checkout sessions
	api.POST("/checkout", h.CreateCheckout)
	api.GET("/checkout/:id", h.GetCheckout)
	api.POST("/checkout/:id/retry", h.RetryCheckout)
	api.DELETE("/checkout/:id", h.CancelCheckout)
	api.GET("/checkout/:id/qr", h.GetQR)

	// Gateway webhook
	api.POST("/payments/:reservationId/status", h.PaymentStatusWebhook)

	// Client channel auth
	api.GET("/channel/token", h.GetChannelToken)

	// Show administration
	api.POST("/shows/:showId/stock", h.SetStock)
}

type createCheckoutRequest struct {
	CustomerID string              `json:"customer_id"`
	ShowID     string              `json:"show_id"`
	Items      []checkout.LineItem `json:"items"`
	Recipient  string              `json:"recipient,omitempty"`
}

type checkoutResponse struct {
	SessionID string            `json:"session_id"`
	State     checkout.Snapshot `json:"state"`
}

func (h *Handlers) CreateCheckout(c echo.Context) error {
	var req createCheckoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if req.ShowID == "" || len(req.Items) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "show_id and items are required"})
	}

	sessionID, coord, err := h.manager.Create(req.CustomerID)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}

	err = coord.Checkout(c.Request().Context(), checkout.Request{
		ShowID:    req.ShowID,
		Items:     req.Items,
		Recipient: req.Recipient,
	})
	if errors.Is(err, checkout.ErrInventoryUnavailable) {
		return c.JSON(http.StatusConflict, checkoutResponse{SessionID: sessionID, State: coord.Snapshot()})
	}
	if err != nil {
		slog.Error(fmt.Sprintf("coord.Checkout(showID: %v)", req.ShowID), "error", err)
		h.manager.Delete(sessionID)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, checkoutResponse{SessionID: sessionID, State: coord.Snapshot()})
}

func (h *Handlers) GetCheckout(c echo.Context) error {
	coord, ok := h.manager.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	return c.JSON(http.StatusOK, checkoutResponse{SessionID: c.Param("id"), State: coord.Snapshot()})
}

func (h *Handlers) RetryCheckout(c echo.Context) error {
	sessionID := c.Param("id")
	coord, ok := h.manager.Get(sessionID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	err := coord.Retry(c.Request().Context())
	if errors.Is(err, checkout.ErrInvalidTransition) {
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	if errors.Is(err, checkout.ErrInventoryUnavailable) {
		return c.JSON(http.StatusConflict, checkoutResponse{SessionID: sessionID, State: coord.Snapshot()})
	}
	if err != nil {
		slog.Error(fmt.Sprintf("coord.Retry(sessionID: %v)", sessionID), "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, checkoutResponse{SessionID: sessionID, State: coord.Snapshot()})
}

func (h *Handlers) CancelCheckout(c echo.Context) error {
	h.manager.Delete(c.Param("id"))
	return c.JSON(http.StatusOK, "success")
}

func (h *Handlers) GetQR(c echo.Context) error {
	coord, ok := h.manager.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	snap := coord.Snapshot()
	if snap.Instructions == nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": "no payment instructions yet"})
	}

	return c.JSON(http.StatusOK, QRPayload(snap.Instructions))
}

type statusWebhookRequest struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
}

// PaymentStatusWebhook lets the gateway (or an operator) push a status
// event onto a reservation's channel.
func (h *Handlers) PaymentStatusWebhook(c echo.Context) error {
	reservationID := c.Param("reservationId")
	if reservationID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "reservationId is empty"})
	}

	var req statusWebhookRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	ts := time.Now().UTC()
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "timestamp must be RFC 3339"})
		}
		ts = parsed
	}

	ev := checkout.StatusEvent{
		Type:      checkout.EventTypePaymentStatus,
		Status:    req.Status,
		Timestamp: ts,
	}
	if err := h.publisher.PublishStatus(c.Request().Context(), reservationID, ev); err != nil {
		slog.Error(fmt.Sprintf("publisher.PublishStatus(reservationID: %v)", reservationID), "error", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, "success")
}

func (h *Handlers) GetChannelToken(c echo.Context) error {
	if h.pubnub == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "push backend not configured"})
	}

	token, err := h.pubnub.GenGrantToken(c.Request().Context())
	if err != nil {
		slog.Error("pubnub.GenGrantToken()", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

type setStockRequest struct {
	TicketTypeID string `json:"ticket_type_id"`
	Quantity     int    `json:"quantity"`
	Price        int64  `json:"price"`
}

func (h *Handlers) SetStock(c echo.Context) error {
	showID := c.Param("showId")
	if showID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "showID is empty"})
	}

	var req setStockRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if req.TicketTypeID == "" || req.Quantity < 0 || req.Price < 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "ticket_type_id, quantity and price are required"})
	}

	if err := h.booker.SetStock(c.Request().Context(), showID, req.TicketTypeID, req.Quantity, req.Price); err != nil {
		slog.Error(fmt.Sprintf("booker.SetStock(showID: %v)", showID), "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, "success")
}
