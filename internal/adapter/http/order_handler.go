package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/evgenyvinnik/checkout-api/internal/adapter/observ"
	"github.com/evgenyvinnik/checkout-api/internal/apperr"
	"github.com/evgenyvinnik/checkout-api/internal/audit"
	domain "github.com/evgenyvinnik/checkout-api/internal/entity"
	"github.com/evgenyvinnik/checkout-api/internal/logging"
	"github.com/evgenyvinnik/checkout-api/internal/usecase"
)

type OrderHandler struct {
	checkout *usecase.Checkout
	payments *usecase.PaymentOrchestrator
	cancel   *usecase.CancelOrder
	status   *usecase.UpdateOrderStatus
	stats    *usecase.RetentionStatsQuery
	query    usecase.OrderRepo
	cache    usecase.StatusCache // optional
}

func NewOrderHandler(checkout *usecase.Checkout, payments *usecase.PaymentOrchestrator,
	cancel *usecase.CancelOrder, status *usecase.UpdateOrderStatus,
	stats *usecase.RetentionStatsQuery, query usecase.OrderRepo, cache usecase.StatusCache) *OrderHandler {
	return &OrderHandler{
		checkout: checkout,
		payments: payments,
		cancel:   cancel,
		status:   status,
		stats:    stats,
		query:    query,
		cache:    cache,
	}
}

type checkoutReq struct {
	UserID          string         `json:"userId" binding:"required"`
	ShippingAddress domain.Address `json:"shippingAddress" binding:"required"`
	BillingAddress  domain.Address `json:"billingAddress"`
	PaymentMethod   string         `json:"paymentMethod" binding:"required"`
	Notes           string         `json:"notes"`
}

type checkoutResp struct {
	Order    *domain.Order           `json:"order"`
	Items    []domain.OrderItem      `json:"items"`
	Payment  *usecase.PaymentOutcome `json:"payment,omitempty"`
	Replayed bool                    `json:"replayed,omitempty"`
	Degraded bool                    `json:"degradedIdempotency,omitempty"`
}

// Checkout converts the caller's cart into an order, exactly once per
// idempotency key, then drives the payment attempt.
func (h *OrderHandler) Checkout(c *gin.Context) {
	var req checkoutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}

	idemKey := c.GetHeader("Idempotency-Key")
	if idemKey == "" {
		idemKey = c.GetHeader("X-Idempotency-Key")
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	out, err := h.checkout.Execute(ctx, usecase.CheckoutInput{
		UserID:          req.UserID,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
		IdempotencyKey:  idemKey,
		ClientIP:        c.ClientIP(),
		CorrelationID:   c.GetHeader("X-Request-Id"),
	})
	if err != nil {
		if errors.Is(err, apperr.ErrIdempotencyConflict) {
			observ.CheckoutResult("conflict")
			c.Header("Retry-After", "1")
			c.JSON(http.StatusConflict, gin.H{
				"error":      "request_in_flight",
				"detail":     "a request with this idempotency key is still processing",
				"retryAfter": 1,
			})
			return
		}
		observ.CheckoutResult(apperr.Kind(err))
		writeError(c, err)
		return
	}

	resp := checkoutResp{
		Order:    out.Order,
		Items:    out.Items,
		Replayed: out.Replayed,
		Degraded: out.DegradedIdempotency,
	}
	if out.Replayed {
		observ.CheckoutResult("replayed")
		c.JSON(http.StatusOK, resp)
		return
	}
	observ.CheckoutResult("created")

	outcome, err := h.payments.Process(ctx, out.Order, req.PaymentMethod)
	if err != nil {
		logging.From(c).Error("payment settle failed", "order_id", out.Order.ID, "err", err)
	} else {
		resp.Payment = &outcome
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *OrderHandler) GetOrderByID(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	o, err := h.query.GetByID(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	items, err := h.query.ItemsByOrderID(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	// Read-through: keep the status cache warm for cheap status polls.
	if h.cache != nil {
		if _, ok, _ := h.cache.GetStatus(ctx, id); !ok {
			_ = h.cache.SetStatus(ctx, id, string(o.Status))
		}
	}
	c.JSON(http.StatusOK, gin.H{"order": o, "items": items})
}

type cancelReq struct {
	UserID string `json:"userId" binding:"required"`
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	var req cancelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	actor := audit.Actor{Type: audit.ActorUser, ID: req.UserID}
	rc := audit.RequestContext{IP: c.ClientIP(), CorrelationID: c.GetHeader("X-Request-Id")}
	o, err := h.cancel.Execute(ctx, c.Param("id"), actor, rc)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

type updateStatusReq struct {
	Status string `json:"status" binding:"required"`
}

func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	actor := audit.Actor{Type: audit.ActorAdmin, ID: clientID(c)}
	rc := audit.RequestContext{IP: c.ClientIP(), CorrelationID: c.GetHeader("X-Request-Id")}
	o, err := h.status.Execute(ctx, c.Param("id"), domain.OrderStatus(req.Status), actor, rc)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

func (h *OrderHandler) RetentionStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	out, err := h.stats.Execute(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.From(c).Error("request failed", "err", err)
		c.JSON(status, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(status, gin.H{"error": apperr.Kind(err), "detail": err.Error()})
}

func clientID(c *gin.Context) string {
	if v, ok := c.Get("clientID"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
