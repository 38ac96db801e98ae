package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evgenyvinnik/checkout-api/internal/audit"
	"github.com/evgenyvinnik/checkout-api/internal/idempotency"
	"github.com/evgenyvinnik/checkout-api/internal/retry"
	"github.com/evgenyvinnik/checkout-api/internal/usecase"
)

// busyIdemStore reports every key as claimed by an in-flight request.
type busyIdemStore struct{}

func (busyIdemStore) Create(context.Context, idempotency.Record, time.Duration) (bool, error) {
	return false, nil
}

func (busyIdemStore) Get(_ context.Context, key string) (*idempotency.Record, bool, error) {
	return &idempotency.Record{Key: key, Status: idempotency.StatusProcessing}, true, nil
}

func (busyIdemStore) Reclaim(context.Context, idempotency.Record) (bool, error) {
	return false, nil
}

func (busyIdemStore) UpdateOwned(context.Context, idempotency.Record) (bool, error) {
	return false, nil
}

func (busyIdemStore) Delete(context.Context, string) error { return nil }

type noTxStore struct{}

func (noTxStore) InTx(context.Context, func(usecase.CheckoutTx) error) error { return nil }

type discardAuditRepo struct{}

func (discardAuditRepo) Insert(context.Context, *audit.Entry) error { return nil }

func (discardAuditRepo) Select(context.Context, audit.Filters) ([]audit.Entry, int64, error) {
	return nil, 0, nil
}

func (discardAuditRepo) SelectTrail(context.Context, string, string) ([]audit.Entry, error) {
	return nil, nil
}

func TestCheckoutConflictCarriesRetryAfterInBody(t *testing.T) {
	gin.SetMode(gin.TestMode)

	idem := idempotency.NewManager(busyIdemStore{}, nil, time.Hour, slog.Default())
	checkoutUC := usecase.NewCheckout(noTxStore{}, idem,
		audit.NewLogger(discardAuditRepo{}, slog.Default()), usecase.Pricing{Currency: "USD"},
		retry.Database(), slog.Default())
	h := NewOrderHandler(checkoutUC, nil, nil, nil, nil, nil, nil)

	engine := gin.New()
	engine.POST("/v1/orders", h.Checkout)

	body := `{"userId":"u-1","paymentMethod":"card",
		"shippingAddress":{"street":"1 Main St","city":"Springfield","postalCode":"12345","country":"US"}}`
	req := httptest.NewRequest("POST", "/v1/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "dup-1")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, 409, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	var resp struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retryAfter"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "request_in_flight", resp.Error)
	assert.Equal(t, 1, resp.RetryAfter, "the body mirrors the Retry-After header")
}
