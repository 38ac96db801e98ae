package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evgenyvinnik/checkout-api/internal/apperr"
	"github.com/evgenyvinnik/checkout-api/internal/usecase"
)

func testCharge() usecase.Charge {
	return usecase.Charge{
		OrderID:     "o-1",
		UserID:      "u-1",
		AmountCents: 2759,
		Currency:    "USD",
		Method:      "card",
	}
}

func TestChargeApproved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/charges", r.URL.Path)

		var ch usecase.Charge
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ch))
		require.Equal(t, int64(2759), ch.AmountCents)

		json.NewEncoder(w).Encode(chargeResponse{Approved: true, TransactionID: "tx-9"})
	}))
	defer srv.Close()

	c := NewPaymentClient(srv.URL, time.Second)
	res, err := c.Charge(context.Background(), testCharge())
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, "tx-9", res.TransactionID)
}

func TestChargeDeclinedIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chargeResponse{Approved: false, Reason: "insufficient_funds"})
	}))
	defer srv.Close()

	c := NewPaymentClient(srv.URL, time.Second)
	res, err := c.Charge(context.Background(), testCharge())
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, "insufficient_funds", res.Reason)
}

func TestChargeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewPaymentClient(srv.URL, time.Second)
	_, err := c.Charge(context.Background(), testCharge())
	assert.Error(t, err)
}

func TestChargeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewPaymentClient(srv.URL, 20*time.Millisecond)
	_, err := c.Charge(context.Background(), testCharge())
	require.Error(t, err)

	var te *apperr.DependencyTimeoutError
	assert.True(t, errors.As(err, &te), "timeout should map to DependencyTimeoutError, got %v", err)
}
