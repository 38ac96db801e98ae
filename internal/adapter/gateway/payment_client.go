// Package gateway holds the HTTP client for the external payment provider.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/evgenyvinnik/checkout-api/internal/apperr"
	"github.com/evgenyvinnik/checkout-api/internal/usecase"
)

// PaymentClient talks to the payment provider over HTTP JSON.
type PaymentClient struct {
	client  *http.Client
	baseURL string
}

var _ usecase.PaymentGateway = (*PaymentClient)(nil)

func NewPaymentClient(baseURL string, timeout time.Duration) *PaymentClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PaymentClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type chargeResponse struct {
	Approved      bool   `json:"approved"`
	TransactionID string `json:"transactionId,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Charge POSTs the charge request.
// 200: decision made, approved or declined in the body.
// 4xx/5xx: provider fault, surfaced as an error.
func (c *PaymentClient) Charge(ctx context.Context, ch usecase.Charge) (usecase.ChargeResult, error) {
	u, err := url.JoinPath(c.baseURL, "v1", "charges")
	if err != nil {
		return usecase.ChargeResult{}, err
	}

	body, err := json.Marshal(ch)
	if err != nil {
		return usecase.ChargeResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return usecase.ChargeResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return usecase.ChargeResult{}, &apperr.DependencyTimeoutError{Dependency: "payment-gateway", Err: err}
		}
		return usecase.ChargeResult{}, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var cr chargeResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return usecase.ChargeResult{}, err
		}
		return usecase.ChargeResult{
			Approved:      cr.Approved,
			TransactionID: cr.TransactionID,
			Reason:        cr.Reason,
		}, nil
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return usecase.ChargeResult{}, &apperr.DependencyTimeoutError{
			Dependency: "payment-gateway",
			Err:        fmt.Errorf("status %d", resp.StatusCode),
		}
	default:
		return usecase.ChargeResult{}, fmt.Errorf("payment gateway status %d", resp.StatusCode)
	}
}
