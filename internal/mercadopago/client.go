// Package mercadopago is a thin client for the two MercadoPago endpoints the
// checkout flow needs: preference creation and authoritative payment lookup.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const Provider = "mercadopago"

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

type PreferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type Payer struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type PreferenceRequest struct {
	Items             []PreferenceItem `json:"items"`
	ExternalReference string           `json:"external_reference"`
	NotificationURL   string           `json:"notification_url"`
	BackURLs          BackURLs         `json:"back_urls"`
	AutoReturn        string           `json:"auto_return"`
	Payer             *Payer           `json:"payer,omitempty"`
}

// Preference is the provider-hosted checkout session. InitPoint is the
// redirect URL handed back to the buyer.
type Preference struct {
	ID        string          `json:"id"`
	InitPoint string          `json:"init_point"`
	Raw       json.RawMessage `json:"-"`
}

// Payment is the authoritative payment state fetched from the provider. Raw
// keeps the untouched response body for audit.
type Payment struct {
	ID                json.Number     `json:"id"`
	Status            string          `json:"status"`
	ExternalReference string          `json:"external_reference"`
	TransactionAmount float64         `json:"transaction_amount"`
	CurrencyID        string          `json:"currency_id"`
	DateLastUpdated   time.Time       `json:"date_last_updated"`
	Raw               json.RawMessage `json:"-"`
}

// AmountCents converts the provider's decimal amount to integer cents.
func (p Payment) AmountCents() int64 {
	return int64(p.TransactionAmount*100 + 0.5)
}

func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Preference{}, err
	}
	raw, err := c.do(ctx, http.MethodPost, "/checkout/preferences", body)
	if err != nil {
		return Preference{}, err
	}
	var pref Preference
	if err := json.Unmarshal(raw, &pref); err != nil {
		return Preference{}, fmt.Errorf("decode preference: %w", err)
	}
	if pref.ID == "" || pref.InitPoint == "" {
		return Preference{}, fmt.Errorf("preference response missing id or init_point")
	}
	pref.Raw = raw
	return pref, nil
}

// GetPayment retries transient failures a couple of times; the lookup is a
// pure read, unlike preference creation which must never be blindly retried.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	var raw []byte
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Payment{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
		}
		raw, err = c.do(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil)
		if err == nil || !retryable(err) {
			break
		}
	}
	if err != nil {
		return Payment{}, err
	}
	var p Payment
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payment{}, fmt.Errorf("decode payment %s: %w", paymentID, err)
	}
	p.Raw = raw
	return p, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mercadopago %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &statusError{method: method, path: path, code: res.StatusCode, body: snippet(raw)}
	}
	return raw, nil
}

type statusError struct {
	method, path, body string
	code               int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("mercadopago %s %s: status %d: %s", e.method, e.path, e.code, e.body)
}

// retryable: transport failures and provider 5xx. Client errors (404, 401) and
// context cancellation are final.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return true
}

func snippet(b []byte) string {
	if len(b) > 300 {
		b = b[:300]
	}
	return string(b)
}
