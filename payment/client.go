package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"gigflow/invoice"
)

const defaultBaseURL = "https://api.processor.example.com"

// Client talks to the external payment processor. With no secret key
// configured it runs in offline mode and fabricates local intents; that mode
// exists for development only and provides no payment guarantees.
type Client struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a processor client. An empty secretKey enables offline
// mode.
func NewClient(secretKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Offline reports whether the client fabricates intents locally.
func (c *Client) Offline() bool {
	return c.secretKey == ""
}

type createIntentRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

type createIntentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// CreateIntent registers a payment intent for the given minor-unit amount.
// Satisfies invoice.IntentCreator.
func (c *Client) CreateIntent(ctx context.Context, amountMinor int64, currency, invoiceID string) (invoice.PaymentIntent, error) {
	if c.Offline() {
		id := "pi_offline_" + uuid.NewString()
		return invoice.PaymentIntent{ID: id, ClientSecret: id + "_secret"}, nil
	}

	body, err := json.Marshal(createIntentRequest{
		Amount:   amountMinor,
		Currency: currency,
		Metadata: map[string]string{"invoice_id": invoiceID},
	})
	if err != nil {
		return invoice.PaymentIntent{}, fmt.Errorf("payment: marshal intent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payment_intents", bytes.NewReader(body))
	if err != nil {
		return invoice.PaymentIntent{}, fmt.Errorf("payment: build intent request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return invoice.PaymentIntent{}, fmt.Errorf("payment: create intent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return invoice.PaymentIntent{}, fmt.Errorf("payment: create intent: processor returned %d: %s", resp.StatusCode, msg)
	}

	var out createIntentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return invoice.PaymentIntent{}, fmt.Errorf("payment: decode intent response: %w", err)
	}
	if out.ID == "" || out.ClientSecret == "" {
		return invoice.PaymentIntent{}, fmt.Errorf("payment: processor returned incomplete intent")
	}
	return invoice.PaymentIntent{ID: out.ID, ClientSecret: out.ClientSecret}, nil
}
