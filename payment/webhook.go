package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"

	"gigflow/invoice"
)

// EventTypePaymentSucceeded is the processor event the adapter reconciles.
const EventTypePaymentSucceeded = "payment_intent.succeeded"

// Confirmer marks an invoice as paid by its external intent id.
type Confirmer interface {
	ConfirmPaymentByIntent(ctx context.Context, intentID string) (invoice.Invoice, error)
}

// EventStore records processor event ids so retried deliveries of an
// already-applied event are dropped. Release undoes a reservation whose
// processing failed, so the processor's retry can run it again.
type EventStore interface {
	MarkProcessed(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

// Ack is the acknowledgment returned to the processor. Received is false only
// when the event should be retried; the transport always answers 200.
type Ack struct {
	Received bool `json:"received"`
}

// Event is the subset of the processor's webhook payload the adapter reads.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

// WebhookHandler reconciles processor events into the escrow state machine.
type WebhookHandler struct {
	invoices      Confirmer
	events        EventStore
	signingSecret string
}

// NewWebhookHandler creates the reconciliation adapter. An empty
// signingSecret disables signature verification; the parsed payload is then
// trusted as-is, which is acceptable only in development.
func NewWebhookHandler(invoices Confirmer, events EventStore, signingSecret string) *WebhookHandler {
	return &WebhookHandler{
		invoices:      invoices,
		events:        events,
		signingSecret: signingSecret,
	}
}

// HandleEvent verifies and applies one raw webhook delivery. Verification
// and parse failures are swallowed into a negative Ack so the processor's
// retry loop stays the source of eventual consistency.
func (h *WebhookHandler) HandleEvent(ctx context.Context, rawBody []byte, signature string) Ack {
	if h.signingSecret != "" && !verifySignature(rawBody, signature, h.signingSecret) {
		return Ack{Received: false}
	}

	var evt Event
	if err := json.Unmarshal(rawBody, &evt); err != nil {
		return Ack{Received: false}
	}
	if evt.Type != EventTypePaymentSucceeded {
		// Not a payment confirmation; acknowledged so it is not redelivered.
		return Ack{Received: true}
	}
	intentID := evt.Data.Object.ID
	if intentID == "" {
		return Ack{Received: false}
	}

	reserved := false
	if h.events != nil && evt.ID != "" {
		if err := h.events.MarkProcessed(ctx, evt.ID); err != nil {
			if errors.Is(err, ErrEventAlreadyProcessed) {
				return Ack{Received: true}
			}
			log.Printf("payment: record webhook event %s: %v", evt.ID, err)
		} else {
			reserved = true
		}
	}

	if _, err := h.invoices.ConfirmPaymentByIntent(ctx, intentID); err != nil {
		// An unknown intent may be a retried delivery for an intent that was
		// never persisted. Acknowledge and drop.
		if errors.Is(err, invoice.ErrNotFound) {
			return Ack{Received: true}
		}
		// The confirm may succeed on redelivery; the reservation must not
		// swallow that retry.
		if reserved {
			if relErr := h.events.Release(ctx, evt.ID); relErr != nil {
				log.Printf("payment: release webhook event %s: %v", evt.ID, relErr)
			}
		}
		log.Printf("payment: confirm intent %s: %v", intentID, err)
		return Ack{Received: false}
	}
	return Ack{Received: true}
}

// verifySignature checks an HMAC-SHA256 hex signature over the exact raw
// bytes received.
func verifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, sigBytes)
}
