package invoice

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates the escrow lifecycle of an invoice. Transitions are
// linear: DRAFT -> SENT -> PAID -> RELEASED, never backwards.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusSent     Status = "SENT"
	StatusPaid     Status = "PAID"
	StatusReleased Status = "RELEASED"
)

// Payable reports whether a payment intent may still be created.
func (s Status) Payable() bool {
	return s == StatusDraft || s == StatusSent
}

// ChainRecord holds the chain-origin fields filled in after a mint.
// The fields are written together, at most once per invoice. Stub marks a
// record minted while the chain was unconfigured or unreachable.
type ChainRecord struct {
	TokenID uint64
	TxHash  string
	Stub    bool
}

// Invoice mirrors the invoices table columns touched by the escrow core.
type Invoice struct {
	ID              string
	ClientID        string
	FreelancerID    string
	Amount          decimal.Decimal
	Currency        string
	Status          Status
	PaymentIntentID *string
	Chain           *ChainRecord
	ReleasedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MinorUnits converts the decimal amount into integer minor units (cents).
// Banker's rounding keeps the conversion deterministic across retries.
func (i Invoice) MinorUnits() int64 {
	return i.Amount.Mul(decimal.NewFromInt(100)).RoundBank(0).IntPart()
}

// PaymentIntent is the processor-side handle returned to the payer.
type PaymentIntent struct {
	ID           string
	ClientSecret string
}
