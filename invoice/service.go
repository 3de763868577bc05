package invoice

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidState signals the operation is not legal in the invoice's
	// current status.
	ErrInvalidState = errors.New("invoice: invalid state for operation")
	// ErrSimulationDisabled signals the simulated-confirmation escape hatch
	// is not enabled for this deployment.
	ErrSimulationDisabled = errors.New("invoice: simulated confirmation disabled")
)

// IntentCreator creates a payment intent with the external processor.
// Implemented by payment.Client; declared here so the state machine does not
// depend on the processor package.
type IntentCreator interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency, invoiceID string) (PaymentIntent, error)
}

// Service owns invoice status transitions.
type Service struct {
	repo          Repository
	intents       IntentCreator
	allowSimulate bool
}

// NewService creates the escrow state machine service. allowSimulate gates
// SimulateConfirm; the transport layer is additionally expected to restrict
// it to operators.
func NewService(repo Repository, intents IntentCreator, allowSimulate bool) *Service {
	return &Service{
		repo:          repo,
		intents:       intents,
		allowSimulate: allowSimulate,
	}
}

// Get retrieves an invoice.
func (s *Service) Get(ctx context.Context, invoiceID string) (Invoice, error) {
	return s.repo.Get(ctx, invoiceID)
}

// Exists reports whether the invoice is known. Used by the dispute engine to
// validate references without importing repository internals.
func (s *Service) Exists(ctx context.Context, invoiceID string) (bool, error) {
	_, err := s.repo.Get(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreatePaymentIntent asks the processor for an intent covering the invoice
// amount and records the returned intent id. The invoice status is left
// untouched; only a confirmed processor event moves it to PAID.
func (s *Service) CreatePaymentIntent(ctx context.Context, invoiceID string) (PaymentIntent, error) {
	inv, err := s.repo.Get(ctx, invoiceID)
	if err != nil {
		return PaymentIntent{}, err
	}
	if !inv.Status.Payable() {
		return PaymentIntent{}, fmt.Errorf("%w: status %s", ErrInvalidState, inv.Status)
	}

	currency := strings.ToLower(inv.Currency)
	intent, err := s.intents.CreateIntent(ctx, inv.MinorUnits(), currency, inv.ID)
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("invoice: create payment intent: %w", err)
	}

	if _, err := s.repo.SetPaymentIntent(ctx, inv.ID, intent.ID); err != nil {
		return PaymentIntent{}, err
	}
	return intent, nil
}

// ConfirmPaymentByIntent marks the invoice matching the external intent id as
// PAID. Confirmation is idempotent: an invoice already PAID or RELEASED is
// returned unchanged. Callers must key this by the processor's intent id;
// spoofed invoice ids never reach this path.
func (s *Service) ConfirmPaymentByIntent(ctx context.Context, intentID string) (Invoice, error) {
	inv, err := s.repo.GetByPaymentIntent(ctx, intentID)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status == StatusPaid || inv.Status == StatusReleased {
		return inv, nil
	}

	paid, err := s.repo.MarkPaid(ctx, inv.ID)
	if err != nil {
		// A concurrent confirmation may have won the status guard; the
		// invoice being PAID already is still a success for this caller.
		if errors.Is(err, ErrInvalidState) {
			return s.repo.Get(ctx, inv.ID)
		}
		return Invoice{}, err
	}
	return paid, nil
}

// SimulateConfirm marks a payable invoice as PAID without the processor.
// It shares CreatePaymentIntent's precondition and is refused entirely
// unless the deployment enables it.
func (s *Service) SimulateConfirm(ctx context.Context, invoiceID string) (Invoice, error) {
	if !s.allowSimulate {
		return Invoice{}, ErrSimulationDisabled
	}

	inv, err := s.repo.Get(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if !inv.Status.Payable() {
		return Invoice{}, fmt.Errorf("%w: status %s", ErrInvalidState, inv.Status)
	}
	return s.repo.MarkPaid(ctx, inv.ID)
}

// ReleaseEscrow moves a PAID invoice to RELEASED and stamps released_at.
func (s *Service) ReleaseEscrow(ctx context.Context, invoiceID string) (Invoice, error) {
	inv, err := s.repo.Get(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status != StatusPaid {
		return Invoice{}, fmt.Errorf("%w: status %s", ErrInvalidState, inv.Status)
	}
	return s.repo.MarkReleased(ctx, inv.ID)
}

// AttachChainRecord persists mint results onto the invoice. Used by the
// chain gateway; a record already present is reported as ErrChainRecordSet.
func (s *Service) AttachChainRecord(ctx context.Context, invoiceID string, tokenID uint64, txHash string, stub bool) error {
	return s.repo.AttachChainRecord(ctx, invoiceID, tokenID, txHash, stub)
}
