package invoice

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestService_CreatePaymentIntent(t *testing.T) {
	repo := newFakeRepository()
	repo.add(Invoice{ID: "inv-1", Status: StatusDraft, Amount: decimal.RequireFromString("120.00"), Currency: "USD"})
	intents := &fakeIntents{}
	svc := NewService(repo, intents, false)

	intent, err := svc.CreatePaymentIntent(context.Background(), "inv-1")
	if err != nil {
		t.Fatalf("create intent: unexpected error: %v", err)
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		t.Fatalf("expected populated intent, got %+v", intent)
	}
	if intents.lastAmount != 12000 {
		t.Fatalf("expected 12000 minor units, got %d", intents.lastAmount)
	}

	inv := repo.invoices["inv-1"]
	if inv.PaymentIntentID == nil || *inv.PaymentIntentID != intent.ID {
		t.Fatalf("expected intent id recorded on invoice, got %v", inv.PaymentIntentID)
	}
	if inv.Status != StatusDraft {
		t.Fatalf("create intent must not change status, got %s", inv.Status)
	}
}

func TestService_CreatePaymentIntentStatusGuard(t *testing.T) {
	for _, status := range []Status{StatusPaid, StatusReleased} {
		repo := newFakeRepository()
		repo.add(Invoice{ID: "inv-1", Status: status, Amount: decimal.New(50, 0)})
		svc := NewService(repo, &fakeIntents{}, false)

		if _, err := svc.CreatePaymentIntent(context.Background(), "inv-1"); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("status %s: expected ErrInvalidState, got %v", status, err)
		}
	}
}

func TestService_CreatePaymentIntentSentInvoice(t *testing.T) {
	repo := newFakeRepository()
	repo.add(Invoice{ID: "inv-1", Status: StatusSent, Amount: decimal.New(75, 0)})
	svc := NewService(repo, &fakeIntents{}, false)

	if _, err := svc.CreatePaymentIntent(context.Background(), "inv-1"); err != nil {
		t.Fatalf("sent invoice should be payable: %v", err)
	}
}

func TestService_ConfirmPaymentByIntent(t *testing.T) {
	repo := newFakeRepository()
	intentID := "pi_test_1"
	repo.add(Invoice{ID: "inv-1", Status: StatusSent, Amount: decimal.New(10, 0), PaymentIntentID: &intentID})
	svc := NewService(repo, &fakeIntents{}, false)

	inv, err := svc.ConfirmPaymentByIntent(context.Background(), intentID)
	if err != nil {
		t.Fatalf("confirm: unexpected error: %v", err)
	}
	if inv.Status != StatusPaid {
		t.Fatalf("expected PAID, got %s", inv.Status)
	}

	// Second delivery of the same event is a no-op, not an error.
	again, err := svc.ConfirmPaymentByIntent(context.Background(), intentID)
	if err != nil {
		t.Fatalf("idempotent confirm: unexpected error: %v", err)
	}
	if again.Status != StatusPaid {
		t.Fatalf("expected PAID after repeat confirm, got %s", again.Status)
	}
}

func TestService_ConfirmPaymentUnknownIntent(t *testing.T) {
	svc := NewService(newFakeRepository(), &fakeIntents{}, false)

	if _, err := svc.ConfirmPaymentByIntent(context.Background(), "pi_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestService_ReleaseEscrow(t *testing.T) {
	repo := newFakeRepository()
	repo.add(Invoice{ID: "inv-1", Status: StatusPaid, Amount: decimal.New(10, 0)})
	svc := NewService(repo, &fakeIntents{}, false)

	inv, err := svc.ReleaseEscrow(context.Background(), "inv-1")
	if err != nil {
		t.Fatalf("release: unexpected error: %v", err)
	}
	if inv.Status != StatusReleased {
		t.Fatalf("expected RELEASED, got %s", inv.Status)
	}
	if inv.ReleasedAt == nil {
		t.Fatal("expected released_at to be stamped")
	}
}

func TestService_ReleaseEscrowStatusGuard(t *testing.T) {
	for _, status := range []Status{StatusDraft, StatusSent, StatusReleased} {
		repo := newFakeRepository()
		repo.add(Invoice{ID: "inv-1", Status: status, Amount: decimal.New(10, 0)})
		svc := NewService(repo, &fakeIntents{}, false)

		if _, err := svc.ReleaseEscrow(context.Background(), "inv-1"); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("status %s: expected ErrInvalidState, got %v", status, err)
		}
	}
}

func TestService_SimulateConfirm(t *testing.T) {
	repo := newFakeRepository()
	repo.add(Invoice{ID: "inv-1", Status: StatusDraft, Amount: decimal.New(10, 0)})

	gated := NewService(repo, &fakeIntents{}, false)
	if _, err := gated.SimulateConfirm(context.Background(), "inv-1"); !errors.Is(err, ErrSimulationDisabled) {
		t.Fatalf("expected ErrSimulationDisabled, got %v", err)
	}

	svc := NewService(repo, &fakeIntents{}, true)
	inv, err := svc.SimulateConfirm(context.Background(), "inv-1")
	if err != nil {
		t.Fatalf("simulate: unexpected error: %v", err)
	}
	if inv.Status != StatusPaid {
		t.Fatalf("expected PAID, got %s", inv.Status)
	}

	if _, err := svc.SimulateConfirm(context.Background(), "inv-1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on paid invoice, got %v", err)
	}
}

func TestService_HappyPathScenario(t *testing.T) {
	repo := newFakeRepository()
	repo.add(Invoice{ID: "inv-1", Status: StatusDraft, Amount: decimal.RequireFromString("120.00"), Currency: "USD"})
	svc := NewService(repo, &fakeIntents{}, false)
	ctx := context.Background()

	intent, err := svc.CreatePaymentIntent(ctx, "inv-1")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if repo.invoices["inv-1"].Status != StatusDraft {
		t.Fatalf("status changed by intent creation")
	}

	if _, err := svc.ConfirmPaymentByIntent(ctx, intent.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if repo.invoices["inv-1"].Status != StatusPaid {
		t.Fatalf("expected PAID, got %s", repo.invoices["inv-1"].Status)
	}

	inv, err := svc.ReleaseEscrow(ctx, "inv-1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if inv.Status != StatusReleased || inv.ReleasedAt == nil {
		t.Fatalf("expected RELEASED with timestamp, got %+v", inv)
	}
}

func TestInvoice_MinorUnits(t *testing.T) {
	cases := []struct {
		amount string
		want   int64
	}{
		{"120.00", 12000},
		{"0", 0},
		{"19.99", 1999},
		{"0.005", 0},  // half-to-even rounds down to 0
		{"0.015", 2},  // half-to-even rounds up to 2
		{"10.555", 1056},
	}
	for _, c := range cases {
		inv := Invoice{Amount: decimal.RequireFromString(c.amount)}
		if got := inv.MinorUnits(); got != c.want {
			t.Fatalf("amount %s: expected %d minor units, got %d", c.amount, c.want, got)
		}
	}
}

type fakeIntents struct {
	lastAmount int64
	nextID     int
	err        error
}

func (f *fakeIntents) CreateIntent(ctx context.Context, amountMinor int64, currency, invoiceID string) (PaymentIntent, error) {
	if f.err != nil {
		return PaymentIntent{}, f.err
	}
	f.lastAmount = amountMinor
	f.nextID++
	id := fmt.Sprintf("pi_fake_%d", f.nextID)
	return PaymentIntent{ID: id, ClientSecret: id + "_secret"}, nil
}

// fakeRepository mimics the conditional-update semantics of the PostgreSQL
// repository so service tests exercise the same guard behavior.
type fakeRepository struct {
	invoices map[string]Invoice
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{invoices: make(map[string]Invoice)}
}

func (f *fakeRepository) add(inv Invoice) {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	inv.UpdatedAt = inv.CreatedAt
	f.invoices[inv.ID] = inv
}

func (f *fakeRepository) Get(ctx context.Context, id string) (Invoice, error) {
	inv, ok := f.invoices[id]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	return inv, nil
}

func (f *fakeRepository) GetByPaymentIntent(ctx context.Context, intentID string) (Invoice, error) {
	for _, inv := range f.invoices {
		if inv.PaymentIntentID != nil && *inv.PaymentIntentID == intentID {
			return inv, nil
		}
	}
	return Invoice{}, ErrNotFound
}

func (f *fakeRepository) SetPaymentIntent(ctx context.Context, id, intentID string) (Invoice, error) {
	inv, ok := f.invoices[id]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	if !inv.Status.Payable() {
		return Invoice{}, fmt.Errorf("%w: status %s", ErrInvalidState, inv.Status)
	}
	inv.PaymentIntentID = &intentID
	f.invoices[id] = inv
	return inv, nil
}

func (f *fakeRepository) MarkPaid(ctx context.Context, id string) (Invoice, error) {
	inv, ok := f.invoices[id]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	if !inv.Status.Payable() {
		return Invoice{}, fmt.Errorf("%w: status %s", ErrInvalidState, inv.Status)
	}
	inv.Status = StatusPaid
	f.invoices[id] = inv
	return inv, nil
}

func (f *fakeRepository) MarkReleased(ctx context.Context, id string) (Invoice, error) {
	inv, ok := f.invoices[id]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	if inv.Status != StatusPaid {
		return Invoice{}, fmt.Errorf("%w: status %s", ErrInvalidState, inv.Status)
	}
	now := time.Now().UTC()
	inv.Status = StatusReleased
	inv.ReleasedAt = &now
	f.invoices[id] = inv
	return inv, nil
}

func (f *fakeRepository) AttachChainRecord(ctx context.Context, id string, tokenID uint64, txHash string, stub bool) error {
	inv, ok := f.invoices[id]
	if !ok {
		return ErrNotFound
	}
	if inv.Chain != nil {
		return ErrChainRecordSet
	}
	inv.Chain = &ChainRecord{TokenID: tokenID, TxHash: txHash, Stub: stub}
	f.invoices[id] = inv
	return nil
}
