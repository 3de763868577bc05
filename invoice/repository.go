package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound signals that no invoice row exists for the identifier.
	ErrNotFound = errors.New("invoice: not found")
	// ErrChainRecordSet signals the chain record was already persisted.
	ErrChainRecordSet = errors.New("invoice: chain record already set")
)

// Repository defines the data access required by the escrow state machine.
type Repository interface {
	Get(ctx context.Context, id string) (Invoice, error)
	GetByPaymentIntent(ctx context.Context, intentID string) (Invoice, error)
	SetPaymentIntent(ctx context.Context, id, intentID string) (Invoice, error)
	MarkPaid(ctx context.Context, id string) (Invoice, error)
	MarkReleased(ctx context.Context, id string) (Invoice, error)
	AttachChainRecord(ctx context.Context, id string, tokenID uint64, txHash string, stub bool) error
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed invoice repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const invoiceColumns = `id, client_id, freelancer_id, amount, currency, status::text, payment_intent_id, token_id, onchain_tx_hash, onchain_stub, released_at, created_at, updated_at`

// Get retrieves an invoice by its identifier.
func (r *PGRepository) Get(ctx context.Context, id string) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrNotFound
		}
		return Invoice{}, fmt.Errorf("invoice: get: %w", err)
	}
	return inv, nil
}

// GetByPaymentIntent looks an invoice up by the external intent reference.
// Reconciliation trusts only this lookup, never a caller-supplied invoice id.
func (r *PGRepository) GetByPaymentIntent(ctx context.Context, intentID string) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE payment_intent_id = $1`, intentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrNotFound
		}
		return Invoice{}, fmt.Errorf("invoice: get by payment intent: %w", err)
	}
	return inv, nil
}

// SetPaymentIntent records the external intent id while the invoice is still
// payable. The status guard in the UPDATE makes concurrent confirmations and
// intent creation serialize without an application-level lock.
func (r *PGRepository) SetPaymentIntent(ctx context.Context, id, intentID string) (Invoice, error) {
	const updateSQL = `
		UPDATE invoices
		SET payment_intent_id = $2, updated_at = now()
		WHERE id = $1 AND status IN ('DRAFT', 'SENT')
		RETURNING ` + invoiceColumns

	inv, err := scanInvoice(r.pool.QueryRow(ctx, updateSQL, id, intentID))
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, fmt.Errorf("invoice: set payment intent: %w", err)
	}
	return Invoice{}, r.classifyMissedUpdate(ctx, id)
}

// MarkPaid advances a payable invoice to PAID.
func (r *PGRepository) MarkPaid(ctx context.Context, id string) (Invoice, error) {
	const updateSQL = `
		UPDATE invoices
		SET status = 'PAID', updated_at = now()
		WHERE id = $1 AND status IN ('DRAFT', 'SENT')
		RETURNING ` + invoiceColumns

	inv, err := scanInvoice(r.pool.QueryRow(ctx, updateSQL, id))
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, fmt.Errorf("invoice: mark paid: %w", err)
	}
	return Invoice{}, r.classifyMissedUpdate(ctx, id)
}

// MarkReleased advances a PAID invoice to RELEASED and stamps released_at.
// Two racing releases cannot both match the status guard, so at most one wins.
func (r *PGRepository) MarkReleased(ctx context.Context, id string) (Invoice, error) {
	const updateSQL = `
		UPDATE invoices
		SET status = 'RELEASED', released_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'PAID'
		RETURNING ` + invoiceColumns

	inv, err := scanInvoice(r.pool.QueryRow(ctx, updateSQL, id))
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, fmt.Errorf("invoice: mark released: %w", err)
	}
	return Invoice{}, r.classifyMissedUpdate(ctx, id)
}

// AttachChainRecord persists the minted token alongside its transaction hash.
// The token_id IS NULL guard guarantees at-most-once persistence even when
// two mint requests race.
func (r *PGRepository) AttachChainRecord(ctx context.Context, id string, tokenID uint64, txHash string, stub bool) error {
	const updateSQL = `
		UPDATE invoices
		SET token_id = $2, onchain_tx_hash = $3, onchain_stub = $4, updated_at = now()
		WHERE id = $1 AND token_id IS NULL
	`

	tag, err := r.pool.Exec(ctx, updateSQL, id, int64(tokenID), txHash, stub)
	if err != nil {
		return fmt.Errorf("invoice: attach chain record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("invoice: attach chain record probe: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrChainRecordSet
	}
	return nil
}

// classifyMissedUpdate distinguishes a missing row from a status-guard miss
// after a zero-row conditional update.
func (r *PGRepository) classifyMissedUpdate(ctx context.Context, id string) error {
	var status Status
	if err := r.pool.QueryRow(ctx, `SELECT status::text FROM invoices WHERE id = $1`, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("invoice: status probe: %w", err)
	}
	return fmt.Errorf("%w: status %s", ErrInvalidState, status)
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		inv      Invoice
		amount   decimal.Decimal
		intentID *string
		tokenID  *int64
		txHash   *string
		stub     bool
		released *time.Time
	)
	err := row.Scan(
		&inv.ID,
		&inv.ClientID,
		&inv.FreelancerID,
		&amount,
		&inv.Currency,
		&inv.Status,
		&intentID,
		&tokenID,
		&txHash,
		&stub,
		&released,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return Invoice{}, err
	}

	inv.Amount = amount
	inv.PaymentIntentID = intentID
	inv.ReleasedAt = released
	if tokenID != nil && txHash != nil {
		inv.Chain = &ChainRecord{TokenID: uint64(*tokenID), TxHash: *txHash, Stub: stub}
	}
	return inv, nil
}
