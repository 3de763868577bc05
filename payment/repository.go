package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEventAlreadyProcessed signals the webhook event id was seen before.
var ErrEventAlreadyProcessed = errors.New("payment: event already processed")

// PGEventStore implements EventStore backed by PostgreSQL.
type PGEventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a PostgreSQL-backed webhook event ledger.
func NewEventStore(pool *pgxpool.Pool) *PGEventStore {
	return &PGEventStore{pool: pool}
}

// MarkProcessed reserves the event id. A duplicate insert hits the primary
// key and reports ErrEventAlreadyProcessed.
func (s *PGEventStore) MarkProcessed(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO payment_events (id) VALUES ($1)`, eventID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEventAlreadyProcessed
		}
		return fmt.Errorf("payment: mark event processed: %w", err)
	}
	return nil
}

// Release drops an event reservation whose processing failed, so the
// processor's redelivery is handled instead of deduplicated away.
func (s *PGEventStore) Release(ctx context.Context, eventID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM payment_events WHERE id = $1`, eventID); err != nil {
		return fmt.Errorf("payment: release event: %w", err)
	}
	return nil
}
