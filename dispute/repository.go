package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals that no dispute row exists for the identifier.
	ErrNotFound = errors.New("dispute: not found")
	// ErrOpenDisputeExists signals the invoice already has an unresolved dispute.
	ErrOpenDisputeExists = errors.New("dispute: unresolved dispute already open for invoice")
	// ErrDuplicateVote signals the user already voted on this dispute.
	ErrDuplicateVote = errors.New("dispute: user already voted")
	// ErrResolved signals the dispute was already resolved.
	ErrResolved = errors.New("dispute: already resolved")
	// ErrNoVotes signals an attempt to resolve a dispute without any votes.
	ErrNoVotes = errors.New("dispute: cannot resolve without votes")
)

// Repository defines the data access required by the resolution engine.
type Repository interface {
	Create(ctx context.Context, invoiceID, openerID, reason string) (Dispute, error)
	Get(ctx context.Context, id string) (Dispute, error)
	List(ctx context.Context) ([]Dispute, error)
	InsertVote(ctx context.Context, disputeID, userID string, choice Choice) error
	Resolve(ctx context.Context, id string) (Dispute, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed dispute repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const disputeColumns = `id, invoice_id, opener_id, reason, resolved, outcome, created_at, updated_at, resolved_at`

// Create inserts a new unresolved dispute. The partial unique index on
// (invoice_id) WHERE NOT resolved turns a second open into a 23505.
func (r *PGRepository) Create(ctx context.Context, invoiceID, openerID, reason string) (Dispute, error) {
	const insertSQL = `
		INSERT INTO disputes (invoice_id, opener_id, reason)
		VALUES ($1, $2, $3)
		RETURNING ` + disputeColumns

	d, err := scanDispute(r.pool.QueryRow(ctx, insertSQL, invoiceID, openerID, reason))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Dispute{}, ErrOpenDisputeExists
		}
		return Dispute{}, fmt.Errorf("dispute: create: %w", err)
	}
	return d, nil
}

// Get retrieves a dispute together with its votes.
func (r *PGRepository) Get(ctx context.Context, id string) (Dispute, error) {
	d, err := scanDispute(r.pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: get: %w", err)
	}

	votes, err := r.loadVotes(ctx, id)
	if err != nil {
		return Dispute{}, err
	}
	d.Votes = votes
	return d, nil
}

// List returns all disputes, newest first, with their votes.
func (r *PGRepository) List(ctx context.Context) ([]Dispute, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+disputeColumns+` FROM disputes ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Dispute, 0, 8)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}

	for i := range out {
		votes, err := r.loadVotes(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Votes = votes
	}
	return out, nil
}

// InsertVote appends a vote while the dispute is still unresolved. The
// guarded INSERT ... SELECT and the (dispute_id, user_id) primary key carry
// the race guarantees; no application lock is taken.
func (r *PGRepository) InsertVote(ctx context.Context, disputeID, userID string, choice Choice) error {
	const insertSQL = `
		INSERT INTO dispute_votes (dispute_id, user_id, choice)
		SELECT d.id, $2, $3
		FROM disputes d
		WHERE d.id = $1 AND NOT d.resolved
	`

	tag, err := r.pool.Exec(ctx, insertSQL, disputeID, userID, string(choice))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateVote
		}
		return fmt.Errorf("dispute: insert vote: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var resolved bool
	if err := r.pool.QueryRow(ctx, `SELECT resolved FROM disputes WHERE id = $1`, disputeID).Scan(&resolved); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("dispute: vote probe: %w", err)
	}
	if resolved {
		return ErrResolved
	}
	return fmt.Errorf("dispute: insert vote: no row written")
}

// Resolve tallies the votes and closes the dispute in one transaction. The
// row lock keeps two concurrent resolutions from both counting.
func (r *PGRepository) Resolve(ctx context.Context, id string) (Dispute, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin resolve: %w", err)
	}
	defer tx.Rollback(ctx)

	var resolved bool
	if err := tx.QueryRow(ctx, `SELECT resolved FROM disputes WHERE id = $1 FOR UPDATE`, id).Scan(&resolved); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: lock for resolve: %w", err)
	}
	if resolved {
		return Dispute{}, ErrResolved
	}

	var forVotes, againstVotes int
	const tallySQL = `
		SELECT
			COUNT(*) FILTER (WHERE choice = 'FOR'),
			COUNT(*) FILTER (WHERE choice = 'AGAINST')
		FROM dispute_votes
		WHERE dispute_id = $1
	`
	if err := tx.QueryRow(ctx, tallySQL, id).Scan(&forVotes, &againstVotes); err != nil {
		return Dispute{}, fmt.Errorf("dispute: tally votes: %w", err)
	}
	if forVotes+againstVotes == 0 {
		return Dispute{}, ErrNoVotes
	}

	outcome := TallyOutcome(forVotes, againstVotes)

	const updateSQL = `
		UPDATE disputes
		SET resolved = TRUE, outcome = $2, resolved_at = now(), updated_at = now()
		WHERE id = $1
		RETURNING ` + disputeColumns

	d, err := scanDispute(tx.QueryRow(ctx, updateSQL, id, string(outcome)))
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: close: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit resolve: %w", err)
	}

	votes, err := r.loadVotes(ctx, id)
	if err != nil {
		return Dispute{}, err
	}
	d.Votes = votes
	return d, nil
}

func (r *PGRepository) loadVotes(ctx context.Context, disputeID string) ([]Vote, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT dispute_id, user_id, choice, created_at
		FROM dispute_votes
		WHERE dispute_id = $1
		ORDER BY created_at
	`, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: load votes: %w", err)
	}
	defer rows.Close()

	votes := make([]Vote, 0, 4)
	for rows.Next() {
		var v Vote
		if err := rows.Scan(&v.DisputeID, &v.UserID, &v.Choice, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate votes: %w", err)
	}
	return votes, nil
}

func scanDispute(row pgx.Row) (Dispute, error) {
	var (
		d       Dispute
		outcome *string
	)
	err := row.Scan(
		&d.ID,
		&d.InvoiceID,
		&d.OpenerID,
		&d.Reason,
		&d.Resolved,
		&outcome,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.ResolvedAt,
	)
	if err != nil {
		return Dispute{}, err
	}
	if outcome != nil {
		o := Outcome(*outcome)
		d.Outcome = &o
	}
	return d, nil
}
