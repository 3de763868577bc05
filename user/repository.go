package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals that the user does not exist.
	ErrNotFound = errors.New("user: not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("user: email already exists")
	// ErrChainRecordSet signals the SBT record was already persisted.
	ErrChainRecordSet = errors.New("user: sbt record already set")
)

// Repository handles data access for accounts.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, userID string) (User, error)
	AttachChainRecord(ctx context.Context, userID string, tokenID uint64, txHash string, stub bool) error
}

// CreateParams contains write parameters for creating accounts.
type CreateParams struct {
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed user repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, full_name, password_hash, role, wallet_address, sbt_token_id, sbt_tx_hash, sbt_stub, created_at, updated_at`

// Create inserts a new account.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (User, error) {
	const insertSQL = `
		INSERT INTO users (email, full_name, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + userColumns

	u, err := scanUser(r.pool.QueryRow(ctx, insertSQL, params.Email, params.FullName, params.PasswordHash, params.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("user: create: %w", err)
	}
	return u, nil
}

// GetByEmail retrieves an account by email address.
func (r *PGRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("user: get by email: %w", err)
	}
	return u, nil
}

// GetByID retrieves an account by id.
func (r *PGRepository) GetByID(ctx context.Context, userID string) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("user: get by id: %w", err)
	}
	return u, nil
}

// AttachChainRecord persists a reputation mint onto the account. The
// sbt_token_id IS NULL guard keeps racing mints at-most-once, matching the
// invoice-side behavior.
func (r *PGRepository) AttachChainRecord(ctx context.Context, userID string, tokenID uint64, txHash string, stub bool) error {
	const updateSQL = `
		UPDATE users
		SET sbt_token_id = $2, sbt_tx_hash = $3, sbt_stub = $4, updated_at = now()
		WHERE id = $1 AND sbt_token_id IS NULL
	`

	tag, err := r.pool.Exec(ctx, updateSQL, userID, int64(tokenID), txHash, stub)
	if err != nil {
		return fmt.Errorf("user: attach chain record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return fmt.Errorf("user: attach chain record probe: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrChainRecordSet
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		u       User
		wallet  *string
		tokenID *int64
		txHash  *string
		stub    bool
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.FullName,
		&u.PasswordHash,
		&u.Role,
		&wallet,
		&tokenID,
		&txHash,
		&stub,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}

	u.WalletAddress = wallet
	if tokenID != nil && txHash != nil {
		u.SBT = &ChainRecord{TokenID: uint64(*tokenID), TxHash: *txHash, Stub: stub}
	}
	return u, nil
}
