package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyReason signals a blank dispute reason.
	ErrEmptyReason = errors.New("dispute: reason must not be empty")
	// ErrInvoiceNotFound signals the referenced invoice does not exist.
	ErrInvoiceNotFound = errors.New("dispute: invoice not found")
	// ErrUserNotFound signals the opener or voter does not exist.
	ErrUserNotFound = errors.New("dispute: user not found")
)

// InvoiceDirectory answers invoice existence checks.
type InvoiceDirectory interface {
	Exists(ctx context.Context, invoiceID string) (bool, error)
}

// UserDirectory answers user existence checks.
type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// Service manages the dispute lifecycle: open, vote, resolve.
type Service struct {
	repo     Repository
	invoices InvoiceDirectory
	users    UserDirectory
}

// NewService creates the dispute resolution service.
func NewService(repo Repository, invoices InvoiceDirectory, users UserDirectory) *Service {
	return &Service{
		repo:     repo,
		invoices: invoices,
		users:    users,
	}
}

// Open creates a new dispute for the invoice. At most one unresolved
// dispute may exist per invoice; a second open fails until the first is
// resolved.
func (s *Service) Open(ctx context.Context, invoiceID, openerID, reason string) (Dispute, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Dispute{}, ErrEmptyReason
	}

	ok, err := s.invoices.Exists(ctx, invoiceID)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: check invoice: %w", err)
	}
	if !ok {
		return Dispute{}, ErrInvoiceNotFound
	}

	ok, err = s.users.Exists(ctx, openerID)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: check opener: %w", err)
	}
	if !ok {
		return Dispute{}, ErrUserNotFound
	}

	return s.repo.Create(ctx, invoiceID, openerID, reason)
}

// CastVote records a user's vote on an open dispute. Each user votes at
// most once per dispute; voting never auto-resolves.
func (s *Service) CastVote(ctx context.Context, disputeID, userID string, choice Choice) (Dispute, error) {
	ok, err := s.users.Exists(ctx, userID)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: check voter: %w", err)
	}
	if !ok {
		return Dispute{}, ErrUserNotFound
	}

	if err := s.repo.InsertVote(ctx, disputeID, userID, choice); err != nil {
		return Dispute{}, err
	}
	return s.repo.Get(ctx, disputeID)
}

// Resolve tallies the votes and closes the dispute. A dispute with no votes
// cannot be resolved, and resolution is terminal.
func (s *Service) Resolve(ctx context.Context, disputeID string) (Dispute, error) {
	return s.repo.Resolve(ctx, disputeID)
}

// Get returns a dispute with its votes.
func (s *Service) Get(ctx context.Context, disputeID string) (Dispute, error) {
	return s.repo.Get(ctx, disputeID)
}

// List returns all disputes with their votes.
func (s *Service) List(ctx context.Context) ([]Dispute, error) {
	return s.repo.List(ctx)
}
