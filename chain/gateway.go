package chain

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"gigflow/invoice"
	"gigflow/user"
)

// MintResult is returned by every mint flow. A mint never hard-fails: when
// the chain is unconfigured or unreachable the result degrades to a stub
// with Err carrying the diagnostic.
type MintResult struct {
	SubjectID string `json:"subjectId"`
	TokenID   uint64 `json:"tokenId"`
	TxHash    string `json:"txHash"`
	Stub      bool   `json:"stub,omitempty"`
	Err       string `json:"error,omitempty"`
}

// Submitter submits mint transactions to the chain.
type Submitter interface {
	SubmitInvoiceMint(ctx context.Context, tokenID uint64, metadata []byte) (string, error)
	SubmitReputationMint(ctx context.Context, tokenID uint64, score int64) (string, error)
}

// InvoiceStore is the slice of the invoice service the gateway needs.
type InvoiceStore interface {
	Get(ctx context.Context, invoiceID string) (invoice.Invoice, error)
	AttachChainRecord(ctx context.Context, invoiceID string, tokenID uint64, txHash string, stub bool) error
}

// ReputationStore looks up mint subjects and persists reputation mints
// onto them.
type ReputationStore interface {
	GetByID(ctx context.Context, userID string) (*user.User, error)
	AttachChainRecord(ctx context.Context, userID string, tokenID uint64, txHash string, stub bool) error
}

type invoiceMetadata struct {
	InvoiceID string          `json:"invoiceId"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    invoice.Status  `json:"status"`
}

// Gateway mints on-chain representations of invoices and reputation scores.
// A nil submitter means no chain is configured and every mint is a stub.
type Gateway struct {
	submitter  Submitter
	invoices   InvoiceStore
	reputation ReputationStore
	timeout    time.Duration
	now        func() time.Time
}

// NewGateway creates the minting gateway.
func NewGateway(submitter Submitter, invoices InvoiceStore, reputation ReputationStore) *Gateway {
	return &Gateway{
		submitter:  submitter,
		invoices:   invoices,
		reputation: reputation,
		timeout:    30 * time.Second,
		now:        time.Now,
	}
}

// MintInvoice mints a token for the invoice. The token id derives from the
// invoice id, so retries land on the same identifier; an already-persisted
// chain record is returned as-is rather than overwritten.
func (g *Gateway) MintInvoice(ctx context.Context, invoiceID string) (MintResult, error) {
	inv, err := g.invoices.Get(ctx, invoiceID)
	if err != nil {
		return MintResult{}, err
	}
	if inv.Chain != nil {
		return MintResult{SubjectID: inv.ID, TokenID: inv.Chain.TokenID, TxHash: inv.Chain.TxHash, Stub: inv.Chain.Stub}, nil
	}

	tokenID := DeriveTokenID(inv.ID)
	result := MintResult{SubjectID: inv.ID, TokenID: tokenID}

	if g.submitter == nil {
		result.TxHash = stubTxHash()
		result.Stub = true
	} else {
		metadata, err := json.Marshal(invoiceMetadata{
			InvoiceID: inv.ID,
			Amount:    inv.Amount,
			Currency:  inv.Currency,
			Status:    inv.Status,
		})
		if err != nil {
			return MintResult{}, err
		}

		submitCtx, cancel := context.WithTimeout(ctx, g.timeout)
		txHash, err := g.submitter.SubmitInvoiceMint(submitCtx, tokenID, metadata)
		cancel()
		if err != nil {
			// Chain failures degrade to a recorded stub; the derived token
			// id is preserved.
			result.TxHash = stubTxHash()
			result.Stub = true
			result.Err = err.Error()
		} else {
			result.TxHash = txHash
		}
	}

	if err := g.invoices.AttachChainRecord(ctx, inv.ID, result.TokenID, result.TxHash, result.Stub); err != nil {
		// The mint already succeeded from the caller's point of view.
		log.Printf("chain: persist mint for invoice %s: %v", inv.ID, err)
	}
	return result, nil
}

// MintReputation mints a soul-bound reputation token for the user. There is
// no deterministic input for this flow, so the id is time-based. An
// already-persisted SBT record is returned as-is rather than overwritten.
func (g *Gateway) MintReputation(ctx context.Context, userID string, score int64) (MintResult, error) {
	u, err := g.reputation.GetByID(ctx, userID)
	if err != nil {
		return MintResult{}, err
	}
	if u.SBT != nil {
		return MintResult{SubjectID: u.ID, TokenID: u.SBT.TokenID, TxHash: u.SBT.TxHash, Stub: u.SBT.Stub}, nil
	}

	tokenID := timeTokenID(g.now())
	result := MintResult{SubjectID: userID, TokenID: tokenID}

	if g.submitter == nil {
		result.TxHash = stubTxHash()
		result.Stub = true
	} else {
		submitCtx, cancel := context.WithTimeout(ctx, g.timeout)
		txHash, err := g.submitter.SubmitReputationMint(submitCtx, tokenID, score)
		cancel()
		if err != nil {
			result.TxHash = stubTxHash()
			result.Stub = true
			result.Err = err.Error()
		} else {
			result.TxHash = txHash
		}
	}

	if err := g.reputation.AttachChainRecord(ctx, userID, result.TokenID, result.TxHash, result.Stub); err != nil {
		log.Printf("chain: persist reputation mint for user %s: %v", userID, err)
	}
	return result, nil
}
