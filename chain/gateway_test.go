package chain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"gigflow/invoice"
	"gigflow/user"
)

func TestDeriveTokenID(t *testing.T) {
	first := DeriveTokenID("inv-1")
	second := DeriveTokenID("inv-1")
	require.Equal(t, first, second, "derivation must be deterministic")
	require.Less(t, first, uint64(1)<<48, "token id must fit 48 bits")

	other := DeriveTokenID("inv-2")
	require.NotEqual(t, first, other)
}

func TestGateway_StubMintWithoutChain(t *testing.T) {
	store := newFakeInvoiceStore()
	store.add(invoice.Invoice{ID: "inv-1", Status: invoice.StatusPaid, Amount: decimal.New(120, 0), Currency: "USD"})
	g := NewGateway(nil, store, nil)

	res, err := g.MintInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	require.True(t, res.Stub)
	require.Empty(t, res.Err)
	require.Equal(t, DeriveTokenID("inv-1"), res.TokenID)
	require.True(t, strings.HasPrefix(res.TxHash, "0x"))
	require.Len(t, res.TxHash, 66)

	rec := store.invoices["inv-1"].Chain
	require.NotNil(t, rec, "stub mints persist too")
	require.Equal(t, res.TokenID, rec.TokenID)
	require.Equal(t, res.TxHash, rec.TxHash)
	require.True(t, rec.Stub, "stub marker persists with the record")
}

func TestGateway_SecondMintKeepsFirstRecord(t *testing.T) {
	store := newFakeInvoiceStore()
	store.add(invoice.Invoice{ID: "inv-1", Status: invoice.StatusPaid, Amount: decimal.New(120, 0)})
	g := NewGateway(nil, store, nil)
	ctx := context.Background()

	first, err := g.MintInvoice(ctx, "inv-1")
	require.NoError(t, err)

	second, err := g.MintInvoice(ctx, "inv-1")
	require.NoError(t, err)
	require.Equal(t, first.TokenID, second.TokenID)
	require.Equal(t, first.TxHash, second.TxHash, "existing tx hash must not be overwritten")
	require.True(t, second.Stub, "a stub-minted record stays reported as a stub")
}

func TestGateway_SubmitterFailureFallsBackToStub(t *testing.T) {
	store := newFakeInvoiceStore()
	store.add(invoice.Invoice{ID: "inv-1", Status: invoice.StatusPaid, Amount: decimal.New(120, 0)})
	sub := &fakeSubmitter{err: errors.New("rpc unreachable")}
	g := NewGateway(sub, store, nil)

	res, err := g.MintInvoice(context.Background(), "inv-1")
	require.NoError(t, err, "chain failures must not surface to the caller")
	require.True(t, res.Stub)
	require.Contains(t, res.Err, "rpc unreachable")
	require.Equal(t, DeriveTokenID("inv-1"), res.TokenID, "derived id survives the fallback")
	require.NotEmpty(t, res.TxHash)
}

func TestGateway_RealSubmit(t *testing.T) {
	store := newFakeInvoiceStore()
	store.add(invoice.Invoice{ID: "inv-1", Status: invoice.StatusPaid, Amount: decimal.RequireFromString("120.00"), Currency: "USD"})
	sub := &fakeSubmitter{txHash: "0xfeed"}
	g := NewGateway(sub, store, nil)

	res, err := g.MintInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	require.False(t, res.Stub)
	require.Equal(t, "0xfeed", res.TxHash)
	require.Equal(t, DeriveTokenID("inv-1"), sub.lastTokenID)
	require.Contains(t, string(sub.lastMetadata), `"invoiceId":"inv-1"`)
}

func TestGateway_MintInvoiceNotFound(t *testing.T) {
	g := NewGateway(nil, newFakeInvoiceStore(), nil)

	_, err := g.MintInvoice(context.Background(), "inv-missing")
	require.ErrorIs(t, err, invoice.ErrNotFound)
}

func TestGateway_PersistFailureSwallowed(t *testing.T) {
	store := newFakeInvoiceStore()
	store.add(invoice.Invoice{ID: "inv-1", Status: invoice.StatusPaid, Amount: decimal.New(120, 0)})
	store.attachErr = errors.New("disk full")
	g := NewGateway(nil, store, nil)

	res, err := g.MintInvoice(context.Background(), "inv-1")
	require.NoError(t, err, "persistence failure must not fail the mint")
	require.True(t, res.Stub)
}

func TestGateway_MintReputation(t *testing.T) {
	rep := newFakeReputationStore("u1")
	g := NewGateway(nil, newFakeInvoiceStore(), rep)
	g.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	res, err := g.MintReputation(context.Background(), "u1", 87)
	require.NoError(t, err)
	require.True(t, res.Stub)
	require.Equal(t, "u1", res.SubjectID)
	require.Less(t, res.TokenID, uint64(1)<<48)

	sbt := rep.users["u1"].SBT
	require.NotNil(t, sbt)
	require.Equal(t, res.TokenID, sbt.TokenID)
	require.Equal(t, res.TxHash, sbt.TxHash)
	require.True(t, sbt.Stub)
}

func TestGateway_MintReputationSubmitter(t *testing.T) {
	sub := &fakeSubmitter{txHash: "0xbeef"}
	g := NewGateway(sub, newFakeInvoiceStore(), newFakeReputationStore("u1"))

	res, err := g.MintReputation(context.Background(), "u1", 87)
	require.NoError(t, err)
	require.False(t, res.Stub)
	require.Equal(t, "0xbeef", res.TxHash)
	require.Equal(t, int64(87), sub.lastScore)
}

func TestGateway_MintReputationUnknownUser(t *testing.T) {
	g := NewGateway(nil, newFakeInvoiceStore(), newFakeReputationStore())

	_, err := g.MintReputation(context.Background(), "u-missing", 87)
	require.ErrorIs(t, err, user.ErrNotFound)
}

func TestGateway_SecondReputationMintKeepsFirstRecord(t *testing.T) {
	rep := newFakeReputationStore("u1")
	g := NewGateway(nil, newFakeInvoiceStore(), rep)
	ctx := context.Background()

	first, err := g.MintReputation(ctx, "u1", 87)
	require.NoError(t, err)

	second, err := g.MintReputation(ctx, "u1", 99)
	require.NoError(t, err)
	require.Equal(t, first.TokenID, second.TokenID)
	require.Equal(t, first.TxHash, second.TxHash, "existing sbt record must not be overwritten")
	require.True(t, second.Stub)
}

type fakeSubmitter struct {
	txHash       string
	err          error
	lastTokenID  uint64
	lastMetadata []byte
	lastScore    int64
}

func (f *fakeSubmitter) SubmitInvoiceMint(ctx context.Context, tokenID uint64, metadata []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.lastTokenID = tokenID
	f.lastMetadata = metadata
	return f.txHash, nil
}

func (f *fakeSubmitter) SubmitReputationMint(ctx context.Context, tokenID uint64, score int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.lastTokenID = tokenID
	f.lastScore = score
	return f.txHash, nil
}

type fakeInvoiceStore struct {
	invoices  map[string]invoice.Invoice
	attachErr error
}

func newFakeInvoiceStore() *fakeInvoiceStore {
	return &fakeInvoiceStore{invoices: make(map[string]invoice.Invoice)}
}

func (f *fakeInvoiceStore) add(inv invoice.Invoice) {
	f.invoices[inv.ID] = inv
}

func (f *fakeInvoiceStore) Get(ctx context.Context, invoiceID string) (invoice.Invoice, error) {
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return invoice.Invoice{}, invoice.ErrNotFound
	}
	return inv, nil
}

func (f *fakeInvoiceStore) AttachChainRecord(ctx context.Context, invoiceID string, tokenID uint64, txHash string, stub bool) error {
	if f.attachErr != nil {
		return f.attachErr
	}
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return invoice.ErrNotFound
	}
	if inv.Chain != nil {
		return invoice.ErrChainRecordSet
	}
	inv.Chain = &invoice.ChainRecord{TokenID: tokenID, TxHash: txHash, Stub: stub}
	f.invoices[invoiceID] = inv
	return nil
}

type fakeReputationStore struct {
	users map[string]*user.User
}

func newFakeReputationStore(ids ...string) *fakeReputationStore {
	f := &fakeReputationStore{users: make(map[string]*user.User)}
	for _, id := range ids {
		f.users[id] = &user.User{ID: id}
	}
	return f
}

func (f *fakeReputationStore) GetByID(ctx context.Context, userID string) (*user.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

func (f *fakeReputationStore) AttachChainRecord(ctx context.Context, userID string, tokenID uint64, txHash string, stub bool) error {
	u, ok := f.users[userID]
	if !ok {
		return user.ErrNotFound
	}
	if u.SBT != nil {
		return user.ErrChainRecordSet
	}
	u.SBT = &user.ChainRecord{TokenID: tokenID, TxHash: txHash, Stub: stub}
	return nil
}
