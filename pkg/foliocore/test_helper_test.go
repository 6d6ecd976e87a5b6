package foliocore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeQuoteProvider is an in-memory QuoteProvider for tests. Symbols absent
// from the quotes map resolve as not found; err, when set, fails every call.
type fakeQuoteProvider struct {
	quotes map[string]ProviderQuote
	err    error
	calls  int
}

func (f *fakeQuoteProvider) FetchQuotes(ctx context.Context, symbols []string) (map[string]ProviderQuote, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	found := map[string]ProviderQuote{}
	for _, s := range symbols {
		if q, ok := f.quotes[s]; ok {
			found[s] = q
		}
	}
	return found, nil
}

func (f *fakeQuoteProvider) LookupQuote(ctx context.Context, symbol string) (*ProviderQuote, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if q, ok := f.quotes[symbol]; ok {
		return &q, nil
	}
	return nil, ErrProviderNotFound
}

func newTestCore(t *testing.T) *Core {
	t.Helper()
	return newTestCoreWithProvider(t, &fakeQuoteProvider{quotes: map[string]ProviderQuote{}})
}

func newTestCoreWithProvider(t *testing.T, provider QuoteProvider) *Core {
	t.Helper()
	core, err := OpenWithOptions(Options{
		DBPath:        filepath.Join(t.TempDir(), "test.db"),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		QuoteProvider: provider,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = core.Close() })
	return core
}

func testAccount(t *testing.T, core *Core, name, accountType string) *Account {
	t.Helper()
	account, err := core.CreateAccount(context.Background(), Account{
		Name:         name,
		Type:         accountType,
		BaseCurrency: "CNY",
	})
	require.NoError(t, err)
	return account
}

func testInstrument(t *testing.T, core *Core, symbol string) *Instrument {
	t.Helper()
	instrument, err := core.CreateInstrument(context.Background(), Instrument{
		Symbol:   symbol,
		Market:   "SH",
		Type:     InstrumentTypeStock,
		Currency: "CNY",
		Name:     symbol,
	})
	require.NoError(t, err)
	return instrument
}

func testCashIn(t *testing.T, core *Core, accountID int64, amount float64) *Transaction {
	t.Helper()
	tx, err := core.CreateTransaction(context.Background(), CreateTransactionRequest{
		Type:       TxTypeCashIn,
		AccountID:  accountID,
		Amount:     NewAmount(amount),
		ExecutedAt: "2024-01-02T09:00:00Z",
	})
	require.NoError(t, err)
	return tx
}

func testBuy(t *testing.T, core *Core, accountID, instrumentID int64, qty, price, fee float64) *Transaction {
	t.Helper()
	tx, err := core.CreateTransaction(context.Background(), CreateTransactionRequest{
		Type:         TxTypeBuy,
		AccountID:    accountID,
		InstrumentID: &instrumentID,
		Quantity:     amountPtr(NewAmount(qty)),
		Price:        amountPtr(NewAmount(price)),
		Amount:       NewAmount(qty * price),
		Fee:          NewAmount(fee),
		ExecutedAt:   "2024-01-03T10:00:00Z",
	})
	require.NoError(t, err)
	return tx
}

func testSell(t *testing.T, core *Core, accountID, instrumentID int64, qty, price float64) *Transaction {
	t.Helper()
	tx, err := core.CreateTransaction(context.Background(), CreateTransactionRequest{
		Type:         TxTypeSell,
		AccountID:    accountID,
		InstrumentID: &instrumentID,
		Quantity:     amountPtr(NewAmount(qty)),
		Price:        amountPtr(NewAmount(price)),
		Amount:       NewAmount(qty * price),
		ExecutedAt:   "2024-01-04T10:00:00Z",
	})
	require.NoError(t, err)
	return tx
}

func requireAmount(t *testing.T, expected float64, actual Amount, msg string) {
	t.Helper()
	require.True(t, NewAmount(expected).Equal(actual.Decimal),
		"%s: expected %v, got %s", msg, expected, actual.String())
}
