package foliocore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAccountValidation(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	var coreErr *Error
	_, err := core.CreateAccount(ctx, Account{Name: "  ", Type: AccountTypeCash})
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, "name", coreErr.Field)

	_, err = core.CreateAccount(ctx, Account{Name: "Wallet", Type: "SAVINGS"})
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, "type", coreErr.Field)
}

func TestCreateAccountDefaultsAndDuplicates(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	account, err := core.CreateAccount(ctx, Account{Name: "Wallet", Type: AccountTypeCash})
	require.NoError(t, err)
	assert.Equal(t, "CNY", account.BaseCurrency, "falls back to the reporting currency")
	assert.True(t, account.IsActive)

	_, err = core.CreateAccount(ctx, Account{Name: "Wallet", Type: AccountTypeBrokerage})
	assert.True(t, IsErrorCode(err, ErrCodeDuplicate))
}

func TestUpdateAccountDeactivates(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	account := testAccount(t, core, "Broker A", AccountTypeBrokerage)

	inactive := false
	updated, err := core.UpdateAccount(ctx, account.ID, AccountPatch{IsActive: &inactive})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	// Inactive accounts sort after active ones.
	other := testAccount(t, core, "Bank B", AccountTypeCash)
	accounts, err := core.GetAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, other.ID, accounts[0].ID)
}

func TestDeleteAccountBlockedByLedger(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	account := testAccount(t, core, "Broker A", AccountTypeBrokerage)
	testCashIn(t, core, account.ID, 100)

	err := core.DeleteAccount(ctx, account.ID)
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodeValidation))
	assert.Contains(t, err.Error(), "deactivate")

	empty := testAccount(t, core, "Empty", AccountTypeCash)
	require.NoError(t, core.DeleteAccount(ctx, empty.ID))
	_, err = core.GetAccount(ctx, empty.ID)
	assert.True(t, IsErrorCode(err, ErrCodeNotFound))
}

func TestInstrumentLifecycle(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	created, err := core.CreateInstrument(ctx, Instrument{
		Symbol: " 600519.ss ", Market: "sh", Type: InstrumentTypeStock, Currency: "cny",
	})
	require.NoError(t, err)
	assert.Equal(t, "600519.SS", created.Symbol, "symbol is normalized")
	assert.Equal(t, "SH", created.Market)
	assert.Equal(t, "CNY", created.Currency)
	assert.Equal(t, "600519.SS", created.Name, "name defaults to the symbol")

	_, err = core.CreateInstrument(ctx, Instrument{
		Symbol: "600519.SS", Market: "SH", Type: InstrumentTypeStock, Currency: "CNY",
	})
	assert.True(t, IsErrorCode(err, ErrCodeDuplicate))

	name := "Kweichow Moutai"
	updated, err := core.UpdateInstrument(ctx, created.ID, InstrumentPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)

	require.NoError(t, core.DeleteInstrument(ctx, created.ID))
	_, err = core.GetInstrument(ctx, created.ID)
	assert.True(t, IsErrorCode(err, ErrCodeNotFound))
}

func TestDeleteInstrumentBlockedByLedger(t *testing.T) {
	core := newTestCore(t)
	account := testAccount(t, core, "Broker A", AccountTypeBrokerage)
	instrument := testInstrument(t, core, "600519.SS")
	testCashIn(t, core, account.ID, 10000)
	testBuy(t, core, account.ID, instrument.ID, 10, 100, 0)

	err := core.DeleteInstrument(context.Background(), instrument.ID)
	assert.True(t, IsErrorCode(err, ErrCodeValidation))
}
