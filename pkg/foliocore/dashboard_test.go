package foliocore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDashboardSummaryTotals(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	account, instrument := seedDriftPortfolio(t, core)

	equities := testNode(t, core, nil, "Equities", 40)
	cash := testNode(t, core, nil, "Cash", 60)
	_, err := core.BindInstrument(ctx, instrument.ID, &equities.ID)
	require.NoError(t, err)
	_, err = core.BindAccount(ctx, account.ID, &cash.ID)
	require.NoError(t, err)

	summary, err := core.GetDashboardSummary(ctx)
	require.NoError(t, err)

	assert.Equal(t, "CNY", summary.BaseCurrency)
	requireAmount(t, 4000, summary.TotalAssets, "market plus cash")
	requireAmount(t, 3000, summary.TotalCash, "cash after buy")
	requireAmount(t, 1000, summary.TotalMarketValue, "10 shares at 100")
	require.Len(t, summary.AccountBalances, 1)
	requireAmount(t, 3000, summary.AccountBalances[0].NativeBalance, "account cash")

	// Both leaves drift by 15 points against their targets.
	require.Len(t, summary.DriftAlerts, 2)
	for _, alert := range summary.DriftAlerts {
		assert.True(t, alert.IsAlerted)
	}
}

func TestDashboardSummaryFiltersAlerts(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	account, instrument := seedDriftPortfolio(t, core)

	// Equities sits 2 points off target, cash 2 the other way; neither
	// crosses the default threshold of 5.
	equities := testNode(t, core, nil, "Equities", 27)
	cash := testNode(t, core, nil, "Cash", 73)
	_, err := core.BindInstrument(ctx, instrument.ID, &equities.ID)
	require.NoError(t, err)
	_, err = core.BindAccount(ctx, account.ID, &cash.ID)
	require.NoError(t, err)

	summary, err := core.GetDashboardSummary(ctx)
	require.NoError(t, err)
	assert.Empty(t, summary.DriftAlerts)
}

func TestDashboardSummaryEmptyPortfolio(t *testing.T) {
	core := newTestCore(t)

	summary, err := core.GetDashboardSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "CNY", summary.BaseCurrency)
	requireAmount(t, 0, summary.TotalAssets, "no activity")
	assert.Empty(t, summary.AccountBalances)
	assert.Empty(t, summary.DriftAlerts)
}
