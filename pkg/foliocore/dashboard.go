package foliocore

import (
	"context"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// DashboardSummary rolls the whole portfolio up into base-currency totals,
// per-account cash balances and the drift items currently over threshold.
func (c *Core) GetDashboardSummary(ctx context.Context) (*DashboardSummary, error) {
	holdings, err := c.ListHoldings(ctx)
	if err != nil {
		return nil, err
	}
	balances, err := c.GetCashBalances(ctx)
	if err != nil {
		return nil, err
	}

	totalMarket := decimal.Zero
	for _, h := range holdings {
		totalMarket = totalMarket.Add(h.MarketValue.Decimal)
	}
	totalCash := decimal.Zero
	for _, b := range balances {
		totalCash = totalCash.Add(b.BaseBalance.Decimal)
	}
	totalAssets := totalMarket.Add(totalCash)

	driftItems, err := c.driftItems(ctx, holdings, balances, totalAssets)
	if err != nil {
		return nil, err
	}
	alerts := lo.Filter(driftItems, func(item DriftItem, _ int) bool { return item.IsAlerted })

	return &DashboardSummary{
		BaseCurrency:     c.baseCurrency,
		TotalAssets:      amountOf(totalAssets.Round(4)),
		TotalCash:        amountOf(totalCash.Round(4)),
		TotalMarketValue: amountOf(totalMarket.Round(4)),
		AccountBalances:  balances,
		DriftAlerts:      alerts,
	}, nil
}
