package foliocore

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// ComputeDrift compares each leaf node's global target weight against the
// live portfolio. Actual value per node is the market value of instruments
// bound to it plus the cash of accounts bound to it, over total portfolio
// assets. Results come back sorted by absolute drift, worst first.
func (c *Core) ComputeDrift(ctx context.Context) ([]DriftItem, error) {
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

	return c.driftItems(ctx, holdings, balances, totalAssets)
}

func (c *Core) driftItems(ctx context.Context, holdings []Holding, balances []CashBalance, totalAssets decimal.Decimal) ([]DriftItem, error) {
	nodes, err := c.GetNodes(ctx)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	byID := map[int64]AllocationNode{}
	hasChildren := map[int64]bool{}
	for _, n := range nodes {
		byID[n.ID] = n
		if n.ParentID != nil {
			hasChildren[*n.ParentID] = true
		}
	}

	instruments, err := c.GetInstruments(ctx)
	if err != nil {
		return nil, err
	}
	nodeByInstrument := map[int64]int64{}
	for _, inst := range instruments {
		if inst.AllocationNodeID != nil {
			nodeByInstrument[inst.ID] = *inst.AllocationNodeID
		}
	}
	accounts, err := c.GetAccounts(ctx)
	if err != nil {
		return nil, err
	}
	nodeByAccount := map[int64]int64{}
	for _, acc := range accounts {
		if acc.AllocationNodeID != nil {
			nodeByAccount[acc.ID] = *acc.AllocationNodeID
		}
	}

	actualByNode := map[int64]decimal.Decimal{}
	for _, h := range holdings {
		nodeID, ok := nodeByInstrument[h.InstrumentID]
		if !ok {
			continue
		}
		actualByNode[nodeID] = actualByNode[nodeID].Add(h.MarketValue.Decimal)
	}
	for _, b := range balances {
		nodeID, ok := nodeByAccount[b.AccountID]
		if !ok {
			continue
		}
		actualByNode[nodeID] = actualByNode[nodeID].Add(b.BaseBalance.Decimal)
	}

	memo := map[int64]decimal.Decimal{}
	var items []DriftItem
	for _, node := range nodes {
		if hasChildren[node.ID] {
			continue
		}
		target, err := globalWeight(node, byID, memo)
		if err != nil {
			return nil, err
		}
		path, err := nodePath(node, byID)
		if err != nil {
			return nil, err
		}

		actualValue := actualByNode[node.ID]
		actualWeight := decimal.Zero
		if totalAssets.IsPositive() {
			actualWeight = actualValue.Div(totalAssets).Mul(hundred)
		}
		drift := actualWeight.Sub(target)

		items = append(items, DriftItem{
			NodeID:       node.ID,
			Name:         path,
			TargetWeight: amountOf(target.Round(4)),
			ActualWeight: amountOf(actualWeight.Round(4)),
			DriftPct:     amountOf(drift.Round(4)),
			IsAlerted:    drift.Abs().GreaterThanOrEqual(c.driftThreshold),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].DriftPct.Abs().GreaterThan(items[j].DriftPct.Abs())
	})
	return items, nil
}
