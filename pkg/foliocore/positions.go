package foliocore

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"
)

// position is the folded state of one (account, instrument) pair.
type position struct {
	Quantity decimal.Decimal
	AvgCost  decimal.Decimal
}

// foldPosition walks an ordered transaction list and derives quantity and
// weighted-average cost. BUY adds quantity and amount+fee+tax to cost basis;
// SELL reduces quantity at unchanged average cost; an instrument FEE raises
// the cost basis while a position is held. Negative intermediate states are
// clamped to empty since the ledger rejects over-sells at write time.
func foldPosition(txs []Transaction) position {
	quantity := decimal.Zero
	totalCost := decimal.Zero

	for _, t := range txs {
		qty := decimal.Zero
		if t.Quantity != nil {
			qty = t.Quantity.Decimal
		}
		switch t.Type {
		case TxTypeBuy:
			quantity = quantity.Add(qty)
			totalCost = totalCost.Add(t.Amount.Decimal).Add(t.Fee.Decimal).Add(t.Tax.Decimal)
		case TxTypeSell:
			if quantity.LessThanOrEqual(decimal.Zero) {
				quantity = decimal.Zero
				totalCost = decimal.Zero
				continue
			}
			sellQty := decimal.Min(qty, quantity)
			avgCost := totalCost.Div(quantity)
			totalCost = totalCost.Sub(avgCost.Mul(sellQty))
			quantity = quantity.Sub(sellQty)
			if quantity.LessThanOrEqual(decimal.Zero) {
				quantity = decimal.Zero
				totalCost = decimal.Zero
			}
		case TxTypeFee:
			if t.InstrumentID != nil && quantity.GreaterThan(decimal.Zero) {
				totalCost = totalCost.Add(t.Amount.Decimal)
			}
		}
	}

	avgCost := decimal.Zero
	if quantity.GreaterThan(decimal.Zero) {
		avgCost = totalCost.Div(quantity)
	}
	return position{Quantity: quantity, AvgCost: avgCost}
}

// positionTransactionsTx returns the ordered ledger slice for one pair.
func (c *Core) positionTransactionsTx(tx *sql.Tx, accountID, instrumentID int64) ([]Transaction, error) {
	rows, err := tx.Query(`
		SELECT id, type, account_id, instrument_id, quantity, price, amount, fee, tax,
			currency, executed_at, executed_tz, transfer_group_id, note, created_at
		FROM transactions
		WHERE account_id = ? AND instrument_id = ?
		ORDER BY executed_at, id
	`, accountID, instrumentID)
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "query position transactions", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// ListHoldings recomputes all positions from the ledger and values them at
// the latest resolved price. Zero-quantity positions are dropped. Market and
// cost values are reported in the base currency when an FX path exists,
// otherwise in the instrument's own currency.
func (c *Core) ListHoldings(ctx context.Context) ([]Holding, error) {
	txs, err := c.GetTransactions(ctx, TransactionFilter{})
	if err != nil {
		return nil, err
	}
	instruments, err := c.GetInstruments(ctx)
	if err != nil {
		return nil, err
	}
	instrumentByID := map[int64]Instrument{}
	for _, inst := range instruments {
		instrumentByID[inst.ID] = inst
	}

	// Group per pair in chronological order; GetTransactions returns newest
	// first, so walk backwards.
	type pairKey struct {
		accountID    int64
		instrumentID int64
	}
	grouped := map[pairKey][]Transaction{}
	var order []pairKey
	for i := len(txs) - 1; i >= 0; i-- {
		t := txs[i]
		if t.InstrumentID == nil {
			continue
		}
		key := pairKey{t.AccountID, *t.InstrumentID}
		if _, seen := grouped[key]; !seen {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], t)
	}

	var holdings []Holding
	for _, key := range order {
		pos := foldPosition(grouped[key])
		if !pos.Quantity.GreaterThan(decimal.Zero) {
			continue
		}
		inst, ok := instrumentByID[key.instrumentID]
		if !ok {
			continue
		}

		latest, err := c.GetLatestPrice(ctx, inst.ID)
		if err != nil {
			return nil, err
		}
		marketPrice := decimal.Zero
		quoteCurrency := inst.Currency
		hasPrice := false
		if latest.Price != nil {
			marketPrice = latest.Price.Decimal
			hasPrice = true
			if latest.Currency != nil && *latest.Currency != "" {
				quoteCurrency = *latest.Currency
			}
		}

		rawMarketValue := pos.Quantity.Mul(marketPrice)
		rawCostValue := pos.Quantity.Mul(pos.AvgCost)

		marketValue, err := c.ConvertAmount(ctx, rawMarketValue, quoteCurrency, c.baseCurrency)
		if err != nil {
			marketValue = rawMarketValue
		}
		costValue, err := c.ConvertAmount(ctx, rawCostValue, inst.Currency, c.baseCurrency)
		if err != nil {
			costValue = rawCostValue
		}

		holdings = append(holdings, Holding{
			AccountID:     key.accountID,
			InstrumentID:  inst.ID,
			Symbol:        inst.Symbol,
			Name:          inst.Name,
			Quantity:      amountOf(pos.Quantity),
			AvgCost:       amountOf(pos.AvgCost.Round(amountPlaces)),
			MarketPrice:   amountOf(marketPrice),
			MarketValue:   amountOf(marketValue.Round(4)),
			CostValue:     amountOf(costValue.Round(4)),
			UnrealizedPnL: amountOf(marketValue.Sub(costValue).Round(4)),
			HasPrice:      hasPrice,
			Currency:      c.baseCurrency,
		})
	}
	return holdings, nil
}
