package foliocore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// ReturnsCurve replays the full ledger day by day and reports one point per
// calendar day inside the requested window. Every point carries the
// cumulative net contribution, total assets and absolute return in the base
// currency. The rate is omitted until contributions turn positive.
func (c *Core) ReturnsCurve(ctx context.Context, days int) ([]ReturnPoint, error) {
	txs, err := c.orderedTransactions(ctx)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}

	instrumentIDs := lo.Uniq(lo.FilterMap(txs, func(t Transaction, _ int) (int64, bool) {
		if t.InstrumentID == nil {
			return 0, false
		}
		return *t.InstrumentID, true
	}))
	sort.Slice(instrumentIDs, func(i, j int) bool { return instrumentIDs[i] < instrumentIDs[j] })

	quotesByInstrument, err := c.usableQuotesByInstrument(ctx, instrumentIDs)
	if err != nil {
		return nil, err
	}

	firstAt, err := parseExecutedAt(txs[0].ExecutedAt)
	if err != nil {
		return nil, WrapError(ErrCodeInternal, "parse first transaction timestamp", err)
	}
	firstDate := firstAt.Truncate(24 * time.Hour)
	endDate := time.Now().UTC().Truncate(24 * time.Hour)
	if days < 1 {
		days = 1
	}
	displayStart := endDate.AddDate(0, 0, -(days - 1))
	if firstDate.After(displayStart) {
		displayStart = firstDate
	}

	txIdx := 0
	quantity := map[int64]decimal.Decimal{}
	quoteIdx := map[int64]int{}
	currentQuote := map[int64]Quote{}
	cashBase := decimal.Zero
	contributionBase := decimal.Zero
	var points []ReturnPoint

	for cursor := firstDate; !cursor.After(endDate); cursor = cursor.AddDate(0, 0, 1) {
		// Stored timestamps share one fixed UTC layout, so string order is
		// chronological order and a day boundary compares directly.
		dayEnd := cursor.Format(dateLayout) + "T23:59:59Z"

		for txIdx < len(txs) && txs[txIdx].ExecutedAt <= dayEnd {
			t := txs[txIdx]
			txIdx++

			cashBase = cashBase.Add(c.safeConvert(ctx, cashDelta(t), t.Currency, c.baseCurrency))

			if t.TransferGroupID == nil && (t.Type == TxTypeCashIn || t.Type == TxTypeCashOut) {
				flow := c.safeConvert(ctx, t.Amount.Decimal, t.Currency, c.baseCurrency)
				if t.Type == TxTypeCashOut {
					flow = flow.Neg()
				}
				contributionBase = contributionBase.Add(flow)
			}

			if t.InstrumentID != nil && t.Quantity != nil {
				switch t.Type {
				case TxTypeBuy:
					quantity[*t.InstrumentID] = quantity[*t.InstrumentID].Add(t.Quantity.Decimal)
				case TxTypeSell:
					remaining := quantity[*t.InstrumentID].Sub(t.Quantity.Decimal)
					if remaining.IsNegative() {
						remaining = decimal.Zero
					}
					quantity[*t.InstrumentID] = remaining
				}
			}
		}

		for _, id := range instrumentIDs {
			list := quotesByInstrument[id]
			i := quoteIdx[id]
			for i < len(list) && list[i].QuotedAt <= dayEnd {
				currentQuote[id] = list[i]
				i++
			}
			quoteIdx[id] = i
		}

		marketBase := decimal.Zero
		for _, id := range instrumentIDs {
			qty := quantity[id]
			if !qty.IsPositive() {
				continue
			}
			quote, ok := currentQuote[id]
			if !ok {
				continue
			}
			native := qty.Mul(quote.Price.Decimal)
			marketBase = marketBase.Add(c.safeConvert(ctx, native, quote.Currency, c.baseCurrency))
		}

		if cursor.Before(displayStart) {
			continue
		}

		totalAssets := cashBase.Add(marketBase)
		totalReturn := totalAssets.Sub(contributionBase)
		var rate *Amount
		if contributionBase.IsPositive() {
			rate = amountPtr(amountOf(totalReturn.Div(contributionBase).Mul(hundred).Round(4)))
		}
		points = append(points, ReturnPoint{
			Date:            cursor.Format(dateLayout),
			NetContribution: amountOf(contributionBase.Round(4)),
			TotalAssets:     amountOf(totalAssets.Round(4)),
			TotalReturn:     amountOf(totalReturn.Round(4)),
			TotalReturnRate: rate,
		})
	}
	return points, nil
}

// safeConvert falls back to zero when no usable rate exists so one missing
// pair cannot abort a whole curve replay.
func (c *Core) safeConvert(ctx context.Context, amount decimal.Decimal, from, to string) decimal.Decimal {
	if normalizeCurrency(from) == normalizeCurrency(to) {
		return amount
	}
	converted, err := c.ConvertAmount(ctx, amount, from, to)
	if err != nil {
		c.logger.Warn("fx conversion unavailable, treating flow as zero",
			"from", from, "to", to, "error", err)
		return decimal.Zero
	}
	return converted
}

func (c *Core) orderedTransactions(ctx context.Context) ([]Transaction, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, type, account_id, instrument_id, quantity, price, amount, fee, tax,
		       currency, executed_at, executed_tz, transfer_group_id, note, created_at
		FROM transactions
		ORDER BY executed_at, id`)
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "list transactions", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, WrapError(ErrCodeDatabase, "scan transaction", err)
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

func (c *Core) usableQuotesByInstrument(ctx context.Context, instrumentIDs []int64) (map[int64][]Quote, error) {
	byInstrument := map[int64][]Quote{}
	if len(instrumentIDs) == 0 {
		return byInstrument, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(instrumentIDs)), ",")
	args := lo.Map(instrumentIDs, func(id int64, _ int) any { return id })
	args = append(args, QuoteStatusSuccess, QuoteStatusManualOverride)
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, instrument_id, quoted_at, price, currency, source, provider_status
		FROM quotes
		WHERE instrument_id IN (`+placeholders+`) AND provider_status IN (?, ?)
		ORDER BY instrument_id, quoted_at`, args...)
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "list quotes", err)
	}
	defer rows.Close()

	for rows.Next() {
		var q Quote
		if err := rows.Scan(&q.ID, &q.InstrumentID, &q.QuotedAt, &q.Price, &q.Currency, &q.Source, &q.ProviderStatus); err != nil {
			return nil, WrapError(ErrCodeDatabase, "scan quote", err)
		}
		byInstrument[q.InstrumentID] = append(byInstrument[q.InstrumentID], q)
	}
	return byInstrument, rows.Err()
}
