package foliocore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

// GetFxRate resolves a conversion rate between two currencies: a direct rate
// wins, then the inverse of the reverse pair, then triangulation through the
// reporting base currency.
func (c *Core) GetFxRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from = normalizeCurrency(from)
	to = normalizeCurrency(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	direct, err := c.latestFxRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	if direct != nil {
		return *direct, nil
	}

	reverse, err := c.latestFxRate(ctx, to, from)
	if err != nil {
		return decimal.Zero, err
	}
	if reverse != nil && !reverse.IsZero() {
		return decimal.NewFromInt(1).Div(*reverse), nil
	}

	base := normalizeCurrency(c.baseCurrency)
	if from != base && to != base {
		toBase, err := c.GetFxRate(ctx, from, base)
		if err != nil {
			return decimal.Zero, err
		}
		baseToTarget, err := c.GetFxRate(ctx, base, to)
		if err != nil {
			return decimal.Zero, err
		}
		return toBase.Mul(baseToTarget), nil
	}

	return decimal.Zero, NewError(ErrCodeNotFound, fmt.Sprintf("fx rate missing for %s/%s", from, to))
}

// ConvertAmount converts an amount between currencies using GetFxRate.
func (c *Core) ConvertAmount(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	rate, err := c.GetFxRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate), nil
}

func (c *Core) latestFxRate(ctx context.Context, from, to string) (*decimal.Decimal, error) {
	var rate float64
	err := c.db.QueryRowContext(ctx, `
		SELECT rate FROM fx_rates
		WHERE base_currency = ? AND quote_currency = ?
		ORDER BY as_of DESC LIMIT 1
	`, from, to).Scan(&rate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "query fx rate", err)
	}
	d := decimal.NewFromFloat(rate)
	return &d, nil
}

// SetFxRate records a manually maintained rate observation. Re-posting the
// same pair and as_of replaces the stored rate.
func (c *Core) SetFxRate(ctx context.Context, rate FxRate) (*FxRate, error) {
	rate.BaseCurrency = normalizeCurrency(rate.BaseCurrency)
	rate.QuoteCurrency = normalizeCurrency(rate.QuoteCurrency)
	if rate.BaseCurrency == "" || rate.QuoteCurrency == "" {
		return nil, NewFieldError("currency", "base_currency and quote_currency are required")
	}
	if rate.BaseCurrency == rate.QuoteCurrency {
		return nil, NewFieldError("quote_currency", "currencies must differ")
	}
	if !rate.Rate.IsPositive() {
		return nil, NewFieldError("rate", "rate must be positive")
	}
	if rate.AsOf == "" {
		rate.AsOf = nowUTC()
	}
	rate.Source = defaultString(rate.Source, "manual")

	var saved *FxRate
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		value, _ := rate.Rate.Value()
		result, err := tx.Exec(`
			INSERT INTO fx_rates (base_currency, quote_currency, rate, as_of, source)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(base_currency, quote_currency, as_of) DO UPDATE SET rate = excluded.rate, source = excluded.source
		`, rate.BaseCurrency, rate.QuoteCurrency, value, rate.AsOf, rate.Source)
		if err != nil {
			return WrapError(ErrCodeDatabase, "insert fx rate", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return WrapError(ErrCodeDatabase, "read fx rate id", err)
		}
		rate.ID = id
		saved = &rate
		return c.writeAuditTx(tx, "fx_rate", id, auditActionCreate, nil, saved)
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// GetFxRates returns stored rates, newest first.
func (c *Core) GetFxRates(ctx context.Context, limit int) ([]FxRate, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, base_currency, quote_currency, rate, as_of, source
		FROM fx_rates ORDER BY as_of DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "query fx rates", err)
	}
	defer rows.Close()

	var rates []FxRate
	for rows.Next() {
		var r FxRate
		if err := rows.Scan(&r.ID, &r.BaseCurrency, &r.QuoteCurrency, &r.Rate, &r.AsOf, &r.Source); err != nil {
			return nil, WrapError(ErrCodeDatabase, "scan fx rate", err)
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

// DeleteFxRate removes one stored rate.
func (c *Core) DeleteFxRate(ctx context.Context, id int64) error {
	return c.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.Exec("DELETE FROM fx_rates WHERE id = ?", id)
		if err != nil {
			return WrapError(ErrCodeDatabase, "delete fx rate", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return WrapError(ErrCodeDatabase, "count deleted fx rates", err)
		}
		if n == 0 {
			return NewError(ErrCodeNotFound, fmt.Sprintf("fx rate not found: %d", id))
		}
		return c.writeAuditTx(tx, "fx_rate", id, auditActionDelete, nil, nil)
	})
}
