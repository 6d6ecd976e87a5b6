package foliocore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Market-convention symbol shapes. Raw user input like SH600519, SZ000001,
// OF110011, or HK700 is expanded into the provider's canonical suffix forms.
var (
	reCNPrefixed = regexp.MustCompile(`^(SH|SZ|OF)(\d{6})$`)
	reHKPrefixed = regexp.MustCompile(`^HK(\d{1,5})$`)
	reCNSuffixed = regexp.MustCompile(`^(\d{1,6})\.(SH|SS|SZ|OF|HK)$`)
	reSixDigits  = regexp.MustCompile(`^\d{6}$`)
	reHKDigits   = regexp.MustCompile(`^\d{1,5}$`)
)

// buildSymbolCandidates returns lookup candidates in priority order, the raw
// normalized symbol first.
func buildSymbolCandidates(raw string) []string {
	normalized := normalizeSymbol(raw)
	if normalized == "" {
		return nil
	}
	candidates := []string{normalized}

	if m := reCNPrefixed.FindStringSubmatch(normalized); m != nil {
		prefix, digits := m[1], m[2]
		switch prefix {
		case "SH":
			candidates = append(candidates, digits+".SS")
		case "SZ":
			candidates = append(candidates, digits+".SZ")
		case "OF":
			candidates = append(candidates, digits+".OF")
		}
	}

	if m := reHKPrefixed.FindStringSubmatch(normalized); m != nil {
		digits := m[1]
		if len(digits) == 5 && strings.HasPrefix(digits, "0") {
			candidates = append(candidates, digits[1:]+".HK")
		}
		if len(digits) <= 4 {
			candidates = append(candidates, fmt.Sprintf("%04s.HK", digits))
		}
		candidates = append(candidates, digits+".HK")
	}

	if m := reCNSuffixed.FindStringSubmatch(normalized); m != nil {
		digits, suffix := m[1], m[2]
		switch suffix {
		case "SH":
			candidates = append(candidates, digits+".SS")
		case "SS":
			candidates = append(candidates, digits+".SH")
		case "SZ", "OF":
			candidates = append(candidates, digits+"."+suffix)
		case "HK":
			if len(digits) == 5 && strings.HasPrefix(digits, "0") {
				candidates = append(candidates, digits[1:]+".HK")
			} else if len(digits) <= 4 {
				candidates = append(candidates, fmt.Sprintf("%04s.HK", digits))
			}
		}
	}

	if reSixDigits.MatchString(normalized) {
		switch normalized[0] {
		case '6', '5', '9':
			candidates = append(candidates, normalized+".SS", normalized+".SZ")
		case '0', '1', '2', '3':
			candidates = append(candidates, normalized+".SZ", normalized+".SS")
		default:
			candidates = append(candidates, normalized+".SS", normalized+".SZ")
		}
		// Chinese mutual funds usually carry the .OF suffix upstream.
		candidates = append(candidates, normalized+".OF")
	}

	if reHKDigits.MatchString(normalized) {
		if len(normalized) == 5 && strings.HasPrefix(normalized, "0") {
			candidates = append(candidates, normalized[1:]+".HK")
		}
		if len(normalized) <= 4 {
			candidates = append(candidates, fmt.Sprintf("%04s.HK", normalized))
		}
		candidates = append(candidates, normalized+".HK")
	}

	return lo.Uniq(candidates)
}

// inferCurrency guesses the trading currency from the symbol suffix.
func inferCurrency(symbol string) string {
	upper := normalizeSymbol(symbol)
	switch {
	case strings.HasSuffix(upper, ".SS"), strings.HasSuffix(upper, ".SZ"), strings.HasSuffix(upper, ".OF"):
		return "CNY"
	case strings.HasSuffix(upper, ".HK"):
		return "HKD"
	case strings.HasSuffix(upper, ".T"):
		return "JPY"
	case strings.HasSuffix(upper, ".L"):
		return "GBP"
	}
	return "USD"
}

// GetLatestPrice resolves an instrument's current price: a manual override
// wins, then the newest successful provider quote, else no price at all.
func (c *Core) GetLatestPrice(ctx context.Context, instrumentID int64) (*LatestQuote, error) {
	latest := &LatestQuote{InstrumentID: instrumentID}

	var price float64
	var currency, source string
	err := c.db.QueryRowContext(ctx, `
		SELECT price, currency, 'manual' FROM manual_price_overrides
		WHERE instrument_id = ? ORDER BY overridden_at DESC, id DESC LIMIT 1
	`, instrumentID).Scan(&price, &currency, &source)
	if err == nil {
		latest.Price = amountPtr(NewAmount(price))
		latest.Currency = &currency
		latest.Source = &source
		return latest, nil
	}
	if err != sql.ErrNoRows {
		return nil, WrapError(ErrCodeDatabase, "query manual override", err)
	}

	err = c.db.QueryRowContext(ctx, `
		SELECT price, currency, source FROM quotes
		WHERE instrument_id = ? AND provider_status IN (?, ?)
		ORDER BY quoted_at DESC, id DESC LIMIT 1
	`, instrumentID, QuoteStatusSuccess, QuoteStatusManualOverride).Scan(&price, &currency, &source)
	if err == sql.ErrNoRows {
		return latest, nil
	}
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "query latest quote", err)
	}
	latest.Price = amountPtr(NewAmount(price))
	latest.Currency = &currency
	latest.Source = &source
	return latest, nil
}

// RefreshQuotes fetches fresh prices for the given instruments (all
// non-custom instruments when ids is empty) and records one quote row per
// instrument, failed attempts included so retry throttling has something to
// look at.
func (c *Core) RefreshQuotes(ctx context.Context, instrumentIDs []int64) (*RefreshResult, error) {
	instruments, err := c.GetInstruments(ctx)
	if err != nil {
		return nil, err
	}
	if len(instrumentIDs) > 0 {
		wanted := lo.SliceToMap(instrumentIDs, func(id int64) (int64, bool) { return id, true })
		instruments = lo.Filter(instruments, func(inst Instrument, _ int) bool { return wanted[inst.ID] })
	}
	instruments = lo.Filter(instruments, func(inst Instrument, _ int) bool { return inst.Market != MarketCustom })

	result := &RefreshResult{Requested: len(instruments)}
	if len(instruments) == 0 {
		return result, nil
	}

	symbols := lo.Map(instruments, func(inst Instrument, _ int) string { return inst.Symbol })
	quotes, fetchErr := c.quotes.FetchQuotes(ctx, symbols)

	now := nowUTC()
	err = c.WithTx(ctx, func(tx *sql.Tx) error {
		for _, inst := range instruments {
			quote, ok := quotes[inst.Symbol]
			if fetchErr != nil && !ok {
				result.Failed++
				if err := c.insertQuoteTx(tx, inst.ID, now, 0, inst.Currency, "yahoo", QuoteStatusFailed); err != nil {
					return err
				}
				result.Details = append(result.Details, RefreshDetail{
					InstrumentID: inst.ID,
					Symbol:       inst.Symbol,
					Status:       "failed",
					Reason:       fetchErr.Error(),
				})
				continue
			}
			if !ok {
				result.Failed++
				if err := c.insertQuoteTx(tx, inst.ID, now, 0, inst.Currency, "yahoo", QuoteStatusFailed); err != nil {
					return err
				}
				result.Details = append(result.Details, RefreshDetail{
					InstrumentID: inst.ID,
					Symbol:       inst.Symbol,
					Status:       "failed",
					Reason:       "quote missing",
				})
				continue
			}

			quotedAt := now
			if !quote.QuotedAt.IsZero() {
				quotedAt = quote.QuotedAt.UTC().Format(executedAtLayout)
			}
			price, _ := quote.Price.Float64()
			currency := defaultString(quote.Currency, inst.Currency)
			if err := c.insertQuoteTx(tx, inst.ID, quotedAt, price, currency, "yahoo", QuoteStatusSuccess); err != nil {
				return err
			}
			result.Updated++
			result.Details = append(result.Details, RefreshDetail{
				InstrumentID: inst.ID,
				Symbol:       inst.Symbol,
				Status:       "updated",
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("quote refresh finished",
		"requested", result.Requested, "updated", result.Updated, "failed", result.Failed)
	return result, nil
}

func (c *Core) insertQuoteTx(tx *sql.Tx, instrumentID int64, quotedAt string, price float64, currency, source, status string) error {
	if _, err := tx.Exec(`
		INSERT INTO quotes (instrument_id, quoted_at, price, currency, source, provider_status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, instrumentID, quotedAt, price, normalizeCurrency(currency), source, status); err != nil {
		return WrapError(ErrCodeDatabase, "insert quote", err)
	}
	return nil
}

// GetQuotes returns recorded quotes for an instrument, newest first.
func (c *Core) GetQuotes(ctx context.Context, instrumentID int64, limit int) ([]Quote, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, instrument_id, quoted_at, price, currency, source, provider_status
		FROM quotes WHERE instrument_id = ? ORDER BY quoted_at DESC, id DESC LIMIT ?
	`, instrumentID, limit)
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "query quotes", err)
	}
	defer rows.Close()

	var quotes []Quote
	for rows.Next() {
		var q Quote
		if err := rows.Scan(&q.ID, &q.InstrumentID, &q.QuotedAt, &q.Price, &q.Currency, &q.Source, &q.ProviderStatus); err != nil {
			return nil, WrapError(ErrCodeDatabase, "scan quote", err)
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// CreateManualOverride pins an instrument's price ahead of provider quotes.
// A matching MANUAL_OVERRIDE quote row is recorded so the price history and
// the returns curve see the override too.
func (c *Core) CreateManualOverride(ctx context.Context, override ManualPriceOverride) (*ManualPriceOverride, error) {
	if !override.Price.IsPositive() {
		return nil, NewFieldError("price", "price must be positive")
	}
	override.Currency = normalizeCurrency(override.Currency)
	if override.Currency == "" {
		return nil, NewFieldError("currency", "currency is required")
	}
	if override.OverriddenAt == "" {
		override.OverriddenAt = nowUTC()
	}
	override.Operator = defaultString(override.Operator, "single-user")

	var created *ManualPriceOverride
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		ok, err := c.instrumentExistsTx(tx, override.InstrumentID)
		if err != nil {
			return WrapError(ErrCodeDatabase, "check instrument", err)
		}
		if !ok {
			return NewError(ErrCodeReferential, fmt.Sprintf("instrument not found: %d", override.InstrumentID))
		}

		price, _ := override.Price.Value()
		result, err := tx.Exec(`
			INSERT INTO manual_price_overrides (instrument_id, price, currency, overridden_at, operator, reason)
			VALUES (?, ?, ?, ?, ?, ?)
		`, override.InstrumentID, price, override.Currency, override.OverriddenAt,
			override.Operator, nullableString(override.Reason))
		if err != nil {
			return WrapError(ErrCodeDatabase, "insert manual override", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return WrapError(ErrCodeDatabase, "read override id", err)
		}
		override.ID = id

		if err := c.insertQuoteTx(tx, override.InstrumentID, override.OverriddenAt,
			priceFloat(override.Price), override.Currency, "manual", QuoteStatusManualOverride); err != nil {
			return err
		}

		created = &override
		return c.writeAuditTx(tx, "manual_price_override", override.InstrumentID, auditActionCreate, nil, created)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func priceFloat(a Amount) float64 {
	f, _ := a.Float64()
	return f
}

// GetManualOverrides returns overrides for an instrument, newest first. A
// zero instrumentID matches all.
func (c *Core) GetManualOverrides(ctx context.Context, instrumentID int64) ([]ManualPriceOverride, error) {
	query := "SELECT id, instrument_id, price, currency, overridden_at, operator, reason FROM manual_price_overrides"
	args := []any{}
	if instrumentID > 0 {
		query += " WHERE instrument_id = ?"
		args = append(args, instrumentID)
	}
	query += " ORDER BY overridden_at DESC, id DESC"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "query manual overrides", err)
	}
	defer rows.Close()

	var overrides []ManualPriceOverride
	for rows.Next() {
		var o ManualPriceOverride
		var reason sql.NullString
		if err := rows.Scan(&o.ID, &o.InstrumentID, &o.Price, &o.Currency, &o.OverriddenAt, &o.Operator, &reason); err != nil {
			return nil, WrapError(ErrCodeDatabase, "scan manual override", err)
		}
		if reason.Valid {
			o.Reason = &reason.String
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// LookupSymbol resolves a raw symbol through the provider, trying the
// market-convention candidates in order and returning the first hit. A
// rate-limited provider aborts the walk immediately since further candidates
// would only hit the same wall.
func (c *Core) LookupSymbol(ctx context.Context, rawSymbol string) (*SymbolLookupResult, error) {
	normalized := normalizeSymbol(rawSymbol)
	result := &SymbolLookupResult{Symbol: normalized}
	if normalized == "" {
		result.ProviderStatus = ProviderStatusFailed
		result.Message = "symbol is empty"
		return result, nil
	}

	candidates := buildSymbolCandidates(normalized)
	var lastErr error
	for _, candidate := range candidates {
		quote, err := c.quotes.LookupQuote(ctx, candidate)
		if err != nil {
			lastErr = err
			if ProviderStatusOf(err) == ProviderStatusRateLimited {
				break
			}
			continue
		}
		quotedAt := quote.QuotedAt.UTC().Format(time.RFC3339)
		result.Found = true
		result.MatchedSymbol = &quote.Symbol
		result.ProviderStatus = ProviderStatusSuccess
		result.Name = quote.Name
		result.Price = amountPtr(amountOf(quote.Price))
		result.Currency = quote.Currency
		result.Market = quote.Market
		result.QuoteType = quote.QuoteType
		result.QuotedAt = &quotedAt
		return result, nil
	}

	result.ProviderStatus = ProviderStatusOf(lastErr)
	if lastErr != nil {
		result.Message = lastErr.Error()
	} else {
		result.ProviderStatus = ProviderStatusNotFound
		result.Message = "no candidate matched"
	}
	return result, nil
}

func (c *Core) findInstrumentBySymbol(ctx context.Context, rawSymbol string) (*Instrument, error) {
	symbol := normalizeSymbol(rawSymbol)
	row := c.db.QueryRowContext(ctx, `
		SELECT id, symbol, market, type, currency, name, default_account_id, allocation_node_id, created_at, updated_at
		FROM instruments WHERE symbol = ?
	`, symbol)
	inst, err := scanInstrument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// resolveInstrumentFromProvider turns a raw symbol into an Instrument value
// ready for insertion, using the provider lookup. Provider failures surface
// with their status preserved so the caller can distinguish retryable
// rate-limits from a genuinely unknown symbol.
func (c *Core) resolveInstrumentFromProvider(ctx context.Context, rawSymbol string) (*Instrument, error) {
	lookup, err := c.LookupSymbol(ctx, rawSymbol)
	if err != nil {
		return nil, err
	}
	if !lookup.Found || lookup.MatchedSymbol == nil {
		switch lookup.ProviderStatus {
		case ProviderStatusRateLimited:
			return nil, WrapError(ErrCodeProvider,
				fmt.Sprintf("symbol resolution rate limited: %s", rawSymbol), ErrProviderRateLimited)
		case ProviderStatusNotFound:
			return nil, WrapError(ErrCodeProvider,
				fmt.Sprintf("symbol not found: %s", rawSymbol), ErrProviderNotFound)
		}
		return nil, NewError(ErrCodeProvider, fmt.Sprintf("symbol resolution failed: %s", rawSymbol))
	}

	instType := InstrumentTypeStock
	if strings.Contains(strings.ToUpper(lookup.QuoteType), "FUND") {
		instType = InstrumentTypeFund
	}
	name := defaultString(lookup.Name, *lookup.MatchedSymbol)
	currency := defaultString(lookup.Currency, inferCurrency(*lookup.MatchedSymbol))
	market := defaultString(lookup.Market, "UNKNOWN")

	return &Instrument{
		Symbol:   *lookup.MatchedSymbol,
		Market:   strings.ToUpper(market),
		Type:     instType,
		Currency: normalizeCurrency(currency),
		Name:     name,
	}, nil
}
