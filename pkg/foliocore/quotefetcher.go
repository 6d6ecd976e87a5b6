package foliocore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// defaultQuoteURL is the batch quote endpoint. Override with Options.QuoteURL
// (or a fully injected provider) for testing.
const defaultQuoteURL = "https://query1.finance.yahoo.com/v7/finance/quote"

// ProviderQuote is one symbol's answer from the external quote source.
type ProviderQuote struct {
	Symbol    string
	Price     decimal.Decimal
	Currency  string
	Name      string
	Market    string
	QuoteType string
	QuotedAt  time.Time
}

// QuoteProvider abstracts the external quote source. FetchQuotes returns a
// map keyed by upper-cased symbol; symbols the provider does not know are
// simply absent. LookupQuote resolves a single symbol and distinguishes
// rate-limited from not-found via the provider error sentinels.
type QuoteProvider interface {
	FetchQuotes(ctx context.Context, symbols []string) (map[string]ProviderQuote, error)
	LookupQuote(ctx context.Context, symbol string) (*ProviderQuote, error)
}

// HTTPDoer lets tests inject a fake HTTP client.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

type quoteFetcherOptions struct {
	Logger        *slog.Logger
	QuoteURL      string
	HTTPTimeout   time.Duration
	HTTPClient    HTTPDoer
	CacheTTL      time.Duration
	FailThreshold int
	Cooldown      time.Duration
}

type quoteFetcher struct {
	logger        *slog.Logger
	quoteURL      string
	client        HTTPDoer
	cacheTTL      time.Duration
	failThreshold int
	cooldown      time.Duration

	cacheMu sync.RWMutex
	cache   map[string]cachedQuote

	circuitMu     sync.Mutex
	failCount     int
	cooldownUntil time.Time
}

type cachedQuote struct {
	quote ProviderQuote
	ts    time.Time
}

func newQuoteFetcher(opts quoteFetcherOptions) *quoteFetcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultDuration(opts.HTTPTimeout, 15*time.Second)}
	}
	return &quoteFetcher{
		logger:        logger,
		quoteURL:      defaultString(opts.QuoteURL, defaultQuoteURL),
		client:        client,
		cacheTTL:      defaultDuration(opts.CacheTTL, time.Minute),
		failThreshold: defaultInt(opts.FailThreshold, 3),
		cooldown:      defaultDuration(opts.Cooldown, 5*time.Minute),
		cache:         map[string]cachedQuote{},
	}
}

func defaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// yahooQuoteResponse mirrors the v7 quote payload shape.
type yahooQuoteResponse struct {
	QuoteResponse struct {
		Result []yahooQuoteRow `json:"result"`
	} `json:"quoteResponse"`
}

type yahooQuoteRow struct {
	Symbol             string   `json:"symbol"`
	RegularMarketPrice *float64 `json:"regularMarketPrice"`
	Currency           string   `json:"currency"`
	RegularMarketTime  int64    `json:"regularMarketTime"`
	LongName           string   `json:"longName"`
	ShortName          string   `json:"shortName"`
	DisplayName        string   `json:"displayName"`
	FullExchangeName   string   `json:"fullExchangeName"`
	Exchange           string   `json:"exchange"`
	QuoteType          string   `json:"quoteType"`
}

// FetchQuotes resolves a batch of symbols in one request. A short cache
// absorbs repeated refreshes, and repeated upstream failures open a cooldown
// window during which requests fail fast with the rate-limited sentinel.
func (qf *quoteFetcher) FetchQuotes(ctx context.Context, symbols []string) (map[string]ProviderQuote, error) {
	results := map[string]ProviderQuote{}
	var missing []string
	for _, raw := range symbols {
		symbol := normalizeSymbol(raw)
		if symbol == "" {
			continue
		}
		if cached, ok := qf.getCached(symbol); ok {
			results[symbol] = cached
			continue
		}
		missing = append(missing, symbol)
	}
	if len(missing) == 0 {
		return results, nil
	}

	if !qf.available() {
		return results, ErrProviderRateLimited
	}

	fetched, err := qf.fetchBatch(ctx, missing)
	if err != nil {
		qf.recordFailure()
		return results, err
	}
	qf.recordSuccess()

	for symbol, quote := range fetched {
		qf.putCached(symbol, quote)
		results[symbol] = quote
	}
	return results, nil
}

// LookupQuote resolves a single symbol, returning ErrProviderNotFound when
// the provider has no data and ErrProviderRateLimited when throttled.
func (qf *quoteFetcher) LookupQuote(ctx context.Context, symbol string) (*ProviderQuote, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, NewFieldError("symbol", "symbol is required")
	}
	results, err := qf.FetchQuotes(ctx, []string{symbol})
	if err != nil {
		return nil, err
	}
	quote, ok := results[symbol]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &quote, nil
}

func (qf *quoteFetcher) fetchBatch(ctx context.Context, symbols []string) (map[string]ProviderQuote, error) {
	u, err := url.Parse(qf.quoteURL)
	if err != nil {
		return nil, WrapError(ErrCodeProvider, "bad quote url", err)
	}
	q := u.Query()
	q.Set("symbols", strings.Join(symbols, ","))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, WrapError(ErrCodeProvider, "build quote request", err)
	}
	// Heavy browser-like headers are more likely to be blocked upstream.
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "*/*")

	resp, err := qf.client.Do(req)
	if err != nil {
		return nil, WrapError(ErrCodeProvider, "quote request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrProviderRateLimited
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrProviderNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, WrapError(ErrCodeProvider,
			fmt.Sprintf("quote provider returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, WrapError(ErrCodeProvider, "read quote response", err)
	}
	var payload yahooQuoteResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, WrapError(ErrCodeProvider, "decode quote response", err)
	}

	results := map[string]ProviderQuote{}
	for _, row := range payload.QuoteResponse.Result {
		if row.Symbol == "" || row.RegularMarketPrice == nil {
			continue
		}
		symbol := normalizeSymbol(row.Symbol)
		quotedAt := time.Now().UTC()
		if row.RegularMarketTime > 0 {
			quotedAt = time.Unix(row.RegularMarketTime, 0).UTC()
		}
		name := row.LongName
		if name == "" {
			name = row.ShortName
		}
		if name == "" {
			name = row.DisplayName
		}
		market := row.FullExchangeName
		if market == "" {
			market = row.Exchange
		}
		results[symbol] = ProviderQuote{
			Symbol:    symbol,
			Price:     decimal.NewFromFloat(*row.RegularMarketPrice),
			Currency:  normalizeCurrency(defaultString(row.Currency, "USD")),
			Name:      name,
			Market:    market,
			QuoteType: row.QuoteType,
			QuotedAt:  quotedAt,
		}
	}
	return results, nil
}

func (qf *quoteFetcher) getCached(symbol string) (ProviderQuote, bool) {
	qf.cacheMu.RLock()
	defer qf.cacheMu.RUnlock()
	entry, ok := qf.cache[symbol]
	if !ok || time.Since(entry.ts) > qf.cacheTTL {
		return ProviderQuote{}, false
	}
	return entry.quote, true
}

func (qf *quoteFetcher) putCached(symbol string, quote ProviderQuote) {
	qf.cacheMu.Lock()
	defer qf.cacheMu.Unlock()
	qf.cache[symbol] = cachedQuote{quote: quote, ts: time.Now()}
}

func (qf *quoteFetcher) available() bool {
	qf.circuitMu.Lock()
	defer qf.circuitMu.Unlock()
	return time.Now().After(qf.cooldownUntil)
}

func (qf *quoteFetcher) recordFailure() {
	qf.circuitMu.Lock()
	defer qf.circuitMu.Unlock()
	qf.failCount++
	if qf.failCount >= qf.failThreshold {
		qf.cooldownUntil = time.Now().Add(qf.cooldown)
		qf.failCount = 0
		qf.logger.Warn("quote provider circuit opened", "cooldown", qf.cooldown.String())
	}
}

func (qf *quoteFetcher) recordSuccess() {
	qf.circuitMu.Lock()
	defer qf.circuitMu.Unlock()
	qf.failCount = 0
}
