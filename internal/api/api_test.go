package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foliocore/pkg/foliocore"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	core, err := foliocore.OpenWithOptions(foliocore.Options{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Logger: logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = core.Close() })

	srv := httptest.NewServer(NewRouter(core, logger))
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if s, ok := body.(string); ok {
		reader = strings.NewReader(s)
	} else if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	var body map[string]string
	status := doRequest(t, http.MethodGet, srv.URL+"/api/v1/health", nil, &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestAccountEndpoints(t *testing.T) {
	srv := newTestServer(t)

	var created foliocore.Account
	status := doRequest(t, http.MethodPost, srv.URL+"/api/v1/accounts",
		map[string]any{"name": "Broker A", "type": "BROKERAGE"}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Broker A", created.Name)
	assert.Equal(t, "CNY", created.BaseCurrency)

	var dup ErrorResponse
	status = doRequest(t, http.MethodPost, srv.URL+"/api/v1/accounts",
		map[string]any{"name": "Broker A", "type": "CASH"}, &dup)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "DUPLICATE", dup.ErrorCode)

	var renamed foliocore.Account
	status = doRequest(t, http.MethodPatch, srv.URL+"/api/v1/accounts/1",
		map[string]any{"name": "Broker B"}, &renamed)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Broker B", renamed.Name)

	var accounts []foliocore.Account
	status = doRequest(t, http.MethodGet, srv.URL+"/api/v1/accounts", nil, &accounts)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, accounts, 1)
}

func TestErrorStatusMapping(t *testing.T) {
	srv := newTestServer(t)

	var missing ErrorResponse
	status := doRequest(t, http.MethodPatch, srv.URL+"/api/v1/accounts/9999",
		map[string]any{"name": "X"}, &missing)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", missing.ErrorCode)

	var invalid ErrorResponse
	status = doRequest(t, http.MethodPost, srv.URL+"/api/v1/transactions",
		map[string]any{"type": "SHORT", "account_id": 1, "amount": 1, "executed_at": "2024-01-02"}, &invalid)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", invalid.ErrorCode)
	assert.Equal(t, "type", invalid.Field)

	var unknownField ErrorResponse
	status = doRequest(t, http.MethodPost, srv.URL+"/api/v1/accounts",
		map[string]any{"name": "A", "type": "CASH", "bogus": true}, &unknownField)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestTransactionFlow(t *testing.T) {
	srv := newTestServer(t)

	var account foliocore.Account
	require.Equal(t, http.StatusCreated, doRequest(t, http.MethodPost, srv.URL+"/api/v1/accounts",
		map[string]any{"name": "Broker A", "type": "BROKERAGE"}, &account))

	var instrument foliocore.Instrument
	require.Equal(t, http.StatusCreated, doRequest(t, http.MethodPost, srv.URL+"/api/v1/instruments",
		map[string]any{"symbol": "600519.SS", "market": "SH", "type": "STOCK", "currency": "CNY", "name": "Moutai"}, &instrument))

	var deposit foliocore.Transaction
	require.Equal(t, http.StatusCreated, doRequest(t, http.MethodPost, srv.URL+"/api/v1/transactions",
		map[string]any{"type": "CASH_IN", "account_id": account.ID, "amount": 10000, "executed_at": "2024-01-02T09:00:00Z"}, &deposit))

	var buy foliocore.Transaction
	require.Equal(t, http.StatusCreated, doRequest(t, http.MethodPost, srv.URL+"/api/v1/transactions",
		map[string]any{
			"type": "BUY", "account_id": account.ID, "instrument_id": instrument.ID,
			"quantity": 10, "price": 100, "amount": 1000, "fee": 1,
			"executed_at": "2024-01-03T10:00:00Z",
		}, &buy))

	// Selling more than held is rejected with the oversell code.
	var oversell ErrorResponse
	status := doRequest(t, http.MethodPost, srv.URL+"/api/v1/transactions",
		map[string]any{
			"type": "SELL", "account_id": account.ID, "instrument_id": instrument.ID,
			"quantity": 11, "price": 100, "amount": 1100,
			"executed_at": "2024-01-04T10:00:00Z",
		}, &oversell)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INSUFFICIENT_POSITION", oversell.ErrorCode)

	var holdings []foliocore.Holding
	require.Equal(t, http.StatusOK, doRequest(t, http.MethodGet, srv.URL+"/api/v1/holdings", nil, &holdings))
	require.Len(t, holdings, 1)
	assert.Equal(t, "600519.SS", holdings[0].Symbol)

	var balances []foliocore.CashBalance
	require.Equal(t, http.StatusOK, doRequest(t, http.MethodGet, srv.URL+"/api/v1/cash-balances", nil, &balances))
	require.Len(t, balances, 1)

	var filtered []foliocore.Transaction
	require.Equal(t, http.StatusOK, doRequest(t, http.MethodGet,
		srv.URL+"/api/v1/transactions?type=BUY", nil, &filtered))
	require.Len(t, filtered, 1)
	assert.Equal(t, buy.ID, filtered[0].ID)

	var reversal foliocore.Transaction
	require.Equal(t, http.StatusCreated, doRequest(t, http.MethodPost,
		srv.URL+"/api/v1/transactions/"+strconv.FormatInt(buy.ID, 10)+"/reverse", nil, &reversal))
	assert.Equal(t, "SELL", reversal.Type)
}

func TestImportCSVEndpoint(t *testing.T) {
	srv := newTestServer(t)

	var account foliocore.Account
	require.Equal(t, http.StatusCreated, doRequest(t, http.MethodPost, srv.URL+"/api/v1/accounts",
		map[string]any{"name": "Broker A", "type": "BROKERAGE"}, &account))

	csv := "type,account_id,instrument_id,quantity,price,amount,fee,tax,currency,executed_at\n" +
		"CASH_IN,1,,,,5000,,,CNY,2024-01-02\n" +
		"CASH_OUT,1,,,,99999,,,CNY,2024-01-03\n"

	var result foliocore.ImportResult
	status := doRequest(t, http.MethodPost, srv.URL+"/api/v1/transactions/import-csv", csv, &result)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, result.TotalRows)
	assert.Equal(t, 2, result.SuccessRows, "withdrawals may overdraw cash")

	var rollback foliocore.ImportResult
	badCSV := "type,account_id,amount,currency,executed_at\n" +
		"CASH_IN,1,1000,CNY,2024-01-04\n" +
		"CASH_IN,banana,1000,CNY,2024-01-05\n"
	status = doRequest(t, http.MethodPost,
		srv.URL+"/api/v1/transactions/import-csv?rollback_on_error=true", badCSV, &rollback)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, rollback.SuccessRows)
	assert.Equal(t, 1, rollback.FailedRows)
}

func TestAllocationEndpoints(t *testing.T) {
	srv := newTestServer(t)

	var equities foliocore.AllocationNode
	require.Equal(t, http.StatusCreated, doRequest(t, http.MethodPost, srv.URL+"/api/v1/allocation/nodes",
		map[string]any{"name": "Equities", "target_weight": 60}, &equities))
	var bonds foliocore.AllocationNode
	require.Equal(t, http.StatusCreated, doRequest(t, http.MethodPost, srv.URL+"/api/v1/allocation/nodes",
		map[string]any{"name": "Bonds", "target_weight": 40}, &bonds))

	var rejected ErrorResponse
	status := doRequest(t, http.MethodPatch, srv.URL+"/api/v1/allocation/nodes/weights/batch",
		map[string]any{"parent_id": nil, "items": []map[string]any{
			{"id": equities.ID, "target_weight": 60},
			{"id": bonds.ID, "target_weight": 30},
		}}, &rejected)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", rejected.ErrorCode)

	var updated []foliocore.AllocationNode
	status = doRequest(t, http.MethodPatch, srv.URL+"/api/v1/allocation/nodes/weights/batch",
		map[string]any{"parent_id": nil, "items": []map[string]any{
			{"id": equities.ID, "target_weight": 70},
			{"id": bonds.ID, "target_weight": 30},
		}}, &updated)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, updated, 2)

	var drift []foliocore.DriftItem
	require.Equal(t, http.StatusOK, doRequest(t, http.MethodGet, srv.URL+"/api/v1/rebalance/drift", nil, &drift))
	assert.Len(t, drift, 2)

	var summary foliocore.DashboardSummary
	require.Equal(t, http.StatusOK, doRequest(t, http.MethodGet, srv.URL+"/api/v1/dashboard/summary", nil, &summary))
	assert.Equal(t, "CNY", summary.BaseCurrency)
}

func TestQuoteEndpointsRequireInstrument(t *testing.T) {
	srv := newTestServer(t)

	status := doRequest(t, http.MethodGet, srv.URL+"/api/v1/quotes/latest", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = doRequest(t, http.MethodGet, srv.URL+"/api/v1/quotes", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// Refreshing with no instruments never reaches the provider.
	var result foliocore.RefreshResult
	status = doRequest(t, http.MethodPost, srv.URL+"/api/v1/quotes/refresh", nil, &result)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, result.Requested)
}

func TestFxRateEndpoints(t *testing.T) {
	srv := newTestServer(t)

	var saved foliocore.FxRate
	status := doRequest(t, http.MethodPut, srv.URL+"/api/v1/fx-rates",
		map[string]any{"base_currency": "usd", "quote_currency": "cny", "rate": 7.2, "as_of": "2024-01-02T00:00:00Z"}, &saved)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "USD", saved.BaseCurrency)

	var rates []foliocore.FxRate
	require.Equal(t, http.StatusOK, doRequest(t, http.MethodGet, srv.URL+"/api/v1/fx-rates", nil, &rates))
	require.Len(t, rates, 1)

	status = doRequest(t, http.MethodDelete, srv.URL+"/api/v1/fx-rates/"+strconv.FormatInt(saved.ID, 10), nil, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t)
	status := doRequest(t, http.MethodGet, srv.URL+"/api/v1/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}
