package mobile

import (
	"context"
	"encoding/json"

	"foliocore/pkg/foliocore"
)

// Core wraps the portfolio core for gomobile bindings. Inputs and outputs
// cross the bridge as JSON strings since gomobile cannot express slices of
// structs or pointer-heavy types.
type Core struct {
	core *foliocore.Core
}

// Open initializes the core with a database path.
func Open(dbPath string) (*Core, error) {
	core, err := foliocore.Open(dbPath)
	if err != nil {
		return nil, err
	}
	return &Core{core: core}, nil
}

// Close releases resources.
func (c *Core) Close() error {
	if c == nil || c.core == nil {
		return nil
	}
	return c.core.Close()
}

// GetAccountsJSON returns all accounts as JSON.
func (c *Core) GetAccountsJSON() (string, error) {
	data, err := c.core.GetAccounts(context.Background())
	if err != nil {
		return "", err
	}
	return marshalJSON(data)
}

// CreateAccountJSON creates an account from JSON and returns it as JSON.
func (c *Core) CreateAccountJSON(payloadJSON string) (string, error) {
	var account foliocore.Account
	if err := json.Unmarshal([]byte(payloadJSON), &account); err != nil {
		return "", err
	}
	created, err := c.core.CreateAccount(context.Background(), account)
	if err != nil {
		return "", err
	}
	return marshalJSON(created)
}

// GetHoldingsJSON returns current positions as JSON.
func (c *Core) GetHoldingsJSON() (string, error) {
	data, err := c.core.ListHoldings(context.Background())
	if err != nil {
		return "", err
	}
	return marshalJSON(data)
}

// GetCashBalancesJSON returns per-account cash balances as JSON.
func (c *Core) GetCashBalancesJSON() (string, error) {
	data, err := c.core.GetCashBalances(context.Background())
	if err != nil {
		return "", err
	}
	return marshalJSON(data)
}

// GetTransactionsJSON queries the ledger with optional filter JSON.
func (c *Core) GetTransactionsJSON(filterJSON string) (string, error) {
	filter := foliocore.TransactionFilter{}
	if filterJSON != "" {
		var payload transactionFilterPayload
		if err := json.Unmarshal([]byte(filterJSON), &payload); err != nil {
			return "", err
		}
		filter = foliocore.TransactionFilter{
			AccountID:    payload.AccountID,
			InstrumentID: payload.InstrumentID,
			Type:         payload.Type,
			Currency:     payload.Currency,
			StartDate:    payload.StartDate,
			EndDate:      payload.EndDate,
			Limit:        payload.Limit,
			Offset:       payload.Offset,
		}
	}
	data, err := c.core.GetTransactions(context.Background(), filter)
	if err != nil {
		return "", err
	}
	return marshalJSON(data)
}

// CreateTransactionJSON creates a ledger entry from JSON and returns the
// stored row (the outgoing leg for internal transfers) as JSON.
func (c *Core) CreateTransactionJSON(payloadJSON string) (string, error) {
	var req foliocore.CreateTransactionRequest
	if err := json.Unmarshal([]byte(payloadJSON), &req); err != nil {
		return "", err
	}
	tx, err := c.core.CreateTransaction(context.Background(), req)
	if err != nil {
		return "", err
	}
	return marshalJSON(tx)
}

// DeleteTransaction removes a ledger entry (both legs for transfers) and
// returns the number of rows removed.
func (c *Core) DeleteTransaction(id int64) (int, error) {
	result, err := c.core.DeleteTransaction(context.Background(), id)
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

// ReverseTransactionJSON books a compensating entry and returns it as JSON.
func (c *Core) ReverseTransactionJSON(id int64) (string, error) {
	tx, err := c.core.ReverseTransaction(context.Background(), id)
	if err != nil {
		return "", err
	}
	return marshalJSON(tx)
}

// ImportCSV imports transaction rows from CSV content and returns the
// per-row outcome as JSON.
func (c *Core) ImportCSV(content string, rollbackOnError bool) (string, error) {
	result, err := c.core.ImportCSV(context.Background(), content, rollbackOnError)
	if err != nil {
		return "", err
	}
	return marshalJSON(result)
}

// GetDashboardSummaryJSON returns portfolio totals and drift alerts as JSON.
func (c *Core) GetDashboardSummaryJSON() (string, error) {
	data, err := c.core.GetDashboardSummary(context.Background())
	if err != nil {
		return "", err
	}
	return marshalJSON(data)
}

// GetDriftJSON returns per-leaf allocation drift as JSON.
func (c *Core) GetDriftJSON() (string, error) {
	data, err := c.core.ComputeDrift(context.Background())
	if err != nil {
		return "", err
	}
	return marshalJSON(data)
}

// GetReturnsCurveJSON returns the returns curve for the given window as
// JSON.
func (c *Core) GetReturnsCurveJSON(days int) (string, error) {
	data, err := c.core.ReturnsCurve(context.Background(), days)
	if err != nil {
		return "", err
	}
	return marshalJSON(data)
}

func marshalJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type transactionFilterPayload struct {
	AccountID    int64  `json:"account_id"`
	InstrumentID int64  `json:"instrument_id"`
	Type         string `json:"type"`
	Currency     string `json:"currency"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	Limit        int    `json:"limit"`
	Offset       int    `json:"offset"`
}
