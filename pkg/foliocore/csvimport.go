package foliocore

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ImportCSV parses and inserts transaction rows from CSV content. The
// expected header is
//
//	type,account_id,instrument_id,counterparty_account_id,quantity,price,amount,fee,tax,currency,executed_at,executed_tz,note
//
// with columns matched by name, so extra columns are ignored. Every row
// goes through the same validation as CreateTransaction, including transfer
// expansion. The whole batch runs in one database transaction with a
// savepoint per row, so a bad row rolls back only itself; with
// rollbackOnError set, any failure voids the entire batch and the result
// reports zero successes.
func (c *Core) ImportCSV(ctx context.Context, content string, rollbackOnError bool) (*ImportResult, error) {
	reader := csv.NewReader(strings.NewReader(content))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, NewFieldError("csv", "missing header row")
	}
	columnIndex := map[string]int{}
	for i, name := range header {
		columnIndex[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"type", "account_id", "amount", "executed_at"} {
		if _, ok := columnIndex[required]; !ok {
			return nil, NewFieldError("csv", fmt.Sprintf("missing required column: %s", required))
		}
	}

	result := &ImportResult{}
	err = c.WithTx(ctx, func(tx *sql.Tx) error {
		line := 1
		for {
			line++
			record, readErr := reader.Read()
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				result.TotalRows++
				result.Errors = append(result.Errors, ImportRowError{Line: line, Error: readErr.Error()})
				continue
			}
			result.TotalRows++

			req, parseErr := parseCSVRow(record, columnIndex)
			if parseErr != nil {
				result.Errors = append(result.Errors, ImportRowError{Line: line, Error: parseErr.Error()})
				continue
			}

			if rowErr := c.importRowTx(tx, line, *req); rowErr != nil {
				result.Errors = append(result.Errors, ImportRowError{Line: line, Error: rowErr.Error()})
				continue
			}
			result.SuccessRows++
		}

		result.FailedRows = len(result.Errors)
		if rollbackOnError && result.FailedRows > 0 {
			result.SuccessRows = 0
			return NewError(ErrCodeValidation, "batch voided by rollback_on_error")
		}
		return nil
	})
	if err != nil {
		// The voided-batch path still reports the per-row outcome.
		if rollbackOnError && result.FailedRows > 0 {
			return result, nil
		}
		return nil, err
	}
	c.logger.Info("csv import finished",
		"total", result.TotalRows, "success", result.SuccessRows, "failed", result.FailedRows)
	return result, nil
}

// importRowTx wraps one row in a savepoint so its failure cannot poison the
// surrounding batch transaction.
func (c *Core) importRowTx(tx *sql.Tx, line int, req CreateTransactionRequest) error {
	savepoint := fmt.Sprintf("csv_row_%d", line)
	if _, err := tx.Exec("SAVEPOINT " + savepoint); err != nil {
		return WrapError(ErrCodeDatabase, "create savepoint", err)
	}

	if err := c.validateTransactionRequest(&req); err != nil {
		_, _ = tx.Exec("ROLLBACK TO SAVEPOINT " + savepoint)
		return err
	}
	if req.InstrumentID == nil && instrumentRequiredTypes[req.Type] {
		_, _ = tx.Exec("ROLLBACK TO SAVEPOINT " + savepoint)
		return NewFieldError("instrument_id", fmt.Sprintf("instrument_id is required for %s", req.Type))
	}

	if _, err := c.createTransactionTx(tx, req, nil); err != nil {
		_, _ = tx.Exec("ROLLBACK TO SAVEPOINT " + savepoint)
		return err
	}
	if _, err := tx.Exec("RELEASE SAVEPOINT " + savepoint); err != nil {
		return WrapError(ErrCodeDatabase, "release savepoint", err)
	}
	return nil
}

func parseCSVRow(record []string, columnIndex map[string]int) (*CreateTransactionRequest, error) {
	field := func(name string) string {
		i, ok := columnIndex[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	req := CreateTransactionRequest{
		Type:       strings.ToUpper(field("type")),
		Currency:   field("currency"),
		ExecutedAt: field("executed_at"),
		ExecutedTz: field("executed_tz"),
	}

	accountID, err := strconv.ParseInt(field("account_id"), 10, 64)
	if err != nil {
		return nil, NewFieldError("account_id", "invalid account_id")
	}
	req.AccountID = accountID

	if raw := field("instrument_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, NewFieldError("instrument_id", "invalid instrument_id")
		}
		req.InstrumentID = &id
	}
	if raw := field("counterparty_account_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, NewFieldError("counterparty_account_id", "invalid counterparty_account_id")
		}
		req.CounterpartyAccountID = &id
	}

	if raw := field("quantity"); raw != "" {
		quantity, err := ParseAmount(raw)
		if err != nil {
			return nil, NewFieldError("quantity", "invalid quantity")
		}
		req.Quantity = &quantity
	}
	if raw := field("price"); raw != "" {
		price, err := ParseAmount(raw)
		if err != nil {
			return nil, NewFieldError("price", "invalid price")
		}
		req.Price = &price
	}

	amount, err := ParseAmount(defaultString(field("amount"), "0"))
	if err != nil {
		return nil, NewFieldError("amount", "invalid amount")
	}
	req.Amount = amount

	fee, err := ParseAmount(defaultString(field("fee"), "0"))
	if err != nil {
		return nil, NewFieldError("fee", "invalid fee")
	}
	req.Fee = fee

	tax, err := ParseAmount(defaultString(field("tax"), "0"))
	if err != nil {
		return nil, NewFieldError("tax", "invalid tax")
	}
	req.Tax = tax

	if note := field("note"); note != "" {
		req.Note = &note
	}
	return &req, nil
}
