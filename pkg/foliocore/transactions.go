package foliocore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// reversalTypeMap maps each reversible transaction type to its economic
// mirror. INTERNAL_TRANSFER legs are excluded; they are deleted, not
// reversed.
var reversalTypeMap = map[string]string{
	TxTypeBuy:      TxTypeSell,
	TxTypeSell:     TxTypeBuy,
	TxTypeDividend: TxTypeCashOut,
	TxTypeFee:      TxTypeCashIn,
	TxTypeCashIn:   TxTypeCashOut,
	TxTypeCashOut:  TxTypeCashIn,
}

// instrumentRequiredTypes lists types that must reference an instrument.
var instrumentRequiredTypes = map[string]bool{
	TxTypeBuy:      true,
	TxTypeSell:     true,
	TxTypeDividend: true,
}

// CreateTransaction records one ledger event. An INTERNAL_TRANSFER expands
// into a CASH_OUT leg on the source account and a CASH_IN leg on the
// counterparty, sharing one generated transfer group id; both legs commit
// together or not at all. BUY/SELL with an unregistered symbol resolve the
// instrument through the quote provider before anything is written.
func (c *Core) CreateTransaction(ctx context.Context, req CreateTransactionRequest) (*Transaction, error) {
	if err := c.validateTransactionRequest(&req); err != nil {
		return nil, err
	}

	// Resolve an unknown symbol over the network before the write so a
	// provider failure leaves the ledger untouched. The instrument row
	// itself is inserted inside the same transaction as the ledger row.
	var resolved *Instrument
	if req.InstrumentID == nil && req.Symbol != "" && instrumentRequiredTypes[req.Type] {
		existing, err := c.findInstrumentBySymbol(ctx, req.Symbol)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			req.InstrumentID = &existing.ID
		} else {
			resolved, err = c.resolveInstrumentFromProvider(ctx, req.Symbol)
			if err != nil {
				return nil, err
			}
		}
	}
	if req.InstrumentID == nil && resolved == nil && instrumentRequiredTypes[req.Type] {
		return nil, NewFieldError("instrument_id", fmt.Sprintf("instrument_id is required for %s", req.Type))
	}

	var created *Transaction
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		created, txErr = c.createTransactionTx(tx, req, resolved)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (c *Core) validateTransactionRequest(req *CreateTransactionRequest) error {
	if !isValidTransactionType(req.Type) {
		return NewFieldError("type", fmt.Sprintf("invalid transaction type: %s", req.Type))
	}
	if req.AccountID == 0 {
		return NewFieldError("account_id", "account_id is required")
	}
	req.Currency = normalizeCurrency(defaultString(req.Currency, c.baseCurrency))
	if req.ExecutedTz == "" {
		req.ExecutedTz = c.defaultTimezone
	}
	normalized, err := normalizeExecutedAt(req.ExecutedAt, req.ExecutedTz)
	if err != nil {
		return err
	}
	req.ExecutedAt = normalized

	if !req.Amount.IsPositive() {
		return NewFieldError("amount", "amount must be positive")
	}
	if req.Fee.IsNegative() {
		return NewFieldError("fee", "fee cannot be negative")
	}
	if req.Tax.IsNegative() {
		return NewFieldError("tax", "tax cannot be negative")
	}

	switch req.Type {
	case TxTypeBuy, TxTypeSell:
		if req.Quantity == nil || !req.Quantity.IsPositive() {
			return NewFieldError("quantity", fmt.Sprintf("quantity must be positive for %s", req.Type))
		}
		if req.Price == nil || !req.Price.IsPositive() {
			return NewFieldError("price", fmt.Sprintf("price must be positive for %s", req.Type))
		}
		want := req.Quantity.Mul(req.Price.Decimal).Round(amountPlaces)
		if !req.Amount.Round(amountPlaces).Equal(want) {
			return NewFieldError("amount", fmt.Sprintf(
				"amount %s does not equal quantity*price %s", req.Amount.String(), want.String()))
		}
		if req.InstrumentID == nil && strings.TrimSpace(req.Symbol) == "" {
			return NewFieldError("instrument_id", fmt.Sprintf("instrument_id or symbol is required for %s", req.Type))
		}
	case TxTypeDividend:
		if req.InstrumentID == nil && strings.TrimSpace(req.Symbol) == "" {
			return NewFieldError("instrument_id", "instrument_id or symbol is required for DIVIDEND")
		}
	case TxTypeInternalTransfer:
		if req.CounterpartyAccountID == nil {
			return NewFieldError("counterparty_account_id", "counterparty_account_id is required for INTERNAL_TRANSFER")
		}
		if *req.CounterpartyAccountID == req.AccountID {
			return NewFieldError("counterparty_account_id", "counterparty account must differ from source account")
		}
	}
	return nil
}

func (c *Core) createTransactionTx(tx *sql.Tx, req CreateTransactionRequest, resolved *Instrument) (*Transaction, error) {
	ok, err := c.accountExistsTx(tx, req.AccountID)
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "check account", err)
	}
	if !ok {
		return nil, NewError(ErrCodeReferential, fmt.Sprintf("account not found: %d", req.AccountID))
	}

	if resolved != nil {
		inst, err := c.createInstrumentTx(tx, *resolved)
		if err != nil {
			return nil, err
		}
		req.InstrumentID = &inst.ID
	}
	if req.InstrumentID != nil {
		ok, err := c.instrumentExistsTx(tx, *req.InstrumentID)
		if err != nil {
			return nil, WrapError(ErrCodeDatabase, "check instrument", err)
		}
		if !ok {
			return nil, NewError(ErrCodeReferential, fmt.Sprintf("instrument not found: %d", *req.InstrumentID))
		}
	}

	if req.Type == TxTypeInternalTransfer {
		return c.createTransferPairTx(tx, req)
	}

	if req.Type == TxTypeSell {
		if err := c.checkSellCoverageTx(tx, req.AccountID, *req.InstrumentID, req.Quantity.Decimal); err != nil {
			return nil, err
		}
	}

	id, err := c.insertTransactionTx(tx, req, nil)
	if err != nil {
		return nil, err
	}
	created, err := c.getTransactionTx(tx, id)
	if err != nil {
		return nil, err
	}
	if err := c.writeAuditTx(tx, "transaction", id, auditActionCreate, nil, created); err != nil {
		return nil, err
	}
	c.logger.Info("transaction created", "id", id, "type", req.Type, "account_id", req.AccountID)
	return created, nil
}

func (c *Core) createTransferPairTx(tx *sql.Tx, req CreateTransactionRequest) (*Transaction, error) {
	ok, err := c.accountExistsTx(tx, *req.CounterpartyAccountID)
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "check counterparty account", err)
	}
	if !ok {
		return nil, NewError(ErrCodeReferential, fmt.Sprintf("counterparty account not found: %d", *req.CounterpartyAccountID))
	}

	groupID := uuid.NewString()

	outReq := req
	outReq.Type = TxTypeCashOut
	outReq.InstrumentID = nil
	outReq.Quantity = nil
	outReq.Price = nil
	outReq.Fee = Amount{}
	outReq.Tax = Amount{}
	outID, err := c.insertTransactionTx(tx, outReq, &groupID)
	if err != nil {
		return nil, err
	}

	inReq := outReq
	inReq.Type = TxTypeCashIn
	inReq.AccountID = *req.CounterpartyAccountID
	if _, err := c.insertTransactionTx(tx, inReq, &groupID); err != nil {
		return nil, err
	}

	created, err := c.getTransactionTx(tx, outID)
	if err != nil {
		return nil, err
	}
	if err := c.writeAuditTx(tx, "transaction", outID, auditActionCreate, nil, map[string]any{
		"transfer_group_id": groupID,
		"from_account_id":   req.AccountID,
		"to_account_id":     *req.CounterpartyAccountID,
		"amount":            req.Amount.String(),
		"currency":          req.Currency,
	}); err != nil {
		return nil, err
	}
	c.logger.Info("internal transfer created",
		"transfer_group_id", groupID,
		"from_account_id", req.AccountID,
		"to_account_id", *req.CounterpartyAccountID)
	return created, nil
}

func (c *Core) insertTransactionTx(tx *sql.Tx, req CreateTransactionRequest, groupID *string) (int64, error) {
	quantity, err := nullableAmount(req.Quantity)
	if err != nil {
		return 0, WrapError(ErrCodeInternal, "encode quantity", err)
	}
	price, err := nullableAmount(req.Price)
	if err != nil {
		return 0, WrapError(ErrCodeInternal, "encode price", err)
	}
	amount, _ := req.Amount.Value()
	fee, _ := req.Fee.Value()
	tax, _ := req.Tax.Value()

	result, err := tx.Exec(`
		INSERT INTO transactions (
			type, account_id, instrument_id, quantity, price, amount, fee, tax,
			currency, executed_at, executed_tz, transfer_group_id, note
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, req.Type, req.AccountID, nullableInt64(req.InstrumentID), quantity, price,
		amount, fee, tax, req.Currency, req.ExecutedAt, req.ExecutedTz,
		nullableString(groupID), nullableString(req.Note))
	if err != nil {
		return 0, WrapError(ErrCodeDatabase, "insert transaction", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, WrapError(ErrCodeDatabase, "read transaction id", err)
	}
	return id, nil
}

// checkSellCoverageTx rejects a SELL exceeding the current position. Over-sell
// is never clamped.
func (c *Core) checkSellCoverageTx(tx *sql.Tx, accountID, instrumentID int64, quantity decimal.Decimal) error {
	txs, err := c.positionTransactionsTx(tx, accountID, instrumentID)
	if err != nil {
		return err
	}
	pos := foldPosition(txs)
	if quantity.GreaterThan(pos.Quantity) {
		return NewError(ErrCodeOversell, fmt.Sprintf(
			"cannot sell %s units, current position is %s", quantity.String(), pos.Quantity.String()))
	}
	return nil
}

// UpdateTransaction applies a partial update. Transfer legs are immutable and
// reject patches; delete and recreate the transfer instead.
func (c *Core) UpdateTransaction(ctx context.Context, id int64, patch TransactionPatch) (*Transaction, error) {
	var updated *Transaction
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		before, err := c.getTransactionTx(tx, id)
		if err != nil {
			return err
		}
		if before.TransferGroupID != nil {
			return NewError(ErrCodeValidation, "internal transfer records cannot be edited directly")
		}

		merged := mergePatch(before, patch)
		if merged.Type == TxTypeInternalTransfer {
			return NewError(ErrCodeValidation, "INTERNAL_TRANSFER can only be created, not patched")
		}
		if err := c.validateTransactionRequest(&merged); err != nil {
			return err
		}
		if merged.InstrumentID == nil && instrumentRequiredTypes[merged.Type] {
			return NewFieldError("instrument_id", fmt.Sprintf("instrument_id is required for %s", merged.Type))
		}
		ok, err := c.accountExistsTx(tx, merged.AccountID)
		if err != nil {
			return WrapError(ErrCodeDatabase, "check account", err)
		}
		if !ok {
			return NewError(ErrCodeReferential, fmt.Sprintf("account not found: %d", merged.AccountID))
		}
		if merged.InstrumentID != nil {
			ok, err := c.instrumentExistsTx(tx, *merged.InstrumentID)
			if err != nil {
				return WrapError(ErrCodeDatabase, "check instrument", err)
			}
			if !ok {
				return NewError(ErrCodeReferential, fmt.Sprintf("instrument not found: %d", *merged.InstrumentID))
			}
		}

		quantity, err := nullableAmount(merged.Quantity)
		if err != nil {
			return WrapError(ErrCodeInternal, "encode quantity", err)
		}
		price, err := nullableAmount(merged.Price)
		if err != nil {
			return WrapError(ErrCodeInternal, "encode price", err)
		}
		amount, _ := merged.Amount.Value()
		fee, _ := merged.Fee.Value()
		tax, _ := merged.Tax.Value()

		if _, err := tx.Exec(`
			UPDATE transactions SET
				type = ?, account_id = ?, instrument_id = ?, quantity = ?, price = ?,
				amount = ?, fee = ?, tax = ?, currency = ?, executed_at = ?, executed_tz = ?, note = ?
			WHERE id = ?
		`, merged.Type, merged.AccountID, nullableInt64(merged.InstrumentID), quantity, price,
			amount, fee, tax, merged.Currency, merged.ExecutedAt, merged.ExecutedTz,
			nullableString(merged.Note), id); err != nil {
			return WrapError(ErrCodeDatabase, "update transaction", err)
		}

		updated, err = c.getTransactionTx(tx, id)
		if err != nil {
			return err
		}
		return c.writeAuditTx(tx, "transaction", id, auditActionUpdate, before, updated)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func mergePatch(before *Transaction, patch TransactionPatch) CreateTransactionRequest {
	merged := CreateTransactionRequest{
		Type:         before.Type,
		AccountID:    before.AccountID,
		InstrumentID: before.InstrumentID,
		Quantity:     before.Quantity,
		Price:        before.Price,
		Amount:       before.Amount,
		Fee:          before.Fee,
		Tax:          before.Tax,
		Currency:     before.Currency,
		ExecutedAt:   before.ExecutedAt,
		ExecutedTz:   before.ExecutedTz,
		Note:         before.Note,
	}
	if patch.Type != nil {
		merged.Type = *patch.Type
	}
	if patch.AccountID != nil {
		merged.AccountID = *patch.AccountID
	}
	if patch.InstrumentID != nil {
		merged.InstrumentID = patch.InstrumentID
	}
	if patch.Quantity != nil {
		merged.Quantity = patch.Quantity
	}
	if patch.Price != nil {
		merged.Price = patch.Price
	}
	if patch.Amount != nil {
		merged.Amount = *patch.Amount
	}
	if patch.Fee != nil {
		merged.Fee = *patch.Fee
	}
	if patch.Tax != nil {
		merged.Tax = *patch.Tax
	}
	if patch.Currency != nil {
		merged.Currency = *patch.Currency
	}
	if patch.ExecutedAt != nil {
		merged.ExecutedAt = *patch.ExecutedAt
	}
	if patch.ExecutedTz != nil {
		merged.ExecutedTz = *patch.ExecutedTz
	}
	if patch.Note != nil {
		merged.Note = patch.Note
	}
	return merged
}

// DeleteTransaction removes a ledger row. Deleting either leg of a transfer
// pair removes both legs and reports deleted_count 2.
func (c *Core) DeleteTransaction(ctx context.Context, id int64) (*DeleteResult, error) {
	var result *DeleteResult
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		before, err := c.getTransactionTx(tx, id)
		if err != nil {
			return err
		}

		if before.TransferGroupID != nil {
			rows, err := c.transferGroupTx(tx, *before.TransferGroupID)
			if err != nil {
				return err
			}
			res, err := tx.Exec("DELETE FROM transactions WHERE transfer_group_id = ?", *before.TransferGroupID)
			if err != nil {
				return WrapError(ErrCodeDatabase, "delete transfer pair", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return WrapError(ErrCodeDatabase, "count deleted rows", err)
			}
			if err := c.writeAuditTx(tx, "transaction", id, auditActionDelete, map[string]any{
				"transfer_group_id": *before.TransferGroupID,
				"rows":              rows,
			}, nil); err != nil {
				return err
			}
			result = &DeleteResult{Deleted: true, DeletedCount: int(n)}
			return nil
		}

		if _, err := tx.Exec("DELETE FROM transactions WHERE id = ?", id); err != nil {
			return WrapError(ErrCodeDatabase, "delete transaction", err)
		}
		if err := c.writeAuditTx(tx, "transaction", id, auditActionDelete, before, nil); err != nil {
			return err
		}
		result = &DeleteResult{Deleted: true, DeletedCount: 1}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReverseTransaction inserts the economic mirror of an existing transaction,
// leaving the original intact. Transfer legs cannot be reversed.
func (c *Core) ReverseTransaction(ctx context.Context, id int64) (*Transaction, error) {
	var reversed *Transaction
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		original, err := c.getTransactionTx(tx, id)
		if err != nil {
			return err
		}
		if original.TransferGroupID != nil {
			return NewError(ErrCodeValidation, "internal transfer records cannot be reversed directly")
		}
		reverseType, ok := reversalTypeMap[original.Type]
		if !ok {
			return NewError(ErrCodeValidation, fmt.Sprintf("transaction type %s cannot be reversed", original.Type))
		}

		req := CreateTransactionRequest{
			Type:       reverseType,
			AccountID:  original.AccountID,
			Amount:     original.Amount,
			Currency:   original.Currency,
			ExecutedAt: nowUTC(),
			ExecutedTz: original.ExecutedTz,
			Note:       stringPtr(fmt.Sprintf("reversal of transaction #%d", original.ID)),
		}
		if instrumentRequiredTypes[reverseType] {
			if original.InstrumentID == nil || original.Quantity == nil || !original.Quantity.IsPositive() {
				return NewError(ErrCodeValidation, "original transaction lacks instrument/quantity for reversal")
			}
			req.InstrumentID = original.InstrumentID
			req.Quantity = original.Quantity
			req.Price = original.Price
		}

		if req.Type == TxTypeSell {
			if err := c.checkSellCoverageTx(tx, req.AccountID, *req.InstrumentID, req.Quantity.Decimal); err != nil {
				return err
			}
		}
		newID, err := c.insertTransactionTx(tx, req, nil)
		if err != nil {
			return err
		}
		reversed, err = c.getTransactionTx(tx, newID)
		if err != nil {
			return err
		}
		return c.writeAuditTx(tx, "transaction", id, "reverse", original, map[string]any{
			"reversed_transaction_id": newID,
			"reverse_type":            reverseType,
		})
	})
	if err != nil {
		return nil, err
	}
	return reversed, nil
}

// GetTransactions returns filtered transactions, newest first.
func (c *Core) GetTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	query := `
		SELECT id, type, account_id, instrument_id, quantity, price, amount, fee, tax,
			currency, executed_at, executed_tz, transfer_group_id, note, created_at
		FROM transactions WHERE 1=1
	`
	args := []any{}
	if filter.AccountID > 0 {
		query += " AND account_id = ?"
		args = append(args, filter.AccountID)
	}
	if filter.InstrumentID > 0 {
		query += " AND instrument_id = ?"
		args = append(args, filter.InstrumentID)
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}
	if filter.Currency != "" {
		query += " AND currency = ?"
		args = append(args, normalizeCurrency(filter.Currency))
	}
	if filter.StartDate != "" {
		query += " AND executed_at >= ?"
		args = append(args, filter.StartDate)
	}
	if filter.EndDate != "" {
		query += " AND executed_at <= ?"
		args = append(args, filter.EndDate)
	}
	query += " ORDER BY executed_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "query transactions", err)
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

// GetTransaction returns one transaction by id.
func (c *Core) GetTransaction(ctx context.Context, id int64) (*Transaction, error) {
	var t *Transaction
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		t, txErr = c.getTransactionTx(tx, id)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (c *Core) getTransactionTx(tx *sql.Tx, id int64) (*Transaction, error) {
	row := tx.QueryRow(`
		SELECT id, type, account_id, instrument_id, quantity, price, amount, fee, tax,
			currency, executed_at, executed_tz, transfer_group_id, note, created_at
		FROM transactions WHERE id = ?
	`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, NewError(ErrCodeNotFound, fmt.Sprintf("transaction not found: %d", id))
	}
	return t, err
}

func (c *Core) transferGroupTx(tx *sql.Tx, groupID string) ([]Transaction, error) {
	rows, err := tx.Query(`
		SELECT id, type, account_id, instrument_id, quantity, price, amount, fee, tax,
			currency, executed_at, executed_tz, transfer_group_id, note, created_at
		FROM transactions WHERE transfer_group_id = ? ORDER BY id
	`, groupID)
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "query transfer group", err)
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

func scanTransaction(row rowScanner) (*Transaction, error) {
	var t Transaction
	var instrumentID sql.NullInt64
	var quantity, price sql.NullFloat64
	var groupID, note, createdAt sql.NullString
	if err := row.Scan(&t.ID, &t.Type, &t.AccountID, &instrumentID, &quantity, &price,
		&t.Amount, &t.Fee, &t.Tax, &t.Currency, &t.ExecutedAt, &t.ExecutedTz,
		&groupID, &note, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, WrapError(ErrCodeDatabase, "scan transaction", err)
	}
	if instrumentID.Valid {
		t.InstrumentID = &instrumentID.Int64
	}
	if quantity.Valid {
		t.Quantity = amountPtr(NewAmount(quantity.Float64))
	}
	if price.Valid {
		t.Price = amountPtr(NewAmount(price.Float64))
	}
	if groupID.Valid {
		t.TransferGroupID = &groupID.String
	}
	if note.Valid {
		t.Note = &note.String
	}
	if createdAt.Valid {
		t.CreatedAt = &createdAt.String
	}
	return &t, nil
}

// cashDelta is the signed effect of one transaction on its account's cash.
func cashDelta(t Transaction) decimal.Decimal {
	amount := t.Amount.Decimal
	fee := t.Fee.Decimal
	tax := t.Tax.Decimal
	switch t.Type {
	case TxTypeBuy:
		return amount.Add(fee).Add(tax).Neg()
	case TxTypeSell:
		return amount.Sub(fee).Sub(tax)
	case TxTypeDividend:
		return amount
	case TxTypeFee:
		return amount.Neg()
	case TxTypeCashIn:
		return amount
	case TxTypeCashOut:
		return amount.Neg()
	}
	return decimal.Zero
}

// GetCashBalances derives per-account running cash, in the account's own
// currency and converted to the reporting base currency.
func (c *Core) GetCashBalances(ctx context.Context) ([]CashBalance, error) {
	accounts, err := c.GetAccounts(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := c.GetTransactions(ctx, TransactionFilter{})
	if err != nil {
		return nil, err
	}

	txsByAccount := map[int64][]Transaction{}
	for _, t := range txs {
		txsByAccount[t.AccountID] = append(txsByAccount[t.AccountID], t)
	}

	var balances []CashBalance
	for _, account := range accounts {
		if !account.IsActive {
			continue
		}
		native := decimal.Zero
		base := decimal.Zero
		for _, t := range txsByAccount[account.ID] {
			delta := cashDelta(t)
			if normalizeCurrency(t.Currency) == normalizeCurrency(account.BaseCurrency) {
				native = native.Add(delta)
			}
			converted, err := c.ConvertAmount(ctx, delta, t.Currency, c.baseCurrency)
			if err != nil {
				// No FX path; count only base-currency flows.
				if normalizeCurrency(t.Currency) == normalizeCurrency(c.baseCurrency) {
					base = base.Add(delta)
				}
				continue
			}
			base = base.Add(converted)
		}
		balances = append(balances, CashBalance{
			AccountID:       account.ID,
			AccountName:     account.Name,
			AccountCurrency: account.BaseCurrency,
			NativeBalance:   amountOf(native.Round(4)),
			BaseBalance:     amountOf(base.Round(4)),
		})
	}
	return balances, nil
}
