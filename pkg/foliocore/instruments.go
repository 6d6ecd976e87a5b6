package foliocore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// CreateInstrument registers a new instrument. Symbols are normalized to
// upper case and must be unique.
func (c *Core) CreateInstrument(ctx context.Context, inst Instrument) (*Instrument, error) {
	inst.Symbol = normalizeSymbol(inst.Symbol)
	inst.Name = strings.TrimSpace(inst.Name)
	inst.Market = strings.ToUpper(strings.TrimSpace(inst.Market))
	inst.Currency = normalizeCurrency(inst.Currency)
	if inst.Symbol == "" {
		return nil, NewFieldError("symbol", "symbol is required")
	}
	if inst.Name == "" {
		inst.Name = inst.Symbol
	}
	if inst.Market == "" {
		return nil, NewFieldError("market", "market is required")
	}
	if !isValidInstrumentType(inst.Type) {
		return nil, NewFieldError("type", fmt.Sprintf("invalid instrument type: %s", inst.Type))
	}
	if inst.Currency == "" {
		return nil, NewFieldError("currency", "currency is required")
	}

	var created *Instrument
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		created, txErr = c.createInstrumentTx(tx, inst)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (c *Core) createInstrumentTx(tx *sql.Tx, inst Instrument) (*Instrument, error) {
	if inst.DefaultAccountID != nil {
		ok, err := c.accountExistsTx(tx, *inst.DefaultAccountID)
		if err != nil {
			return nil, WrapError(ErrCodeDatabase, "check default account", err)
		}
		if !ok {
			return nil, NewError(ErrCodeReferential, fmt.Sprintf("default account not found: %d", *inst.DefaultAccountID))
		}
	}
	if inst.AllocationNodeID != nil {
		if err := c.checkLeafBindingTx(tx, *inst.AllocationNodeID); err != nil {
			return nil, err
		}
	}

	var dup int
	err := tx.QueryRow("SELECT 1 FROM instruments WHERE symbol = ?", inst.Symbol).Scan(&dup)
	if err == nil {
		return nil, NewError(ErrCodeDuplicate, fmt.Sprintf("symbol already exists: %s", inst.Symbol))
	}
	if err != sql.ErrNoRows {
		return nil, WrapError(ErrCodeDatabase, "check symbol", err)
	}

	result, err := tx.Exec(`
		INSERT INTO instruments (symbol, market, type, currency, name, default_account_id, allocation_node_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, inst.Symbol, inst.Market, inst.Type, inst.Currency, inst.Name,
		nullableInt64(inst.DefaultAccountID), nullableInt64(inst.AllocationNodeID))
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "insert instrument", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "read instrument id", err)
	}
	created, err := c.getInstrumentTx(tx, id)
	if err != nil {
		return nil, err
	}
	if err := c.writeAuditTx(tx, "instrument", id, auditActionCreate, nil, created); err != nil {
		return nil, err
	}
	return created, nil
}

// GetInstruments returns all instruments ordered by symbol.
func (c *Core) GetInstruments(ctx context.Context) ([]Instrument, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, symbol, market, type, currency, name, default_account_id, allocation_node_id, created_at, updated_at
		FROM instruments ORDER BY symbol
	`)
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "query instruments", err)
	}
	defer rows.Close()

	var instruments []Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		instruments = append(instruments, *inst)
	}
	return instruments, rows.Err()
}

// GetInstrument returns one instrument by id.
func (c *Core) GetInstrument(ctx context.Context, id int64) (*Instrument, error) {
	var inst *Instrument
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		inst, txErr = c.getInstrumentTx(tx, id)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// UpdateInstrument applies a partial update.
func (c *Core) UpdateInstrument(ctx context.Context, id int64, patch InstrumentPatch) (*Instrument, error) {
	var updated *Instrument
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		before, err := c.getInstrumentTx(tx, id)
		if err != nil {
			return err
		}

		sets := []string{}
		args := []any{}
		if patch.Symbol != nil {
			symbol := normalizeSymbol(*patch.Symbol)
			if symbol == "" {
				return NewFieldError("symbol", "symbol cannot be empty")
			}
			sets = append(sets, "symbol = ?")
			args = append(args, symbol)
		}
		if patch.Market != nil {
			sets = append(sets, "market = ?")
			args = append(args, strings.ToUpper(strings.TrimSpace(*patch.Market)))
		}
		if patch.Type != nil {
			if !isValidInstrumentType(*patch.Type) {
				return NewFieldError("type", fmt.Sprintf("invalid instrument type: %s", *patch.Type))
			}
			sets = append(sets, "type = ?")
			args = append(args, *patch.Type)
		}
		if patch.Currency != nil {
			sets = append(sets, "currency = ?")
			args = append(args, normalizeCurrency(*patch.Currency))
		}
		if patch.Name != nil {
			sets = append(sets, "name = ?")
			args = append(args, strings.TrimSpace(*patch.Name))
		}
		if patch.DefaultAccountID != nil {
			ok, err := c.accountExistsTx(tx, *patch.DefaultAccountID)
			if err != nil {
				return WrapError(ErrCodeDatabase, "check default account", err)
			}
			if !ok {
				return NewError(ErrCodeReferential, fmt.Sprintf("default account not found: %d", *patch.DefaultAccountID))
			}
			sets = append(sets, "default_account_id = ?")
			args = append(args, *patch.DefaultAccountID)
		}
		if patch.ClearNodeBinding {
			sets = append(sets, "allocation_node_id = NULL")
		} else if patch.AllocationNodeID != nil {
			if err := c.checkLeafBindingTx(tx, *patch.AllocationNodeID); err != nil {
				return err
			}
			sets = append(sets, "allocation_node_id = ?")
			args = append(args, *patch.AllocationNodeID)
		}
		if len(sets) == 0 {
			updated = before
			return nil
		}
		sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
		args = append(args, id)

		if _, err := tx.Exec("UPDATE instruments SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
			return WrapError(ErrCodeDatabase, "update instrument", err)
		}
		updated, err = c.getInstrumentTx(tx, id)
		if err != nil {
			return err
		}
		return c.writeAuditTx(tx, "instrument", id, auditActionUpdate, before, updated)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteInstrument removes an instrument that has no ledger history.
func (c *Core) DeleteInstrument(ctx context.Context, id int64) error {
	return c.WithTx(ctx, func(tx *sql.Tx) error {
		before, err := c.getInstrumentTx(tx, id)
		if err != nil {
			return err
		}
		var count int
		if err := tx.QueryRow("SELECT COUNT(*) FROM transactions WHERE instrument_id = ?", id).Scan(&count); err != nil {
			return WrapError(ErrCodeDatabase, "count instrument transactions", err)
		}
		if count > 0 {
			return NewError(ErrCodeValidation, "cannot delete instrument with transactions")
		}
		if _, err := tx.Exec("DELETE FROM instruments WHERE id = ?", id); err != nil {
			return WrapError(ErrCodeDatabase, "delete instrument", err)
		}
		return c.writeAuditTx(tx, "instrument", id, auditActionDelete, before, nil)
	})
}

func (c *Core) getInstrumentTx(tx *sql.Tx, id int64) (*Instrument, error) {
	row := tx.QueryRow(`
		SELECT id, symbol, market, type, currency, name, default_account_id, allocation_node_id, created_at, updated_at
		FROM instruments WHERE id = ?
	`, id)
	inst, err := scanInstrument(row)
	if err == sql.ErrNoRows {
		return nil, NewError(ErrCodeNotFound, fmt.Sprintf("instrument not found: %d", id))
	}
	return inst, err
}

func scanInstrument(row rowScanner) (*Instrument, error) {
	var inst Instrument
	var defaultAccountID, nodeID sql.NullInt64
	var createdAt, updatedAt sql.NullString
	if err := row.Scan(&inst.ID, &inst.Symbol, &inst.Market, &inst.Type, &inst.Currency, &inst.Name,
		&defaultAccountID, &nodeID, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, WrapError(ErrCodeDatabase, "scan instrument", err)
	}
	if defaultAccountID.Valid {
		inst.DefaultAccountID = &defaultAccountID.Int64
	}
	if nodeID.Valid {
		inst.AllocationNodeID = &nodeID.Int64
	}
	if createdAt.Valid {
		inst.CreatedAt = &createdAt.String
	}
	if updatedAt.Valid {
		inst.UpdatedAt = &updatedAt.String
	}
	return &inst, nil
}
