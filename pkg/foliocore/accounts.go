package foliocore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// CreateAccount inserts a new account. Names are unique; the type must be
// CASH or BROKERAGE.
func (c *Core) CreateAccount(ctx context.Context, account Account) (*Account, error) {
	account.Name = strings.TrimSpace(account.Name)
	if account.Name == "" {
		return nil, NewFieldError("name", "name is required")
	}
	if !isValidAccountType(account.Type) {
		return nil, NewFieldError("type", fmt.Sprintf("invalid account type: %s", account.Type))
	}
	account.BaseCurrency = normalizeCurrency(defaultString(account.BaseCurrency, c.baseCurrency))

	var created *Account
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		if account.AllocationNodeID != nil {
			if err := c.checkLeafBindingTx(tx, *account.AllocationNodeID); err != nil {
				return err
			}
		}
		var dup int
		err := tx.QueryRow("SELECT 1 FROM accounts WHERE name = ?", account.Name).Scan(&dup)
		if err == nil {
			return NewError(ErrCodeDuplicate, fmt.Sprintf("account name already exists: %s", account.Name))
		}
		if err != sql.ErrNoRows {
			return WrapError(ErrCodeDatabase, "check account name", err)
		}

		result, err := tx.Exec(`
			INSERT INTO accounts (name, type, base_currency, is_active, allocation_node_id)
			VALUES (?, ?, ?, 1, ?)
		`, account.Name, account.Type, account.BaseCurrency, nullableInt64(account.AllocationNodeID))
		if err != nil {
			return WrapError(ErrCodeDatabase, "insert account", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return WrapError(ErrCodeDatabase, "read account id", err)
		}
		created, err = c.getAccountTx(tx, id)
		if err != nil {
			return err
		}
		return c.writeAuditTx(tx, "account", id, auditActionCreate, nil, created)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetAccounts returns all accounts, active first, then by name.
func (c *Core) GetAccounts(ctx context.Context) ([]Account, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, type, base_currency, is_active, allocation_node_id, created_at, updated_at
		FROM accounts ORDER BY is_active DESC, name
	`)
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "query accounts", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acc)
	}
	return accounts, rows.Err()
}

// GetAccount returns one account by id.
func (c *Core) GetAccount(ctx context.Context, id int64) (*Account, error) {
	var account *Account
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		account, txErr = c.getAccountTx(tx, id)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// UpdateAccount applies a partial update.
func (c *Core) UpdateAccount(ctx context.Context, id int64, patch AccountPatch) (*Account, error) {
	var updated *Account
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		before, err := c.getAccountTx(tx, id)
		if err != nil {
			return err
		}

		sets := []string{}
		args := []any{}
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return NewFieldError("name", "name cannot be empty")
			}
			sets = append(sets, "name = ?")
			args = append(args, name)
		}
		if patch.Type != nil {
			if !isValidAccountType(*patch.Type) {
				return NewFieldError("type", fmt.Sprintf("invalid account type: %s", *patch.Type))
			}
			sets = append(sets, "type = ?")
			args = append(args, *patch.Type)
		}
		if patch.BaseCurrency != nil {
			sets = append(sets, "base_currency = ?")
			args = append(args, normalizeCurrency(*patch.BaseCurrency))
		}
		if patch.IsActive != nil {
			sets = append(sets, "is_active = ?")
			args = append(args, boolToInt(*patch.IsActive))
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

		if _, err := tx.Exec("UPDATE accounts SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
			return WrapError(ErrCodeDatabase, "update account", err)
		}
		updated, err = c.getAccountTx(tx, id)
		if err != nil {
			return err
		}
		return c.writeAuditTx(tx, "account", id, auditActionUpdate, before, updated)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteAccount removes an account that has no ledger history. Accounts with
// transactions must be deactivated instead.
func (c *Core) DeleteAccount(ctx context.Context, id int64) error {
	return c.WithTx(ctx, func(tx *sql.Tx) error {
		before, err := c.getAccountTx(tx, id)
		if err != nil {
			return err
		}
		var count int
		if err := tx.QueryRow("SELECT COUNT(*) FROM transactions WHERE account_id = ?", id).Scan(&count); err != nil {
			return WrapError(ErrCodeDatabase, "count account transactions", err)
		}
		if count > 0 {
			return NewError(ErrCodeValidation, "cannot delete account with transactions; deactivate it instead")
		}
		if _, err := tx.Exec("DELETE FROM accounts WHERE id = ?", id); err != nil {
			return WrapError(ErrCodeDatabase, "delete account", err)
		}
		return c.writeAuditTx(tx, "account", id, auditActionDelete, before, nil)
	})
}

func (c *Core) getAccountTx(tx *sql.Tx, id int64) (*Account, error) {
	row := tx.QueryRow(`
		SELECT id, name, type, base_currency, is_active, allocation_node_id, created_at, updated_at
		FROM accounts WHERE id = ?
	`, id)
	acc, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, NewError(ErrCodeNotFound, fmt.Sprintf("account not found: %d", id))
	}
	return acc, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var acc Account
	var isActive int
	var nodeID sql.NullInt64
	var createdAt, updatedAt sql.NullString
	if err := row.Scan(&acc.ID, &acc.Name, &acc.Type, &acc.BaseCurrency, &isActive, &nodeID, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, WrapError(ErrCodeDatabase, "scan account", err)
	}
	acc.IsActive = isActive != 0
	if nodeID.Valid {
		acc.AllocationNodeID = &nodeID.Int64
	}
	if createdAt.Valid {
		acc.CreatedAt = &createdAt.String
	}
	if updatedAt.Valid {
		acc.UpdatedAt = &updatedAt.String
	}
	return &acc, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
