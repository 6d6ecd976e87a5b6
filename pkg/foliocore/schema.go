package foliocore

import (
	"database/sql"
	"fmt"
)

func initDatabase(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL CHECK(type IN ('CASH', 'BROKERAGE')),
			base_currency TEXT NOT NULL DEFAULT 'CNY',
			is_active INTEGER NOT NULL DEFAULT 1,
			allocation_node_id INTEGER REFERENCES allocation_nodes(id) ON DELETE SET NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME
		)
	`); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS allocation_nodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			parent_id INTEGER REFERENCES allocation_nodes(id) ON DELETE SET NULL,
			name TEXT NOT NULL,
			target_weight REAL NOT NULL,
			order_index INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME,
			UNIQUE(parent_id, name)
		)
	`); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS instruments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL UNIQUE,
			market TEXT NOT NULL,
			type TEXT NOT NULL CHECK(type IN ('STOCK', 'FUND')),
			currency TEXT NOT NULL,
			name TEXT NOT NULL,
			default_account_id INTEGER REFERENCES accounts(id) ON DELETE SET NULL,
			allocation_node_id INTEGER REFERENCES allocation_nodes(id) ON DELETE SET NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME
		)
	`); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL CHECK(type IN ('BUY', 'SELL', 'DIVIDEND', 'FEE', 'CASH_IN', 'CASH_OUT')),
			account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE RESTRICT,
			instrument_id INTEGER REFERENCES instruments(id) ON DELETE RESTRICT,
			quantity REAL,
			price REAL,
			amount REAL NOT NULL,
			fee REAL NOT NULL DEFAULT 0,
			tax REAL NOT NULL DEFAULT 0,
			currency TEXT NOT NULL,
			executed_at DATETIME NOT NULL,
			executed_tz TEXT NOT NULL,
			transfer_group_id TEXT,
			note TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS allocation_tag_groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			order_index INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS allocation_tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_id INTEGER NOT NULL REFERENCES allocation_tag_groups(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			order_index INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(group_id, name)
		)
	`); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS instrument_tag_selections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			instrument_id INTEGER NOT NULL REFERENCES instruments(id) ON DELETE CASCADE,
			group_id INTEGER NOT NULL REFERENCES allocation_tag_groups(id) ON DELETE CASCADE,
			tag_id INTEGER NOT NULL REFERENCES allocation_tags(id) ON DELETE CASCADE,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(instrument_id, group_id)
		)
	`); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS account_tag_selections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			group_id INTEGER NOT NULL REFERENCES allocation_tag_groups(id) ON DELETE CASCADE,
			tag_id INTEGER NOT NULL REFERENCES allocation_tags(id) ON DELETE CASCADE,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(account_id, group_id)
		)
	`); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS quotes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			instrument_id INTEGER NOT NULL REFERENCES instruments(id) ON DELETE CASCADE,
			quoted_at DATETIME NOT NULL,
			price REAL NOT NULL,
			currency TEXT NOT NULL,
			source TEXT NOT NULL,
			provider_status TEXT NOT NULL CHECK(provider_status IN ('SUCCESS', 'FAILED', 'MANUAL_OVERRIDE')),
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS manual_price_overrides (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			instrument_id INTEGER NOT NULL REFERENCES instruments(id) ON DELETE CASCADE,
			price REAL NOT NULL,
			currency TEXT NOT NULL,
			overridden_at DATETIME NOT NULL,
			operator TEXT NOT NULL DEFAULT 'single-user',
			reason TEXT
		)
	`); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS fx_rates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			base_currency TEXT NOT NULL,
			quote_currency TEXT NOT NULL,
			rate REAL NOT NULL CHECK(rate > 0),
			as_of DATETIME NOT NULL,
			source TEXT NOT NULL DEFAULT 'manual',
			UNIQUE(base_currency, quote_currency, as_of)
		)
	`); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			action TEXT NOT NULL,
			before_state TEXT,
			after_state TEXT,
			at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return err
	}

	// Earlier databases predate cash attribution through account bindings.
	hasAccountNode, err := tableHasColumn(tx, "accounts", "allocation_node_id")
	if err != nil {
		return err
	}
	if !hasAccountNode {
		if err := exec(tx, "ALTER TABLE accounts ADD COLUMN allocation_node_id INTEGER REFERENCES allocation_nodes(id) ON DELETE SET NULL"); err != nil {
			return err
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_tx_account ON transactions(account_id)",
		"CREATE INDEX IF NOT EXISTS idx_tx_instrument ON transactions(instrument_id)",
		"CREATE INDEX IF NOT EXISTS idx_tx_type ON transactions(type)",
		"CREATE INDEX IF NOT EXISTS idx_tx_executed_at ON transactions(executed_at)",
		"CREATE INDEX IF NOT EXISTS idx_tx_transfer_group ON transactions(transfer_group_id)",
		"CREATE INDEX IF NOT EXISTS idx_nodes_parent ON allocation_nodes(parent_id)",
		"CREATE INDEX IF NOT EXISTS idx_quotes_instrument ON quotes(instrument_id, quoted_at)",
		"CREATE INDEX IF NOT EXISTS idx_overrides_instrument ON manual_price_overrides(instrument_id, overridden_at)",
		"CREATE INDEX IF NOT EXISTS idx_fx_pair ON fx_rates(base_currency, quote_currency, as_of)",
	}
	for _, idx := range indexes {
		if err := exec(tx, idx); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func exec(tx *sql.Tx, query string) error {
	_, err := tx.Exec(query)
	return err
}

func tableExists(tx *sql.Tx, table string) (bool, error) {
	var name string
	err := tx.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func tableHasColumn(tx *sql.Tx, table, column string) (bool, error) {
	exists, err := tableExists(tx, table)
	if err != nil || !exists {
		return false, err
	}
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name string
		var ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
