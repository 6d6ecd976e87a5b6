package foliocore

import (
	"database/sql"
	"strings"
)

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

func isValidTransactionType(t string) bool {
	for _, v := range TransactionTypes {
		if v == t {
			return true
		}
	}
	return false
}

func isValidAccountType(t string) bool {
	return t == AccountTypeCash || t == AccountTypeBrokerage
}

func isValidInstrumentType(t string) bool {
	return t == InstrumentTypeStock || t == InstrumentTypeFund
}

func (c *Core) accountExistsTx(tx *sql.Tx, id int64) (bool, error) {
	var one int
	err := tx.QueryRow("SELECT 1 FROM accounts WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Core) instrumentExistsTx(tx *sql.Tx, id int64) (bool, error) {
	var one int
	err := tx.QueryRow("SELECT 1 FROM instruments WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Core) nodeExistsTx(tx *sql.Tx, id int64) (bool, error) {
	var one int
	err := tx.QueryRow("SELECT 1 FROM allocation_nodes WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// nodeIsLeafTx reports whether a node has no children. Bindings are only
// allowed on leaves.
func (c *Core) nodeIsLeafTx(tx *sql.Tx, id int64) (bool, error) {
	var one int
	err := tx.QueryRow("SELECT 1 FROM allocation_nodes WHERE parent_id = ? LIMIT 1", id).Scan(&one)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func stringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableAmount(v *Amount) (any, error) {
	if v == nil {
		return nil, nil
	}
	return v.Value()
}
