package foliocore

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Audit actions.
const (
	auditActionCreate = "create"
	auditActionUpdate = "update"
	auditActionDelete = "delete"
)

// writeAuditTx records one mutation inside the caller's transaction. Before
// and after states are stored as JSON snapshots; a nil state stays NULL.
func (c *Core) writeAuditTx(tx *sql.Tx, entity string, entityID any, action string, before, after any) error {
	var beforeJSON, afterJSON any
	if before != nil {
		b, err := json.Marshal(before)
		if err != nil {
			return WrapError(ErrCodeInternal, "marshal audit before state", err)
		}
		beforeJSON = string(b)
	}
	if after != nil {
		b, err := json.Marshal(after)
		if err != nil {
			return WrapError(ErrCodeInternal, "marshal audit after state", err)
		}
		afterJSON = string(b)
	}
	_, err := tx.Exec(`
		INSERT INTO audit_logs (entity, entity_id, action, before_state, after_state)
		VALUES (?, ?, ?, ?, ?)
	`, entity, fmt.Sprint(entityID), action, beforeJSON, afterJSON)
	if err != nil {
		return WrapError(ErrCodeDatabase, "write audit log", err)
	}
	return nil
}

// GetAuditLogs returns recent audit entries, newest first. An empty entity
// matches all entities.
func (c *Core) GetAuditLogs(entity string, limit, offset int) ([]AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := "SELECT id, entity, entity_id, action, before_state, after_state, at FROM audit_logs"
	args := []any{}
	if entity != "" {
		query += " WHERE entity = ?"
		args = append(args, entity)
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "query audit logs", err)
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var log AuditLog
		var before, after sql.NullString
		if err := rows.Scan(&log.ID, &log.Entity, &log.EntityID, &log.Action, &before, &after, &log.At); err != nil {
			return nil, WrapError(ErrCodeDatabase, "scan audit log", err)
		}
		if before.Valid {
			log.BeforeState = &before.String
		}
		if after.Valid {
			log.AfterState = &after.String
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
