package foliocore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Tag groups are classification dimensions orthogonal to the allocation
// tree. Each instrument or account may select at most one tag per group.

// CreateTagGroup inserts a new tag group.
func (c *Core) CreateTagGroup(ctx context.Context, group TagGroup) (*TagGroup, error) {
	group.Name = strings.TrimSpace(group.Name)
	if group.Name == "" {
		return nil, NewFieldError("name", "name is required")
	}
	var created *TagGroup
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.Exec(
			"INSERT INTO allocation_tag_groups (name, order_index) VALUES (?, ?)",
			group.Name, group.OrderIndex,
		)
		if err != nil {
			return WrapError(ErrCodeDatabase, "insert tag group", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return WrapError(ErrCodeDatabase, "read tag group id", err)
		}
		created, err = c.getTagGroupTx(tx, id)
		if err != nil {
			return err
		}
		return c.writeAuditTx(tx, "allocation_tag_group", id, auditActionCreate, nil, created)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetTagGroups returns all tag groups in display order.
func (c *Core) GetTagGroups(ctx context.Context) ([]TagGroup, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT id, name, order_index, created_at FROM allocation_tag_groups ORDER BY order_index, id")
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "query tag groups", err)
	}
	defer rows.Close()

	var groups []TagGroup
	for rows.Next() {
		var g TagGroup
		var createdAt sql.NullString
		if err := rows.Scan(&g.ID, &g.Name, &g.OrderIndex, &createdAt); err != nil {
			return nil, WrapError(ErrCodeDatabase, "scan tag group", err)
		}
		if createdAt.Valid {
			g.CreatedAt = &createdAt.String
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// UpdateTagGroup renames or reorders a tag group.
func (c *Core) UpdateTagGroup(ctx context.Context, id int64, name *string, orderIndex *int) (*TagGroup, error) {
	var updated *TagGroup
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		before, err := c.getTagGroupTx(tx, id)
		if err != nil {
			return err
		}
		sets := []string{}
		args := []any{}
		if name != nil {
			trimmed := strings.TrimSpace(*name)
			if trimmed == "" {
				return NewFieldError("name", "name cannot be empty")
			}
			sets = append(sets, "name = ?")
			args = append(args, trimmed)
		}
		if orderIndex != nil {
			sets = append(sets, "order_index = ?")
			args = append(args, *orderIndex)
		}
		if len(sets) == 0 {
			updated = before
			return nil
		}
		args = append(args, id)
		if _, err := tx.Exec("UPDATE allocation_tag_groups SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
			return WrapError(ErrCodeDatabase, "update tag group", err)
		}
		updated, err = c.getTagGroupTx(tx, id)
		if err != nil {
			return err
		}
		return c.writeAuditTx(tx, "allocation_tag_group", id, auditActionUpdate, before, updated)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTagGroup removes a group, its tags, and every selection referencing
// them.
func (c *Core) DeleteTagGroup(ctx context.Context, id int64) error {
	return c.WithTx(ctx, func(tx *sql.Tx) error {
		before, err := c.getTagGroupTx(tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM instrument_tag_selections WHERE group_id = ?", id); err != nil {
			return WrapError(ErrCodeDatabase, "delete instrument selections", err)
		}
		if _, err := tx.Exec("DELETE FROM account_tag_selections WHERE group_id = ?", id); err != nil {
			return WrapError(ErrCodeDatabase, "delete account selections", err)
		}
		if _, err := tx.Exec("DELETE FROM allocation_tags WHERE group_id = ?", id); err != nil {
			return WrapError(ErrCodeDatabase, "delete tags", err)
		}
		if _, err := tx.Exec("DELETE FROM allocation_tag_groups WHERE id = ?", id); err != nil {
			return WrapError(ErrCodeDatabase, "delete tag group", err)
		}
		return c.writeAuditTx(tx, "allocation_tag_group", id, auditActionDelete, before, nil)
	})
}

// CreateTag inserts a tag into an existing group.
func (c *Core) CreateTag(ctx context.Context, tag Tag) (*Tag, error) {
	tag.Name = strings.TrimSpace(tag.Name)
	if tag.Name == "" {
		return nil, NewFieldError("name", "name is required")
	}
	var created *Tag
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := c.getTagGroupTx(tx, tag.GroupID); err != nil {
			return err
		}
		result, err := tx.Exec(
			"INSERT INTO allocation_tags (group_id, name, order_index) VALUES (?, ?, ?)",
			tag.GroupID, tag.Name, tag.OrderIndex,
		)
		if err != nil {
			return WrapError(ErrCodeDatabase, "insert tag", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return WrapError(ErrCodeDatabase, "read tag id", err)
		}
		created, err = c.getTagTx(tx, id)
		if err != nil {
			return err
		}
		return c.writeAuditTx(tx, "allocation_tag", id, auditActionCreate, nil, created)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetTags returns tags, optionally limited to one group.
func (c *Core) GetTags(ctx context.Context, groupID int64) ([]Tag, error) {
	query := "SELECT id, group_id, name, order_index, created_at FROM allocation_tags"
	args := []any{}
	if groupID > 0 {
		query += " WHERE group_id = ?"
		args = append(args, groupID)
	}
	query += " ORDER BY group_id, order_index, id"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "query tags", err)
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		var createdAt sql.NullString
		if err := rows.Scan(&t.ID, &t.GroupID, &t.Name, &t.OrderIndex, &createdAt); err != nil {
			return nil, WrapError(ErrCodeDatabase, "scan tag", err)
		}
		if createdAt.Valid {
			t.CreatedAt = &createdAt.String
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// UpdateTag patches a tag. Moving a tag to another group drops selections
// that would otherwise point across groups.
func (c *Core) UpdateTag(ctx context.Context, id int64, groupID *int64, name *string, orderIndex *int) (*Tag, error) {
	var updated *Tag
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		before, err := c.getTagTx(tx, id)
		if err != nil {
			return err
		}
		sets := []string{}
		args := []any{}
		if groupID != nil {
			if _, err := c.getTagGroupTx(tx, *groupID); err != nil {
				return err
			}
			sets = append(sets, "group_id = ?")
			args = append(args, *groupID)
		}
		if name != nil {
			trimmed := strings.TrimSpace(*name)
			if trimmed == "" {
				return NewFieldError("name", "name cannot be empty")
			}
			sets = append(sets, "name = ?")
			args = append(args, trimmed)
		}
		if orderIndex != nil {
			sets = append(sets, "order_index = ?")
			args = append(args, *orderIndex)
		}
		if len(sets) == 0 {
			updated = before
			return nil
		}
		args = append(args, id)
		if _, err := tx.Exec("UPDATE allocation_tags SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
			return WrapError(ErrCodeDatabase, "update tag", err)
		}
		if groupID != nil && *groupID != before.GroupID {
			if _, err := tx.Exec("DELETE FROM instrument_tag_selections WHERE tag_id = ? AND group_id != ?", id, *groupID); err != nil {
				return WrapError(ErrCodeDatabase, "drop cross-group selections", err)
			}
			if _, err := tx.Exec("DELETE FROM account_tag_selections WHERE tag_id = ? AND group_id != ?", id, *groupID); err != nil {
				return WrapError(ErrCodeDatabase, "drop cross-group selections", err)
			}
		}
		updated, err = c.getTagTx(tx, id)
		if err != nil {
			return err
		}
		return c.writeAuditTx(tx, "allocation_tag", id, auditActionUpdate, before, updated)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTag removes a tag and every selection referencing it.
func (c *Core) DeleteTag(ctx context.Context, id int64) error {
	return c.WithTx(ctx, func(tx *sql.Tx) error {
		before, err := c.getTagTx(tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM instrument_tag_selections WHERE tag_id = ?", id); err != nil {
			return WrapError(ErrCodeDatabase, "delete instrument selections", err)
		}
		if _, err := tx.Exec("DELETE FROM account_tag_selections WHERE tag_id = ?", id); err != nil {
			return WrapError(ErrCodeDatabase, "delete account selections", err)
		}
		if _, err := tx.Exec("DELETE FROM allocation_tags WHERE id = ?", id); err != nil {
			return WrapError(ErrCodeDatabase, "delete tag", err)
		}
		return c.writeAuditTx(tx, "allocation_tag", id, auditActionDelete, before, nil)
	})
}

// UpsertInstrumentTag selects one tag of a group for an instrument,
// overwriting any earlier selection in the same group.
func (c *Core) UpsertInstrumentTag(ctx context.Context, instrumentID, groupID, tagID int64) (*TagSelection, error) {
	return c.upsertSelection(ctx, "instrument_tag_selections", "instrument_id", instrumentID, groupID, tagID,
		func(tx *sql.Tx) error {
			ok, err := c.instrumentExistsTx(tx, instrumentID)
			if err != nil {
				return WrapError(ErrCodeDatabase, "check instrument", err)
			}
			if !ok {
				return NewError(ErrCodeReferential, fmt.Sprintf("instrument not found: %d", instrumentID))
			}
			return nil
		})
}

// UpsertAccountTag selects one tag of a group for an account.
func (c *Core) UpsertAccountTag(ctx context.Context, accountID, groupID, tagID int64) (*TagSelection, error) {
	return c.upsertSelection(ctx, "account_tag_selections", "account_id", accountID, groupID, tagID,
		func(tx *sql.Tx) error {
			ok, err := c.accountExistsTx(tx, accountID)
			if err != nil {
				return WrapError(ErrCodeDatabase, "check account", err)
			}
			if !ok {
				return NewError(ErrCodeReferential, fmt.Sprintf("account not found: %d", accountID))
			}
			return nil
		})
}

func (c *Core) upsertSelection(ctx context.Context, table, targetColumn string, targetID, groupID, tagID int64, checkTarget func(*sql.Tx) error) (*TagSelection, error) {
	var selection *TagSelection
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		if err := checkTarget(tx); err != nil {
			return err
		}
		if _, err := c.getTagGroupTx(tx, groupID); err != nil {
			return err
		}
		tag, err := c.getTagTx(tx, tagID)
		if err != nil {
			return err
		}
		if tag.GroupID != groupID {
			return NewError(ErrCodeValidation, "tag does not belong to selected group")
		}

		if _, err := tx.Exec(fmt.Sprintf(`
			INSERT INTO %s (%s, group_id, tag_id) VALUES (?, ?, ?)
			ON CONFLICT(%s, group_id) DO UPDATE SET tag_id = excluded.tag_id, updated_at = CURRENT_TIMESTAMP
		`, table, targetColumn, targetColumn), targetID, groupID, tagID); err != nil {
			return WrapError(ErrCodeDatabase, "upsert tag selection", err)
		}

		var s TagSelection
		if err := tx.QueryRow(fmt.Sprintf(
			"SELECT id, %s, group_id, tag_id, updated_at FROM %s WHERE %s = ? AND group_id = ?",
			targetColumn, table, targetColumn,
		), targetID, groupID).Scan(&s.ID, &s.TargetID, &s.GroupID, &s.TagID, &s.UpdatedAt); err != nil {
			return WrapError(ErrCodeDatabase, "read tag selection", err)
		}
		selection = &s
		return c.writeAuditTx(tx, strings.TrimSuffix(table, "s"), s.ID, auditActionUpdate, nil, selection)
	})
	if err != nil {
		return nil, err
	}
	return selection, nil
}

// GetInstrumentTags lists all instrument tag selections.
func (c *Core) GetInstrumentTags(ctx context.Context) ([]TagSelection, error) {
	return c.listSelections(ctx, "instrument_tag_selections", "instrument_id")
}

// GetAccountTags lists all account tag selections.
func (c *Core) GetAccountTags(ctx context.Context) ([]TagSelection, error) {
	return c.listSelections(ctx, "account_tag_selections", "account_id")
}

func (c *Core) listSelections(ctx context.Context, table, targetColumn string) ([]TagSelection, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT id, %s, group_id, tag_id, updated_at FROM %s ORDER BY %s, group_id, id",
		targetColumn, table, targetColumn,
	))
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "query tag selections", err)
	}
	defer rows.Close()

	var selections []TagSelection
	for rows.Next() {
		var s TagSelection
		if err := rows.Scan(&s.ID, &s.TargetID, &s.GroupID, &s.TagID, &s.UpdatedAt); err != nil {
			return nil, WrapError(ErrCodeDatabase, "scan tag selection", err)
		}
		selections = append(selections, s)
	}
	return selections, rows.Err()
}

// DeleteInstrumentTag removes one instrument's selection within a group.
func (c *Core) DeleteInstrumentTag(ctx context.Context, instrumentID, groupID int64) error {
	return c.deleteSelection(ctx, "instrument_tag_selections", "instrument_id", instrumentID, groupID)
}

// DeleteAccountTag removes one account's selection within a group.
func (c *Core) DeleteAccountTag(ctx context.Context, accountID, groupID int64) error {
	return c.deleteSelection(ctx, "account_tag_selections", "account_id", accountID, groupID)
}

func (c *Core) deleteSelection(ctx context.Context, table, targetColumn string, targetID, groupID int64) error {
	return c.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.Exec(fmt.Sprintf(
			"DELETE FROM %s WHERE %s = ? AND group_id = ?", table, targetColumn,
		), targetID, groupID)
		if err != nil {
			return WrapError(ErrCodeDatabase, "delete tag selection", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return WrapError(ErrCodeDatabase, "count deleted selections", err)
		}
		if n == 0 {
			return NewError(ErrCodeNotFound, "tag selection not found")
		}
		return c.writeAuditTx(tx, strings.TrimSuffix(table, "s"), targetID, auditActionDelete, nil, nil)
	})
}

func (c *Core) getTagGroupTx(tx *sql.Tx, id int64) (*TagGroup, error) {
	var g TagGroup
	var createdAt sql.NullString
	err := tx.QueryRow("SELECT id, name, order_index, created_at FROM allocation_tag_groups WHERE id = ?", id).
		Scan(&g.ID, &g.Name, &g.OrderIndex, &createdAt)
	if err == sql.ErrNoRows {
		return nil, NewError(ErrCodeNotFound, fmt.Sprintf("tag group not found: %d", id))
	}
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "query tag group", err)
	}
	if createdAt.Valid {
		g.CreatedAt = &createdAt.String
	}
	return &g, nil
}

func (c *Core) getTagTx(tx *sql.Tx, id int64) (*Tag, error) {
	var t Tag
	var createdAt sql.NullString
	err := tx.QueryRow("SELECT id, group_id, name, order_index, created_at FROM allocation_tags WHERE id = ?", id).
		Scan(&t.ID, &t.GroupID, &t.Name, &t.OrderIndex, &createdAt)
	if err == sql.ErrNoRows {
		return nil, NewError(ErrCodeNotFound, fmt.Sprintf("tag not found: %d", id))
	}
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "query tag", err)
	}
	if createdAt.Valid {
		t.CreatedAt = &createdAt.String
	}
	return &t, nil
}
