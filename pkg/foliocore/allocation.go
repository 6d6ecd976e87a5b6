package foliocore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CreateNode inserts an allocation node under the given parent (nil parent
// means root). Sibling weights are not forced to sum to 100 here so the tree
// can be built incrementally; a non-conformant sibling set is logged and the
// batch weight update is the hard enforcement point. When the new node is its
// parent's first child, instrument bindings on the parent migrate down to the
// new node so the leaf-only binding rule keeps holding.
func (c *Core) CreateNode(ctx context.Context, req CreateNodeRequest) (*AllocationNode, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, NewFieldError("name", "name is required")
	}
	if req.TargetWeight.IsNegative() || req.TargetWeight.GreaterThan(hundred) {
		return nil, NewFieldError("target_weight", "target_weight must be between 0 and 100")
	}

	var created *AllocationNode
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		if req.ParentID != nil {
			ok, err := c.nodeExistsTx(tx, *req.ParentID)
			if err != nil {
				return WrapError(ErrCodeDatabase, "check parent node", err)
			}
			if !ok {
				return NewError(ErrCodeReferential, fmt.Sprintf("parent node not found: %d", *req.ParentID))
			}
		}

		weight, _ := req.TargetWeight.Value()
		result, err := tx.Exec(`
			INSERT INTO allocation_nodes (parent_id, name, target_weight, order_index)
			VALUES (?, ?, ?, ?)
		`, nullableInt64(req.ParentID), req.Name, weight, req.OrderIndex)
		if err != nil {
			return WrapError(ErrCodeDatabase, "insert allocation node", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return WrapError(ErrCodeDatabase, "read node id", err)
		}

		movedInstruments := 0
		movedAccounts := 0
		if req.ParentID != nil {
			var sibling int64
			err := tx.QueryRow(
				"SELECT id FROM allocation_nodes WHERE parent_id = ? AND id != ? LIMIT 1",
				*req.ParentID, id,
			).Scan(&sibling)
			if err == sql.ErrNoRows {
				// Parent just stopped being a leaf; its bindings follow the
				// first child.
				res, err := tx.Exec("UPDATE instruments SET allocation_node_id = ? WHERE allocation_node_id = ?", id, *req.ParentID)
				if err != nil {
					return WrapError(ErrCodeDatabase, "migrate instrument bindings", err)
				}
				n, _ := res.RowsAffected()
				movedInstruments = int(n)
				res, err = tx.Exec("UPDATE accounts SET allocation_node_id = ? WHERE allocation_node_id = ?", id, *req.ParentID)
				if err != nil {
					return WrapError(ErrCodeDatabase, "migrate account bindings", err)
				}
				n, _ = res.RowsAffected()
				movedAccounts = int(n)
			} else if err != nil {
				return WrapError(ErrCodeDatabase, "check siblings", err)
			}
		}

		if valid, total, err := c.siblingWeightsConformTx(tx, req.ParentID); err != nil {
			return err
		} else if !valid {
			c.logger.Warn("sibling weights do not sum to 100 after node create",
				"node_id", id, "total", total.String())
		}

		created, err = c.getNodeTx(tx, id)
		if err != nil {
			return err
		}
		return c.writeAuditTx(tx, "allocation_node", id, auditActionCreate, nil, map[string]any{
			"node":                   created,
			"auto_moved_instruments": movedInstruments,
			"auto_moved_accounts":    movedAccounts,
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetNodes returns the whole tree flattened, ordered for stable rendering.
func (c *Core) GetNodes(ctx context.Context) ([]AllocationNode, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, parent_id, name, target_weight, order_index, created_at, updated_at
		FROM allocation_nodes ORDER BY parent_id, order_index, id
	`)
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "query allocation nodes", err)
	}
	defer rows.Close()

	var nodes []AllocationNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

// UpdateNode applies a partial update. Moving a node under itself or one of
// its descendants is rejected.
func (c *Core) UpdateNode(ctx context.Context, id int64, patch NodePatch) (*AllocationNode, error) {
	var updated *AllocationNode
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		before, err := c.getNodeTx(tx, id)
		if err != nil {
			return err
		}

		sets := []string{}
		args := []any{}
		if patch.MoveToRoot {
			sets = append(sets, "parent_id = NULL")
		} else if patch.ParentID != nil {
			newParent := *patch.ParentID
			if newParent == id {
				return NewError(ErrCodeValidation, "node cannot be parent of itself")
			}
			ok, err := c.nodeExistsTx(tx, newParent)
			if err != nil {
				return WrapError(ErrCodeDatabase, "check parent node", err)
			}
			if !ok {
				return NewError(ErrCodeReferential, fmt.Sprintf("parent node not found: %d", newParent))
			}
			descendant, err := c.isDescendantTx(tx, id, newParent)
			if err != nil {
				return err
			}
			if descendant {
				return NewError(ErrCodeValidation, "node cannot move under its descendant")
			}
			sets = append(sets, "parent_id = ?")
			args = append(args, newParent)
		}
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return NewFieldError("name", "name cannot be empty")
			}
			sets = append(sets, "name = ?")
			args = append(args, name)
		}
		if patch.TargetWeight != nil {
			if patch.TargetWeight.IsNegative() || patch.TargetWeight.GreaterThan(hundred) {
				return NewFieldError("target_weight", "target_weight must be between 0 and 100")
			}
			weight, _ := patch.TargetWeight.Value()
			sets = append(sets, "target_weight = ?")
			args = append(args, weight)
		}
		if patch.OrderIndex != nil {
			sets = append(sets, "order_index = ?")
			args = append(args, *patch.OrderIndex)
		}
		if len(sets) == 0 {
			updated = before
			return nil
		}
		sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
		args = append(args, id)

		if _, err := tx.Exec("UPDATE allocation_nodes SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
			return WrapError(ErrCodeDatabase, "update allocation node", err)
		}
		updated, err = c.getNodeTx(tx, id)
		if err != nil {
			return err
		}

		if valid, total, err := c.siblingWeightsConformTx(tx, updated.ParentID); err != nil {
			return err
		} else if !valid {
			c.logger.Warn("sibling weights do not sum to 100 after node update",
				"node_id", id, "total", total.String())
		}
		return c.writeAuditTx(tx, "allocation_node", id, auditActionUpdate, before, updated)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// BatchUpdateWeights is the hard enforcement point for the sum-to-100
// invariant: the items must name exactly the children of ParentID and their
// weights must sum to 100 within tolerance, or nothing is changed.
func (c *Core) BatchUpdateWeights(ctx context.Context, req BatchWeightsRequest) ([]AllocationNode, error) {
	var updated []AllocationNode
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		siblings, err := c.childrenTx(tx, req.ParentID)
		if err != nil {
			return err
		}
		if len(siblings) == 0 {
			return NewError(ErrCodeNotFound, "allocation sibling group not found")
		}

		weightByID := lo.SliceToMap(req.Items, func(item NodeWeightItem) (int64, Amount) {
			return item.ID, item.TargetWeight
		})
		if len(weightByID) != len(req.Items) {
			return NewError(ErrCodeValidation, "payload contains duplicate node ids")
		}

		siblingIDs := lo.Map(siblings, func(n AllocationNode, _ int) int64 { return n.ID })
		payloadIDs := lo.Keys(weightByID)
		missing, extra := lo.Difference(siblingIDs, payloadIDs)
		if len(missing) > 0 || len(extra) > 0 {
			return NewError(ErrCodeValidation, "payload must include all sibling nodes in the selected parent group")
		}

		total := decimal.Zero
		for _, weight := range weightByID {
			total = total.Add(weight.Decimal)
		}
		if total.Sub(hundred).Abs().GreaterThan(c.weightTolerance) {
			return NewError(ErrCodeValidation, fmt.Sprintf("target weights must sum to 100, got %s", total.String()))
		}
		for _, node := range siblings {
			weight, _ := weightByID[node.ID].Value()
			if _, err := tx.Exec(
				"UPDATE allocation_nodes SET target_weight = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
				weight, node.ID,
			); err != nil {
				return WrapError(ErrCodeDatabase, "update node weight", err)
			}
			after, err := c.getNodeTx(tx, node.ID)
			if err != nil {
				return err
			}
			if err := c.writeAuditTx(tx, "allocation_node", node.ID, auditActionUpdate, node, after); err != nil {
				return err
			}
			updated = append(updated, *after)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteNode removes a node and its whole subtree, unbinds every instrument
// and account attached anywhere in the subtree, and renormalizes the
// remaining siblings back to a 100 sum.
func (c *Core) DeleteNode(ctx context.Context, id int64) (*NodeDeleteResult, error) {
	var result *NodeDeleteResult
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		node, err := c.getNodeTx(tx, id)
		if err != nil {
			return err
		}

		subtree, err := c.subtreeIDsTx(tx, id)
		if err != nil {
			return err
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(subtree)), ",")
		args := lo.Map(subtree, func(nodeID int64, _ int) any { return nodeID })

		res, err := tx.Exec("UPDATE instruments SET allocation_node_id = NULL WHERE allocation_node_id IN ("+placeholders+")", args...)
		if err != nil {
			return WrapError(ErrCodeDatabase, "unbind instruments", err)
		}
		unboundInstruments, _ := res.RowsAffected()

		res, err = tx.Exec("UPDATE accounts SET allocation_node_id = NULL WHERE allocation_node_id IN ("+placeholders+")", args...)
		if err != nil {
			return WrapError(ErrCodeDatabase, "unbind accounts", err)
		}
		unboundAccounts, _ := res.RowsAffected()

		if _, err := tx.Exec("DELETE FROM allocation_nodes WHERE id IN ("+placeholders+")", args...); err != nil {
			return WrapError(ErrCodeDatabase, "delete subtree", err)
		}

		if err := c.renormalizeSiblingsTx(tx, node.ParentID); err != nil {
			return err
		}

		result = &NodeDeleteResult{
			Deleted:            true,
			DeletedNodes:       len(subtree),
			UnboundInstruments: int(unboundInstruments),
			UnboundAccounts:    int(unboundAccounts),
		}
		return c.writeAuditTx(tx, "allocation_node", id, auditActionDelete, node, result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// renormalizeSiblingsTx rescales the remaining children of a parent so their
// weights sum to exactly 100 again. Weights are scaled proportionally with
// round-down, and the last sibling absorbs the remainder so the sum is exact.
func (c *Core) renormalizeSiblingsTx(tx *sql.Tx, parentID *int64) error {
	siblings, err := c.childrenTx(tx, parentID)
	if err != nil {
		return err
	}
	if len(siblings) == 0 {
		return nil
	}

	setWeight := func(id int64, w decimal.Decimal) error {
		f, _ := w.Float64()
		if _, err := tx.Exec(
			"UPDATE allocation_nodes SET target_weight = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			f, id,
		); err != nil {
			return WrapError(ErrCodeDatabase, "renormalize sibling weight", err)
		}
		return nil
	}

	if len(siblings) == 1 {
		return setWeight(siblings[0].ID, hundred)
	}

	total := decimal.Zero
	for _, n := range siblings {
		total = total.Add(n.TargetWeight.Decimal)
	}

	if !total.IsPositive() {
		each := hundred.Div(decimal.NewFromInt(int64(len(siblings)))).RoundDown(4)
		assigned := decimal.Zero
		for _, n := range siblings[:len(siblings)-1] {
			if err := setWeight(n.ID, each); err != nil {
				return err
			}
			assigned = assigned.Add(each)
		}
		return setWeight(siblings[len(siblings)-1].ID, hundred.Sub(assigned))
	}

	assigned := decimal.Zero
	for _, n := range siblings[:len(siblings)-1] {
		normalized := n.TargetWeight.Div(total).Mul(hundred).RoundDown(4)
		if err := setWeight(n.ID, normalized); err != nil {
			return err
		}
		assigned = assigned.Add(normalized)
	}
	return setWeight(siblings[len(siblings)-1].ID, hundred.Sub(assigned))
}

// BindInstrument attaches an instrument to a leaf node, or detaches it when
// nodeID is nil. Rebinding overwrites the previous binding.
func (c *Core) BindInstrument(ctx context.Context, instrumentID int64, nodeID *int64) (*Instrument, error) {
	patch := InstrumentPatch{AllocationNodeID: nodeID, ClearNodeBinding: nodeID == nil}
	return c.UpdateInstrument(ctx, instrumentID, patch)
}

// BindAccount attaches an account's cash to a leaf node, or detaches it when
// nodeID is nil.
func (c *Core) BindAccount(ctx context.Context, accountID int64, nodeID *int64) (*Account, error) {
	patch := AccountPatch{AllocationNodeID: nodeID, ClearNodeBinding: nodeID == nil}
	return c.UpdateAccount(ctx, accountID, patch)
}

// checkLeafBindingTx validates that a node exists and has no children.
func (c *Core) checkLeafBindingTx(tx *sql.Tx, nodeID int64) error {
	ok, err := c.nodeExistsTx(tx, nodeID)
	if err != nil {
		return WrapError(ErrCodeDatabase, "check node", err)
	}
	if !ok {
		return NewError(ErrCodeReferential, fmt.Sprintf("allocation node not found: %d", nodeID))
	}
	leaf, err := c.nodeIsLeafTx(tx, nodeID)
	if err != nil {
		return WrapError(ErrCodeDatabase, "check node children", err)
	}
	if !leaf {
		return NewError(ErrCodeValidation, "bindings can only attach to nodes without children")
	}
	return nil
}

func (c *Core) siblingWeightsConformTx(tx *sql.Tx, parentID *int64) (bool, decimal.Decimal, error) {
	siblings, err := c.childrenTx(tx, parentID)
	if err != nil {
		return false, decimal.Zero, err
	}
	if len(siblings) == 0 {
		return true, decimal.Zero, nil
	}
	total := decimal.Zero
	for _, n := range siblings {
		total = total.Add(n.TargetWeight.Decimal)
	}
	return total.Sub(hundred).Abs().LessThanOrEqual(c.weightTolerance), total, nil
}

func (c *Core) childrenTx(tx *sql.Tx, parentID *int64) ([]AllocationNode, error) {
	query := `
		SELECT id, parent_id, name, target_weight, order_index, created_at, updated_at
		FROM allocation_nodes WHERE parent_id IS ? ORDER BY order_index, id
	`
	rows, err := tx.Query(query, nullableInt64(parentID))
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "query children", err)
	}
	defer rows.Close()

	var nodes []AllocationNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

// subtreeIDsTx collects a node and all descendants iteratively. The visited
// set guards against a corrupt cyclic parent chain.
func (c *Core) subtreeIDsTx(tx *sql.Tx, rootID int64) ([]int64, error) {
	pending := []int64{rootID}
	visited := map[int64]bool{}
	var ordered []int64

	for len(pending) > 0 {
		current := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if visited[current] {
			continue
		}
		visited[current] = true
		ordered = append(ordered, current)

		rows, err := tx.Query("SELECT id FROM allocation_nodes WHERE parent_id = ?", current)
		if err != nil {
			return nil, WrapError(ErrCodeDatabase, "query subtree", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, WrapError(ErrCodeDatabase, "scan subtree id", err)
			}
			pending = append(pending, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, WrapError(ErrCodeDatabase, "iterate subtree", err)
		}
		rows.Close()
	}
	return ordered, nil
}

func (c *Core) isDescendantTx(tx *sql.Tx, rootID, candidateID int64) (bool, error) {
	subtree, err := c.subtreeIDsTx(tx, rootID)
	if err != nil {
		return false, err
	}
	for _, id := range subtree {
		if id == candidateID && id != rootID {
			return true, nil
		}
	}
	return false, nil
}

func (c *Core) getNodeTx(tx *sql.Tx, id int64) (*AllocationNode, error) {
	row := tx.QueryRow(`
		SELECT id, parent_id, name, target_weight, order_index, created_at, updated_at
		FROM allocation_nodes WHERE id = ?
	`, id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, NewError(ErrCodeNotFound, fmt.Sprintf("allocation node not found: %d", id))
	}
	return n, err
}

func scanNode(row rowScanner) (*AllocationNode, error) {
	var n AllocationNode
	var parentID sql.NullInt64
	var createdAt, updatedAt sql.NullString
	if err := row.Scan(&n.ID, &parentID, &n.Name, &n.TargetWeight, &n.OrderIndex, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, WrapError(ErrCodeDatabase, "scan allocation node", err)
	}
	if parentID.Valid {
		n.ParentID = &parentID.Int64
	}
	if createdAt.Valid {
		n.CreatedAt = &createdAt.String
	}
	if updatedAt.Valid {
		n.UpdatedAt = &updatedAt.String
	}
	return &n, nil
}

// nodePath renders "Root / Child / Leaf" using a parent-pointer map, with
// cycle detection.
func nodePath(node AllocationNode, byID map[int64]AllocationNode) (string, error) {
	parts := []string{node.Name}
	current := node
	visited := map[int64]bool{}
	for current.ParentID != nil {
		if visited[current.ID] {
			return "", NewError(ErrCodeInternal, "allocation node cycle detected")
		}
		visited[current.ID] = true
		parent, ok := byID[*current.ParentID]
		if !ok {
			return "", NewError(ErrCodeInternal, "allocation node parent missing")
		}
		parts = append([]string{parent.Name}, parts...)
		current = parent
	}
	return strings.Join(parts, " / "), nil
}

// globalWeight resolves a node's effective portfolio weight by walking the
// parent chain, multiplying by each ancestor's weight over 100. The walk
// ascends to the root or the nearest cached ancestor, then caches the
// cumulative weight of every node on the chain, so siblings sharing ancestors
// never rewalk the shared part. A visited set makes a corrupt cycle fail
// instead of looping.
func globalWeight(node AllocationNode, byID map[int64]AllocationNode, memo map[int64]decimal.Decimal) (decimal.Decimal, error) {
	if w, ok := memo[node.ID]; ok {
		return w, nil
	}
	chain := []AllocationNode{node}
	visited := map[int64]bool{node.ID: true}
	acc := hundred
	current := node
	for current.ParentID != nil {
		parent, ok := byID[*current.ParentID]
		if !ok {
			return decimal.Zero, NewError(ErrCodeInternal, "allocation node parent missing")
		}
		if visited[parent.ID] {
			return decimal.Zero, NewError(ErrCodeInternal, "allocation node cycle detected")
		}
		if w, ok := memo[parent.ID]; ok {
			acc = w
			break
		}
		visited[parent.ID] = true
		chain = append(chain, parent)
		current = parent
	}
	for i := len(chain) - 1; i >= 0; i-- {
		acc = acc.Mul(chain[i].TargetWeight.Decimal).Div(hundred)
		memo[chain[i].ID] = acc
	}
	return memo[node.ID], nil
}
