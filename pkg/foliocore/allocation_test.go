package foliocore

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNode(t *testing.T, core *Core, parentID *int64, name string, weight float64) *AllocationNode {
	t.Helper()
	node, err := core.CreateNode(context.Background(), CreateNodeRequest{
		ParentID:     parentID,
		Name:         name,
		TargetWeight: NewAmount(weight),
	})
	require.NoError(t, err)
	return node
}

func findNode(t *testing.T, core *Core, id int64) AllocationNode {
	t.Helper()
	nodes, err := core.GetNodes(context.Background())
	require.NoError(t, err)
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("node %d not found", id)
	return AllocationNode{}
}

func TestCreateNodeValidation(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	_, err := core.CreateNode(ctx, CreateNodeRequest{Name: "  ", TargetWeight: NewAmount(10)})
	var coreErr *Error
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, ErrCodeValidation, coreErr.Code)
	assert.Equal(t, "name", coreErr.Field)

	_, err = core.CreateNode(ctx, CreateNodeRequest{Name: "Equities", TargetWeight: NewAmount(101)})
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, "target_weight", coreErr.Field)

	missing := int64(9999)
	_, err = core.CreateNode(ctx, CreateNodeRequest{ParentID: &missing, Name: "Orphan", TargetWeight: NewAmount(10)})
	assert.True(t, IsErrorCode(err, ErrCodeReferential))
}

func TestCreateFirstChildMigratesBindings(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	parent := testNode(t, core, nil, "Equities", 100)
	instrument := testInstrument(t, core, "600519.SH")
	account := testAccount(t, core, "Broker A", AccountTypeBrokerage)

	_, err := core.BindInstrument(ctx, instrument.ID, &parent.ID)
	require.NoError(t, err)
	_, err = core.BindAccount(ctx, account.ID, &parent.ID)
	require.NoError(t, err)

	// First child turns the parent into an interior node and inherits its
	// bindings.
	child := testNode(t, core, &parent.ID, "A-Shares", 100)

	boundInstrument, err := core.GetInstrument(ctx, instrument.ID)
	require.NoError(t, err)
	require.NotNil(t, boundInstrument.AllocationNodeID)
	assert.Equal(t, child.ID, *boundInstrument.AllocationNodeID)

	boundAccount, err := core.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	require.NotNil(t, boundAccount.AllocationNodeID)
	assert.Equal(t, child.ID, *boundAccount.AllocationNodeID)

	// A second child does not touch the first child's bindings.
	testNode(t, core, &parent.ID, "HK-Shares", 0)
	boundInstrument, err = core.GetInstrument(ctx, instrument.ID)
	require.NoError(t, err)
	assert.Equal(t, child.ID, *boundInstrument.AllocationNodeID)
}

func TestBindInstrumentLeafOnly(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	parent := testNode(t, core, nil, "Equities", 100)
	leaf := testNode(t, core, &parent.ID, "A-Shares", 100)
	instrument := testInstrument(t, core, "600519.SH")

	_, err := core.BindInstrument(ctx, instrument.ID, &parent.ID)
	assert.True(t, IsErrorCode(err, ErrCodeValidation))

	bound, err := core.BindInstrument(ctx, instrument.ID, &leaf.ID)
	require.NoError(t, err)
	require.NotNil(t, bound.AllocationNodeID)
	assert.Equal(t, leaf.ID, *bound.AllocationNodeID)

	missing := int64(9999)
	_, err = core.BindInstrument(ctx, instrument.ID, &missing)
	assert.True(t, IsErrorCode(err, ErrCodeReferential))
}

func TestRebindAndUnbindInstrument(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	first := testNode(t, core, nil, "Equities", 60)
	second := testNode(t, core, nil, "Bonds", 40)
	instrument := testInstrument(t, core, "600519.SH")

	_, err := core.BindInstrument(ctx, instrument.ID, &first.ID)
	require.NoError(t, err)

	rebound, err := core.BindInstrument(ctx, instrument.ID, &second.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, *rebound.AllocationNodeID)

	unbound, err := core.BindInstrument(ctx, instrument.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, unbound.AllocationNodeID)
}

func TestUpdateNodeCycleGuards(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	root := testNode(t, core, nil, "Equities", 100)
	child := testNode(t, core, &root.ID, "A-Shares", 60)
	grandchild := testNode(t, core, &child.ID, "Consumer", 100)

	_, err := core.UpdateNode(ctx, root.ID, NodePatch{ParentID: &root.ID})
	assert.True(t, IsErrorCode(err, ErrCodeValidation))

	_, err = core.UpdateNode(ctx, root.ID, NodePatch{ParentID: &grandchild.ID})
	assert.True(t, IsErrorCode(err, ErrCodeValidation))

	moved, err := core.UpdateNode(ctx, grandchild.ID, NodePatch{MoveToRoot: true})
	require.NoError(t, err)
	assert.Nil(t, moved.ParentID)
}

func TestBatchUpdateWeightsSumInvariant(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	parent := testNode(t, core, nil, "Portfolio", 100)
	a := testNode(t, core, &parent.ID, "Equities", 70)
	b := testNode(t, core, &parent.ID, "Bonds", 30)

	// Sums of 99 and 101 are both outside tolerance and must leave the
	// stored weights untouched.
	for _, weights := range [][2]float64{{70, 29}, {70, 31}} {
		_, err := core.BatchUpdateWeights(ctx, BatchWeightsRequest{
			ParentID: &parent.ID,
			Items: []NodeWeightItem{
				{ID: a.ID, TargetWeight: NewAmount(weights[0])},
				{ID: b.ID, TargetWeight: NewAmount(weights[1])},
			},
		})
		assert.True(t, IsErrorCode(err, ErrCodeValidation))
		requireAmount(t, 70, findNode(t, core, a.ID).TargetWeight, "weight a unchanged")
		requireAmount(t, 30, findNode(t, core, b.ID).TargetWeight, "weight b unchanged")
	}

	updated, err := core.BatchUpdateWeights(ctx, BatchWeightsRequest{
		ParentID: &parent.ID,
		Items: []NodeWeightItem{
			{ID: a.ID, TargetWeight: NewAmount(55.5)},
			{ID: b.ID, TargetWeight: NewAmount(44.5)},
		},
	})
	require.NoError(t, err)
	require.Len(t, updated, 2)
	requireAmount(t, 55.5, findNode(t, core, a.ID).TargetWeight, "weight a updated")
	requireAmount(t, 44.5, findNode(t, core, b.ID).TargetWeight, "weight b updated")
}

func TestBatchUpdateWeightsRejectsDuplicateIDs(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	parent := testNode(t, core, nil, "Portfolio", 100)
	a := testNode(t, core, &parent.ID, "Equities", 60)
	b := testNode(t, core, &parent.ID, "Bonds", 40)

	// Repeating a node can make the raw item sum read 100 while the
	// last-wins weights would commit to 50. The whole batch must fail.
	_, err := core.BatchUpdateWeights(ctx, BatchWeightsRequest{
		ParentID: &parent.ID,
		Items: []NodeWeightItem{
			{ID: a.ID, TargetWeight: NewAmount(50)},
			{ID: a.ID, TargetWeight: NewAmount(25)},
			{ID: b.ID, TargetWeight: NewAmount(25)},
		},
	})
	assert.True(t, IsErrorCode(err, ErrCodeValidation))
	requireAmount(t, 60, findNode(t, core, a.ID).TargetWeight, "weight a unchanged")
	requireAmount(t, 40, findNode(t, core, b.ID).TargetWeight, "weight b unchanged")
}

func TestBatchUpdateWeightsExactSiblingSet(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	parent := testNode(t, core, nil, "Portfolio", 100)
	a := testNode(t, core, &parent.ID, "Equities", 70)
	b := testNode(t, core, &parent.ID, "Bonds", 30)
	outsider := testNode(t, core, nil, "Cash", 0)

	// Missing sibling.
	_, err := core.BatchUpdateWeights(ctx, BatchWeightsRequest{
		ParentID: &parent.ID,
		Items:    []NodeWeightItem{{ID: a.ID, TargetWeight: NewAmount(100)}},
	})
	assert.True(t, IsErrorCode(err, ErrCodeValidation))

	// Node from another sibling group.
	_, err = core.BatchUpdateWeights(ctx, BatchWeightsRequest{
		ParentID: &parent.ID,
		Items: []NodeWeightItem{
			{ID: a.ID, TargetWeight: NewAmount(50)},
			{ID: b.ID, TargetWeight: NewAmount(25)},
			{ID: outsider.ID, TargetWeight: NewAmount(25)},
		},
	})
	assert.True(t, IsErrorCode(err, ErrCodeValidation))

	// Leaf without children is not a sibling group.
	_, err = core.BatchUpdateWeights(ctx, BatchWeightsRequest{
		ParentID: &a.ID,
		Items:    []NodeWeightItem{{ID: b.ID, TargetWeight: NewAmount(100)}},
	})
	assert.True(t, IsErrorCode(err, ErrCodeNotFound))
}

func TestDeleteNodeCascades(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	doomed := testNode(t, core, nil, "Equities", 60)
	survivor := testNode(t, core, nil, "Bonds", 40)
	child := testNode(t, core, &doomed.ID, "A-Shares", 50)
	interior := testNode(t, core, &doomed.ID, "Overseas", 50)
	grandchild := testNode(t, core, &interior.ID, "US", 100)

	instrument := testInstrument(t, core, "600519.SH")
	account := testAccount(t, core, "Broker A", AccountTypeBrokerage)
	_, err := core.BindInstrument(ctx, instrument.ID, &child.ID)
	require.NoError(t, err)
	_, err = core.BindAccount(ctx, account.ID, &grandchild.ID)
	require.NoError(t, err)

	result, err := core.DeleteNode(ctx, doomed.ID)
	require.NoError(t, err)
	assert.True(t, result.Deleted)
	assert.Equal(t, 4, result.DeletedNodes)
	assert.Equal(t, 1, result.UnboundInstruments)
	assert.Equal(t, 1, result.UnboundAccounts)

	unbound, err := core.GetInstrument(ctx, instrument.ID)
	require.NoError(t, err)
	assert.Nil(t, unbound.AllocationNodeID)

	// The sole remaining root is renormalized to 100.
	requireAmount(t, 100, findNode(t, core, survivor.ID).TargetWeight, "survivor renormalized")

	nodes, err := core.GetNodes(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	_, err = core.DeleteNode(ctx, doomed.ID)
	assert.True(t, IsErrorCode(err, ErrCodeNotFound))
}

func TestDeleteNodeRenormalizesProportionally(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	a := testNode(t, core, nil, "Equities", 50)
	b := testNode(t, core, nil, "Bonds", 30)
	c := testNode(t, core, nil, "Cash", 20)

	_, err := core.DeleteNode(ctx, c.ID)
	require.NoError(t, err)

	// 50/80 and 30/80 rescaled, last sibling absorbs any rounding remainder.
	requireAmount(t, 62.5, findNode(t, core, a.ID).TargetWeight, "first sibling rescaled")
	requireAmount(t, 37.5, findNode(t, core, b.ID).TargetWeight, "last sibling rescaled")
}

func TestDeleteNodeRenormalizesZeroWeights(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	a := testNode(t, core, nil, "Equities", 0)
	b := testNode(t, core, nil, "Bonds", 0)
	c := testNode(t, core, nil, "Cash", 100)

	_, err := core.DeleteNode(ctx, c.ID)
	require.NoError(t, err)

	// With nothing to scale the remainder is split evenly.
	requireAmount(t, 50, findNode(t, core, a.ID).TargetWeight, "even split")
	requireAmount(t, 50, findNode(t, core, b.ID).TargetWeight, "even split")
}

func TestGlobalWeightWalksAncestors(t *testing.T) {
	root := AllocationNode{ID: 1, Name: "Equities", TargetWeight: NewAmount(60)}
	child := AllocationNode{ID: 2, Name: "A-Shares", ParentID: &root.ID, TargetWeight: NewAmount(50)}
	leaf := AllocationNode{ID: 3, Name: "Consumer", ParentID: &child.ID, TargetWeight: NewAmount(40)}
	byID := map[int64]AllocationNode{1: root, 2: child, 3: leaf}
	memo := map[int64]decimal.Decimal{}

	w, err := globalWeight(leaf, byID, memo)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(12).Equal(w), "got %s", w.String())

	// One leaf walk caches the whole ancestor chain, so a sibling sharing
	// these ancestors never rewalks it.
	require.Len(t, memo, 3)
	assert.True(t, decimal.NewFromInt(60).Equal(memo[root.ID]), "got %s", memo[root.ID].String())
	assert.True(t, decimal.NewFromInt(30).Equal(memo[child.ID]), "got %s", memo[child.ID].String())

	w, err = globalWeight(child, byID, memo)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(30).Equal(w), "got %s", w.String())

	path, err := nodePath(leaf, byID)
	require.NoError(t, err)
	assert.Equal(t, "Equities / A-Shares / Consumer", path)
}

func TestGlobalWeightDetectsCycle(t *testing.T) {
	one, two := int64(1), int64(2)
	a := AllocationNode{ID: 1, ParentID: &two, TargetWeight: NewAmount(50)}
	b := AllocationNode{ID: 2, ParentID: &one, TargetWeight: NewAmount(50)}
	byID := map[int64]AllocationNode{1: a, 2: b}

	_, err := globalWeight(a, byID, map[int64]decimal.Decimal{})
	assert.True(t, IsErrorCode(err, ErrCodeInternal))

	_, err = nodePath(a, byID)
	assert.True(t, IsErrorCode(err, ErrCodeInternal))
}
