package foliocore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTagGroup(t *testing.T, core *Core, name string) *TagGroup {
	t.Helper()
	group, err := core.CreateTagGroup(context.Background(), TagGroup{Name: name})
	require.NoError(t, err)
	return group
}

func testTag(t *testing.T, core *Core, groupID int64, name string) *Tag {
	t.Helper()
	tag, err := core.CreateTag(context.Background(), Tag{GroupID: groupID, Name: name})
	require.NoError(t, err)
	return tag
}

func TestTagGroupLifecycle(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	group := testTagGroup(t, core, "Region")

	name := "Market Region"
	updated, err := core.UpdateTagGroup(ctx, group.ID, &name, nil)
	require.NoError(t, err)
	assert.Equal(t, "Market Region", updated.Name)

	groups, err := core.GetTagGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	require.NoError(t, core.DeleteTagGroup(ctx, group.ID))
	err = core.DeleteTagGroup(ctx, group.ID)
	assert.True(t, IsErrorCode(err, ErrCodeNotFound))
}

func TestCreateTagRequiresGroup(t *testing.T) {
	core := newTestCore(t)

	_, err := core.CreateTag(context.Background(), Tag{GroupID: 9999, Name: "CN"})
	assert.True(t, IsErrorCode(err, ErrCodeNotFound))
}

func TestTagSelectionGroupMembership(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	instrument := testInstrument(t, core, "600519.SS")

	region := testTagGroup(t, core, "Region")
	style := testTagGroup(t, core, "Style")
	cn := testTag(t, core, region.ID, "CN")
	growth := testTag(t, core, style.ID, "Growth")

	// A tag can only be selected within its own group.
	_, err := core.UpsertInstrumentTag(ctx, instrument.ID, region.ID, growth.ID)
	assert.True(t, IsErrorCode(err, ErrCodeValidation))

	selection, err := core.UpsertInstrumentTag(ctx, instrument.ID, region.ID, cn.ID)
	require.NoError(t, err)
	assert.Equal(t, instrument.ID, selection.TargetID)
	assert.Equal(t, cn.ID, selection.TagID)

	_, err = core.UpsertInstrumentTag(ctx, 9999, region.ID, cn.ID)
	assert.True(t, IsErrorCode(err, ErrCodeReferential))
}

func TestTagSelectionUpsertOverwrites(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	instrument := testInstrument(t, core, "600519.SS")

	region := testTagGroup(t, core, "Region")
	cn := testTag(t, core, region.ID, "CN")
	hk := testTag(t, core, region.ID, "HK")

	_, err := core.UpsertInstrumentTag(ctx, instrument.ID, region.ID, cn.ID)
	require.NoError(t, err)
	_, err = core.UpsertInstrumentTag(ctx, instrument.ID, region.ID, hk.ID)
	require.NoError(t, err)

	selections, err := core.GetInstrumentTags(ctx)
	require.NoError(t, err)
	require.Len(t, selections, 1, "one selection per group")
	assert.Equal(t, hk.ID, selections[0].TagID)
}

func TestAccountTagSelection(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	account := testAccount(t, core, "Broker A", AccountTypeBrokerage)

	region := testTagGroup(t, core, "Region")
	cn := testTag(t, core, region.ID, "CN")

	_, err := core.UpsertAccountTag(ctx, account.ID, region.ID, cn.ID)
	require.NoError(t, err)

	selections, err := core.GetAccountTags(ctx)
	require.NoError(t, err)
	require.Len(t, selections, 1)
	assert.Equal(t, account.ID, selections[0].TargetID)

	require.NoError(t, core.DeleteAccountTag(ctx, account.ID, region.ID))
	err = core.DeleteAccountTag(ctx, account.ID, region.ID)
	assert.True(t, IsErrorCode(err, ErrCodeNotFound))
}

func TestDeleteTagDropsSelections(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	instrument := testInstrument(t, core, "600519.SS")

	region := testTagGroup(t, core, "Region")
	cn := testTag(t, core, region.ID, "CN")
	_, err := core.UpsertInstrumentTag(ctx, instrument.ID, region.ID, cn.ID)
	require.NoError(t, err)

	require.NoError(t, core.DeleteTag(ctx, cn.ID))
	selections, err := core.GetInstrumentTags(ctx)
	require.NoError(t, err)
	assert.Empty(t, selections)
}

func TestDeleteTagGroupDropsTagsAndSelections(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	instrument := testInstrument(t, core, "600519.SS")

	region := testTagGroup(t, core, "Region")
	cn := testTag(t, core, region.ID, "CN")
	_, err := core.UpsertInstrumentTag(ctx, instrument.ID, region.ID, cn.ID)
	require.NoError(t, err)

	require.NoError(t, core.DeleteTagGroup(ctx, region.ID))

	tags, err := core.GetTags(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, tags)
	selections, err := core.GetInstrumentTags(ctx)
	require.NoError(t, err)
	assert.Empty(t, selections)
}

func TestUpdateTagMoveBetweenGroups(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	region := testTagGroup(t, core, "Region")
	style := testTagGroup(t, core, "Style")
	cn := testTag(t, core, region.ID, "CN")

	moved, err := core.UpdateTag(ctx, cn.ID, &style.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, style.ID, moved.GroupID)

	tags, err := core.GetTags(ctx, region.ID)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestAuditLogTrailsMutations(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	account := testAccount(t, core, "Broker A", AccountTypeBrokerage)
	inactive := false
	_, err := core.UpdateAccount(ctx, account.ID, AccountPatch{IsActive: &inactive})
	require.NoError(t, err)

	logs, err := core.GetAuditLogs("account", 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2, "create then update, newest first")
	assert.Equal(t, auditActionUpdate, logs[0].Action)
	require.NotNil(t, logs[0].BeforeState)
	require.NotNil(t, logs[0].AfterState)
	assert.Equal(t, auditActionCreate, logs[1].Action)
	assert.Nil(t, logs[1].BeforeState)

	// Entity filter excludes other entities.
	testInstrument(t, core, "600519.SS")
	logs, err = core.GetAuditLogs("account", 10, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	all, err := core.GetAuditLogs("", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
