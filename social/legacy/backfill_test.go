package legacy_test

import (
	"context"
	"testing"

	"github.com/decantapp/decant/server/model"
	"github.com/decantapp/decant/server/social/legacy"
	"github.com/decantapp/decant/server/social/visibility"
	"github.com/decantapp/decant/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func seedLegacyEntry(t *testing.T, db *gorm.DB, ownerID int64, entryTier visibility.Tier, scope visibility.CommentsScope) *model.Entry {
	t.Helper()
	e := testutil.SeedEntry(t, db, ownerID, entryTier)
	require.NoError(t, db.Model(&model.Entry{}).Where("id = ?", e.ID).
		Updates(map[string]interface{}{"comments_scope": string(scope), "comments_privacy": ""}).Error)
	return e
}

func commentsPrivacyOf(t *testing.T, db *gorm.DB, id int64) string {
	t.Helper()
	var e model.Entry
	require.NoError(t, db.First(&e, id).Error)
	return e.CommentsPrivacy
}

func TestRunOnce_ResolvesLegacyRows(t *testing.T) {
	db := testutil.SetupTestDB(t)
	owner := testutil.SeedUser(t, db, "owner")
	bf := legacy.NewBackfill(db, 100, zap.NewNop())

	inherits := seedLegacyEntry(t, db, owner.ID, visibility.TierPublic, visibility.ScopeViewers)
	tightened := seedLegacyEntry(t, db, owner.ID, visibility.TierPublic, visibility.ScopeFriends)
	private := seedLegacyEntry(t, db, owner.ID, visibility.TierPrivate, visibility.ScopeFriends)
	friendsTier := seedLegacyEntry(t, db, owner.ID, visibility.TierFriends, visibility.ScopeViewers)

	explicit := testutil.SeedEntry(t, db, owner.ID, visibility.TierPublic)
	require.NoError(t, db.Model(&model.Entry{}).Where("id = ?", explicit.ID).
		Update("comments_privacy", string(visibility.TierPrivate)).Error)

	n, err := bf.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.Equal(t, string(visibility.TierPublic), commentsPrivacyOf(t, db, inherits.ID))
	assert.Equal(t, string(visibility.TierFriends), commentsPrivacyOf(t, db, tightened.ID))
	assert.Equal(t, string(visibility.TierPrivate), commentsPrivacyOf(t, db, private.ID))
	assert.Equal(t, string(visibility.TierFriends), commentsPrivacyOf(t, db, friendsTier.ID))

	// Rows with an explicit value stay untouched.
	assert.Equal(t, string(visibility.TierPrivate), commentsPrivacyOf(t, db, explicit.ID))
}

func TestRunOnce_RespectsBatchSize(t *testing.T) {
	db := testutil.SetupTestDB(t)
	owner := testutil.SeedUser(t, db, "owner")
	bf := legacy.NewBackfill(db, 2, zap.NewNop())

	for i := 0; i < 5; i++ {
		seedLegacyEntry(t, db, owner.ID, visibility.TierFriends, visibility.ScopeViewers)
	}

	ctx := context.Background()
	for _, want := range []int{2, 2, 1, 0} {
		n, err := bf.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
}

func TestDrain(t *testing.T) {
	db := testutil.SetupTestDB(t)
	owner := testutil.SeedUser(t, db, "owner")
	bf := legacy.NewBackfill(db, 2, zap.NewNop())

	for i := 0; i < 5; i++ {
		seedLegacyEntry(t, db, owner.ID, visibility.TierPublic, visibility.ScopeFriends)
	}

	total, err := bf.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, total)

	var remaining int64
	require.NoError(t, db.Model(&model.Entry{}).
		Where("comments_privacy = '' OR comments_privacy IS NULL").
		Count(&remaining).Error)
	assert.EqualValues(t, 0, remaining)
}

func TestRunOnce_SkipsUnresolvableRows(t *testing.T) {
	db := testutil.SetupTestDB(t)
	owner := testutil.SeedUser(t, db, "owner")
	bf := legacy.NewBackfill(db, 10, zap.NewNop())

	e := testutil.SeedEntry(t, db, owner.ID, visibility.TierPublic)
	require.NoError(t, db.Model(&model.Entry{}).Where("id = ?", e.ID).
		Updates(map[string]interface{}{"entry_privacy": "limited", "comments_privacy": ""}).Error)

	n, err := bf.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "", commentsPrivacyOf(t, db, e.ID))
}

func TestDrain_StopsOnStuckBatch(t *testing.T) {
	db := testutil.SetupTestDB(t)
	owner := testutil.SeedUser(t, db, "owner")
	bf := legacy.NewBackfill(db, 1, zap.NewNop())

	bad := testutil.SeedEntry(t, db, owner.ID, visibility.TierPublic)
	require.NoError(t, db.Model(&model.Entry{}).Where("id = ?", bad.ID).
		Updates(map[string]interface{}{"entry_privacy": "limited", "comments_privacy": ""}).Error)
	seedLegacyEntry(t, db, owner.ID, visibility.TierFriends, visibility.ScopeViewers)

	// Must terminate even though the first single-row batch never
	// shrinks; one stuck row is allowed to stall the tail.
	total, err := bf.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestBackfill_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	owner := testutil.SeedUser(t, db, "owner")
	bf := legacy.NewBackfill(db, 100, zap.NewNop())

	e := seedLegacyEntry(t, db, owner.ID, visibility.TierPublic, visibility.ScopeFriends)

	_, err := bf.Drain(context.Background())
	require.NoError(t, err)
	first := commentsPrivacyOf(t, db, e.ID)

	n, err := bf.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, first, commentsPrivacyOf(t, db, e.ID))
}
