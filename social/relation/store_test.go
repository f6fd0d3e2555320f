package relation_test

import (
	"context"
	"testing"

	"github.com/decantapp/decant/server/model"
	"github.com/decantapp/decant/server/social/relation"
	"github.com/decantapp/decant/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptedEdges_BothDirections(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := relation.NewStore(db)
	ctx := context.Background()

	hub := testutil.SeedUser(t, db, "hub")
	asRequester := testutil.SeedUser(t, db, "requested_by_hub")
	asRecipient := testutil.SeedUser(t, db, "requested_hub")
	testutil.Befriend(t, db, hub.ID, asRequester.ID)
	testutil.Befriend(t, db, asRecipient.ID, hub.ID)

	edges, err := store.AcceptedEdges(ctx, hub.ID)
	require.NoError(t, err)
	require.Len(t, edges, 2)

	others := map[int64]bool{}
	for _, e := range edges {
		others[e.Other(hub.ID)] = true
	}
	assert.True(t, others[asRequester.ID])
	assert.True(t, others[asRecipient.ID])
}

func TestAcceptedEdges_ExcludesPending(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := relation.NewStore(db)

	alice := testutil.SeedUser(t, db, "alice")
	bob := testutil.SeedUser(t, db, "bob")
	require.NoError(t, db.Create(&model.FriendRequest{
		RequesterID: alice.ID,
		RecipientID: bob.ID,
		Status:      model.FriendStatusPending,
	}).Error)

	edges, err := store.AcceptedEdges(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestAcceptedEdges_Symmetry(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := relation.NewStore(db)
	ctx := context.Background()

	names := []string{"ana", "ben", "cho", "dee", "eli"}
	ids := make([]int64, 0, len(names))
	for _, n := range names {
		ids = append(ids, testutil.SeedUser(t, db, n).ID)
	}
	// Mixed row orientations on purpose.
	testutil.Befriend(t, db, ids[0], ids[1])
	testutil.Befriend(t, db, ids[2], ids[0])
	testutil.Befriend(t, db, ids[1], ids[3])
	testutil.Befriend(t, db, ids[4], ids[1])

	counterparts := func(id int64) map[int64]bool {
		edges, err := store.AcceptedEdges(ctx, id)
		require.NoError(t, err)
		out := map[int64]bool{}
		for _, e := range edges {
			out[e.Other(id)] = true
		}
		return out
	}

	// b in friends(a) exactly when a in friends(b), regardless of who
	// sent the original request.
	for _, a := range ids {
		fa := counterparts(a)
		for _, b := range ids {
			if a == b {
				continue
			}
			assert.Equal(t, fa[b], counterparts(b)[a], "asymmetry between %d and %d", a, b)
		}
	}
}

func TestBlockExists_Directed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := relation.NewStore(db)
	ctx := context.Background()

	alice := testutil.SeedUser(t, db, "alice")
	bob := testutil.SeedUser(t, db, "bob")
	require.NoError(t, db.Create(&model.UserBlock{BlockerID: alice.ID, BlockedID: bob.ID}).Error)

	blocked, err := store.BlockExists(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, blocked)

	reverse, err := store.BlockExists(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.False(t, reverse)
}

func TestBlockedCounterparts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := relation.NewStore(db)
	ctx := context.Background()

	hub := testutil.SeedUser(t, db, "hub")
	blockedByHub := testutil.SeedUser(t, db, "blocked_by_hub")
	blocksHub := testutil.SeedUser(t, db, "blocks_hub")
	bystander := testutil.SeedUser(t, db, "bystander")
	require.NoError(t, db.Create(&model.UserBlock{BlockerID: hub.ID, BlockedID: blockedByHub.ID}).Error)
	require.NoError(t, db.Create(&model.UserBlock{BlockerID: blocksHub.ID, BlockedID: hub.ID}).Error)

	set, err := store.BlockedCounterparts(ctx, hub.ID)
	require.NoError(t, err)
	assert.True(t, set.Has(blockedByHub.ID))
	assert.True(t, set.Has(blocksHub.ID))
	assert.False(t, set.Has(bystander.ID))
	assert.Len(t, set, 2)
}

func TestBlockedCounterparts_Empty(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := relation.NewStore(db)

	u := testutil.SeedUser(t, db, "solo")
	set, err := store.BlockedCounterparts(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Empty(t, set)
}
