package rest_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/decantapp/decant/server/api/rest"
	"github.com/decantapp/decant/server/config"
	mw "github.com/decantapp/decant/server/middleware"
	"github.com/decantapp/decant/server/model"
	"github.com/decantapp/decant/server/social/relation"
	"github.com/decantapp/decant/server/social/visibility"
	"github.com/decantapp/decant/server/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// newEntrySetup wires the entry read surface over a real engine. Tests
// build a small graph of viewer, mutual, owner and a stranger, where the
// viewer reaches the owner only through the mutual friend.
func newEntrySetup(t *testing.T) (*gin.Engine, *gorm.DB) {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: 72 * time.Hour}

	store := relation.NewStore(db)
	engine := visibility.NewEngine(store, store, 0, zap.NewNop())

	authH := rest.NewAuthHandler(db, c, sec)
	entryH := rest.NewEntryHandler(db, engine, zap.NewNop())

	r := gin.New()
	r.POST("/api/auth/login", authH.Login)
	g := r.Group("/api", mw.Auth(sec, c))
	g.GET("/entries/:id", entryH.GetEntry)
	g.GET("/users/:id/entries", entryH.ListUserEntries)
	return r, db
}

// seedEntryGraph logs in four users and returns their ids/tokens plus
// one entry per tier owned by "owner".
func seedEntryGraph(t *testing.T, r *gin.Engine, db *gorm.DB) (ids map[string]int64, toks map[string]string, entries map[visibility.Tier]int64) {
	t.Helper()
	ids = map[string]int64{}
	toks = map[string]string{}
	for _, name := range []string{"viewer", "mutual", "owner", "stranger"} {
		ids[name], toks[name] = loginAs(t, r, name)
	}
	testutil.Befriend(t, db, ids["viewer"], ids["mutual"])
	testutil.Befriend(t, db, ids["mutual"], ids["owner"])

	entries = map[visibility.Tier]int64{}
	for _, tier := range visibility.AllTiers {
		entries[tier] = testutil.SeedEntry(t, db, ids["owner"], tier).ID
	}
	return ids, toks, entries
}

func getEntry(t *testing.T, r *gin.Engine, entryID int64, token string) (int, map[string]interface{}) {
	t.Helper()
	w := getJSON(r, fmt.Sprintf("/api/entries/%d", entryID), "Authorization", "Bearer "+token)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

// ---- GetEntry ----

func TestGetEntry_OwnerSeesEveryTier(t *testing.T) {
	r, db := newEntrySetup(t)
	_, toks, entries := seedEntryGraph(t, r, db)

	for tier, id := range entries {
		code, resp := getEntry(t, r, id, toks["owner"])
		require.Equal(t, http.StatusOK, code, "tier %s", tier)
		assert.Equal(t, string(visibility.RelationshipSelf), resp["relationship"])
		assert.Equal(t, false, resp["can_react"], "owners never react to their own entries")
	}
}

func TestGetEntry_DirectFriend(t *testing.T) {
	r, db := newEntrySetup(t)
	_, toks, entries := seedEntryGraph(t, r, db)

	// The mutual friend is a direct friend of the owner.
	code, resp := getEntry(t, r, entries[visibility.TierFriends], toks["mutual"])
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(visibility.RelationshipDirectFriend), resp["relationship"])
	assert.Equal(t, true, resp["can_react"])
	assert.Equal(t, true, resp["can_comment"])

	// Private stays the owner's alone.
	code, resp = getEntry(t, r, entries[visibility.TierPrivate], toks["mutual"])
	require.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "entry not found", resp["error"])
}

func TestGetEntry_FriendOfFriend(t *testing.T) {
	r, db := newEntrySetup(t)
	_, toks, entries := seedEntryGraph(t, r, db)

	code, resp := getEntry(t, r, entries[visibility.TierFriendsOfFriends], toks["viewer"])
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(visibility.RelationshipFriendOfFriend), resp["relationship"])
	assert.Equal(t, false, resp["can_react"], "reactions are for direct friends only")

	code, _ = getEntry(t, r, entries[visibility.TierFriends], toks["viewer"])
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetEntry_Stranger(t *testing.T) {
	r, db := newEntrySetup(t)
	_, toks, entries := seedEntryGraph(t, r, db)

	code, resp := getEntry(t, r, entries[visibility.TierPublic], toks["stranger"])
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(visibility.RelationshipStranger), resp["relationship"])

	code, _ = getEntry(t, r, entries[visibility.TierFriendsOfFriends], toks["stranger"])
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetEntry_BlockedViewerDeniedEvenPublic(t *testing.T) {
	r, db := newEntrySetup(t)
	ids, toks, entries := seedEntryGraph(t, r, db)

	require.NoError(t, db.Create(&model.UserBlock{BlockerID: ids["owner"], BlockedID: ids["stranger"]}).Error)

	code, resp := getEntry(t, r, entries[visibility.TierPublic], toks["stranger"])
	require.Equal(t, http.StatusNotFound, code)
	// Same body as a missing entry; the block is not disclosed.
	assert.Equal(t, "entry not found", resp["error"])
}

func TestGetEntry_Missing(t *testing.T) {
	r, _ := newEntrySetup(t)
	_, tok := loginAs(t, r, "solo")

	w := getJSON(r, "/api/entries/424242", "Authorization", "Bearer "+tok)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetEntry_InvalidID(t *testing.T) {
	r, _ := newEntrySetup(t)
	_, tok := loginAs(t, r, "solo")

	w := getJSON(r, "/api/entries/abc", "Authorization", "Bearer "+tok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetEntry_CountsAndOwnerCard(t *testing.T) {
	r, db := newEntrySetup(t)
	ids, toks, entries := seedEntryGraph(t, r, db)
	entryID := entries[visibility.TierFriends]

	require.NoError(t, db.Create(&model.EntryComment{EntryID: entryID, AuthorID: ids["mutual"], Body: "lovely nose"}).Error)
	require.NoError(t, db.Create(&model.EntryComment{EntryID: entryID, AuthorID: ids["owner"], Body: "thanks!"}).Error)
	require.NoError(t, db.Create(&model.EntryReaction{EntryID: entryID, UserID: ids["mutual"], Kind: "cheers"}).Error)

	code, resp := getEntry(t, r, entryID, toks["mutual"])
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, float64(2), resp["comment_count"])
	counts := resp["reaction_counts"].(map[string]interface{})
	assert.Equal(t, float64(1), counts["cheers"])
	assert.Equal(t, "cheers", resp["my_reaction"])

	owner := resp["owner"].(map[string]interface{})
	assert.Equal(t, "owner", owner["username"])
	_, leaked := owner["last_login_ip"]
	assert.False(t, leaked, "owner card must stay a public projection")
}

func TestGetEntry_LegacyCommentsTierShipsResolved(t *testing.T) {
	r, db := newEntrySetup(t)
	ids, toks, _ := seedEntryGraph(t, r, db)

	// Legacy row: no explicit comments tier, scope narrows to friends.
	entry := testutil.SeedEntry(t, db, ids["owner"], visibility.TierPublic)
	require.NoError(t, db.Model(&model.Entry{}).Where("id = ?", entry.ID).
		Updates(map[string]interface{}{"comments_privacy": "", "comments_scope": "friends"}).Error)

	code, resp := getEntry(t, r, entry.ID, toks["stranger"])
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(visibility.TierFriends), resp["comments_privacy_effective"])
	assert.Equal(t, false, resp["can_comment"])
}

// ---- ListUserEntries ----

func TestListUserEntries_TierFiltering(t *testing.T) {
	r, db := newEntrySetup(t)
	ids, toks, _ := seedEntryGraph(t, r, db)

	cases := []struct {
		who  string
		want int
	}{
		{"owner", 4},    // every tier including private
		{"mutual", 3},   // public, friends_of_friends, friends
		{"viewer", 2},   // public, friends_of_friends
		{"stranger", 1}, // public only
	}
	for _, tc := range cases {
		w := getJSON(r, fmt.Sprintf("/api/users/%d/entries", ids["owner"]),
			"Authorization", "Bearer "+toks[tc.who])
		require.Equal(t, http.StatusOK, w.Code, tc.who)
		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp["entries"].([]interface{}), tc.want, tc.who)
	}
}

func TestListUserEntries_BlockedPair(t *testing.T) {
	r, db := newEntrySetup(t)
	ids, toks, _ := seedEntryGraph(t, r, db)

	require.NoError(t, db.Create(&model.UserBlock{BlockerID: ids["stranger"], BlockedID: ids["owner"]}).Error)

	// The blocker is denied too; a block cuts both ways.
	w := getJSON(r, fmt.Sprintf("/api/users/%d/entries", ids["owner"]),
		"Authorization", "Bearer "+toks["stranger"])
	require.Equal(t, http.StatusNotFound, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "user not found", resp["error"])
}

func TestListUserEntries_BannedOwner(t *testing.T) {
	r, db := newEntrySetup(t)
	ids, toks, _ := seedEntryGraph(t, r, db)

	require.NoError(t, db.Model(&model.User{}).Where("id = ?", ids["owner"]).Update("status", 0).Error)

	w := getJSON(r, fmt.Sprintf("/api/users/%d/entries", ids["owner"]),
		"Authorization", "Bearer "+toks["viewer"])
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListUserEntries_UnknownUser(t *testing.T) {
	r, _ := newEntrySetup(t)
	_, tok := loginAs(t, r, "solo")

	w := getJSON(r, "/api/users/424242/entries", "Authorization", "Bearer "+tok)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListUserEntries_Paging(t *testing.T) {
	r, db := newEntrySetup(t)
	ids, toks, _ := seedEntryGraph(t, r, db)

	// Owner already has 4 entries; page through them two at a time.
	w := getJSON(r, fmt.Sprintf("/api/users/%d/entries?limit=2&offset=0", ids["owner"]),
		"Authorization", "Bearer "+toks["owner"])
	require.Equal(t, http.StatusOK, w.Code)
	var first map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	require.Len(t, first["entries"].([]interface{}), 2)

	w2 := getJSON(r, fmt.Sprintf("/api/users/%d/entries?limit=2&offset=2", ids["owner"]),
		"Authorization", "Bearer "+toks["owner"])
	require.Equal(t, http.StatusOK, w2.Code)
	var second map[string]interface{}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &second))
	require.Len(t, second["entries"].([]interface{}), 2)

	seen := map[float64]bool{}
	for _, page := range []map[string]interface{}{first, second} {
		for _, e := range page["entries"].([]interface{}) {
			id := e.(map[string]interface{})["id"].(float64)
			assert.False(t, seen[id], "pages must not overlap")
			seen[id] = true
		}
	}
}
