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

func newReactionSetup(t *testing.T) (*gin.Engine, *gorm.DB) {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: 72 * time.Hour}

	store := relation.NewStore(db)
	engine := visibility.NewEngine(store, store, 0, zap.NewNop())

	authH := rest.NewAuthHandler(db, c, sec)
	reactionH := rest.NewReactionHandler(db, engine, zap.NewNop())

	r := gin.New()
	r.POST("/api/auth/login", authH.Login)
	g := r.Group("/api", mw.Auth(sec, c))
	g.POST("/entries/:id/reactions", reactionH.React)
	g.DELETE("/entries/:id/reactions", reactionH.Unreact)
	return r, db
}

func reactionsPath(entryID int64) string {
	return fmt.Sprintf("/api/entries/%d/reactions", entryID)
}

// ---- React ----

func TestReact_DirectFriend(t *testing.T) {
	r, db := newReactionSetup(t)
	ids, toks, entries := seedEntryGraph(t, r, db)
	entryID := entries[visibility.TierFriends]

	w := postJSON(r, reactionsPath(entryID), map[string]string{"kind": "cheers"},
		"Authorization", "Bearer "+toks["mutual"])
	require.Equal(t, http.StatusOK, w.Code)

	var row model.EntryReaction
	require.NoError(t, db.Where("entry_id = ? AND user_id = ?", entryID, ids["mutual"]).First(&row).Error)
	assert.Equal(t, "cheers", row.Kind)
}

func TestReact_ReplacesKind(t *testing.T) {
	r, db := newReactionSetup(t)
	ids, toks, entries := seedEntryGraph(t, r, db)
	entryID := entries[visibility.TierFriends]

	w := postJSON(r, reactionsPath(entryID), map[string]string{"kind": "cheers"},
		"Authorization", "Bearer "+toks["mutual"])
	require.Equal(t, http.StatusOK, w.Code)
	w2 := postJSON(r, reactionsPath(entryID), map[string]string{"kind": "thumbs_up"},
		"Authorization", "Bearer "+toks["mutual"])
	require.Equal(t, http.StatusOK, w2.Code)

	// Still one row, with the latest kind.
	var count int64
	require.NoError(t, db.Model(&model.EntryReaction{}).
		Where("entry_id = ? AND user_id = ?", entryID, ids["mutual"]).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var row model.EntryReaction
	require.NoError(t, db.Where("entry_id = ? AND user_id = ?", entryID, ids["mutual"]).First(&row).Error)
	assert.Equal(t, "thumbs_up", row.Kind)
}

func TestReact_SelfForbidden(t *testing.T) {
	r, db := newReactionSetup(t)
	_, toks, entries := seedEntryGraph(t, r, db)

	w := postJSON(r, reactionsPath(entries[visibility.TierPublic]), map[string]string{"kind": "cheers"},
		"Authorization", "Bearer "+toks["owner"])
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestReact_FriendOfFriendForbidden(t *testing.T) {
	r, db := newReactionSetup(t)
	_, toks, entries := seedEntryGraph(t, r, db)

	// The entry is visible to the friend-of-friend, but reacting stays a
	// direct-friend privilege.
	w := postJSON(r, reactionsPath(entries[visibility.TierFriendsOfFriends]), map[string]string{"kind": "cheers"},
		"Authorization", "Bearer "+toks["viewer"])
	require.Equal(t, http.StatusForbidden, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "reactions are restricted", resp["error"])
}

func TestReact_StrangerForbidden(t *testing.T) {
	r, db := newReactionSetup(t)
	_, toks, entries := seedEntryGraph(t, r, db)

	w := postJSON(r, reactionsPath(entries[visibility.TierPublic]), map[string]string{"kind": "cheers"},
		"Authorization", "Bearer "+toks["stranger"])
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestReact_PrivateEntryHidden(t *testing.T) {
	r, db := newReactionSetup(t)
	_, toks, entries := seedEntryGraph(t, r, db)

	// The entry gate answers before the reaction gate ever runs.
	w := postJSON(r, reactionsPath(entries[visibility.TierPrivate]), map[string]string{"kind": "cheers"},
		"Authorization", "Bearer "+toks["mutual"])
	require.Equal(t, http.StatusNotFound, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "entry not found", resp["error"])
}

func TestReact_BlockedPair(t *testing.T) {
	r, db := newReactionSetup(t)
	ids, toks, entries := seedEntryGraph(t, r, db)

	require.NoError(t, db.Create(&model.UserBlock{BlockerID: ids["owner"], BlockedID: ids["mutual"]}).Error)

	w := postJSON(r, reactionsPath(entries[visibility.TierPublic]), map[string]string{"kind": "cheers"},
		"Authorization", "Bearer "+toks["mutual"])
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReact_MissingKind(t *testing.T) {
	r, db := newReactionSetup(t)
	_, toks, entries := seedEntryGraph(t, r, db)

	w := postJSON(r, reactionsPath(entries[visibility.TierFriends]), map[string]string{},
		"Authorization", "Bearer "+toks["mutual"])
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ---- Unreact ----

func TestUnreact(t *testing.T) {
	r, db := newReactionSetup(t)
	_, toks, entries := seedEntryGraph(t, r, db)
	entryID := entries[visibility.TierFriends]

	w := postJSON(r, reactionsPath(entryID), map[string]string{"kind": "cheers"},
		"Authorization", "Bearer "+toks["mutual"])
	require.Equal(t, http.StatusOK, w.Code)

	w2 := deleteJSON(r, reactionsPath(entryID), "Authorization", "Bearer "+toks["mutual"])
	assert.Equal(t, http.StatusOK, w2.Code)

	// Nothing left to remove.
	w3 := deleteJSON(r, reactionsPath(entryID), "Authorization", "Bearer "+toks["mutual"])
	assert.Equal(t, http.StatusNotFound, w3.Code)
}

func TestUnreact_OnlyOwnRow(t *testing.T) {
	r, db := newReactionSetup(t)
	ids, toks, entries := seedEntryGraph(t, r, db)
	entryID := entries[visibility.TierPublic]

	require.NoError(t, db.Create(&model.EntryReaction{EntryID: entryID, UserID: ids["mutual"], Kind: "cheers"}).Error)

	// Another viewer deleting removes nothing.
	w := deleteJSON(r, reactionsPath(entryID), "Authorization", "Bearer "+toks["viewer"])
	assert.Equal(t, http.StatusNotFound, w.Code)

	var count int64
	require.NoError(t, db.Model(&model.EntryReaction{}).Where("entry_id = ?", entryID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
