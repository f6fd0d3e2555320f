package rest_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/decantapp/decant/server/api/rest"
	"github.com/decantapp/decant/server/config"
	mw "github.com/decantapp/decant/server/middleware"
	"github.com/decantapp/decant/server/social/feed"
	"github.com/decantapp/decant/server/social/relation"
	"github.com/decantapp/decant/server/social/visibility"
	"github.com/decantapp/decant/server/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// The feed service has its own tests; this covers the HTTP adapter.
func newFeedSetup(t *testing.T) (*gin.Engine, *gorm.DB) {
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: 72 * time.Hour}

	store := relation.NewStore(db)
	engine := visibility.NewEngine(store, store, 0, zap.NewNop())
	feedSvc := feed.New(db, engine, store, c, ps, config.SocialConfig{
		FeedPageSize: 20,
		FeedCacheTTL: time.Minute,
	}, zap.NewNop())

	authH := rest.NewAuthHandler(db, c, sec)
	feedH := rest.NewFeedHandler(feedSvc, zap.NewNop())

	r := gin.New()
	r.POST("/api/auth/login", authH.Login)
	g := r.Group("/api", mw.Auth(sec, c))
	g.GET("/feed", feedH.GetFeed)
	return r, db
}

func TestGetFeed(t *testing.T) {
	r, db := newFeedSetup(t)
	_, toks, _ := seedEntryGraph(t, r, db)

	w := getJSON(r, "/api/feed", "Authorization", "Bearer "+toks["viewer"])
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	// mutual shares nothing yet; the owner's public and fof entries come
	// through the friend-of-friend hop.
	items := resp["items"].([]interface{})
	require.Len(t, items, 2)
	for _, raw := range items {
		item := raw.(map[string]interface{})
		assert.Equal(t, "owner", item["owner_username"])
		assert.Equal(t, string(visibility.RelationshipFriendOfFriend), item["relationship"])
	}
}

func TestGetFeed_Empty(t *testing.T) {
	r, _ := newFeedSetup(t)
	_, tok := loginAs(t, r, "loner")

	w := getJSON(r, "/api/feed", "Authorization", "Bearer "+tok)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp["items"].([]interface{}), 0)
}

func TestGetFeed_LimitClamped(t *testing.T) {
	r, db := newFeedSetup(t)
	ids, toks, _ := seedEntryGraph(t, r, db)

	for i := 0; i < 3; i++ {
		testutil.SeedEntry(t, db, ids["mutual"], visibility.TierFriends)
	}

	w := getJSON(r, "/api/feed?limit=2", "Authorization", "Bearer "+toks["viewer"])
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp["items"].([]interface{}), 2)
}
