package testutil

import (
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/decantapp/decant/server/cache"
	"github.com/decantapp/decant/server/config"
	dbadapter "github.com/decantapp/decant/server/db"
	"github.com/decantapp/decant/server/model"
	"github.com/decantapp/decant/server/social/visibility"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// SetupTestDB creates an in-memory SQLite DB and runs AutoMigrate.
// It requires no external services and is safe to use in parallel tests.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbadapter.Open(config.DatabaseConfig{
		Mode: dbadapter.ModeSQLiteMemory,
	})
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	return db
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	cfg := cache.CacheConfig{} // empty RedisAddr → LocalCache
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "SetupTestCache: NewCache")
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupTestCache: NewPubSub")
	return c, ps
}

// SeedUser inserts a user with the given username and a fixed hash; tests
// that log in go through the API instead.
func SeedUser(t *testing.T, db *gorm.DB, username string) *model.User {
	t.Helper()
	u := &model.User{
		Username:     username,
		PasswordHash: "x",
		DisplayName:  gofakeit.Name(),
		Status:       1,
	}
	require.NoError(t, db.Create(u).Error, "SeedUser: %s", username)
	return u
}

// SeedEntry inserts an entry for owner at the given tier with generated
// wine details.
func SeedEntry(t *testing.T, db *gorm.DB, ownerID int64, tier visibility.Tier) *model.Entry {
	t.Helper()
	e := &model.Entry{
		OwnerID:      ownerID,
		WineName:     gofakeit.BeerName(), // gofakeit has no wine generator
		Winery:       gofakeit.Company(),
		Vintage:      gofakeit.Number(1990, 2024),
		Rating:       gofakeit.Number(1, 5),
		Notes:        gofakeit.Sentence(8),
		EntryPrivacy: string(tier),
	}
	require.NoError(t, db.Create(e).Error, "SeedEntry: owner %d", ownerID)
	return e
}

// Befriend inserts an accepted edge directly, for tests that need a graph
// without walking the request lifecycle.
func Befriend(t *testing.T, db *gorm.DB, a, b int64) {
	t.Helper()
	require.NoError(t, db.Create(&model.FriendRequest{
		RequesterID: a,
		RecipientID: b,
		Status:      model.FriendStatusAccepted,
	}).Error, "Befriend: %d-%d", a, b)
}
