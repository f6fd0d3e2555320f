package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/decantapp/decant/server/api/rest"
	"github.com/decantapp/decant/server/audit"
	"github.com/decantapp/decant/server/cache"
	"github.com/decantapp/decant/server/config"
	"github.com/decantapp/decant/server/events"
	"github.com/decantapp/decant/server/hook"
	mw "github.com/decantapp/decant/server/middleware"
	"github.com/decantapp/decant/server/scheduler"
	"github.com/decantapp/decant/server/social/feed"
	"github.com/decantapp/decant/server/social/relation"
	"github.com/decantapp/decant/server/social/visibility"
	"github.com/decantapp/decant/server/testutil"
)

// AdminKey is the X-Admin-Key value the test server accepts.
const AdminKey = "integration-admin-key"

// TestServer boots the whole HTTP stack against an in-memory database,
// the local cache backend and a nop event publisher. The wiring mirrors
// main.go so a behavior verified here holds under production wiring too.
type TestServer struct {
	DB     *gorm.DB
	Cache  cache.Cache
	PubSub cache.PubSub
	Hooks  *hook.HookCenter
	Engine *visibility.Engine
	Feed   *feed.Service
	Audit  *audit.Service
	Sec    config.SecurityConfig

	Server *httptest.Server
	URL    string
}

func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTLH:        72 * time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
	}
	social := config.SocialConfig{
		FanoutLimit:  8,
		FeedPageSize: 20,
		FeedCacheTTL: time.Minute,
	}

	// ---- Services ----
	hooks := hook.NewHookCenter()
	store := relation.NewStore(db)
	relations := relation.NewService(db, store, c, hooks, logger)
	engine := visibility.NewEngine(store, store, social.FanoutLimit, logger)
	feedSvc := feed.New(db, engine, store, c, ps, social, logger)
	auditSvc := audit.New(db, logger)
	sched := scheduler.New(logger)
	pub := events.NewNopPublisher(logger)

	ctx, cancel := context.WithCancel(context.Background())
	if err := feedSvc.StartInvalidationListener(ctx); err != nil {
		cancel()
		t.Fatalf("feed invalidation listener: %v", err)
	}
	registerSubscribers(hooks, auditSvc, feedSvc, pub, logger)

	// ---- Gin HTTP server ----
	r := gin.New()
	r.Use(mw.TraceID())
	r.Use(mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	authH := rest.NewAuthHandler(db, c, sec)
	socialH := rest.NewSocialHandler(relations)
	profileH := rest.NewProfileHandler(db, engine)
	entryH := rest.NewEntryHandler(db, engine, logger)
	commentH := rest.NewCommentHandler(db, engine, logger)
	reactionH := rest.NewReactionHandler(db, engine, logger)
	feedH := rest.NewFeedHandler(feedSvc, logger)
	adminH := rest.NewAdminHandler(db, sched, auditSvc, hooks, logger)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/api/auth/login", authH.Login)

	api := r.Group("/api", mw.Auth(sec, c))
	api.POST("/auth/logout", authH.Logout)
	api.POST("/auth/refresh", authH.Refresh)

	api.GET("/me/profile", profileH.Me)
	api.PUT("/me/profile", profileH.UpdateMe)
	api.GET("/users/:id", profileH.GetUser)

	api.POST("/social/requests", socialH.SendFriendRequest)
	api.GET("/social/requests", socialH.ListIncoming)
	api.POST("/social/requests/seen", socialH.MarkRequestsSeen)
	api.POST("/social/requests/:id/accept", socialH.AcceptRequest)
	api.DELETE("/social/requests/:id", socialH.DeclineRequest)
	api.GET("/social/friends", socialH.ListFriends)
	api.DELETE("/social/friends/:id", socialH.Unfriend)
	api.POST("/social/blocks/:id", socialH.Block)
	api.DELETE("/social/blocks/:id", socialH.Unblock)
	api.GET("/social/overview", socialH.Overview)

	api.GET("/entries/:id", entryH.GetEntry)
	api.GET("/users/:id/entries", entryH.ListUserEntries)
	api.GET("/entries/:id/comments", commentH.ListComments)
	api.POST("/entries/:id/comments", commentH.CreateComment)
	api.POST("/entries/:id/reactions", reactionH.React)
	api.DELETE("/entries/:id/reactions", reactionH.Unreact)
	api.GET("/feed", feedH.GetFeed)

	admin := r.Group("/api/admin", mw.IPWhitelist(nil), rest.AdminAuth(AdminKey))
	admin.GET("/metrics", adminH.Metrics)
	admin.GET("/audit", adminH.RecentAudit)
	admin.GET("/scheduler", adminH.ListSchedulerTasks)
	admin.DELETE("/scheduler/:name", adminH.RemoveSchedulerTask)
	admin.POST("/users/:id/ban", adminH.BanUser)

	srv := httptest.NewServer(r)

	ts := &TestServer{
		DB:     db,
		Cache:  c,
		PubSub: ps,
		Hooks:  hooks,
		Engine: engine,
		Feed:   feedSvc,
		Audit:  auditSvc,
		Sec:    sec,
		Server: srv,
		URL:    srv.URL,
	}
	t.Cleanup(func() {
		srv.Close()
		cancel()
		auditSvc.Stop(context.Background())
		sched.Stop()
	})
	return ts
}

// registerSubscribers wires the hook center the way main.go does: every
// relationship mutation lands in the audit log, drops the cached feeds
// of both sides and goes out through the event publisher.
func registerSubscribers(hooks *hook.HookCenter, auditSvc *audit.Service, feedSvc *feed.Service, pub events.Publisher, logger *zap.Logger) {
	relationEvents := []string{
		hook.OnFriendRequested,
		hook.OnFriendAccepted,
		hook.OnFriendDeclined,
		hook.OnFriendRemoved,
		hook.OnUserBlocked,
		hook.OnUserUnblocked,
		hook.OnUserBanned,
	}
	for _, event := range relationEvents {
		hooks.Register(event, 10, "audit", func(ctx context.Context, event string, data interface{}) (interface{}, error) {
			rel, ok := data.(hook.RelationEvent)
			if !ok {
				return data, nil
			}
			entry := audit.AuditEntry{
				TraceID: mw.TraceIDFromContext(ctx),
				Action:  event,
				IP:      mw.ClientIPFromContext(ctx),
			}
			if rel.ActorID != 0 {
				entry.ActorID = &rel.ActorID
			}
			if rel.OtherID != 0 {
				entry.SubjectID = &rel.OtherID
			}
			auditSvc.Log(entry)
			return data, nil
		})
		hooks.Register(event, 20, "feed-invalidate", func(ctx context.Context, event string, data interface{}) (interface{}, error) {
			if rel, ok := data.(hook.RelationEvent); ok {
				feedSvc.Invalidate(ctx, rel.ActorID, rel.OtherID)
			}
			return data, nil
		})
		hooks.Register(event, 30, "events", func(ctx context.Context, event string, data interface{}) (interface{}, error) {
			rel, ok := data.(hook.RelationEvent)
			if !ok {
				return data, nil
			}
			if err := pub.PublishRelationEvent(ctx, event, rel); err != nil {
				logger.Warn("relation event publish failed",
					zap.String("event", event), zap.Error(err))
			}
			return data, nil
		})
	}
}

var uniqueCounter int64

// UniqueID returns prefix plus a process-unique suffix, keeping
// usernames distinct across tests sharing a database.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, atomic.AddInt64(&uniqueCounter, 1))
}

func (ts *TestServer) do(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// PostJSON sends an authenticated POST with a JSON body. Pass an empty
// token for public routes.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	return ts.do(t, http.MethodPost, path, body, token)
}

func (ts *TestServer) PutJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	return ts.do(t, http.MethodPut, path, body, token)
}

func (ts *TestServer) Get(t *testing.T, path, token string) *http.Response {
	return ts.do(t, http.MethodGet, path, nil, token)
}

func (ts *TestServer) Delete(t *testing.T, path, token string) *http.Response {
	return ts.do(t, http.MethodDelete, path, nil, token)
}

// AdminGet calls an /api/admin route with the test admin key.
func (ts *TestServer) AdminGet(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-Admin-Key", AdminKey)
	resp, err := ts.Server.Client().Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// AdminPost calls an /api/admin route with the test admin key.
func (ts *TestServer) AdminPost(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Admin-Key", AdminKey)
	resp, err := ts.Server.Client().Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

// ReadJSON decodes the response body into target and closes it.
func (ts *TestServer) ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// Login authenticates (registering on first use) and returns the bearer
// token plus the user ID.
func (ts *TestServer) Login(t *testing.T, username, password string) (string, int64) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("login %s: status %d body %s", username, resp.StatusCode, raw)
	}
	var out struct {
		Token  string `json:"token"`
		UserID int64  `json:"user_id"`
	}
	ts.ReadJSON(t, resp, &out)
	if out.Token == "" {
		t.Fatalf("login %s: empty token", username)
	}
	return out.Token, out.UserID
}
