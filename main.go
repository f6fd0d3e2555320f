package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apirest "github.com/decantapp/decant/server/api/rest"
	"github.com/decantapp/decant/server/audit"
	"github.com/decantapp/decant/server/cache"
	"github.com/decantapp/decant/server/config"
	dbadapter "github.com/decantapp/decant/server/db"
	"github.com/decantapp/decant/server/events"
	"github.com/decantapp/decant/server/hook"
	mw "github.com/decantapp/decant/server/middleware"
	"github.com/decantapp/decant/server/model"
	"github.com/decantapp/decant/server/scheduler"
	"github.com/decantapp/decant/server/social/feed"
	"github.com/decantapp/decant/server/social/legacy"
	"github.com/decantapp/decant/server/social/relation"
	"github.com/decantapp/decant/server/social/visibility"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized")

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Event Publisher ----
	var pub events.Publisher
	if cfg.Events.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, logger)
		if err != nil {
			log.Fatalf("events: %v", err)
		}
		pub = amqpPub
		logger.Info("AMQP publisher connected", zap.String("exchange", cfg.Events.Exchange))
	} else {
		pub = events.NewNopPublisher(logger)
	}
	defer pub.Close()

	// ---- Social Services ----
	hooks := hook.NewHookCenter()
	store := relation.NewStore(db)
	relations := relation.NewService(db, store, c, hooks, logger)
	engine := visibility.NewEngine(store, store, cfg.Social.FanoutLimit, logger)
	feedSvc := feed.New(db, engine, store, c, pubsub, cfg.Social, logger)
	if err := feedSvc.StartInvalidationListener(context.Background()); err != nil {
		log.Fatalf("feed listener: %v", err)
	}
	registerHookSubscribers(hooks, auditSvc, feedSvc, pub, logger)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	// ---- Periodic Scheduler Tasks ----
	backfill := legacy.NewBackfill(db, cfg.Social.BackfillBatch, logger)
	sched.AddDelay("comments_privacy_drain", 5*time.Second, func() {
		n, err := backfill.Drain(context.Background())
		if err != nil {
			logger.Warn("comments privacy drain failed", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("comments privacy backlog drained", zap.Int("rows", n))
		}
	})
	if cfg.Social.BackfillInterval > 0 {
		// Catches rows imported after boot, e.g. by bulk migrations.
		sched.AddTicker("comments_privacy_backfill", cfg.Social.BackfillInterval, func() {
			if n, err := backfill.RunOnce(context.Background()); err != nil {
				logger.Warn("comments privacy backfill failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("comments privacy backfill", zap.Int("rows", n))
			}
		})
	}

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))
	r.Use(mw.Metrics(apirest.ServiceName))

	// Health check
	r.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})
	// Prometheus scrape endpoint.
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(db, c, cfg.Security)
	profileH := apirest.NewProfileHandler(db, engine)
	socialH := apirest.NewSocialHandler(relations)
	entryH := apirest.NewEntryHandler(db, engine, logger)
	commentH := apirest.NewCommentHandler(db, engine, logger)
	reactionH := apirest.NewReactionHandler(db, engine, logger)
	feedH := apirest.NewFeedHandler(feedSvc, logger)
	adminH := apirest.NewAdminHandler(db, sched, auditSvc, hooks, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), authH.Refresh)

		meG := api.Group("/me", mw.Auth(cfg.Security, c))
		meG.GET("/profile", profileH.Me)
		meG.PUT("/profile", profileH.UpdateMe)

		usersG := api.Group("/users", mw.Auth(cfg.Security, c))
		usersG.GET("/:id", profileH.GetUser)
		usersG.GET("/:id/entries", entryH.ListUserEntries)

		socialG := api.Group("/social")
		socialG.Use(mw.Auth(cfg.Security, c))
		socialG.POST("/requests", socialH.SendFriendRequest)
		socialG.GET("/requests", socialH.ListIncoming)
		socialG.POST("/requests/seen", socialH.MarkRequestsSeen)
		socialG.POST("/requests/:id/accept", socialH.AcceptRequest)
		socialG.DELETE("/requests/:id", socialH.DeclineRequest)
		socialG.GET("/friends", socialH.ListFriends)
		socialG.DELETE("/friends/:id", socialH.Unfriend)
		socialG.POST("/blocks/:id", socialH.Block)
		socialG.DELETE("/blocks/:id", socialH.Unblock)
		socialG.GET("/overview", socialH.Overview)

		entriesG := api.Group("/entries", mw.Auth(cfg.Security, c))
		entriesG.GET("/:id", entryH.GetEntry)
		entriesG.GET("/:id/comments", commentH.ListComments)
		entriesG.POST("/:id/comments", commentH.CreateComment)
		entriesG.POST("/:id/reactions", reactionH.React)
		entriesG.DELETE("/:id/reactions", reactionH.Unreact)

		api.GET("/feed", mw.Auth(cfg.Security, c), feedH.GetFeed)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Server.AdminIPs), apirest.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/audit", adminH.RecentAudit)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
		adminG.DELETE("/scheduler/:name", adminH.RemoveSchedulerTask)
		adminG.POST("/users/:id/ban", adminH.BanUser)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}

// registerHookSubscribers attaches the fan-out side of relationship
// mutations: each event is audited, drops the cached feeds of both users
// and leaves the process through the event publisher.
func registerHookSubscribers(hooks *hook.HookCenter, auditSvc *audit.Service, feedSvc *feed.Service, pub events.Publisher, logger *zap.Logger) {
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
