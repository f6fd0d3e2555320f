package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/decantapp/decant/server/cache"
	"github.com/decantapp/decant/server/config"
	"github.com/decantapp/decant/server/model"
	"github.com/decantapp/decant/server/social/relation"
	"github.com/decantapp/decant/server/social/visibility"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InvalidateChannel carries user IDs whose cached feed page must be
// dropped. Every instance subscribes; with a shared Redis cache the
// duplicate deletes are harmless.
const InvalidateChannel = "feed:invalidate"

const maxPageSize = 100

func cacheKey(viewerID int64) string {
	return fmt.Sprintf("feed:v1:%d", viewerID)
}

// Item is one feed entry together with the owner fields the client
// renders next to it.
type Item struct {
	Entry            model.Entry             `json:"entry"`
	OwnerUsername    string                  `json:"owner_username"`
	OwnerDisplayName string                  `json:"owner_display_name"`
	Relationship     visibility.Relationship `json:"relationship"`
}

// Service assembles the home feed: entries of friends and friends of
// friends, tier-filtered inside the query so rows the viewer may not
// see never leave the database.
type Service struct {
	db     *gorm.DB
	engine *visibility.Engine
	store  *relation.Store
	cache  cache.Cache
	pubsub cache.PubSub
	cfg    config.SocialConfig
	logger *zap.Logger
}

func New(db *gorm.DB, engine *visibility.Engine, store *relation.Store, c cache.Cache, ps cache.PubSub, cfg config.SocialConfig, logger *zap.Logger) *Service {
	if cfg.FeedPageSize <= 0 {
		cfg.FeedPageSize = 20
	}
	return &Service{db: db, engine: engine, store: store, cache: c, pubsub: ps, cfg: cfg, logger: logger}
}

// StartInvalidationListener subscribes to InvalidateChannel and drops
// cached pages as other instances publish. It returns once the
// subscription is live; the listener stops with ctx.
func (svc *Service) StartInvalidationListener(ctx context.Context) error {
	ch, cancel, err := svc.pubsub.Subscribe(ctx, InvalidateChannel)
	if err != nil {
		return err
	}
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				id, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					svc.logger.Warn("feed invalidate: bad payload", zap.String("payload", msg.Payload))
					continue
				}
				_ = svc.cache.Del(ctx, cacheKey(id))
			}
		}
	}()
	return nil
}

// Build returns one page of the viewer's feed, newest first. Only the
// default first page is cached; deeper pages always hit the database,
// which keeps invalidation to a single key per viewer.
func (svc *Service) Build(ctx context.Context, viewerID int64, limit, offset int) ([]Item, error) {
	if limit <= 0 {
		limit = svc.cfg.FeedPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	cacheable := offset == 0 && limit == svc.cfg.FeedPageSize
	if cacheable {
		if raw, err := svc.cache.Get(ctx, cacheKey(viewerID)); err == nil {
			var items []Item
			if json.Unmarshal([]byte(raw), &items) == nil {
				return items, nil
			}
		}
	}

	direct, err := svc.engine.AcceptedFriendIDs(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	fof, err := svc.engine.FriendsOfFriends(ctx, viewerID, direct)
	if err != nil {
		return nil, err
	}
	blocked, err := svc.store.BlockedCounterparts(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	// A block hides the pair from each other even through a mutual
	// friend, so blocked users leave both buckets.
	for id := range blocked {
		direct.Remove(id)
		fof.Remove(id)
	}

	if len(direct) == 0 && len(fof) == 0 {
		return []Item{}, nil
	}

	entries, err := svc.queryEntries(ctx, direct, fof, limit, offset)
	if err != nil {
		return nil, err
	}
	items, err := svc.decorate(ctx, entries, direct)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if raw, err := json.Marshal(items); err == nil {
			if err := svc.cache.Set(ctx, cacheKey(viewerID), string(raw), svc.cfg.FeedCacheTTL); err != nil {
				svc.logger.Debug("feed cache set failed", zap.Error(err))
			}
		}
	}
	return items, nil
}

// queryEntries selects the page with one bucket per relationship
// class, each restricted to the tiers that class may see.
func (svc *Service) queryEntries(ctx context.Context, direct, fof visibility.IDSet, limit, offset int) ([]model.Entry, error) {
	var cond *gorm.DB
	if len(direct) > 0 {
		cond = svc.db.Where("owner_id IN ? AND entry_privacy IN ?",
			direct.Slice(), tierStrings(visibility.TiersFor(visibility.RelationshipDirectFriend)))
	}
	if len(fof) > 0 {
		fofCond := svc.db.Where("owner_id IN ? AND entry_privacy IN ?",
			fof.Slice(), tierStrings(visibility.TiersFor(visibility.RelationshipFriendOfFriend)))
		if cond == nil {
			cond = fofCond
		} else {
			cond = cond.Or(fofCond)
		}
	}

	var entries []model.Entry
	err := svc.db.WithContext(ctx).
		Where(cond).
		Order("created_at desc, id desc").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	return entries, err
}

func (svc *Service) decorate(ctx context.Context, entries []model.Entry, direct visibility.IDSet) ([]Item, error) {
	items := make([]Item, 0, len(entries))
	if len(entries) == 0 {
		return items, nil
	}

	ownerIDs := visibility.NewIDSet()
	for _, e := range entries {
		ownerIDs.Add(e.OwnerID)
	}
	var owners []model.User
	if err := svc.db.WithContext(ctx).Where("id IN ?", ownerIDs.Slice()).Find(&owners).Error; err != nil {
		return nil, err
	}
	byID := make(map[int64]model.User, len(owners))
	for _, u := range owners {
		byID[u.ID] = u
	}

	for _, e := range entries {
		rel := visibility.RelationshipFriendOfFriend
		if direct.Has(e.OwnerID) {
			rel = visibility.RelationshipDirectFriend
		}
		owner := byID[e.OwnerID]
		items = append(items, Item{
			Entry:            e,
			OwnerUsername:    owner.Username,
			OwnerDisplayName: owner.DisplayName,
			Relationship:     rel,
		})
	}
	return items, nil
}

// Invalidate drops the cached first page for each user and tells the
// other instances to do the same.
func (svc *Service) Invalidate(ctx context.Context, userIDs ...int64) {
	for _, id := range userIDs {
		if id <= 0 {
			continue
		}
		if err := svc.cache.Del(ctx, cacheKey(id)); err != nil {
			svc.logger.Debug("feed cache del failed", zap.Int64("user_id", id), zap.Error(err))
		}
		if err := svc.pubsub.Publish(ctx, InvalidateChannel, strconv.FormatInt(id, 10)); err != nil {
			svc.logger.Warn("feed invalidate publish failed", zap.Int64("user_id", id), zap.Error(err))
		}
	}
}

func tierStrings(tiers []visibility.Tier) []string {
	out := make([]string, len(tiers))
	for i, t := range tiers {
		out[i] = string(t)
	}
	return out
}
