package relation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/decantapp/decant/server/cache"
	dbadapter "github.com/decantapp/decant/server/db"
	"github.com/decantapp/decant/server/hook"
	"github.com/decantapp/decant/server/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Sentinel errors for the API layer to map onto status codes.
var (
	ErrSelfRelation    = errors.New("relation: cannot target yourself")
	ErrUserNotFound    = errors.New("relation: user not found")
	ErrEdgeExists      = errors.New("relation: request or friendship already exists")
	ErrBlocked         = errors.New("relation: pair is blocked")
	ErrRequestNotFound = errors.New("relation: pending request not found")
	ErrNotFriends      = errors.New("relation: users are not friends")
	ErrNotBlocked      = errors.New("relation: no block to remove")
	ErrPairBusy        = errors.New("relation: pair is being updated, retry")
)

const pairLockTTL = 10 * time.Second

// Service owns the friend-request lifecycle and the block list. It keeps
// the graph invariants the visibility engine relies on: at most one active
// edge per unordered pair, accepted only via the recipient, and no edges
// surviving a block.
type Service struct {
	db     *gorm.DB
	store  *Store
	cache  cache.Cache
	hooks  *hook.HookCenter
	logger *zap.Logger
}

// NewService creates the relationship service.
func NewService(db *gorm.DB, store *Store, c cache.Cache, hooks *hook.HookCenter, logger *zap.Logger) *Service {
	return &Service{db: db, store: store, cache: c, hooks: hooks, logger: logger}
}

// pairLock serializes mutations of one unordered pair across instances
// (smaller ID first for a consistent key).
func (svc *Service) pairLock(ctx context.Context, a, b int64) (func(), error) {
	if a > b {
		a, b = b, a
	}
	key := fmt.Sprintf("lock:relation:%d_%d", a, b)
	ok, err := svc.cache.SetNX(ctx, key, "1", pairLockTTL)
	if err != nil || !ok {
		return nil, ErrPairBusy
	}
	return func() { _ = svc.cache.Del(ctx, key) }, nil
}

func (svc *Service) pairBlocked(ctx context.Context, a, b int64) (bool, error) {
	blocked, err := svc.store.BlockExists(ctx, a, b)
	if err != nil || blocked {
		return blocked, err
	}
	return svc.store.BlockExists(ctx, b, a)
}

func (svc *Service) activeUserExists(ctx context.Context, id int64) (bool, error) {
	var n int64
	err := svc.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND status = 1", id).Count(&n).Error
	return n > 0, err
}

// Request creates a pending friend request from requester to recipient.
func (svc *Service) Request(ctx context.Context, requesterID, recipientID int64) (*model.FriendRequest, error) {
	if requesterID == recipientID {
		return nil, ErrSelfRelation
	}
	ok, err := svc.activeUserExists(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUserNotFound
	}

	// The duplicate check and the insert must not interleave with the
	// reverse-direction request: the unique index is ordered, so only
	// the lock keeps the unordered pair down to one active edge.
	unlock, err := svc.pairLock(ctx, requesterID, recipientID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	blocked, err := svc.pairBlocked(ctx, requesterID, recipientID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrBlocked
	}

	existing, err := svc.store.activeEdge(ctx, requesterID, recipientID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEdgeExists
	}

	req := &model.FriendRequest{
		RequesterID: requesterID,
		RecipientID: recipientID,
		Status:      model.FriendStatusPending,
	}
	if err := svc.db.WithContext(ctx).Create(req).Error; err != nil {
		if dbadapter.IsUniqueViolation(err) {
			return nil, ErrEdgeExists
		}
		return nil, err
	}

	svc.logger.Info("friend request sent",
		zap.Int64("requester_id", requesterID),
		zap.Int64("recipient_id", recipientID))
	svc.hooks.Trigger(ctx, hook.OnFriendRequested, hook.RelationEvent{ActorID: requesterID, OtherID: recipientID})
	return req, nil
}

// Accept flips the pending request with the given ID into an accepted
// edge. Only the recipient may accept.
func (svc *Service) Accept(ctx context.Context, recipientID, requestID int64) (*model.FriendRequest, error) {
	var req model.FriendRequest
	err := svc.db.WithContext(ctx).
		Where("id = ? AND recipient_id = ? AND status = ?",
			requestID, recipientID, model.FriendStatusPending).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}

	unlock, err := svc.pairLock(ctx, req.RequesterID, req.RecipientID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// A block placed after the request wins over it.
	blocked, err := svc.pairBlocked(ctx, req.RequesterID, req.RecipientID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrBlocked
	}

	now := time.Now()
	res := svc.db.WithContext(ctx).Model(&model.FriendRequest{}).
		Where("id = ? AND status = ?", requestID, model.FriendStatusPending).
		Updates(map[string]interface{}{"status": model.FriendStatusAccepted, "seen_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrRequestNotFound
	}
	req.Status = model.FriendStatusAccepted
	req.SeenAt = &now

	svc.logger.Info("friend request accepted",
		zap.Int64("recipient_id", recipientID),
		zap.Int64("requester_id", req.RequesterID))
	svc.hooks.Trigger(ctx, hook.OnFriendAccepted, hook.RelationEvent{ActorID: recipientID, OtherID: req.RequesterID})
	return &req, nil
}

// Decline deletes a pending request. Either party may do it: the
// recipient declines, the requester withdraws.
func (svc *Service) Decline(ctx context.Context, userID, requestID int64) error {
	var req model.FriendRequest
	err := svc.db.WithContext(ctx).
		Where("id = ? AND status = ? AND (recipient_id = ? OR requester_id = ?)",
			requestID, model.FriendStatusPending, userID, userID).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRequestNotFound
	}
	if err != nil {
		return err
	}

	res := svc.db.WithContext(ctx).
		Where("id = ? AND status = ?", requestID, model.FriendStatusPending).
		Delete(&model.FriendRequest{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRequestNotFound
	}

	other := req.RequesterID
	if other == userID {
		other = req.RecipientID
	}
	svc.hooks.Trigger(ctx, hook.OnFriendDeclined, hook.RelationEvent{ActorID: userID, OtherID: other})
	return nil
}

// Unfriend removes the accepted edge between the pair.
func (svc *Service) Unfriend(ctx context.Context, userID, otherID int64) error {
	unlock, err := svc.pairLock(ctx, userID, otherID)
	if err != nil {
		return err
	}
	defer unlock()

	res := svc.db.WithContext(ctx).
		Where("status = ? AND ((requester_id = ? AND recipient_id = ?) OR (requester_id = ? AND recipient_id = ?))",
			model.FriendStatusAccepted, userID, otherID, otherID, userID).
		Delete(&model.FriendRequest{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFriends
	}

	svc.logger.Info("friendship removed",
		zap.Int64("user_id", userID),
		zap.Int64("other_id", otherID))
	svc.hooks.Trigger(ctx, hook.OnFriendRemoved, hook.RelationEvent{ActorID: userID, OtherID: otherID})
	return nil
}

// Block inserts a directed block and severs every friend edge between the
// pair, any status, both directions. Idempotent: re-blocking an already
// blocked user is a no-op.
func (svc *Service) Block(ctx context.Context, blockerID, blockedID int64) error {
	if blockerID == blockedID {
		return ErrSelfRelation
	}
	var n int64
	if err := svc.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", blockedID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}

	already, err := svc.store.BlockExists(ctx, blockerID, blockedID)
	if err != nil {
		return err
	}
	if already {
		return nil
	}

	unlock, err := svc.pairLock(ctx, blockerID, blockedID)
	if err != nil {
		return err
	}
	defer unlock()

	// Insert and sever atomically; a block with a surviving edge would
	// leave the pair half-connected until the next write.
	err = svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model.UserBlock{BlockerID: blockerID, BlockedID: blockedID}).Error; err != nil {
			if dbadapter.IsUniqueViolation(err) {
				return nil
			}
			return err
		}
		return tx.
			Where("(requester_id = ? AND recipient_id = ?) OR (requester_id = ? AND recipient_id = ?)",
				blockerID, blockedID, blockedID, blockerID).
			Delete(&model.FriendRequest{}).Error
	})
	if err != nil {
		return err
	}

	svc.logger.Info("user blocked",
		zap.Int64("blocker_id", blockerID),
		zap.Int64("blocked_id", blockedID))
	svc.hooks.Trigger(ctx, hook.OnUserBlocked, hook.RelationEvent{ActorID: blockerID, OtherID: blockedID})
	return nil
}

// Unblock removes the directed block. The other direction, if present,
// stays.
func (svc *Service) Unblock(ctx context.Context, blockerID, blockedID int64) error {
	res := svc.db.WithContext(ctx).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Delete(&model.UserBlock{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotBlocked
	}

	svc.hooks.Trigger(ctx, hook.OnUserUnblocked, hook.RelationEvent{ActorID: blockerID, OtherID: blockedID})
	return nil
}

// Friends returns the user rows behind every accepted edge of userID,
// ordered by username.
func (svc *Service) Friends(ctx context.Context, userID int64) ([]model.User, error) {
	edges, err := svc.store.AcceptedEdges(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(edges))
	seen := make(map[int64]struct{}, len(edges))
	for _, e := range edges {
		other := e.Other(userID)
		if _, ok := seen[other]; ok || other == userID {
			continue
		}
		seen[other] = struct{}{}
		ids = append(ids, other)
	}
	if len(ids) == 0 {
		return []model.User{}, nil
	}

	var users []model.User
	err = svc.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("username asc").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// IncomingPending returns pending requests addressed to userID, newest
// first.
func (svc *Service) IncomingPending(ctx context.Context, userID int64) ([]model.FriendRequest, error) {
	var rows []model.FriendRequest
	err := svc.db.WithContext(ctx).
		Where("recipient_id = ? AND status = ?", userID, model.FriendStatusPending).
		Order("created_at desc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkSeen stamps seen_at on userID's unseen incoming requests and
// returns how many were stamped.
func (svc *Service) MarkSeen(ctx context.Context, userID int64) (int64, error) {
	res := svc.db.WithContext(ctx).Model(&model.FriendRequest{}).
		Where("recipient_id = ? AND status = ? AND seen_at IS NULL",
			userID, model.FriendStatusPending).
		Update("seen_at", time.Now())
	return res.RowsAffected, res.Error
}

// Overview bundles the friends list and the incoming pending requests,
// the two independent reads behind the relationships screen.
type Overview struct {
	Friends []model.User          `json:"friends"`
	Pending []model.FriendRequest `json:"pending"`
}

// Overview fetches both lists concurrently. Either failure fails the
// whole call; the screen renders complete or not at all.
func (svc *Service) Overview(ctx context.Context, userID int64) (*Overview, error) {
	var ov Overview
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		friends, err := svc.Friends(gctx, userID)
		if err != nil {
			return err
		}
		ov.Friends = friends
		return nil
	})
	g.Go(func() error {
		pending, err := svc.IncomingPending(gctx, userID)
		if err != nil {
			return err
		}
		ov.Pending = pending
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &ov, nil
}
