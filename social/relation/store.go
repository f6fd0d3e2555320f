package relation

import (
	"context"
	"errors"

	"github.com/decantapp/decant/server/model"
	"github.com/decantapp/decant/server/social/visibility"
	"gorm.io/gorm"
)

// Store is the gorm-backed graph reader handed to the visibility engine,
// plus the row helpers the Service needs.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store on the given database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AcceptedEdges implements visibility.FriendEdgeStore.
func (s *Store) AcceptedEdges(ctx context.Context, userID int64) ([]visibility.FriendEdge, error) {
	var rows []model.FriendRequest
	err := s.db.WithContext(ctx).
		Where("status = ? AND (requester_id = ? OR recipient_id = ?)",
			model.FriendStatusAccepted, userID, userID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	edges := make([]visibility.FriendEdge, len(rows))
	for i, r := range rows {
		edges[i] = visibility.FriendEdge{RequesterID: r.RequesterID, RecipientID: r.RecipientID}
	}
	return edges, nil
}

// BlockExists implements visibility.BlockStore.
func (s *Store) BlockExists(ctx context.Context, blockerID, blockedID int64) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.UserBlock{}).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Count(&n).Error
	return n > 0, err
}

// BlockedCounterparts returns every user with a block in either direction
// against userID. Feed assembly subtracts these from its buckets.
func (s *Store) BlockedCounterparts(ctx context.Context, userID int64) (visibility.IDSet, error) {
	var rows []model.UserBlock
	err := s.db.WithContext(ctx).
		Where("blocker_id = ? OR blocked_id = ?", userID, userID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(visibility.IDSet, len(rows))
	for _, r := range rows {
		if r.BlockerID != userID {
			out.Add(r.BlockerID)
		}
		if r.BlockedID != userID {
			out.Add(r.BlockedID)
		}
	}
	return out, nil
}

// activeEdge returns the pending or accepted row between the unordered
// pair, or nil when none exists.
func (s *Store) activeEdge(ctx context.Context, a, b int64) (*model.FriendRequest, error) {
	var row model.FriendRequest
	err := s.db.WithContext(ctx).
		Where("(requester_id = ? AND recipient_id = ?) OR (requester_id = ? AND recipient_id = ?)",
			a, b, b, a).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
