package model

import "time"

// Friend request lifecycle. Accepted rows are the edges of the friend
// graph; there is no "blocked" status here, blocks live in UserBlock.
const (
	FriendStatusPending  = "pending"
	FriendStatusAccepted = "accepted"
)

// FriendRequest is one directed request row. Once accepted it is read as
// an undirected edge between the two users. At most one row may exist per
// ordered pair; the service layer rejects a reverse duplicate.
type FriendRequest struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	RequesterID int64      `gorm:"uniqueIndex:idx_friend_pair;index:idx_friend_requester;not null" json:"requester_id"`
	RecipientID int64      `gorm:"uniqueIndex:idx_friend_pair;index:idx_friend_recipient;not null" json:"recipient_id"`
	Status      string     `gorm:"size:16;default:pending;not null" json:"status"`
	SeenAt      *time.Time `json:"seen_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// UserBlock is a directed block. Either direction of a block severs the
// pair: visibility treats them as strangers regardless of tier.
type UserBlock struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	BlockerID int64     `gorm:"uniqueIndex:idx_block_pair;index:idx_block_blocker;not null" json:"blocker_id"`
	BlockedID int64     `gorm:"uniqueIndex:idx_block_pair;index:idx_block_blocked;not null" json:"blocked_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
