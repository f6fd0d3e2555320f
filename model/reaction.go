package model

import "time"

// EntryReaction is a user's reaction on an entry, one per user per entry.
// Reacting again replaces the kind.
type EntryReaction struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryID   int64     `gorm:"uniqueIndex:idx_reaction_once;index:idx_reaction_entry;not null" json:"entry_id"`
	UserID    int64     `gorm:"uniqueIndex:idx_reaction_once;not null" json:"user_id"`
	Kind      string    `gorm:"size:24;not null" json:"kind"` // cheers, thumbs_up, ...
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
