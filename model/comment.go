package model

import "time"

// EntryComment is a comment under a journal entry.
type EntryComment struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryID   int64     `gorm:"index:idx_comment_entry;not null" json:"entry_id"`
	AuthorID  int64     `gorm:"index:idx_comment_author;not null" json:"author_id"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
