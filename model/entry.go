package model

import (
	"time"

	"gorm.io/datatypes"
)

// Entry is a tasting journal entry. Rows are written by the journaling
// surface; this service only reads them, so privacy columns are plain
// strings validated at the visibility boundary.
//
// CommentsPrivacy is empty for legacy rows that predate per-section
// privacy; readers derive an effective tier from CommentsScope until the
// backfill has materialized it.
type Entry struct {
	ID              int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID         int64          `gorm:"index:idx_entry_owner;not null" json:"owner_id"`
	WineName        string         `gorm:"size:128;not null" json:"wine_name"`
	Winery          string         `gorm:"size:128" json:"winery"`
	Vintage         int            `json:"vintage"`
	Rating          int            `json:"rating"` // 0=unrated, else 1..5
	Notes           string         `gorm:"type:text" json:"notes"`
	PhotoURL        string         `gorm:"size:255" json:"photo_url"`
	LabelData       datatypes.JSON `json:"label_data"` // raw label-scan payload
	EntryPrivacy    string         `gorm:"size:24;default:friends;not null" json:"entry_privacy"`
	CommentsPrivacy string         `gorm:"size:24" json:"comments_privacy"`
	ReactionPrivacy string         `gorm:"size:24" json:"reaction_privacy"`
	CommentsScope   string         `gorm:"size:16;default:viewers" json:"comments_scope"`
	TastedAt        *time.Time     `json:"tasted_at"`
	CreatedAt       time.Time      `gorm:"index:idx_entry_created;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
