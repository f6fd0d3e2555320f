package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records relationship and moderation actions.
type AuditLog struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID   string         `gorm:"index:idx_audit_trace;size:36;not null" json:"trace_id"`
	ActorID   *int64         `gorm:"index:idx_audit_actor" json:"actor_id"`
	SubjectID *int64         `json:"subject_id"`
	Action    string         `gorm:"size:64;not null" json:"action"`
	Detail    datatypes.JSON `json:"detail"`
	IP        string         `gorm:"size:45" json:"ip"`
	CreatedAt time.Time      `gorm:"index:idx_audit_created;autoCreateTime:milli" json:"created_at"`
}
