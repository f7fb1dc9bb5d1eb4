package database

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrAuditImmutable is returned by any attempt to change or remove an audit entry.
var ErrAuditImmutable = errors.New("audit log entries are append-only")

// AuditAction names what happened to a call
type AuditAction string

const (
	AuditAutoExclude   AuditAction = "auto_exclude"
	AuditManualExclude AuditAction = "manual_exclude"
	AuditRestore       AuditAction = "restore"
	AuditRequeue       AuditAction = "requeue"
	AuditReviewFlag    AuditAction = "review_flag"
)

// AuditLogEntry is an append-only record of a decision about a call.
// Corrections are new entries, never edits.
type AuditLogEntry struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	UUID      string      `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	CallID    uint        `gorm:"not null;index" json:"call_id"`
	CallRef   string      `gorm:"type:varchar(64);index" json:"call_ref"` // external call id
	Action    AuditAction `gorm:"type:varchar(32);not null" json:"action"`
	Decision  JSONB       `gorm:"type:jsonb" json:"decision,omitempty"`
	Actor     *string     `gorm:"type:varchar(128)" json:"actor"` // nil for automatic decisions
	Reason    string      `gorm:"type:text" json:"reason,omitempty"`
	Metadata  JSONB       `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt time.Time   `gorm:"index" json:"created_at"`
}

func (AuditLogEntry) TableName() string {
	return "audit_log"
}

// BeforeCreate assigns the entry UUID
func (a *AuditLogEntry) BeforeCreate(tx *gorm.DB) error {
	if a.UUID == "" {
		a.UUID = uuid.NewString()
	}
	return nil
}

// BeforeUpdate rejects edits
func (a *AuditLogEntry) BeforeUpdate(tx *gorm.DB) error {
	return ErrAuditImmutable
}

// BeforeDelete rejects removal
func (a *AuditLogEntry) BeforeDelete(tx *gorm.DB) error {
	return ErrAuditImmutable
}
