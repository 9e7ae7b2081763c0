// models/audit.go
package models

import "time"

type AuditAction string

const (
	AuditSessionStart   AuditAction = "session_start"
	AuditSessionEnd     AuditAction = "session_end"
	AuditClaimAttempt   AuditAction = "claim_attempt"
	AuditClaimOverride  AuditAction = "claim_override"
	AuditPlaceSingle    AuditAction = "place_single"
	AuditPlaceBulk      AuditAction = "place_bulk"
	AuditPlaceAuto      AuditAction = "place_auto"
	AuditBatchManage    AuditAction = "batch_manage"
	AuditSettingsChange AuditAction = "settings_change"
)

// AuditLog records every state-changing operation for analytics. Rows are
// periodically exported to object storage and marked, never deleted here.
type AuditLog struct {
	ID        string      `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Action    AuditAction `gorm:"index;not null" json:"action"`
	ActorID   string      `gorm:"index" json:"actor_id"`   // user or admin
	SubjectID string      `gorm:"index" json:"subject_id"` // session/prize/batch/claim id
	Detail    string      `gorm:"type:text" json:"detail"` // JSON payload
	Exported  bool        `gorm:"index;default:false" json:"-"`
	CreatedAt time.Time   `gorm:"index;autoCreateTime" json:"created_at"`
}
