// models/player.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// PlayerProfile is a local snapshot of player data the hunt service needs.
// Identity lives in the external profile service; the sync worker keeps
// username and ban state current. Points and claim counters are owned here.
type PlayerProfile struct {
	ID             string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"`
	Username       string `gorm:"index" json:"username"`

	TotalPoints   int64 `gorm:"not null;default:0" json:"total_points"`
	TotalClaims   int64 `gorm:"not null;default:0" json:"total_claims"`
	TotalSessions int64 `gorm:"not null;default:0" json:"total_sessions"`

	LastClaimAt *time.Time `json:"last_claim_at,omitempty"` // cooldown anchor

	IsBanned bool `gorm:"default:false" json:"is_banned"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// RemotePlayer mirrors the profile service's public wire shape (read-only).
// Used by the sync worker when polling for changed players.
type RemotePlayer struct {
	ExternalID string     `json:"external_id"`
	Username   string     `json:"username"`
	IsBanned   bool       `json:"is_banned"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}
