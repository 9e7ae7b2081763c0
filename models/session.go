// models/session.go
package models

import (
	"time"
)

type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
)

// GameSession is one device's play session. The live copy is owned by the
// session tracker's in-memory store for its whole active lifetime; the DB row
// is a snapshot persisted at start and finalized at end, retained for a
// bounded audit window.
type GameSession struct {
	ID         string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserID     string `gorm:"index;not null" json:"user_id"`
	DeviceID   string `gorm:"not null" json:"device_id"`
	Platform   string `json:"platform"` // ios | android
	AppVersion string `json:"app_version"`

	StartedAt time.Time  `gorm:"not null" json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// Last accepted fix
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	LastFixAt  time.Time `json:"last_fix_at"`

	DistanceTraveled float64 `gorm:"not null;default:0" json:"distance_traveled"` // meters, monotonic
	PrizesFound      int     `gorm:"not null;default:0" json:"prizes_found"`
	ClaimAttempts    int     `gorm:"not null;default:0" json:"claim_attempts"`
	PowerUpsUsed     int     `gorm:"not null;default:0" json:"power_ups_used"`
	UpdateCount      int     `gorm:"not null;default:0" json:"update_count"`

	// Accumulated anti-cheat penalty over the session, for audit
	TrustPenalty float64 `json:"trust_penalty"`

	Status    SessionStatus `gorm:"index;not null;default:'active'" json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// SessionRewards is the end-of-session reward breakdown returned to the
// client and written to the audit log.
type SessionRewards struct {
	BasePoints     int64 `json:"base_points"`
	DistanceBonus  int64 `json:"distance_bonus"`
	TimeBonus      int64 `json:"time_bonus"`
	DiscoveryBonus int64 `json:"discovery_bonus"`
	Total          int64 `json:"total"`
}
