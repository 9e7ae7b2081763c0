// models/claim.go
package models

import (
	"time"
)

// ValidationChecks records the outcome of every capture check. Checks are
// evaluated independently (no short-circuit) so the client always sees the
// full picture of why an attempt failed.
type ValidationChecks struct {
	DistanceValid   bool `json:"distance_valid"`
	TimeValid       bool `json:"time_valid"`
	SpeedValid      bool `json:"speed_valid"`
	CooldownValid   bool `json:"cooldown_valid"`
	DailyLimitValid bool `json:"daily_limit_valid"`
}

func (v ValidationChecks) AllPassed() bool {
	return v.DistanceValid && v.TimeValid && v.SpeedValid && v.CooldownValid && v.DailyLimitValid
}

type OverrideStatus string

const (
	OverrideValidated OverrideStatus = "validated"
	OverrideRejected  OverrideStatus = "rejected"
)

// Claim is the immutable record of one capture attempt, successful or not.
// The idempotency key is unique at the storage layer: a duplicate submission
// returns the original row instead of creating a new one. Admin overrides are
// an overlay only — the recorded check results are never rewritten.
type Claim struct {
	ID      string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserID  string `gorm:"index;not null" json:"user_id"`
	PrizeID string `gorm:"index;not null" json:"prize_id"`

	IdempotencyKey string `gorm:"uniqueIndex;not null" json:"idempotency_key"`

	// Submitted fix
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`

	DistanceToPrize float64 `json:"distance_to_prize"` // meters, computed server-side

	Success       bool  `gorm:"index" json:"success"`
	PointsAwarded int64 `gorm:"not null;default:0" json:"points_awarded"`

	// Per-check results (flattened for queryability)
	DistanceValid   bool `json:"distance_valid"`
	TimeValid       bool `json:"time_valid"`
	SpeedValid      bool `json:"speed_valid"`
	CooldownValid   bool `json:"cooldown_valid"`
	DailyLimitValid bool `json:"daily_limit_valid"`

	// Device signals at submission time
	DeviceID         string  `json:"device_id"`
	Platform         string  `json:"platform"`
	ReportedSpeed    float64 `json:"reported_speed"`
	MockLocation     bool    `json:"mock_location"`
	AttestationToken string  `json:"attestation_token,omitempty"`

	// Anti-cheat trust penalty at claim time, [0,1]. Annotates, never gates.
	TrustPenalty float64 `json:"trust_penalty"`

	// Admin override overlay (separately audited, original checks untouched)
	OverrideStatus *OverrideStatus `json:"override_status,omitempty"`
	OverrideBy     *string         `json:"override_by,omitempty"`
	OverrideReason *string         `json:"override_reason,omitempty"`
	OverrideAt     *time.Time      `json:"override_at,omitempty"`

	ClaimedAt time.Time `gorm:"index;autoCreateTime" json:"claimed_at"`
}

// Checks reassembles the flattened per-check columns.
func (c *Claim) Checks() ValidationChecks {
	return ValidationChecks{
		DistanceValid:   c.DistanceValid,
		TimeValid:       c.TimeValid,
		SpeedValid:      c.SpeedValid,
		CooldownValid:   c.CooldownValid,
		DailyLimitValid: c.DailyLimitValid,
	}
}
