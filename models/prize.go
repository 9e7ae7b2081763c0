// models/prize.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// PrizeStatus indicates the lifecycle state of a placed prize.
// Transitions only move forward: active ⇄ paused, active → terminated,
// active → expired (time-driven). terminated and expired are terminal.
type PrizeStatus string

const (
	PrizeStatusActive     PrizeStatus = "active"
	PrizeStatusPaused     PrizeStatus = "paused"
	PrizeStatusTerminated PrizeStatus = "terminated"
	PrizeStatusExpired    PrizeStatus = "expired"
)

type PrizeCategory string

const (
	PrizeCategoryCoin    PrizeCategory = "coin"
	PrizeCategoryVoucher PrizeCategory = "voucher"
	PrizeCategoryItem    PrizeCategory = "item"
	PrizeCategorySponsor PrizeCategory = "sponsor"
)

// Rarity tiers, 1 (common) through 5 (legendary).
const (
	RarityCommon    = 1
	RarityUncommon  = 2
	RarityRare      = 3
	RarityEpic      = 4
	RarityLegendary = 5
)

// Prize is a collectible placed at a coordinate. Created by the
// distribution engine; claim_count is mutated only by the claim
// processor's guarded increment.
type Prize struct {
	ID            string        `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Name          string        `gorm:"not null" json:"name"`
	Category      PrizeCategory `gorm:"not null" json:"category"`
	Rarity        int           `gorm:"not null;default:1" json:"rarity"`
	PointValue    int64         `gorm:"not null" json:"point_value"`
	Latitude      float64       `gorm:"not null" json:"latitude"`
	Longitude     float64       `gorm:"not null" json:"longitude"`
	CaptureRadius float64       `gorm:"not null;default:50" json:"capture_radius"` // meters
	MaxClaims     int64         `gorm:"not null;default:1" json:"max_claims"`
	ClaimCount    int64         `gorm:"not null;default:0" json:"claim_count"`
	ExpiresAt     time.Time     `gorm:"index;not null" json:"expires_at"`
	Status        PrizeStatus   `gorm:"index;not null;default:'active'" json:"status"`

	// Sponsor/partner linkage (optional)
	PartnerID *string `json:"partner_id,omitempty"`

	// Set for prizes created by bulk/auto placement
	BatchID *string `gorm:"index" json:"batch_id,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Active reports whether the prize is currently claimable.
func (p *Prize) Active(now time.Time) bool {
	return p.Status == PrizeStatusActive && now.Before(p.ExpiresAt) && p.ClaimCount < p.MaxClaims
}

// DistributionMode controls template variation during bulk placement.
type DistributionMode string

const (
	ModeIdentical       DistributionMode = "identical"
	ModeRandomVariation DistributionMode = "random_variation"
	ModeScaledByDensity DistributionMode = "scaled_by_density"
)

// DistributionBatch groups prizes created by one bulk/auto placement.
// Management actions (pause/resume/extend/terminate) act on the whole batch.
type DistributionBatch struct {
	ID           string           `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Slug         string           `gorm:"index" json:"slug"`
	AdminID      string           `gorm:"index;not null" json:"admin_id"`
	Mode         DistributionMode `gorm:"not null;default:'identical'" json:"mode"`
	TemplateName string           `json:"template_name"`

	// Auto-placement parameters (zero for single/bulk)
	CenterLat   float64 `json:"center_lat"`
	CenterLng   float64 `json:"center_lng"`
	Radius      float64 `json:"radius"`       // meters
	MinDistance float64 `json:"min_distance"` // meters between placed prizes

	Requested int `gorm:"not null" json:"requested"` // prizes asked for
	Placed    int `gorm:"not null" json:"placed"`    // prizes actually placed

	Status    PrizeStatus `gorm:"not null;default:'active'" json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
