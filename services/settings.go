// services/settings.go
package services

import (
	"log"
	"strconv"
	"sync"
	"time"

	"treasure-hunt-system/models"

	"gorm.io/gorm"
)

// GameTunables are the hot-reloadable knobs read per request. Loaded from the
// game_settings table; every field has a compiled-in safe default so a failed
// DB read degrades conservatively instead of crashing.
type GameTunables struct {
	AccuracyTolerance float64 // meters added to capture radius
	MaxSpeed          float64 // m/s ceiling before speed flag (≈200 km/h)
	AccuracyCeiling   float64 // meters; worse GPS accuracy raises a flag
	CooldownSeconds   int     // min seconds between two claims by one user
	DailyClaimLimit   int     // max successful claims per user per day
	SessionTTL        time.Duration
	NearbyResultCap   int
	DefaultRadius     float64 // fallback capture radius for placements

	// Anti-cheat penalty weights, each in [0,1]
	PenaltyAccuracy float64
	PenaltySpeed    float64
	PenaltyDevice   float64
	PenaltyTracking float64
	PenaltyLowLight float64
}

var defaultTunables = GameTunables{
	AccuracyTolerance: 10,
	MaxSpeed:          55,
	AccuracyCeiling:   100,
	CooldownSeconds:   30,
	DailyClaimLimit:   50,
	SessionTTL:        time.Hour,
	NearbyResultCap:   10,
	DefaultRadius:     50,
	PenaltyAccuracy:   0.2,
	PenaltySpeed:      0.5,
	PenaltyDevice:     0.4,
	PenaltyTracking:   0.3,
	PenaltyLowLight:   0.1,
}

type SettingsService struct {
	DB *gorm.DB

	mu     sync.RWMutex
	cached GameTunables
}

func NewSettingsService(db *gorm.DB) *SettingsService {
	s := &SettingsService{DB: db, cached: defaultTunables}
	if err := s.Reload(); err != nil {
		log.Printf("⚠️ [SETTINGS] initial load failed, using defaults: %v", err)
	}
	return s
}

// Get returns the current tunables snapshot. Handlers call this per request;
// the snapshot is refreshed by Reload on a short scheduler interval, so DB
// changes land without a redeploy.
func (s *SettingsService) Get() GameTunables {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached
}

// Reload re-reads the whole game_settings table. Unknown keys are ignored;
// unparseable values keep their previous setting.
func (s *SettingsService) Reload() error {
	var rows []models.GameSetting
	if err := s.DB.Find(&rows).Error; err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		applySetting(&s.cached, row.Key, row.Value)
	}
	return nil
}

// Update persists changed keys and applies them to the live snapshot in one
// pass, so admin updates take effect immediately on this instance.
func (s *SettingsService) Update(updates map[string]string, updatedBy string) (GameTunables, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range updates {
		applySetting(&s.cached, key, value)
		setting := models.GameSetting{Key: key, Value: value, UpdatedBy: updatedBy}
		if err := s.DB.Save(&setting).Error; err != nil {
			return s.cached, err
		}
	}
	return s.cached, nil
}

func applySetting(target *GameTunables, key, value string) {
	switch key {
	case "accuracy_tolerance_m":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v >= 0 {
			target.AccuracyTolerance = v
		}
	case "max_speed_mps":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v > 0 {
			target.MaxSpeed = v
		}
	case "accuracy_ceiling_m":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v > 0 {
			target.AccuracyCeiling = v
		}
	case "claim_cooldown_seconds":
		if v, err := strconv.Atoi(value); err == nil && v >= 0 {
			target.CooldownSeconds = v
		}
	case "daily_claim_limit":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			target.DailyClaimLimit = v
		}
	case "session_ttl_seconds":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			target.SessionTTL = time.Duration(v) * time.Second
		}
	case "nearby_result_cap":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			target.NearbyResultCap = v
		}
	case "default_capture_radius_m":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v > 0 {
			target.DefaultRadius = v
		}
	case "penalty_accuracy":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v >= 0 && v <= 1 {
			target.PenaltyAccuracy = v
		}
	case "penalty_speed":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v >= 0 && v <= 1 {
			target.PenaltySpeed = v
		}
	case "penalty_device":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v >= 0 && v <= 1 {
			target.PenaltyDevice = v
		}
	case "penalty_tracking":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v >= 0 && v <= 1 {
			target.PenaltyTracking = v
		}
	case "penalty_low_light":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v >= 0 && v <= 1 {
			target.PenaltyLowLight = v
		}
	}
}
