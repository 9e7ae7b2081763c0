package services

import (
	"testing"
	"time"

	"treasure-hunt-system/models"
	"treasure-hunt-system/utils"
)

func gatePrize(t *testing.T, radius float64, expiresAt time.Time) *models.Prize {
	t.Helper()
	return &models.Prize{
		ID:            "prize-1",
		Name:          "Gold Coin",
		Category:      models.PrizeCategoryCoin,
		Rarity:        models.RarityCommon,
		PointValue:    100,
		Latitude:      33.5731,
		Longitude:     -7.5898,
		CaptureRadius: radius,
		MaxClaims:     1,
		ExpiresAt:     expiresAt,
		Status:        models.PrizeStatusActive,
	}
}

func TestEvaluateGateDistance(t *testing.T) {
	cfg := defaultTunables
	now := time.Now()
	prize := gatePrize(t, 50, now.Add(time.Hour))
	profile := &models.PlayerProfile{ExternalUserID: "user-a"}

	tests := []struct {
		name   string
		meters float64 // distance from the prize
		want   bool
	}{
		{"standing on the prize", 0, true},
		{"just inside radius", 45, true},
		{"inside radius plus tolerance", 55, true}, // 50 + 10m tolerance
		{"outside radius plus tolerance", 75, false},
		{"far away", 5000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lat, lng := utils.Destination(prize.Latitude, prize.Longitude, tt.meters, 0)
			req := &captureRequest{Latitude: lat, Longitude: lng, Accuracy: 5}

			checks, distance := evaluateGate(prize, profile, req, cfg, now, 0, 0)
			if checks.DistanceValid != tt.want {
				t.Errorf("DistanceValid = %v at %.1fm (measured %.1fm), want %v",
					checks.DistanceValid, tt.meters, distance, tt.want)
			}
		})
	}
}

func TestEvaluateGateExpiry(t *testing.T) {
	cfg := defaultTunables
	now := time.Now()
	profile := &models.PlayerProfile{ExternalUserID: "user-a"}
	req := &captureRequest{Latitude: 33.5731, Longitude: -7.5898}

	live := gatePrize(t, 50, now.Add(time.Minute))
	if checks, _ := evaluateGate(live, profile, req, cfg, now, 0, 0); !checks.TimeValid {
		t.Error("TimeValid = false for a live prize")
	}

	dead := gatePrize(t, 50, now.Add(-time.Second))
	if checks, _ := evaluateGate(dead, profile, req, cfg, now, 0, 0); checks.TimeValid {
		t.Error("TimeValid = true for an expired prize")
	}
}

func TestEvaluateGateSpeed(t *testing.T) {
	cfg := defaultTunables
	now := time.Now()
	prize := gatePrize(t, 50, now.Add(time.Hour))
	profile := &models.PlayerProfile{ExternalUserID: "user-a"}

	tests := []struct {
		name          string
		derivedSpeed  float64
		reportedSpeed float64
		want          bool
	}{
		{"walking", 1.2, 1.0, true},
		{"driving at the limit", cfg.MaxSpeed, cfg.MaxSpeed, true},
		{"derived speed over limit", cfg.MaxSpeed + 10, 0, false},
		{"reported speed over limit", 0, cfg.MaxSpeed + 10, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &captureRequest{Latitude: 33.5731, Longitude: -7.5898, ReportedSpeed: tt.reportedSpeed}
			checks, _ := evaluateGate(prize, profile, req, cfg, now, tt.derivedSpeed, 0)
			if checks.SpeedValid != tt.want {
				t.Errorf("SpeedValid = %v (derived %.1f, reported %.1f), want %v",
					checks.SpeedValid, tt.derivedSpeed, tt.reportedSpeed, tt.want)
			}
		})
	}
}

func TestEvaluateGateCooldown(t *testing.T) {
	cfg := defaultTunables
	now := time.Now()
	prize := gatePrize(t, 50, now.Add(time.Hour))
	req := &captureRequest{Latitude: 33.5731, Longitude: -7.5898}

	fresh := &models.PlayerProfile{ExternalUserID: "user-a"}
	if checks, _ := evaluateGate(prize, fresh, req, cfg, now, 0, 0); !checks.CooldownValid {
		t.Error("CooldownValid = false for a player with no claim history")
	}

	recent := now.Add(-time.Duration(cfg.CooldownSeconds/2) * time.Second)
	hot := &models.PlayerProfile{ExternalUserID: "user-a", LastClaimAt: &recent}
	if checks, _ := evaluateGate(prize, hot, req, cfg, now, 0, 0); checks.CooldownValid {
		t.Error("CooldownValid = true mid-cooldown")
	}

	old := now.Add(-time.Duration(cfg.CooldownSeconds+1) * time.Second)
	cooled := &models.PlayerProfile{ExternalUserID: "user-a", LastClaimAt: &old}
	if checks, _ := evaluateGate(prize, cooled, req, cfg, now, 0, 0); !checks.CooldownValid {
		t.Error("CooldownValid = false after the cooldown elapsed")
	}
}

func TestEvaluateGateDailyLimit(t *testing.T) {
	cfg := defaultTunables
	now := time.Now()
	prize := gatePrize(t, 50, now.Add(time.Hour))
	profile := &models.PlayerProfile{ExternalUserID: "user-a"}
	req := &captureRequest{Latitude: 33.5731, Longitude: -7.5898}

	if checks, _ := evaluateGate(prize, profile, req, cfg, now, 0, 0); !checks.DailyLimitValid {
		t.Error("DailyLimitValid = false with zero claims today")
	}
	if checks, _ := evaluateGate(prize, profile, req, cfg, now, 0, int64(cfg.DailyClaimLimit)-1); !checks.DailyLimitValid {
		t.Error("DailyLimitValid = false one claim below the limit")
	}
	if checks, _ := evaluateGate(prize, profile, req, cfg, now, 0, int64(cfg.DailyClaimLimit)); checks.DailyLimitValid {
		t.Error("DailyLimitValid = true at the limit")
	}
}

func TestEvaluateGateAllChecksRecorded(t *testing.T) {
	// Every check must be evaluated even when an earlier one fails, so the
	// stored claim shows the complete picture.
	cfg := defaultTunables
	now := time.Now()
	prize := gatePrize(t, 50, now.Add(-time.Hour)) // expired
	recent := now.Add(-time.Second)
	profile := &models.PlayerProfile{ExternalUserID: "user-a", LastClaimAt: &recent}

	lat, lng := utils.Destination(prize.Latitude, prize.Longitude, 10000, 0)
	req := &captureRequest{Latitude: lat, Longitude: lng, ReportedSpeed: cfg.MaxSpeed + 100}

	checks, _ := evaluateGate(prize, profile, req, cfg, now, 0, int64(cfg.DailyClaimLimit))
	if checks.DistanceValid || checks.TimeValid || checks.SpeedValid || checks.CooldownValid || checks.DailyLimitValid {
		t.Errorf("expected every check failed, got %+v", checks)
	}
	if checks.AllPassed() {
		t.Error("AllPassed = true with every check failed")
	}
}
