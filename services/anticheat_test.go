package services

import (
	"testing"
	"time"
)

func testSettings(t *testing.T) *SettingsService {
	t.Helper()
	return &SettingsService{cached: defaultTunables}
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

func TestEvaluateFirstUpdateNoHistory(t *testing.T) {
	v := NewAntiCheatValidator(testSettings(t))

	out := v.Evaluate(CheatInput{
		Latitude:        33.5731,
		Longitude:       -7.5898,
		Accuracy:        15,
		Timestamp:       time.Now(),
		TrackingEnabled: true,
		HasPrevious:     false,
	})

	if out.TrustPenalty != 0 {
		t.Errorf("TrustPenalty = %v, want 0 for first update", out.TrustPenalty)
	}
	if len(out.Flags) != 0 {
		t.Errorf("Flags = %v, want none for first update", out.Flags)
	}
}

func TestEvaluateNormalWalk(t *testing.T) {
	v := NewAntiCheatValidator(testSettings(t))
	t0 := time.Now()

	// ~50m in 60 seconds ⇒ ~0.83 m/s, below any reasonable max
	out := v.Evaluate(CheatInput{
		Latitude:        33.57355,
		Longitude:       -7.5898,
		Accuracy:        10,
		Timestamp:       t0.Add(60 * time.Second),
		TrackingEnabled: true,
		HasPrevious:     true,
		PrevLatitude:    33.5731,
		PrevLongitude:   -7.5898,
		PrevTimestamp:   t0,
	})

	if hasFlag(out.Flags, FlagSpeedExceeded) {
		t.Errorf("unexpected speed flag at %.2f m/s", out.DerivedSpeed)
	}
	if out.TrustPenalty != 0 {
		t.Errorf("TrustPenalty = %v, want 0 for a normal walk", out.TrustPenalty)
	}
}

func TestEvaluateTeleport(t *testing.T) {
	v := NewAntiCheatValidator(testSettings(t))
	t0 := time.Now()

	// ~5km in 1 second ⇒ ~5000 m/s
	out := v.Evaluate(CheatInput{
		Latitude:        33.61807, // ≈5000m north of prev
		Longitude:       -7.5898,
		Accuracy:        10,
		Timestamp:       t0.Add(1 * time.Second),
		TrackingEnabled: true,
		HasPrevious:     true,
		PrevLatitude:    33.5731,
		PrevLongitude:   -7.5898,
		PrevTimestamp:   t0,
	})

	if !hasFlag(out.Flags, FlagSpeedExceeded) {
		t.Fatalf("expected speed flag, got %v (speed %.1f)", out.Flags, out.DerivedSpeed)
	}
	if out.DerivedSpeed < 4000 {
		t.Errorf("DerivedSpeed = %.1f, want ≈ 5000", out.DerivedSpeed)
	}
	if out.TrustPenalty <= 0 {
		t.Error("expected nonzero trust penalty for teleport")
	}
}

func TestEvaluateIndependentFlags(t *testing.T) {
	v := NewAntiCheatValidator(testSettings(t))
	t0 := time.Now()

	tests := []struct {
		name string
		in   CheatInput
		flag string
	}{
		{
			name: "accuracy ceiling",
			in: CheatInput{
				Accuracy: 500, Timestamp: t0, TrackingEnabled: true,
			},
			flag: FlagAccuracyExceeded,
		},
		{
			name: "reported speed alone",
			in: CheatInput{
				Accuracy: 10, Timestamp: t0.Add(time.Minute), TrackingEnabled: true,
				ReportedSpeed: 300,
				HasPrevious:   true, PrevTimestamp: t0,
			},
			flag: FlagSpeedExceeded,
		},
		{
			name: "device changed mid-session",
			in: CheatInput{
				Accuracy: 10, Timestamp: t0.Add(time.Minute), TrackingEnabled: true,
				DeviceID:    "device-b",
				HasPrevious: true, PrevTimestamp: t0, PrevDeviceID: "device-a",
			},
			flag: FlagDeviceChanged,
		},
		{
			name: "tracking mismatch",
			in: CheatInput{
				Accuracy: 10, Timestamp: t0, TrackingEnabled: false,
			},
			flag: FlagTrackingMismatch,
		},
		{
			name: "low AR confidence",
			in: CheatInput{
				Accuracy: 10, Timestamp: t0, TrackingEnabled: true,
				ARConfidence: 0.1,
			},
			flag: FlagLowConfidenceAR,
		},
		{
			name: "clock went backwards",
			in: CheatInput{
				Accuracy: 10, Timestamp: t0, TrackingEnabled: true,
				HasPrevious: true, PrevTimestamp: t0.Add(time.Second),
			},
			flag: FlagNonPositiveTime,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := v.Evaluate(tt.in)
			if !hasFlag(out.Flags, tt.flag) {
				t.Errorf("expected flag %s, got %v", tt.flag, out.Flags)
			}
		})
	}
}

func TestEvaluatePenaltyClamped(t *testing.T) {
	v := NewAntiCheatValidator(testSettings(t))
	t0 := time.Now()

	// Trip everything at once
	out := v.Evaluate(CheatInput{
		Latitude:        34.5,
		Longitude:       -7.5898,
		Accuracy:        9999,
		Timestamp:       t0, // same as prev ⇒ non-positive elapsed
		ReportedSpeed:   500,
		DeviceID:        "device-b",
		TrackingEnabled: false,
		ARConfidence:    0.05,
		HasPrevious:     true,
		PrevLatitude:    33.5731,
		PrevLongitude:   -7.5898,
		PrevTimestamp:   t0,
		PrevDeviceID:    "device-a",
	})

	if out.TrustPenalty > 1 {
		t.Errorf("TrustPenalty = %v, must be clamped to [0,1]", out.TrustPenalty)
	}
	if out.TrustPenalty != 1 {
		t.Errorf("TrustPenalty = %v, want full clamp with every flag raised", out.TrustPenalty)
	}
	if len(out.Flags) < 4 {
		t.Errorf("expected multiple independent flags, got %v", out.Flags)
	}
}
