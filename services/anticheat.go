// services/anticheat.go
package services

import (
	"time"

	"treasure-hunt-system/utils"
)

// Anti-cheat violation flags. Flags annotate a claim or location update with
// a trust penalty; they never reject on their own. The deterministic
// distance/time gate in the claim processor is what actually protects the
// reward — GPS noise makes hard-failing on these signals too false-positive
// prone.
const (
	FlagAccuracyExceeded = "gps_accuracy_exceeded"
	FlagSpeedExceeded    = "speed_exceeded"
	FlagDeviceChanged    = "device_changed"
	FlagTrackingMismatch = "tracking_mismatch"
	FlagLowConfidenceAR  = "low_confidence_ar"
	FlagNonPositiveTime  = "non_positive_elapsed"
)

// CheatInput is everything one evaluation sees: the current fix, what the
// client reports about itself, and the previous known fix for this session.
type CheatInput struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64 // meters, client-reported GPS accuracy
	Timestamp time.Time

	ReportedSpeed   float64 // m/s, client-reported
	DeviceID        string
	TrackingEnabled bool    // client says it is tracking location
	ARConfidence    float64 // [0,1], 0 when the client sent none

	// Previous fix for the same session; HasPrevious false on the first
	// update, in which case every history-based check is not applicable.
	HasPrevious   bool
	PrevLatitude  float64
	PrevLongitude float64
	PrevTimestamp time.Time
	PrevDeviceID  string
}

// CheatAssessment is the outcome: raised flags, the derived speed, and a
// total trust penalty clamped to [0,1].
type CheatAssessment struct {
	Flags        []string `json:"flags,omitempty"`
	DerivedSpeed float64  `json:"derived_speed"`
	TrustPenalty float64  `json:"trust_penalty"`
}

func (a CheatAssessment) Suspicious() bool { return len(a.Flags) > 0 }

// AntiCheatValidator is a stateless rule evaluator. It never errors: missing
// history yields a zero-penalty assessment.
type AntiCheatValidator struct {
	Settings *SettingsService
}

func NewAntiCheatValidator(settings *SettingsService) *AntiCheatValidator {
	return &AntiCheatValidator{Settings: settings}
}

// Evaluate runs every check independently (no short-circuit) and sums the
// configured penalties.
func (v *AntiCheatValidator) Evaluate(in CheatInput) CheatAssessment {
	cfg := v.Settings.Get()
	var out CheatAssessment
	penalty := 0.0

	if in.Accuracy > cfg.AccuracyCeiling {
		out.Flags = append(out.Flags, FlagAccuracyExceeded)
		penalty += cfg.PenaltyAccuracy
	}

	if in.HasPrevious {
		out.DerivedSpeed = utils.Speed(
			in.PrevLatitude, in.PrevLongitude, in.PrevTimestamp,
			in.Latitude, in.Longitude, in.Timestamp,
		)
		if !in.Timestamp.After(in.PrevTimestamp) {
			// Speed() returned 0 here; the clock anomaly itself is the signal.
			out.Flags = append(out.Flags, FlagNonPositiveTime)
			penalty += cfg.PenaltySpeed
		}
		if out.DerivedSpeed > cfg.MaxSpeed || in.ReportedSpeed > cfg.MaxSpeed {
			out.Flags = append(out.Flags, FlagSpeedExceeded)
			penalty += cfg.PenaltySpeed
		}
		if in.PrevDeviceID != "" && in.DeviceID != "" && in.DeviceID != in.PrevDeviceID {
			out.Flags = append(out.Flags, FlagDeviceChanged)
			penalty += cfg.PenaltyDevice
		}
	}

	if !in.TrackingEnabled {
		// Client claims it is not tracking while submitting fixes.
		out.Flags = append(out.Flags, FlagTrackingMismatch)
		penalty += cfg.PenaltyTracking
	}

	if in.ARConfidence > 0 && in.ARConfidence < 0.3 {
		out.Flags = append(out.Flags, FlagLowConfidenceAR)
		penalty += cfg.PenaltyLowLight
	}

	if penalty > 1 {
		penalty = 1
	}
	out.TrustPenalty = penalty
	return out
}
