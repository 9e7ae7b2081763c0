// services/claim_service.go
package services

import (
	"errors"
	"log"
	"time"

	"treasure-hunt-system/models"
	"treasure-hunt-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPrizeNotFound = errors.New("PRIZE_NOT_FOUND")
	ErrPrizeInactive = errors.New("PRIZE_INACTIVE")
	ErrUserNotFound  = errors.New("USER_NOT_FOUND")
)

// ClaimService validates capture attempts and commits Claims. Two phases:
// evaluate every check without touching state, then commit claim + guarded
// prize increment + point award in one transaction. The guarded increment
// ("claim_count + 1 only while below max_claims") is the single
// strict-consistency primitive — concurrent attempts on a nearly exhausted
// prize race on the UPDATE, never on a read-then-write.
type ClaimService struct {
	DB        *gorm.DB
	Settings  *SettingsService
	AntiCheat *AntiCheatValidator
	Proximity *ProximityIndex
	Sessions  *SessionService
	Audit     *AuditService
}

func NewClaimService(db *gorm.DB, settings *SettingsService, antiCheat *AntiCheatValidator, proximity *ProximityIndex, sessions *SessionService, audit *AuditService) *ClaimService {
	return &ClaimService{
		DB:        db,
		Settings:  settings,
		AntiCheat: antiCheat,
		Proximity: proximity,
		Sessions:  sessions,
		Audit:     audit,
	}
}

type captureRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`

	DeviceID         string  `json:"device_id"`
	Platform         string  `json:"platform"`
	ReportedSpeed    float64 `json:"reported_speed"`
	MockLocation     bool    `json:"mock_location"`
	AttestationToken string  `json:"attestation_token"`

	IdempotencyKey string `json:"idempotency_key"`
}

// evaluateGate is the deterministic check sequence, free of any I/O. Every
// check is evaluated (no short-circuit) so the recorded claim shows the
// complete picture.
func evaluateGate(prize *models.Prize, profile *models.PlayerProfile, req *captureRequest, cfg GameTunables, now time.Time, derivedSpeed float64, todaySuccesses int64) (models.ValidationChecks, float64) {
	var checks models.ValidationChecks

	distance := utils.Haversine(req.Latitude, req.Longitude, prize.Latitude, prize.Longitude)
	checks.DistanceValid = distance <= prize.CaptureRadius+cfg.AccuracyTolerance
	checks.TimeValid = now.Before(prize.ExpiresAt)
	checks.SpeedValid = derivedSpeed <= cfg.MaxSpeed && req.ReportedSpeed <= cfg.MaxSpeed

	checks.CooldownValid = true
	if profile.LastClaimAt != nil {
		checks.CooldownValid = now.Sub(*profile.LastClaimAt) >= time.Duration(cfg.CooldownSeconds)*time.Second
	}

	checks.DailyLimitValid = todaySuccesses < int64(cfg.DailyClaimLimit)

	return checks, distance
}

// evaluateChecks gathers the gate's inputs (approach speed from the live
// session, today's success count) and runs it. Nothing is mutated.
func (s *ClaimService) evaluateChecks(prize *models.Prize, profile *models.PlayerProfile, req *captureRequest, now time.Time) (models.ValidationChecks, float64, float64) {
	cfg := s.Settings.Get()

	derivedSpeed := 0.0
	if lat, lng, at, _, ok := s.Sessions.LastFixForUser(profile.ExternalUserID); ok {
		derivedSpeed = utils.Speed(lat, lng, at, req.Latitude, req.Longitude, now)
	}

	var todayCount int64
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if err := s.DB.Model(&models.Claim{}).
		Where("user_id = ? AND success = ? AND claimed_at >= ?", profile.ExternalUserID, true, dayStart).
		Count(&todayCount).Error; err != nil {
		// Conservative default: a failed count blocks nothing but is logged.
		log.Printf("⚠️ [CLAIM] daily count lookup failed for %s: %v", profile.ExternalUserID, err)
		todayCount = 0
	}

	checks, distance := evaluateGate(prize, profile, req, cfg, now, derivedSpeed, todayCount)
	return checks, distance, derivedSpeed
}

// AttemptCapture is the player-facing capture endpoint.
func (s *ClaimService) AttemptCapture(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	prizeID := c.Params("prize_id")

	if _, err := uuid.Parse(prizeID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid prize ID"})
	}

	var req captureRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.Get("Idempotency-Key")
	}
	if req.IdempotencyKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "idempotency_key is required"})
	}
	if !utils.ValidCoordinate(req.Latitude, req.Longitude) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid coordinates"})
	}

	var profile models.PlayerProfile
	if err := s.DB.Where("external_user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": ErrUserNotFound.Error()})
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "profile lookup failed, retry"})
	}
	if profile.IsBanned {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": ErrUserBanned.Error()})
	}

	now := time.Now()
	var prize models.Prize
	if err := s.DB.First(&prize, "id = ?", prizeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": ErrPrizeNotFound.Error()})
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "prize lookup failed, retry"})
	}
	if !prize.Active(now) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": ErrPrizeInactive.Error()})
	}

	checks, distance, derivedSpeed := s.evaluateChecks(&prize, &profile, &req, now)

	// Trust annotation only — never part of the gate.
	assessment := s.AntiCheat.Evaluate(s.cheatInputForCapture(&profile, &req, now))

	claim := models.Claim{
		ID:               uuid.NewString(),
		UserID:           userID,
		PrizeID:          prize.ID,
		IdempotencyKey:   req.IdempotencyKey,
		Latitude:         req.Latitude,
		Longitude:        req.Longitude,
		Accuracy:         req.Accuracy,
		DistanceToPrize:  distance,
		Success:          checks.AllPassed(),
		DistanceValid:    checks.DistanceValid,
		TimeValid:        checks.TimeValid,
		SpeedValid:       checks.SpeedValid,
		CooldownValid:    checks.CooldownValid,
		DailyLimitValid:  checks.DailyLimitValid,
		DeviceID:         req.DeviceID,
		Platform:         req.Platform,
		ReportedSpeed:    req.ReportedSpeed,
		MockLocation:     req.MockLocation,
		AttestationToken: req.AttestationToken,
		TrustPenalty:     assessment.TrustPenalty,
		ClaimedAt:        now,
	}
	if claim.Success {
		claim.PointsAwarded = prize.PointValue
	}

	duplicate := false
	exhausted := false
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		// Exactly-once: the idempotency key is unique at the storage layer.
		// A duplicate submission inserts nothing and we hand back the
		// original claim untouched.
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).Create(&claim)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			duplicate = true
			return tx.Where("idempotency_key = ?", req.IdempotencyKey).First(&claim).Error
		}

		if !claim.Success {
			// Audit record only; prize state untouched.
			return nil
		}

		// The correctness-critical primitive: a single conditional UPDATE.
		inc := tx.Model(&models.Prize{}).
			Where("id = ? AND status = ? AND claim_count < max_claims", prize.ID, models.PrizeStatusActive).
			UpdateColumn("claim_count", gorm.Expr("claim_count + 1"))
		if inc.Error != nil {
			return inc.Error
		}
		if inc.RowsAffected == 0 {
			// Lost the race on the last unit. The claim stays as an audit
			// record of a valid-but-too-late attempt.
			exhausted = true
			claim.Success = false
			claim.PointsAwarded = 0
			return tx.Model(&models.Claim{}).Where("id = ?", claim.ID).
				Updates(map[string]interface{}{"success": false, "points_awarded": 0}).Error
		}

		return tx.Model(&models.PlayerProfile{}).
			Where("external_user_id = ?", userID).
			Updates(map[string]interface{}{
				"total_points":  gorm.Expr("total_points + ?", claim.PointsAwarded),
				"total_claims":  gorm.Expr("total_claims + 1"),
				"last_claim_at": now,
			}).Error
	})
	if err != nil {
		log.Printf("DB Error processing capture %s by %s: %v", prizeID, userID, err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "capture processing failed, retry"})
	}

	if duplicate {
		return c.JSON(fiber.Map{
			"success":           claim.Success,
			"points_awarded":    claim.PointsAwarded,
			"validation_checks": claim.Checks(),
			"claim_id":          claim.ID,
			"duplicate":         true,
		})
	}

	s.Sessions.RecordClaimAttempt(userID, claim.Success)

	if claim.Success {
		// Drop exhausted prizes from the index so they stop showing up
		// nearby. Best-effort; the DB gate already closed.
		var fresh models.Prize
		if err := s.DB.Select("claim_count", "max_claims").First(&fresh, "id = ?", prize.ID).Error; err == nil &&
			fresh.ClaimCount >= fresh.MaxClaims {
			s.Proximity.Remove(prize.ID)
		}
	}

	s.Audit.Record(models.AuditClaimAttempt, userID, claim.ID, fiber.Map{
		"prize_id":       prize.ID,
		"success":        claim.Success,
		"points_awarded": claim.PointsAwarded,
		"distance":       distance,
		"derived_speed":  derivedSpeed,
		"trust_penalty":  assessment.TrustPenalty,
		"flags":          assessment.Flags,
	})

	if exhausted {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":             ErrPrizeInactive.Error(),
			"validation_checks": claim.Checks(),
			"claim_id":          claim.ID,
		})
	}

	return c.JSON(fiber.Map{
		"success":           claim.Success,
		"points_awarded":    claim.PointsAwarded,
		"validation_checks": claim.Checks(),
		"claim_id":          claim.ID,
	})
}

func (s *ClaimService) cheatInputForCapture(profile *models.PlayerProfile, req *captureRequest, now time.Time) CheatInput {
	in := CheatInput{
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		Accuracy:        req.Accuracy,
		Timestamp:       now,
		ReportedSpeed:   req.ReportedSpeed,
		DeviceID:        req.DeviceID,
		TrackingEnabled: true,
	}
	if lat, lng, at, deviceID, ok := s.Sessions.LastFixForUser(profile.ExternalUserID); ok {
		in.HasPrevious = true
		in.PrevLatitude = lat
		in.PrevLongitude = lng
		in.PrevTimestamp = at
		in.PrevDeviceID = deviceID
	}
	return in
}

// GetClaim returns one of the caller's claims.
func (s *ClaimService) GetClaim(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	claimID := c.Params("id")

	var claim models.Claim
	if err := s.DB.Where("id = ? AND user_id = ?", claimID, userID).First(&claim).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Claim not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(claim)
}

// ListUserClaims returns the caller's claim history, newest first.
func (s *ClaimService) ListUserClaims(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var claims []models.Claim
	if err := s.DB.Where("user_id = ?", userID).
		Order("claimed_at DESC").
		Limit(100).
		Find(&claims).Error; err != nil {
		log.Printf("DB Error fetching claims for %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch claims"})
	}
	return c.JSON(claims)
}

// OverrideClaim lets an admin validate/reject a claim after the fact. The
// override is an overlay: the original recorded checks are never rewritten,
// and the action is separately audited.
func (s *ClaimService) OverrideClaim(c *fiber.Ctx) error {
	adminID := c.Locals("user_id").(string)
	claimID := c.Params("id")

	var req struct {
		Status models.OverrideStatus `json:"status"`
		Reason string                `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Status != models.OverrideValidated && req.Status != models.OverrideRejected {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "status must be validated or rejected"})
	}

	var claim models.Claim
	if err := s.DB.First(&claim, "id = ?", claimID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Claim not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	now := time.Now()
	if err := s.DB.Model(&claim).Updates(map[string]interface{}{
		"override_status": req.Status,
		"override_by":     adminID,
		"override_reason": req.Reason,
		"override_at":     now,
	}).Error; err != nil {
		log.Printf("DB Error overriding claim %s: %v", claimID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to override claim"})
	}

	s.Audit.Record(models.AuditClaimOverride, adminID, claimID, fiber.Map{
		"status": req.Status,
		"reason": req.Reason,
	})

	return c.JSON(fiber.Map{"message": "Claim override recorded", "claim_id": claimID, "status": req.Status})
}
