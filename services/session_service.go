// services/session_service.go
package services

import (
	"errors"
	"log"
	"sync"
	"time"

	"treasure-hunt-system/models"
	"treasure-hunt-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrSessionNotFound     = errors.New("SESSION_NOT_FOUND")
	ErrSessionUnauthorized = errors.New("SESSION_UNAUTHORIZED")
	ErrUserBanned          = errors.New("USER_BANNED")
)

// Session reward shape: base for playing at all, plus bonuses for distance,
// time, and discoveries, each independently capped.
const (
	sessionBasePoints   = 10
	distancePointsPer   = 100.0 // meters per bonus point
	distanceBonusCap    = 200
	timePointsPerMinute = 1
	timeBonusCap        = 60
	discoveryPointsEach = 25
	discoveryBonusCap   = 250
)

// liveSession is the in-memory, single-writer copy of an active session.
// Each session carries its own lock; updates for one session serialize on it
// while different sessions proceed independently.
type liveSession struct {
	mu        sync.Mutex
	record    models.GameSession
	expiresAt time.Time
}

// beginEnd flips the live record to completed and returns a snapshot for
// persistence. Reports false when the session is not active, which also
// blocks a concurrent end while one is in flight.
func (ls *liveSession) beginEnd(now time.Time) (models.GameSession, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.record.Status != models.SessionStatusActive {
		return models.GameSession{}, false
	}
	ls.record.Status = models.SessionStatusCompleted
	ls.record.EndedAt = &now
	return ls.record, true
}

// abortEnd reverts beginEnd after a failed persist so the client can retry
// instead of losing the session's rewards to one transient DB error.
func (ls *liveSession) abortEnd() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.record.Status = models.SessionStatusActive
	ls.record.EndedAt = nil
}

// SessionService tracks every active play session in memory (the DB row is a
// start/end snapshot for audit). Sessions expire if not renewed by a location
// update within the TTL; an expired session is gone, not resurrectable.
type SessionService struct {
	DB        *gorm.DB
	Settings  *SettingsService
	AntiCheat *AntiCheatValidator
	Proximity *ProximityIndex
	Audit     *AuditService

	mu       sync.RWMutex
	sessions map[string]*liveSession
}

func NewSessionService(db *gorm.DB, settings *SettingsService, antiCheat *AntiCheatValidator, proximity *ProximityIndex, audit *AuditService) *SessionService {
	return &SessionService{
		DB:        db,
		Settings:  settings,
		AntiCheat: antiCheat,
		Proximity: proximity,
		Audit:     audit,
		sessions:  make(map[string]*liveSession),
	}
}

func (s *SessionService) get(sessionID string) *liveSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[sessionID]
}

// ActiveCount reports live (unexpired) sessions.
func (s *SessionService) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ActiveNear counts live sessions within radiusMeters of a point.
func (s *SessionService) ActiveNear(lat, lng, radiusMeters float64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, ls := range s.sessions {
		ls.mu.Lock()
		d := utils.Haversine(lat, lng, ls.record.Latitude, ls.record.Longitude)
		ls.mu.Unlock()
		if d <= radiusMeters {
			count++
		}
	}
	return count
}

// --- Handlers ---

// StartSession creates a session bound to the caller's user and device.
func (s *SessionService) StartSession(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var req struct {
		DeviceID   string  `json:"device_id"`
		Platform   string  `json:"platform"`
		AppVersion string  `json:"app_version"`
		Latitude   float64 `json:"latitude"`
		Longitude  float64 `json:"longitude"`
		Accuracy   float64 `json:"accuracy"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.DeviceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "device_id is required"})
	}
	if !utils.ValidCoordinate(req.Latitude, req.Longitude) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid coordinates"})
	}

	var profile models.PlayerProfile
	err := s.DB.Where("external_user_id = ?", userID).First(&profile).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "profile lookup failed, retry"})
	}
	if err == nil && profile.IsBanned {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": ErrUserBanned.Error()})
	}

	now := time.Now()
	session := models.GameSession{
		ID:         uuid.NewString(),
		UserID:     userID,
		DeviceID:   req.DeviceID,
		Platform:   req.Platform,
		AppVersion: req.AppVersion,
		StartedAt:  now,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		Accuracy:   req.Accuracy,
		LastFixAt:  now,
		Status:     models.SessionStatusActive,
	}
	if err := s.DB.Create(&session).Error; err != nil {
		log.Printf("DB Error creating session: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to start session"})
	}

	ttl := s.Settings.Get().SessionTTL
	s.mu.Lock()
	s.sessions[session.ID] = &liveSession{record: session, expiresAt: now.Add(ttl)}
	s.mu.Unlock()

	s.Audit.Record(models.AuditSessionStart, userID, session.ID, fiber.Map{
		"device_id": req.DeviceID,
		"platform":  req.Platform,
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"session_id": session.ID,
		"start_time": session.StartedAt,
	})
}

// UpdateLocation applies one fix: ownership check, monotonic timestamp guard,
// delta distance, anti-cheat annotation, and a nearby-prize query at the new
// position. Anti-cheat never rejects the update.
func (s *SessionService) UpdateLocation(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	sessionID := c.Params("id")

	var req struct {
		Latitude        float64   `json:"latitude"`
		Longitude       float64   `json:"longitude"`
		Accuracy        float64   `json:"accuracy"`
		Speed           float64   `json:"speed"`
		Heading         float64   `json:"heading"`
		Timestamp       time.Time `json:"timestamp"`
		DeviceID        string    `json:"device_id"`
		TrackingEnabled *bool     `json:"tracking_enabled"`
		ARConfidence    float64   `json:"ar_confidence"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if !utils.ValidCoordinate(req.Latitude, req.Longitude) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid coordinates"})
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	ls := s.get(sessionID)
	if ls == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": ErrSessionNotFound.Error()})
	}

	cfg := s.Settings.Get()

	ls.mu.Lock()
	if ls.record.UserID != userID {
		ls.mu.Unlock()
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": ErrSessionUnauthorized.Error()})
	}
	if time.Now().After(ls.expiresAt) || ls.record.Status != models.SessionStatusActive {
		ls.mu.Unlock()
		// Abandoned sessions are gone, not resurrectable.
		s.evict(sessionID)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": ErrSessionNotFound.Error()})
	}

	tracking := true
	if req.TrackingEnabled != nil {
		tracking = *req.TrackingEnabled
	}
	assessment := s.AntiCheat.Evaluate(CheatInput{
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		Accuracy:        req.Accuracy,
		Timestamp:       req.Timestamp,
		ReportedSpeed:   req.Speed,
		DeviceID:        req.DeviceID,
		TrackingEnabled: tracking,
		ARConfidence:    req.ARConfidence,
		HasPrevious:     true,
		PrevLatitude:    ls.record.Latitude,
		PrevLongitude:   ls.record.Longitude,
		PrevTimestamp:   ls.record.LastFixAt,
		PrevDeviceID:    ls.record.DeviceID,
	})
	if assessment.Suspicious() {
		log.Printf("⚠️ [ANTICHEAT] session=%s user=%s flags=%v penalty=%.2f",
			sessionID, userID, assessment.Flags, assessment.TrustPenalty)
	}

	stale := !applyFix(&ls.record, req.Latitude, req.Longitude, req.Accuracy, req.Timestamp, assessment.TrustPenalty)
	ls.expiresAt = time.Now().Add(cfg.SessionTTL)

	distanceTraveled := ls.record.DistanceTraveled
	queryLat, queryLng := ls.record.Latitude, ls.record.Longitude
	ls.mu.Unlock()

	nearby := s.Proximity.Query(queryLat, queryLng, 1000, cfg.NearbyResultCap)

	resp := fiber.Map{
		"distance_traveled": distanceTraveled,
		"nearby_prizes":     nearby,
	}
	if assessment.Suspicious() {
		resp["cheat_warning"] = assessment
	}
	if stale {
		resp["stale"] = true
	}
	return c.JSON(resp)
}

// EndSession completes the session, computes the reward breakdown, persists
// final stats, and drops the live copy. The DB row sticks around for the
// audit retention window.
func (s *SessionService) EndSession(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	sessionID := c.Params("id")

	ls := s.get(sessionID)
	if ls == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": ErrSessionNotFound.Error()})
	}

	ls.mu.Lock()
	owner := ls.record.UserID
	ls.mu.Unlock()
	if owner != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": ErrSessionUnauthorized.Error()})
	}

	now := time.Now()
	record, ok := ls.beginEnd(now)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": ErrSessionNotFound.Error()})
	}

	duration := now.Sub(record.StartedAt)
	rewards := computeSessionRewards(&record, duration)

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.GameSession{}).Where("id = ?", record.ID).Updates(map[string]interface{}{
			"status":            models.SessionStatusCompleted,
			"ended_at":          now,
			"latitude":          record.Latitude,
			"longitude":         record.Longitude,
			"distance_traveled": record.DistanceTraveled,
			"prizes_found":      record.PrizesFound,
			"claim_attempts":    record.ClaimAttempts,
			"power_ups_used":    record.PowerUpsUsed,
			"update_count":      record.UpdateCount,
			"trust_penalty":     record.TrustPenalty,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.PlayerProfile{}).
			Where("external_user_id = ?", userID).
			Updates(map[string]interface{}{
				"total_points":   gorm.Expr("total_points + ?", rewards.Total),
				"total_sessions": gorm.Expr("total_sessions + 1"),
			}).Error
	})
	if err != nil {
		// Revert the live copy so the retry the 500 invites can still land.
		ls.abortEnd()
		log.Printf("DB Error ending session %s: %v", sessionID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to end session"})
	}

	s.evict(sessionID)

	s.Audit.Record(models.AuditSessionEnd, userID, sessionID, fiber.Map{
		"duration_seconds":  int(duration.Seconds()),
		"distance_traveled": record.DistanceTraveled,
		"prizes_found":      record.PrizesFound,
		"rewards":           rewards,
		"trust_penalty":     record.TrustPenalty,
	})

	return c.JSON(fiber.Map{
		"duration":          int(duration.Seconds()),
		"distance_traveled": record.DistanceTraveled,
		"prizes_found":      record.PrizesFound,
		"rewards":           rewards,
	})
}

// GetSession returns the caller's live session state.
func (s *SessionService) GetSession(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	sessionID := c.Params("id")

	ls := s.get(sessionID)
	if ls == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": ErrSessionNotFound.Error()})
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.record.UserID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": ErrSessionUnauthorized.Error()})
	}
	return c.JSON(ls.record)
}

// --- Internal ---

// RecordClaimAttempt bumps the live session's counters after a capture
// attempt. Best-effort: the claim itself is already durable.
func (s *SessionService) RecordClaimAttempt(userID string, success bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ls := range s.sessions {
		ls.mu.Lock()
		if ls.record.UserID == userID && ls.record.Status == models.SessionStatusActive {
			ls.record.ClaimAttempts++
			if success {
				ls.record.PrizesFound++
			}
			ls.mu.Unlock()
			return
		}
		ls.mu.Unlock()
	}
}

// LastFixForUser returns the most recent accepted fix of the user's active
// session, if any. The claim processor uses it to derive approach speed.
func (s *SessionService) LastFixForUser(userID string) (lat, lng float64, at time.Time, deviceID string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ls := range s.sessions {
		ls.mu.Lock()
		if ls.record.UserID == userID && ls.record.Status == models.SessionStatusActive {
			lat, lng = ls.record.Latitude, ls.record.Longitude
			at = ls.record.LastFixAt
			deviceID = ls.record.DeviceID
			ls.mu.Unlock()
			return lat, lng, at, deviceID, true
		}
		ls.mu.Unlock()
	}
	return 0, 0, time.Time{}, "", false
}

func (s *SessionService) evict(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

// EvictStale drops sessions whose TTL lapsed without renewal. Their DB rows
// stay behind as abandoned (still "active" status, never finalized) for the
// retention cleanup to age out.
func (s *SessionService) EvictStale() int {
	now := time.Now()
	var stale []string

	s.mu.RLock()
	for id, ls := range s.sessions {
		ls.mu.Lock()
		if now.After(ls.expiresAt) {
			stale = append(stale, id)
		}
		ls.mu.Unlock()
	}
	s.mu.RUnlock()

	for _, id := range stale {
		s.evict(id)
	}
	if len(stale) > 0 {
		log.Printf("[SESSIONS] evicted %d stale sessions", len(stale))
	}
	return len(stale)
}

// PurgeOldRows deletes session rows past the post-completion retention
// window. Run daily by the scheduler.
func (s *SessionService) PurgeOldRows(retention time.Duration) error {
	cutoff := time.Now().Add(-retention)
	res := s.DB.Where("updated_at < ?", cutoff).Delete(&models.GameSession{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		log.Printf("[SESSIONS] purged %d session rows older than %s", res.RowsAffected, cutoff.Format(time.RFC3339))
	}
	return nil
}

// applyFix folds one location fix into the session record and reports whether
// it was accepted. A stale fix (at or before the last accepted one) changes
// nothing — replayed or reordered fixes renew the TTL at the call site but
// must never move the session or inflate cumulative distance, which only
// grows.
func applyFix(record *models.GameSession, lat, lng, accuracy float64, at time.Time, penalty float64) bool {
	if !at.After(record.LastFixAt) {
		return false
	}
	record.DistanceTraveled += utils.Haversine(record.Latitude, record.Longitude, lat, lng)
	record.Latitude = lat
	record.Longitude = lng
	record.Accuracy = accuracy
	record.LastFixAt = at
	record.UpdateCount++
	record.TrustPenalty += penalty
	return true
}

func computeSessionRewards(session *models.GameSession, duration time.Duration) models.SessionRewards {
	r := models.SessionRewards{BasePoints: sessionBasePoints}

	r.DistanceBonus = int64(session.DistanceTraveled / distancePointsPer)
	if r.DistanceBonus > distanceBonusCap {
		r.DistanceBonus = distanceBonusCap
	}
	r.TimeBonus = int64(duration.Minutes()) * timePointsPerMinute
	if r.TimeBonus > timeBonusCap {
		r.TimeBonus = timeBonusCap
	}
	r.DiscoveryBonus = int64(session.PrizesFound) * discoveryPointsEach
	if r.DiscoveryBonus > discoveryBonusCap {
		r.DiscoveryBonus = discoveryBonusCap
	}
	r.Total = r.BasePoints + r.DistanceBonus + r.TimeBonus + r.DiscoveryBonus
	return r
}
