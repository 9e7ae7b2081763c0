// services/distribution_service.go
package services

import (
	"errors"
	"log"
	"math"
	"math/rand"
	"time"

	"treasure-hunt-system/models"
	"treasure-hunt-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

var ErrBatchNotFound = errors.New("BATCH_NOT_FOUND")

// Bulk placement throttling: brief pause every N creates so a large batch
// doesn't hammer the store and the index in one burst.
const (
	bulkThrottleEvery = 25
	bulkThrottleDelay = 50 * time.Millisecond
)

// samplerAttemptFactor bounds the auto-placement rejection sampler:
// maxAttempts = factor × requested count. Acceptance probability degrades as
// the accepted set fills the region, so without this cap a dense request
// could spin forever. The sampler is best-effort, not a maximal packing —
// fewer points than requested is a valid outcome.
const samplerAttemptFactor = 10

// DistributionService places prizes (single, bulk, region-auto) and manages
// live placements per batch. Every placement registers in the proximity
// index; management actions keep the index in step.
type DistributionService struct {
	DB        *gorm.DB
	Settings  *SettingsService
	Proximity *ProximityIndex
	Sessions  *SessionService
	Audit     *AuditService
}

func NewDistributionService(db *gorm.DB, settings *SettingsService, proximity *ProximityIndex, sessions *SessionService, audit *AuditService) *DistributionService {
	return &DistributionService{
		DB:        db,
		Settings:  settings,
		Proximity: proximity,
		Sessions:  sessions,
		Audit:     audit,
	}
}

// PrizeTemplate is the admin-supplied blueprint a placement stamps out.
type PrizeTemplate struct {
	Name          string               `json:"name"`
	Category      models.PrizeCategory `json:"category"`
	Rarity        int                  `json:"rarity"`
	PointValue    int64                `json:"point_value"`
	CaptureRadius float64              `json:"capture_radius"`
	MaxClaims     int64                `json:"max_claims"`
	PartnerID     *string              `json:"partner_id,omitempty"`
}

func (t *PrizeTemplate) normalize(cfg GameTunables) error {
	if t.Name == "" {
		return errors.New("template name is required")
	}
	if t.PointValue <= 0 {
		return errors.New("point_value must be positive")
	}
	if t.Rarity < models.RarityCommon || t.Rarity > models.RarityLegendary {
		t.Rarity = models.RarityCommon
	}
	if t.CaptureRadius <= 0 {
		t.CaptureRadius = cfg.DefaultRadius
	}
	if t.MaxClaims <= 0 {
		t.MaxClaims = 1
	}
	if t.Category == "" {
		t.Category = models.PrizeCategoryCoin
	}
	return nil
}

type placePoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// buildPrize stamps one prize from the template with the batch's variation
// mode applied.
func (s *DistributionService) buildPrize(template PrizeTemplate, mode models.DistributionMode, p placePoint, expiresAt time.Time, batchID *string) models.Prize {
	points := template.PointValue
	rarity := template.Rarity

	switch mode {
	case models.ModeRandomVariation:
		// ±20% point jitter, ±1 rarity tier, clamped.
		jitter := 0.8 + rand.Float64()*0.4
		points = int64(math.Max(1, float64(points)*jitter))
		rarity += rand.Intn(3) - 1
		if rarity < models.RarityCommon {
			rarity = models.RarityCommon
		}
		if rarity > models.RarityLegendary {
			rarity = models.RarityLegendary
		}
	case models.ModeScaledByDensity:
		// Busier areas get smaller prizes so value spreads outward.
		points = int64(math.Max(1, float64(points)*s.densityMultiplier(p.Latitude, p.Longitude)))
	}

	return models.Prize{
		ID:            uuid.NewString(),
		Name:          template.Name,
		Category:      template.Category,
		Rarity:        rarity,
		PointValue:    points,
		Latitude:      p.Latitude,
		Longitude:     p.Longitude,
		CaptureRadius: template.CaptureRadius,
		MaxClaims:     template.MaxClaims,
		ExpiresAt:     expiresAt,
		Status:        models.PrizeStatusActive,
		PartnerID:     template.PartnerID,
		BatchID:       batchID,
	}
}

// densityMultiplier maps local player activity to a point-value scale in
// [0.6, 1.4]. Falls back to neutral when the session tracker sees nobody.
func (s *DistributionService) densityMultiplier(lat, lng float64) float64 {
	active := s.Sessions.ActiveNear(lat, lng, 2000)
	if active <= 0 {
		return 1.0
	}
	m := 1.4 - float64(active)*0.04
	if m < 0.6 {
		m = 0.6
	}
	return m
}

// estimateDiscovery is a heuristic, not a guarantee: more active players
// nearby means the prize is found sooner.
func (s *DistributionService) estimateDiscovery(lat, lng float64) time.Duration {
	active := s.Sessions.ActiveNear(lat, lng, 2000)
	if active <= 0 {
		return 6 * time.Hour
	}
	est := 6 * time.Hour / time.Duration(active+1)
	if est < 5*time.Minute {
		est = 5 * time.Minute
	}
	return est
}

// --- Handlers ---

// PlaceSingle creates one prize at a location.
func (s *DistributionService) PlaceSingle(c *fiber.Ctx) error {
	adminID := c.Locals("user_id").(string)

	var req struct {
		Latitude        float64       `json:"latitude"`
		Longitude       float64       `json:"longitude"`
		Template        PrizeTemplate `json:"template"`
		DurationSeconds int           `json:"duration_seconds"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if !utils.ValidCoordinate(req.Latitude, req.Longitude) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid coordinates"})
	}
	cfg := s.Settings.Get()
	if err := req.Template.normalize(cfg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if req.DurationSeconds <= 0 {
		req.DurationSeconds = 24 * 3600
	}

	expiresAt := time.Now().Add(time.Duration(req.DurationSeconds) * time.Second)
	prize := s.buildPrize(req.Template, models.ModeIdentical, placePoint{req.Latitude, req.Longitude}, expiresAt, nil)

	if err := s.DB.Create(&prize).Error; err != nil {
		log.Printf("DB Error placing prize: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to place prize"})
	}
	s.Proximity.Upsert(&prize)

	s.Audit.Record(models.AuditPlaceSingle, adminID, prize.ID, fiber.Map{
		"latitude":   prize.Latitude,
		"longitude":  prize.Longitude,
		"expires_at": expiresAt,
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"prize_id":                 prize.ID,
		"expires_at":               expiresAt,
		"estimated_discovery_secs": int(s.estimateDiscovery(prize.Latitude, prize.Longitude).Seconds()),
	})
}

// PlaceBulk places the template at each given location under one batch.
func (s *DistributionService) PlaceBulk(c *fiber.Ctx) error {
	adminID := c.Locals("user_id").(string)

	var req struct {
		Template        PrizeTemplate           `json:"template"`
		Locations       []placePoint            `json:"locations"`
		Mode            models.DistributionMode `json:"mode"`
		DurationSeconds int                     `json:"duration_seconds"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if len(req.Locations) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "locations is required"})
	}
	for _, p := range req.Locations {
		if !utils.ValidCoordinate(p.Latitude, p.Longitude) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid coordinates"})
		}
	}
	cfg := s.Settings.Get()
	if err := req.Template.normalize(cfg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if req.Mode == "" {
		req.Mode = models.ModeIdentical
	}
	if req.DurationSeconds <= 0 {
		req.DurationSeconds = 24 * 3600
	}

	batch := models.DistributionBatch{
		ID:           uuid.NewString(),
		Slug:         slug.Make(req.Template.Name),
		AdminID:      adminID,
		Mode:         req.Mode,
		TemplateName: req.Template.Name,
		Requested:    len(req.Locations),
		Status:       models.PrizeStatusActive,
	}
	if err := s.DB.Create(&batch).Error; err != nil {
		log.Printf("DB Error creating batch: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create batch"})
	}

	placed := s.placeForBatch(&batch, req.Template, req.Locations, time.Duration(req.DurationSeconds)*time.Second)

	s.Audit.Record(models.AuditPlaceBulk, adminID, batch.ID, fiber.Map{
		"requested": batch.Requested,
		"placed":    placed,
		"mode":      req.Mode,
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"batch_id":  batch.ID,
		"slug":      batch.Slug,
		"requested": batch.Requested,
		"placed":    placed,
	})
}

// placeForBatch walks the location list from the batch's current Placed
// offset, so a retried batch resumes instead of double-placing. Failures on
// individual locations are logged and skipped; already-placed prizes stay
// valid (no rollback).
func (s *DistributionService) placeForBatch(batch *models.DistributionBatch, template PrizeTemplate, locations []placePoint, duration time.Duration) int {
	expiresAt := time.Now().Add(duration)
	placed := batch.Placed

	for i := batch.Placed; i < len(locations); i++ {
		prize := s.buildPrize(template, batch.Mode, locations[i], expiresAt, &batch.ID)
		if err := s.DB.Create(&prize).Error; err != nil {
			log.Printf("❌ [DISTRIBUTION] batch %s: failed to place location %d: %v", batch.ID, i, err)
			continue
		}
		s.Proximity.Upsert(&prize)
		placed++

		if placed > 0 && placed%bulkThrottleEvery == 0 {
			if err := s.DB.Model(batch).Update("placed", placed).Error; err != nil {
				log.Printf("❌ [DISTRIBUTION] batch %s: checkpoint failed: %v", batch.ID, err)
			}
			time.Sleep(bulkThrottleDelay)
		}
	}

	batch.Placed = placed
	if err := s.DB.Model(batch).Update("placed", placed).Error; err != nil {
		log.Printf("❌ [DISTRIBUTION] batch %s: final checkpoint failed: %v", batch.ID, err)
	}
	return placed
}

// SampleRegionPoints draws up to count points uniformly inside the disk
// (polar sampling) keeping every pair at least minDistance apart. Simple
// rejection sampling with two documented limitations: acceptance probability
// drops as the set fills the region (hence the attempt cap), and the result
// is a best-effort spread, not a maximal packing.
func SampleRegionPoints(centerLat, centerLng, radiusMeters, minDistance float64, count int, rng *rand.Rand) []placePoint {
	if count <= 0 || radiusMeters <= 0 {
		return nil
	}
	maxAttempts := samplerAttemptFactor * count
	accepted := make([]placePoint, 0, count)

	for attempts := 0; attempts < maxAttempts && len(accepted) < count; attempts++ {
		// sqrt keeps the distribution uniform over area, not radius.
		r := radiusMeters * math.Sqrt(rng.Float64())
		theta := rng.Float64() * 2 * math.Pi
		lat, lng := utils.Destination(centerLat, centerLng, r, theta)

		ok := true
		for _, p := range accepted {
			if utils.Haversine(lat, lng, p.Latitude, p.Longitude) < minDistance {
				ok = false
				break
			}
		}
		if ok {
			accepted = append(accepted, placePoint{Latitude: lat, Longitude: lng})
		}
	}
	return accepted
}

// PlaceAuto spreads prizes across a circular region at the requested density.
func (s *DistributionService) PlaceAuto(c *fiber.Ctx) error {
	adminID := c.Locals("user_id").(string)

	var req struct {
		CenterLat       float64                 `json:"center_lat"`
		CenterLng       float64                 `json:"center_lng"`
		RadiusMeters    float64                 `json:"radius_meters"`
		PrizesPerSqKm   float64                 `json:"prizes_per_sq_km"`
		MinDistance     float64                 `json:"min_distance"`
		Template        PrizeTemplate           `json:"template"`
		Mode            models.DistributionMode `json:"mode"`
		DurationSeconds int                     `json:"duration_seconds"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if !utils.ValidCoordinate(req.CenterLat, req.CenterLng) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid coordinates"})
	}
	if req.RadiusMeters <= 0 || req.RadiusMeters > 50000 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "radius_meters must be in (0, 50000]"})
	}
	if req.PrizesPerSqKm <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "prizes_per_sq_km must be positive"})
	}
	cfg := s.Settings.Get()
	if err := req.Template.normalize(cfg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if req.MinDistance < 0 {
		req.MinDistance = 0
	}
	if req.Mode == "" {
		req.Mode = models.ModeIdentical
	}
	if req.DurationSeconds <= 0 {
		req.DurationSeconds = 24 * 3600
	}

	areaSqKm := math.Pi * (req.RadiusMeters / 1000) * (req.RadiusMeters / 1000)
	totalCount := int(areaSqKm * req.PrizesPerSqKm)
	if totalCount < 1 {
		totalCount = 1
	}
	if totalCount > 10000 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "requested density exceeds 10000 prizes"})
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	points := SampleRegionPoints(req.CenterLat, req.CenterLng, req.RadiusMeters, req.MinDistance, totalCount, rng)
	if len(points) < totalCount {
		// Valid outcome: the region filled up before the count was met.
		log.Printf("[DISTRIBUTION] auto placement accepted %d/%d points (min_distance=%.0fm)",
			len(points), totalCount, req.MinDistance)
	}

	batch := models.DistributionBatch{
		ID:           uuid.NewString(),
		Slug:         slug.Make(req.Template.Name),
		AdminID:      adminID,
		Mode:         req.Mode,
		TemplateName: req.Template.Name,
		CenterLat:    req.CenterLat,
		CenterLng:    req.CenterLng,
		Radius:       req.RadiusMeters,
		MinDistance:  req.MinDistance,
		Requested:    totalCount,
		Status:       models.PrizeStatusActive,
	}
	if err := s.DB.Create(&batch).Error; err != nil {
		log.Printf("DB Error creating batch: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create batch"})
	}

	placed := s.placeForBatch(&batch, req.Template, points, time.Duration(req.DurationSeconds)*time.Second)

	s.Audit.Record(models.AuditPlaceAuto, adminID, batch.ID, fiber.Map{
		"requested": totalCount,
		"sampled":   len(points),
		"placed":    placed,
		"radius":    req.RadiusMeters,
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"batch_id":  batch.ID,
		"slug":      batch.Slug,
		"requested": totalCount,
		"sampled":   len(points),
		"placed":    placed,
	})
}

// ManageBatch applies one management action to every prize in a batch.
// The batch is checked before any mutation; per-prize updates run in a single
// UPDATE so the action is atomic from the caller's perspective.
func (s *DistributionService) ManageBatch(c *fiber.Ctx) error {
	adminID := c.Locals("user_id").(string)
	batchID := c.Params("batch_id")

	var req struct {
		Action        string `json:"action"` // pause | resume | extend | modify_points | terminate
		ExtendSeconds int    `json:"extend_seconds"`
		NewPointValue int64  `json:"new_point_value"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	var batch models.DistributionBatch
	if err := s.DB.First(&batch, "id = ?", batchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": ErrBatchNotFound.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	if batch.Status == models.PrizeStatusTerminated {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "batch is terminated"})
	}

	var affected int64
	var err error

	switch req.Action {
	case "pause":
		// Paused prizes keep their rows but leave the index, so they stop
		// answering nearby queries without losing claim history.
		res := s.DB.Model(&models.Prize{}).
			Where("batch_id = ? AND status = ?", batchID, models.PrizeStatusActive).
			Update("status", models.PrizeStatusPaused)
		affected, err = res.RowsAffected, res.Error
		if err == nil {
			s.dropBatchFromIndex(batchID)
			err = s.DB.Model(&batch).Update("status", models.PrizeStatusPaused).Error
		}
	case "resume":
		res := s.DB.Model(&models.Prize{}).
			Where("batch_id = ? AND status = ?", batchID, models.PrizeStatusPaused).
			Update("status", models.PrizeStatusActive)
		affected, err = res.RowsAffected, res.Error
		if err == nil {
			s.reindexBatch(batchID)
			err = s.DB.Model(&batch).Update("status", models.PrizeStatusActive).Error
		}
	case "extend":
		if req.ExtendSeconds <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "extend_seconds must be positive"})
		}
		res := s.DB.Model(&models.Prize{}).
			Where("batch_id = ? AND status IN ?", batchID, []models.PrizeStatus{models.PrizeStatusActive, models.PrizeStatusPaused}).
			Update("expires_at", gorm.Expr("expires_at + make_interval(secs => ?)", req.ExtendSeconds))
		affected, err = res.RowsAffected, res.Error
		if err == nil {
			s.reindexBatch(batchID)
		}
	case "modify_points":
		if req.NewPointValue <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "new_point_value must be positive"})
		}
		res := s.DB.Model(&models.Prize{}).
			Where("batch_id = ? AND status IN ?", batchID, []models.PrizeStatus{models.PrizeStatusActive, models.PrizeStatusPaused}).
			Update("point_value", req.NewPointValue)
		affected, err = res.RowsAffected, res.Error
		if err == nil {
			s.reindexBatch(batchID)
		}
	case "terminate":
		res := s.DB.Model(&models.Prize{}).
			Where("batch_id = ? AND status IN ?", batchID, []models.PrizeStatus{models.PrizeStatusActive, models.PrizeStatusPaused}).
			Update("status", models.PrizeStatusTerminated)
		affected, err = res.RowsAffected, res.Error
		if err == nil {
			s.dropBatchFromIndex(batchID)
			err = s.DB.Model(&batch).Update("status", models.PrizeStatusTerminated).Error
		}
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown action"})
	}

	if err != nil {
		log.Printf("DB Error managing batch %s (%s): %v", batchID, req.Action, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to manage batch"})
	}

	s.Audit.Record(models.AuditBatchManage, adminID, batchID, fiber.Map{
		"action":   req.Action,
		"affected": affected,
	})

	return c.JSON(fiber.Map{
		"batch_id": batchID,
		"action":   req.Action,
		"affected": affected,
	})
}

// GetBatch returns a batch with its prize counts.
func (s *DistributionService) GetBatch(c *fiber.Ctx) error {
	batchID := c.Params("batch_id")

	var batch models.DistributionBatch
	if err := s.DB.First(&batch, "id = ?", batchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": ErrBatchNotFound.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	var claimed int64
	s.DB.Model(&models.Prize{}).
		Where("batch_id = ?", batchID).
		Select("COALESCE(SUM(claim_count), 0)").
		Scan(&claimed)

	return c.JSON(fiber.Map{
		"batch":         batch,
		"claimed_total": claimed,
	})
}

func (s *DistributionService) dropBatchFromIndex(batchID string) {
	var ids []string
	if err := s.DB.Model(&models.Prize{}).Where("batch_id = ?", batchID).Pluck("id", &ids).Error; err != nil {
		log.Printf("❌ [DISTRIBUTION] index drop for batch %s failed: %v", batchID, err)
		return
	}
	for _, id := range ids {
		s.Proximity.Remove(id)
	}
}

func (s *DistributionService) reindexBatch(batchID string) {
	var prizes []models.Prize
	now := time.Now()
	if err := s.DB.Where("batch_id = ? AND status = ? AND expires_at > ? AND claim_count < max_claims", batchID, models.PrizeStatusActive, now).
		Find(&prizes).Error; err != nil {
		log.Printf("❌ [DISTRIBUTION] reindex for batch %s failed: %v", batchID, err)
		return
	}
	for i := range prizes {
		s.Proximity.Upsert(&prizes[i])
	}
}
