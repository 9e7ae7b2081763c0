// services/map_service.go
package services

import (
	"log"
	"strconv"
	"time"

	"treasure-hunt-system/models"
	"treasure-hunt-system/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const mapResultCap = 100

// MapService serves the client's map view: active prizes within a bounding
// box or a radius around a center. Radius queries go through the proximity
// index; box queries hit the prize table directly (the index buckets by
// point+radius, not boxes).
type MapService struct {
	DB        *gorm.DB
	Settings  *SettingsService
	Proximity *ProximityIndex
}

func NewMapService(db *gorm.DB, settings *SettingsService, proximity *ProximityIndex) *MapService {
	return &MapService{DB: db, Settings: settings, Proximity: proximity}
}

// GetMap accepts either ?north=&south=&east=&west= or ?lat=&lng=&radius=.
func (s *MapService) GetMap(c *fiber.Ctx) error {
	if c.Query("lat") != "" {
		return s.mapByRadius(c)
	}
	return s.mapByBounds(c)
}

func (s *MapService) mapByRadius(c *fiber.Ctx) error {
	lat, err1 := strconv.ParseFloat(c.Query("lat"), 64)
	lng, err2 := strconv.ParseFloat(c.Query("lng"), 64)
	radius, err3 := strconv.ParseFloat(c.Query("radius", "1000"), 64)
	if err1 != nil || err2 != nil || err3 != nil || !utils.ValidCoordinate(lat, lng) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid lat/lng/radius"})
	}
	if radius <= 0 || radius > 50000 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "radius must be in (0, 50000]"})
	}

	prizes := s.Proximity.Query(lat, lng, radius, mapResultCap)
	return c.JSON(fiber.Map{"prizes": prizes, "count": len(prizes)})
}

func (s *MapService) mapByBounds(c *fiber.Ctx) error {
	north, err1 := strconv.ParseFloat(c.Query("north"), 64)
	south, err2 := strconv.ParseFloat(c.Query("south"), 64)
	east, err3 := strconv.ParseFloat(c.Query("east"), 64)
	west, err4 := strconv.ParseFloat(c.Query("west"), 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bounds or lat/lng/radius required"})
	}
	bounds := utils.Bounds{North: north, South: south, East: east, West: west}
	if bounds.North < bounds.South ||
		!utils.ValidCoordinate(bounds.North, bounds.East) ||
		!utils.ValidCoordinate(bounds.South, bounds.West) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid bounds"})
	}

	now := time.Now()
	query := s.DB.Where("status = ? AND expires_at > ? AND claim_count < max_claims", models.PrizeStatusActive, now).
		Where("latitude BETWEEN ? AND ?", bounds.South, bounds.North)
	if bounds.East < bounds.West {
		// Box crosses the antimeridian
		query = query.Where("longitude >= ? OR longitude <= ?", bounds.West, bounds.East)
	} else {
		query = query.Where("longitude BETWEEN ? AND ?", bounds.West, bounds.East)
	}

	var prizes []models.Prize
	if err := query.Limit(mapResultCap).Find(&prizes).Error; err != nil {
		log.Printf("DB Error fetching map prizes: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "map query failed, retry"})
	}

	markers := make([]fiber.Map, 0, len(prizes))
	for _, p := range prizes {
		markers = append(markers, fiber.Map{
			"prize_id":       p.ID,
			"name":           p.Name,
			"category":       p.Category,
			"rarity":         p.Rarity,
			"point_value":    p.PointValue,
			"latitude":       p.Latitude,
			"longitude":      p.Longitude,
			"capture_radius": p.CaptureRadius,
		})
	}
	return c.JSON(fiber.Map{"prizes": markers, "count": len(markers)})
}
