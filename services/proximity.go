// services/proximity.go
package services

import (
	"log"
	"sort"
	"sync"
	"time"

	"treasure-hunt-system/models"
	"treasure-hunt-system/utils"

	"gorm.io/gorm"
)

// ProximityIndex answers "what is near point P" for active prizes. It is a
// cache, not the source of truth: Rebuild regenerates it from the prize table
// at any time, and a missed entry only means a prize is briefly
// undiscoverable. Scarcity decisions never read this index.
//
// Entries are bucketed into ~1.1km lat/lng grid cells; a radius query scans
// the cells overlapping the search circle and ranks candidates by haversine
// distance. At tens of thousands of active prizes a query touches a handful
// of cells and stays well under a millisecond.
type ProximityIndex struct {
	mu      sync.RWMutex
	entries map[string]*indexEntry          // prize id → entry
	cells   map[cellKey]map[string]struct{} // grid cell → prize ids
}

const cellSizeDeg = 0.01

type cellKey struct {
	Lat int32
	Lng int32
}

type indexEntry struct {
	PrizeID    string
	Lat        float64
	Lng        float64
	Name       string
	Category   models.PrizeCategory
	Rarity     int
	PointValue int64
	Radius     float64
	ExpiresAt  time.Time
}

// NearbyPrize is one radius-query result, distance ascending.
type NearbyPrize struct {
	PrizeID       string               `json:"prize_id"`
	Name          string               `json:"name"`
	Category      models.PrizeCategory `json:"category"`
	Rarity        int                  `json:"rarity"`
	PointValue    int64                `json:"point_value"`
	Latitude      float64              `json:"latitude"`
	Longitude     float64              `json:"longitude"`
	CaptureRadius float64              `json:"capture_radius"`
	Distance      float64              `json:"distance"` // meters from query center
}

func NewProximityIndex() *ProximityIndex {
	return &ProximityIndex{
		entries: make(map[string]*indexEntry),
		cells:   make(map[cellKey]map[string]struct{}),
	}
}

func cellOf(lat, lng float64) cellKey {
	return cellKey{Lat: int32(lat / cellSizeDeg), Lng: int32(lng / cellSizeDeg)}
}

// Upsert inserts or moves a prize entry. Idempotent. A prize at its claim
// ceiling is removed instead of inserted, so rebuild passes can never
// resurrect an exhausted prize into discovery results.
func (idx *ProximityIndex) Upsert(p *models.Prize) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if old, ok := idx.entries[p.ID]; ok {
		idx.removeFromCellLocked(p.ID, cellOf(old.Lat, old.Lng))
		delete(idx.entries, p.ID)
	}
	if p.MaxClaims > 0 && p.ClaimCount >= p.MaxClaims {
		return
	}
	entry := &indexEntry{
		PrizeID:    p.ID,
		Lat:        p.Latitude,
		Lng:        p.Longitude,
		Name:       p.Name,
		Category:   p.Category,
		Rarity:     p.Rarity,
		PointValue: p.PointValue,
		Radius:     p.CaptureRadius,
		ExpiresAt:  p.ExpiresAt,
	}
	idx.entries[p.ID] = entry
	key := cellOf(p.Latitude, p.Longitude)
	if idx.cells[key] == nil {
		idx.cells[key] = make(map[string]struct{})
	}
	idx.cells[key][p.ID] = struct{}{}
}

// Remove drops a prize from the index. Safe to call for unknown ids.
func (idx *ProximityIndex) Remove(prizeID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	entry, ok := idx.entries[prizeID]
	if !ok {
		return
	}
	idx.removeFromCellLocked(prizeID, cellOf(entry.Lat, entry.Lng))
	delete(idx.entries, prizeID)
}

func (idx *ProximityIndex) removeFromCellLocked(prizeID string, key cellKey) {
	if ids, ok := idx.cells[key]; ok {
		delete(ids, prizeID)
		if len(ids) == 0 {
			delete(idx.cells, key)
		}
	}
}

// Query returns up to cap entries within radiusMeters of the center, sorted
// by distance ascending. Expired entries are skipped (and left for the sweep).
func (idx *ProximityIndex) Query(lat, lng, radiusMeters float64, cap int) []NearbyPrize {
	if cap <= 0 {
		cap = 10
	}
	now := time.Now()

	// Cell span that covers the search circle. A degree of latitude is
	// ~111km; longitude shrinks with cos(lat) but scanning a slightly wider
	// band is cheaper than being clever near the poles.
	cellRange := int32(radiusMeters/(cellSizeDeg*111000)) + 1
	center := cellOf(lat, lng)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var results []NearbyPrize
	for dLat := -cellRange; dLat <= cellRange; dLat++ {
		for dLng := -cellRange; dLng <= cellRange; dLng++ {
			key := cellKey{Lat: center.Lat + dLat, Lng: center.Lng + dLng}
			for id := range idx.cells[key] {
				entry := idx.entries[id]
				if entry == nil || now.After(entry.ExpiresAt) {
					continue
				}
				d := utils.Haversine(lat, lng, entry.Lat, entry.Lng)
				if d > radiusMeters {
					continue
				}
				results = append(results, NearbyPrize{
					PrizeID:       entry.PrizeID,
					Name:          entry.Name,
					Category:      entry.Category,
					Rarity:        entry.Rarity,
					PointValue:    entry.PointValue,
					Latitude:      entry.Lat,
					Longitude:     entry.Lng,
					CaptureRadius: entry.Radius,
					Distance:      d,
				})
			}
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > cap {
		results = results[:cap]
	}
	return results
}

// Len reports the number of live entries (expired included until swept).
func (idx *ProximityIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Sweep evicts entries past their expiry. Run periodically by the scheduler.
func (idx *ProximityIndex) Sweep() int {
	now := time.Now()
	idx.mu.Lock()
	defer idx.mu.Unlock()
	evicted := 0
	for id, entry := range idx.entries {
		if now.After(entry.ExpiresAt) {
			idx.removeFromCellLocked(id, cellOf(entry.Lat, entry.Lng))
			delete(idx.entries, id)
			evicted++
		}
	}
	return evicted
}

// Rebuild repopulates the index from the prize table. The index is a cache;
// this is its documented recovery path after restart or drift.
func (idx *ProximityIndex) Rebuild(db *gorm.DB) error {
	var prizes []models.Prize
	now := time.Now()
	if err := db.Where("status = ? AND expires_at > ? AND claim_count < max_claims", models.PrizeStatusActive, now).
		Find(&prizes).Error; err != nil {
		return err
	}

	idx.mu.Lock()
	idx.entries = make(map[string]*indexEntry, len(prizes))
	idx.cells = make(map[cellKey]map[string]struct{})
	idx.mu.Unlock()

	for i := range prizes {
		idx.Upsert(&prizes[i])
	}
	log.Printf("[PROXIMITY] index rebuilt with %d active prizes", len(prizes))
	return nil
}
