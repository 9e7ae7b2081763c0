package services

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"treasure-hunt-system/models"
	"treasure-hunt-system/utils"
)

func testPrize(t *testing.T, id string, lat, lng float64) *models.Prize {
	t.Helper()
	return &models.Prize{
		ID:            id,
		Name:          "test prize",
		Category:      models.PrizeCategoryCoin,
		Rarity:        models.RarityCommon,
		PointValue:    100,
		Latitude:      lat,
		Longitude:     lng,
		CaptureRadius: 50,
		MaxClaims:     1,
		ExpiresAt:     time.Now().Add(time.Hour),
		Status:        models.PrizeStatusActive,
	}
}

func TestIndexQuerySortedAndCapped(t *testing.T) {
	idx := NewProximityIndex()
	center := [2]float64{33.5731, -7.5898}

	// Prizes at increasing distances north of center
	for i := 1; i <= 15; i++ {
		lat, lng := utils.Destination(center[0], center[1], float64(i*50), 0)
		idx.Upsert(testPrize(t, fmt.Sprintf("prize-%02d", i), lat, lng))
	}

	results := idx.Query(center[0], center[1], 10000, 10)
	if len(results) != 10 {
		t.Fatalf("got %d results, want capped at 10", len(results))
	}
	if !sort.SliceIsSorted(results, func(i, j int) bool { return results[i].Distance < results[j].Distance }) {
		t.Error("results not sorted by distance ascending")
	}
	if results[0].PrizeID != "prize-01" {
		t.Errorf("nearest = %s, want prize-01", results[0].PrizeID)
	}
}

func TestIndexQueryRadiusFilter(t *testing.T) {
	idx := NewProximityIndex()
	center := [2]float64{33.5731, -7.5898}

	nearLat, nearLng := utils.Destination(center[0], center[1], 100, 0)
	farLat, farLng := utils.Destination(center[0], center[1], 3000, 0)
	idx.Upsert(testPrize(t, "near", nearLat, nearLng))
	idx.Upsert(testPrize(t, "far", farLat, farLng))

	results := idx.Query(center[0], center[1], 1000, 10)
	if len(results) != 1 || results[0].PrizeID != "near" {
		t.Fatalf("expected only the near prize, got %v", results)
	}
}

func TestIndexUpsertMovesEntry(t *testing.T) {
	idx := NewProximityIndex()

	p := testPrize(t, "mover", 33.5731, -7.5898)
	idx.Upsert(p)

	// Move it ~5km away; it must leave the old cell
	p.Latitude, p.Longitude = utils.Destination(33.5731, -7.5898, 5000, 0)
	idx.Upsert(p)

	if idx.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after re-upsert", idx.Len())
	}
	if res := idx.Query(33.5731, -7.5898, 1000, 10); len(res) != 0 {
		t.Errorf("prize still found at old location: %v", res)
	}
	if res := idx.Query(p.Latitude, p.Longitude, 1000, 10); len(res) != 1 {
		t.Errorf("prize not found at new location")
	}
}

func TestIndexRemove(t *testing.T) {
	idx := NewProximityIndex()
	idx.Upsert(testPrize(t, "gone", 33.5731, -7.5898))
	idx.Remove("gone")
	idx.Remove("never-existed") // must not panic

	if idx.Len() != 0 {
		t.Errorf("Len = %d, want 0 after remove", idx.Len())
	}
	if res := idx.Query(33.5731, -7.5898, 1000, 10); len(res) != 0 {
		t.Errorf("removed prize still queryable: %v", res)
	}
}

func TestIndexExpirySkippedAndSwept(t *testing.T) {
	idx := NewProximityIndex()

	expired := testPrize(t, "expired", 33.5731, -7.5898)
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	idx.Upsert(expired)
	idx.Upsert(testPrize(t, "live", 33.5731, -7.5898))

	if res := idx.Query(33.5731, -7.5898, 1000, 10); len(res) != 1 || res[0].PrizeID != "live" {
		t.Fatalf("expired entry leaked into query: %v", res)
	}

	if evicted := idx.Sweep(); evicted != 1 {
		t.Errorf("Sweep evicted %d, want 1", evicted)
	}
	if idx.Len() != 1 {
		t.Errorf("Len = %d after sweep, want 1", idx.Len())
	}
}

func TestIndexUpsertAtClaimCeiling(t *testing.T) {
	idx := NewProximityIndex()

	p := testPrize(t, "drained", 33.5731, -7.5898)
	p.MaxClaims = 2
	idx.Upsert(p)
	if idx.Len() != 1 {
		t.Fatalf("Len = %d, want 1 while claimable", idx.Len())
	}

	// Last claim landed. A rebuild pass re-upserting the still-active row
	// must drop it, not steer players to a prize that can only conflict.
	p.ClaimCount = 2
	idx.Upsert(p)
	if idx.Len() != 0 {
		t.Errorf("Len = %d, want 0 at the claim ceiling", idx.Len())
	}
	if res := idx.Query(33.5731, -7.5898, 1000, 10); len(res) != 0 {
		t.Errorf("exhausted prize still discoverable: %v", res)
	}
}

// Cross-check grid queries against a brute-force scan over random points.
func TestIndexMatchesBruteForce(t *testing.T) {
	idx := NewProximityIndex()
	rng := rand.New(rand.NewSource(42))
	center := [2]float64{33.5731, -7.5898}

	type placed struct {
		id       string
		lat, lng float64
	}
	var all []placed
	for i := 0; i < 500; i++ {
		r := 8000 * rng.Float64()
		theta := rng.Float64() * 2 * 3.141592653589793
		lat, lng := utils.Destination(center[0], center[1], r, theta)
		id := fmt.Sprintf("p-%03d", i)
		idx.Upsert(testPrize(t, id, lat, lng))
		all = append(all, placed{id, lat, lng})
	}

	const radius = 2500.0
	want := map[string]bool{}
	for _, p := range all {
		if utils.Haversine(center[0], center[1], p.lat, p.lng) <= radius {
			want[p.id] = true
		}
	}

	got := idx.Query(center[0], center[1], radius, len(all))
	if len(got) != len(want) {
		t.Fatalf("query returned %d, brute force found %d", len(got), len(want))
	}
	for _, r := range got {
		if !want[r.PrizeID] {
			t.Errorf("query returned %s which brute force excluded (d=%.1f)", r.PrizeID, r.Distance)
		}
	}
}
