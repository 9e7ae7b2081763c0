package services

import (
	"math/rand"
	"testing"
	"time"

	"treasure-hunt-system/models"
	"treasure-hunt-system/utils"
)

func TestSampleRegionPointsSeparation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	points := SampleRegionPoints(33.5731, -7.5898, 1000, 20, 50, rng)

	if len(points) > 50 {
		t.Fatalf("accepted %d points, want ≤ 50", len(points))
	}
	// A 20m separation in a 1km disk is easy; expect the full count.
	if len(points) != 50 {
		t.Errorf("accepted %d points, expected all 50 at this density", len(points))
	}

	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			d := utils.Haversine(points[i].Latitude, points[i].Longitude, points[j].Latitude, points[j].Longitude)
			if d < 20 {
				t.Fatalf("points %d and %d are %.2fm apart, want ≥ 20m", i, j, d)
			}
		}
	}
}

func TestSampleRegionPointsInsideRegion(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	points := SampleRegionPoints(33.5731, -7.5898, 500, 0, 200, rng)

	for i, p := range points {
		d := utils.Haversine(33.5731, -7.5898, p.Latitude, p.Longitude)
		if d > 500.5 {
			t.Errorf("point %d is %.1fm from center, outside the 500m region", i, d)
		}
	}
}

func TestSampleRegionPointsTerminatesWhenOverpacked(t *testing.T) {
	// 100m disk cannot hold 1000 points 50m apart; the sampler must stop at
	// its attempt cap and return what it got.
	rng := rand.New(rand.NewSource(3))
	done := make(chan []placePoint, 1)
	go func() {
		done <- SampleRegionPoints(33.5731, -7.5898, 100, 50, 1000, rng)
	}()

	select {
	case points := <-done:
		if len(points) == 0 {
			t.Error("expected at least one accepted point")
		}
		if len(points) >= 1000 {
			t.Errorf("accepted %d points, which cannot satisfy the separation", len(points))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sampler did not terminate within the attempt bound")
	}
}

func TestSampleRegionPointsEmptyInput(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	if got := SampleRegionPoints(0, 0, 1000, 10, 0, rng); got != nil {
		t.Errorf("count 0: got %v, want nil", got)
	}
	if got := SampleRegionPoints(0, 0, 0, 10, 5, rng); got != nil {
		t.Errorf("radius 0: got %v, want nil", got)
	}
}

func TestBuildPrizeIdentical(t *testing.T) {
	s := &DistributionService{}
	template := PrizeTemplate{
		Name: "Gold Coin", Category: models.PrizeCategoryCoin,
		Rarity: models.RarityRare, PointValue: 100, CaptureRadius: 50, MaxClaims: 3,
	}
	expiresAt := time.Now().Add(time.Hour)
	batchID := "batch-1"

	p := s.buildPrize(template, models.ModeIdentical, placePoint{33.5, -7.5}, expiresAt, &batchID)
	if p.PointValue != 100 || p.Rarity != models.RarityRare {
		t.Errorf("identical mode varied the template: points=%d rarity=%d", p.PointValue, p.Rarity)
	}
	if p.Status != models.PrizeStatusActive {
		t.Errorf("Status = %s, want active", p.Status)
	}
	if p.BatchID == nil || *p.BatchID != "batch-1" {
		t.Error("batch id not carried onto prize")
	}
}

func TestBuildPrizeRandomVariationBounds(t *testing.T) {
	s := &DistributionService{}
	template := PrizeTemplate{
		Name: "Gold Coin", Category: models.PrizeCategoryCoin,
		Rarity: models.RarityRare, PointValue: 100, CaptureRadius: 50, MaxClaims: 1,
	}
	expiresAt := time.Now().Add(time.Hour)

	for i := 0; i < 200; i++ {
		p := s.buildPrize(template, models.ModeRandomVariation, placePoint{33.5, -7.5}, expiresAt, nil)
		if p.PointValue < 80 || p.PointValue > 120 {
			t.Fatalf("point value %d outside ±20%% jitter of 100", p.PointValue)
		}
		if p.Rarity < models.RarityCommon || p.Rarity > models.RarityLegendary {
			t.Fatalf("rarity %d outside [%d, %d]", p.Rarity, models.RarityCommon, models.RarityLegendary)
		}
		if p.Rarity < template.Rarity-1 || p.Rarity > template.Rarity+1 {
			t.Fatalf("rarity %d shifted more than one tier from %d", p.Rarity, template.Rarity)
		}
	}
}

func TestBuildPrizeDensityScaling(t *testing.T) {
	// Empty session tracker ⇒ neutral multiplier
	s := &DistributionService{Sessions: &SessionService{sessions: map[string]*liveSession{}}}
	template := PrizeTemplate{Name: "Coin", PointValue: 100, CaptureRadius: 50, MaxClaims: 1, Rarity: 1, Category: models.PrizeCategoryCoin}

	p := s.buildPrize(template, models.ModeScaledByDensity, placePoint{33.5, -7.5}, time.Now().Add(time.Hour), nil)
	if p.PointValue != 100 {
		t.Errorf("density scaling with no players changed points to %d, want 100", p.PointValue)
	}
}

func TestTemplateNormalize(t *testing.T) {
	cfg := defaultTunables

	bad := PrizeTemplate{PointValue: 10}
	if err := bad.normalize(cfg); err == nil {
		t.Error("expected error for missing name")
	}

	tpl := PrizeTemplate{Name: "Coin", PointValue: 10, Rarity: 99}
	if err := tpl.normalize(cfg); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if tpl.Rarity != models.RarityCommon {
		t.Errorf("out-of-range rarity = %d, want clamped to common", tpl.Rarity)
	}
	if tpl.CaptureRadius != cfg.DefaultRadius {
		t.Errorf("CaptureRadius = %v, want default %v", tpl.CaptureRadius, cfg.DefaultRadius)
	}
	if tpl.MaxClaims != 1 {
		t.Errorf("MaxClaims = %d, want 1", tpl.MaxClaims)
	}
}
