package services

import (
	"testing"
	"time"

	"treasure-hunt-system/models"
)

func testSessionService(t *testing.T) *SessionService {
	t.Helper()
	return &SessionService{
		Settings: testSettings(t),
		sessions: make(map[string]*liveSession),
	}
}

func addLiveSession(t *testing.T, s *SessionService, id, userID string, lat, lng float64, expiresAt time.Time) *liveSession {
	t.Helper()
	ls := &liveSession{
		record: models.GameSession{
			ID:        id,
			UserID:    userID,
			DeviceID:  "device-" + id,
			StartedAt: time.Now(),
			Latitude:  lat,
			Longitude: lng,
			LastFixAt: time.Now(),
			Status:    models.SessionStatusActive,
		},
		expiresAt: expiresAt,
	}
	s.mu.Lock()
	s.sessions[id] = ls
	s.mu.Unlock()
	return ls
}

func TestComputeSessionRewards(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		prizes   int
		duration time.Duration
		want     models.SessionRewards
	}{
		{
			name:     "short empty session gets base only",
			distance: 0, prizes: 0, duration: 30 * time.Second,
			want: models.SessionRewards{BasePoints: 10, Total: 10},
		},
		{
			name:     "typical session",
			distance: 1500, prizes: 2, duration: 25 * time.Minute,
			want: models.SessionRewards{BasePoints: 10, DistanceBonus: 15, TimeBonus: 25, DiscoveryBonus: 50, Total: 100},
		},
		{
			name:     "every bonus capped",
			distance: 100000, prizes: 40, duration: 5 * time.Hour,
			want: models.SessionRewards{BasePoints: 10, DistanceBonus: 200, TimeBonus: 60, DiscoveryBonus: 250, Total: 520},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &models.GameSession{
				DistanceTraveled: tt.distance,
				PrizesFound:      tt.prizes,
			}
			got := computeSessionRewards(session, tt.duration)
			if got != tt.want {
				t.Errorf("computeSessionRewards = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEvictStale(t *testing.T) {
	s := testSessionService(t)
	now := time.Now()

	addLiveSession(t, s, "fresh", "user-a", 33.5, -7.5, now.Add(time.Hour))
	addLiveSession(t, s, "stale-1", "user-b", 33.5, -7.5, now.Add(-time.Minute))
	addLiveSession(t, s, "stale-2", "user-c", 33.5, -7.5, now.Add(-time.Hour))

	if evicted := s.EvictStale(); evicted != 2 {
		t.Errorf("EvictStale = %d, want 2", evicted)
	}
	if s.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d after eviction, want 1", s.ActiveCount())
	}
	if s.get("fresh") == nil {
		t.Error("fresh session was evicted")
	}
	if s.get("stale-1") != nil || s.get("stale-2") != nil {
		t.Error("stale session survived eviction")
	}
}

func TestActiveNear(t *testing.T) {
	s := testSessionService(t)
	expires := time.Now().Add(time.Hour)

	addLiveSession(t, s, "s1", "user-a", 33.5731, -7.5898, expires)
	addLiveSession(t, s, "s2", "user-b", 33.5740, -7.5898, expires) // ~100m away
	addLiveSession(t, s, "s3", "user-c", 34.5, -7.5898, expires)    // ~100km away

	if got := s.ActiveNear(33.5731, -7.5898, 2000); got != 2 {
		t.Errorf("ActiveNear(2km) = %d, want 2", got)
	}
	if got := s.ActiveNear(33.5731, -7.5898, 10); got != 1 {
		t.Errorf("ActiveNear(10m) = %d, want 1", got)
	}
}

func TestLastFixForUser(t *testing.T) {
	s := testSessionService(t)
	expires := time.Now().Add(time.Hour)

	addLiveSession(t, s, "s1", "user-a", 33.5731, -7.5898, expires)

	lat, lng, at, deviceID, ok := s.LastFixForUser("user-a")
	if !ok {
		t.Fatal("expected a fix for user-a")
	}
	if lat != 33.5731 || lng != -7.5898 {
		t.Errorf("fix = (%v, %v), want (33.5731, -7.5898)", lat, lng)
	}
	if at.IsZero() || deviceID != "device-s1" {
		t.Errorf("at=%v device=%s, want recent timestamp and device-s1", at, deviceID)
	}

	if _, _, _, _, ok := s.LastFixForUser("nobody"); ok {
		t.Error("expected no fix for unknown user")
	}

	// Completed sessions don't count.
	ended := addLiveSession(t, s, "s2", "user-b", 33.5, -7.5, expires)
	ended.record.Status = models.SessionStatusCompleted
	if _, _, _, _, ok := s.LastFixForUser("user-b"); ok {
		t.Error("completed session still reported a fix")
	}
}

func TestApplyFix(t *testing.T) {
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	record := models.GameSession{
		Latitude:  33.5731,
		Longitude: -7.5898,
		LastFixAt: base,
		Status:    models.SessionStatusActive,
	}

	// In-order fix: moves the session, accumulates ~50m
	if !applyFix(&record, 33.57355, -7.5898, 8, base.Add(30*time.Second), 0) {
		t.Fatal("in-order fix rejected")
	}
	if record.DistanceTraveled < 49 || record.DistanceTraveled > 51 {
		t.Errorf("DistanceTraveled = %.2f, want ≈ 50", record.DistanceTraveled)
	}
	if record.UpdateCount != 1 {
		t.Errorf("UpdateCount = %d, want 1", record.UpdateCount)
	}

	snapshot := record

	// Equal timestamp: stale, nothing changes
	if applyFix(&record, 33.58, -7.58, 5, base.Add(30*time.Second), 0.5) {
		t.Error("equal-timestamp fix accepted")
	}
	// Older timestamp: stale, nothing changes
	if applyFix(&record, 33.58, -7.58, 5, base, 0.5) {
		t.Error("older-timestamp fix accepted")
	}
	if record != snapshot {
		t.Errorf("stale fix mutated the record: %+v", record)
	}

	// A later fix resumes; distance only ever grows, even moving back
	if !applyFix(&record, 33.5731, -7.5898, 8, base.Add(60*time.Second), 0) {
		t.Fatal("later fix rejected")
	}
	if record.DistanceTraveled <= snapshot.DistanceTraveled {
		t.Errorf("DistanceTraveled = %.2f, must exceed %.2f after moving back",
			record.DistanceTraveled, snapshot.DistanceTraveled)
	}
}

func TestEndSessionRetryAfterFailedPersist(t *testing.T) {
	ls := &liveSession{record: models.GameSession{
		ID:     "s1",
		UserID: "user-a",
		Status: models.SessionStatusActive,
	}}
	now := time.Now()

	record, ok := ls.beginEnd(now)
	if !ok {
		t.Fatal("could not start ending an active session")
	}
	if record.Status != models.SessionStatusCompleted || record.EndedAt == nil {
		t.Errorf("snapshot not finalized: %+v", record)
	}

	// A concurrent end is blocked while this one is in flight
	if _, ok := ls.beginEnd(now); ok {
		t.Error("second end started while one is in flight")
	}

	// Persist failed: revert, so the retry the client gets a 500 for works
	ls.abortEnd()
	if ls.record.Status != models.SessionStatusActive || ls.record.EndedAt != nil {
		t.Fatalf("revert left the session unretryable: %+v", ls.record)
	}
	if _, ok := ls.beginEnd(now); !ok {
		t.Error("retry after revert could not end the session")
	}
}

func TestRecordClaimAttempt(t *testing.T) {
	s := testSessionService(t)
	ls := addLiveSession(t, s, "s1", "user-a", 33.5, -7.5, time.Now().Add(time.Hour))

	s.RecordClaimAttempt("user-a", false)
	s.RecordClaimAttempt("user-a", true)
	s.RecordClaimAttempt("nobody", true) // no live session, no-op

	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.record.ClaimAttempts != 2 {
		t.Errorf("ClaimAttempts = %d, want 2", ls.record.ClaimAttempts)
	}
	if ls.record.PrizesFound != 1 {
		t.Errorf("PrizesFound = %d, want 1", ls.record.PrizesFound)
	}
}
