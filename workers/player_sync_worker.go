package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"treasure-hunt-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PlayerSyncClient polls the profile service for changed players and keeps
// the local PlayerProfile snapshots (username, ban state) current. Identity
// is owned by the profile service; points and claim counters are owned here
// and never touched by the sync.
type PlayerSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewPlayerSyncClient(db *gorm.DB) *PlayerSyncClient {
	baseURL := os.Getenv("PROFILE_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("PROFILE_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("HUNT_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("HUNT_SERVICE_TOKEN environment variable is required for player sync")
	}

	return &PlayerSyncClient{
		BaseURL: baseURL,
		Token:   token,
		DB:      db,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *PlayerSyncClient) GetChangedPlayers(ctx context.Context, since time.Time) ([]models.RemotePlayer, error) {
	since = since.UTC()

	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/players", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	q := u.Query()
	q.Set("since", since.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call profile service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("profile service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Players []models.RemotePlayer `json:"players"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode profile service response: %w", err)
	}

	return response.Players, nil
}

// applyChanges upserts the changed snapshots. Only identity-owned columns are
// written on conflict so local point totals survive the sync.
func (c *PlayerSyncClient) applyChanges(players []models.RemotePlayer) error {
	profiles := make([]models.PlayerProfile, 0, len(players))
	for _, p := range players {
		if p.ExternalID == "" || p.DeletedAt != nil {
			continue
		}
		profiles = append(profiles, models.PlayerProfile{
			ExternalUserID: p.ExternalID,
			Username:       p.Username,
			IsBanned:       p.IsBanned,
		})
	}
	if len(profiles) == 0 {
		return nil
	}

	return c.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "is_banned", "updated_at"}),
	}).Create(&profiles).Error
}

// PollPlayers runs the sync loop until the context is cancelled.
func PollPlayers(ctx context.Context, client *PlayerSyncClient, pollInterval time.Duration) {
	log.Println("Starting player profile polling...")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Player polling stopped.")
			return
		case <-ticker.C:
			pollStart := time.Now().UTC()

			players, err := client.GetChangedPlayers(ctx, lastSyncTime)
			if err != nil {
				log.Printf("❌ Error polling players: %v", err)
				continue
			}

			if len(players) == 0 {
				continue
			}
			log.Printf("📥 Received %d player change(s) from profile service.", len(players))

			if err := client.applyChanges(players); err != nil {
				log.Printf("❌ Error upserting player snapshots: %v", err)
				continue
			}

			lastSyncTime = pollStart
		}
	}
}
