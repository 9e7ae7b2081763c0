// services/scheduler.go
package services

import (
	"log"
	"time"

	"treasure-hunt-system/models"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

const sessionRowRetention = 24 * time.Hour

// StartMaintenanceScheduler wires all periodic jobs: prize expiry, index
// sweep/rebuild, session eviction, settings refresh, audit export, and
// session-row retention cleanup.
func StartMaintenanceScheduler(db *gorm.DB, settings *SettingsService, proximity *ProximityIndex, sessions *SessionService, audit *AuditService) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every minute: soft-expire prizes past their expiry and sweep the index
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			now := time.Now()
			res := db.Model(&models.Prize{}).
				Where("status IN ? AND expires_at <= ?",
					[]models.PrizeStatus{models.PrizeStatusActive, models.PrizeStatusPaused}, now).
				Update("status", models.PrizeStatusExpired)
			if res.Error != nil {
				log.Printf("[Scheduler] prize expiry error: %v", res.Error)
				return
			}
			if res.RowsAffected > 0 {
				log.Printf("✅ Expired %d prizes", res.RowsAffected)
			}
			if evicted := proximity.Sweep(); evicted > 0 {
				log.Printf("[Scheduler] swept %d expired index entries", evicted)
			}
		}),
	)

	// Every minute: drop sessions whose TTL lapsed
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			sessions.EvictStale()
		}),
	)

	// Every 30s: refresh hot tunables from the settings table
	_, _ = sched.NewJob(
		gocron.DurationJob(30*time.Second),
		gocron.NewTask(func() {
			if err := settings.Reload(); err != nil {
				log.Printf("[Scheduler] settings reload error: %v", err)
			}
		}),
	)

	// Every 5 minutes: ship the audit window to R2
	_, _ = sched.NewJob(
		gocron.DurationJob(5*time.Minute),
		gocron.NewTask(func() {
			if err := audit.ExportWindow(); err != nil {
				log.Printf("[Scheduler] audit export error: %v", err)
			}
		}),
	)

	// Hourly: rebuild the index from the prize table to shed any drift
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(func() {
			if err := proximity.Rebuild(db); err != nil {
				log.Printf("[Scheduler] index rebuild error: %v", err)
			}
		}),
	)

	// Daily: purge session rows past the audit retention window
	_, _ = sched.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			if err := sessions.PurgeOldRows(sessionRowRetention); err != nil {
				log.Printf("[Scheduler] session purge error: %v", err)
			}
		}),
	)
}
