// services/audit.go
package services

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"treasure-hunt-system/models"
	"treasure-hunt-system/utils"

	"gorm.io/gorm"
)

// AuditService is the sink every state-changing operation reports to.
// Writes are best-effort from the caller's perspective: a failed audit write
// is logged, never propagated into the player-facing path.
type AuditService struct {
	DB *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{DB: db}
}

// Record writes one audit row. detail is serialized to JSON; a nil detail
// writes an empty payload.
func (s *AuditService) Record(action models.AuditAction, actorID, subjectID string, detail interface{}) {
	payload := ""
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			payload = string(b)
		}
	}
	entry := models.AuditLog{
		Action:    action,
		ActorID:   actorID,
		SubjectID: subjectID,
		Detail:    payload,
	}
	if err := s.DB.Create(&entry).Error; err != nil {
		log.Printf("❌ [AUDIT] failed to record %s for %s: %v", action, subjectID, err)
	}
}

// ExportWindow uploads all unexported audit rows as one JSON object to R2 and
// marks them exported. Run periodically by the scheduler; analytics reads the
// archive, never this table.
func (s *AuditService) ExportWindow() error {
	var rows []models.AuditLog
	if err := s.DB.Where("exported = ?", false).
		Order("created_at ASC").
		Limit(5000).
		Find(&rows).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"exported_at": time.Now().UTC(),
		"count":       len(rows),
		"entries":     rows,
	})
	if err != nil {
		return err
	}

	key := fmt.Sprintf("audit/%s-%d.json", time.Now().UTC().Format("2006-01-02T15-04-05"), len(rows))
	if _, err := utils.UploadBytesToR2(body, key, "application/json"); err != nil {
		return fmt.Errorf("audit archive upload failed: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	if err := s.DB.Model(&models.AuditLog{}).
		Where("id IN ?", ids).
		Update("exported", true).Error; err != nil {
		return err
	}

	log.Printf("📦 [AUDIT] exported %d entries to %s", len(rows), key)
	return nil
}
