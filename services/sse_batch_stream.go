// services/sse_batch_stream.go
package services

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"treasure-hunt-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// StreamBatchActivitySSE streams new claims against a batch's prizes to the
// operator dashboard in real time.
func (s *DistributionService) StreamBatchActivitySSE(c *fiber.Ctx) error {
	batchID := c.Params("batch_id")

	var batch models.DistributionBatch
	if err := s.DB.First(&batch, "id = ?", batchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": ErrBatchNotFound.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	db := s.DB

	// Use fasthttp stream writer (THIS replaces Flush)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		cursor := time.Now()

		for range ticker.C {
			var claims []models.Claim
			err := db.
				Joins("JOIN prizes ON prizes.id = claims.prize_id").
				Where("prizes.batch_id = ? AND claims.claimed_at > ?", batchID, cursor).
				Order("claims.claimed_at ASC").
				Limit(100).
				Find(&claims).Error
			if err != nil {
				log.Printf("[SSE] batch %s claim poll error: %v", batchID, err)
				continue
			}

			if len(claims) == 0 {
				// keep-alive comment so proxies don't drop the connection
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
				continue
			}

			cursor = claims[len(claims)-1].ClaimedAt
			for _, claim := range claims {
				payload, err := json.Marshal(fiber.Map{
					"claim_id":       claim.ID,
					"prize_id":       claim.PrizeID,
					"user_id":        claim.UserID,
					"success":        claim.Success,
					"points_awarded": claim.PointsAwarded,
					"claimed_at":     claim.ClaimedAt,
				})
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "event: claim\ndata: %s\n\n", payload); err != nil {
					return
				}
			}
			if err := w.Flush(); err != nil {
				// Client disconnected
				return
			}
		}
	})

	return nil
}
