// handlers/distribution_routes.go
package handlers

import (
	"treasure-hunt-system/middleware"
	"treasure-hunt-system/models"
	"treasure-hunt-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupDistributionRoutes(app *fiber.App, distributionService *services.DistributionService, settingsService *services.SettingsService, auditService *services.AuditService, authClient *services.AuthServiceClient) {
	admin := app.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireAdmin())

	admin.Post("/distributions/single", distributionService.PlaceSingle)
	admin.Post("/distributions/bulk", distributionService.PlaceBulk)
	admin.Post("/distributions/auto", distributionService.PlaceAuto)
	admin.Get("/distributions/:batch_id", distributionService.GetBatch)
	admin.Post("/distributions/:batch_id/manage", distributionService.ManageBatch)

	// Hot tunables
	admin.Post("/settings", func(c *fiber.Ctx) error {
		adminID := c.Locals("user_id").(string)
		var updates map[string]string
		if err := c.BodyParser(&updates); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		current, err := settingsService.Update(updates, adminID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update settings"})
		}
		auditService.Record(models.AuditSettingsChange, adminID, "game_settings", updates)
		return c.JSON(fiber.Map{"message": "Settings updated", "settings": current})
	})

	// EventSource cannot send headers, so the live stream authenticates via
	// query-param token against the auth service instead of gateway context.
	app.Get("/s/admin/distributions/:batch_id/stream",
		middleware.SSEAuthMiddleware(authClient),
		distributionService.StreamBatchActivitySSE)
}
