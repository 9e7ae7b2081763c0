// treasure-hunt-system/middleware/sse_auth.go
package middleware

import (
	"log"
	"strings"

	"treasure-hunt-system/services"

	"github.com/gofiber/fiber/v2"
)

// SSEAuthMiddleware validates `token` and `device_id` from query params via
// AuthServiceClient. EventSource clients cannot set headers, so the stream
// endpoints authenticate from the query string instead of the gateway
// context.
//
// Usage:
//   app.Get("/s/admin/distributions/:batch_id/stream", middleware.SSEAuthMiddleware(authClient), distributionService.StreamBatchActivitySSE)
func SSEAuthMiddleware(authClient *services.AuthServiceClient) func(*fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		accessToken := strings.TrimSpace(string(c.Request().URI().QueryArgs().Peek("token")))
		deviceID := strings.TrimSpace(string(c.Request().URI().QueryArgs().Peek("device_id")))

		if accessToken == "" || deviceID == "" {
			log.Printf("[SSEAuth] ❌ Missing query params for %s", c.Path())
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Missing token or device_id in query",
			})
		}

		resp, err := authClient.ValidateToken(accessToken, deviceID)
		if err != nil {
			log.Printf("[SSEAuth] ❌ Validation failed for device %s: %v", deviceID, err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		isAdmin := false
		for _, role := range resp.Roles {
			if role == "admin" || role == "operator" {
				isAdmin = true
				break
			}
		}
		if !isAdmin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "INSUFFICIENT_PERMISSIONS",
			})
		}

		c.Locals("user_id", resp.UserID)
		c.Locals("user_roles", resp.Roles)
		c.Locals("device_id", resp.DeviceID)

		log.Printf("[SSEAuth] ✅ Authenticated operator %s (device %s)", resp.UserID, resp.DeviceID)
		return c.Next()
	}
}
