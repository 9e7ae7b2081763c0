// handlers/session_routes.go
package handlers

import (
	"treasure-hunt-system/middleware"
	"treasure-hunt-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupSessionRoutes(app *fiber.App, sessionService *services.SessionService) {
	// 🔐 Secured routes — require user context (userID, roles) from Gateway
	secured := app.Group("/s/sessions", middleware.UserContextMiddleware())

	secured.Post("/", sessionService.StartSession)
	secured.Get("/:id", sessionService.GetSession)
	secured.Post("/:id/location", sessionService.UpdateLocation)
	secured.Post("/:id/end", sessionService.EndSession)
}
