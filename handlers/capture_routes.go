// handlers/capture_routes.go
package handlers

import (
	"treasure-hunt-system/middleware"
	"treasure-hunt-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupCaptureRoutes(app *fiber.App, claimService *services.ClaimService) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Post("/prizes/:prize_id/capture", claimService.AttemptCapture)
	secured.Get("/claims", claimService.ListUserClaims)
	secured.Get("/claims/:id", claimService.GetClaim)

	// Admin override — overlay annotation only, original checks untouched
	admin := app.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireAdmin())
	admin.Post("/claims/:id/override", claimService.OverrideClaim)
}
