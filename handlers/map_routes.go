// handlers/map_routes.go
package handlers

import (
	"treasure-hunt-system/middleware"
	"treasure-hunt-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupMapRoutes(app *fiber.App, mapService *services.MapService) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	// ?lat=&lng=&radius= or ?north=&south=&east=&west=
	secured.Get("/map", mapService.GetMap)
}
