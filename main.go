package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"treasure-hunt-system/handlers"
	"treasure-hunt-system/middleware"
	"treasure-hunt-system/models"
	"treasure-hunt-system/services"
	"treasure-hunt-system/utils"
	"treasure-hunt-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024, // location/claim payloads are small
	})

	// 🔐 GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Session-Token, X-Service-Token, X-Device-ID, Idempotency-Key",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Prize{},
		&models.DistributionBatch{},
		&models.GameSession{},
		&models.Claim{},
		&models.PlayerProfile{},
		&models.AuditLog{},
		&models.GameSetting{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	settingsService := services.NewSettingsService(db)
	proximityIndex := services.NewProximityIndex()
	auditService := services.NewAuditService(db)
	antiCheat := services.NewAntiCheatValidator(settingsService)
	sessionService := services.NewSessionService(db, settingsService, antiCheat, proximityIndex, auditService)
	claimService := services.NewClaimService(db, settingsService, antiCheat, proximityIndex, sessionService, auditService)
	distributionService := services.NewDistributionService(db, settingsService, proximityIndex, sessionService, auditService)
	mapService := services.NewMapService(db, settingsService, proximityIndex)

	// The index is a cache: warm it from the prize table before serving.
	if err := proximityIndex.Rebuild(db); err != nil {
		log.Fatal("failed to build proximity index:", err)
	}

	// --- Auth service client for the SSE operator stream ---
	authServiceURL := os.Getenv("AUTH_SERVICE_URL")
	if authServiceURL == "" {
		log.Fatal("AUTH_SERVICE_URL environment variable not set")
	}
	huntServiceToken := os.Getenv("HUNT_SERVICE_TOKEN")
	if huntServiceToken == "" {
		log.Fatal("HUNT_SERVICE_TOKEN environment variable not set")
	}
	authClient := services.NewAuthServiceClient(authServiceURL, huntServiceToken)

	// --- Player profile sync worker ---
	playerSyncClient := workers.NewPlayerSyncClient(db)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go workers.PollPlayers(ctx, playerSyncClient, 30*time.Second)

	services.StartMaintenanceScheduler(db, settingsService, proximityIndex, sessionService, auditService)

	// ✅ Setup routes — enforced Gateway auth + consistent /s/ prefix
	handlers.SetupSessionRoutes(app, sessionService)
	handlers.SetupCaptureRoutes(app, claimService)
	handlers.SetupMapRoutes(app, mapService)
	handlers.SetupDistributionRoutes(app, distributionService, settingsService, auditService, authClient)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Player profile sync worker running (every 30s)")
	log.Println("✅ Maintenance scheduler running (expiry, eviction, index rebuild, audit export)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
