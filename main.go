package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"bimbingan_go/config"
	"bimbingan_go/controllers"
	"bimbingan_go/database"
	"bimbingan_go/database/seeders"
	"bimbingan_go/handlers"
	"bimbingan_go/middleware"
	"bimbingan_go/routes"
	"bimbingan_go/services"
	"bimbingan_go/services/audit"
	"bimbingan_go/services/notifications"
	"bimbingan_go/services/orchestrator"
	"bimbingan_go/services/realtime"
	"bimbingan_go/services/store"
	"bimbingan_go/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
)

const version = "1.0.0"

func init() {
	// Load configuration
	config.LoadConfig()

	// Initialize logging
	setupLogging()

	// Connect to database
	database.Connect()

	if config.AppConfig.SeedOnStart {
		seeders.SeedAll()
	}
}

func main() {
	cfg := config.AppConfig
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Realtime delivery
	registry := realtime.NewRegistry()
	broadcaster := realtime.NewBroadcaster(registry)
	gormStore := store.New(database.DB)

	// Notifications: database + websocket, optionally Redis and LINE
	notifOpts := []notifications.Option{}
	if rc := database.GetRedisClient(); rc != nil {
		notifOpts = append(notifOpts, notifications.WithRedis(rc, cfg.UseRedisNotifications, cfg.NotifDedupeTTL))
	}
	line := services.NewLineMessagingService(cfg.LineChannelSecret, cfg.LineChannelToken, database.DB)
	if line.Enabled() {
		notifOpts = append(notifOpts, notifications.WithPusher(line))
		logrus.Info("LINE push notifications enabled")
	} else {
		logrus.Warn("LINE push disabled: missing LINE_CHANNEL_SECRET or LINE_CHANNEL_ACCESS_TOKEN")
	}
	notifService := notifications.NewService(gormStore, broadcaster, notifOpts...)

	orch := orchestrator.New(gormStore, broadcaster, notifService, orchestrator.Config{
		ChapterCount:   cfg.ChapterCount,
		PersistTimeout: cfg.PersistTimeout,
		FanoutTimeout:  cfg.FanoutTimeout,
	})
	hub := realtime.NewHub(registry, orch, cfg.WSSendBuffer)

	// Activity logs
	recorder := audit.NewRecorder(database.DB, database.GetRedisClient())
	middleware.SetActivityRecorder(recorder)

	deps := routes.Dependencies{
		Orchestrator: orch,
		Hub:          hub,
		History:      gormStore,
		Logs:         recorder,
	}

	// LINE account linking needs the bot for replies and Redis for codes
	if line.Enabled() && database.GetRedisClient() != nil {
		linker := services.NewLineLinker(database.DB, database.GetRedisClient())
		deps.LineLinks = linker
		deps.LineWebhook = handlers.NewLineWebhookHandler(cfg.LineChannelSecret, linker, line)
		logrus.Info("LINE webhook enabled at /line/webhook")
	}

	var archiver *audit.Archiver
	if cfg.ArchiveBucket != "" {
		archiver = audit.NewS3Archiver(ctx, database.DB, cfg.AWSRegion, cfg.ArchiveBucket)
		deps.Archiver = archiver
	}

	// Document uploads; the interface stays nil when S3 is unavailable
	if cfg.S3BucketName != "" {
		uploader, err := storage.NewStorageService()
		if err != nil {
			logrus.WithError(err).Warn("Document storage disabled")
		} else {
			deps.Uploader = uploader
		}
	}

	// Background jobs
	var queue services.QueueFlusher
	if cfg.UseRedisNotifications && database.GetRedisClient() != nil {
		queue = notifService
	}
	var logArchiver services.LogArchiver
	if archiver != nil {
		logArchiver = archiver
	}
	scheduler := services.NewScheduleManager(services.ScheduleConfig{
		FlushBatch:    cfg.NotifFlushBatch,
		AuditFlush:    cfg.AuditFlushSchedule,
		AuditArchive:  cfg.AuditArchiveSchedule,
		RetentionDays: cfg.AuditRetentionDays,
	}, queue, recorder, logArchiver)
	if err := scheduler.Start(); err != nil {
		logrus.WithError(err).Fatal("Failed to start scheduler")
	}

	deps.Health = services.NewHealthService(services.HealthConfig{
		Service:     "Bimbingan API",
		Version:     version,
		Environment: cfg.AppEnv,
		DB:          database.DB,
		Redis:       database.GetRedisClient(),
		QueueMode:   cfg.UseRedisNotifications,
		Workflow: services.WorkflowSettings{
			ChapterCount:   orch.ChapterCount(),
			PersistTimeout: cfg.PersistTimeout,
			FanoutTimeout:  cfg.FanoutTimeout,
			SendBuffer:     cfg.WSSendBuffer,
		},
		Realtime: registry.Stats,
	})

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(cfg.MaxFileSize) + 1<<20,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Custom middleware
	app.Use(middleware.LoggerMiddleware())
	app.Use(middleware.LogActivityMiddleware())

	routes.SetupRoutes(app, deps)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":  "Route not found",
			"path":   c.Path(),
			"method": c.Method(),
		})
	})

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		logrus.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logrus.WithError(err).Error("HTTP shutdown failed")
		}
		scheduler.Stop(shutdownCtx)
		// drain the activity cache before the connections close
		if _, err := recorder.Flush(shutdownCtx, 0); err != nil {
			logrus.WithError(err).Warn("Final activity log flush failed")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"port":    cfg.Port,
		"env":     cfg.AppEnv,
		"version": version,
	}).Info("Server starting")

	if err := app.Listen(":" + cfg.Port); err != nil {
		logrus.WithError(err).Fatal("Failed to start server")
	}
	<-shutdownDone
	database.Close()
}

// setupLogging configures the logging system
func setupLogging() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(config.AppConfig.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	// stdout in development, LOG_FILE otherwise
	if config.AppConfig.AppEnv == "development" || config.AppConfig.LogFile == "" {
		logrus.SetOutput(os.Stdout)
		return
	}
	if err := os.MkdirAll(filepath.Dir(config.AppConfig.LogFile), 0755); err != nil {
		log.Printf("Warning: Could not create logs directory: %v", err)
	}
	file, err := os.OpenFile(config.AppConfig.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err == nil {
		logrus.SetOutput(file)
	}
}

// customErrorHandler handles application errors
func customErrorHandler(c *fiber.Ctx, err error) error {
	code, message := controllers.ErrorStatus(err)

	logrus.WithFields(logrus.Fields{
		"error":  err.Error(),
		"path":   c.Path(),
		"method": c.Method(),
		"ip":     c.IP(),
		"status": code,
	}).Error("Request error")

	return c.Status(code).JSON(fiber.Map{
		"error":  message,
		"code":   code,
		"path":   c.Path(),
		"method": c.Method(),
	})
}
