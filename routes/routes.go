package routes

import (
	"bimbingan_go/controllers"
	"bimbingan_go/handlers"
	"bimbingan_go/middleware"
	"bimbingan_go/services"
	"bimbingan_go/services/orchestrator"
	"bimbingan_go/services/realtime"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
)

// Dependencies are the long-lived services the handlers are built on.
type Dependencies struct {
	Orchestrator *orchestrator.Orchestrator
	Hub          *realtime.Hub
	Health       *services.HealthService
	// Uploader is nil when S3 is not configured; upload endpoints answer 503.
	Uploader controllers.DocumentUploader
	History  controllers.HistoryStore
	Logs     controllers.LogFlusher
	Archiver controllers.LogArchiver
	// LineLinks and LineWebhook are nil when LINE is not configured.
	LineLinks   controllers.LineLinkIssuer
	LineWebhook *handlers.LineWebhookHandler
}

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, deps Dependencies) {
	// Initialize controllers
	authController := controllers.NewAuthController(deps.LineLinks)
	userController := &controllers.UserController{}
	notificationController := &controllers.NotificationController{}
	submissionController := controllers.NewSubmissionController(deps.Orchestrator, deps.Uploader)
	chapterController := controllers.NewChapterController(deps.Orchestrator, deps.Uploader, deps.History)
	finalReportController := controllers.NewFinalReportController(deps.Orchestrator, deps.Uploader, deps.History)
	messageController := controllers.NewMessageController(deps.Orchestrator, deps.Uploader)
	logController := controllers.NewLogController(deps.Logs, deps.Archiver)
	wsController := controllers.NewWebSocketController(deps.Hub)
	healthController := controllers.NewHealthController(deps.Health)

	app.Get("/health", healthController.GetHealthStatus)

	if deps.LineWebhook != nil {
		app.Post("/line/webhook", deps.LineWebhook.Handle)
	}

	// API group
	api := app.Group("/api")

	// Authentication routes (no middleware)
	auth := api.Group("/auth")
	auth.Post("/login", authController.Login)
	auth.Get("/profile", middleware.JWTMiddleware(), authController.GetProfile)

	// Protected routes (require authentication)
	protected := api.Group("/", middleware.JWTMiddleware())

	// Profile routes (authenticated users)
	protected.Get("/profile", authController.GetProfile)
	protected.Put("/profile", authController.UpdateProfile)
	protected.Put("/profile/password", authController.ChangePassword)
	protected.Post("/profile/line-link", authController.IssueLineLinkCode)
	protected.Post("/auth/logout", authController.Logout)

	// User management (admin only)
	users := protected.Group("/users", middleware.RequireAdmin())
	users.Get("/", userController.GetUsers)
	users.Get("/:id", userController.GetUser)
	users.Post("/", authController.Register)
	users.Put("/:id", userController.UpdateUser)
	protected.Get("/lecturers", authController.GetLecturers)

	// Title proposals
	submissions := protected.Group("/submissions")
	submissions.Get("/", submissionController.GetSubmissions)
	submissions.Post("/", middleware.RequireStudent(), submissionController.CreateSubmission)
	submissions.Get("/:id", submissionController.GetSubmission)
	submissions.Post("/:id/resubmit", middleware.RequireStudent(), submissionController.ResubmitSubmission)
	submissions.Post("/:id/review", middleware.RequireLecturer(), submissionController.ReviewSubmission)

	// Chapters
	submissions.Post("/:id/chapters", middleware.RequireStudent(), chapterController.UploadChapter)
	submissions.Get("/:id/chapters", chapterController.GetChapters)
	submissions.Get("/:id/chapters/:number/history", chapterController.GetChapterHistory)
	submissions.Get("/:id/progress", chapterController.GetProgress)
	protected.Post("/chapters/:id/review", middleware.RequireLecturer(), chapterController.ReviewChapter)

	// Final report and guidance card
	submissions.Get("/:id/final-report", finalReportController.GetFinalReport)
	submissions.Post("/:id/final-report/:slot", middleware.RequireStudent(), finalReportController.UploadSlot)
	protected.Post("/final-reports/:id/review", middleware.RequireLecturer(), finalReportController.ReviewFinalReport)
	submissions.Post("/:id/guidance-card", finalReportController.GenerateGuidanceCard)
	submissions.Get("/:id/guidance-card/export", finalReportController.ExportGuidanceCard)

	// Guidance chat
	submissions.Post("/:id/messages", messageController.SendMessage)
	submissions.Get("/:id/messages", messageController.GetMessages)

	// Notification routes
	notifications := protected.Group("/notifications")
	notifications.Get("/", notificationController.GetNotifications)
	notifications.Get("/unread-count", notificationController.GetUnreadCount)
	notifications.Patch("/mark-all-read", notificationController.MarkAllAsRead)
	notifications.Patch("/:id/read", notificationController.MarkAsRead)

	// Log management routes (Admin only)
	logs := protected.Group("/logs", middleware.RequireAdmin())
	logs.Get("/", logController.GetLogs)
	logs.Get("/stats", logController.GetLogStats)
	logs.Get("/export", logController.ExportLogs)
	logs.Post("/flush-cache", logController.FlushCachedLogs)
	logs.Get("/archives", logController.ListArchives)
	logs.Post("/archives", logController.ArchiveLogs)
	logs.Get("/archives/:id/download", logController.DownloadArchive)
	logs.Get("/:id", logController.GetLog)

	// WebSocket routes
	ws := protected.Group("/ws")
	ws.Get("/stats", middleware.RequireAdmin(), wsController.GetWebSocketStats)

	// WebSocket connection endpoint - use websocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		// IsWebSocketUpgrade returns true if the client
		// requested upgrade to the WebSocket protocol.
		if fiberws.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return wsController.HandleWebSocket(c)
	})
	app.Get("/ws", wsController.WebSocketHandler())
}
