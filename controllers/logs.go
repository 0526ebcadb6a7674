package controllers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"bimbingan_go/database"
	"bimbingan_go/models"
	"bimbingan_go/services/audit"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LogFlusher moves Redis-cached activity logs into the database.
type LogFlusher interface {
	Flush(ctx context.Context, minAge time.Duration) (int, error)
}

// LogArchiver moves old activity logs to object storage.
type LogArchiver interface {
	ArchiveOlderThan(ctx context.Context, daysOld int) (*models.LogArchive, error)
	List(ctx context.Context) ([]models.LogArchive, error)
	Open(ctx context.Context, id uint) (io.ReadCloser, string, error)
}

type LogController struct {
	flusher  LogFlusher
	archiver LogArchiver
}

func NewLogController(flusher LogFlusher, archiver LogArchiver) *LogController {
	return &LogController{flusher: flusher, archiver: archiver}
}

// LogResponse represents a log entry response
type LogResponse struct {
	ID         uint                   `json:"id"`
	UserID     uint                   `json:"user_id"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource"`
	ResourceID uint                   `json:"resource_id"`
	Details    map[string]interface{} `json:"details"`
	IPAddress  string                 `json:"ip_address"`
	UserAgent  string                 `json:"user_agent"`
	CreatedAt  time.Time              `json:"created_at"`
	User       *UserBasicInfo         `json:"user,omitempty"`
}

type UserBasicInfo struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type LogsStatsResponse struct {
	Total             int64                 `json:"total"`
	TotalToday        int64                 `json:"total_today"`
	TotalThisWeek     int64                 `json:"total_this_week"`
	ActionBreakdown   map[string]int64      `json:"action_breakdown"`
	ResourceBreakdown map[string]int64      `json:"resource_breakdown"`
	TopUsers          []UserActivitySummary `json:"top_users"`
}

type UserActivitySummary struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Count    int64  `json:"count"`
}

// filteredLogs applies the shared query-string filters.
func filteredLogs(c *fiber.Ctx) *gorm.DB {
	query := database.DB.Model(&models.ActivityLog{})

	if userID, err := strconv.ParseUint(c.Query("user_id"), 10, 32); err == nil {
		query = query.Where("user_id = ?", userID)
	}
	if action := c.Query("action"); action != "" {
		query = query.Where("action = ?", action)
	}
	if resource := c.Query("resource"); resource != "" {
		query = query.Where("resource = ?", resource)
	}
	if resourceID, err := strconv.ParseUint(c.Query("resource_id"), 10, 32); err == nil {
		query = query.Where("resource_id = ?", resourceID)
	}

	// Date range filters
	if startDate := c.Query("start_date"); startDate != "" {
		if parsedDate, err := time.Parse("2006-01-02", startDate); err == nil {
			query = query.Where("created_at >= ?", parsedDate)
		}
	}
	if endDate := c.Query("end_date"); endDate != "" {
		if parsedDate, err := time.Parse("2006-01-02", endDate); err == nil {
			query = query.Where("created_at < ?", parsedDate.Add(24*time.Hour))
		}
	}
	return query
}

// GetLogs retrieves paginated activity logs with filters
func (lc *LogController) GetLogs(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}
	offset := (page - 1) * limit

	query := filteredLogs(c)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		logrus.WithError(err).Error("Failed to count logs")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve logs count",
		})
	}

	var activityLogs []models.ActivityLog
	if err := query.Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&activityLogs).Error; err != nil {
		logrus.WithError(err).Error("Failed to retrieve logs")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve logs",
		})
	}

	users := usersByID(activityLogs)
	logs := make([]LogResponse, len(activityLogs))
	for i, log := range activityLogs {
		logs[i] = toLogResponse(log, users)
	}

	return c.JSON(fiber.Map{
		"logs":        logs,
		"total":       total,
		"page":        page,
		"limit":       limit,
		"total_pages": (total + int64(limit) - 1) / int64(limit),
	})
}

// GetLogStats summarizes recorded activity
func (lc *LogController) GetLogStats(c *fiber.Ctx) error {
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	thisWeek := today.AddDate(0, 0, -int(today.Weekday()))

	stats := LogsStatsResponse{
		ActionBreakdown:   make(map[string]int64),
		ResourceBreakdown: make(map[string]int64),
		TopUsers:          []UserActivitySummary{},
	}

	db := database.DB.WithContext(c.UserContext())
	if err := db.Model(&models.ActivityLog{}).Count(&stats.Total).Error; err != nil {
		logrus.WithError(err).Error("Failed to count logs")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to compute log statistics"})
	}
	db.Model(&models.ActivityLog{}).Where("created_at >= ?", today).Count(&stats.TotalToday)
	db.Model(&models.ActivityLog{}).Where("created_at >= ?", thisWeek).Count(&stats.TotalThisWeek)

	var actionStats []struct {
		Action string
		Count  int64
	}
	db.Model(&models.ActivityLog{}).
		Select("action, COUNT(*) as count").
		Group("action").
		Find(&actionStats)
	for _, stat := range actionStats {
		stats.ActionBreakdown[stat.Action] = stat.Count
	}

	var resourceStats []struct {
		Resource string
		Count    int64
	}
	db.Model(&models.ActivityLog{}).
		Select("resource, COUNT(*) as count").
		Group("resource").
		Find(&resourceStats)
	for _, stat := range resourceStats {
		stats.ResourceBreakdown[stat.Resource] = stat.Count
	}

	db.Model(&models.ActivityLog{}).
		Select("activity_logs.user_id, users.username, users.role, COUNT(*) as count").
		Joins("LEFT JOIN users ON activity_logs.user_id = users.id").
		Where("activity_logs.created_at >= ?", thisWeek).
		Group("activity_logs.user_id, users.username, users.role").
		Order("count DESC").
		Limit(10).
		Find(&stats.TopUsers)

	return c.JSON(stats)
}

// GetLog retrieves a single log entry by ID
func (lc *LogController) GetLog(c *fiber.Ctx) error {
	id, ok := idParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid log ID",
		})
	}

	var activityLog models.ActivityLog
	if err := database.DB.First(&activityLog, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Log not found",
			})
		}
		logrus.WithError(err).Error("Failed to retrieve log")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve log",
		})
	}

	return c.JSON(toLogResponse(activityLog, usersByID([]models.ActivityLog{activityLog})))
}

// ExportLogs streams the filtered logs as CSV (Admin only)
func (lc *LogController) ExportLogs(c *fiber.Ctx) error {
	var logs []models.ActivityLog
	if err := filteredLogs(c).Order("created_at DESC").Find(&logs).Error; err != nil {
		logrus.WithError(err).Error("Failed to retrieve logs for export")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve logs for export",
		})
	}
	users := usersByID(logs)

	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition, "attachment; filename=activity_logs.csv")

	w := csv.NewWriter(c.Response().BodyWriter())
	_ = w.Write([]string{"ID", "User ID", "Username", "Role", "Action", "Resource", "Resource ID", "IP Address", "User Agent", "Created At", "Details"})
	for _, log := range logs {
		u := users[log.UserID]
		_ = w.Write([]string{
			strconv.FormatUint(uint64(log.ID), 10),
			strconv.FormatUint(uint64(log.UserID), 10),
			u.Username,
			u.Role,
			log.Action,
			log.Resource,
			strconv.FormatUint(uint64(log.ResourceID), 10),
			log.IPAddress,
			log.UserAgent,
			log.CreatedAt.Format("2006-01-02 15:04:05"),
			string(log.Details),
		})
	}
	w.Flush()
	return w.Error()
}

// FlushCachedLogs writes Redis-cached logs to the database (Admin only)
func (lc *LogController) FlushCachedLogs(c *fiber.Ctx) error {
	if lc.flusher == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Log cache is not enabled"})
	}
	processed, err := lc.flusher.Flush(c.UserContext(), 0)
	if err != nil {
		logrus.WithError(err).Error("Failed to flush cached logs")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":           "Failed to flush cached logs",
			"processed_count": processed,
		})
	}
	return c.JSON(fiber.Map{
		"message":         "Cached logs flushing completed",
		"processed_count": processed,
	})
}

// ListArchives returns archived log bundles (Admin only)
func (lc *LogController) ListArchives(c *fiber.Ctx) error {
	if lc.archiver == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Log archiving is not configured"})
	}
	archives, err := lc.archiver.List(c.UserContext())
	if err != nil {
		logrus.WithError(err).Error("Failed to list log archives")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list archives"})
	}
	return c.JSON(fiber.Map{"archives": archives})
}

// ArchiveLogs archives logs older than ?days to S3 (Admin only)
func (lc *LogController) ArchiveLogs(c *fiber.Ctx) error {
	if lc.archiver == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Log archiving is not configured"})
	}
	days, err := strconv.Atoi(c.Query("days", strconv.Itoa(audit.MinArchiveAge)))
	if err != nil || days < audit.MinArchiveAge {
		return badRequest(c, fmt.Sprintf("days must be at least %d", audit.MinArchiveAge))
	}

	archive, err := lc.archiver.ArchiveOlderThan(c.UserContext(), days)
	if err != nil {
		logrus.WithError(err).Error("Failed to archive logs")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to archive logs"})
	}
	if archive == nil {
		return c.JSON(fiber.Map{"message": "No logs old enough to archive"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Logs archived successfully",
		"archive": archive,
	})
}

// DownloadArchive streams one archive zip back to the client (Admin only)
func (lc *LogController) DownloadArchive(c *fiber.Ctx) error {
	if lc.archiver == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Log archiving is not configured"})
	}
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid archive ID")
	}

	body, name, err := lc.archiver.Open(c.UserContext(), id)
	if errors.Is(err, audit.ErrArchiveNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Archive not found"})
	}
	if err != nil {
		logrus.WithError(err).WithField("archive_id", id).Error("Failed to open log archive")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Failed to download archive"})
	}

	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, name))
	// fasthttp closes the body once it has been written
	return c.SendStream(body)
}

func usersByID(logs []models.ActivityLog) map[uint]UserBasicInfo {
	ids := make([]uint, 0, len(logs))
	seen := make(map[uint]bool, len(logs))
	for _, l := range logs {
		if l.UserID > 0 && !seen[l.UserID] {
			seen[l.UserID] = true
			ids = append(ids, l.UserID)
		}
	}
	out := make(map[uint]UserBasicInfo, len(ids))
	if len(ids) == 0 {
		return out
	}
	var users []models.User
	if err := database.DB.Select("id", "username", "role").Where("id IN ?", ids).Find(&users).Error; err != nil {
		logrus.WithError(err).Warn("Failed to load log users")
		return out
	}
	for _, u := range users {
		out[u.ID] = UserBasicInfo{ID: u.ID, Username: u.Username, Role: u.Role}
	}
	return out
}

func toLogResponse(log models.ActivityLog, users map[uint]UserBasicInfo) LogResponse {
	resp := LogResponse{
		ID:         log.ID,
		UserID:     log.UserID,
		Action:     log.Action,
		Resource:   log.Resource,
		ResourceID: log.ResourceID,
		IPAddress:  log.IPAddress,
		UserAgent:  log.UserAgent,
		CreatedAt:  log.CreatedAt,
	}
	if len(log.Details) > 0 {
		var details map[string]interface{}
		if err := json.Unmarshal(log.Details, &details); err == nil {
			resp.Details = details
		}
	}
	if u, ok := users[log.UserID]; ok {
		resp.User = &u
	}
	return resp
}
