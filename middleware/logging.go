package middleware

import (
	"bimbingan_go/models"
	"bimbingan_go/utils"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	futils "github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ActivityRecorder persists activity entries.
type ActivityRecorder interface {
	Record(ctx context.Context, entry models.ActivityLog)
}

var activityRecorder ActivityRecorder

// SetActivityRecorder installs the sink used by LogActivity.
func SetActivityRecorder(r ActivityRecorder) {
	activityRecorder = r
}

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Process request
		err := c.Next()

		// Log request
		duration := time.Since(start)
		status := c.Response().StatusCode()

		entry := logrus.WithFields(logrus.Fields{
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"duration":   duration.String(),
			"ip":         c.IP(),
			"user_agent": c.Get("User-Agent"),
		})
		if status >= fiber.StatusInternalServerError {
			entry.Warn("HTTP Request")
		} else {
			entry.Info("HTTP Request")
		}

		return err
	}
}

// LogActivity records what the current user did, with request metadata and
// an integrity hash for tamper detection.
func LogActivity(c *fiber.Ctx, action, resource string, resourceID uint, details interface{}) {
	if activityRecorder == nil {
		return
	}

	var userID uint
	if user, err := GetCurrentUser(c); err == nil {
		userID = user.ID
	}

	// fasthttp reuses request buffers once the handler returns
	activityLog := models.ActivityLog{
		UserID:     userID,
		Action:     futils.CopyString(action),
		Resource:   futils.CopyString(resource),
		ResourceID: resourceID,
		IPAddress:  futils.CopyString(c.IP()),
		UserAgent:  futils.CopyString(c.Get("User-Agent")),
	}
	activityLog.CreatedAt = time.Now().UTC()

	securityDetails := map[string]interface{}{
		"original_details": details,
		"integrity_hash":   generateIntegrityHash(activityLog),
		"request_id":       c.Get("X-Request-ID", generateRequestID()),
		"forwarded_for":    c.Get("X-Forwarded-For"),
		"method":           c.Method(),
		"path":             c.Path(),
		"status_code":      c.Response().StatusCode(),
		"timestamp_utc":    activityLog.CreatedAt.Unix(),
	}
	if b, err := json.Marshal(securityDetails); err == nil {
		activityLog.Details = b
	}

	// Redis or DB write happens off the request goroutine
	go func(al models.ActivityLog) {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithField("panic", r).Error("panic recovered in LogActivity goroutine")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		activityRecorder.Record(ctx, al)
	}(activityLog)
}

// generateIntegrityHash creates a hash for tamper detection
func generateIntegrityHash(log models.ActivityLog) string {
	data := fmt.Sprintf("%d:%s:%s:%d:%s:%s:%s",
		log.UserID,
		log.Action,
		log.Resource,
		log.ResourceID,
		log.IPAddress,
		log.UserAgent,
		log.CreatedAt.Format(time.RFC3339),
	)
	return fmt.Sprintf("%x", md5.Sum([]byte(data)))
}

// generateRequestID creates a unique request identifier
func generateRequestID() string {
	return "req_" + uuid.NewString()
}

// LogActivityMiddleware automatically logs write requests
func LogActivityMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip logging for GET requests and auth endpoints
		if c.Method() == fiber.MethodGet || strings.Contains(c.Path(), "/auth/") {
			return c.Next()
		}

		// Process request
		err := c.Next()

		var action string
		switch c.Method() {
		case fiber.MethodPost:
			action = "CREATE"
		case fiber.MethodPut, fiber.MethodPatch:
			action = "UPDATE"
		case fiber.MethodDelete:
			action = "DELETE"
		default:
			return err
		}

		// /api/<resource>/...
		pathParts := strings.Split(strings.Trim(c.Path(), "/"), "/")
		var resource string
		if len(pathParts) >= 2 {
			resource = pathParts[1]
		}

		resourceID, _ := utils.ParseID(c.Params("id"))

		// Log only if request was successful
		if c.Response().StatusCode() < 400 {
			LogActivity(c, action, resource, resourceID, nil)
		}

		return err
	}
}
