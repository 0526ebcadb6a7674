package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bimbingan_go/services/audit"
	"bimbingan_go/services/notifications"
	"bimbingan_go/services/realtime"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const (
	overallStatusOK       = "ok"
	overallStatusDegraded = "degraded"
	overallStatusCritical = "critical"

	componentUp       = "up"
	componentDown     = "down"
	componentDisabled = "disabled"

	defaultServiceName = "Bimbingan API"
	defaultVersion     = "1.0.0"
	defaultTimeout     = 1500 * time.Millisecond
)

// HealthConfig describes what a HealthService checks.
type HealthConfig struct {
	Service     string
	Version     string
	Environment string
	DB          *gorm.DB
	Redis       *redis.Client
	// QueueMode means notifications are written through the Redis queue, so
	// losing Redis delays every notification.
	QueueMode bool
	Workflow  WorkflowSettings
	Realtime  func() realtime.Stats
}

// WorkflowSettings are the delivery limits the running orchestrator uses.
type WorkflowSettings struct {
	ChapterCount   int           `json:"chapter_count"`
	PersistTimeout time.Duration `json:"-"`
	FanoutTimeout  time.Duration `json:"-"`
	SendBuffer     int           `json:"ws_send_buffer"`
	PersistMs      int64         `json:"persist_timeout_ms"`
	FanoutMs       int64         `json:"fanout_timeout_ms"`
}

// HealthService answers whether workflow changes can be persisted and
// delivered right now.
type HealthService struct {
	cfg     HealthConfig
	started time.Time
	timeout time.Duration
}

// HealthReport is the /health response.
type HealthReport struct {
	Status        string           `json:"status"`
	Service       string           `json:"service"`
	Version       string           `json:"version"`
	Environment   string           `json:"environment"`
	Time          time.Time        `json:"time"`
	UptimeSeconds float64          `json:"uptime_seconds"`
	Database      ComponentHealth  `json:"database"`
	Redis         ComponentHealth  `json:"redis"`
	Queues        *QueueDepths     `json:"queues,omitempty"`
	Realtime      *realtime.Stats  `json:"realtime,omitempty"`
	Workflow      WorkflowSettings `json:"workflow"`
}

// ComponentHealth is the probe result of one backing service.
type ComponentHealth struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// QueueDepths counts work parked in Redis that has not reached MySQL yet.
type QueueDepths struct {
	Notifications int64 `json:"notifications"`
	ActivityLogs  int64 `json:"activity_logs"`
}

// NewHealthService creates a HealthService. Empty names fall back to defaults.
func NewHealthService(cfg HealthConfig) *HealthService {
	if strings.TrimSpace(cfg.Service) == "" {
		cfg.Service = defaultServiceName
	}
	if strings.TrimSpace(cfg.Version) == "" {
		cfg.Version = defaultVersion
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "unknown"
	}
	cfg.Workflow.PersistMs = cfg.Workflow.PersistTimeout.Milliseconds()
	cfg.Workflow.FanoutMs = cfg.Workflow.FanoutTimeout.Milliseconds()
	return &HealthService{cfg: cfg, started: time.Now(), timeout: defaultTimeout}
}

// GetHealthReport probes MySQL and Redis and collects queue and websocket state.
func (s *HealthService) GetHealthReport() HealthReport {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	report := HealthReport{
		Status:        overallStatusOK,
		Service:       s.cfg.Service,
		Version:       s.cfg.Version,
		Environment:   s.cfg.Environment,
		Time:          time.Now().UTC(),
		UptimeSeconds: time.Since(s.started).Seconds(),
		Workflow:      s.cfg.Workflow,
	}

	report.Database = s.checkDatabase(ctx)
	if report.Database.Status != componentUp {
		// nothing can be persisted
		report.Status = overallStatusCritical
	}

	report.Redis = s.checkRedis(ctx)
	if report.Redis.Status == componentDown && report.Status == overallStatusOK {
		report.Status = overallStatusDegraded
	}
	if report.Redis.Status == componentUp {
		report.Queues = s.queueDepths(ctx)
	}

	if s.cfg.Realtime != nil {
		stats := s.cfg.Realtime()
		report.Realtime = &stats
	}
	return report
}

// HTTPStatusForOverall maps a health status to an HTTP status code.
func (s *HealthService) HTTPStatusForOverall(status string) int {
	if status == overallStatusCritical {
		return 503
	}
	return 200
}

func (s *HealthService) checkDatabase(ctx context.Context) ComponentHealth {
	if s.cfg.DB == nil {
		return ComponentHealth{Status: componentDown, Error: "database connection not initialised"}
	}
	sqlDB, err := s.cfg.DB.DB()
	if err != nil {
		return ComponentHealth{Status: componentDown, Error: fmt.Sprintf("sql DB handle error: %v", err)}
	}

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	h := ComponentHealth{Status: componentUp, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		h.Status = componentDown
		h.Error = err.Error()
	}
	return h
}

// checkRedis reports a missing client as disabled unless notifications depend
// on the queue.
func (s *HealthService) checkRedis(ctx context.Context) ComponentHealth {
	if s.cfg.Redis == nil {
		if s.cfg.QueueMode {
			return ComponentHealth{Status: componentDown, Error: "redis client not initialised"}
		}
		return ComponentHealth{Status: componentDisabled}
	}

	start := time.Now()
	err := s.cfg.Redis.Ping(ctx).Err()
	h := ComponentHealth{Status: componentUp, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		h.Status = componentDown
		h.Error = err.Error()
	}
	return h
}

func (s *HealthService) queueDepths(ctx context.Context) *QueueDepths {
	pipe := s.cfg.Redis.Pipeline()
	notif := pipe.LLen(ctx, notifications.QueueKey)
	logs := pipe.ZCard(ctx, audit.QueueKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil
	}
	return &QueueDepths{Notifications: notif.Val(), ActivityLogs: logs.Val()}
}
