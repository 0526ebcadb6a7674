package services

import (
	"context"
	"fmt"
	"time"

	"bimbingan_go/models"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// QueueFlusher drains the Redis notification queue.
type QueueFlusher interface {
	FlushQueue(ctx context.Context, batchSize int)
}

// LogFlusher moves cached activity logs into the database.
type LogFlusher interface {
	Flush(ctx context.Context, minAge time.Duration) (int, error)
}

// LogArchiver moves old activity logs to object storage.
type LogArchiver interface {
	ArchiveOlderThan(ctx context.Context, daysOld int) (*models.LogArchive, error)
}

// ScheduleConfig holds the cron expressions and job parameters.
type ScheduleConfig struct {
	NotificationFlush string // default "@every 5s"
	FlushBatch        int
	AuditFlush        string
	AuditArchive      string
	RetentionDays     int
	JobTimeout        time.Duration
}

// ScheduleManager runs the background jobs on a robfig/cron scheduler.
type ScheduleManager struct {
	cron     *cron.Cron
	cfg      ScheduleConfig
	queue    QueueFlusher
	logs     LogFlusher
	archiver LogArchiver
}

// NewScheduleManager wires the jobs. Any of the collaborators may be nil, in
// which case its job is not scheduled.
func NewScheduleManager(cfg ScheduleConfig, queue QueueFlusher, logs LogFlusher, archiver LogArchiver) *ScheduleManager {
	if cfg.NotificationFlush == "" {
		cfg.NotificationFlush = "@every 5s"
	}
	if cfg.FlushBatch <= 0 {
		cfg.FlushBatch = 200
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 4 * time.Minute
	}
	logger := cronLogger{}
	return &ScheduleManager{
		cron:     cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		cfg:      cfg,
		queue:    queue,
		logs:     logs,
		archiver: archiver,
	}
}

// Start registers every job and starts the scheduler.
func (sm *ScheduleManager) Start() error {
	if err := sm.register(); err != nil {
		return err
	}
	sm.cron.Start()
	logrus.WithField("jobs", len(sm.cron.Entries())).Info("schedule manager started")
	return nil
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (sm *ScheduleManager) Stop(ctx context.Context) {
	done := sm.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		logrus.Warn("schedule manager stopped before running jobs finished")
	}
}

func (sm *ScheduleManager) register() error {
	if sm.queue != nil {
		if err := sm.add("notification-flush", sm.cfg.NotificationFlush, sm.flushNotifications); err != nil {
			return err
		}
	}
	if sm.logs != nil && sm.cfg.AuditFlush != "" {
		if err := sm.add("audit-flush", sm.cfg.AuditFlush, sm.flushAuditLogs); err != nil {
			return err
		}
	}
	if sm.archiver != nil && sm.cfg.AuditArchive != "" && sm.cfg.RetentionDays > 0 {
		if err := sm.add("audit-archive", sm.cfg.AuditArchive, sm.archiveAuditLogs); err != nil {
			return err
		}
	}
	return nil
}

func (sm *ScheduleManager) add(name, spec string, job func(ctx context.Context)) error {
	_, err := sm.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sm.cfg.JobTimeout)
		defer cancel()
		job(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	return nil
}

func (sm *ScheduleManager) flushNotifications(ctx context.Context) {
	sm.queue.FlushQueue(ctx, sm.cfg.FlushBatch)
}

func (sm *ScheduleManager) flushAuditLogs(ctx context.Context) {
	// entries younger than a minute may still be written by in-flight requests
	if _, err := sm.logs.Flush(ctx, time.Minute); err != nil {
		logrus.WithError(err).Error("activity log flush failed")
	}
}

func (sm *ScheduleManager) archiveAuditLogs(ctx context.Context) {
	archive, err := sm.archiver.ArchiveOlderThan(ctx, sm.cfg.RetentionDays)
	if err != nil {
		logrus.WithError(err).Error("activity log archive failed")
		return
	}
	if archive != nil {
		logrus.WithFields(logrus.Fields{"file": archive.FileName, "records": archive.RecordCount}).Info("activity logs archived")
	}
}

// cronLogger routes scheduler messages to logrus.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logrus.WithFields(kvFields(keysAndValues)).Debug("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logrus.WithError(err).WithFields(kvFields(keysAndValues)).Error("cron: " + msg)
}

func kvFields(kv []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
