// Package audit records user activity, flushes the Redis write cache into the
// database and archives old entries to S3.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bimbingan_go/models"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// QueueKey is the Redis sorted set of cached entries waiting for Flush.
	QueueKey  = "logs:queue"
	cacheTTL  = 24 * time.Hour
	keyFormat = "log:%d:%s:%d"
)

// Recorder writes activity entries through Redis when it is available and
// straight to the database otherwise.
type Recorder struct {
	db    *gorm.DB
	redis *redis.Client
}

// NewRecorder creates a recorder. client may be nil.
func NewRecorder(db *gorm.DB, client *redis.Client) *Recorder {
	return &Recorder{db: db, redis: client}
}

// Record stores one entry. It never returns an error to the request path;
// failures are logged.
func (r *Recorder) Record(ctx context.Context, entry models.ActivityLog) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := r.cache(ctx, entry); err != nil {
		logrus.WithError(err).Debug("activity cache unavailable, writing to database")
		if r.db == nil {
			logrus.Error("no database for activity log")
			return
		}
		if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
			logrus.WithError(err).Error("Failed to save activity log to database")
		}
	}
}

func (r *Recorder) cache(ctx context.Context, entry models.ActivityLog) error {
	if r.redis == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log: %w", err)
	}
	key := fmt.Sprintf(keyFormat, entry.UserID, entry.Action, time.Now().UnixNano())
	if err := r.redis.Set(ctx, key, data, cacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache log: %w", err)
	}
	if err := r.redis.ZAdd(ctx, QueueKey, &redis.Z{Score: float64(entry.CreatedAt.Unix()), Member: key}).Err(); err != nil {
		// the entry would expire unseen; drop it from the cache and fall back
		r.redis.Del(ctx, key)
		return fmt.Errorf("failed to queue log: %w", err)
	}
	return nil
}

// Flush moves cached entries older than minAge into the database and returns
// how many were written.
func (r *Recorder) Flush(ctx context.Context, minAge time.Duration) (int, error) {
	if r.redis == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-minAge)
	keys, err := r.redis.ZRangeByScore(ctx, QueueKey, &redis.ZRangeBy{
		Min: "0",
		Max: fmt.Sprintf("%d", cutoff.Unix()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read log queue: %w", err)
	}

	written, failed := 0, 0
	for _, key := range keys {
		raw, err := r.redis.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			r.redis.ZRem(ctx, QueueKey, key)
			continue
		}
		if err != nil {
			failed++
			continue
		}

		var entry models.ActivityLog
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			logrus.WithError(err).WithField("key", key).Error("dropping unreadable cached log")
			r.redis.Del(ctx, key)
			r.redis.ZRem(ctx, QueueKey, key)
			failed++
			continue
		}
		entry.ID = 0
		if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
			failed++
			continue
		}

		pipe := r.redis.Pipeline()
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, QueueKey, key)
		if _, err := pipe.Exec(ctx); err != nil {
			logrus.WithError(err).WithField("key", key).Warn("Failed to remove log from cache")
		}
		written++
	}

	if len(keys) > 0 {
		logrus.WithFields(logrus.Fields{"written": written, "failed": failed}).Info("flushed cached activity logs")
	}
	return written, nil
}
