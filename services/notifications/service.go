package notifications

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bimbingan_go/models"
	"bimbingan_go/services/realtime"
	"bimbingan_go/services/workflow"
	"bimbingan_go/utils"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Queue item structure stored in Redis.
// Keep minimal to reduce payload size; the DB write stays the source of truth.
type queuedNotification struct {
	UserIDs   []uint    `json:"user_ids"`
	Message   string    `json:"message"`
	Ref       Reference `json:"ref"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	// QueueKey is the Redis list of notifications waiting for FlushQueue.
	QueueKey         = "notifications:queue"
	redisDedupPrefix = "notifications:dedup:"
)

// EventChatMessage is the event type of chat message notifications. Status
// changes use "<kind>_<action>", e.g. "chapter_accept".
const EventChatMessage = "chat_message"

// Reference ties a notification to the event that caused it. Token
// distinguishes separate occurrences of the same event kind; a caller retrying
// the same logical event must pass the same token.
type Reference struct {
	SubmissionID *uint  `json:"submission_id,omitempty"`
	MessageID    *uint  `json:"message_id,omitempty"`
	EventType    string `json:"event_type"`
	Token        string `json:"token"`
}

// Store persists notifications.
type Store interface {
	// CreateNotification inserts n unless a row with the same idempotency key
	// exists. created is false for a duplicate.
	CreateNotification(ctx context.Context, n *models.Notification) (created bool, err error)
}

// UserSender pushes events to every live connection of a user.
type UserSender interface {
	SendToUser(userID uint, events ...realtime.Event) realtime.Report
}

// Pusher is an optional out-of-band channel such as LINE.
type Pusher interface {
	Push(ctx context.Context, userID uint, text string) error
}

// Service persists notifications and delivers them on each recipient's
// personal channel, whether or not they are watching the submission room.
type Service struct {
	store     Store
	redis     *redis.Client
	useQueue  bool
	sender    UserSender
	pusher    Pusher
	dedupeTTL time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithRedis enables the Redis dedupe fast path, and the queue when useQueue is set.
func WithRedis(client *redis.Client, useQueue bool, dedupeTTL time.Duration) Option {
	return func(s *Service) {
		if client == nil {
			return
		}
		s.redis = client
		s.useQueue = useQueue
		if dedupeTTL > 0 {
			s.dedupeTTL = dedupeTTL
		}
	}
}

// WithPusher adds an out-of-band delivery channel.
func WithPusher(p Pusher) Option {
	return func(s *Service) { s.pusher = p }
}

// NewService creates a dispatcher.
func NewService(store Store, sender UserSender, opts ...Option) *Service {
	s := &Service{store: store, sender: sender, dedupeTTL: 24 * time.Hour}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IdempotencyKey derives the dedupe key for one recipient of one event.
func IdempotencyKey(recipient uint, ref Reference) string {
	var sub, msg uint
	if ref.SubmissionID != nil {
		sub = *ref.SubmissionID
	}
	if ref.MessageID != nil {
		msg = *ref.MessageID
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%d|%d|%s|%s", recipient, sub, msg, ref.EventType, ref.Token)))
	return hex.EncodeToString(sum[:])
}

// RecipientsForMessage is every party to the submission except the sender.
func RecipientsForMessage(sub *models.Submission, senderID uint) []uint {
	return without(workflow.Parties(sub), senderID)
}

// RecipientsForStatusChange is the student plus any assigned supervisor who
// did not perform the change. The actor is never notified of their own action.
func RecipientsForStatusChange(sub *models.Submission, actorID uint) []uint {
	return without(workflow.Parties(sub), actorID)
}

func without(ids []uint, skip uint) []uint {
	out := make([]uint, 0, len(ids))
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if id == skip || id == 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Notify persists and pushes one notification per recipient. Duplicates of an
// already dispatched event are dropped silently. It returns how many new
// notifications were created (or queued).
func (s *Service) Notify(ctx context.Context, recipients []uint, text string, ref Reference) (int, error) {
	if len(recipients) == 0 {
		return 0, nil
	}

	fresh := make([]uint, 0, len(recipients))
	for _, uid := range recipients {
		if s.claim(ctx, uid, ref) {
			fresh = append(fresh, uid)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	if s.useQueue {
		b, err := json.Marshal(queuedNotification{UserIDs: fresh, Message: text, Ref: ref, CreatedAt: time.Now().UTC()})
		if err == nil {
			if err = s.redis.RPush(ctx, QueueKey, b).Err(); err == nil {
				return len(fresh), nil
			}
		}
		logrus.WithError(err).Warn("[notif] Redis queue failed, falling back to direct insert")
	}

	return s.createDirect(ctx, fresh, text, ref)
}

// claim takes the Redis dedupe slot for (recipient, ref). Without Redis, or
// when Redis errors, the unique index in the store decides.
func (s *Service) claim(ctx context.Context, uid uint, ref Reference) bool {
	if s.redis == nil {
		return true
	}
	ok, err := s.redis.SetNX(ctx, redisDedupPrefix+IdempotencyKey(uid, ref), 1, s.dedupeTTL).Result()
	if err != nil {
		return true
	}
	return ok
}

func (s *Service) release(ctx context.Context, uid uint, ref Reference) {
	if s.redis == nil {
		return
	}
	s.redis.Del(ctx, redisDedupPrefix+IdempotencyKey(uid, ref))
}

// createDirect writes to the store and pushes to live connections.
func (s *Service) createDirect(ctx context.Context, userIDs []uint, text string, ref Reference) (int, error) {
	created := 0
	var errs []error
	for _, uid := range userIDs {
		key := IdempotencyKey(uid, ref)
		n := models.Notification{
			UserID:         uid,
			Message:        text,
			Type:           notificationType(ref.EventType),
			EventType:      ref.EventType,
			SubmissionID:   ref.SubmissionID,
			MessageID:      ref.MessageID,
			IdempotencyKey: &key,
		}
		ok, err := s.store.CreateNotification(ctx, &n)
		if err != nil {
			s.release(ctx, uid, ref)
			errs = append(errs, fmt.Errorf("notify user %d: %w", uid, err))
			continue
		}
		if !ok {
			logrus.WithFields(logrus.Fields{"user_id": uid, "event_type": ref.EventType}).Debug("[notif] duplicate dropped")
			continue
		}
		created++

		if s.sender != nil {
			s.sender.SendToUser(uid, realtime.Event{Type: realtime.EventNotification, Data: utils.ToNotificationDTO(n)})
		}
		if s.pusher != nil {
			if err := s.pusher.Push(ctx, uid, text); err != nil {
				logrus.WithError(err).WithField("user_id", uid).Debug("[notif] out-of-band push failed")
			}
		}
	}
	return created, errors.Join(errs...)
}

// FlushQueue drains queued notifications into the store. Run periodically by the scheduler.
func (s *Service) FlushQueue(ctx context.Context, batchSize int) {
	if s.redis == nil || !s.useQueue {
		return
	}
	for i := 0; i < 5; i++ { // up to 5 sub-batches per tick
		vals, err := s.redis.LRange(ctx, QueueKey, 0, int64(batchSize-1)).Result()
		if err != nil || len(vals) == 0 {
			return
		}
		if err = s.redis.LTrim(ctx, QueueKey, int64(len(vals)), -1).Err(); err != nil {
			logrus.WithError(err).Warn("[notif] LTrim failed")
		}
		for _, raw := range vals {
			var q queuedNotification
			if err := json.Unmarshal([]byte(raw), &q); err != nil {
				continue
			}
			if _, err := s.createDirect(ctx, q.UserIDs, q.Message, q.Ref); err != nil {
				logrus.WithError(err).Error("[notif] DB insert failed")
			}
		}
		if len(vals) < batchSize {
			return
		}
	}
}

func notificationType(eventType string) string {
	switch eventType {
	case EventChatMessage:
		return "info"
	default:
		return "status"
	}
}
