package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bimbingan_go/models"
	"bimbingan_go/utils"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	linkCodeKey    = "line:link:%s"
	linkCodeLength = 8
	linkCodeTTL    = 10 * time.Minute
)

var (
	ErrLinkCodeInvalid    = errors.New("link code is invalid or expired")
	ErrLinkingUnavailable = errors.New("LINE linking is unavailable")
)

// LineLinker pairs accounts with LINE chats. The web app issues a short code
// that the user sends to the bot; the webhook redeems it.
type LineLinker struct {
	db    *gorm.DB
	redis *redis.Client
	ttl   time.Duration
}

// NewLineLinker creates a linker. Issue and Redeem need Redis.
func NewLineLinker(db *gorm.DB, client *redis.Client) *LineLinker {
	return &LineLinker{db: db, redis: client, ttl: linkCodeTTL}
}

// IsLinkCode reports whether text has the shape of a link code.
func IsLinkCode(text string) bool {
	text = strings.TrimSpace(text)
	if len(text) != linkCodeLength {
		return false
	}
	for _, r := range text {
		if !strings.ContainsRune("0123456789ABCDEFabcdef", r) {
			return false
		}
	}
	return true
}

// Issue returns a fresh single-use code for userID.
func (l *LineLinker) Issue(ctx context.Context, userID uint) (string, time.Time, error) {
	if l.redis == nil {
		return "", time.Time{}, ErrLinkingUnavailable
	}
	for attempt := 0; attempt < 3; attempt++ {
		raw, err := utils.GenerateRandomString(linkCodeLength)
		if err != nil {
			return "", time.Time{}, err
		}
		code := strings.ToUpper(raw)
		ok, err := l.redis.SetNX(ctx, fmt.Sprintf(linkCodeKey, code), userID, l.ttl).Result()
		if err != nil {
			return "", time.Time{}, fmt.Errorf("store link code: %w", err)
		}
		if ok {
			return code, time.Now().Add(l.ttl), nil
		}
	}
	return "", time.Time{}, errors.New("could not allocate a link code")
}

// Redeem consumes code and stores lineUserID on the account it was issued for.
// A LINE chat belongs to at most one account, so any older link is cleared.
func (l *LineLinker) Redeem(ctx context.Context, code, lineUserID string) (*models.User, error) {
	if l.redis == nil {
		return nil, ErrLinkingUnavailable
	}
	if lineUserID == "" || !IsLinkCode(code) {
		return nil, ErrLinkCodeInvalid
	}
	raw, err := l.redis.GetDel(ctx, fmt.Sprintf(linkCodeKey, strings.ToUpper(strings.TrimSpace(code)))).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrLinkCodeInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("read link code: %w", err)
	}
	userID, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return nil, ErrLinkCodeInvalid
	}

	var user models.User
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).
			Where("line_id = ? AND id <> ?", lineUserID, userID).
			Update("line_id", "").Error; err != nil {
			return err
		}
		if err := tx.Model(&models.User{}).Where("id = ?", userID).
			Update("line_id", lineUserID).Error; err != nil {
			return err
		}
		return tx.First(&user, userID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLinkCodeInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("link LINE account: %w", err)
	}

	logrus.WithField("user_id", user.ID).Info("LINE account linked")
	return &user, nil
}

// Unlink forgets lineUserID, e.g. after the user blocked the bot.
func (l *LineLinker) Unlink(ctx context.Context, lineUserID string) error {
	if lineUserID == "" {
		return nil
	}
	return l.db.WithContext(ctx).Model(&models.User{}).
		Where("line_id = ?", lineUserID).
		Update("line_id", "").Error
}
