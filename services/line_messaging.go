package services

import (
	"context"
	"errors"
	"fmt"

	"bimbingan_go/models"

	"github.com/line/line-bot-sdk-go/linebot"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LineIDLookup finds the LINE user id linked to an account. An empty id means
// the user has not linked LINE.
type LineIDLookup func(ctx context.Context, userID uint) (string, error)

// LineMessagingService pushes notification text to a user's LINE chat.
type LineMessagingService struct {
	Bot    *linebot.Client
	lookup LineIDLookup
}

// NewLineMessagingService returns a service with a nil Bot when credentials
// are missing; Push is then a no-op.
func NewLineMessagingService(channelSecret, channelToken string, db *gorm.DB) *LineMessagingService {
	s := &LineMessagingService{lookup: lineIDFromDB(db)}
	if channelSecret == "" || channelToken == "" {
		logrus.Warn("LINE Messaging API disabled: missing LINE_CHANNEL_SECRET or LINE_CHANNEL_ACCESS_TOKEN")
		return s
	}

	bot, err := linebot.New(channelSecret, channelToken)
	if err != nil {
		logrus.WithError(err).Error("Cannot create LINE bot client")
		return s
	}
	s.Bot = bot
	return s
}

// Enabled reports whether pushes will be attempted.
func (s *LineMessagingService) Enabled() bool {
	return s != nil && s.Bot != nil
}

// Push sends text to the user's LINE chat if they linked one.
func (s *LineMessagingService) Push(ctx context.Context, userID uint, text string) error {
	if !s.Enabled() {
		return nil
	}
	lineID, err := s.lookup(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup LINE id for user %d: %w", userID, err)
	}
	if lineID == "" {
		return nil
	}
	return s.SendLineMessage(ctx, lineID, text)
}

// SendLineMessage pushes a text message to a LINE user or group id.
func (s *LineMessagingService) SendLineMessage(ctx context.Context, to, message string) error {
	if s.Bot == nil {
		return fmt.Errorf("LINE Bot client is not initialized")
	}

	_, err := s.Bot.PushMessage(to, linebot.NewTextMessage(message)).WithContext(ctx).Do()
	if err != nil {
		return fmt.Errorf("LINE Messaging API failed: %w", err)
	}
	return nil
}

func lineIDFromDB(db *gorm.DB) LineIDLookup {
	return func(ctx context.Context, userID uint) (string, error) {
		if db == nil {
			return "", nil
		}
		var user models.User
		err := db.WithContext(ctx).Select("id", "line_id").First(&user, userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return user.LineID, nil
	}
}

// Reply answers a webhook event through its reply token.
func (s *LineMessagingService) Reply(ctx context.Context, replyToken, message string) error {
	if s.Bot == nil {
		return fmt.Errorf("LINE Bot client is not initialized")
	}

	_, err := s.Bot.ReplyMessage(replyToken, linebot.NewTextMessage(message)).WithContext(ctx).Do()
	if err != nil {
		return fmt.Errorf("LINE reply failed: %w", err)
	}
	return nil
}
