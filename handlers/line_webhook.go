package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bimbingan_go/models"
	"bimbingan_go/services"

	"github.com/gofiber/fiber/v2"
	"github.com/line/line-bot-sdk-go/linebot"
	"github.com/sirupsen/logrus"
)

const (
	replyFollow  = "Halo! Kirim kode penautan dari halaman profil untuk menerima notifikasi bimbingan di LINE."
	replyLinked  = "Akun %s berhasil ditautkan. Notifikasi bimbingan akan dikirim ke sini."
	replyInvalid = "Kode penautan tidak valid atau sudah kedaluwarsa. Minta kode baru dari halaman profil."
	replyHelp    = "Kirim kode penautan 8 karakter dari halaman profil untuk menautkan akun."
	eventTimeout = 10 * time.Second
)

// AccountLinker redeems link codes sent to the bot.
type AccountLinker interface {
	Redeem(ctx context.Context, code, lineUserID string) (*models.User, error)
	Unlink(ctx context.Context, lineUserID string) error
}

// Replier answers an event through its reply token.
type Replier interface {
	Reply(ctx context.Context, replyToken, text string) error
}

// LineWebhookHandler receives LINE webhook calls and links LINE chats to
// accounts.
type LineWebhookHandler struct {
	secret  string
	linker  AccountLinker
	replier Replier
	// events are handled inline when async is false
	async bool
}

func NewLineWebhookHandler(secret string, linker AccountLinker, replier Replier) *LineWebhookHandler {
	return &LineWebhookHandler{secret: secret, linker: linker, replier: replier, async: true}
}

// Handle verifies the signature and acknowledges before events are processed.
func (h *LineWebhookHandler) Handle(c *fiber.Ctx) error {
	signature := c.Get("X-Line-Signature")
	if signature == "" {
		logrus.Warn("LINE webhook: missing signature header")
		return c.SendStatus(fiber.StatusBadRequest)
	}
	if !validateSignature(h.secret, c.Body(), signature) {
		logrus.Warn("LINE webhook: signature mismatch")
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	var webhook struct {
		Events []*linebot.Event `json:"events"`
	}
	if err := json.Unmarshal(c.Body(), &webhook); err != nil {
		logrus.WithError(err).Warn("LINE webhook: failed to parse events")
		return c.SendStatus(fiber.StatusBadRequest)
	}

	if h.async {
		go h.HandleEvents(webhook.Events)
	} else {
		h.HandleEvents(webhook.Events)
	}
	return c.SendStatus(fiber.StatusOK)
}

// HandleEvents processes parsed webhook events.
func (h *LineWebhookHandler) HandleEvents(events []*linebot.Event) {
	for _, event := range events {
		if event == nil || event.Source == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		h.handleEvent(ctx, event)
		cancel()
	}
}

func (h *LineWebhookHandler) handleEvent(ctx context.Context, event *linebot.Event) {
	lineUserID := event.Source.UserID
	switch event.Type {
	case linebot.EventTypeFollow:
		h.reply(ctx, event.ReplyToken, replyFollow)

	case linebot.EventTypeUnfollow:
		if err := h.linker.Unlink(ctx, lineUserID); err != nil {
			logrus.WithError(err).Error("LINE webhook: failed to unlink account")
		}

	case linebot.EventTypeMessage:
		msg, ok := event.Message.(*linebot.TextMessage)
		if !ok || event.Source.Type != linebot.EventSourceTypeUser {
			return
		}
		if !services.IsLinkCode(msg.Text) {
			h.reply(ctx, event.ReplyToken, replyHelp)
			return
		}
		user, err := h.linker.Redeem(ctx, msg.Text, lineUserID)
		switch {
		case errors.Is(err, services.ErrLinkCodeInvalid):
			h.reply(ctx, event.ReplyToken, replyInvalid)
		case err != nil:
			logrus.WithError(err).Error("LINE webhook: failed to redeem link code")
		default:
			h.reply(ctx, event.ReplyToken, fmt.Sprintf(replyLinked, displayName(user)))
		}
	}
}

func (h *LineWebhookHandler) reply(ctx context.Context, token, text string) {
	if h.replier == nil || token == "" {
		return
	}
	if err := h.replier.Reply(ctx, token, text); err != nil {
		logrus.WithError(err).Warn("LINE webhook: reply failed")
	}
}

func displayName(u *models.User) string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// validateSignature checks X-Line-Signature against the channel secret.
func validateSignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
