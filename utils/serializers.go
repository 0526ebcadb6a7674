package utils

import (
	"time"

	"bimbingan_go/models"
)

// Compact representations used across APIs
type UserShort struct {
	ID       uint   `json:"id"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role,omitempty"`
}

type NotificationDTO struct {
	ID           uint       `json:"id"`
	CreatedAt    time.Time  `json:"created_at"`
	UserID       uint       `json:"user_id"`
	Message      string     `json:"message"`
	Type         string     `json:"type"`
	EventType    string     `json:"event_type"`
	Read         bool       `json:"read"`
	ReadAt       *time.Time `json:"read_at,omitempty"`
	SubmissionID *uint      `json:"submission_id,omitempty"`
	MessageID    *uint      `json:"message_id,omitempty"`
}

// ToNotificationDTO maps a models.Notification to the compact DTO.
func ToNotificationDTO(n models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:           n.ID,
		CreatedAt:    n.CreatedAt,
		UserID:       n.UserID,
		Message:      n.Message,
		Type:         n.Type,
		EventType:    n.EventType,
		Read:         n.Read,
		ReadAt:       n.ReadAt,
		SubmissionID: n.SubmissionID,
		MessageID:    n.MessageID,
	}
}

type MessageDTO struct {
	ID            uint      `json:"id"`
	SubmissionID  uint      `json:"submission_id"`
	Sender        UserShort `json:"sender"`
	Content       string    `json:"content,omitempty"`
	AttachmentRef string    `json:"attachment_ref,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ToMessageDTO maps a chat message. Sender details are filled when preloaded.
func ToMessageDTO(m models.Message) MessageDTO {
	sender := UserShort{ID: m.SenderID}
	if m.Sender.ID != 0 {
		sender.FullName = m.Sender.FullName
		sender.Role = m.Sender.Role
		if sender.FullName == "" {
			sender.FullName = m.Sender.Username
		}
	}
	return MessageDTO{
		ID:            m.ID,
		SubmissionID:  m.SubmissionID,
		Sender:        sender,
		Content:       m.Content,
		AttachmentRef: m.AttachmentRef,
		CreatedAt:     m.CreatedAt,
	}
}

// StatusChangeDTO is the payload of a status-changed room event.
type StatusChangeDTO struct {
	SubmissionID uint      `json:"submission_id"`
	EntityKind   string    `json:"entity_kind"`
	EntityID     uint      `json:"entity_id"`
	Action       string    `json:"action"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Notes        string    `json:"notes,omitempty"`
	ActorID      uint      `json:"actor_id"`
	At           time.Time `json:"at"`
}
