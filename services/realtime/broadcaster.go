package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Event types on the realtime channel.
const (
	// server -> client
	EventChatMessage   = "chat-message"
	EventNotification  = "notification"
	EventStatusChanged = "status-changed"
	EventAck           = "ack"
	EventError         = "error"

	// client -> server
	EventJoinUserChannel = "join-user-channel"
	EventJoinRoom        = "join-submission-room"
	EventLeaveRoom       = "leave-submission-room"
)

// Event is one frame on the realtime channel.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// DeliveryError records a connection that did not receive a frame.
// It is logged and dropped; it never fails the operation that produced the event.
type DeliveryError struct {
	ConnectionID string
	UserID       uint
	Err          error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to connection %s (user %d) failed: %v", e.ConnectionID, e.UserID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Report summarises one fan-out call.
type Report struct {
	Delivered int
	Failed    []*DeliveryError
}

// Broadcaster pushes events to rooms and users through the registry.
// Delivery is best effort and at most once per connection per call.
type Broadcaster struct {
	registry *Registry
}

// NewBroadcaster creates a broadcaster bound to registry.
func NewBroadcaster(registry *Registry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// BroadcastToRoom delivers events, in order, to every connection in the submission room.
func (b *Broadcaster) BroadcastToRoom(submissionID uint, events ...Event) Report {
	frames, err := encode(events)
	if err != nil {
		logrus.WithError(err).WithField("submission_id", submissionID).Error("cannot encode room event")
		return Report{}
	}
	report := fanOut(b.registry.ConnectionsInRoom(submissionID), frames)
	logReport("room", submissionID, report)
	return report
}

// SendToUser delivers events, in order, to every connection of the user.
func (b *Broadcaster) SendToUser(userID uint, events ...Event) Report {
	frames, err := encode(events)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("cannot encode user event")
		return Report{}
	}
	report := fanOut(b.registry.ConnectionsFor(userID), frames)
	logReport("user", userID, report)
	return report
}

func encode(events []Event) ([][]byte, error) {
	frames := make([][]byte, 0, len(events))
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		frames = append(frames, data)
	}
	return frames, nil
}

// fanOut enqueues every frame on every connection. Enqueueing never blocks,
// so one stalled peer cannot hold back the rest of the room.
func fanOut(conns []*Connection, frames [][]byte) Report {
	var report Report
	for _, conn := range conns {
		failed := false
		for _, frame := range frames {
			if err := conn.Deliver(frame); err != nil {
				report.Failed = append(report.Failed, &DeliveryError{ConnectionID: conn.ID, UserID: conn.UserID, Err: err})
				failed = true
				break
			}
		}
		if !failed {
			report.Delivered++
		}
	}
	return report
}

func logReport(scope string, id uint, report Report) {
	for _, f := range report.Failed {
		logrus.WithFields(logrus.Fields{
			"scope":         scope,
			"target_id":     id,
			"connection_id": f.ConnectionID,
			"user_id":       f.UserID,
		}).WithError(f.Err).Warn("realtime delivery dropped")
	}
	logrus.WithFields(logrus.Fields{
		"scope":     scope,
		"target_id": id,
		"delivered": report.Delivered,
		"dropped":   len(report.Failed),
	}).Debug("realtime fan-out")
}
