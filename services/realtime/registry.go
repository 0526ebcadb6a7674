// Package realtime tracks live websocket connections, their submission rooms,
// and fans events out to them.
package realtime

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrUnknownConnection is returned for room operations on an unregistered connection.
var ErrUnknownConnection = errors.New("unknown connection")

// ErrDuplicateConnection is returned when a connection id is registered twice.
var ErrDuplicateConnection = errors.New("connection already registered")

// Registry maps users and submission rooms to live connections.
// All mutations share one lock; readers get copies and never see a partial set.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	byUser map[uint]map[string]*Connection
	rooms  map[uint]map[string]*Connection
}

// Stats summarises registry occupancy.
type Stats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Rooms       int `json:"rooms"`
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		byUser: make(map[uint]map[string]*Connection),
		rooms:  make(map[uint]map[string]*Connection),
	}
}

// Register adds conn under its user. A user may hold many connections.
func (r *Registry) Register(conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.ID]; exists {
		return ErrDuplicateConnection
	}
	r.conns[conn.ID] = conn
	set, ok := r.byUser[conn.UserID]
	if !ok {
		set = make(map[string]*Connection)
		r.byUser[conn.UserID] = set
	}
	set[conn.ID] = conn

	logrus.WithFields(logrus.Fields{
		"connection_id": conn.ID,
		"user_id":       conn.UserID,
		"user_conns":    len(set),
	}).Info("realtime connection registered")
	return nil
}

// Unregister removes the connection from its user and from every room it
// joined, then cancels its pending sends. Unknown ids are ignored.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	if set := r.byUser[conn.UserID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byUser, conn.UserID)
		}
	}
	for roomID := range conn.rooms {
		r.removeFromRoomLocked(roomID, connID)
	}
	conn.rooms = make(map[uint]struct{})
	r.mu.Unlock()

	conn.close()
	logrus.WithFields(logrus.Fields{
		"connection_id": connID,
		"user_id":       conn.UserID,
	}).Info("realtime connection unregistered")
}

// JoinRoom subscribes a connection to a submission room. Joining twice is a no-op.
func (r *Registry) JoinRoom(connID string, submissionID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if _, in := conn.rooms[submissionID]; in {
		return nil
	}
	room, ok := r.rooms[submissionID]
	if !ok {
		room = make(map[string]*Connection)
		r.rooms[submissionID] = room
	}
	room[connID] = conn
	conn.rooms[submissionID] = struct{}{}
	return nil
}

// LeaveRoom unsubscribes a connection. Leaving a room never joined is a no-op.
func (r *Registry) LeaveRoom(connID string, submissionID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	delete(conn.rooms, submissionID)
	r.removeFromRoomLocked(submissionID, connID)
	return nil
}

func (r *Registry) removeFromRoomLocked(submissionID uint, connID string) {
	room := r.rooms[submissionID]
	if room == nil {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, submissionID)
	}
}

// ConnectionsFor returns every live connection of userID.
func (r *Registry) ConnectionsFor(userID uint) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.byUser[userID])
}

// ConnectionsInRoom returns every connection subscribed to the submission room.
func (r *Registry) ConnectionsInRoom(submissionID uint) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.rooms[submissionID])
}

// RoomsOf returns the rooms a connection has joined.
func (r *Registry) RoomsOf(connID string) []uint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	if !ok {
		return nil
	}
	out := make([]uint, 0, len(conn.rooms))
	for id := range conn.rooms {
		out = append(out, id)
	}
	return out
}

// Stats returns current occupancy.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Connections: len(r.conns), Users: len(r.byUser), Rooms: len(r.rooms)}
}

func snapshot(set map[string]*Connection) []*Connection {
	out := make([]*Connection, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}
