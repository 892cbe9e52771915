// Package push fans live messages out to every open connection of a user.
// Connections are transport-agnostic: websocket and server-sent events both
// plug in through Conn.
package push

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Conn is one live client connection.
type Conn interface {
	// Send writes one message. An error means the connection is gone.
	Send(msg []byte) error
	Closed() bool
	Close() error
}

// ErrHubClosed is returned by Subscribe after CloseAll.
var ErrHubClosed = errors.New("push hub closed")

// Hub maps users to their open connections.
type Hub struct {
	mu     sync.RWMutex
	conns  map[uuid.UUID]map[Conn]struct{}
	closed bool
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		conns:  make(map[uuid.UUID]map[Conn]struct{}),
		logger: logger,
	}
}

// Subscribe registers c for userID after delivering replay to it. Replay and
// registration happen under the hub lock, so no broadcast can reach c before
// its replay does.
func (h *Hub) Subscribe(userID uuid.UUID, c Conn, replay ...[]byte) error {
	return h.SubscribeFunc(userID, c, func() ([][]byte, error) { return replay, nil })
}

// SubscribeFunc is Subscribe with the replay built under the hub lock. A
// broadcast issued after replay has read its state is delivered to c, so
// nothing falls between the replay and the live stream. replay must not call
// back into the hub.
func (h *Hub) SubscribeFunc(userID uuid.UUID, c Conn, replay func() ([][]byte, error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		_ = c.Close()
		return ErrHubClosed
	}
	msgs, err := replay()
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := c.Send(msg); err != nil {
			_ = c.Close()
			return err
		}
	}

	set, ok := h.conns[userID]
	if !ok {
		set = make(map[Conn]struct{})
		h.conns[userID] = set
	}
	set[c] = struct{}{}

	h.logger.Debug("push connection registered",
		slog.String("user_id", userID.String()),
		slog.Int("connections", len(set)),
	)
	return nil
}

// Unsubscribe removes c.
func (h *Hub) Unsubscribe(userID uuid.UUID, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(userID, c)
}

// Broadcast sends msg to every connection of userID and prunes the ones that
// are closed or fail. It returns the number of deliveries.
func (h *Hub) Broadcast(userID uuid.UUID, msg []byte) int {
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	var dead []Conn
	for _, c := range targets {
		if c.Closed() {
			dead = append(dead, c)
			continue
		}
		if err := c.Send(msg); err != nil {
			h.logger.Debug("push send failed",
				slog.String("user_id", userID.String()),
				slog.Any("error", err),
			)
			dead = append(dead, c)
			continue
		}
		delivered++
	}

	if len(dead) > 0 {
		h.mu.Lock()
		for _, c := range dead {
			_ = c.Close()
			h.remove(userID, c)
		}
		h.mu.Unlock()
	}
	return delivered
}

// CloseAll closes and drops every connection and refuses new ones. Streams
// waiting on Done return, which lets the HTTP server finish shutting down.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	h.closed = true
	conns := h.conns
	h.conns = make(map[uuid.UUID]map[Conn]struct{})
	h.mu.Unlock()

	closed := 0
	for _, set := range conns {
		for c := range set {
			_ = c.Close()
			closed++
		}
	}
	h.logger.Info("push connections closed", slog.Int("connections", closed))
}

// Count returns the number of registered connections for userID.
func (h *Hub) Count(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// must hold h.mu
func (h *Hub) remove(userID uuid.UUID, c Conn) {
	set, ok := h.conns[userID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, userID)
	}
}
