package rtm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrNoConnection = errors.New("rtm: no active connection")
	ErrHandleActive = errors.New("rtm: a connection is already active")
)

// Handle publishes the single active websocket so the heartbeat monitor can
// write to it. The read loop owns the connection; the handle only lends it.
type Handle struct {
	mu   sync.Mutex
	conn *websocket.Conn

	// writeMu serializes frames; gorilla allows one writer at a time.
	writeMu sync.Mutex
}

func (h *Handle) Set(conn *websocket.Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil {
		return ErrHandleActive
	}
	h.conn = conn
	return nil
}

// Clear drops conn if it is still the active connection.
func (h *Handle) Clear(conn *websocket.Conn) {
	h.mu.Lock()
	if h.conn == conn {
		h.conn = nil
	}
	h.mu.Unlock()
}

func (h *Handle) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

// WriteJSON sends v as a text frame on the active connection. A slow write
// does not hold up Set, Clear or Close; closing the conn fails the write.
func (h *Handle) WriteJSON(v interface{}) error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return ErrNoConnection
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}

// Close closes and drops the active connection, if any.
func (h *Handle) Close() {
	h.mu.Lock()
	conn := h.conn
	h.conn = nil
	h.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Wait polls every poll until a connection is active or ctx is done.
func (h *Handle) Wait(ctx context.Context, poll time.Duration) error {
	if h.Active() {
		return nil
	}
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if h.Active() {
				return nil
			}
		}
	}
}
