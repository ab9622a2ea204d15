package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/nurse-dispatch/internal/engine"
)

var ErrNoSession = errors.New("no websocket session")

// wsSession is one connected nurse app. Writes are serialized per
// connection; gorilla/websocket does not allow concurrent writers.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSRegistry tracks live nurse sessions and pushes lifecycle events to the
// nurse each event concerns. It is both the boundary's session table and a
// notification sink.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*wsSession
}

func NewWSRegistry() *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*wsSession)}
}

// Add registers a nurse's connection, replacing any previous session.
func (r *WSRegistry) Add(nurseID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[nurseID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[nurseID] = &wsSession{conn: conn}
}

// Remove drops a nurse's session, but only if conn is still the registered
// connection. A read loop for a connection that Add already replaced must
// not evict the replacement.
func (r *WSRegistry) Remove(nurseID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[nurseID]; ok && cur.conn == conn {
		delete(r.sessions, nurseID)
	}
}

// Push sends v to one nurse's session if connected.
func (r *WSRegistry) Push(nurseID string, v any) error {
	r.mu.RLock()
	s, ok := r.sessions[nurseID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.send(v)
}

// Deliver implements Sink. Events for nurses without a live session are
// silently skipped; a disconnected nurse is not an error.
func (r *WSRegistry) Deliver(_ context.Context, ev engine.Event) error {
	if ev.NurseID == "" {
		return nil
	}
	if err := r.Push(ev.NurseID, ev); err != nil {
		if errors.Is(err, ErrNoSession) {
			return nil
		}
		return err
	}
	return nil
}
