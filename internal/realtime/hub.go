package realtime

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/observer"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
)

const defaultWriteTimeout = 5 * time.Second

// Conn is the part of a websocket connection the hub writes to.
// *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Hub keeps at most one live connection per operator and pushes events to it.
// Delivery is best effort: a failed write drops the connection and the event.
type Hub struct {
	mu           sync.Mutex
	conns        map[uint]*Session
	writeTimeout time.Duration
}

// Session is one registered connection. Every write on the connection goes
// through its writeMu; gorilla connections allow a single concurrent writer.
type Session struct {
	conn    Conn
	writeMu sync.Mutex
}

func NewHub(writeTimeout time.Duration) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Hub{
		conns:        make(map[uint]*Session),
		writeTimeout: writeTimeout,
	}
}

// Connect registers conn for the operator, closing any connection it
// replaces. The returned session is what the connection's owner replies on.
func (h *Hub) Connect(operatorID uint, conn Conn) *Session {
	h.mu.Lock()
	previous := h.conns[operatorID]
	session := previous
	if previous == nil || previous.conn != conn {
		session = &Session{conn: conn}
		h.conns[operatorID] = session
	}
	count := len(h.conns)
	h.mu.Unlock()

	observer.SetRealtimeConnections(count)
	if previous != nil && previous != session {
		logger.Log.Info("Replacing operator connection", zap.Uint("operator_id", operatorID))
		_ = previous.conn.Close()
	}
	return session
}

// Disconnect removes conn if it is still the operator's current connection.
// Calling it more than once is harmless.
func (h *Hub) Disconnect(operatorID uint, conn Conn) {
	h.mu.Lock()
	removed := h.removeLocked(operatorID, conn)
	count := len(h.conns)
	h.mu.Unlock()

	if removed {
		observer.SetRealtimeConnections(count)
	}
}

func (h *Hub) removeLocked(operatorID uint, conn Conn) bool {
	current, ok := h.conns[operatorID]
	if !ok || current.conn != conn {
		return false
	}
	delete(h.conns, operatorID)
	return true
}

// Notify writes event to the operator's connection. It returns false when the
// operator is offline or the write failed.
func (h *Hub) Notify(operatorID uint, event model.LiveEvent) bool {
	h.mu.Lock()
	e, ok := h.conns[operatorID]
	h.mu.Unlock()
	if !ok {
		observer.IncRealtimeNotification(event.Type, "offline")
		return false
	}

	if err := h.write(e, event); err != nil {
		logger.Log.Warn("Dropping operator connection after failed write",
			zap.Uint("operator_id", operatorID),
			zap.String("event", event.Type),
			zap.Error(err))
		observer.IncRealtimeNotification(event.Type, "failed")

		h.mu.Lock()
		removed := h.removeLocked(operatorID, e.conn)
		count := len(h.conns)
		h.mu.Unlock()
		if removed {
			observer.SetRealtimeConnections(count)
			_ = e.conn.Close()
		}
		return false
	}

	observer.IncRealtimeNotification(event.Type, "delivered")
	return true
}

// Reply answers the operator's own request on session. It still works after
// the session was replaced and shares the write lock with any Notify in flight.
func (h *Hub) Reply(session *Session, frame interface{}) error {
	return h.write(session, frame)
}

func (h *Hub) write(e *Session, v interface{}) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
		return err
	}
	return e.conn.WriteJSON(v)
}

func (h *Hub) Connected(operatorID uint) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.conns[operatorID]
	return ok
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll closes every connection, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[uint]*Session)
	h.mu.Unlock()

	for _, e := range conns {
		_ = e.conn.Close()
	}
	observer.SetRealtimeConnections(0)
}
