package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
	"gitlab.com/timkado/api/leads-router/internal/auth"
	"gitlab.com/timkado/api/leads-router/internal/identity"
	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/realtime"
	"gitlab.com/timkado/api/leads-router/internal/usecase"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
	"gitlab.com/timkado/api/leads-router/pkg/utils"
)

// Application close codes understood by the operator client.
const (
	CloseMissingToken = 4001
	CloseForbidden    = 4003

	maxFrameBytes       = 64 << 10
	defaultPingInterval = 30 * time.Second
	controlWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Operator clients are served from other origins; the token is the gate.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsHandler struct {
	auth         *auth.Authenticator
	hub          *realtime.Hub
	relay        *usecase.Relay
	pingInterval time.Duration
}

// inboundFrame is what operator clients send over the socket.
type inboundFrame struct {
	Action string `json:"action"`
	LeadID uint   `json:"lead_id"`
	Text   string `json:"text"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (h *wsHandler) serve(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)
	token := c.Query("token")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	if token == "" {
		closeWith(conn, CloseMissingToken, "missing token")
		return
	}
	id, err := h.auth.Authenticate(ctx, token)
	if err != nil {
		log.Info("Websocket authentication rejected", zap.Error(err))
		closeWith(conn, CloseForbidden, "forbidden")
		return
	}

	ctx = identity.WithIdentity(ctx, id)
	log = logger.FromContext(ctx)

	defer utils.RecoverWithLog(ctx, "websocket session")
	session := h.hub.Connect(id.OperatorID, conn)
	log.Info("Operator connected")
	defer func() {
		h.hub.Disconnect(id.OperatorID, conn)
		_ = conn.Close()
		log.Info("Operator disconnected")
	}()

	interval := h.pingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(2 * interval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * interval))
	})

	done := make(chan struct{})
	defer close(done)
	utils.SafeGo(func() { keepAlive(conn, interval, done) }, nil)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("Websocket read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * interval))

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Info("Ignoring undecodable websocket frame", zap.Int("bytes", len(data)))
			continue
		}

		switch frame.Action {
		case "send_message":
			h.sendMessage(c, id, session, frame)
		case "ping":
			_ = h.hub.Reply(session, model.LiveEvent{Type: model.LiveEventPong})
		default:
			log.Info("Ignoring websocket frame", zap.String("action", frame.Action))
		}
	}
}

func (h *wsHandler) sendMessage(c *gin.Context, id identity.Identity, session *realtime.Session, frame inboundFrame) {
	ctx := identity.WithIdentity(c.Request.Context(), id)

	var sent *usecase.SentMessage
	err := utils.WrapWithRecovery(ctx, func(ctx context.Context) error {
		var err error
		sent, err = h.relay.OperatorSend(ctx, frame.LeadID, id, frame.Text)
		return err
	})
	if err != nil {
		message := err.Error()
		if statusFor(err) == http.StatusInternalServerError && !apperrors.IsDeliveryFailedError(err) {
			message = "internal error"
		}
		_ = h.hub.Reply(session, errorFrame{Type: model.LiveEventError, Message: message})
		return
	}

	view := sentView(sent)
	_ = h.hub.Reply(session, model.LiveEvent{Type: model.LiveEventMessageSent, LeadID: sent.LeadID, Message: &view})
}

func keepAlive(conn *websocket.Conn, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlWriteTimeout))
	_ = conn.Close()
}
