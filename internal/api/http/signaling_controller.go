package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/meshconf/internal/domain"
	"github.com/immxrtalbeast/meshconf/internal/service"
	"github.com/immxrtalbeast/meshconf/lib/logger/sl"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	defaultMaxMessageBytes = 64 * 1024
)

// SignalingController turns each websocket into one relay peer. A single
// reader feeds the relay and a single writer drains the peer queue, which
// keeps per-recipient delivery in order.
type SignalingController struct {
	relay           service.RelayInteractor
	log             *slog.Logger
	upgrader        websocket.Upgrader
	maxMessageBytes int64
}

func NewSignalingController(relay service.RelayInteractor, maxMessageBytes int64, log *slog.Logger) *SignalingController {
	if log == nil {
		log = slog.Default()
	}
	if maxMessageBytes <= 0 {
		maxMessageBytes = defaultMaxMessageBytes
	}
	return &SignalingController{
		relay:           relay,
		log:             log,
		maxMessageBytes: maxMessageBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (c *SignalingController) Connect(ctx *gin.Context) {
	const op = "api.http.signaling.connect"
	log := c.log.With(slog.String("op", op), slog.String("remote", ctx.ClientIP()))

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Warn("failed to upgrade connection", sl.Err(err))
		return
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	peer := c.relay.Connect(sessionCtx)
	log = log.With(slog.String("peer_id", peer.ID))

	done := make(chan struct{})
	go c.writePump(conn, peer, done, log)

	c.readPump(sessionCtx, conn, peer, log)

	c.relay.Disconnect(sessionCtx, peer)
	<-done
}

func (c *SignalingController) readPump(ctx context.Context, conn *websocket.Conn, peer *domain.Peer, log *slog.Logger) {
	conn.SetReadLimit(c.maxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		peer.Touch()
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Info("connection closed unexpectedly", sl.Err(err))
			}
			return
		}
		peer.Touch()

		var msg domain.SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug("malformed message", sl.Err(err))
			peer.EnqueueEvent(domain.ErrorMessage("malformed message"))
			continue
		}

		if err := c.relay.HandleSignal(ctx, peer, &msg); err != nil {
			if !errors.Is(err, service.ErrUnsupportedType) {
				log.Debug("signal rejected", slog.String("type", msg.Type), sl.Err(err))
			}
			peer.EnqueueEvent(domain.ErrorMessage(err.Error()))
		}
	}
}

func (c *SignalingController) writePump(conn *websocket.Conn, peer *domain.Peer, done chan<- struct{}, log *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		close(done)
	}()

	for {
		select {
		case msg, ok := <-peer.Events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug("write failed", sl.Err(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
