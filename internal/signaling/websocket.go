package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/meshconf/internal/domain"
	"github.com/immxrtalbeast/meshconf/lib/logger/sl"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	defaultSendBuffer = 64
)

// Client is a Channel over a gorilla websocket.
type Client struct {
	conn     *websocket.Conn
	log      *slog.Logger
	incoming chan domain.SignalMessage
	outgoing chan domain.SignalMessage

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to the relay websocket endpoint.
func Dial(ctx context.Context, serverURL string, sendBuffer int, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRelayUnreachable, err)
	}

	c := &Client{
		conn:     conn,
		log:      log.With(slog.String("relay", serverURL)),
		incoming: make(chan domain.SignalMessage, sendBuffer),
		outgoing: make(chan domain.SignalMessage, sendBuffer),
		done:     make(chan struct{}),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.wg.Add(2)
	go c.readPump()
	go c.writePump()

	return c, nil
}

// Send queues msg for the writer. It fails with ErrRelayUnreachable once
// the connection is gone.
func (c *Client) Send(ctx context.Context, msg domain.SignalMessage) error {
	select {
	case <-c.done:
		return ErrRelayUnreachable
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrRelayUnreachable
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Incoming() <-chan domain.SignalMessage {
	return c.incoming
}

// Close is idempotent and waits for both pumps to stop.
func (c *Client) Close() error {
	c.shutdown()
	c.wg.Wait()
	return nil
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) readPump() {
	defer func() {
		c.shutdown()
		_ = c.conn.Close()
		close(c.incoming)
		c.wg.Done()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg domain.SignalMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warn("relay connection lost", sl.Err(err))
			}
			return
		}

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		c.wg.Done()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.shutdown()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}

		case <-c.done:
			c.flush()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever was queued before Close so a final leave-room is
// not lost.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
