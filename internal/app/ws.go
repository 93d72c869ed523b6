package app

import (
	"context"
	"sync"
	"time"

	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/realtime"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// client is the websocket side of one realtime connection. Frames queued by
// the hub are written by a single writer goroutine; a full queue means the
// client is too slow and it gets disconnected.
type client struct {
	ws              *websocket.Conn
	send            chan []byte
	done            chan struct{}
	closeOnce       sync.Once
	maxMessageBytes int64
	logger          zerolog.Logger
}

func newClient(ws *websocket.Conn, buffer int, maxMessageBytes int64, logger zerolog.Logger) *client {
	if buffer <= 0 {
		buffer = 256
	}
	return &client{
		ws:              ws,
		send:            make(chan []byte, buffer),
		done:            make(chan struct{}),
		maxMessageBytes: maxMessageBytes,
		logger:          logger,
	}
}

func (c *client) Deliver(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// run pumps frames until either side goes away, then detaches conn from the
// hub.
func (c *client) run(ctx context.Context, hub *realtime.Hub, conn *realtime.Conn) {
	logger := c.logger.With().Str("connection_id", conn.ID()).Logger()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(ctx, logger)
	}()

	c.readPump(ctx, hub, conn, logger)
	c.Close()
	<-writerDone
	hub.Disconnect(conn)
}

func (c *client) readPump(ctx context.Context, hub *realtime.Hub, conn *realtime.Conn, logger zerolog.Logger) {
	if c.maxMessageBytes > 0 {
		c.ws.SetReadLimit(c.maxMessageBytes)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		hub.HandleFrame(ctx, conn, frame)
	}
}

func (c *client) writePump(ctx context.Context, logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.closeWith(websocket.CloseNormalClosure, "")
			return
		case <-ctx.Done():
			c.closeWith(websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}

func (c *client) closeWith(code int, text string) {
	c.flush()
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// flush writes frames already queued, such as a final error frame, before the
// close handshake.
func (c *client) flush() {
	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
