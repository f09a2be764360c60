package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	sendBufferSize = 64
	writeWait      = 10 * time.Second
	pongWait       = 90 * time.Second
	pingPeriod     = 30 * time.Second
)

// Conn wraps one websocket client: its subscriptions and a buffered
// outbound queue drained by a single writer goroutine, so concurrent
// stream loops never interleave writes on the socket.
type Conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	// subs is guarded by the owning manager's lock.
	subs map[string]*Subscription

	ctx    context.Context
	cancel context.CancelFunc
}

func newConn(parent context.Context, id string, ws *websocket.Conn) *Conn {
	ctx, cancel := context.WithCancel(parent)
	return &Conn{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		subs:   make(map[string]*Subscription),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the connection's assigned identity.
func (c *Conn) ID() string { return c.id }

// enqueue offers a frame to the writer without blocking. A full buffer
// means the client is not keeping up; the frame is dropped and the
// caller decides whether that matters.
func (c *Conn) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// enqueueJSON marshals v and offers it to the writer.
func (c *Conn) enqueueJSON(v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("conn", c.id).Msg("Marshalling outbound frame")
		return false
	}
	return c.enqueue(payload)
}

// writePump is the single socket writer. It also owns the ping cadence;
// exit closes the socket, which unblocks the read loop.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Str("conn", c.id).Msg("Write failed, closing connection")
				c.cancel()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
