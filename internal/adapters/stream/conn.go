package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkeye/voicebridge/internal/core"
)

const writeWait = 5 * time.Second

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// WsStreamConn is the phone leg of a call. It implements core.StreamSender.
type WsStreamConn struct {
	conn WSConn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

var (
	_ core.StreamSender = (*WsStreamConn)(nil)
	_ WSConn            = (*websocket.Conn)(nil)
)

func NewWsStreamConn(conn WSConn, buffer int) *WsStreamConn {
	if buffer <= 0 {
		buffer = 1
	}
	return &WsStreamConn{conn: conn, send: make(chan []byte, buffer)}
}

// Send queues data for the write pump, waiting at most until ctx is done.
func (c *WsStreamConn) Send(ctx context.Context, data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrStreamClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", core.ErrBackpressure, ctx.Err())
	}
}

func (c *WsStreamConn) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

func (c *WsStreamConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *WsStreamConn) write(mt int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(mt, data)
}
