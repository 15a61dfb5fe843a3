package server

import (
	"context"
	"io"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/webai/internal/protocol"
	"github.com/MrWong99/webai/internal/worker"
)

// DefaultReadLimit bounds a single client frame. Images and audio chunks
// arrive as JSON arrays, so this is far above the websocket default.
const DefaultReadLimit = 32 << 20

// Conn adapts a WebSocket connection to [worker.Conn]. Each frame carries one
// JSON-encoded [protocol.Message].
type Conn struct {
	c *websocket.Conn
}

var _ worker.Conn = (*Conn)(nil)

// NewConn wraps c and raises its read limit to readLimit bytes. A
// non-positive readLimit selects [DefaultReadLimit].
func NewConn(c *websocket.Conn, readLimit int64) *Conn {
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	c.SetReadLimit(readLimit)
	return &Conn{c: c}
}

// Read implements worker.Conn. A normal close from the peer yields io.EOF.
func (c *Conn) Read(ctx context.Context) (protocol.Message, error) {
	var msg protocol.Message
	if err := wsjson.Read(ctx, c.c, &msg); err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return protocol.Message{}, io.EOF
		}
		return protocol.Message{}, err
	}
	return msg, nil
}

// Write implements worker.Conn.
func (c *Conn) Write(ctx context.Context, msg protocol.Message) error {
	return wsjson.Write(ctx, c.c, msg)
}

// Close implements worker.Conn.
func (c *Conn) Close(reason string) error {
	return c.c.Close(websocket.StatusNormalClosure, reason)
}
