package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxbridge/voxbridge/pkg/platform"
)

// closeGracePeriod bounds the close-frame write during teardown.
const closeGracePeriod = time.Second

// wsConn adapts a gorilla websocket connection to [platform.Conn].
type wsConn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var _ platform.Conn = (*wsConn)(nil)

func newWSConn(ws *websocket.Conn) *wsConn { return &wsConn{ws: ws} }

// Read returns the next platform message. A context deadline becomes the
// socket's read deadline; cancellation is otherwise delivered by closing the
// connection, which unblocks the pending read.
func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(deadline)
	} else {
		_ = c.ws.SetReadDeadline(time.Time{})
	}
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("server: read platform message: %w", err)
	}
	return data, nil
}

// Write sends one text message. Serialised because the bridge's run loop and
// teardown path may race on the socket.
func (c *wsConn) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("server: write platform message: %w", err)
	}
	return nil
}

// Close sends a normal-closure frame carrying reason, then tears the socket
// down. Safe to call more than once.
func (c *wsConn) Close(reason string) error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// replayConn prepends messages the handshake already consumed so the bridge
// still observes the full message sequence, session start included.
type replayConn struct {
	platform.Conn
	pending [][]byte
}

func (c *replayConn) Read(ctx context.Context) ([]byte, error) {
	if len(c.pending) > 0 {
		msg := c.pending[0]
		c.pending = c.pending[1:]
		return msg, nil
	}
	return c.Conn.Read(ctx)
}
