package room

import (
	"context"

	"github.com/coder/websocket"
)

// WSConn adapts a coder/websocket connection to Conn, used by the relay
// daemon's HTTP handler (cmd/diaryx-relayd) to drive a Room.
type WSConn struct {
	conn *websocket.Conn
}

// NewWSConn wraps an already-accepted WebSocket connection.
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

func (c *WSConn) Send(ctx context.Context, kind MessageKind, data []byte) error {
	wsType := websocket.MessageBinary
	if kind == KindText {
		wsType = websocket.MessageText
	}
	return c.conn.Write(ctx, wsType, data)
}

// Read blocks for the next message from the peer, reporting whether it
// arrived as a binary sync frame or a text control message.
func (c *WSConn) Read(ctx context.Context) (kind MessageKind, data []byte, err error) {
	wsType, data, err := c.conn.Read(ctx)
	if err != nil {
		return 0, nil, err
	}
	if wsType == websocket.MessageText {
		return KindText, data, nil
	}
	return KindBinary, data, nil
}

// Close closes the underlying connection with a normal closure.
func (c *WSConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
