package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds how long a control frame (ping, close) may take to
// reach the peer before we give up on it.
const writeWait = 10 * time.Second

// wsConn adapts a *websocket.Conn to the narrow send/receive/control
// surface Session and Server need. gorilla/websocket requires that writes
// to a single connection be serialized by the caller; this type owns that
// serialization so the rest of the package never has to think about it.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSConn(c *websocket.Conn) *wsConn { return &wsConn{conn: c} }

// send writes a single text or binary message frame.
func (w *wsConn) send(data []byte, binary bool) error {
	mt := websocket.TextMessage
	if binary {
		mt = websocket.BinaryMessage
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(mt, data)
}

// ping writes a ping control frame.
func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// sendClose writes a close control frame. The caller is still responsible
// for closing the underlying connection afterward.
func (w *wsConn) sendClose(code int, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	return w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// recv blocks for the next complete inbound frame. It reports binary=true
// for a BinaryMessage frame and false for TextMessage; any control frame
// is handled internally by gorilla/websocket's ping/pong/close handlers
// and never reaches this method.
func (w *wsConn) recv() (data []byte, binary bool, err error) {
	mt, data, err := w.conn.ReadMessage()
	return data, mt == websocket.BinaryMessage, err
}

// close abortively tears down the connection.
func (w *wsConn) close() error { return w.conn.Close() }

// remoteAddr reports the peer's network address, for logging.
func (w *wsConn) remoteAddr() string { return w.conn.RemoteAddr().String() }
