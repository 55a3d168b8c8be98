package client

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a *websocket.Conn to the send/recv/close surface Client
// needs, serializing writes the same way the server-side adapter does.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

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

func (w *wsConn) recv() (data []byte, binary bool, err error) {
	mt, data, err := w.conn.ReadMessage()
	return data, mt == websocket.BinaryMessage, err
}

func (w *wsConn) close() error { return w.conn.Close() }

const writeWait = 10 * time.Second

// dial opens a single WebSocket connection to rawURL, attaching query and
// protocols from opts.
func dial(rawURL string, opts *Options) (*wsConn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if len(opts.Query) > 0 {
		q := u.Query()
		for k, v := range opts.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	dialer := *websocket.DefaultDialer
	if len(opts.Protocols) > 0 {
		dialer.Subprotocols = opts.Protocols
	}
	conn, _, err := dialer.Dial(u.String(), http.Header{})
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}
