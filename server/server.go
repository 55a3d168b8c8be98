// Package server implements the server half of the framework: a session
// registry keyed by UUID, room-based fan-out, and a heartbeat ticker that
// terminates silent connections, sitting on top of the symmetric message
// engine in package wsrpc.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/wsrpc/wsrpc"
	"github.com/wsrpc/wsrpc/event"
)

// Default construction options, mirroring §4.7's frozen defaults.
const (
	DefaultPingTimeout  = 5 * time.Second
	DefaultPingInterval = 25 * time.Second
)

var errAlreadyOpen = errors.New("wsrpc/server: already open")

// ConnectionEvent carries the session and originating request delivered on
// the connection event.
type ConnectionEvent struct {
	Session *Session
	Request *http.Request
}

// SessionErrorEvent pairs a session with the error observed on it, used
// for the server-level error_response and notification_error events.
type SessionErrorEvent struct {
	Session *Session
	Err     *wsrpc.Error
}

// Events is the server's named event surface (§6): listening, connection,
// error, error_response, notification_error.
type Events struct {
	OnListening          event.Bus[struct{}]
	OnConnection         event.Bus[ConnectionEvent]
	OnError              event.Bus[error]
	OnErrorResponse      event.Bus[SessionErrorEvent]
	OnNotificationError  event.Bus[SessionErrorEvent]
}

// Options configures a Server. A nil *Options is the documented default,
// which opens immediately; a non-nil Options with Open false does not.
type Options struct {
	// PingTimeout is the window, after a ping is issued, in which a pong
	// must be observed.
	PingTimeout time.Duration
	// PingInterval is the heartbeat tick period.
	PingInterval time.Duration
	// Open starts listening as soon as NewServer returns.
	Open bool
	// VersionMode controls how strictly incoming envelopes are checked
	// for jsonrpc == "2.0".
	VersionMode wsrpc.VersionMode
	// Concurrency bounds concurrent frame dispatch server-wide. Zero
	// means unbounded.
	Concurrency int64
	// Upgrader configures the WebSocket handshake. A permissive default
	// (any origin) is used when nil.
	Upgrader *websocket.Upgrader
	// Logger receives structured diagnostics. A discarding logger is
	// used when nil.
	Logger *slog.Logger
}

func (o *Options) withDefaults() *Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = DefaultPingTimeout
	}
	if out.PingInterval <= 0 {
		out.PingInterval = DefaultPingInterval
	}
	if out.Upgrader == nil {
		out.Upgrader = &websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		}
	}
	if out.Logger == nil {
		out.Logger = slog.New(slog.NewTextHandler(discardWriter{}, nil))
	}
	return &out
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Server owns the session table, the method registry, and the heartbeat
// ticker. It accepts connections via its UpgradeHandler method, or through
// Open, which runs its own http.Server.
type Server struct {
	registry *wsrpc.Registry
	engine   *wsrpc.Engine
	opts     *Options
	metrics  *Metrics

	Events Events

	sem *semaphore.Weighted

	mu         sync.Mutex
	sessions   map[string]*Session
	lastPingAt int64
	heartStop  chan struct{}
	httpSrv    *http.Server
	opened     bool
}

// NewServer constructs a Server bound to registry. If opts.Open is true
// (or opts is nil, matching the documented default), it immediately calls
// Open(addr).
func NewServer(registry *wsrpc.Registry, addr string, opts *Options) (*Server, error) {
	o := opts.withDefaults()
	open := opts == nil || opts.Open

	s := &Server{
		registry: registry,
		opts:     o,
		metrics:  newMetrics(),
		sessions: make(map[string]*Session),
	}
	if o.Concurrency > 0 {
		s.sem = semaphore.NewWeighted(o.Concurrency)
	}
	s.engine = wsrpc.NewEngine(registry, o.VersionMode, wsrpc.Hooks{
		OnErrorResponse:     s.onErrorResponse,
		OnNotificationError: s.onNotificationError,
		OnDispatchError:     s.onDispatchError,
	})

	if open {
		if err := s.Open(addr); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// onErrorResponse and onNotificationError adapt the engine's Hooks,
// which only know about wsrpc.Peer, back into the server/session event
// surface, which knows about sessions.
func (s *Server) onErrorResponse(peer wsrpc.Peer, resp *wsrpc.Response) {
	sess, ok := peer.(*Session)
	if !ok {
		return
	}
	sess.Events.OnErrorResponse.Emit(resp)
	s.Events.OnErrorResponse.Emit(SessionErrorEvent{Session: sess, Err: resp.Err})
}

func (s *Server) onDispatchError(peer wsrpc.Peer, method string, err error) {
	s.metrics.dispatchErrors.Inc()
	s.opts.Logger.Warn("handler error", "method", method, "err", err)
}

func (s *Server) onNotificationError(peer wsrpc.Peer, err *wsrpc.Error) {
	sess, ok := peer.(*Session)
	if !ok {
		return
	}
	sess.Events.OnNotificationError.Emit(err)
	s.Events.OnNotificationError.Emit(SessionErrorEvent{Session: sess, Err: err})
	s.metrics.notificationErrors.Inc()
}

// UpgradeHandler returns an http.Handler that upgrades every request to a
// WebSocket connection and registers it as a Session. Use this to mount
// the server on an existing mux instead of letting it run its own
// http.Server via Open.
func (s *Server) UpgradeHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.opts.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.Events.OnError.Emit(err)
			return
		}
		s.accept(conn, r)
	})
}

// Open creates the underlying http.Server bound to addr, starts the
// heartbeat ticker, and emits the listening event. It returns
// errAlreadyOpen if called twice.
func (s *Server) Open(addr string) error {
	s.mu.Lock()
	if s.opened {
		s.mu.Unlock()
		return errAlreadyOpen
	}
	s.opened = true
	s.lastPingAt = nowMS()
	s.heartStop = make(chan struct{})
	mux := http.NewServeMux()
	mux.Handle("/", s.UpgradeHandler())
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	s.mu.Unlock()

	ln, err := newListener(addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Events.OnError.Emit(err)
		}
	}()
	go s.heartbeatLoop()
	s.Events.OnListening.Emit(struct{}{})
	return nil
}

func (s *Server) heartbeatLoop() {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.heartStop:
			return
		case <-ticker.C:
			s.heartbeatTick()
		}
	}
}

// heartbeatTick implements §4.7's tick rule exactly: a session is
// terminated if its last ping is still pending, or if the last observed
// pong postdates the deadline computed from the previous tick; otherwise
// a fresh ping is issued and the session is marked pending again.
func (s *Server) heartbeatTick() {
	deadline := s.lastPingAt + s.opts.PingTimeout.Milliseconds()
	now := nowMS()

	for _, sess := range s.Snapshot() {
		pending, lastPong := sess.heartbeatState()
		if pending || lastPong > deadline {
			sess.Terminate()
			s.metrics.heartbeatTerminations.Inc()
			continue
		}
		sess.markPingSent()
		sess.ping()
	}
	s.lastPingAt = now
}

func nowMS() int64 { return time.Now().UnixMilli() }

func newListener(addr string) (net.Listener, error) { return net.Listen("tcp", addr) }

// accept wires up a freshly upgraded connection as a Session: installs the
// pong handler, inserts it into the session table, emits connection, and
// runs its read loop until the connection closes.
func (s *Server) accept(conn *websocket.Conn, r *http.Request) {
	wc := newWSConn(conn)
	sess := newSession(wc)

	conn.SetPongHandler(func(string) error {
		sess.markPong(nowMS())
		return nil
	})

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	s.metrics.sessionsConnected.Inc()
	s.Events.OnConnection.Emit(ConnectionEvent{Session: sess, Request: r})

	s.readLoop(sess, wc)
}

func (s *Server) readLoop(sess *Session, wc *wsConn) {
	ctx := context.Background()
	defer s.remove(sess)
	for {
		data, binary, err := wc.recv()
		if err != nil {
			return
		}
		s.metrics.framesIn.Inc()
		if s.sem != nil {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return
			}
			sess.handleFrame(ctx, s.engine, data, binary)
			s.sem.Release(1)
		} else {
			sess.handleFrame(ctx, s.engine, data, binary)
		}
	}
}

// remove detaches a session on close: removes it from the table, clears
// its rooms and data (via markClosed, already idempotent), and updates
// metrics.
func (s *Server) remove(sess *Session) {
	s.mu.Lock()
	_, existed := s.sessions[sess.id]
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	sess.markClosed()
	if existed {
		s.metrics.sessionsConnected.Dec()
	}
}

// Snapshot returns every currently registered session. The caller owns
// the returned slice; later changes to the session table are not
// reflected in it.
func (s *Server) Snapshot() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// Lookup returns the session registered under id, if any.
func (s *Server) Lookup(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// In returns a snapshot mapping id -> session of the current members of
// room. The snapshot does not track subsequent membership changes.
func (s *Server) In(room string) map[string]*Session {
	out := make(map[string]*Session)
	for _, sess := range s.Snapshot() {
		if sess.InRoom(room) {
			out[sess.id] = sess
		}
	}
	return out
}

// Broadcast encodes a Notification envelope once and sends it to every
// session.
func (s *Server) Broadcast(method string, params any) error {
	frame, err := wsrpc.EncodeNotification(method, params)
	if err != nil {
		return err
	}
	sessions := s.Snapshot()
	for _, sess := range sessions {
		sess.Send(frame, false)
	}
	s.metrics.framesOut.Add(float64(len(sessions)))
	return nil
}

// NotifyTo encodes a Notification envelope once and sends it to every
// member of room.
func (s *Server) NotifyTo(room, method string, params any) error {
	frame, err := wsrpc.EncodeNotification(method, params)
	if err != nil {
		return err
	}
	members := s.In(room)
	for _, sess := range members {
		sess.Send(frame, false)
	}
	s.metrics.framesOut.Add(float64(len(members)))
	return nil
}

// SendTo sends an arbitrary already-encoded payload to every member of
// room, preserving the frame mode given by binary.
func (s *Server) SendTo(room string, raw []byte, binary bool) {
	members := s.In(room)
	for _, sess := range members {
		sess.Send(raw, binary)
	}
	s.metrics.framesOut.Add(float64(len(members)))
}

// Close clears the heartbeat timer, terminates every session, shuts down
// the underlying HTTP server, and empties the session table. It is
// idempotent once closed.
func (s *Server) Close() error {
	s.mu.Lock()
	s.opened = false
	srv := s.httpSrv
	stop := s.heartStop
	s.httpSrv = nil
	s.heartStop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	for _, sess := range s.Snapshot() {
		sess.Terminate()
	}
	s.mu.Lock()
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
	return nil
}
