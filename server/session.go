package server

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/wsrpc/wsrpc"
	"github.com/wsrpc/wsrpc/event"
)

// pongPending is the sentinel last_pong_at value meaning "a ping has been
// sent and no pong has been observed for it yet".
const pongPending = -1

// DefaultSendQueueSize bounds each session's outbound queue (see outbox
// below), matching the buffered-channel size leonletto-thrum's connection
// wrapper uses for the same purpose.
const DefaultSendQueueSize = 256

// errSendQueueFull is returned by Send and the internal ping path when a
// session's outbound queue is saturated: a persistently full queue means a
// stalled peer, not something worth blocking the caller over. Close drops
// its close frame instead when the queue is full.
var errSendQueueFull = errors.New("wsrpc/server: send queue full")

// transport is the narrow capability a Session needs from its underlying
// socket. *wsConn satisfies it; tests substitute a fake.
type transport interface {
	send(data []byte, binary bool) error
	ping() error
	sendClose(code int, reason string) error
	close() error
}

type outboxKind int

const (
	outboxData outboxKind = iota
	outboxPing
	outboxClose
)

// outboxItem is one queued write: a data frame, a ping, or a close
// handshake. The write loop is the only goroutine that ever touches the
// underlying transport, so frames queued from different callers (a reply
// from the read loop, a Broadcast, the heartbeat ticker) never interleave.
type outboxItem struct {
	kind   outboxKind
	data   []byte
	binary bool
	code   int
	reason string
}

// SessionEvents is the subset of the server's named event surface that is
// scoped to a single session: close, error_response, notification_error.
type SessionEvents struct {
	OnClose              event.Bus[struct{}]
	OnErrorResponse      event.Bus[*wsrpc.Response]
	OnNotificationError  event.Bus[*wsrpc.Error]
}

// Session wraps one accepted connection. It owns a stable id, room
// membership, a user-data scratch map, and the heartbeat bookkeeping
// (last_pong_at). All of its mutable state is guarded by its own mutex, not
// the Server's, per the one-mutex-per-session concurrency rule. Every
// outbound write passes through outbox to its dedicated write loop
// goroutine, so a single slow session can never block a caller fanning
// out to many sessions at once.
type Session struct {
	id   string
	conn transport

	Events SessionEvents

	mu       sync.Mutex
	open     bool
	rooms    map[string]struct{}
	data     map[string]any
	lastPong int64 // milliseconds, or pongPending
	outbox   chan outboxItem
}

func newSession(conn transport) *Session {
	s := &Session{
		id:     uuid.NewString(),
		conn:   conn,
		open:   true,
		rooms:  make(map[string]struct{}),
		data:   make(map[string]any),
		outbox: make(chan outboxItem, DefaultSendQueueSize),
	}
	go s.writeLoop()
	return s
}

// writeLoop drains outbox until it is closed (by markClosed), issuing each
// queued write on the underlying transport in order. It is the only
// goroutine that ever calls conn.send/ping/sendClose.
func (s *Session) writeLoop() {
	for item := range s.outbox {
		switch item.kind {
		case outboxData:
			s.conn.send(item.data, item.binary)
		case outboxPing:
			s.conn.ping()
		case outboxClose:
			s.conn.sendClose(item.code, item.reason)
		}
	}
}

// ID returns the session's stable UUIDv4 identifier. It never changes for
// the lifetime of the session.
func (s *Session) ID() string { return s.id }

// Send implements wsrpc.Peer. It is a no-op if the underlying socket is not
// open. Otherwise it queues the frame on outbox for the write loop and
// returns immediately; it reports errSendQueueFull rather than blocking if
// the queue is saturated.
func (s *Session) Send(data []byte, binary bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	select {
	case s.outbox <- outboxItem{kind: outboxData, data: data, binary: binary}:
		return nil
	default:
		return errSendQueueFull
	}
}

// Notify builds a Notification envelope for method/params and sends it as
// text, the same encoding path the Client uses for its own Notify.
func (s *Session) Notify(method string, params any) error {
	frame, err := wsrpc.EncodeNotification(method, params)
	if err != nil {
		return err
	}
	return s.Send(frame, false)
}

// JoinTo adds room to the session's membership. It is idempotent: it
// reports true iff the session was not already a member.
func (s *Session) JoinTo(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room]; ok {
		return false
	}
	s.rooms[room] = struct{}{}
	return true
}

// LeaveFrom removes room from the session's membership, reporting true iff
// it was a member.
func (s *Session) LeaveFrom(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room]; !ok {
		return false
	}
	delete(s.rooms, room)
	return true
}

// LeaveFromAll clears every room membership, reporting true iff the
// session belonged to at least one room.
func (s *Session) LeaveFromAll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	had := len(s.rooms) > 0
	s.rooms = make(map[string]struct{})
	return had
}

// InRoom reports whether the session currently belongs to room.
func (s *Session) InRoom(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[room]
	return ok
}

// IsOpen reports whether the underlying socket is in the OPEN state.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Get reads a user-data key.
func (s *Session) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Set writes a user-data key. The data map is user-owned scratch space; the
// session never interprets its contents.
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Close performs a polite close handshake: it queues a close control frame
// on outbox ahead of markClosed shutting the queue down, then tears down
// the connection.
func (s *Session) Close(code int, reason string) error {
	s.mu.Lock()
	if s.open {
		select {
		case s.outbox <- outboxItem{kind: outboxClose, code: code, reason: reason}:
		default:
		}
	}
	s.mu.Unlock()
	s.markClosed()
	return s.conn.close()
}

// Terminate performs an abortive close with no handshake, used by the
// heartbeat when a session has gone silent.
func (s *Session) Terminate() error {
	s.markClosed()
	return s.conn.close()
}

// markClosed flips the session to closed, clears rooms and data, and shuts
// down outbox, per the lifecycle rule: "post-close, rooms and data are
// cleared and no further sends succeed." It is idempotent. Closing outbox
// happens under the same lock that gates every enqueue attempt in
// Send/ping/Close, so a concurrent caller either enqueues before this point
// or observes s.open == false and never touches the channel after.
func (s *Session) markClosed() {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	s.open = false
	s.rooms = make(map[string]struct{})
	s.data = make(map[string]any)
	close(s.outbox)
	s.mu.Unlock()
	s.Events.OnClose.Emit(struct{}{})
}

// markPingSent records that a ping was just issued and no pong has been
// observed for it yet.
func (s *Session) markPingSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPong = pongPending
}

// markPong records a pong received at nowMS.
func (s *Session) markPong(nowMS int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPong = nowMS
}

// heartbeatState reports whether a ping is still outstanding and, if not,
// the timestamp of the last observed pong.
func (s *Session) heartbeatState() (pending bool, lastPongMS int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPong == pongPending, s.lastPong
}

// ping queues a ping control frame for the write loop, if open. It reports
// errSendQueueFull rather than blocking if outbox is saturated.
func (s *Session) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	select {
	case s.outbox <- outboxItem{kind: outboxPing}:
		return nil
	default:
		return errSendQueueFull
	}
}

// handleFrame decodes and dispatches one inbound frame through engine,
// using s as the replying Peer.
func (s *Session) handleFrame(ctx context.Context, engine *wsrpc.Engine, data []byte, binary bool) error {
	return engine.Handle(ctx, s, data, binary)
}
