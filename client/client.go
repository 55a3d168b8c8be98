// Package client implements the client half of the framework: a single
// outbound connection with automatic reconnection, a pending-call
// tracker, and the same symmetric message engine the server uses.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wsrpc/wsrpc"
	"github.com/wsrpc/wsrpc/event"
)

// State is one of the five states of the reconnection state machine.
type State int

const (
	Idle State = iota
	Connecting
	Open
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Unlimited, used as ReconnectionAttempts, means the client retries forever.
const Unlimited = -1

// Sentinel endpoint errors (§7): observable only through events or
// rejected call futures, never encoded on the wire.
var (
	ErrRejectedNotConnected = errors.New("rejected / not connected")
	ErrRejectedDisconnected = errors.New("rejected / disconnected")
	ErrMethodCallTimeout    = errors.New("method call timeout")
	ErrReconnectFailed      = errors.New("reconnect failed")
)

// Options configures a Client. The zero Options is the documented default
// (§4.8): reconnection on, unlimited attempts, 1s/5s/0.5 backoff, 20s call
// timeout, auto-connect on construction, no outbound buffering.
type Options struct {
	// DisableReconnection turns off automatic reconnection. The documented
	// default is reconnection enabled, so - mirroring the teacher's own
	// DisableBuiltin/AllowPush style of negative-sense flags - the zero
	// value of this field already means "on".
	DisableReconnection bool

	ReconnectionAttempts int
	ReconnectionDelay    time.Duration
	ReconnectionDelayMax time.Duration
	ReconnectionJitter   float64
	MethodCallTimeout    time.Duration
	// ManualConnect disables the default auto-connect-on-construction
	// behavior; the caller must call Connect explicitly.
	ManualConnect bool
	Query         map[string]string
	Protocols     []string
	// OutboundBufferSize, if > 0, enables a bounded FIFO that queues
	// frames sent while not Open, flushed in order on the next Open. A
	// pending call's timeout starts only once its frame is flushed.
	OutboundBufferSize int
	VersionMode        wsrpc.VersionMode
	Logger             *slog.Logger
}

func defaultOptions() Options {
	return Options{
		ReconnectionAttempts: Unlimited,
		ReconnectionDelay:    DefaultReconnectionDelay,
		ReconnectionDelayMax: DefaultReconnectionDelayMax,
		ReconnectionJitter:   DefaultReconnectionJitter,
		MethodCallTimeout:    20 * time.Second,
	}
}

func (o *Options) withDefaults() Options {
	out := defaultOptions()
	if o != nil {
		out.DisableReconnection = o.DisableReconnection
		out.ManualConnect = o.ManualConnect
		if o.ReconnectionAttempts != 0 {
			out.ReconnectionAttempts = o.ReconnectionAttempts
		}
		if o.ReconnectionDelay > 0 {
			out.ReconnectionDelay = o.ReconnectionDelay
		}
		if o.ReconnectionDelayMax > 0 {
			out.ReconnectionDelayMax = o.ReconnectionDelayMax
		}
		if o.ReconnectionJitter > 0 {
			out.ReconnectionJitter = o.ReconnectionJitter
		}
		if o.MethodCallTimeout > 0 {
			out.MethodCallTimeout = o.MethodCallTimeout
		}
		out.Query = o.Query
		out.Protocols = o.Protocols
		out.OutboundBufferSize = o.OutboundBufferSize
		out.VersionMode = o.VersionMode
		out.Logger = o.Logger
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Events is the client's named event surface (§6).
type Events struct {
	OnConnecting        event.Bus[struct{}]
	OnConnected         event.Bus[struct{}]
	OnDisconnect        event.Bus[DisconnectEvent]
	OnClose             event.Bus[struct{}]
	OnReconnecting      event.Bus[int]
	OnReconnectError    event.Bus[error]
	OnReconnectFailed   event.Bus[struct{}]
	OnReconnected       event.Bus[int]
	OnErrorResponse     event.Bus[*wsrpc.Response]
	OnNotificationError event.Bus[*wsrpc.Error]
	OnUnknownResponse   event.Bus[*wsrpc.Response]
	OnError             event.Bus[error]
}

// DisconnectEvent carries the close code and reason of a closed transport.
type DisconnectEvent struct {
	Code   int
	Reason string
}

func closeEventFrom(err error) DisconnectEvent {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return DisconnectEvent{Code: ce.Code, Reason: ce.Text}
	}
	return DisconnectEvent{}
}

// Client is one outbound connection to a server, with automatic
// reconnection and per-call timeouts.
type Client struct {
	url      string
	opts     Options
	registry *wsrpc.Registry
	engine   *wsrpc.Engine
	pending  *pendingTable
	backoff  *backoff

	Events Events

	mu            sync.Mutex
	state         State
	conn          *wsConn
	skipReconnect bool
	attempts      int
	outbound      []bufferedFrame
}

// bufferedFrame is one frame queued by Send while disconnected. onFlush,
// when set, arms the originating Call's timeout timer once the frame is
// actually written to the wire.
type bufferedFrame struct {
	data    []byte
	binary  bool
	onFlush func()
}

// NewClient constructs a Client that will connect to url. Unless
// opts.ManualConnect is set, it begins connecting immediately in the
// background.
func NewClient(url string, registry *wsrpc.Registry, opts *Options) *Client {
	o := opts.withDefaults()
	c := &Client{
		url:      url,
		opts:     o,
		registry: registry,
		pending:  newPendingTable(),
		backoff:  newBackoff(o.ReconnectionDelay, o.ReconnectionDelayMax, o.ReconnectionJitter),
	}
	c.pending.onUnknownResponse = func(resp *wsrpc.Response) {
		c.Events.OnUnknownResponse.Emit(resp)
	}
	c.engine = wsrpc.NewEngine(registry, o.VersionMode, wsrpc.Hooks{
		OnMethodResponse:    func(_ wsrpc.Peer, resp *wsrpc.Response) { c.pending.resolve(resp) },
		OnErrorResponse:     func(_ wsrpc.Peer, resp *wsrpc.Response) { c.Events.OnErrorResponse.Emit(resp) },
		OnNotificationError: func(_ wsrpc.Peer, err *wsrpc.Error) { c.Events.OnNotificationError.Emit(err) },
	})
	if !o.ManualConnect {
		c.Connect()
	}
	return c
}

// State reports the client's current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send implements wsrpc.Peer: it is how the engine replies to an inbound
// call from the server, and is also used internally for Notify.
func (c *Client) Send(data []byte, binary bool) error {
	return c.send(data, binary, nil)
}

// send is Send's implementation, plus an optional onFlush hook used by
// Call to arm its pending entry's timeout only once data actually reaches
// the wire - immediately here if Open, or later in attemptConnect's flush
// loop if the frame is queued instead.
func (c *Client) send(data []byte, binary bool, onFlush func()) error {
	c.mu.Lock()
	if c.state == Open {
		conn := c.conn
		c.mu.Unlock()
		err := conn.send(data, binary)
		if err == nil && onFlush != nil {
			onFlush()
		}
		return err
	}
	if c.opts.OutboundBufferSize > 0 && len(c.outbound) < c.opts.OutboundBufferSize {
		c.outbound = append(c.outbound, bufferedFrame{data: data, binary: binary, onFlush: onFlush})
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return ErrRejectedNotConnected
}

// Connect transitions Idle or Closed to Connecting and begins dialing in
// the background. It is a no-op from any other state.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.state != Idle && c.state != Closed {
		c.mu.Unlock()
		return
	}
	c.state = Connecting
	c.skipReconnect = false
	c.attempts = 0
	c.mu.Unlock()

	c.Events.OnConnecting.Emit(struct{}{})
	go c.attemptConnect()
}

// attemptConnect performs one dial attempt, from either Connecting state:
// the first attempt, or a retry after backoff.
func (c *Client) attemptConnect() {
	conn, err := dial(c.url, &c.opts)
	if err != nil {
		c.opts.Logger.Warn("dial failed", "url", c.url, "err", err)
		c.Events.OnError.Emit(err)
		c.handleDisconnected(err, false)
		return
	}

	c.mu.Lock()
	c.state = Open
	c.conn = conn
	reconnected := c.attempts > 0
	attempts := c.attempts
	c.backoff.reset()
	c.attempts = 0
	toFlush := c.outbound
	c.outbound = nil
	c.mu.Unlock()

	for _, frame := range toFlush {
		if err := conn.send(frame.data, frame.binary); err == nil && frame.onFlush != nil {
			frame.onFlush()
		}
	}
	if reconnected {
		c.Events.OnReconnected.Emit(attempts)
	} else {
		c.Events.OnConnected.Emit(struct{}{})
	}

	go c.readLoop(conn)
}

// readLoop hands every inbound frame to the engine until the connection
// fails, then drives the disconnect/reconnect transition.
func (c *Client) readLoop(conn *wsConn) {
	ctx := context.Background()
	for {
		data, binary, err := conn.recv()
		if err != nil {
			c.handleDisconnected(err, true)
			return
		}
		c.engine.Handle(ctx, c, data, binary)
	}
}

// handleDisconnected is invoked both when a dial attempt fails and when an
// established connection drops. wasOpen distinguishes the two so the
// right transition and events fire.
func (c *Client) handleDisconnected(err error, wasOpen bool) {
	c.mu.Lock()
	skip := c.skipReconnect
	c.conn = nil
	c.mu.Unlock()

	if wasOpen {
		c.Events.OnDisconnect.Emit(closeEventFrom(err))
	}

	if skip || c.opts.DisableReconnection {
		c.mu.Lock()
		c.state = Closed
		c.mu.Unlock()
		c.Events.OnClose.Emit(struct{}{})
		c.pending.rejectAll(ErrRejectedDisconnected)
		return
	}

	c.mu.Lock()
	c.attempts++
	attempts := c.attempts
	c.mu.Unlock()

	if err != nil {
		c.opts.Logger.Warn("connection lost", "url", c.url, "err", err)
		c.Events.OnReconnectError.Emit(err)
	}

	if c.opts.ReconnectionAttempts != Unlimited && attempts > c.opts.ReconnectionAttempts {
		c.mu.Lock()
		c.state = Closed
		c.mu.Unlock()
		c.opts.Logger.Warn("giving up reconnecting", "url", c.url, "attempts", attempts)
		c.Events.OnReconnectFailed.Emit(struct{}{})
		c.pending.rejectAll(ErrReconnectFailed)
		return
	}

	c.mu.Lock()
	c.state = Reconnecting
	c.mu.Unlock()
	c.opts.Logger.Warn("reconnecting", "url", c.url, "attempt", attempts)
	c.Events.OnReconnecting.Emit(attempts)

	delay := c.backoff.duration()
	time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.state != Reconnecting {
			c.mu.Unlock()
			return
		}
		c.state = Connecting
		c.mu.Unlock()
		c.attemptConnect()
	})
}

// Disconnect sets skipReconnection, fails every pending call, closes the
// underlying socket if any, and transitions to Closed. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.skipReconnect = true
	conn := c.conn
	c.conn = nil
	c.state = Closed
	c.mu.Unlock()

	if conn != nil {
		conn.close()
	}
	c.pending.rejectAll(ErrRejectedDisconnected)
	c.Events.OnDisconnect.Emit(DisconnectEvent{})
	c.Events.OnClose.Emit(struct{}{})
}

// Call issues a request and blocks until it resolves, the call times out,
// or the connection is lost.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.pending.nextRequestID()
	idRaw, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	frame, err := wsrpc.EncodeCall(idRaw, method, params)
	if err != nil {
		return nil, err
	}

	cl := c.pending.register(id)
	timeout := c.opts.MethodCallTimeout
	if err := c.send(frame, false, func() { c.pending.arm(id, timeout) }); err != nil {
		c.pending.remove(id)
		return nil, err
	}

	type result struct {
		data json.RawMessage
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		data, err := cl.wait()
		resCh <- result{data, err}
	}()

	select {
	case r := <-resCh:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify sends a Notification envelope; it never expects a reply.
func (c *Client) Notify(method string, params any) error {
	frame, err := wsrpc.EncodeNotification(method, params)
	if err != nil {
		return err
	}
	return c.Send(frame, false)
}
