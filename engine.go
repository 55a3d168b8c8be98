package wsrpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wsrpc/wsrpc/code"
)

// Hooks lets an endpoint observe engine-internal events without the engine
// needing to know anything about sessions, rooms, or reconnection. A
// Server wires these into its own and its Sessions' public event busses; a
// Client wires OnMethodResponse into its pending-call tracker and the rest
// into its own event busses. Any field left nil is simply not called.
type Hooks struct {
	// OnResponse fires for every inbound envelope classified as a
	// Response, before it is further routed.
	OnResponse func(peer Peer, resp *Response)

	// OnMethodResponse fires for a Response whose id is non-null: a reply
	// to a call this endpoint issued.
	OnMethodResponse func(peer Peer, resp *Response)

	// OnErrorResponse fires for a well-formed Response with id == null
	// that carries an error object.
	OnErrorResponse func(peer Peer, resp *Response)

	// OnNotificationError fires when an incoming id == null error
	// Response carries a code outside the parse/invalid-request band —
	// i.e. a genuine application error the sender wants observed, not a
	// protocol-level complaint the sender already knows about.
	OnNotificationError func(peer Peer, err *Error)

	// OnDispatchError fires whenever a registered handler returns a
	// non-nil error, for both calls and notifications. For a
	// notification this is the only trace of the failure: the wire
	// protocol never replies to one.
	OnDispatchError func(peer Peer, method string, err error)
}

// Engine is the parser/dispatcher described by the message-pair engine
// component: decode, validate, classify, dispatch, correlate, and emit
// structured errors. It is symmetric and is used identically by a server
// session and a client connection; only the Peer and the Hooks differ.
type Engine struct {
	registry *Registry
	version  VersionMode
	hooks    Hooks
}

// NewEngine constructs an Engine bound to registry, checking the jsonrpc
// version field according to mode, and reporting internal events to hooks.
func NewEngine(registry *Registry, mode VersionMode, hooks Hooks) *Engine {
	return &Engine{registry: registry, version: mode, hooks: hooks}
}

// Handle decodes frame (a single text or binary WebSocket payload), which
// may contain a single JSON-RPC envelope or a batch, dispatches every call
// and notification it contains, and sends back whatever responses result,
// on the same peer and in the same frame mode (binary) as the input. It
// reports an error only if writing the reply frame fails; malformed input
// is answered on the wire, never returned as a Go error.
func (e *Engine) Handle(ctx context.Context, peer Peer, frame []byte, binary bool) error {
	items, batch, err := decodeFrame(frame)
	if err != nil {
		return e.sendSingle(peer, binary, buildError(jsonNull, code.ParseError, "Invalid JSON", nil))
	}
	if batch && len(items) == 0 {
		return e.sendSingle(peer, binary, buildError(jsonNull, code.InvalidRequest, "", errEmptyArrayData))
	}

	var outs []outMessage
	for _, item := range items {
		if m := e.processOne(ctx, peer, item); m != nil {
			outs = append(outs, *m)
		}
	}
	if len(outs) == 0 {
		return nil
	}

	var bits []byte
	if batch {
		bits, err = encodeBatch(outs)
	} else {
		bits, err = encodeSingle(outs[0])
	}
	if err != nil {
		return err
	}
	return peer.Send(bits, binary)
}

func (e *Engine) sendSingle(peer Peer, binary bool, m outMessage) error {
	bits, err := encodeSingle(m)
	if err != nil {
		return err
	}
	return peer.Send(bits, binary)
}

func buildError(id json.RawMessage, c code.Code, message string, data any) outMessage {
	return outMessage{JSONRPC: Version, ID: id, Error: MakeError(c, message, data)}
}

// processOne implements the per-item state machine of the message engine:
// determine the reply id, check the protocol version, classify the item as
// a response, call, or notification, and dispatch accordingly. It returns
// the reply to send, or nil if none is due.
func (e *Engine) processOne(ctx context.Context, peer Peer, raw json.RawMessage) *outMessage {
	env := decodeEnvelope(raw)
	if env.notObject {
		m := buildError(jsonNull, code.InvalidRequest, "", nil)
		return &m
	}
	rid := env.buildResponseID()

	if !checkVersion(e.version, env) {
		m := buildError(rid, code.InvalidRequest, "Invalid JSON-RPC Version", nil)
		return &m
	}

	if env.isResponse() {
		return e.processResponse(peer, env)
	}
	return e.processCall(ctx, peer, env, rid)
}

func (e *Engine) processResponse(peer Peer, env *envelope) *outMessage {
	resp := &Response{ID: env.id}
	if env.hasResult {
		resp.Result = env.result
	}
	if env.hasError {
		resp.Err = env.err
	}
	if e.hooks.OnResponse != nil {
		e.hooks.OnResponse(peer, resp)
	}

	if !env.idIsNull() {
		if e.hooks.OnMethodResponse != nil {
			e.hooks.OnMethodResponse(peer, resp)
		}
		return nil
	}

	if !env.hasError || env.err == nil {
		// A response-shaped envelope with id == null and no error object is
		// garbage: it claims to be a reply to nothing in particular.
		m := buildError(jsonNull, code.InvalidRequest, "", nil)
		return &m
	}

	if e.hooks.OnErrorResponse != nil {
		e.hooks.OnErrorResponse(peer, resp)
	}
	if env.err.Code == code.ParseError || env.err.Code == code.InvalidRequest {
		return nil // the peer already knows; nothing more to do
	}
	if e.hooks.OnNotificationError != nil {
		e.hooks.OnNotificationError(peer, env.err)
	}
	return nil
}

func (e *Engine) processCall(ctx context.Context, peer Peer, env *envelope, rid json.RawMessage) *outMessage {
	// A Notification (no id) never produces a wire reply, even when it
	// names no method, an unregistered method, or malformed params: the
	// failure is discarded here rather than threaded through to a
	// handler call that could never happen anyway.
	if !env.hasMethod || isNull(env.methodRaw) {
		if !env.hasID {
			return nil
		}
		m := buildError(rid, code.MethodNotFound, "Method not specified", nil)
		return &m
	}
	var method string
	if json.Unmarshal(env.methodRaw, &method) != nil {
		if !env.hasID {
			return nil
		}
		m := buildError(rid, code.InvalidRequest, "Invalid type of method name", nil)
		return &m
	}
	if method == "" {
		if !env.hasID {
			return nil
		}
		m := buildError(rid, code.MethodNotFound, "Method not specified", nil)
		return &m
	}
	if env.hasParams && !isNull(env.params) {
		if fb := firstByte(env.params); fb != '{' && fb != '[' {
			if !env.hasID {
				return nil
			}
			m := buildError(rid, code.InvalidRequest, "", nil)
			return &m
		}
	}

	handler := e.registry.Lookup(method)
	if handler == nil {
		if !env.hasID {
			return nil
		}
		m := buildError(rid, code.MethodNotFound, "", nil)
		return &m
	}

	req := &Request{hasID: env.hasID, id: env.id, method: method, params: env.params}
	if isNull(req.params) {
		req.params = nil
	}

	val, err := handler(ctx, peer, req)
	if err != nil && e.hooks.OnDispatchError != nil {
		e.hooks.OnDispatchError(peer, method, err)
	}

	if req.IsNotification() {
		return nil // notifications never produce a wire reply, success or failure
	}

	if err != nil {
		outErr, ok := AsError(err)
		if !ok {
			outErr = MakeError(code.ServerError, errorKind(err), err.Error())
		}
		return &outMessage{JSONRPC: Version, ID: rid, Error: outErr}
	}

	result, merr := json.Marshal(val)
	if merr != nil {
		m := buildError(rid, code.InternalError, merr.Error(), nil)
		return &m
	}
	if val == nil {
		result = jsonNull
	}
	return &outMessage{JSONRPC: Version, ID: rid, Result: result}
}

// errorKind names the concrete type of a non-RPC error returned by a
// handler, used as the Message of the resulting ServerError.
func errorKind(err error) string { return fmt.Sprintf("%T", err) }
