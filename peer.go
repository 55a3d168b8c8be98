package wsrpc

import "context"

// Peer is the minimal capability the engine needs from whatever sits on
// the other end of a connection: the ability to transmit a raw frame. Both
// a server-side Session and a Client satisfy this interface, which is what
// lets the engine dispatch identically for either endpoint (see §9 of the
// design: "Implement it polymorphically over the capability set
// {send(frame, isBinary), emit(event, …)}" — the emit half is handled by
// each endpoint's own event.Bus subscriptions, not by this interface).
type Peer interface {
	// Send transmits a raw frame to the peer. binary selects the frame
	// mode; a reply always echoes the mode of the frame that prompted it.
	Send(frame []byte, binary bool) error
}

// A Handler answers a single call. The returned value must be
// JSON-marshalable, or nil. A handler may return a *wsrpc.Error to control
// the wire error sent back to the caller; any other error is wrapped as a
// ServerError (see code.ServerError) whose Data carries the error's text.
//
// The context is the one passed to Engine.Handle. The server and client read
// loops pass context.Background(), so it is not cancelled when the
// connection that carried the request is torn down. A handler invoked for a
// notification may return an error; it is passed to Hooks.OnDispatchError,
// if set, and otherwise discarded; the engine never replies to a
// notification.
type Handler func(ctx context.Context, peer Peer, req *Request) (any, error)

// VersionMode selects how strictly the engine checks the "jsonrpc" field
// of an incoming envelope.
type VersionMode int

const (
	// Strict requires every envelope to carry jsonrpc == "2.0".
	Strict VersionMode = iota
	// Loose allows the jsonrpc field to be omitted, but rejects any value
	// other than "2.0" when it is present.
	Loose
	// Ignore skips the version check entirely.
	Ignore
)

// checkVersion reports whether e satisfies mode.
func checkVersion(mode VersionMode, e *envelope) bool {
	switch mode {
	case Ignore:
		return true
	case Loose:
		return !e.hasVersion || e.version == Version
	default: // Strict
		return e.hasVersion && e.version == Version
	}
}
