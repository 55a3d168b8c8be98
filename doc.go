// Package wsrpc implements the symmetric half of a bidirectional JSON-RPC
// 2.0 framework: the envelope types, the stateless codec, and the message
// engine that parses, validates, classifies, and dispatches incoming
// frames. It is used identically by both the server (see wsrpc/server) and
// the client (see wsrpc/client); only the concrete Peer differs.
//
// The engine never touches a network socket. Callers hand it a Peer (the
// capability to send a reply) and a frame of bytes, and the engine reports
// back zero or more outbound frames by calling Peer.Send. This mirrors a
// persistent, full-duplex transport such as a WebSocket connection without
// depending on any particular transport library.
package wsrpc

// Version is the only JSON-RPC protocol version this package understands.
const Version = "2.0"
