// Package code defines the JSON-RPC 2.0 error code values shared by the
// engine, the server, and the client.
package code

import "fmt"

// A Code is a JSON-RPC error code. Values from and including -32768 to
// -32000 are reserved by the JSON-RPC specification; any value in that
// range not defined below is reserved for future use.
type Code int32

func (c Code) String() string {
	if s, ok := stdError[c]; ok {
		return s
	}
	return fmt.Sprintf("error code %d", c)
}

// Pre-defined error codes. See https://www.jsonrpc.org/specification#error_object.
const (
	ParseError     Code = -32700 // malformed JSON frame
	InvalidRequest Code = -32600 // wrong shape, bad version, empty batch, ...
	MethodNotFound Code = -32601 // unknown method name
	InvalidParams  Code = -32602 // reserved for handler-raised errors
	InternalError  Code = -32603 // reserved
	ServerError    Code = -32000 // handler threw a non-RPC error
)

var stdError = map[Code]string{
	ParseError:     "Parse error",
	InvalidRequest: "Invalid Request",
	MethodNotFound: "Method not found",
	InvalidParams:  "Invalid params",
	InternalError:  "Internal error",
	ServerError:    "Server error",
}

// Register adds a new Code value with the given default message. It panics
// if value is already registered, so application-defined codes should be
// registered once, at init time.
func Register(value int32, message string) Code {
	c := Code(value)
	if s, ok := stdError[c]; ok {
		panic(fmt.Sprintf("code %d is already registered for %q", c, s))
	}
	stdError[c] = message
	return c
}
