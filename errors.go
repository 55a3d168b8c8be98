package wsrpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wsrpc/wsrpc/code"
)

// Error is the concrete type of a JSON-RPC error object, both on the wire
// and as a Go error value returned to callers.
type Error struct {
	Code    code.Code       `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error satisfies the error interface.
func (e *Error) Error() string { return fmt.Sprintf("[%d] %s", e.Code, e.Message) }

// ErrCode reports the JSON-RPC code carried by e.
func (e *Error) ErrCode() code.Code { return e.Code }

// defaultMessage is the built-in message used when MakeError is called
// without an override.
var defaultMessage = map[code.Code]string{
	code.ParseError:     "Parse error",
	code.InvalidRequest: "Invalid Request",
	code.MethodNotFound: "Method not found",
	code.InvalidParams:  "Invalid params",
	code.InternalError:  "Internal error",
	code.ServerError:    "Server error",
}

// MakeError constructs a well-formed JSON-RPC error object for c. If
// message is non-empty it overrides the built-in default text for c. data
// is attached only when it is non-nil; a nil data value is never encoded
// as a literal JSON null.
func MakeError(c code.Code, message string, data any) *Error {
	msg := message
	if msg == "" {
		if s, ok := defaultMessage[c]; ok {
			msg = s
		} else {
			msg = c.String()
		}
	}
	e := &Error{Code: c, Message: msg}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return e
}

// Errorf is a convenience wrapper that builds an error with the given code
// whose message is the printf-style formatting of format and args.
func Errorf(c code.Code, format string, args ...any) *Error {
	return MakeError(c, fmt.Sprintf(format, args...), nil)
}

// AsError reports whether err is (or wraps) a *wsrpc.Error, and returns it.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// errEmptyArrayData is the data attached to an InvalidRequest error produced
// for an empty batch (a JSON array with no elements).
const errEmptyArrayData = "Empty Array"
