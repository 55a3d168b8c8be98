package wsrpc

import (
	"bytes"
	"encoding/json"

	"github.com/wsrpc/wsrpc/code"
)

// A Request is an inbound call or notification, decoded from the wire and
// passed to a registered Handler.
type Request struct {
	hasID  bool
	id     json.RawMessage
	method string
	params json.RawMessage
}

// IsNotification reports whether r is a notification: the wire message had
// no "id" key at all.
func (r *Request) IsNotification() bool { return !r.hasID }

// ID returns the raw JSON encoding of the request id, or "" for a
// notification.
func (r *Request) ID() string { return string(r.id) }

// Method reports the method name of the request.
func (r *Request) Method() string { return r.method }

// HasParams reports whether the request carried non-empty parameters.
func (r *Request) HasParams() bool { return len(r.params) != 0 }

// ParamString returns the raw JSON encoding of the request parameters, or
// "" if the request had none.
func (r *Request) ParamString() string { return string(r.params) }

// UnmarshalParams decodes the request parameters into v. If the request
// has no parameters, it returns nil without modifying v.
func (r *Request) UnmarshalParams(v any) error {
	if len(r.params) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.params, v); err != nil {
		return MakeError(code.InvalidParams, "", err.Error())
	}
	return nil
}

// A Response is a reply to a single call, either inbound (delivered to a
// caller's pending request) or outbound (built by the engine to send back
// to a peer).
type Response struct {
	ID     json.RawMessage
	Result json.RawMessage
	Err    *Error
}

// Error returns the error carried by r, or nil if r represents success.
func (r *Response) Error() *Error { return r.Err }

// UnmarshalResult decodes the response result into v. If r carries an
// error, UnmarshalResult returns that error unchanged and leaves v alone.
func (r *Response) UnmarshalResult(v any) error {
	if r.Err != nil {
		return r.Err
	}
	if len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}

// envelope is the wire transmission format of a single JSON-RPC message. It
// is deliberately permissive to decode: validity is checked by the engine,
// not by this type, so that malformed input can still be classified and
// answered with an appropriate error.
type envelope struct {
	hasVersion bool
	version    string

	hasID bool
	id    json.RawMessage // raw value; may literally be "null"

	hasMethod bool
	methodRaw json.RawMessage
	method    string // valid only if methodRaw decodes to a JSON string

	hasParams bool
	params    json.RawMessage

	hasResult bool
	result    json.RawMessage

	hasError bool
	err      *Error

	notObject bool // the raw item was not a JSON object at all
}

// decodeEnvelope parses a single JSON value (already known to be syntactically
// valid JSON) into an envelope. It never fails: structural problems are
// recorded on the envelope for the engine to turn into protocol errors.
func decodeEnvelope(raw json.RawMessage) *envelope {
	e := new(envelope)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		e.notObject = true
		return e
	}
	if v, ok := obj["jsonrpc"]; ok {
		e.hasVersion = true
		json.Unmarshal(v, &e.version) // best-effort; a bad type fails the version check
	}
	if v, ok := obj["id"]; ok {
		e.hasID = true
		e.id = v
	}
	if v, ok := obj["method"]; ok {
		e.hasMethod = true
		e.methodRaw = v
		json.Unmarshal(v, &e.method) // best-effort; non-string leaves method == ""
	}
	if v, ok := obj["params"]; ok {
		e.hasParams = true
		e.params = v
	}
	if v, ok := obj["result"]; ok {
		e.hasResult = true
		e.result = v
	}
	if v, ok := obj["error"]; ok {
		e.hasError = true
		var errObj Error
		if json.Unmarshal(v, &errObj) == nil {
			e.err = &errObj
		}
	}
	return e
}

// isResponse implements the classification rule of the data model: an
// envelope is a Response iff it carries an id key and either a result or an
// error key.
func (e *envelope) isResponse() bool {
	return e.hasID && (e.hasResult || e.hasError)
}

// idIsNull reports whether the id key, when present, is the literal JSON
// null.
func (e *envelope) idIsNull() bool { return isNull(e.id) }

// buildResponseID returns the id to use on an outbound reply to e: the
// envelope's own id if it had one, else the literal JSON null.
func (e *envelope) buildResponseID() json.RawMessage {
	if e.hasID {
		return e.id
	}
	return jsonNull
}

var jsonNull = json.RawMessage("null")

// isNull reports whether msg is exactly the 4-byte JSON literal null.
func isNull(msg json.RawMessage) bool {
	return len(msg) == 4 && msg[0] == 'n' && msg[1] == 'u' && msg[2] == 'l' && msg[3] == 'l'
}

// firstByte returns the first non-whitespace byte of data, or 0 if data
// has none.
func firstByte(data []byte) byte {
	clean := bytes.TrimSpace(data)
	if len(clean) == 0 {
		return 0
	}
	return clean[0]
}
