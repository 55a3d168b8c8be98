package wsrpc

import (
	"encoding/json"

	"github.com/wsrpc/wsrpc/code"
)

// EncodeNotification builds the wire bytes for a Notification envelope
// (a Request with no id). It is used by both a server Session's Notify
// method and a Client's Notify method.
func EncodeNotification(method string, params any) ([]byte, error) {
	p, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return encodeSingle(requestMessage(nil, method, p))
}

// EncodeCall builds the wire bytes for a Request envelope carrying id.
func EncodeCall(id json.RawMessage, method string, params any) ([]byte, error) {
	p, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return encodeSingle(requestMessage(id, method, p))
}

// marshalParams validates and encodes params. JSON-RPC requires that, when
// present, parameters are an array or an object; nil means "no parameters".
func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	if fb := firstByte(raw); fb != '{' && fb != '[' {
		return nil, MakeError(code.InvalidRequest, "invalid parameters: array or object required", nil)
	}
	return raw, nil
}
