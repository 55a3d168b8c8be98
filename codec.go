package wsrpc

import (
	"bytes"
	"encoding/json"
)

// outMessage is the wire transmission shape of a single outbound JSON-RPC
// message, whether a call/notification we are sending or a response we are
// replying with.
type outMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func requestMessage(id json.RawMessage, method string, params json.RawMessage) outMessage {
	return outMessage{JSONRPC: Version, ID: id, Method: method, Params: params}
}

func responseMessage(r *Response) outMessage {
	m := outMessage{JSONRPC: Version, ID: r.ID}
	if r.Err != nil {
		m.Error = r.Err
	} else {
		m.Result = r.Result
		if m.Result == nil {
			m.Result = jsonNull
		}
	}
	return m
}

// encodeSingle marshals a single outbound message.
func encodeSingle(m outMessage) ([]byte, error) { return json.Marshal(m) }

// encodeBatch marshals a non-empty slice of outbound messages as a JSON
// array, preserving order.
func encodeBatch(ms []outMessage) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, m := range ms {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// decodeFrame parses a single JSON value or a non-empty JSON array of
// values from a text or binary frame. It reports an error only if the raw
// bytes are not syntactically valid JSON; the caller is responsible for
// rejecting a syntactically valid but semantically empty array.
func decodeFrame(data []byte) (items []json.RawMessage, batch bool, err error) {
	if firstByte(data) != '[' {
		var single json.RawMessage
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, false, err
		}
		return []json.RawMessage{single}, false, nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, false, err
	}
	return arr, true, nil
}
