package wsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wsrpc/wsrpc/code"
)

// recordingPeer captures every frame sent to it, in order.
type recordingPeer struct {
	sent []sentFrame
}

type sentFrame struct {
	data   []byte
	binary bool
}

func (p *recordingPeer) Send(data []byte, binary bool) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	p.sent = append(p.sent, sentFrame{data: cp, binary: binary})
	return nil
}

func (p *recordingPeer) last() map[string]any {
	if len(p.sent) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(p.sent[len(p.sent)-1].data, &m); err != nil {
		return nil
	}
	return m
}

func newTestEngine(reg *Registry) *Engine {
	return NewEngine(reg, Strict, Hooks{})
}

func TestCallWithResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register("myMethod", func(ctx context.Context, peer Peer, req *Request) (any, error) {
		return map[string]any{"a": []string{"the return value"}}, nil
	})
	eng := newTestEngine(reg)
	peer := new(recordingPeer)

	err := eng.Handle(context.Background(), peer, []byte(`{"jsonrpc":"2.0","id":1,"method":"myMethod"}`), false)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got := peer.last()
	if got == nil {
		t.Fatal("no response sent")
	}
	result, ok := got["result"].(map[string]any)
	if !ok {
		t.Fatalf("result = %v, want object", got["result"])
	}
	a, _ := result["a"].([]any)
	if len(a) != 1 || a[0] != "the return value" {
		t.Errorf("result.a = %v, want [the return value]", a)
	}
}

func TestMethodNotFound(t *testing.T) {
	eng := newTestEngine(NewRegistry())
	peer := new(recordingPeer)

	err := eng.Handle(context.Background(), peer, []byte(`{"jsonrpc":"2.0","id":1,"method":"myMethod"}`), false)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got := peer.last()
	errObj, ok := got["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error in response: %v", got)
	}
	if c, _ := errObj["code"].(float64); int(c) != int(code.MethodNotFound) {
		t.Errorf("error.code = %v, want %d", errObj["code"], code.MethodNotFound)
	}
}

func TestNotificationNeverReplies(t *testing.T) {
	eng := newTestEngine(NewRegistry()) // unknown method, on purpose
	peer := new(recordingPeer)

	if err := eng.Handle(context.Background(), peer, []byte(`{"jsonrpc":"2.0","method":"ghost"}`), false); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(peer.sent) != 0 {
		t.Errorf("notification produced a reply: %v", peer.sent)
	}
}

func TestNotificationHandlerErrorNeverReplies(t *testing.T) {
	reg := NewRegistry()
	reg.Register("boom", func(ctx context.Context, peer Peer, req *Request) (any, error) {
		return nil, errors.New("kaboom")
	})
	eng := newTestEngine(reg)
	peer := new(recordingPeer)

	if err := eng.Handle(context.Background(), peer, []byte(`{"jsonrpc":"2.0","method":"boom"}`), false); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(peer.sent) != 0 {
		t.Errorf("notification with handler error produced a reply: %v", peer.sent)
	}
}

func TestParseError(t *testing.T) {
	eng := newTestEngine(NewRegistry())
	peer := new(recordingPeer)

	if err := eng.Handle(context.Background(), peer, []byte(`@@@@@`), false); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got := peer.last()
	errObj := got["error"].(map[string]any)
	if c, _ := errObj["code"].(float64); int(c) != int(code.ParseError) {
		t.Errorf("error.code = %v, want %d", errObj["code"], code.ParseError)
	}
	if got["id"] != nil {
		t.Errorf("id = %v, want nil", got["id"])
	}
}

func TestInvalidRequest(t *testing.T) {
	eng := newTestEngine(NewRegistry())
	peer := new(recordingPeer)

	if err := eng.Handle(context.Background(), peer, []byte(`{}`), false); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got := peer.last()
	errObj := got["error"].(map[string]any)
	if c, _ := errObj["code"].(float64); int(c) != int(code.InvalidRequest) {
		t.Errorf("error.code = %v, want %d", errObj["code"], code.InvalidRequest)
	}
}

func TestEmptyBatchIsInvalidRequest(t *testing.T) {
	eng := newTestEngine(NewRegistry())
	peer := new(recordingPeer)

	if err := eng.Handle(context.Background(), peer, []byte(`[]`), false); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got := peer.last()
	errObj := got["error"].(map[string]any)
	if got["error"] == nil || errObj["data"] != "Empty Array" {
		t.Errorf("error = %v, want data \"Empty Array\"", errObj)
	}
}

func TestBatchResponsesOrderedOmitNotifications(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", func(ctx context.Context, peer Peer, req *Request) (any, error) {
		var n [1]int
		req.UnmarshalParams(&n)
		return n[0], nil
	})
	eng := newTestEngine(reg)
	peer := new(recordingPeer)

	batch := `[
		{"jsonrpc":"2.0","id":1,"method":"echo","params":[1]},
		{"jsonrpc":"2.0","method":"echo","params":[99]},
		{"jsonrpc":"2.0","id":2,"method":"echo","params":[2]}
	]`
	if err := eng.Handle(context.Background(), peer, []byte(batch), false); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	var arr []map[string]any
	if err := json.Unmarshal(peer.sent[0].data, &arr); err != nil {
		t.Fatalf("response is not a batch array: %v", err)
	}
	want := []map[string]any{
		{"jsonrpc": "2.0", "id": float64(1), "result": float64(1)},
		{"jsonrpc": "2.0", "id": float64(2), "result": float64(2)},
	}
	if diff := cmp.Diff(want, arr); diff != "" {
		t.Errorf("batch response mismatch (-want +got):\n%s", diff)
	}
}

func TestAllNotificationBatchProducesNoReply(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ping", func(ctx context.Context, peer Peer, req *Request) (any, error) { return "pong", nil })
	eng := newTestEngine(reg)
	peer := new(recordingPeer)

	batch := `[{"jsonrpc":"2.0","method":"ping"},{"jsonrpc":"2.0","method":"ping"}]`
	if err := eng.Handle(context.Background(), peer, []byte(batch), false); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(peer.sent) != 0 {
		t.Errorf("all-notification batch produced a reply: %v", peer.sent)
	}
}

func TestVersionModes(t *testing.T) {
	reg := NewRegistry()
	reg.Register("m", func(ctx context.Context, peer Peer, req *Request) (any, error) { return true, nil })

	t.Run("strict rejects missing version", func(t *testing.T) {
		eng := NewEngine(reg, Strict, Hooks{})
		peer := new(recordingPeer)
		eng.Handle(context.Background(), peer, []byte(`{"id":1,"method":"m"}`), false)
		errObj := peer.last()["error"].(map[string]any)
		if int(errObj["code"].(float64)) != int(code.InvalidRequest) {
			t.Errorf("strict: error = %v", errObj)
		}
	})

	t.Run("loose accepts missing version", func(t *testing.T) {
		eng := NewEngine(reg, Loose, Hooks{})
		peer := new(recordingPeer)
		eng.Handle(context.Background(), peer, []byte(`{"id":1,"method":"m"}`), false)
		got := peer.last()
		if got["result"] != true {
			t.Errorf("loose: result = %v, want true", got["result"])
		}
	})

	t.Run("loose rejects wrong version", func(t *testing.T) {
		eng := NewEngine(reg, Loose, Hooks{})
		peer := new(recordingPeer)
		eng.Handle(context.Background(), peer, []byte(`{"jsonrpc":"1.0","id":1,"method":"m"}`), false)
		errObj := peer.last()["error"].(map[string]any)
		if int(errObj["code"].(float64)) != int(code.InvalidRequest) {
			t.Errorf("loose: error = %v", errObj)
		}
	})

	t.Run("ignore accepts anything", func(t *testing.T) {
		eng := NewEngine(reg, Ignore, Hooks{})
		peer := new(recordingPeer)
		eng.Handle(context.Background(), peer, []byte(`{"jsonrpc":"bogus","id":1,"method":"m"}`), false)
		got := peer.last()
		if got["result"] != true {
			t.Errorf("ignore: result = %v, want true", got["result"])
		}
	})
}

func TestResponseClassificationRoutesHooks(t *testing.T) {
	var methodResp, errResp, notifErr int
	hooks := Hooks{
		OnMethodResponse:    func(Peer, *Response) { methodResp++ },
		OnErrorResponse:     func(Peer, *Response) { errResp++ },
		OnNotificationError: func(Peer, *Error) { notifErr++ },
	}
	eng := NewEngine(NewRegistry(), Strict, hooks)
	peer := new(recordingPeer)

	// A reply to a call we issued: routed to OnMethodResponse only.
	eng.Handle(context.Background(), peer, []byte(`{"jsonrpc":"2.0","id":5,"result":"ok"}`), false)
	if methodResp != 1 {
		t.Errorf("methodResp = %d, want 1", methodResp)
	}

	// An error response with id:null and a code outside parse/invalid-request:
	// routed to both OnErrorResponse and OnNotificationError.
	eng.Handle(context.Background(), peer, []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32601,"message":"Method not found"}}`), false)
	if errResp != 1 || notifErr != 1 {
		t.Errorf("errResp=%d notifErr=%d, want 1,1", errResp, notifErr)
	}

	// An error response with id:null and a parse/invalid-request code is
	// absorbed silently.
	eng.Handle(context.Background(), peer, []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`), false)
	if errResp != 2 || notifErr != 1 {
		t.Errorf("after absorbed error: errResp=%d notifErr=%d, want 2,1", errResp, notifErr)
	}
	if len(peer.sent) != 0 {
		t.Errorf("response branch produced a wire reply: %v", peer.sent)
	}
}

func TestArrayParamsAccepted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("sum", func(ctx context.Context, peer Peer, req *Request) (any, error) {
		var xs []int
		req.UnmarshalParams(&xs)
		total := 0
		for _, x := range xs {
			total += x
		}
		return total, nil
	})
	eng := newTestEngine(reg)
	peer := new(recordingPeer)
	eng.Handle(context.Background(), peer, []byte(`{"jsonrpc":"2.0","id":1,"method":"sum","params":[1,2,3]}`), false)
	got := peer.last()
	if got["result"].(float64) != 6 {
		t.Errorf("result = %v, want 6", got["result"])
	}
}

func TestInvalidParamsType(t *testing.T) {
	reg := NewRegistry()
	reg.Register("m", func(ctx context.Context, peer Peer, req *Request) (any, error) { return nil, nil })
	eng := newTestEngine(reg)
	peer := new(recordingPeer)
	eng.Handle(context.Background(), peer, []byte(`{"jsonrpc":"2.0","id":1,"method":"m","params":"bad"}`), false)
	errObj := peer.last()["error"].(map[string]any)
	if int(errObj["code"].(float64)) != int(code.InvalidRequest) {
		t.Errorf("error = %v, want InvalidRequest", errObj)
	}
}

func TestHandlerErrorBecomesServerError(t *testing.T) {
	reg := NewRegistry()
	reg.Register("boom", func(ctx context.Context, peer Peer, req *Request) (any, error) {
		return nil, errors.New("kaboom")
	})
	eng := newTestEngine(reg)
	peer := new(recordingPeer)
	eng.Handle(context.Background(), peer, []byte(`{"jsonrpc":"2.0","id":1,"method":"boom"}`), false)
	errObj := peer.last()["error"].(map[string]any)
	if int(errObj["code"].(float64)) != int(code.ServerError) {
		t.Errorf("code = %v, want %d", errObj["code"], code.ServerError)
	}
	if errObj["data"] != "kaboom" {
		t.Errorf("data = %v, want kaboom", errObj["data"])
	}
}

func TestHandlerReturnedErrorPassesThrough(t *testing.T) {
	reg := NewRegistry()
	reg.Register("div", func(ctx context.Context, peer Peer, req *Request) (any, error) {
		return nil, MakeError(code.InvalidParams, "zero divisor", nil)
	})
	eng := newTestEngine(reg)
	peer := new(recordingPeer)
	eng.Handle(context.Background(), peer, []byte(`{"jsonrpc":"2.0","id":1,"method":"div"}`), false)
	errObj := peer.last()["error"].(map[string]any)
	if int(errObj["code"].(float64)) != int(code.InvalidParams) {
		t.Errorf("code = %v, want %d", errObj["code"], code.InvalidParams)
	}
	if errObj["message"] != "zero divisor" {
		t.Errorf("message = %v, want \"zero divisor\"", errObj["message"])
	}
}

func TestBinaryModeEchoed(t *testing.T) {
	reg := NewRegistry()
	reg.Register("m", func(ctx context.Context, peer Peer, req *Request) (any, error) { return 1, nil })
	eng := newTestEngine(reg)
	peer := new(recordingPeer)
	eng.Handle(context.Background(), peer, []byte(`{"jsonrpc":"2.0","id":1,"method":"m"}`), true)
	if !peer.sent[0].binary {
		t.Error("reply was not sent in binary mode")
	}
}
