package client

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/wsrpc/wsrpc"
)

// call is a single in-flight request awaiting its response.
type call struct {
	timer *time.Timer
	done  chan struct{}
	once  sync.Once

	result json.RawMessage
	err    error
}

// wait blocks until the call completes (response, timeout, or reject) and
// returns the decoded result or the error. err is either a *wsrpc.Error
// (the call was rejected by the peer) or one of this package's sentinel
// endpoint errors (timeout, disconnect).
func (c *call) wait() (json.RawMessage, error) {
	<-c.done
	return c.result, c.err
}

func (c *call) complete(result json.RawMessage, err error) {
	c.once.Do(func() {
		c.result = result
		c.err = err
		close(c.done)
	})
}

// pendingTable maps an outbound integer request id to its in-flight call,
// per §4.5. It is the client-side half of the pending-call tracker; the
// other half is the timer each call owns for its own timeout.
type pendingTable struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*call

	onUnknownResponse func(resp *wsrpc.Response)
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[int64]*call)}
}

// nextRequestID returns the next monotonically increasing request id.
func (p *pendingTable) nextRequestID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	return id
}

// register records a pending call for id. Its timeout timer does not start
// until arm is called: per OutboundBufferSize's documented semantics, a
// buffered call's clock starts only once its frame is actually flushed to
// the wire, not when it is merely queued.
func (p *pendingTable) register(id int64) *call {
	c := &call{done: make(chan struct{})}
	p.mu.Lock()
	p.entries[id] = c
	p.mu.Unlock()
	return c
}

// arm starts id's timeout timer. It is a no-op if id is no longer pending
// (already resolved, removed, or rejected).
func (p *pendingTable) arm(id int64, timeout time.Duration) {
	p.mu.Lock()
	c, ok := p.entries[id]
	p.mu.Unlock()
	if !ok {
		return
	}
	c.timer = time.AfterFunc(timeout, func() {
		if p.remove(id) {
			c.complete(nil, ErrMethodCallTimeout)
		}
	})
}

// remove deletes the entry for id, reporting whether it was present.
func (p *pendingTable) remove(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.entries[id]
	if !ok {
		return false
	}
	delete(p.entries, id)
	if c.timer != nil {
		c.timer.Stop()
	}
	return true
}

// resolve handles an inbound method_response: it looks the call up by
// numeric id, stops its timer, and completes it with the response's
// result or error. A string id, or an id with no matching entry, is
// reported via onUnknownResponse.
func (p *pendingTable) resolve(resp *wsrpc.Response) {
	id, ok := numericID(resp.ID)
	if !ok {
		p.reportUnknown(resp)
		return
	}
	p.mu.Lock()
	c, found := p.entries[id]
	if found {
		delete(p.entries, id)
		if c.timer != nil {
			c.timer.Stop()
		}
	}
	p.mu.Unlock()
	if !found {
		p.reportUnknown(resp)
		return
	}
	var err error
	if resp.Err != nil {
		err = resp.Err
	}
	c.complete(resp.Result, err)
}

func (p *pendingTable) reportUnknown(resp *wsrpc.Response) {
	if p.onUnknownResponse != nil {
		p.onUnknownResponse(resp)
	}
}

// rejectAll fails every pending call with err and clears the table, used
// on explicit disconnect and on connection loss without reconnection.
func (p *pendingTable) rejectAll(err error) {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[int64]*call)
	p.mu.Unlock()

	for _, c := range entries {
		if c.timer != nil {
			c.timer.Stop()
		}
		c.complete(nil, err)
	}
}

// numericID decodes a response id that must be an integer. Per §4.5,
// string ids are reserved for other uses by this implementation and are
// treated as unknown.
func numericID(raw json.RawMessage) (int64, bool) {
	if raw == nil || string(raw) == "null" {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}
