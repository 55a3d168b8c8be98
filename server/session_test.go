package server

import (
	"sync"
	"testing"
	"time"
)

// fakeTransport is mutated by Session's write loop goroutine and read by
// test goroutines, so every field access goes through its mutex.
type fakeTransport struct {
	mu     sync.Mutex
	sent   [][]byte
	pings  int
	closed bool
}

func (f *fakeTransport) send(data []byte, binary bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return nil
}
func (f *fakeTransport) ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return nil
}
func (f *fakeTransport) sendClose(int, string) error { return nil }
func (f *fakeTransport) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// waitForCount polls got until it returns want or the deadline passes,
// accounting for the write loop goroutine applying a queued send/ping
// asynchronously.
func waitForCount(t *testing.T, want int, got func() int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for count %d, last saw %d", want, got())
}

func TestSessionJoinLeaveIdempotent(t *testing.T) {
	sess := newSession(&fakeTransport{})
	if !sess.JoinTo("room-a") {
		t.Fatal("first join should report true")
	}
	if sess.JoinTo("room-a") {
		t.Fatal("second join should report false")
	}
	if !sess.InRoom("room-a") {
		t.Fatal("expected membership in room-a")
	}
	if !sess.LeaveFrom("room-a") {
		t.Fatal("first leave should report true")
	}
	if sess.LeaveFrom("room-a") {
		t.Fatal("second leave should report false")
	}
}

func TestSessionLeaveFromAll(t *testing.T) {
	sess := newSession(&fakeTransport{})
	sess.JoinTo("a")
	sess.JoinTo("b")
	if !sess.LeaveFromAll() {
		t.Fatal("expected true: session was in rooms")
	}
	if sess.InRoom("a") || sess.InRoom("b") {
		t.Fatal("expected no room membership after LeaveFromAll")
	}
	if sess.LeaveFromAll() {
		t.Fatal("expected false: already empty")
	}
}

func TestSessionDataScratch(t *testing.T) {
	sess := newSession(&fakeTransport{})
	if _, ok := sess.Get("k"); ok {
		t.Fatal("expected no value before Set")
	}
	sess.Set("k", 42)
	v, ok := sess.Get("k")
	if !ok || v != 42 {
		t.Fatalf("got (%v, %v), want (42, true)", v, ok)
	}
}

func TestSessionCloseClearsStateAndDropsSend(t *testing.T) {
	ft := &fakeTransport{}
	sess := newSession(ft)
	sess.JoinTo("room")
	sess.Set("k", "v")

	sess.Terminate()

	if sess.IsOpen() {
		t.Fatal("expected session closed after Terminate")
	}
	if sess.InRoom("room") {
		t.Fatal("expected rooms cleared after close")
	}
	if _, ok := sess.Get("k"); ok {
		t.Fatal("expected data cleared after close")
	}
	if !ft.isClosed() {
		t.Fatal("expected underlying transport closed")
	}
	if err := sess.Send([]byte("x"), false); err != nil {
		t.Fatalf("Send after close should be a silent no-op, got error: %v", err)
	}
	if ft.sentCount() != 0 {
		t.Fatal("expected no frame sent after close")
	}
}

func TestSessionTerminateIsIdempotent(t *testing.T) {
	sess := newSession(&fakeTransport{})
	sess.Terminate()
	sess.Terminate() // must not panic or double-emit
	if sess.IsOpen() {
		t.Fatal("expected closed")
	}
}

func TestSessionIDStable(t *testing.T) {
	sess := newSession(&fakeTransport{})
	id := sess.ID()
	if id == "" {
		t.Fatal("expected non-empty id")
	}
	if sess.ID() != id {
		t.Fatal("id must not change across calls")
	}
}

func TestSessionIDsDistinct(t *testing.T) {
	a := newSession(&fakeTransport{})
	b := newSession(&fakeTransport{})
	if a.ID() == b.ID() {
		t.Fatal("expected distinct session ids")
	}
}

func TestSessionHeartbeatState(t *testing.T) {
	sess := newSession(&fakeTransport{})
	pending, last := sess.heartbeatState()
	if pending || last != 0 {
		t.Fatalf("expected initial (false, 0), got (%v, %v)", pending, last)
	}

	sess.markPingSent()
	pending, _ = sess.heartbeatState()
	if !pending {
		t.Fatal("expected pending after markPingSent")
	}

	sess.markPong(12345)
	pending, last = sess.heartbeatState()
	if pending || last != 12345 {
		t.Fatalf("expected (false, 12345), got (%v, %v)", pending, last)
	}
}
