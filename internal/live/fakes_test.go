package live

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

var errRefused = errors.New("connection refused")

// fakeConn is a scripted connection. Frames pushed with send are returned
// by Read in order; drop makes Read fail as if the server went away.
type fakeConn struct {
	frames  chan []byte
	dropped chan struct{}
	closed  chan struct{}
	once    sync.Once
	dropOne sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames:  make(chan []byte, 64),
		dropped: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) send(frame string) { c.frames <- []byte(frame) }

func (c *fakeConn) drop() { c.dropOne.Do(func() { close(c.dropped) }) }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.dropped:
		return nil, io.EOF
	case <-c.closed:
		return nil, io.ErrClosedPipe
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeDialer hands out queued connections; when the queue is empty it
// refuses the dial.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	calls int
	urls  []string
}

func (d *fakeDialer) queue(conns ...*fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, conns...)
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.urls = append(d.urls, url)
	if len(d.conns) == 0 {
		return nil, errRefused
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// manualClock records scheduled calls instead of running them.
type manualClock struct {
	mu        sync.Mutex
	pending   []*manualTimer
	scheduled chan time.Duration
}

type manualTimer struct {
	f       func()
	mu      sync.Mutex
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

func newManualClock() *manualClock {
	return &manualClock{scheduled: make(chan time.Duration, 64)}
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &manualTimer{f: f}
	c.mu.Lock()
	c.pending = append(c.pending, t)
	c.mu.Unlock()
	c.scheduled <- d
	return t
}

// fire runs the most recently scheduled call if it has not been stopped.
func (c *manualClock) fire(t *testing.T) {
	t.Helper()
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		t.Fatal("no timer pending")
	}
	tm := c.pending[len(c.pending)-1]
	c.pending = c.pending[:len(c.pending)-1]
	c.mu.Unlock()

	tm.mu.Lock()
	stopped := tm.stopped
	tm.stopped = true
	tm.mu.Unlock()
	if !stopped {
		tm.f()
	}
}

// nextDelay waits for the session to schedule a retry.
func (c *manualClock) nextDelay(t *testing.T) time.Duration {
	t.Helper()
	select {
	case d := <-c.scheduled:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a retry to be scheduled")
		return 0
	}
}

// assertNoDelay fails if a retry gets scheduled within a short window.
func (c *manualClock) assertNoDelay(t *testing.T) {
	t.Helper()
	select {
	case d := <-c.scheduled:
		t.Fatalf("unexpected retry scheduled after %v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestSession(t *testing.T, d Dialer, clock Clock) *Session {
	t.Helper()
	s, err := New(Options{
		URL:    "ws://backend.test/ws",
		Dialer: d,
		Clock:  clock,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
