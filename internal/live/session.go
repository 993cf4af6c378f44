// Package live maintains the realtime connection to the backend event stream
// and folds incoming events into a session snapshot.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/healdash/internal/domain"
	"github.com/ashureev/healdash/internal/protocol"
)

var (
	// ErrClosed is returned by WaitConnected after Close.
	ErrClosed = errors.New("live session closed")
	// ErrRetriesExhausted is returned by WaitConnected once the retry budget is spent.
	ErrRetriesExhausted = errors.New("max retries reached")
)

const defaultDialTimeout = 10 * time.Second

// Conn is one open connection to the event stream.
type Conn interface {
	// Read blocks until the next text frame arrives.
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens connections to the event stream.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Clock schedules delayed calls. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Update is delivered to subscribers after every snapshot or connection change.
type Update struct {
	Snapshot domain.Snapshot
	Status   domain.ConnectionStatus
}

// Options configures a Session.
type Options struct {
	URL         string
	Dialer      Dialer
	Clock       Clock
	Backoff     Backoff
	DialTimeout time.Duration
	Logger      *slog.Logger
}

type listener struct {
	id int
	fn func(Update)
}

// Session owns one realtime connection and the snapshot folded from it.
//
// All mutation happens under mu. Every dial chain carries an epoch; reader
// goroutines and retry timers from an older epoch are ignored, so nothing
// from a replaced connection can touch the snapshot.
type Session struct {
	url         string
	dialer      Dialer
	clock       Clock
	dialTimeout time.Duration
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	snap       domain.Snapshot
	state      domain.ConnectionState
	backoff    Backoff
	exhausted  bool
	epoch      uint64
	conn       Conn
	connCancel context.CancelFunc
	dialing    bool
	timer      Timer
	closed     bool
	changed    chan struct{}
	listeners  []listener
	nextID     int

	// notifyMu keeps listener delivery in mutation order.
	notifyMu sync.Mutex
}

// New creates a disconnected session. Call StartConnection or Begin to connect.
func New(opts Options) (*Session, error) {
	if opts.Dialer == nil {
		return nil, fmt.Errorf("live: dialer is required")
	}
	if opts.URL == "" {
		return nil, fmt.Errorf("live: url is required")
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	b := opts.Backoff
	b = NewBackoff(b.Base, b.Max, b.Factor, b.MaxRetries)

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		url:         opts.URL,
		dialer:      opts.Dialer,
		clock:       opts.Clock,
		dialTimeout: opts.DialTimeout,
		logger:      opts.Logger,
		ctx:         ctx,
		cancel:      cancel,
		snap:        domain.EmptySnapshot(),
		state:       domain.StateDisconnected,
		backoff:     b,
		changed:     make(chan struct{}),
	}, nil
}

// URL returns the event stream address.
func (s *Session) URL() string {
	return s.url
}

// StartConnection opens the connection unless one is already open or opening.
// It always resets the retry counters first, which revives a session whose
// retries were exhausted.
func (s *Session) StartConnection() {
	s.mu.Lock()
	if s.closed || s.conn != nil || s.dialing {
		s.mu.Unlock()
		return
	}
	s.stopTimerLocked()
	s.epoch++
	s.backoff.Reset()
	s.exhausted = false
	s.dialLocked()
	s.unlockAndNotify()
}

// ClearSession resets every per-session field to its empty value.
func (s *Session) ClearSession() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.snap = domain.EmptySnapshot()
	s.unlockAndNotify()
}

// Begin starts a new session: the snapshot is cleared and tagged with
// sessionID, any existing connection is force-closed, and a fresh one is opened.
func (s *Session) Begin(sessionID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stopTimerLocked()
	s.dropConnLocked()
	s.epoch++
	s.dialing = false
	s.snap = domain.EmptySnapshot()
	s.snap.SessionID = sessionID
	s.backoff.Reset()
	s.exhausted = false
	s.logger.Info("Starting live session", "session_id", sessionID)
	s.dialLocked()
	s.unlockAndNotify()
}

// Snapshot returns the current folded state. Callers must not mutate it.
func (s *Session) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Current returns the snapshot and connection status read under one lock.
func (s *Session) Current() Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Update{Snapshot: s.snap, Status: s.statusLocked()}
}

// Status returns the connection state and retry counters.
func (s *Session) Status() domain.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// IsConnected reports whether the connection is open.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == domain.StateConnected
}

// WaitConnected blocks until the connection is open, the retry budget is
// spent, the session is closed, or ctx is done.
func (s *Session) WaitConnected(ctx context.Context) error {
	for {
		s.mu.Lock()
		switch {
		case s.closed:
			s.mu.Unlock()
			return ErrClosed
		case s.state == domain.StateConnected:
			s.mu.Unlock()
			return nil
		case s.exhausted:
			s.mu.Unlock()
			return ErrRetriesExhausted
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Subscribe registers fn to receive every update. fn runs on the goroutine
// that caused the change and must not call StartConnection, ClearSession,
// Begin or Close synchronously.
func (s *Session) Subscribe(fn func(Update)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Close tears the session down: the pending retry is cancelled, the live
// connection is closed, and no further state change happens. It waits for
// the session's goroutines to exit.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.epoch++
	s.stopTimerLocked()
	s.dropConnLocked()
	s.dialing = false
	s.state = domain.StateDisconnected
	s.cancel()
	close(s.changed)
	s.listeners = nil
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Session) statusLocked() domain.ConnectionStatus {
	return domain.ConnectionStatus{
		State:        s.state,
		Connected:    s.state == domain.StateConnected,
		RetryCount:   s.backoff.RetryCount,
		RetryDelay:   s.backoff.RetryDelay,
		RetryDelayMS: s.backoff.RetryDelay.Milliseconds(),
		Exhausted:    s.exhausted,
	}
}

// dialLocked starts a dial for the current epoch.
func (s *Session) dialLocked() {
	s.state = domain.StateConnecting
	s.dialing = true
	epoch := s.epoch
	s.wg.Add(1)
	go s.dial(epoch)
}

func (s *Session) dial(epoch uint64) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.dialTimeout)
	conn, err := s.dialer.Dial(ctx, s.url)
	cancel()
	if err == nil && conn == nil {
		err = errors.New("dialer returned no connection")
	}

	s.mu.Lock()
	if s.closed || epoch != s.epoch {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	s.dialing = false

	if err != nil {
		s.logger.Warn("Live connection failed", "url", s.url, "error", err)
		s.failLocked()
		s.unlockAndNotify()
		return
	}

	connCtx, connCancel := context.WithCancel(s.ctx)
	s.conn = conn
	s.connCancel = connCancel
	s.state = domain.StateConnected
	s.backoff.Reset()
	s.exhausted = false
	s.logger.Info("Live connection established", "url", s.url, "session_id", s.snap.SessionID)

	s.wg.Add(1)
	go s.readLoop(connCtx, conn, epoch)
	s.unlockAndNotify()
}

func (s *Session) readLoop(ctx context.Context, conn Conn, epoch uint64) {
	defer s.wg.Done()

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			if s.closed || epoch != s.epoch || s.conn != conn {
				s.mu.Unlock()
				return
			}
			s.logger.Info("Live connection closed", "error", err)
			s.dropConnLocked()
			s.failLocked()
			s.unlockAndNotify()
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			s.logger.Debug("Dropping undecodable frame", "error", err, "size", len(data))
			continue
		}

		s.mu.Lock()
		if s.closed || epoch != s.epoch || s.conn != conn {
			s.mu.Unlock()
			return
		}
		s.snap = Fold(s.snap, msg)
		s.unlockAndNotify()
	}
}

// failLocked records a failed or dropped connection and schedules a retry
// if the budget allows.
func (s *Session) failLocked() {
	delay, ok := s.backoff.Next()
	if !ok {
		s.state = domain.StateDisconnected
		s.exhausted = true
		s.logger.Warn("Live connection retries exhausted", "retries", s.backoff.RetryCount)
		return
	}

	s.state = domain.StateConnecting
	epoch := s.epoch
	s.timer = s.clock.AfterFunc(delay, func() { s.retry(epoch) })
	s.logger.Info("Scheduling live reconnect",
		"attempt", s.backoff.RetryCount,
		"delay", delay,
	)
}

func (s *Session) retry(epoch uint64) {
	s.mu.Lock()
	if s.closed || epoch != s.epoch || s.timer == nil {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.dialLocked()
	s.unlockAndNotify()
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// dropConnLocked detaches the live connection and closes it in the background;
// a websocket close handshake can take seconds.
func (s *Session) dropConnLocked() {
	if s.conn == nil {
		return
	}
	conn := s.conn
	s.connCancel()
	s.conn = nil
	s.connCancel = nil

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := conn.Close(); err != nil {
			s.logger.Debug("Failed to close live connection", "error", err)
		}
	}()
}

// unlockAndNotify publishes the current state to subscribers and releases mu.
func (s *Session) unlockAndNotify() {
	upd := Update{Snapshot: s.snap, Status: s.statusLocked()}
	fns := make([]func(Update), len(s.listeners))
	for i, l := range s.listeners {
		fns[i] = l.fn
	}
	close(s.changed)
	s.changed = make(chan struct{})

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	for _, fn := range fns {
		fn(upd)
	}
}
