package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/healdash/internal/console"
	"github.com/ashureev/healdash/internal/domain"
	"github.com/ashureev/healdash/internal/live"
)

func setupUI(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := ui
	ui = &console.UI{Out: &buf, ErrOut: &buf}
	t.Cleanup(func() { ui = prev })
	return &buf
}

func TestLatestKeepsNewest(t *testing.T) {
	l := newLatest()
	for i := 1; i <= 3; i++ {
		s := domain.EmptySnapshot()
		s.LastSeq = int64(i)
		l.set(live.Update{Snapshot: s})
	}

	select {
	case <-l.ready:
	default:
		t.Fatal("no ready signal")
	}
	if got := l.get().Snapshot.LastSeq; got != 3 {
		t.Errorf("LastSeq = %d, want 3", got)
	}
}

func TestFollowStopsOnResult(t *testing.T) {
	setupUI(t)
	l := newLatest()

	done := domain.EmptySnapshot()
	done.Result = &domain.FinalResult{Score: 100}
	l.set(live.Update{Snapshot: done})

	if err := follow(context.Background(), l, console.NewProgress(ui)); err != nil {
		t.Fatalf("follow: %v", err)
	}
}

func TestFollowStopsWhenRetriesExhausted(t *testing.T) {
	setupUI(t)
	l := newLatest()
	l.set(live.Update{
		Snapshot: domain.EmptySnapshot(),
		Status:   domain.ConnectionStatus{State: domain.StateDisconnected, RetryCount: 10, Exhausted: true},
	})

	err := follow(context.Background(), l, console.NewProgress(ui))
	if !errors.Is(err, live.ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
}

func TestFollowInterrupted(t *testing.T) {
	buf := setupUI(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	if err := follow(ctx, newLatest(), console.NewProgress(ui)); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("Stopped watching")) {
		t.Errorf("missing interrupt notice: %s", buf.String())
	}
}
