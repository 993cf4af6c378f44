package console

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/healdash/internal/backend"
	"github.com/ashureev/healdash/internal/domain"
	"github.com/ashureev/healdash/internal/live"
	"github.com/fatih/color"
)

func newTestUI(t *testing.T) (*UI, *bytes.Buffer) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	return &UI{Out: &buf, ErrOut: &buf}, &buf
}

func TestProgressPrintsOnlyNewEntries(t *testing.T) {
	ui, buf := newTestUI(t)
	p := NewProgress(ui)

	snap := domain.EmptySnapshot()
	snap.SessionID = "run-1"
	snap.Stages[domain.StageClone] = domain.StatusActive
	snap.Logs = []domain.LogEntry{{Type: domain.LogInfo, Message: "cloning"}}
	p.Render(live.Update{Snapshot: snap, Status: domain.ConnectionStatus{State: domain.StateConnected, Connected: true}})

	next := domain.EmptySnapshot()
	next.SessionID = "run-1"
	next.Stages[domain.StageClone] = domain.StatusDone
	next.Logs = []domain.LogEntry{
		{Type: domain.LogInfo, Message: "cloning"},
		{Type: domain.LogError, Message: "boom"},
	}
	next.Diffs = []domain.DiffRecord{{File: "a.py", Line: 3, Method: "ai", Message: "fix import"}}
	p.Render(live.Update{Snapshot: next, Status: domain.ConnectionStatus{State: domain.StateConnected, Connected: true}})

	out := buf.String()
	for _, want := range []string{"Connected to backend", "CLONE active", "CLONE done", "boom", "a.py:3", "fix import"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if n := strings.Count(out, "cloning"); n != 1 {
		t.Errorf("log printed %d times, want 1:\n%s", n, out)
	}
	if n := strings.Count(out, "Connected to backend"); n != 1 {
		t.Errorf("status printed %d times, want 1", n)
	}
}

func TestProgressResetsOnNewSession(t *testing.T) {
	ui, buf := newTestUI(t)
	p := NewProgress(ui)

	snap := domain.EmptySnapshot()
	snap.SessionID = "run-1"
	snap.Logs = []domain.LogEntry{{Type: domain.LogInfo, Message: "old"}}
	p.Render(live.Update{Snapshot: snap})

	fresh := domain.EmptySnapshot()
	fresh.SessionID = "run-2"
	fresh.Logs = []domain.LogEntry{{Type: domain.LogInfo, Message: "new"}}
	p.Render(live.Update{Snapshot: fresh})

	if !strings.Contains(buf.String(), "new") {
		t.Errorf("new session log not printed:\n%s", buf.String())
	}
}

func TestProgressReportsRetriesAndResult(t *testing.T) {
	ui, buf := newTestUI(t)
	p := NewProgress(ui)

	p.Render(live.Update{
		Snapshot: domain.EmptySnapshot(),
		Status:   domain.ConnectionStatus{State: domain.StateDisconnected, RetryCount: 1, RetryDelay: 2 * time.Second},
	})
	p.Render(live.Update{
		Snapshot: domain.EmptySnapshot(),
		Status:   domain.ConnectionStatus{State: domain.StateDisconnected, RetryCount: 10, Exhausted: true},
	})

	done := domain.EmptySnapshot()
	done.Result = &domain.FinalResult{
		Score:   94,
		Summary: domain.ResultSummary{FixesApplied: 1, Duration: "0m 12s", BranchName: "T_L_AI_Fix"},
		Fixes:   []domain.AppliedFix{{File: "a.py", Line: 3, Type: "IMPORT", Method: "ai", Status: "FIXED"}},
	}
	p.Render(live.Update{Snapshot: done})
	p.Render(live.Update{Snapshot: done})

	out := buf.String()
	for _, want := range []string{"retry 1 in 2s", "Gave up reconnecting after 10 attempts", "Score 94", "T_L_AI_Fix", "IMPORT"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if n := strings.Count(out, "Score 94"); n != 1 {
		t.Errorf("result printed %d times, want 1", n)
	}
}

func TestDiffVerboseShowsSnippet(t *testing.T) {
	ui, buf := newTestUI(t)
	ui.Verbose = true

	ui.Diff(domain.DiffRecord{File: "a.py", Line: 1, Before: "import os\n", After: "import sys\n"})

	out := buf.String()
	if !strings.Contains(out, "-import os") || !strings.Contains(out, "+import sys") {
		t.Errorf("diff snippet missing:\n%s", out)
	}
}

func TestRunsTables(t *testing.T) {
	ui, buf := newTestUI(t)

	ui.Runs(nil)
	ui.Runs([]*domain.Run{{ID: "01J", RepoURL: "https://github.com/o/r", Status: "PASSED", Score: 90, CreatedAt: time.Now()}})
	ui.RemoteRuns([]backend.RemoteRun{{ID: "7", RepoURL: "https://github.com/o/r2", TeamName: "T", Status: "PARTIAL"}})

	out := buf.String()
	for _, want := range []string{"No runs recorded.", "01J", "https://github.com/o/r", "PASSED", "https://github.com/o/r2", "PARTIAL"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestScoreColorPlain(t *testing.T) {
	_, _ = newTestUI(t)
	if got := ScoreColor(42); got != "42" {
		t.Errorf("ScoreColor(42) = %q", got)
	}
}
