package console

import (
	"github.com/ashureev/healdash/internal/domain"
	"github.com/ashureev/healdash/internal/live"
)

// Progress prints what changed between successive session updates.
// Snapshots are cumulative, so skipped updates lose nothing.
type Progress struct {
	ui        *UI
	sessionID string
	logs      int
	diffs     int
	stages    map[domain.Stage]domain.StageStatus
	state     domain.ConnectionState
	retries   int
	exhausted bool
	result    bool
}

// NewProgress creates a Progress writing to ui.
func NewProgress(ui *UI) *Progress {
	return &Progress{ui: ui, stages: map[domain.Stage]domain.StageStatus{}}
}

// Render prints the delta from the previously rendered update.
func (p *Progress) Render(u live.Update) {
	p.renderStatus(u.Status)

	s := u.Snapshot
	if s.SessionID != p.sessionID || len(s.Logs) < p.logs || len(s.Diffs) < p.diffs {
		p.sessionID = s.SessionID
		p.logs, p.diffs, p.result = 0, 0, false
		p.stages = map[domain.Stage]domain.StageStatus{}
	}

	for _, stage := range domain.Stages {
		status, ok := s.Stages[stage]
		if !ok || p.stages[stage] == status {
			continue
		}
		p.stages[stage] = status
		p.ui.Stage(stage, status)
	}
	for _, e := range s.Logs[p.logs:] {
		p.ui.Log(e)
	}
	p.logs = len(s.Logs)
	for _, d := range s.Diffs[p.diffs:] {
		p.ui.Diff(d)
	}
	p.diffs = len(s.Diffs)

	if s.Result != nil && !p.result {
		p.result = true
		p.ui.Result(s.Result, s.EffectivePRURL())
	}
}

func (p *Progress) renderStatus(st domain.ConnectionStatus) {
	switch {
	case st.State == p.state && st.RetryCount == p.retries && st.Exhausted == p.exhausted:
		return
	case st.Connected:
		p.ui.Success("Connected to backend")
	case st.Exhausted:
		p.ui.Error("Gave up reconnecting after %d attempts", st.RetryCount)
	case st.State == domain.StateDisconnected && st.RetryCount > 0:
		p.ui.Warning("Disconnected, retry %d in %s", st.RetryCount, st.RetryDelay)
	}
	p.state = st.State
	p.retries = st.RetryCount
	p.exhausted = st.Exhausted
}
