// Package domain contains core domain types for the healdash client.
package domain

import "time"

// ConnectionState describes the live connection to the backend event stream.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
)

// Stage is a named phase of the backend pipeline.
type Stage string

const (
	StageClone Stage = "CLONE"
	StageScan  Stage = "SCAN"
	StageFix   Stage = "FIX"
	StageTest  Stage = "TEST"
	StagePush  Stage = "PUSH"
	StageDone  Stage = "DONE"
)

// Stages lists every pipeline stage in execution order.
var Stages = []Stage{StageClone, StageScan, StageFix, StageTest, StagePush, StageDone}

// Valid reports whether s is one of the known pipeline stages.
func (s Stage) Valid() bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}

// StageStatus is the reported progress of a single stage.
type StageStatus string

const (
	StatusPending StageStatus = "pending"
	StatusActive  StageStatus = "active"
	StatusDone    StageStatus = "done"
	StatusError   StageStatus = "error"
)

// Valid reports whether s is a known stage status.
func (s StageStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusDone, StatusError:
		return true
	}
	return false
}

// ConnectionStatus is the connection half of the session read surface.
type ConnectionStatus struct {
	State        ConnectionState `json:"state"`
	Connected    bool            `json:"connected"`
	RetryCount   int             `json:"retry_count"`
	RetryDelay   time.Duration   `json:"-"`
	RetryDelayMS int64           `json:"retry_delay_ms"`
	// Exhausted is set once the retry budget ran out; a manual reconnect clears it.
	Exhausted bool `json:"exhausted"`
}

// Snapshot is the folded state of one analysis session.
// Snapshots are values: the fold never mutates a snapshot it has handed out.
type Snapshot struct {
	SessionID   string                `json:"session_id,omitempty"`
	LastSeq     int64                 `json:"last_seq,omitempty"`
	Stages      map[Stage]StageStatus `json:"stages"`
	Logs        []LogEntry            `json:"logs"`
	Diffs       []DiffRecord          `json:"diffs"`
	TestResults *TestResults          `json:"test_results"`
	LangStats   *LangStats            `json:"lang_stats"`
	Result      *FinalResult          `json:"result"`
	PRURL       string                `json:"pr_url,omitempty"`
}

// EmptySnapshot returns a snapshot with every per-session field at its empty value.
func EmptySnapshot() Snapshot {
	return Snapshot{
		Stages: map[Stage]StageStatus{},
		Logs:   []LogEntry{},
		Diffs:  []DiffRecord{},
	}
}

// StageStatus returns the reported status of stage, or pending if it was never reported.
func (s Snapshot) StageStatus(stage Stage) StageStatus {
	if status, ok := s.Stages[stage]; ok {
		return status
	}
	return StatusPending
}

// Complete reports whether the final result has arrived.
func (s Snapshot) Complete() bool {
	return s.Result != nil
}

// EffectivePRURL prefers the URL from a PR event and falls back to the
// one embedded in the final result summary.
func (s Snapshot) EffectivePRURL() string {
	if s.PRURL != "" {
		return s.PRURL
	}
	if s.Result != nil {
		return s.Result.Summary.PRURL
	}
	return ""
}
