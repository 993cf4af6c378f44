// Package protocol decodes the backend's realtime event stream into typed messages.
//
// The backend multiplexes every event kind over a single ordered channel.
// Each frame is a JSON object with a "type" discriminator; Decode maps it
// onto exactly one concrete Message or rejects it.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashureev/healdash/internal/domain"
)

// Message kinds carried in the "type" field.
const (
	KindStage       = "STAGE"
	KindDiff        = "DIFF"
	KindResult      = "RESULT"
	KindPR          = "PR"
	KindTestResults = "TEST_RESULTS"
	KindLangStats   = "LANG_STATS"
	KindLog         = "LOG"
)

var (
	// ErrMalformed is returned for frames that are not a JSON object with a type.
	ErrMalformed = errors.New("malformed message")
	// ErrUnrecognized is returned for well-formed objects that match no message shape.
	ErrUnrecognized = errors.New("unrecognized message")
)

// Envelope holds the fields common to every message.
type Envelope struct {
	Type string `json:"type"`
	// SessionID correlates the event with an analyze request. Optional.
	SessionID string `json:"sessionId,omitempty"`
	// Seq is a per-session sequence number. Zero means unsequenced.
	Seq int64 `json:"seq,omitempty"`
}

// Message is one decoded event. The concrete types are the closed set below.
type Message interface {
	Header() Envelope
	isMessage()
}

// StageMsg reports a stage status change.
type StageMsg struct {
	Envelope
	Stage  domain.Stage
	Status domain.StageStatus
}

// DiffMsg carries one code change.
type DiffMsg struct {
	Envelope
	Diff domain.DiffRecord
}

// ResultMsg carries the final report.
type ResultMsg struct {
	Envelope
	Result domain.FinalResult
}

// PRMsg carries the pull request URL.
type PRMsg struct {
	Envelope
	URL string
}

// TestResultsMsg carries the latest test results.
type TestResultsMsg struct {
	Envelope
	Data domain.TestResults
}

// LangStatsMsg carries the repository language breakdown.
type LangStatsMsg struct {
	Envelope
	Data domain.LangStats
}

// LogMsg is a generic log line. Any unrecognized type with a message lands here.
type LogMsg struct {
	Envelope
	Entry domain.LogEntry
}

func (m StageMsg) Header() Envelope       { return m.Envelope }
func (m DiffMsg) Header() Envelope        { return m.Envelope }
func (m ResultMsg) Header() Envelope      { return m.Envelope }
func (m PRMsg) Header() Envelope          { return m.Envelope }
func (m TestResultsMsg) Header() Envelope { return m.Envelope }
func (m LangStatsMsg) Header() Envelope   { return m.Envelope }
func (m LogMsg) Header() Envelope         { return m.Envelope }

func (StageMsg) isMessage()       {}
func (DiffMsg) isMessage()        {}
func (ResultMsg) isMessage()      {}
func (PRMsg) isMessage()          {}
func (TestResultsMsg) isMessage() {}
func (LangStatsMsg) isMessage()   {}
func (LogMsg) isMessage()         {}

type stageFrame struct {
	Stage  domain.Stage       `json:"stage"`
	Status domain.StageStatus `json:"status"`
}

type prFrame struct {
	URL string `json:"url"`
}

type dataFrame struct {
	Data json.RawMessage `json:"data"`
}

type logFrame struct {
	Time    string  `json:"time"`
	Level   string  `json:"level"`
	Message *string `json:"message"`
}

// Decode parses one frame into a Message.
func Decode(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrMalformed
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch env.Type {
	case KindStage:
		var f stageFrame
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return nil, fmt.Errorf("%w: stage: %v", ErrUnrecognized, err)
		}
		if !f.Stage.Valid() || !f.Status.Valid() {
			return nil, fmt.Errorf("%w: stage %q status %q", ErrUnrecognized, f.Stage, f.Status)
		}
		return StageMsg{Envelope: env, Stage: f.Stage, Status: f.Status}, nil

	case KindDiff:
		var d domain.DiffRecord
		if err := json.Unmarshal(trimmed, &d); err != nil {
			return nil, fmt.Errorf("%w: diff: %v", ErrUnrecognized, err)
		}
		if d.File == "" {
			return nil, fmt.Errorf("%w: diff without file", ErrUnrecognized)
		}
		return DiffMsg{Envelope: env, Diff: d}, nil

	case KindResult:
		var r domain.FinalResult
		if err := json.Unmarshal(trimmed, &r); err != nil {
			return nil, fmt.Errorf("%w: result: %v", ErrUnrecognized, err)
		}
		return ResultMsg{Envelope: env, Result: r}, nil

	case KindPR:
		var f prFrame
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return nil, fmt.Errorf("%w: pr: %v", ErrUnrecognized, err)
		}
		if f.URL == "" {
			return nil, fmt.Errorf("%w: pr without url", ErrUnrecognized)
		}
		return PRMsg{Envelope: env, URL: f.URL}, nil

	case KindTestResults:
		var tr domain.TestResults
		if err := decodeData(trimmed, &tr); err != nil {
			return nil, err
		}
		return TestResultsMsg{Envelope: env, Data: tr}, nil

	case KindLangStats:
		var ls domain.LangStats
		if err := decodeData(trimmed, &ls); err != nil {
			return nil, err
		}
		return LangStatsMsg{Envelope: env, Data: ls}, nil
	}

	return decodeLog(env, trimmed)
}

// decodeData unmarshals the "data" member, which must be a JSON object.
func decodeData(frame []byte, v any) error {
	var f dataFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return fmt.Errorf("%w: data: %v", ErrUnrecognized, err)
	}
	raw := bytes.TrimSpace(f.Data)
	if len(raw) == 0 || raw[0] != '{' {
		return fmt.Errorf("%w: missing data object", ErrUnrecognized)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: data: %v", ErrUnrecognized, err)
	}
	return nil
}

// decodeLog handles both log shapes: {"type":"LOG","level":...} and the
// bare form where the type itself is the level.
func decodeLog(env Envelope, frame []byte) (Message, error) {
	var f logFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return nil, fmt.Errorf("%w: log: %v", ErrUnrecognized, err)
	}
	if f.Message == nil {
		return nil, fmt.Errorf("%w: type %q", ErrUnrecognized, env.Type)
	}

	level := env.Type
	if env.Type == KindLog {
		level = f.Level
		if level == "" {
			level = domain.LogInfo
		}
	}

	return LogMsg{
		Envelope: env,
		Entry: domain.LogEntry{
			Time:    f.Time,
			Type:    level,
			Message: *f.Message,
		},
	}, nil
}
