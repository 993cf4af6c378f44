package live

import (
	"maps"
	"slices"

	"github.com/ashureev/healdash/internal/domain"
	"github.com/ashureev/healdash/internal/protocol"
)

// Fold applies one message to a snapshot and returns the next snapshot.
// The input is never mutated; only the field the message touches is copied.
func Fold(s domain.Snapshot, msg protocol.Message) domain.Snapshot {
	if msg == nil {
		return s
	}

	hdr := msg.Header()
	if hdr.SessionID != "" && s.SessionID != "" && hdr.SessionID != s.SessionID {
		return s
	}
	if hdr.Seq > 0 {
		if hdr.Seq <= s.LastSeq {
			return s
		}
		s.LastSeq = hdr.Seq
	}

	switch m := msg.(type) {
	case protocol.StageMsg:
		stages := maps.Clone(s.Stages)
		if stages == nil {
			stages = make(map[domain.Stage]domain.StageStatus, len(domain.Stages))
		}
		stages[m.Stage] = m.Status
		s.Stages = stages
	case protocol.DiffMsg:
		s.Diffs = append(slices.Clip(s.Diffs), m.Diff)
	case protocol.ResultMsg:
		result := m.Result
		s.Result = &result
	case protocol.PRMsg:
		s.PRURL = m.URL
	case protocol.TestResultsMsg:
		data := m.Data
		s.TestResults = &data
	case protocol.LangStatsMsg:
		data := m.Data
		s.LangStats = &data
	case protocol.LogMsg:
		s.Logs = append(slices.Clip(s.Logs), m.Entry)
	}
	return s
}

// FoldAll folds msgs into s in order.
func FoldAll(s domain.Snapshot, msgs []protocol.Message) domain.Snapshot {
	for _, m := range msgs {
		s = Fold(s, m)
	}
	return s
}
