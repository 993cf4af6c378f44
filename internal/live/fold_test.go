package live

import (
	"testing"

	"github.com/ashureev/healdash/internal/domain"
	"github.com/ashureev/healdash/internal/protocol"
	"github.com/google/go-cmp/cmp"
)

func decodeAll(t *testing.T, frames ...string) []protocol.Message {
	t.Helper()
	msgs := make([]protocol.Message, 0, len(frames))
	for _, f := range frames {
		m, err := protocol.Decode([]byte(f))
		if err != nil {
			t.Fatalf("Decode(%s): %v", f, err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func logMsg(text string) protocol.Message {
	return protocol.LogMsg{
		Envelope: protocol.Envelope{Type: domain.LogInfo},
		Entry:    domain.LogEntry{Type: domain.LogInfo, Message: text},
	}
}

func TestFoldPreservesOrder(t *testing.T) {
	s := FoldAll(domain.EmptySnapshot(), []protocol.Message{logMsg("a"), logMsg("b"), logMsg("c")})

	var got []string
	for _, l := range s.Logs {
		got = append(got, l.Message)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("logs mismatch (-want +got):\n%s", diff)
	}

	s = FoldAll(domain.EmptySnapshot(), decodeAll(t,
		`{"type":"DIFF","file":"x.py","line":1}`,
		`{"type":"DIFF","file":"y.py","line":2}`,
	))
	if len(s.Diffs) != 2 || s.Diffs[0].File != "x.py" || s.Diffs[1].File != "y.py" {
		t.Errorf("diffs out of order: %+v", s.Diffs)
	}
}

func TestFoldStagesSparseOverwrite(t *testing.T) {
	s := FoldAll(domain.EmptySnapshot(), decodeAll(t,
		`{"type":"STAGE","stage":"CLONE","status":"active"}`,
		`{"type":"STAGE","stage":"SCAN","status":"active"}`,
		`{"type":"STAGE","stage":"CLONE","status":"done"}`,
	))

	want := map[domain.Stage]domain.StageStatus{
		domain.StageClone: domain.StatusDone,
		domain.StageScan:  domain.StatusActive,
	}
	if diff := cmp.Diff(want, s.Stages); diff != "" {
		t.Errorf("stages mismatch (-want +got):\n%s", diff)
	}
	if got := s.StageStatus(domain.StageFix); got != domain.StatusPending {
		t.Errorf("unreported stage = %q, want pending", got)
	}
}

func TestFoldLatestWins(t *testing.T) {
	s := FoldAll(domain.EmptySnapshot(), decodeAll(t,
		`{"type":"RESULT","score":10,"summary":{"duration":"1s"}}`,
		`{"type":"RESULT","score":94,"summary":{"duration":"2s"}}`,
		`{"type":"PR","url":"https://example.test/pull/1"}`,
		`{"type":"PR","url":"https://example.test/pull/2"}`,
		`{"type":"TEST_RESULTS","data":{"detected":true,"summary":{"total":5}}}`,
		`{"type":"TEST_RESULTS","data":{"detected":false,"summary":{"total":1}}}`,
		`{"type":"LANG_STATS","data":{"languages":{"Go":{"percentage":100}},"total_files":1}}`,
		`{"type":"LANG_STATS","data":{"languages":{"Python":{"percentage":100}},"total_files":2}}`,
	))

	if s.Result == nil || s.Result.Score != 94 || s.Result.Summary.Duration != "2s" {
		t.Errorf("result = %+v, want second payload", s.Result)
	}
	if s.PRURL != "https://example.test/pull/2" {
		t.Errorf("pr url = %q", s.PRURL)
	}
	if s.TestResults == nil || s.TestResults.Detected || s.TestResults.Summary.Total != 1 {
		t.Errorf("test results = %+v, want second payload", s.TestResults)
	}
	if s.LangStats == nil || s.LangStats.TotalFiles != 2 {
		t.Errorf("lang stats = %+v", s.LangStats)
	}
	if _, ok := s.LangStats.Languages["Go"]; ok {
		t.Error("lang stats merged instead of replaced")
	}
}

func TestFoldDoesNotMutateInput(t *testing.T) {
	before := FoldAll(domain.EmptySnapshot(), decodeAll(t,
		`{"type":"STAGE","stage":"CLONE","status":"active"}`,
		`{"type":"INFO","message":"first"}`,
	))
	// Grow the logs slice capacity so an in-place append would be visible.
	before.Logs = append(make([]domain.LogEntry, 0, 8), before.Logs...)

	after := FoldAll(before, decodeAll(t,
		`{"type":"STAGE","stage":"CLONE","status":"done"}`,
		`{"type":"INFO","message":"second"}`,
	))

	if before.Stages[domain.StageClone] != domain.StatusActive {
		t.Error("fold mutated the input stage map")
	}
	if len(before.Logs) != 1 || len(after.Logs) != 2 {
		t.Fatalf("logs: before=%d after=%d", len(before.Logs), len(after.Logs))
	}
	if before.Logs[:cap(before.Logs)][1].Message == "second" {
		t.Error("fold appended into the input's backing array")
	}
}

func TestFoldSessionAndSequence(t *testing.T) {
	s := domain.EmptySnapshot()
	s.SessionID = "run-1"

	s = FoldAll(s, decodeAll(t,
		`{"type":"INFO","message":"mine","sessionId":"run-1","seq":1}`,
		`{"type":"INFO","message":"other run","sessionId":"run-2","seq":2}`,
		`{"type":"INFO","message":"replayed","sessionId":"run-1","seq":1}`,
		`{"type":"INFO","message":"unsequenced"}`,
		`{"type":"INFO","message":"next","seq":2}`,
	))

	var got []string
	for _, l := range s.Logs {
		got = append(got, l.Message)
	}
	if diff := cmp.Diff([]string{"mine", "unsequenced", "next"}, got); diff != "" {
		t.Errorf("logs mismatch (-want +got):\n%s", diff)
	}
	if s.LastSeq != 2 {
		t.Errorf("LastSeq = %d, want 2", s.LastSeq)
	}
}

func TestFoldHappyPath(t *testing.T) {
	s := FoldAll(domain.EmptySnapshot(), decodeAll(t,
		`{"type":"STAGE","stage":"CLONE","status":"active"}`,
		`{"type":"STAGE","stage":"CLONE","status":"done"}`,
		`{"type":"STAGE","stage":"SCAN","status":"active"}`,
		`{"type":"DIFF","file":"a.py","line":3,"method":"ai"}`,
		`{"type":"RESULT","score":94,"summary":{"totalFailures":1,"fixesApplied":1,"remainingIssues":0,"duration":"0m 12s","branchName":"T_L_AI_Fix"}}`,
	))

	if s.StageStatus(domain.StageClone) != domain.StatusDone {
		t.Errorf("CLONE = %q", s.StageStatus(domain.StageClone))
	}
	if s.StageStatus(domain.StageScan) != domain.StatusActive {
		t.Errorf("SCAN = %q", s.StageStatus(domain.StageScan))
	}
	if len(s.Diffs) != 1 {
		t.Errorf("diffs = %d, want 1", len(s.Diffs))
	}
	if !s.Complete() || s.Result.Score != 94 {
		t.Errorf("result = %+v", s.Result)
	}
}
