package domain

// Log levels emitted by the backend.
const (
	LogInfo    = "INFO"
	LogSuccess = "SUCCESS"
	LogWarning = "WARNING"
	LogError   = "ERROR"
	LogAction  = "ACTION"
)

// LogEntry is a single backend log line.
type LogEntry struct {
	Time    string `json:"time"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Fix methods.
const (
	MethodAI        = "ai"
	MethodHeuristic = "heuristic"
)

// DiffRecord is one code change reported by the backend.
type DiffRecord struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Message string `json:"message"`
	Method  string `json:"method"`
	Before  string `json:"before"`
	After   string `json:"after"`
}

// TestSummary aggregates test counts across frameworks.
type TestSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// TestFailure names a failing test.
type TestFailure struct {
	Test    string `json:"test"`
	Message string `json:"message"`
}

// FrameworkResult holds the outcome of one detected test framework.
type FrameworkResult struct {
	Framework string        `json:"framework"`
	Language  string        `json:"language"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Failures  []TestFailure `json:"failures"`
}

// TestResults is the latest test run reported by the backend.
type TestResults struct {
	Detected bool              `json:"detected"`
	Summary  TestSummary       `json:"summary"`
	Results  []FrameworkResult `json:"results"`
}

// LanguageStat describes one language's share of the repository.
type LanguageStat struct {
	Percentage float64 `json:"percentage"`
	Files      int     `json:"files,omitempty"`
	Lines      int     `json:"lines,omitempty"`
}

// LangStats is the repository language breakdown.
type LangStats struct {
	Languages  map[string]LanguageStat `json:"languages"`
	TotalFiles int                     `json:"total_files"`
	TotalLines int                     `json:"total_lines"`
}

// ResultSummary is the headline numbers of a finished run.
type ResultSummary struct {
	Status          string `json:"status,omitempty"`
	TotalFailures   int    `json:"totalFailures"`
	FixesApplied    int    `json:"fixesApplied"`
	RemainingIssues int    `json:"remainingIssues"`
	Duration        string `json:"duration"`
	BranchName      string `json:"branchName"`
	PRURL           string `json:"prUrl,omitempty"`
}

// AppliedFix is one fix listed in the final report.
type AppliedFix struct {
	File   string `json:"file"`
	Type   string `json:"type"`
	Line   int    `json:"line"`
	Agent  string `json:"agent"`
	Method string `json:"method"`
	Commit string `json:"commit,omitempty"`
	Status string `json:"status,omitempty"`
}

// FinalResult is the terminal report of a run.
type FinalResult struct {
	Score   int           `json:"score"`
	Summary ResultSummary `json:"summary"`
	Fixes   []AppliedFix  `json:"fixes"`
}
