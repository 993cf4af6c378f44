package domain

import "time"

// Run is a persisted summary of a finished analysis session.
type Run struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	RepoURL         string    `json:"repo_url"`
	BranchName      string    `json:"branch_name"`
	Status          string    `json:"status"`
	Score           int       `json:"score"`
	TotalFailures   int       `json:"total_failures"`
	FixesApplied    int       `json:"fixes_applied"`
	RemainingIssues int       `json:"remaining_issues"`
	Duration        string    `json:"duration"`
	PRURL           string    `json:"pr_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	Fixes           []RunFix  `json:"fixes,omitempty"`
}

// RunFix is a fix recorded against a run.
type RunFix struct {
	File          string `json:"file_path"`
	Type          string `json:"fix_type"`
	Line          int    `json:"line_number"`
	CommitMessage string `json:"commit_message,omitempty"`
	Status        string `json:"status"`
	Method        string `json:"method"`
	Agent         string `json:"agent"`
}

// NewRun builds a Run from a completed snapshot.
// Returns nil if the snapshot has no final result.
func NewRun(repoURL string, snap Snapshot, now time.Time) *Run {
	if snap.Result == nil {
		return nil
	}
	res := snap.Result
	status := res.Summary.Status
	if status == "" {
		status = "PARTIAL"
		if res.Summary.RemainingIssues == 0 {
			status = "PASSED"
		}
	}
	run := &Run{
		SessionID:       snap.SessionID,
		RepoURL:         repoURL,
		BranchName:      res.Summary.BranchName,
		Status:          status,
		Score:           res.Score,
		TotalFailures:   res.Summary.TotalFailures,
		FixesApplied:    res.Summary.FixesApplied,
		RemainingIssues: res.Summary.RemainingIssues,
		Duration:        res.Summary.Duration,
		PRURL:           snap.EffectivePRURL(),
		CreatedAt:       now,
	}
	for _, f := range res.Fixes {
		fixStatus := f.Status
		if fixStatus == "" {
			fixStatus = "FIXED"
		}
		method := f.Method
		if method == "" {
			method = MethodHeuristic
		}
		run.Fixes = append(run.Fixes, RunFix{
			File:          f.File,
			Type:          f.Type,
			Line:          f.Line,
			CommitMessage: f.Commit,
			Status:        fixStatus,
			Method:        method,
			Agent:         f.Agent,
		})
	}
	return run
}
