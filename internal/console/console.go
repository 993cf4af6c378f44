// Package console renders live session progress and run history for terminals.
package console

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ashureev/healdash/internal/backend"
	"github.com/ashureev/healdash/internal/diffview"
	"github.com/ashureev/healdash/internal/domain"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// UI writes colored output.
type UI struct {
	Verbose bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New creates a UI with default stdout/stderr writers.
func New() *UI {
	return &UI{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
}

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = color.New(color.FgHiGreen).Sprint("✓")
	warningPrefix = color.New(color.FgHiYellow).Sprint("⚠")
	errorPrefix   = color.New(color.FgHiRed).Sprint("✗")
	actionPrefix  = color.New(color.FgHiCyan).Sprint("→")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
	faint         = color.New(color.Faint).SprintFunc()
)

// Cyan returns a cyan-colored string.
func Cyan(s string) string { return cyan(s) }

func (u *UI) Info(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", infoPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Error(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, fmt.Sprintf(format, a...))
}

// Table creates a new tablewriter configured with consistent styling.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}

// Log prints one backend log line.
func (u *UI) Log(e domain.LogEntry) {
	prefix := infoPrefix
	switch e.Type {
	case domain.LogSuccess:
		prefix = successPrefix
	case domain.LogWarning:
		prefix = warningPrefix
	case domain.LogError:
		prefix = errorPrefix
	case domain.LogAction:
		prefix = actionPrefix
	}
	if e.Time != "" {
		fmt.Fprintf(u.Out, "%s %s %s\n", prefix, faint(e.Time), e.Message)
		return
	}
	fmt.Fprintf(u.Out, "%s %s\n", prefix, e.Message)
}

// Stage prints a stage transition.
func (u *UI) Stage(stage domain.Stage, status domain.StageStatus) {
	fmt.Fprintf(u.Out, "%s %s %s\n", actionPrefix, cyan(string(stage)), StatusColor(string(status)))
}

// Diff prints a reported change. The snippet diff is shown in verbose mode.
func (u *UI) Diff(d domain.DiffRecord) {
	fmt.Fprintf(u.Out, "%s %s:%d %s %s\n", actionPrefix, cyan(d.File), d.Line, faint("["+d.Method+"]"), d.Message)
	if !u.Verbose {
		return
	}
	for _, l := range diffview.Lines(d.Before, d.After) {
		line := l.Kind.Prefix() + l.Text
		switch l.Kind {
		case diffview.Added:
			line = green(line)
		case diffview.Removed:
			line = red(line)
		}
		fmt.Fprintf(u.Out, "    %s\n", line)
	}
}

// Result prints the final report and its fixes.
func (u *UI) Result(res *domain.FinalResult, prURL string) {
	if res == nil {
		return
	}
	s := res.Summary
	fmt.Fprintln(u.Out)
	u.Success("Score %s  failures %d  fixed %d  remaining %d  in %s",
		ScoreColor(res.Score), s.TotalFailures, s.FixesApplied, s.RemainingIssues, s.Duration)
	if s.BranchName != "" {
		u.Info("Branch %s", cyan(s.BranchName))
	}
	if prURL != "" {
		u.Info("Pull request %s", prURL)
	}
	if len(res.Fixes) == 0 {
		return
	}

	table := u.Table([]string{"File", "Line", "Type", "Method", "Status"})
	for _, f := range res.Fixes {
		_ = table.Append([]string{f.File, strconv.Itoa(f.Line), f.Type, f.Method, StatusColor(f.Status)})
	}
	_ = table.Render()
}

// Runs prints locally recorded runs.
func (u *UI) Runs(runs []*domain.Run) {
	if len(runs) == 0 {
		u.Info("No runs recorded.")
		return
	}
	table := u.Table([]string{"ID", "Repository", "Status", "Score", "Fixed", "Remaining", "Duration", "Recorded"})
	for _, r := range runs {
		_ = table.Append([]string{
			r.ID,
			r.RepoURL,
			StatusColor(r.Status),
			ScoreColor(r.Score),
			strconv.Itoa(r.FixesApplied),
			strconv.Itoa(r.RemainingIssues),
			r.Duration,
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	_ = table.Render()
}

// RemoteRuns prints the backend's run history.
func (u *UI) RemoteRuns(runs []backend.RemoteRun) {
	if len(runs) == 0 {
		u.Info("No runs on the backend.")
		return
	}
	table := u.Table([]string{"ID", "Repository", "Team", "Status", "Score", "Fixed", "Duration", "Created"})
	for _, r := range runs {
		_ = table.Append([]string{
			string(r.ID),
			r.RepoURL,
			r.TeamName,
			StatusColor(r.Status),
			ScoreColor(r.Score),
			strconv.Itoa(r.FixesApplied),
			r.Duration,
			r.CreatedAt,
		})
	}
	_ = table.Render()
}

// StatusColor colors stage, fix and run statuses.
func StatusColor(status string) string {
	switch strings.ToLower(status) {
	case "done", "passed", "fixed", "success":
		return green(status)
	case "active", "partial", "running":
		return yellow(status)
	case "error", "failed":
		return red(status)
	default:
		return status
	}
}

// ScoreColor colors a 0-100 score.
func ScoreColor(score int) string {
	s := strconv.Itoa(score)
	switch {
	case score >= 80:
		return green(s)
	case score >= 50:
		return yellow(s)
	default:
		return red(s)
	}
}
