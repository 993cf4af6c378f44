// Package diffview renders before/after code snippets as line diffs.
package diffview

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Kind classifies a rendered line.
type Kind int

const (
	Context Kind = iota
	Added
	Removed
)

// Prefix returns the unified diff marker for k.
func (k Kind) Prefix() string {
	switch k {
	case Added:
		return "+"
	case Removed:
		return "-"
	default:
		return " "
	}
}

// Line is one line of a snippet diff.
type Line struct {
	Kind Kind
	Text string
}

// Lines diffs two snippets line by line.
func Lines(before, after string) []Line {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var out []Line
	for _, d := range diffs {
		kind := Context
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			kind = Added
		case diffmatchpatch.DiffDelete:
			kind = Removed
		}
		for _, text := range splitLines(d.Text) {
			out = append(out, Line{Kind: kind, Text: text})
		}
	}
	return out
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

// Unified renders a unified diff of one reported change. startLine is the
// 1-based line the snippet begins at; zero or less means unknown.
func Unified(file string, startLine int, before, after string) string {
	lines := Lines(before, after)
	if len(lines) == 0 {
		return ""
	}

	var oldCount, newCount int
	for _, l := range lines {
		if l.Kind != Added {
			oldCount++
		}
		if l.Kind != Removed {
			newCount++
		}
	}
	if startLine <= 0 {
		startLine = 1
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n+++ b/%s\n", file, file)
	fmt.Fprintf(&sb, "@@ -%s +%s @@\n", hunkRange(startLine, oldCount), hunkRange(startLine, newCount))
	for _, l := range lines {
		sb.WriteString(l.Kind.Prefix())
		sb.WriteString(l.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func hunkRange(start, count int) string {
	if count == 0 {
		return fmt.Sprintf("%d,0", start-1)
	}
	if count == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}
