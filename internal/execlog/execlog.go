// Package execlog maintains the ordered history of executed commands with
// bounded-memory summarization and per-project persistence, so a later run
// (or the planning agent) can resume with context.
package execlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codefionn/buildmender/internal/config"
	"github.com/codefionn/buildmender/internal/logger"
)

// LogFileName is the persisted history file inside the project state dir
const LogFileName = "command_logs.json"

// Summarizer condenses a slice of command records into prose. Implementations
// must tolerate arbitrary record content; errors make the log fall back to a
// deterministic mechanical summary.
type Summarizer interface {
	Summarize(ctx context.Context, records []CommandRecord) (string, error)
}

// Log is the ordered, persisted command history for one project.
// Not safe for concurrent use; the orchestrator is single-threaded.
type Log struct {
	// TokenEstimator may be replaced for deterministic tests
	TokenEstimator TokenCounter

	filePath    string
	threshold   int
	summarizer  Summarizer
	commands    []CommandRecord
	lastSummary string
}

type persistedLog struct {
	Commands    []CommandRecord `json:"commands"`
	LastSummary *string         `json:"last_summary"`
}

// New creates the command log for projectRoot, loading any persisted history.
// A corrupt or missing history file resets to empty rather than failing.
// summarizer may be nil; compaction then uses the mechanical summary.
func New(projectRoot string, threshold int, summarizer Summarizer) *Log {
	l := &Log{
		TokenEstimator: DefaultTokenCounter,
		filePath:       filepath.Join(projectRoot, config.StateDirName, LogFileName),
		threshold:      threshold,
		summarizer:     summarizer,
	}
	l.load()
	return l
}

func (l *Log) load() {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		l.commands = nil
		l.lastSummary = ""
		return
	}

	var p persistedLog
	if err := json.Unmarshal(data, &p); err != nil {
		logger.Warn("execlog: discarding corrupt history %s: %v", l.filePath, err)
		l.commands = nil
		l.lastSummary = ""
		return
	}

	l.commands = p.Commands
	if p.LastSummary != nil {
		l.lastSummary = *p.LastSummary
	}
}

func (l *Log) persist() error {
	if err := os.MkdirAll(filepath.Dir(l.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	p := persistedLog{Commands: l.commands}
	if l.lastSummary != "" {
		p.LastSummary = &l.lastSummary
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal command log: %w", err)
	}

	return os.WriteFile(l.filePath, data, 0644)
}

// Append records one executed command, flushes it to disk and compacts the
// history when the token threshold is exceeded. A write failure is returned
// to the caller; it is one of the few fatal conditions of a run.
func (l *Log) Append(ctx context.Context, rec CommandRecord) error {
	l.commands = append(l.commands, rec)

	if err := l.persist(); err != nil {
		return err
	}

	return l.compactIfNeeded(ctx)
}

// TokenCount returns the approximate token total of the recorded commands
func (l *Log) TokenCount() int {
	total := 0
	for _, cmd := range l.commands {
		total += l.TokenEstimator(cmd.Logs) + l.TokenEstimator(cmd.Command) + perRecordOverhead
	}
	return total
}

// Records returns a copy of the current command records
func (l *Log) Records() []CommandRecord {
	out := make([]CommandRecord, len(l.commands))
	copy(out, l.commands)
	return out
}

// LastSummary returns the prose summary of compacted older records, if any
func (l *Log) LastSummary() string {
	return l.lastSummary
}

// Clear drops all history and persists the empty state
func (l *Log) Clear() error {
	l.commands = nil
	l.lastSummary = ""
	return l.persist()
}

// compactIfNeeded replaces everything except the most recent record with a
// summary once the token budget is exceeded. The newest record is always
// retained verbatim: it is the highest-signal input for the planner.
func (l *Log) compactIfNeeded(ctx context.Context) error {
	if l.threshold <= 0 || l.TokenCount() <= l.threshold || len(l.commands) <= 1 {
		return nil
	}

	older := l.commands[:len(l.commands)-1]
	newest := l.commands[len(l.commands)-1]

	summary := l.summarize(ctx, older)
	if l.lastSummary != "" {
		summary = l.lastSummary + "\n" + summary
	}

	logger.Debug("execlog: compacted %d records into summary (%d tokens over threshold %d)",
		len(older), l.TokenCount(), l.threshold)

	l.lastSummary = summary
	l.commands = []CommandRecord{newest}

	return l.persist()
}

func (l *Log) summarize(ctx context.Context, records []CommandRecord) string {
	if l.summarizer != nil {
		if s, err := l.summarizer.Summarize(ctx, records); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		} else if err != nil {
			logger.Warn("execlog: summarizer failed, using mechanical summary: %v", err)
		}
	}
	return MechanicalSummary(records)
}

// HistoryForPlanning formats the history for inclusion in a planner prompt.
// When no summary exists and the full history fits in maxTokens, every record
// is included. Otherwise the summary comes first, followed by every record
// retained since the last compaction; nothing appended after a compaction is
// ever dropped from the view.
func (l *Log) HistoryForPlanning(maxTokens int) string {
	if len(l.commands) == 0 && l.lastSummary == "" {
		return ""
	}

	if l.lastSummary == "" && l.TokenCount() <= maxTokens {
		return l.formatAll()
	}

	var sb strings.Builder
	sb.WriteString("Command Execution History:\n\n")

	if l.lastSummary != "" {
		sb.WriteString("[Summarized older commands]\n")
		sb.WriteString(l.lastSummary)
		sb.WriteString("\n\n")
	}

	for i := 0; i < len(l.commands)-1; i++ {
		fmt.Fprintf(&sb, "[Command %d]\n", i+1)
		sb.WriteString(formatRecord(l.commands[i]))
		sb.WriteString("\n")
	}
	if len(l.commands) > 0 {
		sb.WriteString("[Last command - always full]\n")
		sb.WriteString(formatRecord(l.commands[len(l.commands)-1]))
	}

	return strings.TrimRight(sb.String(), "\n")
}

func (l *Log) formatAll() string {
	var sb strings.Builder
	sb.WriteString("Command Execution History:\n\n")
	for i, cmd := range l.commands {
		fmt.Fprintf(&sb, "[Command %d]\n", i+1)
		sb.WriteString(formatRecord(cmd))
		if i < len(l.commands)-1 {
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatRecord(cmd CommandRecord) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Command: %s\n", cmd.Command)
	if cmd.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", cmd.Description)
	}

	preview := cmd.Logs
	if len(preview) > 700 {
		preview = preview[:500] + "\n... [truncated] ...\n" + preview[len(preview)-200:]
	}
	fmt.Fprintf(&sb, "Output:\n%s\n", preview)

	if cmd.Success {
		sb.WriteString("Status: PASSED\n")
	} else {
		fmt.Fprintf(&sb, "Status: FAILED (exit code: %d)\n", cmd.ReturnCode)
	}

	if important := extractImportantInfo(cmd.Logs, cmd.Success); important != "" {
		fmt.Fprintf(&sb, "Important: %s\n", important)
	}

	return sb.String()
}

// MechanicalSummary produces a deterministic summary: the first matching
// error or success line per record. It is the fallback when no summarizer is
// configured or the configured one fails.
func MechanicalSummary(records []CommandRecord) string {
	var lines []string
	for _, rec := range records {
		status := "FAILED"
		if rec.Success {
			status = "PASSED"
		}
		line := fmt.Sprintf("%s (%s)", rec.Command, status)
		if important := extractImportantInfo(rec.Logs, rec.Success); important != "" {
			line += ": " + important
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

var errorKeywords = []string{
	"error", "failed", "exception", "traceback", "fatal",
	"cannot", "unable", "missing", "not found",
}

var successKeywords = []string{"passed", "success", "completed", "ok"}

func extractImportantInfo(logs string, success bool) string {
	if logs == "" {
		return ""
	}

	var important []string
	lines := strings.Split(logs, "\n")

	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, kw := range errorKeywords {
			if strings.Contains(lower, kw) {
				important = append(important, truncate(line, 100))
				break
			}
		}
		if len(important) >= 3 {
			break
		}
	}

	if len(important) > 0 {
		return strings.Join(important, " | ")
	}

	if success {
		start := len(lines) - 10
		if start < 0 {
			start = 0
		}
		for _, line := range lines[start:] {
			lower := strings.ToLower(line)
			for _, kw := range successKeywords {
				if strings.Contains(lower, kw) {
					return truncate(line, 100)
				}
			}
		}
	}

	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
