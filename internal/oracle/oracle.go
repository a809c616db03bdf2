// Package oracle defines the contracts for the external repair agents: the
// Planner that maps failure logs to a fix plan and the Corrector that
// materializes a single fix as a file edit. The engine never depends on a
// concrete model or API; implementations are injected at startup.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType classifies the failure a fix plan addresses
type ErrorType string

const (
	ErrorTypeBuild    ErrorType = "build"
	ErrorTypeRuntime  ErrorType = "runtime"
	ErrorTypeTest     ErrorType = "test"
	ErrorTypeCoupling ErrorType = "coupling"
)

// FixDescriptor is one planned repair for a single file
type FixDescriptor struct {
	// FilePath is project-relative
	FilePath     string
	ErrorSummary string
	Solution     string
	// SuggestedCommands are argv vectors to run before the file edit
	// (diagnostic or setup commands).
	SuggestedCommands [][]string
	Priority          int
	Iteration         int
}

// FixPlan is an ordered batch of fix descriptors for one failure.
// The order is advisory; the Corrector gives no ordering guarantee.
type FixPlan []FixDescriptor

// FilePaths returns the distinct file paths named by the plan, in order
func (p FixPlan) FilePaths() []string {
	seen := make(map[string]bool, len(p))
	var paths []string
	for _, fix := range p {
		if fix.FilePath == "" || seen[fix.FilePath] {
			continue
		}
		seen[fix.FilePath] = true
		paths = append(paths, fix.FilePath)
	}
	return paths
}

// Planner maps failure logs to an ordered fix plan
type Planner interface {
	PlanFixes(ctx context.Context, logs string, errorType ErrorType) (FixPlan, error)
}

// Corrector materializes a single fix descriptor as a file edit. It mutates
// exactly the file named by the descriptor and reports whether the edit was
// applied.
type Corrector interface {
	ApplyFix(ctx context.Context, fix FixDescriptor) (bool, error)
}

// ErrMalformedPlan indicates the planner payload could not be decoded
var ErrMalformedPlan = errors.New("malformed fix plan payload")

type rawFix struct {
	FilePath          string          `json:"filepath"`
	File              string          `json:"file"`
	Error             string          `json:"error"`
	Solution          string          `json:"solution"`
	Priority          *int            `json:"priority"`
	SuggestedCommands [][]string      `json:"suggested_commands"`
	Commands          json.RawMessage `json:"commands"`
}

// ParseFixPlan decodes a planner payload into a FixPlan. The payload is
// expected to be a JSON array of fix objects, possibly embedded in prose; a
// single object is accepted as a one-element plan. Fixes are ordered by
// priority. Anything else fails with ErrMalformedPlan so the caller can
// treat it as a planner failure instead of propagating partial data inward.
func ParseFixPlan(payload []byte) (FixPlan, error) {
	raw, err := decodeRawFixes(payload)
	if err != nil {
		return nil, err
	}

	plan := make(FixPlan, 0, len(raw))
	for _, rf := range raw {
		fix := FixDescriptor{
			FilePath:          rf.FilePath,
			ErrorSummary:      rf.Error,
			Solution:          rf.Solution,
			SuggestedCommands: rf.SuggestedCommands,
			Priority:          999,
		}
		if fix.FilePath == "" {
			fix.FilePath = rf.File
		}
		if rf.Priority != nil {
			fix.Priority = *rf.Priority
		}
		if len(fix.SuggestedCommands) == 0 && len(rf.Commands) > 0 {
			fix.SuggestedCommands = decodeCommands(rf.Commands)
		}
		plan = append(plan, fix)
	}

	sort.SliceStable(plan, func(i, j int) bool {
		return plan[i].Priority < plan[j].Priority
	})

	return plan, nil
}

func decodeRawFixes(payload []byte) ([]rawFix, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPlan)
	}

	// Planner output may wrap the JSON in prose or a code fence; take the
	// outermost array (or object) slice.
	candidates := []string{text}
	if start, end := strings.Index(text, "["), strings.LastIndex(text, "]"); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}

	for _, candidate := range candidates {
		var list []rawFix
		if err := json.Unmarshal([]byte(candidate), &list); err == nil {
			return list, nil
		}

		var single rawFix
		if err := json.Unmarshal([]byte(candidate), &single); err == nil {
			return []rawFix{single}, nil
		}
	}

	return nil, fmt.Errorf("%w: no JSON fix array found", ErrMalformedPlan)
}

// decodeCommands tolerates both argv vectors and plain command strings
func decodeCommands(raw json.RawMessage) [][]string {
	var vectors [][]string
	if err := json.Unmarshal(raw, &vectors); err == nil {
		return vectors
	}

	var flat []string
	if err := json.Unmarshal(raw, &flat); err == nil {
		var out [][]string
		for _, cmd := range flat {
			if fields := strings.Fields(cmd); len(fields) > 0 {
				out = append(out, fields)
			}
		}
		return out
	}

	return nil
}
