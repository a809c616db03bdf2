package orchestrator

import "fmt"

// TerminalReason states how the pipeline ended
type TerminalReason string

const (
	ReasonConverged     TerminalReason = "converged"
	ReasonMaxIterations TerminalReason = "max_iterations_exceeded"
	ReasonStuck         TerminalReason = "stuck"
)

// PipelineResult is the immutable outcome of one orchestrator run. The
// execution log is the durable artifact; this struct is for the caller.
type PipelineResult struct {
	BuildSuccess      bool
	RuntimeSuccess    bool
	TestSuccess       bool
	BuildIterations   int
	RuntimeIterations int
	TestIterations    int
	TerminalReason    TerminalReason
	TailLogs          string
}

// Success reports whether every executed phase converged
func (r *PipelineResult) Success() bool {
	return r.TerminalReason == ReasonConverged
}

// ErrorKind classifies every fallible step of the pipeline. Callers switch
// on kind, never on message text.
type ErrorKind int

const (
	// KindExecutionFailure is a non-zero exit or timeout; expected, drives the loop
	KindExecutionFailure ErrorKind = iota
	// KindPlannerFailure is a planner error, treated as zero fixes proposed
	KindPlannerFailure
	// KindCorrectorFailure is a corrector error, treated as fix not applied
	KindCorrectorFailure
	// KindStuckConvergence means the planner repeated an unproductive fix signature
	KindStuckConvergence
	// KindMaxIterations means a phase exhausted its iteration budget
	KindMaxIterations
	// KindManifestGeneration means no build manifest could be produced; fatal
	KindManifestGeneration
)

func (k ErrorKind) String() string {
	switch k {
	case KindExecutionFailure:
		return "execution failure"
	case KindPlannerFailure:
		return "planner failure"
	case KindCorrectorFailure:
		return "corrector failure"
	case KindStuckConvergence:
		return "stuck convergence failure"
	case KindMaxIterations:
		return "max iterations failure"
	case KindManifestGeneration:
		return "manifest generation failure"
	default:
		return "unknown failure"
	}
}

// PipelineError pairs an error with its kind
type PipelineError struct {
	Kind ErrorKind
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func pipelineErr(kind ErrorKind, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: kind, Err: fmt.Errorf(format, args...)}
}
