package orchestrator

import (
	"context"
	"time"

	"github.com/codefionn/buildmender/internal/logger"
	"github.com/codefionn/buildmender/internal/oracle"
	"github.com/codefionn/buildmender/internal/project"
	"github.com/codefionn/buildmender/internal/sandbox"
)

// phaseSpec parameterizes the shared phase loop. Build, runtime and test
// are the same loop body with different primaries and gates.
type phaseSpec struct {
	kind oracle.ErrorType
	name string
	// commands are the phase's primary argv vectors, run in order;
	// the first failure fails the attempt.
	commands [][]string
	// imageBuild makes the isolation image build the primary instead
	imageBuild bool
	timeout    time.Duration
	// rebuildGate forces one image rebuild after a fix touches a
	// manifest-class file. Test and runtime phases only.
	rebuildGate bool
}

type phaseOutcome struct {
	success    bool
	iterations int
	reason     TerminalReason
	tail       string
}

// runPhase is the shared self-healing loop: run the primary, and on failure
// plan fixes, detect stuckness, apply fixes, re-validate coupling, and
// optionally rebuild the image before the next attempt. Zero applied fixes
// skip the next primary run so a no-op plan batch never wastes an attempt.
func (o *Orchestrator) runPhase(ctx context.Context, spec phaseSpec) phaseOutcome {
	stuck := newStuckDetector(o.cfg.MaxStuckIterations)

	attempts := 0
	skipRun := false
	pendingRebuild := false
	var lastOutput string

	for iter := 1; iter <= o.cfg.MaxIterations; iter++ {
		if ctx.Err() != nil {
			logger.Warn("orchestrator: %s phase canceled", spec.name)
			return phaseOutcome{iterations: attempts, reason: ReasonMaxIterations, tail: tailOf(lastOutput)}
		}

		if pendingRebuild {
			pendingRebuild = false
			logger.Info("orchestrator: %s: manifest-class file changed, rebuilding image", spec.name)
			if res := o.runner.BuildImage(ctx, o.cfg.BuildTimeout()); !res.Success {
				lastOutput = res.Output
			}
		}

		if !skipRun {
			attempts++
			logger.Info("orchestrator: %s attempt %d/%d", spec.name, attempts, o.cfg.MaxIterations)
			res := o.runPrimary(ctx, spec)
			if res.Success {
				logger.Info("orchestrator: %s phase converged after %d attempts", spec.name, attempts)
				return phaseOutcome{success: true, iterations: attempts, reason: ReasonConverged}
			}
			lastOutput = res.Output
		}
		skipRun = false

		plan := o.planFixes(ctx, spec.kind, "")
		if stuck.Observe(plan) {
			return phaseOutcome{iterations: attempts, reason: ReasonStuck, tail: tailOf(lastOutput)}
		}

		applied, touched := o.applyFixes(ctx, plan)
		if applied == 0 {
			logger.Debug("orchestrator: %s: no fixes applied, skipping next attempt", spec.name)
			skipRun = true
			continue
		}

		o.couplingPass(ctx, touched)

		if spec.rebuildGate && touchesManifest(touched) {
			pendingRebuild = true
		}
	}

	logger.Warn("orchestrator: %s phase exhausted %d iterations", spec.name, o.cfg.MaxIterations)
	return phaseOutcome{iterations: attempts, reason: ReasonMaxIterations, tail: tailOf(lastOutput)}
}

// runPrimary executes the phase's primary command(s) and returns the first
// failing result, or the last result when everything passed.
func (o *Orchestrator) runPrimary(ctx context.Context, spec phaseSpec) sandbox.Result {
	if spec.imageBuild {
		return o.runner.BuildImage(ctx, spec.timeout)
	}

	last := sandbox.Result{Success: true}
	for _, argv := range spec.commands {
		last = o.runner.Execute(ctx, argv, spec.name+" command", spec.timeout)
		if !last.Success {
			return last
		}
	}
	return last
}

func touchesManifest(paths []string) bool {
	for _, p := range paths {
		if project.IsManifestFile(p) {
			return true
		}
	}
	return false
}
