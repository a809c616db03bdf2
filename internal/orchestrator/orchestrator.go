// Package orchestrator drives the self-healing pipeline: generate the build
// manifest, build the isolation image, then run the build, optional runtime
// and test phases, planning and applying fixes on every failure until the
// project converges, the iteration budget runs out, or the planner gets
// stuck repeating itself.
package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/buildmender/internal/config"
	"github.com/codefionn/buildmender/internal/depgraph"
	"github.com/codefionn/buildmender/internal/execlog"
	"github.com/codefionn/buildmender/internal/logger"
	"github.com/codefionn/buildmender/internal/oracle"
	"github.com/codefionn/buildmender/internal/project"
	"github.com/codefionn/buildmender/internal/sandbox"
)

const (
	treeMaxDepth            = 6
	tailLogBytes            = 2000
	suggestedCommandTimeout = 120 * time.Second
)

// Runner executes commands for the pipeline. *sandbox.Executor is the real
// implementation; tests substitute fakes.
type Runner interface {
	Execute(ctx context.Context, argv []string, description string, timeout time.Duration) sandbox.Result
	ExecuteHost(ctx context.Context, argv []string, description string, timeout time.Duration) sandbox.Result
	BuildImage(ctx context.Context, timeout time.Duration) sandbox.Result
}

// Orchestrator owns one pipeline run over one project. Strictly sequential:
// one command, one planner call and one corrector call in flight at a time.
// Not safe for concurrent runs on the same project directory.
type Orchestrator struct {
	cfg       *config.Config
	runner    Runner
	planner   oracle.Planner
	corrector oracle.Corrector
	manifest  oracle.ManifestGenerator
	graph     *depgraph.Graph
	cmdLog    *execlog.Log
	runID     string
}

// New wires an orchestrator from its collaborators. Everything is
// constructor-injected so tests can substitute any of them.
func New(cfg *config.Config, runner Runner, planner oracle.Planner, corrector oracle.Corrector, manifest oracle.ManifestGenerator, graph *depgraph.Graph, cmdLog *execlog.Log) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		runner:    runner,
		planner:   planner,
		corrector: corrector,
		manifest:  manifest,
		graph:     graph,
		cmdLog:    cmdLog,
		runID:     uuid.NewString()[:8],
	}
}

// RunID identifies this run in logs and blueprint output
func (o *Orchestrator) RunID() string { return o.runID }

// Run executes the whole pipeline. The returned result is always fully
// populated; the error is non-nil only for manifest generation failures and
// unrecoverable I/O, never for ordinary build or test failures.
func (o *Orchestrator) Run(ctx context.Context) (*PipelineResult, error) {
	result := &PipelineResult{TerminalReason: ReasonConverged}

	logger.Info("orchestrator: run %s starting for %s", o.runID, o.cfg.ProjectRoot)

	bp, err := o.generateManifest(ctx)
	if err != nil {
		return nil, err
	}

	if err := o.graph.Build(); err != nil {
		logger.Warn("orchestrator: dependency graph build failed: %v", err)
	}

	out := o.runPhase(ctx, phaseSpec{
		kind:       oracle.ErrorTypeBuild,
		name:       "build",
		imageBuild: true,
		timeout:    o.cfg.BuildTimeout(),
	})
	result.BuildSuccess = out.success
	result.BuildIterations = out.iterations
	if !out.success {
		result.TerminalReason = out.reason
		result.TailLogs = out.tail
		return result, nil
	}

	if o.cfg.EnableRuntimePhase && len(bp.Run) > 0 {
		out = o.runPhase(ctx, phaseSpec{
			kind:        oracle.ErrorTypeRuntime,
			name:        "runtime",
			commands:    bp.Run,
			timeout:     o.cfg.RuntimeTimeout(),
			rebuildGate: true,
		})
		result.RuntimeSuccess = out.success
		result.RuntimeIterations = out.iterations
		if !out.success {
			result.TerminalReason = out.reason
			result.TailLogs = out.tail
			return result, nil
		}
	} else {
		result.RuntimeSuccess = true
	}

	if len(bp.Test) == 0 {
		logger.Warn("orchestrator: no test commands detected, skipping test phase")
		result.TestSuccess = true
		return result, nil
	}

	out = o.runPhase(ctx, phaseSpec{
		kind:        oracle.ErrorTypeTest,
		name:        "test",
		commands:    bp.Test,
		timeout:     o.cfg.TestTimeout(),
		rebuildGate: true,
	})
	result.TestSuccess = out.success
	result.TestIterations = out.iterations
	if !out.success {
		result.TerminalReason = out.reason
		result.TailLogs = out.tail
	}

	logger.Info("orchestrator: run %s finished: %s", o.runID, result.TerminalReason)
	return result, nil
}

// generateManifest detects the project stack, persists the blueprint and
// writes the generated container build file at the project root. Failure
// here is terminal: nothing can run without the manifest.
func (o *Orchestrator) generateManifest(ctx context.Context) (*project.Blueprint, error) {
	tree, err := project.Scan(o.cfg.ProjectRoot, treeMaxDepth)
	if err != nil {
		return nil, pipelineErr(KindManifestGeneration, "scan project tree: %w", err)
	}

	profiles, err := project.NewDetector(tree).Detect(ctx)
	if err != nil {
		return nil, pipelineErr(KindManifestGeneration, "detect project profile: %w", err)
	}
	best := project.Best(profiles)
	if best != nil {
		logger.Info("orchestrator: detected %s project (confidence %.2f)", best.Name, best.Confidence)
	}

	bp := project.NewBlueprint(o.runID, best, tree)
	// command overrides from a hand-maintained blueprint win over detection
	if prior, err := project.LoadBlueprint(o.cfg.ProjectRoot); err == nil && prior != nil {
		if len(prior.Build) > 0 {
			bp.Build = prior.Build
		}
		if len(prior.Run) > 0 {
			bp.Run = prior.Run
		}
		if len(prior.Test) > 0 {
			bp.Test = prior.Test
		}
	}
	if err := bp.Save(o.cfg.ProjectRoot); err != nil {
		logger.Warn("orchestrator: save blueprint: %v", err)
	}

	req := oracle.ManifestRequest{
		TreeASCII: tree.Render(),
		Manifests: tree.Manifests(),
	}
	if best != nil {
		req.ProfileName = best.Name
		req.BuildHint = best.BuildHint
		req.RunHint = best.RunHint
		req.TestHint = best.TestHint
	}

	content, err := o.manifest.GenerateManifest(ctx, req)
	if err != nil {
		return nil, pipelineErr(KindManifestGeneration, "generate manifest: %w", err)
	}
	content = oracle.CleanManifest(content)
	if content == "" {
		return nil, pipelineErr(KindManifestGeneration, "generated manifest is empty")
	}

	path := filepath.Join(o.cfg.ProjectRoot, "Dockerfile")
	if err := os.WriteFile(path, []byte(content+"\n"), 0o644); err != nil {
		return nil, pipelineErr(KindManifestGeneration, "write manifest: %w", err)
	}
	logger.Info("orchestrator: wrote build manifest (%d bytes)", len(content))

	return bp, nil
}

// planFixes asks the planner for a fix plan; planner errors count as an
// empty plan, they never abort the run.
func (o *Orchestrator) planFixes(ctx context.Context, kind oracle.ErrorType, extra string) oracle.FixPlan {
	history := o.cmdLog.HistoryForPlanning(o.cfg.TokenThreshold)
	if extra != "" {
		history += "\n" + extra
	}

	plan, err := o.planner.PlanFixes(ctx, history, kind)
	if err != nil {
		logger.Error("orchestrator: %v", pipelineErr(KindPlannerFailure, "plan %s fixes: %w", kind, err))
		return nil
	}
	return plan
}

// applyFixes runs each descriptor's suggested commands, then asks the
// corrector to materialize the edit. Returns the number of applied fixes
// and the union of declared and observed touched files.
func (o *Orchestrator) applyFixes(ctx context.Context, plan oracle.FixPlan) (int, []string) {
	if len(plan) == 0 {
		return 0, nil
	}

	watcher := startTouchWatcher(o.cfg.ProjectRoot)

	applied := 0
	touched := make(map[string]bool)
	for _, fix := range plan {
		for _, argv := range fix.SuggestedCommands {
			if len(argv) == 0 {
				continue
			}
			o.runner.Execute(ctx, argv, "suggested by fix plan", suggestedCommandTimeout)
		}

		ok, err := o.corrector.ApplyFix(ctx, fix)
		if err != nil {
			logger.Error("orchestrator: %v", pipelineErr(KindCorrectorFailure, "apply fix for %s: %w", fix.FilePath, err))
			continue
		}
		if ok {
			applied++
			if fix.FilePath != "" {
				touched[filepath.ToSlash(fix.FilePath)] = true
			}
		}
	}

	for _, p := range watcher.Stop() {
		touched[p] = true
	}

	paths := make([]string, 0, len(touched))
	for p := range touched {
		paths = append(paths, p)
	}
	return applied, paths
}

// couplingPass re-analyzes touched files and their direct dependents; any
// diagnostics get one corrector pass before the next phase attempt.
func (o *Orchestrator) couplingPass(ctx context.Context, touched []string) {
	if !o.cfg.EnableCouplingCheck || len(touched) == 0 {
		return
	}

	changed := o.graph.Refresh(touched)
	if len(changed) == 0 {
		return
	}

	impacted := o.graph.ImpactedBy(changed)
	diags := o.graph.ValidateFiles(impacted)
	if len(diags) == 0 {
		return
	}

	logger.Info("orchestrator: %d coupling diagnostics on %d impacted files", len(diags), len(impacted))
	var report strings.Builder
	for _, d := range diags {
		report.WriteString(d.String())
		report.WriteByte('\n')
	}

	plan := o.planFixes(ctx, oracle.ErrorTypeCoupling, report.String())
	if len(plan) == 0 {
		return
	}

	var fixedPaths []string
	for _, fix := range plan {
		ok, err := o.corrector.ApplyFix(ctx, fix)
		if err != nil {
			logger.Error("orchestrator: %v", pipelineErr(KindCorrectorFailure, "apply coupling fix for %s: %w", fix.FilePath, err))
			continue
		}
		if ok && fix.FilePath != "" {
			fixedPaths = append(fixedPaths, fix.FilePath)
		}
	}
	o.graph.Refresh(fixedPaths)
}

func tailOf(s string) string {
	if len(s) <= tailLogBytes {
		return s
	}
	return s[len(s)-tailLogBytes:]
}
