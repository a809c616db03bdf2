package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/buildmender/internal/config"
	"github.com/codefionn/buildmender/internal/depgraph"
	"github.com/codefionn/buildmender/internal/execlog"
	"github.com/codefionn/buildmender/internal/oracle"
	"github.com/codefionn/buildmender/internal/sandbox"
)

type fakeRunner struct {
	buildOutcomes []bool
	buildCalls    int
	execOutcomes  map[string][]bool
	executed      []string
}

func (f *fakeRunner) BuildImage(_ context.Context, _ time.Duration) sandbox.Result {
	f.buildCalls++
	ok := true
	if len(f.buildOutcomes) > 0 {
		ok = f.buildOutcomes[0]
		f.buildOutcomes = f.buildOutcomes[1:]
	}
	return f.result(ok, "image build")
}

func (f *fakeRunner) Execute(_ context.Context, argv []string, _ string, _ time.Duration) sandbox.Result {
	key := strings.Join(argv, " ")
	f.executed = append(f.executed, key)
	ok := true
	if outcomes, exists := f.execOutcomes[key]; exists && len(outcomes) > 0 {
		ok = outcomes[0]
		f.execOutcomes[key] = outcomes[1:]
	}
	return f.result(ok, key)
}

func (f *fakeRunner) ExecuteHost(ctx context.Context, argv []string, desc string, timeout time.Duration) sandbox.Result {
	return f.Execute(ctx, argv, desc, timeout)
}

func (f *fakeRunner) result(ok bool, what string) sandbox.Result {
	if ok {
		return sandbox.Result{Success: true, Output: what + ": ok", ExecutedIn: execlog.EnvSandbox}
	}
	return sandbox.Result{Success: false, Output: what + ": error: something broke", ReturnCode: 1, ExecutedIn: execlog.EnvSandbox}
}

type fakePlanner struct {
	plans []oracle.FixPlan
	err   error
	calls []oracle.ErrorType
}

func (f *fakePlanner) PlanFixes(_ context.Context, _ string, errorType oracle.ErrorType) (oracle.FixPlan, error) {
	f.calls = append(f.calls, errorType)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.plans) == 0 {
		return nil, nil
	}
	plan := f.plans[0]
	if len(f.plans) > 1 {
		f.plans = f.plans[1:]
	}
	return plan, nil
}

type fakeCorrector struct {
	ok      bool
	err     error
	applied []oracle.FixDescriptor
}

func (f *fakeCorrector) ApplyFix(_ context.Context, fix oracle.FixDescriptor) (bool, error) {
	f.applied = append(f.applied, fix)
	return f.ok, f.err
}

type fakeManifest struct {
	content string
	err     error
}

func (f *fakeManifest) GenerateManifest(_ context.Context, _ oracle.ManifestRequest) (string, error) {
	return f.content, f.err
}

type fixture struct {
	root      string
	cfg       *config.Config
	runner    *fakeRunner
	planner   *fakePlanner
	corrector *fakeCorrector
	manifest  *fakeManifest
	orch      *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module demo\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))

	cfg := config.DefaultConfig(root)
	cfg.MaxIterations = 10
	cfg.MaxStuckIterations = 2

	f := &fixture{
		root:      root,
		cfg:       cfg,
		runner:    &fakeRunner{execOutcomes: map[string][]bool{}},
		planner:   &fakePlanner{},
		corrector: &fakeCorrector{ok: true},
		manifest:  &fakeManifest{content: "FROM golang:1.22\nCOPY . /src\n"},
	}

	cmdLog := execlog.New(root, 100_000, nil)
	cmdLog.TokenEstimator = execlog.HeuristicTokenCounter
	f.orch = New(cfg, f.runner, f.planner, f.corrector, f.manifest, depgraph.New(root), cmdLog)
	return f
}

func TestRunConvergesFirstAttempt(t *testing.T) {
	f := newFixture(t)

	result, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.BuildSuccess)
	assert.Equal(t, 1, result.BuildIterations)
	assert.True(t, result.TestSuccess)
	assert.Equal(t, 1, result.TestIterations)
	assert.Equal(t, ReasonConverged, result.TerminalReason)
	assert.True(t, result.Success())

	// one image build, then the detected test command
	assert.Equal(t, 1, f.runner.buildCalls)
	assert.Contains(t, f.runner.executed, "go test ./...")

	data, err := os.ReadFile(filepath.Join(f.root, "Dockerfile"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "FROM golang:1.22")
}

func TestManifestGenerationFailureIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.manifest.err = errors.New("agent unavailable")

	result, err := f.orch.Run(context.Background())

	require.Error(t, err)
	assert.Nil(t, result)
	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindManifestGeneration, perr.Kind)
	assert.Equal(t, 0, f.runner.buildCalls, "no phase may start without a manifest")
}

func TestEmptyManifestIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.manifest.content = "```dockerfile\n```"

	_, err := f.orch.Run(context.Background())

	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindManifestGeneration, perr.Kind)
}

func TestBuildFailsOnceThenFixed(t *testing.T) {
	f := newFixture(t)
	f.runner.buildOutcomes = []bool{false, true}
	f.planner.plans = []oracle.FixPlan{{
		{
			FilePath:          "main.go",
			ErrorSummary:      "undefined: helper",
			SuggestedCommands: [][]string{{"go", "mod", "tidy"}},
		},
	}}

	result, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.BuildSuccess)
	assert.Equal(t, 2, result.BuildIterations)
	assert.Equal(t, ReasonConverged, result.TerminalReason)

	// suggested commands run before the corrector materializes the edit
	assert.Contains(t, f.runner.executed, "go mod tidy")
	require.Len(t, f.corrector.applied, 1)
	assert.Equal(t, "main.go", f.corrector.applied[0].FilePath)
	assert.Equal(t, []oracle.ErrorType{oracle.ErrorTypeBuild}, f.planner.calls)
}

func TestStuckSignatureTerminatesPhase(t *testing.T) {
	f := newFixture(t)
	f.runner.buildOutcomes = []bool{false, false, false, false, false, false}
	f.planner.plans = []oracle.FixPlan{{
		{FilePath: "main.go", ErrorSummary: "undefined: helper"},
	}}

	result, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.BuildSuccess)
	assert.Equal(t, ReasonStuck, result.TerminalReason)
	assert.False(t, result.Success())
	assert.NotEmpty(t, result.TailLogs)

	// first plan, one repeat, second repeat hits the limit of 2: three
	// build attempts, never the configured maximum of ten
	assert.Equal(t, 3, f.runner.buildCalls)
	assert.Equal(t, 3, result.BuildIterations)
	assert.False(t, result.TestSuccess, "test phase never entered")
}

func TestPlannerErrorCountsAsZeroFixes(t *testing.T) {
	f := newFixture(t)
	f.runner.buildOutcomes = []bool{false}
	f.planner.err = errors.New("planner down")

	result, err := f.orch.Run(context.Background())
	require.NoError(t, err, "planner failure must not crash the run")

	assert.False(t, result.BuildSuccess)
	assert.Equal(t, ReasonStuck, result.TerminalReason)

	// zero fixes applied: the phase command is never re-run
	assert.Equal(t, 1, f.runner.buildCalls)
	assert.Empty(t, f.corrector.applied)
}

func TestCorrectorErrorCountsAsNotApplied(t *testing.T) {
	f := newFixture(t)
	f.runner.buildOutcomes = []bool{false}
	f.planner.plans = []oracle.FixPlan{{
		{FilePath: "main.go", ErrorSummary: "boom"},
	}}
	f.corrector.err = errors.New("corrector down")

	result, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.BuildSuccess)
	assert.Equal(t, 1, f.runner.buildCalls, "failed fixes skip the phase re-run")
	assert.Equal(t, ReasonStuck, result.TerminalReason)
}

func TestManifestFileFixForcesRebuild(t *testing.T) {
	f := newFixture(t)
	f.runner.execOutcomes["go test ./..."] = []bool{false, true}
	f.planner.plans = []oracle.FixPlan{{
		{FilePath: "go.mod", ErrorSummary: "missing dependency"},
	}}

	result, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.TestSuccess)
	assert.Equal(t, 2, result.TestIterations)
	assert.Equal(t, 2, f.runner.buildCalls, "manifest fix forces exactly one image rebuild")
}

func TestNonManifestFixDoesNotRebuild(t *testing.T) {
	f := newFixture(t)
	f.runner.execOutcomes["go test ./..."] = []bool{false, true}
	f.planner.plans = []oracle.FixPlan{{
		{FilePath: "main.go", ErrorSummary: "assertion failed"},
	}}

	result, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.TestSuccess)
	assert.Equal(t, 1, f.runner.buildCalls, "source-only fixes keep the image")
}

func TestRuntimePhaseRunsWhenEnabled(t *testing.T) {
	f := newFixture(t)
	f.cfg.EnableRuntimePhase = true

	result, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.RuntimeSuccess)
	assert.Equal(t, 1, result.RuntimeIterations)
	assert.Contains(t, f.runner.executed, "go run .")
}

func TestBlueprintOverridesDetectedCommands(t *testing.T) {
	f := newFixture(t)
	stateDir := filepath.Join(f.root, config.StateDirName)
	require.NoError(t, os.MkdirAll(stateDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, "blueprint.yaml"),
		[]byte("test_commands:\n  - [\"make\", \"check\"]\n"), 0o644))

	result, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.TestSuccess)
	assert.Contains(t, f.runner.executed, "make check")
	assert.NotContains(t, f.runner.executed, "go test ./...")
}

func TestCouplingDiagnosticsGetCorrectorPass(t *testing.T) {
	f := newFixture(t)
	f.runner.buildOutcomes = []bool{false, true}

	// the "fix" rewrites main.go with an import of a file that does not
	// exist, which the coupling pass must surface
	f.planner.plans = []oracle.FixPlan{
		{{FilePath: "main.go", ErrorSummary: "undefined: helper"}},
		{{FilePath: "helpers.go", ErrorSummary: "missing import target"}},
	}
	orig := f.corrector
	f.orch.corrector = correctorFunc(func(ctx context.Context, fix oracle.FixDescriptor) (bool, error) {
		if fix.FilePath == "main.go" {
			err := os.WriteFile(filepath.Join(f.root, "main.go"),
				[]byte("package main\n\nimport \"demo/helpers\"\n\nfunc main() { helpers.Do() }\n"), 0o644)
			return err == nil, err
		}
		return orig.ApplyFix(ctx, fix)
	})

	result, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.BuildSuccess)

	assert.Contains(t, f.planner.calls, oracle.ErrorTypeCoupling)
	require.NotEmpty(t, orig.applied)
	assert.Equal(t, "helpers.go", orig.applied[0].FilePath)
}

type correctorFunc func(ctx context.Context, fix oracle.FixDescriptor) (bool, error)

func (fn correctorFunc) ApplyFix(ctx context.Context, fix oracle.FixDescriptor) (bool, error) {
	return fn(ctx, fix)
}
