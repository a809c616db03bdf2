package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/codefionn/buildmender/internal/config"
	"github.com/codefionn/buildmender/internal/depgraph"
	"github.com/codefionn/buildmender/internal/execlog"
	"github.com/codefionn/buildmender/internal/logger"
	"github.com/codefionn/buildmender/internal/oracle"
	"github.com/codefionn/buildmender/internal/orchestrator"
	"github.com/codefionn/buildmender/internal/sandbox"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		projectDir    = flag.String("project", ".", "project directory to validate and heal")
		imageTag      = flag.String("image", "", "override the derived isolation image tag")
		maxIterations = flag.Int("max-iterations", 0, "override max iterations per phase")
		runtimePhase  = flag.Bool("runtime", false, "run the entry point between build and test phases")
		noCoupling    = flag.Bool("no-coupling-check", false, "disable dependent re-validation after fixes")
		plannerCmd    = flag.String("planner", "", "planner agent command (reads JSON on stdin, writes a fix plan)")
		correctorCmd  = flag.String("corrector", "", "corrector agent command (reads a fix descriptor on stdin)")
		manifestCmd   = flag.String("manifest-agent", "", "manifest agent command (writes a containerfile to stdout)")
		logLevel      = flag.String("log-level", "", "log level: debug, info, warn, error, none")
		showVersion   = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("buildmender %s\n", version)
		return nil
	}

	root, err := filepath.Abs(*projectDir)
	if err != nil {
		return fmt.Errorf("resolve project directory: %w", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return fmt.Errorf("project directory %s does not exist", root)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	if *imageTag != "" {
		cfg.ImageTag = *imageTag
	}
	if *maxIterations > 0 {
		cfg.MaxIterations = *maxIterations
	}
	if *runtimePhase {
		cfg.EnableRuntimePhase = true
	}
	if *noCoupling {
		cfg.EnableCouplingCheck = false
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	engine, err := sandbox.DetectEngine()
	if err != nil {
		return err
	}
	logger.Info("using container engine: %s", engine)

	agent := &oracle.ExecAgent{
		PlannerArgv:   splitCommand(*plannerCmd),
		CorrectorArgv: splitCommand(*correctorCmd),
		ManifestArgv:  splitCommand(*manifestCmd),
		Dir:           root,
	}

	var summarizer execlog.Summarizer = oracle.MechanicalSummarizer{}
	cmdLog := execlog.New(root, cfg.TokenThreshold, summarizer)

	executor := sandbox.New(engine, root, cfg.ResolvedImageTag(), cmdLog)
	graph := depgraph.New(root)

	var manifestGen oracle.ManifestGenerator = agent
	if len(agent.ManifestArgv) == 0 {
		manifestGen = oracle.StaticManifestGenerator{}
	}

	orch := orchestrator.New(cfg, executor, agent, agent, manifestGen, graph, cmdLog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := orch.Run(ctx)
	if err != nil {
		return err
	}

	printResult(result)
	if !result.Success() {
		os.Exit(2)
	}
	return nil
}

func splitCommand(cmd string) []string {
	return strings.Fields(cmd)
}

func printResult(r *orchestrator.PipelineResult) {
	status := func(ok bool) string {
		if ok {
			return "ok"
		}
		return "failed"
	}

	fmt.Printf("build: %s (%d iterations)\n", status(r.BuildSuccess), r.BuildIterations)
	if r.RuntimeIterations > 0 {
		fmt.Printf("runtime: %s (%d iterations)\n", status(r.RuntimeSuccess), r.RuntimeIterations)
	}
	fmt.Printf("test: %s (%d iterations)\n", status(r.TestSuccess), r.TestIterations)
	fmt.Printf("result: %s\n", r.TerminalReason)
	if r.TailLogs != "" {
		fmt.Printf("\nlast failing output:\n%s\n", r.TailLogs)
	}
}
