// Package sandbox runs single commands in an isolated container, falling
// back to direct host execution when no isolation image has been built yet.
// Both strategies produce structurally identical command records; callers
// never depend on which strategy ran.
package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/buildmender/internal/execlog"
	"github.com/codefionn/buildmender/internal/logger"
)

// ContainerEngine represents the detected container runtime
type ContainerEngine string

const (
	EngineDocker ContainerEngine = "docker"
	EnginePodman ContainerEngine = "podman"
)

// Result is the outcome of one executed command
type Result struct {
	Success    bool
	Output     string
	ReturnCode int
	ExecutedIn execlog.ExecutionEnv
}

// syntheticReturnCode is reported for failures that never produced a real
// exit code: timeouts, empty commands, and processes that failed to start.
const syntheticReturnCode = -1

// Executor runs commands for one project, appending every execution to the
// command log. Not safe for concurrent use.
type Executor struct {
	engineCmd   string
	projectRoot string
	imageTag    string
	runID       string
	cmdLog      *execlog.Log
}

// DetectEngine returns the available container engine, preferring podman
func DetectEngine() (ContainerEngine, error) {
	if _, err := exec.LookPath("podman"); err == nil {
		return EnginePodman, nil
	}
	if _, err := exec.LookPath("docker"); err == nil {
		return EngineDocker, nil
	}
	return "", fmt.Errorf("no container engine found (tried podman, docker)")
}

// New creates an executor for projectRoot using the given engine and image
// tag. log receives a CommandRecord for every execution.
func New(engine ContainerEngine, projectRoot, imageTag string, log *execlog.Log) *Executor {
	return &Executor{
		engineCmd:   string(engine),
		projectRoot: projectRoot,
		imageTag:    imageTag,
		runID:       uuid.NewString()[:8],
		cmdLog:      log,
	}
}

// ImageExists probes whether the isolation image has been built
func (e *Executor) ImageExists(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, e.engineCmd, "image", "inspect", e.imageTag)
	return cmd.Run() == nil
}

// BuildImage builds the isolation image from the project's Dockerfile.
// The build itself always runs on the host: it is what produces the sandbox.
func (e *Executor) BuildImage(ctx context.Context, timeout time.Duration) Result {
	return e.runHost(ctx,
		[]string{e.engineCmd, "build", "-t", e.imageTag, "."},
		"build isolation image",
		timeout)
}

// Execute runs argv under the isolated strategy when the image exists and
// directly on the host otherwise. argv is passed as a literal vector; no
// shell is ever involved.
func (e *Executor) Execute(ctx context.Context, argv []string, description string, timeout time.Duration) Result {
	if len(argv) == 0 {
		return Result{Output: "empty command", ReturnCode: syntheticReturnCode, ExecutedIn: execlog.EnvHost}
	}

	if e.ImageExists(ctx) {
		return e.runSandboxed(ctx, argv, description, timeout)
	}

	logger.Warn("sandbox: image %s not found, executing %q on host", e.imageTag, argv[0])
	return e.runHost(ctx, argv, description, timeout)
}

// ExecuteHost runs argv directly on the host regardless of image state.
// Used for engine-level commands that cannot run inside the sandbox.
func (e *Executor) ExecuteHost(ctx context.Context, argv []string, description string, timeout time.Duration) Result {
	if len(argv) == 0 {
		return Result{Output: "empty command", ReturnCode: syntheticReturnCode, ExecutedIn: execlog.EnvHost}
	}
	return e.runHost(ctx, argv, description, timeout)
}

// sandboxArgs builds the hardened container invocation: no network,
// read-only rootfs with tmpfs scratch mounts, non-root user, all
// capabilities dropped, no privilege escalation, fixed memory/CPU/process
// ceilings, and container-level logging disabled (output is captured from
// the process pipes only).
func (e *Executor) sandboxArgs(argv []string) []string {
	containerName := fmt.Sprintf("%s-run-%s-%d", e.imageTag, e.runID, time.Now().Unix())

	args := []string{
		"run",
		"--rm",
		"--name", containerName,
		"--network", "none",
		"--read-only",
		"--tmpfs", "/tmp:rw,noexec,nosuid",
		"--tmpfs", "/run:rw,noexec,nosuid",
		"--user", "1000:1000",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--memory", "512m",
		"--memory-swap", "512m",
		"--cpus", "1.0",
		"--pids-limit", "100",
		"--ulimit", "nofile=1024:1024",
		"--ulimit", "nproc=100:100",
		"--log-driver", "none",
		e.imageTag,
	}
	return append(args, argv...)
}

func (e *Executor) runSandboxed(ctx context.Context, argv []string, description string, timeout time.Duration) Result {
	full := append([]string{e.engineCmd}, e.sandboxArgs(argv)...)
	res := e.spawn(ctx, full, strings.Join(argv, " "), description, timeout)
	res.ExecutedIn = execlog.EnvSandbox
	e.record(strings.Join(argv, " "), description, res)
	return res
}

func (e *Executor) runHost(ctx context.Context, argv []string, description string, timeout time.Duration) Result {
	res := e.spawn(ctx, argv, strings.Join(argv, " "), description, timeout)
	res.ExecutedIn = execlog.EnvHost
	e.record(strings.Join(argv, " "), description, res)
	return res
}

func (e *Executor) spawn(ctx context.Context, argv []string, display, description string, timeout time.Duration) Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger.Debug("sandbox: executing %s", display)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = e.projectRoot

	var combined strings.Builder
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err := cmd.Run()

	res := Result{
		Success: err == nil,
		Output:  combined.String(),
	}
	if cmd.ProcessState != nil {
		res.ReturnCode = cmd.ProcessState.ExitCode()
	} else if err != nil {
		// the process never started, so there is no real exit code
		res.ReturnCode = syntheticReturnCode
	}

	if ctx.Err() == context.DeadlineExceeded {
		res.Success = false
		res.ReturnCode = syntheticReturnCode
		res.Output += fmt.Sprintf("\ncommand timed out after %s", timeout)
	} else if err != nil && combined.Len() == 0 {
		res.Output = err.Error()
	}

	return res
}

func (e *Executor) record(command, description string, res Result) {
	if e.cmdLog == nil {
		return
	}

	rec := execlog.CommandRecord{
		Timestamp:   time.Now(),
		Command:     command,
		Description: description,
		Success:     res.Success,
		Logs:        res.Output,
		ReturnCode:  res.ReturnCode,
		ExecutedIn:  res.ExecutedIn,
	}

	if err := e.cmdLog.Append(context.Background(), rec); err != nil {
		logger.Error("sandbox: failed to persist command record: %v", err)
	}
}
