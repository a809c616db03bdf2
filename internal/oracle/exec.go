package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/codefionn/buildmender/internal/logger"
)

// defaultAgentTimeout bounds a single external-agent invocation
const defaultAgentTimeout = 5 * time.Minute

// ExecAgent adapts external agent programs to the Planner, Corrector and
// ManifestGenerator contracts. Each call spawns the configured argv, writes
// a JSON payload to its stdin and reads the reply from stdout. Any argv left
// empty makes the corresponding contract report "agent not configured".
type ExecAgent struct {
	PlannerArgv   []string
	CorrectorArgv []string
	ManifestArgv  []string

	// Dir is the working directory for agent processes, normally the
	// project root.
	Dir     string
	Timeout time.Duration
}

// ErrAgentNotConfigured is returned when a contract has no argv bound
var ErrAgentNotConfigured = errors.New("no agent command configured")

type plannerPayload struct {
	ErrorType ErrorType `json:"error_type"`
	Logs      string    `json:"logs"`
}

type correctorPayload struct {
	FilePath     string `json:"filepath"`
	ErrorSummary string `json:"error"`
	Solution     string `json:"solution,omitempty"`
	Iteration    int    `json:"iteration"`
}

// PlanFixes sends the failure logs to the planner agent and parses its
// stdout as a fix plan.
func (a *ExecAgent) PlanFixes(ctx context.Context, logs string, errorType ErrorType) (FixPlan, error) {
	if len(a.PlannerArgv) == 0 {
		return nil, ErrAgentNotConfigured
	}

	payload, err := json.Marshal(plannerPayload{ErrorType: errorType, Logs: logs})
	if err != nil {
		return nil, err
	}

	out, _, err := a.invoke(ctx, a.PlannerArgv, payload)
	if err != nil {
		return nil, fmt.Errorf("planner agent: %w", err)
	}
	return ParseFixPlan(out)
}

// ApplyFix sends one descriptor to the corrector agent. Exit code 0 means
// applied, exit code 1 means declined; anything else is an agent error.
func (a *ExecAgent) ApplyFix(ctx context.Context, fix FixDescriptor) (bool, error) {
	if len(a.CorrectorArgv) == 0 {
		return false, ErrAgentNotConfigured
	}

	payload, err := json.Marshal(correctorPayload{
		FilePath:     fix.FilePath,
		ErrorSummary: fix.ErrorSummary,
		Solution:     fix.Solution,
		Iteration:    fix.Iteration,
	})
	if err != nil {
		return false, err
	}

	_, code, err := a.invoke(ctx, a.CorrectorArgv, payload)
	if err != nil {
		if code == 1 {
			logger.Debug("oracle: corrector declined fix for %s", fix.FilePath)
			return false, nil
		}
		return false, fmt.Errorf("corrector agent: %w", err)
	}
	return true, nil
}

// GenerateManifest sends the project context to the manifest agent and
// returns its stdout as the manifest text.
func (a *ExecAgent) GenerateManifest(ctx context.Context, req ManifestRequest) (string, error) {
	if len(a.ManifestArgv) == 0 {
		return "", ErrAgentNotConfigured
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	out, _, err := a.invoke(ctx, a.ManifestArgv, payload)
	if err != nil {
		return "", fmt.Errorf("manifest agent: %w", err)
	}
	return string(out), nil
}

func (a *ExecAgent) invoke(ctx context.Context, argv []string, stdin []byte) ([]byte, int, error) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = defaultAgentTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = a.Dir
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	code := 0
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		if stderr.Len() > 0 {
			return stdout.Bytes(), code, fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		return stdout.Bytes(), code, err
	}
	return stdout.Bytes(), code, nil
}
