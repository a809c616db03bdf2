package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/buildmender/internal/execlog"
)

func newTestExecutor(t *testing.T) (*Executor, *execlog.Log) {
	t.Helper()
	log := execlog.New(t.TempDir(), 100_000, nil)
	log.TokenEstimator = execlog.HeuristicTokenCounter
	// A nonexistent engine forces the host strategy in Execute
	e := New(ContainerEngine("definitely-not-an-engine"), t.TempDir(), "buildmender-test", log)
	return e, log
}

func TestExecuteHostSuccess(t *testing.T) {
	e, log := newTestExecutor(t)

	res := e.ExecuteHost(context.Background(), []string{"echo", "hello"}, "say hello", 10*time.Second)

	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ReturnCode)
	assert.Contains(t, res.Output, "hello")
	assert.Equal(t, execlog.EnvHost, res.ExecutedIn)

	records := log.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "echo hello", records[0].Command)
	assert.Equal(t, "say hello", records[0].Description)
	assert.True(t, records[0].Success)
}

func TestExecuteHostFailure(t *testing.T) {
	e, log := newTestExecutor(t)

	res := e.ExecuteHost(context.Background(), []string{"false"}, "always fails", 10*time.Second)

	assert.False(t, res.Success)
	assert.NotEqual(t, 0, res.ReturnCode)

	records := log.Records()
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
}

func TestRecordSuccessMatchesReturnCode(t *testing.T) {
	e, log := newTestExecutor(t)

	e.ExecuteHost(context.Background(), []string{"true"}, "", 10*time.Second)
	e.ExecuteHost(context.Background(), []string{"false"}, "", 10*time.Second)

	for _, rec := range log.Records() {
		assert.Equal(t, rec.ReturnCode == 0, rec.Success,
			"success must equal returncode==0 for %q", rec.Command)
	}
}

func TestStartFailureGetsSyntheticReturnCode(t *testing.T) {
	e, log := newTestExecutor(t)

	res := e.ExecuteHost(context.Background(), []string{"/definitely/not/a/binary"}, "", 10*time.Second)

	assert.False(t, res.Success)
	assert.Equal(t, syntheticReturnCode, res.ReturnCode)
	assert.NotEmpty(t, res.Output)

	records := log.Records()
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Equal(t, records[0].ReturnCode == 0, records[0].Success,
		"a start failure must not record a zero return code")
}

func TestExecuteTimeout(t *testing.T) {
	e, _ := newTestExecutor(t)

	start := time.Now()
	res := e.ExecuteHost(context.Background(), []string{"sleep", "30"}, "sleep", 200*time.Millisecond)

	assert.False(t, res.Success)
	assert.Equal(t, syntheticReturnCode, res.ReturnCode)
	assert.Contains(t, res.Output, "timed out")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecuteFallsBackToHostWithoutImage(t *testing.T) {
	e, log := newTestExecutor(t)

	res := e.Execute(context.Background(), []string{"echo", "fallback"}, "", 10*time.Second)

	assert.True(t, res.Success)
	assert.Equal(t, execlog.EnvHost, res.ExecutedIn)
	require.Len(t, log.Records(), 1)
	assert.Equal(t, execlog.EnvHost, log.Records()[0].ExecutedIn)
}

func TestExecuteEmptyCommand(t *testing.T) {
	e, log := newTestExecutor(t)

	res := e.Execute(context.Background(), nil, "", time.Second)

	assert.False(t, res.Success)
	assert.Empty(t, log.Records())
}

func TestSandboxArgsIsolationFlags(t *testing.T) {
	e, _ := newTestExecutor(t)

	args := e.sandboxArgs([]string{"pytest", "-v"})

	joined := ""
	for _, a := range args {
		joined += a + " "
	}

	for _, flag := range []string{
		"--network none",
		"--read-only",
		"--user 1000:1000",
		"--cap-drop ALL",
		"--security-opt no-new-privileges",
		"--memory 512m",
		"--pids-limit 100",
		"--log-driver none",
	} {
		assert.Contains(t, joined, flag)
	}

	// The command vector is passed literally after the image tag
	require.GreaterOrEqual(t, len(args), 3)
	assert.Equal(t, "pytest", args[len(args)-2])
	assert.Equal(t, "-v", args[len(args)-1])
}
