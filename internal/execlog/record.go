package execlog

import "time"

// ExecutionEnv indicates where a command ran
type ExecutionEnv string

const (
	// EnvSandbox means the command ran inside the isolation container
	EnvSandbox ExecutionEnv = "sandbox"
	// EnvHost means the command ran directly on the host
	EnvHost ExecutionEnv = "host"
)

// CommandRecord is one executed command with its captured outcome.
// Records are immutable once appended to the log.
type CommandRecord struct {
	Timestamp   time.Time    `json:"timestamp"`
	Command     string       `json:"command"`
	Description string       `json:"description"`
	Success     bool         `json:"success"`
	Logs        string       `json:"logs"`
	ReturnCode  int          `json:"returncode"`
	ExecutedIn  ExecutionEnv `json:"executed_in"`
}
