package oracle

import (
	"context"

	"github.com/codefionn/buildmender/internal/execlog"
)

// MechanicalSummarizer is the deterministic fallback summarizer: one line
// per record built from its status and extracted error/success lines.
// It never fails and needs no external agent.
type MechanicalSummarizer struct{}

func (MechanicalSummarizer) Summarize(_ context.Context, records []execlog.CommandRecord) (string, error) {
	return execlog.MechanicalSummary(records), nil
}
