package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/codefionn/buildmender/internal/logger"
	"github.com/codefionn/buildmender/internal/oracle"
)

// errorSignatureLen is how much of each error summary participates in the
// signature. Planner prose varies in the tail; the head identifies the error.
const errorSignatureLen = 100

// stuckDetector notices when the planner keeps proposing the same fixes.
// The signature of a plan is the set of (file, head-of-error) pairs; the
// count of consecutive identical signatures decides stuckness.
type stuckDetector struct {
	limit    int
	lastSig  uint64
	hasLast  bool
	repeated int
}

func newStuckDetector(limit int) *stuckDetector {
	return &stuckDetector{limit: limit}
}

// Observe records the plan for this iteration and reports whether the
// phase is now stuck. An empty plan participates like any other signature:
// a planner that repeatedly produces nothing is just as stuck.
func (s *stuckDetector) Observe(plan oracle.FixPlan) bool {
	sig := planSignature(plan)

	if s.hasLast && sig == s.lastSig {
		s.repeated++
	} else {
		s.repeated = 0
	}
	s.lastSig = sig
	s.hasLast = true

	if s.repeated >= s.limit {
		logger.Warn("orchestrator: fix signature %016x repeated %d times, phase is stuck", sig, s.repeated)
		return true
	}
	return false
}

// planSignature hashes the order-independent set of (file, error head) pairs
func planSignature(plan oracle.FixPlan) uint64 {
	pairs := make([]string, 0, len(plan))
	for _, fix := range plan {
		head := fix.ErrorSummary
		if len(head) > errorSignatureLen {
			head = head[:errorSignatureLen]
		}
		pairs = append(pairs, fmt.Sprintf("%s\x00%s", fix.FilePath, head))
	}
	sort.Strings(pairs)
	return xxhash.Sum64String(strings.Join(pairs, "\x01"))
}
