// Package runlog persists one summary per consolidation run so operators can
// audit record accounting across runs.
package runlog

import (
	"context"
	"sort"
	"time"

	"github.com/ignite/lead-consolidator/internal/datanorm"
)

// Run outcomes.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Summary describes one run.
type Summary struct {
	RunID            string
	StartedAt        time.Time
	FinishedAt       time.Time
	Status           string
	DryRun           bool
	IdentityBridge   string
	IdentityVerified bool
	Customers        int
	Counts           map[datanorm.Source]datanorm.SourceCounts
	// Outputs maps an output name to the URI it was written to.
	Outputs    map[string]string
	Error      string
	Rejections []datanorm.RejectionEntry
}

// Duration is FinishedAt minus StartedAt.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// CountsBySource returns the counters keyed by plain source name, for
// encoders that need string keys.
func (s Summary) CountsBySource() map[string]datanorm.SourceCounts {
	out := make(map[string]datanorm.SourceCounts, len(s.Counts))
	for src, c := range s.Counts {
		out[string(src)] = c
	}
	return out
}

// OutputNames returns the output names in sorted order.
func (s Summary) OutputNames() []string {
	names := make([]string, 0, len(s.Outputs))
	for name := range s.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Recorder stores run summaries.
type Recorder interface {
	Record(ctx context.Context, s Summary) error
}

// Nop discards summaries.
type Nop struct{}

func (Nop) Record(context.Context, Summary) error { return nil }
