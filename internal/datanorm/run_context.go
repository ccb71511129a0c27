package datanorm

import (
	"fmt"
	"sort"
)

// RunContext carries the per-run state every stage reports into: counters
// per source, the rejection accumulator and the parse errors. It is created
// once per run and passed explicitly; nothing here is package-level.
type RunContext struct {
	RunID string

	counts      map[Source]*SourceCounts
	rejections  []RejectionEntry
	parseErrors []ParseError
}

// NewRunContext returns an empty context for one run.
func NewRunContext(runID string) *RunContext {
	rc := &RunContext{
		RunID:  runID,
		counts: make(map[Source]*SourceCounts, len(Sources)),
	}
	for _, src := range Sources {
		rc.counts[src] = &SourceCounts{}
	}
	return rc
}

func (rc *RunContext) countsFor(src Source) *SourceCounts {
	c, ok := rc.counts[src]
	if !ok {
		c = &SourceCounts{}
		rc.counts[src] = c
	}
	return c
}

// RecordParse adds a source's parse outcome: every input record is read,
// and each undecodable one is parse-skipped.
func (rc *RunContext) RecordParse(p *ParseResult) {
	c := rc.countsFor(p.Source)
	c.Read += p.Total()
	c.ParseSkipped += len(p.Errors)
	rc.parseErrors = append(rc.parseErrors, p.Errors...)
}

// Accept counts n records of src as accepted by validation.
func (rc *RunContext) Accept(src Source, n int) {
	rc.countsFor(src).Accepted += n
}

// Reject appends a rejection entry. Entries are never removed or reordered.
func (rc *RunContext) Reject(e RejectionEntry) {
	rc.countsFor(e.Source).Rejected++
	rc.rejections = append(rc.rejections, e)
}

// Deduplicated counts n records of src dropped as duplicates.
func (rc *RunContext) Deduplicated(src Source, n int) {
	rc.countsFor(src).Deduplicated += n
}

// Counts returns a copy of the counters for src.
func (rc *RunContext) Counts(src Source) SourceCounts {
	return *rc.countsFor(src)
}

// AllCounts returns a copy of every source's counters.
func (rc *RunContext) AllCounts() map[Source]SourceCounts {
	out := make(map[Source]SourceCounts, len(rc.counts))
	for src, c := range rc.counts {
		out[src] = *c
	}
	return out
}

// Rejections returns the rejection entries of src in encounter order, or
// every entry (grouped by source, then by sequence) when src is empty.
func (rc *RunContext) Rejections(src Source) []RejectionEntry {
	var out []RejectionEntry
	for _, e := range rc.rejections {
		if src == "" || e.Source == src {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return sourceOrder(out[i].Source) < sourceOrder(out[j].Source)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// ParseErrors returns every parse error seen so far.
func (rc *RunContext) ParseErrors() []ParseError {
	out := make([]ParseError, len(rc.parseErrors))
	copy(out, rc.parseErrors)
	return out
}

// TieOut checks that read == accepted + rejected + parse-skipped for every source.
func (rc *RunContext) TieOut() error {
	for _, src := range Sources {
		c := rc.countsFor(src)
		if c.Read != c.Accepted+c.Rejected+c.ParseSkipped {
			return fmt.Errorf("%w: %s read=%d accepted=%d rejected=%d parse_skipped=%d",
				ErrTieOut, src, c.Read, c.Accepted, c.Rejected, c.ParseSkipped)
		}
	}
	return nil
}

func sourceOrder(src Source) int {
	for i, s := range Sources {
		if s == src {
			return i
		}
	}
	return len(Sources)
}
