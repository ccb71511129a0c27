package datanorm

import (
	"fmt"
	"io"
)

// Stage names used in StageError.
const (
	StageParse  = "parse"
	StageJoin   = "join"
	StageTieOut = "tie-out"
)

// Default source delimiters.
const (
	LeadDelimiter        = ','
	TransactionDelimiter = '|'
)

// Inputs are the three raw sources. The pipeline reads each one to EOF and
// never closes them; callers own the readers.
type Inputs struct {
	Leads        io.Reader
	Transactions io.Reader
	Activity     io.Reader
}

// Options tunes a run. The zero value is usable.
type Options struct {
	Layouts  TimeLayouts
	Resolver IdentityResolver

	LeadDelimiter        rune
	TransactionDelimiter rune
}

// Result is everything a run produced.
type Result struct {
	RunID       string
	Customers   []CustomerRecord
	Rejections  []RejectionEntry
	ParseErrors []ParseError
	Counts      map[Source]SourceCounts

	IdentityBridge   string
	IdentityVerified bool
	// IdentityNotice is set when customers were joined through an unverified bridge.
	IdentityNotice string
}

// RejectionsFor returns the rejections of one source in encounter order.
func (r *Result) RejectionsFor(src Source) []RejectionEntry {
	var out []RejectionEntry
	for _, e := range r.Rejections {
		if e.Source == src {
			out = append(out, e)
		}
	}
	return out
}

// Run executes the whole consolidation as a single forward pass: parse,
// normalize, validate, deduplicate, aggregate, join, then check that every
// source's record accounting ties out. Each stage consumes the previous
// stage's output and returns a new slice. Any returned error is a
// *StageError and means no result should be written.
func Run(rc *RunContext, in Inputs, opts Options) (*Result, error) {
	if opts.LeadDelimiter == 0 {
		opts.LeadDelimiter = LeadDelimiter
	}
	if opts.TransactionDelimiter == 0 {
		opts.TransactionDelimiter = TransactionDelimiter
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = PositionalBridge{}
	}

	leadsParsed, err := parseSource(SourceLeads, in.Leads, func(r io.Reader) (*ParseResult, error) {
		return ParseDelimited(SourceLeads, r, opts.LeadDelimiter)
	})
	if err != nil {
		return nil, err
	}
	txnsParsed, err := parseSource(SourceTransactions, in.Transactions, func(r io.Reader) (*ParseResult, error) {
		return ParseDelimited(SourceTransactions, r, opts.TransactionDelimiter)
	})
	if err != nil {
		return nil, err
	}
	actParsed, err := parseSource(SourceActivity, in.Activity, func(r io.Reader) (*ParseResult, error) {
		return ParseJSONLines(SourceActivity, r)
	})
	if err != nil {
		return nil, err
	}

	for _, p := range []*ParseResult{leadsParsed, txnsParsed, actParsed} {
		rc.RecordParse(p)
	}

	norm := NewNormalizer(opts.Layouts)
	leads := norm.Leads(leadsParsed.Records)
	txns := norm.Transactions(txnsParsed.Records)
	activity := norm.Activity(actParsed.Records)

	acceptedLeads := ValidateLeads(rc, leads)
	acceptedTxns := ValidateTransactions(rc, txns)
	acceptedActivity := ValidateActivity(rc, activity)

	uniqueLeads := DeduplicateLeads(rc, acceptedLeads)
	txnAggs := AggregateTransactions(acceptedTxns)
	actAggs := AggregateActivity(acceptedActivity)

	customers, err := Join(uniqueLeads, txnAggs, actAggs, resolver)
	if err != nil {
		return nil, stageErr(StageJoin, "", err)
	}

	if err := rc.TieOut(); err != nil {
		return nil, stageErr(StageTieOut, "", err)
	}

	result := &Result{
		RunID:            rc.RunID,
		Customers:        customers,
		Rejections:       rc.Rejections(""),
		ParseErrors:      rc.ParseErrors(),
		Counts:           rc.AllCounts(),
		IdentityBridge:   resolver.Name(),
		IdentityVerified: resolver.Verified(),
	}
	if !resolver.Verified() {
		result.IdentityNotice = fmt.Sprintf(
			"email to user_uuid pairing uses the %s bridge and is not verified; treat joined transaction and activity columns as provisional",
			resolver.Name())
	}
	return result, nil
}

func parseSource(src Source, r io.Reader, parse func(io.Reader) (*ParseResult, error)) (*ParseResult, error) {
	if r == nil {
		return nil, stageErr(StageParse, src, fmt.Errorf("%w: no reader", ErrSourceUnreadable))
	}
	p, err := parse(r)
	if err != nil {
		return nil, stageErr(StageParse, src, err)
	}
	return p, nil
}
