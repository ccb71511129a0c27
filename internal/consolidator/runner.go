package consolidator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/lead-consolidator/internal/config"
	"github.com/ignite/lead-consolidator/internal/datanorm"
	"github.com/ignite/lead-consolidator/internal/metrics"
	"github.com/ignite/lead-consolidator/internal/output"
	"github.com/ignite/lead-consolidator/internal/pkg/distlock"
	"github.com/ignite/lead-consolidator/internal/pkg/logger"
	"github.com/ignite/lead-consolidator/internal/runlog"
	"github.com/ignite/lead-consolidator/internal/storage"
)

// Output names used in run summaries.
const (
	OutputCustomers          = "customers"
	OutputRejections         = "rejections"
	OutputActivityRejections = "activity_rejections"
)

// Deps are the collaborators a Runner needs. Lock, Recorder and Metrics
// may be nil.
type Deps struct {
	Store    storage.Store
	Lock     distlock.DistLock
	Recorder runlog.Recorder
	Metrics  *metrics.Metrics
	Logger   *logger.Logger
}

// Runner executes one consolidation run end to end.
type Runner struct {
	cfg      *config.Config
	store    storage.Store
	lock     distlock.DistLock
	recorder runlog.Recorder
	metrics  *metrics.Metrics
	log      *logger.Logger

	now   func() time.Time
	newID func() string
}

func NewRunner(cfg *config.Config, deps Deps) *Runner {
	r := &Runner{
		cfg:      cfg,
		store:    deps.Store,
		lock:     deps.Lock,
		recorder: deps.Recorder,
		metrics:  deps.Metrics,
		log:      deps.Logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	if r.lock == nil {
		r.lock = distlock.NewLock(nil, nil, cfg.Lock.Key, cfg.Lock.TTL())
	}
	if r.recorder == nil {
		r.recorder = runlog.Nop{}
	}
	if r.log == nil {
		r.log = logger.Default()
	}
	return r
}

// Report is what a run produced. Result is nil when the core failed.
type Report struct {
	Summary runlog.Summary
	Result  *datanorm.Result
}

// rendered holds every output in memory so nothing is written until all of
// them encoded cleanly.
type rendered struct {
	key         string
	name        string
	data        []byte
	contentType string
}

// Run acquires the run lock, consolidates the configured sources and writes
// the outputs. With dryRun the outputs are rendered but not written. The
// run summary is recorded and pushed whether or not the run succeeded; a
// run that could not get the lock records nothing and returns
// distlock.ErrRunInProgress.
func (r *Runner) Run(ctx context.Context, dryRun bool) (*Report, error) {
	summary := runlog.Summary{
		RunID:     r.newID(),
		StartedAt: r.now().UTC(),
		DryRun:    dryRun,
		Outputs:   map[string]string{},
	}
	log := r.log.With("run_id", summary.RunID)
	log.Info("consolidation run starting", "dry_run", dryRun, "bridge", r.cfg.Identity.Bridge)

	var result *datanorm.Result
	err := distlock.WithLock(ctx, r.lock, func(ctx context.Context) error {
		var err error
		result, err = r.consolidate(ctx, summary.RunID, dryRun, summary.Outputs, log)
		return err
	})
	if errors.Is(err, distlock.ErrRunInProgress) {
		log.Warn("another consolidation run is in progress, skipping", "lock", r.cfg.Lock.Key)
		return nil, err
	}

	summary.FinishedAt = r.now().UTC()
	summary.IdentityBridge = r.cfg.Identity.Bridge
	if result != nil {
		summary.Customers = len(result.Customers)
		summary.Counts = result.Counts
		summary.Rejections = result.Rejections
		summary.IdentityBridge = result.IdentityBridge
		summary.IdentityVerified = result.IdentityVerified
	}
	if err != nil {
		summary.Status = runlog.StatusFailed
		summary.Error = err.Error()
		log.Error("consolidation run failed", "error", err, "duration_ms", summary.Duration().Milliseconds())
	} else {
		summary.Status = runlog.StatusSucceeded
	}

	if rerr := r.recorder.Record(ctx, summary); rerr != nil {
		log.Error("failed to record run summary", "error", rerr)
		if err == nil {
			err = fmt.Errorf("record run summary: %w", rerr)
			summary.Status = runlog.StatusFailed
		}
	}
	r.pushMetrics(ctx, summary, log)

	if err != nil {
		return &Report{Summary: summary, Result: result}, err
	}

	r.logSummary(log, summary, result)
	return &Report{Summary: summary, Result: result}, nil
}

func (r *Runner) consolidate(ctx context.Context, runID string, dryRun bool, uris map[string]string, log *logger.Logger) (*datanorm.Result, error) {
	opts := datanorm.Options{
		Layouts: datanorm.TimeLayouts{
			LeadCreationDate:     r.cfg.Layouts.LeadCreationDate,
			TransactionTimestamp: r.cfg.Layouts.TransactionTimestamp,
			ActivityTimestamp:    r.cfg.Layouts.ActivityTimestamp,
		},
		LeadDelimiter:        config.Delimiter(r.cfg.Sources.LeadDelimiter, datanorm.LeadDelimiter),
		TransactionDelimiter: config.Delimiter(r.cfg.Sources.TransactionDelimiter, datanorm.TransactionDelimiter),
	}

	resolver, err := r.resolver(ctx)
	if err != nil {
		return nil, err
	}
	opts.Resolver = resolver

	result, err := r.runCore(ctx, runID, opts)
	if err != nil {
		return nil, err
	}
	for _, pe := range result.ParseErrors {
		log.Warn("skipped malformed record", "source", string(pe.Source), "line", pe.Line, "error", pe.Message)
	}

	outputs, err := r.render(result)
	if err != nil {
		return result, err
	}

	for _, o := range outputs {
		uris[o.name] = r.store.URI(o.key)
	}
	if dryRun {
		for _, o := range outputs {
			log.Info("dry run, output not written", "output", o.name, "uri", uris[o.name], "bytes", len(o.data))
		}
		return result, nil
	}

	if err := r.publish(ctx, runID, outputs, log); err != nil {
		return result, err
	}
	for _, o := range outputs {
		log.Debug("output written", "output", o.name, "uri", uris[o.name], "bytes", len(o.data))
	}
	return result, nil
}

func stagingKey(key, runID string) string {
	return key + ".staging-" + runID
}

// publish writes every output under a staging key first and promotes them
// only once all staging writes succeeded. A failed staging write leaves the
// previous outputs untouched.
func (r *Runner) publish(ctx context.Context, runID string, outputs []rendered, log *logger.Logger) error {
	staged := make([]string, 0, len(outputs))
	for _, o := range outputs {
		key := stagingKey(o.key, runID)
		if err := r.store.Write(ctx, key, o.data, o.contentType); err != nil {
			r.discard(ctx, staged, log)
			return fmt.Errorf("write %s output: %w", o.name, err)
		}
		staged = append(staged, key)
	}

	for i, o := range outputs {
		if err := r.store.Rename(ctx, staged[i], o.key); err != nil {
			r.discard(ctx, staged[i:], log)
			return fmt.Errorf("promote %s output: %w", o.name, err)
		}
	}
	return nil
}

// discard removes staging objects. It runs even when ctx is already done.
func (r *Runner) discard(ctx context.Context, keys []string, log *logger.Logger) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := r.store.Delete(ctx, key); err != nil {
			log.Warn("failed to remove staged output", "uri", r.store.URI(key), "error", err)
		}
	}
}

// runCore opens the three sources, runs the pipeline and closes them again.
func (r *Runner) runCore(ctx context.Context, runID string, opts datanorm.Options) (*datanorm.Result, error) {
	keys := []struct {
		src datanorm.Source
		key string
	}{
		{datanorm.SourceLeads, r.cfg.Sources.Leads},
		{datanorm.SourceTransactions, r.cfg.Sources.Transactions},
		{datanorm.SourceActivity, r.cfg.Sources.Activity},
	}

	readers := make(map[datanorm.Source]io.ReadCloser, len(keys))
	defer func() {
		for _, rc := range readers {
			rc.Close()
		}
	}()

	for _, k := range keys {
		rc, err := r.store.Open(ctx, k.key)
		if err != nil {
			return nil, &datanorm.StageError{
				Stage:  datanorm.StageParse,
				Source: k.src,
				Err:    fmt.Errorf("%w: %w", datanorm.ErrSourceUnreadable, err),
			}
		}
		readers[k.src] = rc
	}

	return datanorm.Run(datanorm.NewRunContext(runID), datanorm.Inputs{
		Leads:        readers[datanorm.SourceLeads],
		Transactions: readers[datanorm.SourceTransactions],
		Activity:     readers[datanorm.SourceActivity],
	}, opts)
}

func (r *Runner) resolver(ctx context.Context) (datanorm.IdentityResolver, error) {
	if r.cfg.Identity.Bridge != "mapping_table" {
		return datanorm.PositionalBridge{}, nil
	}

	rc, err := r.store.Open(ctx, r.cfg.Identity.MappingKey)
	if err != nil {
		return nil, &datanorm.StageError{Stage: datanorm.StageJoin, Err: fmt.Errorf("open identity mapping: %w", err)}
	}
	defer rc.Close()

	bridge, err := datanorm.LoadMappingTable(rc)
	if err != nil {
		return nil, &datanorm.StageError{Stage: datanorm.StageJoin, Err: fmt.Errorf("load identity mapping: %w", err)}
	}
	return bridge, nil
}

func (r *Runner) render(result *datanorm.Result) ([]rendered, error) {
	customers, err := output.RenderCustomers(result.Customers, r.cfg.Outputs.Compression)
	if err != nil {
		return nil, fmt.Errorf("render customer table: %w", err)
	}

	outputs := []rendered{
		{r.cfg.Outputs.Customers, OutputCustomers, customers, output.ContentTypeParquet},
		{r.cfg.Outputs.Rejections, OutputRejections,
			output.RenderRejections(result.RejectionsFor(datanorm.SourceTransactions)), output.ContentTypeLog},
	}
	if r.cfg.Outputs.ActivityRejections != "" {
		outputs = append(outputs, rendered{r.cfg.Outputs.ActivityRejections, OutputActivityRejections,
			output.RenderRejections(result.RejectionsFor(datanorm.SourceActivity)), output.ContentTypeLog})
	}
	return outputs, nil
}

func (r *Runner) pushMetrics(ctx context.Context, s runlog.Summary, log *logger.Logger) {
	if r.metrics == nil {
		return
	}
	r.metrics.Observe(s)
	if err := r.metrics.Push(ctx, r.cfg.Metrics.PushgatewayURL, r.cfg.Metrics.Job); err != nil {
		log.Warn("metrics push failed", "error", err)
	}
}

func (r *Runner) logSummary(log *logger.Logger, s runlog.Summary, result *datanorm.Result) {
	if result.IdentityNotice != "" {
		log.Warn(result.IdentityNotice, "bridge", result.IdentityBridge)
	}
	for _, src := range datanorm.Sources {
		c := s.Counts[src]
		log.Info("source accounting",
			"source", string(src),
			"read", c.Read,
			"accepted", c.Accepted,
			"rejected", c.Rejected,
			"parse_skipped", c.ParseSkipped,
			"deduplicated", c.Deduplicated,
		)
	}
	log.Info("consolidation run finished",
		"customers", s.Customers,
		"rejections", len(s.Rejections),
		"dry_run", s.DryRun,
		"duration_ms", s.Duration().Milliseconds(),
	)
}
