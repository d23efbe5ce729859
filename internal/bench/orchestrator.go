package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"discobench/internal/cluster"
	"discobench/internal/logging"
	"discobench/internal/measure"
)

// Options describes one experiment.
type Options struct {
	RunID string
	Kind  measure.Kind
	Mode  string
	// Field labels sweep group markers.
	Field string
	Runs  int
	// Params are the settle times in seconds, one trial batch per value.
	Params []float64
	Swept  bool
	// Target is the distinct peer count that ends a scalability run.
	Target int
	// Timeout bounds every observation; it is the ceiling of a scalability run.
	Timeout       time.Duration
	Address       string
	EventPrefix   string
	StartedReason string
	MeasureFrom   measure.Origin
}

// Resetter clears cluster state between trials.
type Resetter interface {
	Reset(ctx context.Context) (cluster.ResetReport, error)
}

// EventStream yields matching observations until closed.
type EventStream interface {
	Next(ctx context.Context) (cluster.Observation, error)
	Close()
}

// Watcher opens event streams.
type Watcher interface {
	Watch(ctx context.Context, q cluster.Query) (EventStream, error)
}

type observerWatcher struct{ o *cluster.Observer }

// ObserverWatcher adapts a cluster.Observer to Watcher.
func ObserverWatcher(o *cluster.Observer) Watcher { return observerWatcher{o: o} }

func (w observerWatcher) Watch(ctx context.Context, q cluster.Query) (EventStream, error) {
	s, err := w.o.Watch(ctx, q)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ParamReport aggregates the trials run for one settle value.
type ParamReport struct {
	Param    float64 `json:"param"`
	Trials   int     `json:"trials"`
	Samples  int     `json:"samples"`
	Timeouts int     `json:"timeouts"`
	Errors   int     `json:"errors"`
	Mean     float64 `json:"mean_seconds"`
	sum      float64
}

func (r *ParamReport) observe(s measure.Sample) {
	r.Samples++
	r.sum += s.Seconds()
	r.Mean = r.sum / float64(r.Samples)
}

func (r *ParamReport) finish(t measure.Trial) {
	r.Trials++
	switch t.Outcome {
	case measure.OutcomeTimeout:
		r.Timeouts++
	case measure.OutcomeError:
		r.Errors++
	}
}

// Report summarizes a finished experiment.
type Report struct {
	RunID  string        `json:"run_id"`
	Params []ParamReport `json:"params"`
}

// Samples returns the number of samples recorded.
func (r Report) Samples() int {
	n := 0
	for _, p := range r.Params {
		n += p.Samples
	}
	return n
}

// Orchestrator runs trials strictly one after another:
// disable, reset, subscribe, enable, observe, record.
type Orchestrator struct {
	opts     Options
	resetter Resetter
	perturb  cluster.Perturber
	watcher  Watcher
	sampler  *Sampler
	progress *Progress
	now      func() time.Time
}

// NewOrchestrator wires the components of one experiment. When out counts
// mirror failures they are reported in the progress status.
func NewOrchestrator(opts Options, r Resetter, p cluster.Perturber, w Watcher, out SampleWriter) *Orchestrator {
	if opts.MeasureFrom == "" {
		opts.MeasureFrom = measure.OriginDisable
	}
	if opts.Runs < 1 {
		opts.Runs = 1
	}
	if len(opts.Params) == 0 {
		opts.Params = []float64{0}
	}
	progress := NewProgress(opts)
	if mc, ok := out.(MirrorFailureCounter); ok {
		progress.mirror = mc
	}
	return &Orchestrator{
		opts:     opts,
		resetter: r,
		perturb:  p,
		watcher:  w,
		sampler:  NewSampler(out, opts.RunID, opts.Kind, opts.Mode, opts.MeasureFrom),
		progress: progress,
		now:      time.Now,
	}
}

// Progress exposes the live status of the experiment.
func (o *Orchestrator) Progress() *Progress { return o.progress }

// Run executes every trial. Trial-level failures are logged and skipped; a
// broken watch, a failing sample writer or ctx cancellation end the run.
// The logger is taken from ctx.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	rep := Report{RunID: o.opts.RunID}
	defer o.progress.done()
	log := logging.FromContext(ctx).With("run_id", o.opts.RunID, "kind", string(o.opts.Kind), "target", o.perturb.Name())

	for _, p := range o.opts.Params {
		pr := ParamReport{Param: p}
		if o.opts.Swept {
			if err := o.sampler.Group(measure.Group{Field: o.opts.Field, Param: p}); err != nil {
				return rep, fmt.Errorf("write group: %w", err)
			}
		}
		for i := 1; i <= o.opts.Runs; i++ {
			if err := ctx.Err(); err != nil {
				rep.Params = append(rep.Params, pr)
				return rep, err
			}
			tr, err := o.runTrial(ctx, log, i, p, &pr)
			if err != nil {
				// keep the report in line with samples already persisted
				if tr.Samples > 0 {
					pr.finish(tr)
					o.progress.finish(tr)
				}
				rep.Params = append(rep.Params, pr)
				return rep, err
			}
			pr.finish(tr)
			o.progress.finish(tr)
			if err := o.sampler.Trial(tr); err != nil {
				rep.Params = append(rep.Params, pr)
				return rep, fmt.Errorf("write trial: %w", err)
			}
		}
		log.Info("parameter complete", "param", p, "samples", pr.Samples,
			"timeouts", pr.Timeouts, "errors", pr.Errors, "mean", pr.Mean)
		rep.Params = append(rep.Params, pr)
	}
	return rep, nil
}

type streams struct {
	records   EventStream
	lifecycle EventStream
}

func (s streams) close() {
	if s.records != nil {
		s.records.Close()
	}
	if s.lifecycle != nil {
		s.lifecycle.Close()
	}
}

func (o *Orchestrator) subscribe(ctx context.Context) (streams, error) {
	var st streams
	kind := o.opts.Kind
	if kind != measure.KindStartup {
		rs, err := o.watcher.Watch(ctx, cluster.Query{
			Class:   cluster.Records,
			Address: o.opts.Address,
			Timeout: o.opts.Timeout,
		})
		if err != nil {
			return st, err
		}
		st.records = rs
	}
	if kind == measure.KindStartup || kind == measure.KindDiscoveryOnly {
		ls, err := o.watcher.Watch(ctx, cluster.Query{
			Class:   cluster.Lifecycle,
			Prefix:  o.opts.EventPrefix,
			Reason:  o.opts.StartedReason,
			Timeout: o.opts.Timeout,
		})
		if err != nil {
			st.close()
			return streams{}, err
		}
		st.lifecycle = ls
	}
	return st, nil
}

func (o *Orchestrator) runTrial(ctx context.Context, log *slog.Logger, idx int, param float64, pr *ParamReport) (measure.Trial, error) {
	tr := measure.Trial{Index: idx, Param: param, StartedAt: o.now()}
	log = log.With("trial", idx, "param", param)

	o.progress.phase(PhaseDisable, idx, param)
	settle := time.Duration(param * float64(time.Second))
	if err := o.perturb.Disable(ctx, settle); err != nil {
		return o.abort(ctx, tr, log, "disable", err)
	}

	o.progress.phase(PhaseReset, idx, param)
	rr, err := o.resetter.Reset(ctx)
	if err != nil {
		return o.abort(ctx, tr, log, "reset", err)
	}
	if rr.Failures > 0 {
		log.Warn("reset left stale objects", "failures", rr.Failures)
	}

	st, err := o.subscribe(ctx)
	if err != nil {
		return o.abort(ctx, tr, log, "watch", err)
	}
	defer st.close()

	o.progress.phase(PhaseEnable, idx, param)
	if err := o.perturb.Enable(ctx); err != nil {
		return o.abort(ctx, tr, log, "enable", err)
	}
	tr.EnabledAt = o.now()

	o.progress.phase(PhaseObserve, idx, param)
	switch o.opts.Kind {
	case measure.KindScalability:
		err = o.observeMany(ctx, &tr, st.records, pr, log)
	case measure.KindDiscoveryOnly:
		err = o.observeBetween(ctx, &tr, st.lifecycle, st.records, pr, log)
	case measure.KindStartup:
		err = o.observeOne(ctx, &tr, st.lifecycle, pr, log)
	default:
		err = o.observeOne(ctx, &tr, st.records, pr, log)
	}
	tr.EndedAt = o.now()
	return tr, err
}

func (o *Orchestrator) abort(ctx context.Context, tr measure.Trial, log *slog.Logger, step string, err error) (measure.Trial, error) {
	if ctx.Err() != nil {
		return tr, ctx.Err()
	}
	tr.Outcome = measure.OutcomeError
	tr.Err = fmt.Sprintf("%s: %v", step, err)
	tr.EndedAt = o.now()
	log.Error("trial failed", "step", step, "err", err)
	return tr, nil
}

func (o *Orchestrator) observeFailed(ctx context.Context, tr *measure.Trial, log *slog.Logger, err error) error {
	if errors.Is(err, cluster.ErrTimeout) {
		tr.Outcome = measure.OutcomeTimeout
		log.Warn("no match before timeout", "timeout", o.opts.Timeout)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("observe trial %d: %w", tr.Index, err)
}

func (o *Orchestrator) recorded(tr *measure.Trial, sample measure.Sample, err error, pr *ParamReport, log *slog.Logger) error {
	if errors.Is(err, ErrNegativeElapsed) {
		tr.Outcome = measure.OutcomeError
		tr.Err = err.Error()
		log.Error("sample rejected", "err", err)
		return nil
	}
	if err != nil {
		return err
	}
	tr.Outcome = measure.OutcomeSuccess
	tr.Samples++
	tr.Elapsed = sample.Elapsed
	pr.observe(sample)
	o.progress.sample(sample)
	log.Info("sample recorded", "elapsed", sample.Elapsed, "avg", pr.Mean)
	return nil
}

func (o *Orchestrator) observeOne(ctx context.Context, tr *measure.Trial, s EventStream, pr *ParamReport, log *slog.Logger) error {
	obs, err := s.Next(ctx)
	if err != nil {
		return o.observeFailed(ctx, tr, log, err)
	}
	log.Debug("matched", "name", obs.Name, "reported_at", obs.ReportedAt)
	sample, err := o.sampler.Record(tr, obs)
	return o.recorded(tr, sample, err, pr, log)
}

func (o *Orchestrator) observeBetween(ctx context.Context, tr *measure.Trial, lifecycle, records EventStream, pr *ParamReport, log *slog.Logger) error {
	started, err := lifecycle.Next(ctx)
	if err != nil {
		return o.observeFailed(ctx, tr, log, err)
	}
	log.Debug("workload started", "event", started.Name)
	rec, err := records.Next(ctx)
	if err != nil {
		return o.observeFailed(ctx, tr, log, err)
	}
	sample, err := o.sampler.RecordBetween(tr, started, rec)
	return o.recorded(tr, sample, err, pr, log)
}

func (o *Orchestrator) observeMany(ctx context.Context, tr *measure.Trial, s EventStream, pr *ParamReport, log *slog.Logger) error {
	seen := make(map[string]struct{})
	reason := measure.RunEndTarget
	for len(seen) < o.opts.Target {
		obs, err := s.Next(ctx)
		if errors.Is(err, cluster.ErrTimeout) {
			reason = measure.RunEndCeiling
			break
		}
		if err != nil {
			return o.observeFailed(ctx, tr, log, err)
		}
		if _, dup := seen[obs.Name]; dup {
			log.Warn("duplicate discovery", "peer", obs.Name)
		}
		seen[obs.Name] = struct{}{}
		sample, err := o.sampler.Record(tr, obs)
		if errors.Is(err, ErrNegativeElapsed) {
			tr.Err = err.Error()
			log.Error("sample rejected", "peer", obs.Name, "err", err)
			continue
		}
		if err != nil {
			return err
		}
		tr.Samples++
		tr.Elapsed = sample.Elapsed
		pr.observe(sample)
		o.progress.sample(sample)
		log.Info("peer discovered", "peer", obs.Name, "address", obs.Address,
			"elapsed", sample.Elapsed, "discovered", len(seen))
	}

	switch {
	case tr.Err != "":
		tr.Outcome = measure.OutcomeError
	case reason == measure.RunEndCeiling:
		tr.Outcome = measure.OutcomeTimeout
		log.Warn("ceiling reached", "discovered", len(seen), "target", o.opts.Target)
	default:
		tr.Outcome = measure.OutcomeSuccess
	}
	end := measure.RunEnd{Trial: tr.Index, Discovered: len(seen), Reason: reason, Timestamp: o.now()}
	if err := o.sampler.EndRun(end); err != nil {
		return fmt.Errorf("write run end: %w", err)
	}
	return nil
}
