package bench

import (
	"errors"
	"fmt"
	"time"

	"discobench/internal/cluster"
	"discobench/internal/measure"
)

// ErrNegativeElapsed is returned when an observation predates its origin.
var ErrNegativeElapsed = errors.New("negative elapsed duration")

// Sampler turns observations into samples and hands them to a writer.
type Sampler struct {
	w      SampleWriter
	runID  string
	kind   measure.Kind
	mode   string
	origin measure.Origin
}

// NewSampler creates a Sampler measuring from origin.
func NewSampler(w SampleWriter, runID string, kind measure.Kind, mode string, origin measure.Origin) *Sampler {
	return &Sampler{w: w, runID: runID, kind: kind, mode: mode, origin: origin}
}

// Record stores the time between the trial origin and obs.
func (s *Sampler) Record(t *measure.Trial, obs cluster.Observation) (measure.Sample, error) {
	return s.record(t, t.OriginTime(s.origin), obs)
}

// RecordBetween stores the time between two observations of the same trial.
func (s *Sampler) RecordBetween(t *measure.Trial, from, to cluster.Observation) (measure.Sample, error) {
	return s.record(t, from.ObservedAt, to)
}

func (s *Sampler) record(t *measure.Trial, origin time.Time, obs cluster.Observation) (measure.Sample, error) {
	elapsed := obs.ObservedAt.Sub(origin)
	if elapsed < 0 {
		return measure.Sample{}, fmt.Errorf("%w: %s observed %s before origin", ErrNegativeElapsed, obs.Name, -elapsed)
	}
	sample := measure.Sample{
		RunID:      s.runID,
		Kind:       s.kind,
		Mode:       s.mode,
		Param:      t.Param,
		Trial:      t.Index,
		Elapsed:    elapsed,
		ObservedAt: obs.ObservedAt,
	}
	if s.kind.MultiMatch() {
		sample.Peer = obs.Name
		sample.Address = obs.Address
	}
	if err := s.w.WriteSample(sample); err != nil {
		return sample, fmt.Errorf("write sample: %w", err)
	}
	return sample, nil
}

// Group writes a sweep group marker when the writer accepts one.
func (s *Sampler) Group(g measure.Group) error {
	if gw, ok := s.w.(GroupWriter); ok {
		return gw.WriteGroup(g)
	}
	return nil
}

// EndRun writes a run terminator when the writer accepts one.
func (s *Sampler) EndRun(e measure.RunEnd) error {
	e.RunID = s.runID
	if rw, ok := s.w.(RunEndWriter); ok {
		return rw.WriteRunEnd(e)
	}
	return nil
}

// Trial reports a finished trial when the writer accepts one.
func (s *Sampler) Trial(t measure.Trial) error {
	if tw, ok := s.w.(TrialWriter); ok {
		return tw.WriteTrial(measure.TrialRecord{RunID: s.runID, Kind: s.kind, Mode: s.mode, Trial: t})
	}
	return nil
}
