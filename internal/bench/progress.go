package bench

import (
	"sync"
	"time"

	"discobench/internal/measure"
)

// Trial phases reported in Status.
const (
	PhaseIdle    = "idle"
	PhaseDisable = "disable"
	PhaseReset   = "reset"
	PhaseEnable  = "enable"
	PhaseObserve = "observe"
	PhaseDone    = "done"
)

// Status is a point-in-time view of an experiment.
type Status struct {
	RunID          string       `json:"run_id"`
	Mode           string       `json:"mode"`
	Kind           measure.Kind `json:"kind"`
	Phase          string       `json:"phase"`
	Param          float64      `json:"param"`
	Trial          int          `json:"trial"`
	Runs           int          `json:"runs"`
	TotalTrials    int          `json:"total_trials"`
	Completed      int          `json:"completed"`
	Samples        int          `json:"samples"`
	Timeouts       int          `json:"timeouts"`
	Errors         int          `json:"errors"`
	MirrorFailures int          `json:"mirror_failures"`
	LastElapsed    float64      `json:"last_elapsed_seconds"`
	StartedAt      time.Time    `json:"started_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	Done           bool         `json:"done"`
}

// Progress is the mutex-guarded status shared with readers on other goroutines.
type Progress struct {
	mu     sync.RWMutex
	st     Status
	now    func() time.Time
	mirror MirrorFailureCounter
}

// NewProgress creates a Progress for an experiment described by opts.
func NewProgress(opts Options) *Progress {
	p := &Progress{now: time.Now}
	p.st = Status{
		RunID:       opts.RunID,
		Mode:        opts.Mode,
		Kind:        opts.Kind,
		Phase:       PhaseIdle,
		Runs:        opts.Runs,
		TotalTrials: opts.Runs * len(opts.Params),
		StartedAt:   p.now(),
	}
	p.st.UpdatedAt = p.st.StartedAt
	return p
}

// Snapshot returns a copy of the current status.
func (p *Progress) Snapshot() Status {
	p.mu.RLock()
	st := p.st
	p.mu.RUnlock()
	if p.mirror != nil {
		st.MirrorFailures = p.mirror.MirrorFailures()
	}
	return st
}

func (p *Progress) update(fn func(*Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.st)
	p.st.UpdatedAt = p.now()
}

func (p *Progress) phase(phase string, trial int, param float64) {
	p.update(func(s *Status) {
		s.Phase = phase
		s.Trial = trial
		s.Param = param
	})
}

func (p *Progress) sample(sm measure.Sample) {
	p.update(func(s *Status) {
		s.Samples++
		s.LastElapsed = sm.Seconds()
	})
}

func (p *Progress) finish(t measure.Trial) {
	p.update(func(s *Status) {
		s.Completed++
		switch t.Outcome {
		case measure.OutcomeTimeout:
			s.Timeouts++
		case measure.OutcomeError:
			s.Errors++
		}
	})
}

func (p *Progress) done() {
	p.update(func(s *Status) {
		s.Phase = PhaseDone
		s.Done = true
	})
}
