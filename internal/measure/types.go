// Trial and sample records produced by the harness
package measure

import (
	"fmt"
	"time"
)

// Kind selects what a trial observes after the discovery mechanism is re-enabled.
type Kind string

const (
	// KindLatency measures until the first discovery record appears.
	KindLatency Kind = "latency"
	// KindStartup measures until the workload reports a Started event.
	KindStartup Kind = "startup"
	// KindDiscoveryOnly measures from the Started event to the first discovery record.
	KindDiscoveryOnly Kind = "discovery-only"
	// KindScalability records every discovery until a peer target or a ceiling.
	KindScalability Kind = "scalability"
)

// Kinds lists every supported measurement kind.
var Kinds = []Kind{KindLatency, KindStartup, KindDiscoveryOnly, KindScalability}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown measurement kind %q", s)
}

// MultiMatch reports whether a single trial yields more than one sample.
func (k Kind) MultiMatch() bool { return k == KindScalability }

// Outcome is the terminal state of a trial.
type Outcome string

// Trial outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeTimeout Outcome = "timeout"
	OutcomeError   Outcome = "error"
)

// Origin selects the instant elapsed durations are measured from.
type Origin string

const (
	// OriginDisable measures from the start of the disable action.
	OriginDisable Origin = "disable"
	// OriginEnable measures from the moment the mechanism is re-enabled.
	OriginEnable Origin = "enable"
)

// Trial is one perturb/observe cycle.
type Trial struct {
	Index     int           `json:"index"`
	Param     float64       `json:"param"` // settle time in seconds
	StartedAt time.Time     `json:"started_at"`
	EnabledAt time.Time     `json:"enabled_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Outcome   Outcome       `json:"outcome"`
	Samples   int           `json:"samples"`
	Elapsed   time.Duration `json:"elapsed"`
	Err       string        `json:"error,omitempty"`
}

// OriginTime returns the timestamp elapsed durations are computed against.
func (t *Trial) OriginTime(o Origin) time.Time {
	if o == OriginEnable && !t.EnabledAt.IsZero() {
		return t.EnabledAt
	}
	return t.StartedAt
}

// Sample is one elapsed-duration measurement.
type Sample struct {
	RunID      string        `json:"run_id"`
	Kind       Kind          `json:"kind"`
	Mode       string        `json:"mode"`
	Param      float64       `json:"param"`
	Trial      int           `json:"trial"`
	Elapsed    time.Duration `json:"elapsed"`
	Peer       string        `json:"peer,omitempty"`
	Address    string        `json:"address,omitempty"`
	ObservedAt time.Time     `json:"ts"`
}

// Seconds returns the elapsed duration in seconds.
func (s Sample) Seconds() float64 { return s.Elapsed.Seconds() }

// Group marks the start of the samples taken for one sweep value.
type Group struct {
	Field string  `json:"field"`
	Param float64 `json:"param"`
}

// Run end reasons.
const (
	RunEndTarget  = "target"
	RunEndCeiling = "ceiling"
)

// RunEnd terminates the samples of one scalability run.
type RunEnd struct {
	RunID      string    `json:"run_id"`
	Trial      int       `json:"trial"`
	Discovered int       `json:"discovered"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"ts"`
}

// TrialRecord carries a finished trial to writers interested in outcomes.
type TrialRecord struct {
	RunID string `json:"run_id"`
	Kind  Kind   `json:"kind"`
	Mode  string `json:"mode"`
	Trial
}
