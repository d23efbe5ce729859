// Sample writers and the trial orchestrator
package bench

import "discobench/internal/measure"

// SampleWriter persists elapsed-duration samples.
type SampleWriter interface {
	WriteSample(s measure.Sample) error
}

// GroupWriter receives sweep group markers.
type GroupWriter interface {
	WriteGroup(g measure.Group) error
}

// RunEndWriter receives scalability run terminators.
type RunEndWriter interface {
	WriteRunEnd(e measure.RunEnd) error
}

// TrialWriter receives every finished trial, including failed ones.
type TrialWriter interface {
	WriteTrial(t measure.TrialRecord) error
}

// AdminStatusWriter allows writers to receive admin server status updates.
type AdminStatusWriter interface {
	SetAdminStatus(listening bool)
}

// MirrorFailureCounter reports how many mirror writes failed without
// stopping the experiment.
type MirrorFailureCounter interface {
	MirrorFailures() int
}
