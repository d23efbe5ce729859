package bench

import (
	"testing"
	"time"

	"discobench/internal/logging"
	"discobench/internal/measure"
)

type sampleOnly struct{ n int }

func (s *sampleOnly) WriteSample(measure.Sample) error {
	s.n++
	return nil
}

type closingWriter struct {
	sampleOnly
	closed bool
}

func (c *closingWriter) Close() error {
	c.closed = true
	return nil
}

func TestMultiWriterFanOut(t *testing.T) {
	a, b := &memWriter{}, &memWriter{}
	plain := &sampleOnly{}
	mw := NewMultiWriter(a, nil, plain, b)

	if err := mw.WriteSample(measure.Sample{Elapsed: time.Second}); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := mw.WriteGroup(measure.Group{Param: 1}); err != nil {
		t.Fatalf("WriteGroup: %v", err)
	}
	if err := mw.WriteRunEnd(measure.RunEnd{Trial: 1}); err != nil {
		t.Fatalf("WriteRunEnd: %v", err)
	}
	if err := mw.WriteTrial(measure.TrialRecord{}); err != nil {
		t.Fatalf("WriteTrial: %v", err)
	}
	mw.SetAdminStatus(true)

	for name, w := range map[string]*memWriter{"a": a, "b": b} {
		if len(w.samples) != 1 || len(w.groups) != 1 || len(w.ends) != 1 || len(w.trials) != 1 || len(w.admin) != 1 {
			t.Fatalf("writer %s missed a call: %+v", name, w)
		}
	}
	if plain.n != 1 {
		t.Fatalf("plain writer should get the sample")
	}
}

func TestMultiWriterStopsOnAuthoritativeError(t *testing.T) {
	failing := &memWriter{err: errBoom}
	after := &memWriter{}
	mw := NewMultiWriter(failing, after)
	if err := mw.WriteSample(measure.Sample{}); err != errBoom {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if len(after.samples) != 0 {
		t.Fatalf("writers after a failing one must not be called")
	}
}

func TestMultiWriterMirrorErrorsAreCounted(t *testing.T) {
	primary := &memWriter{}
	failing := &memWriter{err: errBoom}
	after := &memWriter{}
	mw := NewMultiWriter(primary, failing, after)
	mw.SetLogger(logging.Discard())

	for i := 0; i < 2; i++ {
		if err := mw.WriteSample(measure.Sample{Trial: i}); err != nil {
			t.Fatalf("mirror failure leaked: %v", err)
		}
	}
	if len(primary.samples) != 2 || len(after.samples) != 2 {
		t.Fatalf("writers around a failing mirror must still be called: %d %d", len(primary.samples), len(after.samples))
	}
	if got := mw.MirrorFailures(); got != 2 {
		t.Fatalf("expected 2 mirror failures, got %d", got)
	}
}

func TestMultiWriterClose(t *testing.T) {
	c := &closingWriter{}
	mw := NewMultiWriter(&memWriter{}, c)
	if err := mw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !c.closed {
		t.Fatalf("closer not closed")
	}
}
