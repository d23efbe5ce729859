package bench

import (
	"context"
	"errors"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/watch"

	"discobench/internal/cluster"
	"discobench/internal/measure"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: epoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

type fakePerturber struct {
	clock       *fakeClock
	log         *callLog
	disableErrs map[int]error
	enableErrs  map[int]error
	disables    int
	enables     int
}

func (p *fakePerturber) Name() string { return "fake" }

func (p *fakePerturber) Disable(ctx context.Context, settle time.Duration) error {
	p.disables++
	p.log.add("disable")
	if err := p.disableErrs[p.disables]; err != nil {
		return err
	}
	p.clock.Advance(settle)
	return ctx.Err()
}

func (p *fakePerturber) Enable(ctx context.Context) error {
	p.enables++
	p.log.add("enable")
	return p.enableErrs[p.enables]
}

type fakeResetter struct {
	log    *callLog
	report cluster.ResetReport
	err    error
}

func (r *fakeResetter) Reset(context.Context) (cluster.ResetReport, error) {
	r.log.add("reset")
	return r.report, r.err
}

type item struct {
	after   time.Duration
	name    string
	address string
	err     error
}

type fakeStream struct {
	clock  *fakeClock
	class  cluster.Class
	items  []item
	closed bool
}

func (s *fakeStream) Next(ctx context.Context) (cluster.Observation, error) {
	if err := ctx.Err(); err != nil {
		return cluster.Observation{}, err
	}
	if s.closed {
		return cluster.Observation{}, cluster.ErrStreamClosed
	}
	if len(s.items) == 0 {
		return cluster.Observation{}, cluster.ErrTimeout
	}
	it := s.items[0]
	s.items = s.items[1:]
	if it.err != nil {
		return cluster.Observation{}, it.err
	}
	s.clock.Advance(it.after)
	return cluster.Observation{
		Type:       watch.Added,
		Class:      s.class,
		Name:       it.name,
		Address:    it.address,
		ObservedAt: s.clock.Now(),
	}, nil
}

func (s *fakeStream) Close() { s.closed = true }

type fakeWatcher struct {
	clock     *fakeClock
	log       *callLog
	records   [][]item
	lifecycle [][]item
	queries   []cluster.Query
	streams   []*fakeStream
	err       error
}

func (w *fakeWatcher) Watch(_ context.Context, q cluster.Query) (EventStream, error) {
	w.log.add("watch:" + q.Class.String())
	w.queries = append(w.queries, q)
	if w.err != nil {
		return nil, w.err
	}
	var script []item
	switch q.Class {
	case cluster.Records:
		if len(w.records) > 0 {
			script, w.records = w.records[0], w.records[1:]
		}
	case cluster.Lifecycle:
		if len(w.lifecycle) > 0 {
			script, w.lifecycle = w.lifecycle[0], w.lifecycle[1:]
		}
	}
	s := &fakeStream{clock: w.clock, class: q.Class, items: script}
	w.streams = append(w.streams, s)
	return s, nil
}

type memWriter struct {
	samples []measure.Sample
	groups  []measure.Group
	ends    []measure.RunEnd
	trials  []measure.TrialRecord
	admin   []bool
	err     error

	// failAfter makes writes fail once that many samples are stored.
	failAfter int
}

func (m *memWriter) WriteSample(s measure.Sample) error {
	if m.err != nil {
		return m.err
	}
	if m.failAfter > 0 && len(m.samples) >= m.failAfter {
		return errBoom
	}
	m.samples = append(m.samples, s)
	return nil
}

func (m *memWriter) WriteGroup(g measure.Group) error {
	m.groups = append(m.groups, g)
	return nil
}

func (m *memWriter) WriteRunEnd(e measure.RunEnd) error {
	m.ends = append(m.ends, e)
	return nil
}

func (m *memWriter) WriteTrial(t measure.TrialRecord) error {
	m.trials = append(m.trials, t)
	return nil
}

func (m *memWriter) SetAdminStatus(on bool) { m.admin = append(m.admin, on) }

var errBoom = errors.New("boom")

// repeat builds n identical scripts.
func repeat(n int, script ...item) [][]item {
	out := make([][]item, n)
	for i := range out {
		out[i] = append([]item(nil), script...)
	}
	return out
}
