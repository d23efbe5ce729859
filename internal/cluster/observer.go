package cluster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
)

var (
	// ErrTimeout is returned by Stream.Next once the query deadline passes.
	ErrTimeout = errors.New("observation timed out")
	// ErrStreamClosed is returned when the server ends the watch or the stream was closed.
	ErrStreamClosed = errors.New("watch stream closed")
)

// DefaultReason is the lifecycle reason matched when a query leaves it empty.
const DefaultReason = "Started"

// Class selects the kind of object a query watches.
type Class int

const (
	// Records watches discovery records.
	Records Class = iota
	// Lifecycle watches core events.
	Lifecycle
)

func (c Class) String() string {
	if c == Lifecycle {
		return "lifecycle"
	}
	return "records"
}

// Query describes which delivered events count as a match.
type Query struct {
	Class Class
	// Address filters records by spec.address. A leading "*" turns it into a
	// suffix match.
	Address string
	// Prefix and Reason filter lifecycle events by name and reason.
	Prefix string
	Reason string
	// Timeout bounds the whole stream; zero disables it.
	Timeout time.Duration
}

// Observation is one matched event.
type Observation struct {
	Type    watch.EventType
	Class   Class
	Name    string
	Address string
	Reason  string
	// ObservedAt is the local clock when the event arrived on the watch.
	ObservedAt time.Time
	// ReportedAt is the object's own second-granularity timestamp.
	ReportedAt time.Time
}

// Observer opens watches on discovery records and lifecycle events.
type Observer struct {
	core      kubernetes.Interface
	dyn       dynamic.Interface
	namespace string
	records   schema.GroupVersionResource
	now       func() time.Time
}

// NewObserver creates an Observer scoped to namespace.
func NewObserver(c *Clients, namespace string, records schema.GroupVersionResource) *Observer {
	return &Observer{core: c.Core, dyn: c.Dynamic, namespace: namespace, records: records, now: time.Now}
}

// Watch subscribes to changes after a fresh list, so objects that already
// exist are never reported.
func (o *Observer) Watch(ctx context.Context, q Query) (*Stream, error) {
	var (
		w   watch.Interface
		err error
	)
	switch q.Class {
	case Records:
		res := o.dyn.Resource(o.records).Namespace(o.namespace)
		list, lerr := res.List(ctx, metav1.ListOptions{})
		if lerr != nil {
			return nil, fmt.Errorf("list %s: %w", o.records.Resource, lerr)
		}
		w, err = res.Watch(ctx, metav1.ListOptions{ResourceVersion: list.GetResourceVersion()})
	case Lifecycle:
		if q.Reason == "" {
			q.Reason = DefaultReason
		}
		events := o.core.CoreV1().Events(o.namespace)
		list, lerr := events.List(ctx, metav1.ListOptions{})
		if lerr != nil {
			return nil, fmt.Errorf("list events: %w", lerr)
		}
		w, err = events.Watch(ctx, metav1.ListOptions{ResourceVersion: list.ResourceVersion})
	default:
		return nil, fmt.Errorf("unknown query class %d", q.Class)
	}
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", q.Class, err)
	}
	s := &Stream{
		w:      w,
		query:  q,
		now:    o.now,
		events: make(chan arrival, streamBuffer),
		stop:   make(chan struct{}),
	}
	if q.Timeout > 0 {
		s.deadline = time.Now().Add(q.Timeout)
	}
	go s.pump()
	return s, nil
}

// streamBuffer bounds how many stamped events may wait for Next.
const streamBuffer = 1024

// arrival is a watch event and the local time it came off the connection.
type arrival struct {
	ev watch.Event
	at time.Time
}

// Stream delivers matching observations in server order. Events are stamped
// when they arrive, so time spent by the caller between Next calls does not
// shift later observations.
type Stream struct {
	w        watch.Interface
	query    Query
	now      func() time.Time
	deadline time.Time
	events   chan arrival
	stop     chan struct{}

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func (s *Stream) pump() {
	defer close(s.events)
	for {
		select {
		case <-s.stop:
			return
		case ev, ok := <-s.w.ResultChan():
			if !ok {
				return
			}
			select {
			case s.events <- arrival{ev: ev, at: s.now()}:
			case <-s.stop:
				return
			}
		}
	}
}

// Next blocks until the next matching event, the query deadline or ctx is done.
func (s *Stream) Next(ctx context.Context) (Observation, error) {
	if s.isClosed() {
		return Observation{}, ErrStreamClosed
	}
	var expire <-chan time.Time
	if !s.deadline.IsZero() {
		left := time.Until(s.deadline)
		if left <= 0 {
			return Observation{}, ErrTimeout
		}
		t := time.NewTimer(left)
		defer t.Stop()
		expire = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return Observation{}, ctx.Err()
		case <-expire:
			return Observation{}, ErrTimeout
		case a, ok := <-s.events:
			if !ok || s.isClosed() {
				return Observation{}, ErrStreamClosed
			}
			if a.ev.Type == watch.Error {
				return Observation{}, fmt.Errorf("watch %s: %w", s.query.Class, apierrors.FromObject(a.ev.Object))
			}
			obs, ok := s.convert(a)
			if !ok || !s.query.matches(obs) {
				continue
			}
			return obs, nil
		}
	}
}

// Close stops the underlying watch. It is safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stop)
		s.w.Stop()
	})
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) convert(a arrival) (Observation, bool) {
	ev := a.ev
	obs := Observation{Type: ev.Type, Class: s.query.Class, ObservedAt: a.at}
	switch obj := ev.Object.(type) {
	case *unstructured.Unstructured:
		if s.query.Class != Records {
			return obs, false
		}
		obs.Name = obj.GetName()
		obs.Address, _, _ = unstructured.NestedString(obj.Object, "spec", "address")
		obs.ReportedAt = obj.GetCreationTimestamp().Time
	case *corev1.Event:
		if s.query.Class != Lifecycle {
			return obs, false
		}
		obs.Name = obj.Name
		obs.Reason = obj.Reason
		obs.ReportedAt = obj.FirstTimestamp.Time
		if obs.ReportedAt.IsZero() {
			obs.ReportedAt = obj.CreationTimestamp.Time
		}
	default:
		return obs, false
	}
	return obs, true
}

func (q Query) matches(o Observation) bool {
	if o.Type != watch.Added {
		return false
	}
	switch q.Class {
	case Records:
		return MatchAddress(q.Address, o.Address)
	case Lifecycle:
		return strings.HasPrefix(o.Name, q.Prefix) && o.Reason == q.Reason
	}
	return false
}

// MatchAddress reports whether addr satisfies filter. An empty filter
// matches everything; "*.13:30000" matches by suffix.
func MatchAddress(filter, addr string) bool {
	if filter == "" {
		return true
	}
	if suffix, ok := strings.CutPrefix(filter, "*"); ok {
		return strings.HasSuffix(addr, suffix)
	}
	return addr == filter
}
