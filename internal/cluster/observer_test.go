package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	k8stesting "k8s.io/client-go/testing"
)

func watchRecords(t *testing.T, q Query) (*Stream, *watch.FakeWatcher) {
	t.Helper()
	return watchRecordsWithClock(t, q, time.Now)
}

func watchRecordsWithClock(t *testing.T, q Query, now func() time.Time) (*Stream, *watch.FakeWatcher) {
	t.Helper()
	c, _, dyn := newFakeClients(nil)
	fw := watch.NewFakeWithChanSize(16, false)
	dyn.PrependWatchReactor("knownclusters", k8stesting.DefaultWatchReactor(fw, nil))
	o := NewObserver(c, testNamespace, testRecords)
	o.now = now
	s, err := o.Watch(context.Background(), q)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	t.Cleanup(s.Close)
	return s, fw
}

func TestWatchStartsAtListVersion(t *testing.T) {
	c, cs, _ := newFakeClients(nil)
	cs.PrependReactor("list", "events", func(k8stesting.Action) (bool, runtime.Object, error) {
		l := &corev1.EventList{Items: []corev1.Event{*podEvent("node-network-manager-old.1", "Started")}}
		l.ResourceVersion = "4711"
		return true, l, nil
	})
	var rv string
	cs.PrependWatchReactor("events", func(a k8stesting.Action) (bool, watch.Interface, error) {
		rv = a.(k8stesting.WatchAction).GetWatchRestrictions().ResourceVersion
		return true, watch.NewFake(), nil
	})

	s, err := NewObserver(c, testNamespace, testRecords).Watch(context.Background(), Query{Class: Lifecycle})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer s.Close()
	if rv != "4711" {
		t.Fatalf("expected watch from resourceVersion 4711, got %q", rv)
	}
}

func TestStreamFiltersRecords(t *testing.T) {
	s, fw := watchRecords(t, Query{Class: Records, Address: "172.18.0.13:30000", Timeout: time.Second})
	fw.Modify(knownCluster("peer-0", "172.18.0.13:30000"))
	fw.Add(knownCluster("peer-1", "172.18.0.14:30000"))
	fw.Add(knownCluster("peer-2", "172.18.0.13:30000"))

	obs, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if obs.Name != "peer-2" || obs.Address != "172.18.0.13:30000" || obs.Type != watch.Added {
		t.Fatalf("unexpected observation %+v", obs)
	}
}

func TestStreamDeliversDuplicates(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s, fw := watchRecordsWithClock(t, Query{Class: Records, Timeout: time.Second}, func() time.Time { return fixed })
	fw.Add(knownCluster("peer-1", "a"))
	fw.Add(knownCluster("peer-1", "a"))

	for i := 0; i < 2; i++ {
		obs, err := s.Next(context.Background())
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if obs.Name != "peer-1" {
			t.Fatalf("unexpected observation %+v", obs)
		}
		if !obs.ObservedAt.Equal(fixed) {
			t.Fatalf("expected local clock timestamp, got %v", obs.ObservedAt)
		}
	}
}

func TestStreamStampsOnArrival(t *testing.T) {
	s, fw := watchRecords(t, Query{Class: Records, Timeout: 5 * time.Second})
	fw.Add(knownCluster("peer-1", "a"))
	fw.Add(knownCluster("peer-2", "b"))
	fw.Add(knownCluster("peer-3", "c"))

	var seen []Observation
	for i := 0; i < 3; i++ {
		obs, err := s.Next(context.Background())
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		seen = append(seen, obs)
		// a slow sample writer between two Next calls
		time.Sleep(200 * time.Millisecond)
	}
	if spread := seen[2].ObservedAt.Sub(seen[0].ObservedAt); spread >= 100*time.Millisecond {
		t.Fatalf("simultaneous events stamped %s apart", spread)
	}
	if seen[0].Name != "peer-1" || seen[2].Name != "peer-3" {
		t.Fatalf("events out of order: %s, %s", seen[0].Name, seen[2].Name)
	}
}

func TestStreamTimeout(t *testing.T) {
	s, _ := watchRecords(t, Query{Class: Records, Timeout: 20 * time.Millisecond})
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("deadline must persist across calls, got %v", err)
	}
}

func TestStreamContextCancel(t *testing.T) {
	s, _ := watchRecords(t, Query{Class: Records})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestStreamClosedByServer(t *testing.T) {
	s, fw := watchRecords(t, Query{Class: Records, Timeout: time.Second})
	fw.Stop()
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected closed stream, got %v", err)
	}
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	s, _ := watchRecords(t, Query{Class: Records})
	s.Close()
	s.Close()
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected closed stream, got %v", err)
	}
}

func TestStreamWatchError(t *testing.T) {
	s, fw := watchRecords(t, Query{Class: Records, Timeout: time.Second})
	fw.Error(&metav1.Status{
		Status: metav1.StatusFailure,
		Code:   410,
		Reason: metav1.StatusReasonGone,
	})
	_, err := s.Next(context.Background())
	if !apierrors.IsGone(err) {
		t.Fatalf("expected gone status error, got %v", err)
	}
}

func TestStreamLifecycle(t *testing.T) {
	c, cs, _ := newFakeClients(nil)
	fw := watch.NewFakeWithChanSize(8, false)
	cs.PrependWatchReactor("events", k8stesting.DefaultWatchReactor(fw, nil))
	s, err := NewObserver(c, testNamespace, testRecords).Watch(context.Background(), Query{
		Class:   Lifecycle,
		Prefix:  "node-network-manager",
		Timeout: time.Second,
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer s.Close()

	fw.Add(podEvent("node-network-manager-x.1", "Scheduled"))
	fw.Add(podEvent("other-workload.1", "Started"))
	fw.Add(podEvent("node-network-manager-x.2", "Started"))

	obs, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if obs.Name != "node-network-manager-x.2" || obs.Reason != "Started" || obs.Class != Lifecycle {
		t.Fatalf("unexpected observation %+v", obs)
	}
}

func TestMatchAddress(t *testing.T) {
	cases := []struct {
		filter, addr string
		want         bool
	}{
		{"", "172.18.0.13:30000", true},
		{"172.18.0.13:30000", "172.18.0.13:30000", true},
		{"172.18.0.13:30000", "172.18.0.14:30000", false},
		{"*.13:30000", "172.18.0.13:30000", true},
		{"*.13:30000", "172.18.0.14:30000", false},
	}
	for _, tc := range cases {
		if got := MatchAddress(tc.filter, tc.addr); got != tc.want {
			t.Errorf("MatchAddress(%q, %q) = %v, want %v", tc.filter, tc.addr, got, tc.want)
		}
	}
}
