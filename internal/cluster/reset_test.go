package cluster

import (
	"context"
	"errors"
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	k8stesting "k8s.io/client-go/testing"

	"discobench/internal/logging"
)

func TestResetIsIdempotent(t *testing.T) {
	c, _, _ := newFakeClients(
		[]runtime.Object{podEvent("node-network-manager-x.1", "Started"), podEvent("node-network-manager-x.2", "Killing")},
		knownCluster("peer-1", "172.18.0.13:30000"),
		knownCluster("peer-2", "172.18.0.14:30000"),
	)
	r := NewResetter(c, testNamespace, testRecords, logging.Discard())

	rep, err := r.Reset(context.Background())
	if err != nil {
		t.Fatalf("first reset: %v", err)
	}
	if rep.RecordsDeleted != 2 || rep.EventsDeleted != 2 || rep.Failures != 0 {
		t.Fatalf("unexpected first report %+v", rep)
	}

	rep, err = r.Reset(context.Background())
	if err != nil {
		t.Fatalf("second reset: %v", err)
	}
	if rep.Deleted() != 0 {
		t.Fatalf("expected empty second deletion batch, got %+v", rep)
	}

	left, err := c.Dynamic.Resource(testRecords).Namespace(testNamespace).List(context.Background(), metav1.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left.Items) != 0 {
		t.Fatalf("expected no records left, got %d", len(left.Items))
	}
}

func TestResetContinuesPastItemFailure(t *testing.T) {
	c, _, dyn := newFakeClients(nil, knownCluster("stale-1", "a"), knownCluster("stale-2", "b"))
	dyn.PrependReactor("delete", "knownclusters", func(action k8stesting.Action) (bool, runtime.Object, error) {
		if action.(k8stesting.DeleteAction).GetName() == "stale-1" {
			return true, nil, errors.New("etcd unavailable")
		}
		return false, nil, nil
	})
	r := NewResetter(c, testNamespace, testRecords, logging.Discard())

	rep, err := r.Reset(context.Background())
	if err != nil {
		t.Fatalf("reset should not fail on a single item: %v", err)
	}
	if rep.Failures != 1 || rep.RecordsDeleted != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestResetListFailure(t *testing.T) {
	c, cs, _ := newFakeClients(nil)
	cs.PrependReactor("list", "events", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("forbidden")
	})
	r := NewResetter(c, testNamespace, testRecords, logging.Discard())
	if _, err := r.Reset(context.Background()); err == nil {
		t.Fatalf("expected list failure to be returned")
	}
}
