package cluster

import (
	"context"
	"fmt"
	"log/slog"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
)

// ResetReport summarizes one reset pass.
type ResetReport struct {
	RecordsDeleted int
	EventsDeleted  int
	Failures       int
}

// Deleted returns the number of objects removed.
func (r ResetReport) Deleted() int { return r.RecordsDeleted + r.EventsDeleted }

// Resetter clears discovery records and events so a new trial starts from a
// known baseline.
type Resetter struct {
	core      kubernetes.Interface
	dyn       dynamic.Interface
	namespace string
	records   schema.GroupVersionResource
	log       *slog.Logger
}

// NewResetter creates a Resetter scoped to namespace.
func NewResetter(c *Clients, namespace string, records schema.GroupVersionResource, log *slog.Logger) *Resetter {
	return &Resetter{core: c.Core, dyn: c.Dynamic, namespace: namespace, records: records, log: log}
}

// Reset deletes every discovery record and every event in the namespace.
// Failing to delete a single item is logged and counted; failing to list a
// collection is returned.
func (r *Resetter) Reset(ctx context.Context) (ResetReport, error) {
	var rep ResetReport

	recs, err := r.dyn.Resource(r.records).Namespace(r.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return rep, fmt.Errorf("list %s: %w", r.records.Resource, err)
	}
	for _, item := range recs.Items {
		name := item.GetName()
		err := r.dyn.Resource(r.records).Namespace(r.namespace).Delete(ctx, name, metav1.DeleteOptions{})
		switch {
		case err == nil:
			rep.RecordsDeleted++
			r.log.Debug("deleted discovery record", "name", name)
		case apierrors.IsNotFound(err):
		default:
			rep.Failures++
			r.log.Warn("failed to delete discovery record", "name", name, "err", err)
		}
	}

	events, err := r.core.CoreV1().Events(r.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return rep, fmt.Errorf("list events: %w", err)
	}
	for _, ev := range events.Items {
		err := r.core.CoreV1().Events(r.namespace).Delete(ctx, ev.Name, metav1.DeleteOptions{})
		switch {
		case err == nil:
			rep.EventsDeleted++
			r.log.Debug("deleted event", "name", ev.Name)
		case apierrors.IsNotFound(err):
		default:
			rep.Failures++
			r.log.Warn("failed to delete event", "name", ev.Name, "err", err)
		}
	}

	r.log.Info("reset complete", "namespace", r.namespace,
		"records", rep.RecordsDeleted, "events", rep.EventsDeleted, "failures", rep.Failures)
	return rep, nil
}
