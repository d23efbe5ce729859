package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
)

// Perturber disables and re-enables the discovery mechanism under test.
type Perturber interface {
	// Disable applies the disabling mutation and then waits settle.
	Disable(ctx context.Context, settle time.Duration) error
	// Enable applies the enabling mutation and returns once it is acknowledged.
	Enable(ctx context.Context) error
	Name() string
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

func addPatch(path string, value any) ([]byte, error) {
	return json.Marshal([]patchOp{{Op: "add", Path: path, Value: value}})
}

// DaemonSetToggle stops a DaemonSet by pointing its node selector at a label
// no node carries, and restarts it by restoring the worker selector.
type DaemonSetToggle struct {
	core      kubernetes.Interface
	namespace string
	name      string
	enabled   map[string]string
	disabled  map[string]string
	sleep     Sleeper
	log       *slog.Logger
}

// NewDaemonSetToggle creates a toggle for the named DaemonSet.
func NewDaemonSetToggle(c *Clients, namespace, name string, enabled, disabled map[string]string, log *slog.Logger) *DaemonSetToggle {
	return &DaemonSetToggle{
		core:      c.Core,
		namespace: namespace,
		name:      name,
		enabled:   enabled,
		disabled:  disabled,
		sleep:     Sleep,
		log:       log,
	}
}

func (d *DaemonSetToggle) Name() string { return "daemonset/" + d.name }

func (d *DaemonSetToggle) Disable(ctx context.Context, settle time.Duration) error {
	if err := d.setSelector(ctx, d.disabled); err != nil {
		return fmt.Errorf("disable %s: %w", d.Name(), err)
	}
	d.log.Debug("disabled", "target", d.Name(), "settle", settle)
	return d.sleep(ctx, settle)
}

func (d *DaemonSetToggle) Enable(ctx context.Context) error {
	if err := d.setSelector(ctx, d.enabled); err != nil {
		return fmt.Errorf("enable %s: %w", d.Name(), err)
	}
	d.log.Debug("enabled", "target", d.Name())
	return nil
}

func (d *DaemonSetToggle) setSelector(ctx context.Context, sel map[string]string) error {
	body, err := addPatch("/spec/template/spec/nodeSelector", sel)
	if err != nil {
		return err
	}
	_, err = d.core.AppsV1().DaemonSets(d.namespace).Patch(ctx, d.name, types.JSONPatchType, body, metav1.PatchOptions{})
	return err
}

// DeploymentScaler stops a Deployment by scaling it to zero and waiting for
// its pods to terminate, and restarts it by restoring the replica count.
type DeploymentScaler struct {
	core      kubernetes.Interface
	namespace string
	name      string
	selector  string
	replicas  int32
	podWait   time.Duration
	sleep     Sleeper
	log       *slog.Logger
}

// NewDeploymentScaler creates a scaler for the named Deployment. selector
// matches the pods it owns; podWait bounds the wait for them to go away.
func NewDeploymentScaler(c *Clients, namespace, name, selector string, replicas int32, podWait time.Duration, log *slog.Logger) *DeploymentScaler {
	return &DeploymentScaler{
		core:      c.Core,
		namespace: namespace,
		name:      name,
		selector:  selector,
		replicas:  replicas,
		podWait:   podWait,
		sleep:     Sleep,
		log:       log,
	}
}

func (s *DeploymentScaler) Name() string { return "deployment/" + s.name }

func (s *DeploymentScaler) Disable(ctx context.Context, settle time.Duration) error {
	if err := s.scale(ctx, 0); err != nil {
		return fmt.Errorf("disable %s: %w", s.Name(), err)
	}
	if err := s.waitPodsGone(ctx); err != nil {
		return fmt.Errorf("disable %s: %w", s.Name(), err)
	}
	s.log.Debug("disabled", "target", s.Name(), "settle", settle)
	return s.sleep(ctx, settle)
}

func (s *DeploymentScaler) Enable(ctx context.Context) error {
	if err := s.scale(ctx, s.replicas); err != nil {
		return fmt.Errorf("enable %s: %w", s.Name(), err)
	}
	s.log.Debug("enabled", "target", s.Name(), "replicas", s.replicas)
	return nil
}

func (s *DeploymentScaler) scale(ctx context.Context, n int32) error {
	body, err := addPatch("/spec/replicas", n)
	if err != nil {
		return err
	}
	_, err = s.core.AppsV1().Deployments(s.namespace).Patch(ctx, s.name, types.JSONPatchType, body, metav1.PatchOptions{})
	return err
}

func (s *DeploymentScaler) waitPodsGone(ctx context.Context) error {
	if s.podWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.podWait)
		defer cancel()
	}
	pods := s.core.CoreV1().Pods(s.namespace)
	list, err := pods.List(ctx, metav1.ListOptions{LabelSelector: s.selector})
	if err != nil {
		return fmt.Errorf("list pods: %w", err)
	}
	remaining := make(map[string]struct{}, len(list.Items))
	for _, p := range list.Items {
		remaining[p.Name] = struct{}{}
	}
	if len(remaining) == 0 {
		return nil
	}

	w, err := pods.Watch(ctx, metav1.ListOptions{LabelSelector: s.selector, ResourceVersion: list.ResourceVersion})
	if err != nil {
		return fmt.Errorf("watch pods: %w", err)
	}
	defer w.Stop()
	for len(remaining) > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d pods to terminate: %w", len(remaining), ctx.Err())
		case ev, ok := <-w.ResultChan():
			if !ok {
				return fmt.Errorf("watch pods: %w", ErrStreamClosed)
			}
			switch ev.Type {
			case watch.Error:
				return fmt.Errorf("watch pods: %w", apierrors.FromObject(ev.Object))
			case watch.Deleted:
				if p, ok := ev.Object.(*corev1.Pod); ok {
					delete(remaining, p.Name)
					s.log.Debug("pod terminated", "pod", p.Name, "remaining", len(remaining))
				}
			case watch.Added:
				if p, ok := ev.Object.(*corev1.Pod); ok {
					remaining[p.Name] = struct{}{}
				}
			}
		}
	}
	return nil
}
