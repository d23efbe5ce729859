package cluster

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	k8sfake "k8s.io/client-go/kubernetes/fake"
)

const testNamespace = "fluidos"

var testRecords = RecordResource("network.fluidos.eu", "v1alpha1", "knownclusters")

func knownCluster(name, addr string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "network.fluidos.eu/v1alpha1",
		"kind":       "KnownCluster",
		"metadata":   map[string]any{"name": name, "namespace": testNamespace},
		"spec":       map[string]any{"address": addr},
	}}
}

func podEvent(name, reason string) *corev1.Event {
	return &corev1.Event{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: testNamespace},
		Reason:     reason,
	}
}

func newFakeClients(core []runtime.Object, records ...runtime.Object) (*Clients, *k8sfake.Clientset, *dynamicfake.FakeDynamicClient) {
	cs := k8sfake.NewSimpleClientset(core...)
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(
		runtime.NewScheme(),
		map[schema.GroupVersionResource]string{testRecords: "KnownClusterList"},
		records...,
	)
	return &Clients{Core: cs, Dynamic: dyn}, cs, dyn
}
