/*
Package cluster talks to the Kubernetes cluster hosting the system under test.
It provides:

- a client pair (typed and dynamic) built from a kubeconfig context,
- the reset controller that clears discovery records and events,
- the perturbation controllers that disable and re-enable a discovery workload,
- the observer that turns watch subscriptions into bounded event streams.
*/
package cluster
