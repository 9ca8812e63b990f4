/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package cluster is a thin, policy-free adapter over Nodes, Pods,
// Evictions, PodDisruptionBudgets, ReplicaSets, StatefulSets and the
// NodeRefresh /status subresource. Every exported method is pure
// translation; the reconciler and eviction engine own all policy.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	nrv1 "github.com/sridhargude/node-refresh-operator/api/v1"
)

// NodeNameIndexField is the field index key ListPodsOnNode relies on; the
// operator package registers it against the manager's cache at startup.
const NodeNameIndexField = "spec.nodeName"

// Gateway is the narrow surface the reconciler, eviction engine, and
// capacity provider depend on; the health evaluator works on the slices it
// returns. Encapsulating the cluster client behind an interface (rather than
// a process-wide client singleton) lets every one of those consumers be
// exercised against an in-memory fake in tests.
type Gateway interface {
	// ListFleetNodes returns nodes matching labels, sorted by name, so
	// fleet iteration is deterministic across reconciles.
	ListFleetNodes(ctx context.Context, labelsSet map[string]string) ([]corev1.Node, error)

	// ListAllNodes returns every node in the cluster, used to compute spare
	// capacity and node-ready predicates.
	ListAllNodes(ctx context.Context) ([]corev1.Node, error)

	// ListPodsOnNode returns every pod scheduled to the named node.
	ListPodsOnNode(ctx context.Context, nodeName string) ([]corev1.Pod, error)

	// ListAllPods returns every pod in the cluster, used by the cluster
	// health gate.
	ListAllPods(ctx context.Context) ([]corev1.Pod, error)

	// ListPodDisruptionBudgets returns the PDBs in a namespace.
	ListPodDisruptionBudgets(ctx context.Context, namespace string) ([]policyv1.PodDisruptionBudget, error)

	// Evict submits an eviction request for a pod with the given grace
	// period, honouring PDBs server-side.
	Evict(ctx context.Context, pod *corev1.Pod, gracePeriodSeconds int64) error

	// GetReplicaSet and GetStatefulSet back workload-health verification.
	GetReplicaSet(ctx context.Context, namespace, name string) (*ReplicaSetStatus, error)
	GetStatefulSet(ctx context.Context, namespace, name string) (*StatefulSetStatus, error)

	// PatchNodeRefreshStatus applies a status patch to the /status
	// subresource using optimistic concurrency; ErrConflict signals the
	// caller should re-read and retry once.
	PatchNodeRefreshStatus(ctx context.Context, name string, mutate func(*nrv1.NodeRefreshStatus)) error

	// GetNodeRefresh re-reads the object, used on conflict retry and at the
	// top of every reconcile.
	GetNodeRefresh(ctx context.Context, name string) (*nrv1.NodeRefresh, error)
}

// ReplicaSetStatus and StatefulSetStatus re-export just the fields the workload
// health verifier needs, keeping the Gateway interface free of the apps/v1
// package for callers that only care about readiness counts.
type ReplicaSetStatus struct {
	Replicas      int32
	ReadyReplicas int32
}

type StatefulSetStatus struct {
	Replicas      int32
	ReadyReplicas int32
}

// ErrConflict signals an optimistic-concurrency conflict on the /status
// subresource patch: the caller should re-read the object and retry the
// patch exactly once.
var ErrConflict = errors.New("status patch conflict")

// IsConflict reports whether err is (or wraps) ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// client-go backed implementation.

type clientGateway struct {
	c client.Client
}

// NewGateway constructs a Gateway backed by a controller-runtime client.
func NewGateway(c client.Client) Gateway {
	return &clientGateway{c: c}
}

func (g *clientGateway) ListFleetNodes(ctx context.Context, labelSet map[string]string) ([]corev1.Node, error) {
	var list corev1.NodeList
	if err := g.c.List(ctx, &list, client.MatchingLabels(labelSet)); err != nil {
		return nil, fmt.Errorf("listing fleet nodes: %w", err)
	}
	return sortNodesByName(list.Items), nil
}

func (g *clientGateway) ListAllNodes(ctx context.Context) ([]corev1.Node, error) {
	var list corev1.NodeList
	if err := g.c.List(ctx, &list); err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	return list.Items, nil
}

func (g *clientGateway) ListPodsOnNode(ctx context.Context, nodeName string) ([]corev1.Pod, error) {
	var list corev1.PodList
	if err := g.c.List(ctx, &list, client.MatchingFields{NodeNameIndexField: nodeName}); err != nil {
		return nil, fmt.Errorf("listing pods on node %s: %w", nodeName, err)
	}
	return list.Items, nil
}

func (g *clientGateway) ListAllPods(ctx context.Context) ([]corev1.Pod, error) {
	var list corev1.PodList
	if err := g.c.List(ctx, &list); err != nil {
		return nil, fmt.Errorf("listing all pods: %w", err)
	}
	return list.Items, nil
}

func (g *clientGateway) ListPodDisruptionBudgets(ctx context.Context, namespace string) ([]policyv1.PodDisruptionBudget, error) {
	var list policyv1.PodDisruptionBudgetList
	if err := g.c.List(ctx, &list, client.InNamespace(namespace)); err != nil {
		return nil, fmt.Errorf("listing pdbs in %s: %w", namespace, err)
	}
	return list.Items, nil
}

func (g *clientGateway) Evict(ctx context.Context, pod *corev1.Pod, gracePeriodSeconds int64) error {
	eviction := &policyv1.Eviction{
		ObjectMeta: metav1.ObjectMeta{
			Name:      pod.Name,
			Namespace: pod.Namespace,
		},
		DeleteOptions: &metav1.DeleteOptions{
			GracePeriodSeconds: &gracePeriodSeconds,
		},
	}
	if err := g.c.SubResource("eviction").Create(ctx, pod, eviction); err != nil {
		return err
	}
	return nil
}

func (g *clientGateway) GetReplicaSet(ctx context.Context, namespace, name string) (*ReplicaSetStatus, error) {
	var rs appsv1.ReplicaSet
	if err := g.c.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, &rs); err != nil {
		return nil, err
	}
	return &ReplicaSetStatus{Replicas: derefInt32(rs.Spec.Replicas, 1), ReadyReplicas: rs.Status.ReadyReplicas}, nil
}

func (g *clientGateway) GetStatefulSet(ctx context.Context, namespace, name string) (*StatefulSetStatus, error) {
	var sts appsv1.StatefulSet
	if err := g.c.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, &sts); err != nil {
		return nil, err
	}
	return &StatefulSetStatus{Replicas: derefInt32(sts.Spec.Replicas, 1), ReadyReplicas: sts.Status.ReadyReplicas}, nil
}

func (g *clientGateway) PatchNodeRefreshStatus(ctx context.Context, name string, mutate func(*nrv1.NodeRefreshStatus)) error {
	var obj nrv1.NodeRefresh
	if err := g.c.Get(ctx, client.ObjectKey{Name: name}, &obj); err != nil {
		return fmt.Errorf("re-reading NodeRefresh %s: %w", name, err)
	}
	patch := client.MergeFromWithOptions(obj.DeepCopy(), client.MergeFromWithOptimisticLock{})
	mutate(&obj.Status)
	if err := g.c.Status().Patch(ctx, &obj, patch); err != nil {
		if apierrors.IsConflict(err) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return fmt.Errorf("patching status of %s: %w", name, err)
	}
	return nil
}

func (g *clientGateway) GetNodeRefresh(ctx context.Context, name string) (*nrv1.NodeRefresh, error) {
	var obj nrv1.NodeRefresh
	if err := g.c.Get(ctx, client.ObjectKey{Name: name}, &obj); err != nil {
		return nil, fmt.Errorf("getting NodeRefresh %s: %w", name, err)
	}
	return &obj, nil
}

func derefInt32(p *int32, def int32) int32 {
	if p == nil {
		return def
	}
	return *p
}

func sortNodesByName(nodes []corev1.Node) []corev1.Node {
	out := make([]corev1.Node, len(nodes))
	copy(out, nodes)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
