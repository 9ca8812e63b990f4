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

package eviction

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	clocktesting "k8s.io/utils/clock/testing"

	nrv1 "github.com/sridhargude/node-refresh-operator/api/v1"
	"github.com/sridhargude/node-refresh-operator/internal/cluster"
)

// fakeGateway implements cluster.Gateway in-memory for exercising the
// eviction engine without a real API server.
type fakeGateway struct {
	mu sync.Mutex

	pods         map[string]corev1.Pod
	pdbs         []policyv1.PodDisruptionBudget
	pdbListErr   error
	evictErr     map[string]error
	replicaSets  map[string]cluster.ReplicaSetStatus
	statefulSets map[string]cluster.StatefulSetStatus
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		pods:         map[string]corev1.Pod{},
		evictErr:     map[string]error{},
		replicaSets:  map[string]cluster.ReplicaSetStatus{},
		statefulSets: map[string]cluster.StatefulSetStatus{},
	}
}

func (f *fakeGateway) ListFleetNodes(ctx context.Context, labelsSet map[string]string) ([]corev1.Node, error) {
	return nil, nil
}
func (f *fakeGateway) ListAllNodes(ctx context.Context) ([]corev1.Node, error) { return nil, nil }

func (f *fakeGateway) ListPodsOnNode(ctx context.Context, nodeName string) ([]corev1.Pod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []corev1.Pod
	for _, p := range f.pods {
		if p.Spec.NodeName == nodeName {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeGateway) ListAllPods(ctx context.Context) ([]corev1.Pod, error) { return nil, nil }

func (f *fakeGateway) ListPodDisruptionBudgets(ctx context.Context, namespace string) ([]policyv1.PodDisruptionBudget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pdbListErr != nil {
		return nil, f.pdbListErr
	}
	return f.pdbs, nil
}

func (f *fakeGateway) Evict(ctx context.Context, pod *corev1.Pod, gracePeriodSeconds int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.evictErr[pod.Name]
}

func (f *fakeGateway) GetReplicaSet(ctx context.Context, namespace, name string) (*cluster.ReplicaSetStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.replicaSets[name]
	if !ok {
		return nil, apierrors.NewNotFound(schema.GroupResource{Resource: "replicasets"}, name)
	}
	return &s, nil
}

func (f *fakeGateway) GetStatefulSet(ctx context.Context, namespace, name string) (*cluster.StatefulSetStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.statefulSets[name]
	if !ok {
		return nil, apierrors.NewNotFound(schema.GroupResource{Resource: "statefulsets"}, name)
	}
	return &s, nil
}

func (f *fakeGateway) PatchNodeRefreshStatus(ctx context.Context, name string, mutate func(*nrv1.NodeRefreshStatus)) error {
	return nil
}

func (f *fakeGateway) GetNodeRefresh(ctx context.Context, name string) (*nrv1.NodeRefresh, error) {
	return nil, nil
}

// driveClock steps a fake clock forward in small increments until done
// closes, letting blocked After() waiters fire without a real-time sleep.
func driveClock(fc *clocktesting.FakeClock, done <-chan struct{}) {
	t := time.NewTicker(time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			fc.Step(time.Second)
		}
	}
}

var _ = Describe("Engine.evictOne", func() {
	var gw *fakeGateway
	var fc *clocktesting.FakeClock

	BeforeEach(func() {
		gw = newFakeGateway()
		fc = clocktesting.NewFakeClock(time.Now())
	})

	It("succeeds immediately when no PDB blocks and Evict returns nil", func() {
		eng := NewEngine(gw, logr.Discard(), fc, nil, nil)
		pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "p1", Namespace: "default"}}
		outcome, err := eng.evictOne(context.Background(), pod, 30)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(OutcomeSuccess))
	})

	It("classifies a 429 as failure-soft", func() {
		eng := NewEngine(gw, logr.Discard(), fc, nil, nil)
		pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "p1", Namespace: "default"}}
		gw.evictErr["p1"] = apierrors.NewTooManyRequests("pdb violation", 0)
		outcome, err := eng.evictOne(context.Background(), pod, 30)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(OutcomeFailureSoft))
	})

	It("treats a 404 as success (pod already gone)", func() {
		eng := NewEngine(gw, logr.Discard(), fc, nil, nil)
		pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "p1", Namespace: "default"}}
		gw.evictErr["p1"] = apierrors.NewNotFound(schema.GroupResource{Resource: "pods"}, "p1")
		outcome, err := eng.evictOne(context.Background(), pod, 30)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(OutcomeSuccess))
	})

	It("classifies any other API error as failure-hard", func() {
		eng := NewEngine(gw, logr.Discard(), fc, nil, nil)
		pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "p1", Namespace: "default"}}
		gw.evictErr["p1"] = errors.New("etcd is on fire")
		outcome, err := eng.evictOne(context.Background(), pod, 30)
		Expect(err).To(MatchError(ContainSubstring("etcd is on fire")))
		Expect(outcome).To(Equal(OutcomeFailureHard))
	})

	It("fails-soft when the PDB still blocks after the recheck delay", func() {
		gw.pdbs = []policyv1.PodDisruptionBudget{pdb(map[string]string{"app": "web"}, 0)}
		eng := NewEngine(gw, logr.Discard(), fc, nil, nil)
		pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "p1", Namespace: "default", Labels: map[string]string{"app": "web"}}}

		done := make(chan struct{})
		go driveClock(fc, done)
		defer close(done)

		outcome, err := eng.evictOne(context.Background(), pod, 30)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(OutcomeFailureSoft))
	})

	It("fails open when listing PDBs errors", func() {
		gw.pdbListErr = errors.New("apiserver unavailable")
		eng := NewEngine(gw, logr.Discard(), fc, nil, nil)
		pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "p1", Namespace: "default"}}
		outcome, err := eng.evictOne(context.Background(), pod, 30)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(OutcomeSuccess))
	})
})

var _ = Describe("Engine.DrainNode", func() {
	var gw *fakeGateway
	var fc *clocktesting.FakeClock

	BeforeEach(func() {
		gw = newFakeGateway()
		fc = clocktesting.NewFakeClock(time.Now())
	})

	podOnNode := func(name, namespace, node string, owners ...metav1.OwnerReference) corev1.Pod {
		return corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, OwnerReferences: owners},
			Spec:       corev1.PodSpec{NodeName: node},
		}
	}

	It("evicts every evictable pod and skips DaemonSet-owned and reserved-namespace pods", func() {
		gw.pods["p1"] = podOnNode("p1", "default", "node-a")
		gw.pods["p2"] = podOnNode("p2", "default", "node-a")
		gw.pods["p3"] = podOnNode("p3", "default", "node-a")
		gw.pods["ds"] = podOnNode("ds", "default", "node-a", metav1.OwnerReference{Kind: "DaemonSet", Name: "ds"})
		gw.pods["sys"] = podOnNode("sys", "kube-system", "node-a")
		gw.pods["other"] = podOnNode("other", "default", "node-b")

		var evicted int
		eng := NewEngine(gw, logr.Discard(), fc, func(*corev1.Pod) { evicted++ }, nil)

		done := make(chan struct{})
		go driveClock(fc, done)
		defer close(done)

		result, err := eng.DrainNode(context.Background(), "fleet-a", "node-a", 5, 30)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Succeeded).To(Equal(3))
		Expect(result.Failed()).To(Equal(0))
		Expect(evicted).To(Equal(3))
	})

	It("charges the whole batch when owner verification times out", func() {
		rs := metav1.OwnerReference{Kind: "ReplicaSet", Name: "web-abc"}
		gw.pods["p1"] = podOnNode("p1", "default", "node-a", rs)
		gw.pods["p2"] = podOnNode("p2", "default", "node-a", rs)
		gw.replicaSets["web-abc"] = cluster.ReplicaSetStatus{Replicas: 2, ReadyReplicas: 0}
		eng := NewEngine(gw, logr.Discard(), fc, nil, nil)

		done := make(chan struct{})
		go driveClock(fc, done)
		defer close(done)

		result, err := eng.DrainNode(context.Background(), "fleet-a", "node-a", 5, 30)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Succeeded).To(Equal(2))
		Expect(result.Failed()).To(Equal(2))
	})

	It("records a soft failure for a PDB-blocked pod without failing the drain", func() {
		p := podOnNode("p1", "default", "node-a")
		p.Labels = map[string]string{"app": "web"}
		gw.pods["p1"] = p
		gw.pdbs = []policyv1.PodDisruptionBudget{pdb(map[string]string{"app": "web"}, 0)}
		eng := NewEngine(gw, logr.Discard(), fc, nil, nil)

		done := make(chan struct{})
		go driveClock(fc, done)
		defer close(done)

		result, err := eng.DrainNode(context.Background(), "fleet-a", "node-a", 5, 30)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Succeeded).To(Equal(0))
		Expect(result.FailedSoft).To(Equal(1))
	})
})

var _ = Describe("Engine.verifyOwner", func() {
	var gw *fakeGateway
	var fc *clocktesting.FakeClock

	BeforeEach(func() {
		gw = newFakeGateway()
		fc = clocktesting.NewFakeClock(time.Now())
	})

	It("passes through pods with no recognised owner", func() {
		eng := NewEngine(gw, logr.Discard(), fc, nil, nil)
		pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Namespace: "default"}}
		Expect(eng.verifyOwner(context.Background(), pod)).To(BeTrue())
	})

	It("succeeds once the owning ReplicaSet reports ready", func() {
		gw.replicaSets["web-abc"] = cluster.ReplicaSetStatus{Replicas: 2, ReadyReplicas: 2}
		eng := NewEngine(gw, logr.Discard(), fc, nil, nil)
		pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{
			Namespace:       "default",
			OwnerReferences: []metav1.OwnerReference{{Kind: "ReplicaSet", Name: "web-abc"}},
		}}
		Expect(eng.verifyOwner(context.Background(), pod)).To(BeTrue())
	})

	It("times out and fails when the owner never becomes ready", func() {
		gw.replicaSets["web-abc"] = cluster.ReplicaSetStatus{Replicas: 2, ReadyReplicas: 0}
		eng := NewEngine(gw, logr.Discard(), fc, nil, nil)
		pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{
			Namespace:       "default",
			OwnerReferences: []metav1.OwnerReference{{Kind: "ReplicaSet", Name: "web-abc"}},
		}}

		done := make(chan struct{})
		go driveClock(fc, done)
		defer close(done)

		Expect(eng.verifyOwner(context.Background(), pod)).To(BeFalse())
	})
})
