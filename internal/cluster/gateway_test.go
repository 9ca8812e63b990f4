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

package cluster_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	nrv1 "github.com/sridhargude/node-refresh-operator/api/v1"
	"github.com/sridhargude/node-refresh-operator/internal/cluster"
)

func TestCluster(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "cluster suite")
}

func newScheme() *runtime.Scheme {
	s := runtime.NewScheme()
	Expect(clientgoscheme.AddToScheme(s)).To(Succeed())
	Expect(nrv1.AddToScheme(s)).To(Succeed())
	return s
}

func labelledNode(name string, labels map[string]string) *corev1.Node {
	return &corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels}}
}

var _ = Describe("Gateway", func() {
	It("lists fleet nodes by label, sorted by name", func() {
		c := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(
			labelledNode("node-c", map[string]string{"pool": "a"}),
			labelledNode("node-a", map[string]string{"pool": "a"}),
			labelledNode("node-b", map[string]string{"pool": "b"}),
		).Build()
		gw := cluster.NewGateway(c)

		nodes, err := gw.ListFleetNodes(context.Background(), map[string]string{"pool": "a"})
		Expect(err).NotTo(HaveOccurred())
		Expect(nodes).To(HaveLen(2))
		Expect(nodes[0].Name).To(Equal("node-a"))
		Expect(nodes[1].Name).To(Equal("node-c"))
	})

	It("defaults an unset spec.replicas to one when reading a ReplicaSet", func() {
		c := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(
			&appsv1.ReplicaSet{
				ObjectMeta: metav1.ObjectMeta{Name: "web-abc", Namespace: "default"},
				Status:     appsv1.ReplicaSetStatus{ReadyReplicas: 1},
			},
		).Build()
		gw := cluster.NewGateway(c)

		rs, err := gw.GetReplicaSet(context.Background(), "default", "web-abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(rs.Replicas).To(BeEquivalentTo(1))
		Expect(rs.ReadyReplicas).To(BeEquivalentTo(1))
	})

	It("patches the status subresource without touching spec", func() {
		nr := &nrv1.NodeRefresh{
			ObjectMeta: metav1.ObjectMeta{Name: "fleet-a"},
			Spec:       nrv1.NodeRefreshSpec{TargetNodeLabels: map[string]string{"pool": "a"}},
		}
		c := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(nr).
			WithStatusSubresource(&nrv1.NodeRefresh{}).Build()
		gw := cluster.NewGateway(c)

		Expect(gw.PatchNodeRefreshStatus(context.Background(), "fleet-a", func(s *nrv1.NodeRefreshStatus) {
			s.Phase = nrv1.PhaseProvisioning
			s.CurrentNode = "node-a"
		})).To(Succeed())

		got, err := gw.GetNodeRefresh(context.Background(), "fleet-a")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status.Phase).To(Equal(nrv1.PhaseProvisioning))
		Expect(got.Status.CurrentNode).To(Equal("node-a"))
		Expect(got.Spec.TargetNodeLabels).To(HaveKeyWithValue("pool", "a"))
	})

	It("maps an optimistic-concurrency conflict to ErrConflict", func() {
		nr := &nrv1.NodeRefresh{ObjectMeta: metav1.ObjectMeta{Name: "fleet-a"}}
		c := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(nr).
			WithStatusSubresource(&nrv1.NodeRefresh{}).
			WithInterceptorFuncs(interceptor.Funcs{
				SubResourcePatch: func(ctx context.Context, c client.Client, subResourceName string, obj client.Object, patch client.Patch, opts ...client.SubResourcePatchOption) error {
					return apierrors.NewConflict(schema.GroupResource{Group: "noderefresh.io", Resource: "noderefreshes"}, "fleet-a", errors.New("stale resourceVersion"))
				},
			}).Build()
		gw := cluster.NewGateway(c)

		err := gw.PatchNodeRefreshStatus(context.Background(), "fleet-a", func(s *nrv1.NodeRefreshStatus) {
			s.Phase = nrv1.PhaseProvisioning
		})
		Expect(err).To(HaveOccurred())
		Expect(cluster.IsConflict(err)).To(BeTrue())
	})
})
