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

// Package capacity abstracts the external node-provisioning collaborator
// the Reconciler consults while in Provisioning. Actual provisioning
// (cloud-provider APIs, cluster autoscaler, etc.) lives outside the
// operator; the reconciler only needs a spare-capacity verdict and a
// best-effort nudge to provision more.
package capacity

import (
	"context"

	corev1 "k8s.io/api/core/v1"

	"github.com/sridhargude/node-refresh-operator/internal/health"
)

// Provider reports on and requests spare cluster capacity for a fleet.
type Provider interface {
	// EnsureSpareCapacity reports whether the cluster currently has more
	// ready nodes than fleetSize. An implementation may also ask an external
	// provisioner for capacity when it does not; the reference
	// implementation counts ready nodes cluster-wide, ignores fleetLabels,
	// and requests nothing.
	EnsureSpareCapacity(ctx context.Context, fleetLabels map[string]string, fleetSize int) (bool, error)
}

// ReadyNodeCounter is the minimal Gateway surface this package depends on,
// kept narrow so tests can supply a stub without pulling in the full
// cluster.Gateway interface.
type ReadyNodeCounter interface {
	ListAllNodes(ctx context.Context) ([]corev1.Node, error)
}

// clusterProvider is the reference implementation: spare capacity is just
// readyNodes > fleetSize, with no active provisioning request issued. A real
// deployment substitutes a Provider that talks to its autoscaler or cloud
// API; this implementation exists so the operator functions standalone.
type clusterProvider struct {
	nodes ReadyNodeCounter
}

// NewClusterProvider returns a Provider backed only by already-observed
// cluster-wide node readiness, with no active provisioning side effect.
func NewClusterProvider(nodes ReadyNodeCounter) Provider {
	return &clusterProvider{nodes: nodes}
}

func (p *clusterProvider) EnsureSpareCapacity(ctx context.Context, fleetLabels map[string]string, fleetSize int) (bool, error) {
	nodes, err := p.nodes.ListAllNodes(ctx)
	if err != nil {
		return false, err
	}
	var ready int
	for _, n := range nodes {
		if health.NodeReady(n) {
			ready++
		}
	}
	return ready > fleetSize, nil
}
