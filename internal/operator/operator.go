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

// Package operator wires the manager: scheme registration, the field index
// the cluster gateway relies on, and the collaborators the Reconciler is
// built from. Kept separate from cmd/controller so the wiring is testable
// without a process entry point.
package operator

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/util/flowcontrol"
	"k8s.io/utils/clock"
	controllerruntime "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	nrv1 "github.com/sridhargude/node-refresh-operator/api/v1"
	"github.com/sridhargude/node-refresh-operator/internal/capacity"
	"github.com/sridhargude/node-refresh-operator/internal/cluster"
	"github.com/sridhargude/node-refresh-operator/internal/controller"
	"github.com/sridhargude/node-refresh-operator/internal/events"
	"github.com/sridhargude/node-refresh-operator/internal/eviction"
)

var scheme = controllerruntime.NewScheme()

func init() {
	_ = clientgoscheme.AddToScheme(scheme)
	_ = nrv1.AddToScheme(scheme)
}

// Options configures the manager and the kube client's own rate limiting.
type Options struct {
	MetricsBindAddress     string
	HealthProbeBindAddress string
	LeaderElection         bool
	LeaderElectionID       string
	KubeClientQPS          float32
	KubeClientBurst        int
}

// DefaultOptions returns the operator's out-of-the-box flag defaults.
func DefaultOptions() Options {
	return Options{
		MetricsBindAddress:     ":8080",
		HealthProbeBindAddress: ":8081",
		LeaderElection:         true,
		LeaderElectionID:       "node-refresh-operator-leader-election",
		KubeClientQPS:          200,
		KubeClientBurst:        300,
	}
}

// NewManager builds a controller-runtime manager, applies the kube client
// rate limiter, and registers the scheme and the spec.nodeName pod index the
// Cluster API Gateway relies on for ListPodsOnNode.
func NewManager(restConfig *rest.Config, opts Options) (manager.Manager, error) {
	restConfig.RateLimiter = flowcontrol.NewTokenBucketRateLimiter(opts.KubeClientQPS, opts.KubeClientBurst)

	mgr, err := controllerruntime.NewManager(restConfig, controllerruntime.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: opts.MetricsBindAddress},
		HealthProbeBindAddress: opts.HealthProbeBindAddress,
		LeaderElection:         opts.LeaderElection,
		LeaderElectionID:       opts.LeaderElectionID,
	})
	if err != nil {
		return nil, fmt.Errorf("constructing manager: %w", err)
	}

	if err := mgr.GetFieldIndexer().IndexField(context.Background(), &corev1.Pod{}, cluster.NodeNameIndexField,
		func(obj client.Object) []string {
			pod := obj.(*corev1.Pod)
			if pod.Spec.NodeName == "" {
				return nil
			}
			return []string{pod.Spec.NodeName}
		}); err != nil {
		return nil, fmt.Errorf("registering %s index: %w", cluster.NodeNameIndexField, err)
	}

	return mgr, nil
}

// SetupReconciler wires the Reconciler and its collaborators against mgr's
// own client and event recorder, then registers it with mgr.
func SetupReconciler(mgr manager.Manager) error {
	gw := cluster.NewGateway(mgr.GetClient())
	recorder := events.NewRecorder(mgr.GetEventRecorderFor("noderefresh-operator"))
	capProvider := capacity.NewClusterProvider(gw)
	engine := eviction.NewEngine(gw, mgr.GetLogger().WithName("eviction"), clock.RealClock{},
		func(pod *corev1.Pod) { recorder.Publish(events.PodEvicted(pod, pod.Namespace, pod.Name)) },
		func(pod *corev1.Pod) { recorder.Publish(events.EvictionBlocked(pod, pod.Namespace, pod.Name)) })
	r := controller.NewReconciler(gw, engine, capProvider, recorder, clock.RealClock{})
	return r.SetupWithManager(mgr)
}
