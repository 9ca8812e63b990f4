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

// Package metrics registers the operator's Prometheus collectors against the
// controller-runtime metrics registry, the same registry the manager already
// serves on its /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

const namespace = "noderefresh"

var (
	ReconcilesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "controller",
		Name:      "reconciles_total",
		Help:      "Total reconcile invocations, labeled by the phase being reconciled.",
	}, []string{"phase"})

	PodsEvictedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "eviction",
		Name:      "pods_evicted_total",
		Help:      "Total pods successfully evicted, labeled by NodeRefresh name.",
	}, []string{"noderefresh"})

	PodsEvictionFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "eviction",
		Name:      "pods_eviction_failed_total",
		Help:      "Total pods whose eviction did not complete, labeled by reason.",
	}, []string{"reason"})

	NodesRefreshedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "nodes_refreshed_total",
		Help:      "Total nodes that completed draining and validation, labeled by fleet.",
	}, []string{"fleet"})

	CyclesActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "active",
		Help:      "NodeRefresh objects currently outside Idle/Completed/Failed, labeled by fleet.",
	}, []string{"fleet"})

	BatchSettleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "eviction",
		Name:      "batch_settle_duration_seconds",
		Help:      "Time spent waiting for a workload-health verification batch to settle.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 7),
	}, []string{"fleet"})
)

func init() {
	crmetrics.Registry.MustRegister(
		ReconcilesTotal,
		PodsEvictedTotal,
		PodsEvictionFailedTotal,
		NodesRefreshedTotal,
		CyclesActive,
		BatchSettleDuration,
	)
}
