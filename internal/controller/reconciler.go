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

// Package controller is the NodeRefresh state machine. It is
// level-triggered: every invocation re-reads the object and observed
// cluster facts, decides one transition of the Idle→Provisioning→Draining→
// Validating→Completed/Failed cycle, and commits at most one status patch
// (a terminal Completed object with no schedule is left untouched).
package controller

import (
	"context"
	"fmt"
	"sort"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	nrv1 "github.com/sridhargude/node-refresh-operator/api/v1"
	"github.com/sridhargude/node-refresh-operator/internal/capacity"
	"github.com/sridhargude/node-refresh-operator/internal/cluster"
	"github.com/sridhargude/node-refresh-operator/internal/events"
	"github.com/sridhargude/node-refresh-operator/internal/eviction"
	"github.com/sridhargude/node-refresh-operator/internal/health"
	"github.com/sridhargude/node-refresh-operator/internal/metrics"
	"github.com/sridhargude/node-refresh-operator/internal/scheduler"
)

// RetrySchedule is the fixed Failed→Idle backoff sequence.
var RetrySchedule = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	300 * time.Second,
}

const (
	provisioningPollInterval = 15 * time.Second
	drainingPauseInterval    = 30 * time.Second
)

// Reconciler implements the NodeRefresh state machine.
type Reconciler struct {
	gw       cluster.Gateway
	engine   *eviction.Engine
	capacity capacity.Provider
	recorder events.Recorder
	clock    clock.Clock
}

// NewReconciler constructs a Reconciler from its collaborators.
func NewReconciler(gw cluster.Gateway, engine *eviction.Engine, cap capacity.Provider, recorder events.Recorder, clk clock.Clock) *Reconciler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Reconciler{gw: gw, engine: engine, capacity: cap, recorder: recorder, clock: clk}
}

// Reconcile is the controller-runtime entry point: read, decide, patch.
func (r *Reconciler) Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Result, error) {
	logger := log.FromContext(ctx).WithValues("noderefresh", req.Name)
	ctx = log.IntoContext(ctx, logger)

	nr, err := r.gw.GetNodeRefresh(ctx, req.Name)
	if err != nil {
		return reconcile.Result{}, client.IgnoreNotFound(err)
	}

	result, err := r.reconcile(ctx, nr)
	if err != nil && cluster.IsConflict(err) {
		// One retry against a freshly re-read object; a second conflict
		// defers to the next reconcile tick rather than spinning.
		nr, getErr := r.gw.GetNodeRefresh(ctx, req.Name)
		if getErr != nil {
			return reconcile.Result{}, client.IgnoreNotFound(getErr)
		}
		result, err = r.reconcile(ctx, nr)
		if err != nil && cluster.IsConflict(err) {
			return reconcile.Result{RequeueAfter: time.Second}, nil
		}
	}
	return result, err
}

func (r *Reconciler) reconcile(ctx context.Context, nr *nrv1.NodeRefresh) (reconcile.Result, error) {
	spec := nr.Spec.WithDefaults()
	metrics.ReconcilesTotal.WithLabelValues(string(nr.Status.Phase)).Inc()

	switch nr.Status.Phase {
	case "", nrv1.PhaseIdle:
		return r.reconcileIdle(ctx, nr, spec)
	case nrv1.PhaseProvisioning:
		return r.reconcileProvisioning(ctx, nr, spec)
	case nrv1.PhaseDraining:
		return r.reconcileDraining(ctx, nr, spec)
	case nrv1.PhaseValidating:
		return r.reconcileValidating(ctx, nr, spec)
	case nrv1.PhaseCompleted:
		return r.reconcileCompleted(ctx, nr, spec)
	case nrv1.PhaseFailed:
		return r.reconcileFailed(ctx, nr, spec)
	default:
		return reconcile.Result{}, fmt.Errorf("unrecognised phase %q", nr.Status.Phase)
	}
}

func (r *Reconciler) reconcileIdle(ctx context.Context, nr *nrv1.NodeRefresh, spec nrv1.NodeRefreshSpec) (reconcile.Result, error) {
	now := r.clock.Now().UTC()

	if len(nr.Spec.TargetNodeLabels) == 0 {
		return r.transitionToFailed(ctx, nr, "Missing targetNodeLabels")
	}

	var nextFire *metav1.Time
	if spec.RefreshSchedule != "" {
		var last *time.Time
		if nr.Status.LastRefreshTime != nil {
			t := nr.Status.LastRefreshTime.Time
			last = &t
		}
		verdict, err := scheduler.Evaluate(spec.RefreshSchedule, now, last)
		if err != nil {
			return r.transitionToFailed(ctx, nr, "Invalid schedule")
		}
		fire := metav1.NewTime(verdict.NextFire)
		nextFire = &fire
		if !verdict.Due {
			err := r.patch(ctx, nr.Name, func(s *nrv1.NodeRefreshStatus) {
				s.NextRefreshTime = nextFire
			})
			return reconcile.Result{RequeueAfter: requeueUntil(now, verdict.NextFire)}, err
		}
	}

	fleet, err := r.gw.ListFleetNodes(ctx, nr.Spec.TargetNodeLabels)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("listing fleet nodes: %w", err)
	}

	if len(fleet) == 0 {
		err := r.patch(ctx, nr.Name, func(s *nrv1.NodeRefreshStatus) {
			s.Phase = nrv1.PhaseCompleted
			s.TotalNodes = 0
			s.RetryCount = 0
			s.NextRefreshTime = nextFire
			s.Message = "No target nodes"
			s.AppendCondition(metav1.NewTime(now), "NoTargetNodes", "No target nodes")
		})
		return reconcile.Result{}, err
	}

	names := fleetNames(fleet)
	sort.Strings(names)
	err = r.patch(ctx, nr.Name, func(s *nrv1.NodeRefreshStatus) {
		s.Phase = nrv1.PhaseProvisioning
		s.CurrentNode = names[0]
		s.TotalNodes = int32(len(names))
		s.NextRefreshTime = nextFire
		s.NodesRefreshed = nil
		s.PodsMovedSuccessfully = 0
		s.PodsMovesFailed = 0
		s.Message = fmt.Sprintf("starting cycle over %d nodes", len(names))
		s.AppendCondition(metav1.NewTime(now), "CycleStarted", s.Message)
	})
	metrics.CyclesActive.WithLabelValues(nr.Name).Set(1)
	r.recorder.Publish(events.PhaseTransition(nr, nr.Name, string(nrv1.PhaseProvisioning), "cycle started"))
	return reconcile.Result{Requeue: true}, err
}

func (r *Reconciler) reconcileProvisioning(ctx context.Context, nr *nrv1.NodeRefresh, spec nrv1.NodeRefreshSpec) (reconcile.Result, error) {
	hasCapacity, err := r.capacity.EnsureSpareCapacity(ctx, nr.Spec.TargetNodeLabels, int(nr.Status.TotalNodes))
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("evaluating spare capacity: %w", err)
	}

	if !hasCapacity {
		err := r.patch(ctx, nr.Name, func(s *nrv1.NodeRefreshStatus) {
			s.Message = "waiting for spare capacity"
		})
		return reconcile.Result{RequeueAfter: provisioningPollInterval}, err
	}

	err = r.patch(ctx, nr.Name, func(s *nrv1.NodeRefreshStatus) {
		s.Phase = nrv1.PhaseDraining
		s.Message = fmt.Sprintf("draining node %s", s.CurrentNode)
		s.AppendCondition(metav1.NewTime(r.clock.Now().UTC()), "SpareCapacityReady", s.Message)
	})
	return reconcile.Result{Requeue: true}, err
}

func (r *Reconciler) reconcileDraining(ctx context.Context, nr *nrv1.NodeRefresh, spec nrv1.NodeRefreshSpec) (reconcile.Result, error) {
	pods, err := r.gw.ListAllPods(ctx)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("listing pods for health gate: %w", err)
	}
	if !health.ClusterHealthy(pods, *spec.MinHealthThreshold) {
		err := r.patch(ctx, nr.Name, func(s *nrv1.NodeRefreshStatus) {
			s.Message = "paused: cluster health below threshold"
		})
		return reconcile.Result{RequeueAfter: drainingPauseInterval}, err
	}

	result, err := r.engine.DrainNode(ctx, nr.Name, nr.Status.CurrentNode, int(spec.MaxPodsToMoveAtOnce), int64(*spec.GracePeriodSeconds))
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("draining node %s: %w", nr.Status.CurrentNode, err)
	}

	metrics.PodsEvictedTotal.WithLabelValues(nr.Name).Add(float64(result.Succeeded))
	if result.Failed() > 0 {
		metrics.PodsEvictionFailedTotal.WithLabelValues("drain").Add(float64(result.Failed()))
	}

	err = r.patch(ctx, nr.Name, func(s *nrv1.NodeRefreshStatus) {
		s.Phase = nrv1.PhaseValidating
		s.PodsMovedSuccessfully += int32(result.Succeeded)
		s.PodsMovesFailed += int32(result.Failed())
		s.Message = fmt.Sprintf("validating node %s", s.CurrentNode)
		s.AppendCondition(metav1.NewTime(r.clock.Now().UTC()), "DrainComplete", s.Message)
	})
	return reconcile.Result{Requeue: true}, err
}

func (r *Reconciler) reconcileValidating(ctx context.Context, nr *nrv1.NodeRefresh, spec nrv1.NodeRefreshSpec) (reconcile.Result, error) {
	pods, err := r.gw.ListAllPods(ctx)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("listing pods for health gate: %w", err)
	}

	if !health.ClusterHealthy(pods, *spec.MinHealthThreshold) {
		r.recorder.Publish(events.ValidationFailed(nr, nr.Status.CurrentNode))
		return r.transitionToFailed(ctx, nr, "Validation failed")
	}

	fleet, err := r.gw.ListFleetNodes(ctx, nr.Spec.TargetNodeLabels)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("listing fleet nodes: %w", err)
	}

	done := nr.Status.CurrentNode
	refreshed := append(append([]string{}, nr.Status.NodesRefreshed...), done)

	next, remaining := nextUnrefreshedNode(fleetNames(fleet), refreshed)
	if remaining {
		err := r.patch(ctx, nr.Name, func(s *nrv1.NodeRefreshStatus) {
			s.Phase = nrv1.PhaseProvisioning
			s.NodesRefreshed = refreshed
			s.CurrentNode = next
			s.Message = fmt.Sprintf("node %s refreshed; provisioning for %s", done, next)
			s.AppendCondition(metav1.NewTime(r.clock.Now().UTC()), "NodeRefreshed", s.Message)
		})
		metrics.NodesRefreshedTotal.WithLabelValues(nr.Name).Inc()
		return reconcile.Result{Requeue: true}, err
	}

	err = r.patch(ctx, nr.Name, func(s *nrv1.NodeRefreshStatus) {
		s.Phase = nrv1.PhaseCompleted
		s.NodesRefreshed = refreshed
		s.CurrentNode = ""
		s.RetryCount = 0
		s.Message = "cycle complete"
		s.AppendCondition(metav1.NewTime(r.clock.Now().UTC()), "CycleComplete", s.Message)
	})
	metrics.NodesRefreshedTotal.WithLabelValues(nr.Name).Inc()
	metrics.CyclesActive.WithLabelValues(nr.Name).Set(0)
	r.recorder.Publish(events.PhaseTransition(nr, nr.Name, string(nrv1.PhaseCompleted), "cycle complete"))
	return reconcile.Result{}, err
}

func (r *Reconciler) reconcileCompleted(ctx context.Context, nr *nrv1.NodeRefresh, spec nrv1.NodeRefreshSpec) (reconcile.Result, error) {
	if spec.RefreshSchedule == "" {
		return reconcile.Result{}, nil
	}
	now := metav1.NewTime(r.clock.Now().UTC())
	err := r.patch(ctx, nr.Name, func(s *nrv1.NodeRefreshStatus) {
		s.Phase = nrv1.PhaseIdle
		s.LastRefreshTime = &now
		s.Message = "awaiting next scheduled cycle"
		s.AppendCondition(now, "ScheduledCycleDone", s.Message)
	})
	return reconcile.Result{Requeue: true}, err
}

func (r *Reconciler) reconcileFailed(ctx context.Context, nr *nrv1.NodeRefresh, spec nrv1.NodeRefreshSpec) (reconcile.Result, error) {
	retryCount := int(nr.Status.RetryCount)
	if retryCount >= len(RetrySchedule) {
		err := r.patch(ctx, nr.Name, func(s *nrv1.NodeRefreshStatus) {
			s.Message = "Max retries exceeded"
		})
		return reconcile.Result{}, err
	}

	delay := RetrySchedule[retryCount]
	err := r.patch(ctx, nr.Name, func(s *nrv1.NodeRefreshStatus) {
		s.Phase = nrv1.PhaseIdle
		s.RetryCount++
		s.Message = fmt.Sprintf("retrying after %s", delay)
		s.AppendCondition(metav1.NewTime(r.clock.Now().UTC()), "Retrying", s.Message)
	})
	return reconcile.Result{RequeueAfter: delay}, err
}

func (r *Reconciler) transitionToFailed(ctx context.Context, nr *nrv1.NodeRefresh, message string) (reconcile.Result, error) {
	err := r.patch(ctx, nr.Name, func(s *nrv1.NodeRefreshStatus) {
		s.Phase = nrv1.PhaseFailed
		s.Message = message
		s.AppendCondition(metav1.NewTime(r.clock.Now().UTC()), "Failed", message)
	})
	metrics.CyclesActive.WithLabelValues(nr.Name).Set(0)
	return reconcile.Result{Requeue: true}, err
}

func (r *Reconciler) patch(ctx context.Context, name string, mutate func(*nrv1.NodeRefreshStatus)) error {
	if err := r.gw.PatchNodeRefreshStatus(ctx, name, mutate); err != nil {
		if cluster.IsConflict(err) {
			return err
		}
		return fmt.Errorf("patching status of %s: %w", name, err)
	}
	return nil
}

func fleetNames(nodes []corev1.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}

// nextUnrefreshedNode returns the lexicographically-first fleet member not
// yet in refreshed, and whether one remains.
func nextUnrefreshedNode(fleet []string, refreshed []string) (string, bool) {
	done := make(map[string]bool, len(refreshed))
	for _, n := range refreshed {
		done[n] = true
	}
	sorted := append([]string{}, fleet...)
	sort.Strings(sorted)
	for _, n := range sorted {
		if !done[n] {
			return n, true
		}
	}
	return "", false
}

func requeueUntil(now, target time.Time) time.Duration {
	d := target.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
