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

// Package eviction is the drain engine: pod classification, PDB-aware
// batched eviction, and owning-controller workload-health verification.
// A 429 from the eviction subresource is a PDB rejection (failure-soft),
// 404/409 mean the pod already raced away (not a failure), anything else is
// a hard failure.
package eviction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/utils/clock"

	"github.com/sridhargude/node-refresh-operator/internal/cluster"
	"github.com/sridhargude/node-refresh-operator/internal/metrics"
)

const (
	pdbRecheckDelay  = 30 * time.Second
	batchSettleDelay = 30 * time.Second
	healthPollDelay  = 5 * time.Second
	healthPollCeil   = 60 * time.Second

	reservedNamespaceKubeSystem = "kube-system"
	reservedNamespaceKubePublic = "kube-public"
)

// Outcome classifies a single eviction attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailureSoft
	OutcomeFailureHard
)

// BatchResult summarizes one settled batch.
type BatchResult struct {
	Succeeded  int
	FailedSoft int
	FailedHard int
}

// Failed is the count this batch contributes to podsMovesFailed.
func (r BatchResult) Failed() int { return r.FailedSoft + r.FailedHard }

// Engine runs the batch eviction protocol against a single node.
type Engine struct {
	gw        cluster.Gateway
	log       logr.Logger
	clock     clock.Clock
	onEvict   func(pod *corev1.Pod)
	onBlocked func(pod *corev1.Pod)
}

// NewEngine constructs an Engine. onEvict/onBlocked are optional hooks (may
// be nil) the reconciler uses to emit events per pod.
func NewEngine(gw cluster.Gateway, log logr.Logger, clk clock.Clock, onEvict, onBlocked func(pod *corev1.Pod)) *Engine {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Engine{gw: gw, log: log, clock: clk, onEvict: onEvict, onBlocked: onBlocked}
}

// Evictable reports whether p should be drained from its node: not
// DaemonSet-owned, not in a reserved namespace.
func Evictable(p corev1.Pod) bool {
	if p.Namespace == reservedNamespaceKubeSystem || p.Namespace == reservedNamespaceKubePublic {
		return false
	}
	for _, ref := range p.OwnerReferences {
		if ref.Kind == "DaemonSet" {
			return false
		}
	}
	return true
}

// DrainNode runs the full batch protocol against nodeName: list
// evictable pods, partition into batches of batchSize, evict and verify each
// batch in turn. It returns once every batch has settled or the context is
// cancelled. fleet labels the batch-settle-duration metric.
//
// The settle and verification waits run inside the call, so a Draining
// reconcile blocks for up to (settle + poll ceiling) per batch. Each wait is
// bounded and cancellable through ctx, and the workqueue slot held is only
// this object's; other NodeRefresh objects keep reconciling.
func (e *Engine) DrainNode(ctx context.Context, fleet, nodeName string, batchSize int, gracePeriodSeconds int64) (BatchResult, error) {
	pods, err := e.gw.ListPodsOnNode(ctx, nodeName)
	if err != nil {
		return BatchResult{}, fmt.Errorf("listing pods on node %s: %w", nodeName, err)
	}

	var evictable []corev1.Pod
	for _, p := range pods {
		if Evictable(p) {
			evictable = append(evictable, p)
		}
	}

	var total BatchResult
	for start := 0; start < len(evictable); start += batchSize {
		end := start + batchSize
		if end > len(evictable) {
			end = len(evictable)
		}
		batch := evictable[start:end]
		settleStart := e.clock.Now()

		result, hardErrs := e.evictBatch(ctx, batch, gracePeriodSeconds)
		if hardErrs != nil {
			// Hard failures are counted, not propagated; the drain
			// continues with the rest of the node.
			e.log.Error(hardErrs, "hard eviction failures in batch", "node", nodeName)
		}
		total.Succeeded += result.Succeeded
		total.FailedSoft += result.FailedSoft
		total.FailedHard += result.FailedHard

		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-e.clock.After(batchSettleDelay):
		}

		healthy := e.verifyBatchHealth(ctx, batch)
		metrics.BatchSettleDuration.WithLabelValues(fleet).Observe(e.clock.Now().Sub(settleStart).Seconds())
		if !healthy {
			// A timed-out owner turns the whole batch into a failure,
			// counted by batch size regardless of individual outcomes.
			total.FailedHard += len(batch)
		}
	}
	return total, nil
}

// evictBatch fans evictions out across the batch, never exceeding the batch
// size in flight. The returned error aggregates hard failures for logging;
// it does not abort the drain.
func (e *Engine) evictBatch(ctx context.Context, batch []corev1.Pod, gracePeriodSeconds int64) (BatchResult, error) {
	var mu sync.Mutex
	var result BatchResult
	var hardErrs error
	var wg sync.WaitGroup

	for i := range batch {
		pod := &batch[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := e.evictOne(ctx, pod, gracePeriodSeconds)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case OutcomeSuccess:
				result.Succeeded++
			case OutcomeFailureSoft:
				result.FailedSoft++
			case OutcomeFailureHard:
				result.FailedHard++
				hardErrs = multierr.Append(hardErrs, err)
			}
		}()
	}
	wg.Wait()
	return result, hardErrs
}

// evictOne runs the PDB-check-then-evict protocol for a single pod. The
// error is only set for hard failures, wrapped with the pod identity for
// batch-level aggregation.
func (e *Engine) evictOne(ctx context.Context, pod *corev1.Pod, gracePeriodSeconds int64) (Outcome, error) {
	if !e.pdbAdmits(ctx, pod) {
		select {
		case <-ctx.Done():
			return OutcomeFailureHard, ctx.Err()
		case <-e.clock.After(pdbRecheckDelay):
		}
		if !e.pdbAdmits(ctx, pod) {
			if e.onBlocked != nil {
				e.onBlocked(pod)
			}
			e.log.Info("eviction blocked by PodDisruptionBudget", "pod", pod.Name, "namespace", pod.Namespace)
			return OutcomeFailureSoft, nil
		}
	}

	err := e.gw.Evict(ctx, pod, gracePeriodSeconds)
	switch {
	case err == nil:
		if e.onEvict != nil {
			e.onEvict(pod)
		}
		return OutcomeSuccess, nil
	case apierrors.IsNotFound(err), apierrors.IsConflict(err):
		// Pod already gone or raced onto a different UID; not a failure.
		return OutcomeSuccess, nil
	case apierrors.IsTooManyRequests(err):
		if e.onBlocked != nil {
			e.onBlocked(pod)
		}
		e.log.Info("eviction rejected by PodDisruptionBudget", "pod", pod.Name, "namespace", pod.Namespace)
		return OutcomeFailureSoft, nil
	default:
		return OutcomeFailureHard, fmt.Errorf("evicting pod %s/%s: %w", pod.Namespace, pod.Name, err)
	}
}

func (e *Engine) pdbAdmits(ctx context.Context, pod *corev1.Pod) bool {
	pdbs, err := e.gw.ListPodDisruptionBudgets(ctx, pod.Namespace)
	if err != nil {
		// Fail-open: a transient list failure must not deadlock draining.
		e.log.Error(err, "listing PodDisruptionBudgets, failing open", "namespace", pod.Namespace)
		return true
	}
	return newPDBLimits(pdbs).admits(pod)
}

// verifyBatchHealth polls each evicted pod's owning ReplicaSet/StatefulSet
// until ready, up to healthPollCeil. Pods without a recognised owner are
// skipped (do not count as failures). Returns false if any owner times out.
func (e *Engine) verifyBatchHealth(ctx context.Context, batch []corev1.Pod) bool {
	healthy := true
	for i := range batch {
		if !e.verifyOwner(ctx, &batch[i]) {
			healthy = false
		}
	}
	return healthy
}

func (e *Engine) verifyOwner(ctx context.Context, pod *corev1.Pod) bool {
	owner, ok := firstRecognisedOwner(pod)
	if !ok {
		return true
	}

	deadline := e.clock.Now().Add(healthPollCeil)
	for {
		ready, err := e.ownerReady(ctx, pod.Namespace, owner)
		if err == nil && ready {
			return true
		}
		if err != nil {
			e.log.Error(err, "checking owner readiness", "owner", owner.name, "namespace", pod.Namespace)
		}
		if !e.clock.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-e.clock.After(healthPollDelay):
		}
	}
}

type ownerRef struct {
	kind string
	name string
}

func firstRecognisedOwner(pod *corev1.Pod) (ownerRef, bool) {
	for _, ref := range pod.OwnerReferences {
		if ref.Kind == "ReplicaSet" || ref.Kind == "StatefulSet" {
			return ownerRef{kind: ref.Kind, name: ref.Name}, true
		}
	}
	return ownerRef{}, false
}

func (e *Engine) ownerReady(ctx context.Context, namespace string, owner ownerRef) (bool, error) {
	switch owner.kind {
	case "ReplicaSet":
		rs, err := e.gw.GetReplicaSet(ctx, namespace, owner.name)
		if err != nil {
			return false, err
		}
		return rs.ReadyReplicas >= rs.Replicas, nil
	case "StatefulSet":
		sts, err := e.gw.GetStatefulSet(ctx, namespace, owner.name)
		if err != nil {
			return false, err
		}
		return sts.ReadyReplicas >= sts.Replicas, nil
	default:
		return true, nil
	}
}
