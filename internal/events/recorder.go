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

// Package events wraps client-go's EventRecorder with dedupe for noisy,
// high-frequency events: within a dedupe window, repeated events for the
// same object/reason collapse to one.
package events

import (
	"fmt"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
)

// Event is a single recordable Kubernetes event. DedupeValues, when set,
// collapses repeated events sharing a Reason and those values within
// DedupeTimeout (or the recorder's default) to a single emission.
type Event struct {
	InvolvedObject runtime.Object
	Type           string
	Reason         string
	Message        string
	DedupeValues   []string
	DedupeTimeout  time.Duration
}

func (e Event) dedupeKey() string {
	return fmt.Sprintf("%s-%s", strings.ToLower(e.Reason), strings.Join(e.DedupeValues, "-"))
}

// Recorder publishes operator events, deduping within a time window.
type Recorder interface {
	Publish(...Event)
}

type recorder struct {
	rec   record.EventRecorder
	cache *cache.Cache
}

const defaultDedupeTimeout = 2 * time.Minute

// NewRecorder wraps r with dedupe semantics.
func NewRecorder(r record.EventRecorder) Recorder {
	return &recorder{rec: r, cache: cache.New(defaultDedupeTimeout, 10*time.Second)}
}

func (r *recorder) Publish(evts ...Event) {
	for _, evt := range evts {
		r.publishEvent(evt)
	}
}

func (r *recorder) publishEvent(evt Event) {
	timeout := defaultDedupeTimeout
	if evt.DedupeTimeout != 0 {
		timeout = evt.DedupeTimeout
	}
	if len(evt.DedupeValues) > 0 && !r.shouldCreateEvent(evt.dedupeKey(), timeout) {
		return
	}
	r.rec.Event(evt.InvolvedObject, evt.Type, evt.Reason, evt.Message)
}

func (r *recorder) shouldCreateEvent(key string, timeout time.Duration) bool {
	if _, exists := r.cache.Get(key); exists {
		return false
	}
	r.cache.Set(key, nil, timeout)
	return true
}

// The constructors below build the NodeRefresh-specific events the
// reconciler and eviction engine emit; each mirrors a status transition or
// eviction outcome so cluster operators can tail `kubectl events` instead of
// status alone.

// PhaseTransition records a NodeRefresh moving to a new phase.
func PhaseTransition(obj runtime.Object, name, phase, message string) Event {
	return Event{
		InvolvedObject: obj,
		Type:           corev1.EventTypeNormal,
		Reason:         "PhaseTransition",
		Message:        fmt.Sprintf("%s -> %s: %s", name, phase, message),
		DedupeValues:   []string{name, phase},
	}
}

// PodEvicted records a successful eviction.
func PodEvicted(obj runtime.Object, podNamespace, podName string) Event {
	return Event{
		InvolvedObject: obj,
		Type:           corev1.EventTypeNormal,
		Reason:         "PodEvicted",
		Message:        fmt.Sprintf("evicted pod %s/%s", podNamespace, podName),
		DedupeValues:   []string{podNamespace, podName},
	}
}

// EvictionBlocked records a pod whose eviction was blocked by a PDB.
func EvictionBlocked(obj runtime.Object, podNamespace, podName string) Event {
	return Event{
		InvolvedObject: obj,
		Type:           corev1.EventTypeWarning,
		Reason:         "EvictionBlocked",
		Message:        fmt.Sprintf("eviction of pod %s/%s blocked by a PodDisruptionBudget", podNamespace, podName),
		DedupeValues:   []string{podNamespace, podName},
		DedupeTimeout:  30 * time.Second,
	}
}

// ValidationFailed records a node that failed workload-health validation.
func ValidationFailed(obj runtime.Object, nodeName string) Event {
	return Event{
		InvolvedObject: obj,
		Type:           corev1.EventTypeWarning,
		Reason:         "ValidationFailed",
		Message:        fmt.Sprintf("workload health validation failed after draining node %s", nodeName),
		DedupeValues:   []string{nodeName},
	}
}
