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

// Package health holds the cluster-health gate: two pure predicates over
// cluster facts already fetched through the cluster gateway. Neither
// function talks to the API server itself.
package health

import corev1 "k8s.io/api/core/v1"

// ClusterHealthy reports whether the running-pod fraction across pods meets
// threshold (0-100). Zero pods is vacuously healthy. Re-evaluated on every
// entry to Draining and Validating.
func ClusterHealthy(pods []corev1.Pod, threshold int32) bool {
	if len(pods) == 0 {
		return true
	}
	var running int
	for _, p := range pods {
		if p.Status.Phase == corev1.PodRunning {
			running++
		}
	}
	pct := int32(running) * 100 / int32(len(pods))
	return pct >= threshold
}

// NodeReady reports whether n carries a Ready condition with status True.
func NodeReady(n corev1.Node) bool {
	for _, cond := range n.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
