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

package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
)

// Phase is the coarse-grained state of a NodeRefresh reconcile cycle.
type Phase string

const (
	PhaseIdle         Phase = "Idle"
	PhaseProvisioning Phase = "Provisioning"
	PhaseDraining     Phase = "Draining"
	PhaseValidating   Phase = "Validating"
	PhaseCompleted    Phase = "Completed"
	PhaseFailed       Phase = "Failed"
)

// Defaults for fields a NodeRefreshSpec omits.
const (
	DefaultMaxPodsToMoveAtOnce = 5
	DefaultGracePeriodSeconds  = 300
	DefaultMinHealthThreshold  = 80

	// MaxConditions bounds the status.conditions ring buffer.
	MaxConditions = 10
)

// NodeRefreshSpec declares a label-selected fleet of nodes to cycle and the
// policy governing how aggressively to do so.
type NodeRefreshSpec struct {
	// TargetNodeLabels selects the fleet: every key/value pair must match a
	// node's labels (logical AND) for that node to be a cycling candidate.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinProperties=1
	TargetNodeLabels map[string]string `json:"targetNodeLabels"`

	// RefreshSchedule is a standard 5-field cron expression. When unset the
	// fleet is refreshed once, starting as soon as the object is created.
	// +optional
	RefreshSchedule string `json:"refreshSchedule,omitempty"`

	// MaxPodsToMoveAtOnce bounds in-flight evictions per node.
	// +kubebuilder:validation:Minimum=1
	// +optional
	MaxPodsToMoveAtOnce int32 `json:"maxPodsToMoveAtOnce,omitempty"`

	// GracePeriodSeconds is passed through to every eviction request. Zero
	// requests immediate eviction, so the field is a pointer to keep an
	// explicit zero distinct from unset.
	// +kubebuilder:validation:Minimum=0
	// +optional
	GracePeriodSeconds *int32 `json:"gracePeriodSeconds,omitempty"`

	// MinHealthThreshold is the minimum acceptable cluster-wide running-pod
	// percentage (0-100) for the drain/validate gate to pass. Zero disables
	// the gate, so the field is a pointer to keep an explicit zero distinct
	// from unset.
	// +kubebuilder:validation:Minimum=0
	// +kubebuilder:validation:Maximum=100
	// +optional
	MinHealthThreshold *int32 `json:"minHealthThreshold,omitempty"`
}

// WithDefaults returns a copy of the spec with omitted optional fields
// filled in. There is no defaulting webhook; the reconciler applies these
// in-memory so the defaults hold regardless of how the CRD was installed.
// Explicitly-set zeroes survive: gracePeriodSeconds 0 means immediate
// eviction and minHealthThreshold 0 disables the health gate.
func (s NodeRefreshSpec) WithDefaults() NodeRefreshSpec {
	out := s
	if out.MaxPodsToMoveAtOnce <= 0 {
		out.MaxPodsToMoveAtOnce = DefaultMaxPodsToMoveAtOnce
	}
	if out.GracePeriodSeconds == nil {
		out.GracePeriodSeconds = ptr.To[int32](DefaultGracePeriodSeconds)
	}
	if out.MinHealthThreshold == nil {
		out.MinHealthThreshold = ptr.To[int32](DefaultMinHealthThreshold)
	}
	return out
}

// Condition is a single bounded status entry, appended exactly once per
// phase transition.
type Condition struct {
	Type               string      `json:"type"`
	Status             string      `json:"status"`
	LastTransitionTime metav1.Time `json:"lastTransitionTime"`
	Reason             string      `json:"reason,omitempty"`
	Message            string      `json:"message,omitempty"`
}

// NodeRefreshStatus is the authoritative, crash-safe progress record. The
// reconciler holds no unpersisted state across invocations; every field here
// must be recoverable from the object alone.
type NodeRefreshStatus struct {
	// +optional
	Phase Phase `json:"phase,omitempty"`
	// +optional
	CurrentNode string `json:"currentNode,omitempty"`
	// +optional
	TotalNodes int32 `json:"totalNodes,omitempty"`
	// +optional
	NodesRefreshed []string `json:"nodesRefreshed,omitempty"`
	// +optional
	PodsMovedSuccessfully int32 `json:"podsMovedSuccessfully,omitempty"`
	// +optional
	PodsMovesFailed int32 `json:"podsMovesFailed,omitempty"`
	// +optional
	RetryCount int32 `json:"retryCount,omitempty"`
	// +optional
	LastRefreshTime *metav1.Time `json:"lastRefreshTime,omitempty"`
	// +optional
	NextRefreshTime *metav1.Time `json:"nextRefreshTime,omitempty"`
	// +optional
	Message string `json:"message,omitempty"`
	// +optional
	Conditions []Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:path=noderefreshes,scope=Cluster,shortName=nr
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Current Node",type=string,JSONPath=".status.currentNode"
// +kubebuilder:printcolumn:name="Total Nodes",type=integer,JSONPath=".status.totalNodes"
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=".metadata.creationTimestamp"

// NodeRefresh declares the intent to cycle a label-selected fleet of nodes
// one at a time with zero-downtime eviction.
type NodeRefresh struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   NodeRefreshSpec   `json:"spec,omitempty"`
	Status NodeRefreshStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// NodeRefreshList contains a list of NodeRefresh.
type NodeRefreshList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []NodeRefresh `json:"items"`
}
