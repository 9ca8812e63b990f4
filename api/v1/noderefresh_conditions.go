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

import metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

// AppendCondition appends a condition entry and truncates to the last
// MaxConditions, retaining append order. Conditions are an append-only
// transition log rather than one entry per condition type, so this is a
// plain bounded append rather than an upsert-by-type.
func (s *NodeRefreshStatus) AppendCondition(transitionTime metav1.Time, reason, message string) {
	cond := Condition{
		Type:               string(s.Phase),
		Status:             "True",
		LastTransitionTime: transitionTime,
		Reason:             reason,
		Message:            message,
	}
	s.Conditions = append(s.Conditions, cond)
	if len(s.Conditions) > MaxConditions {
		s.Conditions = s.Conditions[len(s.Conditions)-MaxConditions:]
	}
}
