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

package eviction

import (
	"github.com/samber/lo"
	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
)

// pdbLimits is the in-memory snapshot of a namespace's PodDisruptionBudgets
// used to decide admission for a single eviction attempt.
type pdbLimits []pdbItem

type pdbItem struct {
	selector           labels.Selector
	disruptionsAllowed int32
}

func newPDBLimits(pdbs []policyv1.PodDisruptionBudget) pdbLimits {
	return lo.FilterMap(pdbs, func(pdb policyv1.PodDisruptionBudget, _ int) (pdbItem, bool) {
		selector, err := metav1.LabelSelectorAsSelector(pdb.Spec.Selector)
		if err != nil {
			return pdbItem{}, false
		}
		return pdbItem{selector: selector, disruptionsAllowed: pdb.Status.DisruptionsAllowed}, true
	})
}

// admits reports whether every PDB matching pod's labels currently allows at
// least one disruption. Absence of a matching PDB admits by default.
func (l pdbLimits) admits(pod *corev1.Pod) bool {
	for _, item := range l {
		if item.selector.Matches(labels.Set(pod.Labels)) && item.disruptionsAllowed <= 0 {
			return false
		}
	}
	return true
}
