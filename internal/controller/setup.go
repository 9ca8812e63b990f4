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

package controller

import (
	"time"

	"golang.org/x/time/rate"
	"k8s.io/client-go/util/workqueue"
	controllerruntime "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	nrv1 "github.com/sridhargude/node-refresh-operator/api/v1"
)

const (
	rateLimiterBaseDelay = 100 * time.Millisecond
	rateLimiterMaxDelay  = 10 * time.Second
	bucketQPS            = 10
	bucketSize           = 100
)

// SetupWithManager registers the Reconciler against NodeRefresh objects.
// Every NodeRefresh name is a single work item; controller-runtime's
// workqueue already guarantees single-writer-per-object reconciles, so no
// additional sequencing is needed here.
func (r *Reconciler) SetupWithManager(m manager.Manager) error {
	return controllerruntime.NewControllerManagedBy(m).
		Named("noderefresh").
		For(&nrv1.NodeRefresh{}).
		WithOptions(controller.Options{
			RateLimiter: workqueue.NewTypedMaxOfRateLimiter[reconcile.Request](
				workqueue.NewTypedItemExponentialFailureRateLimiter[reconcile.Request](rateLimiterBaseDelay, rateLimiterMaxDelay),
				&workqueue.TypedBucketRateLimiter[reconcile.Request]{Limiter: rate.NewLimiter(bucketQPS, bucketSize)},
			),
			MaxConcurrentReconciles: 8,
		}).
		Complete(r)
}
