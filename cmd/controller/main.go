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

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/client-go/rest"
	"k8s.io/klog/v2"
	controllerruntime "sigs.k8s.io/controller-runtime"

	"github.com/sridhargude/node-refresh-operator/internal/operator"
)

func main() {
	opts := operator.DefaultOptions()
	devel := false
	kubeClientQPS := float64(opts.KubeClientQPS)

	flag.StringVar(&opts.MetricsBindAddress, "metrics-bind-address", opts.MetricsBindAddress, "The address the metric endpoint binds to.")
	flag.StringVar(&opts.HealthProbeBindAddress, "health-probe-bind-address", opts.HealthProbeBindAddress, "The address the health probe endpoint binds to.")
	flag.BoolVar(&opts.LeaderElection, "leader-elect", opts.LeaderElection, "Enable leader election for controller manager.")
	flag.Float64Var(&kubeClientQPS, "kube-client-qps", kubeClientQPS, "The smoothed rate of qps to the kube-apiserver.")
	flag.IntVar(&opts.KubeClientBurst, "kube-client-burst", opts.KubeClientBurst, "The maximum allowed burst of queries to the kube-apiserver.")
	flag.BoolVar(&devel, "zap-devel", devel, "Enable development-mode logging (console encoder, debug level).")
	flag.Parse()
	opts.KubeClientQPS = float32(kubeClientQPS)

	logger := zapr.NewLogger(newZapLogger(devel))
	controllerruntime.SetLogger(logger)
	// Route client-go's own logging through the same sink.
	klog.SetLogger(logger)
	log := controllerruntime.Log.WithName("setup")

	// In-cluster credentials first; outside a cluster fall back to
	// controller-runtime's kubeconfig discovery.
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		restConfig, err = controllerruntime.GetConfig()
	}
	if err != nil {
		log.Error(err, "unable to load kubeconfig")
		os.Exit(1)
	}

	mgr, err := operator.NewManager(restConfig, opts)
	if err != nil {
		log.Error(err, "unable to start manager")
		os.Exit(1)
	}

	if err := operator.SetupReconciler(mgr); err != nil {
		log.Error(err, "unable to create controller", "controller", "NodeRefresh")
		os.Exit(1)
	}

	log.Info("starting manager")
	if err := mgr.Start(controllerruntime.SetupSignalHandler()); err != nil {
		log.Error(err, "problem running manager")
		os.Exit(1)
	}
}

func newZapLogger(devel bool) *zap.Logger {
	var cfg zap.Config
	if devel {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("constructing zap logger: %v", err))
	}
	return logger
}
