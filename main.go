package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/microfe-scout/app/backend/internal/config"
	"github.com/microfe-scout/app/backend/monitor"
	"github.com/microfe-scout/app/backend/restapi"
)

const shutdownTimeout = 5 * time.Second

// Build metadata injected by the magefile.
var (
	buildVersion = "dev"
	buildCommit  = ""
	buildTime    = ""
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if err := runApp(); err != nil {
		klog.Errorf("Exit with error: %v", err)
		klog.Flush()
		os.Exit(1)
	}
}

func runApp() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	workers := cfg.Limits.Parallelism()
	runtime.GOMAXPROCS(workers)
	klog.Infof("Starting %s %s (commit %q, built %q) with %d worker(s)",
		cfg.AppNameLowercase(), buildVersion, buildCommit, buildTime, workers)
	if raw, err := json.Marshal(cfg); err == nil {
		klog.Infof("Running with configuration: %s", raw)
	}

	client, defaultNamespace, err := buildClient()
	if err != nil {
		return err
	}
	// Quick check that the ambient context actually reaches a cluster.
	version, err := client.Discovery().ServerVersion()
	if err != nil {
		return fmt.Errorf("failed to access the Kubernetes API, is this container deployed? %w", err)
	}
	klog.Infof("Kubernetes API version: %s", version.GitVersion)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mon := monitor.New(client, clock.RealClock{}, monitor.NewMetrics(registry), monitor.Options{
		LabelSelector:    cfg.Ingress.Labels,
		AnnotationPrefix: cfg.Ingress.AnnotationPrefix,
		Namespaces:       cfg.Ingress.NamespaceList(),
		DefaultNamespace: defaultNamespace,
		SweepInterval:    cfg.Monitor.SweepInterval,
	})

	api := restapi.NewServer(mon, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux := http.NewServeMux()
	api.Register(mux)
	server := &http.Server{Addr: cfg.API.ListenAddr(), Handler: mux}

	configPath := config.FilePath(cfg.AppNameLowercase())
	fileWatcher, err := config.NewFileWatcher(configPath, func(path string) {
		klog.Infof("Configuration file %s changed; restart to apply it", path)
	})
	if err != nil {
		klog.V(2).Infof("Configuration file watcher unavailable: %v", err)
	} else {
		defer func() { _ = fileWatcher.Close() }()
	}

	var g run.Group
	g.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))
	{
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			return mon.Run(ctx)
		}, func(error) {
			cancel()
		})
	}
	g.Add(func() error {
		klog.Infof("Serving API on http://%s", server.Addr)
		return server.ListenAndServe()
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(ctx)
	})

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		klog.Infof("Received %s, exiting gracefully", sigErr.Signal)
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildClient constructs a clientset from the ambient context: in-cluster
// configuration when deployed, the default kubeconfig loading rules
// otherwise. The returned namespace is the context's default.
func buildClient() (kubernetes.Interface, string, error) {
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		clientcmd.NewDefaultClientConfigLoadingRules(),
		&clientcmd.ConfigOverrides{},
	)
	restConfig, err := clientConfig.ClientConfig()
	if err != nil {
		return nil, "", fmt.Errorf("building client configuration: %w", err)
	}
	namespace, _, err := clientConfig.Namespace()
	if err != nil {
		return nil, "", fmt.Errorf("resolving context namespace: %w", err)
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, "", fmt.Errorf("building Kubernetes client: %w", err)
	}
	return client, namespace, nil
}
