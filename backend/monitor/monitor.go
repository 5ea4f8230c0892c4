package monitor

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	networkingclient "k8s.io/client-go/kubernetes/typed/networking/v1"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"golang.org/x/sync/errgroup"
)

// Options configures a Monitor.
type Options struct {
	// LabelSelector filters the ingresses that advertise entrypoints,
	// as comma separated key=value pairs.
	LabelSelector string
	// AnnotationPrefix selects the ingress annotations exposed to API
	// clients; the prefix is stripped from the published keys.
	AnnotationPrefix string
	// Namespaces to monitor. Empty means DefaultNamespace only.
	Namespaces []string
	// DefaultNamespace is the ambient client context namespace.
	DefaultNamespace string
	// SweepInterval is the cadence of the pod owner reconciliation pass.
	SweepInterval time.Duration
}

// Monitor watches the configured namespaces for labeled ingresses and
// maintains the catalog of host+path entrypoints they expose. Each catalog
// entry owns a ServiceWatcher which in turn owns a PodWatcher, so a change
// anywhere in the chain surfaces in the entry's updated timestamp.
type Monitor struct {
	opts    Options
	deps    *watchDeps
	catalog *Catalog
	ready   atomic.Bool

	mu       sync.Mutex
	ruleKeys map[string]map[string]struct{}
}

// New returns a monitor using client for all watches. Metrics may be nil.
func New(client kubernetes.Interface, clk clock.PassiveClock, metrics *Metrics, opts Options) *Monitor {
	if opts.DefaultNamespace == "" {
		opts.DefaultNamespace = metav1.NamespaceDefault
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	return &Monitor{
		opts: opts,
		deps: &watchDeps{
			client:        client,
			clock:         clk,
			metrics:       metrics,
			sweepInterval: opts.SweepInterval,
		},
		catalog:  NewCatalog(),
		ruleKeys: make(map[string]map[string]struct{}),
	}
}

// Catalog returns the monitor's catalog.
func (m *Monitor) Catalog() *Catalog {
	return m.catalog
}

// Run watches every configured namespace until ctx is cancelled. A
// namespace whose watch fails is abandoned without affecting the others;
// Run keeps blocking so partial availability survives single-namespace
// lockouts.
func (m *Monitor) Run(ctx context.Context) error {
	namespaces := m.opts.Namespaces
	if len(namespaces) == 0 {
		namespaces = []string{m.opts.DefaultNamespace}
	}
	group, groupCtx := errgroup.WithContext(ctx)
	for _, namespace := range namespaces {
		group.Go(func() error {
			m.watchNamespace(groupCtx, namespace)
			return nil
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		return groupCtx.Err()
	})
	return group.Wait()
}

// IsStarted reports whether the first namespace finished its initial list.
func (m *Monitor) IsStarted() bool {
	return m.ready.Load()
}

// IsReady reports readiness. Started and ready are the same signal: there
// is no startup phase distinct from readiness.
func (m *Monitor) IsReady() bool {
	return m.ready.Load()
}

// IsLive always reports true. A namespace owner losing RBAC must not be
// able to trigger whole-pod restarts through the liveness probe.
func (m *Monitor) IsLive() bool {
	return true
}

// GetAll returns a snapshot of every known entrypoint, ordered by host+path.
func (m *Monitor) GetAll() []EntrySnapshot {
	entries := m.catalog.Snapshot()
	out := make([]EntrySnapshot, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Snapshot())
	}
	return out
}

// watchNamespace lists the labeled ingresses of one namespace, flips the
// ready flag, then follows the watch stream. Any upstream error abandons
// the namespace until process restart.
func (m *Monitor) watchNamespace(ctx context.Context, namespace string) {
	api := m.deps.client.NetworkingV1().Ingresses(namespace)
	listOpts := metav1.ListOptions{LabelSelector: m.opts.LabelSelector}

	list, err := api.List(ctx, listOpts)
	if err != nil {
		m.deps.metrics.observeFailure("ingresses")
		klog.Warningf("Canceling monitoring of namespace %q due to error: %v", namespace, err)
		return
	}
	for i := range list.Items {
		m.upsert(ctx, &list.Items[i], namespace)
	}
	m.ready.Store(true)

	resourceVersion := list.ResourceVersion
	for {
		w, err := api.Watch(ctx, metav1.ListOptions{LabelSelector: m.opts.LabelSelector, ResourceVersion: resourceVersion})
		if err != nil {
			if ctx.Err() == nil {
				m.deps.metrics.observeFailure("ingresses")
				klog.Warningf("Canceling monitoring of namespace %q due to error: %v", namespace, err)
			}
			return
		}
		clean, err := m.pumpIngressEvents(ctx, api, namespace, w)
		if err != nil {
			if ctx.Err() == nil {
				m.deps.metrics.observeFailure("ingresses")
				klog.Warningf("Canceling monitoring of namespace %q due to error: %v", namespace, err)
			}
			return
		}
		if !clean || ctx.Err() != nil {
			return
		}
		// The server closed the watch cleanly. Entries created while the
		// stream was down are picked up by later Applied events; entries
		// deleted in that window leak until their next explicit delete.
		list, err = api.List(ctx, listOpts)
		if err != nil {
			if ctx.Err() == nil {
				klog.Warningf("Canceling monitoring of namespace %q due to error: %v", namespace, err)
			}
			return
		}
		resourceVersion = list.ResourceVersion
		klog.V(2).Infof("Ingress watch restarted for namespace %q", namespace)
	}
}

// pumpIngressEvents drains one ingress watch connection. clean reports a
// server-side close without error.
func (m *Monitor) pumpIngressEvents(ctx context.Context, api networkingclient.IngressInterface, namespace string, w watch.Interface) (clean bool, err error) {
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, nil
		case ev, ok := <-w.ResultChan():
			if !ok {
				return true, nil
			}
			m.deps.metrics.observeEvent("ingresses")
			switch ev.Type {
			case watch.Added, watch.Modified:
				ingress, ok := ev.Object.(*networkingv1.Ingress)
				if !ok {
					continue
				}
				// A label edit can stop the ingress from matching while the
				// event is still delivered on this stream, so confirm the
				// object is still in the filtered set before upserting.
				matches, err := m.stillMatches(ctx, api, ingress)
				if err != nil {
					return false, err
				}
				if matches {
					m.upsert(ctx, ingress, namespace)
				} else {
					klog.Infof("Labels of ingress %q no longer match: %v", ingress.Name, ingress.Labels)
					m.remove(ingress, namespace)
				}
			case watch.Deleted:
				ingress, ok := ev.Object.(*networkingv1.Ingress)
				if !ok {
					continue
				}
				m.remove(ingress, namespace)
			case watch.Bookmark:
			case watch.Error:
				return false, apierrors.FromObject(ev.Object)
			}
		}
	}
}

// stillMatches re-lists the filtered ingress set and reports whether the
// ingress is still part of it.
func (m *Monitor) stillMatches(ctx context.Context, api networkingclient.IngressInterface, ingress *networkingv1.Ingress) (bool, error) {
	list, err := api.List(ctx, metav1.ListOptions{LabelSelector: m.opts.LabelSelector})
	if err != nil {
		return false, err
	}
	for i := range list.Items {
		if list.Items[i].Name == ingress.Name {
			return true, nil
		}
	}
	return false, nil
}

// upsert creates or refreshes the catalog entry of every host+path pair
// the ingress carries, and drops the pairs an earlier version of the same
// ingress advertised but the current one no longer does.
func (m *Monitor) upsert(ctx context.Context, ingress *networkingv1.Ingress, namespace string) {
	filtered := filterAnnotations(ingress.Annotations, m.opts.AnnotationPrefix)
	seen := make(map[string]struct{})
	for _, rule := range ingress.Spec.Rules {
		if rule.HTTP == nil {
			continue
		}
		for _, path := range rule.HTTP.Paths {
			backend := path.Backend.Service
			if backend == nil {
				klog.Warningf("Ingress %q path %q has no service backend; skipping", ingress.Name, path.Path)
				continue
			}
			key := entryKey(rule.Host, path.Path)
			seen[key] = struct{}{}
			entry := m.catalog.Get(key)
			if entry == nil {
				klog.Infof("New labeled ingress path %q in ns/%s -> svc/%s", key, namespace, backend.Name)
				fresh := newEntry(ctx, m.deps, namespace, rule.Host, path.Path, backend.Name)
				installed, inserted := m.catalog.InsertIfAbsent(key, fresh)
				if !inserted {
					fresh.abort()
				}
				entry = installed
				m.deps.metrics.setEntries(m.catalog.Len())
			}
			entry.UpdateServiceName(ctx, backend.Name)
			entry.UpdateAnnotations(filtered)
		}
	}
	m.reconcileRuleKeys(ingress, namespace, seen)
}

// reconcileRuleKeys records which catalog keys this ingress currently
// advertises and removes the ones it dropped.
func (m *Monitor) reconcileRuleKeys(ingress *networkingv1.Ingress, namespace string, seen map[string]struct{}) {
	ruleID := namespace + "/" + ingress.Name
	var stale []string
	m.mu.Lock()
	for key := range m.ruleKeys[ruleID] {
		if _, ok := seen[key]; !ok {
			stale = append(stale, key)
		}
	}
	m.ruleKeys[ruleID] = seen
	m.mu.Unlock()
	for _, key := range stale {
		m.dropKey(key, namespace)
	}
}

// remove drops every host+path pair of the ingress from the catalog.
func (m *Monitor) remove(ingress *networkingv1.Ingress, namespace string) {
	ruleID := namespace + "/" + ingress.Name
	keys := make(map[string]struct{})
	m.mu.Lock()
	for key := range m.ruleKeys[ruleID] {
		keys[key] = struct{}{}
	}
	delete(m.ruleKeys, ruleID)
	m.mu.Unlock()
	for _, rule := range ingress.Spec.Rules {
		if rule.HTTP == nil {
			continue
		}
		for _, path := range rule.HTTP.Paths {
			keys[entryKey(rule.Host, path.Path)] = struct{}{}
		}
	}
	for key := range keys {
		m.dropKey(key, namespace)
	}
}

func (m *Monitor) dropKey(key, namespace string) {
	entry := m.catalog.Remove(key)
	if entry == nil {
		return
	}
	entry.abort()
	m.deps.metrics.setEntries(m.catalog.Len())
	klog.Infof("Ingress path %q in ns/%s was deleted", key, namespace)
}

// filterAnnotations keeps the annotations whose key begins with prefix and
// strips that single leading occurrence.
func filterAnnotations(annotations map[string]string, prefix string) map[string]string {
	out := make(map[string]string)
	for key, value := range annotations {
		if strings.HasPrefix(key, prefix) {
			out[strings.TrimPrefix(key, prefix)] = value
		}
	}
	return out
}
