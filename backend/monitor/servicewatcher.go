package monitor

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/klog/v2"
)

// ServiceWatcher follows a single named service and keeps a PodWatcher
// running for the service's current pod selector.
type ServiceWatcher struct {
	deps        *watchDeps
	namespace   string
	serviceName string
	updated     *atomic.Uint64
	cancel      context.CancelFunc
	done        chan struct{}

	mu         sync.Mutex
	podWatcher *PodWatcher
}

// newServiceWatcher starts watching (namespace, serviceName). The watch
// goroutine lives until abort or parent context cancellation.
func newServiceWatcher(ctx context.Context, deps *watchDeps, namespace, serviceName string, updated *atomic.Uint64) *ServiceWatcher {
	w := &ServiceWatcher{
		deps:        deps,
		namespace:   namespace,
		serviceName: serviceName,
		updated:     updated,
		done:        make(chan struct{}),
	}
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go func() {
		defer close(w.done)
		w.run(watchCtx)
	}()
	return w
}

// ServiceName returns the name of the watched service.
func (w *ServiceWatcher) ServiceName() string {
	return w.serviceName
}

// Namespace returns the namespace of the watched service.
func (w *ServiceWatcher) Namespace() string {
	return w.namespace
}

func (w *ServiceWatcher) run(ctx context.Context) {
	fieldSelector := "metadata.name=" + w.serviceName
	services := w.deps.client.CoreV1().Services(w.namespace)
	src := listWatchSource[*corev1.Service]{
		list: func(ctx context.Context) ([]*corev1.Service, string, error) {
			list, err := services.List(ctx, metav1.ListOptions{FieldSelector: fieldSelector})
			if err != nil {
				return nil, "", err
			}
			items := make([]*corev1.Service, 0, len(list.Items))
			for i := range list.Items {
				items = append(items, &list.Items[i])
			}
			return items, list.ResourceVersion, nil
		},
		watch: func(ctx context.Context, resourceVersion string) (watch.Interface, error) {
			return services.Watch(ctx, metav1.ListOptions{FieldSelector: fieldSelector, ResourceVersion: resourceVersion})
		},
	}
	err := runListWatch(ctx, src, func(ev event[*corev1.Service]) error {
		if ev.kind != eventApplied {
			return nil
		}
		w.deps.metrics.observeEvent("services")
		w.handleService(ctx, ev.object)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		w.deps.metrics.observeFailure("services")
		klog.Warningf("Canceling monitoring of service %s/%s due to error: %v", w.namespace, w.serviceName, err)
	}
}

// handleService reconciles the PodWatcher against the service's current pod
// selector.
func (w *ServiceWatcher) handleService(ctx context.Context, service *corev1.Service) {
	if service.Name != w.serviceName {
		return
	}
	if service.Spec.Selector == nil {
		klog.Warningf("Service %s/%s carries no pod selector; keeping previous pod watch", w.namespace, w.serviceName)
		return
	}
	selector := renderSelector(service.Spec.Selector)

	w.mu.Lock()
	if w.podWatcher != nil && w.podWatcher.Selector() == selector {
		w.mu.Unlock()
		return
	}
	old := w.podWatcher
	w.podWatcher = newPodWatcher(ctx, w.deps, w.namespace, selector, w.updated)
	w.mu.Unlock()

	if old != nil {
		old.abort()
	}
	klog.Infof("New service label selector %q for svc/%s", selector, w.serviceName)
	w.updated.Store(w.deps.nowMillis())
}

// abort stops the service watch goroutine and the held PodWatcher.
func (w *ServiceWatcher) abort() {
	w.cancel()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.podWatcher != nil {
		w.podWatcher.abort()
	}
}

// renderSelector flattens a selector map into the canonical
// "k1=v1,k2=v2" form, with keys sorted for a deterministic rendering.
func renderSelector(selector map[string]string) string {
	keys := make([]string, 0, len(selector))
	for key := range selector {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(selector[key])
	}
	return b.String()
}
