package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/klog/v2"
)

// PodWatcher follows the pods behind one selector and records the distinct
// owner references it has seen. A previously unknown owner usually means a
// new replica set, which is the earliest signal of a rollout, so its
// appearance bumps the shared updated timestamp.
type PodWatcher struct {
	deps      *watchDeps
	namespace string
	selector  string
	matcher   labels.Selector
	updated   *atomic.Uint64
	cancel    context.CancelFunc
	done      chan struct{}

	mu        sync.Mutex
	ownerRefs map[string]uint64
}

// newPodWatcher starts the watch and sweep goroutines for
// (namespace, selector). Both live until abort or parent cancellation.
func newPodWatcher(ctx context.Context, deps *watchDeps, namespace, selector string, updated *atomic.Uint64) *PodWatcher {
	matcher, err := labels.Parse(selector)
	if err != nil {
		klog.Warningf("Unparseable pod selector %q: %v", selector, err)
		matcher = labels.Nothing()
	}
	p := &PodWatcher{
		deps:      deps,
		namespace: namespace,
		selector:  selector,
		matcher:   matcher,
		updated:   updated,
		ownerRefs: make(map[string]uint64),
		done:      make(chan struct{}),
	}
	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go func() {
		defer close(p.done)
		p.runWatch(watchCtx)
	}()
	go p.runSweep(watchCtx)
	return p
}

// Selector returns the selector string this watcher was built for.
func (p *PodWatcher) Selector() string {
	return p.selector
}

func (p *PodWatcher) runWatch(ctx context.Context) {
	pods := p.deps.client.CoreV1().Pods(p.namespace)
	src := listWatchSource[*corev1.Pod]{
		list: func(ctx context.Context) ([]*corev1.Pod, string, error) {
			list, err := pods.List(ctx, metav1.ListOptions{LabelSelector: p.selector})
			if err != nil {
				return nil, "", err
			}
			items := make([]*corev1.Pod, 0, len(list.Items))
			for i := range list.Items {
				items = append(items, &list.Items[i])
			}
			return items, list.ResourceVersion, nil
		},
		watch: func(ctx context.Context, resourceVersion string) (watch.Interface, error) {
			return pods.Watch(ctx, metav1.ListOptions{LabelSelector: p.selector, ResourceVersion: resourceVersion})
		},
	}
	err := runListWatch(ctx, src, func(ev event[*corev1.Pod]) error {
		if ev.kind != eventApplied {
			return nil
		}
		p.deps.metrics.observeEvent("pods")
		p.handlePod(ev.object)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		p.deps.metrics.observeFailure("pods")
		klog.Warningf("Canceling monitoring of pods with selector %q in %q due to error: %v", p.selector, p.namespace, err)
	}
}

// handlePod records owner references that have not been seen before.
func (p *PodWatcher) handlePod(pod *corev1.Pod) {
	if pod.Status.Phase != "" {
		klog.V(4).Infof("pod/%s has status.phase %s", pod.Name, pod.Status.Phase)
	}
	if !p.matcher.Matches(labels.Set(pod.Labels)) {
		return
	}
	changed := false
	now := p.deps.nowSeconds()
	p.mu.Lock()
	for _, ref := range pod.OwnerReferences {
		key := ownerKey(ref)
		if _, ok := p.ownerRefs[key]; !ok {
			p.ownerRefs[key] = now
			changed = true
			klog.Infof("New owner %q detected for pod/%s", key, pod.Name)
		}
	}
	p.mu.Unlock()
	if changed {
		p.updated.Store(p.deps.nowMillis())
	}
}

// runSweep periodically drops owners that no current pod references
// anymore. An immediate pass runs at start, then one per sweep interval.
func (p *PodWatcher) runSweep(ctx context.Context) {
	interval := p.deps.sweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		p.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// sweep refreshes the last-seen timestamp of every owner still referenced
// by a listed pod, then removes the owners that were not refreshed.
func (p *PodWatcher) sweep(ctx context.Context) {
	now := p.deps.nowSeconds()
	list, err := p.deps.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{LabelSelector: p.selector})
	if err != nil {
		if ctx.Err() == nil {
			klog.Warningf("Pod sweep failed in namespace %q: %v", p.namespace, err)
		}
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range list.Items {
		pod := &list.Items[i]
		if !p.matcher.Matches(labels.Set(pod.Labels)) {
			continue
		}
		for _, ref := range pod.OwnerReferences {
			key := ownerKey(ref)
			if _, ok := p.ownerRefs[key]; ok {
				p.ownerRefs[key] = now
			}
		}
	}
	for key, lastSeen := range p.ownerRefs {
		if lastSeen < now {
			delete(p.ownerRefs, key)
			klog.Infof("Removing owner %q that is no longer referenced by any pod", key)
		}
	}
}

// ownerCount returns the number of distinct owners currently tracked.
func (p *PodWatcher) ownerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ownerRefs)
}

// abort stops both background goroutines.
func (p *PodWatcher) abort() {
	p.cancel()
}

func ownerKey(ref metav1.OwnerReference) string {
	return ref.Kind + "/" + ref.Name
}
