package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/microfe-scout/app/backend/internal/timeutil"
)

// watchDeps bundles the collaborators every watcher layer needs. One value
// is shared by the monitor and all entries it creates.
type watchDeps struct {
	client        kubernetes.Interface
	clock         clock.PassiveClock
	metrics       *Metrics
	sweepInterval time.Duration
}

func (d *watchDeps) nowMillis() uint64 {
	return timeutil.EpochMillis(d.clock)
}

func (d *watchDeps) nowSeconds() uint64 {
	return timeutil.EpochSeconds(d.clock)
}

// EntrySnapshot is the wire representation of one catalog entry.
type EntrySnapshot struct {
	HostPath    string            `json:"host_path"`
	Updated     uint64            `json:"updated"`
	Annotations map[string]string `json:"annotations"`
}

// Entry is the catalog record for one host+path advertisement. The updated
// timestamp handle is shared with the service and pod watchers underneath
// it, so any layer can signal a meaningful change without referencing its
// parent.
type Entry struct {
	host string
	path string

	deps      *watchDeps
	namespace string

	updated     *atomic.Uint64
	annotations atomic.Pointer[map[string]string]

	mu             sync.Mutex
	serviceWatcher *ServiceWatcher
}

// entryKey returns the catalog identifier for a host and path.
func entryKey(host, path string) string {
	return host + path
}

// newEntry creates an entry with a running ServiceWatcher for serviceName.
func newEntry(ctx context.Context, deps *watchDeps, namespace, host, path, serviceName string) *Entry {
	updated := &atomic.Uint64{}
	e := &Entry{
		host:      host,
		path:      path,
		deps:      deps,
		namespace: namespace,
		updated:   updated,
	}
	empty := map[string]string{}
	e.annotations.Store(&empty)
	e.serviceWatcher = newServiceWatcher(ctx, deps, namespace, serviceName, updated)
	return e
}

// HostPath returns the concatenated hostname and path.
func (e *Entry) HostPath() string {
	return entryKey(e.host, e.path)
}

// UpdatedMillis returns the timestamp of the last meaningful change to this
// entry, its service or the ownership of the pods behind it.
func (e *Entry) UpdatedMillis() uint64 {
	return e.updated.Load()
}

// Annotations returns a copy of the entry's filtered annotations.
func (e *Entry) Annotations() map[string]string {
	current := *e.annotations.Load()
	out := make(map[string]string, len(current))
	for k, v := range current {
		out[k] = v
	}
	return out
}

// Snapshot renders the entry for API consumption.
func (e *Entry) Snapshot() EntrySnapshot {
	return EntrySnapshot{
		HostPath:    e.HostPath(),
		Updated:     e.UpdatedMillis(),
		Annotations: e.Annotations(),
	}
}

// UpdateServiceName swaps the ServiceWatcher when the ingress now maps this
// host+path to a different backend service. The slot never becomes empty:
// the replacement is installed in the same critical section that retires
// the old watcher.
func (e *Entry) UpdateServiceName(ctx context.Context, serviceName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	current := e.serviceWatcher
	if current.ServiceName() == serviceName {
		return
	}
	klog.Infof("Service for ingress path %q changes from %q to %q", e.HostPath(), current.ServiceName(), serviceName)
	current.abort()
	e.serviceWatcher = newServiceWatcher(ctx, e.deps, e.namespace, serviceName, e.updated)
	e.updated.Store(e.deps.nowMillis())
}

// UpdateAnnotations replaces the stored annotation set when it differs from
// filtered. The map is swapped by reference so readers observe either the
// previous or the new set, never a partially cleared one.
func (e *Entry) UpdateAnnotations(filtered map[string]string) {
	current := *e.annotations.Load()
	if !annotationsDiffer(current, filtered) {
		return
	}
	next := make(map[string]string, len(filtered))
	for k, v := range filtered {
		next[k] = v
	}
	klog.Infof("Prefixed annotations for %q changed to %v", e.HostPath(), next)
	e.annotations.Store(&next)
	e.updated.Store(e.deps.nowMillis())
}

func annotationsDiffer(current, next map[string]string) bool {
	if len(current) != len(next) {
		return true
	}
	for k, v := range next {
		if old, ok := current[k]; !ok || old != v {
			return true
		}
	}
	return false
}

// abort stops the entry's ServiceWatcher and, transitively, its PodWatcher.
func (e *Entry) abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.serviceWatcher.abort()
}
