package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes/fake"
)

func TestEntryAnnotationRoundTrip(t *testing.T) {
	clk := newTestClock()
	deps := newTestDeps(fake.NewClientset(), clk)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := newEntry(ctx, deps, testNamespace, "a.example", "/app", "svc-a")
	defer e.abort()

	source := map[string]string{
		"microfe/team":  "finance",
		"microfe/owner": "web",
		"other":         "x",
	}
	e.UpdateAnnotations(filterAnnotations(source, "microfe/"))
	require.Equal(t, map[string]string{"team": "finance", "owner": "web"}, e.Annotations())
}

func TestEntryAnnotationUpdateOnlyBumpsOnChange(t *testing.T) {
	clk := newTestClock()
	deps := newTestDeps(fake.NewClientset(), clk)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := newEntry(ctx, deps, testNamespace, "a.example", "/app", "svc-a")
	defer e.abort()
	require.Zero(t, e.UpdatedMillis())

	e.UpdateAnnotations(map[string]string{"team": "finance"})
	first := e.UpdatedMillis()
	require.NotZero(t, first)

	advance(clk, time.Second)
	e.UpdateAnnotations(map[string]string{"team": "finance"})
	require.Equal(t, first, e.UpdatedMillis())

	advance(clk, time.Second)
	e.UpdateAnnotations(map[string]string{"team": "retail"})
	require.Greater(t, e.UpdatedMillis(), first)
}

func TestEntryAnnotationSnapshotIsACopy(t *testing.T) {
	clk := newTestClock()
	deps := newTestDeps(fake.NewClientset(), clk)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := newEntry(ctx, deps, testNamespace, "a.example", "/app", "svc-a")
	defer e.abort()

	e.UpdateAnnotations(map[string]string{"team": "finance"})
	snapshot := e.Annotations()
	snapshot["team"] = "mutated"
	require.Equal(t, map[string]string{"team": "finance"}, e.Annotations())
}

func TestEntryUpdateServiceNameSwapsWatcher(t *testing.T) {
	clk := newTestClock()
	deps := newTestDeps(fake.NewClientset(), clk)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := newEntry(ctx, deps, testNamespace, "a.example", "/app", "svc-a")
	defer e.abort()
	old := e.currentServiceWatcher()

	// Same name: no replacement, no bump.
	e.UpdateServiceName(ctx, "svc-a")
	require.Same(t, old, e.currentServiceWatcher())
	require.Zero(t, e.UpdatedMillis())

	advance(clk, time.Second)
	e.UpdateServiceName(ctx, "svc-b")
	replacement := e.currentServiceWatcher()
	require.NotSame(t, old, replacement)
	require.Equal(t, "svc-b", replacement.ServiceName())
	require.Equal(t, testNamespace, replacement.Namespace())
	require.NotZero(t, e.UpdatedMillis())
	require.Eventually(t, func() bool { return isDone(old.done) }, waitFor, tick)
}

func TestEntrySnapshot(t *testing.T) {
	clk := newTestClock()
	deps := newTestDeps(fake.NewClientset(), clk)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := newEntry(ctx, deps, testNamespace, "a.example", "/app", "svc-a")
	defer e.abort()
	e.UpdateAnnotations(map[string]string{"team": "finance"})

	snapshot := e.Snapshot()
	require.Equal(t, "a.example/app", snapshot.HostPath)
	require.Equal(t, e.UpdatedMillis(), snapshot.Updated)
	require.Equal(t, map[string]string{"team": "finance"}, snapshot.Annotations)
}
