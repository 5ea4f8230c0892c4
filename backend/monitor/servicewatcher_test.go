package monitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestRenderSelector(t *testing.T) {
	require.Equal(t, "", renderSelector(nil))
	require.Equal(t, "app=web", renderSelector(map[string]string{"app": "web"}))
	require.Equal(t, "app=web,tier=frontend", renderSelector(map[string]string{
		"tier": "frontend",
		"app":  "web",
	}))
}

func TestServiceWatcherSpawnsPodWatcherForSelector(t *testing.T) {
	clk := newTestClock()
	client := fake.NewClientset(testService("svc-a", map[string]string{"app": "a"}))
	deps := newTestDeps(client, clk)
	updated := &atomic.Uint64{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := newServiceWatcher(ctx, deps, testNamespace, "svc-a", updated)
	defer w.abort()

	require.Eventually(t, func() bool {
		pw := w.currentPodWatcher()
		return pw != nil && pw.Selector() == "app=a"
	}, waitFor, tick)
	require.Eventually(t, func() bool { return updated.Load() != 0 }, waitFor, tick)
}

func TestServiceWatcherSwapsPodWatcherOnSelectorChange(t *testing.T) {
	clk := newTestClock()
	client := fake.NewClientset(testService("svc-a", map[string]string{"app": "a"}))
	deps := newTestDeps(client, clk)
	updated := &atomic.Uint64{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := newServiceWatcher(ctx, deps, testNamespace, "svc-a", updated)
	defer w.abort()

	var old *PodWatcher
	require.Eventually(t, func() bool {
		old = w.currentPodWatcher()
		return old != nil && old.Selector() == "app=a"
	}, waitFor, tick)
	before := updated.Load()

	advance(clk, time.Second)
	_, err := client.CoreV1().Services(testNamespace).Update(context.Background(),
		testService("svc-a", map[string]string{"app": "a", "track": "canary"}), metav1.UpdateOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		pw := w.currentPodWatcher()
		return pw != nil && pw.Selector() == "app=a,track=canary"
	}, waitFor, tick)
	require.Eventually(t, func() bool { return isDone(old.done) }, waitFor, tick)
	require.Eventually(t, func() bool { return updated.Load() > before }, waitFor, tick)
}

func TestServiceWatcherKeepsPodWatcherWhenSelectorUnchanged(t *testing.T) {
	clk := newTestClock()
	client := fake.NewClientset(testService("svc-a", map[string]string{"app": "a"}))
	deps := newTestDeps(client, clk)
	updated := &atomic.Uint64{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := newServiceWatcher(ctx, deps, testNamespace, "svc-a", updated)
	defer w.abort()

	var first *PodWatcher
	require.Eventually(t, func() bool {
		first = w.currentPodWatcher()
		return first != nil
	}, waitFor, tick)

	// A service update that keeps the selector must not replace the watcher.
	svc := testService("svc-a", map[string]string{"app": "a"})
	svc.Annotations = map[string]string{"touched": "true"}
	_, err := client.CoreV1().Services(testNamespace).Update(context.Background(), svc, metav1.UpdateOptions{})
	require.NoError(t, err)

	require.Never(t, func() bool {
		return w.currentPodWatcher() != first
	}, 200*time.Millisecond, tick)
}

func TestServiceWatcherIgnoresForeignServices(t *testing.T) {
	clk := newTestClock()
	client := fake.NewClientset()
	deps := newTestDeps(client, clk)
	updated := &atomic.Uint64{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := newServiceWatcher(ctx, deps, testNamespace, "svc-a", updated)
	defer w.abort()

	_, err := client.CoreV1().Services(testNamespace).Create(context.Background(),
		testService("svc-other", map[string]string{"app": "other"}), metav1.CreateOptions{})
	require.NoError(t, err)

	require.Never(t, func() bool {
		return w.currentPodWatcher() != nil
	}, 200*time.Millisecond, tick)
}

func TestServiceWatcherAbortStopsChain(t *testing.T) {
	clk := newTestClock()
	client := fake.NewClientset(testService("svc-a", map[string]string{"app": "a"}))
	deps := newTestDeps(client, clk)
	updated := &atomic.Uint64{}

	w := newServiceWatcher(context.Background(), deps, testNamespace, "svc-a", updated)

	var pw *PodWatcher
	require.Eventually(t, func() bool {
		pw = w.currentPodWatcher()
		return pw != nil
	}, waitFor, tick)

	w.abort()
	require.Eventually(t, func() bool { return isDone(w.done) }, waitFor, tick)
	require.Eventually(t, func() bool { return isDone(pw.done) }, waitFor, tick)
}
