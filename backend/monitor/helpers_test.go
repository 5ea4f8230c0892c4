package monitor

import (
	"context"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/clock"
	clocktesting "k8s.io/utils/clock/testing"
)

const testNamespace = "default"

func newTestClock() *clocktesting.FakePassiveClock {
	return clocktesting.NewFakePassiveClock(time.Unix(1700000000, 0))
}

func advance(c *clocktesting.FakePassiveClock, d time.Duration) {
	c.SetTime(c.Now().Add(d))
}

func newTestDeps(client kubernetes.Interface, clk clock.PassiveClock) *watchDeps {
	return &watchDeps{
		client:        client,
		clock:         clk,
		sweepInterval: time.Minute,
	}
}

func startTestMonitor(t *testing.T, client kubernetes.Interface, clk clock.PassiveClock, opts Options) *Monitor {
	t.Helper()
	if opts.LabelSelector == "" {
		opts.LabelSelector = "microfe=true"
	}
	if opts.AnnotationPrefix == "" {
		opts.AnnotationPrefix = "microfe/"
	}
	m := New(client, clk, nil, opts)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = m.Run(ctx) }()
	return m
}

// currentServiceWatcher reads the entry's watcher slot under its lock.
func (e *Entry) currentServiceWatcher() *ServiceWatcher {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.serviceWatcher
}

// currentPodWatcher reads the watcher's pod slot under its lock.
func (w *ServiceWatcher) currentPodWatcher() *PodWatcher {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.podWatcher
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func matchingLabels() map[string]string {
	return map[string]string{"microfe": "true"}
}

func testIngress(name, host, path, service string, labels, annotations map[string]string) *networkingv1.Ingress {
	pathType := networkingv1.PathTypePrefix
	return &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   testNamespace,
			Labels:      labels,
			Annotations: annotations,
		},
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{{
				Host: host,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     path,
							PathType: &pathType,
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: service,
									Port: networkingv1.ServiceBackendPort{Number: 80},
								},
							},
						}},
					},
				},
			}},
		},
	}
}

func testService(name string, selector map[string]string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: testNamespace},
		Spec:       corev1.ServiceSpec{Selector: selector},
	}
}

func testPod(name, ownerName string, labels map[string]string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: testNamespace,
			Labels:    labels,
			OwnerReferences: []metav1.OwnerReference{{
				APIVersion: "apps/v1",
				Kind:       "ReplicaSet",
				Name:       ownerName,
			}},
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
}
