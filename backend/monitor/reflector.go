package monitor

import (
	"context"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
)

// eventKind classifies items delivered by a list+watch stream.
type eventKind int

const (
	eventApplied eventKind = iota
	eventDeleted
	eventRestarted
)

// event is one item of a list+watch stream. Restarted markers carry the
// zero value of T.
type event[T any] struct {
	kind   eventKind
	object T
}

// listWatchSource produces the current state and a change stream of one
// filtered resource collection.
type listWatchSource[T any] struct {
	list  func(ctx context.Context) (items []T, resourceVersion string, err error)
	watch func(ctx context.Context, resourceVersion string) (watch.Interface, error)
}

// runListWatch delivers every currently present object to handle as Applied,
// then translates watch events until the context is cancelled or the upstream
// fails. A cleanly closed watch is resumed behind a Restarted marker and a
// fresh list. Objects may be delivered more than once; handlers must be
// idempotent. The terminating error is returned; context cancellation
// returns nil.
func runListWatch[T runtime.Object](ctx context.Context, src listWatchSource[T], handle func(event[T]) error) error {
	items, resourceVersion, err := src.list(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	for _, item := range items {
		if err := handle(event[T]{kind: eventApplied, object: item}); err != nil {
			return err
		}
	}
	for {
		w, err := src.watch(ctx, resourceVersion)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		clean, err := pumpWatch(ctx, w, handle)
		if err != nil {
			return err
		}
		if !clean || ctx.Err() != nil {
			return nil
		}
		// The server ended the watch without an error. Re-list for a fresh
		// cursor and replay the current state behind a Restarted marker.
		if err := handle(event[T]{kind: eventRestarted}); err != nil {
			return err
		}
		items, resourceVersion, err = src.list(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, item := range items {
			if err := handle(event[T]{kind: eventApplied, object: item}); err != nil {
				return err
			}
		}
	}
}

// pumpWatch drains a single watch connection. clean reports whether the
// server closed the stream without an error.
func pumpWatch[T runtime.Object](ctx context.Context, w watch.Interface, handle func(event[T]) error) (clean bool, err error) {
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, nil
		case ev, ok := <-w.ResultChan():
			if !ok {
				return true, nil
			}
			switch ev.Type {
			case watch.Added, watch.Modified:
				obj, ok := ev.Object.(T)
				if !ok {
					continue
				}
				if err := handle(event[T]{kind: eventApplied, object: obj}); err != nil {
					return false, err
				}
			case watch.Deleted:
				obj, ok := ev.Object.(T)
				if !ok {
					continue
				}
				if err := handle(event[T]{kind: eventDeleted, object: obj}); err != nil {
					return false, err
				}
			case watch.Bookmark:
				// Cursor-only event.
			case watch.Error:
				return false, apierrors.FromObject(ev.Object)
			}
		}
	}
}
