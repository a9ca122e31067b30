// Package chflow provides context-aware helpers around channels.
package chflow

import "context"

// Receive waits for a value from ch or for ctx to be done. The boolean is
// false when ctx ended first or ch was closed.
func Receive[T any](ctx context.Context, ch <-chan T) (T, bool) {
	var data T
	select {
	case <-ctx.Done():
		return data, false
	case data, ok := <-ch:
		return data, ok
	}
}

// Send delivers data to ch unless ctx ends first.
func Send[T any](ctx context.Context, ch chan<- T, data T) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- data:
		return true
	}
}

// Collect receives up to n values from ch. It stops early when ch is closed
// and never blocks once n values arrived. Unlike Receive it ignores
// cancellation: producers are expected to observe ctx themselves and still
// report, so a batch is never abandoned half way.
func Collect[T any](ch <-chan T, n int) []T {
	out := make([]T, 0, n)
	for len(out) < n {
		v, ok := <-ch
		if !ok {
			break
		}
		out = append(out, v)
	}
	return out
}
