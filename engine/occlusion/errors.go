// Package occlusion refines a view's frustum visibility with precomputed visibility, hardware
// occlusion queries, a hierarchical depth buffer tester or a software occluder rasterizer.
package occlusion

import "errors"

var (
	// ErrHZBFull is returned when more bounds are added than the HZB result grid can hold.
	ErrHZBFull = errors.New("hzb test grid is full")
	// ErrNotMapped is returned when HZB results are requested before any were produced.
	ErrNotMapped = errors.New("hzb results are not available")
	// ErrStillMapped is returned when new HZB tests are submitted while results are mapped.
	ErrStillMapped = errors.New("hzb results are still mapped")
	// ErrPendingJoined is returned when a pending software occlusion result is joined twice.
	ErrPendingJoined = errors.New("pending result already joined")
	// ErrQueryFailed is returned by a QueryBackend that could not read a query result.
	ErrQueryFailed = errors.New("occlusion query failed")
	// ErrProxyPanic wraps a panic raised by a scene proxy while gathering software occluders.
	ErrProxyPanic = errors.New("scene proxy panicked")
)
