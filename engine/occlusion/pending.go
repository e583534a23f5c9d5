package occlusion

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// PendingResult is a value computed on a background goroutine and joined exactly once.
type PendingResult[T any] struct {
	group  errgroup.Group
	value  T
	joined bool
}

// StartPending runs fn in the background.
//
// Parameters:
//   - fn: the computation; a panic is reported as an error by Join
//
// Returns:
//   - *PendingResult[T]: the handle to join
func StartPending[T any](fn func() (T, error)) *PendingResult[T] {
	p := &PendingResult[T]{}
	p.group.Go(func() (err error) {
		defer func() {
			if v := recover(); v != nil {
				err = fmt.Errorf("pending result panicked: %v", v)
			}
		}()
		p.value, err = fn()
		return err
	})
	return p
}

// Join blocks until the computation finished and returns its result. Joining twice returns
// ErrPendingJoined.
func (p *PendingResult[T]) Join() (T, error) {
	var zero T
	if p.joined {
		return zero, ErrPendingJoined
	}
	p.joined = true
	if err := p.group.Wait(); err != nil {
		return zero, err
	}
	v := p.value
	p.value = zero
	return v, nil
}
