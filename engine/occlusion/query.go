package occlusion

import (
	"cmp"
	"fmt"
	"log"
	"slices"

	"github.com/Carmen-Shannon/oxy-vis/common"
)

// QueryBackend issues and reads GPU occlusion queries. Result may be called from several
// goroutines at once; every other method is called from the orchestrating goroutine only.
type QueryBackend interface {
	// AllocateQuery reserves a new query.
	//
	// Returns:
	//   - QueryHandle: a non-zero handle
	//   - error: the query pool is exhausted or the device is lost
	AllocateQuery() (QueryHandle, error)

	// IssueBoxQuery draws the given boxes against the scene depth, counting passing samples
	// into q. A grouped query covers several boxes.
	//
	// Parameters:
	//   - q: the query
	//   - bounds: the boxes to test
	//
	// Returns:
	//   - error: the query could not be issued
	IssueBoxQuery(q QueryHandle, bounds ...common.BoxSphereBounds) error

	// Result reads a query issued in an earlier frame.
	//
	// Parameters:
	//   - q: the query
	//
	// Returns:
	//   - uint64: the number of samples that passed the depth test
	//   - bool: false if the result is not available yet
	//   - error: the readback failed
	Result(q QueryHandle) (uint64, bool, error)

	// ReleaseQuery returns a query to the backend.
	ReleaseQuery(q QueryHandle)
}

// queryPool reference counts handles shared by the members of a grouped query.
type queryPool struct {
	backend QueryBackend
	refs    map[QueryHandle]int
}

func newQueryPool(backend QueryBackend) *queryPool {
	return &queryPool{backend: backend, refs: make(map[QueryHandle]int)}
}

func (p *queryPool) allocate(holders int) (QueryHandle, error) {
	q, err := p.backend.AllocateQuery()
	if err != nil {
		return 0, err
	}
	if q == 0 {
		return 0, fmt.Errorf("%w: backend returned the zero handle", ErrQueryFailed)
	}
	p.refs[q] = holders
	return q, nil
}

func (p *queryPool) release(q QueryHandle) {
	if q == 0 {
		return
	}
	n, ok := p.refs[q]
	if !ok {
		return
	}
	if n > 1 {
		p.refs[q] = n - 1
		return
	}
	delete(p.refs, q)
	p.backend.ReleaseQuery(q)
}

func (p *queryPool) releaseAll(handles []QueryHandle) {
	for _, q := range handles {
		p.release(q)
	}
}

// outstanding returns the number of live handles.
func (p *queryPool) outstanding() int {
	return len(p.refs)
}

// queryRequest asks for a bounds test to be issued for one history entry this frame.
type queryRequest struct {
	entry   *HistoryEntry
	bounds  common.BoxSphereBounds
	grouped bool
	// requery marks the random re-test of a primitive that was definitely visible last frame.
	requery bool
}

// issueStats summarizes one call to issueQueries.
type issueStats struct {
	individual int
	groups     int
	grouped    int
	deferred   int
	failed     int
}

// issueQueries submits the frame's requests. Grouped batches of up to groupSize boxes are always
// issued. Individual queries share the budget: entries that were occluded or indefinite last
// frame go before re-tests of visible ones, and within each class the entry submitted longest
// ago goes first, so a saturated budget rotates over every entry. Individual requests that do
// not fit are deferred and keep their last known state. A failed submission leaves the entry
// visible and indefinite so it is tested individually next time.
//
// Parameters:
//   - pool: the query pool
//   - frame: the occlusion frame counter
//   - requests: the frame's requests
//   - budget: the maximum number of individual queries, zero or less for no limit
//   - groupSize: the maximum number of boxes per grouped query
//
// Returns:
//   - issueStats: counts of issued, deferred and failed requests
func issueQueries(pool *queryPool, frame uint32, requests []queryRequest, budget, groupSize int) issueStats {
	var stats issueStats
	if budget <= 0 {
		budget = len(requests)
	}
	groupSize = max(groupSize, 1)

	fail := func(r queryRequest, err error) {
		log.Printf("[Occlusion] query submission failed: %v", err)
		r.entry.WasOccludedLastFrame = false
		r.entry.StateWasDefiniteLastFrame = false
		stats.failed++
	}

	var grouped, individual []queryRequest
	for _, r := range requests {
		if r.grouped {
			grouped = append(grouped, r)
		} else {
			individual = append(individual, r)
		}
	}
	slices.SortStableFunc(individual, func(a, b queryRequest) int {
		if a.requery != b.requery {
			if a.requery {
				return 1
			}
			return -1
		}
		return cmp.Compare(a.entry.LastSubmitFrame, b.entry.LastSubmitFrame)
	})

	for _, r := range individual {
		if budget == 0 {
			stats.deferred++
			continue
		}
		q, err := pool.allocate(1)
		if err != nil {
			fail(r, err)
			continue
		}
		if err := pool.backend.IssueBoxQuery(q, r.bounds); err != nil {
			pool.release(q)
			fail(r, err)
			continue
		}
		pool.release(r.entry.SetCurrentQuery(frame, q, false))
		r.entry.LastSubmitFrame = frame
		budget--
		stats.individual++
	}

	for start := 0; start < len(grouped); start += groupSize {
		batch := grouped[start:min(start+groupSize, len(grouped))]
		q, err := pool.allocate(len(batch))
		if err != nil {
			for _, r := range batch {
				fail(r, err)
			}
			continue
		}
		bounds := make([]common.BoxSphereBounds, len(batch))
		for i, r := range batch {
			bounds[i] = r.bounds
		}
		if err := pool.backend.IssueBoxQuery(q, bounds...); err != nil {
			for range batch {
				pool.release(q)
			}
			for _, r := range batch {
				fail(r, err)
			}
			continue
		}
		for _, r := range batch {
			pool.release(r.entry.SetCurrentQuery(frame, q, true))
			r.entry.LastSubmitFrame = frame
		}
		stats.groups++
		stats.grouped += len(batch)
	}
	return stats
}
