package occlusion

import (
	"fmt"
	"log"
	"math/rand/v2"

	"github.com/Carmen-Shannon/oxy-vis/common"
	"github.com/Carmen-Shannon/oxy-vis/engine/config"
	"github.com/Carmen-Shannon/oxy-vis/engine/primitive"
	"github.com/Carmen-Shannon/oxy-vis/engine/scene"
	"github.com/Carmen-Shannon/oxy-vis/engine/task"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	framesNotTestedToExpand = 2
	framesToExpand          = 2
)

// Input carries one view's occlusion inputs and the bitsets the stage refines in place.
type Input struct {
	// View is handed to proxies when selecting software occluders. May be nil.
	View primitive.ViewInfo
	// ViewOrigin is the camera position.
	ViewOrigin mgl32.Vec3
	// ViewProj is the view's world to clip transform.
	ViewProj mgl32.Mat4
	// Frustum supplies the near plane for the near-plane test.
	Frustum *common.Frustum
	// ScreenMultiple is common.ScreenMultiple of the projection.
	ScreenMultiple float32
	// Now is the current time in seconds.
	Now float32
	// NumPossiblePixels is the pixel count of the view rectangle.
	NumPossiblePixels float32

	// IgnoreExistingQueries treats every primitive as unoccluded, for example after a camera cut.
	IgnoreExistingQueries bool
	// DisableQuerySubmissions stops new queries and HZB tests from being issued.
	DisableQuerySubmissions bool
	// SkipSubmission is set on the eye that does not issue queries this frame when stereo views
	// alternate.
	SkipSubmission bool

	// Visibility is the frustum-culled visibility, cleared for occluded primitives.
	Visibility *common.BitSet
	// DefinitelyUnoccluded is rebuilt with the primitives proven visible this frame.
	DefinitelyUnoccluded *common.BitSet
}

// Stats summarizes one occlusion stage.
type Stats struct {
	NumOccluded          int
	NumPrecomputedHidden int
	NumQueries           int
	NumGroupedQueries    int
	NumGroupedPrimitives int
	NumDeferred          int
	NumFailed            int
	NumReadErrors        int
	NumHZBTests          int
}

// State is a view's persistent occlusion state.
type State struct {
	cfg         config.Config
	runner      task.Runner
	pool        *queryPool
	history     *History
	hzb         *HZBTester
	readback    HZBReadback
	software    *SoftwareOcclusion
	precomputed *PrecomputedVisibility
	frame       uint32
}

// Frame returns the occlusion frame counter, which advances once per Occlude call.
func (o *State) Frame() uint32 {
	return o.frame
}

// Strategy returns the occlusion strategy the state was created with.
func (o *State) Strategy() config.OcclusionStrategy {
	return o.cfg.OcclusionStrategy
}

// History returns the view's occlusion history.
func (o *State) History() *History {
	return o.history
}

// Outstanding returns the number of live hardware queries.
func (o *State) Outstanding() int {
	if o.pool == nil {
		return 0
	}
	return o.pool.outstanding()
}

// Forget drops the history and software results of a removed primitive and releases its queries.
func (o *State) Forget(primitive int) {
	o.software.Forget(primitive)
	released := o.history.Forget(primitive)
	if o.pool != nil {
		o.pool.releaseAll(released)
	}
}

// Close joins any software occlusion job and releases every query.
func (o *State) Close() {
	o.software.Wait()
	released := o.history.Reset()
	if o.pool != nil {
		o.pool.releaseAll(released)
	}
}

// Occlude refines a view's visibility. Precomputed visibility runs first, then the configured
// strategy. Every failure along the way leaves the affected primitives visible. The caller must
// hold the scene's read lock.
//
// Parameters:
//   - s: the scene
//   - in: the view inputs and bitsets
//
// Returns:
//   - Stats: the stage counters
//   - error: a task panicked; visibility of the affected range is undefined
func (o *State) Occlude(s scene.Scene, in *Input) (Stats, error) {
	o.frame++
	var stats Stats
	in.DefinitelyUnoccluded.Resize(in.Visibility.Len())

	if o.precomputed != nil {
		stats.NumPrecomputedHidden = o.applyPrecomputed(s, in)
	}

	switch o.cfg.OcclusionStrategy {
	case config.OcclusionSoftware:
		stats.NumOccluded = o.software.Process(s, in, o.cfg)
	case config.OcclusionHardwareQueries, config.OcclusionHZB:
		if err := o.fetch(s, in, &stats); err != nil {
			return stats, err
		}
	default:
		in.DefinitelyUnoccluded.Or(in.Visibility)
	}

	released := o.history.Trim(in.Now, o.cfg.OcclusionHistoryEvictSeconds, o.frame)
	if o.pool != nil {
		o.pool.releaseAll(released)
	}
	if o.cfg.DebugLogging {
		log.Printf("[Occlusion] frame %d: %d occluded, %d queries, %d grouped queries covering %d primitives, %d deferred",
			o.frame, stats.NumOccluded, stats.NumQueries, stats.NumGroupedQueries, stats.NumGroupedPrimitives, stats.NumDeferred)
	}
	return stats, nil
}

func (o *State) applyPrecomputed(s scene.Scene, in *Input) int {
	data := o.precomputed.Lookup(in.ViewOrigin)
	if data == nil {
		return 0
	}
	hidden := 0
	for index := range in.Visibility.All() {
		info := s.Info(index)
		if info == nil || PrecomputedVisible(data, info.Primitive.VisibilityID) {
			continue
		}
		in.Visibility.Clear(index)
		hidden++
	}
	return hidden
}

type historyInsert struct {
	key   HistoryKey
	entry *HistoryEntry
}

type hzbRequest struct {
	entry  *HistoryEntry
	bounds common.BoxSphereBounds
}

// fetchOutput is written by exactly one task.
type fetchOutput struct {
	inserts    []historyInsert
	released   []QueryHandle
	queries    []queryRequest
	hzb        []hzbRequest
	occluded   int
	readErrors int
}

type fetchContext struct {
	in           *Input
	s            scene.Scene
	bounds       []scene.PrimitiveBounds
	flags        []scene.PrimitiveFlags
	useHZB       bool
	submit       bool
	clearQueries bool
	lag          int
	scan         bool
	neverDistSq  float32
}

func (o *State) fetch(s scene.Scene, in *Input, stats *Stats) error {
	ctx := &fetchContext{
		in:          in,
		s:           s,
		bounds:      s.Bounds(),
		flags:       s.Flags(),
		useHZB:      o.cfg.OcclusionStrategy == config.OcclusionHZB,
		submit:      !in.DisableQuerySubmissions && !in.SkipSubmission,
		lag:         o.cfg.NumBufferedOcclusionFrames,
		neverDistSq: common.Square(o.cfg.NeverOcclusionTestDistance),
	}
	ctx.clearQueries = ctx.submit || in.IgnoreExistingQueries
	if o.cfg.RoundRobinOcclusion {
		ctx.lag *= 2
		ctx.scan = true
	}

	if ctx.useHZB {
		o.hzb.MapResults(o.readback)
	}
	ranges := common.SplitWords(in.Visibility.Len(), o.cfg.FrustumCullWordsPerTask)
	outs := make([]fetchOutput, len(ranges))
	err := o.runner.ParallelFor("occlusion", len(ranges), func(i int) {
		rng := rand.New(rand.NewPCG(uint64(o.frame), uint64(i)))
		o.fetchRange(ctx, ranges[i], &outs[i], rng)
	})
	if ctx.useHZB {
		o.hzb.UnmapResults(o.readback)
	}
	if err != nil {
		return fmt.Errorf("occlusion fetch: %w", err)
	}

	var requests []queryRequest
	var released []QueryHandle
	for i := range outs {
		out := &outs[i]
		for _, ins := range out.inserts {
			o.history.entries[ins.key] = ins.entry
		}
		released = append(released, out.released...)
		requests = append(requests, out.queries...)
		for _, r := range out.hzb {
			idx, err := o.hzb.AddBounds(r.bounds.Origin, r.bounds.BoxExtent)
			if err != nil {
				r.entry.LastTestFrame = hzbInvalidFrameNumber
				continue
			}
			r.entry.HZBTestIndex = idx
			stats.NumHZBTests++
		}
		stats.NumOccluded += out.occluded
		stats.NumReadErrors += out.readErrors
	}
	if o.pool != nil {
		o.pool.releaseAll(released)
	}

	if ctx.useHZB {
		if ctx.submit {
			if err := o.hzb.Submit(o.readback, in.ViewProj, o.frame); err != nil {
				log.Printf("[Occlusion] HZB submission failed: %v", err)
			}
		}
		return nil
	}
	if o.pool == nil || !ctx.submit {
		return nil
	}
	issued := issueQueries(o.pool, o.frame, requests, o.cfg.MaxQueriesPerFrame, o.cfg.MaxGroupedPrimitivesPerQuery)
	stats.NumQueries = issued.individual + issued.groups
	stats.NumGroupedQueries = issued.groups
	stats.NumGroupedPrimitives = issued.grouped
	stats.NumDeferred = issued.deferred
	stats.NumFailed = issued.failed
	return nil
}

// fetchRange reads the occlusion state of the visible primitives in one word range and
// records the tests to issue for them.
func (o *State) fetchRange(ctx *fetchContext, r common.WordRange, out *fetchOutput, rng *rand.Rand) {
	in := ctx.in
	for index := r.Begin; index < r.End; index++ {
		if !in.Visibility.Test(index) || index >= len(ctx.flags) {
			continue
		}
		flags := ctx.flags[index]
		canBeOccluded := flags.CanBeOccluded

		subBounds := []common.BoxSphereBounds{ctx.bounds[index].Bounds}
		hasSubQueries := false
		if info := ctx.s.Info(index); info != nil {
			if p, ok := info.Primitive.Proxy.(primitive.SubQueryProvider); ok && !in.DisableQuerySubmissions {
				subBounds = p.OcclusionSubQueries()
				hasSubQueries = true
				if len(subBounds) == 0 {
					in.Visibility.Clear(index)
					out.occluded++
					continue
				}
			}
		}

		allOccluded, allDefinite := true, true
		for sub, bounds := range subBounds {
			occluded, definite := o.testEntry(ctx, HistoryKey{Primitive: index, SubQuery: sub}, bounds, canBeOccluded,
				hasSubQueries, flags.AllowApproximateOcclusion, out, rng)
			allOccluded = allOccluded && occluded
			allDefinite = allDefinite && definite && !occluded
		}

		if allOccluded {
			in.Visibility.Clear(index)
			out.occluded++
		} else if allDefinite {
			in.DefinitelyUnoccluded.Set(index)
		}
	}
}

// testEntry reads one history entry and queues its next test.
//
// Returns:
//   - bool: whether the entry is occluded this frame
//   - bool: whether that decision is definite
func (o *State) testEntry(ctx *fetchContext, key HistoryKey, bounds common.BoxSphereBounds, canBeOccluded, hasSubQueries, allowApproximate bool, out *fetchOutput, rng *rand.Rand) (bool, bool) {
	in := ctx.in
	maxFrac := o.cfg.MaxOcclusionPixelsFraction
	occluded, definite := false, false

	entry := o.history.Find(key)
	if entry == nil {
		entry = newHistoryEntry(o.history.numBufferedFrames)
		out.inserts = append(out.inserts, historyInsert{key: key, entry: entry})
		definite = !canBeOccluded
	} else {
		switch {
		case in.IgnoreExistingQueries:
			definite = in.DisableQuerySubmissions
		case !canBeOccluded:
			definite = true
		case ctx.useHZB:
			if o.hzb.IsValidFrame(entry.LastTestFrame) {
				occluded = !o.hzb.IsVisible(entry.HZBTestIndex)
				definite = true
			}
		default:
			occluded, definite = o.readQuery(ctx, entry, out)
		}
		if ctx.clearQueries {
			if q := entry.releaseStale(o.frame); q != 0 {
				out.released = append(out.released, q)
			}
		}
	}

	if ctx.submit && canBeOccluded {
		if o.cfg.OcclusionBoundsExpansion > 0 && entry.ExpandCooldown == 0 &&
			o.frame-entry.LastConsideredFrame > framesNotTestedToExpand {
			entry.ExpandCooldown = framesToExpand
		}
		expand := o.cfg.OcclusionSlop
		if entry.ExpandCooldown > 0 {
			expand += o.cfg.OcclusionBoundsExpansion
			entry.ExpandCooldown--
		}
		testBounds := bounds.ExpandBy(expand)

		allowTest := testBounds.DistanceSquaredTo(in.ViewOrigin) >= ctx.neverDistSq
		if allowTest && in.Frustum != nil {
			allowTest = !in.Frustum.BoxCrossesNearPlane(testBounds.Origin, testBounds.BoxExtent)
		}

		if allowTest {
			entry.LastTestFrame = o.frame
			switch {
			case ctx.useHZB:
				out.hzb = append(out.hzb, hzbRequest{entry: entry, bounds: testBounds})
			case !hasSubQueries && allowApproximate && o.cfg.AllowApproximateOcclusion:
				switch {
				case occluded:
					out.queries = append(out.queries, queryRequest{entry: entry, bounds: testBounds, grouped: true})
				case definite:
					mult := max(entry.LastPixelsPercentage/maxFrac, 1)
					if mult*rng.Float32() < maxFrac {
						out.queries = append(out.queries, queryRequest{entry: entry, bounds: testBounds, requery: true})
					}
				default:
					out.queries = append(out.queries, queryRequest{entry: entry, bounds: testBounds})
				}
			default:
				out.queries = append(out.queries, queryRequest{entry: entry, bounds: testBounds, requery: definite && !occluded})
			}
		} else {
			occluded = false
			definite = true
		}
	}

	entry.LastConsideredTime = in.Now
	entry.LastConsideredFrame = o.frame
	if !occluded && definite {
		entry.LastProvenVisibleTime = in.Now
	}
	entry.WasOccludedLastFrame = occluded
	entry.StateWasDefiniteLastFrame = definite
	return occluded, definite
}

// readQuery reads the hardware query issued for an entry in an earlier frame. Without a
// readable result the entry keeps its last known state. A failed read is visible.
func (o *State) readQuery(ctx *fetchContext, entry *HistoryEntry, out *fetchOutput) (bool, bool) {
	maxFrac := o.cfg.MaxOcclusionPixelsFraction
	lastKnown := func() (bool, bool) {
		if entry.WasOccludedLastFrame {
			entry.LastPixelsPercentage = 0
		} else {
			entry.LastPixelsPercentage = maxFrac
		}
		return entry.WasOccludedLastFrame, entry.StateWasDefiniteLastFrame
	}

	if o.pool == nil {
		return lastKnown()
	}
	q, grouped, ok := entry.QueryForReading(o.frame, ctx.lag, ctx.scan)
	if !ok {
		return lastKnown()
	}
	pixels, ready, err := o.pool.backend.Result(q)
	if err != nil {
		log.Printf("[Occlusion] query %d read failed, assuming visible: %v", q, err)
		out.readErrors++
		return false, false
	}
	if !ready {
		return lastKnown()
	}
	if ctx.in.NumPossiblePixels > 0 {
		entry.LastPixelsPercentage = float32(pixels) / ctx.in.NumPossiblePixels
	}
	return pixels == 0, !grouped
}
