// Package culling computes a view's frustum and draw distance visibility. The primitive range is
// split into word aligned chunks that are tested in parallel, each task writing only its own
// words of the output bitsets.
package culling

import (
	"fmt"
	"log"
	"math"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-vis/common"
	"github.com/Carmen-Shannon/oxy-vis/engine/config"
	"github.com/Carmen-Shannon/oxy-vis/engine/scene"
	"github.com/Carmen-Shannon/oxy-vis/engine/task"
	"github.com/go-gl/mathgl/mgl32"
)

// VisibilityQuery is an external visibility source consulted for primitives that carry a custom
// index, for example a streaming system that knows which cells are loaded. Implementations are
// called from several goroutines at once.
type VisibilityQuery interface {
	// IsVisible reports whether the primitive may be drawn this frame.
	//
	// Parameters:
	//   - customIndex: the primitive's custom visibility index
	//   - bounds: the primitive's world bounds
	//
	// Returns:
	//   - bool: false culls the primitive
	IsVisible(customIndex int, bounds common.BoxSphereBounds) bool
}

// Input carries one view's culling inputs and the bitsets the stage writes.
type Input struct {
	// ViewOrigin is the camera position distances are measured from.
	ViewOrigin mgl32.Vec3
	// Frustum is the view frustum.
	Frustum *common.Frustum
	// CustomQuery is consulted for primitives with a custom index. May be nil.
	CustomQuery VisibilityQuery

	// Hidden lists primitive indices never drawn in this view.
	Hidden map[int]struct{}
	// ShowOnly, when non-nil, lists the only primitive indices drawn in this view.
	ShowOnly map[int]struct{}
	// DisableDistanceCull ignores max draw distances, set from the view family show flags.
	DisableDistanceCull bool

	// ForcedVisible marks HLOD primitives that skip distance culling. May be nil.
	ForcedVisible *common.BitSet
	// ForcedHidden marks HLOD primitives replaced by a proxy or a parent. May be nil.
	ForcedHidden *common.BitSet

	// Visibility receives the visible primitives.
	Visibility *common.BitSet
	// PotentiallyFading receives primitives inside a distance fade band.
	PotentiallyFading *common.BitSet
	// DistanceCullFading receives the visible primitives inside a fade band.
	DistanceCullFading *common.BitSet
}

// Result summarizes one culling pass.
type Result struct {
	NumVisible int
	NumFading  int
}

// Culler runs the frustum and distance cull on the worker pool.
type Culler struct {
	cfg    config.Config
	runner task.Runner
}

// NewCuller creates a culler.
//
// Parameters:
//   - cfg: the renderer configuration
//   - runner: the worker pool (must not be nil)
//
// Returns:
//   - *Culler: the new culler
func NewCuller(cfg config.Config, runner task.Runner) *Culler {
	if runner == nil {
		panic("culling: NewCuller requires a non-nil task.Runner")
	}
	return &Culler{cfg: cfg, runner: runner}
}

type cullContext struct {
	in         *Input
	s          scene.Scene
	bounds     []scene.PrimitiveBounds
	flags      []scene.PrimitiveFlags
	scale      float32
	fadeRadius float32
	sphereTest bool
	noDistance bool
	hasForced  bool
	hasFrustum bool
	numVisible atomic.Int64
	numFading  atomic.Int64
}

// Cull resizes the output bitsets to the scene and fills them. The caller must hold the scene's
// read lock. Running Cull twice on the same scene and input gives identical bitsets.
//
// Parameters:
//   - s: the scene
//   - in: the view inputs and output bitsets
//
// Returns:
//   - Result: visible and fading counts
//   - error: a task panicked; the affected range is left empty
func (c *Culler) Cull(s scene.Scene, in *Input) (Result, error) {
	n := s.NumPrimitives()
	in.Visibility.Resize(n)
	in.PotentiallyFading.Resize(n)
	in.DistanceCullFading.Resize(n)

	ctx := &cullContext{
		in:         in,
		s:          s,
		bounds:     s.Bounds(),
		flags:      s.Flags(),
		scale:      c.cfg.MaxDrawDistanceScale,
		fadeRadius: c.cfg.FadeRadius,
		sphereTest: c.cfg.UseSphereTest,
		noDistance: in.DisableDistanceCull,
		hasForced:  in.ForcedVisible != nil || in.ForcedHidden != nil,
		hasFrustum: in.Frustum != nil,
	}
	if c.cfg.DisableLODFade {
		ctx.fadeRadius = 0
	}
	if ctx.scale <= 0 {
		ctx.scale = 1
	}

	ranges := common.SplitWords(n, c.cfg.FrustumCullWordsPerTask)
	var err error
	if c.cfg.FrustumCullDisabled {
		err = c.runner.ParallelFor("frustum cull", len(ranges), func(i int) {
			showAll(ctx, ranges[i])
		})
	} else {
		err = c.runner.ParallelFor("frustum cull", len(ranges), func(i int) {
			cullRange(ctx, ranges[i])
		})
	}

	res := Result{NumVisible: int(ctx.numVisible.Load()), NumFading: int(ctx.numFading.Load())}
	if c.cfg.DebugLogging {
		log.Printf("[Culling] %s: %d of %d primitives visible, %d fading", s.Name(), res.NumVisible, n, res.NumFading)
	}
	if err != nil {
		return res, fmt.Errorf("frustum cull: %w", err)
	}
	return res, nil
}

func filtered(in *Input, index int) bool {
	if _, hidden := in.Hidden[index]; hidden {
		return true
	}
	if in.ShowOnly != nil {
		if _, shown := in.ShowOnly[index]; !shown {
			return true
		}
	}
	return false
}

func showAll(ctx *cullContext, r common.WordRange) {
	visible := 0
	for index := r.Begin; index < r.End; index++ {
		if !ctx.flags[index].Valid || filtered(ctx.in, index) {
			continue
		}
		ctx.in.Visibility.Set(index)
		visible++
	}
	ctx.numVisible.Add(int64(visible))
}

// cullRange tests one word range. Distance tests come first because they are the cheapest and
// cull the most primitives in large scenes.
func cullRange(ctx *cullContext, r common.WordRange) {
	in := ctx.in
	visible, fading := 0, 0
	for index := r.Begin; index < r.End; index++ {
		flags := ctx.flags[index]
		if !flags.Valid || filtered(in, index) {
			continue
		}
		b := &ctx.bounds[index]

		maxDraw := float32(math.MaxFloat32)
		if b.MaxDrawDistance > 0 && !ctx.noDistance {
			maxDraw = b.MaxDrawDistance * ctx.scale
		}
		minDistSq := b.MinDrawDistanceSq
		if ctx.hasForced {
			if in.ForcedVisible != nil && in.ForcedVisible.Test(index) {
				maxDraw = math.MaxFloat32
				minDistSq = 0
			} else if in.ForcedHidden != nil && in.ForcedHidden.Test(index) {
				continue
			}
		}

		distSq := b.Bounds.DistanceSquaredTo(in.ViewOrigin)
		if distSq < minDistSq {
			continue
		}
		limited := maxDraw < math.MaxFloat32
		if limited && distSq > common.Square(maxDraw+ctx.fadeRadius) {
			continue
		}
		if flags.HasCustomIndex && in.CustomQuery != nil {
			if info := ctx.s.Info(index); info != nil && !in.CustomQuery.IsVisible(info.Primitive.CustomIndex, b.Bounds) {
				continue
			}
		}
		if ctx.hasFrustum {
			if ctx.sphereTest && !in.Frustum.IntersectSphere(b.Bounds.Origin, b.Bounds.SphereRadius) {
				continue
			}
			if !in.Frustum.IntersectBox(b.Bounds.Origin, b.Bounds.BoxExtent) {
				continue
			}
		}

		if limited && distSq > common.Square(maxDraw) {
			// Past the draw distance but inside the fade band: hidden unless a fade is playing.
			if flags.UsesDistanceCullFade {
				in.PotentiallyFading.Set(index)
				fading++
			}
			continue
		}
		in.Visibility.Set(index)
		visible++
		if limited && flags.UsesDistanceCullFade && ctx.fadeRadius > 0 && distSq > common.Square(maxDraw-ctx.fadeRadius) {
			in.PotentiallyFading.Set(index)
			in.DistanceCullFading.Set(index)
			fading++
		}
	}
	ctx.numVisible.Add(int64(visible))
	ctx.numFading.Add(int64(fading))
}
