// Package relevance classifies a view's visible primitives into render passes. Work is split
// into fixed size packets of visible primitives; each packet writes private lists that are
// merged in packet order, so the output does not depend on scheduling.
package relevance

import (
	"errors"
	"fmt"
	"log"

	"github.com/Carmen-Shannon/oxy-vis/common"
	"github.com/Carmen-Shannon/oxy-vis/engine/config"
	"github.com/Carmen-Shannon/oxy-vis/engine/dynamicmesh"
	"github.com/Carmen-Shannon/oxy-vis/engine/lod"
	"github.com/Carmen-Shannon/oxy-vis/engine/meshpass"
	"github.com/Carmen-Shannon/oxy-vis/engine/primitive"
	"github.com/Carmen-Shannon/oxy-vis/engine/scene"
	"github.com/Carmen-Shannon/oxy-vis/engine/task"
	"github.com/Carmen-Shannon/oxy-vis/engine/view"
	"github.com/go-gl/mathgl/mgl32"
)

// ErrRelevancePanic wraps a panic raised by a proxy's ViewRelevance.
var ErrRelevancePanic = errors.New("view relevance panicked")

// Stats summarizes one classification.
type Stats struct {
	NumPrimitives        int
	NumCachedMeshes      int
	NumDynamicStatic     int
	NumDynamicPrimitives int
	NumExcluded          int
}

func (s *Stats) add(o Stats) {
	s.NumPrimitives += o.NumPrimitives
	s.NumCachedMeshes += o.NumCachedMeshes
	s.NumDynamicStatic += o.NumDynamicStatic
	s.NumDynamicPrimitives += o.NumDynamicPrimitives
	s.NumExcluded += o.NumExcluded
}

// packet is written by exactly one task.
type packet struct {
	static        [meshpass.NumPasses][]view.MeshRef
	dynamicStatic [meshpass.NumPasses][]view.MeshRef
	dynamic       []dynamicmesh.Element
	translucent   []int
	distortion    []int
	velocity      []int
	stats         Stats
}

// Classifier computes per-view relevance, LOD and pass membership.
type Classifier struct {
	cfg    config.Config
	runner task.Runner
	proc   *meshpass.Processor
}

// NewClassifier creates a classifier.
//
// Parameters:
//   - cfg: the renderer configuration
//   - runner: the worker pool (must not be nil)
//   - proc: the mesh pass processor used to filter batches per pass (must not be nil)
//
// Returns:
//   - *Classifier: the new classifier
func NewClassifier(cfg config.Config, runner task.Runner, proc *meshpass.Processor) *Classifier {
	if runner == nil {
		panic("relevance: NewClassifier requires a non-nil task.Runner")
	}
	if proc == nil {
		panic("relevance: NewClassifier requires a non-nil meshpass.Processor")
	}
	return &Classifier{cfg: cfg, runner: runner, proc: proc}
}

type classifyContext struct {
	s         scene.Scene
	v         *view.View
	family    *view.Family
	bounds    []scene.PrimitiveBounds
	lodParams lod.LODParams
	hlod      *lod.HLODState
}

// Compute classifies every visible primitive of the view and fills the view's relevance arrays
// and mesh lists. The view's per-primitive arrays must already be sized, see View.BeginFrame.
// The caller must hold the scene's read lock.
//
// Parameters:
//   - s: the scene
//   - v: the view
//   - family: the view's family, for show flags and shading path
//
// Returns:
//   - Stats: classification counters
//   - error: a packet task failed outside a proxy callback; its primitives are missing
func (c *Classifier) Compute(s scene.Scene, v *view.View, family *view.Family) (Stats, error) {
	ctx := &classifyContext{
		s:      s,
		v:      v,
		family: family,
		bounds: s.Bounds(),
		lodParams: lod.LODParams{
			ViewOrigins:         [2]mgl32.Vec3{v.Origin(), v.Origin()},
			ScreenMultiple:      v.ScreenMultiple(),
			DistanceFactor:      c.cfg.LODDistanceFactor,
			MinLOD:              int8(common.Clamp(c.cfg.MinLOD, 0, 127)),
			DitheredTransitions: c.cfg.DitheredLODTransitions,
		},
	}
	if v.State != nil {
		ctx.hlod = v.State.HLOD
		if v.State.TemporalLOD.Lag > 0 {
			ctx.lodParams.ViewOrigins = v.State.TemporalLOD.Origins
		}
	}

	visible := make([]int, 0, v.Visibility.Count())
	for index := range v.Visibility.All() {
		visible = append(visible, index)
	}
	size := max(c.cfg.RelevancePacketSize, 1)
	packets := make([]packet, common.DivideAndRoundUp(len(visible), size))
	err := c.runner.ParallelFor("relevance", len(packets), func(p int) {
		end := min((p+1)*size, len(visible))
		for _, index := range visible[p*size : end] {
			c.classify(ctx, index, &packets[p])
		}
	})

	var stats Stats
	for p := range packets {
		pk := &packets[p]
		for pass := range meshpass.NumPasses {
			v.StaticMeshes[pass] = append(v.StaticMeshes[pass], pk.static[pass]...)
			v.DynamicStaticMeshes[pass] = append(v.DynamicStaticMeshes[pass], pk.dynamicStatic[pass]...)
		}
		v.DynamicElements = append(v.DynamicElements, pk.dynamic...)
		v.TranslucentPrimitives = append(v.TranslucentPrimitives, pk.translucent...)
		v.DistortionPrimitives = append(v.DistortionPrimitives, pk.distortion...)
		v.VelocityPrimitives = append(v.VelocityPrimitives, pk.velocity...)
		stats.add(pk.stats)
	}

	if c.cfg.DebugLogging {
		log.Printf("[Relevance] view %d: %d primitives, %d cached meshes, %d dynamic static meshes, %d dynamic primitives, %d excluded",
			v.Index(), stats.NumPrimitives, stats.NumCachedMeshes, stats.NumDynamicStatic, stats.NumDynamicPrimitives, stats.NumExcluded)
	}
	if err != nil {
		return stats, fmt.Errorf("relevance: %w", err)
	}
	return stats, nil
}

// viewRelevance calls the proxy, turning a panic into an error.
func viewRelevance(proxy primitive.SceneProxy, v primitive.ViewInfo) (rel primitive.Relevance, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrRelevancePanic, r)
		}
	}()
	return proxy.ViewRelevance(v)
}

func (c *Classifier) classify(ctx *classifyContext, index int, pk *packet) {
	v := ctx.v
	info := ctx.s.Info(index)
	if info == nil {
		return
	}
	rel, err := viewRelevance(info.Primitive.Proxy, v)
	if err != nil {
		log.Printf("[Relevance] view %d: primitive %d excluded: %v", v.Index(), index, err)
		pk.stats.NumExcluded++
		return
	}
	if !rel.DrawRelevance {
		return
	}
	pk.stats.NumPrimitives++
	v.Relevance[index] = rel

	b := ctx.bounds[index].Bounds
	meshes := info.Primitive.StaticMeshes
	forcedLOD := info.Primitive.ForcedLOD
	if forcedLOD < 0 {
		forcedLOD = c.cfg.ForcedLOD
	}
	var mask lod.LODMask
	radiusSq := float32(0)
	if len(meshes) > 0 {
		mask, radiusSq = lod.ComputeLOD(meshes, b.Origin, b.SphereRadius, forcedLOD, &ctx.lodParams)
	}
	if radiusSq == 0 {
		radiusSq = common.ComputeBoundsScreenRadiusSquared(b.Origin, b.SphereRadius, v.Origin(), v.ScreenMultiple())
	}
	v.LODMasks[index] = mask
	v.ScreenRadiusSq[index] = radiusSq

	passes := c.passMask(ctx, rel, info, b)
	v.PassMasks[index] = passes

	if rel.StaticRelevance && len(meshes) > 0 {
		// Meshes with per-frame fade state cannot use their cached command.
		_, distanceFading := v.FadeUniforms[index]
		hlodFading := ctx.hlod != nil && ctx.hlod.FadingLOD.Test(index)
		perFrame := distanceFading || hlodFading || mask.IsDithered()

		for m := range meshes {
			batch := &meshes[m]
			if mask.IsValid() && !mask.ContainsLOD(batch.LODIndex) {
				continue
			}
			for pass := range passes.All() {
				if !c.proc.ShouldDraw(pass, batch) {
					continue
				}
				ref := view.MeshRef{Primitive: index, MeshIndex: m}
				if !perFrame && pass.Cacheable() {
					if _, ok := info.CachedCommand(pass, m); ok {
						pk.static[pass] = append(pk.static[pass], ref)
						pk.stats.NumCachedMeshes++
						continue
					}
				}
				pk.dynamicStatic[pass] = append(pk.dynamicStatic[pass], ref)
				pk.stats.NumDynamicStatic++
			}
		}
	}

	if rel.DynamicRelevance && !ctx.family.ShowFlags.DisableDynamicMeshes {
		pk.dynamic = append(pk.dynamic, dynamicmesh.Element{Primitive: index, Relevance: rel, Passes: passes})
		pk.stats.NumDynamicPrimitives++
	}
	if passes.Has(meshpass.TranslucencyStandard) || passes.Has(meshpass.TranslucencyAfterDOF) ||
		passes.Has(meshpass.TranslucencyAll) || passes.Has(meshpass.MobileInverseOpacity) {
		pk.translucent = append(pk.translucent, index)
	}
	if passes.Has(meshpass.Distortion) {
		pk.distortion = append(pk.distortion, index)
	}
	if passes.Has(meshpass.Velocity) {
		pk.velocity = append(pk.velocity, index)
	}
}

// largeEnough reports whether the bounds cover more than minScreenRadius of the screen, scaled
// by the LOD distance factor.
func (c *Classifier) largeEnough(b common.BoxSphereBounds, v *view.View, minScreenRadius float32) bool {
	distSq := b.DistanceSquaredTo(v.Origin())
	factor := c.cfg.LODDistanceFactor
	if factor <= 0 {
		factor = 1
	}
	return b.SphereRadius*b.SphereRadius > minScreenRadius*minScreenRadius*distSq*factor*factor
}

// passMask fans the relevance of a primitive out into pass membership.
func (c *Classifier) passMask(ctx *classifyContext, rel primitive.Relevance, info *scene.PrimitiveSceneInfo, b common.BoxSphereBounds) meshpass.PassMask {
	var mask meshpass.PassMask
	flags := ctx.family.ShowFlags
	mobile := ctx.family.MobileShading
	opaque := rel.OpaqueRelevance || rel.MaskedRelevance

	if rel.RenderInMainPass && opaque {
		if mobile && rel.ShadowRelevance {
			mask.Set(meshpass.MobileBasePassCSM)
		} else {
			mask.Set(meshpass.BasePass)
		}
		if flags.LightmapDensity {
			mask.Set(meshpass.LightmapDensity)
		}
	}
	if flags.DebugViewMode && rel.RenderInMainPass {
		mask.Set(meshpass.DebugViewMode)
	}

	if rel.RenderInDepthPass && opaque {
		switch c.cfg.EarlyZPassMode {
		case config.EarlyZFull:
			mask.Set(meshpass.DepthPass)
		case config.EarlyZOpaqueLarge:
			if !rel.MaskedRelevance && c.largeEnough(b, ctx.v, c.cfg.MinScreenRadiusForDepthPrepass) {
				mask.Set(meshpass.DepthPass)
			}
		}
	}

	if rel.ShadowRelevance && info.Primitive.CastShadow && c.largeEnough(b, ctx.v, c.cfg.MinScreenRadiusForCSMDepth) {
		mask.Set(meshpass.CSMShadowDepth)
	}
	if rel.RenderCustomDepth {
		mask.Set(meshpass.CustomDepth)
	}
	if rel.VelocityRelevance && opaque && info.Moved {
		mask.Set(meshpass.Velocity)
	}
	if rel.DistortionRelevance {
		mask.Set(meshpass.Distortion)
	}

	if rel.HasTranslucency() && !flags.DisableTranslucency {
		mask.Set(meshpass.TranslucencyAll)
		if mobile {
			mask.Set(meshpass.MobileInverseOpacity)
		} else {
			if rel.NormalTranslucencyRelevance {
				mask.Set(meshpass.TranslucencyStandard)
			}
			if rel.SeparateTranslucencyRelevance {
				mask.Set(meshpass.TranslucencyAfterDOF)
			}
		}
	}
	return mask
}
