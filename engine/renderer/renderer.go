// Package renderer runs the per-frame visibility pipeline over a view family: HLOD, frustum
// culling, occlusion, stereo merge, distance fade and temporal LOD, relevance, dynamic mesh
// collection, then per pass command assembly, sorting and instancing. The finished lists are
// handed to a Backend.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"

	"github.com/Carmen-Shannon/oxy-vis/engine/config"
	"github.com/Carmen-Shannon/oxy-vis/engine/culling"
	"github.com/Carmen-Shannon/oxy-vis/engine/dynamicmesh"
	"github.com/Carmen-Shannon/oxy-vis/engine/lod"
	"github.com/Carmen-Shannon/oxy-vis/engine/meshpass"
	"github.com/Carmen-Shannon/oxy-vis/engine/occlusion"
	"github.com/Carmen-Shannon/oxy-vis/engine/profiler"
	"github.com/Carmen-Shannon/oxy-vis/engine/relevance"
	"github.com/Carmen-Shannon/oxy-vis/engine/scene"
	"github.com/Carmen-Shannon/oxy-vis/engine/task"
	"github.com/Carmen-Shannon/oxy-vis/engine/view"
	"github.com/go-gl/mathgl/mgl32"
)

var (
	// ErrClosed is returned by Render after Close.
	ErrClosed = errors.New("renderer closed")
	// ErrFramePanic wraps a panic recovered while rendering a frame.
	ErrFramePanic = errors.New("frame panicked")
)

// Profiler stages recorded by the renderer.
const (
	StageCachedCommands profiler.Stage = "cache"
	StageHLOD           profiler.Stage = "hlod"
	StageCull           profiler.Stage = "cull"
	StageOcclusion      profiler.Stage = "occlusion"
	StageFade           profiler.Stage = "fade"
	StageRelevance      profiler.Stage = "relevance"
	StageDynamic        profiler.Stage = "dynamic"
	StagePasses         profiler.Stage = "passes"
	StageSubmit         profiler.Stage = "submit"
)

// ViewStats are the counters of one view in one frame.
type ViewStats struct {
	Culling          culling.Result
	Occlusion        occlusion.Stats
	Relevance        relevance.Stats
	Dynamic          dynamicmesh.Stats
	NumFadingVisible int
	NumVisible       int
	NumDraws         int
	NumDroppedDraws  int
	NumFailedPasses  int
	// NumLostPipelines counts the pipeline states the backend could not draw with.
	NumLostPipelines int
}

// FrameStats are the counters of one Render call, one entry per view in family order.
type FrameStats struct {
	FrameNumber uint32
	Views       []ViewStats
}

// NumDraws returns the number of commands submitted over every view.
func (s FrameStats) NumDraws() int {
	n := 0
	for _, v := range s.Views {
		n += v.NumDraws
	}
	return n
}

// Renderer drives the visibility pipeline for a scene.
//
// Render and the other methods are serialized by an internal mutex. The scene may be mutated
// concurrently; Render takes the scene's write lock to rebuild cached commands and its read lock
// for the rest of the frame.
type Renderer interface {
	// Render draws one frame of a view family.
	//
	// Parameters:
	//   - ctx: checked between stages; a done context skips submission of the remaining views
	//   - family: the views to render
	//
	// Returns:
	//   - FrameStats: counters for every view rendered
	//   - error: ErrClosed, an invalid family, the context error, or the stage errors of the
	//     frame joined together. Failed stages leave affected primitives out and do not stop
	//     the frame.
	Render(ctx context.Context, family *view.Family) (FrameStats, error)

	// Scene returns the scene being rendered.
	Scene() scene.Scene

	// Processor returns the mesh pass processor owning the pipeline state table.
	Processor() *meshpass.Processor

	// RemovePrimitive removes a primitive from the scene and forgets its per-view history.
	//
	// Parameters:
	//   - index: the primitive index
	//
	// Returns:
	//   - error: the scene's error for an unknown index
	RemovePrimitive(index int) error

	// Close joins outstanding software occlusion work and releases every view's queries.
	// Safe to call more than once.
	Close()
}

type renderer struct {
	mu *sync.Mutex

	cfg     config.Config
	scene   scene.Scene
	backend Backend
	runner  task.Runner

	pipelineBuilder  meshpass.PipelineStateBuilder
	occlusionOptions []occlusion.StateBuilderOption
	profiler         *profiler.Profiler

	proc       *meshpass.Processor
	culler     *culling.Culler
	classifier *relevance.Classifier
	collector  *dynamicmesh.Collector

	// states are every view state seen, so Close and RemovePrimitive reach them.
	states map[*view.State]struct{}
	// stale collects primitives whose pipelines were lost during submission. They are marked
	// stale once the scene's read lock is released.
	stale []int32
	closed bool
}

// Ensure renderer implements Renderer interface.
var _ Renderer = &renderer{}

// NewRenderer creates a renderer for a scene.
//
// Parameters:
//   - cfg: the configuration
//   - s: the scene (must not be nil)
//   - backend: receives the draw lists (must not be nil)
//   - options: collaborators such as the worker pool, profiler or pipeline state builder
//
// Returns:
//   - Renderer: the new renderer
func NewRenderer(cfg config.Config, s scene.Scene, backend Backend, options ...RendererBuilderOption) Renderer {
	if s == nil {
		panic("renderer: NewRenderer requires a non-nil Scene")
	}
	if backend == nil {
		panic("renderer: NewRenderer requires a non-nil Backend")
	}
	r := &renderer{
		mu:      &sync.Mutex{},
		cfg:     cfg,
		scene:   s,
		backend: backend,
		states:  make(map[*view.State]struct{}),
	}
	if b, ok := backend.(meshpass.PipelineStateBuilder); ok {
		r.pipelineBuilder = b
	}
	for _, option := range options {
		option(r)
	}
	if r.runner == nil {
		r.runner = task.NewRunner(cfg.Workers, cfg.WorkerQueueSize)
	}

	r.proc = meshpass.NewProcessor(meshpass.NewPipelineStateTable(r.pipelineBuilder), cfg.DynamicInstancing)
	r.culler = culling.NewCuller(cfg, r.runner)
	r.classifier = relevance.NewClassifier(cfg, r.runner, r.proc)
	r.collector = dynamicmesh.NewCollector(cfg, r.runner)
	return r
}

func (r *renderer) Scene() scene.Scene {
	return r.scene
}

func (r *renderer) Processor() *meshpass.Processor {
	return r.proc
}

func (r *renderer) RemovePrimitive(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.scene.Remove(index); err != nil {
		return err
	}
	for state := range r.states {
		state.Forget(index)
	}
	return nil
}

func (r *renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for state := range r.states {
		state.Close()
	}
	clear(r.states)
}

func (r *renderer) Render(ctx context.Context, family *view.Family) (stats FrameStats, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return stats, ErrClosed
	}
	if family == nil {
		return stats, fmt.Errorf("%w: nil family", view.ErrInvalidFamily)
	}
	if err := family.Validate(); err != nil {
		return stats, err
	}
	stats.FrameNumber = family.FrameNumber

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: frame %d: %v", ErrFramePanic, family.FrameNumber, rec)
			log.Printf("[Renderer] %v", err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	done := r.time(StageCachedCommands)
	rebuilt := r.scene.UpdateCachedCommands(r.proc)
	done()

	stats.Views = make([]ViewStats, len(family.Views))
	err = r.renderFamily(ctx, family, stats.Views)

	r.scene.ClearMoved()
	r.proc.Table().ResetOneFrameIDs()
	for _, index := range r.stale {
		// the primitive may have been removed since; there is nothing to rebuild then
		_ = r.scene.MarkStale(int(index))
	}
	r.stale = r.stale[:0]

	if r.cfg.DebugLogging {
		log.Printf("[Renderer] frame %d: %d views, %d cached primitives rebuilt, %d draws",
			family.FrameNumber, len(family.Views), rebuilt, stats.NumDraws())
	}
	if r.profiler != nil {
		r.profiler.Count("draws", stats.NumDraws())
		r.profiler.Tick()
	}
	return stats, err
}

// renderFamily runs every stage under the scene's read lock. Visibility is computed for all
// views first so stereo pairs can be merged before relevance.
func (r *renderer) renderFamily(ctx context.Context, family *view.Family, stats []ViewStats) error {
	r.scene.RLock()
	defer r.scene.RUnlock()

	var errs []error
	for i, v := range family.Views {
		if err := r.computeVisibility(family, v, &stats[i]); err != nil {
			errs = append(errs, fmt.Errorf("view %d: %w", i, err))
		}
	}
	mergeStereoVisibility(family)

	for i, v := range family.Views {
		if err := r.buildView(family, v, &stats[i]); err != nil {
			errs = append(errs, fmt.Errorf("view %d: %w", i, err))
		}
		if err := ctx.Err(); err != nil {
			v.EndFrame()
			errs = append(errs, err)
			continue
		}
		r.submitView(v, &stats[i])
		v.EndFrame()
	}
	return errors.Join(errs...)
}

// viewState returns the view's persistent state, creating it or replacing its occlusion state
// when the family asks for a different strategy.
func (r *renderer) viewState(family *view.Family, v *view.View) *view.State {
	strategy := family.OcclusionStrategy(v.Index(), r.cfg)
	cfg := r.cfg
	if strategy != config.OcclusionNone {
		cfg.OcclusionStrategy = strategy
	}
	switch {
	case v.State == nil:
		v.State = view.NewState(cfg, r.runner, r.occlusionOptions...)
	case strategy != config.OcclusionNone && v.State.Occlusion.Strategy() != strategy:
		v.State.Occlusion.Close()
		v.State.Occlusion = occlusion.NewState(cfg, r.runner, r.occlusionOptions...)
	}
	r.states[v.State] = struct{}{}
	return v.State
}

func (r *renderer) computeVisibility(family *view.Family, v *view.View, stats *ViewStats) error {
	s := r.scene
	state := r.viewState(family, v)
	n := s.NumPrimitives()
	v.BeginFrame(family.FrameNumber, family.Time, n)
	if v.IgnoreExistingQueries {
		state.ResetHistory()
	}

	done := r.time(StageHLOD)
	state.HLOD.Update(s, lod.HLODFrame{
		ViewOrigin:   v.Origin(),
		FrameNumber:  family.FrameNumber,
		SyncInterval: r.cfg.HLODSyncInterval,
		Dithered:     r.cfg.DitheredLODTransitions,
	})
	done()

	var errs []error
	done = r.time(StageCull)
	res, err := r.culler.Cull(s, &culling.Input{
		ViewOrigin:          v.Origin(),
		Frustum:             v.Frustum(),
		CustomQuery:         v.CustomQuery,
		Hidden:              v.Hidden,
		ShowOnly:            v.ShowOnly,
		DisableDistanceCull: family.ShowFlags.DisableDistanceCulling,
		ForcedVisible:       &state.HLOD.ForcedVisible,
		ForcedHidden:        &state.HLOD.ForcedHidden,
		Visibility:          &v.Visibility,
		PotentiallyFading:   &v.PotentiallyFading,
		DistanceCullFading:  &v.DistanceCullFading,
	})
	done()
	stats.Culling = res
	if err != nil {
		errs = append(errs, err)
	}

	done = r.time(StageOcclusion)
	defer done()
	if family.OcclusionStrategy(v.Index(), r.cfg) == config.OcclusionNone {
		v.DefinitelyUnoccluded.Resize(n)
		v.DefinitelyUnoccluded.Or(&v.Visibility)
		return errors.Join(errs...)
	}
	width, height := v.Size()
	occ, err := state.Occlusion.Occlude(s, &occlusion.Input{
		View:                  v,
		ViewOrigin:            v.Origin(),
		ViewProj:              v.ViewProjection(),
		Frustum:               v.Frustum(),
		ScreenMultiple:        v.ScreenMultiple(),
		Now:                   family.Time,
		NumPossiblePixels:     float32(width * height),
		IgnoreExistingQueries: v.IgnoreExistingQueries,
		// Paired eyes take turns issuing queries.
		SkipSubmission:       r.cfg.RoundRobinOcclusion && v.StereoPair >= 0 && (family.FrameNumber+uint32(v.Index()))%2 == 1,
		Visibility:           &v.Visibility,
		DefinitelyUnoccluded: &v.DefinitelyUnoccluded,
	})
	stats.Occlusion = occ
	if err != nil {
		errs = append(errs, fmt.Errorf("occlusion: %w", err))
	}
	return errors.Join(errs...)
}

// mergeStereoVisibility gives both eyes of a pair the union of their visible primitives.
func mergeStereoVisibility(family *view.Family) {
	for i, v := range family.Views {
		if v.StereoPair <= i {
			continue
		}
		other := family.Views[v.StereoPair]
		v.Visibility.Or(&other.Visibility)
		other.Visibility.CopyFrom(&v.Visibility)
		v.DefinitelyUnoccluded.Or(&other.DefinitelyUnoccluded)
		other.DefinitelyUnoccluded.CopyFrom(&v.DefinitelyUnoccluded)
	}
}

func (r *renderer) buildView(family *view.Family, v *view.View, stats *ViewStats) error {
	s := r.scene
	state := v.State
	var errs []error

	done := r.time(StageFade)
	fade := state.Fade.Update(lod.FadeFrame{
		FrameNumber:     family.FrameNumber,
		PrevFrameNumber: state.PrevFrameNumber,
		Now:             family.Time,
		FadeTime:        r.cfg.FadeTime,
		Disabled:        r.cfg.DisableLODFade,
	}, &v.PotentiallyFading, &v.Visibility)
	v.FadeUniforms = fade.Uniforms
	stats.NumFadingVisible = fade.ForcedVisible

	lag := float32(0)
	if r.cfg.DitheredLODTransitions {
		lag = r.cfg.TemporalLODLag
	}
	state.TemporalLOD.Update(v.Origin(), r.cfg.LODDistanceFactor, family.Time, lag)
	v.DitherAlpha = state.TemporalLOD.Transition(family.Time)
	done()

	done = r.time(StageRelevance)
	rel, err := r.classifier.Compute(s, v, family)
	done()
	stats.Relevance = rel
	if err != nil {
		errs = append(errs, err)
	}

	if !family.ShowFlags.DisableDynamicMeshes && len(v.DynamicElements) > 0 {
		done = r.time(StageDynamic)
		v.DynamicMeshes, stats.Dynamic = r.collector.Collect(v, s, v.DynamicElements, v.Arena)
		done()
	}

	done = r.time(StagePasses)
	stats.NumDroppedDraws = r.setupPasses(v)
	done()

	stats.NumVisible = v.NumVisible()
	state.PrevFrameNumber = family.FrameNumber
	state.NumFrames++
	return errors.Join(errs...)
}

// setupPasses turns the view's mesh lists into sorted, instanced draw lists. Commands that fail
// to build are dropped and logged.
//
// Returns:
//   - int: the number of dropped draws
func (r *renderer) setupPasses(v *view.View) int {
	s := r.scene
	bounds := s.Bounds()
	center := func(id int32) mgl32.Vec3 {
		return bounds[id].Bounds.Origin
	}
	sortParams := meshpass.TranslucentSortParams{
		Policy:     meshpass.TranslucentSortPolicy(r.cfg.TranslucentSortPolicy),
		ViewOrigin: v.Origin(),
		ViewMatrix: v.ViewMatrix(),
		Axis:       r.cfg.TranslucentSortAxis,
	}

	dropped := 0
	drop := func(pass meshpass.Pass, primitive int, err error) {
		dropped++
		log.Printf("[Renderer] view %d %s: primitive %d dropped: %v", v.Index(), pass, primitive, err)
	}

	for pass := range meshpass.NumPasses {
		numStatic := len(v.StaticMeshes[pass]) + len(v.DynamicStaticMeshes[pass])
		if numStatic == 0 && len(v.DynamicMeshes) == 0 {
			continue
		}
		cmds := make([]meshpass.VisibleMeshDrawCommand, 0, numStatic)
		list := s.CachedList(pass)

		for _, ref := range v.StaticMeshes[pass] {
			info := s.Info(ref.Primitive)
			if info == nil {
				continue
			}
			var cmd *meshpass.MeshDrawCommand
			cached, ok := info.CachedCommand(pass, ref.MeshIndex)
			if ok {
				cmd = list.Command(cached)
			}
			if cmd == nil {
				drop(pass, ref.Primitive, errors.New("cached command missing"))
				continue
			}
			cmds = append(cmds, meshpass.VisibleMeshDrawCommand{
				Command:       cmd,
				StateBucketID: cached.StateBucketID,
				PrimitiveID:   int32(ref.Primitive),
				SortKey:       cached.SortKey,
				FillMode:      cached.FillMode,
				CullMode:      cached.CullMode,
			})
		}

		for _, ref := range v.DynamicStaticMeshes[pass] {
			info := s.Info(ref.Primitive)
			if info == nil || ref.MeshIndex >= len(info.Primitive.StaticMeshes) {
				continue
			}
			batch := &info.Primitive.StaticMeshes[ref.MeshIndex]
			cmd, err := dynamicmesh.BuildCommand(r.proc, v.Arena, pass, batch, ref.Primitive)
			if err != nil {
				drop(pass, ref.Primitive, err)
				continue
			}
			cmds = append(cmds, cmd)
		}

		for i := range v.DynamicMeshes {
			m := &v.DynamicMeshes[i]
			if !m.Passes.Has(pass) || !r.proc.ShouldDraw(pass, m.Batch) {
				continue
			}
			cmd, err := dynamicmesh.BuildCommand(r.proc, v.Arena, pass, m.Batch, m.Primitive)
			if err != nil {
				drop(pass, m.Primitive, err)
				continue
			}
			cmds = append(cmds, cmd)
		}

		if len(cmds) == 0 {
			continue
		}
		if pass.IsTranslucent() {
			meshpass.UpdateTranslucentSortKeys(cmds, sortParams, center)
		}
		meshpass.SortVisibleCommands(cmds)
		out, ids, maxInstances := meshpass.BuildPrimitiveIDBuffer(r.cfg.DynamicInstancing, cmds, v.Arena)
		v.Passes[pass] = view.PassOutput{Commands: out, PrimitiveIDs: ids, MaxInstances: maxInstances}
	}
	return dropped
}

func (r *renderer) submitView(v *view.View, stats *ViewStats) {
	done := r.time(StageSubmit)
	defer done()

	for pass := range meshpass.NumPasses {
		out := v.Passes[pass]
		if len(out.Commands) == 0 {
			continue
		}
		err := r.backend.Submit(v, pass, out.Commands, out.PrimitiveIDs)
		var lost *meshpass.PipelineUnavailableError
		switch {
		case err == nil:
			stats.NumDraws += len(out.Commands)
		case errors.As(err, &lost):
			dropped := r.invalidatePipelines(out, lost.IDs)
			stats.NumDraws += len(out.Commands) - dropped
			stats.NumDroppedDraws += dropped
			stats.NumLostPipelines += len(lost.IDs)
			log.Printf("[Renderer] view %d %s: %d draws dropped, recreating pipelines %v", v.Index(), pass, dropped, lost.IDs)
		default:
			stats.NumFailedPasses++
			log.Printf("[Renderer] view %d %s: submit failed: %v", v.Index(), pass, err)
		}
	}
}

// invalidatePipelines detaches lost pipeline states from the table and queues every primitive
// drawn with them for a cached command rebuild, which creates the states again.
//
// Returns:
//   - int: the number of commands that used a lost pipeline
func (r *renderer) invalidatePipelines(out view.PassOutput, ids []meshpass.PipelineID) int {
	table := r.proc.Table()
	for _, id := range ids {
		table.Invalidate(id)
	}
	dropped := 0
	for _, c := range out.Commands {
		if !slices.Contains(ids, c.Command.PipelineID) {
			continue
		}
		dropped++
		first := int(c.PrimitiveIDBufferOffset)
		last := min(first+int(max(c.Command.NumInstances, 1)), len(out.PrimitiveIDs))
		if first >= last {
			r.stale = append(r.stale, c.PrimitiveID)
			continue
		}
		r.stale = append(r.stale, out.PrimitiveIDs[first:last]...)
	}
	return dropped
}

func (r *renderer) time(stage profiler.Stage) func() {
	if r.profiler == nil {
		return func() {}
	}
	return r.profiler.Time(stage)
}
