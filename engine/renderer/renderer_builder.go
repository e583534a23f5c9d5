package renderer

import (
	"github.com/Carmen-Shannon/oxy-vis/engine/meshpass"
	"github.com/Carmen-Shannon/oxy-vis/engine/occlusion"
	"github.com/Carmen-Shannon/oxy-vis/engine/profiler"
	"github.com/Carmen-Shannon/oxy-vis/engine/task"
)

// RendererBuilderOption is a functional option applied to a renderer during construction via NewRenderer.
type RendererBuilderOption func(*renderer)

// WithRunner shares a worker pool with the renderer instead of creating one from the config.
//
// Parameters:
//   - runner: the worker pool
//
// Returns:
//   - RendererBuilderOption: a function that applies the runner option to a renderer
func WithRunner(runner task.Runner) RendererBuilderOption {
	return func(r *renderer) {
		r.runner = runner
	}
}

// WithProfiler records per-stage timings of every frame into p and ticks it once per frame.
//
// Parameters:
//   - p: the profiler
//
// Returns:
//   - RendererBuilderOption: a function that applies the profiler option to a renderer
func WithProfiler(p *profiler.Profiler) RendererBuilderOption {
	return func(r *renderer) {
		r.profiler = p
	}
}

// WithPipelineStateBuilder sets the object that creates backend pipelines for new pipeline states.
// When the backend itself implements meshpass.PipelineStateBuilder it is used by default.
//
// Parameters:
//   - b: the builder
//
// Returns:
//   - RendererBuilderOption: a function that applies the builder option to a renderer
func WithPipelineStateBuilder(b meshpass.PipelineStateBuilder) RendererBuilderOption {
	return func(r *renderer) {
		r.pipelineBuilder = b
	}
}

// WithOcclusionOptions passes collaborators, such as a query backend or an HZB readback, to the
// occlusion state of every view the renderer creates state for.
//
// Parameters:
//   - options: the occlusion state options
//
// Returns:
//   - RendererBuilderOption: a function that applies the occlusion options to a renderer
func WithOcclusionOptions(options ...occlusion.StateBuilderOption) RendererBuilderOption {
	return func(r *renderer) {
		r.occlusionOptions = append(r.occlusionOptions, options...)
	}
}
