package engine

import (
	"time"

	"github.com/Carmen-Shannon/oxy-vis/engine/camera"
	"github.com/Carmen-Shannon/oxy-vis/engine/config"
	"github.com/Carmen-Shannon/oxy-vis/engine/profiler"
	"github.com/Carmen-Shannon/oxy-vis/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vis/engine/view"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithProfiling enables per-stage profiling. The renderer records its stages and logs the
// breakdown once per second.
//
// Parameters:
//   - enabled: if true, enables performance profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		if enabled {
			e.profiler = profiler.NewProfiler()
		} else {
			e.profiler = nil
		}
	}
}

// WithTickRate sets the tick rate in frames per second.
// Values <= 0 will be treated as the default (60Hz).
//
// Parameters:
//   - fps: target ticks per second (default 60)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTickRate(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			fps = 60.0
		}
		e.engineTickRate = time.Duration(float64(time.Second) / fps)
	}
}

// WithMaxFrames stops Run after n frames. Zero runs until Quit or the context ends.
func WithMaxFrames(n uint32) EngineBuilderOption {
	return func(e *engine) {
		e.maxFrames = n
	}
}

// WithBackend sends the draw lists to b instead of the default recording backend.
//
// Parameters:
//   - b: the backend
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithBackend(b renderer.Backend) EngineBuilderOption {
	return func(e *engine) {
		e.backend = b
	}
}

// WithRendererOptions passes options through to renderer.NewRenderer.
func WithRendererOptions(options ...renderer.RendererBuilderOption) EngineBuilderOption {
	return func(e *engine) {
		e.rendererOptions = append(e.rendererOptions, options...)
	}
}

// WithCamera applies c to the first view every frame.
//
// Parameters:
//   - c: the camera
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithCamera(c camera.Camera) EngineBuilderOption {
	return func(e *engine) {
		e.camera = c
	}
}

// WithViews sets the views rendered each frame, in family order.
func WithViews(views ...*view.View) EngineBuilderOption {
	return func(e *engine) {
		e.views = views
	}
}

// WithViewport sets the pixel size of every view.
//
// Parameters:
//   - width: view width in pixels
//   - height: view height in pixels
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithViewport(width, height int) EngineBuilderOption {
	return func(e *engine) {
		e.width = max(width, 1)
		e.height = max(height, 1)
	}
}

// WithShowFlags sets the initial show flags of every frame.
func WithShowFlags(flags view.ShowFlags) EngineBuilderOption {
	return func(e *engine) {
		e.showFlags = flags
	}
}

// WithMobileShading routes the base and translucent passes to their mobile variants.
func WithMobileShading(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.mobile = enabled
	}
}

// WithOcclusionStrategy overrides the configured occlusion strategy for one view.
//
// Parameters:
//   - viewIndex: the view's position in the family
//   - strategy: the strategy
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithOcclusionStrategy(viewIndex int, strategy config.OcclusionStrategy) EngineBuilderOption {
	return func(e *engine) {
		if e.strategies == nil {
			e.strategies = make(map[int]config.OcclusionStrategy)
		}
		e.strategies[viewIndex] = strategy
	}
}
