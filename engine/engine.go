// Package engine drives the visibility pipeline headlessly: it ticks a renderer over a scene at a
// fixed rate, moving the camera and rendering one view family per tick.
package engine

import (
	"cmp"
	"context"
	"log"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-vis/engine/camera"
	"github.com/Carmen-Shannon/oxy-vis/engine/config"
	"github.com/Carmen-Shannon/oxy-vis/engine/profiler"
	"github.com/Carmen-Shannon/oxy-vis/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vis/engine/scene"
	"github.com/Carmen-Shannon/oxy-vis/engine/view"
)

// engine implements the Engine interface.
type engine struct {
	mu *sync.Mutex

	tickRateChannel chan time.Duration // Channel for dynamic tick rate updates

	running     bool
	quitChannel chan struct{}
	quitOnce    sync.Once // Ensures quitChannel is only closed once

	cfg      config.Config
	scene    scene.Scene
	renderer renderer.Renderer
	backend  renderer.Backend
	// recording is the default backend; it is cleared before every frame.
	recording *renderer.RecordingBackend

	rendererOptions []renderer.RendererBuilderOption
	profiler        *profiler.Profiler

	camera        camera.Camera
	views         []*view.View
	showFlags     view.ShowFlags
	mobile        bool
	strategies    map[int]config.OcclusionStrategy
	width, height int

	engineTickRate time.Duration
	tickCallback   func(deltaTime float32)
	frameCallback  func(stats renderer.FrameStats, err error)
	maxFrames      uint32

	frameNumber uint32
	time        float32
}

// Engine is the main entry point of a headless run.
type Engine interface {
	// Renderer returns the renderer driven by the engine.
	Renderer() renderer.Renderer

	// Scene returns the scene being rendered.
	Scene() scene.Scene

	// Camera returns the camera applied to the first view each frame, or nil.
	Camera() camera.Camera

	// Views returns the views rendered each frame.
	Views() []*view.View

	// FrameNumber returns the number of the last rendered frame.
	FrameNumber() uint32

	// SetTickRate sets the tick rate in frames per second.
	// If the engine is running, the change takes effect immediately.
	//
	// Parameters:
	//   - fps: target frames per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the function called at the start of each tick, before the camera
	// is read. Use it to move the camera and mutate the scene.
	//
	// Parameters:
	//   - callback: receives the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SetFrameCallback registers the function called after each frame with its statistics.
	//
	// Parameters:
	//   - callback: receives the frame statistics and the Render error
	SetFrameCallback(callback func(stats renderer.FrameStats, err error))

	// SetShowFlags replaces the show flags of the following frames.
	SetShowFlags(flags view.ShowFlags)

	// Step renders one frame immediately, advancing time by one tick interval.
	//
	// Parameters:
	//   - ctx: passed to Render
	//
	// Returns:
	//   - renderer.FrameStats: the frame statistics
	//   - error: the Render error
	Step(ctx context.Context) (renderer.FrameStats, error)

	// Run renders a frame every tick until ctx is done, Quit is called or the frame limit is
	// reached.
	//
	// Returns:
	//   - error: ctx.Err() if the context ended the run, nil otherwise
	Run(ctx context.Context) error

	// Quit stops Run. Safe to call multiple times; subsequent calls are no-ops.
	Quit()

	// Close stops Run and closes the renderer.
	Close()
}

// NewEngine creates a headless engine for a scene. Without WithBackend the draw lists go to a
// RecordingBackend that only keeps the last frame. Without WithViews a single default view is
// rendered.
//
// Parameters:
//   - cfg: the pipeline configuration
//   - s: the scene to render (must not be nil)
//   - options: functional options for engine configuration (backend, camera, tick rate, etc.)
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(cfg config.Config, s scene.Scene, options ...EngineBuilderOption) Engine {
	if s == nil {
		panic("engine: NewEngine requires a non-nil Scene")
	}
	e := &engine{
		mu:              &sync.Mutex{},
		tickRateChannel: make(chan time.Duration, 1),
		quitChannel:     make(chan struct{}),
		cfg:             cfg,
		scene:           s,
		engineTickRate:  time.Second / 60,
	}

	for _, opt := range options {
		opt(e)
	}

	if e.backend == nil {
		e.recording = renderer.NewRecordingBackend()
		e.backend = e.recording
	}
	if e.profiler != nil {
		e.rendererOptions = append(e.rendererOptions, renderer.WithProfiler(e.profiler))
	}
	e.renderer = renderer.NewRenderer(cfg, s, e.backend, e.rendererOptions...)

	if len(e.views) == 0 {
		e.views = []*view.View{view.NewView(0)}
	}
	w, h := e.views[0].Size()
	e.width, e.height = cmp.Or(e.width, w), cmp.Or(e.height, h)
	for _, v := range e.views {
		v.SetViewport(e.width, e.height)
	}
	if e.camera != nil {
		e.camera.SetAspect(float32(e.width) / float32(e.height))
	}
	return e
}

func (e *engine) Renderer() renderer.Renderer {
	return e.renderer
}

func (e *engine) Scene() scene.Scene {
	return e.scene
}

func (e *engine) Camera() camera.Camera {
	return e.camera
}

func (e *engine) Views() []*view.View {
	return e.views
}

func (e *engine) FrameNumber() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frameNumber
}

func (e *engine) Step(ctx context.Context) (renderer.FrameStats, error) {
	return e.frame(ctx, float32(e.engineTickRate.Seconds()))
}

func (e *engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.quitChannel:
			return nil
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			e.frame(ctx, dt)
			if e.maxFrames > 0 && e.FrameNumber() >= e.maxFrames {
				return nil
			}
		}
	}
}

// frame runs the tick callback, applies the camera and renders one family.
func (e *engine) frame(ctx context.Context, dt float32) (renderer.FrameStats, error) {
	if e.tickCallback != nil {
		e.tickCallback(dt)
	}

	e.mu.Lock()
	e.frameNumber++
	e.time += dt
	frameNumber, now := e.frameNumber, e.time
	e.mu.Unlock()

	if e.camera != nil {
		e.camera.Update()
		if e.camera.Apply(e.views[0]) && e.cfg.DebugLogging {
			log.Printf("[Engine] frame %d: camera cut", frameNumber)
		}
	}
	if e.recording != nil {
		e.recording.Reset()
	}

	family := view.NewFamily(frameNumber, now, e.views...)
	family.ShowFlags = e.showFlags
	family.MobileShading = e.mobile
	family.OcclusionStrategies = e.strategies

	stats, err := e.renderer.Render(ctx, family)
	if err != nil {
		log.Printf("[Engine] frame %d: %v", frameNumber, err)
	}
	if e.frameCallback != nil {
		e.frameCallback(stats, err)
	}
	return stats, err
}

func (e *engine) Quit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
	})
}

func (e *engine) Close() {
	e.Quit()
	e.renderer.Close()
}

// SetTickRate sets the tick rate in frames per second.
// If the engine is running, the change takes effect immediately.
func (e *engine) SetTickRate(fps float64) {
	if fps <= 0 {
		fps = 60
	}
	newRate := time.Duration(float64(time.Second) / fps)

	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	if running {
		// Non-blocking send - if channel is full, replace the pending value
		select {
		case e.tickRateChannel <- newRate:
		default:
			select {
			case <-e.tickRateChannel:
			default:
			}
			e.tickRateChannel <- newRate
		}
	} else {
		e.engineTickRate = newRate
	}
}

func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

func (e *engine) SetFrameCallback(callback func(stats renderer.FrameStats, err error)) {
	e.frameCallback = callback
}

func (e *engine) SetShowFlags(flags view.ShowFlags) {
	e.showFlags = flags
}
