package occlusion

import (
	"github.com/Carmen-Shannon/oxy-vis/engine/config"
	"github.com/Carmen-Shannon/oxy-vis/engine/task"
)

// StateBuilderOption configures a State at creation.
type StateBuilderOption func(*State)

// WithQueryBackend sets the GPU collaborator used by the hardware query strategy. Without one
// every primitive keeps its last known state, which starts out visible.
func WithQueryBackend(backend QueryBackend) StateBuilderOption {
	return func(o *State) {
		if backend != nil {
			o.pool = newQueryPool(backend)
		}
	}
}

// WithHZBReadback sets the collaborator used by the HZB strategy.
func WithHZBReadback(rb HZBReadback) StateBuilderOption {
	return func(o *State) {
		o.readback = rb
	}
}

// WithPrecomputedVisibility enables baked visibility ahead of the configured strategy.
func WithPrecomputedVisibility(p *PrecomputedVisibility) StateBuilderOption {
	return func(o *State) {
		o.precomputed = p
	}
}

// NewState creates a view's occlusion state.
//
// Parameters:
//   - cfg: the renderer configuration
//   - runner: the worker pool for the parallel fetch
//   - options: collaborators
//
// Returns:
//   - *State: the state
func NewState(cfg config.Config, runner task.Runner, options ...StateBuilderOption) *State {
	o := &State{
		cfg:      cfg,
		runner:   runner,
		history:  NewHistory(cfg.NumBufferedOcclusionFrames),
		hzb:      NewHZBTester(),
		software: NewSoftwareOcclusion(),
	}
	for _, option := range options {
		option(o)
	}
	return o
}
