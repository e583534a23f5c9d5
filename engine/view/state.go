package view

import (
	"github.com/Carmen-Shannon/oxy-vis/engine/config"
	"github.com/Carmen-Shannon/oxy-vis/engine/lod"
	"github.com/Carmen-Shannon/oxy-vis/engine/occlusion"
	"github.com/Carmen-Shannon/oxy-vis/engine/task"
)

// State is everything a view keeps from one frame to the next. It is memory only and starts
// empty, so a new view renders without history.
type State struct {
	Occlusion   *occlusion.State
	Fade        *lod.DistanceFadeStates
	HLOD        *lod.HLODState
	TemporalLOD lod.TemporalLODState

	// PrevFrameNumber is the last frame the view was rendered.
	PrevFrameNumber uint32
	// NumFrames counts the frames rendered with this state.
	NumFrames uint64
}

// NewState creates empty persistent state for a view.
//
// Parameters:
//   - cfg: the renderer configuration, with the occlusion strategy the view uses
//   - runner: the worker pool used by occlusion
//   - options: occlusion collaborators such as a query backend
//
// Returns:
//   - *State: the new state
func NewState(cfg config.Config, runner task.Runner, options ...occlusion.StateBuilderOption) *State {
	return &State{
		Occlusion: occlusion.NewState(cfg, runner, options...),
		Fade:      lod.NewDistanceFadeStates(),
		HLOD:      lod.NewHLODState(),
	}
}

// Forget drops everything recorded for a removed primitive.
func (s *State) Forget(index int) {
	s.Occlusion.Forget(index)
	s.Fade.Forget(index)
}

// ResetHistory drops fade and HLOD history, for example after a camera cut. Occlusion history is
// reset through the IgnoreExistingQueries flag of the frame.
func (s *State) ResetHistory() {
	s.Fade.Reset()
	s.HLOD.Reset()
	s.TemporalLOD = lod.TemporalLODState{}
}

// Close joins background occlusion work and releases every query.
func (s *State) Close() {
	s.Occlusion.Close()
}
