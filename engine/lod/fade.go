// Package lod tracks distance-cull fades, hierarchical LOD visibility and per-primitive level of
// detail selection for a view.
package lod

import (
	"github.com/Carmen-Shannon/oxy-vis/common"
)

// FadeTimeScaleBias maps the current time t to a fade alpha of Scale*t + Bias.
type FadeTimeScaleBias struct {
	Scale float32
	Bias  float32
}

// Alpha returns the clamped fade alpha at time now.
func (f FadeTimeScaleBias) Alpha(now float32) float32 {
	return common.Clamp(f.Scale*now+f.Bias, 0, 1)
}

// IsZero reports whether no fade is configured.
func (f FadeTimeScaleBias) IsZero() bool {
	return f.Scale == 0 && f.Bias == 0
}

// PrimitiveFadingState is the persistent distance-cull fade state of one primitive in one view.
type PrimitiveFadingState struct {
	FadeTimeScaleBias FadeTimeScaleBias
	// FrameNumber is the last frame the state was updated.
	FrameNumber uint32
	// EndTime is when the active fade reaches its target alpha.
	EndTime float32
	// IsVisible is the distance-cull visibility the state last saw.
	IsVisible bool
	// Valid is false for a state created this frame.
	Valid bool
}

// Fading reports whether a fade is in progress.
func (s *PrimitiveFadingState) Fading() bool {
	return !s.FadeTimeScaleBias.IsZero()
}

// update records this frame's distance-cull visibility, starting or reversing a fade when it
// changed since the last update.
func (s *PrimitiveFadingState) update(visible bool, now, fadeTime float32, frameNumber uint32) {
	if s.Valid && s.IsVisible != visible {
		if !s.Fading() {
			s.EndTime = now + fadeTime
			if visible {
				s.FadeTimeScaleBias = FadeTimeScaleBias{Scale: 1 / fadeTime, Bias: -now / fadeTime}
			} else {
				s.FadeTimeScaleBias = FadeTimeScaleBias{Scale: -1 / fadeTime, Bias: 1 + now/fadeTime}
			}
		} else {
			// a*t+b = -a*t+b' keeps the alpha at t.
			f := &s.FadeTimeScaleBias
			f.Bias = 2*now*f.Scale + f.Bias
			f.Scale = -f.Scale
			if visible {
				s.EndTime = (1 - f.Bias) / f.Scale
			} else {
				s.EndTime = -f.Bias / f.Scale
			}
		}
	}
	s.FrameNumber = frameNumber
	s.IsVisible = visible
	s.Valid = true
}

// FadeFrame carries the frame values a fade update depends on.
type FadeFrame struct {
	FrameNumber     uint32
	PrevFrameNumber uint32
	Now             float32
	FadeTime        float32
	// Disabled skips fade transitions this frame, for example after a camera cut.
	Disabled bool
}

// DistanceFadeStates holds a view's fading states keyed by primitive index.
type DistanceFadeStates struct {
	states map[int]*PrimitiveFadingState
}

// NewDistanceFadeStates creates an empty state table.
func NewDistanceFadeStates() *DistanceFadeStates {
	return &DistanceFadeStates{states: make(map[int]*PrimitiveFadingState)}
}

// Len returns the number of tracked primitives.
func (d *DistanceFadeStates) Len() int {
	return len(d.states)
}

// State returns the state of a primitive, or nil.
func (d *DistanceFadeStates) State(index int) *PrimitiveFadingState {
	return d.states[index]
}

// Forget drops the state of a primitive, for example after it is removed from the scene.
func (d *DistanceFadeStates) Forget(index int) {
	delete(d.states, index)
}

// Reset drops every state.
func (d *DistanceFadeStates) Reset() {
	clear(d.states)
}

// FadeResult lists the primitives that received an active fade this frame.
type FadeResult struct {
	// Uniforms maps a fading primitive to its fade parameters.
	Uniforms map[int]FadeTimeScaleBias
	// ForcedVisible counts primitives kept visible while fading out.
	ForcedVisible int
}

// Update prunes stale and finished states, then updates the state of every potentially fading
// primitive from its visibility bit. A primitive fading out is set visible again so the fade
// can play.
//
// Parameters:
//   - frame: the frame values
//   - potentiallyFading: primitives inside a fade band this frame
//   - visibility: the view's visibility bitset, updated in place
//
// Returns:
//   - FadeResult: the active fades
func (d *DistanceFadeStates) Update(frame FadeFrame, potentiallyFading, visibility *common.BitSet) FadeResult {
	for index, s := range d.states {
		if s.FrameNumber != frame.PrevFrameNumber || (s.Fading() && frame.Now >= s.EndTime) {
			delete(d.states, index)
		}
	}

	res := FadeResult{Uniforms: make(map[int]FadeTimeScaleBias)}
	if frame.Disabled || frame.FadeTime <= 0 {
		return res
	}

	for index := range potentiallyFading.All() {
		visible := visibility.Test(index)
		s, ok := d.states[index]
		if !ok {
			s = &PrimitiveFadingState{}
			d.states[index] = s
		}
		s.update(visible, frame.Now, frame.FadeTime, frame.FrameNumber)
		if !s.Fading() {
			continue
		}
		if !visible {
			visibility.Set(index)
			res.ForcedVisible++
		}
		res.Uniforms[index] = s.FadeTimeScaleBias
	}
	return res
}
