package lod

import (
	"github.com/Carmen-Shannon/oxy-vis/common"
	"github.com/Carmen-Shannon/oxy-vis/engine/scene"
	"github.com/go-gl/mathgl/mgl32"
)

const nearlyZero = 1e-8

// HLODNodeState is the persistent visibility state of one HLOD proxy in one view.
type HLODNodeState struct {
	IsVisible  bool
	WasVisible bool
	IsFading   bool

	updateCount uint32
}

// HLODFrame carries the per-frame inputs of an HLOD update.
type HLODFrame struct {
	// ViewOrigin is the camera position used for the draw range test.
	ViewOrigin mgl32.Vec3
	// FrameNumber is the frame being rendered.
	FrameNumber uint32
	// SyncInterval is the number of frames between dithered transition updates.
	SyncInterval uint32
	// Dithered enables dithered transitions for nodes whose meshes allow them.
	Dithered bool
}

// IsSyncFrame reports whether dithered HLOD transitions may change state this frame.
func (f HLODFrame) IsSyncFrame() bool {
	return f.SyncInterval <= 1 || f.FrameNumber%f.SyncInterval == 0
}

// HLODState holds a view's HLOD visibility: persistent node states plus the per-frame bitsets
// read by the culling stage.
type HLODState struct {
	// FadingLOD marks primitives taking part in an HLOD dither fade this frame.
	FadingLOD common.BitSet
	// FadingOutLOD marks the fading primitives that are fading out.
	FadingOutLOD common.BitSet
	// ForcedVisible marks primitives that skip distance culling this frame.
	ForcedVisible common.BitSet
	// ForcedHidden marks primitives hidden by an HLOD proxy this frame.
	ForcedHidden common.BitSet

	nodes       map[int]*HLODNodeState
	updateCount uint32
}

// NewHLODState creates an empty HLOD state.
func NewHLODState() *HLODState {
	return &HLODState{nodes: make(map[int]*HLODNodeState)}
}

// Node returns the persistent state of an HLOD proxy, or nil.
func (h *HLODState) Node(index int) *HLODNodeState {
	return h.nodes[index]
}

// Reset drops every node state.
func (h *HLODState) Reset() {
	clear(h.nodes)
}

func (h *HLODState) node(index int) *HLODNodeState {
	n, ok := h.nodes[index]
	if !ok {
		n = &HLODNodeState{}
		h.nodes[index] = n
	}
	return n
}

// Update recomputes the per-frame bitsets from the scene's HLOD proxies. Nodes are visited in
// index order. A fading node forces itself and its direct children visible and hides everything
// further down. A stable visible node hides all of its descendants. An invisible node is hidden.
// The caller must hold the scene's read lock.
//
// Parameters:
//   - s: the scene
//   - frame: the frame inputs
func (h *HLODState) Update(s scene.Scene, frame HLODFrame) {
	n := s.NumPrimitives()
	h.FadingLOD.Resize(n)
	h.FadingOutLOD.Resize(n)
	h.ForcedVisible.Resize(n)
	h.ForcedHidden.Resize(n)

	for index := range h.nodes {
		if !s.IsValid(index) || len(s.HLODChildren(index)) == 0 {
			delete(h.nodes, index)
		}
	}

	h.updateCount++
	sync := frame.IsSyncFrame()
	bounds := s.Bounds()

	for _, index := range s.HLODNodes() {
		info := s.Info(index)
		if info == nil || len(info.Primitive.StaticMeshes) == 0 {
			continue
		}
		state := h.node(index)
		if state.updateCount == h.updateCount {
			continue
		}

		b := bounds[index]
		forcedIntoView := b.MinDrawDistanceSq < nearlyZero
		inRange := b.Bounds.BoxDistanceSquaredTo(frame.ViewOrigin) >= b.MinDrawDistanceSq

		if frame.Dithered && info.Primitive.StaticMeshes[0].DitheredLODTransition && !forcedIntoView {
			if sync {
				changed := inRange != state.WasVisible
				if state.IsFading {
					state.IsFading = false
				} else if changed {
					state.IsFading = true
				}
				state.WasVisible = state.IsVisible
				state.IsVisible = inRange
			}
		} else {
			state.WasVisible = state.IsVisible
			state.IsVisible = inRange || forcedIntoView
			state.IsFading = false
		}

		switch {
		case state.IsFading:
			h.FadingLOD.Set(index)
			h.FadingOutLOD.SetTo(index, !state.IsVisible)
			h.ForcedVisible.Set(index)
			h.fadeChildren(s, index, state, state.IsVisible)
		case state.IsVisible:
			h.ForcedVisible.Set(index)
			h.hideChildren(s, index)
		default:
			h.ForcedHidden.Set(index)
		}
	}
}

// fadeChildren forces the direct children of a fading node visible and hides the level below.
func (h *HLODState) fadeChildren(s scene.Scene, index int, state *HLODNodeState, fadingOut bool) {
	state.updateCount = h.updateCount
	for _, child := range s.HLODChildren(index) {
		if !s.IsValid(child) || child >= h.FadingLOD.Len() {
			continue
		}
		h.FadingLOD.Set(child)
		h.FadingOutLOD.SetTo(child, fadingOut)
		h.ForcedHidden.Clear(child)
		h.ForcedVisible.Set(child)
		if len(s.HLODChildren(child)) > 0 {
			h.hideChildren(s, child)
		}
	}
}

// hideChildren hides every descendant of a node once per update.
func (h *HLODState) hideChildren(s scene.Scene, index int) {
	state := h.node(index)
	if state.updateCount == h.updateCount {
		return
	}
	state.updateCount = h.updateCount
	for _, child := range s.HLODChildren(index) {
		if !s.IsValid(child) || child >= h.ForcedHidden.Len() {
			continue
		}
		h.ForcedHidden.Set(child)
		if len(s.HLODChildren(child)) > 0 {
			h.hideChildren(s, child)
		}
	}
}
