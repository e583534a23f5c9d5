package lod

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-vis/common"
	"github.com/Carmen-Shannon/oxy-vis/engine/primitive"
	"github.com/Carmen-Shannon/oxy-vis/engine/scene"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProxy struct{}

func (stubProxy) ViewRelevance(primitive.ViewInfo) (primitive.Relevance, error) {
	return primitive.Relevance{DrawRelevance: true, StaticRelevance: true}, nil
}

func (stubProxy) DynamicMeshElements(primitive.ViewInfo, primitive.MeshCollector) error {
	return nil
}

func (stubProxy) OcclusionGeometry() (primitive.OccluderGeometry, bool) {
	return primitive.OccluderGeometry{}, false
}

func lodMeshes() []primitive.MeshBatch {
	return []primitive.MeshBatch{
		{LODIndex: 0, ScreenSize: 1.0, DitheredLODTransition: true},
		{LODIndex: 1, ScreenSize: 0.5, DitheredLODTransition: true},
		{LODIndex: 2, ScreenSize: 0.25, DitheredLODTransition: true},
	}
}

func fadeFrame(frame uint32, now float32) FadeFrame {
	return FadeFrame{FrameNumber: frame, PrevFrameNumber: frame - 1, Now: now, FadeTime: 0.25}
}

func TestFadeStartsOnVisibilityFlip(t *testing.T) {
	states := NewDistanceFadeStates()
	fading := common.NewBitSet(4)
	fading.Set(2)
	vis := common.NewBitSet(4)
	vis.Set(2)

	res := states.Update(fadeFrame(1, 0.0), &fading, &vis)
	assert.Empty(t, res.Uniforms, "a new state only records visibility")
	require.NotNil(t, states.State(2))
	assert.True(t, states.State(2).Valid)

	vis.Clear(2)
	res = states.Update(fadeFrame(2, 1.0), &fading, &vis)
	require.Contains(t, res.Uniforms, 2)
	assert.True(t, vis.Test(2), "fading out primitives stay visible")
	assert.Equal(t, 1, res.ForcedVisible)
	assert.InDelta(t, 1, res.Uniforms[2].Alpha(1.0), 1e-5)
	assert.InDelta(t, 0, res.Uniforms[2].Alpha(1.25), 1e-5)
	assert.InDelta(t, 1.25, states.State(2).EndTime, 1e-5)
}

func TestFadeReversalKeepsAlpha(t *testing.T) {
	states := NewDistanceFadeStates()
	fading := common.NewBitSet(1)
	fading.Set(0)
	vis := common.NewBitSet(1)
	vis.Set(0)

	states.Update(fadeFrame(1, 0.0), &fading, &vis)
	vis.Clear(0)
	states.Update(fadeFrame(2, 1.0), &fading, &vis)

	before := states.State(0).FadeTimeScaleBias.Alpha(1.1)
	vis.Set(0)
	res := states.Update(fadeFrame(3, 1.1), &fading, &vis)
	require.Contains(t, res.Uniforms, 0)
	after := res.Uniforms[0].Alpha(1.1)

	assert.InDelta(t, 0.6, before, 1e-4)
	assert.InDelta(t, before, after, 1e-5)
	assert.Greater(t, res.Uniforms[0].Scale, float32(0), "the fade now runs towards visible")
	assert.InDelta(t, 1.2, states.State(0).EndTime, 1e-4)
}

func TestFadeStatesArePruned(t *testing.T) {
	states := NewDistanceFadeStates()
	fading := common.NewBitSet(2)
	fading.Set(0)
	vis := common.NewBitSet(2)
	vis.Set(0)

	states.Update(fadeFrame(1, 0.0), &fading, &vis)
	vis.Clear(0)
	states.Update(fadeFrame(2, 1.0), &fading, &vis)
	require.True(t, states.State(0).Fading())

	// finished fades are dropped and a fresh state is recorded
	vis.Clear(0)
	res := states.Update(fadeFrame(3, 2.0), &fading, &vis)
	assert.Empty(t, res.Uniforms)
	assert.False(t, vis.Test(0))
	assert.False(t, states.State(0).Fading())

	// states skipped for a frame are dropped
	empty := common.NewBitSet(2)
	states.Update(fadeFrame(4, 3.0), &empty, &vis)
	states.Update(fadeFrame(5, 4.0), &empty, &vis)
	assert.Equal(t, 0, states.Len())
}

func TestFadeDisabledSkipsTransitions(t *testing.T) {
	states := NewDistanceFadeStates()
	fading := common.NewBitSet(1)
	fading.Set(0)
	vis := common.NewBitSet(1)

	frame := fadeFrame(1, 0)
	frame.Disabled = true
	res := states.Update(frame, &fading, &vis)
	assert.Empty(t, res.Uniforms)
	assert.Equal(t, 0, states.Len())
}

func TestComputeLODByScreenSize(t *testing.T) {
	params := &LODParams{ScreenMultiple: 1, DistanceFactor: 1}
	meshes := lodMeshes()

	cases := []struct {
		dist float32
		want int8
	}{
		{dist: 10, want: 2},
		{dist: 5, want: 1},
		{dist: 3, want: 0},
		{dist: 0.5, want: 0},
	}
	for _, c := range cases {
		mask, radiusSq := ComputeLOD(meshes, mgl32.Vec3{0, 0, c.dist}, 1, -1, params)
		assert.Equal(t, NewLODMask(c.want), mask, "distance %v", c.dist)
		assert.Greater(t, radiusSq, float32(0))
	}
}

func TestComputeLODForcedAndMin(t *testing.T) {
	meshes := lodMeshes()
	params := &LODParams{ScreenMultiple: 1, MinLOD: 1}

	mask, _ := ComputeLOD(meshes, mgl32.Vec3{0, 0, 3}, 1, -1, params)
	assert.Equal(t, NewLODMask(1), mask)

	mask, _ = ComputeLOD(meshes, mgl32.Vec3{0, 0, 3}, 1, 9, params)
	assert.Equal(t, NewLODMask(2), mask, "forced LOD is clamped to the LODs present")

	mask, _ = ComputeLOD(nil, mgl32.Vec3{}, 1, -1, params)
	assert.False(t, mask.IsValid())
}

func TestComputeLODDithered(t *testing.T) {
	params := &LODParams{
		ViewOrigins:         [2]mgl32.Vec3{{0, 0, 0}, {0, 0, 7}},
		ScreenMultiple:      1,
		DitheredTransitions: true,
	}
	mask, _ := ComputeLOD(lodMeshes(), mgl32.Vec3{0, 0, 10}, 1, -1, params)
	assert.True(t, mask.IsDithered())
	assert.True(t, mask.ContainsLOD(2))
	assert.True(t, mask.ContainsLOD(0))
}

func TestTemporalLODStateTransition(t *testing.T) {
	var state TemporalLODState
	state.Update(mgl32.Vec3{0, 0, 0}, 1, 0, 0.5)
	assert.Equal(t, float32(0), state.Transition(0))

	state.Update(mgl32.Vec3{0, 0, 5}, 1, 1.0, 0.5)
	assert.Equal(t, mgl32.Vec3{0, 0, 0}, state.Origins[0])
	assert.Equal(t, mgl32.Vec3{0, 0, 5}, state.Origins[1])
	assert.InDelta(t, 0.7, state.Transition(1.2), 1e-5)
	assert.InDelta(t, 1, state.Transition(3), 1e-5)

	state.Update(mgl32.Vec3{0, 0, 9}, 1, 1.2, 0)
	assert.Equal(t, state.Origins[0], state.Origins[1], "a zero lag collapses both samples")
}

func hlodScene(dithered bool) scene.Scene {
	node := primitive.MeshBatch{ScreenSize: 1, DitheredLODTransition: dithered}
	box := mgl32.Vec3{1, 1, 1}
	return scene.NewScene("hlod", scene.WithPrimitives(
		primitive.New(stubProxy{}, common.NewBoxSphereBounds(mgl32.Vec3{-2, 0, 0}, box)),
		primitive.New(stubProxy{}, common.NewBoxSphereBounds(mgl32.Vec3{2, 0, 0}, box)),
		primitive.New(stubProxy{}, common.NewBoxSphereBounds(mgl32.Vec3{}, mgl32.Vec3{3, 1, 1}),
			primitive.WithDrawDistance(100, 0),
			primitive.WithStaticMeshes(node),
			primitive.WithHLODChildren(0, 1),
		),
	))
}

func TestHLODFadeKeepsChildrenVisibleUntilSettled(t *testing.T) {
	s := hlodScene(true)
	h := NewHLODState()
	far := mgl32.Vec3{0, 0, 500}

	s.RLock()
	h.Update(s, HLODFrame{ViewOrigin: far, FrameNumber: 1, SyncInterval: 1, Dithered: true})
	s.RUnlock()

	require.NotNil(t, h.Node(2))
	assert.True(t, h.Node(2).IsFading)
	assert.True(t, h.FadingLOD.Test(2))
	assert.False(t, h.FadingOutLOD.Test(2), "the proxy fades in")
	for _, child := range []int{0, 1} {
		assert.True(t, h.FadingLOD.Test(child))
		assert.True(t, h.FadingOutLOD.Test(child), "children fade out")
		assert.True(t, h.ForcedVisible.Test(child))
		assert.False(t, h.ForcedHidden.Test(child))
	}

	s.RLock()
	h.Update(s, HLODFrame{ViewOrigin: far, FrameNumber: 2, SyncInterval: 1, Dithered: true})
	s.RUnlock()

	assert.False(t, h.Node(2).IsFading)
	assert.True(t, h.ForcedVisible.Test(2))
	for _, child := range []int{0, 1} {
		assert.False(t, h.FadingLOD.Test(child))
		assert.True(t, h.ForcedHidden.Test(child))
	}
}

func TestHLODSyncIntervalHoldsState(t *testing.T) {
	s := hlodScene(true)
	h := NewHLODState()

	h.Update(s, HLODFrame{ViewOrigin: mgl32.Vec3{0, 0, 500}, FrameNumber: 1, SyncInterval: 2, Dithered: true})
	assert.False(t, h.Node(2).IsVisible, "no transition off a sync frame")
	assert.True(t, h.ForcedHidden.Test(2))

	h.Update(s, HLODFrame{ViewOrigin: mgl32.Vec3{0, 0, 500}, FrameNumber: 2, SyncInterval: 2, Dithered: true})
	assert.True(t, h.Node(2).IsFading)
}

func TestHLODInstantTransitions(t *testing.T) {
	s := hlodScene(false)
	h := NewHLODState()

	h.Update(s, HLODFrame{ViewOrigin: mgl32.Vec3{0, 0, 5}, FrameNumber: 1, SyncInterval: 1})
	assert.True(t, h.ForcedHidden.Test(2))
	assert.False(t, h.ForcedHidden.Test(0))

	h.Update(s, HLODFrame{ViewOrigin: mgl32.Vec3{0, 0, 500}, FrameNumber: 2, SyncInterval: 1})
	assert.True(t, h.ForcedVisible.Test(2))
	assert.False(t, h.FadingLOD.Test(2))
	assert.True(t, h.ForcedHidden.Test(0))
	assert.True(t, h.ForcedHidden.Test(1))
}
