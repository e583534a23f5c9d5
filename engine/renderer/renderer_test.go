package renderer

import (
	"context"
	"errors"
	"testing"

	"github.com/Carmen-Shannon/oxy-vis/common"
	"github.com/Carmen-Shannon/oxy-vis/engine/config"
	"github.com/Carmen-Shannon/oxy-vis/engine/meshpass"
	"github.com/Carmen-Shannon/oxy-vis/engine/primitive"
	"github.com/Carmen-Shannon/oxy-vis/engine/profiler"
	"github.com/Carmen-Shannon/oxy-vis/engine/scene"
	"github.com/Carmen-Shannon/oxy-vis/engine/task"
	"github.com/Carmen-Shannon/oxy-vis/engine/view"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testProxy struct {
	panics bool
}

func (p testProxy) ViewRelevance(primitive.ViewInfo) (primitive.Relevance, error) {
	if p.panics {
		panic("proxy state corrupted")
	}
	return primitive.Relevance{
		DrawRelevance:     true,
		StaticRelevance:   true,
		OpaqueRelevance:   true,
		RenderInMainPass:  true,
		RenderInDepthPass: true,
	}, nil
}

func (testProxy) DynamicMeshElements(primitive.ViewInfo, primitive.MeshCollector) error {
	return nil
}

func (testProxy) OcclusionGeometry() (primitive.OccluderGeometry, bool) {
	return primitive.OccluderGeometry{}, false
}

// opaqueMesh is an instanceable opaque mesh; every primitive using it shares one state bucket.
func opaqueMesh() primitive.MeshBatch {
	return primitive.MeshBatch{
		UseForMaterial: true,
		VertexFactory: primitive.VertexFactory{
			Hash:                   3,
			Streams:                []primitive.VertexStream{{Buffer: 1, Stride: 32}},
			PrimitiveIDStreamIndex: 1,
		},
		Material: primitive.Material{
			ID:            1,
			ShaderHash:    9,
			BindingGroups: []uint32{4},
		},
		Topology:      wgpu.PrimitiveTopologyTriangleList,
		IndexBuffer:   2,
		IndexFormat:   wgpu.IndexFormatUint32,
		NumPrimitives: 12,
		NumVertices:   24,
		NumInstances:  1,
	}
}

func boxAt(pos mgl32.Vec3, opts ...primitive.PrimitiveBuilderOption) primitive.Primitive {
	base := []primitive.PrimitiveBuilderOption{primitive.WithStaticMeshes(opaqueMesh())}
	return primitive.New(testProxy{}, common.NewBoxSphereBounds(pos, mgl32.Vec3{1, 1, 1}), append(base, opts...)...)
}

func testConfig(options ...config.ConfigBuilderOption) config.Config {
	base := []config.ConfigBuilderOption{
		config.WithOcclusionStrategy(config.OcclusionNone),
		config.WithEarlyZPassMode(config.EarlyZNone),
	}
	return config.New(append(base, options...)...)
}

func newTestRenderer(t *testing.T, cfg config.Config, prims ...primitive.Primitive) (Renderer, *RecordingBackend) {
	t.Helper()
	backend := NewRecordingBackend()
	r := NewRenderer(cfg, scene.NewScene("renderer", scene.WithPrimitives(prims...)), backend, WithRunner(task.NewRunner(4, 16)))
	t.Cleanup(r.Close)
	return r, backend
}

func TestRenderScenario(t *testing.T) {
	r, backend := newTestRenderer(t, testConfig(),
		boxAt(mgl32.Vec3{0, 0, -5}),
		boxAt(mgl32.Vec3{500, 0, -5}),
		boxAt(mgl32.Vec3{0, 0, -500}, primitive.WithDrawDistance(0, 100)),
	)
	v := view.NewView(0)
	fam := view.NewFamily(1, 0, v)

	stats, err := r.Render(context.Background(), fam)
	require.NoError(t, err)

	assert.Equal(t, []bool{true, false, false}, v.Visibility.Bools())
	require.Len(t, stats.Views, 1)
	assert.Equal(t, 1, stats.Views[0].NumVisible)
	assert.Equal(t, uint32(1), stats.FrameNumber)

	sub, ok := backend.Pass(1, 0, meshpass.BasePass)
	require.True(t, ok)
	require.Len(t, sub.Draws, 1)
	assert.Equal(t, int32(0), sub.Draws[0].PrimitiveID)
	assert.Equal(t, []int32{0}, sub.PrimitiveIDs)
	assert.Equal(t, 1, stats.NumDraws())
}

func TestRenderMergesInstances(t *testing.T) {
	r, backend := newTestRenderer(t, testConfig(),
		boxAt(mgl32.Vec3{0, 0, -5}),
		boxAt(mgl32.Vec3{2, 0, -6}),
	)
	_, err := r.Render(context.Background(), view.NewFamily(1, 0, view.NewView(0)))
	require.NoError(t, err)

	sub, ok := backend.Pass(1, 0, meshpass.BasePass)
	require.True(t, ok)
	require.Len(t, sub.Draws, 1)
	assert.Equal(t, uint32(2), sub.Draws[0].Command.NumInstances)
	assert.ElementsMatch(t, []int32{0, 1}, sub.PrimitiveIDs)

	cached := r.Scene().Info(0)
	info, ok := cached.CachedCommand(meshpass.BasePass, 0)
	require.True(t, ok)
	assert.Equal(t, uint32(1), r.Scene().CachedList(meshpass.BasePass).Command(info).NumInstances, "the cached command is not modified")
}

func TestRenderWithoutInstancing(t *testing.T) {
	r, backend := newTestRenderer(t, testConfig(config.WithDynamicInstancing(false)),
		boxAt(mgl32.Vec3{0, 0, -5}),
		boxAt(mgl32.Vec3{2, 0, -6}),
	)
	_, err := r.Render(context.Background(), view.NewFamily(1, 0, view.NewView(0)))
	require.NoError(t, err)

	sub, ok := backend.Pass(1, 0, meshpass.BasePass)
	require.True(t, ok)
	assert.Len(t, sub.Draws, 2)
}

func TestRenderStereoUnion(t *testing.T) {
	r, backend := newTestRenderer(t, testConfig(),
		boxAt(mgl32.Vec3{0, 0, -5}),
		boxAt(mgl32.Vec3{0, 0, 5}),
	)
	proj := mgl32.Perspective(mgl32.DegToRad(90), 16.0/9.0, 0.1, 1000)
	left := view.NewView(0, view.WithStereoPair(1),
		view.WithMatrices(mgl32.LookAtV(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}), proj))
	right := view.NewView(1, view.WithStereoPair(0),
		view.WithMatrices(mgl32.LookAtV(mgl32.Vec3{}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 1, 0}), proj))

	_, err := r.Render(context.Background(), view.NewFamily(1, 0, left, right))
	require.NoError(t, err)

	for i, v := range []*view.View{left, right} {
		assert.Equal(t, []bool{true, true}, v.Visibility.Bools(), "view %d", i)
		sub, ok := backend.Pass(1, i, meshpass.BasePass)
		require.True(t, ok)
		assert.ElementsMatch(t, []int32{0, 1}, sub.PrimitiveIDs)
	}
}

func TestRenderHLODHidesChildrenAfterFade(t *testing.T) {
	cfg := testConfig(config.WithDitheredLODTransitions(true))
	cfg.HLODSyncInterval = 1
	node := opaqueMesh()
	node.ScreenSize = 1
	node.DitheredLODTransition = true
	r, _ := newTestRenderer(t, cfg,
		boxAt(mgl32.Vec3{-2, 0, -500}),
		boxAt(mgl32.Vec3{2, 0, -500}),
		primitive.New(testProxy{}, common.NewBoxSphereBounds(mgl32.Vec3{0, 0, -500}, mgl32.Vec3{3, 1, 1}),
			primitive.WithDrawDistance(100, 0),
			primitive.WithStaticMeshes(node),
			primitive.WithHLODChildren(0, 1),
		),
	)
	v := view.NewView(0)

	_, err := r.Render(context.Background(), view.NewFamily(1, 0, v))
	require.NoError(t, err)
	require.NotNil(t, v.State)
	assert.True(t, v.State.HLOD.Node(2).IsFading)
	for _, child := range []int{0, 1} {
		assert.False(t, v.State.HLOD.ForcedHidden.Test(child))
		assert.True(t, v.Visibility.Test(child), "children draw while the proxy fades in")
	}
	assert.True(t, v.Visibility.Test(2))

	_, err = r.Render(context.Background(), view.NewFamily(2, 0.1, v))
	require.NoError(t, err)
	assert.False(t, v.State.HLOD.Node(2).IsFading)
	for _, child := range []int{0, 1} {
		assert.True(t, v.State.HLOD.ForcedHidden.Test(child))
		assert.False(t, v.Visibility.Test(child))
	}
	assert.True(t, v.Visibility.Test(2))
}

func TestRenderPanickingProxyIsExcluded(t *testing.T) {
	r, backend := newTestRenderer(t, testConfig(),
		boxAt(mgl32.Vec3{0, 0, -5}),
		primitive.New(testProxy{panics: true}, common.NewBoxSphereBounds(mgl32.Vec3{1, 0, -5}, mgl32.Vec3{1, 1, 1}),
			primitive.WithStaticMeshes(opaqueMesh())),
	)
	stats, err := r.Render(context.Background(), view.NewFamily(1, 0, view.NewView(0)))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Views[0].Relevance.NumExcluded)

	sub, ok := backend.Pass(1, 0, meshpass.BasePass)
	require.True(t, ok)
	assert.Equal(t, []int32{0}, sub.PrimitiveIDs)
}

func TestRenderPanickingProxyWithSoftwareOcclusion(t *testing.T) {
	r, backend := newTestRenderer(t, testConfig(config.WithOcclusionStrategy(config.OcclusionSoftware)),
		boxAt(mgl32.Vec3{0, 0, -5}),
		primitive.New(testProxy{panics: true}, common.NewBoxSphereBounds(mgl32.Vec3{1, 0, -5}, mgl32.Vec3{1, 1, 1}),
			primitive.WithStaticMeshes(opaqueMesh())),
	)
	v := view.NewView(0)
	for frame := uint32(1); frame <= 2; frame++ {
		stats, err := r.Render(context.Background(), view.NewFamily(frame, float32(frame)/60, v))
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Views[0].Relevance.NumExcluded)
		assert.Equal(t, 1, stats.NumDraws())

		sub, ok := backend.Pass(frame, 0, meshpass.BasePass)
		require.True(t, ok)
		assert.Equal(t, []int32{0}, sub.PrimitiveIDs)
	}
}

func TestRenderSubmitFailureIsCounted(t *testing.T) {
	r, backend := newTestRenderer(t, testConfig(), boxAt(mgl32.Vec3{0, 0, -5}))
	backend.Fail = map[meshpass.Pass]error{meshpass.BasePass: errors.New("device lost")}

	stats, err := r.Render(context.Background(), view.NewFamily(1, 0, view.NewView(0)))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Views[0].NumFailedPasses)
	assert.Equal(t, 0, stats.Views[0].NumDraws)
	assert.Empty(t, backend.Submissions())
}

type countingBuilder struct {
	created []meshpass.PipelineID
}

func (b *countingBuilder) CreatePipelineState(id meshpass.PipelineID, _ meshpass.PipelineState) error {
	b.created = append(b.created, id)
	return nil
}

func TestRenderRecreatesLostPipelines(t *testing.T) {
	builder := &countingBuilder{}
	backend := NewRecordingBackend()
	r := NewRenderer(testConfig(), scene.NewScene("lost", scene.WithPrimitives(boxAt(mgl32.Vec3{0, 0, -5}))),
		backend, WithRunner(task.NewRunner(2, 8)), WithPipelineStateBuilder(builder))
	defer r.Close()
	v := view.NewView(0)

	_, err := r.Render(context.Background(), view.NewFamily(1, 0, v))
	require.NoError(t, err)
	sub, ok := backend.Pass(1, 0, meshpass.BasePass)
	require.True(t, ok)
	require.Len(t, sub.Draws, 1)
	lost := sub.Draws[0].Command.PipelineID
	created := len(builder.created)

	backend.Unavailable = map[meshpass.PipelineID]bool{lost: true}
	stats, err := r.Render(context.Background(), view.NewFamily(2, 0, v))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Views[0].NumLostPipelines)
	assert.Equal(t, 1, stats.Views[0].NumDroppedDraws)
	assert.Equal(t, 0, stats.Views[0].NumDraws)
	assert.Equal(t, 0, stats.Views[0].NumFailedPasses)
	assert.True(t, r.Scene().Info(0).Stale(), "the primitive is queued for a rebuild")

	backend.Unavailable = nil
	stats, err = r.Render(context.Background(), view.NewFamily(3, 0, v))
	require.NoError(t, err)
	require.Greater(t, len(builder.created), created, "the lost state is created again")
	assert.Equal(t, 1, stats.Views[0].NumDraws)
	assert.False(t, r.Scene().Info(0).Stale())

	sub, ok = backend.Pass(3, 0, meshpass.BasePass)
	require.True(t, ok)
	require.Len(t, sub.Draws, 1)
	assert.Contains(t, builder.created[created:], sub.Draws[0].Command.PipelineID)
}

func TestRenderCancelledContext(t *testing.T) {
	r, backend := newTestRenderer(t, testConfig(), boxAt(mgl32.Vec3{0, 0, -5}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Render(ctx, view.NewFamily(1, 0, view.NewView(0)))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, backend.Submissions())
}

func TestRenderInvalidFamily(t *testing.T) {
	r, _ := newTestRenderer(t, testConfig())

	_, err := r.Render(context.Background(), view.NewFamily(1, 0))
	assert.ErrorIs(t, err, view.ErrInvalidFamily)

	_, err = r.Render(context.Background(), nil)
	assert.ErrorIs(t, err, view.ErrInvalidFamily)
}

func TestRenderAfterClose(t *testing.T) {
	r, _ := newTestRenderer(t, testConfig(), boxAt(mgl32.Vec3{0, 0, -5}))
	r.Close()
	r.Close()

	_, err := r.Render(context.Background(), view.NewFamily(1, 0, view.NewView(0)))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRemovePrimitive(t *testing.T) {
	r, backend := newTestRenderer(t, testConfig(config.WithDynamicInstancing(false)),
		boxAt(mgl32.Vec3{0, 0, -5}),
		boxAt(mgl32.Vec3{2, 0, -6}),
	)
	v := view.NewView(0)
	_, err := r.Render(context.Background(), view.NewFamily(1, 0, v))
	require.NoError(t, err)

	require.NoError(t, r.RemovePrimitive(0))
	assert.Error(t, r.RemovePrimitive(0))

	_, err = r.Render(context.Background(), view.NewFamily(2, 0.1, v))
	require.NoError(t, err)
	sub, ok := backend.Pass(2, 0, meshpass.BasePass)
	require.True(t, ok)
	assert.Equal(t, []int32{1}, sub.PrimitiveIDs)
}

func TestRenderRecordsProfilerStages(t *testing.T) {
	p := profiler.NewProfiler()
	p.SetUpdateInterval(1 << 62)
	backend := NewRecordingBackend()
	r := NewRenderer(testConfig(), scene.NewScene("profiled", scene.WithPrimitives(boxAt(mgl32.Vec3{0, 0, -5}))),
		backend, WithRunner(task.NewRunner(2, 8)), WithProfiler(p))
	defer r.Close()

	_, err := r.Render(context.Background(), view.NewFamily(1, 0, view.NewView(0)))
	require.NoError(t, err)
	assert.Positive(t, p.StageTotal(StageCull))
	assert.Equal(t, 1, p.Counter("draws"))
}

func TestNewRendererPanicsOnNilCollaborators(t *testing.T) {
	s := scene.NewScene("nil")
	assert.Panics(t, func() { NewRenderer(testConfig(), nil, NewRecordingBackend()) })
	assert.Panics(t, func() { NewRenderer(testConfig(), s, nil) })
}

func TestIndexCount(t *testing.T) {
	assert.Equal(t, uint32(36), indexCount(wgpu.PrimitiveTopologyTriangleList, 12))
	assert.Equal(t, uint32(14), indexCount(wgpu.PrimitiveTopologyTriangleStrip, 12))
	assert.Equal(t, uint32(8), indexCount(wgpu.PrimitiveTopologyLineList, 4))
	assert.Equal(t, uint32(0), indexCount(wgpu.PrimitiveTopologyTriangleList, 0))
}
