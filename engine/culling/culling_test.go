package culling

import (
	"math/rand/v2"
	"testing"

	"github.com/Carmen-Shannon/oxy-vis/common"
	"github.com/Carmen-Shannon/oxy-vis/engine/config"
	"github.com/Carmen-Shannon/oxy-vis/engine/primitive"
	"github.com/Carmen-Shannon/oxy-vis/engine/scene"
	"github.com/Carmen-Shannon/oxy-vis/engine/task"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProxy struct{}

func (stubProxy) ViewRelevance(primitive.ViewInfo) (primitive.Relevance, error) {
	return primitive.Relevance{DrawRelevance: true}, nil
}

func (stubProxy) DynamicMeshElements(primitive.ViewInfo, primitive.MeshCollector) error {
	return nil
}

func (stubProxy) OcclusionGeometry() (primitive.OccluderGeometry, bool) {
	return primitive.OccluderGeometry{}, false
}

type queryFunc func(customIndex int, bounds common.BoxSphereBounds) bool

func (f queryFunc) IsVisible(customIndex int, bounds common.BoxSphereBounds) bool {
	return f(customIndex, bounds)
}

// testFrustum looks down -Z from the origin with a 90 degree field of view.
func testFrustum() *common.Frustum {
	proj := mgl32.Perspective(mgl32.DegToRad(90), 1, 1, 1000)
	view := mgl32.LookAtV(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
	f := common.ExtractFrustumFromMatrix(proj.Mul4(view))
	return &f
}

func box(x, z float32, opts ...primitive.PrimitiveBuilderOption) primitive.Primitive {
	return primitive.New(stubProxy{}, common.NewBoxSphereBounds(mgl32.Vec3{x, 0, z}, mgl32.Vec3{1, 1, 1}), opts...)
}

func newInput() *Input {
	return &Input{
		Frustum:            testFrustum(),
		Visibility:         &common.BitSet{},
		PotentiallyFading:  &common.BitSet{},
		DistanceCullFading: &common.BitSet{},
	}
}

func cull(t *testing.T, cfg config.Config, s scene.Scene, in *Input) Result {
	t.Helper()
	res, err := NewCuller(cfg, task.NewRunner(4, 16)).Cull(s, in)
	require.NoError(t, err)
	return res
}

func TestCullScenario(t *testing.T) {
	s := scene.NewScene("cull", scene.WithPrimitives(
		box(0, -5),
		box(50, -5),
		box(0, -500, primitive.WithDrawDistance(0, 100)),
	))
	in := newInput()
	res := cull(t, config.New(config.WithFadeRadius(10)), s, in)

	assert.Equal(t, []bool{true, false, false}, in.Visibility.Bools())
	assert.Equal(t, 1, res.NumVisible)
	assert.Equal(t, 0, res.NumFading)
}

func TestCullIsSound(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	var prims []primitive.Primitive
	for range 500 {
		center := mgl32.Vec3{rng.Float32()*400 - 200, rng.Float32()*400 - 200, rng.Float32()*400 - 200}
		extent := mgl32.Vec3{rng.Float32() * 5, rng.Float32() * 5, rng.Float32() * 5}
		prims = append(prims, primitive.New(stubProxy{}, common.NewBoxSphereBounds(center, extent)))
	}
	s := scene.NewScene("sound", scene.WithPrimitives(prims...))
	in := newInput()
	cull(t, config.New(config.WithFrustumCullWordsPerTask(1)), s, in)

	visible := 0
	for i, b := range s.Bounds() {
		if !in.Frustum.IntersectBox(b.Bounds.Origin, b.Bounds.BoxExtent) {
			assert.False(t, in.Visibility.Test(i), "primitive %d is outside the frustum", i)
		}
		if in.Visibility.Test(i) {
			visible++
		}
	}
	assert.Positive(t, visible)
}

func TestCullIsIdempotent(t *testing.T) {
	var prims []primitive.Primitive
	for i := range 300 {
		prims = append(prims, box(float32(i%20-10)*4, -float32(i), primitive.WithDrawDistance(0, 150), primitive.WithDistanceCullFade(true)))
	}
	s := scene.NewScene("idempotent", scene.WithPrimitives(prims...))
	cfg := config.New(config.WithFadeRadius(20), config.WithFrustumCullWordsPerTask(1))

	first := newInput()
	cull(t, cfg, s, first)
	second := newInput()
	second.Visibility.Resize(7)
	second.Visibility.Set(3)
	cull(t, cfg, s, second)

	assert.True(t, first.Visibility.Equal(second.Visibility))
	assert.True(t, first.PotentiallyFading.Equal(second.PotentiallyFading))
	assert.True(t, first.DistanceCullFading.Equal(second.DistanceCullFading))
}

func TestCullDistanceBands(t *testing.T) {
	fade := primitive.WithDistanceCullFade(true)
	s := scene.NewScene("bands", scene.WithPrimitives(
		box(0, -50, primitive.WithDrawDistance(0, 100), fade),
		box(0, -95, primitive.WithDrawDistance(0, 100), fade),
		box(0, -105, primitive.WithDrawDistance(0, 100), fade),
		box(0, -115, primitive.WithDrawDistance(0, 100), fade),
		box(0, -100, primitive.WithDrawDistance(0, 100), fade),
		box(0, -95, primitive.WithDrawDistance(0, 100)),
		box(0, -5, primitive.WithDrawDistance(10, 100)),
	))
	in := newInput()
	res := cull(t, config.New(config.WithFadeRadius(10)), s, in)

	assert.Equal(t, []bool{true, true, false, false, true, true, false}, in.Visibility.Bools(), "exactly at the draw distance is visible")
	assert.Equal(t, []bool{false, true, true, false, true, false, false}, in.PotentiallyFading.Bools())
	assert.Equal(t, []bool{false, true, false, false, true, false, false}, in.DistanceCullFading.Bools())
	assert.Equal(t, 4, res.NumVisible)
	assert.Equal(t, 3, res.NumFading)
}

func TestCullDistanceDominates(t *testing.T) {
	s := scene.NewScene("dominates", scene.WithPrimitives(
		box(0, -300, primitive.WithDrawDistance(0, 100), primitive.WithDistanceCullFade(true)),
	))
	in := newInput()
	in.CustomQuery = queryFunc(func(int, common.BoxSphereBounds) bool { return true })
	cull(t, config.New(config.WithFadeRadius(50)), s, in)
	assert.False(t, in.Visibility.Test(0))
	assert.False(t, in.PotentiallyFading.Test(0))

	in = newInput()
	in.DisableDistanceCull = true
	cull(t, config.New(config.WithFadeRadius(50)), s, in)
	assert.True(t, in.Visibility.Test(0))

	in = newInput()
	cull(t, config.New(config.WithFadeRadius(50), config.WithMaxDrawDistanceScale(4)), s, in)
	assert.True(t, in.Visibility.Test(0))
}

func TestCullCustomQuery(t *testing.T) {
	s := scene.NewScene("custom", scene.WithPrimitives(
		box(0, -5, primitive.WithCustomIndex(7)),
		box(0, -5, primitive.WithCustomIndex(8)),
		box(0, -5),
	))
	in := newInput()
	in.CustomQuery = queryFunc(func(customIndex int, bounds common.BoxSphereBounds) bool {
		return customIndex == 7 && bounds.Origin.Z() == -5
	})
	cull(t, config.New(), s, in)
	assert.Equal(t, []bool{true, false, true}, in.Visibility.Bools(), "primitives without a custom index skip the query")
}

func TestCullHiddenAndShowOnly(t *testing.T) {
	s := scene.NewScene("filters", scene.WithPrimitives(box(0, -5), box(0, -6), box(0, -7)))

	in := newInput()
	in.Hidden = map[int]struct{}{1: {}}
	cull(t, config.New(), s, in)
	assert.Equal(t, []bool{true, false, true}, in.Visibility.Bools())

	in = newInput()
	in.ShowOnly = map[int]struct{}{2: {}}
	cull(t, config.New(), s, in)
	assert.Equal(t, []bool{false, false, true}, in.Visibility.Bools())
}

func TestCullHLODForcing(t *testing.T) {
	s := scene.NewScene("hlod", scene.WithPrimitives(
		box(0, -500, primitive.WithDrawDistance(0, 100)),
		box(0, -5, primitive.WithDrawDistance(50, 0)),
		box(0, -5),
		box(0, -5),
	))
	forcedVisible := common.NewBitSet(4)
	forcedVisible.Set(0)
	forcedVisible.Set(1)
	forcedVisible.Set(3)
	forcedHidden := common.NewBitSet(4)
	forcedHidden.Set(2)
	forcedHidden.Set(3)

	in := newInput()
	in.ForcedVisible = &forcedVisible
	in.ForcedHidden = &forcedHidden
	cull(t, config.New(), s, in)
	assert.Equal(t, []bool{true, true, false, true}, in.Visibility.Bools(), "forced visible wins over forced hidden")
}

func TestCullDisabledShowsEveryValidPrimitive(t *testing.T) {
	s := scene.NewScene("disabled", scene.WithPrimitives(box(0, -5), box(0, 50), box(0, -5000, primitive.WithDrawDistance(0, 10))))
	require.NoError(t, s.Remove(0))

	in := newInput()
	res := cull(t, config.New(config.WithFrustumCullDisabled(true)), s, in)
	assert.Equal(t, []bool{false, true, true}, in.Visibility.Bools())
	assert.Equal(t, 2, res.NumVisible)
}

func TestCullEmptyScene(t *testing.T) {
	in := newInput()
	res := cull(t, config.New(), scene.NewScene("empty"), in)
	assert.Equal(t, 0, res.NumVisible)
	assert.Equal(t, 0, in.Visibility.Len())
}
