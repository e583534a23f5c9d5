package occlusion

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-vis/common"
	"github.com/Carmen-Shannon/oxy-vis/engine/config"
	"github.com/Carmen-Shannon/oxy-vis/engine/primitive"
	"github.com/Carmen-Shannon/oxy-vis/engine/task"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quad is a 6x6 square in the local XY plane, counter-clockwise seen from +Z.
var quad = primitive.OccluderGeometry{
	Vertices: []mgl32.Vec3{{-3, -3, 0}, {3, -3, 0}, {3, 3, 0}, {-3, 3, 0}},
	Indices:  []uint16{0, 1, 2, 0, 2, 3},
}

type occluderProxy struct {
	stubProxy
}

func (occluderProxy) OcclusionGeometry() (primitive.OccluderGeometry, bool) {
	return quad, true
}

func TestSoftwareOcclusionHidesBoxBehindQuad(t *testing.T) {
	data := &SoftwareSceneData{ViewProj: testViewProj()}
	data.AddOccluder(mgl32.Translate3D(0, 0, -5), quad.Vertices, quad.Indices)
	data.AddOccludee(0, mgl32.Vec3{-0.5, -0.5, -10.5}, mgl32.Vec3{0.5, 0.5, -9.5})
	data.AddOccludee(1, mgl32.Vec3{-0.5, -0.5, -3.5}, mgl32.Vec3{0.5, 0.5, -2.5})
	data.AddOccludee(2, mgl32.Vec3{7.5, -0.5, -10.5}, mgl32.Vec3{8.5, 0.5, -9.5})

	res := ProcessSoftwareOcclusion(data)
	assert.Equal(t, 2, res.NumOccluderTriangles)
	assert.Equal(t, 3, res.NumOccludees)
	assert.False(t, res.Visibility[0], "behind the quad")
	assert.True(t, res.Visibility[1], "in front of the quad")
	assert.True(t, res.Visibility[2], "beside the quad")
	assert.True(t, res.Covered(SoftwareFramebufferWidth/2, SoftwareFramebufferHeight/2))
	assert.False(t, res.Covered(5, 5))
}

func TestSoftwareOcclusionBackFacesDoNotOcclude(t *testing.T) {
	data := &SoftwareSceneData{ViewProj: testViewProj()}
	data.AddOccluder(mgl32.Translate3D(0, 0, -5), quad.Vertices, []uint16{0, 2, 1, 0, 3, 2})
	data.AddOccludee(0, mgl32.Vec3{-0.5, -0.5, -10.5}, mgl32.Vec3{0.5, 0.5, -9.5})

	res := ProcessSoftwareOcclusion(data)
	assert.Equal(t, 0, res.NumOccluderTriangles)
	assert.True(t, res.Visibility[0])
}

func TestSoftwareOcclusionOccludeeEdgeCases(t *testing.T) {
	data := &SoftwareSceneData{ViewProj: testViewProj()}
	data.AddOccludee(0, mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1})
	data.AddOccludee(1, mgl32.Vec3{-1, -1, 5}, mgl32.Vec3{1, 1, 6})

	res := ProcessSoftwareOcclusion(data)
	assert.True(t, res.Visibility[0], "crossing the near plane")
	assert.True(t, res.Visibility[1], "behind the camera is treated as near clipped")

	data = &SoftwareSceneData{ViewProj: testViewProj()}
	data.AddOccludee(0, mgl32.Vec3{100, -1, -11}, mgl32.Vec3{102, 1, -9})
	res = ProcessSoftwareOcclusion(data)
	visible, ok := res.Visibility[0]
	require.True(t, ok)
	assert.False(t, visible, "off screen")
}

func TestClipTriangleToNear(t *testing.T) {
	inside := mgl32.Vec4{0, 0, 0, 1}
	outside := mgl32.Vec4{0, 0, -3, 1}
	v := [3]mgl32.Vec4{outside, inside, inside.Add(mgl32.Vec4{1, 0, 0, 0})}
	flags := [3]uint8{clipFlags(v[0]), clipFlags(v[1]), clipFlags(v[2])}

	tris := clipTriangleToNear(v, flags)
	require.Len(t, tris, 2)
	for _, tri := range tris {
		for _, p := range tri {
			assert.GreaterOrEqual(t, p.Z()+p.W(), float32(-1e-5))
		}
	}

	flags[1] = clippedNear
	assert.Len(t, clipTriangleToNear(v, flags), 1)
}

func TestBinRowMask(t *testing.T) {
	assert.Equal(t, uint64(0b1110), binRowMask(0, 1, 3))
	assert.Equal(t, ^uint64(0), binRowMask(64, 10, 200))
	assert.Equal(t, uint64(0), binRowMask(64, 200, 300))
	assert.Equal(t, uint64(0), binRowMask(0, 5, 3))
}

func TestSoftwareStrategyAppliesPreviousFrame(t *testing.T) {
	occluder := primitive.New(occluderProxy{}, common.NewBoxSphereBounds(mgl32.Vec3{0, 0, -5}, mgl32.Vec3{3, 3, 0.01}))
	hidden := boxAt(-10, primitive.WithOpaque(false))
	s := testScene(occluder, hidden)

	proj := mgl32.Perspective(mgl32.DegToRad(90), 1, 1, 100)
	o := NewState(config.New(config.WithOcclusionStrategy(config.OcclusionSoftware)), task.NewRunner(2, 8))
	defer o.Close()

	newInput := func() *Input {
		in := testInput(2)
		in.ViewProj = testViewProj()
		in.ScreenMultiple = common.ScreenMultiple(proj)
		return in
	}

	in := newInput()
	stats, err := o.Occlude(s, in)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.NumOccluded, "results arrive one frame late")
	assert.Equal(t, []bool{true, true}, in.Visibility.Bools())

	in = newInput()
	stats, err = o.Occlude(s, in)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NumOccluded)
	assert.Equal(t, []bool{true, false}, in.Visibility.Bools())
	assert.True(t, in.DefinitelyUnoccluded.Test(0))
}

type testViewInfo struct{}

func (testViewInfo) Index() int                   { return 0 }
func (testViewInfo) Origin() mgl32.Vec3           { return mgl32.Vec3{} }
func (testViewInfo) ViewMatrix() mgl32.Mat4       { return mgl32.Ident4() }
func (testViewInfo) ProjectionMatrix() mgl32.Mat4 { return mgl32.Ident4() }
func (testViewInfo) FrameNumber() uint32          { return 1 }

type panickingOccluderProxy struct {
	occluderProxy
}

func (panickingOccluderProxy) ViewRelevance(primitive.ViewInfo) (primitive.Relevance, error) {
	panic("proxy state corrupted")
}

func TestGatherSoftwareSceneSkipsPanickingOccluder(t *testing.T) {
	wall := common.NewBoxSphereBounds(mgl32.Vec3{0, 0, -5}, mgl32.Vec3{3, 3, 0.01})
	s := testScene(
		primitive.New(panickingOccluderProxy{}, wall),
		primitive.New(occluderProxy{}, wall),
		boxAt(-10, primitive.WithOpaque(false)),
	)
	in := testInput(3)
	in.View = testViewInfo{}
	in.ViewProj = testViewProj()
	in.ScreenMultiple = common.ScreenMultiple(mgl32.Perspective(mgl32.DegToRad(90), 1, 1, 100))

	var data *SoftwareSceneData
	require.NotPanics(t, func() { data = GatherSoftwareScene(s, in, config.Default()) })
	assert.Equal(t, 1, data.NumOccluders(), "only the healthy proxy contributes geometry")
}

func TestSoftwareForgetDropsHeldResults(t *testing.T) {
	occluder := primitive.New(occluderProxy{}, common.NewBoxSphereBounds(mgl32.Vec3{0, 0, -5}, mgl32.Vec3{3, 3, 0.01}))
	s := testScene(occluder, boxAt(-10, primitive.WithOpaque(false)))

	proj := mgl32.Perspective(mgl32.DegToRad(90), 1, 1, 100)
	o := NewState(config.New(config.WithOcclusionStrategy(config.OcclusionSoftware)), task.NewRunner(2, 8))
	defer o.Close()

	newInput := func() *Input {
		in := testInput(2)
		in.ViewProj = testViewProj()
		in.ScreenMultiple = common.ScreenMultiple(proj)
		return in
	}
	for range 2 {
		_, err := o.Occlude(s, newInput())
		require.NoError(t, err)
	}
	require.NotNil(t, o.software.Results())
	_, held := o.software.Results().Visibility[1]
	require.True(t, held)

	// the index is reused by a new primitive, which must not inherit the hidden verdict
	o.Forget(1)
	_, held = o.software.Results().Visibility[1]
	assert.False(t, held)

	in := newInput()
	_, err := o.Occlude(s, in)
	require.NoError(t, err)
	assert.True(t, in.Visibility.Test(1), "the outstanding job's verdict is dropped too")
	assert.False(t, in.DefinitelyUnoccluded.Test(1))
}
