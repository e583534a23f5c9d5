package occlusion

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-vis/engine/config"
	"github.com/Carmen-Shannon/oxy-vis/engine/task"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testViewProj() mgl32.Mat4 {
	proj := mgl32.Perspective(mgl32.DegToRad(90), 1, 1, 100)
	view := mgl32.LookAtV(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
	return proj.Mul4(view)
}

// wallHZB is a depth pyramid with a wall between 5 and 20 units in front of the camera.
func wallHZB() *HZB {
	depth := make([]float32, 64*64)
	for i := range depth {
		depth[i] = 0.9
	}
	return BuildHZB(depth, 64, 64)
}

func TestHZBResultTexel(t *testing.T) {
	cases := []struct {
		index uint32
		x, y  int
	}{
		{0, 0, 0},
		{7, 7, 0},
		{8, 0, 1},
		{63, 7, 7},
		{64, 8, 0},
		{64 * 32, 0, 8},
		{64*32 + 9, 1, 9},
	}
	for _, c := range cases {
		x, y := HZBResultTexel(c.index)
		assert.Equal(t, c.x, x, "index %d", c.index)
		assert.Equal(t, c.y, y, "index %d", c.index)
	}
}

func TestBuildHZBKeepsFarthestDepth(t *testing.T) {
	depth := []float32{
		0.1, 0.2, 0.3,
		0.4, 0.9, 0.1,
		0.2, 0.2, 0.7,
	}
	h := BuildHZB(depth, 3, 3)
	require.NotNil(t, h)
	assert.Equal(t, 3, h.NumLevels())
	assert.Equal(t, []float32{0.9, 0.3, 0.2, 0.7}, h.levels[1])
	assert.Equal(t, []float32{0.9}, h.levels[2])
	assert.Nil(t, BuildHZB(nil, 4, 4))
}

func TestHZBTestBounds(t *testing.T) {
	h := wallHZB()
	viewProj := testViewProj()

	assert.True(t, h.TestBounds(viewProj, mgl32.Vec3{0, 0, -5}, mgl32.Vec3{1, 1, 1}), "in front of the wall")
	assert.False(t, h.TestBounds(viewProj, mgl32.Vec3{0, 0, -20}, mgl32.Vec3{1, 1, 1}), "behind the wall")
	assert.True(t, h.TestBounds(viewProj, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{2, 2, 2}), "crossing the near plane")
}

func TestHZBTesterRoundTrip(t *testing.T) {
	rb := NewCPUReadback()
	rb.SetDepth(wallHZB())
	tester := NewHZBTester()

	tester.MapResults(rb)
	assert.True(t, tester.IsVisible(0), "nothing mapped reads visible")
	assert.False(t, tester.IsValidFrame(1))
	tester.UnmapResults(rb)

	near, err := tester.AddBounds(mgl32.Vec3{0, 0, -5}, mgl32.Vec3{1, 1, 1})
	require.NoError(t, err)
	far, err := tester.AddBounds(mgl32.Vec3{0, 0, -20}, mgl32.Vec3{1, 1, 1})
	require.NoError(t, err)
	require.NoError(t, tester.Submit(rb, testViewProj(), 1))
	assert.Equal(t, 0, tester.NumBounds())
	assert.True(t, tester.IsValidFrame(1))

	tester.MapResults(rb)
	assert.True(t, tester.IsVisible(near))
	assert.False(t, tester.IsVisible(far))
	tester.UnmapResults(rb)
}

func TestHZBTesterIsFull(t *testing.T) {
	tester := NewHZBTester()
	for range HZBSizeX * HZBSizeY {
		_, err := tester.AddBounds(mgl32.Vec3{}, mgl32.Vec3{1, 1, 1})
		require.NoError(t, err)
	}
	_, err := tester.AddBounds(mgl32.Vec3{}, mgl32.Vec3{1, 1, 1})
	assert.ErrorIs(t, err, ErrHZBFull)
}

func TestHZBStrategyHidesBoundsBehindDepth(t *testing.T) {
	rb := NewCPUReadback()
	rb.SetDepth(wallHZB())
	s := testScene(boxAt(-5), boxAt(-20))
	o := NewState(config.New(config.WithOcclusionStrategy(config.OcclusionHZB)), task.NewRunner(2, 8), WithHZBReadback(rb))

	in := testInput(2)
	in.ViewProj = testViewProj()
	stats, err := o.Occlude(s, in)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.NumHZBTests)
	assert.Equal(t, []bool{true, true}, in.Visibility.Bools(), "no results on the first frame")

	in = testInput(2)
	in.ViewProj = testViewProj()
	_, err = o.Occlude(s, in)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, in.Visibility.Bools())
	assert.True(t, in.DefinitelyUnoccluded.Test(0))
}
