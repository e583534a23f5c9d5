package common

import (
	"slices"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestScreenMultiple(t *testing.T) {
	proj := mgl32.Perspective(mgl32.DegToRad(90), 2, 1, 100)
	// For a 90 degree vertical fov P[1][1] == 1 and P[0][0] == 0.5.
	assert.InDelta(t, 0.5, ScreenMultiple(proj), 1e-5)
}

func TestComputeBoundsScreenSize(t *testing.T) {
	near := ComputeBoundsScreenSize(mgl32.Vec3{0, 0, -10}, 1, mgl32.Vec3{}, 1)
	far := ComputeBoundsScreenSize(mgl32.Vec3{0, 0, -100}, 1, mgl32.Vec3{}, 1)
	assert.InDelta(t, 0.2, near, 1e-5)
	assert.InDelta(t, 0.02, far, 1e-5)

	// Closer than one unit clamps.
	assert.InDelta(t, 2.0, ComputeBoundsScreenSize(mgl32.Vec3{}, 1, mgl32.Vec3{}, 1), 1e-5)
	assert.InDelta(t, 0.04, ComputeBoundsScreenRadiusSquared(mgl32.Vec3{0, 0, -10}, 2, mgl32.Vec3{}, 1), 1e-5)
}

func TestSortableFloatPreservesOrder(t *testing.T) {
	values := []float32{-100, -1.5, -0.25, 0, 0.25, 3, 1000}
	keys := make([]uint32, len(values))
	for i, v := range values {
		keys[i] = SortableFloat(v)
	}
	assert.True(t, slices.IsSorted(keys))
}

func TestNextMultipleOf(t *testing.T) {
	assert.Equal(t, 128, NextMultipleOf(100, 64))
	assert.Equal(t, 64, NextMultipleOf(64, 64))
	assert.Equal(t, uint32(3), DivideAndRoundUp(uint32(130), 64))
	assert.Equal(t, 5, Clamp(9, 0, 5))
}
