package common

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func testFrustum() Frustum {
	proj := mgl32.Perspective(mgl32.DegToRad(90), 1, 1, 1000)
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
	return ExtractFrustumFromMatrix(proj.Mul4(view))
}

func TestExtractFrustumPlanesAreNormalized(t *testing.T) {
	f := testFrustum()
	for i, p := range f.Planes {
		assert.InDelta(t, 1.0, p.Normal.Len(), 1e-4, "plane %d", i)
	}
	// Near plane faces down -Z at distance 1.
	assert.InDelta(t, -1.0, f.Planes[FrustumNear].Normal.Z(), 1e-4)
	assert.InDelta(t, -1.0, f.Planes[FrustumNear].Distance, 1e-3)
}

func TestFrustumIntersectBox(t *testing.T) {
	f := testFrustum()
	extent := mgl32.Vec3{1, 1, 1}

	assert.True(t, f.IntersectBox(mgl32.Vec3{0, 0, -10}, extent), "in front")
	assert.False(t, f.IntersectBox(mgl32.Vec3{0, 0, 10}, extent), "behind")
	assert.False(t, f.IntersectBox(mgl32.Vec3{100, 0, -10}, extent), "far right")
	assert.False(t, f.IntersectBox(mgl32.Vec3{0, 0, -2000}, extent), "past far plane")
	assert.True(t, f.IntersectBox(mgl32.Vec3{10.5, 0, -10}, extent), "straddles right plane")
}

func TestFrustumIntersectSphere(t *testing.T) {
	f := testFrustum()
	assert.True(t, f.IntersectSphere(mgl32.Vec3{0, 0, -5}, 1))
	assert.False(t, f.IntersectSphere(mgl32.Vec3{0, 0, 5}, 1))
	assert.True(t, f.IntersectSphere(mgl32.Vec3{0, 0, 0.5}, 2), "sphere containing the eye")
}

func TestBoxCrossesNearPlane(t *testing.T) {
	f := testFrustum()
	assert.True(t, f.BoxCrossesNearPlane(mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0.5, 0.5, 0.5}))
	assert.False(t, f.BoxCrossesNearPlane(mgl32.Vec3{0, 0, -10}, mgl32.Vec3{0.5, 0.5, 0.5}))
}
