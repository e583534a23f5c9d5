package common

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Plane represents a plane in 3D space using the equation: ax + by + cz + d = 0
// where (a, b, c) is the normal and d is the distance from origin.
type Plane struct {
	Normal   mgl32.Vec3
	Distance float32
}

// Dot returns the signed distance from the plane to the point. Positive values lie
// on the side the normal points to.
func (p Plane) Dot(point mgl32.Vec3) float32 {
	return p.Normal.Dot(point) + p.Distance
}

// PushOut returns the largest distance any corner of a box with the given half extent
// can reach along the plane normal, measured from the box center.
func (p Plane) PushOut(extent mgl32.Vec3) float32 {
	return math32.Abs(p.Normal[0])*extent[0] + math32.Abs(p.Normal[1])*extent[1] + math32.Abs(p.Normal[2])*extent[2]
}

// Frustum represents the six planes of a view frustum for culling.
// Planes are oriented so that positive half-space is inside the frustum.
type Frustum struct {
	Planes [6]Plane // Left, Right, Bottom, Top, Near, Far
}

// FrustumPlane indices for clarity
const (
	FrustumLeft   = 0
	FrustumRight  = 1
	FrustumBottom = 2
	FrustumTop    = 3
	FrustumNear   = 4
	FrustumFar    = 5
)

// ExtractFrustumFromMatrix extracts frustum planes from a view-projection matrix.
// The matrix should be the combined Projection * View matrix with clip space depth in [-1, 1].
// Uses the Gribb/Hartmann method for plane extraction.
//
// Reference: https://www8.cs.umu.se/kurser/5DV051/HT12/lab/plane_extraction.pdf
//
// Parameters:
//   - viewProj: the view-projection matrix (column-major, as mgl32 stores it)
//
// Returns:
//   - Frustum: the extracted frustum with normalized planes
func ExtractFrustumFromMatrix(viewProj mgl32.Mat4) Frustum {
	var f Frustum

	row0 := viewProj.Row(0)
	row1 := viewProj.Row(1)
	row2 := viewProj.Row(2)
	row3 := viewProj.Row(3)

	f.Planes[FrustumLeft] = planeFromRow(row3.Add(row0))
	f.Planes[FrustumRight] = planeFromRow(row3.Sub(row0))
	f.Planes[FrustumBottom] = planeFromRow(row3.Add(row1))
	f.Planes[FrustumTop] = planeFromRow(row3.Sub(row1))
	f.Planes[FrustumNear] = planeFromRow(row3.Add(row2))
	f.Planes[FrustumFar] = planeFromRow(row3.Sub(row2))

	for i := range f.Planes {
		f.normalizePlane(i)
	}

	return f
}

func planeFromRow(r mgl32.Vec4) Plane {
	return Plane{Normal: mgl32.Vec3{r[0], r[1], r[2]}, Distance: r[3]}
}

// normalizePlane normalizes a frustum plane so that the normal has unit length.
func (f *Frustum) normalizePlane(index int) {
	p := &f.Planes[index]
	length := p.Normal.Len()

	if length > 0 {
		invLen := 1.0 / length
		p.Normal = p.Normal.Mul(invLen)
		p.Distance *= invLen
	}
}

// IntersectSphere reports whether a sphere is at least partially inside the frustum.
//
// Parameters:
//   - center: world-space sphere center
//   - radius: sphere radius
//
// Returns:
//   - bool: false only if the sphere lies entirely outside one of the planes
func (f *Frustum) IntersectSphere(center mgl32.Vec3, radius float32) bool {
	for i := range f.Planes {
		if f.Planes[i].Dot(center) < -radius {
			return false
		}
	}
	return true
}

// IntersectBox reports whether an axis-aligned box is at least partially inside the frustum.
// The test is conservative: boxes near a frustum corner may pass while lying outside.
//
// Parameters:
//   - origin: world-space box center
//   - extent: box half extent along each axis
//
// Returns:
//   - bool: false only if the box lies entirely outside one of the planes
func (f *Frustum) IntersectBox(origin, extent mgl32.Vec3) bool {
	for i := range f.Planes {
		p := f.Planes[i]
		if p.Dot(origin) < -p.PushOut(extent) {
			return false
		}
	}
	return true
}

// BoxCrossesNearPlane reports whether any part of the box lies behind the near plane.
func (f *Frustum) BoxCrossesNearPlane(origin, extent mgl32.Vec3) bool {
	p := f.Planes[FrustumNear]
	return p.Dot(origin) < p.PushOut(extent)
}
