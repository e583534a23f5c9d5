// package common contains common types that are used throughout this module. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// BoxSphereBounds is a bounding box and bounding sphere sharing a common origin.
// Both are kept because the sphere gives a cheap conservative test while the box is tighter.
type BoxSphereBounds struct {
	// Origin is the world-space center of both the box and the sphere.
	Origin mgl32.Vec3
	// BoxExtent is the half size of the axis-aligned box along each axis.
	BoxExtent mgl32.Vec3
	// SphereRadius is the radius of the bounding sphere.
	SphereRadius float32
}

// NewBoxSphereBounds builds bounds from a box center and half extent, deriving the
// sphere radius from the box diagonal.
//
// Parameters:
//   - origin: world-space center
//   - extent: half extent along each axis
//
// Returns:
//   - BoxSphereBounds: the combined bounds
func NewBoxSphereBounds(origin, extent mgl32.Vec3) BoxSphereBounds {
	return BoxSphereBounds{Origin: origin, BoxExtent: extent, SphereRadius: extent.Len()}
}

// Min returns the minimum corner of the box.
func (b BoxSphereBounds) Min() mgl32.Vec3 {
	return b.Origin.Sub(b.BoxExtent)
}

// Max returns the maximum corner of the box.
func (b BoxSphereBounds) Max() mgl32.Vec3 {
	return b.Origin.Add(b.BoxExtent)
}

// ExpandBy grows the box by amount on every axis and the sphere by the same amount.
func (b BoxSphereBounds) ExpandBy(amount float32) BoxSphereBounds {
	return BoxSphereBounds{
		Origin:       b.Origin,
		BoxExtent:    b.BoxExtent.Add(mgl32.Vec3{amount, amount, amount}),
		SphereRadius: b.SphereRadius + amount,
	}
}

// Corners returns the eight corners of the box.
func (b BoxSphereBounds) Corners() [8]mgl32.Vec3 {
	var out [8]mgl32.Vec3
	for i := range out {
		c := b.Origin
		for axis := range 3 {
			if i&(1<<axis) != 0 {
				c[axis] += b.BoxExtent[axis]
			} else {
				c[axis] -= b.BoxExtent[axis]
			}
		}
		out[i] = c
	}
	return out
}

// DistanceSquaredTo returns the squared distance from the sphere origin to the point.
func (b BoxSphereBounds) DistanceSquaredTo(point mgl32.Vec3) float32 {
	d := b.Origin.Sub(point)
	return d.Dot(d)
}

// BoxDistanceSquaredTo returns the squared distance from the closest point of the box to
// the point, or zero if the point is inside the box.
func (b BoxSphereBounds) BoxDistanceSquaredTo(point mgl32.Vec3) float32 {
	var distSq float32
	for axis := range 3 {
		d := math32.Abs(point[axis]-b.Origin[axis]) - b.BoxExtent[axis]
		if d > 0 {
			distSq += d * d
		}
	}
	return distSq
}

// ContainsPoint reports whether point lies inside or on the box.
func (b BoxSphereBounds) ContainsPoint(point mgl32.Vec3) bool {
	for axis := range 3 {
		if math32.Abs(point[axis]-b.Origin[axis]) > b.BoxExtent[axis] {
			return false
		}
	}
	return true
}
