package common

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/exp/constraints"
)

// ScreenMultiple returns the projection scale used to turn a world-space radius at unit
// distance into a screen-space radius, taken as the larger of the two axis scales.
//
// Parameters:
//   - proj: the projection matrix of the view
//
// Returns:
//   - float32: half of the larger diagonal scale term of the projection
func ScreenMultiple(proj mgl32.Mat4) float32 {
	return max(0.5*proj.At(0, 0), 0.5*proj.At(1, 1))
}

// ComputeBoundsScreenRadiusSquared returns the squared projected radius of a sphere as a
// fraction of the screen. Distances below one unit are clamped to avoid blowing up.
//
// Parameters:
//   - origin: sphere center
//   - radius: sphere radius
//   - viewOrigin: camera position
//   - screenMultiple: the value returned by ScreenMultiple for the view
//
// Returns:
//   - float32: squared screen radius
func ComputeBoundsScreenRadiusSquared(origin mgl32.Vec3, radius float32, viewOrigin mgl32.Vec3, screenMultiple float32) float32 {
	d := origin.Sub(viewOrigin)
	distSq := d.Dot(d)
	r := screenMultiple * radius
	return (r * r) / max(1.0, distSq)
}

// ComputeBoundsScreenSize returns the projected diameter of a sphere as a fraction of the screen.
//
// Parameters:
//   - origin: sphere center
//   - radius: sphere radius
//   - viewOrigin: camera position
//   - screenMultiple: the value returned by ScreenMultiple for the view
//
// Returns:
//   - float32: screen size, where 1 covers the screen
func ComputeBoundsScreenSize(origin mgl32.Vec3, radius float32, viewOrigin mgl32.Vec3, screenMultiple float32) float32 {
	dist := origin.Sub(viewOrigin).Len()
	return 2.0 * screenMultiple * radius / max(1.0, dist)
}

// BitInvertIfNegativeFloat maps the bit pattern of an IEEE float to an unsigned integer
// that sorts in the same order as the float value.
func BitInvertIfNegativeFloat(bits uint32) uint32 {
	mask := uint32(-int32(bits>>31)) | 0x80000000
	return bits ^ mask
}

// SortableFloat returns the bit pattern of f transformed by BitInvertIfNegativeFloat.
func SortableFloat(f float32) uint32 {
	return BitInvertIfNegativeFloat(math.Float32bits(f))
}

// NextMultipleOf rounds x up to the next multiple of y.
func NextMultipleOf[T constraints.Integer](x, y T) T {
	if y == 0 {
		return x
	}
	return (x + y - 1) / y * y
}

// DivideAndRoundUp returns the number of y sized chunks needed to cover x.
func DivideAndRoundUp[T constraints.Integer](x, y T) T {
	return (x + y - 1) / y
}

// Square returns x*x.
func Square(x float32) float32 {
	return x * x
}

// Lerp linearly interpolates between a and b.
func Lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}

// Clamp clamps x to [lo, hi].
func Clamp[T constraints.Ordered](x, lo, hi T) T {
	return min(max(x, lo), hi)
}

// Infinity is positive float32 infinity.
var Infinity = math32.Inf(1)
