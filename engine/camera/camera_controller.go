package camera

import "github.com/go-gl/mathgl/mgl32"

// CameraController owns a camera's position and target. It orbits a pivot using spherical
// coordinates (radius, azimuth, elevation) and pans along the camera's local axes. Panning
// shifts position and target together, preserving the orbit.
type CameraController interface {
	// Position returns the camera's world-space position.
	Position() mgl32.Vec3

	// Target returns the look-at point.
	Target() mgl32.Vec3

	// SetTarget sets the pivot point and recomputes position from spherical coordinates.
	//
	// Parameters:
	//   - target: world-space pivot
	SetTarget(target mgl32.Vec3)

	// Orbit rotates the camera around the target. Elevation is clamped to the controller's
	// bounds.
	//
	// Parameters:
	//   - dAzimuth: change of the horizontal angle in radians
	//   - dElevation: change of the vertical angle in radians
	Orbit(dAzimuth, dElevation float32)

	// Zoom moves the camera toward the target. Positive delta zooms in. The radius is clamped to
	// the controller's bounds.
	//
	// Parameters:
	//   - delta: zoom amount scaled by the zoom speed
	Zoom(delta float32)

	// Pan translates position and target along the camera's local axes.
	//
	// Parameters:
	//   - right: movement along the local right axis
	//   - up: movement along the local up axis
	//   - forward: movement toward the target
	Pan(right, up, forward float32)

	// Radius returns the current distance from the target.
	Radius() float32

	// Azimuth returns the horizontal angle around the Y axis in radians.
	Azimuth() float32

	// Elevation returns the vertical angle from the horizontal plane in radians.
	Elevation() float32
}
