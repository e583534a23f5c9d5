package camera

import "github.com/go-gl/mathgl/mgl32"

// CameraControllerOption is a functional option for configuring a CameraController.
type CameraControllerOption func(*cameraControllerImpl)

// WithRadius sets the initial orbit radius (distance from target).
//
// Parameters:
//   - radius: distance from the orbit target
//
// Returns:
//   - CameraControllerOption: functional option to set the radius
func WithRadius(radius float32) CameraControllerOption {
	return func(cc *cameraControllerImpl) {
		cc.radius = radius
	}
}

// WithAngles sets the initial orbit angles.
//
// Parameters:
//   - azimuth: horizontal angle in radians, 0 places the camera on +Z of the target
//   - elevation: vertical angle in radians, 0 is level with the target
//
// Returns:
//   - CameraControllerOption: functional option to set both angles
func WithAngles(azimuth, elevation float32) CameraControllerOption {
	return func(cc *cameraControllerImpl) {
		cc.azimuth = azimuth
		cc.elevation = elevation
	}
}

// WithTarget sets the look-at/pivot point.
func WithTarget(target mgl32.Vec3) CameraControllerOption {
	return func(cc *cameraControllerImpl) {
		cc.target = target
	}
}

// WithRadiusBounds sets the zoom limits.
//
// Parameters:
//   - minRadius: closest distance to the target
//   - maxRadius: farthest distance from the target
//
// Returns:
//   - CameraControllerOption: functional option to set the radius bounds
func WithRadiusBounds(minRadius, maxRadius float32) CameraControllerOption {
	return func(cc *cameraControllerImpl) {
		cc.minRadius = minRadius
		cc.maxRadius = maxRadius
	}
}

// WithElevationBounds sets the vertical orbit limits in radians.
func WithElevationBounds(minElevation, maxElevation float32) CameraControllerOption {
	return func(cc *cameraControllerImpl) {
		cc.minElevation = minElevation
		cc.maxElevation = maxElevation
	}
}

// WithZoomSpeed sets the multiplier applied to Zoom deltas.
func WithZoomSpeed(speed float32) CameraControllerOption {
	return func(cc *cameraControllerImpl) {
		cc.zoomSpeed = speed
	}
}

// WithPanSpeed sets the multiplier applied to Pan deltas.
func WithPanSpeed(speed float32) CameraControllerOption {
	return func(cc *cameraControllerImpl) {
		cc.panSpeed = speed
	}
}
