// Package camera produces the view and projection matrices of a view from a controller's
// position and target, and detects camera cuts.
package camera

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-vis/engine/view"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

type cameraImpl struct {
	mu *sync.Mutex

	up mgl32.Vec3

	fov    float32
	aspect float32
	near   float32
	far    float32

	viewMatrix       mgl32.Mat4
	projectionMatrix mgl32.Mat4

	// cutDistance is how far the camera may move between two Apply calls before the move is
	// treated as a cut. Zero disables cut detection.
	cutDistance float32
	lastApplied mgl32.Vec3
	applied     bool

	controller CameraController
}

// Camera holds perspective settings and computes view/projection matrices from an attached
// CameraController each frame via Update().
type Camera interface {
	// Up returns the camera's up vector.
	Up() mgl32.Vec3

	// Fov returns the vertical field of view in radians.
	Fov() float32

	// Aspect returns the aspect ratio (width / height).
	Aspect() float32

	// Near returns the near clipping plane distance.
	Near() float32

	// Far returns the far clipping plane distance.
	Far() float32

	// Position returns the world-space position used for the last matrix update.
	Position() mgl32.Vec3

	// ViewMatrix returns the current world to view matrix.
	ViewMatrix() mgl32.Mat4

	// ProjectionMatrix returns the current view to clip matrix, GL depth range.
	ProjectionMatrix() mgl32.Mat4

	// Controller returns the attached CameraController, or nil.
	Controller() CameraController

	// Update reads position/target from the controller and recomputes matrices.
	// Does nothing without a controller.
	Update()

	// Apply copies the matrices into a view. When the camera moved farther than the cut distance
	// since the previous Apply, the view is flagged to ignore its occlusion and fade history for
	// the frame.
	//
	// Parameters:
	//   - v: the view to update
	//
	// Returns:
	//   - bool: true if a camera cut was detected
	Apply(v *view.View) bool

	// SetUp sets the camera's up vector and recomputes matrices.
	SetUp(up mgl32.Vec3)

	// SetFov sets the field of view in radians and recomputes matrices.
	SetFov(fov float32)

	// SetAspect sets the aspect ratio (width / height) and recomputes matrices.
	SetAspect(aspect float32)

	// SetNear sets the near clipping plane distance and recomputes matrices.
	SetNear(near float32)

	// SetFar sets the far clipping plane distance and recomputes matrices.
	SetFar(far float32)

	// SetController attaches a CameraController to the camera.
	//
	// Parameters:
	//   - ctrl: the controller to attach
	SetController(ctrl CameraController)
}

var _ Camera = &cameraImpl{}

// NewCamera creates a new Camera with default perspective settings: 45 degree field of view,
// square aspect, near 0.1 and far 10000. Without a controller it sits at the origin looking
// down -Z.
//
// Parameters:
//   - options: functional options to configure the camera
//
// Returns:
//   - Camera: the newly created camera
func NewCamera(options ...CameraBuilderOption) Camera {
	c := &cameraImpl{
		mu:         &sync.Mutex{},
		up:         mgl32.Vec3{0, 1, 0},
		fov:        mgl32.DegToRad(45),
		aspect:     1,
		near:       0.1,
		far:        10000,
		viewMatrix: mgl32.LookAtV(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}),
	}
	for _, option := range options {
		option(c)
	}
	c.projectionMatrix = mgl32.Perspective(c.fov, c.aspect, c.near, c.far)
	c.updateMatrices()
	return c
}

func (c *cameraImpl) Up() mgl32.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.up
}

func (c *cameraImpl) Fov() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fov
}

func (c *cameraImpl) Aspect() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aspect
}

func (c *cameraImpl) Near() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.near
}

func (c *cameraImpl) Far() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.far
}

func (c *cameraImpl) Position() mgl32.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewMatrix.Inv().Col(3).Vec3()
}

func (c *cameraImpl) ViewMatrix() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewMatrix
}

func (c *cameraImpl) ProjectionMatrix() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectionMatrix
}

func (c *cameraImpl) Controller() CameraController {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}

func (c *cameraImpl) Update() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateMatrices()
}

func (c *cameraImpl) Apply(v *view.View) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	v.SetMatrices(c.viewMatrix, c.projectionMatrix)
	pos := v.Origin()
	cut := c.applied && c.cutDistance > 0 && pos.Sub(c.lastApplied).Len() > c.cutDistance
	v.IgnoreExistingQueries = cut
	c.lastApplied = pos
	c.applied = true
	return cut
}

func (c *cameraImpl) SetUp(up mgl32.Vec3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.up = up
	c.updateMatrices()
}

func (c *cameraImpl) SetFov(fov float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fov = fov
	c.updateProjection()
}

func (c *cameraImpl) SetAspect(aspect float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aspect = aspect
	c.updateProjection()
}

func (c *cameraImpl) SetNear(near float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.near = near
	c.updateProjection()
}

func (c *cameraImpl) SetFar(far float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.far = far
	c.updateProjection()
}

func (c *cameraImpl) SetController(ctrl CameraController) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controller = ctrl
	c.updateMatrices()
}

// updateProjection rebuilds the projection matrix. Caller must hold the mutex.
func (c *cameraImpl) updateProjection() {
	aspect := c.aspect
	if aspect <= 0 || math32.IsNaN(aspect) {
		aspect = 1
	}
	c.projectionMatrix = mgl32.Perspective(c.fov, aspect, c.near, c.far)
}

// updateMatrices recomputes the view matrix from the controller. A controller whose position
// and target coincide leaves the previous view matrix in place. Caller must hold the mutex.
func (c *cameraImpl) updateMatrices() {
	if c.controller == nil {
		return
	}
	pos := c.controller.Position()
	target := c.controller.Target()
	if pos.Sub(target).Len() < 1e-6 {
		return
	}
	c.viewMatrix = mgl32.LookAtV(pos, target, c.up)
}
