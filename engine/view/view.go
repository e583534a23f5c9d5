// Package view holds one camera's per-frame visibility arrays, the state a view keeps across
// frames, and the family of views rendered together.
package view

import (
	"github.com/Carmen-Shannon/oxy-vis/common"
	"github.com/Carmen-Shannon/oxy-vis/engine/culling"
	"github.com/Carmen-Shannon/oxy-vis/engine/dynamicmesh"
	"github.com/Carmen-Shannon/oxy-vis/engine/lod"
	"github.com/Carmen-Shannon/oxy-vis/engine/meshpass"
	"github.com/Carmen-Shannon/oxy-vis/engine/primitive"
	"github.com/go-gl/mathgl/mgl32"
)

// MeshRef names one static mesh of a primitive.
type MeshRef struct {
	Primitive int
	MeshIndex int
}

// PassOutput is a view's draw list for one pass.
type PassOutput struct {
	// Commands are sorted and, with dynamic instancing, merged.
	Commands []meshpass.VisibleMeshDrawCommand
	// PrimitiveIDs has one entry per drawn instance, indexed by PrimitiveIDBufferOffset.
	PrimitiveIDs []int32
	// MaxInstances is the largest instance count in Commands.
	MaxInstances uint32
}

// View is one camera's visibility state for a frame. The renderer owns the arrays and rebuilds
// them every frame; only State survives between frames.
type View struct {
	index int

	viewMatrix     mgl32.Mat4
	projMatrix     mgl32.Mat4
	viewProj       mgl32.Mat4
	origin         mgl32.Vec3
	frustum        common.Frustum
	screenMultiple float32
	width, height  int
	frameNumber    uint32
	now            float32

	// Hidden and ShowOnly filter primitives by index during culling.
	Hidden   map[int]struct{}
	ShowOnly map[int]struct{}
	// CustomQuery is consulted for primitives with a custom visibility index.
	CustomQuery culling.VisibilityQuery
	// StereoPair is the index of the paired eye in the family, or -1.
	StereoPair int
	// IgnoreExistingQueries drops occlusion and fade history this frame, after a camera cut.
	IgnoreExistingQueries bool

	// State persists across frames. Created by the renderer when nil.
	State *State

	Visibility           common.BitSet
	DefinitelyUnoccluded common.BitSet
	PotentiallyFading    common.BitSet
	DistanceCullFading   common.BitSet

	// Relevance, PassMasks, LODMasks and ScreenRadiusSq are indexed by primitive and valid for
	// visible primitives only.
	Relevance      []primitive.Relevance
	PassMasks      []meshpass.PassMask
	LODMasks       []lod.LODMask
	ScreenRadiusSq []float32
	// FadeUniforms maps a distance-fading primitive to its fade parameters.
	FadeUniforms map[int]lod.FadeTimeScaleBias
	// DitherAlpha is the temporal LOD cross-fade alpha.
	DitherAlpha float32

	// StaticMeshes are the cached static meshes per pass.
	StaticMeshes [meshpass.NumPasses][]MeshRef
	// DynamicStaticMeshes are static meshes built on the dynamic path this frame.
	DynamicStaticMeshes [meshpass.NumPasses][]MeshRef
	// DynamicElements are the primitives with dynamic relevance.
	DynamicElements []dynamicmesh.Element
	// DynamicMeshes are the batches collected from DynamicElements.
	DynamicMeshes []dynamicmesh.MeshBatchAndRelevance

	TranslucentPrimitives []int
	DistortionPrimitives  []int
	VelocityPrimitives    []int

	// Passes are the final per-pass draw lists.
	Passes [meshpass.NumPasses]PassOutput
	// Arena owns dynamic batches and commands until the end of the frame.
	Arena *dynamicmesh.Arena
}

// Ensure View implements primitive.ViewInfo interface.
var _ primitive.ViewInfo = &View{}

func (v *View) Index() int {
	return v.index
}

func (v *View) Origin() mgl32.Vec3 {
	return v.origin
}

func (v *View) ViewMatrix() mgl32.Mat4 {
	return v.viewMatrix
}

func (v *View) ProjectionMatrix() mgl32.Mat4 {
	return v.projMatrix
}

func (v *View) FrameNumber() uint32 {
	return v.frameNumber
}

// ViewProjection returns the world to clip transform.
func (v *View) ViewProjection() mgl32.Mat4 {
	return v.viewProj
}

// Frustum returns the view frustum.
func (v *View) Frustum() *common.Frustum {
	return &v.frustum
}

// ScreenMultiple returns common.ScreenMultiple of the projection.
func (v *View) ScreenMultiple() float32 {
	return v.screenMultiple
}

// Size returns the view rectangle in pixels.
func (v *View) Size() (width, height int) {
	return v.width, v.height
}

// Now returns the frame time in seconds.
func (v *View) Now() float32 {
	return v.now
}

// SetMatrices updates the camera and everything derived from it.
//
// Parameters:
//   - viewMatrix: the world to view transform
//   - projMatrix: the view to clip transform, GL depth range
func (v *View) SetMatrices(viewMatrix, projMatrix mgl32.Mat4) {
	v.viewMatrix = viewMatrix
	v.projMatrix = projMatrix
	v.viewProj = projMatrix.Mul4(viewMatrix)
	v.origin = viewMatrix.Inv().Col(3).Vec3()
	v.frustum = common.ExtractFrustumFromMatrix(v.viewProj)
	v.screenMultiple = common.ScreenMultiple(projMatrix)
}

// SetViewport sets the view rectangle used for occlusion pixel fractions.
func (v *View) SetViewport(width, height int) {
	v.width = width
	v.height = height
}

// BeginFrame stamps the frame and sizes the per-primitive arrays for n primitives, clearing the
// outputs of the previous frame.
//
// Parameters:
//   - frameNumber: the frame being rendered
//   - now: the frame time in seconds
//   - n: the number of primitive slots in the scene
func (v *View) BeginFrame(frameNumber uint32, now float32, n int) {
	v.frameNumber = frameNumber
	v.now = now

	v.Relevance = resize(v.Relevance, n)
	v.PassMasks = resize(v.PassMasks, n)
	v.LODMasks = resize(v.LODMasks, n)
	v.ScreenRadiusSq = resize(v.ScreenRadiusSq, n)
	v.DitherAlpha = 0
	v.FadeUniforms = nil

	for pass := range meshpass.NumPasses {
		v.StaticMeshes[pass] = v.StaticMeshes[pass][:0]
		v.DynamicStaticMeshes[pass] = v.DynamicStaticMeshes[pass][:0]
		v.Passes[pass] = PassOutput{}
	}
	v.DynamicElements = v.DynamicElements[:0]
	v.DynamicMeshes = nil
	v.TranslucentPrimitives = v.TranslucentPrimitives[:0]
	v.DistortionPrimitives = v.DistortionPrimitives[:0]
	v.VelocityPrimitives = v.VelocityPrimitives[:0]
	if v.Arena == nil {
		v.Arena = dynamicmesh.NewArena()
	}
}

// EndFrame releases the frame's dynamic storage. The pass lists must not be used afterwards.
func (v *View) EndFrame() {
	for pass := range meshpass.NumPasses {
		v.Passes[pass] = PassOutput{}
	}
	v.DynamicMeshes = nil
	v.Arena.Reset()
}

// NumVisible returns the number of visible primitives.
func (v *View) NumVisible() int {
	return v.Visibility.Count()
}

func resize[T any](s []T, n int) []T {
	if cap(s) < n {
		return make([]T, n)
	}
	s = s[:n]
	clear(s)
	return s
}
