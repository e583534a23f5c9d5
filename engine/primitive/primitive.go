// Package primitive defines what the visibility pipeline needs to know about a renderable scene
// entity: its bounds and draw distances, its static mesh batches, and the SceneProxy capability
// object that answers per-view questions.
package primitive

import (
	"github.com/Carmen-Shannon/oxy-vis/common"
	"github.com/go-gl/mathgl/mgl32"
)

// ViewInfo is the read-only slice of a view exposed to proxies.
type ViewInfo interface {
	// Index returns the view's position in its family.
	Index() int
	// Origin returns the camera position in world space.
	Origin() mgl32.Vec3
	// ViewMatrix returns the world to view transform.
	ViewMatrix() mgl32.Mat4
	// ProjectionMatrix returns the view to clip transform.
	ProjectionMatrix() mgl32.Mat4
	// FrameNumber returns the frame being rendered.
	FrameNumber() uint32
}

// MeshCollector receives the mesh batches a proxy produces for one view and one frame.
type MeshCollector interface {
	// AddMesh appends a dynamic mesh batch for the primitive currently being collected.
	AddMesh(batch MeshBatch)
}

// SceneProxy is the polymorphic capability object attached to every primitive. The set of
// implementations is open; the pipeline only talks to primitives through this interface.
type SceneProxy interface {
	// ViewRelevance describes how the primitive participates in the given view.
	//
	// Parameters:
	//   - view: the view being classified
	//
	// Returns:
	//   - Relevance: the relevance flags for this view
	//   - error: a non-nil error excludes the primitive from every pass this frame
	ViewRelevance(view ViewInfo) (Relevance, error)

	// DynamicMeshElements produces this frame's dynamic mesh batches for the view.
	// Only called for primitives whose relevance reports DynamicRelevance.
	//
	// Parameters:
	//   - view: the view being collected
	//   - collector: sink for the produced batches
	//
	// Returns:
	//   - error: a non-nil error drops the primitive's dynamic batches this frame
	DynamicMeshElements(view ViewInfo, collector MeshCollector) error

	// OcclusionGeometry returns a simplified triangle mesh used as a software occluder.
	//
	// Returns:
	//   - OccluderGeometry: the occluder mesh in local space
	//   - bool: false when the primitive provides no occluder
	OcclusionGeometry() (OccluderGeometry, bool)
}

// SubQueryProvider is implemented by proxies that split their occlusion test into several
// bounds. The primitive is occluded only when every sub-bound is occluded.
type SubQueryProvider interface {
	OcclusionSubQueries() []common.BoxSphereBounds
}

// OccluderGeometry is an indexed triangle list in the primitive's local space.
type OccluderGeometry struct {
	Vertices []mgl32.Vec3
	Indices  []uint16
}

// Primitive is the registration record handed to the scene when adding a primitive.
type Primitive struct {
	// Proxy answers per-view questions about the primitive. Required.
	Proxy SceneProxy
	// Bounds is the world-space bounding box and sphere.
	Bounds common.BoxSphereBounds
	// LocalToWorld positions OccluderGeometry in the world.
	LocalToWorld mgl32.Mat4

	// MinDrawDistance hides the primitive when the camera is closer than this.
	MinDrawDistance float32
	// MaxDrawDistance hides the primitive beyond this distance. Zero means unlimited.
	MaxDrawDistance float32
	// UsesDistanceCullFade fades the primitive in and out at its max draw distance.
	UsesDistanceCullFade bool

	// CanBeOccluded allows occlusion culling to hide the primitive.
	CanBeOccluded bool
	// AllowApproximateOcclusion lets the primitive share grouped occlusion queries.
	AllowApproximateOcclusion bool
	// IsOpaque marks the primitive as a candidate software occluder.
	IsOpaque bool
	// VisibilityID indexes baked precomputed visibility, or -1.
	VisibilityID int
	// CustomIndex is passed to a view's custom visibility query, or -1.
	CustomIndex int

	// CastShadow makes the primitive relevant to shadow depth passes.
	CastShadow bool
	// LightIDs lists the lights interacting with the primitive.
	LightIDs []uint32

	// StaticMeshes are the cacheable mesh batches, one or more per LOD.
	StaticMeshes []MeshBatch
	// ForcedLOD pins every view to one LOD index, or -1.
	ForcedLOD int
	// LODParent is the scene index of the HLOD proxy standing in for this primitive, or -1.
	LODParent int
	// HLODChildren lists the scene indices this primitive stands in for when it is an HLOD proxy.
	HLODChildren []int
}
