package meshpass

import (
	"math"

	"github.com/Carmen-Shannon/oxy-vis/common"
	"github.com/go-gl/mathgl/mgl32"
)

// SortKey orders visible commands within a pass. Opaque and translucent passes pack different
// fields into it; see OpaqueSortKey and TranslucentSortKey.
type SortKey uint64

// Opaque key layout, most significant first:
//
//	Masked:1 | PipelineID:19 | VertexFactoryHash:16 | MaterialHash:20 | MeshElement:8
const (
	opaqueMeshElementBits  = 8
	opaqueMaterialBits     = 20
	opaqueVertexFactorBits = 16
	opaquePipelineBits     = 19

	opaqueMaterialShift     = opaqueMeshElementBits
	opaqueVertexFactorShift = opaqueMaterialShift + opaqueMaterialBits
	opaquePipelineShift     = opaqueVertexFactorShift + opaqueVertexFactorBits
	opaqueMaskedShift       = opaquePipelineShift + opaquePipelineBits
)

// OpaqueSortKey builds a key that groups masked draws after opaque ones, then clusters by
// pipeline, vertex factory and material to minimize state changes.
//
// Parameters:
//   - masked: whether the material is alpha-masked
//   - pipelineID: the command's pipeline id
//   - vertexFactoryHash: the vertex factory hash
//   - materialHash: the material id or hash
//   - meshElement: element index within the primitive
//
// Returns:
//   - SortKey: the packed key
func OpaqueSortKey(masked bool, pipelineID PipelineID, vertexFactoryHash, materialHash uint32, meshElement uint16) SortKey {
	var k SortKey
	if masked {
		k |= 1 << opaqueMaskedShift
	}
	k |= SortKey(uint32(pipelineID)&(1<<opaquePipelineBits-1)) << opaquePipelineShift
	k |= SortKey(vertexFactoryHash&(1<<opaqueVertexFactorBits-1)) << opaqueVertexFactorShift
	k |= SortKey(materialHash&(1<<opaqueMaterialBits-1)) << opaqueMaterialShift
	k |= SortKey(meshElement & (1<<opaqueMeshElementBits - 1))
	return k
}

// Translucent key layout, most significant first:
//
//	Priority:16 | Distance:32 | MeshID:16
//
// Distance holds the inverted sortable bits of the sort distance so that farther draws come
// first.
const (
	translucentDistanceShift = 16
	translucentPriorityShift = 48
)

// TranslucentSortKey builds a back-to-front key. Lower priority values draw first.
//
// Parameters:
//   - priority: the material's translucency sort priority
//   - distance: the policy-specific distance from the view, larger is farther
//   - meshID: the mesh id inside the primitive, breaking ties
//
// Returns:
//   - SortKey: the packed key
func TranslucentSortKey(priority int16, distance float32, meshID uint16) SortKey {
	p := uint16(int32(priority) - math.MinInt16)
	d := ^common.SortableFloat(distance)
	return SortKey(p)<<translucentPriorityShift | SortKey(d)<<translucentDistanceShift | SortKey(meshID)
}

// TranslucentSortPriority returns the priority field of a translucent key.
func (k SortKey) TranslucentSortPriority() int16 {
	return int16(int32(k>>translucentPriorityShift) + math.MinInt16)
}

// TranslucentMeshID returns the mesh id field of a translucent key.
func (k SortKey) TranslucentMeshID() uint16 {
	return uint16(k)
}

// TranslucentSortPolicy selects how the distance of a translucent draw is measured.
type TranslucentSortPolicy uint8

const (
	// SortByDistance uses the distance from the view origin to the bounds center.
	SortByDistance TranslucentSortPolicy = iota
	// SortByProjectedZ uses the view-space depth of the bounds center.
	SortByProjectedZ
	// SortAlongAxis uses the projection of the bounds center on a fixed world axis.
	SortAlongAxis
)

// TranslucentSortParams carries the view state the translucent distance depends on.
type TranslucentSortParams struct {
	Policy     TranslucentSortPolicy
	ViewOrigin mgl32.Vec3
	ViewMatrix mgl32.Mat4
	Axis       mgl32.Vec3
}

// SortDistance measures a bounds center under the policy.
//
// Parameters:
//   - center: the world-space bounds center
//
// Returns:
//   - float32: larger values are farther from the viewer
func (p TranslucentSortParams) SortDistance(center mgl32.Vec3) float32 {
	switch p.Policy {
	case SortByProjectedZ:
		// Right handed view space looks down -Z.
		return -p.ViewMatrix.Mul4x1(center.Vec4(1)).Z()
	case SortAlongAxis:
		return center.Sub(p.ViewOrigin).Dot(p.Axis)
	default:
		return center.Sub(p.ViewOrigin).Len()
	}
}

// BoundsCenterFunc returns the world-space bounds center for a primitive id.
type BoundsCenterFunc func(primitiveID int32) mgl32.Vec3

// UpdateTranslucentSortKeys rewrites the distance field of every command's key for the current
// view, keeping priority and mesh id.
//
// Parameters:
//   - cmds: the translucent visible commands
//   - params: the sort policy and view state
//   - center: bounds lookup by primitive id
func UpdateTranslucentSortKeys(cmds []VisibleMeshDrawCommand, params TranslucentSortParams, center BoundsCenterFunc) {
	for i := range cmds {
		c := &cmds[i]
		dist := params.SortDistance(center(c.PrimitiveID))
		c.SortKey = TranslucentSortKey(c.SortKey.TranslucentSortPriority(), dist, c.SortKey.TranslucentMeshID())
	}
}
