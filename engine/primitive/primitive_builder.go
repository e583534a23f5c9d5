package primitive

import (
	"github.com/Carmen-Shannon/oxy-vis/common"
	"github.com/go-gl/mathgl/mgl32"
)

// PrimitiveBuilderOption is a functional option for configuring a Primitive.
type PrimitiveBuilderOption func(*Primitive)

// New creates a Primitive with the given proxy and bounds. Primitives default to being
// occludable opaque occluder candidates with no draw distance limit. Panics if proxy is nil.
//
// Parameters:
//   - proxy: the capability object (must not be nil)
//   - bounds: world-space bounds
//   - options: functional options to further configure the primitive
//
// Returns:
//   - Primitive: the registration record
func New(proxy SceneProxy, bounds common.BoxSphereBounds, options ...PrimitiveBuilderOption) Primitive {
	if proxy == nil {
		panic("primitive: New requires a non-nil SceneProxy")
	}
	p := Primitive{
		Proxy:                     proxy,
		Bounds:                    bounds,
		LocalToWorld:              mgl32.Translate3D(bounds.Origin[0], bounds.Origin[1], bounds.Origin[2]),
		CanBeOccluded:             true,
		AllowApproximateOcclusion: true,
		IsOpaque:                  true,
		VisibilityID:              -1,
		CustomIndex:               -1,
		ForcedLOD:                 -1,
		LODParent:                 -1,
	}
	for _, option := range options {
		option(&p)
	}
	return p
}

// WithDrawDistance sets the min and max draw distances. A max of zero means unlimited.
//
// Parameters:
//   - minDistance: the primitive is hidden closer than this
//   - maxDistance: the primitive is hidden beyond this
//
// Returns:
//   - PrimitiveBuilderOption: option function to apply
func WithDrawDistance(minDistance, maxDistance float32) PrimitiveBuilderOption {
	return func(p *Primitive) {
		p.MinDrawDistance = minDistance
		p.MaxDrawDistance = maxDistance
	}
}

// WithDistanceCullFade makes the primitive fade at its max draw distance instead of popping.
func WithDistanceCullFade(enabled bool) PrimitiveBuilderOption {
	return func(p *Primitive) {
		p.UsesDistanceCullFade = enabled
	}
}

// WithOcclusion sets whether the primitive can be occluded and whether it may share grouped queries.
func WithOcclusion(canBeOccluded, allowApproximate bool) PrimitiveBuilderOption {
	return func(p *Primitive) {
		p.CanBeOccluded = canBeOccluded
		p.AllowApproximateOcclusion = allowApproximate
	}
}

// WithOpaque marks the primitive as opaque, making it eligible as a software occluder.
func WithOpaque(opaque bool) PrimitiveBuilderOption {
	return func(p *Primitive) {
		p.IsOpaque = opaque
	}
}

// WithLocalToWorld sets the transform applied to occluder geometry.
func WithLocalToWorld(m mgl32.Mat4) PrimitiveBuilderOption {
	return func(p *Primitive) {
		p.LocalToWorld = m
	}
}

// WithVisibilityID links the primitive to baked precomputed visibility.
func WithVisibilityID(id int) PrimitiveBuilderOption {
	return func(p *Primitive) {
		p.VisibilityID = id
	}
}

// WithCustomIndex sets the index handed to a view's custom visibility query.
func WithCustomIndex(index int) PrimitiveBuilderOption {
	return func(p *Primitive) {
		p.CustomIndex = index
	}
}

// WithCastShadow makes the primitive relevant to shadow depth passes.
func WithCastShadow(cast bool) PrimitiveBuilderOption {
	return func(p *Primitive) {
		p.CastShadow = cast
	}
}

// WithLights sets the lights interacting with the primitive.
func WithLights(ids ...uint32) PrimitiveBuilderOption {
	return func(p *Primitive) {
		p.LightIDs = append(p.LightIDs[:0], ids...)
	}
}

// WithStaticMeshes sets the primitive's cacheable mesh batches.
//
// Parameters:
//   - meshes: the static mesh batches, typically ordered by LOD
//
// Returns:
//   - PrimitiveBuilderOption: option function to apply
func WithStaticMeshes(meshes ...MeshBatch) PrimitiveBuilderOption {
	return func(p *Primitive) {
		p.StaticMeshes = append(p.StaticMeshes[:0], meshes...)
	}
}

// WithForcedLOD pins the primitive to a single LOD index. Pass -1 to disable.
func WithForcedLOD(lod int) PrimitiveBuilderOption {
	return func(p *Primitive) {
		p.ForcedLOD = lod
	}
}

// WithHLODChildren registers the primitive as an HLOD proxy for the given scene indices.
func WithHLODChildren(children ...int) PrimitiveBuilderOption {
	return func(p *Primitive) {
		p.HLODChildren = append(p.HLODChildren[:0], children...)
	}
}
