package primitive

import "github.com/cogentcore/webgpu/wgpu"

// BlendMode is the material blend mode, which decides opaque versus translucent pass routing.
type BlendMode int

const (
	BlendOpaque BlendMode = iota
	BlendMasked
	BlendTranslucent
	BlendAdditive
	BlendModulate
)

// IsTranslucent reports whether the blend mode renders in a translucency pass.
func (b BlendMode) IsTranslucent() bool {
	return b >= BlendTranslucent
}

// TranslucencyPass selects which translucency bucket a translucent material renders in.
type TranslucencyPass int

const (
	// TranslucencyStandard renders before depth of field.
	TranslucencyStandard TranslucencyPass = iota
	// TranslucencyAfterDOF renders after depth of field.
	TranslucencyAfterDOF
)

// BufferHandle identifies a GPU buffer owned by the render backend. Zero is "no buffer".
type BufferHandle uint32

// VertexStream binds one vertex buffer slot.
type VertexStream struct {
	Buffer     BufferHandle
	Offset     uint32
	Stride     uint32
	StreamSlot uint8
}

// MaxVertexStreams bounds the number of vertex streams a vertex factory may bind.
const MaxVertexStreams = 4

// VertexFactory describes how vertices are fetched for a mesh.
type VertexFactory struct {
	// Hash identifies the vertex factory type for sort keys.
	Hash uint32
	// Streams are the vertex buffers to bind.
	Streams []VertexStream
	// PrimitiveIDStreamIndex is the stream that receives the per-instance primitive id buffer, or -1.
	PrimitiveIDStreamIndex int8
}

// Material describes the parts of a material the pipeline routes on.
type Material struct {
	// ID identifies the material instance.
	ID uint32
	// ShaderHash identifies the compiled shader pair used by this material.
	ShaderHash uint32
	// BindingGroups are the shader parameter bind groups, in slot order.
	BindingGroups []uint32
	BlendMode     BlendMode
	Translucency  TranslucencyPass
	// TranslucencySortPriority orders translucent draws ahead of distance.
	TranslucencySortPriority int16
	TwoSided                 bool
	Wireframe                bool
	// IsDistortion marks materials that write refraction.
	IsDistortion bool
	// ShadingModel is the bit index of the material's shading model.
	ShadingModel uint8
}

// MeshBatch is a single drawable element of a primitive at one LOD.
type MeshBatch struct {
	// LODIndex is the level of detail this batch belongs to.
	LODIndex int8
	// ScreenSize is the screen size at or above which this LOD is used.
	ScreenSize float32
	// MeshIDInPrimitive orders translucent batches inside one primitive.
	MeshIDInPrimitive uint16

	UseForMaterial  bool
	UseForDepthPass bool
	UseAsOccluder   bool
	CastShadow      bool
	// DitheredLODTransition allows this batch to cross-fade with the adjacent LOD.
	DitheredLODTransition bool
	ReverseCulling        bool

	VertexFactory VertexFactory
	Material      Material
	Topology      wgpu.PrimitiveTopology
	IndexBuffer   BufferHandle
	IndexFormat   wgpu.IndexFormat
	FirstIndex    uint32
	NumPrimitives uint32
	BaseVertex    int32
	NumVertices   uint32
	NumInstances  uint32
}

// Relevance is a primitive's per-view relevance: which kinds of rendering it takes part in.
type Relevance struct {
	DrawRelevance    bool
	StaticRelevance  bool
	DynamicRelevance bool
	ShadowRelevance  bool

	OpaqueRelevance bool
	MaskedRelevance bool

	NormalTranslucencyRelevance   bool
	SeparateTranslucencyRelevance bool
	DistortionRelevance           bool

	RenderInMainPass  bool
	RenderInDepthPass bool
	RenderCustomDepth bool
	VelocityRelevance bool
	DecalRelevance    bool
	// UsesLightingChannels marks primitives that must be drawn in the lighting channel pass.
	UsesLightingChannels bool

	// ShadingModelMask has one bit per shading model used by the primitive's materials.
	ShadingModelMask uint16
}

// HasTranslucency reports whether any translucency bucket is relevant.
func (r Relevance) HasTranslucency() bool {
	return r.NormalTranslucencyRelevance || r.SeparateTranslucencyRelevance
}
