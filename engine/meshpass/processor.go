package meshpass

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-vis/engine/primitive"
	"github.com/cogentcore/webgpu/wgpu"
)

// Shadow depth bias applied to CSM shadow depth pipelines.
const (
	shadowDepthBias      int32   = 2
	shadowDepthSlopeBias float32 = 2.0
)

// Processor turns mesh batches into draw commands for a pass: it filters batches, chooses the
// pipeline state and fills in bindings and geometry. Safe for concurrent use; the only shared
// state is the pipeline state table.
type Processor struct {
	table             *PipelineStateTable
	dynamicInstancing bool
}

// NewProcessor creates a processor backed by a pipeline state table.
//
// Parameters:
//   - table: the pipeline state table (must not be nil)
//   - dynamicInstancing: cache instanceable commands in state buckets
//
// Returns:
//   - *Processor: the new processor
func NewProcessor(table *PipelineStateTable, dynamicInstancing bool) *Processor {
	if table == nil {
		panic("meshpass: NewProcessor requires a non-nil PipelineStateTable")
	}
	return &Processor{table: table, dynamicInstancing: dynamicInstancing}
}

// Table returns the pipeline state table the processor allocates ids from.
func (p *Processor) Table() *PipelineStateTable {
	return p.table
}

// DynamicInstancing reports whether instanceable commands are merged.
func (p *Processor) DynamicInstancing() bool {
	return p.dynamicInstancing
}

// ShouldDraw reports whether the batch takes part in the pass.
func (p *Processor) ShouldDraw(pass Pass, batch *primitive.MeshBatch) bool {
	translucent := batch.Material.BlendMode.IsTranslucent()
	switch pass {
	case DepthPass:
		return batch.UseForDepthPass && !translucent
	case BasePass, MobileBasePassCSM, Velocity:
		return batch.UseForMaterial && !translucent
	case CSMShadowDepth:
		return batch.CastShadow && !translucent
	case Distortion:
		return batch.Material.IsDistortion
	case TranslucencyStandard:
		return translucent && batch.Material.Translucency == primitive.TranslucencyStandard
	case TranslucencyAfterDOF:
		return translucent && batch.Material.Translucency == primitive.TranslucencyAfterDOF
	case TranslucencyAll, MobileInverseOpacity:
		return translucent
	case LightmapDensity, DebugViewMode, CustomDepth:
		return batch.UseForMaterial
	}
	return false
}

// PassShaderHash returns the shader hash a material's shader takes in a pass. Backends key their
// shader programs by this value.
func PassShaderHash(pass Pass, shaderHash uint32) uint32 {
	return shaderHash ^ (uint32(pass)+1)*0x9E3779B9
}

// RasterState returns the fill and cull mode a batch is drawn with.
func RasterState(batch *primitive.MeshBatch) (FillMode, wgpu.CullMode) {
	fill := FillSolid
	if batch.Material.Wireframe {
		fill = FillWireframe
	}
	cull := wgpu.CullModeBack
	switch {
	case batch.Material.TwoSided:
		cull = wgpu.CullModeNone
	case batch.ReverseCulling:
		cull = wgpu.CullModeFront
	}
	return fill, cull
}

// PipelineState returns the pipeline state the batch needs in the pass.
func (p *Processor) PipelineState(pass Pass, batch *primitive.MeshBatch) PipelineState {
	_, cull := RasterState(batch)
	opts := []PipelineStateBuilderOption{
		WithCullMode(cull),
		WithTopology(batch.Topology),
	}
	switch pass {
	case DepthPass, CustomDepth:
		opts = append(opts, WithWriteMask(wgpu.ColorWriteMaskNone))
	case CSMShadowDepth:
		opts = append(opts,
			WithWriteMask(wgpu.ColorWriteMaskNone),
			WithDepthBias(shadowDepthBias, shadowDepthSlopeBias),
		)
	case TranslucencyStandard, TranslucencyAfterDOF, TranslucencyAll, Distortion, MobileInverseOpacity:
		opts = append(opts, WithBlendEnabled(true), WithDepthWriteEnabled(false))
	}
	return NewPipelineState(PassShaderHash(pass, batch.Material.ShaderHash), batch.VertexFactory.Hash, opts...)
}

// BuildCommand builds the draw command for a batch. Persistent commands take a reference on
// their pipeline id that must be dropped through ReleaseCommand; other commands use one-frame ids.
//
// Parameters:
//   - pass: the pass being built
//   - batch: the source mesh batch
//   - persistent: whether the command will be cached across frames
//
// Returns:
//   - MeshDrawCommand: the built command
//   - error: wraps ErrPipelineCreation, ErrMissingBinding or ErrInvalidCommand
func (p *Processor) BuildCommand(pass Pass, batch *primitive.MeshBatch, persistent bool) (MeshDrawCommand, error) {
	if len(batch.Material.BindingGroups) > MaxBindGroups {
		return MeshDrawCommand{}, fmt.Errorf("%w: %d bind groups", ErrInvalidCommand, len(batch.Material.BindingGroups))
	}
	if len(batch.VertexFactory.Streams) > primitive.MaxVertexStreams {
		return MeshDrawCommand{}, fmt.Errorf("%w: %d vertex streams", ErrInvalidCommand, len(batch.VertexFactory.Streams))
	}

	cmd := MeshDrawCommand{
		PipelineID:             InvalidPipelineID,
		PrimitiveIDStreamIndex: batch.VertexFactory.PrimitiveIDStreamIndex,
		IndexBuffer:            batch.IndexBuffer,
		IndexFormat:            batch.IndexFormat,
		Topology:               batch.Topology,
		FirstIndex:             batch.FirstIndex,
		NumPrimitives:          batch.NumPrimitives,
		NumInstances:           max(batch.NumInstances, 1),
		BaseVertex:             batch.BaseVertex,
		NumVertices:            batch.NumVertices,
	}
	cmd.Bindings.NumGroups = uint32(copy(cmd.Bindings.Groups[:], batch.Material.BindingGroups))
	cmd.NumVertexStreams = uint32(copy(cmd.VertexStreams[:], batch.VertexFactory.Streams))

	state := p.PipelineState(pass, batch)
	var err error
	if persistent {
		cmd.PipelineID, err = p.table.PersistentID(state)
	} else {
		cmd.PipelineID, err = p.table.OneFrameID(state)
	}
	if err != nil {
		return MeshDrawCommand{}, fmt.Errorf("%s: %w", pass, err)
	}

	if err := cmd.Validate(); err != nil {
		if persistent {
			p.table.ReleasePersistentID(cmd.PipelineID)
		}
		return MeshDrawCommand{}, fmt.Errorf("%s: %w", pass, err)
	}
	return cmd, nil
}

// ReleaseCommand drops the pipeline reference of a persistent command.
func (p *Processor) ReleaseCommand(cmd *MeshDrawCommand) {
	p.table.ReleasePersistentID(cmd.PipelineID)
}

// SortKey returns the initial sort key of a command. Translucent keys carry a zero distance
// until UpdateTranslucentSortKeys runs for a view.
func (p *Processor) SortKey(pass Pass, batch *primitive.MeshBatch, pipelineID PipelineID) SortKey {
	if pass.IsTranslucent() {
		return TranslucentSortKey(batch.Material.TranslucencySortPriority, 0, batch.MeshIDInPrimitive)
	}
	return OpaqueSortKey(
		batch.Material.BlendMode == primitive.BlendMasked,
		pipelineID,
		batch.VertexFactory.Hash,
		batch.Material.ID,
		batch.MeshIDInPrimitive,
	)
}

// CacheStaticMesh builds a persistent command for a static batch and stores it in the list.
//
// Parameters:
//   - list: the pass list to cache into
//   - staticMeshIndex: index of the batch in the primitive's static meshes
//   - batch: the batch
//
// Returns:
//   - CachedMeshDrawCommandInfo: where the command was stored
//   - error: the build error, in which case nothing was cached
func (p *Processor) CacheStaticMesh(list *CachedPassMeshDrawList, staticMeshIndex int, batch *primitive.MeshBatch) (CachedMeshDrawCommandInfo, error) {
	cmd, err := p.BuildCommand(list.pass, batch, true)
	if err != nil {
		return CachedMeshDrawCommandInfo{}, err
	}
	fill, cull := RasterState(batch)
	useBucket := p.dynamicInstancing && cmd.PrimitiveIDStreamIndex >= 0
	cmdIndex, bucketID := list.Add(cmd, useBucket)
	return CachedMeshDrawCommandInfo{
		Pass:            list.pass,
		StaticMeshIndex: staticMeshIndex,
		CommandIndex:    cmdIndex,
		StateBucketID:   bucketID,
		PipelineID:      cmd.PipelineID,
		SortKey:         p.SortKey(list.pass, batch, cmd.PipelineID),
		FillMode:        fill,
		CullMode:        cull,
	}, nil
}

// ReleaseCached removes a cached command from its list and drops its pipeline reference.
func (p *Processor) ReleaseCached(list *CachedPassMeshDrawList, info CachedMeshDrawCommandInfo) {
	if list.Remove(info) {
		p.table.ReleasePersistentID(info.PipelineID)
	}
}
