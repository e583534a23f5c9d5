package meshpass

import (
	"errors"
	"testing"

	"github.com/Carmen-Shannon/oxy-vis/engine/primitive"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBatch() primitive.MeshBatch {
	return primitive.MeshBatch{
		UseForMaterial:  true,
		UseForDepthPass: true,
		CastShadow:      true,
		VertexFactory: primitive.VertexFactory{
			Hash:                   7,
			Streams:                []primitive.VertexStream{{Buffer: 1, Stride: 32}},
			PrimitiveIDStreamIndex: 1,
		},
		Material: primitive.Material{
			ID:            3,
			ShaderHash:    11,
			BindingGroups: []uint32{5},
		},
		Topology:      wgpu.PrimitiveTopologyTriangleList,
		IndexBuffer:   2,
		IndexFormat:   wgpu.IndexFormatUint32,
		NumPrimitives: 12,
		NumVertices:   24,
	}
}

type failingBuilder struct {
	fail  bool
	calls int
}

func (b *failingBuilder) CreatePipelineState(PipelineID, PipelineState) error {
	b.calls++
	if b.fail {
		return errors.New("device lost")
	}
	return nil
}

func TestPipelineStateTableDedup(t *testing.T) {
	b := &failingBuilder{}
	table := NewPipelineStateTable(b)
	s := NewPipelineState(1, 2)

	id1, err := table.PersistentID(s)
	require.NoError(t, err)
	id2, err := table.PersistentID(s)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 1, table.NumPersistent())

	other, err := table.PersistentID(NewPipelineState(1, 2, WithCullMode(wgpu.CullModeBack)))
	require.NoError(t, err)
	assert.NotEqual(t, id1, other)

	table.ReleasePersistentID(id1)
	_, ok := table.State(id1)
	assert.True(t, ok)
	table.ReleasePersistentID(id1)
	_, ok = table.State(id1)
	assert.False(t, ok)
	assert.Equal(t, 1, table.NumPersistent())
}

func TestPipelineStateTableCreationFailure(t *testing.T) {
	b := &failingBuilder{fail: true}
	table := NewPipelineStateTable(b)

	id, err := table.PersistentID(NewPipelineState(1, 2))
	assert.ErrorIs(t, err, ErrPipelineCreation)
	assert.Equal(t, InvalidPipelineID, id)
	assert.Equal(t, 0, table.NumPersistent())

	b.fail = false
	id, err = table.PersistentID(NewPipelineState(1, 2))
	require.NoError(t, err)
	assert.NotEqual(t, InvalidPipelineID, id)
}

func TestPipelineStateTableOneFrameAndInvalidate(t *testing.T) {
	b := &failingBuilder{}
	table := NewPipelineStateTable(b)
	s := NewPipelineState(9, 9)

	id, err := table.OneFrameID(s)
	require.NoError(t, err)
	assert.True(t, id.IsOneFrame())
	again, err := table.OneFrameID(s)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	table.Invalidate(id)
	_, err = table.OneFrameID(s)
	require.NoError(t, err)
	assert.Equal(t, 2, b.calls)

	table.ResetOneFrameIDs()
	_, ok := table.State(id)
	assert.False(t, ok)
}

func TestBuildCommandValidation(t *testing.T) {
	p := NewProcessor(NewPipelineStateTable(nil), true)

	batch := testBatch()
	cmd, err := p.BuildCommand(BasePass, &batch, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), cmd.NumInstances)
	assert.Equal(t, uint32(1), cmd.Bindings.NumGroups)

	batch.Material.BindingGroups = []uint32{0}
	_, err = p.BuildCommand(BasePass, &batch, true)
	assert.ErrorIs(t, err, ErrMissingBinding)
	// the rejected command's pipeline reference was returned
	assert.Equal(t, 1, p.Table().NumPersistent())
}

func TestShouldDrawRoutesByBlendMode(t *testing.T) {
	p := NewProcessor(NewPipelineStateTable(nil), true)
	opaque := testBatch()
	translucent := testBatch()
	translucent.Material.BlendMode = primitive.BlendTranslucent
	translucent.Material.Translucency = primitive.TranslucencyAfterDOF

	assert.True(t, p.ShouldDraw(BasePass, &opaque))
	assert.True(t, p.ShouldDraw(DepthPass, &opaque))
	assert.False(t, p.ShouldDraw(TranslucencyAll, &opaque))

	assert.False(t, p.ShouldDraw(BasePass, &translucent))
	assert.True(t, p.ShouldDraw(TranslucencyAfterDOF, &translucent))
	assert.False(t, p.ShouldDraw(TranslucencyStandard, &translucent))
	assert.True(t, p.ShouldDraw(TranslucencyAll, &translucent))
}

func TestStateBucketRefCounting(t *testing.T) {
	p := NewProcessor(NewPipelineStateTable(nil), true)
	list := NewCachedPassMeshDrawList(BasePass)
	batch := testBatch()

	a, err := p.CacheStaticMesh(list, 0, &batch)
	require.NoError(t, err)
	b, err := p.CacheStaticMesh(list, 0, &batch)
	require.NoError(t, err)

	assert.Equal(t, int32(-1), a.CommandIndex)
	assert.Equal(t, a.StateBucketID, b.StateBucketID)
	assert.Equal(t, 1, list.NumStateBuckets())
	assert.Equal(t, 2, list.BucketRefCount(a.StateBucketID))

	p.ReleaseCached(list, a)
	assert.Equal(t, 1, list.BucketRefCount(a.StateBucketID))
	assert.Equal(t, 1, p.Table().NumPersistent())

	p.ReleaseCached(list, b)
	assert.Equal(t, 0, list.NumStateBuckets())
	assert.Equal(t, 0, p.Table().NumPersistent())
	assert.False(t, list.Remove(b))
}

func TestFlatListReusesFreedSlots(t *testing.T) {
	p := NewProcessor(NewPipelineStateTable(nil), false)
	list := NewCachedPassMeshDrawList(BasePass)
	batch := testBatch()

	a, err := p.CacheStaticMesh(list, 0, &batch)
	require.NoError(t, err)
	_, err = p.CacheStaticMesh(list, 1, &batch)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), a.StateBucketID)
	assert.Equal(t, 2, list.NumCommands())

	p.ReleaseCached(list, a)
	assert.Nil(t, list.Command(a))
	c, err := p.CacheStaticMesh(list, 2, &batch)
	require.NoError(t, err)
	assert.Equal(t, a.CommandIndex, c.CommandIndex)
	assert.NotNil(t, list.Command(c))
}

func TestSortKeysOrdering(t *testing.T) {
	opaque := OpaqueSortKey(false, 100, 1, 1, 0)
	masked := OpaqueSortKey(true, 1, 1, 1, 0)
	assert.Less(t, opaque, masked)

	near := TranslucentSortKey(0, 10, 0)
	far := TranslucentSortKey(0, 100, 0)
	assert.Less(t, far, near)

	low := TranslucentSortKey(-5, 1, 0)
	assert.Less(t, low, far)
	assert.Equal(t, int16(-5), low.TranslucentSortPriority())
}

func TestBuildPrimitiveIDBufferMergesBucketRuns(t *testing.T) {
	p := NewProcessor(NewPipelineStateTable(nil), true)
	list := NewCachedPassMeshDrawList(BasePass)
	batch := testBatch()

	info, err := p.CacheStaticMesh(list, 0, &batch)
	require.NoError(t, err)
	_, err = p.CacheStaticMesh(list, 0, &batch)
	require.NoError(t, err)
	cached := list.Command(info)

	cmds := []VisibleMeshDrawCommand{
		{Command: cached, StateBucketID: info.StateBucketID, PrimitiveID: 4, SortKey: info.SortKey},
		{Command: cached, StateBucketID: info.StateBucketID, PrimitiveID: 9, SortKey: info.SortKey},
	}
	SortVisibleCommands(cmds)
	out, ids, maxInstances := BuildPrimitiveIDBuffer(true, cmds, nil)

	require.Len(t, out, 1)
	assert.Equal(t, uint32(2), out[0].Command.NumInstances)
	assert.Equal(t, []int32{4, 9}, ids)
	assert.Equal(t, int32(0), out[0].PrimitiveIDBufferOffset)
	assert.Equal(t, uint32(2), maxInstances)
	assert.Equal(t, uint32(1), cached.NumInstances)

	out, ids, _ = BuildPrimitiveIDBuffer(false, cmds, nil)
	require.Len(t, out, 2)
	assert.Equal(t, int32(1), out[1].PrimitiveIDBufferOffset)
	assert.Len(t, ids, 2)
}

func TestBuildPrimitiveIDBufferKeepsMismatchedCommandsApart(t *testing.T) {
	p := NewProcessor(NewPipelineStateTable(nil), true)
	list := NewCachedPassMeshDrawList(BasePass)
	batch := testBatch()

	info, err := p.CacheStaticMesh(list, 0, &batch)
	require.NoError(t, err)
	first := *list.Command(info)
	other := first
	other.StencilRef++
	shifted := first
	shifted.FirstIndex += 3

	// a shared bucket id must not fuse commands that draw different state or ranges
	cmds := []VisibleMeshDrawCommand{
		{Command: &first, StateBucketID: info.StateBucketID, PrimitiveID: 1},
		{Command: &other, StateBucketID: info.StateBucketID, PrimitiveID: 2},
		{Command: &shifted, StateBucketID: info.StateBucketID, PrimitiveID: 3},
	}
	out, ids, maxInstances := BuildPrimitiveIDBuffer(true, cmds, nil)

	require.Len(t, out, 3)
	assert.Equal(t, []int32{1, 2, 3}, ids)
	assert.Equal(t, uint32(1), maxInstances)
	for i, vc := range out {
		assert.Equal(t, uint32(1), vc.Command.NumInstances)
		assert.Equal(t, int32(i), vc.PrimitiveIDBufferOffset)
	}

	// a matching tail after a mismatch still starts a new run
	again := first
	cmds = append(cmds, VisibleMeshDrawCommand{Command: &again, StateBucketID: info.StateBucketID, PrimitiveID: 4})
	cmds[2].Command = &first
	out, _, maxInstances = BuildPrimitiveIDBuffer(true, cmds, nil)
	require.Len(t, out, 3)
	assert.Equal(t, uint32(2), out[2].Command.NumInstances)
	assert.Equal(t, int32(2), out[2].PrimitiveIDBufferOffset)
	assert.Equal(t, uint32(2), maxInstances)
	assert.Equal(t, uint32(1), first.NumInstances)
}

func TestTranslucentSortPolicies(t *testing.T) {
	params := TranslucentSortParams{Policy: SortAlongAxis, Axis: [3]float32{0, 1, 0}}
	assert.InDelta(t, 5, params.SortDistance([3]float32{3, 5, 0}), 1e-6)

	params.Policy = SortByDistance
	assert.InDelta(t, 5, params.SortDistance([3]float32{3, 4, 0}), 1e-6)

	cmds := []VisibleMeshDrawCommand{
		{PrimitiveID: 0, SortKey: TranslucentSortKey(0, 0, 1)},
		{PrimitiveID: 1, SortKey: TranslucentSortKey(0, 0, 2)},
	}
	centers := map[int32]mgl32.Vec3{0: {0, 0, 1}, 1: {0, 0, 50}}
	UpdateTranslucentSortKeys(cmds, params, func(id int32) mgl32.Vec3 { return centers[id] })
	SortVisibleCommands(cmds)
	assert.Equal(t, int32(1), cmds[0].PrimitiveID)
	assert.Equal(t, uint16(2), cmds[0].SortKey.TranslucentMeshID())
}
