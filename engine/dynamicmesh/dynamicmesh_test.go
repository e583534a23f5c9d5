package dynamicmesh

import (
	"errors"
	"testing"

	"github.com/Carmen-Shannon/oxy-vis/common"
	"github.com/Carmen-Shannon/oxy-vis/engine/config"
	"github.com/Carmen-Shannon/oxy-vis/engine/meshpass"
	"github.com/Carmen-Shannon/oxy-vis/engine/primitive"
	"github.com/Carmen-Shannon/oxy-vis/engine/scene"
	"github.com/Carmen-Shannon/oxy-vis/engine/task"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBatch(material uint32) primitive.MeshBatch {
	return primitive.MeshBatch{
		UseForMaterial:  true,
		UseForDepthPass: true,
		VertexFactory: primitive.VertexFactory{
			Hash:                   7,
			Streams:                []primitive.VertexStream{{Buffer: 1, Stride: 32}},
			PrimitiveIDStreamIndex: -1,
		},
		Material: primitive.Material{
			ID:            material,
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

// dynamicProxy emits n batches, or fails in the configured way.
type dynamicProxy struct {
	n      int
	err    error
	panics bool
}

func (p dynamicProxy) ViewRelevance(primitive.ViewInfo) (primitive.Relevance, error) {
	return primitive.Relevance{DrawRelevance: true, DynamicRelevance: true}, nil
}

func (p dynamicProxy) DynamicMeshElements(_ primitive.ViewInfo, c primitive.MeshCollector) error {
	for i := range p.n {
		c.AddMesh(testBatch(uint32(i)))
	}
	if p.panics {
		panic("bad vertex buffer")
	}
	if p.err != nil {
		return p.err
	}
	return nil
}

func (p dynamicProxy) OcclusionGeometry() (primitive.OccluderGeometry, bool) {
	return primitive.OccluderGeometry{}, false
}

func prim(p dynamicProxy) primitive.Primitive {
	return primitive.New(p, common.NewBoxSphereBounds(mgl32.Vec3{}, mgl32.Vec3{1, 1, 1}))
}

func TestCollectorKeepsElementOrderAndDropsFailures(t *testing.T) {
	s := scene.NewScene("dynamic", scene.WithPrimitives(
		prim(dynamicProxy{n: 2}),
		prim(dynamicProxy{n: 3, err: errors.New("no skin data")}),
		prim(dynamicProxy{n: 1, panics: true}),
		prim(dynamicProxy{n: 1}),
	))
	var elements []Element
	for i := range 4 {
		elements = append(elements, Element{Primitive: i})
	}
	// Many elements so the work spans several tasks.
	for range 40 {
		elements = append(elements, Element{Primitive: 3})
	}

	arena := NewArena()
	c := NewCollector(config.New(), task.NewRunner(4, 16))
	out, stats := c.Collect(nil, s, elements, arena)

	assert.Equal(t, 44, stats.NumPrimitives)
	assert.Equal(t, 2, stats.NumDropped)
	assert.Equal(t, 43, stats.NumBatches)
	require.Len(t, out, 43)
	assert.Equal(t, 0, out[0].Primitive)
	assert.Equal(t, uint32(0), out[0].Batch.Material.ID)
	assert.Equal(t, 0, out[1].Primitive)
	assert.Equal(t, uint32(1), out[1].Batch.Material.ID)
	assert.Equal(t, 3, out[2].Primitive)
	assert.Equal(t, 43, arena.NumBatches())
}

func TestCollectorRemovedPrimitiveIsDropped(t *testing.T) {
	s := scene.NewScene("removed", scene.WithPrimitives(prim(dynamicProxy{n: 1})))
	require.NoError(t, s.Remove(0))

	out, stats := NewCollector(config.New(), task.NewRunner(1, 1)).Collect(nil, s, []Element{{Primitive: 0}}, NewArena())
	assert.Empty(t, out)
	assert.Equal(t, 1, stats.NumDropped)
}

func TestArenaReset(t *testing.T) {
	a := NewArena()
	var first *meshpass.MeshDrawCommand
	for i := range slabSize + 10 {
		cmd := a.NewCommand(meshpass.MeshDrawCommand{NumInstances: uint32(i + 1)})
		if i == 0 {
			first = cmd
		}
	}
	assert.Equal(t, slabSize+10, a.NumCommands())
	assert.Equal(t, uint32(1), first.NumInstances)

	a.Reset()
	assert.Equal(t, 0, a.NumCommands())
	assert.Equal(t, uint32(0), first.NumInstances, "reset zeroes used memory")
	assert.Equal(t, 2*slabSize, a.commands.Cap(), "chunks are kept")

	again := a.NewCommand(meshpass.MeshDrawCommand{NumInstances: 9})
	assert.Same(t, first, again)
}

func TestBuildCommandUsesArena(t *testing.T) {
	proc := meshpass.NewProcessor(meshpass.NewPipelineStateTable(nil), true)
	arena := NewArena()
	batch := testBatch(3)

	vc, err := BuildCommand(proc, arena, meshpass.BasePass, &batch, 4)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), vc.StateBucketID)
	assert.Equal(t, int32(4), vc.PrimitiveID)
	assert.Equal(t, 1, arena.NumCommands())
	assert.Equal(t, 12, int(vc.Command.NumPrimitives))

	batch.Material.BindingGroups = []uint32{0}
	_, err = BuildCommand(proc, arena, meshpass.BasePass, &batch, 4)
	assert.ErrorIs(t, err, meshpass.ErrMissingBinding)
	assert.Equal(t, 1, arena.NumCommands())
}

func TestInstancingMergesIntoArena(t *testing.T) {
	arena := NewArena()
	cmd := &meshpass.MeshDrawCommand{PrimitiveIDStreamIndex: 1, NumInstances: 1}
	cmds := []meshpass.VisibleMeshDrawCommand{
		{Command: cmd, StateBucketID: 2, PrimitiveID: 0},
		{Command: cmd, StateBucketID: 2, PrimitiveID: 1},
	}
	out, ids, maxInstances := meshpass.BuildPrimitiveIDBuffer(true, cmds, arena)
	require.Len(t, out, 1)
	assert.Equal(t, uint32(2), out[0].Command.NumInstances)
	assert.Equal(t, uint32(1), cmd.NumInstances, "cached command untouched")
	assert.Equal(t, []int32{0, 1}, ids)
	assert.Equal(t, uint32(2), maxInstances)
	assert.Equal(t, 1, arena.NumCommands())
}
