package meshpass

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-vis/engine/primitive"
	"github.com/cogentcore/webgpu/wgpu"
	"honnef.co/go/safeish"
)

// MaxBindGroups bounds the shader parameter bind groups a command may reference.
const MaxBindGroups = 4

var (
	// ErrMissingBinding reports a command that references an unbound buffer or bind group.
	ErrMissingBinding = errors.New("missing required binding")
	// ErrInvalidCommand reports a command with inconsistent draw parameters.
	ErrInvalidCommand = errors.New("invalid mesh draw command")
)

// FillMode is the rasterizer fill mode of a visible command.
type FillMode uint8

const (
	FillSolid FillMode = iota
	FillWireframe
)

// ShaderBindings lists the bind groups of a command in slot order.
type ShaderBindings struct {
	Groups    [MaxBindGroups]uint32
	NumGroups uint32
}

// MeshDrawCommand is a fully resolved draw: pipeline state, bindings and geometry range.
type MeshDrawCommand struct {
	PipelineID PipelineID
	StencilRef uint32
	Bindings   ShaderBindings

	VertexStreams    [primitive.MaxVertexStreams]primitive.VertexStream
	NumVertexStreams uint32
	// PrimitiveIDStreamIndex is the vertex stream fed from the primitive id buffer, or -1.
	// Only commands with a primitive id stream can be dynamically instanced.
	PrimitiveIDStreamIndex int8

	IndexBuffer   primitive.BufferHandle
	IndexFormat   wgpu.IndexFormat
	Topology      wgpu.PrimitiveTopology
	FirstIndex    uint32
	NumPrimitives uint32
	NumInstances  uint32
	BaseVertex    int32
	NumVertices   uint32
}

// Validate checks that every referenced binding is present and the draw range is usable.
//
// Returns:
//   - error: wraps ErrMissingBinding or ErrInvalidCommand, or nil
func (c *MeshDrawCommand) Validate() error {
	if c.PipelineID == InvalidPipelineID {
		return fmt.Errorf("%w: no pipeline state", ErrInvalidCommand)
	}
	if c.NumInstances == 0 {
		return fmt.Errorf("%w: zero instances", ErrInvalidCommand)
	}
	for i := range c.Bindings.NumGroups {
		if c.Bindings.Groups[i] == 0 {
			return fmt.Errorf("%w: bind group %d", ErrMissingBinding, i)
		}
	}
	for i := range c.NumVertexStreams {
		if c.VertexStreams[i].Buffer == 0 {
			return fmt.Errorf("%w: vertex stream %d", ErrMissingBinding, i)
		}
	}
	if c.NumPrimitives > 0 && c.IndexBuffer == 0 && c.NumVertices == 0 {
		return fmt.Errorf("%w: indexed draw without index buffer", ErrMissingBinding)
	}
	return nil
}

// drawCommandKey is the padding-free image of the instancing-relevant fields of a command.
// Byte-equal keys mean the two commands can share a state bucket.
type drawCommandKey struct {
	pipelineID             uint32
	stencilRef             uint32
	groups                 [MaxBindGroups]uint32
	numGroups              uint32
	streams                [primitive.MaxVertexStreams][4]uint32
	numStreams             uint32
	primitiveIDStreamIndex int32
	indexBuffer            uint32
	indexFormat            uint32
	topology               uint32
	firstIndex             uint32
	numPrimitives          uint32
	numInstances           uint32
	baseVertex             int32
	numVertices            uint32
}

func (c *MeshDrawCommand) key() drawCommandKey {
	k := drawCommandKey{
		pipelineID:             uint32(c.PipelineID),
		stencilRef:             c.StencilRef,
		groups:                 c.Bindings.Groups,
		numGroups:              c.Bindings.NumGroups,
		numStreams:             c.NumVertexStreams,
		primitiveIDStreamIndex: int32(c.PrimitiveIDStreamIndex),
		indexBuffer:            uint32(c.IndexBuffer),
		indexFormat:            uint32(c.IndexFormat),
		topology:               uint32(c.Topology),
		firstIndex:             c.FirstIndex,
		numPrimitives:          c.NumPrimitives,
		numInstances:           c.NumInstances,
	}
	for i := range c.NumVertexStreams {
		s := c.VertexStreams[i]
		k.streams[i] = [4]uint32{uint32(s.Buffer), s.Offset, s.Stride, uint32(s.StreamSlot)}
	}
	if c.NumPrimitives > 0 {
		k.baseVertex = c.BaseVertex
		k.numVertices = c.NumVertices
	}
	return k
}

// BucketKey returns the byte string identifying the command's state bucket.
func (c *MeshDrawCommand) BucketKey() string {
	k := c.key()
	return string(safeish.AsBytes(&k))
}

// MatchesForDynamicInstancing reports whether two commands differ only in per-instance data,
// so that both can be drawn by one instanced draw.
func (c *MeshDrawCommand) MatchesForDynamicInstancing(other *MeshDrawCommand) bool {
	return c.key() == other.key()
}

// VisibleMeshDrawCommand is the per-frame record that is sorted and submitted.
type VisibleMeshDrawCommand struct {
	Command *MeshDrawCommand
	// StateBucketID groups byte-identical cached commands, or -1.
	StateBucketID int32
	// PrimitiveID is the scene index of the drawing primitive.
	PrimitiveID int32
	SortKey     SortKey
	FillMode    FillMode
	CullMode    wgpu.CullMode
	// PrimitiveIDBufferOffset is the first entry of this draw in the primitive id buffer.
	PrimitiveIDBufferOffset int32
}
