package renderer

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"

	"github.com/Carmen-Shannon/oxy-vis/engine/meshpass"
	"github.com/Carmen-Shannon/oxy-vis/engine/primitive"
	"github.com/Carmen-Shannon/oxy-vis/engine/view"
	"github.com/cogentcore/webgpu/wgpu"
	"honnef.co/go/safeish"
)

var (
	// ErrNoPassEncoder is returned by WGPUBackend.Submit for a pass without an open encoder.
	ErrNoPassEncoder = errors.New("no render pass encoder")
	// ErrUnknownShader is returned when a pipeline state names a shader hash the registry lacks.
	ErrUnknownShader = errors.New("unknown shader")
)

// ShaderProgram is a compiled shader pair registered under a pass shader hash, see
// meshpass.PassShaderHash.
type ShaderProgram struct {
	Module             *wgpu.ShaderModule
	VertexEntryPoint   string
	FragmentEntryPoint string
	Layout             *wgpu.PipelineLayout
	VertexBuffers      []wgpu.VertexBufferLayout
}

// Registry resolves the handles stored in draw commands to GPU objects. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	buffers    map[primitive.BufferHandle]*wgpu.Buffer
	bindGroups map[uint32]*wgpu.BindGroup
	shaders    map[uint32]ShaderProgram
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		buffers:    make(map[primitive.BufferHandle]*wgpu.Buffer),
		bindGroups: make(map[uint32]*wgpu.BindGroup),
		shaders:    make(map[uint32]ShaderProgram),
	}
}

// RegisterBuffer binds a vertex or index buffer to a handle. Handle zero is reserved.
func (r *Registry) RegisterBuffer(handle primitive.BufferHandle, buf *wgpu.Buffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffers[handle] = buf
}

// RegisterBindGroup binds a bind group to a handle. Handle zero is reserved.
func (r *Registry) RegisterBindGroup(handle uint32, bg *wgpu.BindGroup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindGroups[handle] = bg
}

// RegisterShader registers the program used for a pass shader hash.
func (r *Registry) RegisterShader(passShaderHash uint32, program ShaderProgram) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shaders[passShaderHash] = program
}

// Buffer returns the buffer of a handle, or nil.
func (r *Registry) Buffer(handle primitive.BufferHandle) *wgpu.Buffer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buffers[handle]
}

// BindGroup returns the bind group of a handle, or nil.
func (r *Registry) BindGroup(handle uint32) *wgpu.BindGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bindGroups[handle]
}

// Shader returns the program of a pass shader hash.
func (r *Registry) Shader(passShaderHash uint32) (ShaderProgram, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.shaders[passShaderHash]
	return p, ok
}

type passKey struct {
	view int
	pass meshpass.Pass
}

type idBuffer struct {
	buf  *wgpu.Buffer
	size uint64
}

// WGPUBackend encodes submitted draw lists into WebGPU render passes. The caller opens a render
// pass encoder per view and pass with BeginPass, renders, then ends it with EndPass. The backend
// also creates render pipelines for new pipeline states.
type WGPUBackend struct {
	mu       *sync.Mutex
	device   *wgpu.Device
	queue    *wgpu.Queue
	registry *Registry

	colorFormat wgpu.TextureFormat
	depthFormat wgpu.TextureFormat
	sampleCount uint32

	pipelines map[meshpass.PipelineID]*wgpu.RenderPipeline
	encoders  map[passKey]*wgpu.RenderPassEncoder
	idBuffers map[passKey]*idBuffer
}

// Ensure WGPUBackend implements Backend and meshpass.PipelineStateBuilder interfaces.
var (
	_ Backend                       = &WGPUBackend{}
	_ meshpass.PipelineStateBuilder = &WGPUBackend{}
)

// WGPUBackendOption configures a WGPUBackend at creation.
type WGPUBackendOption func(*WGPUBackend)

// WithColorFormat sets the color target format of created pipelines.
func WithColorFormat(format wgpu.TextureFormat) WGPUBackendOption {
	return func(b *WGPUBackend) {
		b.colorFormat = format
	}
}

// WithDepthFormat sets the depth target format of created pipelines.
func WithDepthFormat(format wgpu.TextureFormat) WGPUBackendOption {
	return func(b *WGPUBackend) {
		b.depthFormat = format
	}
}

// WithSampleCount sets the multisample count of created pipelines.
func WithSampleCount(count uint32) WGPUBackendOption {
	return func(b *WGPUBackend) {
		b.sampleCount = max(count, 1)
	}
}

// NewWGPUBackend creates a backend on an existing device.
//
// Parameters:
//   - device: the GPU device (must not be nil)
//   - registry: resolves buffer, bind group and shader handles (must not be nil)
//   - options: target formats and sample count
//
// Returns:
//   - *WGPUBackend: the new backend
func NewWGPUBackend(device *wgpu.Device, registry *Registry, options ...WGPUBackendOption) *WGPUBackend {
	if device == nil {
		panic("renderer: NewWGPUBackend requires a non-nil wgpu.Device")
	}
	if registry == nil {
		panic("renderer: NewWGPUBackend requires a non-nil Registry")
	}
	b := &WGPUBackend{
		mu:          &sync.Mutex{},
		device:      device,
		queue:       device.GetQueue(),
		registry:    registry,
		colorFormat: wgpu.TextureFormatBGRA8Unorm,
		depthFormat: wgpu.TextureFormatDepth24Plus,
		sampleCount: 1,
		pipelines:   make(map[meshpass.PipelineID]*wgpu.RenderPipeline),
		encoders:    make(map[passKey]*wgpu.RenderPassEncoder),
		idBuffers:   make(map[passKey]*idBuffer),
	}
	for _, option := range options {
		option(b)
	}
	return b
}

// CreatePipelineState creates the render pipeline for a new pipeline state id.
func (b *WGPUBackend) CreatePipelineState(id meshpass.PipelineID, state meshpass.PipelineState) error {
	program, ok := b.registry.Shader(state.ShaderHash)
	if !ok {
		return fmt.Errorf("%w: %#x", ErrUnknownShader, state.ShaderHash)
	}

	target := wgpu.ColorTargetState{
		Format:    b.colorFormat,
		WriteMask: state.WriteMask,
	}
	if state.BlendEnabled {
		blend := state.BlendState
		target.Blend = &blend
	}
	depthCompare := state.DepthCompare
	if !state.DepthTestEnabled {
		depthCompare = wgpu.CompareFunctionAlways
	}

	created, err := b.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  fmt.Sprintf("Pipeline State %d", id),
		Layout: program.Layout,
		Vertex: wgpu.VertexState{
			Module:     program.Module,
			EntryPoint: program.VertexEntryPoint,
			Buffers:    program.VertexBuffers,
		},
		Fragment: &wgpu.FragmentState{
			Module:     program.Module,
			EntryPoint: program.FragmentEntryPoint,
			Targets:    []wgpu.ColorTargetState{target},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  state.Topology,
			FrontFace: state.FrontFace,
			CullMode:  state.CullMode,
		},
		Multisample: wgpu.MultisampleState{
			Count: b.sampleCount,
			Mask:  0xFFFFFFFF,
		},
		DepthStencil: &wgpu.DepthStencilState{
			Format:              b.depthFormat,
			DepthWriteEnabled:   state.DepthWriteEnabled,
			DepthCompare:        depthCompare,
			DepthBias:           state.DepthBias,
			DepthBiasSlopeScale: state.DepthBiasSlopeScale,
			StencilFront:        wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
			StencilBack:         wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
		},
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// Ids are recycled by the table; the old pipeline is no longer referenced.
	if old := b.pipelines[id]; old != nil {
		old.Release()
	}
	b.pipelines[id] = created
	return nil
}

// BeginPass registers the encoder that receives a view's pass.
//
// Parameters:
//   - viewIndex: the view's index in its family
//   - pass: the pass
//   - encoder: an open render pass encoder
func (b *WGPUBackend) BeginPass(viewIndex int, pass meshpass.Pass, encoder *wgpu.RenderPassEncoder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.encoders[passKey{view: viewIndex, pass: pass}] = encoder
}

// EndPass forgets the encoder of a view's pass. The caller ends the encoder itself.
func (b *WGPUBackend) EndPass(viewIndex int, pass meshpass.Pass) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.encoders, passKey{view: viewIndex, pass: pass})
}

func (b *WGPUBackend) Submit(v *view.View, pass meshpass.Pass, cmds []meshpass.VisibleMeshDrawCommand, primitiveIDs []int32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := passKey{view: v.Index(), pass: pass}
	enc := b.encoders[key]
	if enc == nil {
		return fmt.Errorf("%w: view %d %s", ErrNoPassEncoder, v.Index(), pass)
	}

	ids, err := b.uploadPrimitiveIDs(key, primitiveIDs)
	if err != nil {
		return fmt.Errorf("primitive ids: %w", err)
	}

	skipped := 0
	var missing []meshpass.PipelineID
	for i := range cmds {
		if id := cmds[i].Command.PipelineID; b.pipelines[id] == nil {
			if !slices.Contains(missing, id) {
				missing = append(missing, id)
			}
			continue
		}
		if !b.encode(enc, &cmds[i], ids) {
			skipped++
		}
	}
	if skipped > 0 {
		log.Printf("[Renderer] view %d %s: %d draws skipped for unresolved resources", v.Index(), pass, skipped)
	}
	if len(missing) > 0 {
		return &meshpass.PipelineUnavailableError{IDs: missing}
	}
	return nil
}

// encode records one draw. It reports false when a resource cannot be resolved.
func (b *WGPUBackend) encode(enc *wgpu.RenderPassEncoder, c *meshpass.VisibleMeshDrawCommand, ids *wgpu.Buffer) bool {
	cmd := c.Command
	pipeline := b.pipelines[cmd.PipelineID]
	if pipeline == nil {
		return false
	}
	groups := make([]*wgpu.BindGroup, cmd.Bindings.NumGroups)
	for g := range groups {
		if groups[g] = b.registry.BindGroup(cmd.Bindings.Groups[g]); groups[g] == nil {
			return false
		}
	}
	streams := make([]*wgpu.Buffer, cmd.NumVertexStreams)
	for s := range streams {
		if streams[s] = b.registry.Buffer(cmd.VertexStreams[s].Buffer); streams[s] == nil {
			return false
		}
	}
	var index *wgpu.Buffer
	if cmd.IndexBuffer != 0 {
		if index = b.registry.Buffer(cmd.IndexBuffer); index == nil {
			return false
		}
	}

	enc.SetPipeline(pipeline)
	for g, bg := range groups {
		enc.SetBindGroup(uint32(g), bg, nil)
	}
	for s, buf := range streams {
		stream := cmd.VertexStreams[s]
		enc.SetVertexBuffer(uint32(stream.StreamSlot), buf, uint64(stream.Offset), wgpu.WholeSize)
	}
	if cmd.PrimitiveIDStreamIndex >= 0 && ids != nil {
		enc.SetVertexBuffer(uint32(cmd.PrimitiveIDStreamIndex), ids, uint64(c.PrimitiveIDBufferOffset)*4, wgpu.WholeSize)
	}
	if index != nil {
		enc.SetIndexBuffer(index, cmd.IndexFormat, 0, wgpu.WholeSize)
		enc.DrawIndexed(indexCount(cmd.Topology, cmd.NumPrimitives), cmd.NumInstances, cmd.FirstIndex, cmd.BaseVertex, 0)
		return true
	}
	enc.Draw(cmd.NumVertices, cmd.NumInstances, 0, 0)
	return true
}

// uploadPrimitiveIDs writes the pass's primitive id buffer, growing the GPU buffer as needed.
func (b *WGPUBackend) uploadPrimitiveIDs(key passKey, primitiveIDs []int32) (*wgpu.Buffer, error) {
	if len(primitiveIDs) == 0 {
		return nil, nil
	}
	data := safeish.SliceCast[[]byte](primitiveIDs)
	size := uint64(len(data))

	cur := b.idBuffers[key]
	if cur == nil || cur.size < size {
		if cur != nil {
			cur.buf.Release()
		}
		// Grow geometrically so a slowly growing scene does not reallocate every frame.
		alloc := max(size, 256)
		if cur != nil {
			alloc = max(alloc, cur.size*2)
		}
		buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: fmt.Sprintf("View %d %s Primitive IDs", key.view, key.pass),
			Size:  alloc,
			Usage: wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			delete(b.idBuffers, key)
			return nil, err
		}
		cur = &idBuffer{buf: buf, size: alloc}
		b.idBuffers[key] = cur
	}
	if err := b.queue.WriteBuffer(cur.buf, 0, data); err != nil {
		return nil, err
	}
	return cur.buf, nil
}

// Release frees every pipeline and primitive id buffer the backend created.
func (b *WGPUBackend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, p := range b.pipelines {
		p.Release()
		delete(b.pipelines, id)
	}
	for key, ids := range b.idBuffers {
		ids.buf.Release()
		delete(b.idBuffers, key)
	}
	clear(b.encoders)
}

// indexCount returns the number of indices drawn for numPrimitives primitives of a topology.
func indexCount(topology wgpu.PrimitiveTopology, numPrimitives uint32) uint32 {
	if numPrimitives == 0 {
		return 0
	}
	switch topology {
	case wgpu.PrimitiveTopologyPointList:
		return numPrimitives
	case wgpu.PrimitiveTopologyLineList:
		return numPrimitives * 2
	case wgpu.PrimitiveTopologyLineStrip:
		return numPrimitives + 1
	case wgpu.PrimitiveTopologyTriangleStrip:
		return numPrimitives + 2
	default:
		return numPrimitives * 3
	}
}
