package meshpass

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// PipelineStateBuilderOption is a functional option used to configure a PipelineState during construction.
type PipelineStateBuilderOption func(*PipelineState)

// NewPipelineState creates a PipelineState with opaque defaults: depth test and write on,
// back-face culling off, triangle lists, counter-clockwise front faces, all color channels written,
// and straight alpha blending configured but disabled.
//
// Parameters:
//   - shaderHash: identifies the shader pair
//   - vertexFactoryHash: identifies the vertex layout
//   - opts: functional options to override defaults
//
// Returns:
//   - PipelineState: the configured state
func NewPipelineState(shaderHash, vertexFactoryHash uint32, opts ...PipelineStateBuilderOption) PipelineState {
	s := PipelineState{
		ShaderHash:        shaderHash,
		VertexFactoryHash: vertexFactoryHash,
		DepthTestEnabled:  true,
		DepthWriteEnabled: true,
		DepthCompare:      wgpu.CompareFunctionLessEqual,
		BlendEnabled:      false,
		CullMode:          wgpu.CullModeNone,
		Topology:          wgpu.PrimitiveTopologyTriangleList,
		FrontFace:         wgpu.FrontFaceCCW,
		WriteMask:         wgpu.ColorWriteMaskAll,
		BlendState: wgpu.BlendState{
			Color: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorSrcAlpha,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
			Alpha: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorOne,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
		},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithDepthTestEnabled sets whether depth testing is enabled.
//
// Parameters:
//   - enabled: a boolean indicating whether depth testing should be enabled
//
// Returns:
//   - PipelineStateBuilderOption: a function that sets the depth test enabled state
func WithDepthTestEnabled(enabled bool) PipelineStateBuilderOption {
	return func(s *PipelineState) {
		s.DepthTestEnabled = enabled
	}
}

// WithDepthWriteEnabled sets whether depth writes are enabled.
//
// Parameters:
//   - enabled: a boolean indicating whether depth writes should be enabled
//
// Returns:
//   - PipelineStateBuilderOption: a function that sets the depth write enabled state
func WithDepthWriteEnabled(enabled bool) PipelineStateBuilderOption {
	return func(s *PipelineState) {
		s.DepthWriteEnabled = enabled
	}
}

// WithDepthCompare sets the depth comparison function.
func WithDepthCompare(compare wgpu.CompareFunction) PipelineStateBuilderOption {
	return func(s *PipelineState) {
		s.DepthCompare = compare
	}
}

// WithDepthBias sets the constant and slope-scaled depth bias, used by shadow depth passes.
//
// Parameters:
//   - bias: constant depth bias
//   - slopeScale: slope-scaled depth bias
//
// Returns:
//   - PipelineStateBuilderOption: a function that sets the depth bias
func WithDepthBias(bias int32, slopeScale float32) PipelineStateBuilderOption {
	return func(s *PipelineState) {
		s.DepthBias = bias
		s.DepthBiasSlopeScale = slopeScale
	}
}

// WithBlendEnabled sets whether blending is enabled.
func WithBlendEnabled(enabled bool) PipelineStateBuilderOption {
	return func(s *PipelineState) {
		s.BlendEnabled = enabled
	}
}

// WithBlendState replaces the blend equation.
func WithBlendState(blendState wgpu.BlendState) PipelineStateBuilderOption {
	return func(s *PipelineState) {
		s.BlendState = blendState
	}
}

// WithCullMode sets the face culling mode.
//
// Parameters:
//   - mode: the cull mode (e.g., wgpu.CullModeNone, wgpu.CullModeBack)
//
// Returns:
//   - PipelineStateBuilderOption: a function that sets the cull mode
func WithCullMode(mode wgpu.CullMode) PipelineStateBuilderOption {
	return func(s *PipelineState) {
		s.CullMode = mode
	}
}

// WithTopology sets the primitive topology.
func WithTopology(topology wgpu.PrimitiveTopology) PipelineStateBuilderOption {
	return func(s *PipelineState) {
		s.Topology = topology
	}
}

// WithFrontFace sets the front face winding order.
func WithFrontFace(frontFace wgpu.FrontFace) PipelineStateBuilderOption {
	return func(s *PipelineState) {
		s.FrontFace = frontFace
	}
}

// WithWriteMask sets the color write mask. Depth-only passes use wgpu.ColorWriteMaskNone.
func WithWriteMask(writeMask wgpu.ColorWriteMask) PipelineStateBuilderOption {
	return func(s *PipelineState) {
		s.WriteMask = writeMask
	}
}
