package scene

import (
	"github.com/Carmen-Shannon/oxy-vis/engine/primitive"
)

// SceneBuilderOption is a functional option for configuring a Scene.
// Use the With* functions to create options.
type SceneBuilderOption func(s *scene)

// WithPrimitives registers initial primitives in order, so the first one gets index 0.
// HLOD proxies must come after the children they reference.
//
// Parameters:
//   - primitives: the primitives to add
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithPrimitives(primitives ...primitive.Primitive) SceneBuilderOption {
	return func(s *scene) {
		s.initial = append(s.initial, primitives...)
	}
}

// WithCapacity pre-sizes the dense primitive arrays.
//
// Parameters:
//   - n: the expected number of primitives
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithCapacity(n int) SceneBuilderOption {
	return func(s *scene) {
		if n < 0 {
			return
		}
		s.bounds = make([]PrimitiveBounds, 0, n)
		s.flags = make([]PrimitiveFlags, 0, n)
		s.infos = make([]*PrimitiveSceneInfo, 0, n)
	}
}

// WithDebugLogging logs cached command rebuilds.
func WithDebugLogging(enabled bool) SceneBuilderOption {
	return func(s *scene) {
		s.debugLogging = enabled
	}
}
