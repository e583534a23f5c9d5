package view

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-vis/engine/config"
)

// ErrInvalidFamily is returned for a family the renderer cannot draw.
var ErrInvalidFamily = errors.New("invalid view family")

// ShowFlags are feature toggles shared by every view of a family. The zero value draws
// everything normally.
type ShowFlags struct {
	// DisableDistanceCulling draws primitives past their max draw distance.
	DisableDistanceCulling bool
	// DisableOcclusion skips the occlusion stage.
	DisableOcclusion bool
	// DisableTranslucency drops the translucent passes.
	DisableTranslucency bool
	// DisableDynamicMeshes skips dynamic mesh collection.
	DisableDynamicMeshes bool
	// LightmapDensity enables the lightmap density debug pass.
	LightmapDensity bool
	// DebugViewMode enables the debug view mode pass.
	DebugViewMode bool
}

// Family is the set of views rendered together in one frame.
type Family struct {
	Views     []*View
	ShowFlags ShowFlags
	// MobileShading routes the base and translucent passes to their mobile variants.
	MobileShading bool
	// FrameNumber is the frame being rendered.
	FrameNumber uint32
	// Time is the frame time in seconds.
	Time float32
	// OcclusionStrategies overrides Config.OcclusionStrategy per view index.
	OcclusionStrategies map[int]config.OcclusionStrategy
}

// NewFamily creates a family from views, setting each view's index to its position.
//
// Parameters:
//   - frameNumber: the frame being rendered
//   - now: the frame time in seconds
//   - views: the views
//
// Returns:
//   - *Family: the new family
func NewFamily(frameNumber uint32, now float32, views ...*View) *Family {
	for i, v := range views {
		v.index = i
	}
	return &Family{Views: views, FrameNumber: frameNumber, Time: now}
}

// OcclusionStrategy returns the occlusion strategy of a view.
func (f *Family) OcclusionStrategy(index int, cfg config.Config) config.OcclusionStrategy {
	if f.ShowFlags.DisableOcclusion {
		return config.OcclusionNone
	}
	if s, ok := f.OcclusionStrategies[index]; ok {
		return s
	}
	return cfg.OcclusionStrategy
}

// Validate checks view indices and stereo pairs.
//
// Returns:
//   - error: an error wrapping ErrInvalidFamily, or nil
func (f *Family) Validate() error {
	if len(f.Views) == 0 {
		return fmt.Errorf("%w: no views", ErrInvalidFamily)
	}
	for i, v := range f.Views {
		if v == nil {
			return fmt.Errorf("%w: view %d is nil", ErrInvalidFamily, i)
		}
		if v.index != i {
			return fmt.Errorf("%w: view %d has index %d", ErrInvalidFamily, i, v.index)
		}
		if v.StereoPair < 0 {
			continue
		}
		if v.StereoPair >= len(f.Views) || v.StereoPair == i {
			return fmt.Errorf("%w: view %d pairs with %d", ErrInvalidFamily, i, v.StereoPair)
		}
		if other := f.Views[v.StereoPair]; other != nil && other.StereoPair != i {
			return fmt.Errorf("%w: view %d pairs with %d, which pairs with %d", ErrInvalidFamily, i, v.StereoPair, other.StereoPair)
		}
	}
	return nil
}
