// Package meshpass builds, caches, sorts and batches the mesh draw commands submitted for each
// render pass.
package meshpass

import (
	"fmt"
	"iter"
	"math/bits"
)

// Pass identifies a render pass that consumes mesh draw commands.
type Pass uint8

const (
	DepthPass Pass = iota
	BasePass
	CSMShadowDepth
	Distortion
	Velocity
	TranslucencyStandard
	TranslucencyAfterDOF
	TranslucencyAll
	LightmapDensity
	DebugViewMode
	CustomDepth
	MobileBasePassCSM
	MobileInverseOpacity

	// NumPasses is the number of passes; not a valid Pass.
	NumPasses
)

var passNames = [NumPasses]string{
	DepthPass:            "DepthPass",
	BasePass:             "BasePass",
	CSMShadowDepth:       "CSMShadowDepth",
	Distortion:           "Distortion",
	Velocity:             "Velocity",
	TranslucencyStandard: "TranslucencyStandard",
	TranslucencyAfterDOF: "TranslucencyAfterDOF",
	TranslucencyAll:      "TranslucencyAll",
	LightmapDensity:      "LightmapDensity",
	DebugViewMode:        "DebugViewMode",
	CustomDepth:          "CustomDepth",
	MobileBasePassCSM:    "MobileBasePassCSM",
	MobileInverseOpacity: "MobileInverseOpacity",
}

func (p Pass) String() string {
	if p < NumPasses {
		return passNames[p]
	}
	return fmt.Sprintf("Pass(%d)", uint8(p))
}

// IsTranslucent reports whether commands in the pass are sorted back to front by distance.
func (p Pass) IsTranslucent() bool {
	switch p {
	case TranslucencyStandard, TranslucencyAfterDOF, TranslucencyAll:
		return true
	}
	return false
}

// Cacheable reports whether static meshes in the pass get scene-owned cached commands.
// Debug visualization passes are rebuilt every frame.
func (p Pass) Cacheable() bool {
	switch p {
	case LightmapDensity, DebugViewMode:
		return false
	}
	return p < NumPasses
}

// PassMask is a set of passes.
type PassMask uint32

// Set adds p to the mask.
func (m *PassMask) Set(p Pass) {
	*m |= 1 << p
}

// Has reports whether p is in the mask.
func (m PassMask) Has(p Pass) bool {
	return m&(1<<p) != 0
}

// Count returns the number of passes in the mask.
func (m PassMask) Count() int {
	return bits.OnesCount32(uint32(m))
}

// All iterates the passes in the mask in ascending order.
func (m PassMask) All() iter.Seq[Pass] {
	return func(yield func(Pass) bool) {
		for p := range NumPasses {
			if m.Has(p) && !yield(p) {
				return
			}
		}
	}
}
