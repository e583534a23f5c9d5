package lod

import (
	"math"

	"github.com/Carmen-Shannon/oxy-vis/common"
	"github.com/Carmen-Shannon/oxy-vis/engine/primitive"
	"github.com/go-gl/mathgl/mgl32"
)

// InvalidLOD marks an unset LOD sample.
const InvalidLOD int8 = -1

// LODMask selects the LODs a primitive renders. Outside a dithered transition both samples are
// equal; during one they name the two LODs being cross-faded.
type LODMask struct {
	Samples [2]int8
}

// NewLODMask returns a mask selecting a single LOD.
func NewLODMask(lod int8) LODMask {
	return LODMask{Samples: [2]int8{lod, lod}}
}

// SetLOD selects a single LOD.
func (m *LODMask) SetLOD(lod int8) {
	m.Samples = [2]int8{lod, lod}
}

// SetLODSample sets one of the two temporal samples.
func (m *LODMask) SetLODSample(lod int8, sample int) {
	m.Samples[sample] = lod
}

// ContainsLOD reports whether lod is one of the selected LODs.
func (m LODMask) ContainsLOD(lod int8) bool {
	return m.Samples[0] == lod || m.Samples[1] == lod
}

// IsDithered reports whether the mask cross-fades two different LODs.
func (m LODMask) IsDithered() bool {
	return m.Samples[0] != m.Samples[1]
}

// IsValid reports whether at least one sample is set.
func (m LODMask) IsValid() bool {
	return m.Samples[0] != InvalidLOD || m.Samples[1] != InvalidLOD
}

// LODParams are the per-view inputs of LOD selection.
type LODParams struct {
	// ViewOrigins are the two temporal sample origins. Both equal the view origin outside a
	// dithered transition.
	ViewOrigins [2]mgl32.Vec3
	// ScreenMultiple is common.ScreenMultiple of the projection.
	ScreenMultiple float32
	// DistanceFactor scales screen radii; values above one keep higher detail longer.
	DistanceFactor float32
	// ScreenSizeScale scales every mesh's configured screen size.
	ScreenSizeScale float32
	// MinLOD clamps the selected LOD from below.
	MinLOD int8
	// DitheredTransitions enables two-sample selection for meshes that allow it.
	DitheredTransitions bool
}

func screenRadiusSquared(origin mgl32.Vec3, radius float32, params *LODParams, sample int) float32 {
	r := common.ComputeBoundsScreenRadiusSquared(origin, radius, params.ViewOrigins[sample], params.ScreenMultiple)
	f := params.DistanceFactor
	if f <= 0 {
		f = 1
	}
	return r * f * f
}

// selectLOD walks from the last mesh to the first and picks the first whose configured screen
// size covers the given screen radius.
func selectLOD(meshes []primitive.MeshBatch, radiusSq, screenSizeScale float32) int8 {
	minFound := int8(math.MaxInt8)
	for i := len(meshes) - 1; i >= 0; i-- {
		size := meshes[i].ScreenSize * screenSizeScale * 0.5
		if size*size >= radiusSq {
			return meshes[i].LODIndex
		}
		minFound = min(minFound, meshes[i].LODIndex)
	}
	return minFound
}

// ComputeLOD selects the LOD mask for a primitive's static meshes. A forced LOD wins and is
// clamped to the range of LODs present.
//
// Parameters:
//   - meshes: the static mesh batches, ordered from highest to lowest detail
//   - origin: the bounds center
//   - radius: the bounds sphere radius
//   - forcedLOD: a pinned LOD, or -1
//   - params: the view inputs
//
// Returns:
//   - LODMask: the selected LODs
//   - float32: the screen radius squared for the first sample
func ComputeLOD(meshes []primitive.MeshBatch, origin mgl32.Vec3, radius float32, forcedLOD int, params *LODParams) (LODMask, float32) {
	if len(meshes) == 0 {
		return NewLODMask(InvalidLOD), 0
	}

	if forcedLOD >= 0 {
		lo, hi := meshes[0].LODIndex, meshes[0].LODIndex
		for i := range meshes {
			lo = min(lo, meshes[i].LODIndex)
			hi = max(hi, meshes[i].LODIndex)
		}
		return NewLODMask(common.Clamp(int8(min(forcedLOD, math.MaxInt8)), lo, hi)), 0
	}

	scale := params.ScreenSizeScale
	if scale == 0 {
		scale = 1
	}

	var mask LODMask
	radiusSq := screenRadiusSquared(origin, radius, params, 0)
	if params.DitheredTransitions && meshes[0].DitheredLODTransition {
		for sample := range 2 {
			r := screenRadiusSquared(origin, radius, params, sample)
			mask.SetLODSample(max(selectLOD(meshes, r, scale), params.MinLOD), sample)
		}
	} else {
		mask.SetLOD(max(selectLOD(meshes, radiusSq, scale), params.MinLOD))
	}
	return mask, radiusSq
}

// TemporalLODState keeps the two view samples used for dithered LOD transitions. The older
// sample is replaced once the newer one is older than the lag.
type TemporalLODState struct {
	Origins         [2]mgl32.Vec3
	DistanceFactors [2]float32
	Times           [2]float32
	Lag             float32

	initialized bool
}

// Update advances the samples to the current view.
//
// Parameters:
//   - origin: the current view origin
//   - distanceFactor: the current LOD distance factor
//   - now: the current time in seconds
//   - lag: the configured sample lag, zero disables temporal transitions
func (t *TemporalLODState) Update(origin mgl32.Vec3, distanceFactor, now, lag float32) {
	ok := lag > 0 && t.initialized
	t.initialized = true
	if ok {
		t.Lag = lag
		if t.Times[1] < now-lag {
			if t.Times[0] < t.Times[1] {
				t.Origins[0] = t.Origins[1]
				t.DistanceFactors[0] = t.DistanceFactors[1]
				t.Times[0] = t.Times[1]
			}
			t.Origins[1] = origin
			t.DistanceFactors[1] = distanceFactor
			t.Times[1] = now
			if t.Times[1] <= t.Times[0] {
				ok = false
			}
		}
	}
	if !ok {
		t.Origins = [2]mgl32.Vec3{origin, origin}
		t.DistanceFactors = [2]float32{distanceFactor, distanceFactor}
		t.Times = [2]float32{now, now}
		t.Lag = 0
	}
}

// Transition returns the dither cross-fade alpha in [0,1] between the two samples.
func (t *TemporalLODState) Transition(now float32) float32 {
	if t.Lag == 0 || t.Times[1] <= t.Times[0] {
		return 0
	}
	return common.Clamp((now-t.Lag-t.Times[0])/(t.Times[1]-t.Times[0]), 0, 1)
}
