package occlusion

import (
	"cmp"
	"fmt"
	"log"
	"slices"

	"github.com/Carmen-Shannon/oxy-vis/common"
	"github.com/Carmen-Shannon/oxy-vis/engine/config"
	"github.com/Carmen-Shannon/oxy-vis/engine/primitive"
	"github.com/Carmen-Shannon/oxy-vis/engine/scene"
)

const (
	occluderMinDistanceSq = 10000
	occluderMaxDistance   = 20000
	hugeBoundsRadius      = 1 << 20
)

// SoftwareOcclusion runs the software rasterizer for one view. Each frame gathers occluders and
// occludees, starts a background job and applies the results of the previous frame's job.
type SoftwareOcclusion struct {
	pending   *PendingResult[*SoftwareResults]
	available *SoftwareResults
	// forgotten holds removed primitives still present in the outstanding job's snapshot.
	forgotten []int
}

// NewSoftwareOcclusion creates an idle software occlusion state.
func NewSoftwareOcclusion() *SoftwareOcclusion {
	return &SoftwareOcclusion{}
}

// Results returns the results applied this frame, or nil.
func (o *SoftwareOcclusion) Results() *SoftwareResults {
	return o.available
}

// Wait joins the outstanding job, if any, and keeps its results for the next Process.
func (o *SoftwareOcclusion) Wait() {
	if o.pending == nil {
		return
	}
	res, err := o.pending.Join()
	o.pending = nil
	forgotten := o.forgotten
	o.forgotten = nil
	if err != nil {
		log.Printf("[Occlusion] software occlusion job failed, assuming visible: %v", err)
		o.available = nil
		return
	}
	for _, index := range forgotten {
		delete(res.Visibility, index)
	}
	o.available = res
}

// Forget drops a removed primitive from the held results and from the outstanding job's
// results, so a primitive reusing the index starts visible.
func (o *SoftwareOcclusion) Forget(index int) {
	if o.available != nil {
		delete(o.available.Visibility, index)
	}
	if o.pending != nil {
		o.forgotten = append(o.forgotten, index)
	}
}

// Process joins the previous job, starts this frame's job and applies the joined results. A
// primitive reported visible is definitely unoccluded, a primitive reported hidden loses its
// visibility bit and a primitive missing from the results is left visible. The caller must hold
// the scene's read lock.
//
// Parameters:
//   - s: the scene
//   - in: the view's occlusion inputs
//   - cfg: the occluder selection settings
//
// Returns:
//   - int: the number of primitives hidden
func (o *SoftwareOcclusion) Process(s scene.Scene, in *Input, cfg config.Config) int {
	o.Wait()

	data := GatherSoftwareScene(s, in, cfg)
	o.pending = StartPending(func() (*SoftwareResults, error) {
		return ProcessSoftwareOcclusion(data), nil
	})

	if o.available == nil {
		return 0
	}
	hidden := 0
	for index := range in.Visibility.All() {
		visible, ok := o.available.Visibility[index]
		switch {
		case !ok:
		case visible:
			in.DefinitelyUnoccluded.Set(index)
		default:
			in.Visibility.Clear(index)
			hidden++
		}
	}
	return hidden
}

// GatherSoftwareScene snapshots the occludees and the best occluders of a view. Occludees are
// the visible primitives that can be occluded. Occluders are opaque primitives with occlusion
// geometry, weighted by screen size and proximity, and capped at the configured count.
//
// Parameters:
//   - s: the scene, read locked by the caller
//   - in: the view's occlusion inputs
//   - cfg: the occluder selection settings
//
// Returns:
//   - *SoftwareSceneData: the snapshot
func GatherSoftwareScene(s scene.Scene, in *Input, cfg config.Config) *SoftwareSceneData {
	data := &SoftwareSceneData{ViewProj: in.ViewProj}
	bounds := s.Bounds()
	flags := s.Flags()
	origin := in.ViewOrigin
	minOccludeeDistSq := common.Square(cfg.SoftwareOcclusionMinOccludeeDistance)

	type candidate struct {
		index  int
		weight float32
	}
	var candidates []candidate

	for index := range in.Visibility.All() {
		if index >= len(bounds) || !flags[index].Valid {
			continue
		}
		b := bounds[index].Bounds
		f := flags[index]
		if b.SphereRadius > hugeBoundsRadius {
			continue
		}
		if f.CanBeOccluded && b.DistanceSquaredTo(origin) >= minOccludeeDistSq {
			data.AddOccludee(index, b.Min(), b.Max())
		}
		if !f.IsOpaque {
			continue
		}
		distSq := max(occluderMinDistanceSq, b.DistanceSquaredTo(origin)-common.Square(b.SphereRadius))
		if distSq > occluderMaxDistance*occluderMaxDistance {
			continue
		}
		screenSize := common.ComputeBoundsScreenSize(b.Origin, b.SphereRadius, origin, in.ScreenMultiple)
		if screenSize <= cfg.SoftwareOcclusionMinOccluderRadius {
			continue
		}
		candidates = append(candidates, candidate{index: index, weight: screenSize + occluderMinDistanceSq/distSq})
	}

	slices.SortStableFunc(candidates, func(a, b candidate) int { return cmp.Compare(b.weight, a.weight) })
	for _, c := range candidates {
		if cfg.SoftwareOcclusionMaxOccluders > 0 && data.NumOccluders() >= cfg.SoftwareOcclusionMaxOccluders {
			break
		}
		info := s.Info(c.index)
		if info == nil || info.Primitive.Proxy == nil {
			continue
		}
		geom, ok, err := occluderGeometry(info.Primitive.Proxy, in.View)
		if err != nil {
			log.Printf("[Occlusion] primitive %d skipped as occluder: %v", c.index, err)
			continue
		}
		if !ok || len(geom.Indices) < 3 {
			continue
		}
		data.AddOccluder(info.Primitive.LocalToWorld, geom.Vertices, geom.Indices)
	}
	return data
}

// occluderGeometry returns the occlusion mesh of a proxy that is opaque in the view. A panic in
// the proxy is returned as an error wrapping ErrProxyPanic.
func occluderGeometry(proxy primitive.SceneProxy, v primitive.ViewInfo) (geom primitive.OccluderGeometry, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			geom, ok, err = primitive.OccluderGeometry{}, false, fmt.Errorf("%w: %v", ErrProxyPanic, r)
		}
	}()
	if v != nil {
		rel, relErr := proxy.ViewRelevance(v)
		if relErr != nil {
			return primitive.OccluderGeometry{}, false, relErr
		}
		if !rel.DrawRelevance || !rel.OpaqueRelevance || rel.MaskedRelevance || rel.HasTranslucency() {
			return primitive.OccluderGeometry{}, false, nil
		}
	}
	geom, ok = proxy.OcclusionGeometry()
	return geom, ok, nil
}
