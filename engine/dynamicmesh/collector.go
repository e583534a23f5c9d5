// Package dynamicmesh gathers the mesh batches that primitives rebuild every frame and turns them
// into draw commands owned by a per-view arena.
package dynamicmesh

import (
	"errors"
	"fmt"
	"log"

	"github.com/Carmen-Shannon/oxy-vis/engine/config"
	"github.com/Carmen-Shannon/oxy-vis/engine/meshpass"
	"github.com/Carmen-Shannon/oxy-vis/engine/primitive"
	"github.com/Carmen-Shannon/oxy-vis/engine/scene"
	"github.com/Carmen-Shannon/oxy-vis/engine/task"
)

// primitivesPerTask bounds the number of proxy callbacks handled by one task.
const primitivesPerTask = 16

// ErrCollectPanic wraps a panic raised by a proxy while producing its batches.
var ErrCollectPanic = errors.New("dynamic mesh callback panicked")

// Element is one primitive with dynamic relevance in a view.
type Element struct {
	// Primitive is the scene index.
	Primitive int
	// Relevance is the primitive's relevance in the view.
	Relevance primitive.Relevance
	// Passes are the passes the primitive takes part in this frame.
	Passes meshpass.PassMask
}

// MeshBatchAndRelevance is a collected batch together with the relevance of its primitive.
type MeshBatchAndRelevance struct {
	Primitive int
	Batch     *primitive.MeshBatch
	Relevance primitive.Relevance
	Passes    meshpass.PassMask
}

// Stats summarizes one collection.
type Stats struct {
	NumPrimitives int
	NumBatches    int
	NumDropped    int
}

// slot is written by exactly one task.
type slot struct {
	batches []primitive.MeshBatch
	err     error
}

// AddMesh implements primitive.MeshCollector.
func (s *slot) AddMesh(batch primitive.MeshBatch) {
	s.batches = append(s.batches, batch)
}

// Collector calls DynamicMeshElements on the dynamic primitives of a view in parallel.
type Collector struct {
	cfg    config.Config
	runner task.Runner
}

// NewCollector creates a collector.
//
// Parameters:
//   - cfg: the renderer configuration
//   - runner: the worker pool (must not be nil)
//
// Returns:
//   - *Collector: the new collector
func NewCollector(cfg config.Config, runner task.Runner) *Collector {
	if runner == nil {
		panic("dynamicmesh: NewCollector requires a non-nil task.Runner")
	}
	return &Collector{cfg: cfg, runner: runner}
}

// Collect reserves one slot per element, fills the slots in parallel and copies the batches
// into the arena in element order. A proxy that fails or panics loses its batches for the frame.
// The caller must hold the scene's read lock.
//
// Parameters:
//   - view: the view handed to the proxies
//   - s: the scene
//   - elements: the dynamic primitives, in the order their batches should appear
//   - arena: the view's frame arena
//
// Returns:
//   - []MeshBatchAndRelevance: the collected batches
//   - Stats: collection counters
func (c *Collector) Collect(view primitive.ViewInfo, s scene.Scene, elements []Element, arena *Arena) ([]MeshBatchAndRelevance, Stats) {
	stats := Stats{NumPrimitives: len(elements)}
	slots := make([]slot, len(elements))

	numTasks := (len(elements) + primitivesPerTask - 1) / primitivesPerTask
	err := c.runner.ParallelFor("dynamic mesh", numTasks, func(t int) {
		end := min((t+1)*primitivesPerTask, len(elements))
		for i := t * primitivesPerTask; i < end; i++ {
			slots[i].err = collectOne(view, s, elements[i].Primitive, &slots[i])
		}
	})
	if err != nil {
		// Per-primitive panics are recovered in collectOne; this is a bug in the collector.
		log.Printf("[DynamicMesh] collection failed: %v", err)
	}

	total := 0
	for i := range slots {
		total += len(slots[i].batches)
	}
	out := make([]MeshBatchAndRelevance, 0, total)
	arena.batches.Reserve(total)
	for i := range slots {
		sl := &slots[i]
		if sl.err != nil {
			stats.NumDropped++
			log.Printf("[DynamicMesh] primitive %d: %v", elements[i].Primitive, sl.err)
			continue
		}
		for _, batch := range sl.batches {
			out = append(out, MeshBatchAndRelevance{
				Primitive: elements[i].Primitive,
				Batch:     arena.NewBatch(batch),
				Relevance: elements[i].Relevance,
				Passes:    elements[i].Passes,
			})
		}
	}
	stats.NumBatches = len(out)
	if c.cfg.DebugLogging {
		log.Printf("[DynamicMesh] %d primitives produced %d batches, %d dropped", stats.NumPrimitives, stats.NumBatches, stats.NumDropped)
	}
	return out, stats
}

func collectOne(view primitive.ViewInfo, s scene.Scene, index int, sl *slot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			sl.batches = nil
			err = fmt.Errorf("%w: %v", ErrCollectPanic, r)
		}
	}()
	info := s.Info(index)
	if info == nil {
		return fmt.Errorf("collect %d: %w", index, scene.ErrInvalidIndex)
	}
	if err := info.Primitive.Proxy.DynamicMeshElements(view, sl); err != nil {
		sl.batches = nil
		return err
	}
	return nil
}

// BuildCommand builds a one-frame draw command for a batch, stored in the arena.
//
// Parameters:
//   - proc: the mesh pass processor
//   - arena: the view's frame arena
//   - pass: the pass being built
//   - batch: the batch
//   - primitiveID: the scene index of the drawing primitive
//
// Returns:
//   - meshpass.VisibleMeshDrawCommand: the visible command, never instanced through a state bucket
//   - error: the build error; the batch is dropped from the pass this frame
func BuildCommand(proc *meshpass.Processor, arena *Arena, pass meshpass.Pass, batch *primitive.MeshBatch, primitiveID int) (meshpass.VisibleMeshDrawCommand, error) {
	cmd, err := proc.BuildCommand(pass, batch, false)
	if err != nil {
		return meshpass.VisibleMeshDrawCommand{}, err
	}
	fill, cull := meshpass.RasterState(batch)
	return meshpass.VisibleMeshDrawCommand{
		Command:       arena.NewCommand(cmd),
		StateBucketID: -1,
		PrimitiveID:   int32(primitiveID),
		SortKey:       proc.SortKey(pass, batch, cmd.PipelineID),
		FillMode:      fill,
		CullMode:      cull,
	}, nil
}
