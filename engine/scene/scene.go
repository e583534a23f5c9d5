package scene

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/Carmen-Shannon/oxy-vis/common"
	"github.com/Carmen-Shannon/oxy-vis/engine/meshpass"
	"github.com/Carmen-Shannon/oxy-vis/engine/primitive"
	"github.com/go-gl/mathgl/mgl32"
)

// ErrInvalidIndex is returned when a primitive index does not name a live primitive.
var ErrInvalidIndex = errors.New("invalid primitive index")

// PrimitiveBounds is the per-primitive record read by the culling stage.
type PrimitiveBounds struct {
	Bounds            common.BoxSphereBounds
	MinDrawDistanceSq float32
	// MaxDrawDistance is zero for primitives without a distance limit.
	MaxDrawDistance float32
}

// PrimitiveFlags is the per-primitive record read by the culling and occlusion stages.
type PrimitiveFlags struct {
	Valid                     bool
	UsesDistanceCullFade      bool
	CanBeOccluded             bool
	AllowApproximateOcclusion bool
	IsOpaque                  bool
	CastShadow                bool
	HasCustomIndex            bool
}

// PrimitiveSceneInfo is the scene's record of a registered primitive.
type PrimitiveSceneInfo struct {
	// Index is the dense slot of the primitive.
	Index int
	// Primitive is the registration record, including the proxy.
	Primitive primitive.Primitive
	// Moved is set when the transform changed since the last ClearMoved.
	Moved bool
	// CachedCommands locates the primitive's cached commands in the per-pass lists.
	CachedCommands []meshpass.CachedMeshDrawCommandInfo

	stale bool
}

// CachedCommand returns the cached command info for a static mesh in a pass.
//
// Parameters:
//   - pass: the pass
//   - staticMeshIndex: index into Primitive.StaticMeshes
//
// Returns:
//   - meshpass.CachedMeshDrawCommandInfo: the info
//   - bool: false if the mesh has no cached command in the pass
func (p *PrimitiveSceneInfo) CachedCommand(pass meshpass.Pass, staticMeshIndex int) (meshpass.CachedMeshDrawCommandInfo, bool) {
	for _, info := range p.CachedCommands {
		if info.Pass == pass && info.StaticMeshIndex == staticMeshIndex {
			return info, true
		}
	}
	return meshpass.CachedMeshDrawCommandInfo{}, false
}

// Stale reports whether the primitive's cached commands need a rebuild.
func (p *PrimitiveSceneInfo) Stale() bool {
	return p.stale
}

// Scene is a dense, index-stable table of primitives. Indices are reused after removal and are
// never shared by two live primitives. The scene also owns every cached mesh draw command.
//
// Mutating methods take the write lock. Parallel pipeline stages hold RLock for the duration
// of the stage and read the slices returned by Bounds, Flags and Infos without copying.
type Scene interface {
	// Name returns the scene's identifier.
	Name() string

	// Add registers a primitive and returns its index. Its cached commands are built by the
	// next UpdateCachedCommands.
	//
	// Parameters:
	//   - p: the registration record
	//
	// Returns:
	//   - int: the dense index assigned to the primitive
	Add(p primitive.Primitive) int

	// Remove unregisters a primitive, releasing its cached commands and freeing its index.
	//
	// Parameters:
	//   - index: the primitive index
	//
	// Returns:
	//   - error: ErrInvalidIndex if index is not live
	Remove(index int) error

	// UpdateTransform moves a primitive. Its cached commands become stale and it is marked as
	// moved for the velocity pass.
	//
	// Parameters:
	//   - index: the primitive index
	//   - bounds: the new world-space bounds
	//   - localToWorld: the new transform
	//
	// Returns:
	//   - error: ErrInvalidIndex if index is not live
	UpdateTransform(index int, bounds common.BoxSphereBounds, localToWorld mgl32.Mat4) error

	// UpdateStaticMeshes replaces a primitive's static mesh batches and marks it stale.
	UpdateStaticMeshes(index int, meshes []primitive.MeshBatch) error

	// MarkStale flags a primitive's cached commands for rebuild, for example after a material
	// change.
	MarkStale(index int) error

	// NumPrimitives returns the size of the dense index range, including free slots.
	NumPrimitives() int

	// NumLive returns the number of registered primitives.
	NumLive() int

	// IsValid reports whether index names a live primitive.
	IsValid(index int) bool

	// Info returns the scene record of a live primitive, or nil.
	Info(index int) *PrimitiveSceneInfo

	// Bounds returns the dense bounds array. Callers must hold RLock and must not modify it.
	Bounds() []PrimitiveBounds

	// Flags returns the dense flags array. Callers must hold RLock and must not modify it.
	Flags() []PrimitiveFlags

	// HLODChildren returns the children of an HLOD proxy primitive, or nil.
	HLODChildren(index int) []int

	// HLODNodes returns the indices of every primitive registered with HLOD children.
	HLODNodes() []int

	// CachedList returns the cached command list of a pass.
	CachedList(pass meshpass.Pass) *meshpass.CachedPassMeshDrawList

	// UpdateCachedCommands rebuilds the cached commands of every stale primitive. A primitive
	// whose rebuild fails stays stale so the next frame retries.
	//
	// Parameters:
	//   - proc: the processor used to build commands
	//
	// Returns:
	//   - int: the number of primitives rebuilt
	UpdateCachedCommands(proc *meshpass.Processor) int

	// ClearMoved resets every primitive's Moved flag. Called at the end of a frame.
	ClearMoved()

	// RLock acquires the scene's read lock for the duration of a pipeline stage.
	RLock()

	// RUnlock releases the read lock.
	RUnlock()
}

type scene struct {
	mu *sync.RWMutex

	name string

	bounds []PrimitiveBounds
	flags  []PrimitiveFlags
	infos  []*PrimitiveSceneInfo
	free   []int
	live   int

	hlodNodes map[int][]int

	lists     [meshpass.NumPasses]*meshpass.CachedPassMeshDrawList
	processor *meshpass.Processor

	debugLogging bool
	initial      []primitive.Primitive
}

// Ensure scene implements Scene interface.
var _ Scene = &scene{}

// NewScene creates an empty scene.
//
// Parameters:
//   - name: the name of the scene
//   - options: functional options to further configure the scene
//
// Returns:
//   - Scene: the newly created scene
func NewScene(name string, options ...SceneBuilderOption) Scene {
	s := &scene{
		mu:        &sync.RWMutex{},
		name:      name,
		hlodNodes: make(map[int][]int),
	}
	for pass := range meshpass.NumPasses {
		s.lists[pass] = meshpass.NewCachedPassMeshDrawList(pass)
	}

	for _, option := range options {
		option(s)
	}

	for _, p := range s.initial {
		s.addLocked(p)
	}
	s.initial = nil

	return s
}

func (s *scene) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *scene) Add(p primitive.Primitive) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(p)
}

func (s *scene) addLocked(p primitive.Primitive) int {
	var index int
	if n := len(s.free); n > 0 {
		index = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		index = len(s.infos)
		s.bounds = append(s.bounds, PrimitiveBounds{})
		s.flags = append(s.flags, PrimitiveFlags{})
		s.infos = append(s.infos, nil)
	}

	s.infos[index] = &PrimitiveSceneInfo{Index: index, Primitive: p, stale: true}
	s.bounds[index] = PrimitiveBounds{
		Bounds:            p.Bounds,
		MinDrawDistanceSq: p.MinDrawDistance * p.MinDrawDistance,
		MaxDrawDistance:   p.MaxDrawDistance,
	}
	s.flags[index] = PrimitiveFlags{
		Valid:                     true,
		UsesDistanceCullFade:      p.UsesDistanceCullFade,
		CanBeOccluded:             p.CanBeOccluded,
		AllowApproximateOcclusion: p.AllowApproximateOcclusion,
		IsOpaque:                  p.IsOpaque,
		CastShadow:                p.CastShadow,
		HasCustomIndex:            p.CustomIndex >= 0,
	}
	s.live++

	if len(p.HLODChildren) > 0 {
		children := make([]int, 0, len(p.HLODChildren))
		for _, child := range p.HLODChildren {
			if !s.isValidLocked(child) {
				log.Printf("[Scene] %s: HLOD node %d references unknown child %d", s.name, index, child)
				continue
			}
			s.infos[child].Primitive.LODParent = index
			children = append(children, child)
		}
		s.hlodNodes[index] = children
	}
	return index
}

func (s *scene) Remove(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isValidLocked(index) {
		return fmt.Errorf("remove %d: %w", index, ErrInvalidIndex)
	}
	info := s.infos[index]
	s.releaseCachedLocked(info)

	if parent := info.Primitive.LODParent; parent >= 0 {
		if children, ok := s.hlodNodes[parent]; ok {
			for i, c := range children {
				if c == index {
					s.hlodNodes[parent] = append(children[:i], children[i+1:]...)
					break
				}
			}
		}
	}
	for _, child := range s.hlodNodes[index] {
		if s.isValidLocked(child) {
			s.infos[child].Primitive.LODParent = -1
		}
	}
	delete(s.hlodNodes, index)

	s.infos[index] = nil
	s.bounds[index] = PrimitiveBounds{}
	s.flags[index] = PrimitiveFlags{}
	s.free = append(s.free, index)
	s.live--
	return nil
}

func (s *scene) UpdateTransform(index int, bounds common.BoxSphereBounds, localToWorld mgl32.Mat4) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isValidLocked(index) {
		return fmt.Errorf("update transform %d: %w", index, ErrInvalidIndex)
	}
	info := s.infos[index]
	info.Primitive.Bounds = bounds
	info.Primitive.LocalToWorld = localToWorld
	info.Moved = true
	info.stale = true
	s.bounds[index].Bounds = bounds
	return nil
}

func (s *scene) UpdateStaticMeshes(index int, meshes []primitive.MeshBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isValidLocked(index) {
		return fmt.Errorf("update static meshes %d: %w", index, ErrInvalidIndex)
	}
	info := s.infos[index]
	info.Primitive.StaticMeshes = append([]primitive.MeshBatch(nil), meshes...)
	info.stale = true
	return nil
}

func (s *scene) MarkStale(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isValidLocked(index) {
		return fmt.Errorf("mark stale %d: %w", index, ErrInvalidIndex)
	}
	s.infos[index].stale = true
	return nil
}

func (s *scene) NumPrimitives() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.infos)
}

func (s *scene) NumLive() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

func (s *scene) IsValid(index int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isValidLocked(index)
}

func (s *scene) isValidLocked(index int) bool {
	return index >= 0 && index < len(s.infos) && s.infos[index] != nil
}

// Info does not lock; pipeline stages call it while holding RLock.
func (s *scene) Info(index int) *PrimitiveSceneInfo {
	if index < 0 || index >= len(s.infos) {
		return nil
	}
	return s.infos[index]
}

func (s *scene) Bounds() []PrimitiveBounds {
	return s.bounds
}

func (s *scene) Flags() []PrimitiveFlags {
	return s.flags
}

func (s *scene) HLODChildren(index int) []int {
	return s.hlodNodes[index]
}

func (s *scene) HLODNodes() []int {
	nodes := make([]int, 0, len(s.hlodNodes))
	for i := range s.infos {
		if _, ok := s.hlodNodes[i]; ok {
			nodes = append(nodes, i)
		}
	}
	return nodes
}

func (s *scene) CachedList(pass meshpass.Pass) *meshpass.CachedPassMeshDrawList {
	if pass >= meshpass.NumPasses {
		return nil
	}
	return s.lists[pass]
}

func (s *scene) UpdateCachedCommands(proc *meshpass.Processor) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processor != nil && s.processor != proc {
		// Cached commands hold pipeline references in the old processor's table.
		for _, info := range s.infos {
			if info != nil {
				s.releaseCachedLocked(info)
				info.stale = true
			}
		}
	}
	s.processor = proc

	rebuilt := 0
	for _, info := range s.infos {
		if info == nil || !info.stale {
			continue
		}
		s.releaseCachedLocked(info)
		if err := s.cachePrimitiveLocked(proc, info); err != nil {
			log.Printf("[Scene] %s: primitive %d: %v", s.name, info.Index, err)
			s.releaseCachedLocked(info)
			continue
		}
		info.stale = false
		rebuilt++
	}
	if s.debugLogging && rebuilt > 0 {
		log.Printf("[Scene] %s: rebuilt cached commands for %d primitives", s.name, rebuilt)
	}
	return rebuilt
}

func (s *scene) cachePrimitiveLocked(proc *meshpass.Processor, info *PrimitiveSceneInfo) error {
	meshes := info.Primitive.StaticMeshes
	for i := range meshes {
		batch := &meshes[i]
		for pass := range meshpass.NumPasses {
			if !pass.Cacheable() || !proc.ShouldDraw(pass, batch) {
				continue
			}
			cached, err := proc.CacheStaticMesh(s.lists[pass], i, batch)
			if err != nil {
				return fmt.Errorf("static mesh %d: %w", i, err)
			}
			info.CachedCommands = append(info.CachedCommands, cached)
		}
	}
	return nil
}

func (s *scene) releaseCachedLocked(info *PrimitiveSceneInfo) {
	if s.processor == nil {
		info.CachedCommands = info.CachedCommands[:0]
		return
	}
	for _, cached := range info.CachedCommands {
		s.processor.ReleaseCached(s.lists[cached.Pass], cached)
	}
	info.CachedCommands = info.CachedCommands[:0]
}

func (s *scene) ClearMoved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, info := range s.infos {
		if info != nil {
			info.Moved = false
		}
	}
}

func (s *scene) RLock() {
	s.mu.RLock()
}

func (s *scene) RUnlock() {
	s.mu.RUnlock()
}
