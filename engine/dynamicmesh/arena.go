package dynamicmesh

import (
	"github.com/Carmen-Shannon/oxy-vis/common"
	"github.com/Carmen-Shannon/oxy-vis/engine/meshpass"
	"github.com/Carmen-Shannon/oxy-vis/engine/primitive"
)

const slabSize = 256

// Slab is a typed bump allocator. Values are carved out of fixed size chunks so pointers stay
// valid until Reset, which zeroes the used memory so it does not keep Go pointers alive.
// Not safe for concurrent use.
type Slab[T any] struct {
	chunks [][]T
	chunk  int
	offset int
}

// New returns a pointer to a zeroed T owned by the slab.
func (s *Slab[T]) New() *T {
	if s.chunk == len(s.chunks) {
		s.chunks = append(s.chunks, make([]T, slabSize))
	}
	ptr := &s.chunks[s.chunk][s.offset]
	s.offset++
	if s.offset == slabSize {
		s.chunk++
		s.offset = 0
	}
	return ptr
}

// Make returns a slab-owned copy of v.
func (s *Slab[T]) Make(v T) *T {
	ptr := s.New()
	*ptr = v
	return ptr
}

// Len returns the number of live values.
func (s *Slab[T]) Len() int {
	return s.chunk*slabSize + s.offset
}

// Cap returns the number of values the slab holds before growing.
func (s *Slab[T]) Cap() int {
	return len(s.chunks) * slabSize
}

// Reset frees every value, keeping the chunks for reuse.
func (s *Slab[T]) Reset() {
	for i := 0; i < s.chunk && i < len(s.chunks); i++ {
		clear(s.chunks[i])
	}
	if s.chunk < len(s.chunks) {
		clear(s.chunks[s.chunk][:s.offset])
	}
	s.chunk = 0
	s.offset = 0
}

// Reserve grows the slab so that n more values fit without allocating.
func (s *Slab[T]) Reserve(n int) {
	need := common.DivideAndRoundUp(s.Len()+n, slabSize)
	for len(s.chunks) < need {
		s.chunks = append(s.chunks, make([]T, slabSize))
	}
}

// Arena is a view's per-frame storage for everything built on the dynamic path: collected mesh
// batches, their draw commands and the commands created by dynamic instancing. The renderer
// resets it at the end of the frame, after the backend has consumed the pass lists.
type Arena struct {
	batches  Slab[primitive.MeshBatch]
	commands Slab[meshpass.MeshDrawCommand]
}

// Ensure Arena can back instancing merges.
var _ meshpass.CommandAllocator = &Arena{}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// NewCommand stores a copy of cmd in the arena.
func (a *Arena) NewCommand(cmd meshpass.MeshDrawCommand) *meshpass.MeshDrawCommand {
	return a.commands.Make(cmd)
}

// NewBatch stores a copy of batch in the arena.
func (a *Arena) NewBatch(batch primitive.MeshBatch) *primitive.MeshBatch {
	return a.batches.Make(batch)
}

// NumCommands returns the number of commands allocated this frame.
func (a *Arena) NumCommands() int {
	return a.commands.Len()
}

// NumBatches returns the number of batches allocated this frame.
func (a *Arena) NumBatches() int {
	return a.batches.Len()
}

// Reset discards everything allocated this frame.
func (a *Arena) Reset() {
	a.batches.Reset()
	a.commands.Reset()
}
