package meshpass

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"honnef.co/go/safeish"
)

// PipelineID is a small integer naming a deduplicated PipelineState.
type PipelineID uint32

const (
	// InvalidPipelineID is never returned for a live state.
	InvalidPipelineID PipelineID = 0xFFFFFFFF

	// oneFrameBit marks ids that are only valid until ResetOneFrameIDs.
	oneFrameBit PipelineID = 1 << 30
)

// IsOneFrame reports whether the id came from OneFrameID.
func (id PipelineID) IsOneFrame() bool {
	return id != InvalidPipelineID && id&oneFrameBit != 0
}

var (
	// ErrPipelineCreation is returned when the backend fails to create a pipeline state object.
	ErrPipelineCreation = errors.New("pipeline state creation failed")
	// ErrPipelineUnavailable is wrapped by PipelineUnavailableError.
	ErrPipelineUnavailable = errors.New("pipeline state unavailable")
)

// PipelineUnavailableError is returned by a backend that skipped draws because their pipeline
// state object was lost or never created. The renderer invalidates the ids so the states are
// created again.
type PipelineUnavailableError struct {
	IDs []PipelineID
}

func (e *PipelineUnavailableError) Error() string {
	return fmt.Sprintf("%v: ids %v", ErrPipelineUnavailable, e.IDs)
}

func (e *PipelineUnavailableError) Unwrap() error {
	return ErrPipelineUnavailable
}

// PipelineState is the full fixed-function and shader state a draw needs. Two draws with equal
// PipelineState values share one PipelineID.
type PipelineState struct {
	// ShaderHash identifies the vertex+fragment shader pair.
	ShaderHash uint32
	// VertexFactoryHash identifies the vertex layout.
	VertexFactoryHash uint32

	DepthTestEnabled    bool
	DepthWriteEnabled   bool
	DepthCompare        wgpu.CompareFunction
	DepthBias           int32
	DepthBiasSlopeScale float32
	BlendEnabled        bool
	BlendState          wgpu.BlendState
	CullMode            wgpu.CullMode
	Topology            wgpu.PrimitiveTopology
	FrontFace           wgpu.FrontFace
	WriteMask           wgpu.ColorWriteMask
}

// pipelineStateKey is the padding-free image of a PipelineState used for hashing.
type pipelineStateKey struct {
	shaderHash, vertexFactoryHash    uint32
	flags                            uint32
	depthCompare                     uint32
	depthBias                        int32
	depthBiasSlopeScale              float32
	colorSrc, colorDst, colorOp      uint32
	alphaSrc, alphaDst, alphaOp      uint32
	cullMode, topology, frontFace    uint32
	writeMask                        uint32
}

func (s *PipelineState) key() string {
	var flags uint32
	if s.DepthTestEnabled {
		flags |= 1
	}
	if s.DepthWriteEnabled {
		flags |= 2
	}
	if s.BlendEnabled {
		flags |= 4
	}
	k := pipelineStateKey{
		shaderHash:          s.ShaderHash,
		vertexFactoryHash:   s.VertexFactoryHash,
		flags:               flags,
		depthCompare:        uint32(s.DepthCompare),
		depthBias:           s.DepthBias,
		depthBiasSlopeScale: s.DepthBiasSlopeScale,
		colorSrc:            uint32(s.BlendState.Color.SrcFactor),
		colorDst:            uint32(s.BlendState.Color.DstFactor),
		colorOp:             uint32(s.BlendState.Color.Operation),
		alphaSrc:            uint32(s.BlendState.Alpha.SrcFactor),
		alphaDst:            uint32(s.BlendState.Alpha.DstFactor),
		alphaOp:             uint32(s.BlendState.Alpha.Operation),
		cullMode:            uint32(s.CullMode),
		topology:            uint32(s.Topology),
		frontFace:           uint32(s.FrontFace),
		writeMask:           uint32(s.WriteMask),
	}
	return string(safeish.AsBytes(&k))
}

// PipelineStateBuilder creates the backend object for a newly seen pipeline state.
type PipelineStateBuilder interface {
	// CreatePipelineState is called once per new persistent or one-frame id.
	//
	// Parameters:
	//   - id: the id assigned to the state
	//   - state: the state to create
	//
	// Returns:
	//   - error: a non-nil error keeps the state out of the table so the next request retries
	CreatePipelineState(id PipelineID, state PipelineState) error
}

type pipelineEntry struct {
	state PipelineState
	key   string
	refs  int
}

// PipelineStateTable deduplicates PipelineState values into ids. Persistent ids are reference
// counted and owned by cached commands; one-frame ids serve dynamic commands and are dropped by
// ResetOneFrameIDs. All methods are safe for concurrent use; a single mutex guards the table and
// is held only for the lookup or insertion.
type PipelineStateTable struct {
	mu sync.Mutex

	builder PipelineStateBuilder

	persistent     map[string]PipelineID
	entries        []pipelineEntry
	freeIDs        []PipelineID
	numPersistent  int
	oneFrame       map[string]PipelineID
	oneFrameStates []PipelineState
}

// NewPipelineStateTable creates an empty table. A nil builder accepts every state.
//
// Parameters:
//   - builder: backend hook invoked for new states, may be nil
//
// Returns:
//   - *PipelineStateTable: the new table
func NewPipelineStateTable(builder PipelineStateBuilder) *PipelineStateTable {
	return &PipelineStateTable{
		builder:    builder,
		persistent: make(map[string]PipelineID),
		oneFrame:   make(map[string]PipelineID),
	}
}

// PersistentID returns the id for state, creating it if needed, and takes a reference on it.
// Every successful call must be balanced by ReleasePersistentID.
//
// Parameters:
//   - state: the pipeline state
//
// Returns:
//   - PipelineID: the deduplicated id
//   - error: wraps ErrPipelineCreation if the backend rejected a new state
func (t *PipelineStateTable) PersistentID(state PipelineState) (PipelineID, error) {
	key := state.key()

	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.persistent[key]; ok {
		t.entries[id].refs++
		return id, nil
	}

	var id PipelineID
	if n := len(t.freeIDs); n > 0 {
		id = t.freeIDs[n-1]
		t.freeIDs = t.freeIDs[:n-1]
	} else {
		id = PipelineID(len(t.entries))
		t.entries = append(t.entries, pipelineEntry{})
	}

	if t.builder != nil {
		if err := t.builder.CreatePipelineState(id, state); err != nil {
			t.freeIDs = append(t.freeIDs, id)
			return InvalidPipelineID, fmt.Errorf("%w: %w", ErrPipelineCreation, err)
		}
	}

	t.entries[id] = pipelineEntry{state: state, key: key, refs: 1}
	t.persistent[key] = id
	t.numPersistent++
	return id, nil
}

// ReleasePersistentID drops a reference taken by PersistentID. The id is recycled when the
// last reference goes away.
func (t *PipelineStateTable) ReleasePersistentID(id PipelineID) {
	if id == InvalidPipelineID || id.IsOneFrame() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if int(id) >= len(t.entries) || t.entries[id].refs == 0 {
		log.Printf("[MeshPass] release of unreferenced pipeline id %d", id)
		return
	}
	e := &t.entries[id]
	e.refs--
	if e.refs > 0 {
		return
	}
	if cur, ok := t.persistent[e.key]; ok && cur == id {
		delete(t.persistent, e.key)
	}
	*e = pipelineEntry{}
	t.freeIDs = append(t.freeIDs, id)
	t.numPersistent--
}

// OneFrameID returns an id valid until the next ResetOneFrameIDs. Persistent ids are reused
// when the state already has one.
//
// Parameters:
//   - state: the pipeline state
//
// Returns:
//   - PipelineID: the id
//   - error: wraps ErrPipelineCreation if the backend rejected a new state
func (t *PipelineStateTable) OneFrameID(state PipelineState) (PipelineID, error) {
	key := state.key()

	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.persistent[key]; ok {
		return id, nil
	}
	if id, ok := t.oneFrame[key]; ok {
		return id, nil
	}

	id := PipelineID(len(t.oneFrameStates)) | oneFrameBit
	if t.builder != nil {
		if err := t.builder.CreatePipelineState(id, state); err != nil {
			return InvalidPipelineID, fmt.Errorf("%w: %w", ErrPipelineCreation, err)
		}
	}
	t.oneFrameStates = append(t.oneFrameStates, state)
	t.oneFrame[key] = id
	return id, nil
}

// ResetOneFrameIDs forgets every one-frame id. Called once per frame after submission.
func (t *PipelineStateTable) ResetOneFrameIDs() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.oneFrame)
	t.oneFrameStates = t.oneFrameStates[:0]
}

// Invalidate detaches the id's state from the lookup so the next request for the same state
// creates a fresh backend object. Existing references stay valid until released.
func (t *PipelineStateTable) Invalidate(id PipelineID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id.IsOneFrame() {
		idx := int(id &^ oneFrameBit)
		if idx < len(t.oneFrameStates) {
			delete(t.oneFrame, t.oneFrameStates[idx].key())
		}
		return
	}
	if int(id) < len(t.entries) {
		if key := t.entries[id].key; key != "" {
			if cur, ok := t.persistent[key]; ok && cur == id {
				delete(t.persistent, key)
			}
		}
	}
}

// State returns the pipeline state for an id.
//
// Parameters:
//   - id: a persistent or one-frame id
//
// Returns:
//   - PipelineState: the state
//   - bool: false if the id is unknown
func (t *PipelineStateTable) State(id PipelineID) (PipelineState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id == InvalidPipelineID {
		return PipelineState{}, false
	}
	if id.IsOneFrame() {
		idx := int(id &^ oneFrameBit)
		if idx < len(t.oneFrameStates) {
			return t.oneFrameStates[idx], true
		}
		return PipelineState{}, false
	}
	if int(id) < len(t.entries) && t.entries[id].refs > 0 {
		return t.entries[id].state, true
	}
	return PipelineState{}, false
}

// NumPersistent returns the number of live persistent ids.
func (t *PipelineStateTable) NumPersistent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numPersistent
}
