package occlusion

// QueryHandle names a GPU occlusion query owned by a QueryBackend. Zero is never a valid handle.
type QueryHandle uint32

// HistoryKey identifies an occlusion history entry.
type HistoryKey struct {
	Primitive int
	SubQuery  int
}

type pendingQuery struct {
	handle  QueryHandle
	frame   uint32
	grouped bool
}

// HistoryEntry is the persistent occlusion record of one primitive sub-query in one view.
type HistoryEntry struct {
	// LastProvenVisibleTime is the last time a definite result showed the primitive.
	LastProvenVisibleTime float32
	// LastConsideredTime is the last time the primitive reached the occlusion stage.
	LastConsideredTime float32
	// LastConsideredFrame is the occlusion frame counter at that time.
	LastConsideredFrame uint32
	// LastPixelsPercentage is the fraction of view pixels the last query reported.
	LastPixelsPercentage float32
	// WasOccludedLastFrame is the occlusion decision of the last frame.
	WasOccludedLastFrame bool
	// StateWasDefiniteLastFrame records whether that decision was definite.
	StateWasDefiniteLastFrame bool
	// LastTestFrame is the occlusion frame counter of the last bounds test.
	LastTestFrame uint32
	// LastSubmitFrame is the occlusion frame counter of the last issued hardware query.
	LastSubmitFrame uint32
	// HZBTestIndex is the slot of the last HZB test.
	HZBTestIndex uint32
	// ExpandCooldown counts the frames the query bounds stay expanded after the entry became
	// eligible for testing again.
	ExpandCooldown int

	ring []pendingQuery
}

func newHistoryEntry(numBufferedFrames int) *HistoryEntry {
	return &HistoryEntry{ring: make([]pendingQuery, max(numBufferedFrames, 1))}
}

// SetCurrentQuery records the query issued this frame, replacing the one issued
// numBufferedFrames ago.
//
// Parameters:
//   - frame: the occlusion frame counter
//   - handle: the issued query, or zero for none
//   - grouped: whether the query covers several primitives
//
// Returns:
//   - QueryHandle: the replaced query, or zero; the caller releases it
func (h *HistoryEntry) SetCurrentQuery(frame uint32, handle QueryHandle, grouped bool) QueryHandle {
	slot := &h.ring[int(frame%uint32(len(h.ring)))]
	old := slot.handle
	*slot = pendingQuery{handle: handle, frame: frame, grouped: grouped}
	return old
}

// QueryForReading returns the oldest query still within the lag tolerance. With round-robin
// stereo occlusion the ring can have holes, so every slot is scanned.
//
// Parameters:
//   - frame: the occlusion frame counter
//   - lagTolerance: the maximum age in frames of a readable query
//   - scan: search every slot instead of the expected one
//
// Returns:
//   - QueryHandle: the query
//   - bool: whether the query was grouped
//   - bool: false if no query can be read
func (h *HistoryEntry) QueryForReading(frame uint32, lagTolerance int, scan bool) (QueryHandle, bool, bool) {
	n := uint32(len(h.ring))
	if !scan {
		slot := h.ring[int(frame%n)]
		if slot.handle != 0 && frame-slot.frame <= uint32(lagTolerance) && slot.frame != frame {
			return slot.handle, slot.grouped, true
		}
		return 0, false, false
	}

	best := -1
	for i, slot := range h.ring {
		if slot.handle == 0 || slot.frame == frame || frame-slot.frame > uint32(lagTolerance) {
			continue
		}
		if best < 0 || slot.frame < h.ring[best].frame {
			best = i
		}
	}
	if best < 0 {
		return 0, false, false
	}
	return h.ring[best].handle, h.ring[best].grouped, true
}

// releaseStale drops the query about to be overwritten this frame and returns it.
func (h *HistoryEntry) releaseStale(frame uint32) QueryHandle {
	slot := &h.ring[int(frame%uint32(len(h.ring)))]
	old := slot.handle
	slot.handle = 0
	return old
}

// releaseAll drops every pending query and returns them.
func (h *HistoryEntry) releaseAll(out []QueryHandle) []QueryHandle {
	for i := range h.ring {
		if h.ring[i].handle != 0 {
			out = append(out, h.ring[i].handle)
			h.ring[i].handle = 0
		}
	}
	return out
}

// History is a view's occlusion history, keyed by primitive and sub-query.
type History struct {
	entries           map[HistoryKey]*HistoryEntry
	numBufferedFrames int
}

// NewHistory creates an empty history whose entries buffer numBufferedFrames queries.
func NewHistory(numBufferedFrames int) *History {
	return &History{
		entries:           make(map[HistoryKey]*HistoryEntry),
		numBufferedFrames: max(numBufferedFrames, 1),
	}
}

// Len returns the number of entries.
func (h *History) Len() int {
	return len(h.entries)
}

// Find returns the entry for key, or nil.
func (h *History) Find(key HistoryKey) *HistoryEntry {
	return h.entries[key]
}

// insert adds a new entry. Entries are only created on the orchestrating goroutine.
func (h *History) insert(key HistoryKey) *HistoryEntry {
	e := newHistoryEntry(h.numBufferedFrames)
	h.entries[key] = e
	return e
}

// Trim evicts entries not considered within evictSeconds and returns their pending queries.
// It only does work every sixth frame.
//
// Parameters:
//   - now: the current time in seconds
//   - evictSeconds: the idle period after which an entry is dropped
//   - frame: the occlusion frame counter
//
// Returns:
//   - []QueryHandle: queries the caller must release
func (h *History) Trim(now, evictSeconds float32, frame uint32) []QueryHandle {
	if frame%6 != 0 {
		return nil
	}
	var released []QueryHandle
	for key, e := range h.entries {
		if e.LastConsideredTime < now-evictSeconds || e.LastConsideredTime > now {
			released = e.releaseAll(released)
			delete(h.entries, key)
		}
	}
	return released
}

// Forget drops every entry of a primitive, returning their pending queries.
func (h *History) Forget(primitive int) []QueryHandle {
	var released []QueryHandle
	for key, e := range h.entries {
		if key.Primitive == primitive {
			released = e.releaseAll(released)
			delete(h.entries, key)
		}
	}
	return released
}

// Reset drops every entry, returning their pending queries.
func (h *History) Reset() []QueryHandle {
	var released []QueryHandle
	for _, e := range h.entries {
		released = e.releaseAll(released)
	}
	clear(h.entries)
	return released
}
