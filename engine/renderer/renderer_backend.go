package renderer

import (
	"slices"
	"sync"

	"github.com/Carmen-Shannon/oxy-vis/engine/meshpass"
	"github.com/Carmen-Shannon/oxy-vis/engine/view"
)

// Backend receives the finished draw lists of a frame. Submit is called once per view and
// non-empty pass, in view order and then pass order, from the goroutine running Render.
type Backend interface {
	// Submit hands over one pass of one view. The commands point into the view's frame arena and
	// are only valid until Submit returns.
	//
	// Parameters:
	//   - v: the view
	//   - pass: the pass
	//   - cmds: the sorted, instanced commands
	//   - primitiveIDs: the primitive id buffer indexed by PrimitiveIDBufferOffset
	//
	// Returns:
	//   - error: the pass could not be submitted; the renderer logs it and carries on. A
	//     *meshpass.PipelineUnavailableError means the other draws went through and the named
	//     pipeline states must be created again.
	Submit(v *view.View, pass meshpass.Pass, cmds []meshpass.VisibleMeshDrawCommand, primitiveIDs []int32) error
}

// RecordedDraw is a value copy of one submitted command.
type RecordedDraw struct {
	Command                 meshpass.MeshDrawCommand
	PrimitiveID             int32
	StateBucketID           int32
	SortKey                 meshpass.SortKey
	PrimitiveIDBufferOffset int32
}

// Submission is one recorded Submit call.
type Submission struct {
	View         int
	FrameNumber  uint32
	Pass         meshpass.Pass
	Draws        []RecordedDraw
	PrimitiveIDs []int32
}

// RecordingBackend keeps every submission in memory. It backs the headless engine and tests.
type RecordingBackend struct {
	mu          sync.Mutex
	submissions []Submission
	// Fail, when set, is returned from Submit for the passes it names.
	Fail map[meshpass.Pass]error
	// Unavailable names pipeline ids the backend has no pipeline for. Their draws are not
	// recorded and Submit reports them through a meshpass.PipelineUnavailableError.
	Unavailable map[meshpass.PipelineID]bool
}

// Ensure RecordingBackend implements Backend interface.
var _ Backend = &RecordingBackend{}

// NewRecordingBackend creates an empty recording backend.
func NewRecordingBackend() *RecordingBackend {
	return &RecordingBackend{}
}

func (b *RecordingBackend) Submit(v *view.View, pass meshpass.Pass, cmds []meshpass.VisibleMeshDrawCommand, primitiveIDs []int32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.Fail[pass]; err != nil {
		return err
	}
	sub := Submission{
		View:         v.Index(),
		FrameNumber:  v.FrameNumber(),
		Pass:         pass,
		Draws:        make([]RecordedDraw, 0, len(cmds)),
		PrimitiveIDs: append([]int32(nil), primitiveIDs...),
	}
	var missing []meshpass.PipelineID
	for _, c := range cmds {
		if id := c.Command.PipelineID; b.Unavailable[id] {
			if !slices.Contains(missing, id) {
				missing = append(missing, id)
			}
			continue
		}
		sub.Draws = append(sub.Draws, RecordedDraw{
			Command:                 *c.Command,
			PrimitiveID:             c.PrimitiveID,
			StateBucketID:           c.StateBucketID,
			SortKey:                 c.SortKey,
			PrimitiveIDBufferOffset: c.PrimitiveIDBufferOffset,
		})
	}
	b.submissions = append(b.submissions, sub)
	if len(missing) > 0 {
		return &meshpass.PipelineUnavailableError{IDs: missing}
	}
	return nil
}

// Submissions returns a copy of everything recorded so far.
func (b *RecordingBackend) Submissions() []Submission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Submission(nil), b.submissions...)
}

// Pass returns the last submission of a view and pass in the given frame.
//
// Parameters:
//   - frame: the frame number
//   - viewIndex: the view
//   - pass: the pass
//
// Returns:
//   - Submission: the submission
//   - bool: false if nothing was submitted
func (b *RecordingBackend) Pass(frame uint32, viewIndex int, pass meshpass.Pass) (Submission, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.submissions) - 1; i >= 0; i-- {
		s := b.submissions[i]
		if s.FrameNumber == frame && s.View == viewIndex && s.Pass == pass {
			return s, true
		}
	}
	return Submission{}, false
}

// Reset drops every recorded submission.
func (b *RecordingBackend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submissions = nil
}
