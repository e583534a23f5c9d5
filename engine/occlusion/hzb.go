package occlusion

import (
	"fmt"
	"log"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// HZBSizeX and HZBSizeY are the dimensions of the result texture. Each texel holds the
	// result of one bounds test, so a frame can test HZBSizeX*HZBSizeY bounds.
	HZBSizeX = 256
	HZBSizeY = 256
	// HZBBlockSize is the edge of the square blocks results are laid out in.
	HZBBlockSize = 8

	hzbFrameNumberMask    = 0x7fffffff
	hzbInvalidFrameNumber = 0xffffffff
	hzbBlocksPerRow       = HZBSizeX / HZBBlockSize
)

// HZBBound is a world-space box submitted for testing.
type HZBBound struct {
	Center mgl32.Vec3
	Extent mgl32.Vec3
}

// HZBReadback runs submitted bounds against the hierarchical depth buffer and returns the
// results one frame later.
type HZBReadback interface {
	// Submit tests bounds against the current depth pyramid. The result of bounds[i] is written
	// to the RGBA8 texel returned by HZBResultTexel(i); a non-zero red channel means visible.
	//
	// Parameters:
	//   - viewProj: the view projection of the frame the bounds belong to
	//   - bounds: the bounds to test
	//
	// Returns:
	//   - error: the test could not be submitted
	Submit(viewProj mgl32.Mat4, bounds []HZBBound) error

	// Map returns the results of the previous Submit as HZBSizeX*HZBSizeY*4 bytes.
	Map() ([]byte, error)

	// Unmap releases the mapped results.
	Unmap()
}

// HZBResultTexel returns the result texel of a bounds index. Results are stored in 8x8 blocks
// so that neighbouring indices share cache lines.
func HZBResultTexel(index uint32) (x, y int) {
	block := int(index) / (HZBBlockSize * HZBBlockSize)
	inBlock := int(index) % (HZBBlockSize * HZBBlockSize)
	blockX := block % hzbBlocksPerRow
	blockY := block / hzbBlocksPerRow
	return blockX*HZBBlockSize + inBlock%HZBBlockSize, blockY*HZBBlockSize + inBlock/HZBBlockSize
}

// HZBTester collects the bounds of one frame and reads back the results of an earlier one.
type HZBTester struct {
	bounds     []HZBBound
	results    []byte
	mapped     bool
	validFrame uint32
}

// NewHZBTester creates a tester with no valid results.
func NewHZBTester() *HZBTester {
	return &HZBTester{
		bounds:     make([]HZBBound, 0, 1024),
		validFrame: hzbInvalidFrameNumber,
	}
}

// AddBounds queues a box for the next submission.
//
// Parameters:
//   - center: the box center
//   - extent: the box half size
//
// Returns:
//   - uint32: the index to pass to IsVisible once the results are mapped
//   - error: ErrHZBFull once HZBSizeX*HZBSizeY bounds are queued
func (t *HZBTester) AddBounds(center, extent mgl32.Vec3) (uint32, error) {
	if len(t.bounds) >= HZBSizeX*HZBSizeY {
		return 0, ErrHZBFull
	}
	t.bounds = append(t.bounds, HZBBound{Center: center, Extent: extent})
	return uint32(len(t.bounds) - 1), nil
}

// NumBounds returns the number of queued bounds.
func (t *HZBTester) NumBounds() int {
	return len(t.bounds)
}

// SetValidFrameNumber records the frame whose results the next Map returns.
func (t *HZBTester) SetValidFrameNumber(frame uint32) {
	t.validFrame = frame & hzbFrameNumberMask
}

// IsValidFrame reports whether results for frame are available.
func (t *HZBTester) IsValidFrame(frame uint32) bool {
	return frame != hzbInvalidFrameNumber && t.validFrame != hzbInvalidFrameNumber && frame&hzbFrameNumberMask == t.validFrame
}

// MapResults maps the results of the last submission. When there is nothing valid to map, or
// the readback fails, every bounds reads as visible and the results are marked invalid.
func (t *HZBTester) MapResults(rb HZBReadback) {
	t.results = nil
	if t.validFrame == hzbInvalidFrameNumber || rb == nil {
		return
	}
	res, err := rb.Map()
	if err == nil && len(res) < HZBSizeX*HZBSizeY*4 {
		rb.Unmap()
		err = fmt.Errorf("%w: readback returned %d bytes", ErrNotMapped, len(res))
	}
	if err != nil {
		log.Printf("[Occlusion] HZB readback failed, assuming visible: %v", err)
		t.validFrame = hzbInvalidFrameNumber
		return
	}
	t.results = res
	t.mapped = true
}

// IsVisible returns the mapped result of a bounds index. Unmapped results read as visible.
func (t *HZBTester) IsVisible(index uint32) bool {
	if t.results == nil || index >= HZBSizeX*HZBSizeY {
		return true
	}
	x, y := HZBResultTexel(index)
	return t.results[4*(x+y*HZBSizeX)] != 0
}

// UnmapResults releases the mapped results.
func (t *HZBTester) UnmapResults(rb HZBReadback) {
	if t.mapped && rb != nil {
		rb.Unmap()
	}
	t.results = nil
	t.mapped = false
}

// Submit hands the queued bounds to the readback and clears the queue. The results become
// readable under frame on success.
//
// Parameters:
//   - rb: the readback
//   - viewProj: the frame's view projection
//   - frame: the occlusion frame counter of the queued tests
//
// Returns:
//   - error: the submission failed and no results will be valid next frame
func (t *HZBTester) Submit(rb HZBReadback, viewProj mgl32.Mat4, frame uint32) error {
	defer func() { t.bounds = t.bounds[:0] }()
	if rb == nil || len(t.bounds) == 0 {
		t.validFrame = hzbInvalidFrameNumber
		return nil
	}
	if err := rb.Submit(viewProj, t.bounds); err != nil {
		t.validFrame = hzbInvalidFrameNumber
		return err
	}
	t.SetValidFrameNumber(frame)
	return nil
}
