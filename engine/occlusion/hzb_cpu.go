package occlusion

import (
	"sync"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// HZB is a CPU depth pyramid. Each texel of a level holds the farthest depth of the texels it
// covers in the level below. Depth uses the [0,1] range with larger values farther away, and
// row zero is the top of the screen.
type HZB struct {
	widths  []int
	heights []int
	levels  [][]float32
}

// BuildHZB builds a depth pyramid from a full resolution depth buffer.
//
// Parameters:
//   - depth: width*height depths in row-major order
//   - width: the buffer width
//   - height: the buffer height
//
// Returns:
//   - *HZB: the pyramid, nil if the buffer is empty or too small
func BuildHZB(depth []float32, width, height int) *HZB {
	if width <= 0 || height <= 0 || len(depth) < width*height {
		return nil
	}
	h := &HZB{}
	level := make([]float32, width*height)
	copy(level, depth)
	h.push(level, width, height)

	for width > 1 || height > 1 {
		w, ht := max((width+1)/2, 1), max((height+1)/2, 1)
		next := make([]float32, w*ht)
		for y := range ht {
			for x := range w {
				far := float32(0)
				for sy := 2 * y; sy < min(2*y+2, height); sy++ {
					for sx := 2 * x; sx < min(2*x+2, width); sx++ {
						far = max(far, level[sx+sy*width])
					}
				}
				next[x+y*w] = far
			}
		}
		h.push(next, w, ht)
		level, width, height = next, w, ht
	}
	return h
}

func (h *HZB) push(level []float32, width, height int) {
	h.levels = append(h.levels, level)
	h.widths = append(h.widths, width)
	h.heights = append(h.heights, height)
}

// NumLevels returns the number of mip levels.
func (h *HZB) NumLevels() int {
	return len(h.levels)
}

// Size returns the dimensions of level zero.
func (h *HZB) Size() (int, int) {
	return h.widths[0], h.heights[0]
}

// TestBounds reports whether a world-space box may be visible. The box is projected to a
// screen rectangle, a level is picked where the rectangle spans about four texels, and the box
// is visible when its closest depth is not behind the farthest depth stored under it. Boxes
// crossing the near plane are visible.
//
// Parameters:
//   - viewProj: the view projection the pyramid was rendered with
//   - center: the box center
//   - extent: the box half size
//
// Returns:
//   - bool: false only if the box is certainly hidden
func (h *HZB) TestBounds(viewProj mgl32.Mat4, center, extent mgl32.Vec3) bool {
	minX, minY, minZ := float32(1), float32(1), float32(1)
	maxX, maxY := float32(-1), float32(-1)
	for i := range 8 {
		corner := mgl32.Vec3{
			center.X() + signOf(i&1)*extent.X(),
			center.Y() + signOf(i&2)*extent.Y(),
			center.Z() + signOf(i&4)*extent.Z(),
		}
		clip := viewProj.Mul4x1(corner.Vec4(1))
		if clip.W() <= 0 || clip.Z() < -clip.W() {
			return true
		}
		ndc := clip.Vec3().Mul(1 / clip.W())
		minX, maxX = min(minX, ndc.X()), max(maxX, ndc.X())
		minY, maxY = min(minY, ndc.Y()), max(maxY, ndc.Y())
		minZ = min(minZ, ndc.Z())
	}
	if maxX < -1 || minX > 1 || maxY < -1 || minY > 1 {
		return false
	}

	width, height := h.Size()
	x0 := int(math32.Floor((max(minX, -1) + 1) * 0.5 * float32(width)))
	x1 := int(math32.Floor((min(maxX, 1) + 1) * 0.5 * float32(width)))
	y0 := int(math32.Floor((1 - min(maxY, 1)) * 0.5 * float32(height)))
	y1 := int(math32.Floor((1 - max(minY, -1)) * 0.5 * float32(height)))
	x1, y1 = min(x1, width-1), min(y1, height-1)

	span := float32(max(x1-x0, y1-y0) + 1)
	level := 0
	if span > 4 {
		level = int(math32.Ceil(math32.Log2(span / 4)))
	}
	level = min(level, len(h.levels)-1)

	lw, lh := h.widths[level], h.heights[level]
	texels := h.levels[level]
	far := float32(0)
	for y := min(y0>>level, lh-1); y <= min(y1>>level, lh-1); y++ {
		for x := min(x0>>level, lw-1); x <= min(x1>>level, lw-1); x++ {
			far = max(far, texels[x+y*lw])
		}
	}
	return minZ*0.5+0.5 <= far
}

func signOf(bit int) float32 {
	if bit != 0 {
		return 1
	}
	return -1
}

// CPUReadback is an HZBReadback that tests bounds against a CPU depth pyramid. It stands in for
// the GPU readback in headless runs and tests.
type CPUReadback struct {
	mu      sync.Mutex
	hzb     *HZB
	results []byte
	mapped  bool
}

// Ensure CPUReadback implements HZBReadback interface.
var _ HZBReadback = &CPUReadback{}

// NewCPUReadback creates a readback without a depth pyramid; every bounds tests visible until
// SetDepth is called.
func NewCPUReadback() *CPUReadback {
	return &CPUReadback{}
}

// SetDepth replaces the depth pyramid used by later submissions.
func (r *CPUReadback) SetDepth(h *HZB) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hzb = h
}

func (r *CPUReadback) Submit(viewProj mgl32.Mat4, bounds []HZBBound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mapped {
		return ErrStillMapped
	}
	if len(bounds) > HZBSizeX*HZBSizeY {
		return ErrHZBFull
	}
	results := make([]byte, HZBSizeX*HZBSizeY*4)
	for i, b := range bounds {
		if r.hzb != nil && !r.hzb.TestBounds(viewProj, b.Center, b.Extent) {
			continue
		}
		x, y := HZBResultTexel(uint32(i))
		results[4*(x+y*HZBSizeX)] = 0xff
	}
	r.results = results
	return nil
}

func (r *CPUReadback) Map() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		return nil, ErrNotMapped
	}
	r.mapped = true
	return r.results, nil
}

func (r *CPUReadback) Unmap() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mapped = false
}
