package occlusion

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// PrecomputedVisibility is baked visibility over a uniform grid of cells. Each cell holds a bit
// table indexed by primitive visibility ID; a clear bit means the primitive cannot be seen from
// anywhere in the cell.
type PrecomputedVisibility struct {
	origin   mgl32.Vec3
	cellSize float32
	cells    map[[3]int32][]byte
}

// NewPrecomputedVisibility creates an empty grid.
//
// Parameters:
//   - origin: the world position of the corner of cell (0,0,0)
//   - cellSize: the cell edge length
//
// Returns:
//   - *PrecomputedVisibility: the grid
//   - error: cellSize is not positive
func NewPrecomputedVisibility(origin mgl32.Vec3, cellSize float32) (*PrecomputedVisibility, error) {
	if cellSize <= 0 {
		return nil, fmt.Errorf("precomputed visibility cell size must be positive, got %v", cellSize)
	}
	return &PrecomputedVisibility{origin: origin, cellSize: cellSize, cells: make(map[[3]int32][]byte)}, nil
}

// CellOf returns the cell containing a world position.
func (p *PrecomputedVisibility) CellOf(pos mgl32.Vec3) [3]int32 {
	rel := pos.Sub(p.origin).Mul(1 / p.cellSize)
	return [3]int32{int32(math32.Floor(rel.X())), int32(math32.Floor(rel.Y())), int32(math32.Floor(rel.Z()))}
}

// SetCell stores the bit table of a cell.
func (p *PrecomputedVisibility) SetCell(cell [3]int32, data []byte) {
	p.cells[cell] = data
}

// Lookup returns the bit table of the cell containing the view origin, or nil.
func (p *PrecomputedVisibility) Lookup(viewOrigin mgl32.Vec3) []byte {
	return p.cells[p.CellOf(viewOrigin)]
}

// PrecomputedVisible reads a visibility ID from a cell table. IDs outside the table are
// visible.
func PrecomputedVisible(data []byte, id int) bool {
	if id < 0 || id/8 >= len(data) {
		return true
	}
	return data[id/8]&(1<<uint(id%8)) != 0
}
