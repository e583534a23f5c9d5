package occlusion

import (
	"cmp"
	"math"
	"slices"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	binWidth = 64
	binCount = 6

	// SoftwareFramebufferWidth and SoftwareFramebufferHeight are the dimensions of the coverage
	// buffer occluders are rasterized into.
	SoftwareFramebufferWidth  = binWidth * binCount
	SoftwareFramebufferHeight = 256
)

const (
	clippedLeft   = 1 << 0
	clippedRight  = 1 << 1
	clippedTop    = 1 << 2
	clippedBottom = 1 << 3
	clippedNear   = 1 << 4
)

type screenPosition struct {
	X, Y int32
}

type screenTriangle struct {
	V [3]screenPosition
}

// coverageBin is one 64 pixel wide column of the coverage buffer, one bit per pixel.
type coverageBin struct {
	rows [SoftwareFramebufferHeight]uint64
}

type binnedTriangle struct {
	index int
	depth float32
}

type occluderMesh struct {
	localToWorld mgl32.Mat4
	vertices     []mgl32.Vec3
	indices      []uint16
}

type occludeeBox struct {
	primitive int
	min, max  mgl32.Vec3
}

// SoftwareSceneData is the snapshot a software occlusion job works on. It is gathered on the
// orchestrating goroutine and owned by the job afterwards.
type SoftwareSceneData struct {
	ViewProj  mgl32.Mat4
	occluders []occluderMesh
	occludees []occludeeBox
}

// AddOccluder adds a triangle mesh that hides what is behind it. The slices are read by the
// background job and must not be modified until it is joined.
func (d *SoftwareSceneData) AddOccluder(localToWorld mgl32.Mat4, vertices []mgl32.Vec3, indices []uint16) {
	d.occluders = append(d.occluders, occluderMesh{localToWorld: localToWorld, vertices: vertices, indices: indices})
}

// AddOccludee adds the world-space box of a primitive that may be hidden.
func (d *SoftwareSceneData) AddOccludee(primitive int, min, max mgl32.Vec3) {
	d.occludees = append(d.occludees, occludeeBox{primitive: primitive, min: min, max: max})
}

// NumOccluders returns the number of occluder meshes.
func (d *SoftwareSceneData) NumOccluders() int {
	return len(d.occluders)
}

// NumOccludees returns the number of occludee boxes.
func (d *SoftwareSceneData) NumOccludees() int {
	return len(d.occludees)
}

// SoftwareResults is the outcome of one software occlusion frame.
type SoftwareResults struct {
	// Visibility maps every occludee primitive to whether any part of it may be visible.
	Visibility map[int]bool
	// NumOccluderTriangles counts rasterized occluder triangles.
	NumOccluderTriangles int
	// NumOccludees counts tested occludees.
	NumOccludees int

	bins [binCount]coverageBin
}

// Covered reports whether an occluder covered a pixel of the coverage buffer.
func (r *SoftwareResults) Covered(x, y int) bool {
	if x < 0 || x >= SoftwareFramebufferWidth || y < 0 || y >= SoftwareFramebufferHeight {
		return false
	}
	return r.bins[x/binWidth].rows[y]&(1<<uint(x%binWidth)) != 0
}

type softwareFrame struct {
	triangles []screenTriangle
	occludee  []bool
	primitive []int
	bins      [binCount][]binnedTriangle
}

func (f *softwareFrame) addTriangle(tri screenTriangle, depth float32, primitive int, occludee bool) {
	minX := min(tri.V[0].X, tri.V[1].X, tri.V[2].X) / binWidth
	maxX := max(tri.V[0].X, tri.V[1].X, tri.V[2].X) / binWidth
	binMin := max(int(minX), 0)
	binMax := min(int(maxX), binCount-1)
	if binMin > binMax {
		return
	}

	index := len(f.triangles)
	f.triangles = append(f.triangles, tri)
	f.occludee = append(f.occludee, occludee)
	f.primitive = append(f.primitive, primitive)
	for b := binMin; b <= binMax; b++ {
		f.bins[b] = append(f.bins[b], binnedTriangle{index: index, depth: depth})
	}
}

func clipFlags(v mgl32.Vec4) uint8 {
	var flags uint8
	if v.X() < -v.W() {
		flags |= clippedLeft
	}
	if v.X() > v.W() {
		flags |= clippedRight
	}
	if v.Y() < -v.W() {
		flags |= clippedBottom
	}
	if v.Y() > v.W() {
		flags |= clippedTop
	}
	if v.Z() < -v.W() {
		flags |= clippedNear
	}
	return flags
}

func roundToInt(x float32) int32 {
	return int32(math32.Floor(x + 0.5))
}

// toScreen maps a clip-space vertex in front of the near plane to the coverage buffer.
func toScreen(v mgl32.Vec4) (screenPosition, float32) {
	inv := 1 / v.W()
	x := (v.X()*inv + 1) * 0.5 * SoftwareFramebufferWidth
	y := (v.Y()*inv + 1) * 0.5 * SoftwareFramebufferHeight
	return screenPosition{X: roundToInt(x), Y: roundToInt(y)}, v.Z() * inv
}

// clipToNear intersects the edge a-b with the near plane z = -w.
func clipToNear(a, b mgl32.Vec4) mgl32.Vec4 {
	da := a.Z() + a.W()
	db := b.Z() + b.W()
	t := da / (da - db)
	return a.Add(b.Sub(a).Mul(t))
}

// clipTriangleToNear returns the triangles left after clipping against the near plane.
func clipTriangleToNear(v [3]mgl32.Vec4, flags [3]uint8) [][3]mgl32.Vec4 {
	var inside, outside []int
	for i := range 3 {
		if flags[i]&clippedNear != 0 {
			outside = append(outside, i)
		} else {
			inside = append(inside, i)
		}
	}
	switch len(inside) {
	case 3:
		return [][3]mgl32.Vec4{v}
	case 2:
		// keep the winding of the input
		o := outside[0]
		a, b := v[(o+1)%3], v[(o+2)%3]
		pa := clipToNear(v[o], a)
		pb := clipToNear(v[o], b)
		return [][3]mgl32.Vec4{{pa, a, b}, {pa, b, pb}}
	case 1:
		i := inside[0]
		next, prev := v[(i+1)%3], v[(i+2)%3]
		return [][3]mgl32.Vec4{{v[i], clipToNear(v[i], next), clipToNear(v[i], prev)}}
	}
	return nil
}

// addOccluderTriangle sets up a front-facing clip-space triangle as an occluder. Occluders are
// binned at their farthest depth.
func (f *softwareFrame) addOccluderTriangle(v [3]mgl32.Vec4) bool {
	var tri screenTriangle
	depth := float32(-1)
	for i := range 3 {
		p, z := toScreen(v[i])
		tri.V[i] = p
		depth = max(depth, z)
	}

	a, b, c := tri.V[0], tri.V[1], tri.V[2]
	if (b.X-a.X)*(c.Y-a.Y)-(b.Y-a.Y)*(c.X-a.X) <= 0 {
		return false
	}

	slices.SortFunc(tri.V[:], func(p, q screenPosition) int { return cmp.Compare(p.Y, q.Y) })
	if tri.V[0].Y >= SoftwareFramebufferHeight || tri.V[2].Y < 0 {
		return false
	}
	f.addTriangle(tri, depth, -1, false)
	return true
}

// addOccluder transforms, clips and bins an occluder mesh.
func (f *softwareFrame) addOccluder(mesh occluderMesh, viewProj mgl32.Mat4) int {
	localToClip := viewProj.Mul4(mesh.localToWorld)
	clip := make([]mgl32.Vec4, len(mesh.vertices))
	flags := make([]uint8, len(mesh.vertices))
	for i, v := range mesh.vertices {
		clip[i] = localToClip.Mul4x1(v.Vec4(1))
		flags[i] = clipFlags(clip[i])
	}

	added := 0
	for i := 0; i+2 < len(mesh.indices); i += 3 {
		i0, i1, i2 := int(mesh.indices[i]), int(mesh.indices[i+1]), int(mesh.indices[i+2])
		if i0 >= len(clip) || i1 >= len(clip) || i2 >= len(clip) {
			continue
		}
		tf := [3]uint8{flags[i0], flags[i1], flags[i2]}
		if tf[0]&tf[1]&tf[2] != 0 {
			continue
		}
		for _, t := range clipTriangleToNear([3]mgl32.Vec4{clip[i0], clip[i1], clip[i2]}, tf) {
			if f.addOccluderTriangle(t) {
				added++
			}
		}
	}
	return added
}

// addOccludee projects a box to a screen rectangle binned at its closest depth. Boxes crossing
// the near plane are visible and boxes off screen are hidden without rasterizing anything.
func (f *softwareFrame) addOccludee(box occludeeBox, viewProj mgl32.Mat4, visibility map[int]bool) {
	minScreen := mgl32.Vec2{math.MaxFloat32, math.MaxFloat32}
	maxScreen := mgl32.Vec2{-math.MaxFloat32, -math.MaxFloat32}
	depth := float32(math.MaxFloat32)
	for i := range 8 {
		corner := mgl32.Vec3{
			selectComponent(i&1, box.min.X(), box.max.X()),
			selectComponent(i&2, box.min.Y(), box.max.Y()),
			selectComponent(i&4, box.min.Z(), box.max.Z()),
		}
		clip := viewProj.Mul4x1(corner.Vec4(1))
		if clip.W() <= 0 || clip.Z() < -clip.W() {
			visibility[box.primitive] = true
			return
		}
		inv := 1 / clip.W()
		x := (clip.X()*inv + 1) * 0.5 * SoftwareFramebufferWidth
		y := (clip.Y()*inv + 1) * 0.5 * SoftwareFramebufferHeight
		minScreen = mgl32.Vec2{min(minScreen.X(), x), min(minScreen.Y(), y)}
		maxScreen = mgl32.Vec2{max(maxScreen.X(), x), max(maxScreen.Y(), y)}
		depth = min(depth, clip.Z()*inv)
	}

	minX := max(int32(minScreen.X()+0.5), 0)
	minY := max(int32(minScreen.Y()+0.5), 0)
	maxX := min(int32(maxScreen.X()+0.5), SoftwareFramebufferWidth-1)
	maxY := min(int32(maxScreen.Y()+0.5), SoftwareFramebufferHeight-1)
	if minX > maxX || minY > maxY {
		if _, ok := visibility[box.primitive]; !ok {
			visibility[box.primitive] = false
		}
		return
	}

	tri := screenTriangle{V: [3]screenPosition{{minX, minY}, {maxX, maxY}, {minX, maxY}}}
	if _, ok := visibility[box.primitive]; !ok {
		visibility[box.primitive] = false
	}
	f.addTriangle(tri, depth, box.primitive, true)
}

func selectComponent(bit int, lo, hi float32) float32 {
	if bit != 0 {
		return hi
	}
	return lo
}

// binRowMask returns the coverage bits of the pixel span [x0, x1] inside a bin.
func binRowMask(binMinX int32, x0, x1 float32) uint64 {
	lo := roundToInt(x0) - binMinX
	hi := roundToInt(x1) - binMinX
	if lo >= binWidth || hi < 0 {
		return 0
	}
	lo = max(lo, 0)
	hi = min(hi, binWidth-1)
	n := hi - lo + 1
	if n <= 0 {
		return 0
	}
	if n == binWidth {
		return ^uint64(0)
	}
	return ((uint64(1) << uint(n)) - 1) << uint(lo)
}

func rasterizeHalf(x0, x1, dx0, dx1 float32, row0, row1 int32, rows *[SoftwareFramebufferHeight]uint64, binMinX int32) {
	for row := row0; row <= row1; row++ {
		rows[row] |= binRowMask(binMinX, x0, x1)
		x0 += dx0
		x1 += dx1
	}
}

// rasterizeOccluder fills a triangle whose vertices are sorted by Y into one bin, splitting it
// at the middle vertex.
func rasterizeOccluder(tri screenTriangle, rows *[SoftwareFramebufferHeight]uint64, binMinX int32) {
	a, b, c := tri.V[0], tri.V[1], tri.V[2]
	rowMin := max(a.Y, 0)
	rowMax := min(c.Y, SoftwareFramebufferHeight-1)
	rowS, rowE := rowMin, rowMin
	drawn := false

	if b.Y-rowMin > 0 {
		rowE = min(rowMax, b.Y)
		dx0 := float32(b.X-a.X) / float32(b.Y-a.Y)
		dx1 := float32(c.X-a.X) / float32(c.Y-a.Y)
		x0 := float32(a.X) + dx0*float32(rowS-a.Y)
		x1 := float32(a.X) + dx1*float32(rowS-a.Y)
		if dx0 > dx1 {
			x0, x1 = x1, x0
			dx0, dx1 = dx1, dx0
		}
		rasterizeHalf(x0, x1, dx0, dx1, rowS, rowE, rows, binMinX)
		rowS = rowE + 1
		drawn = true
	}

	if rowMax-rowS > 0 {
		dx0 := float32(c.X-a.X) / float32(c.Y-a.Y)
		dx1 := float32(c.X-b.X) / float32(c.Y-b.Y)
		x0 := float32(a.X) + dx0*float32(rowS-a.Y)
		x1 := float32(b.X) + dx1*float32(rowS-b.Y)
		if x0 > x1 {
			x0, x1 = x1, x0
			dx0, dx1 = dx1, dx0
		}
		rasterizeHalf(x0, x1, dx0, dx1, rowS, rowMax, rows, binMinX)
		drawn = true
	}

	if !drawn && rowMin <= rowMax {
		// degenerate triangle along one row
		lo := float32(min(a.X, b.X, c.X))
		hi := float32(max(a.X, b.X, c.X))
		rows[rowMin] |= binRowMask(binMinX, lo, hi)
	}
}

// testOccludee reports whether any pixel of the occludee rectangle inside the bin is not
// covered yet.
func testOccludee(tri screenTriangle, rows *[SoftwareFramebufferHeight]uint64, binMinX int32) bool {
	x0 := max(tri.V[0].X-binMinX, 0)
	x1 := min(tri.V[1].X-binMinX, binWidth-1)
	if x0 > x1 {
		return false
	}
	n := x1 - x0 + 1
	mask := ^uint64(0)
	if n < binWidth {
		mask = ((uint64(1) << uint(n)) - 1) << uint(x0)
	}
	for row := tri.V[0].Y; row <= tri.V[2].Y; row++ {
		if rows[row]&mask != mask {
			return true
		}
	}
	return false
}

// ProcessSoftwareOcclusion rasterizes the occluders of a frame into the coverage buffer and
// tests every occludee against the occluders in front of it. Each bin walks its triangles
// closest first, so an occludee only sees occluders that are entirely nearer than its closest
// point.
//
// Parameters:
//   - data: the frame snapshot
//
// Returns:
//   - *SoftwareResults: per-primitive visibility and counters
func ProcessSoftwareOcclusion(data *SoftwareSceneData) *SoftwareResults {
	res := &SoftwareResults{Visibility: make(map[int]bool, len(data.occludees))}
	frame := &softwareFrame{}

	for _, mesh := range data.occluders {
		res.NumOccluderTriangles += frame.addOccluder(mesh, data.ViewProj)
	}
	for _, box := range data.occludees {
		frame.addOccludee(box, data.ViewProj, res.Visibility)
	}
	res.NumOccludees = len(data.occludees)

	for b := range binCount {
		tris := frame.bins[b]
		slices.SortStableFunc(tris, func(p, q binnedTriangle) int {
			if c := cmp.Compare(p.depth, q.depth); c != 0 {
				return c
			}
			// an occludee is never hidden by an occluder at its own depth
			switch {
			case frame.occludee[p.index] && !frame.occludee[q.index]:
				return -1
			case !frame.occludee[p.index] && frame.occludee[q.index]:
				return 1
			}
			return 0
		})
		binMinX := int32(b * binWidth)
		rows := &res.bins[b].rows
		for _, t := range tris {
			tri := frame.triangles[t.index]
			if !frame.occludee[t.index] {
				rasterizeOccluder(tri, rows, binMinX)
				continue
			}
			p := frame.primitive[t.index]
			if testOccludee(tri, rows, binMinX) {
				res.Visibility[p] = true
			}
		}
	}
	return res
}
