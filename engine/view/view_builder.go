package view

import (
	"github.com/Carmen-Shannon/oxy-vis/engine/culling"
	"github.com/go-gl/mathgl/mgl32"
)

// ViewBuilderOption configures a View at creation.
type ViewBuilderOption func(*View)

// NewView creates a view at a position in its family. Without WithMatrices the view sits at the
// origin looking down -Z with a 90 degree perspective.
//
// Parameters:
//   - index: the view's position in the family
//   - options: view settings
//
// Returns:
//   - *View: the new view
func NewView(index int, options ...ViewBuilderOption) *View {
	v := &View{
		index:      index,
		width:      1280,
		height:     720,
		StereoPair: -1,
	}
	v.SetMatrices(
		mgl32.LookAtV(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}),
		mgl32.Perspective(mgl32.DegToRad(90), float32(v.width)/float32(v.height), 0.1, 10000),
	)
	for _, option := range options {
		option(v)
	}
	return v
}

// WithMatrices sets the view and projection matrices.
//
// Parameters:
//   - viewMatrix: the world to view transform
//   - projMatrix: the view to clip transform
//
// Returns:
//   - ViewBuilderOption: a function that sets the matrices
func WithMatrices(viewMatrix, projMatrix mgl32.Mat4) ViewBuilderOption {
	return func(v *View) {
		v.SetMatrices(viewMatrix, projMatrix)
	}
}

// WithViewport sets the view rectangle in pixels.
func WithViewport(width, height int) ViewBuilderOption {
	return func(v *View) {
		v.SetViewport(width, height)
	}
}

// WithHiddenPrimitives hides primitives in this view.
func WithHiddenPrimitives(indices ...int) ViewBuilderOption {
	return func(v *View) {
		if v.Hidden == nil {
			v.Hidden = make(map[int]struct{}, len(indices))
		}
		for _, i := range indices {
			v.Hidden[i] = struct{}{}
		}
	}
}

// WithShowOnlyPrimitives restricts the view to the given primitives.
func WithShowOnlyPrimitives(indices ...int) ViewBuilderOption {
	return func(v *View) {
		if v.ShowOnly == nil {
			v.ShowOnly = make(map[int]struct{}, len(indices))
		}
		for _, i := range indices {
			v.ShowOnly[i] = struct{}{}
		}
	}
}

// WithCustomQuery registers an external visibility source.
func WithCustomQuery(q culling.VisibilityQuery) ViewBuilderOption {
	return func(v *View) {
		v.CustomQuery = q
	}
}

// WithStereoPair pairs the view with another eye of the family. Both views draw the union of
// their visible primitives.
func WithStereoPair(other int) ViewBuilderOption {
	return func(v *View) {
		v.StereoPair = other
	}
}

// WithState attaches persistent state, for example one kept from a previous family.
func WithState(s *State) ViewBuilderOption {
	return func(v *View) {
		v.State = s
	}
}
