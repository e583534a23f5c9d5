package view

import (
	"errors"
	"testing"

	"github.com/Carmen-Shannon/oxy-vis/engine/config"
	"github.com/Carmen-Shannon/oxy-vis/engine/lod"
	"github.com/Carmen-Shannon/oxy-vis/engine/meshpass"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetMatricesDerivesOrigin(t *testing.T) {
	eye := mgl32.Vec3{3, 4, 5}
	v := NewView(0, WithMatrices(
		mgl32.LookAtV(eye, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0}),
		mgl32.Perspective(mgl32.DegToRad(60), 1, 0.1, 100),
	))

	assert.InDelta(t, eye.X(), v.Origin().X(), 1e-4)
	assert.InDelta(t, eye.Y(), v.Origin().Y(), 1e-4)
	assert.InDelta(t, eye.Z(), v.Origin().Z(), 1e-4)
	assert.Positive(t, v.ScreenMultiple())
	assert.Equal(t, v.ProjectionMatrix().Mul4(v.ViewMatrix()), v.ViewProjection())
}

func TestNewViewDefaults(t *testing.T) {
	v := NewView(2, WithViewport(640, 480), WithHiddenPrimitives(4, 5), WithShowOnlyPrimitives(1))

	assert.Equal(t, 2, v.Index())
	assert.Equal(t, -1, v.StereoPair)
	w, h := v.Size()
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)
	assert.Contains(t, v.Hidden, 4)
	assert.Contains(t, v.Hidden, 5)
	assert.Contains(t, v.ShowOnly, 1)
	assert.InDelta(t, 0, v.Origin().Len(), 1e-6)
}

func TestBeginFrameResetsOutputs(t *testing.T) {
	v := NewView(0)
	v.BeginFrame(1, 0.5, 4)
	require.Len(t, v.PassMasks, 4)

	v.PassMasks[2].Set(meshpass.BasePass)
	v.StaticMeshes[meshpass.BasePass] = append(v.StaticMeshes[meshpass.BasePass], MeshRef{Primitive: 2})
	v.TranslucentPrimitives = append(v.TranslucentPrimitives, 2)
	v.FadeUniforms = map[int]lod.FadeTimeScaleBias{2: {Scale: 1}}
	v.Arena.NewCommand(meshpass.MeshDrawCommand{})

	v.BeginFrame(2, 0.6, 8)
	assert.Equal(t, uint32(2), v.FrameNumber())
	assert.InDelta(t, 0.6, v.Now(), 1e-6)
	require.Len(t, v.PassMasks, 8)
	for i := range v.PassMasks {
		assert.Zero(t, v.PassMasks[i])
	}
	assert.Empty(t, v.StaticMeshes[meshpass.BasePass])
	assert.Empty(t, v.TranslucentPrimitives)
	assert.Nil(t, v.FadeUniforms)

	v.EndFrame()
	assert.Equal(t, 0, v.Arena.NumCommands())
}

func TestFamilyValidate(t *testing.T) {
	tests := []struct {
		name  string
		views func() []*View
		ok    bool
	}{
		{
			name:  "single view",
			views: func() []*View { return []*View{NewView(0)} },
			ok:    true,
		},
		{
			name: "stereo pair",
			views: func() []*View {
				return []*View{NewView(0, WithStereoPair(1)), NewView(1, WithStereoPair(0))}
			},
			ok: true,
		},
		{
			name: "one sided pair",
			views: func() []*View {
				return []*View{NewView(0, WithStereoPair(1)), NewView(1)}
			},
		},
		{
			name:  "paired with itself",
			views: func() []*View { return []*View{NewView(0, WithStereoPair(0))} },
		},
		{
			name:  "pair out of range",
			views: func() []*View { return []*View{NewView(0, WithStereoPair(3))} },
		},
		{
			name:  "no views",
			views: func() []*View { return nil },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewFamily(1, 0, tt.views()...).Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidFamily), "got %v", err)
		})
	}
}

func TestFamilyValidateNilView(t *testing.T) {
	f := &Family{Views: []*View{NewView(0), nil}}
	assert.ErrorIs(t, f.Validate(), ErrInvalidFamily)
}

func TestFamilyOcclusionStrategy(t *testing.T) {
	cfg := config.New(config.WithOcclusionStrategy(config.OcclusionHZB))
	f := NewFamily(1, 0, NewView(0), NewView(1))
	f.OcclusionStrategies = map[int]config.OcclusionStrategy{1: config.OcclusionSoftware}

	assert.Equal(t, config.OcclusionHZB, f.OcclusionStrategy(0, cfg))
	assert.Equal(t, config.OcclusionSoftware, f.OcclusionStrategy(1, cfg))

	f.ShowFlags.DisableOcclusion = true
	assert.Equal(t, config.OcclusionNone, f.OcclusionStrategy(1, cfg))
}
