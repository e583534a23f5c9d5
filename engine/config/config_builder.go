package config

import "github.com/go-gl/mathgl/mgl32"

// ConfigBuilderOption is a functional option for configuring a Config.
// Use the With* functions to create options that are applied on top of Default().
type ConfigBuilderOption func(*Config)

// New creates a Config from the defaults with the provided options applied.
//
// Parameters:
//   - options: functional options overriding default values
//
// Returns:
//   - Config: the resulting configuration
func New(options ...ConfigBuilderOption) Config {
	c := Default()
	for _, option := range options {
		option(&c)
	}
	return c
}

// WithWorkers sets the number of worker goroutines used by parallel stages.
// Values below 1 are clamped to 1.
//
// Parameters:
//   - n: the number of workers
//
// Returns:
//   - ConfigBuilderOption: option function to apply
func WithWorkers(n int) ConfigBuilderOption {
	return func(c *Config) {
		c.Workers = max(n, 1)
	}
}

// WithDebugLogging enables or disables per-frame stage logging.
func WithDebugLogging(enabled bool) ConfigBuilderOption {
	return func(c *Config) {
		c.DebugLogging = enabled
	}
}

// WithOcclusionStrategy selects the default occlusion strategy for views that do not override it.
//
// Parameters:
//   - s: the occlusion strategy
//
// Returns:
//   - ConfigBuilderOption: option function to apply
func WithOcclusionStrategy(s OcclusionStrategy) ConfigBuilderOption {
	return func(c *Config) {
		c.OcclusionStrategy = s
	}
}

// WithFrustumCullWordsPerTask sets how many 64-bit visibility words each culling task owns.
func WithFrustumCullWordsPerTask(n int) ConfigBuilderOption {
	return func(c *Config) {
		c.FrustumCullWordsPerTask = max(n, 1)
	}
}

// WithSphereTest toggles the bounding sphere pre-test before the box test.
func WithSphereTest(enabled bool) ConfigBuilderOption {
	return func(c *Config) {
		c.UseSphereTest = enabled
	}
}

// WithFrustumCullDisabled marks every primitive frustum-visible. Distance culling still applies.
func WithFrustumCullDisabled(disabled bool) ConfigBuilderOption {
	return func(c *Config) {
		c.FrustumCullDisabled = disabled
	}
}

// WithMaxDrawDistanceScale scales every primitive's max draw distance.
func WithMaxDrawDistanceScale(scale float32) ConfigBuilderOption {
	return func(c *Config) {
		c.MaxDrawDistanceScale = scale
	}
}

// WithFadeRadius sets the distance band in which primitives fade instead of popping.
func WithFadeRadius(radius float32) ConfigBuilderOption {
	return func(c *Config) {
		c.FadeRadius = radius
	}
}

// WithFadeTime sets the duration in seconds of distance-cull and HLOD fades.
//
// Parameters:
//   - seconds: the fade duration
//
// Returns:
//   - ConfigBuilderOption: option function to apply
func WithFadeTime(seconds float32) ConfigBuilderOption {
	return func(c *Config) {
		c.FadeTime = seconds
	}
}

// WithDisableLODFade turns off distance-cull fading; primitives pop at their draw distance.
func WithDisableLODFade(disabled bool) ConfigBuilderOption {
	return func(c *Config) {
		c.DisableLODFade = disabled
	}
}

// WithDitheredLODTransitions enables cross-fading between adjacent LODs.
func WithDitheredLODTransitions(enabled bool) ConfigBuilderOption {
	return func(c *Config) {
		c.DitheredLODTransitions = enabled
	}
}

// WithForcedLOD forces every primitive to the given LOD index. Pass -1 to disable.
func WithForcedLOD(lod int) ConfigBuilderOption {
	return func(c *Config) {
		c.ForcedLOD = lod
	}
}

// WithMinLOD clamps LOD selection to at least the given index.
func WithMinLOD(lod int) ConfigBuilderOption {
	return func(c *Config) {
		c.MinLOD = max(lod, 0)
	}
}

// WithNumBufferedOcclusionFrames sets how many frames occlusion query results lag behind.
func WithNumBufferedOcclusionFrames(n int) ConfigBuilderOption {
	return func(c *Config) {
		c.NumBufferedOcclusionFrames = max(n, 1)
	}
}

// WithMaxQueriesPerFrame caps the individual occlusion queries issued per view per frame.
// Grouped queries are not counted.
func WithMaxQueriesPerFrame(n int) ConfigBuilderOption {
	return func(c *Config) {
		c.MaxQueriesPerFrame = n
	}
}

// WithAllowApproximateOcclusion toggles grouped queries and probabilistic re-querying.
func WithAllowApproximateOcclusion(enabled bool) ConfigBuilderOption {
	return func(c *Config) {
		c.AllowApproximateOcclusion = enabled
	}
}

// WithMaxOcclusionPixelsFraction sets the pixel fraction above which stably visible
// primitives stop being re-queried every frame.
func WithMaxOcclusionPixelsFraction(fraction float32) ConfigBuilderOption {
	return func(c *Config) {
		c.MaxOcclusionPixelsFraction = fraction
	}
}

// WithRoundRobinOcclusion alternates occlusion queries between the two eyes of a stereo pair.
func WithRoundRobinOcclusion(enabled bool) ConfigBuilderOption {
	return func(c *Config) {
		c.RoundRobinOcclusion = enabled
	}
}

// WithRelevancePacketSize sets the number of primitives per relevance task.
func WithRelevancePacketSize(n int) ConfigBuilderOption {
	return func(c *Config) {
		c.RelevancePacketSize = max(n, 1)
	}
}

// WithEarlyZPassMode selects which primitives enter the depth pre-pass.
func WithEarlyZPassMode(mode EarlyZPassMode) ConfigBuilderOption {
	return func(c *Config) {
		c.EarlyZPassMode = mode
	}
}

// WithDynamicInstancing toggles merging compatible adjacent draws into instanced draws.
func WithDynamicInstancing(enabled bool) ConfigBuilderOption {
	return func(c *Config) {
		c.DynamicInstancing = enabled
	}
}

// WithTranslucentSortPolicy sets the distance metric for translucent sort keys.
//
// Parameters:
//   - policy: the sort policy
//   - axis: the sort axis, only used by SortAlongAxis
//
// Returns:
//   - ConfigBuilderOption: option function to apply
func WithTranslucentSortPolicy(policy TranslucentSortPolicy, axis mgl32.Vec3) ConfigBuilderOption {
	return func(c *Config) {
		c.TranslucentSortPolicy = policy
		c.TranslucentSortAxis = axis
	}
}
