// Package config holds the immutable tunables of the visibility pipeline. A Config is built once,
// either from functional options or from a TOML/YAML file, and threaded through every stage.
package config

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/go-gl/mathgl/mgl32"
)

// OcclusionStrategy selects which occlusion subsystem refines frustum visibility.
type OcclusionStrategy int

const (
	// OcclusionNone disables occlusion culling; every frustum-visible primitive is definitely unoccluded.
	OcclusionNone OcclusionStrategy = iota
	// OcclusionHardwareQueries issues GPU occlusion queries with multi-frame readback.
	OcclusionHardwareQueries
	// OcclusionHZB tests bounds against the previous frame's hierarchical depth buffer.
	OcclusionHZB
	// OcclusionSoftware rasterizes occluder proxies on the CPU one frame behind.
	OcclusionSoftware
)

// String returns the lowercase name used in config files.
func (s OcclusionStrategy) String() string {
	switch s {
	case OcclusionNone:
		return "none"
	case OcclusionHardwareQueries:
		return "hardware"
	case OcclusionHZB:
		return "hzb"
	case OcclusionSoftware:
		return "software"
	}
	return fmt.Sprintf("OcclusionStrategy(%d)", int(s))
}

// ParseOcclusionStrategy converts a config file name into an OcclusionStrategy.
func ParseOcclusionStrategy(name string) (OcclusionStrategy, error) {
	for s := OcclusionNone; s <= OcclusionSoftware; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return OcclusionNone, fmt.Errorf("%w: unknown occlusion strategy %q", ErrInvalidConfig, name)
}

// EarlyZPassMode controls which primitives are drawn into the depth pre-pass.
type EarlyZPassMode int

const (
	// EarlyZNone disables the depth pre-pass.
	EarlyZNone EarlyZPassMode = iota
	// EarlyZOpaqueLarge draws opaque primitives whose screen radius passes the threshold.
	EarlyZOpaqueLarge
	// EarlyZFull draws every opaque and masked primitive regardless of size.
	EarlyZFull
)

// TranslucentSortPolicy chooses the distance metric baked into translucent sort keys.
type TranslucentSortPolicy int

const (
	// SortByDistance sorts by distance from the view origin.
	SortByDistance TranslucentSortPolicy = iota
	// SortByProjectedZ sorts by view-space depth.
	SortByProjectedZ
	// SortAlongAxis sorts by distance along TranslucentSortAxis.
	SortAlongAxis
)

// ErrInvalidConfig is returned when a loaded or built Config fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full set of pipeline tunables. Treat it as a value: stages copy what they need
// and never write back.
type Config struct {
	// Workers is the number of worker goroutines used by parallel stages.
	Workers int `toml:"workers" yaml:"workers"`
	// WorkerQueueSize is the task queue depth of the worker pool.
	WorkerQueueSize int `toml:"worker_queue_size" yaml:"worker_queue_size"`
	// DebugLogging enables per-frame stage logging.
	DebugLogging bool `toml:"debug_logging" yaml:"debug_logging"`

	// Frustum culling.
	FrustumCullWordsPerTask int     `toml:"frustum_cull_words_per_task" yaml:"frustum_cull_words_per_task"`
	UseSphereTest           bool    `toml:"use_sphere_test" yaml:"use_sphere_test"`
	FrustumCullDisabled     bool    `toml:"frustum_cull_disabled" yaml:"frustum_cull_disabled"`
	MaxDrawDistanceScale    float32 `toml:"max_draw_distance_scale" yaml:"max_draw_distance_scale"`

	// Distance fade and LOD.
	FadeRadius             float32 `toml:"fade_radius" yaml:"fade_radius"`
	FadeTime               float32 `toml:"fade_time" yaml:"fade_time"`
	DisableLODFade         bool    `toml:"disable_lod_fade" yaml:"disable_lod_fade"`
	DitheredLODTransitions bool    `toml:"dithered_lod_transitions" yaml:"dithered_lod_transitions"`
	HLODSyncInterval       uint32  `toml:"hlod_sync_interval" yaml:"hlod_sync_interval"`
	LODDistanceFactor      float32 `toml:"lod_distance_factor" yaml:"lod_distance_factor"`
	TemporalLODLag         float32 `toml:"temporal_lod_lag" yaml:"temporal_lod_lag"`
	MinLOD                 int     `toml:"min_lod" yaml:"min_lod"`
	ForcedLOD              int     `toml:"forced_lod" yaml:"forced_lod"`

	// Occlusion.
	OcclusionStrategy            OcclusionStrategy `toml:"-" yaml:"-"`
	NumBufferedOcclusionFrames   int               `toml:"num_buffered_occlusion_frames" yaml:"num_buffered_occlusion_frames"`
	MaxQueriesPerFrame           int               `toml:"max_queries_per_frame" yaml:"max_queries_per_frame"`
	MaxGroupedPrimitivesPerQuery int               `toml:"max_grouped_primitives_per_query" yaml:"max_grouped_primitives_per_query"`
	AllowApproximateOcclusion    bool              `toml:"allow_approximate_occlusion" yaml:"allow_approximate_occlusion"`
	MaxOcclusionPixelsFraction   float32           `toml:"max_occlusion_pixels_fraction" yaml:"max_occlusion_pixels_fraction"`
	NeverOcclusionTestDistance   float32           `toml:"never_occlusion_test_distance" yaml:"never_occlusion_test_distance"`
	OcclusionSlop                float32           `toml:"occlusion_slop" yaml:"occlusion_slop"`
	OcclusionBoundsExpansion     float32           `toml:"occlusion_bounds_expansion" yaml:"occlusion_bounds_expansion"`
	OcclusionHistoryEvictSeconds float32           `toml:"occlusion_history_evict_seconds" yaml:"occlusion_history_evict_seconds"`
	RoundRobinOcclusion          bool              `toml:"round_robin_occlusion" yaml:"round_robin_occlusion"`

	// Software occlusion.
	SoftwareOcclusionMaxOccluders        int     `toml:"software_occlusion_max_occluders" yaml:"software_occlusion_max_occluders"`
	SoftwareOcclusionMinOccluderRadius   float32 `toml:"software_occlusion_min_occluder_radius" yaml:"software_occlusion_min_occluder_radius"`
	SoftwareOcclusionMinOccludeeDistance float32 `toml:"software_occlusion_min_occludee_distance" yaml:"software_occlusion_min_occludee_distance"`

	// Relevance.
	RelevancePacketSize            int            `toml:"relevance_packet_size" yaml:"relevance_packet_size"`
	EarlyZPassMode                 EarlyZPassMode `toml:"early_z_pass_mode" yaml:"early_z_pass_mode"`
	MinScreenRadiusForDepthPrepass float32        `toml:"min_screen_radius_for_depth_prepass" yaml:"min_screen_radius_for_depth_prepass"`
	MinScreenRadiusForCSMDepth     float32        `toml:"min_screen_radius_for_csm_depth" yaml:"min_screen_radius_for_csm_depth"`

	// Mesh draw commands.
	DynamicInstancing     bool                  `toml:"dynamic_instancing" yaml:"dynamic_instancing"`
	TranslucentSortPolicy TranslucentSortPolicy `toml:"translucent_sort_policy" yaml:"translucent_sort_policy"`
	TranslucentSortAxis   mgl32.Vec3            `toml:"translucent_sort_axis" yaml:"translucent_sort_axis"`
}

// Default returns the baseline configuration.
//
// Returns:
//   - Config: a config with every field set to its default value
func Default() Config {
	return Config{
		Workers:         max(runtime.NumCPU()-1, 1),
		WorkerQueueSize: 256,

		FrustumCullWordsPerTask: 128,
		UseSphereTest:           true,
		MaxDrawDistanceScale:    1,

		FadeRadius:        1000,
		FadeTime:          0.25,
		HLODSyncInterval:  2,
		LODDistanceFactor: 1,
		TemporalLODLag:    0.5,
		ForcedLOD:         -1,

		OcclusionStrategy:            OcclusionHardwareQueries,
		NumBufferedOcclusionFrames:   2,
		MaxQueriesPerFrame:           4096,
		MaxGroupedPrimitivesPerQuery: 8,
		AllowApproximateOcclusion:    true,
		MaxOcclusionPixelsFraction:   0.1,
		OcclusionSlop:                1,
		OcclusionHistoryEvictSeconds: 8,

		SoftwareOcclusionMaxOccluders:        150,
		SoftwareOcclusionMinOccluderRadius:   0.075,
		SoftwareOcclusionMinOccludeeDistance: 0,

		RelevancePacketSize:            128,
		EarlyZPassMode:                 EarlyZOpaqueLarge,
		MinScreenRadiusForDepthPrepass: 0.03,
		MinScreenRadiusForCSMDepth:     0.01,

		DynamicInstancing:     true,
		TranslucentSortPolicy: SortByDistance,
		TranslucentSortAxis:   mgl32.Vec3{0, -1, 0},
	}
}

// Validate reports the first field holding a value the pipeline cannot run with.
//
// Returns:
//   - error: an error wrapping ErrInvalidConfig, or nil
func (c Config) Validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalidConfig, c.Workers)
	case c.WorkerQueueSize < 1:
		return fmt.Errorf("%w: worker_queue_size must be at least 1, got %d", ErrInvalidConfig, c.WorkerQueueSize)
	case c.FrustumCullWordsPerTask < 1:
		return fmt.Errorf("%w: frustum_cull_words_per_task must be at least 1, got %d", ErrInvalidConfig, c.FrustumCullWordsPerTask)
	case c.MaxDrawDistanceScale <= 0:
		return fmt.Errorf("%w: max_draw_distance_scale must be positive, got %v", ErrInvalidConfig, c.MaxDrawDistanceScale)
	case c.FadeRadius < 0:
		return fmt.Errorf("%w: fade_radius must not be negative, got %v", ErrInvalidConfig, c.FadeRadius)
	case c.FadeTime <= 0:
		return fmt.Errorf("%w: fade_time must be positive, got %v", ErrInvalidConfig, c.FadeTime)
	case c.NumBufferedOcclusionFrames < 1:
		return fmt.Errorf("%w: num_buffered_occlusion_frames must be at least 1, got %d", ErrInvalidConfig, c.NumBufferedOcclusionFrames)
	case c.MaxGroupedPrimitivesPerQuery < 1:
		return fmt.Errorf("%w: max_grouped_primitives_per_query must be at least 1, got %d", ErrInvalidConfig, c.MaxGroupedPrimitivesPerQuery)
	case c.MaxOcclusionPixelsFraction <= 0 || c.MaxOcclusionPixelsFraction > 1:
		return fmt.Errorf("%w: max_occlusion_pixels_fraction must be in (0, 1], got %v", ErrInvalidConfig, c.MaxOcclusionPixelsFraction)
	case c.RelevancePacketSize < 1:
		return fmt.Errorf("%w: relevance_packet_size must be at least 1, got %d", ErrInvalidConfig, c.RelevancePacketSize)
	case c.HLODSyncInterval < 1:
		return fmt.Errorf("%w: hlod_sync_interval must be at least 1, got %d", ErrInvalidConfig, c.HLODSyncInterval)
	}
	return nil
}
