package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format identifies the encoding of a config file.
type Format int

const (
	// FormatTOML decodes with go-toml.
	FormatTOML Format = iota
	// FormatYAML decodes with yaml.v3.
	FormatYAML
)

// fileConfig is the on-disk shape of a Config. Enum fields that are friendlier as names are
// lifted out of the embedded Config.
type fileConfig struct {
	Config            `yaml:",inline"`
	OcclusionStrategy string `toml:"occlusion_strategy" yaml:"occlusion_strategy"`
}

// Load reads a config file, choosing the decoder from the file extension
// (.toml, .yaml or .yml). Fields missing from the file keep their Default() values.
//
// Parameters:
//   - path: path to the config file
//
// Returns:
//   - Config: the loaded and validated config
//   - error: error if the file cannot be read, decoded or validated
func Load(path string) (Config, error) {
	var format Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		format = FormatTOML
	case ".yaml", ".yml":
		format = FormatYAML
	default:
		return Config{}, fmt.Errorf("%w: unsupported config extension %q", ErrInvalidConfig, filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data, format)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes config bytes in the given format on top of Default() and validates the result.
//
// Parameters:
//   - data: encoded config
//   - format: the encoding of data
//
// Returns:
//   - Config: the decoded config
//   - error: error if decoding or validation fails
func Parse(data []byte, format Format) (Config, error) {
	def := Default()
	fc := fileConfig{Config: def, OcclusionStrategy: def.OcclusionStrategy.String()}

	var err error
	switch format {
	case FormatTOML:
		err = toml.Unmarshal(data, &fc)
	case FormatYAML:
		err = yaml.Unmarshal(data, &fc)
	default:
		return Config{}, fmt.Errorf("%w: unknown format %d", ErrInvalidConfig, format)
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	strategy, err := ParseOcclusionStrategy(fc.OcclusionStrategy)
	if err != nil {
		return Config{}, err
	}
	fc.Config.OcclusionStrategy = strategy

	if err := fc.Config.Validate(); err != nil {
		return Config{}, err
	}
	return fc.Config, nil
}

// Marshal encodes a Config in the given format, suitable for Parse.
//
// Parameters:
//   - c: the config to encode
//   - format: target encoding
//
// Returns:
//   - []byte: encoded config
//   - error: error if encoding fails
func Marshal(c Config, format Format) ([]byte, error) {
	fc := fileConfig{Config: c, OcclusionStrategy: c.OcclusionStrategy.String()}
	switch format {
	case FormatTOML:
		return toml.Marshal(fc)
	case FormatYAML:
		return yaml.Marshal(fc)
	}
	return nil, fmt.Errorf("%w: unknown format %d", ErrInvalidConfig, format)
}
