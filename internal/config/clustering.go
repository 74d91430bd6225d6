package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical clustering defaults file.
// The Get* fallbacks below mirror its values.
const DefaultConfigPath = "config/clustering.defaults.json"

// ClusteringConfig holds the tuning parameters of a training or prediction
// run. Every field is optional; the Get* methods supply defaults for fields
// the JSON omits.
type ClusteringConfig struct {
	// Reducer params
	NComponents *int `json:"n_components,omitempty"`

	// Cluster engine params
	NClusters     *int    `json:"n_clusters,omitempty"`
	MaxIterations *int    `json:"max_iterations,omitempty"`
	NInit         *int    `json:"n_init,omitempty"`
	Seed          *uint64 `json:"seed,omitempty"`
	Workers       *int    `json:"workers,omitempty"` // 0 runs restarts sequentially

	// Preprocessing params
	ReferenceHeight   *float64 `json:"reference_height,omitempty"` // metres
	MinReferenceSpeed *float64 `json:"min_reference_speed,omitempty"`

	// Run params
	Timeout *string `json:"timeout,omitempty"` // duration string like "10m"; empty means none
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }
func ptrString(v string) *string    { return &v }

// EmptyClusteringConfig returns a ClusteringConfig with all fields nil.
func EmptyClusteringConfig() *ClusteringConfig {
	return &ClusteringConfig{}
}

// LoadClusteringConfig loads a ClusteringConfig from a JSON file.
// The file must have a .json extension and be at most 1MB. Fields omitted
// from the file fall back to the Get* defaults, so partial configs are safe.
func LoadClusteringConfig(path string) (*ClusteringConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyClusteringConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. Panics if the file
// cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *ClusteringConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadClusteringConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set. Cross-field limits that depend on
// the data (components vs samples, clusters vs samples) are checked by the
// reducer and cluster engine.
func (c *ClusteringConfig) Validate() error {
	if c.NComponents != nil && *c.NComponents < 1 {
		return fmt.Errorf("n_components must be at least 1, got %d", *c.NComponents)
	}
	if c.NClusters != nil && *c.NClusters < 1 {
		return fmt.Errorf("n_clusters must be at least 1, got %d", *c.NClusters)
	}
	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", *c.MaxIterations)
	}
	if c.NInit != nil && *c.NInit < 1 {
		return fmt.Errorf("n_init must be at least 1, got %d", *c.NInit)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.ReferenceHeight != nil && *c.ReferenceHeight < 0 {
		return fmt.Errorf("reference_height must be non-negative, got %f", *c.ReferenceHeight)
	}
	if c.MinReferenceSpeed != nil && *c.MinReferenceSpeed < 0 {
		return fmt.Errorf("min_reference_speed must be non-negative, got %f", *c.MinReferenceSpeed)
	}
	if c.Timeout != nil && *c.Timeout != "" {
		d, err := time.ParseDuration(*c.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout '%s': %w", *c.Timeout, err)
		}
		if d < 0 {
			return fmt.Errorf("timeout must be non-negative, got %s", d)
		}
	}
	return nil
}

// GetNComponents returns the n_components value or the default.
func (c *ClusteringConfig) GetNComponents() int {
	if c.NComponents == nil {
		return 5
	}
	return *c.NComponents
}

// GetNClusters returns the n_clusters value or the default.
func (c *ClusteringConfig) GetNClusters() int {
	if c.NClusters == nil {
		return 8
	}
	return *c.NClusters
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *ClusteringConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 300
	}
	return *c.MaxIterations
}

// GetNInit returns the n_init value or the default.
func (c *ClusteringConfig) GetNInit() int {
	if c.NInit == nil {
		return 10
	}
	return *c.NInit
}

func (c *ClusteringConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}

func (c *ClusteringConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetReferenceHeight returns the reference_height value or the default.
func (c *ClusteringConfig) GetReferenceHeight() float64 {
	if c.ReferenceHeight == nil {
		return 100
	}
	return *c.ReferenceHeight
}

// GetMinReferenceSpeed returns the min_reference_speed value or the default.
func (c *ClusteringConfig) GetMinReferenceSpeed() float64 {
	if c.MinReferenceSpeed == nil {
		return 0
	}
	return *c.MinReferenceSpeed
}

// GetTimeout parses the timeout. Zero means no deadline.
func (c *ClusteringConfig) GetTimeout() time.Duration {
	if c.Timeout == nil || *c.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.Timeout)
	if err != nil {
		return 0 // default on parse error
	}
	return d
}
