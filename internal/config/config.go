// Package config loads pipeline configuration from a YAML file with
// environment overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value on line %d", value.Line)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full pipeline configuration.
type Config struct {
	// GCP project and BigQuery dataset holding the ledger tables.
	ProjectID string `yaml:"project_id"`
	Dataset   string `yaml:"dataset"`

	// FailureRateThreshold aborts a batch when failed/attempted exceeds it.
	FailureRateThreshold float64 `yaml:"failure_rate_threshold"`

	// ReviewThreshold marks categorized records below this confidence for
	// manual review.
	ReviewThreshold float64 `yaml:"review_threshold"`

	Classifier ClassifierConfig `yaml:"classifier"`
	Cache      CacheConfig      `yaml:"cache"`
	Worker     WorkerConfig     `yaml:"worker"`
	Notion     NotionConfig     `yaml:"notion"`
}

// ClassifierConfig controls the external classifier and its cost guards.
type ClassifierConfig struct {
	Model        string   `yaml:"model"`
	MaxBatchSize int      `yaml:"max_batch_size"`
	MaxAttempts  int      `yaml:"max_attempts"`
	BaseBackoff  Duration `yaml:"base_backoff"`

	// MaxCalls external calls are allowed per Window; further records in
	// the batch fall back to "uncategorized".
	MaxCalls int      `yaml:"max_calls"`
	Window   Duration `yaml:"window"`

	// Categories is the taxonomy the classifier may choose from.
	Categories []string `yaml:"categories"`
}

// CacheConfig controls the local categorization cache.
type CacheConfig struct {
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`
}

// WorkerConfig controls the import worker service.
type WorkerConfig struct {
	BufferSize  int      `yaml:"buffer_size"`
	Concurrency int      `yaml:"concurrency"`
	ScanDir     string   `yaml:"scan_dir"`
	Interval    Duration `yaml:"interval"`
}

// NotionConfig enables the post-commit batch note in Notion.
type NotionConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Token      string `yaml:"token"`
	DatabaseID string `yaml:"database_id"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Dataset:              "finance",
		FailureRateThreshold: 0.05,
		ReviewThreshold:      0.6,
		Classifier: ClassifierConfig{
			Model:        "gemini-2.5-flash",
			MaxBatchSize: 20,
			MaxAttempts:  3,
			BaseBackoff:  Duration(time.Second),
			MaxCalls:     30,
			Window:       Duration(time.Minute),
			Categories: []string{
				"income", "housing", "utilities", "groceries", "dining",
				"transportation", "healthcare", "entertainment", "shopping",
				"travel", "investment", "uncategorized",
			},
		},
		Cache: CacheConfig{
			Path:       "category_cache.db",
			MaxEntries: 10000,
		},
		Worker: WorkerConfig{
			BufferSize:  100,
			Concurrency: 5,
			Interval:    Duration(15 * time.Minute),
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing path returns
// defaults plus environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config.Load: parse %q: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" && cfg.ProjectID == "" {
		cfg.ProjectID = v
	}
	if v := os.Getenv("NOTION_TOKEN"); v != "" {
		cfg.Notion.Token = v
	}
}

func (c *Config) validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("config: project_id is required (or set GOOGLE_CLOUD_PROJECT)")
	}
	if c.FailureRateThreshold < 0 || c.FailureRateThreshold > 1 {
		return fmt.Errorf("config: failure_rate_threshold %v out of range [0,1]", c.FailureRateThreshold)
	}
	if c.ReviewThreshold < 0 || c.ReviewThreshold > 1 {
		return fmt.Errorf("config: review_threshold %v out of range [0,1]", c.ReviewThreshold)
	}
	if c.Classifier.MaxBatchSize <= 0 {
		return fmt.Errorf("config: classifier.max_batch_size must be positive")
	}
	if c.Classifier.MaxAttempts <= 0 {
		return fmt.Errorf("config: classifier.max_attempts must be positive")
	}
	return nil
}
