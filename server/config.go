package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/liber/bookembed"
	"github.com/hazyhaar/liber/indexer"
	"github.com/hazyhaar/liber/ingest"
	"github.com/hazyhaar/liber/query"
)

// Config holds the full service configuration.
type Config struct {
	// Listen is the plain HTTP address.
	Listen string `yaml:"listen"`

	// ListenQUIC, when set, adds an HTTP/3 listener with a self-signed
	// development certificate alongside the plain one.
	ListenQUIC string `yaml:"listen_quic"`

	DBPath     string `yaml:"db_path"`
	LibraryDir string `yaml:"library_dir"`

	Ingest   ingest.Config    `yaml:"ingest"`
	Embedder bookembed.Config `yaml:"embedder"`
	Indexer  indexer.Config   `yaml:"indexer"`
	Query    query.Config     `yaml:"query"`

	// RateLimits maps "METHOD /path" endpoints to per-IP rules.
	RateLimits map[string]RateRule `yaml:"rate_limits"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:     ":8080",
		DBPath:     "liber.db",
		LibraryDir: "library",
		RateLimits: map[string]RateRule{
			"POST /api/search": {MaxRequests: 60, WindowSeconds: 60, Enabled: true},
			"POST /api/ingest": {MaxRequests: 5, WindowSeconds: 60, Enabled: true},
		},
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig merged with the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	for endpoint, rule := range c.RateLimits {
		if !rule.Enabled {
			continue
		}
		if rule.MaxRequests <= 0 {
			return fmt.Errorf("rate_limits[%q]: max_requests must be > 0", endpoint)
		}
		if rule.WindowSeconds <= 0 {
			return fmt.Errorf("rate_limits[%q]: window_seconds must be > 0", endpoint)
		}
	}
	return nil
}
