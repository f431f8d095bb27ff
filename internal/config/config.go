// Package config loads changeguard configuration: per-user paths, logging,
// registry access and the tunable analyzer policies.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all changeguard configuration.
type Config struct {
	DataDir     string `yaml:"data_dir"`
	SocketPath  string `yaml:"socket_path"`
	DBPath      string `yaml:"db_path"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsAddr string `yaml:"metrics_addr"`

	Registry      RegistryConfig      `yaml:"registry"`
	Hallucination HallucinationConfig `yaml:"hallucination"`
	Brief         BriefConfig         `yaml:"brief"`
}

// RegistryConfig controls the outbound package-registry lookups.
type RegistryConfig struct {
	// Offline disables network lookups entirely; the offline filter and the
	// cache are used instead.
	Offline           bool          `yaml:"offline"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	GoProxyURL        string        `yaml:"go_proxy_url"`
	PyPIURL           string        `yaml:"pypi_url"`
	NPMURL            string        `yaml:"npm_url"`
	FilterPath        string        `yaml:"filter_path"`
	// ModCacheDir overrides GOMODCACHE for API-surface extraction.
	ModCacheDir string `yaml:"mod_cache_dir"`
}

// HallucinationConfig holds the slopsquatting and cache policy.
type HallucinationConfig struct {
	SimilarityThreshold float64             `yaml:"similarity_threshold"`
	ExistenceTTL        time.Duration       `yaml:"existence_ttl"`
	SurfaceTTL          time.Duration       `yaml:"surface_ttl"`
	KnownPackages       map[string][]string `yaml:"known_packages"`
}

// BriefConfig holds the brief-scoring policy. Empty lists mean the
// built-in defaults.
type BriefConfig struct {
	Mode          string   `yaml:"mode"`
	FillerPhrases []string `yaml:"filler_phrases"`
	ActionVerbs   []string `yaml:"action_verbs"`
	TechTerms     []string `yaml:"tech_terms"`
	VerbBonus     float64  `yaml:"verb_bonus"`
	PathBonus     float64  `yaml:"path_bonus"`
	TermBonus     float64  `yaml:"term_bonus"`
	MaxBonus      float64  `yaml:"max_bonus"`
}

// DefaultDataDir returns the default data directory (~/.changeguard).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".changeguard")
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		DataDir:    dataDir,
		SocketPath: filepath.Join(dataDir, "changeguard.sock"),
		DBPath:     filepath.Join(dataDir, "changeguard.db"),
		LogLevel:   "info",
		Registry: RegistryConfig{
			Timeout:           3 * time.Second,
			RequestsPerSecond: 10,
			Burst:             20,
			GoProxyURL:        "https://proxy.golang.org",
			PyPIURL:           "https://pypi.org",
			NPMURL:            "https://registry.npmjs.org",
			FilterPath:        filepath.Join(dataDir, "packages.bloom"),
		},
		Hallucination: HallucinationConfig{
			SimilarityThreshold: 0.75,
			ExistenceTTL:        24 * time.Hour,
			SurfaceTTL:          7 * 24 * time.Hour,
		},
		Brief: BriefConfig{
			Mode:      "normal",
			VerbBonus: 2,
			PathBonus: 2,
			TermBonus: 1,
			MaxBonus:  5,
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults
// for any unset fields, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	defaultDataDir := cfg.DataDir

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// No config file is fine, use defaults.
	default:
		return nil, err
	}

	applyEnv(cfg)

	// Re-derive paths if DataDir was overridden but the derived paths were not.
	if cfg.DataDir != defaultDataDir {
		if cfg.SocketPath == filepath.Join(defaultDataDir, "changeguard.sock") || cfg.SocketPath == "" {
			cfg.SocketPath = filepath.Join(cfg.DataDir, "changeguard.sock")
		}
		if cfg.DBPath == filepath.Join(defaultDataDir, "changeguard.db") || cfg.DBPath == "" {
			cfg.DBPath = filepath.Join(cfg.DataDir, "changeguard.db")
		}
		if cfg.Registry.FilterPath == filepath.Join(defaultDataDir, "packages.bloom") || cfg.Registry.FilterPath == "" {
			cfg.Registry.FilterPath = filepath.Join(cfg.DataDir, "packages.bloom")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CHANGEGUARD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CHANGEGUARD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CHANGEGUARD_OFFLINE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Registry.Offline = b
		}
	}
}

// Validate rejects values the analyzers cannot work with.
func (c *Config) Validate() error {
	if c.Hallucination.SimilarityThreshold <= 0 || c.Hallucination.SimilarityThreshold > 1 {
		return fmt.Errorf("hallucination.similarity_threshold must be in (0,1], got %v", c.Hallucination.SimilarityThreshold)
	}
	if c.Registry.Timeout <= 0 {
		return fmt.Errorf("registry.timeout must be positive, got %v", c.Registry.Timeout)
	}
	switch c.Brief.Mode {
	case "strict", "normal":
	default:
		return fmt.Errorf("brief.mode must be strict or normal, got %q", c.Brief.Mode)
	}
	return nil
}

// EnsureDataDir creates the data directory if it does not exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o755)
}

// ConfigPath returns the default path to the config file.
func ConfigPath() string {
	if v := os.Getenv("CHANGEGUARD_DATA_DIR"); v != "" {
		return filepath.Join(v, "config.yaml")
	}
	return filepath.Join(DefaultDataDir(), "config.yaml")
}
