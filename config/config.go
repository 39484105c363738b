// Package config loads validator configuration and region descriptors.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds run-wide settings plus the list of regions to process.
type Config struct {
	DatabasePath        string
	ReportDir           string
	CacheDir            string
	Workers             int
	OnlyEdits           bool
	AllowFalsePositives bool
	Regions             []Region
}

// Region describes one configured geographic scope. InternalName is the
// entity-store partition key and must be unique.
type Region struct {
	InternalName       string   `yaml:"internal_region_name"`
	Identifier         string   `yaml:"identifier"`
	WebsiteTitle       string   `yaml:"website_main_title_part"`
	LanguageCode       string   `yaml:"language_code"`
	MergedOutput       string   `yaml:"merged_output"`
	IgnoredProblems    []string `yaml:"ignored_problems"`
	PriorityMultiplier *float64 `yaml:"priority_multiplier"`
	Hidden             bool     `yaml:"hidden"`
}

// Multiplier returns the configured priority multiplier, defaulting to 1.
func (r Region) Multiplier() float64 {
	if r.PriorityMultiplier == nil {
		return 1
	}
	return *r.PriorityMultiplier
}

// Title returns the name used for report files and page headings.
func (r Region) Title() string {
	if r.WebsiteTitle != "" {
		return r.WebsiteTitle
	}
	return r.InternalName
}

// IgnoresProblem reports whether the given error kind is suppressed for this
// region.
func (r Region) IgnoresProblem(kind string) bool {
	for _, ignored := range r.IgnoredProblems {
		if ignored == kind {
			return true
		}
	}
	return false
}

type fileConfig struct {
	DatabasePath        string   `yaml:"database_path"`
	ReportDir           string   `yaml:"report_dir"`
	CacheDir            string   `yaml:"cache_dir"`
	Workers             int      `yaml:"workers"`
	OnlyEdits           bool     `yaml:"only_edits"`
	AllowFalsePositives bool     `yaml:"allow_false_positives"`
	Regions             []Region `yaml:"regions"`
}

const (
	defaultDBFile      = "validator.db"
	defaultReportDir   = "reports"
	defaultCacheDir    = "cache"
	defaultWorkerCount = 4
	minWorkerCount     = 1
	maxWorkerCount     = 32
)

// Load reads configuration from the given yaml file and applies environment
// overrides. Validation failures are returned before any mutation can happen.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DatabasePath: defaultDBFile,
		ReportDir:    defaultReportDir,
		CacheDir:     defaultCacheDir,
		Workers:      defaultWorkerCount,
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var fileCfg fileConfig
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	applyFileConfig(&cfg, fileCfg)

	cfg.DatabasePath = getEnv("VALIDATOR_DB_PATH", cfg.DatabasePath)
	cfg.ReportDir = getEnv("VALIDATOR_REPORT_DIR", cfg.ReportDir)
	cfg.CacheDir = getEnv("VALIDATOR_CACHE_DIR", cfg.CacheDir)
	cfg.Workers = clampInt(getEnvInt("VALIDATOR_WORKERS", cfg.Workers), minWorkerCount, maxWorkerCount)
	if parseBoolEnv("VALIDATOR_ONLY_EDITS") {
		cfg.OnlyEdits = true
	}
	if parseBoolEnv("VALIDATOR_ALLOW_FALSE_POSITIVES") {
		cfg.AllowFalsePositives = true
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFileConfig(cfg *Config, fileCfg fileConfig) {
	if fileCfg.DatabasePath != "" {
		cfg.DatabasePath = fileCfg.DatabasePath
	}
	if fileCfg.ReportDir != "" {
		cfg.ReportDir = fileCfg.ReportDir
	}
	if fileCfg.CacheDir != "" {
		cfg.CacheDir = fileCfg.CacheDir
	}
	if fileCfg.Workers > 0 {
		cfg.Workers = fileCfg.Workers
	}
	cfg.OnlyEdits = fileCfg.OnlyEdits
	cfg.AllowFalsePositives = fileCfg.AllowFalsePositives
	cfg.Regions = fileCfg.Regions
}

// Validate enforces the configuration invariants. Region names feed into
// report file paths, so a separator character in them is fatal.
func (c Config) Validate() error {
	if len(c.Regions) == 0 {
		return errors.New("config: no regions configured")
	}
	seen := make(map[string]struct{}, len(c.Regions))
	for _, region := range c.Regions {
		if region.InternalName == "" {
			return errors.New("config: region with empty internal_region_name")
		}
		if strings.Contains(region.InternalName, "/") {
			return fmt.Errorf("config: %q: separator in internal_region_name", region.InternalName)
		}
		if strings.Contains(region.WebsiteTitle, "/") {
			return fmt.Errorf("config: %q: separator in website_main_title_part", region.InternalName)
		}
		if _, dup := seen[region.InternalName]; dup {
			return fmt.Errorf("config: duplicate region name %q", region.InternalName)
		}
		seen[region.InternalName] = struct{}{}
	}
	return nil
}

// RegionByName returns the configured region with the given internal name.
func (c Config) RegionByName(name string) (Region, bool) {
	for _, region := range c.Regions {
		if region.InternalName == name {
			return region, true
		}
	}
	return Region{}, false
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseBoolEnv(key string) bool {
	v := os.Getenv(key)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Now returns the wall-clock unix timestamp used for snapshot bookkeeping.
func Now() int64 {
	return time.Now().UTC().Unix()
}
