// Package config loads vcsmine settings from defaults, a TOML or YAML file
// and VCSMINE_* environment variables. Command-line flags are applied on
// top by the cli package.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/kilupskalvis/vcsmine/internal/vcs"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Drivers lists the supported store drivers.
var Drivers = []string{"bolt", "sqlite", "redis"}

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "VCSMINE_"

// Config is the full configuration of a sync.
type Config struct {
	Project     string       `toml:"project" yaml:"project"`
	Path        string       `toml:"path" yaml:"path"`
	MetricsFile string       `toml:"metrics_file" yaml:"metrics_file"`
	Store       StoreConfig  `toml:"store" yaml:"store"`
	Parser      ParserConfig `toml:"parser" yaml:"parser"`
	Log         LogConfig    `toml:"log" yaml:"log"`
}

// StoreConfig selects and connects the document store.
type StoreConfig struct {
	Driver   string `toml:"driver" yaml:"driver"`
	Path     string `toml:"path" yaml:"path"` // bolt and sqlite file
	Hostname string `toml:"hostname" yaml:"hostname"`
	Port     int    `toml:"port" yaml:"port"`
	User     string `toml:"user" yaml:"user"`
	Password string `toml:"password" yaml:"password"`
	Database int    `toml:"database" yaml:"database"`
	// Namespace prefixes redis keys.
	Namespace       string `toml:"namespace" yaml:"namespace"`
	MaxDocumentSize int    `toml:"max_document_size" yaml:"max_document_size"`
}

// Addr returns the host:port of a network store.
func (s StoreConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Hostname, s.Port)
}

// ParserConfig controls classification.
type ParserConfig struct {
	CoresPerJob         int    `toml:"cores_per_job" yaml:"cores_per_job"`
	NoHunks             bool   `toml:"no_hunks" yaml:"no_hunks"`
	NoCommitBranchInfo  bool   `toml:"no_commit_branch_info" yaml:"no_commit_branch_info"`
	SimilarityThreshold int    `toml:"similarity_threshold" yaml:"similarity_threshold"`
	RenameLimit         int    `toml:"rename_limit" yaml:"rename_limit"`
	ContextLines        int    `toml:"context_lines" yaml:"context_lines"`
	InterhunkLines      int    `toml:"interhunk_lines" yaml:"interhunk_lines"`
	Remote              string `toml:"remote" yaml:"remote"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	vo := vcs.DefaultOptions()
	return &Config{
		Path: ".",
		Store: StoreConfig{
			Driver:          "bolt",
			Path:            "vcsmine.db",
			Hostname:        "localhost",
			Port:            6379,
			MaxDocumentSize: 16 << 20,
		},
		Parser: ParserConfig{
			CoresPerJob:         runtime.NumCPU(),
			SimilarityThreshold: vo.SimilarityThreshold,
			ContextLines:        vo.ContextLines,
			InterhunkLines:      vo.InterhunkLines,
			Remote:              vo.Remote,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads a config file over the defaults. Files ending in .yaml or
// .yml are YAML; anything else is TOML.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("PROJECT", &c.Project)
	str("PATH", &c.Path)
	str("METRICS_FILE", &c.MetricsFile)
	str("DB_DRIVER", &c.Store.Driver)
	str("DB_PATH", &c.Store.Path)
	str("DB_HOSTNAME", &c.Store.Hostname)
	num("DB_PORT", &c.Store.Port)
	str("DB_USER", &c.Store.User)
	str("DB_PASSWORD", &c.Store.Password)
	num("DB_DATABASE", &c.Store.Database)
	str("DB_NAMESPACE", &c.Store.Namespace)
	num("CORES_PER_JOB", &c.Parser.CoresPerJob)
	flag("NO_HUNKS", &c.Parser.NoHunks)
	flag("NO_COMMIT_BRANCH_INFO", &c.Parser.NoCommitBranchInfo)
	num("SIMILARITY", &c.Parser.SimilarityThreshold)
	str("REMOTE", &c.Parser.Remote)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	return errors.Join(errs...)
}

// Validate checks the values a sync depends on.
func (c *Config) Validate() error {
	var problems []string
	if c.Project == "" {
		problems = append(problems, "project name is required")
	}
	known := false
	for _, d := range Drivers {
		if c.Store.Driver == d {
			known = true
		}
	}
	if !known {
		problems = append(problems, fmt.Sprintf("unknown store driver %q (want one of %s)", c.Store.Driver, strings.Join(Drivers, ", ")))
	}
	if c.Parser.CoresPerJob < 1 {
		problems = append(problems, "cores_per_job must be at least 1")
	}
	if t := c.Parser.SimilarityThreshold; t < 1 || t > 100 {
		problems = append(problems, fmt.Sprintf("similarity_threshold %d is outside 1..100", t))
	}
	if c.Parser.ContextLines < 0 || c.Parser.InterhunkLines < 0 {
		problems = append(problems, "context_lines and interhunk_lines cannot be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// VCSOptions returns the walk and classification options.
func (c *Config) VCSOptions() vcs.Options {
	return vcs.Options{
		SimilarityThreshold: c.Parser.SimilarityThreshold,
		RenameLimit:         c.Parser.RenameLimit,
		NoHunks:             c.Parser.NoHunks,
		NoBranchInfo:        c.Parser.NoCommitBranchInfo,
		Remote:              c.Parser.Remote,
		ContextLines:        c.Parser.ContextLines,
		InterhunkLines:      c.Parser.InterhunkLines,
	}
}
