// Package config handles ilopt.toml configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/chazu/ilopt/pipeline"
)

// FileName is the name of the configuration file.
const FileName = "ilopt.toml"

var ErrInvalid = errors.New("invalid configuration")

// Config represents an ilopt.toml configuration.
type Config struct {
	Optimize Optimize `toml:"optimize"`
	Batch    Batch    `toml:"batch"`
	Log      Log      `toml:"log"`
	Report   Report   `toml:"report"`

	// Dir is the directory containing the ilopt.toml file (set at load time).
	Dir string `toml:"-"`
}

// Optimize selects the pipeline passes.
type Optimize struct {
	Minimize                bool `toml:"minimize"`
	ShortenBranches         bool `toml:"shorten-branches"`
	EliminateBranchesToNext bool `toml:"eliminate-branches-to-next"`
	Verify                  bool `toml:"verify"`
}

// Batch configures concurrent optimization.
type Batch struct {
	Workers       int           `toml:"workers"`
	MethodTimeout time.Duration `toml:"method-timeout"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Report configures the results store.
type Report struct {
	Path string `toml:"path"`
}

// Default returns the configuration used when no ilopt.toml exists.
func Default() *Config {
	return &Config{
		Optimize: Optimize{
			Minimize:                true,
			ShortenBranches:         true,
			EliminateBranchesToNext: true,
			Verify:                  true,
		},
		Batch: Batch{MethodTimeout: 10 * time.Second},
		Log:   Log{Verbosity: 1},
	}
}

// Load parses an ilopt.toml file from the given directory. Keys missing
// from the file keep their default values.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s: %w", path, undecoded[0], ErrInvalid)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find an ilopt.toml file, then
// loads it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Batch.Workers < 0 {
		return fmt.Errorf("batch.workers = %d: %w", c.Batch.Workers, ErrInvalid)
	}
	if c.Batch.MethodTimeout < 0 {
		return fmt.Errorf("batch.method-timeout = %s: %w", c.Batch.MethodTimeout, ErrInvalid)
	}
	return nil
}

// PipelineOptions returns the pass selection for the pipeline.
func (c *Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		Minimize:                c.Optimize.Minimize,
		ShortenBranches:         c.Optimize.ShortenBranches,
		EliminateBranchesToNext: c.Optimize.EliminateBranchesToNext,
		Verify:                  c.Optimize.Verify,
	}
}

// NewBatch returns a batch runner configured from c.
func (c *Config) NewBatch() *pipeline.Batch {
	return &pipeline.Batch{
		Workers:       c.Batch.Workers,
		MethodTimeout: c.Batch.MethodTimeout,
		Options:       c.PipelineOptions(),
	}
}

// ReportPath returns the report database path, relative paths resolved
// against Dir. Empty when no report is configured.
func (c *Config) ReportPath() string {
	return c.resolve(c.Report.Path)
}

// LogPath returns the log file path, or nil to log to stderr.
func (c *Config) LogPath() *string {
	if c.Log.File == "" {
		return nil
	}
	p := c.resolve(c.Log.File)
	return &p
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// String encodes c as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("# %s", err)
	}
	return buf.String()
}
