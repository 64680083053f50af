// Package config handles lilis.toml runtime configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/lilis-lang/lilis/vm"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "lilis.toml"

// Config represents a lilis.toml file.
type Config struct {
	Engine  Engine  `toml:"engine"`
	Modules Modules `toml:"modules"`

	// Dir is the directory containing the configuration file (set at load
	// time). Relative module paths resolve against it.
	Dir string `toml:"-"`
}

// Engine sizes the heap, stack and frames of an engine.
type Engine struct {
	Heap    int  `toml:"heap"`
	Stack   int  `toml:"stack"`
	Frames  int  `toml:"frames"`
	Debug   bool `toml:"debug"`
	Verbose bool `toml:"verbose"`
}

// Modules configures how (import name) finds source files.
type Modules struct {
	Paths []string `toml:"paths"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Engine: Engine{
			Heap:   vm.DefaultHeapSize,
			Stack:  vm.DefaultStackSize,
			Frames: vm.DefaultFrameCount,
		},
	}
}

// Load parses the lilis.toml file in dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses a configuration file at path. Keys missing from the file
// keep their default values; unknown keys are an error.
func LoadFile(path string) (*Config, error) {
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
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a lilis.toml file, then loads
// and returns it. Returns the default configuration if none is found.
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
			// Reached root
			return Default(), nil
		}
		dir = parent
	}
}

func (c *Config) validate() error {
	switch {
	case c.Engine.Heap <= 0:
		return fmt.Errorf("engine.heap must be positive, got %d", c.Engine.Heap)
	case c.Engine.Stack <= 0:
		return fmt.Errorf("engine.stack must be positive, got %d", c.Engine.Stack)
	case c.Engine.Frames <= 0:
		return fmt.Errorf("engine.frames must be positive, got %d", c.Engine.Frames)
	}
	return nil
}

// ModulePaths returns absolute paths for the configured module directories.
func (c *Config) ModulePaths() []string {
	var paths []string
	for _, p := range c.Modules.Paths {
		if !filepath.IsAbs(p) && c.Dir != "" {
			p = filepath.Join(c.Dir, p)
		}
		paths = append(paths, p)
	}
	return paths
}

// Options converts the configuration into engine options writing to stdout.
func (c *Config) Options(stdout io.Writer) vm.Options {
	opts := vm.DefaultOptions()
	opts.HeapSize = c.Engine.Heap
	opts.StackSize = c.Engine.Stack
	opts.FrameCount = c.Engine.Frames
	opts.Debug = c.Engine.Debug
	opts.Verbose = c.Engine.Verbose
	opts.ModulePaths = c.ModulePaths()
	if stdout != nil {
		opts.Stdout = stdout
	}
	return opts
}
