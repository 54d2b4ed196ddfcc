// Package manifest handles briar.toml runtime configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Manifest represents a briar.toml configuration.
type Manifest struct {
	VM    VMConfig    `toml:"vm"`
	GC    GCConfig    `toml:"gc"`
	Cache CacheConfig `toml:"cache"`
	REPL  REPLConfig  `toml:"repl"`

	// Dir is the directory containing the briar.toml file (set at load
	// time).
	Dir string `toml:"-"`
}

// VMConfig bounds the interpreter's resources.
type VMConfig struct {
	StackSize  int `toml:"stack-size"`
	FrameDepth int `toml:"frame-depth"`
}

// GCConfig tunes the collector.
type GCConfig struct {
	Stress    bool `toml:"stress"`
	Log       bool `toml:"log"`
	Threshold int  `toml:"threshold"`
}

// CacheConfig controls the content-addressed compile cache.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// REPLConfig controls the interactive session.
type REPLConfig struct {
	History string `toml:"history"`
}

// Default returns the configuration used when no briar.toml exists.
func Default() *Manifest {
	return &Manifest{
		VM: VMConfig{
			StackSize:  64 * 256,
			FrameDepth: 64,
		},
		GC: GCConfig{
			Threshold: 1024 * 1024,
		},
		Cache: CacheConfig{
			Path: ".briar/cache.db",
		},
		REPL: REPLConfig{
			History: ".briar_history",
		},
	}
}

// Load reads a briar.toml from the given path. Fields absent from the
// file keep their defaults; unknown keys are an error so typos don't
// silently disable what they meant to set.
func Load(path string) (*Manifest, error) {
	m := Default()
	meta, err := toml.DecodeFile(path, m)
	if err != nil {
		return nil, fmt.Errorf("manifest: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("manifest: unknown keys in %s: %s",
			path, strings.Join(keys, ", "))
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("manifest: %s: %w", path, err)
	}
	m.Dir = filepath.Dir(path)
	return m, nil
}

// LoadIfPresent loads path when it exists and falls back to defaults
// otherwise.
func LoadIfPresent(path string) (*Manifest, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

func (m *Manifest) validate() error {
	if m.VM.StackSize <= 0 {
		return fmt.Errorf("vm.stack-size must be positive (got %d)", m.VM.StackSize)
	}
	if m.VM.FrameDepth <= 0 {
		return fmt.Errorf("vm.frame-depth must be positive (got %d)", m.VM.FrameDepth)
	}
	if m.GC.Threshold < 0 {
		return fmt.Errorf("gc.threshold must be non-negative (got %d)", m.GC.Threshold)
	}
	if m.Cache.Enabled && m.Cache.Path == "" {
		return fmt.Errorf("cache.path must be set when the cache is enabled")
	}
	return nil
}

