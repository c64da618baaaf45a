// Package config persists the store's tunables across reopens so a
// store opened without explicit overrides behaves identically to the
// store that wrote the data (spec's open question on configuration
// persistence).
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ManifestFileName is the name of the manifest file inside a store
// directory. Any other file must parse as a decimal epoch; this is the
// one named exception.
const ManifestFileName = "MANIFEST"

// DefaultMaxSegmentSize is the default rotation threshold, 10 MB, as
// specified for Store.Open.
const DefaultMaxSegmentSize int64 = 10_000_000

// DefaultCompactThreshold is the default mutation_counter threshold that
// triggers compaction.
const DefaultCompactThreshold uint64 = 1000

// Manifest holds the per-store tunables that are not recoverable purely
// from replaying the log.
type Manifest struct {
	MaxSegmentSize   int64  `yaml:"max_segment_size"`
	CompactThreshold uint64 `yaml:"compact_threshold"`
}

// Default returns a Manifest populated with the reference defaults.
func Default() Manifest {
	return Manifest{
		MaxSegmentSize:   DefaultMaxSegmentSize,
		CompactThreshold: DefaultCompactThreshold,
	}
}

// Load reads the manifest from dir. If no manifest file exists, it
// returns the zero Manifest and ok=false without error — callers should
// fall back to Default() or to explicit overrides.
func Load(dir string) (m Manifest, ok bool, err error) {
	path := filepath.Join(dir, ManifestFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, false, nil
		}
		return Manifest{}, false, errors.Wrapf(err, "config: read manifest %q", path)
	}

	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, false, errors.Wrapf(err, "config: parse manifest %q", path)
	}

	return m, true, nil
}

// Save writes m to dir's manifest file, creating or overwriting it.
func (m Manifest) Save(dir string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "config: marshal manifest")
	}

	path := filepath.Join(dir, ManifestFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "config: write manifest %q", path)
	}
	return nil
}
