// Package ledgerconfig opens one or more ledger backends from a TOML description.
package ledgerconfig

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"xdao.co/streams/ledger"
	"xdao.co/streams/ledger/registry"
)

// Config describes how to open one or more ledger backends via registry.
//
// Callers still need to link desired backend plugins via blank imports.
//
// WritePolicy values:
//   - "first" (default): write only to the first backend; reads fall back in order
//   - "all": write to all backends (see ledger.ReplicatingStore)
//
// Example:
//
//	write_policy = "all"
//
//	[[backends]]
//	name = "localfs"
//	[backends.config]
//	localfs-dir = "/var/lib/streams"
//
//	[[backends]]
//	name = "sqlite"
//	id = "archive"
//	[backends.config]
//	sqlite-path = "/var/lib/streams/ledger.db"
//
// Config values are backend-specific and mirror the backend's flag names.
type Config struct {
	WritePolicy string          `toml:"write_policy"`
	Backends    []BackendConfig `toml:"backends"`
}

type BackendConfig struct {
	// Name is the registry backend name to open (e.g. "grpc", "localfs", "sqlite").
	Name string `toml:"name"`
	// ID is an optional stable alias used for identification. If empty, Name is used.
	ID     string            `toml:"id"`
	Config map[string]string `toml:"config"`
}

func (b BackendConfig) id() string {
	if b.ID != "" {
		return b.ID
	}
	return b.Name
}

func LoadFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, errors.New("ledgerconfig: empty config path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("ledgerconfig: load failed (%s): %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a TOML document.
func Parse(data []byte) (Config, error) {
	var cfg Config
	meta, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("ledgerconfig: parse failed: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("ledgerconfig: unknown key %q", undecoded[0].String())
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New("ledgerconfig: at least one backend is required")
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return errors.New("ledgerconfig: backend name is required")
		}
		if _, ok := seen[b.id()]; ok {
			return fmt.Errorf("ledgerconfig: duplicate backend id %q", b.id())
		}
		seen[b.id()] = struct{}{}
	}
	switch c.WritePolicy {
	case "", "first", "all":
		return nil
	default:
		return fmt.Errorf("ledgerconfig: invalid write_policy %q", c.WritePolicy)
	}
}

// Open opens a ledger per config.
//
// If preferredBackend is non-empty, backends are reordered so preferredBackend
// is first (and thus used for writes when WritePolicy=="first").
func (c Config) Open(ctx context.Context, usage registry.Usage, preferredBackend string) (ledger.Store, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	ordered := append([]BackendConfig(nil), c.Backends...)
	if preferredBackend != "" {
		idx := -1
		for i := range ordered {
			if ordered[i].Name == preferredBackend || ordered[i].ID == preferredBackend {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, nil, fmt.Errorf("ledgerconfig: preferred backend %q not found in config", preferredBackend)
		}
		if idx != 0 {
			b := ordered[idx]
			copy(ordered[1:idx+1], ordered[0:idx])
			ordered[0] = b
		}
	}

	named := make([]ledger.NamedStore, 0, len(ordered))
	closers := make([]func() error, 0, len(ordered))
	closeAll := func() error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	for _, b := range ordered {
		s, closeFn, err := registry.OpenWithConfig(ctx, b.Name, usage, b.Config)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("ledgerconfig: backend %q: %w", b.id(), err)
		}
		named = append(named, ledger.NamedStore{Name: b.id(), Store: s})
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
	}

	if len(named) == 1 {
		return named[0].Store, closeAll, nil
	}

	switch c.WritePolicy {
	case "", "first":
		stores := make([]ledger.Store, 0, len(named))
		for _, n := range named {
			stores = append(stores, n.Store)
		}
		return ledger.MultiStore{Stores: stores}, closeAll, nil
	case "all":
		return ledger.ReplicatingStore{Backends: named}, closeAll, nil
	default:
		return nil, nil, fmt.Errorf("ledgerconfig: invalid write_policy %q", c.WritePolicy)
	}
}
