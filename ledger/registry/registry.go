// Package registry is the build-time plugin registry for ledger backends.
package registry

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"xdao.co/streams/ledger"
)

// Option is a backend setting. It is exposed as a command line flag named
// Name and as a key of the same name in ledger configuration files.
type Option struct {
	Name    string
	Default string
	Help    string
}

// Options holds resolved option values for one backend.
type Options map[string]string

func (o Options) String(name string) string { return strings.TrimSpace(o[name]) }

func (o Options) Duration(name string) (time.Duration, error) {
	s := o.String(name)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("option %s: %w", name, err)
	}
	return d, nil
}

func (o Options) Int(name string) (int, error) {
	s := o.String(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("option %s: %w", name, err)
	}
	return n, nil
}

// Backend is a build-time plugin that can open a ledger.Store implementation.
//
// Backends typically register themselves in init():
//
//	registry.MustRegister(registry.Backend{ ... })
//
// The binary must import the backend package for registration to occur.
type Backend struct {
	Name        string
	Description string
	Usage       Usage
	Options     []Option

	// Open constructs the store from resolved options. It returns an optional
	// close function.
	Open func(ctx context.Context, opts Options) (ledger.Store, func() error, error)
}

var (
	mu         sync.RWMutex
	backends   = map[string]Backend{}
	flagValues = map[string]*string{}
)

// Register registers a backend.
func Register(b Backend) error {
	if b.Name == "" {
		return fmt.Errorf("registry: backend name is required")
	}
	if b.Open == nil {
		return fmt.Errorf("registry: backend %q missing Open", b.Name)
	}
	if b.Usage == 0 {
		return fmt.Errorf("registry: backend %q missing Usage", b.Name)
	}
	for _, o := range b.Options {
		if o.Name == "" {
			return fmt.Errorf("registry: backend %q has an unnamed option", b.Name)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("registry: backend %q already registered", b.Name)
	}
	backends[b.Name] = b
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// List returns backends matching usage, sorted by name.
func List(usage Usage) []Backend {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Usage.allows(usage) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns backend names matching usage, sorted.
func Names(usage Usage) []string {
	bs := List(usage)
	n := make([]string, 0, len(bs))
	for _, b := range bs {
		n = append(n, b.Name)
	}
	return n
}

// RegisterFlags registers flags for all backend options matching usage.
//
// This enables single-pass flag parsing (Go's flag package rejects unknown flags).
func RegisterFlags(fs *flag.FlagSet, usage Usage) {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b := backends[name]
		if !b.Usage.allows(usage) {
			continue
		}
		for _, o := range b.Options {
			if fs.Lookup(o.Name) != nil {
				continue
			}
			v := new(string)
			fs.StringVar(v, o.Name, o.Default, fmt.Sprintf("%s (for --backend=%s)", o.Help, b.Name))
			flagValues[o.Name] = v
		}
	}
}

func lookup(name string, usage Usage) (Backend, error) {
	mu.RLock()
	b, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return Backend{}, fmt.Errorf("unknown backend %q", name)
	}
	if !b.Usage.allows(usage) {
		return Backend{}, fmt.Errorf("backend %q not supported in this binary", name)
	}
	return b, nil
}

// Open opens the named backend using values parsed into flags registered by RegisterFlags.
func Open(ctx context.Context, name string, usage Usage) (ledger.Store, func() error, error) {
	b, err := lookup(name, usage)
	if err != nil {
		return nil, nil, err
	}
	opts := make(Options, len(b.Options))
	mu.RLock()
	for _, o := range b.Options {
		opts[o.Name] = o.Default
		if v, ok := flagValues[o.Name]; ok {
			opts[o.Name] = *v
		}
	}
	mu.RUnlock()
	return b.Open(ctx, opts)
}

// OpenWithConfig opens the named backend with explicit option values. Unknown
// keys are rejected; missing keys take their defaults.
func OpenWithConfig(ctx context.Context, name string, usage Usage, cfg map[string]string) (ledger.Store, func() error, error) {
	b, err := lookup(name, usage)
	if err != nil {
		return nil, nil, err
	}
	opts := make(Options, len(b.Options))
	for _, o := range b.Options {
		opts[o.Name] = o.Default
	}
	for k, v := range cfg {
		if _, ok := opts[k]; !ok {
			return nil, nil, fmt.Errorf("backend %q: unknown option %q", name, k)
		}
		opts[k] = v
	}
	return b.Open(ctx, opts)
}
