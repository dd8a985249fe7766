// Package stitch implements the Stitch Fetcher (spec.md §4.4): resolving
// the current tip of each configured foreign strand for inclusion in this
// strand's next tixel, and the YAML-backed stitch configuration that
// drives it (spec.md §6, reloaded every cycle).
package stitch

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Entry is one configured foreign strand to stitch in.
type Entry struct {
	Resolver string `yaml:"resolver"`
	Strand   string `yaml:"strand"`
	Stop     bool   `yaml:"stop"`
}

// fileFormat mirrors the on-disk YAML shape from spec.md §6.
type fileFormat struct {
	Stitches []Entry `yaml:"stitches"`
}

// Config is an immutable snapshot of the stitch configuration. A reload
// swaps the pointer atomically; nothing ever mutates an Config in place,
// per the teacher's stitch-config-reload design note.
type Config struct {
	Entries []Entry
}

// Active returns the non-paused entries, in file order.
func (c *Config) Active() []Entry {
	out := make([]Entry, 0, len(c.Entries))
	for _, e := range c.Entries {
		if !e.Stop {
			out = append(out, e)
		}
	}
	return out
}

// Watcher holds the current Config snapshot and knows how to reload it
// from disk. A malformed reload is logged and discarded, leaving the
// previous snapshot in force (spec.md §4.4/§9).
type Watcher struct {
	path string
	cur  atomic.Pointer[Config]
}

// NewWatcher loads path once at construction. A missing or malformed file
// yields an empty Config rather than an error, since stitching is purely
// additive: the beacon has no obligation to stitch anything.
func NewWatcher(path string) *Watcher {
	w := &Watcher{path: path}
	cfg, err := load(path)
	if err != nil {
		cfg = &Config{}
	}
	w.cur.Store(cfg)
	return w
}

// Current returns the active snapshot.
func (w *Watcher) Current() *Config {
	return w.cur.Load()
}

// Reload re-reads the file and swaps the snapshot in on success. It
// returns the error encountered, if any, purely for logging — the caller
// should never treat a reload failure as fatal.
func (w *Watcher) Reload() error {
	cfg, err := load(w.path)
	if err != nil {
		return err
	}
	w.cur.Store(cfg)
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("stitch: read config: %w", err)
	}
	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("stitch: parse config: %w", err)
	}
	return &Config{Entries: ff.Stitches}, nil
}
