// Package pushconfig owns the per-product push configuration file: which
// products are checked, on what schedule, and which groups are notified.
// The file is YAML and is reloaded when it changes on disk.
package pushconfig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/obentoo/gamepush/internal/common/logger"
	"github.com/obentoo/gamepush/internal/monitor"
)

var (
	// ErrInvalidConfig is returned when the push config file cannot be decoded
	ErrInvalidConfig = errors.New("invalid push config")
)

// reloadDelay coalesces the burst of events an editor save produces.
const reloadDelay = 200 * time.Millisecond

// productEntry is the on-disk form of one product's settings.
type productEntry struct {
	Enable        *bool    `yaml:"enable,omitempty"`
	Log           bool     `yaml:"log"`
	Cron          string   `yaml:"cron"`
	PushGroups    []string `yaml:"push_groups"`
	MessageFormat string   `yaml:"message_format"`
	Template      string   `yaml:"template"`
}

// Store is the owner of the push configuration. Readers get a consistent
// snapshot; writers replace the whole snapshot.
type Store struct {
	path string

	mu       sync.RWMutex
	products map[monitor.ProductID]monitor.ProductConfig

	// writeMu serialises read-modify-write cycles against the file.
	writeMu sync.Mutex
}

var _ monitor.ConfigSource = (*Store)(nil)

// Open loads the config at path, writing a default file first if none exists.
func Open(path string) (*Store, error) {
	s := &Store{path: path, products: defaults()}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.save(s.products); err != nil {
			return nil, err
		}
		logger.Info("created default push config at %s", path)
		return s, nil
	}

	products, err := s.load()
	if err != nil {
		return nil, err
	}
	s.products = products
	return s, nil
}

// Path returns the config file location.
func (s *Store) Path() string {
	return s.path
}

func defaults() map[monitor.ProductID]monitor.ProductConfig {
	out := make(map[monitor.ProductID]monitor.ProductConfig)
	for _, p := range monitor.Products() {
		out[p.ID] = monitor.DefaultProductConfig()
	}
	return out
}

func (s *Store) load() (map[monitor.ProductID]monitor.ProductConfig, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	var raw map[string]productEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, s.path, err)
	}

	products := defaults()
	for key, entry := range raw {
		p, ok := monitor.LookupProduct(key)
		if !ok {
			logger.Warn("push config: ignoring unknown product %q", key)
			continue
		}
		products[p.ID] = entry.toConfig(p)
	}
	return products, nil
}

func (e productEntry) toConfig(p monitor.Product) monitor.ProductConfig {
	cfg := monitor.DefaultProductConfig()
	if e.Enable != nil {
		cfg.Enabled = *e.Enable
	}
	cfg.Log = e.Log
	if e.Cron != "" {
		cfg.Cron = e.Cron
	}
	if e.Template != "" {
		cfg.Template = e.Template
	}
	if e.MessageFormat != "" {
		if f, ok := monitor.ParseMessageFormat(e.MessageFormat); ok {
			cfg.Format = f
		} else {
			logger.Warn("push config: %s has unknown message_format %q, using %s", p.ID, e.MessageFormat, cfg.Format)
		}
	}

	seen := make(map[monitor.Target]bool)
	for _, entry := range e.PushGroups {
		t, err := monitor.ParseTarget(entry)
		if err != nil {
			logger.Warn("push config: %s: skipping push group: %v", p.ID, err)
			continue
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		cfg.Targets = append(cfg.Targets, t)
	}
	return cfg
}

func fromConfig(cfg monitor.ProductConfig) productEntry {
	enabled := cfg.Enabled
	return productEntry{
		Enable:        &enabled,
		Log:           cfg.Log,
		Cron:          cfg.Cron,
		PushGroups:    monitor.FormatTargets(cfg.Targets),
		MessageFormat: string(cfg.Format),
		Template:      cfg.Template,
	}
}

// save writes products to the file atomically.
func (s *Store) save(products map[monitor.ProductID]monitor.ProductConfig) error {
	raw := make(map[string]productEntry, len(products))
	for id, cfg := range products {
		raw[string(id)] = fromConfig(cfg)
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal push config: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".push-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to write push config: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write push config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write push config: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace push config: %w", err)
	}
	return nil
}

// ProductConfig returns the current settings of a product.
func (s *Store) ProductConfig(id monitor.ProductID) monitor.ProductConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.products[id]
	if !ok {
		return monitor.DefaultProductConfig()
	}
	cfg.Targets = append([]monitor.Target(nil), cfg.Targets...)
	return cfg
}

// Snapshot returns a copy of every product's settings.
func (s *Store) Snapshot() map[monitor.ProductID]monitor.ProductConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.products)
}

func clone(in map[monitor.ProductID]monitor.ProductConfig) map[monitor.ProductID]monitor.ProductConfig {
	out := make(map[monitor.ProductID]monitor.ProductConfig, len(in))
	for id, cfg := range in {
		cfg.Targets = append([]monitor.Target(nil), cfg.Targets...)
		out[id] = cfg
	}
	return out
}

// update applies fn to a copy of one product's settings, persists the
// result and swaps it in. fn reports whether anything changed.
func (s *Store) update(id monitor.ProductID, fn func(*monitor.ProductConfig) bool) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.Snapshot()
	cfg, ok := next[id]
	if !ok {
		cfg = monitor.DefaultProductConfig()
	}
	if !fn(&cfg) {
		return false, nil
	}
	next[id] = cfg

	if err := s.save(next); err != nil {
		return false, err
	}
	s.mu.Lock()
	s.products = next
	s.mu.Unlock()
	return true, nil
}

// AddTarget subscribes a group to a product. It reports false if the
// target was already present.
func (s *Store) AddTarget(id monitor.ProductID, t monitor.Target) (bool, error) {
	added, err := s.update(id, func(cfg *monitor.ProductConfig) bool {
		for _, existing := range cfg.Targets {
			if existing == t {
				return false
			}
		}
		cfg.Targets = append(cfg.Targets, t)
		return true
	})
	if err == nil {
		logger.Debug("push config: %s add %s (added=%v)", id, t, added)
	}
	return added, err
}

// RemoveTarget unsubscribes a group. It reports false if the target was
// not present.
func (s *Store) RemoveTarget(id monitor.ProductID, t monitor.Target) (bool, error) {
	removed, err := s.update(id, func(cfg *monitor.ProductConfig) bool {
		kept := cfg.Targets[:0]
		for _, existing := range cfg.Targets {
			if existing != t {
				kept = append(kept, existing)
			}
		}
		if len(kept) == len(cfg.Targets) {
			return false
		}
		if len(kept) == 0 {
			kept = nil
		}
		cfg.Targets = kept
		return true
	})
	if err == nil {
		logger.Debug("push config: %s remove %s (removed=%v)", id, t, removed)
	}
	return removed, err
}

// SetEnabled turns checking of a product on or off.
func (s *Store) SetEnabled(id monitor.ProductID, enabled bool) error {
	_, err := s.update(id, func(cfg *monitor.ProductConfig) bool {
		if cfg.Enabled == enabled {
			return false
		}
		cfg.Enabled = enabled
		return true
	})
	return err
}

// Reload re-reads the file. On failure the previous snapshot stays in
// effect. It reports whether the settings changed.
func (s *Store) Reload() (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	products, err := s.load()
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if reflect.DeepEqual(products, s.products) {
		return false, nil
	}
	s.products = products
	return true, nil
}

// Watch reloads the file whenever it changes and calls onChange after
// each reload that altered the settings. It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: atomic saves replace the file's inode.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(s.path), err)
	}

	target := filepath.Clean(s.path)
	timer := time.NewTimer(reloadDelay)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(reloadDelay)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("push config watcher: %v", err)
		case <-timer.C:
			changed, err := s.Reload()
			if err != nil {
				logger.Error("push config reload failed, keeping previous settings: %v", err)
				continue
			}
			if changed {
				logger.Info("push config reloaded")
				if onChange != nil {
					onChange()
				}
			}
		}
	}
}
