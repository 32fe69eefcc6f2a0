package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/obentoo/gamepush/internal/common/logger"
)

// StateStore is a string key-value store holding the last-seen versions.
type StateStore interface {
	// Get returns the value of key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// CycleLocker is implemented by state stores shared between processes.
// The engine holds the product's cycle lock from diff to dispatch.
type CycleLocker interface {
	LockCycle(ctx context.Context, product ProductID, wait bool) (unlock func(), acquired bool, err error)
}

const cycleLockRetry = 100 * time.Millisecond

// stateFile is the JSON structure stored on disk
type stateFile struct {
	Values    map[string]string `json:"values"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// FileStateStore keeps version state in a JSON file shared by every
// gamepush process on the host. Each operation re-reads the file under an
// advisory lock on path+".lock"; mutations rewrite it through a temp file
// and rename.
type FileStateStore struct {
	path    string
	lock    *flock.Flock
	mu      sync.Mutex
	nowFunc func() time.Time
}

// FileStateOption is a functional option for configuring FileStateStore
type FileStateOption func(*FileStateStore)

// WithStateNowFunc sets a custom time function for testing
func WithStateNowFunc(fn func() time.Time) FileStateOption {
	return func(s *FileStateStore) {
		s.nowFunc = fn
	}
}

// NewFileStateStore opens or creates the state file at path. A corrupted
// file reads as empty and is replaced on the next write.
func NewFileStateStore(path string, opts ...FileStateOption) (*FileStateStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create state directory: %v", ErrStore, err)
	}

	s := &FileStateStore{
		path:    path,
		lock:    flock.New(path + ".lock"),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// view runs fn over the current file contents under a shared lock.
func (s *FileStateStore) view(fn func(values map[string]string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.RLock(); err != nil {
		return fmt.Errorf("%w: failed to lock state file: %v", ErrStore, err)
	}
	defer s.lock.Unlock()

	fn(s.read())
	return nil
}

// update runs fn over the current file contents under an exclusive lock
// and saves the result when fn reports a change.
func (s *FileStateStore) update(fn func(values map[string]string) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("%w: failed to lock state file: %v", ErrStore, err)
	}
	defer s.lock.Unlock()

	values := s.read()
	if !fn(values) {
		return nil
	}
	return s.write(values)
}

// read loads the file. Missing and corrupted files read as empty.
func (s *FileStateStore) read() map[string]string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("version state %s unreadable, treating as empty: %v", s.path, err)
		}
		return make(map[string]string)
	}

	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		logger.Warn("version state %s corrupted, treating as empty: %v", s.path, err)
		return make(map[string]string)
	}
	if sf.Values == nil {
		return make(map[string]string)
	}
	return sf.Values
}

func (s *FileStateStore) Get(_ context.Context, key string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := s.view(func(values map[string]string) {
		v, ok = values[key]
	})
	return v, ok, err
}

func (s *FileStateStore) Set(_ context.Context, key, value string) error {
	return s.update(func(values map[string]string) bool {
		if prev, ok := values[key]; ok && prev == value {
			return false
		}
		values[key] = value
		return true
	})
}

func (s *FileStateStore) Delete(_ context.Context, key string) error {
	return s.update(func(values map[string]string) bool {
		if _, ok := values[key]; !ok {
			return false
		}
		delete(values, key)
		return true
	})
}

// Keys returns every stored key in sorted order.
func (s *FileStateStore) Keys() []string {
	var keys []string
	if err := s.view(func(values map[string]string) {
		keys = make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
	}); err != nil {
		logger.Warn("listing version state: %v", err)
	}
	sort.Strings(keys)
	return keys
}

// LockCycle takes the cross-process lock for one product's check cycle.
// With wait unset it returns acquired false when another process holds it.
func (s *FileStateStore) LockCycle(ctx context.Context, product ProductID, wait bool) (func(), bool, error) {
	fl := flock.New(fmt.Sprintf("%s.%s.lock", s.path, product))

	var (
		ok  bool
		err error
	)
	if wait {
		ok, err = fl.TryLockContext(ctx, cycleLockRetry)
	} else {
		ok, err = fl.TryLock()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		return nil, false, fmt.Errorf("%w: failed to lock %s cycle: %v", ErrStore, product, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() { fl.Unlock() }, true, nil
}

// write persists values. Caller must hold the exclusive lock.
func (s *FileStateStore) write(values map[string]string) error {
	data, err := json.MarshalIndent(stateFile{Values: values, UpdatedAt: s.nowFunc()}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to marshal state: %v", ErrStore, err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("%w: failed to write state file: %v", ErrStore, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to rename state file: %v", ErrStore, err)
	}
	return nil
}
