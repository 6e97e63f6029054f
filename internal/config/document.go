package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when a mutation produces a document that fails
// validation. The document on disk is left untouched. The API layer maps
// this to 422.
var ErrInvalid = errors.New("invalid config document")

// lockRetryInterval is how often Update polls for the inter-process lock.
const lockRetryInterval = 50 * time.Millisecond

// ChangeSource identifies who modified the document.
type ChangeSource string

const (
	// SourceAPI marks changes written through Update or Replace.
	SourceAPI ChangeSource = "api"
	// SourceFile marks changes picked up from the file watcher, i.e.
	// an operator editing the YAML directly.
	SourceFile ChangeSource = "file"
)

// Change is delivered to subscribers after the document changes.
type Change struct {
	Config *Config
	Source ChangeSource
}

// Store owns the persisted configuration document. All writes go through
// an exclusive inter-process file lock with read-modify-write semantics,
// and every write is an atomic replace. Readers always get a snapshot,
// never a reference into mutable state.
type Store struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger

	// writeMu serializes in-process writers; the flock only guards
	// against other processes and is reentrant within this one.
	writeMu sync.Mutex

	mu        sync.RWMutex
	current   *Config
	lastWrite [sha256.Size]byte

	watcher *fsnotify.Watcher

	subMu   sync.Mutex
	subs    map[int]chan Change
	nextSub int

	done     chan struct{}
	stopOnce sync.Once
}

// NewStore opens the document at path, creating it from initial when it
// does not exist yet. A nil initial means defaults. The store watches the
// containing directory so external edits are picked up and fanned out to
// subscribers.
func NewStore(path string, initial *Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if initial == nil {
		initial = Default()
	}
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	s := &Store{
		path:   abs,
		lock:   flock.New(abs + ".lock"),
		logger: logger,
		subs:   make(map[int]chan Change),
		done:   make(chan struct{}),
	}

	cfg, err := s.loadOrCreate(initial)
	if err != nil {
		return nil, err
	}
	s.current = cfg

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}
	// Watch the directory: atomic replaces recreate the file, and a watch
	// on the old inode would go stale after the first write.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching config directory: %w", err)
	}
	s.watcher = watcher
	go s.watch()

	return s, nil
}

// loadOrCreate reads the document, writing the initial one when missing.
func (s *Store) loadOrCreate(initial *Config) (*Config, error) {
	locked, err := s.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring config lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("config file %s is locked by another process", s.path)
	}
	defer s.lock.Unlock() //nolint:errcheck

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		if werr := s.writeLocked(initial); werr != nil {
			return nil, werr
		}
		return initial.Clone(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config document: %w", err)
	}

	cfg, err := decodeDocument(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, err)
	}
	s.lastWrite = sha256.Sum256(data)
	return cfg, nil
}

// Get returns a snapshot of the current document.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Path returns the absolute path of the persisted document.
func (s *Store) Path() string {
	return s.path
}

// Update applies mutate to a copy of the on-disk document under the
// exclusive lock, validates the result, and atomically replaces the file.
// The document is re-read from disk inside the critical section so
// concurrent writers from other processes are never clobbered. On any
// error the on-disk document is unchanged.
func (s *Store) Update(ctx context.Context, mutate func(*Config) error) (*Config, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	locked, err := s.lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("acquiring config lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("config lock not acquired")
	}
	defer s.lock.Unlock() //nolint:errcheck

	cfg, err := s.readLocked()
	if err != nil {
		return nil, err
	}

	if err := mutate(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, err)
	}

	if err := s.writeLocked(cfg); err != nil {
		return nil, err
	}

	snapshot := cfg.Clone()
	s.mu.Lock()
	s.current = snapshot
	s.mu.Unlock()
	s.notify(Change{Config: snapshot.Clone(), Source: SourceAPI})

	return snapshot, nil
}

// Replace overwrites the whole document, as a PUT of the full config does.
func (s *Store) Replace(ctx context.Context, next *Config) (*Config, error) {
	return s.Update(ctx, func(cfg *Config) error {
		*cfg = *next.Clone()
		return nil
	})
}

// Subscribe registers a change listener. The returned cancel function
// must be called to release it. Slow subscribers miss intermediate
// changes rather than blocking writers.
func (s *Store) Subscribe() (<-chan Change, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Change, 4)
	s.subs[id] = ch

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Close stops the watcher and closes all subscriber channels.
func (s *Store) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
		s.subMu.Lock()
		for id, ch := range s.subs {
			delete(s.subs, id)
			close(ch)
		}
		s.subMu.Unlock()
	})
	return err
}

// readLocked reads and decodes the document. Caller holds the file lock.
func (s *Store) readLocked() (*Config, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.current.Clone(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config document: %w", err)
	}
	return decodeDocument(data)
}

// writeLocked marshals cfg and atomically replaces the document.
// Caller holds the file lock.
func (s *Store) writeLocked(cfg *Config) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding config document: %w", err)
	}

	data := buf.Bytes()
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing config document: %w", err)
	}

	s.mu.Lock()
	s.lastWrite = sha256.Sum256(data)
	s.mu.Unlock()
	return nil
}

// decodeDocument unmarshals a YAML document over the defaults so partial
// documents get every unspecified field filled in.
func decodeDocument(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, err)
	}
	return cfg, nil
}

// watch reloads the document when something other than this process
// rewrites it.
func (s *Store) watch() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			s.reload()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("config watcher error", "error", err)
		}
	}
}

// reload picks up an external edit. Invalid documents are logged and
// skipped; the last valid snapshot stays live.
func (s *Store) reload() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		// Replace-in-progress produces a transient window with no file.
		return
	}

	sum := sha256.Sum256(data)
	s.mu.RLock()
	own := sum == s.lastWrite
	s.mu.RUnlock()
	if own {
		// Echo of our own atomic replace.
		return
	}

	cfg, err := decodeDocument(data)
	if err != nil {
		s.logger.Warn("ignoring external config edit", "error", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		s.logger.Warn("ignoring invalid external config edit", "error", err)
		return
	}

	s.mu.Lock()
	s.current = cfg
	s.lastWrite = sum
	s.mu.Unlock()

	s.logger.Info("config reloaded from external edit", "path", s.path)
	s.notify(Change{Config: cfg.Clone(), Source: SourceFile})
}

// notify fans a change out to subscribers without blocking on any of them.
func (s *Store) notify(change Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Server.CORSOrigins = slices.Clone(c.Server.CORSOrigins)
	out.FFmpeg.ExtraInputArgs = slices.Clone(c.FFmpeg.ExtraInputArgs)
	out.Storage.MediaRoots = slices.Clone(c.Storage.MediaRoots)
	out.Playout.PrewarmChannels = slices.Clone(c.Playout.PrewarmChannels)
	return &out
}
