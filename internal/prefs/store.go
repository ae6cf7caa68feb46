// Package prefs persists the static-resource filter preference.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DefaultHideStatic applies when nothing usable is stored.
const DefaultHideStatic = true

type preferences struct {
	HideStaticResources *bool `json:"hideStaticResources"`
}

// FileStore keeps preferences in a small JSON file.
type FileStore struct {
	path string
	mu   sync.RWMutex
	last bool
}

// NewFileStore creates a FileStore and ensures the parent directory exists.
func NewFileStore(path string) (*FileStore, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prefs store: mkdir %s: %w", filepath.Dir(path), err)
	}
	return &FileStore{path: path, last: DefaultHideStatic}, nil
}

func (s *FileStore) Path() string { return s.path }

// read returns the stored value and whether it was present and valid.
func (s *FileStore) read() (bool, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to read preferences", "path", s.path, "error", err)
		}
		return DefaultHideStatic, false
	}
	var p preferences
	if err := json.Unmarshal(data, &p); err != nil {
		slog.Warn("Malformed preferences file", "path", s.path, "error", err)
		return DefaultHideStatic, false
	}
	if p.HideStaticResources == nil {
		return DefaultHideStatic, false
	}
	return *p.HideStaticResources, true
}

// Load returns the stored preference. A missing or unreadable value is
// replaced by the default, which is written back.
func (s *FileStore) Load() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.read()
	s.last = value
	if ok {
		return value, nil
	}
	if err := s.write(value); err != nil {
		return value, err
	}
	return value, nil
}

// Set persists the preference.
func (s *FileStore) Set(value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = value
	return s.write(value)
}

func (s *FileStore) write(value bool) error {
	data, err := json.MarshalIndent(preferences{HideStaticResources: &value}, "", "  ")
	if err != nil {
		return fmt.Errorf("prefs store: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("prefs store: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("prefs store: rename: %w", err)
	}
	return nil
}

// Watch calls fn whenever the file changes to a value different from the
// last one loaded, set or reported. It returns once the watcher is running;
// watching stops when ctx is done.
func (s *FileStore) Watch(ctx context.Context, fn func(bool)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("prefs store: watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("prefs store: watch %s: %w", filepath.Dir(s.path), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != s.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				s.notify(fn)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Preferences watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (s *FileStore) notify(fn func(bool)) {
	s.mu.Lock()
	value, ok := s.read()
	if !ok || value == s.last {
		s.mu.Unlock()
		return
	}
	s.last = value
	s.mu.Unlock()

	slog.Info("Preference changed on disk", "hide_static_resources", value)
	fn(value)
}
