package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"whisperkey/log"
)

const debounce = 300 * time.Millisecond

// Store holds the current settings for one file. Readers get copies.
type Store struct {
	path string

	mu       sync.RWMutex
	settings Settings
}

func Open(path string) (*Store, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, settings: s}, nil
}

// NewStore wraps already loaded settings; Watch then has nothing to watch.
func NewStore(s Settings) *Store {
	return &Store{settings: s}
}

func (s *Store) Path() string { return s.path }

func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Store) Get(key string) (string, bool) {
	return s.Settings().Get(key)
}

// Update replaces the in-memory settings without touching the file.
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.settings
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	s.settings = next
	return nil
}

// Watch reloads the file whenever it changes and calls fn with the new
// settings. Invalid edits are logged and ignored. Watch blocks until ctx is
// done.
func (s *Store) Watch(ctx context.Context, fn func(Settings)) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Editors save by rename, so watch the directory.
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return err
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warnf("config watch: %v", err)
		case <-reload:
			next, err := Load(s.path)
			if err != nil {
				log.Warnf("config reload ignored: %v", err)
				continue
			}
			s.mu.Lock()
			changed := next != s.settings
			s.settings = next
			s.mu.Unlock()
			if changed {
				log.Infof("config reloaded from %s", s.path)
				fn(next)
			}
		}
	}
}
