package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// RulesStore holds the current rules snapshot and reloads it when the file changes.
// A failed reload keeps the previous snapshot.
type RulesStore struct {
	path string

	mu       sync.RWMutex
	rules    *Rules
	loadedAt time.Time
}

// NewRulesStore loads path. A missing file yields the default rules so a fresh
// install runs with the global fallback threshold only.
func NewRulesStore(path string) (*RulesStore, error) {
	s := &RulesStore{path: path}
	rules, err := LoadRules(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Printf("Rules file %s not found, using default rules", path)
		rules = DefaultRules()
	case err != nil:
		return nil, err
	}
	s.set(rules)
	return s, nil
}

// NewStaticRulesStore wraps fixed rules, for tests and embedded use.
func NewStaticRulesStore(rules *Rules) *RulesStore {
	s := &RulesStore{}
	s.set(rules)
	return s
}

func (s *RulesStore) set(rules *Rules) {
	s.mu.Lock()
	s.rules = rules
	s.loadedAt = time.Now()
	s.mu.Unlock()
}

// Snapshot returns the current rules. Callers take one snapshot per batch and
// must not modify it.
func (s *RulesStore) Snapshot() *Rules {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules
}

// LoadedAt is when the current snapshot was installed.
func (s *RulesStore) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// Reload re-reads the rules file.
func (s *RulesStore) Reload() error {
	if s.path == "" {
		return nil
	}
	rules, err := LoadRules(s.path)
	if err != nil {
		return err
	}
	s.set(rules)
	log.Printf("Reloaded compliance rules from %s (%d regions)", s.path, len(rules.Regions))
	return nil
}

// Watch reloads the rules whenever the file is written, created or renamed into
// place. The directory is watched so editors that replace the file are seen.
func (s *RulesStore) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create rules watcher: %w", err)
	}
	target := filepath.Clean(s.path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != target {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := s.Reload(); err != nil {
					log.Printf("Rules reload failed, keeping previous rules: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("Rules watcher error: %v", err)
			}
		}
	}()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch rules directory: %w", err)
	}
	return nil
}
