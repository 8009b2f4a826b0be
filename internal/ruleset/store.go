package ruleset

import (
	"context"
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/driftgate/driftgate/internal/expect"
)

// Store holds the current rule-set snapshot keyed by dataset. A pipeline
// run reads its rules once through RulesFor and is never affected by a
// reload that lands mid-run: snapshots are immutable and replaced whole.
type Store struct {
	mu   sync.RWMutex
	path string
	byDS map[string][]expect.Expectation
}

// NewStore creates a store over an already-loaded rule-set file.
func NewStore(path string, f *File) *Store {
	s := &Store{path: path}
	s.replace(f)
	return s
}

// Open loads the rule-set file at path and wraps it in a store. An empty
// path yields an empty store: datasets without configured rules validate
// with zero expectations.
func Open(path string) (*Store, error) {
	if path == "" {
		return &Store{byDS: make(map[string][]expect.Expectation)}, nil
	}
	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewStore(path, f), nil
}

// replace swaps in a new snapshot built from the file.
func (s *Store) replace(f *File) {
	snapshot := make(map[string][]expect.Expectation, len(f.RuleSets))
	for _, rs := range f.RuleSets {
		exps := make([]expect.Expectation, len(rs.Expectations))
		copy(exps, rs.Expectations)
		snapshot[rs.Dataset] = exps
	}

	s.mu.Lock()
	s.byDS = snapshot
	s.mu.Unlock()
}

// RulesFor returns the configured expectations for a dataset in
// configuration order. The returned slice is the caller's to keep; a nil
// result means no rules are configured for the dataset.
func (s *Store) RulesFor(dataset string) []expect.Expectation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exps, ok := s.byDS[dataset]
	if !ok {
		return nil
	}
	out := make([]expect.Expectation, len(exps))
	copy(out, exps)
	return out
}

// Datasets returns the dataset names with configured rules.
func (s *Store) Datasets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.byDS))
	for name := range s.byDS {
		names = append(names, name)
	}
	return names
}

// Watch hot-reloads the store when the rule-set file changes on disk. It
// blocks until the context is cancelled. A reload that fails to parse or
// validate logs a warning and keeps the last good snapshot. The watch is
// on the parent directory so editor rename-and-replace saves are caught.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return err
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			f, err := Load(s.path)
			if err != nil {
				log.Printf("[WARN] ruleset: reload of %s failed, keeping previous rules: %v", s.path, err)
				continue
			}
			s.replace(f)
			log.Printf("ruleset: reloaded %s (%d rule sets)", s.path, len(f.RuleSets))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[WARN] ruleset: watcher error: %v", err)
		}
	}
}
