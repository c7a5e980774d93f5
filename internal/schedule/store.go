// Package schedule keeps the persisted set of pending jobs ordered by publish
// time.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	logx "xposter/pkg/logx"
)

// Entry is one pending job reference and its publish time.
type Entry struct {
	Path      string    `json:"path"`
	PublishAt time.Time `json:"publish_at"`
}

// Store is an ordered set of entries with at most one entry per path,
// sorted by publish time then path. Every mutation rewrites the whole file.
type Store struct {
	mu      sync.Mutex
	path    string
	entries []Entry
	log     logx.Logger
}

// Open loads the store from path. A missing file is an empty schedule; an
// unreadable one is set aside as <path>.corrupt and replaced.
func Open(path string, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{path: path, log: log.With(logx.String("comp", "schedule"))}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, err
	}
	if len(b) == 0 {
		return s, nil
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		bad := path + ".corrupt"
		s.log.Warn("schedule.corrupt", logx.String("path", path), logx.String("moved_to", bad), logx.Err(err))
		if rerr := os.Rename(path, bad); rerr != nil {
			return nil, fmt.Errorf("schedule %s: %w", path, err)
		}
		return s, nil
	}
	s.entries = dedupe(entries)
	sortEntries(s.entries)
	return s, nil
}

// Add inserts or replaces the entry for ref.
func (s *Store) Add(ref string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = without(s.entries, ref)
	s.entries = append(s.entries, Entry{Path: ref, PublishAt: when.UTC()})
	sortEntries(s.entries)
	return s.saveLocked()
}

// Remove drops the entry for ref. It reports whether one existed.
func (s *Store) Remove(ref string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = without(s.entries, ref)
	if len(s.entries) == n {
		return false, nil
	}
	return true, s.saveLocked()
}

// Replace swaps the whole schedule, e.g. after a rescan.
func (s *Store) Replace(entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]Entry, 0, len(entries))
	for _, e := range entries {
		next = append(next, Entry{Path: e.Path, PublishAt: e.PublishAt.UTC()})
	}
	s.entries = dedupe(next)
	sortEntries(s.entries)
	return s.saveLocked()
}

// PeekEarliest returns the first entry without removing it.
func (s *Store) PeekEarliest() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[0], true
}

// PopReady removes and returns, in order, every ref due at or before now.
func (s *Store) PopReady(now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := 0
	for i < len(s.entries) && !s.entries[i].PublishAt.After(now) {
		i++
	}
	if i == 0 {
		return nil, nil
	}
	refs := make([]string, 0, i)
	for _, e := range s.entries[:i] {
		refs = append(refs, e.Path)
	}
	s.entries = append([]Entry(nil), s.entries[i:]...)
	return refs, s.saveLocked()
}

// Entries returns a copy of the ordered schedule.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Flush persists the current schedule.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	list := s.entries
	if list == nil {
		list = []Entry{}
	}
	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func sortEntries(es []Entry) {
	sort.SliceStable(es, func(i, j int) bool {
		if !es[i].PublishAt.Equal(es[j].PublishAt) {
			return es[i].PublishAt.Before(es[j].PublishAt)
		}
		return es[i].Path < es[j].Path
	})
}

func without(es []Entry, ref string) []Entry {
	out := es[:0]
	for _, e := range es {
		if e.Path != ref {
			out = append(out, e)
		}
	}
	return out
}

// dedupe keeps the last entry for each path.
func dedupe(es []Entry) []Entry {
	last := make(map[string]int, len(es))
	for i, e := range es {
		last[e.Path] = i
	}
	out := make([]Entry, 0, len(last))
	for i, e := range es {
		if last[e.Path] == i {
			out = append(out, e)
		}
	}
	return out
}
