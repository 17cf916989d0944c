// Package banstore persists banned addresses to the plain text file that the
// fronting proxy includes as an ACL (one address per line).
//
// The file is the single source of truth: CurrentBans reads it fresh on every
// call so edits made by an operator or another tool are honoured. This
// process only ever appends to it.
package banstore

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/lao-tseu-is-alive/go-ban-watch/internal/errkind"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/ipset"
)

// Options configures a Store.
type Options struct {
	// Cache keeps the parsed file in memory and drops it whenever fsnotify
	// reports a change to the file or this process appends to it.
	Cache bool
}

// Store reads and appends the ban file.
type Store struct {
	path   string
	logger *log.Logger

	// syncFile flushes an appended line; os.File.Sync outside tests
	syncFile func(*os.File) error

	// cacheMu orders cache fills against invalidations: a set read before an
	// invalidation must never be stored after it.
	cacheMu sync.Mutex
	gen     uint64
	cached  atomic.Pointer[ipset.Set]
	caching bool
	watcher *fsnotify.Watcher

	done      chan struct{}
	closeOnce sync.Once
}

// New returns a store for path. The file does not need to exist yet.
// If caching is requested but the watcher cannot be set up, the store falls
// back to reading the file on every call.
func New(path string, opts Options, logger *log.Logger) *Store {
	s := &Store{
		path:     path,
		logger:   logger,
		syncFile: (*os.File).Sync,
		done:     make(chan struct{}),
	}
	switch _, err := os.Stat(path); {
	case os.IsNotExist(err):
		logger.Warn("⚠️ ban file not found, starting with an empty ban list", "path", path)
	case err != nil:
		logger.Warn("⚠️ cannot stat ban file", "path", path, "err", err)
	}
	if opts.Cache {
		if err := s.startWatch(); err != nil {
			logger.Warn("⚠️ ban file cache disabled, reading the file on every event", "path", path, "err", err)
		} else {
			s.caching = true
		}
	}
	return s
}

// Path returns the ban file path.
func (s *Store) Path() string {
	return s.path
}

// CurrentBans returns the set of banned addresses as currently persisted.
// A missing file is an empty set, not an error.
func (s *Store) CurrentBans() (*ipset.Set, error) {
	var gen uint64
	if s.caching {
		if set := s.cached.Load(); set != nil {
			return set, nil
		}
		gen = s.generation()
	}

	set, skipped, err := ipset.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		set = ipset.Empty()
	case err != nil:
		return nil, errkind.E(errkind.IO, "read ban file", err)
	}
	for _, entry := range skipped {
		s.logger.Warn("⚠️ ignoring unparseable ban file entry", "path", s.path, "err", ipset.EntryError("parse ban file", entry))
	}

	if s.caching {
		s.storeIfCurrent(set, gen)
	}
	return set, nil
}

// Contains reports whether addr is covered by the persisted ban list.
func (s *Store) Contains(addr netip.Addr) (bool, error) {
	set, err := s.CurrentBans()
	if err != nil {
		return false, err
	}
	return set.Contains(addr), nil
}

// Append durably adds addr as a new line. It does not deduplicate; callers
// check CurrentBans first.
//
// The whole line goes out in a single O_APPEND write followed by fsync, so a
// proxy reading the file concurrently never sees a partial entry. If the file
// does not end with a newline (hand edited), one is written first in the
// same write.
//
// Once the write succeeded the entry is visible to readers, so a failed fsync
// is logged and not returned: the caller must still reload the proxy.
func (s *Store) Append(addr netip.Addr) error {
	if !addr.IsValid() {
		return errkind.Errorf(errkind.Validation, "append ban", "invalid address")
	}
	defer s.invalidate()

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return errkind.E(errkind.IO, "open ban file", err)
	}
	defer f.Close()

	line := addr.Unmap().String() + "\n"
	needsNewline, err := missingTrailingNewline(f)
	if err != nil {
		return errkind.E(errkind.IO, "inspect ban file", err)
	}
	if needsNewline {
		line = "\n" + line
	}

	if _, err := f.WriteString(line); err != nil {
		return errkind.E(errkind.IO, "write ban file", err)
	}
	if err := s.syncFile(f); err != nil {
		s.logger.Warn("⚠️ ban written but fsync failed, entry may not survive a crash",
			"path", s.path, "ip", addr, "err", errkind.E(errkind.IO, "sync ban file", err))
	}
	return nil
}

// Close stops the cache watcher, if any. Safe to call multiple times.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}

func (s *Store) invalidate() {
	s.cacheMu.Lock()
	s.gen++
	s.cached.Store(nil)
	s.cacheMu.Unlock()
}

func (s *Store) generation() uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.gen
}

// storeIfCurrent caches set unless an invalidation happened since gen was
// taken, in which case set may predate the change and is dropped.
func (s *Store) storeIfCurrent(set *ipset.Set, gen uint64) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.gen == gen {
		s.cached.Store(set)
	}
}

func missingTrailingNewline(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}

// startWatch watches the ban file's directory (more reliable than the file
// itself across editors that replace files) and drops the cache on any event
// for the ban file.
func (s *Store) startWatch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	s.watcher = watcher
	go s.watchLoop()
	return nil
}

func (s *Store) watchLoop() {
	filename := filepath.Base(s.path)
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) == filename {
				s.invalidate()
				s.logger.Debug("ban file changed, cache dropped", "path", s.path, "op", event.Op.String())
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			// a missed event could leave the cache stale
			s.invalidate()
			s.logger.Warn("⚠️ ban file watcher error", "path", s.path, "err", err)
		}
	}
}
