// Package auth holds the process's authentication state: the current
// session snapshot, its on-disk persistence, and browser-login tasks.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/campushq/coursetrack/session"
)

// SnapshotStore persists a session snapshot across process restarts.
type SnapshotStore interface {
	Load() (session.Snapshot, error)
	Save(session.Snapshot) error
	Clear() error
}

// FileSnapshotStore keeps the snapshot as a JSON file.
type FileSnapshotStore struct {
	path string
}

// NewFileSnapshotStore creates a file-backed snapshot store at path.
func NewFileSnapshotStore(path string) *FileSnapshotStore {
	return &FileSnapshotStore{path: path}
}

// Load reads the stored snapshot. A missing file is not an error; it
// loads as an empty snapshot.
func (f *FileSnapshotStore) Load() (session.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return session.Snapshot{}, nil
	}
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("read session snapshot: %w", err)
	}
	var snapshot session.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return session.Snapshot{}, fmt.Errorf("parse session snapshot: %w", err)
	}
	return snapshot, nil
}

// Save writes the snapshot. Cookies are credentials, so the file is
// owner-readable only.
func (f *FileSnapshotStore) Save(snapshot session.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session snapshot: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("write session snapshot: %w", err)
	}
	return nil
}

// Clear removes the stored snapshot.
func (f *FileSnapshotStore) Clear() error {
	err := os.Remove(f.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session snapshot: %w", err)
	}
	return nil
}

// SessionProvider is a live, already-authenticated browser session. A
// login flow parks one here so the next sync run can reuse the open
// browser instead of restoring from cookies.
type SessionProvider interface {
	IsValid() bool
	Close() error
}

// Store holds the current snapshot in memory and mirrors changes to a
// SnapshotStore. It may also hold a parked live session. Safe for
// concurrent use.
type Store struct {
	mu       sync.Mutex
	snapshot session.Snapshot
	live     SessionProvider
	persist  SnapshotStore
	log      logrus.FieldLogger
}

// NewStore creates a Store, loading any previously persisted snapshot.
// A corrupt or unreadable snapshot file is logged and treated as absent.
func NewStore(persist SnapshotStore, logger logrus.FieldLogger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Store{persist: persist, log: logger}
	if persist != nil {
		snapshot, err := persist.Load()
		if err != nil {
			logger.WithError(err).Warn("could not load saved session; starting unauthenticated")
		} else {
			s.snapshot = snapshot
		}
	}
	return s
}

// Authenticated reports whether a usable snapshot is held.
func (s *Store) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.snapshot.Empty()
}

// Snapshot returns the held snapshot, or ErrNotAuthenticated.
func (s *Store) Snapshot() (session.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot.Empty() {
		return session.Snapshot{}, ErrNotAuthenticated
	}
	return s.snapshot, nil
}

// SetSnapshot replaces the held snapshot and persists it.
func (s *Store) SetSnapshot(snapshot session.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
	if s.persist == nil {
		return nil
	}
	return s.persist.Save(snapshot)
}

// SetLiveSession parks an authenticated live session for the next sync
// run. A previously parked session is closed.
func (s *Store) SetLiveSession(sess SessionProvider) {
	s.mu.Lock()
	prev := s.live
	s.live = sess
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// TakeLiveSession hands over the parked live session, if any. The
// caller owns it afterwards, including closing it.
func (s *Store) TakeLiveSession() SessionProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.live
	s.live = nil
	return sess
}

// Clear drops the held snapshot, its persisted copy, and any parked
// live session.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.snapshot = session.Snapshot{}
	live := s.live
	s.live = nil
	s.mu.Unlock()
	if live != nil {
		live.Close()
	}
	if s.persist == nil {
		return nil
	}
	return s.persist.Clear()
}
