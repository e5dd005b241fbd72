// internal/state/file.go
package state

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

	"github.com/user/stevebot/internal/types"
)

// FileStore is a JSON-file-backed snapshot store. All snapshots live in one
// file at sessions/snapshots.json which is replaced as a whole on every write.
// A sibling .lock file serialises writers across processes (daemon and CLI).
type FileStore struct {
	root string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewFileStore creates a new file-backed FileStore rooted at the given directory.
func NewFileStore(root string) *FileStore {
	s := &FileStore{root: root}
	s.lock = flock.New(s.path() + ".lock")
	return s
}

func (s *FileStore) path() string {
	return filepath.Join(s.root, "sessions", "snapshots.json")
}

// Path returns the file path used by this store.
func (s *FileStore) Path() string {
	return s.path()
}

// load reads snapshots.json and returns a map keyed by SessionKey.
func (s *FileStore) load() (map[types.SessionKey]*types.Snapshot, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.SessionKey]*types.Snapshot), nil
		}
		return nil, fmt.Errorf("read snapshots: %w", err)
	}

	var snaps []*types.Snapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, fmt.Errorf("unmarshal snapshots: %w", err)
	}

	index := make(map[types.SessionKey]*types.Snapshot, len(snaps))
	for _, snap := range snaps {
		index[snap.Key] = snap
	}
	return index, nil
}

// save writes every snapshot sorted by key, atomically.
func (s *FileStore) save(index map[types.SessionKey]*types.Snapshot) error {
	snaps := make([]*types.Snapshot, 0, len(index))
	for _, snap := range index {
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Key < snaps[j].Key })

	data, err := json.MarshalIndent(snaps, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshots: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path()), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp snapshots: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp snapshots: %w", err)
	}
	return nil
}

func (s *FileStore) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path()), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock snapshots: %w", err)
	}
	defer s.lock.Unlock()
	return fn()
}

// Load returns every stored snapshot.
func (s *FileStore) Load(_ context.Context) (map[types.SessionKey]*types.Snapshot, error) {
	var index map[types.SessionKey]*types.Snapshot
	err := s.withLock(func() error {
		var err error
		index, err = s.load()
		return err
	})
	return index, err
}

// Save replaces the snapshot for snap.Key, setting UpdatedAt to now.
func (s *FileStore) Save(_ context.Context, snap *types.Snapshot) error {
	if snap.Key == "" {
		return fmt.Errorf("snapshot key is required")
	}
	return s.withLock(func() error {
		index, err := s.load()
		if err != nil {
			return err
		}
		snap.UpdatedAt = time.Now()
		index[snap.Key] = snap
		return s.save(index)
	})
}

// Delete removes the snapshot for key. Deleting a missing key is not an error.
func (s *FileStore) Delete(_ context.Context, key types.SessionKey) error {
	return s.withLock(func() error {
		index, err := s.load()
		if err != nil {
			return err
		}
		if _, ok := index[key]; !ok {
			return nil
		}
		delete(index, key)
		return s.save(index)
	})
}

// Close releases nothing; the lock is only held during calls.
func (s *FileStore) Close() error {
	return nil
}
