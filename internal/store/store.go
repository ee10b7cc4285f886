// Package store implements the Settings Store: a durable, ordered,
// keyed record of cameras plus a singleton settings row. No SQL or
// embedded-database driver appears anywhere in this codebase's dependency
// graph (see DESIGN.md), so the store is a single atomically-rewritten JSON
// file, guarded by an in-process mutex — every mutation observable by a
// later read within this process, matching SPEC_FULL.md §4.1's contract.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/mrmees/ravens-perch/internal/apierrors"
	"github.com/mrmees/ravens-perch/internal/config"
	"github.com/mrmees/ravens-perch/internal/logging"
)

// minFreeBytes is the free-space precondition checked at startup, per
// SPEC_FULL.md §11's wiring of gopsutil/v3/disk into the Settings Store.
const minFreeBytes = 16 * 1024 * 1024

// maxLogEntries bounds the append-only logs table so a long-lived process
// can never grow the store file without limit; the oldest rows are dropped
// once the bound is hit.
const maxLogEntries = 2000

type document struct {
	Cameras  map[string]Camera `json:"cameras"`
	Settings Settings          `json:"settings"`
	Logs     []LogEntry        `json:"logs"`
}

// Store is the Settings Store.
type Store struct {
	mu       sync.RWMutex
	path     string
	logger   *logging.Logger
	doc      document
}

// Open loads (or initializes) the store at cfg.Directory/cfg.FileName. A
// corrupt existing file is a fatal, distinguishable error
// (apierrors.KindCorruption), per SPEC_FULL.md §4.1 and §8 "fatal vs
// recoverable".
func Open(cfg config.StoreConfig, logger *logging.Logger) (*Store, error) {
	if err := checkFreeSpace(cfg.Directory); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, apierrors.Corruption("store.open", "cannot create store directory", err)
	}

	path := filepath.Join(cfg.Directory, cfg.FileName)
	s := &Store{path: path, logger: logger, doc: document{Cameras: make(map[string]Camera)}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, apierrors.Corruption("store.open", "cannot read store file", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, apierrors.Corruption("store.open", "store file failed schema check", err)
	}
	if s.doc.Cameras == nil {
		s.doc.Cameras = make(map[string]Camera)
	}
	return s, nil
}

func checkFreeSpace(directory string) error {
	probeDir := directory
	if _, err := os.Stat(probeDir); os.IsNotExist(err) {
		probeDir = filepath.Dir(probeDir)
	}
	usage, err := disk.Usage(probeDir)
	if err != nil {
		// Free-space probing is a precondition, not a requirement; a
		// platform where gopsutil cannot report usage should not prevent
		// startup.
		return nil
	}
	if usage.Free < minFreeBytes {
		return apierrors.Corruption("store.open", fmt.Sprintf("only %d bytes free, need at least %d", usage.Free, minFreeBytes), nil)
	}
	return nil
}

// Get returns the camera record for uid, if present.
func (s *Store) Get(uid string) (Camera, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.doc.Cameras[uid]
	return c, ok
}

// List returns all camera records ordered by UID, for deterministic
// iteration in tests and in the Reconciler's convergence passes.
func (s *Store) List() []Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uids := make([]string, 0, len(s.doc.Cameras))
	for uid := range s.doc.Cameras {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	out := make([]Camera, 0, len(uids))
	for _, uid := range uids {
		out = append(out, s.doc.Cameras[uid])
	}
	return out
}

// Upsert inserts or replaces a camera record and persists the store.
func (s *Store) Upsert(c Camera) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.doc.Cameras[c.UID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = c.UpdatedAt
	}
	s.doc.Cameras[c.UID] = c
	return s.persistLocked()
}

// Delete removes a camera record. Deleting an absent UID is a no-op.
func (s *Store) Delete(uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.Cameras, uid)
	return s.persistLocked()
}

// GetSettings and SetSettings expose the singleton settings row. The spec
// names them as generic key/value operations; this store keeps Settings as
// a concrete typed struct rather than a loose map, consistent with
// SPEC_FULL.md §9's mandate against dynamically-typed payloads, and these
// two methods are the typed equivalent.
func (s *Store) GetSettings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Settings
}

func (s *Store) SetSettings(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Settings = settings
	return s.persistLocked()
}

// AppendLog appends one row to the append-only logs table and persists the
// store. cameraUID may be empty for log lines not tied to a specific
// camera. Entries beyond maxLogEntries are dropped oldest-first.
func (s *Store) AppendLog(entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Logs = append(s.doc.Logs, entry)
	if len(s.doc.Logs) > maxLogEntries {
		s.doc.Logs = s.doc.Logs[len(s.doc.Logs)-maxLogEntries:]
	}
	return s.persistLocked()
}

// Logs returns the append-only logs table, oldest first.
func (s *Store) Logs() []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LogEntry, len(s.doc.Logs))
	copy(out, s.doc.Logs)
	return out
}

// persistLocked writes the document atomically: serialize to a temp file in
// the same directory, fsync, then rename over the live path. The rename is
// atomic on the POSIX filesystems this engine targets, so a crash mid-write
// never leaves a torn store file.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return apierrors.Corruption("store.persist", "failed to marshal store document", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".store-*.tmp")
	if err != nil {
		return apierrors.Transient("store.persist", "", "cannot create temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apierrors.Transient("store.persist", "", "write failed", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apierrors.Transient("store.persist", "", "fsync failed", err)
	}
	if err := tmp.Close(); err != nil {
		return apierrors.Transient("store.persist", "", "close failed", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return apierrors.Transient("store.persist", "", "rename failed", err)
	}
	return nil
}

// Touch stamps UpdatedAt (and CreatedAt, on first sight) using the supplied
// time, keeping the store itself free of any direct time.Now() call so its
// persistence logic stays deterministic and unit-testable.
func Touch(c Camera, now time.Time) Camera {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return c
}
