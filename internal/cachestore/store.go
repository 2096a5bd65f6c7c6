package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"
	"golang.org/x/sys/unix"

	"vidscribe/internal/fileutil"
	"vidscribe/internal/logging"
	"vidscribe/internal/services"
)

const (
	recordExt      = ".json"
	blobSuffix     = ".blob"
	locksDir       = ".locks"
	lockRetryDelay = 200 * time.Millisecond
)

// WriteMode selects how Write treats an existing record.
type WriteMode int

const (
	// WriteExclusive fails with services.ErrAlreadyExists when the record exists.
	WriteExclusive WriteMode = iota
	// WriteOverwrite replaces any existing record.
	WriteOverwrite
)

// statfsFunc allows tests to stub filesystem stats.
type statfsFunc func(path string) (total uint64, free uint64, err error)

// Store is a file-backed content-addressed cache.
type Store struct {
	root   string
	logger *slog.Logger
	statfs statfsFunc
	group  singleflight.Group
}

// New returns a store rooted at dir.
func New(root string, logger *slog.Logger) *Store {
	return &Store{
		root:   filepath.Clean(root),
		logger: logging.NewComponentLogger(logger, "cache"),
		statfs: realStatfs,
	}
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the record path for key. It performs no I/O.
func (s *Store) Path(key Key) string {
	return filepath.Join(s.root, string(key.Namespace), key.base()+recordExt)
}

// BlobDir returns the directory holding large payloads that belong to key.
func (s *Store) BlobDir(key Key) string {
	return filepath.Join(s.root, string(key.Namespace), key.base()+blobSuffix)
}

// Exists reports whether a record is present for key.
func (s *Store) Exists(key Key) bool {
	if key.Validate() != nil {
		return false
	}
	info, err := os.Stat(s.Path(key))
	return err == nil && info.Mode().IsRegular()
}

// Read returns the raw record bytes, or services.ErrNotFound.
func (s *Store) Read(key Key) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "cache", "read", "", err)
	}
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "cache", "read", key.String(), nil)
		}
		return nil, fmt.Errorf("cache read %s: %w", key, err)
	}
	return data, nil
}

// ReadJSON decodes the record into target. Undecodable records report
// services.ErrCacheCorruption.
func (s *Store) ReadJSON(key Key, target any) error {
	data, err := s.Read(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return services.Wrap(services.ErrCacheCorruption, "cache", "decode", key.String(), err)
	}
	return nil
}

// Write persists data for key atomically.
func (s *Store) Write(key Key, data []byte, mode WriteMode) error {
	if err := key.Validate(); err != nil {
		return services.Wrap(services.ErrValidation, "cache", "write", "", err)
	}
	path := s.Path(key)
	if mode == WriteOverwrite {
		if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
			return fmt.Errorf("cache write %s: %w", key, err)
		}
		return nil
	}
	return s.writeExclusive(key, path, data)
}

// writeExclusive stages the record in a temp file and hard-links it into
// place; link fails when the target exists, making the check and the write a
// single atomic step.
func (s *Store) writeExclusive(key Key, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache write %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("cache write %s: %w", key, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("cache write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("cache write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache write %s: %w", key, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("cache write %s: %w", key, err)
	}
	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return services.Wrap(services.ErrAlreadyExists, "cache", "write", key.String(), nil)
		}
		return fmt.Errorf("cache write %s: %w", key, err)
	}
	return nil
}

// WriteJSON encodes value and writes it with the given mode.
func (s *Store) WriteJSON(key Key, value any, mode WriteMode) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return s.Write(key, append(data, '\n'), mode)
}

// Invalidate removes the record and its blob directory. It reports
// services.ErrNotFound when neither existed.
func (s *Store) Invalidate(key Key) error {
	if err := key.Validate(); err != nil {
		return services.Wrap(services.ErrValidation, "cache", "invalidate", "", err)
	}
	removed := false
	if err := os.Remove(s.Path(key)); err == nil {
		removed = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cache invalidate %s: %w", key, err)
	}
	blobDir := s.BlobDir(key)
	if _, err := os.Stat(blobDir); err == nil {
		if err := os.RemoveAll(blobDir); err != nil {
			return fmt.Errorf("cache invalidate %s: %w", key, err)
		}
		removed = true
	}
	if !removed {
		return services.Wrap(services.ErrNotFound, "cache", "invalidate", key.String(), nil)
	}
	s.logger.Info("cache entry invalidated",
		logging.String(logging.FieldEventType, "cache_invalidated"),
		logging.String("key", key.String()),
	)
	return nil
}

// Lock takes the advisory file lock for key, waiting until it is free or ctx
// is done. The returned function releases it.
func (s *Store) Lock(ctx context.Context, key Key) (func() error, error) {
	if err := key.Validate(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "cache", "lock", "", err)
	}
	lockPath := filepath.Join(s.root, locksDir, string(key.Namespace), key.base()+".lock")
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("cache lock %s: %w", key, err)
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("cache lock %s: %w", key, err)
	}
	if !locked {
		return nil, fmt.Errorf("cache lock %s: not acquired", key)
	}
	return lock.Unlock, nil
}

// Do runs fn once per key among concurrent in-process callers. Followers
// receive the leader's result with shared set to true.
func (s *Store) Do(key Key, fn func() (any, error)) (value any, err error, shared bool) {
	return s.group.Do(key.String(), fn)
}

// Entry describes one record on disk.
type Entry struct {
	Key        Key       `json:"-"`
	Namespace  Namespace `json:"namespace"`
	ID         string    `json:"id"`
	Param      string    `json:"param,omitempty"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	BlobBytes  int64     `json:"blob_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Entries lists the records in a namespace, newest first.
func (s *Store) Entries(ns Namespace) ([]Entry, error) {
	dir := filepath.Join(s.root, string(ns))
	items, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache list %s: %w", ns, err)
	}
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		name := item.Name()
		if item.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
			continue
		}
		info, err := item.Info()
		if err != nil {
			continue
		}
		key := parseBase(ns, strings.TrimSuffix(name, recordExt))
		blobBytes, _ := dirSize(s.BlobDir(key))
		entries = append(entries, Entry{
			Key:        key,
			Namespace:  ns,
			ID:         key.ID,
			Param:      key.Param,
			Path:       filepath.Join(dir, name),
			SizeBytes:  info.Size(),
			BlobBytes:  blobBytes,
			ModifiedAt: info.ModTime(),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ModifiedAt.After(entries[j].ModifiedAt)
	})
	return entries, nil
}

// EntriesForSource lists every record for a source identifier across namespaces.
func (s *Store) EntriesForSource(id string) ([]Entry, error) {
	var matched []Entry
	for _, ns := range Namespaces {
		entries, err := s.Entries(ns)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.ID == id {
				matched = append(matched, entry)
			}
		}
	}
	return matched, nil
}

// NamespaceStats summarizes one namespace.
type NamespaceStats struct {
	Namespace Namespace `json:"namespace"`
	Entries   int       `json:"entries"`
	Bytes     int64     `json:"bytes"`
}

// Stats describes current cache usage.
type Stats struct {
	Root         string           `json:"root"`
	Namespaces   []NamespaceStats `json:"namespaces"`
	TotalBytes   int64            `json:"total_bytes"`
	FreeBytes    uint64           `json:"free_bytes"`
	TotalFSBytes uint64           `json:"total_fs_bytes"`
	FreeRatio    float64          `json:"free_ratio"`
}

// Stats returns per-namespace usage and filesystem free space.
func (s *Store) Stats() (Stats, error) {
	stats := Stats{Root: s.root}
	for _, ns := range Namespaces {
		entries, err := s.Entries(ns)
		if err != nil {
			return Stats{}, err
		}
		nsStats := NamespaceStats{Namespace: ns, Entries: len(entries)}
		for _, entry := range entries {
			nsStats.Bytes += entry.SizeBytes + entry.BlobBytes
		}
		stats.TotalBytes += nsStats.Bytes
		stats.Namespaces = append(stats.Namespaces, nsStats)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	total, free, err := s.statfs(s.root)
	if err != nil {
		return Stats{}, fmt.Errorf("cache stats: statfs: %w", err)
	}
	stats.TotalFSBytes = total
	stats.FreeBytes = free
	stats.FreeRatio = 1.0
	if total > 0 {
		stats.FreeRatio = float64(free) / float64(total)
	}
	return stats, nil
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			size += info.Size()
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return size, err
	}
	return size, nil
}

func realStatfs(path string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}
