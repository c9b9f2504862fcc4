// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package tempfile keeps just-uploaded reference files on local disk for a
// short window so the worker can skip a blob round trip. The registry is
// in-process; entries do not survive a restart, the orphan sweep covers the
// files they leave behind.
package tempfile

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/pixmint/pixmint/log"
	"github.com/pixmint/pixmint/pix"
)

var logger = log.WithContext("pkg", "tempfile")

// Meta travels with a stored file and lets the worker verify ownership.
type Meta struct {
	Owner      pix.ID
	MimeType   string
	OriginName string
}

type entry struct {
	path      string
	meta      Meta
	expiresAt time.Time
}

// Store is the temp-file registry. All methods are safe for concurrent use.
type Store struct {
	dir        string
	defaultTTL time.Duration

	mu      sync.Mutex
	entries map[pix.ID]*entry
}

// New creates the private directory if needed and returns an empty registry.
func New(dir string, defaultTTL time.Duration) (*Store, error) {
	if defaultTTL <= 0 {
		defaultTTL = pix.DefaultTempFileTTL
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.WithMessage(err, "create temp dir")
	}
	return &Store{
		dir:        dir,
		defaultTTL: defaultTTL,
		entries:    make(map[pix.ID]*entry),
	}, nil
}

// StoreFile copies srcPath into the private directory under a fresh id.
// ttl <= 0 selects the default.
func (s *Store) StoreFile(srcPath string, meta Meta, ttl time.Duration) (pix.ID, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", errors.WithMessage(err, "open source")
	}
	defer src.Close()
	return s.storeFrom(src, meta, ttl)
}

// StoreBytes writes data into the private directory under a fresh id.
func (s *Store) StoreBytes(data []byte, meta Meta, ttl time.Duration) (pix.ID, error) {
	id := pix.NewID()
	path := filepath.Join(s.dir, id.String())
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", errors.WithMessage(err, "write temp file")
	}
	s.register(id, path, meta, ttl)
	return id, nil
}

func (s *Store) storeFrom(src io.Reader, meta Meta, ttl time.Duration) (pix.ID, error) {
	id := pix.NewID()
	path := filepath.Join(s.dir, id.String())

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", errors.WithMessage(err, "create temp file")
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", errors.WithMessage(err, "copy temp file")
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	s.register(id, path, meta, ttl)
	return id, nil
}

func (s *Store) register(id pix.ID, path string, meta Meta, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	s.mu.Lock()
	s.entries[id] = &entry{path: path, meta: meta, expiresAt: pix.Now().Add(ttl)}
	size := len(s.entries)
	s.mu.Unlock()
	meterRegistrySize().Set(int64(size))
}

// GetPath returns the on-disk path and metadata if the entry exists, has not
// expired, and the file is still present. ok is false otherwise; a miss is
// never an error.
func (s *Store) GetPath(id pix.ID) (path string, meta Meta, ok bool) {
	s.mu.Lock()
	e, found := s.entries[id]
	s.mu.Unlock()

	if !found || pix.Now().After(e.expiresAt) {
		return "", Meta{}, false
	}
	if _, err := os.Stat(e.path); err != nil {
		return "", Meta{}, false
	}
	return e.path, e.meta, true
}

// Cleanup removes the entry and unlinks the file. Idempotent.
func (s *Store) Cleanup(id pix.ID) {
	s.mu.Lock()
	e, found := s.entries[id]
	delete(s.entries, id)
	size := len(s.entries)
	s.mu.Unlock()
	meterRegistrySize().Set(int64(size))

	if found {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to unlink temp file", "id", id, "err", err)
		}
	}
}

// SweepExpired removes every entry whose TTL has lapsed and unlinks its file.
// Returns the number of entries removed.
func (s *Store) SweepExpired() int {
	now := pix.Now()

	s.mu.Lock()
	var expired []*entry
	for id, e := range s.entries {
		if now.After(e.expiresAt) {
			expired = append(expired, e)
			delete(s.entries, id)
		}
	}
	size := len(s.entries)
	s.mu.Unlock()
	meterRegistrySize().Set(int64(size))

	for _, e := range expired {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to unlink expired temp file", "path", e.path, "err", err)
		}
	}
	return len(expired)
}

// SweepOrphans unlinks files in the private directory older than maxAge
// regardless of registry presence. It covers files left behind by a previous
// process. Returns the number of files removed.
func (s *Store) SweepOrphans(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = 2 * s.defaultTTL
	}
	cutoff := pix.Now().Add(-maxAge)

	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		logger.Warn("failed to read temp dir", "dir", s.dir, "err", err)
		return 0
	}

	s.mu.Lock()
	registered := make(map[string]struct{}, len(s.entries))
	for _, e := range s.entries {
		registered[filepath.Base(e.path)] = struct{}{}
	}
	s.mu.Unlock()

	removed := 0
	for _, de := range dirents {
		if de.IsDir() {
			continue
		}
		if _, ok := registered[de.Name()]; ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, de.Name())); err == nil {
			removed++
		}
	}
	return removed
}

// Len returns the number of live registry entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
