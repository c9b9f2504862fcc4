// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package tempfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixmint/pixmint/pix"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	s, err := New(filepath.Join(t.TempDir(), "tmpfiles"), ttl)
	require.NoError(t, err)
	return s
}

func TestStoreBytesAndGetPath(t *testing.T) {
	s := newTestStore(t, time.Minute)
	owner := pix.NewID()

	id, err := s.StoreBytes([]byte("jpeg-bytes"), Meta{Owner: owner, MimeType: "image/jpeg"}, 0)
	require.NoError(t, err)

	path, meta, ok := s.GetPath(id)
	require.True(t, ok)
	assert.Equal(t, owner, meta.Owner)
	assert.Equal(t, "image/jpeg", meta.MimeType)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)
}

func TestStoreFileCopies(t *testing.T) {
	s := newTestStore(t, time.Minute)

	src := filepath.Join(t.TempDir(), "upload.png")
	require.NoError(t, os.WriteFile(src, []byte("png-bytes"), 0o600))

	id, err := s.StoreFile(src, Meta{Owner: pix.NewID(), MimeType: "image/png"}, 0)
	require.NoError(t, err)

	// source stays in place, the store keeps its own copy
	_, err = os.Stat(src)
	require.NoError(t, err)

	path, _, ok := s.GetPath(id)
	require.True(t, ok)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestCleanupIdempotent(t *testing.T) {
	s := newTestStore(t, time.Minute)

	id, err := s.StoreBytes([]byte("x"), Meta{Owner: pix.NewID()}, 0)
	require.NoError(t, err)
	path, _, ok := s.GetPath(id)
	require.True(t, ok)

	s.Cleanup(id)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, _, ok = s.GetPath(id)
	assert.False(t, ok)

	// second cleanup is a no-op
	s.Cleanup(id)
}

func TestGetPathExpired(t *testing.T) {
	s := newTestStore(t, time.Minute)

	id, err := s.StoreBytes([]byte("x"), Meta{Owner: pix.NewID()}, time.Millisecond)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, _, ok := s.GetPath(id)
	assert.False(t, ok)
}

func TestGetPathFileGone(t *testing.T) {
	s := newTestStore(t, time.Minute)

	id, err := s.StoreBytes([]byte("x"), Meta{Owner: pix.NewID()}, 0)
	require.NoError(t, err)
	path, _, ok := s.GetPath(id)
	require.True(t, ok)

	require.NoError(t, os.Remove(path))
	_, _, ok = s.GetPath(id)
	assert.False(t, ok)
}

func TestSweepExpired(t *testing.T) {
	s := newTestStore(t, time.Minute)

	short, err := s.StoreBytes([]byte("a"), Meta{Owner: pix.NewID()}, time.Millisecond)
	require.NoError(t, err)
	long, err := s.StoreBytes([]byte("b"), Meta{Owner: pix.NewID()}, time.Hour)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, s.SweepExpired())
	assert.Equal(t, 1, s.Len())

	_, _, ok := s.GetPath(short)
	assert.False(t, ok)
	_, _, ok = s.GetPath(long)
	assert.True(t, ok)
}

func TestSweepOrphans(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tmpfiles")
	s, err := New(dir, time.Minute)
	require.NoError(t, err)

	// a registered entry must not be swept even if old on disk
	id, err := s.StoreBytes([]byte("live"), Meta{Owner: pix.NewID()}, time.Hour)
	require.NoError(t, err)

	// a file left behind by a previous process
	orphan := filepath.Join(dir, pix.NewID().String())
	require.NoError(t, os.WriteFile(orphan, []byte("stale"), 0o600))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(orphan, old, old))

	assert.Equal(t, 1, s.SweepOrphans(10*time.Minute))
	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err))

	_, _, ok := s.GetPath(id)
	assert.True(t, ok)
}
