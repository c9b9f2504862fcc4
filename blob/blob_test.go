// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package blob

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixmint/pixmint/pix"
)

func TestMemStoreRoundTrip(t *testing.T) {
	s := NewMem()
	ctx := context.Background()

	url, err := s.Put(ctx, "u1/a.png", []byte("png-bytes"), "image/png", nil)
	require.NoError(t, err)
	assert.Equal(t, "mem://u1/a.png", url)

	data, err := s.Get(ctx, "u1/a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
	assert.Equal(t, "image/png", s.ContentType("u1/a.png"))

	require.NoError(t, s.Delete(ctx, "u1/a.png"))
	_, err = s.Get(ctx, "u1/a.png")
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting again is fine
	require.NoError(t, s.Delete(ctx, "u1/a.png"))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "my-photo.jpg", Slugify("My Photo.JPG"))
	assert.Equal(t, "file", Slugify("???"))
	assert.LessOrEqual(t, len(Slugify(strings.Repeat("x", 200))), 64)
}

func TestKeys(t *testing.T) {
	owner := pix.ID("6f1b24a0-9c2e-4ef7-9d2b-17a06c9f3b11")
	gen := pix.ID("a3bb1c9e-40d2-4f77-b6fd-5a2f5f0a6d40")

	key := OutputKey(owner, gen, 3, "image/webp")
	assert.Equal(t, owner.String()+"/generations/"+gen.String()+"/3.webp", key)

	ref := ReferenceKey(owner, "Holiday Pic", "image/jpeg")
	assert.True(t, strings.HasPrefix(ref, owner.String()+"/"))
	assert.True(t, strings.HasSuffix(ref, "-holiday-pic.jpg"))
}
