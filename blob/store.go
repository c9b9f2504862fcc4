// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package blob abstracts the object store holding reference and generated
// images. Keys are caller-supplied; failures surface verbatim with no retries
// inside the adapter.
package blob

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/pixmint/pixmint/pix"
)

// ErrNotFound is returned by Get for keys with no object behind them.
var ErrNotFound = errors.New("blob not found")

// Store is the object store contract the service depends on.
type Store interface {
	// Put uploads data under key and returns its public URL.
	Put(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) (string, error)

	// Get fetches the object bytes. The worker uses it as the fallback when
	// a temp file has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// PublicURLFor returns the public URL an object under key would have.
	PublicURLFor(key string) string
}

var slugRe = regexp.MustCompile(`[^a-z0-9._-]+`)

// Slugify lowers s and strips anything unfit for an object key segment.
func Slugify(s string) string {
	s = slugRe.ReplaceAllString(strings.ToLower(s), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "file"
	}
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}

// ReferenceKey builds the key for a user-uploaded reference image:
// <owner>/<unix-ms>-<slug>.<ext>.
func ReferenceKey(owner pix.ID, name, mimeType string) string {
	return fmt.Sprintf("%s/%d-%s.%s", owner, pix.Now().UnixMilli(), Slugify(name), pix.ExtForMime(mimeType))
}

// OutputKey builds the key for the i-th generated image of a generation:
// <owner>/generations/<generationId>/<i>.<ext>.
func OutputKey(owner, generationID pix.ID, i int, mimeType string) string {
	return fmt.Sprintf("%s/generations/%s/%d.%s", owner, generationID, i, pix.ExtForMime(mimeType))
}
