// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package model abstracts the generative image model. Timeouts and the
// retryable/permanent error split live here, not in the callers.
package model

import (
	"context"

	"github.com/pixmint/pixmint/pix"
)

// ReferenceKind tells the model how to use a reference image.
type ReferenceKind string

const (
	RefSubject   ReferenceKind = "subject"
	RefFace      ReferenceKind = "face"
	RefFullImage ReferenceKind = "full_image"
)

// Valid reports whether k is a known reference kind.
func (k ReferenceKind) Valid() bool {
	switch k {
	case RefSubject, RefFace, RefFullImage:
		return true
	}
	return false
}

// Options tunes a single model invocation.
type Options struct {
	AspectRatio pix.AspectRatio
}

// Result is one generated image with the model's metadata.
type Result struct {
	Bytes    []byte
	MimeType string
	Meta     map[string]string
}

// Client invokes the generative model. Implementations return *RetryableError
// for transient failures and *PermanentError for refusals.
type Client interface {
	TextToImage(ctx context.Context, prompt string, opts Options) (*Result, error)

	ImageToImage(ctx context.Context, prompt string, reference []byte, kind ReferenceKind, opts Options) (*Result, error)

	// MultiReferenceToImage composes the target image with 1..5 reference
	// images.
	MultiReferenceToImage(ctx context.Context, prompt string, target []byte, references [][]byte, opts Options) (*Result, error)
}
