// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package pix holds domain primitives and limits shared across the service.
package pix

import "time"

// Service-wide limits.
const (
	// MaxOutputs is the max number of images a single generation request may produce.
	MaxOutputs = 4

	// MaxTxAmount caps the token amount of a single ledger transaction.
	MaxTxAmount = 1_000_000

	// MaxImageBytes is the max accepted size of an uploaded reference image.
	MaxImageBytes = 10 << 20

	// MaxReferenceImages is the max number of reference images for a
	// multi-reference generation.
	MaxReferenceImages = 5

	PromptMinLen = 5
	PromptMaxLen = 2000

	// DefaultTempFileTTL is how long a just-uploaded reference file is kept
	// on local disk for the worker to pick up.
	DefaultTempFileTTL = 5 * time.Minute
)

// Names of events pushed to connected clients.
const (
	EvtGenerationProgress  = "generation_progress"
	EvtGenerationCompleted = "generation_completed"
	EvtGenerationFailed    = "generation_failed"
	EvtTokenBalanceUpdated = "token_balance_updated"
	EvtUserOnline          = "user_online"
	EvtUserOffline         = "user_offline"
	EvtUnauthorized        = "unauthorized"
	EvtRateLimit           = "rate_limit"
)

// AspectRatio is a client-selectable output shape.
type AspectRatio string

const (
	RatioSquare    AspectRatio = "1:1"
	RatioWide      AspectRatio = "16:9"
	RatioTall      AspectRatio = "9:16"
	RatioLandscape AspectRatio = "4:3"
	RatioPortrait  AspectRatio = "3:4"
)

// Valid reports whether the aspect ratio is one the model supports.
func (r AspectRatio) Valid() bool {
	switch r {
	case RatioSquare, RatioWide, RatioTall, RatioLandscape, RatioPortrait:
		return true
	}
	return false
}

var imageExts = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
	"image/bmp":  "bmp",
}

// ValidImageMime reports whether the mime type is accepted for uploads.
func ValidImageMime(mime string) bool {
	_, ok := imageExts[mime]
	return ok
}

// ExtForMime returns the file extension for an accepted image mime type,
// defaulting to "png" for anything unknown.
func ExtForMime(mime string) string {
	if ext, ok := imageExts[mime]; ok {
		return ext
	}
	return "png"
}

// Now returns the current UTC time truncated to millisecond precision,
// the resolution persisted timestamps carry.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
