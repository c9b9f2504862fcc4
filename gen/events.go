// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package gen

import (
	"time"

	"github.com/pixmint/pixmint/ledger"
	"github.com/pixmint/pixmint/pix"
)

// Emitter pushes an event to every connected socket of one user. The push
// hub satisfies it; tests substitute a recorder.
type Emitter interface {
	EmitToUser(owner pix.ID, event string, payload interface{})
}

// ImageOut is one generated image as shown to clients.
type ImageOut struct {
	ImageID   pix.ID `json:"imageId"`
	PublicURL string `json:"publicUrl"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}

// ProgressEvent is the payload of generation_progress.
type ProgressEvent struct {
	GenerationID pix.ID    `json:"generationId"`
	Progress     int       `json:"progress"`
	Message      string    `json:"message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// CompletedResult carries the ordered outputs of a finished generation.
type CompletedResult struct {
	Images []ImageOut `json:"images"`
}

// CompletedEvent is the payload of generation_completed.
type CompletedEvent struct {
	GenerationID pix.ID          `json:"generationId"`
	Result       CompletedResult `json:"result"`
	Timestamp    time.Time       `json:"timestamp"`
}

// FailedEvent is the payload of generation_failed.
type FailedEvent struct {
	GenerationID pix.ID    `json:"generationId"`
	Error        string    `json:"error"`
	Timestamp    time.Time `json:"timestamp"`
}

// BalanceEvent is the payload of token_balance_updated.
type BalanceEvent struct {
	Balance       int64             `json:"balance"`
	Delta         int64             `json:"delta"`
	ReasonCode    ledger.ReasonCode `json:"reasonCode"`
	TransactionID pix.ID            `json:"transactionId"`
	Timestamp     time.Time         `json:"timestamp"`
}

// EventNames are what a client should subscribe to after queueing a
// generation.
var EventNames = []string{
	pix.EvtGenerationProgress,
	pix.EvtGenerationCompleted,
	pix.EvtGenerationFailed,
	pix.EvtTokenBalanceUpdated,
}
