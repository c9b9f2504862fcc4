// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package gendb

import (
	"time"

	"github.com/pixmint/pixmint/pix"
)

// Status is the lifecycle state of a generation record. Transitions only flow
// forward; a terminal state is never re-opened.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RequestMeta captures the client request parameters of a generation.
type RequestMeta struct {
	NumberOfImages int             `json:"numberOfImages"`
	AspectRatio    pix.AspectRatio `json:"aspectRatio"`
	ProjectID      pix.ID          `json:"projectId,omitempty"`
	ReferenceKind  string          `json:"referenceKind,omitempty"`
	TargetID       pix.ID          `json:"targetId,omitempty"`
	ReferenceIDs   []pix.ID        `json:"referenceIds,omitempty"`
	TemplateID     pix.ID          `json:"templateId,omitempty"`
	UsedTempFile   bool            `json:"usedTempFile,omitempty"`
}

// Record is one generation request, regardless of how many images it
// produces. Created by the orchestrator, mutated only by the owning worker.
type Record struct {
	ID            pix.ID      `json:"id"`
	Owner         pix.ID      `json:"owner"`
	Operation     string      `json:"operation"`
	Prompt        string      `json:"prompt"`
	Meta          RequestMeta `json:"requestMetadata"`
	Status        Status      `json:"status"`
	Progress      int         `json:"progress"`
	TokensCharged int64       `json:"tokensCharged"`
	Outputs       []pix.ID    `json:"outputs,omitempty"`
	Error         string      `json:"error,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	StartedAt     *time.Time  `json:"startedAt,omitempty"`
	CompletedAt   *time.Time  `json:"completedAt,omitempty"`
	ProcessingMs  int64       `json:"processingMs,omitempty"`
}

// UploadPurpose classifies stored images.
type UploadPurpose string

const (
	PurposeReferenceInput   UploadPurpose = "reference_input"
	PurposeGenerationOutput UploadPurpose = "generation_output"
	PurposeOther            UploadPurpose = "other"
)

// Upload is a stored image.
type Upload struct {
	ID         pix.ID        `json:"id"`
	Owner      pix.ID        `json:"owner"`
	Purpose    UploadPurpose `json:"purpose"`
	MimeType   string        `json:"mimeType"`
	SizeBytes  int64         `json:"sizeBytes"`
	StorageKey string        `json:"-"`
	PublicURL  string        `json:"publicUrl"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// OperationType prices a generation operation. Editable by admin, read by the
// orchestrator at enqueue time.
type OperationType struct {
	Name               string `json:"name"`
	TokensPerOperation int64  `json:"tokensPerOperation"`
	Active             bool   `json:"active"`
}

// ListFilter pages an owner's generations, newest first.
type ListFilter struct {
	Cursor        string
	Limit         int
	IncludeFailed bool
}

// RecordPage is one page of generation records.
type RecordPage struct {
	Items      []*Record
	NextCursor string
	HasMore    bool
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)
