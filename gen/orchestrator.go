// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package gen is the behavioural core of the service: the orchestrator
// validates and queues generation requests, the worker executes them.
package gen

import (
	"context"
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/pixmint/pixmint/blob"
	"github.com/pixmint/pixmint/broker"
	"github.com/pixmint/pixmint/gendb"
	"github.com/pixmint/pixmint/ledger"
	"github.com/pixmint/pixmint/log"
	"github.com/pixmint/pixmint/model"
	"github.com/pixmint/pixmint/pix"
	"github.com/pixmint/pixmint/tempfile"
)

var logger = log.WithContext("pkg", "gen")

// QueueGenerations is the broker queue all generation jobs go through.
const QueueGenerations = "generations"

// Operation names double as ledger reason codes.
const (
	OpTextToImage            = "text_to_image"
	OpImageReference         = "image_reference"
	OpImageMultipleReference = "image_multiple_reference"
)

const opCacheTTL = time.Minute

// JobPayload is the self-describing job body handed to the broker.
type JobPayload struct {
	Owner        pix.ID            `json:"ownerId"`
	GenerationID pix.ID            `json:"generationId"`
	Operation    string            `json:"operation"`
	Prompt       string            `json:"prompt"`
	Meta         gendb.RequestMeta `json:"requestMetadata"`
	TempID       pix.ID            `json:"tempId,omitempty"`
	UnitCost     int64             `json:"unitCost"`
}

// TotalCost is the token price of the whole job.
func (p *JobPayload) TotalCost() int64 {
	return p.UnitCost * int64(p.Meta.NumberOfImages)
}

// Enqueued is the 202 response body of a queued generation.
type Enqueued struct {
	GenerationID    pix.ID            `json:"generationId"`
	JobID           pix.ID            `json:"jobId"`
	Status          gendb.Status      `json:"status"`
	NumberOfImages  int               `json:"numberOfImages"`
	Meta            gendb.RequestMeta `json:"metadata"`
	WebsocketEvents []string          `json:"websocketEvents"`
	StatusEndpoint  string            `json:"statusEndpoint"`
}

// TextRequest is the common shape of all generation requests.
type TextRequest struct {
	Prompt         string          `json:"prompt"`
	NumberOfImages int             `json:"numberOfImages"`
	AspectRatio    pix.AspectRatio `json:"aspectRatio"`
	ProjectID      pix.ID          `json:"projectId"`
	TemplateID     pix.ID          `json:"templateId"`
}

// RefUpload is a freshly uploaded reference image.
type RefUpload struct {
	Name     string
	MimeType string
	Data     []byte
}

// ReferenceRequest queues a single-reference generation. Exactly one of
// Upload or ReferenceID selects the reference image.
type ReferenceRequest struct {
	TextRequest
	ReferenceKind model.ReferenceKind
	Upload        *RefUpload
	ReferenceID   pix.ID
}

// MultiReferenceRequest queues a target-plus-references generation. The
// target comes either as a fresh upload or an existing id; references
// likewise.
type MultiReferenceRequest struct {
	TextRequest
	TargetUpload     *RefUpload
	TargetID         pix.ID
	ReferenceUploads []RefUpload
	ReferenceIDs     []pix.ID
}

type cachedOp struct {
	op *gendb.OperationType
	at time.Time
}

// Orchestrator validates requests, reserves nothing, and queues jobs.
type Orchestrator struct {
	db     *gendb.DB
	ledger *ledger.Ledger
	blobs  blob.Store
	temps  *tempfile.Store
	broker *broker.Broker

	opCache *lru.Cache
}

// NewOrchestrator wires the orchestrator's collaborators.
func NewOrchestrator(db *gendb.DB, lg *ledger.Ledger, blobs blob.Store, temps *tempfile.Store, b *broker.Broker) *Orchestrator {
	cache, _ := lru.New(16)
	return &Orchestrator{
		db:      db,
		ledger:  lg,
		blobs:   blobs,
		temps:   temps,
		broker:  b,
		opCache: cache,
	}
}

// TextToImage queues a text-only generation.
func (o *Orchestrator) TextToImage(ctx context.Context, owner pix.ID, req *TextRequest) (*Enqueued, error) {
	meta := gendb.RequestMeta{
		NumberOfImages: req.NumberOfImages,
		AspectRatio:    req.AspectRatio,
		ProjectID:      req.ProjectID,
		TemplateID:     req.TemplateID,
	}
	return o.enqueue(ctx, owner, OpTextToImage, req.Prompt, meta, "")
}

// ImageReference queues a single-reference generation.
func (o *Orchestrator) ImageReference(ctx context.Context, owner pix.ID, req *ReferenceRequest) (*Enqueued, error) {
	if !req.ReferenceKind.Valid() {
		return nil, Validation("unknown reference kind %q", req.ReferenceKind)
	}

	var (
		refID  pix.ID
		tempID pix.ID
		err    error
	)
	switch {
	case req.Upload != nil:
		refID, tempID, err = o.persistUpload(ctx, owner, req.Upload)
		if err != nil {
			return nil, err
		}
	case !req.ReferenceID.IsZero():
		if err := o.verifyOwned(ctx, owner, req.ReferenceID); err != nil {
			return nil, err
		}
		refID = req.ReferenceID
	default:
		return nil, Validation("a reference image or reference id is required")
	}

	meta := gendb.RequestMeta{
		NumberOfImages: req.NumberOfImages,
		AspectRatio:    req.AspectRatio,
		ProjectID:      req.ProjectID,
		TemplateID:     req.TemplateID,
		ReferenceKind:  string(req.ReferenceKind),
		ReferenceIDs:   []pix.ID{refID},
	}
	return o.enqueue(ctx, owner, OpImageReference, req.Prompt, meta, tempID)
}

// MultiReference queues a target-plus-references generation.
func (o *Orchestrator) MultiReference(ctx context.Context, owner pix.ID, req *MultiReferenceRequest) (*Enqueued, error) {
	var (
		targetID pix.ID
		tempID   pix.ID
		err      error
	)
	switch {
	case req.TargetUpload != nil:
		targetID, tempID, err = o.persistUpload(ctx, owner, req.TargetUpload)
		if err != nil {
			return nil, err
		}
	case !req.TargetID.IsZero():
		if err := o.verifyOwned(ctx, owner, req.TargetID); err != nil {
			return nil, err
		}
		targetID = req.TargetID
	default:
		return nil, Validation("a target image or target id is required")
	}

	refIDs := make([]pix.ID, 0, len(req.ReferenceUploads)+len(req.ReferenceIDs))
	for i := range req.ReferenceUploads {
		id, _, err := o.persistUpload(ctx, owner, &req.ReferenceUploads[i])
		if err != nil {
			return nil, err
		}
		refIDs = append(refIDs, id)
	}
	if len(req.ReferenceIDs) > 0 {
		if err := o.verifyOwned(ctx, owner, req.ReferenceIDs...); err != nil {
			return nil, err
		}
		refIDs = append(refIDs, req.ReferenceIDs...)
	}
	if len(refIDs) < 1 || len(refIDs) > pix.MaxReferenceImages {
		return nil, Validation("between 1 and %d reference images are required", pix.MaxReferenceImages)
	}

	meta := gendb.RequestMeta{
		NumberOfImages: req.NumberOfImages,
		AspectRatio:    req.AspectRatio,
		ProjectID:      req.ProjectID,
		TemplateID:     req.TemplateID,
		TargetID:       targetID,
		ReferenceIDs:   refIDs,
	}
	return o.enqueue(ctx, owner, OpImageMultipleReference, req.Prompt, meta, tempID)
}

// enqueue runs the shared request path: price, validate, balance check,
// record, job.
func (o *Orchestrator) enqueue(ctx context.Context, owner pix.ID, operation, prompt string, meta gendb.RequestMeta, tempID pix.ID) (*Enqueued, error) {
	opType, err := o.resolveOp(ctx, operation)
	if err != nil {
		return nil, err
	}

	if meta.NumberOfImages == 0 {
		meta.NumberOfImages = 1
	}
	if meta.NumberOfImages < 1 || meta.NumberOfImages > pix.MaxOutputs {
		return nil, Validation("numberOfImages must be between 1 and %d", pix.MaxOutputs)
	}
	if meta.AspectRatio == "" {
		meta.AspectRatio = pix.RatioSquare
	}
	if !meta.AspectRatio.Valid() {
		return nil, Validation("unsupported aspect ratio %q", meta.AspectRatio)
	}

	prompt, err = SanitizePrompt(prompt)
	if err != nil {
		return nil, err
	}

	totalCost := opType.TokensPerOperation * int64(meta.NumberOfImages)
	account, err := o.ledger.Balance(ctx, owner)
	if err != nil {
		return nil, err
	}
	if account.Balance < totalCost {
		return nil, ledger.ErrInsufficientFunds
	}

	rec := &gendb.Record{
		Owner:     owner,
		Operation: operation,
		Prompt:    prompt,
		Meta:      meta,
	}
	if err := o.db.CreateGeneration(ctx, rec); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(&JobPayload{
		Owner:        owner,
		GenerationID: rec.ID,
		Operation:    operation,
		Prompt:       prompt,
		Meta:         meta,
		TempID:       tempID,
		UnitCost:     opType.TokensPerOperation,
	})
	if err != nil {
		return nil, err
	}
	jobID, err := o.broker.Enqueue(QueueGenerations, operation, payload, broker.Options{})
	if err != nil {
		return nil, err
	}

	logger.Info("generation queued",
		"owner", owner, "generation", rec.ID, "operation", operation,
		"images", meta.NumberOfImages, "cost", totalCost)

	return &Enqueued{
		GenerationID:    rec.ID,
		JobID:           jobID,
		Status:          gendb.StatusPending,
		NumberOfImages:  meta.NumberOfImages,
		Meta:            meta,
		WebsocketEvents: EventNames,
		StatusEndpoint:  "/generate/queue/" + rec.ID.String(),
	}, nil
}

// resolveOp prices an operation through a small TTL cache over gendb.
func (o *Orchestrator) resolveOp(ctx context.Context, name string) (*gendb.OperationType, error) {
	if v, ok := o.opCache.Get(name); ok {
		if c := v.(cachedOp); time.Since(c.at) < opCacheTTL {
			if !c.op.Active {
				return nil, Validation("operation %q is unavailable", name)
			}
			return c.op, nil
		}
	}

	op, err := o.db.GetOperationType(ctx, name)
	if err != nil {
		if errors.Is(err, gendb.ErrNotFound) {
			return nil, Validation("unknown operation %q", name)
		}
		return nil, err
	}
	o.opCache.Add(name, cachedOp{op: op, at: time.Now()})
	if !op.Active {
		return nil, Validation("operation %q is unavailable", name)
	}
	return op, nil
}

// persistUpload stores a fresh reference image in the blob store, records
// the Upload row and mirrors the bytes into the temp store.
func (o *Orchestrator) persistUpload(ctx context.Context, owner pix.ID, up *RefUpload) (uploadID, tempID pix.ID, err error) {
	if !pix.ValidImageMime(up.MimeType) {
		return "", "", Validation("unsupported image type %q", up.MimeType)
	}
	if len(up.Data) == 0 || len(up.Data) > pix.MaxImageBytes {
		return "", "", Validation("image must be between 1 byte and %d bytes", pix.MaxImageBytes)
	}

	key := blob.ReferenceKey(owner, up.Name, up.MimeType)
	url, err := o.blobs.Put(ctx, key, up.Data, up.MimeType, map[string]string{"owner": owner.String()})
	if err != nil {
		return "", "", errors.WithMessage(err, "store reference image")
	}

	row := &gendb.Upload{
		Owner:      owner,
		Purpose:    gendb.PurposeReferenceInput,
		MimeType:   up.MimeType,
		SizeBytes:  int64(len(up.Data)),
		StorageKey: key,
		PublicURL:  url,
	}
	if err := o.db.CreateUpload(ctx, row); err != nil {
		return "", "", err
	}

	// a temp store miss only costs the worker a blob fetch
	tempID, err = o.temps.StoreBytes(up.Data, tempfile.Meta{
		Owner:      owner,
		MimeType:   up.MimeType,
		OriginName: up.Name,
	}, 0)
	if err != nil {
		logger.Warn("failed to mirror upload into temp store", "owner", owner, "err", err)
		tempID = ""
	}
	return row.ID, tempID, nil
}

// verifyOwned checks that every id is an upload of owner.
func (o *Orchestrator) verifyOwned(ctx context.Context, owner pix.ID, ids ...pix.ID) error {
	for _, id := range ids {
		if _, err := o.db.GetUpload(ctx, owner, id); err != nil {
			if errors.Is(err, gendb.ErrNotFound) {
				return ErrRefNotFound
			}
			return err
		}
	}
	return nil
}

// GenerationView is a record with its outputs expanded for clients.
type GenerationView struct {
	*gendb.Record
	Images []ImageOut `json:"images,omitempty"`
}

// GetGeneration returns the owner's record with expanded outputs.
func (o *Orchestrator) GetGeneration(ctx context.Context, owner, id pix.ID) (*GenerationView, error) {
	rec, err := o.db.GetGeneration(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	return o.expand(ctx, rec)
}

// ListGenerations pages the owner's records, newest first.
func (o *Orchestrator) ListGenerations(ctx context.Context, owner pix.ID, filter gendb.ListFilter) ([]*GenerationView, string, bool, error) {
	page, err := o.db.ListGenerations(ctx, owner, filter)
	if err != nil {
		return nil, "", false, err
	}
	views := make([]*GenerationView, len(page.Items))
	for i, rec := range page.Items {
		if views[i], err = o.expand(ctx, rec); err != nil {
			return nil, "", false, err
		}
	}
	return views, page.NextCursor, page.HasMore, nil
}

func (o *Orchestrator) expand(ctx context.Context, rec *gendb.Record) (*GenerationView, error) {
	view := &GenerationView{Record: rec}
	if len(rec.Outputs) == 0 {
		return view, nil
	}
	uploads, err := o.db.GetUploads(ctx, rec.Outputs)
	if err != nil {
		return nil, err
	}
	view.Images = make([]ImageOut, len(uploads))
	for i, up := range uploads {
		view.Images[i] = ImageOut{
			ImageID:   up.ID,
			PublicURL: up.PublicURL,
			MimeType:  up.MimeType,
			SizeBytes: up.SizeBytes,
		}
	}
	return view, nil
}
