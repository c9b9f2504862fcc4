// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package gen

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/pixmint/pixmint/blob"
	"github.com/pixmint/pixmint/broker"
	"github.com/pixmint/pixmint/gendb"
	"github.com/pixmint/pixmint/ledger"
	"github.com/pixmint/pixmint/model"
	"github.com/pixmint/pixmint/pix"
	"github.com/pixmint/pixmint/tempfile"
)

// Defaults protecting the model endpoint; configuration, not invariants.
const (
	DefaultWorkerConcurrency = 3
	DefaultWorkerRatePerSec  = 10
)

// GenerationStore is the slice of gendb the worker writes through.
type GenerationStore interface {
	GetGenerationByID(ctx context.Context, id pix.ID) (*gendb.Record, error)
	MarkProcessing(ctx context.Context, id pix.ID, startedAt time.Time) error
	UpdateProgress(ctx context.Context, id pix.ID, progress int) error
	MarkTempFileUsed(ctx context.Context, id pix.ID) error
	CreateUpload(ctx context.Context, up *gendb.Upload) error
	GetUploads(ctx context.Context, ids []pix.ID) ([]*gendb.Upload, error)
	CompleteGeneration(ctx context.Context, id pix.ID, outputs []pix.ID, tokensCharged int64, completedAt time.Time, processingMs int64) error
	FailGeneration(ctx context.Context, id pix.ID, errMsg string, completedAt time.Time) error
}

// Worker consumes generation jobs. It is the only writer of a claimed
// record.
type Worker struct {
	db      GenerationStore
	ledger  *ledger.Ledger
	blobs   blob.Store
	temps   *tempfile.Store
	model   model.Client
	emitter Emitter
}

// NewWorker wires the worker's collaborators.
func NewWorker(db GenerationStore, lg *ledger.Ledger, blobs blob.Store, temps *tempfile.Store, mc model.Client, emitter Emitter) *Worker {
	return &Worker{
		db:      db,
		ledger:  lg,
		blobs:   blobs,
		temps:   temps,
		model:   mc,
		emitter: emitter,
	}
}

// Register starts the worker pool on the generation queue.
func (w *Worker) Register(b *broker.Broker, concurrency, ratePerSec int) {
	if concurrency <= 0 {
		concurrency = DefaultWorkerConcurrency
	}
	if ratePerSec <= 0 {
		ratePerSec = DefaultWorkerRatePerSec
	}
	b.Consume(QueueGenerations, concurrency, ratePerSec, w.Handle)
}

// Handle processes one delivery. A plain error return lets the broker retry;
// terminal failures go through fail, which marks the record and stops
// retries.
func (w *Worker) Handle(ctx context.Context, job *broker.JobCtx) error {
	var p JobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return broker.Permanent(errors.WithMessage(err, "decode job payload"))
	}
	if !p.TempID.IsZero() {
		// runs on every outcome; a retry falls back to the blob store
		defer w.temps.Cleanup(p.TempID)
	}

	rec, err := w.db.GetGenerationByID(ctx, p.GenerationID)
	if err != nil {
		if errors.Is(err, gendb.ErrNotFound) {
			return broker.Permanent(err)
		}
		return err
	}
	if rec.Status.Terminal() {
		// re-delivered after completion, nothing to do
		return nil
	}

	startedAt := pix.Now()
	if err := w.db.MarkProcessing(ctx, p.GenerationID, startedAt); err != nil {
		if errors.Is(err, gendb.ErrTerminal) {
			return nil
		}
		if job.LastAttempt() {
			return w.fail(ctx, &p, "PermanentError", err)
		}
		return err
	}

	// a re-delivery resumes the visible history from the persisted progress
	floor := rec.Progress

	// one call site feeds the broker job, the record and the socket
	progress := func(pct int, msg string) {
		if pct < floor {
			return
		}
		job.UpdateProgress(pct)
		if err := w.db.UpdateProgress(ctx, p.GenerationID, pct); err != nil {
			logger.Debug("progress update skipped", "generation", p.GenerationID, "err", err)
		}
		w.emitter.EmitToUser(p.Owner, pix.EvtGenerationProgress, &ProgressEvent{
			GenerationID: p.GenerationID,
			Progress:     pct,
			Message:      msg,
			Timestamp:    pix.Now(),
		})
	}
	progress(1, "queued")

	var target []byte
	var refs [][]byte
	if p.Operation != OpTextToImage {
		target, refs, err = w.resolveInputs(ctx, &p)
		if err != nil {
			if errors.Is(err, ErrRefNotFound) {
				return w.fail(ctx, &p, "ReferenceNotFound", err)
			}
			if job.LastAttempt() {
				return w.fail(ctx, &p, "PermanentError", err)
			}
			return err
		}
	}
	progress(10, "")

	modelPrompt := BuildModelPrompt(p.Operation, p.Prompt, model.ReferenceKind(p.Meta.ReferenceKind))
	progress(20, "")

	n := p.Meta.NumberOfImages
	opts := model.Options{AspectRatio: p.Meta.AspectRatio}
	results := make([]*model.Result, 0, n)
	for i := 1; i <= n; i++ {
		start := time.Now()
		var res *model.Result
		switch p.Operation {
		case OpTextToImage:
			res, err = w.model.TextToImage(ctx, modelPrompt, opts)
		case OpImageReference:
			res, err = w.model.ImageToImage(ctx, modelPrompt, target, model.ReferenceKind(p.Meta.ReferenceKind), opts)
		case OpImageMultipleReference:
			res, err = w.model.MultiReferenceToImage(ctx, modelPrompt, target, refs, opts)
		default:
			return w.fail(ctx, &p, "PermanentError", errors.Errorf("unknown operation %q", p.Operation))
		}
		meterImages().ObserveWithLabels(time.Since(start).Milliseconds(), map[string]string{"operation": p.Operation})

		if err != nil {
			if model.IsRetryable(err) && !job.LastAttempt() {
				job.Log("image %d/%d failed, will retry: %v", i, n, err)
				return err
			}
			return w.fail(ctx, &p, "PermanentError", err)
		}
		results = append(results, res)
		progress(20+60*i/n, fmt.Sprintf("image %d of %d", i, n))
	}

	outputs := make([]pix.ID, 0, n)
	images := make([]ImageOut, 0, n)
	for i, res := range results {
		key := blob.OutputKey(p.Owner, p.GenerationID, i+1, res.MimeType)
		url, err := w.blobs.Put(ctx, key, res.Bytes, res.MimeType, map[string]string{
			"owner":        p.Owner.String(),
			"generationId": p.GenerationID.String(),
		})
		if err != nil {
			if job.LastAttempt() {
				return w.fail(ctx, &p, "PermanentError", err)
			}
			return err
		}
		up := &gendb.Upload{
			Owner:      p.Owner,
			Purpose:    gendb.PurposeGenerationOutput,
			MimeType:   res.MimeType,
			SizeBytes:  int64(len(res.Bytes)),
			StorageKey: key,
			PublicURL:  url,
		}
		if err := w.db.CreateUpload(ctx, up); err != nil {
			if job.LastAttempt() {
				return w.fail(ctx, &p, "PermanentError", err)
			}
			return err
		}
		outputs = append(outputs, up.ID)
		images = append(images, ImageOut{
			ImageID:   up.ID,
			PublicURL: up.PublicURL,
			MimeType:  up.MimeType,
			SizeBytes: up.SizeBytes,
		})
	}
	progress(85, "")

	totalCost := p.TotalCost()
	reason := ledger.ReasonCode(p.Operation)
	debit, err := w.ledger.Debit(ctx, p.Owner, totalCost, reason, ledger.Op{
		IdempotencyKey: "gen:" + p.GenerationID.String(),
		ReferenceKind:  "generation",
		ReferenceID:    p.GenerationID,
		Actor:          ledger.SystemActor,
		Meta:           map[string]string{"generationId": p.GenerationID.String()},
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			// uploaded outputs stay with the user, unbilled
			return w.fail(ctx, &p, "BalanceChanged", err)
		}
		if job.LastAttempt() {
			return w.fail(ctx, &p, "PermanentError", err)
		}
		return err
	}
	w.emitter.EmitToUser(p.Owner, pix.EvtTokenBalanceUpdated, &BalanceEvent{
		Balance:       debit.Balance,
		Delta:         -totalCost,
		ReasonCode:    reason,
		TransactionID: debit.TransactionID,
		Timestamp:     pix.Now(),
	})

	completedAt := pix.Now()
	if err := w.db.CompleteGeneration(ctx, p.GenerationID, outputs, totalCost, completedAt, completedAt.Sub(startedAt).Milliseconds()); err != nil {
		if errors.Is(err, gendb.ErrTerminal) {
			return nil
		}
		if job.LastAttempt() {
			return w.fail(ctx, &p, "PermanentError", err)
		}
		// the idempotent debit makes a retry of this tail safe
		return err
	}

	ts := completedAt
	if got, err := w.db.GetGenerationByID(ctx, p.GenerationID); err == nil && got.CompletedAt != nil {
		ts = *got.CompletedAt
	}
	w.emitter.EmitToUser(p.Owner, pix.EvtGenerationCompleted, &CompletedEvent{
		GenerationID: p.GenerationID,
		Result:       CompletedResult{Images: images},
		Timestamp:    ts,
	})
	meterGenerations().AddWithLabel(1, map[string]string{"outcome": "completed", "operation": p.Operation})
	logger.Info("generation completed",
		"generation", p.GenerationID, "owner", p.Owner, "images", len(images), "tokens", totalCost)
	return nil
}

// resolveInputs loads the reference bytes for reference operations. The
// primary image (single reference, or the multi-reference target) prefers
// the temp file; everything else comes from the blob store.
func (w *Worker) resolveInputs(ctx context.Context, p *JobPayload) (target []byte, refs [][]byte, err error) {
	switch p.Operation {
	case OpImageReference:
		if len(p.Meta.ReferenceIDs) != 1 {
			return nil, nil, ErrRefNotFound
		}
		target, err = w.fetchPrimary(ctx, p, p.Meta.ReferenceIDs[0])
		return target, nil, err

	case OpImageMultipleReference:
		if p.Meta.TargetID.IsZero() || len(p.Meta.ReferenceIDs) == 0 {
			return nil, nil, ErrRefNotFound
		}
		target, err = w.fetchPrimary(ctx, p, p.Meta.TargetID)
		if err != nil {
			return nil, nil, err
		}
		refs = make([][]byte, len(p.Meta.ReferenceIDs))
		g, gctx := errgroup.WithContext(ctx)
		for i, id := range p.Meta.ReferenceIDs {
			i, id := i, id
			g.Go(func() error {
				data, err := w.fetchUpload(gctx, id)
				refs[i] = data
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}
		return target, refs, nil

	default:
		return nil, nil, nil
	}
}

// fetchPrimary reads from the temp file when the payload carries one and
// the file survived; a miss silently falls back to the blob store.
func (w *Worker) fetchPrimary(ctx context.Context, p *JobPayload, uploadID pix.ID) ([]byte, error) {
	if !p.TempID.IsZero() {
		if path, meta, ok := w.temps.GetPath(p.TempID); ok && meta.Owner == p.Owner {
			data, err := os.ReadFile(path)
			if err == nil {
				if err := w.db.MarkTempFileUsed(ctx, p.GenerationID); err != nil {
					logger.Debug("could not flag temp file use", "generation", p.GenerationID, "err", err)
				}
				return data, nil
			}
			logger.Warn("temp file unreadable, falling back to blob store", "temp", p.TempID, "err", err)
		} else {
			logger.Warn("temp file miss, falling back to blob store", "temp", p.TempID, "generation", p.GenerationID)
		}
	}
	return w.fetchUpload(ctx, uploadID)
}

func (w *Worker) fetchUpload(ctx context.Context, id pix.ID) ([]byte, error) {
	ups, err := w.db.GetUploads(ctx, []pix.ID{id})
	if err != nil {
		if errors.Is(err, gendb.ErrNotFound) {
			return nil, ErrRefNotFound
		}
		return nil, err
	}
	data, err := w.blobs.Get(ctx, ups[0].StorageKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, ErrRefNotFound
		}
		return nil, err
	}
	return data, nil
}

// fail moves the record to failed with a short user-safe message, emits the
// single terminal event and stops broker retries. No charge is ever made on
// this path.
func (w *Worker) fail(ctx context.Context, p *JobPayload, kind string, cause error) error {
	msg := kind
	if cause != nil {
		var pe *model.PermanentError
		if errors.As(cause, &pe) {
			msg = kind + ": " + pe.Msg
		} else {
			msg = kind + ": " + cause.Error()
		}
	}

	now := pix.Now()
	if err := w.db.FailGeneration(ctx, p.GenerationID, msg, now); err != nil {
		// already terminal: the one terminal event was emitted before
		if !errors.Is(err, gendb.ErrTerminal) {
			logger.Error("could not mark generation failed", "generation", p.GenerationID, "err", err)
		}
	} else {
		ts := now
		if got, err := w.db.GetGenerationByID(ctx, p.GenerationID); err == nil && got.CompletedAt != nil {
			ts = *got.CompletedAt
		}
		w.emitter.EmitToUser(p.Owner, pix.EvtGenerationFailed, &FailedEvent{
			GenerationID: p.GenerationID,
			Error:        msg,
			Timestamp:    ts,
		})
		meterGenerations().AddWithLabel(1, map[string]string{"outcome": "failed", "operation": p.Operation})
		logger.Warn("generation failed", "generation", p.GenerationID, "owner", p.Owner, "kind", kind, "err", cause)
	}

	if cause == nil {
		cause = errors.New(msg)
	}
	return broker.Permanent(cause)
}
