// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package gendb persists generation records, uploads and operation types.
package gendb

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/pixmint/pixmint/pix"
)

var (
	// ErrNotFound is returned when a record, upload or operation type does
	// not exist or is not visible to the caller.
	ErrNotFound = errors.New("not found")

	// ErrTerminal is returned on an attempted mutation of a record that has
	// already reached completed or failed.
	ErrTerminal = errors.New("record in terminal state")
)

// DB is the generation record store.
type DB struct {
	path string
	db   *sql.DB
}

// New creates or opens the generation db at the given path.
func New(path string) (gdb *DB, err error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=10000&_journal_mode=WAL", path))
	if err != nil {
		return nil, err
	}
	defer func() {
		if gdb == nil {
			db.Close()
		}
	}()
	if _, err := db.Exec(generationTableSchema + uploadTableSchema + opTypeTableSchema); err != nil {
		return nil, err
	}
	return &DB{path, db}, nil
}

// NewMem creates a generation db in ram.
func NewMem() (*DB, error) {
	db, err := sql.Open("sqlite3", "file::memory:?_txlock=immediate")
	if err != nil {
		return nil, err
	}
	// a memory db exists per connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(generationTableSchema + uploadTableSchema + opTypeTableSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{":memory:", db}, nil
}

// Close closes the db.
func (d *DB) Close() {
	d.db.Close()
}

// Ping verifies the backing database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Path() string { return d.path }

// CreateGeneration inserts rec with status pending and zero progress.
// rec.ID and rec.CreatedAt are assigned.
func (d *DB) CreateGeneration(ctx context.Context, rec *Record) error {
	rec.ID = pix.NewID()
	rec.CreatedAt = pix.Now()
	rec.Status = StatusPending
	rec.Progress = 0

	metaJSON, err := json.Marshal(rec.Meta)
	if err != nil {
		return errors.WithMessage(err, "encode meta")
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO generation(id, owner, operation, prompt, meta, status, progress, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		rec.ID.String(), rec.Owner.String(), rec.Operation, rec.Prompt, string(metaJSON),
		string(StatusPending), rec.CreatedAt.UnixMilli(),
	)
	return err
}

// GetGeneration returns the owner's record, or ErrNotFound. Records of other
// owners read as not found so ids cannot be probed.
func (d *DB) GetGeneration(ctx context.Context, owner, id pix.ID) (*Record, error) {
	return d.getGeneration(ctx, "owner = ? AND id = ?", owner.String(), id.String())
}

// GetGenerationByID returns a record regardless of owner. Worker-side only.
func (d *DB) GetGenerationByID(ctx context.Context, id pix.ID) (*Record, error) {
	return d.getGeneration(ctx, "id = ?", id.String())
}

const recordCols = "id, owner, operation, prompt, meta, status, progress, tokens_charged, outputs, error, created_at, started_at, completed_at, processing_ms"

func (d *DB) getGeneration(ctx context.Context, where string, args ...interface{}) (*Record, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+recordCols+" FROM generation WHERE "+where, args...)
	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

func scanRecord(scan func(...interface{}) error) (*Record, error) {
	var (
		rec                     Record
		id, owner               string
		metaJSON                string
		status                  string
		outputsJSON, errMsg     sql.NullString
		createdMs               int64
		startedMs, completedMs  sql.NullInt64
		processingMs            sql.NullInt64
	)
	if err := scan(&id, &owner, &rec.Operation, &rec.Prompt, &metaJSON, &status, &rec.Progress,
		&rec.TokensCharged, &outputsJSON, &errMsg, &createdMs, &startedMs, &completedMs, &processingMs); err != nil {
		return nil, err
	}
	rec.ID = pix.ID(id)
	rec.Owner = pix.ID(owner)
	rec.Status = Status(status)
	rec.Error = errMsg.String
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	if startedMs.Valid {
		t := time.UnixMilli(startedMs.Int64).UTC()
		rec.StartedAt = &t
	}
	if completedMs.Valid {
		t := time.UnixMilli(completedMs.Int64).UTC()
		rec.CompletedAt = &t
	}
	rec.ProcessingMs = processingMs.Int64
	if err := json.Unmarshal([]byte(metaJSON), &rec.Meta); err != nil {
		return nil, errors.WithMessage(err, "decode meta")
	}
	if outputsJSON.Valid {
		if err := json.Unmarshal([]byte(outputsJSON.String), &rec.Outputs); err != nil {
			return nil, errors.WithMessage(err, "decode outputs")
		}
	}
	return &rec, nil
}

// ListGenerations pages the owner's records reverse-chronologically.
func (d *DB) ListGenerations(ctx context.Context, owner pix.ID, filter ListFilter) (*RecordPage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	stmt := "SELECT " + recordCols + " FROM generation WHERE owner = ?"
	args := []interface{}{owner.String()}
	if !filter.IncludeFailed {
		stmt += " AND status != ?"
		args = append(args, string(StatusFailed))
	}
	if filter.Cursor != "" {
		ms, id, err := decodeCursor(filter.Cursor)
		if err != nil {
			return nil, err
		}
		stmt += " AND (created_at < ? OR (created_at = ? AND id < ?))"
		args = append(args, ms, ms, id)
	}
	stmt += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := d.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	page := &RecordPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.HasMore = true
		last := page.Items[len(page.Items)-1]
		page.NextCursor = encodeCursor(last.CreatedAt.UnixMilli(), last.ID.String())
	}
	return page, nil
}

// MarkProcessing claims the record for a worker attempt. Re-claiming an
// already-processing record is allowed (broker re-delivery); terminal records
// fail with ErrTerminal.
func (d *DB) MarkProcessing(ctx context.Context, id pix.ID, startedAt time.Time) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE generation SET status = ?, started_at = ?, progress = MAX(progress, 1)
		 WHERE id = ? AND status IN (?, ?)`,
		string(StatusProcessing), startedAt.UnixMilli(), id.String(),
		string(StatusPending), string(StatusProcessing),
	)
	if err != nil {
		return err
	}
	return d.checkClaimed(ctx, res, id)
}

// UpdateProgress advances progress while processing. Regressions and writes
// to terminal records are silently dropped, keeping the visible progress
// monotonic.
func (d *DB) UpdateProgress(ctx context.Context, id pix.ID, progress int) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE generation SET progress = ? WHERE id = ? AND status = ? AND progress <= ?",
		progress, id.String(), string(StatusProcessing), progress,
	)
	return err
}

// MarkTempFileUsed annotates the request metadata of the record.
func (d *DB) MarkTempFileUsed(ctx context.Context, id pix.ID) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var metaJSON string
	if err := tx.QueryRowContext(ctx, "SELECT meta FROM generation WHERE id = ?", id.String()).Scan(&metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}
	var meta RequestMeta
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return errors.WithMessage(err, "decode meta")
	}
	meta.UsedTempFile = true
	b, err := json.Marshal(meta)
	if err != nil {
		return errors.WithMessage(err, "encode meta")
	}
	if _, err := tx.ExecContext(ctx, "UPDATE generation SET meta = ? WHERE id = ?", string(b), id.String()); err != nil {
		return err
	}
	return tx.Commit()
}

// CompleteGeneration finalizes a successful record: outputs, charge, progress
// 100 and timings in one write. Only a processing record can complete.
func (d *DB) CompleteGeneration(ctx context.Context, id pix.ID, outputs []pix.ID, tokensCharged int64, completedAt time.Time, processingMs int64) error {
	outputsJSON, err := json.Marshal(outputs)
	if err != nil {
		return errors.WithMessage(err, "encode outputs")
	}
	res, err := d.db.ExecContext(ctx,
		`UPDATE generation SET status = ?, progress = 100, tokens_charged = ?, outputs = ?, completed_at = ?, processing_ms = ?
		 WHERE id = ? AND status = ?`,
		string(StatusCompleted), tokensCharged, string(outputsJSON),
		completedAt.UnixMilli(), processingMs, id.String(), string(StatusProcessing),
	)
	if err != nil {
		return err
	}
	return d.checkClaimed(ctx, res, id)
}

// FailGeneration finalizes a failed record. No tokens are charged; outputs
// stay empty. Only a non-terminal record can fail.
func (d *DB) FailGeneration(ctx context.Context, id pix.ID, errMsg string, completedAt time.Time) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE generation SET status = ?, error = ?, tokens_charged = 0, completed_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(StatusFailed), errMsg, completedAt.UnixMilli(), id.String(),
		string(StatusPending), string(StatusProcessing),
	)
	if err != nil {
		return err
	}
	return d.checkClaimed(ctx, res, id)
}

func (d *DB) checkClaimed(ctx context.Context, res sql.Result, id pix.ID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := d.GetGenerationByID(ctx, id); err != nil {
			return err
		}
		return ErrTerminal
	}
	return nil
}

// CreateUpload inserts an upload row. ID and CreatedAt are assigned.
func (d *DB) CreateUpload(ctx context.Context, up *Upload) error {
	up.ID = pix.NewID()
	up.CreatedAt = pix.Now()
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO upload(id, owner, purpose, mime_type, size_bytes, storage_key, public_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		up.ID.String(), up.Owner.String(), string(up.Purpose), up.MimeType,
		up.SizeBytes, up.StorageKey, up.PublicURL, up.CreatedAt.UnixMilli(),
	)
	return err
}

// GetUpload returns the owner's upload, or ErrNotFound.
func (d *DB) GetUpload(ctx context.Context, owner, id pix.ID) (*Upload, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT id, owner, purpose, mime_type, size_bytes, storage_key, public_url, created_at FROM upload WHERE owner = ? AND id = ?",
		owner.String(), id.String(),
	)
	up, err := scanUpload(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return up, err
}

// GetUploads resolves ids in the given order; any missing id fails with
// ErrNotFound.
func (d *DB) GetUploads(ctx context.Context, ids []pix.ID) ([]*Upload, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	rows, err := d.db.QueryContext(ctx,
		"SELECT id, owner, purpose, mime_type, size_bytes, storage_key, public_url, created_at FROM upload WHERE id IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[pix.ID]*Upload, len(ids))
	for rows.Next() {
		up, err := scanUpload(rows.Scan)
		if err != nil {
			return nil, err
		}
		byID[up.ID] = up
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	uploads := make([]*Upload, 0, len(ids))
	for _, id := range ids {
		up, ok := byID[id]
		if !ok {
			return nil, errors.WithMessage(ErrNotFound, "upload "+id.String())
		}
		uploads = append(uploads, up)
	}
	return uploads, nil
}

func scanUpload(scan func(...interface{}) error) (*Upload, error) {
	var (
		up                 Upload
		id, owner, purpose string
		createdMs          int64
	)
	if err := scan(&id, &owner, &purpose, &up.MimeType, &up.SizeBytes, &up.StorageKey, &up.PublicURL, &createdMs); err != nil {
		return nil, err
	}
	up.ID = pix.ID(id)
	up.Owner = pix.ID(owner)
	up.Purpose = UploadPurpose(purpose)
	up.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &up, nil
}

// SetOperationType inserts or updates an operation type.
func (d *DB) SetOperationType(ctx context.Context, op *OperationType) error {
	active := 0
	if op.Active {
		active = 1
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO operation_type(name, tokens_per_op, active) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET tokens_per_op = ?, active = ?`,
		op.Name, op.TokensPerOperation, active, op.TokensPerOperation, active,
	)
	return err
}

// GetOperationType returns the named operation type, or ErrNotFound.
func (d *DB) GetOperationType(ctx context.Context, name string) (*OperationType, error) {
	var (
		op     OperationType
		active int
	)
	err := d.db.QueryRowContext(ctx,
		"SELECT name, tokens_per_op, active FROM operation_type WHERE name = ?", name,
	).Scan(&op.Name, &op.TokensPerOperation, &active)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	op.Active = active != 0
	return &op, nil
}

func encodeCursor(ms int64, id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(ms, 10) + "|" + id))
}

func decodeCursor(s string) (int64, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return 0, "", errors.WithMessage(err, "cursor")
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return 0, "", errors.New("malformed cursor")
	}
	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", errors.WithMessage(err, "cursor")
	}
	return ms, parts[1], nil
}
