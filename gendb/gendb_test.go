// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package gendb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixmint/pixmint/pix"
)

func newTestDB(t *testing.T) *DB {
	d, err := NewMem()
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func newRecord(t *testing.T, d *DB, owner pix.ID) *Record {
	rec := &Record{
		Owner:     owner,
		Operation: "text_to_image",
		Prompt:    "a lighthouse at dusk",
		Meta:      RequestMeta{NumberOfImages: 2, AspectRatio: pix.RatioWide},
	}
	require.NoError(t, d.CreateGeneration(context.Background(), rec))
	return rec
}

func TestCreateAndGetGeneration(t *testing.T) {
	d := newTestDB(t)
	owner := pix.NewID()
	rec := newRecord(t, d, owner)

	got, err := d.GetGeneration(context.Background(), owner, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 0, got.Progress)
	assert.Equal(t, rec.Prompt, got.Prompt)
	assert.Equal(t, 2, got.Meta.NumberOfImages)
	assert.Nil(t, got.StartedAt)

	// other owners cannot see the record
	_, err = d.GetGeneration(context.Background(), pix.NewID(), rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLifecycleForwardOnly(t *testing.T) {
	d := newTestDB(t)
	rec := newRecord(t, d, pix.NewID())
	ctx := context.Background()

	now := pix.Now()
	require.NoError(t, d.MarkProcessing(ctx, rec.ID, now))
	// re-claim after re-delivery is fine
	require.NoError(t, d.MarkProcessing(ctx, rec.ID, now))

	outputs := []pix.ID{pix.NewID(), pix.NewID()}
	require.NoError(t, d.CompleteGeneration(ctx, rec.ID, outputs, 200, pix.Now(), 1234))

	got, err := d.GetGenerationByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.EqualValues(t, 200, got.TokensCharged)
	assert.Equal(t, outputs, got.Outputs)
	assert.EqualValues(t, 1234, got.ProcessingMs)
	require.NotNil(t, got.CompletedAt)

	// terminal states never re-open
	assert.ErrorIs(t, d.MarkProcessing(ctx, rec.ID, pix.Now()), ErrTerminal)
	assert.ErrorIs(t, d.FailGeneration(ctx, rec.ID, "late", pix.Now()), ErrTerminal)
	assert.ErrorIs(t, d.CompleteGeneration(ctx, rec.ID, nil, 0, pix.Now(), 0), ErrTerminal)
}

func TestFailGeneration(t *testing.T) {
	d := newTestDB(t)
	rec := newRecord(t, d, pix.NewID())
	ctx := context.Background()

	require.NoError(t, d.MarkProcessing(ctx, rec.ID, pix.Now()))
	require.NoError(t, d.FailGeneration(ctx, rec.ID, "PermanentError: prompt rejected", pix.Now()))

	got, err := d.GetGenerationByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.EqualValues(t, 0, got.TokensCharged)
	assert.Empty(t, got.Outputs)
	assert.Contains(t, got.Error, "PermanentError")
}

func TestProgressMonotonic(t *testing.T) {
	d := newTestDB(t)
	rec := newRecord(t, d, pix.NewID())
	ctx := context.Background()

	require.NoError(t, d.MarkProcessing(ctx, rec.ID, pix.Now()))
	require.NoError(t, d.UpdateProgress(ctx, rec.ID, 50))
	// regression dropped
	require.NoError(t, d.UpdateProgress(ctx, rec.ID, 20))

	got, err := d.GetGenerationByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress)

	// a re-claim keeps the progress reached by the previous attempt
	require.NoError(t, d.MarkProcessing(ctx, rec.ID, pix.Now()))
	got, err = d.GetGenerationByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress)
}

func TestMarkTempFileUsed(t *testing.T) {
	d := newTestDB(t)
	rec := newRecord(t, d, pix.NewID())

	require.NoError(t, d.MarkTempFileUsed(context.Background(), rec.ID))

	got, err := d.GetGenerationByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Meta.UsedTempFile)
}

func TestListGenerations(t *testing.T) {
	d := newTestDB(t)
	owner := pix.NewID()
	ctx := context.Background()

	var failed *Record
	for i := 0; i < 5; i++ {
		rec := newRecord(t, d, owner)
		if i == 2 {
			failed = rec
		}
	}
	require.NoError(t, d.MarkProcessing(ctx, failed.ID, pix.Now()))
	require.NoError(t, d.FailGeneration(ctx, failed.ID, "boom", pix.Now()))

	page, err := d.ListGenerations(ctx, owner, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 4)

	page, err = d.ListGenerations(ctx, owner, ListFilter{IncludeFailed: true})
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)

	// paging walks without duplicates
	seen := make(map[pix.ID]struct{})
	cursor := ""
	for {
		page, err := d.ListGenerations(ctx, owner, ListFilter{Limit: 2, Cursor: cursor, IncludeFailed: true})
		require.NoError(t, err)
		for _, item := range page.Items {
			_, dup := seen[item.ID]
			assert.False(t, dup)
			seen[item.ID] = struct{}{}
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	assert.Len(t, seen, 5)
}

func TestUploads(t *testing.T) {
	d := newTestDB(t)
	owner := pix.NewID()
	ctx := context.Background()

	a := &Upload{Owner: owner, Purpose: PurposeGenerationOutput, MimeType: "image/png", SizeBytes: 10, StorageKey: "k/a", PublicURL: "https://img.test/k/a"}
	b := &Upload{Owner: owner, Purpose: PurposeReferenceInput, MimeType: "image/jpeg", SizeBytes: 20, StorageKey: "k/b", PublicURL: "https://img.test/k/b"}
	require.NoError(t, d.CreateUpload(ctx, a))
	require.NoError(t, d.CreateUpload(ctx, b))

	got, err := d.GetUpload(ctx, owner, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "k/b", got.StorageKey)

	_, err = d.GetUpload(ctx, pix.NewID(), b.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// order of ids is preserved
	ups, err := d.GetUploads(ctx, []pix.ID{b.ID, a.ID})
	require.NoError(t, err)
	require.Len(t, ups, 2)
	assert.Equal(t, b.ID, ups[0].ID)
	assert.Equal(t, a.ID, ups[1].ID)

	_, err = d.GetUploads(ctx, []pix.ID{a.ID, pix.NewID()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOperationTypes(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	_, err := d.GetOperationType(ctx, "text_to_image")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, d.SetOperationType(ctx, &OperationType{Name: "text_to_image", TokensPerOperation: 100, Active: true}))

	op, err := d.GetOperationType(ctx, "text_to_image")
	require.NoError(t, err)
	assert.EqualValues(t, 100, op.TokensPerOperation)
	assert.True(t, op.Active)

	// price update
	require.NoError(t, d.SetOperationType(ctx, &OperationType{Name: "text_to_image", TokensPerOperation: 150, Active: false}))
	op, err = d.GetOperationType(ctx, "text_to_image")
	require.NoError(t, err)
	assert.EqualValues(t, 150, op.TokensPerOperation)
	assert.False(t, op.Active)
}
