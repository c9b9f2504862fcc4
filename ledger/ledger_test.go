// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixmint/pixmint/pix"
)

func newTestLedger(t *testing.T) *Ledger {
	l, err := NewMem()
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func TestCreditCreatesAccount(t *testing.T) {
	l := newTestLedger(t)
	owner := pix.NewID()

	res, err := l.Credit(context.Background(), owner, 500, ReasonSignupBonus, Op{})
	require.NoError(t, err)
	assert.EqualValues(t, 500, res.Balance)
	assert.False(t, res.Idempotent)
	assert.False(t, res.TransactionID.IsZero())

	acc, err := l.Balance(context.Background(), owner)
	require.NoError(t, err)
	assert.EqualValues(t, 500, acc.Balance)
	assert.EqualValues(t, 500, acc.TotalEarned)
	assert.EqualValues(t, 0, acc.TotalSpent)
}

func TestBalanceOfUnknownOwnerIsZero(t *testing.T) {
	l := newTestLedger(t)

	acc, err := l.Balance(context.Background(), pix.NewID())
	require.NoError(t, err)
	assert.EqualValues(t, 0, acc.Balance)
	assert.EqualValues(t, 0, acc.TotalEarned)
	assert.EqualValues(t, 0, acc.TotalSpent)
}

func TestDebit(t *testing.T) {
	l := newTestLedger(t)
	owner := pix.NewID()

	_, err := l.Credit(context.Background(), owner, 300, ReasonAdminTopup, Op{})
	require.NoError(t, err)

	res, err := l.Debit(context.Background(), owner, 200, ReasonTextToImage, Op{Actor: SystemActor})
	require.NoError(t, err)
	assert.EqualValues(t, 100, res.Balance)

	acc, err := l.Balance(context.Background(), owner)
	require.NoError(t, err)
	assert.EqualValues(t, 100, acc.Balance)
	assert.EqualValues(t, 300, acc.TotalEarned)
	assert.EqualValues(t, 200, acc.TotalSpent)
}

func TestDebitInsufficientFunds(t *testing.T) {
	l := newTestLedger(t)
	owner := pix.NewID()

	_, err := l.Credit(context.Background(), owner, 50, ReasonSignupBonus, Op{})
	require.NoError(t, err)

	_, err = l.Debit(context.Background(), owner, 100, ReasonTextToImage, Op{})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// nothing recorded
	acc, err := l.Balance(context.Background(), owner)
	require.NoError(t, err)
	assert.EqualValues(t, 50, acc.Balance)

	page, err := l.History(context.Background(), owner, HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestDebitUnknownOwnerInsufficient(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Debit(context.Background(), pix.NewID(), 1, ReasonTextToImage, Op{})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestValidation(t *testing.T) {
	l := newTestLedger(t)
	owner := pix.NewID()

	_, err := l.Credit(context.Background(), owner, 0, ReasonSignupBonus, Op{})
	assert.ErrorIs(t, err, ErrBadAmount)

	_, err = l.Credit(context.Background(), owner, pix.MaxTxAmount+1, ReasonSignupBonus, Op{})
	assert.ErrorIs(t, err, ErrBadAmount)

	_, err = l.Credit(context.Background(), owner, 10, ReasonCode("mystery"), Op{})
	assert.ErrorIs(t, err, ErrBadReason)

	_, err = l.Credit(context.Background(), "", 10, ReasonSignupBonus, Op{})
	assert.ErrorIs(t, err, ErrBadOwner)
}

func TestIdempotentReplay(t *testing.T) {
	l := newTestLedger(t)
	owner := pix.NewID()

	_, err := l.Credit(context.Background(), owner, 400, ReasonSignupBonus, Op{})
	require.NoError(t, err)

	op := Op{IdempotencyKey: "gen:" + pix.NewID().String()}
	first, err := l.Debit(context.Background(), owner, 100, ReasonTextToImage, op)
	require.NoError(t, err)
	require.False(t, first.Idempotent)

	for i := 0; i < 3; i++ {
		replay, err := l.Debit(context.Background(), owner, 100, ReasonTextToImage, op)
		require.NoError(t, err)
		assert.True(t, replay.Idempotent)
		assert.Equal(t, first.TransactionID, replay.TransactionID)
		assert.Equal(t, first.Balance, replay.Balance)
	}

	acc, err := l.Balance(context.Background(), owner)
	require.NoError(t, err)
	assert.EqualValues(t, 300, acc.Balance)
}

func TestIdempotencyScopedByOwner(t *testing.T) {
	l := newTestLedger(t)
	a, b := pix.NewID(), pix.NewID()

	op := Op{IdempotencyKey: "topup-1"}
	resA, err := l.Credit(context.Background(), a, 100, ReasonAdminTopup, op)
	require.NoError(t, err)
	resB, err := l.Credit(context.Background(), b, 100, ReasonAdminTopup, op)
	require.NoError(t, err)

	assert.False(t, resA.Idempotent)
	assert.False(t, resB.Idempotent)
	assert.NotEqual(t, resA.TransactionID, resB.TransactionID)
}

func TestFailedDebitNotRecordedForReplay(t *testing.T) {
	l := newTestLedger(t)
	owner := pix.NewID()

	op := Op{IdempotencyKey: "gen:x"}
	_, err := l.Debit(context.Background(), owner, 100, ReasonTextToImage, op)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// fund the account, the same key must now be re-evaluated and succeed
	_, err = l.Credit(context.Background(), owner, 100, ReasonAdminTopup, Op{})
	require.NoError(t, err)

	res, err := l.Debit(context.Background(), owner, 100, ReasonTextToImage, op)
	require.NoError(t, err)
	assert.False(t, res.Idempotent)
	assert.EqualValues(t, 0, res.Balance)
}

func TestHistoryPagination(t *testing.T) {
	l := newTestLedger(t)
	owner := pix.NewID()

	for i := 0; i < 7; i++ {
		_, err := l.Credit(context.Background(), owner, int64(i+1), ReasonAdminTopup, Op{})
		require.NoError(t, err)
	}

	var seen []pix.ID
	cursor := ""
	for {
		page, err := l.History(context.Background(), owner, HistoryFilter{Limit: 3, Cursor: cursor})
		require.NoError(t, err)
		for _, item := range page.Items {
			seen = append(seen, item.ID)
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	assert.Len(t, seen, 7)
	// no duplicates across pages
	unique := make(map[pix.ID]struct{})
	for _, id := range seen {
		unique[id] = struct{}{}
	}
	assert.Len(t, unique, 7)
}

func TestHistoryFilters(t *testing.T) {
	l := newTestLedger(t)
	owner := pix.NewID()

	_, err := l.Credit(context.Background(), owner, 100, ReasonSignupBonus, Op{})
	require.NoError(t, err)
	_, err = l.Debit(context.Background(), owner, 40, ReasonTextToImage, Op{})
	require.NoError(t, err)
	_, err = l.Debit(context.Background(), owner, 10, ReasonImageReference, Op{})
	require.NoError(t, err)

	page, err := l.History(context.Background(), owner, HistoryFilter{Kind: KindDebit})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	page, err = l.History(context.Background(), owner, HistoryFilter{Reason: ReasonTextToImage})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.EqualValues(t, 40, page.Items[0].Amount)

	_, err = l.History(context.Background(), owner, HistoryFilter{Reason: ReasonCode("nope")})
	assert.ErrorIs(t, err, ErrBadReason)
}

// The transaction log must reproduce the balance: every balanceAfter snapshot
// is consistent and the newest one equals the account balance.
func TestConservation(t *testing.T) {
	l := newTestLedger(t)
	owner := pix.NewID()

	amounts := []int64{500, 120, 40, 300, 80}
	kinds := []Kind{KindCredit, KindDebit, KindDebit, KindCredit, KindDebit}
	for i, amount := range amounts {
		var err error
		if kinds[i] == KindCredit {
			_, err = l.Credit(context.Background(), owner, amount, ReasonAdminTopup, Op{})
		} else {
			_, err = l.Debit(context.Background(), owner, amount, ReasonAdjustment, Op{})
		}
		require.NoError(t, err)
	}

	acc, err := l.Balance(context.Background(), owner)
	require.NoError(t, err)

	page, err := l.History(context.Background(), owner, HistoryFilter{Limit: MaxHistoryLimit})
	require.NoError(t, err)
	require.NotEmpty(t, page.Items)

	var sum int64
	for _, item := range page.Items {
		if item.Kind == KindCredit {
			sum += item.Amount
		} else {
			sum -= item.Amount
		}
	}
	assert.Equal(t, acc.Balance, sum)
	assert.Equal(t, acc.Balance, page.Items[0].BalanceAfter)
}

func TestConcurrentDebitsSerialize(t *testing.T) {
	l := newTestLedger(t)
	owner := pix.NewID()

	_, err := l.Credit(context.Background(), owner, 100, ReasonAdminTopup, Op{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.Debit(context.Background(), owner, 100, ReasonTextToImage, Op{})
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientFunds)
		}
	}
	assert.Equal(t, 1, succeeded)

	acc, err := l.Balance(context.Background(), owner)
	require.NoError(t, err)
	assert.EqualValues(t, 0, acc.Balance)
}

func TestConcurrentIdempotentDebits(t *testing.T) {
	l := newTestLedger(t)
	owner := pix.NewID()

	_, err := l.Credit(context.Background(), owner, 1000, ReasonAdminTopup, Op{})
	require.NoError(t, err)

	op := Op{IdempotencyKey: "gen:race"}
	results := make([]*Result, 8)
	errs := make([]error, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.Debit(context.Background(), owner, 100, ReasonTextToImage, op)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	acc, err := l.Balance(context.Background(), owner)
	require.NoError(t, err)
	assert.EqualValues(t, 900, acc.Balance)

	for _, res := range results {
		assert.Equal(t, results[0].TransactionID, res.TransactionID)
		assert.EqualValues(t, 900, res.Balance)
	}
}
