// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package ledger debits and credits prepaid token balances with idempotency
// and an append-only transaction log. It is the only component allowed to
// mutate token accounts.
package ledger

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

	"github.com/pixmint/pixmint/log"
	"github.com/pixmint/pixmint/pix"
)

var logger = log.WithContext("pkg", "ledger")

// Ledger is the token account store. Mutations run inside immediate sqlite
// transactions, so concurrent credits/debits on one account serialize on the
// database write lock and are linearizable per account.
type Ledger struct {
	path string
	db   *sql.DB
}

// New creates or opens the ledger db at the given path.
func New(path string) (l *Ledger, err error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=10000&_journal_mode=WAL", path))
	if err != nil {
		return nil, err
	}
	defer func() {
		if l == nil {
			db.Close()
		}
	}()
	if _, err := db.Exec(accountTableSchema + txTableSchema); err != nil {
		return nil, err
	}
	return &Ledger{path, db}, nil
}

// NewMem creates a ledger db in ram.
func NewMem() (*Ledger, error) {
	db, err := sql.Open("sqlite3", "file::memory:?_txlock=immediate")
	if err != nil {
		return nil, err
	}
	// a memory db exists per connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(accountTableSchema + txTableSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{":memory:", db}, nil
}

// Close closes the ledger db.
func (l *Ledger) Close() {
	l.db.Close()
}

// Ping verifies the backing database is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func (l *Ledger) Path() string { return l.path }

// Credit adds amount to the owner's balance, creating the account if absent.
func (l *Ledger) Credit(ctx context.Context, owner pix.ID, amount int64, reason ReasonCode, op Op) (*Result, error) {
	return l.apply(ctx, KindCredit, owner, amount, reason, op)
}

// Debit removes amount from the owner's balance. It fails with
// ErrInsufficientFunds, changing nothing, when the balance cannot cover it.
//
// An idempotent replay of a prior success returns that success; a replay of
// an attempt that failed with ErrInsufficientFunds was never recorded and is
// re-evaluated against the current balance.
func (l *Ledger) Debit(ctx context.Context, owner pix.ID, amount int64, reason ReasonCode, op Op) (*Result, error) {
	return l.apply(ctx, KindDebit, owner, amount, reason, op)
}

func (l *Ledger) apply(ctx context.Context, kind Kind, owner pix.ID, amount int64, reason ReasonCode, op Op) (*Result, error) {
	// reject before taking any lock
	if owner.IsZero() {
		return nil, ErrBadOwner
	}
	if amount <= 0 || amount > pix.MaxTxAmount {
		return nil, ErrBadAmount
	}
	if !reason.Valid() {
		return nil, errors.WithMessage(ErrBadReason, string(reason))
	}
	if op.Actor.Type == "" {
		op.Actor = SystemActor
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if op.IdempotencyKey != "" {
		var txID string
		var balanceAfter int64
		err := tx.QueryRowContext(ctx,
			"SELECT id, balance_after FROM token_tx WHERE owner = ? AND idem_key = ?",
			owner.String(), op.IdempotencyKey,
		).Scan(&txID, &balanceAfter)
		switch {
		case err == nil:
			meterIdempotentHits().Add(1)
			return &Result{Balance: balanceAfter, TransactionID: pix.ID(txID), Idempotent: true}, nil
		case err != sql.ErrNoRows:
			return nil, err
		}
	}

	var account Account
	err = tx.QueryRowContext(ctx,
		"SELECT balance, total_earned, total_spent FROM token_account WHERE owner = ?",
		owner.String(),
	).Scan(&account.Balance, &account.TotalEarned, &account.TotalSpent)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	newBalance := account.Balance
	if kind == KindCredit {
		newBalance += amount
		account.TotalEarned += amount
	} else {
		if account.Balance < amount {
			return nil, ErrInsufficientFunds
		}
		newBalance -= amount
		account.TotalSpent += amount
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO token_account(owner, balance, total_earned, total_spent) VALUES (?, ?, ?, ?)
		 ON CONFLICT(owner) DO UPDATE SET balance = ?, total_earned = ?, total_spent = ?`,
		owner.String(), newBalance, account.TotalEarned, account.TotalSpent,
		newBalance, account.TotalEarned, account.TotalSpent,
	); err != nil {
		return nil, err
	}

	txID := pix.NewID()
	now := pix.Now()

	var metaJSON sql.NullString
	if len(op.Meta) > 0 {
		b, err := json.Marshal(op.Meta)
		if err != nil {
			return nil, errors.WithMessage(err, "encode meta")
		}
		metaJSON = sql.NullString{String: string(b), Valid: true}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO token_tx(id, owner, kind, amount, balance_after, reason, ref_kind, ref_id, idem_key, actor_type, actor_id, meta, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txID.String(), owner.String(), string(kind), amount, newBalance, string(reason),
		nullable(op.ReferenceKind), nullable(op.ReferenceID.String()), nullable(op.IdempotencyKey),
		string(op.Actor.Type), nullable(op.Actor.ID.String()), metaJSON, now.UnixMilli(),
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	meterOps().AddWithLabel(1, map[string]string{"kind": string(kind), "reason": string(reason)})
	logger.Debug("ledger entry", "kind", kind, "owner", owner, "amount", amount, "balance", newBalance, "reason", reason)
	return &Result{Balance: newBalance, TransactionID: txID}, nil
}

// Balance returns the account view of the owner, all-zero for accounts that
// were never credited.
func (l *Ledger) Balance(ctx context.Context, owner pix.ID) (*Account, error) {
	if owner.IsZero() {
		return nil, ErrBadOwner
	}
	account := Account{Owner: owner}
	err := l.db.QueryRowContext(ctx,
		"SELECT balance, total_earned, total_spent FROM token_account WHERE owner = ?",
		owner.String(),
	).Scan(&account.Balance, &account.TotalEarned, &account.TotalSpent)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	return &account, nil
}

// History pages the owner's transaction log, strictly descending by
// (createdAt, id) for deterministic pagination.
func (l *Ledger) History(ctx context.Context, owner pix.ID, filter HistoryFilter) (*HistoryPage, error) {
	if owner.IsZero() {
		return nil, ErrBadOwner
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	stmt := "SELECT id, kind, amount, balance_after, reason, ref_kind, ref_id, idem_key, actor_type, actor_id, meta, created_at FROM token_tx WHERE owner = ?"
	args := []interface{}{owner.String()}

	if filter.Kind != "" {
		stmt += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	if filter.Reason != "" {
		if !filter.Reason.Valid() {
			return nil, errors.WithMessage(ErrBadReason, string(filter.Reason))
		}
		stmt += " AND reason = ?"
		args = append(args, string(filter.Reason))
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

	rows, err := l.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Transaction
	for rows.Next() {
		var (
			t                              Transaction
			refKind, refID, idemKey        sql.NullString
			actorID, metaJSON              sql.NullString
			kind, reason, actorType        string
			createdMs                      int64
			id                             string
		)
		if err := rows.Scan(&id, &kind, &t.Amount, &t.BalanceAfter, &reason,
			&refKind, &refID, &idemKey, &actorType, &actorID, &metaJSON, &createdMs); err != nil {
			return nil, err
		}
		t.ID = pix.ID(id)
		t.Owner = owner
		t.Kind = Kind(kind)
		t.Reason = ReasonCode(reason)
		t.ReferenceKind = refKind.String
		t.ReferenceID = pix.ID(refID.String)
		t.IdempotencyKey = idemKey.String
		t.ActorType = ActorType(actorType)
		t.ActorID = pix.ID(actorID.String)
		t.CreatedAt = time.UnixMilli(createdMs).UTC()
		if metaJSON.Valid {
			if err := json.Unmarshal([]byte(metaJSON.String), &t.Meta); err != nil {
				return nil, errors.WithMessage(err, "decode meta")
			}
		}
		items = append(items, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	page := &HistoryPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.HasMore = true
		last := page.Items[len(page.Items)-1]
		page.NextCursor = encodeCursor(last.CreatedAt.UnixMilli(), last.ID.String())
	}
	return page, nil
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

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
