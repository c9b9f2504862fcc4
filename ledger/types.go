// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package ledger

import (
	"time"

	"github.com/pixmint/pixmint/pix"
)

// Kind tells whether a transaction adds to or removes from a balance.
type Kind string

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
)

// ReasonCode is the closed enumeration of causes a transaction may carry.
// Adding a code is a code change here; unknown codes are rejected before any
// database work.
type ReasonCode string

const (
	ReasonSignupBonus       ReasonCode = "signup_bonus"
	ReasonAdminTopup        ReasonCode = "admin_topup"
	ReasonTextToImage       ReasonCode = "text_to_image"
	ReasonImageReference    ReasonCode = "image_reference"
	ReasonImageMultipleRef  ReasonCode = "image_multiple_reference"
	ReasonRefund            ReasonCode = "refund"
	ReasonAdjustment        ReasonCode = "adjustment"
)

// Valid reports whether the reason code belongs to the enumeration.
func (r ReasonCode) Valid() bool {
	switch r {
	case ReasonSignupBonus, ReasonAdminTopup, ReasonTextToImage,
		ReasonImageReference, ReasonImageMultipleRef, ReasonRefund, ReasonAdjustment:
		return true
	}
	return false
}

// ActorType identifies who initiated a transaction.
type ActorType string

const (
	ActorSystem ActorType = "system"
	ActorUser   ActorType = "user"
	ActorAdmin  ActorType = "admin"
)

// Actor is the initiating principal of a transaction.
type Actor struct {
	Type ActorType
	ID   pix.ID // empty for system
}

// SystemActor is the actor for service-initiated transactions.
var SystemActor = Actor{Type: ActorSystem}

// Account is the balance view of a token account. Missing accounts read as
// all-zero; the row is created lazily on first credit.
type Account struct {
	Owner       pix.ID `json:"owner"`
	Balance     int64  `json:"balance"`
	TotalEarned int64  `json:"totalEarned"`
	TotalSpent  int64  `json:"totalSpent"`
}

// Transaction is an append-only ledger entry.
type Transaction struct {
	ID             pix.ID            `json:"id"`
	Owner          pix.ID            `json:"owner"`
	Kind           Kind              `json:"kind"`
	Amount         int64             `json:"amount"`
	BalanceAfter   int64             `json:"balanceAfter"`
	Reason         ReasonCode        `json:"reasonCode"`
	ReferenceKind  string            `json:"referenceKind,omitempty"`
	ReferenceID    pix.ID            `json:"referenceId,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	ActorType      ActorType         `json:"actorType"`
	ActorID        pix.ID            `json:"actorId,omitempty"`
	Meta           map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// Result is the outcome of a credit or debit.
type Result struct {
	Balance       int64
	TransactionID pix.ID
	// Idempotent is true when the call replayed a previously recorded
	// transaction and made no state change.
	Idempotent bool
}

// Op carries the optional attributes of a credit/debit call.
type Op struct {
	IdempotencyKey string
	ReferenceKind  string
	ReferenceID    pix.ID
	Actor          Actor
	Meta           map[string]string
}

// HistoryFilter selects and pages the transaction log of one owner.
type HistoryFilter struct {
	Kind   Kind       // optional
	Reason ReasonCode // optional
	Limit  int        // capped at MaxHistoryLimit, default DefaultHistoryLimit
	Cursor string     // opaque, from a previous page
}

// HistoryPage is one page of an owner's transaction log, newest first.
type HistoryPage struct {
	Items      []*Transaction `json:"items"`
	NextCursor string         `json:"nextCursor,omitempty"`
	HasMore    bool           `json:"hasMore"`
}

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)
