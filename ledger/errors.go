// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package ledger

import "github.com/pkg/errors"

var (
	// ErrInsufficientFunds is returned by Debit when the balance cannot
	// cover the amount. The ledger is left untouched.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrBadAmount is returned when the amount is not a positive integer
	// within the single-transaction cap.
	ErrBadAmount = errors.New("amount must be a positive integer within cap")

	// ErrBadReason is returned for reason codes outside the enumeration.
	ErrBadReason = errors.New("unknown reason code")

	// ErrBadOwner is returned when the owner id is unset.
	ErrBadOwner = errors.New("owner required")
)
