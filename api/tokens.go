// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/pixmint/pixmint/api/auth"
	"github.com/pixmint/pixmint/api/restutil"
	"github.com/pixmint/pixmint/ledger"
)

// Tokens exposes the token balance and history endpoints.
type Tokens struct {
	ledger *ledger.Ledger
}

func NewTokens(lg *ledger.Ledger) *Tokens {
	return &Tokens{ledger: lg}
}

func (t *Tokens) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/balance").
		Methods(http.MethodGet).
		HandlerFunc(restutil.WrapHandlerFunc(t.handleBalance))
	sub.Path("/history").
		Methods(http.MethodGet).
		HandlerFunc(restutil.WrapHandlerFunc(t.handleHistory))
}

func (t *Tokens) handleBalance(w http.ResponseWriter, r *http.Request) error {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		return restutil.Unauthorized(errors.New("no principal"))
	}
	account, err := t.ledger.Balance(r.Context(), owner)
	if err != nil {
		return err
	}
	return restutil.WriteData(w, http.StatusOK, restutil.M{
		"userId":      owner,
		"balance":     account.Balance,
		"totalEarned": account.TotalEarned,
		"totalSpent":  account.TotalSpent,
	})
}

func (t *Tokens) handleHistory(w http.ResponseWriter, r *http.Request) error {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		return restutil.Unauthorized(errors.New("no principal"))
	}

	query := r.URL.Query()
	filter := ledger.HistoryFilter{Cursor: query.Get("cursor")}
	if raw := query.Get("type"); raw != "" {
		kind := ledger.Kind(raw)
		if kind != ledger.KindCredit && kind != ledger.KindDebit {
			return restutil.BadRequest(errors.Errorf("unknown type %q", raw))
		}
		filter.Kind = kind
	}
	if raw := query.Get("reason"); raw != "" {
		reason := ledger.ReasonCode(raw)
		if !reason.Valid() {
			return restutil.BadRequest(errors.Errorf("unknown reason %q", raw))
		}
		filter.Reason = reason
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return restutil.BadRequest(errors.New("limit must be a positive integer"))
		}
		filter.Limit = limit
	}

	page, err := t.ledger.History(r.Context(), owner, filter)
	if err != nil {
		return err
	}
	return restutil.WriteData(w, http.StatusOK, page)
}
