// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package auth verifies bearer tokens and carries the principal through the
// request context. Tokens are HS256 JWTs whose subject is the user id.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/pixmint/pixmint/api/restutil"
	"github.com/pixmint/pixmint/pix"
)

type ctxKey struct{}

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Auth verifies and mints bearer tokens.
type Auth struct {
	secret []byte
}

// New creates an Auth around the shared signing secret.
func New(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

// VerifyToken resolves a bearer token to its owner.
func (a *Auth) VerifyToken(token string) (pix.ID, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidToken
	}
	owner, err := pix.ParseID(sub)
	if err != nil {
		return "", ErrInvalidToken
	}
	return owner, nil
}

// Sign mints a token for owner. Used by tooling and tests; the service
// itself only verifies.
func (a *Auth) Sign(owner pix.ID, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   owner.String(),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Middleware rejects requests without a valid bearer token and stores the
// owner in the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			restutil.WrapHandlerFunc(func(http.ResponseWriter, *http.Request) error {
				return restutil.Unauthorized(errors.New("missing bearer token"))
			})(w, r)
			return
		}
		owner, err := a.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			restutil.WrapHandlerFunc(func(http.ResponseWriter, *http.Request) error {
				return restutil.Unauthorized(err)
			})(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
	})
}

// WithOwner stores the authenticated owner in ctx.
func WithOwner(ctx context.Context, owner pix.ID) context.Context {
	return context.WithValue(ctx, ctxKey{}, owner)
}

// Owner returns the authenticated owner of the request.
func Owner(ctx context.Context) (pix.ID, bool) {
	owner, ok := ctx.Value(ctxKey{}).(pix.ID)
	return owner, ok
}
