// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package restutil carries the response envelope and error plumbing shared
// by all HTTP handlers.
package restutil

import (
	"encoding/json"
	"io"
	"net/http"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Success bool        `json:"success"`
	Status  int         `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Error codes surfaced in the envelope's error field.
const (
	CodeValidation        = "VALIDATION"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeNotFound          = "NOT_FOUND"
	CodeInternal          = "INTERNAL"
)

type httpError struct {
	cause  error
	status int
	code   string
}

func (e *httpError) Error() string {
	if e.cause == nil {
		return e.code
	}
	return e.cause.Error()
}

// HTTPError creates an error carrying an http status and envelope code.
func HTTPError(cause error, status int, code string) error {
	return &httpError{cause: cause, status: status, code: code}
}

// BadRequest rejects a malformed request.
func BadRequest(cause error) error {
	return &httpError{cause: cause, status: http.StatusBadRequest, code: CodeValidation}
}

// Unauthorized rejects a missing or invalid credential.
func Unauthorized(cause error) error {
	return &httpError{cause: cause, status: http.StatusUnauthorized, code: CodeUnauthorized}
}

// PaymentRequired rejects a request the balance cannot cover.
func PaymentRequired(cause error) error {
	return &httpError{cause: cause, status: http.StatusPaymentRequired, code: CodeInsufficientFunds}
}

// NotFound covers both absent resources and ownership failures, so that
// existence cannot be probed.
func NotFound(cause error) error {
	return &httpError{cause: cause, status: http.StatusNotFound, code: CodeNotFound}
}

// HandlerFunc is like http.HandlerFunc but returns an error. An httpError
// selects its own status and code; anything else responds 500 with a generic
// message.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// WrapHandlerFunc converts a HandlerFunc to a http.HandlerFunc.
func WrapHandlerFunc(f HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := f(w, r)
		if err == nil {
			return
		}
		if he, ok := err.(*httpError); ok {
			msg := ""
			if he.cause != nil {
				msg = he.cause.Error()
			}
			writeEnvelope(w, he.status, &Envelope{
				Success: false,
				Status:  he.status,
				Error:   he.code,
				Message: msg,
			})
			return
		}
		writeEnvelope(w, http.StatusInternalServerError, &Envelope{
			Success: false,
			Status:  http.StatusInternalServerError,
			Error:   CodeInternal,
			Message: "internal server error",
		})
	}
}

// WriteData responds with a success envelope wrapping data.
func WriteData(w http.ResponseWriter, status int, data interface{}) error {
	return writeEnvelope(w, status, &Envelope{
		Success: true,
		Status:  status,
		Data:    data,
	})
}

func writeEnvelope(w http.ResponseWriter, status int, env *Envelope) error {
	w.Header().Set("Content-Type", JSONContentType)
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(env)
}

// JSONContentType is the content type of all JSON responses.
const JSONContentType = "application/json; charset=utf-8"

// ParseJSON parses a JSON object in strict mode.
func ParseJSON(r io.Reader, v interface{}) error {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// M shortcut for type map[string]interface{}.
type M map[string]interface{}
