// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/pixmint/pixmint/log"
)

// RequestLoggerHandler logs each request before it is handled. The enabled
// flag is read per request so the admin endpoint can toggle it at runtime.
// JSON bodies are logged verbatim; multipart uploads are summarized.
func RequestLoggerHandler(handler http.Handler, logger log.Logger, enabled *atomic.Bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !enabled.Load() {
			handler.ServeHTTP(w, r)
			return
		}
		body := "-"
		if r.Body != nil && !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			data, err := io.ReadAll(r.Body)
			if err == nil {
				r.Body = io.NopCloser(bytes.NewBuffer(data))
				if len(data) > 0 {
					body = string(data)
				}
			}
		} else if r.ContentLength > 0 {
			body = "(multipart)"
		}

		logger.Info("API request",
			"URI", r.URL.String(),
			"Method", r.Method,
			"Body", body,
		)

		handler.ServeHTTP(w, r)
	})
}
