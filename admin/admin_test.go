// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixmint/pixmint/api/restutil"
	"github.com/pixmint/pixmint/health"
	"github.com/pixmint/pixmint/log"
)

func newTestServer(t *testing.T, h *health.Health) (*httptest.Server, *slog.LevelVar, *atomic.Bool) {
	level := new(slog.LevelVar)
	level.Set(log.LevelInfo)
	logRequests := new(atomic.Bool)

	srv := httptest.NewServer(New(level, h, logRequests))
	t.Cleanup(srv.Close)
	return srv, level, logRequests
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	defer resp.Body.Close()
	var env restutil.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	return data
}

func TestLogLevelEndpoint(t *testing.T) {
	srv, level, _ := newTestServer(t, health.New())

	resp, err := http.Get(srv.URL + "/admin/loglevel")
	require.NoError(t, err)
	assert.Equal(t, "INFO", decode(t, resp)["currentLevel"])

	resp, err = http.Post(srv.URL+"/admin/loglevel", restutil.JSONContentType,
		bytes.NewBufferString(`{"level":"debug"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "DEBUG", decode(t, resp)["currentLevel"])
	assert.Equal(t, log.LevelDebug, level.Level())

	resp, err = http.Post(srv.URL+"/admin/loglevel", restutil.JSONContentType,
		bytes.NewBufferString(`{"level":"verbose"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, log.LevelDebug, level.Level())
}

func TestRequestLoggerToggle(t *testing.T) {
	srv, _, logRequests := newTestServer(t, health.New())

	resp, err := http.Get(srv.URL + "/admin/apilogs")
	require.NoError(t, err)
	assert.Equal(t, false, decode(t, resp)["enabled"])

	resp, err = http.Post(srv.URL+"/admin/apilogs", restutil.JSONContentType,
		bytes.NewBufferString(`{"enabled":true}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.True(t, logRequests.Load())

	resp, err = http.Post(srv.URL+"/admin/apilogs", restutil.JSONContentType,
		bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthEndpoint(t *testing.T) {
	h := health.New()
	h.Register("db", func(context.Context) error { return nil })
	srv, _, _ := newTestServer(t, h)

	resp, err := http.Get(srv.URL + "/admin/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()

	h.SetReady(true)
	resp, err = http.Get(srv.URL + "/admin/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := decode(t, resp)
	assert.Equal(t, true, data["healthy"])

	h.Register("db", func(context.Context) error { return errors.New("locked") })
	resp, err = http.Get(srv.URL + "/admin/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}
