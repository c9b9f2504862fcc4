// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEarlyLoggerFollowsInit(t *testing.T) {
	// package loggers are created before the command line is parsed
	early := WithContext("pkg", "early")

	var buf bytes.Buffer
	level := Init(&buf, LevelDebug)

	early.Debug("debug after init", "k", "v")
	out := buf.String()
	assert.Contains(t, out, "debug after init")
	assert.Contains(t, out, "pkg=early")

	buf.Reset()
	level.Set(LevelError)
	early.Info("filtered out")
	assert.Empty(t, buf.String())

	early.Error("error passes")
	assert.Contains(t, buf.String(), "error passes")
}

func TestEarlyLoggerFollowsInitJSON(t *testing.T) {
	early := WithContext("pkg", "early").With("sub", "json")

	var buf bytes.Buffer
	InitJSON(&buf, LevelInfo)

	early.Info("hello")
	out := buf.String()
	assert.Contains(t, out, `"msg":"hello"`)
	assert.Contains(t, out, `"pkg":"early"`)
	assert.Contains(t, out, `"sub":"json"`)
}

func TestRootFollowsLevelVar(t *testing.T) {
	var buf bytes.Buffer
	level := Init(&buf, LevelInfo)

	Root().Debug("hidden")
	assert.Empty(t, buf.String())

	level.Set(LevelDebug)
	Root().Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}
