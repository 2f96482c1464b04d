// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T, level slog.Level, jsonFormat bool) *bytes.Buffer {
	t.Helper()

	buf := &bytes.Buffer{}
	old := Get()
	Set(newLogger(buf, level, jsonFormat))
	t.Cleanup(func() { Set(old) })
	return buf
}

func TestStructuredHelpers(t *testing.T) {
	buf := captureLogs(t, slog.LevelDebug, true)

	Infow("token resolved", "kind", "user", "name", "alice")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "token resolved", entry["msg"])
	assert.Equal(t, "user", entry["kind"])
	assert.Equal(t, "alice", entry["name"])
}

func TestFormattedHelpers(t *testing.T) {
	buf := captureLogs(t, slog.LevelInfo, false)

	Warnf("cookie %q rejected", "missing-session")

	assert.Contains(t, buf.String(), `cookie \"missing-session\" rejected`)
	assert.Contains(t, buf.String(), "WARN")
}

func TestDebugSuppressedAtInfoLevel(t *testing.T) {
	buf := captureLogs(t, slog.LevelInfo, false)

	Debug("noisy detail")

	assert.Empty(t, buf.String())
}

func TestPanicf(t *testing.T) {
	captureLogs(t, slog.LevelInfo, false)

	assert.PanicsWithValue(t, "boom: 42", func() {
		Panicf("boom: %d", 42)
	})
}
