// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestTerminal_Plain(t *testing.T) {
	var out bytes.Buffer
	n := NewTerminal(&out, true)
	n.Info("Analyzing code...")
	n.Error("boom")
	assert.Equal(t, "info: Analyzing code...\nerror: boom\n", out.String())
}

func TestTerminal_Styled(t *testing.T) {
	var out bytes.Buffer
	NewTerminal(&out, false).Error("boom")
	assert.Contains(t, out.String(), "error:")
	assert.Contains(t, out.String(), "boom")
}

func TestLogAndMulti(t *testing.T) {
	var logBuf, termBuf bytes.Buffer
	n := Multi{NewLog(zerolog.New(&logBuf)), NewTerminal(&termBuf, true), Discard{}}
	n.Error("bad key")

	assert.Contains(t, logBuf.String(), `"level":"error"`)
	assert.Contains(t, logBuf.String(), `"message":"bad key"`)
	assert.True(t, strings.HasPrefix(termBuf.String(), "error: bad key"))
}
