// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package nvim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/codeexplain/internal/snippet"
)

func TestAddress(t *testing.T) {
	t.Setenv("NVIM", "")
	t.Setenv("NVIM_LISTEN_ADDRESS", "")
	assert.Equal(t, "", Address(""))

	t.Setenv("NVIM_LISTEN_ADDRESS", "/tmp/legacy.sock")
	assert.Equal(t, "/tmp/legacy.sock", Address(""))

	t.Setenv("NVIM", "/tmp/nvim.sock")
	assert.Equal(t, "/tmp/nvim.sock", Address(""))
	assert.Equal(t, "127.0.0.1:6666", Address("127.0.0.1:6666"))
}

func TestDial_NoAddress(t *testing.T) {
	t.Setenv("NVIM", "")
	t.Setenv("NVIM_LISTEN_ADDRESS", "")
	_, err := Dial("")
	assert.ErrorIs(t, err, ErrNoAddress)
}

func TestBufferState_Document(t *testing.T) {
	doc := bufferState{
		Name:       "/home/me/proj/main.go",
		FileType:   "go",
		CursorLine: 4,
		CursorText: "func main() {",
		SelStart:   2,
		SelEnd:     3,
		SelText:    "a := 1\nb := 2",
	}.document()

	assert.Equal(t, "main.go", doc.Name)
	assert.Equal(t, "go", doc.LanguageID)
	assert.Equal(t, snippet.Range{Start: 2, End: 3}, doc.Selection)
	assert.Equal(t, "a := 1\nb := 2", doc.SelectedText)
	assert.Equal(t, 4, doc.CursorLine)

	unnamed := bufferState{}.document()
	assert.Equal(t, "untitled", unnamed.Name)
}

func TestConvertSymbols(t *testing.T) {
	raw := []lspSymbol{
		{Name: "Server", Kind: 5, Start: 0, End: 20, Children: []lspSymbol{
			{Name: "Start", Kind: 6, Start: 3, End: 9},
		}},
		{Name: "broken", Kind: 12, Start: 30, End: 10},
	}

	got := convertSymbols(raw)
	require.Len(t, got, 2)
	assert.Equal(t, snippet.SymbolClass, got[0].Kind)
	require.Len(t, got[0].Children, 1)
	assert.Equal(t, snippet.SymbolMethod, got[0].Children[0].Kind)
	assert.Equal(t, snippet.Range{Start: 3, End: 9}, got[0].Children[0].Range)
	assert.Equal(t, snippet.Range{Start: 30, End: 30}, got[1].Range)

	assert.Nil(t, convertSymbols(nil))
}
