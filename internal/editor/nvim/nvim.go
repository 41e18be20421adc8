// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package nvim reads the active buffer of a running Neovim over its msgpack
// RPC socket. The current selection, cursor line and LSP document symbols
// are exposed through the snippet capability interfaces.
package nvim

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/neovim/go-client/nvim"
	"github.com/rs/zerolog"

	"github.com/jeranaias/codeexplain/internal/snippet"
)

// DefaultSymbolTimeout bounds the documentSymbol request sent to attached
// language servers.
const DefaultSymbolTimeout = 2 * time.Second

// ErrNoAddress is returned by Dial when no socket address is known.
var ErrNoAddress = errors.New("no neovim address: set editor.nvim_address or $NVIM")

// Provider is a snippet.SelectionProvider and snippet.SymbolLookup backed by
// a Neovim instance.
type Provider struct {
	v             *nvim.Nvim
	visual        bool
	symbolTimeout time.Duration
	log           zerolog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithVisual makes Active read the last visual selection marks. Mappings
// that invoke the command from visual mode set this.
func WithVisual(visual bool) Option {
	return func(p *Provider) { p.visual = visual }
}

// WithSymbolTimeout overrides DefaultSymbolTimeout.
func WithSymbolTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.symbolTimeout = d
		}
	}
}

// WithLogger sets the provider logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// Address returns addr, falling back to $NVIM and $NVIM_LISTEN_ADDRESS.
func Address(addr string) string {
	if addr != "" {
		return addr
	}
	if env := os.Getenv("NVIM"); env != "" {
		return env
	}
	return os.Getenv("NVIM_LISTEN_ADDRESS")
}

// Dial connects to the Neovim listening on addr (see Address).
func Dial(addr string, opts ...Option) (*Provider, error) {
	addr = Address(addr)
	if addr == "" {
		return nil, ErrNoAddress
	}
	v, err := nvim.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("connect to neovim at %s: %w", addr, err)
	}
	p := &Provider{
		v:             v,
		symbolTimeout: DefaultSymbolTimeout,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log.Debug().Str("addr", addr).Msg("connected to neovim")
	return p, nil
}

// Close releases the RPC connection.
func (p *Provider) Close() error {
	if p.v == nil {
		return nil
	}
	return p.v.Close()
}

// =============================================================================
// SELECTION
// =============================================================================

// bufferState is the table returned by activeLua.
type bufferState struct {
	Name       string `msgpack:"name"`
	FileType   string `msgpack:"filetype"`
	CursorLine int    `msgpack:"cursor_line"`
	CursorText string `msgpack:"cursor_text"`
	SelStart   int    `msgpack:"sel_start"`
	SelEnd     int    `msgpack:"sel_end"`
	SelText    string `msgpack:"sel_text"`
}

const activeLua = `
local visual = ...
local buf = vim.api.nvim_get_current_buf()
local cursor = vim.api.nvim_win_get_cursor(0)
local res = {
  name = vim.api.nvim_buf_get_name(buf),
  filetype = vim.bo[buf].filetype,
  cursor_line = cursor[1] - 1,
  cursor_text = vim.api.nvim_get_current_line(),
  sel_start = 0,
  sel_end = 0,
  sel_text = "",
}
if visual then
  local s = vim.fn.getpos("'<")
  local e = vim.fn.getpos("'>")
  if s[2] > 0 and e[2] >= s[2] then
    local lines = vim.api.nvim_buf_get_lines(buf, s[2] - 1, e[2], false)
    if vim.fn.visualmode() == "v" and #lines > 0 then
      lines[#lines] = string.sub(lines[#lines], 1, e[3])
      lines[1] = string.sub(lines[1], s[3])
    end
    res.sel_start = s[2] - 1
    res.sel_end = e[2] - 1
    res.sel_text = table.concat(lines, "\n")
  end
end
return res
`

// Active implements snippet.SelectionProvider.
func (p *Provider) Active(ctx context.Context) (*snippet.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var st bufferState
	if err := p.v.ExecLua(activeLua, &st, p.visual); err != nil {
		return nil, fmt.Errorf("read buffer state: %w", err)
	}
	return st.document(), nil
}

func (st bufferState) document() *snippet.Document {
	name := filepath.Base(st.Name)
	if st.Name == "" {
		name = "untitled"
	}
	return &snippet.Document{
		Name:           name,
		LanguageID:     st.FileType,
		Selection:      snippet.Range{Start: st.SelStart, End: st.SelEnd},
		SelectedText:   st.SelText,
		CursorLine:     st.CursorLine,
		CursorLineText: st.CursorText,
	}
}

const textLua = `
local s, e = ...
return table.concat(vim.api.nvim_buf_get_lines(0, s, e + 1, false), "\n")
`

// TextInRange implements snippet.SelectionProvider.
func (p *Provider) TextInRange(ctx context.Context, r snippet.Range) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var text string
	if err := p.v.ExecLua(textLua, &text, r.Start, r.End); err != nil {
		return "", fmt.Errorf("read lines %d-%d: %w", r.Start+1, r.End+1, err)
	}
	return text, nil
}

// Keys are fed rather than run with :normal so visual mode survives the
// end of the RPC call.
const selectLua = `
local s, e = ...
local esc = vim.api.nvim_replace_termcodes("<Esc>", true, false, true)
local keys = ""
if vim.fn.mode():match("^[vV\22]") then
  keys = esc
end
vim.api.nvim_win_set_cursor(0, { s + 1, 0 })
keys = keys .. "V"
if e > s then
  keys = keys .. tostring(e - s) .. "j"
end
vim.api.nvim_feedkeys(keys, "n", false)
`

// SetSelection implements snippet.SelectionProvider.
func (p *Provider) SetSelection(ctx context.Context, r snippet.Range) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.v.ExecLua(selectLua, nil, r.Start, r.End); err != nil {
		return fmt.Errorf("select lines %d-%d: %w", r.Start+1, r.End+1, err)
	}
	return nil
}

// =============================================================================
// SYMBOLS
// =============================================================================

// lspSymbol is a DocumentSymbol (or SymbolInformation) flattened to lines.
type lspSymbol struct {
	Name     string      `msgpack:"name"`
	Kind     int         `msgpack:"kind"`
	Start    int         `msgpack:"start"`
	End      int         `msgpack:"end"`
	Children []lspSymbol `msgpack:"children"`
}

const symbolsLua = `
local timeout = ...
local buf = vim.api.nvim_get_current_buf()
local params = { textDocument = vim.lsp.util.make_text_document_params(buf) }
local results = vim.lsp.buf_request_sync(buf, "textDocument/documentSymbol", params, timeout)
local out = {}
if not results then
  return out
end
local function conv(sym)
  local range = sym.range or (sym.location and sym.location.range)
  local children = {}
  for _, c in ipairs(sym.children or {}) do
    table.insert(children, conv(c))
  end
  return {
    name = sym.name,
    kind = sym.kind,
    start = range and range.start.line or 0,
    ["end"] = range and range["end"].line or 0,
    children = children,
  }
end
for _, res in pairs(results) do
  for _, sym in ipairs(res.result or {}) do
    table.insert(out, conv(sym))
  end
end
return out
`

// DocumentSymbols implements snippet.SymbolLookup using the language servers
// attached to the current buffer. No attached server yields no symbols.
func (p *Provider) DocumentSymbols(ctx context.Context) ([]snippet.Symbol, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var raw []lspSymbol
	if err := p.v.ExecLua(symbolsLua, &raw, p.symbolTimeout.Milliseconds()); err != nil {
		return nil, fmt.Errorf("request document symbols: %w", err)
	}
	p.log.Debug().Int("symbols", len(raw)).Msg("document symbols")
	return convertSymbols(raw), nil
}

func convertSymbols(raw []lspSymbol) []snippet.Symbol {
	if len(raw) == 0 {
		return nil
	}
	out := make([]snippet.Symbol, 0, len(raw))
	for _, s := range raw {
		end := s.End
		if end < s.Start {
			end = s.Start
		}
		out = append(out, snippet.Symbol{
			Name:     s.Name,
			Kind:     snippet.SymbolKind(s.Kind),
			Range:    snippet.Range{Start: s.Start, End: end},
			Children: convertSymbols(s.Children),
		})
	}
	return out
}
