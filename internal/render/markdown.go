// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	gutil "github.com/yuin/goldmark/util"
)

// DefaultStyle is the chroma style used for code highlighting.
const DefaultStyle = "github"

// lexerAliases maps editor language ids chroma does not know.
var lexerAliases = map[string]string{
	"shellscript":     "bash",
	"javascriptreact": "jsx",
	"typescriptreact": "tsx",
	"objective-c":     "objectivec",
	"objective-cpp":   "objectivec",
	"vb":              "vb.net",
	"fsharp":          "fsharp",
	"jsonc":           "json",
}

// =============================================================================
// MARKDOWN CONVERTER
// =============================================================================

// Markdown converts markdown to HTML: GitHub-flavored markdown with
// chroma-highlighted fenced code. Raw HTML in the source is not rendered.
// A Markdown is safe for concurrent use.
type Markdown struct {
	md        goldmark.Markdown
	style     *chroma.Style
	formatter *chromahtml.Formatter
}

// NewMarkdown creates a converter using the named chroma style. An unknown
// style falls back to chroma's default.
func NewMarkdown(styleName string) *Markdown {
	style := chromaStyles.Get(styleName)
	if style == nil {
		style = chromaStyles.Fallback
	}

	m := &Markdown{
		style:     style,
		formatter: chromahtml.New(chromahtml.WithClasses(true), chromahtml.TabWidth(4)),
	}
	m.md = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			// Priority below the default HTML renderer's 1000 so fenced
			// blocks are ours.
			renderer.WithNodeRenderers(gutil.Prioritized(&codeRenderer{m: m}, 200)),
		),
	)
	return m
}

// Convert renders markdown source to an HTML fragment.
func (m *Markdown) Convert(source string) (string, error) {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return buf.String(), nil
}

// WriteCSS writes the stylesheet for the highlight classes.
func (m *Markdown) WriteCSS(w io.Writer) error {
	return m.formatter.WriteCSS(w, m.style)
}

// highlight writes code as highlighted HTML. On failure it writes the
// escaped code in a plain pre block.
func (m *Markdown) highlight(w io.Writer, code, language string) {
	lexer := lookupLexer(code, language)

	iterator, err := lexer.Tokenise(nil, code)
	if err == nil {
		var buf bytes.Buffer
		if err = m.formatter.Format(&buf, m.style, iterator); err == nil {
			w.Write(buf.Bytes())
			return
		}
	}

	io.WriteString(w, "<pre><code>")
	w.Write(gutil.EscapeHTML([]byte(code)))
	io.WriteString(w, "</code></pre>")
}

// lookupLexer finds a lexer by language id, then by content analysis.
func lookupLexer(code, language string) chroma.Lexer {
	language = strings.ToLower(strings.TrimSpace(language))
	if alias, ok := lexerAliases[language]; ok {
		language = alias
	}

	var lexer chroma.Lexer
	if language != "" {
		lexer = lexers.Get(language)
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return chroma.Coalesce(lexer)
}

// =============================================================================
// FENCED CODE RENDERER
// =============================================================================

// codeRenderer renders ast.FencedCodeBlock nodes with chroma.
type codeRenderer struct {
	m *Markdown
}

// RegisterFuncs implements renderer.NodeRenderer.
func (r *codeRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.renderFencedCodeBlock)
}

func (r *codeRenderer) renderFencedCodeBlock(w gutil.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)

	language := string(n.Language(source))

	var code bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		code.Write(seg.Value(source))
	}

	w.WriteString(`<div class="code-block"`)
	if language != "" {
		w.WriteString(` data-lang="`)
		w.Write(gutil.EscapeHTML([]byte(language)))
		w.WriteString(`"`)
	}
	w.WriteString(">\n")
	r.m.highlight(w, code.String(), language)
	w.WriteString("</div>\n")

	return ast.WalkSkipChildren, nil
}
