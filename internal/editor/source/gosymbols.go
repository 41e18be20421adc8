// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package source

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"

	"github.com/jeranaias/codeexplain/internal/snippet"
)

// GoSymbols builds an outline of a Go source file: types as classes, and
// top-level functions and methods. Methods are named without their receiver
// so they match the identifier on the declaration line.
func GoSymbols(name, src string) ([]snippet.Symbol, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, name, src, parser.SkipObjectResolution)
	if file == nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}

	span := func(n ast.Node) snippet.Range {
		return snippet.Range{
			Start: fset.Position(n.Pos()).Line - 1,
			End:   fset.Position(n.End()).Line - 1,
		}
	}

	var symbols []snippet.Symbol
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			kind := snippet.SymbolFunction
			if d.Recv != nil {
				kind = snippet.SymbolMethod
			}
			symbols = append(symbols, snippet.Symbol{
				Name:  d.Name.Name,
				Kind:  kind,
				Range: span(d),
			})
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts := spec.(*ast.TypeSpec)
				symbols = append(symbols, snippet.Symbol{
					Name:  ts.Name.Name,
					Kind:  snippet.SymbolClass,
					Range: span(ts),
				})
			}
		}
	}
	return symbols, nil
}
