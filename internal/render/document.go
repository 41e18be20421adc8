// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
)

//go:embed assets/*
var assets embed.FS

// Assets returns the static files referenced by Document, rooted so that
// "style.css" and "index.js" are top-level names.
func Assets() fs.FS {
	sub, err := fs.Sub(assets, "assets")
	if err != nil {
		panic(err) // embedded path is fixed
	}
	return sub
}

// AssetPrefix is the URL path the assets are served under.
const AssetPrefix = "/static/"

var documentTemplate = template.Must(template.New("panel").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<link href="{{.Prefix}}highlight.css" rel="stylesheet">
<link href="{{.Prefix}}style.css" rel="stylesheet">
</head>
<body data-panel="{{.PanelID}}">
<header><h2 class="panel-title">{{.Title}}</h2></header>
<main id="delta">{{.Body}}</main>
<script src="{{.Prefix}}index.js"></script>
</body>
</html>
`))

// Document renders the panel page: title, the body HTML inside #delta and
// links to the static assets. panelID is exposed to the script so it can
// subscribe to updates; empty means a static page.
func Document(title, bodyHTML, panelID string) string {
	var buf bytes.Buffer
	err := documentTemplate.Execute(&buf, struct {
		Title   string
		Body    template.HTML
		PanelID string
		Prefix  string
	}{
		Title:   title,
		Body:    template.HTML(bodyHTML), // produced by Markdown, raw HTML disabled
		PanelID: panelID,
		Prefix:  AssetPrefix,
	})
	if err != nil {
		// Only fails on writer errors; bytes.Buffer has none.
		return ""
	}
	return buf.String()
}
