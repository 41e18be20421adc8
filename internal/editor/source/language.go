// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package source

import (
	"path/filepath"
	"strings"
)

var extensionLanguages = map[string]string{
	".c": "c", ".h": "c",
	".cc": "cpp", ".cpp": "cpp", ".cxx": "cpp", ".hpp": "cpp", ".hh": "cpp",
	".clj": "clojure", ".cljs": "clojure",
	".cs":  "csharp",
	".css": "css", ".scss": "scss",
	".cu":  "cuda-cpp",
	".fs":  "fsharp", ".fsx": "fsharp",
	".go":     "go",
	".groovy": "groovy", ".gradle": "groovy",
	".hbs": "handlebars", ".handlebars": "handlebars",
	".html": "html", ".htm": "html",
	".java": "java",
	".js":   "javascript", ".mjs": "javascript", ".cjs": "javascript",
	".jsx": "javascriptreact",
	".ts":  "typescript", ".tsx": "typescriptreact",
	".tex": "latex",
	".lua": "lua",
	".m":   "objective-c", ".mm": "objective-cpp",
	".pl": "perl", ".pm": "perl",
	".php": "php",
	".ps1": "powershell", ".psm1": "powershell",
	".py": "python",
	".r":  "r",
	".rb": "ruby",
	".rs": "rust",
	".sh": "shellscript", ".bash": "shellscript", ".zsh": "shellscript",
	".sql":   "sql",
	".swift": "swift",
	".vb":    "vb",
	".vue":   "vue",
	".xml":   "xml",
	".yaml":  "yaml", ".yml": "yaml",
}

var fileNameLanguages = map[string]string{
	"dockerfile":  "dockerfile",
	"makefile":    "makefile",
	"gnumakefile": "makefile",
}

// DetectLanguage guesses a language id from a file name. Unknown names
// yield "".
func DetectLanguage(path string) string {
	base := strings.ToLower(filepath.Base(path))
	if lang, ok := fileNameLanguages[base]; ok {
		return lang
	}
	return extensionLanguages[filepath.Ext(base)]
}
