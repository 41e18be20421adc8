// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package snippet

import "strings"

// supportedLanguages is the set of language identifiers the explainer accepts.
var supportedLanguages = map[string]bool{
	"clojure": true, "c": true, "cpp": true, "csharp": true, "css": true,
	"cuda-cpp": true, "dockerfile": true, "fsharp": true, "go": true,
	"groovy": true, "handlebars": true, "html": true, "java": true,
	"javascript": true, "javascriptreact": true, "latex": true, "lua": true,
	"makefile": true, "objective-c": true, "objective-cpp": true, "perl": true,
	"php": true, "powershell": true, "python": true, "r": true, "ruby": true,
	"rust": true, "scss": true, "shellscript": true, "sql": true, "swift": true,
	"typescript": true, "typescriptreact": true, "tex": true, "vb": true,
	"vue": true, "vue-html": true, "xml": true, "yaml": true,
}

// languageAliases maps editor filetypes that differ from the canonical ids.
var languageAliases = map[string]string{
	"sh":             "shellscript",
	"bash":           "shellscript",
	"zsh":            "shellscript",
	"cs":             "csharp",
	"objc":           "objective-c",
	"objcpp":         "objective-cpp",
	"make":           "makefile",
	"cuda":           "cuda-cpp",
	"plaintex":       "tex",
	"ps1":            "powershell",
	"javascript.jsx": "javascriptreact",
	"typescript.tsx": "typescriptreact",
	"golang":         "go",
	"py":             "python",
	"rb":             "ruby",
	"rs":             "rust",
	"yml":            "yaml",
}

// NormalizeLanguage maps an editor filetype onto a canonical language id.
func NormalizeLanguage(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if alias, ok := languageAliases[id]; ok {
		return alias
	}
	return id
}

// IsSupported reports whether languageID can be explained.
func IsSupported(languageID string) bool {
	return supportedLanguages[NormalizeLanguage(languageID)]
}
