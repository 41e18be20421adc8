// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for
// codeexplain.
//
// Configuration is read from ~/.codeexplain/config.toml (CODEEXPLAIN_HOME
// moves the directory), then .env files, then CODEEXPLAIN_* environment
// variables. Missing values fall back to Default.
//
// Example config.toml:
//
//	[api]
//	base_url = "https://api.openai.com/v1"
//	path = "/chat/completions"
//	format = "chat"
//	model = "gpt-3.5-turbo"
//
//	[auth]
//	scheme = "bearer"
//
//	[render]
//	mode = "browser"
//	style = "github"
//
//	[server]
//	addr = "127.0.0.1:7431"
//
// Watch reloads the file when it changes; the panel server uses it to pick
// up endpoint changes without a restart.
package config
