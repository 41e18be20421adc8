// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the config directory at a temp dir and clears overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CODEEXPLAIN_HOME", dir)
	for _, k := range []string{
		"CODEEXPLAIN_BASE_URL", "CODEEXPLAIN_API_PATH", "CODEEXPLAIN_FORMAT",
		"CODEEXPLAIN_MODEL", "CODEEXPLAIN_API_KEY", "CODEEXPLAIN_AUTH_SCHEME",
		"CODEEXPLAIN_RENDER", "CODEEXPLAIN_ADDR", "CODEEXPLAIN_LOG_LEVEL", "NVIM",
	} {
		t.Setenv(k, "")
	}
	return dir
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func TestDefault_Validates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().API, cfg.API)
	assert.True(t, cfg.AuthRequired())
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeConfig(t, path, `
[api]
base_url = "http://localhost:8080"
path = "/v1/explain"
format = "explain"
config_name = "course"

[auth]
scheme = "none"
`)
	t.Setenv("CODEEXPLAIN_MODEL", "env-model")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
	assert.Equal(t, "explain", cfg.API.Format)
	assert.Equal(t, "course", cfg.API.ConfigName)
	assert.Equal(t, "env-model", cfg.API.Model)
	assert.False(t, cfg.AuthRequired())
	// Untouched sections keep defaults.
	assert.Equal(t, "github", cfg.Render.Style)

	// SECURITY: permissions tightened on load.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.Unsetenv("CODEEXPLAIN_API_KEY"))
	writeConfig(t, filepath.Join(dir, ".env"), "CODEEXPLAIN_API_KEY=sk-from-dotenv\n")
	t.Cleanup(func() { os.Unsetenv("CODEEXPLAIN_API_KEY") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-from-dotenv", cfg.Auth.APIKey)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeConfig(t, path, "[api]\nbase_urll = \"https://x\"\n")

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.base_urll")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.API.BaseURL = "http://example.com"
	cfg.API.Format = "soap"
	cfg.Auth.Scheme = "basic"
	cfg.Render.Mode = "hologram"
	cfg.Server.Addr = "nope"

	err := cfg.Validate()
	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))

	fields := map[string]bool{}
	for _, e := range verrs {
		fields[e.Field] = true
	}
	for _, f := range []string{"api.base_url", "api.format", "auth.scheme", "render.mode", "server.addr"} {
		assert.True(t, fields[f], f)
	}
}

func TestValidate_LocalHTTPAllowed(t *testing.T) {
	cfg := Default()
	cfg.API.BaseURL = "http://127.0.0.1:11434/v1"
	assert.NoError(t, cfg.Validate())
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	v, err := cfg.Get("api.format")
	require.NoError(t, err)
	assert.Equal(t, "chat", v)

	require.NoError(t, cfg.Set("api.format", "explain"))
	require.NoError(t, cfg.Set("render.width", "120"))
	require.NoError(t, cfg.Set("server.open-browser", "off"))
	require.NoError(t, cfg.Set("server.recent_panels", 5))

	assert.Equal(t, "explain", cfg.API.Format)
	assert.Equal(t, 120, cfg.Render.Width)
	assert.False(t, cfg.Server.OpenBrowser)
	assert.Equal(t, 5, cfg.Server.RecentPanels)

	_, err = cfg.Get("api")
	assert.Error(t, err)
	_, err = cfg.Get("api.nope")
	assert.Error(t, err)
	assert.Error(t, cfg.Set("render.width", "wide"))
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "api.base_url")
	assert.Contains(t, keys, "auth.api_key")
	assert.Contains(t, keys, "log.level")
	for _, k := range keys {
		_, err := Default().Get(k)
		assert.NoError(t, err, k)
	}
}

func TestString_RedactsKey(t *testing.T) {
	cfg := Default()
	cfg.Auth.APIKey = "sk-secret"
	s := cfg.String()
	assert.NotContains(t, s, "sk-secret")
	assert.Contains(t, s, "[REDACTED]")
	assert.Equal(t, "sk-secret", cfg.Auth.APIKey)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := isolate(t)
	cfg := Default()
	cfg.API.Model = "gpt-4o-mini"
	cfg.Render.Mode = "browser"
	require.NoError(t, Save(cfg))

	path := filepath.Join(dir, "config.toml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# codeexplain configuration file"))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", loaded.API.Model)
	assert.Equal(t, "browser", loaded.Render.Mode)
}

func TestWatch_Reloads(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeConfig(t, path, "[api]\nmodel = \"one\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, func(cfg *Config, err error) {
			if err == nil {
				changes <- cfg
			}
		})
	}()

	// Keep writing until the watcher is registered and reports a change.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-changes:
			assert.Equal(t, "two", cfg.API.Model)
			cancel()
			require.NoError(t, <-done)
			return
		case <-tick.C:
			writeConfig(t, path, "[api]\nmodel = \"two\"\n")
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}
