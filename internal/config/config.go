// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/codeexplain/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete codeexplain configuration.
type Config struct {
	// Explanation endpoint
	API APIConfig `toml:"api" json:"api"`

	// Credential handling
	Auth AuthConfig `toml:"auth" json:"auth"`

	// Output rendering
	Render RenderConfig `toml:"render" json:"render"`

	// Panel server
	Server ServerConfig `toml:"server" json:"server"`

	// Persistent settings
	Storage StorageConfig `toml:"storage" json:"storage"`

	// Editor integration
	Editor EditorConfig `toml:"editor" json:"editor"`

	// Logging
	Log LogConfig `toml:"log" json:"log"`
}

// APIConfig describes the explanation endpoint.
type APIConfig struct {
	// BaseURL is the endpoint host, e.g. "https://api.openai.com/v1".
	BaseURL string `toml:"base_url" json:"base_url"`
	// Path is appended to BaseURL, e.g. "/chat/completions".
	Path string `toml:"path" json:"path"`
	// Format is the request body shape: "chat" or "explain".
	Format string `toml:"format" json:"format"`
	// Model is requested in chat format.
	Model string `toml:"model" json:"model"`
	// ConfigName is forwarded as "config" in explain format.
	ConfigName string `toml:"config_name" json:"config_name"`
	// User is an optional end-user identifier.
	User string `toml:"user" json:"user"`
	// ConnectTimeoutSecs bounds connect and response-header wait.
	ConnectTimeoutSecs int `toml:"connect_timeout_secs" json:"connect_timeout_secs"`
}

// AuthConfig describes how the credential is sent.
type AuthConfig struct {
	// Scheme is "bearer" or "none".
	Scheme string `toml:"scheme" json:"scheme"`
	// Header carries the credential; default "Authorization".
	Header string `toml:"header" json:"header"`
	// APIKey, when set, is used for this process only and never persisted.
	// Prefer `codeexplain key set` or CODEEXPLAIN_API_KEY.
	APIKey string `toml:"api_key" json:"api_key"`
}

// RenderConfig controls output.
type RenderConfig struct {
	// Mode is "browser", "terminal" or "plain".
	Mode string `toml:"mode" json:"mode"`
	// Style is the chroma style for code highlighting.
	Style string `toml:"style" json:"style"`
	// Width wraps terminal output.
	Width int `toml:"width" json:"width"`
}

// ServerConfig controls the panel server.
type ServerConfig struct {
	// Addr is the listen address. Loopback only by default.
	Addr string `toml:"addr" json:"addr"`
	// OpenBrowser opens new panels in the default browser.
	OpenBrowser bool `toml:"open_browser" json:"open_browser"`
	// RecentPanels is how many completed panels stay viewable.
	RecentPanels int `toml:"recent_panels" json:"recent_panels"`
	// MaxRequestsPerMinute limits POST /api/explain; 0 disables the limit.
	MaxRequestsPerMinute int `toml:"max_requests_per_minute" json:"max_requests_per_minute"`
}

// StorageConfig locates persistent state.
type StorageConfig struct {
	// SettingsPath is the SQLite settings database (empty = ~/.codeexplain/settings.db).
	SettingsPath string `toml:"settings_path" json:"settings_path"`
}

// EditorConfig controls the Neovim connection.
type EditorConfig struct {
	// NvimAddress is the Neovim RPC socket; empty uses $NVIM.
	NvimAddress string `toml:"nvim_address" json:"nvim_address"`
}

// LogConfig controls logging.
type LogConfig struct {
	// Level is trace, debug, info, warn or error.
	Level string `toml:"level" json:"level"`
	// Format is "console" or "json".
	Format string `toml:"format" json:"format"`
	// File, when set, receives logs instead of stderr.
	File string `toml:"file" json:"file"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:            "https://api.openai.com/v1",
			Path:               "/chat/completions",
			Format:             "chat",
			Model:              "gpt-3.5-turbo",
			ConnectTimeoutSecs: 30,
		},
		Auth: AuthConfig{
			Scheme: "bearer",
			Header: "Authorization",
		},
		Render: RenderConfig{
			Mode:  "terminal",
			Style: "github",
			Width: 100,
		},
		Server: ServerConfig{
			Addr:                 "127.0.0.1:7431",
			OpenBrowser:          true,
			RecentPanels:         32,
			MaxRequestsPerMinute: 30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// ConnectTimeout returns the API connect timeout as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.API.ConnectTimeoutSecs) * time.Second
}

// AuthRequired reports whether requests carry a credential.
func (c *Config) AuthRequired() bool {
	return !strings.EqualFold(c.Auth.Scheme, "none")
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the codeexplain configuration directory path.
// CODEEXPLAIN_HOME overrides the default ~/.codeexplain.
func ConfigDir() (string, error) {
	if dir := os.Getenv("CODEEXPLAIN_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".codeexplain"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// SettingsPath returns the settings database path.
func (c *Config) SettingsPath() (string, error) {
	if c.Storage.SettingsPath != "" {
		return c.Storage.SettingsPath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.db"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files may hold an API key; keep them 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// LoadDotEnv loads .env files from the working directory and the config
// directory. Variables already set in the environment win.
func LoadDotEnv() error {
	var files []string
	if _, err := os.Stat(".env"); err == nil {
		files = append(files, ".env")
	}
	if dir, err := ConfigDir(); err == nil {
		p := filepath.Join(dir, ".env")
		if _, err := os.Stat(p); err == nil {
			files = append(files, p)
		}
	}
	if len(files) == 0 {
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load loads configuration from the default config file, falling back to
// defaults when it does not exist. .env files and environment overrides are
// applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr == nil {
		return LoadFromPath(path)
	}

	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file with full validation.
func LoadFromPath(path string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Unknown keys are rejected.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	d := Default()

	if c.API.BaseURL == "" {
		c.API.BaseURL = d.API.BaseURL
	}
	if c.API.Path == "" {
		c.API.Path = d.API.Path
	}
	if c.API.Format == "" {
		c.API.Format = d.API.Format
	}
	if c.API.Model == "" {
		c.API.Model = d.API.Model
	}
	if c.API.ConnectTimeoutSecs == 0 {
		c.API.ConnectTimeoutSecs = d.API.ConnectTimeoutSecs
	}
	if c.Auth.Scheme == "" {
		c.Auth.Scheme = d.Auth.Scheme
	}
	if c.Auth.Header == "" {
		c.Auth.Header = d.Auth.Header
	}
	if c.Render.Mode == "" {
		c.Render.Mode = d.Render.Mode
	}
	if c.Render.Style == "" {
		c.Render.Style = d.Render.Style
	}
	if c.Render.Width == 0 {
		c.Render.Width = d.Render.Width
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.RecentPanels == 0 {
		c.Server.RecentPanels = d.Server.RecentPanels
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: 0600 permissions (owner read/write only).
// RELIABILITY: Atomic write with fsync prevents data loss on crash.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# codeexplain configuration file")
	fmt.Fprintln(&buf, "# Generated by codeexplain - edit with care")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// API
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Host == "" {
		add("api.base_url", "invalid URL '%s'", c.API.BaseURL)
	} else if u.Scheme != "https" && u.Scheme != "http" {
		add("api.base_url", "scheme must be http or https, got '%s'", u.Scheme)
	} else if u.Scheme == "http" && !isLoopback(u.Hostname()) {
		// SECURITY: Credentials must not travel in cleartext off-host.
		add("api.base_url", "plain http is only allowed for localhost, got '%s'", u.Host)
	}
	if strings.ContainsAny(c.API.Path, "?# ") {
		add("api.path", "must be a plain path, got '%s'", c.API.Path)
	}
	switch c.API.Format {
	case "chat", "explain":
	default:
		add("api.format", "invalid format '%s', must be one of: chat, explain", c.API.Format)
	}
	if c.API.ConnectTimeoutSecs < 1 || c.API.ConnectTimeoutSecs > 600 {
		add("api.connect_timeout_secs", "must be between 1 and 600, got %d", c.API.ConnectTimeoutSecs)
	}

	// Auth
	switch strings.ToLower(c.Auth.Scheme) {
	case "bearer", "none":
	default:
		add("auth.scheme", "invalid scheme '%s', must be one of: bearer, none", c.Auth.Scheme)
	}
	if strings.ContainsAny(c.Auth.Header, " :\r\n") {
		add("auth.header", "invalid header name '%s'", c.Auth.Header)
	}

	// Render
	switch c.Render.Mode {
	case "browser", "terminal", "plain":
	default:
		add("render.mode", "invalid mode '%s', must be one of: browser, terminal, plain", c.Render.Mode)
	}
	if c.Render.Width < 20 || c.Render.Width > 400 {
		add("render.width", "must be between 20 and 400, got %d", c.Render.Width)
	}

	// Server
	if _, port, err := net.SplitHostPort(c.Server.Addr); err != nil {
		add("server.addr", "invalid address '%s': %v", c.Server.Addr, err)
	} else if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
		add("server.addr", "invalid port '%s'", port)
	}
	if c.Server.RecentPanels < 1 || c.Server.RecentPanels > 1000 {
		add("server.recent_panels", "must be between 1 and 1000, got %d", c.Server.RecentPanels)
	}
	if c.Server.MaxRequestsPerMinute < 0 {
		add("server.max_requests_per_minute", "must not be negative, got %d", c.Server.MaxRequestsPerMinute)
	}

	// Log
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "disabled":
	default:
		add("log.level", "invalid level '%s'", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		add("log.format", "invalid format '%s', must be one of: console, json", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported variables:
//   - CODEEXPLAIN_BASE_URL: overrides api.base_url
//   - CODEEXPLAIN_API_PATH: overrides api.path
//   - CODEEXPLAIN_FORMAT: overrides api.format
//   - CODEEXPLAIN_MODEL: overrides api.model
//   - CODEEXPLAIN_API_KEY: overrides auth.api_key
//   - CODEEXPLAIN_AUTH_SCHEME: overrides auth.scheme
//   - CODEEXPLAIN_RENDER: overrides render.mode
//   - CODEEXPLAIN_ADDR: overrides server.addr
//   - CODEEXPLAIN_LOG_LEVEL: overrides log.level
//   - NVIM: default for editor.nvim_address
func (c *Config) ApplyEnvOverrides() {
	overrides := []struct {
		env string
		dst *string
	}{
		{"CODEEXPLAIN_BASE_URL", &c.API.BaseURL},
		{"CODEEXPLAIN_API_PATH", &c.API.Path},
		{"CODEEXPLAIN_FORMAT", &c.API.Format},
		{"CODEEXPLAIN_MODEL", &c.API.Model},
		{"CODEEXPLAIN_API_KEY", &c.Auth.APIKey},
		{"CODEEXPLAIN_AUTH_SCHEME", &c.Auth.Scheme},
		{"CODEEXPLAIN_RENDER", &c.Render.Mode},
		{"CODEEXPLAIN_ADDR", &c.Server.Addr},
		{"CODEEXPLAIN_LOG_LEVEL", &c.Log.Level},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}

	if c.Editor.NvimAddress == "" {
		c.Editor.NvimAddress = os.Getenv("NVIM")
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value by its TOML key path, e.g. "api.format".
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a value by its TOML key path. String input is converted to the
// field's type. The result is not validated; call Validate.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

// lookup walks the struct by toml tags.
func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, strings.ReplaceAll(part, "-", "_"))
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown key: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("key '%s' is a section", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("key '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if strings.EqualFold(tomlName(t.Field(i)), name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func tomlName(f reflect.StructField) string {
	tag := f.Tag.Get("toml")
	if i := strings.Index(tag, ","); i >= 0 {
		tag = tag[:i]
	}
	if tag == "" {
		return f.Name
	}
	return tag
}

// setFieldValue sets a reflect.Value from a value with type conversion.
func setFieldValue(field reflect.Value, value any) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Bool:
			boolVal, err := strconv.ParseBool(strVal)
			if err != nil {
				switch strings.ToLower(strVal) {
				case "yes", "on":
					boolVal = true
				case "no", "off":
					boolVal = false
				default:
					return fmt.Errorf("invalid boolean value: %q", strVal)
				}
			}
			field.SetBool(boolVal)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return errors.New("nil value")
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) && val.Kind() != reflect.String {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Keys returns all configuration keys in dot notation.
func Keys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := prefix + tomlName(f)
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type, name+".")
				continue
			}
			keys = append(keys, name)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns the configuration as TOML with secrets redacted.
// SECURITY: Never print the API key.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Auth.APIKey != "" {
		safe.Auth.APIKey = "[REDACTED]"
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(safe); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}
