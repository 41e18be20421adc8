// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package credential manages the API credential used for explanation
// requests: an in-memory value backed by an obfuscated persisted copy.
//
// The obfuscation only keeps the key from being readable at a glance in the
// settings database. It is not encryption.
package credential

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/codeexplain/internal/settings"
)

// SettingsKey is the settings key the obfuscated credential is stored under.
const SettingsKey = "credential.api_key"

// obfuscationPrefix marks the obfuscation scheme version.
const obfuscationPrefix = "obf1:"

var (
	// ErrDeclined is returned when the user dismisses the credential prompt
	// or enters nothing.
	ErrDeclined = errors.New("credential entry declined")

	// ErrCorrupt is returned when a stored value cannot be decoded.
	ErrCorrupt = errors.New("stored credential is corrupt")
)

// Store persists opaque string values. *settings.Store implements it.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Prompt asks the user for a credential. Implementations return ErrDeclined
// when the user cancels.
type Prompt interface {
	Ask(ctx context.Context) (string, error)
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager holds the current credential. Safe for concurrent use.
type Manager struct {
	store  Store
	prompt Prompt
	log    zerolog.Logger

	mu    sync.Mutex
	value string
	// ephemeral values come from the environment and are never persisted.
	ephemeral bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a manager. prompt may be nil, in which case Ensure
// returns ErrDeclined when no credential is stored.
func NewManager(store Store, prompt Prompt, opts ...Option) *Manager {
	if prompt == nil {
		prompt = NoPrompt{}
	}
	m := &Manager{
		store:  store,
		prompt: prompt,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load reads the persisted credential into memory. A missing or corrupt
// value leaves the manager empty.
func (m *Manager) Load(ctx context.Context) error {
	raw, err := m.store.Get(ctx, SettingsKey)
	if errors.Is(err, settings.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}

	value, err := Deobfuscate(raw)
	if err != nil {
		m.log.Warn().Err(err).Msg("ignoring stored credential")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ephemeral {
		m.value = value
	}
	return nil
}

// Get returns the in-memory credential, or "" when none is held.
func (m *Manager) Get() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

// Has reports whether a credential is held.
func (m *Manager) Has() bool {
	return m.Get() != ""
}

// Ensure returns the current credential, prompting for one if none is held.
// A credential obtained from the prompt is persisted.
func (m *Manager) Ensure(ctx context.Context) (string, error) {
	if v := m.Get(); v != "" {
		return v, nil
	}

	entered, err := m.prompt.Ask(ctx)
	if err != nil {
		return "", err
	}
	entered = strings.TrimSpace(entered)
	if entered == "" {
		return "", ErrDeclined
	}

	if err := m.Set(ctx, entered); err != nil {
		return "", err
	}
	return entered, nil
}

// Set stores value in memory and persists its obfuscated form.
func (m *Manager) Set(ctx context.Context, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return ErrDeclined
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Set(ctx, SettingsKey, Obfuscate(value)); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	m.value = value
	m.ephemeral = false

	m.log.Info().Str("key", Fingerprint(value)).Msg("credential saved")
	return nil
}

// Override holds value in memory without persisting it. Used for
// credentials supplied through the environment.
func (m *Manager) Override(value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	m.mu.Lock()
	m.value = value
	m.ephemeral = true
	m.mu.Unlock()
}

// Clear forgets the credential in memory and removes the persisted copy.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearLocked(ctx)
}

// ClearIf clears the credential only while it still equals value, so a
// rejected key never takes a newer one with it. It reports whether the
// credential was cleared.
func (m *Manager) ClearIf(ctx context.Context, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.value == "" || m.value != value {
		return false, nil
	}
	if err := m.clearLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) clearLocked(ctx context.Context) error {
	m.value = ""
	m.ephemeral = false
	if err := m.store.Delete(ctx, SettingsKey); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	m.log.Info().Msg("credential cleared")
	return nil
}

// =============================================================================
// OBFUSCATION
// =============================================================================

// Obfuscate encodes value for storage: prefix + base64 of the reversed bytes.
func Obfuscate(value string) string {
	b := []byte(value)
	reverse(b)
	return obfuscationPrefix + base64.StdEncoding.EncodeToString(b)
}

// Deobfuscate reverses Obfuscate.
func Deobfuscate(stored string) (string, error) {
	if !strings.HasPrefix(stored, obfuscationPrefix) {
		return "", ErrCorrupt
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, obfuscationPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	reverse(b)
	return string(b), nil
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// Fingerprint returns a short SHA-256 fingerprint for display and logs.
// SECURITY: Never log key fragments.
func Fingerprint(value string) string {
	if value == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(value))
	return hex.EncodeToString(h[:4])
}
