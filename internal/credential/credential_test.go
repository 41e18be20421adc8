// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credential

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/codeexplain/internal/settings"
)

func newStore(t *testing.T) *settings.Store {
	t.Helper()
	store, err := settings.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

type countingPrompt struct {
	answers []string
	calls   int
}

func (p *countingPrompt) Ask(ctx context.Context) (string, error) {
	p.calls++
	if len(p.answers) == 0 {
		return "", ErrDeclined
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

func TestObfuscateRoundTrip(t *testing.T) {
	for _, v := range []string{"sk-test", "x", "ключ-🔑"} {
		stored := Obfuscate(v)
		assert.True(t, strings.HasPrefix(stored, "obf1:"))
		assert.NotContains(t, stored, v)
		got, err := Deobfuscate(stored)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestDeobfuscate_Corrupt(t *testing.T) {
	_, err := Deobfuscate("sk-plain")
	assert.ErrorIs(t, err, ErrCorrupt)
	_, err = Deobfuscate("obf1:!!!")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestManager_EnsurePromptsOnceAndPersists(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	prompt := &countingPrompt{answers: []string{"  sk-test \n"}}
	m := NewManager(store, prompt)

	v, err := m.Ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", v)

	v, err = m.Ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", v)
	assert.Equal(t, 1, prompt.calls)

	raw, err := store.Get(ctx, SettingsKey)
	require.NoError(t, err)
	assert.Equal(t, Obfuscate("sk-test"), raw)

	// A fresh manager picks the persisted value up without prompting.
	other := NewManager(store, nil)
	require.NoError(t, other.Load(ctx))
	assert.Equal(t, "sk-test", other.Get())
}

func TestManager_Declined(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	m := NewManager(store, &countingPrompt{})
	_, err := m.Ensure(ctx)
	assert.ErrorIs(t, err, ErrDeclined)

	m = NewManager(store, StaticPrompt("   "))
	_, err = m.Ensure(ctx)
	assert.ErrorIs(t, err, ErrDeclined)

	_, err = store.Get(ctx, SettingsKey)
	assert.ErrorIs(t, err, settings.ErrNotFound)
}

func TestManager_ClearThenReprompt(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	prompt := &countingPrompt{answers: []string{"sk-bad", "sk-good"}}
	m := NewManager(store, prompt)

	v, err := m.Ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-bad", v)

	require.NoError(t, m.Clear(ctx))
	assert.False(t, m.Has())
	_, err = store.Get(ctx, SettingsKey)
	assert.ErrorIs(t, err, settings.ErrNotFound)

	v, err = m.Ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-good", v)
	assert.Equal(t, 2, prompt.calls)
}

func TestManager_ClearIfOnlyMatchingValue(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	m := NewManager(store, NoPrompt{})
	require.NoError(t, m.Set(ctx, "sk-new"))

	cleared, err := m.ClearIf(ctx, "sk-old")
	require.NoError(t, err)
	assert.False(t, cleared)
	assert.Equal(t, "sk-new", m.Get())
	stored, err := store.Get(ctx, SettingsKey)
	require.NoError(t, err)
	assert.Equal(t, Obfuscate("sk-new"), stored)

	cleared, err = m.ClearIf(ctx, "")
	require.NoError(t, err)
	assert.False(t, cleared)
	assert.True(t, m.Has())

	cleared, err = m.ClearIf(ctx, "sk-new")
	require.NoError(t, err)
	assert.True(t, cleared)
	assert.False(t, m.Has())
	_, err = store.Get(ctx, SettingsKey)
	assert.ErrorIs(t, err, settings.ErrNotFound)
}

func TestManager_LoadIgnoresCorrupt(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Set(ctx, SettingsKey, "garbage"))

	m := NewManager(store, nil)
	require.NoError(t, m.Load(ctx))
	assert.False(t, m.Has())
}

func TestManager_OverrideNotPersisted(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Set(ctx, SettingsKey, Obfuscate("sk-stored")))

	m := NewManager(store, nil)
	m.Override("sk-env")
	require.NoError(t, m.Load(ctx))
	assert.Equal(t, "sk-env", m.Get())

	raw, err := store.Get(ctx, SettingsKey)
	require.NoError(t, err)
	assert.Equal(t, Obfuscate("sk-stored"), raw)
}

func TestTerminalPrompt_NonTerminal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in")
	require.NoError(t, os.WriteFile(path, []byte("sk-piped\n"), 0600))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out strings.Builder
	p := &TerminalPrompt{In: f, Out: &out, Message: "key: "}
	v, err := p.Ask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sk-piped", v)
	assert.Equal(t, "key: ", out.String())
}

func TestTerminalPrompt_EmptyDeclines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in")
	require.NoError(t, os.WriteFile(path, nil, 0600))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	p := &TerminalPrompt{In: f, Out: &strings.Builder{}}
	_, err = p.Ask(context.Background())
	assert.ErrorIs(t, err, ErrDeclined)
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "none", Fingerprint(""))
	assert.Len(t, Fingerprint("sk-test"), 8)
}
