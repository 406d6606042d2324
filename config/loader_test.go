// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeForgefile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoaderLoadsRulesFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forgefile.yaml")
	writeForgefile(t, path, `
rules:
  compile:
    command: cc
    args: ["-c", "main.c"]
    outputs: ["main.o"]
`)

	loader := NewLoader("", nil)
	rules, skipped, err := loader.Load(path)
	require.NoError(t, err)
	require.Empty(t, skipped)
	require.Len(t, rules, 1)
	require.Equal(t, "compile", rules[0].Name)
	require.Equal(t, "cc", rules[0].Command)
}

func TestLoaderFollowsIncludes(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "forgefile.yaml")
	included := filepath.Join(dir, "backend.yaml")

	writeForgefile(t, base, `
includes: ["backend.yaml"]
rules:
  frontend:
    command: echo
`)
	writeForgefile(t, included, `
rules:
  backend:
    command: echo
`)

	loader := NewLoader("", nil)
	rules, _, err := loader.Load(base)
	require.NoError(t, err)

	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Name
	}
	require.Contains(t, names, "frontend")
	require.Contains(t, names, "backend")
}

func TestLoaderSkipsRuleWhenClauseFalse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forgefile.yaml")
	writeForgefile(t, path, `
rules:
  windows-only:
    command: echo
    when: "vars.os == 'windows'"
`)

	loader := NewLoader("", map[string]any{"os": "linux"})
	rules, skipped, err := loader.Load(path)
	require.NoError(t, err)
	require.Empty(t, rules)
	require.Len(t, skipped, 1)
	require.Equal(t, "windows-only", skipped[0].Name)
}

func TestLoaderKeepsRuleWhenClauseTrue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forgefile.yaml")
	writeForgefile(t, path, `
rules:
  linux-only:
    command: echo
    when: "vars.os == 'linux'"
`)

	loader := NewLoader("", map[string]any{"os": "linux"})
	rules, skipped, err := loader.Load(path)
	require.NoError(t, err)
	require.Empty(t, skipped)
	require.Len(t, rules, 1)
}

func TestLoaderExpandsGenerateBlocks(t *testing.T) {
	dir := t.TempDir()
	writeForgefile(t, filepath.Join(dir, "src", "main.c"), "int main(){return 0;}")

	path := filepath.Join(dir, "forgefile.yaml")
	writeForgefile(t, path, `
generate:
  - kind: cc
    name: app
    sources: "`+filepath.Join(dir, "src", "*.c")+`"
    out: "`+filepath.Join(dir, "bin", "app")+`"
    command: cc
`)

	loader := NewLoader("", nil)
	rules, _, err := loader.Load(path)
	require.NoError(t, err)
	require.Len(t, rules, 2) // one compile + one link

	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Name
	}
	require.Contains(t, names, "app/link")
}

func TestLoaderErrorsOnUnregisteredGeneratorKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forgefile.yaml")
	writeForgefile(t, path, `
generate:
  - kind: rust
    name: app
    sources: "src/*.rs"
    out: "bin/app"
`)

	loader := NewLoader("", nil)
	_, _, err := loader.Load(path)
	require.Error(t, err)
}

func TestLoaderAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forgefile.yaml")
	writeForgefile(t, path, `
rules:
  build:
    command: echo
`)

	require.NoError(t, os.Setenv("FORGE_RULES__BUILD__COMMAND", "cc"))
	defer os.Unsetenv("FORGE_RULES__BUILD__COMMAND")

	loader := NewLoader("FORGE", nil)
	rules, _, err := loader.Load(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, "cc", rules[0].Command)
}
