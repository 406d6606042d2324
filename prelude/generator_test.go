// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package prelude

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLookupFindsRegisteredGenerators(t *testing.T) {
	_, ok := Lookup("cc")
	require.True(t, ok)
	_, ok = Lookup("zig")
	require.True(t, ok)
	_, ok = Lookup("does-not-exist")
	require.False(t, ok)
}

func TestRegisterPanicsOnDuplicateKind(t *testing.T) {
	require.Panics(t, func() {
		Register(NewPatternGenerator("cc"))
	})
}

func TestRegisterPanicsOnEmptyKind(t *testing.T) {
	require.Panics(t, func() {
		Register(NewPatternGenerator(""))
	})
}

func TestCCGeneratorProducesCompileAndLinkRules(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, filepath.Join(dir, "src", "main.c"), "int main(){return 0;}")
	writeSource(t, filepath.Join(dir, "src", "util.c"), "void util(){}")

	gen, ok := Lookup("cc")
	require.True(t, ok)

	rules, err := gen.Generate(GeneratorSpec{
		Kind:          "cc",
		NamePrefix:    "app",
		InputGlob:     filepath.Join(dir, "src", "*.c"),
		OutputPattern: filepath.Join(dir, "bin", "app"),
		Command:       "cc",
		Workdir:       dir,
	})
	require.NoError(t, err)
	require.Len(t, rules, 3) // 2 compiles + 1 link

	linkIdx := -1
	for i := range rules {
		if rules[i].Name == "app/link" {
			linkIdx = i
		}
	}
	require.GreaterOrEqual(t, linkIdx, 0)
	require.Len(t, rules[linkIdx].Dependencies, 2)
	require.Contains(t, rules[linkIdx].Args, "-o")
}

func TestZigGeneratorProducesSingleRule(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, filepath.Join(dir, "main.zig"), "pub fn main() void {}")

	gen, ok := Lookup("zig")
	require.True(t, ok)

	rules, err := gen.Generate(GeneratorSpec{
		Kind:          "zig",
		NamePrefix:    "app/build",
		InputGlob:     filepath.Join(dir, "*.zig"),
		OutputPattern: filepath.Join(dir, "bin", "app"),
		Workdir:       dir,
	})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, "zig", rules[0].Command)
	require.Contains(t, rules[0].Args, "build-exe")
}

func TestZigGeneratorErrorsWhenNoSourcesMatch(t *testing.T) {
	dir := t.TempDir()
	gen, _ := Lookup("zig")
	_, err := gen.Generate(GeneratorSpec{
		NamePrefix:    "app/build",
		InputGlob:     filepath.Join(dir, "*.zig"),
		OutputPattern: filepath.Join(dir, "bin", "app"),
		Workdir:       dir,
	})
	require.Error(t, err)
}

func TestPatternGeneratorExpandsOutputsFromCaptures(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, filepath.Join(dir, "src", "a.txt"), "a")
	writeSource(t, filepath.Join(dir, "src", "b.txt"), "b")

	gen := NewPatternGenerator("copy")
	rules, err := gen.Generate(GeneratorSpec{
		NamePrefix:    "copy",
		InputGlob:     filepath.Join(dir, "src", "*.txt"),
		OutputPattern: filepath.Join(dir, "out", "{name}.bak"),
		Command:       "cp",
		Workdir:       dir,
	})
	require.NoError(t, err)
	require.Len(t, rules, 2)
	for _, r := range rules {
		require.Len(t, r.Outputs, 1)
		require.Contains(t, r.Outputs[0], ".bak")
	}
}
