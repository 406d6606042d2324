// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package forge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestComputeFingerprintDeterministic(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")
	mustWrite(t, in, "source")

	r := &Rule{
		Name:    "build",
		Command: "cc",
		Args:    []string{"-c", "in.txt"},
		Env:     map[string]string{"CC": "gcc"},
		EnvKeys: []string{"CC"},
		Workdir: dir,
		Inputs:  []string{in},
		Outputs: []string{"out.o"},
	}

	fp1, err := computeFingerprint(r, nil, newHashMemo())
	require.NoError(t, err)
	fp2, err := computeFingerprint(r, nil, newHashMemo())
	require.NoError(t, err)
	require.Equal(t, fp1, fp2)
}

func TestComputeFingerprintChangesWithInputContent(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")
	mustWrite(t, in, "version one")

	r := &Rule{Name: "build", Command: "cc", Workdir: dir, Inputs: []string{in}, Outputs: []string{"out.o"}}
	fp1, err := computeFingerprint(r, nil, newHashMemo())
	require.NoError(t, err)

	mustWrite(t, in, "version two")
	fp2, err := computeFingerprint(r, nil, newHashMemo())
	require.NoError(t, err)

	require.NotEqual(t, fp1, fp2)
}

func TestComputeFingerprintIgnoresUnlistedEnv(t *testing.T) {
	dir := t.TempDir()
	r1 := &Rule{Name: "build", Command: "cc", Workdir: dir, Env: map[string]string{"NOISY": "a"}}
	r2 := &Rule{Name: "build", Command: "cc", Workdir: dir, Env: map[string]string{"NOISY": "b"}}

	fp1, err := computeFingerprint(r1, nil, newHashMemo())
	require.NoError(t, err)
	fp2, err := computeFingerprint(r2, nil, newHashMemo())
	require.NoError(t, err)
	require.Equal(t, fp1, fp2)
}

func TestComputeFingerprintSensitiveToListedEnv(t *testing.T) {
	dir := t.TempDir()
	r1 := &Rule{Name: "build", Command: "cc", Workdir: dir, Env: map[string]string{"CC": "gcc"}, EnvKeys: []string{"CC"}}
	r2 := &Rule{Name: "build", Command: "cc", Workdir: dir, Env: map[string]string{"CC": "clang"}, EnvKeys: []string{"CC"}}

	fp1, err := computeFingerprint(r1, nil, newHashMemo())
	require.NoError(t, err)
	fp2, err := computeFingerprint(r2, nil, newHashMemo())
	require.NoError(t, err)
	require.NotEqual(t, fp1, fp2)
}

func TestComputeFingerprintArgOrderSensitive(t *testing.T) {
	dir := t.TempDir()
	r1 := &Rule{Name: "build", Command: "cc", Workdir: dir, Args: []string{"-a", "-b"}}
	r2 := &Rule{Name: "build", Command: "cc", Workdir: dir, Args: []string{"-b", "-a"}}

	fp1, err := computeFingerprint(r1, nil, newHashMemo())
	require.NoError(t, err)
	fp2, err := computeFingerprint(r2, nil, newHashMemo())
	require.NoError(t, err)
	require.NotEqual(t, fp1, fp2)
}

func TestComputeFingerprintDependsOnDependencyFingerprints(t *testing.T) {
	dir := t.TempDir()
	r := &Rule{Name: "link", Command: "ld", Workdir: dir, Dependencies: []string{"compile"}}

	fp1, err := computeFingerprint(r, map[string]string{"compile": "aaa"}, newHashMemo())
	require.NoError(t, err)
	fp2, err := computeFingerprint(r, map[string]string{"compile": "bbb"}, newHashMemo())
	require.NoError(t, err)
	require.NotEqual(t, fp1, fp2)
}

func TestComputeFingerprintInputSetOrderIndependent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	mustWrite(t, a, "a")
	mustWrite(t, b, "b")

	r1 := &Rule{Name: "build", Command: "cc", Workdir: dir, Inputs: []string{a, b}}
	r2 := &Rule{Name: "build", Command: "cc", Workdir: dir, Inputs: []string{b, a}}

	fp1, err := computeFingerprint(r1, nil, newHashMemo())
	require.NoError(t, err)
	fp2, err := computeFingerprint(r2, nil, newHashMemo())
	require.NoError(t, err)
	require.Equal(t, fp1, fp2)
}

func TestHashMemoCachesFileReads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	mustWrite(t, path, "content")

	memo := newHashMemo()
	h1, err := memo.hash(path)
	require.NoError(t, err)

	// Mutate on disk without going through the memo; a cached hash
	// should still be returned for the same path within this memo's
	// lifetime (one build).
	mustWrite(t, path, "different content")
	h2, err := memo.hash(path)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}
