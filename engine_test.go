// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package forge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEngineBuildSucceeds(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out.txt")

	eng := Open(root, EngineOptions{Log: testLogger()})
	defer eng.Close()

	require.NoError(t, eng.AddRule(Rule{
		Name: "write", Command: "/bin/sh", Args: []string{"-c", "echo hi > out.txt"},
		Workdir: root, Outputs: []string{out},
	}))

	report, err := eng.Build(context.Background(), nil, nil)
	require.NoError(t, err)
	require.True(t, report.Success())
	require.Len(t, report.Rules, 1)
	require.Equal(t, Succeeded, report.Rules[0].Status)
}

func TestEngineBuildReportsFailure(t *testing.T) {
	root := t.TempDir()
	eng := Open(root, EngineOptions{Log: testLogger()})
	defer eng.Close()

	require.NoError(t, eng.AddRule(Rule{Name: "boom", Command: "/bin/false", Workdir: root}))

	report, err := eng.Build(context.Background(), nil, nil)
	require.NoError(t, err)
	require.False(t, report.Success())
	require.Error(t, report.Err)
}

func TestEngineBuildRejectsInvalidGraph(t *testing.T) {
	root := t.TempDir()
	eng := Open(root, EngineOptions{Log: testLogger()})
	defer eng.Close()

	require.NoError(t, eng.AddRule(Rule{Name: "a", Dependencies: []string{"ghost"}}))
	_, err := eng.Build(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestEngineRunExecutesBuiltBinary(t *testing.T) {
	root := t.TempDir()
	bin := filepath.Join(root, "app", "server")

	eng := Open(root, EngineOptions{Log: testLogger()})
	defer eng.Close()

	script := "mkdir -p app && printf '#!/bin/sh\\necho running\\n' > " + bin + " && chmod +x " + bin
	require.NoError(t, eng.AddRule(Rule{
		Name: "app/server", Command: "/bin/sh", Args: []string{"-c", script},
		Workdir: root, Outputs: []string{bin},
	}))

	exit, err := eng.Run(context.Background(), "app", "server")
	require.NoError(t, err)
	require.Equal(t, 0, exit.Code)
	require.Contains(t, exit.Stdout, "running")
}

func TestEngineWhyReportsUncachedRule(t *testing.T) {
	root := t.TempDir()
	eng := Open(root, EngineOptions{Log: testLogger()})
	defer eng.Close()

	require.NoError(t, eng.AddRule(Rule{Name: "a", Command: "/bin/true", Workdir: root}))
	msg, err := eng.Why("a")
	require.NoError(t, err)
	require.Contains(t, msg, "no cache entry")
}

func TestEngineWhyReportsCachedRuleAfterBuild(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out.txt")
	eng := Open(root, EngineOptions{Log: testLogger()})
	defer eng.Close()

	require.NoError(t, eng.AddRule(Rule{
		Name: "a", Command: "/bin/sh", Args: []string{"-c", "echo x > out.txt"},
		Workdir: root, Outputs: []string{out},
	}))
	_, err := eng.Build(context.Background(), nil, nil)
	require.NoError(t, err)

	msg, err := eng.Why("a")
	require.NoError(t, err)
	require.Contains(t, msg, "is cached")
}

func TestEngineGCFreesUnreferencedObjects(t *testing.T) {
	root := t.TempDir()
	eng := Open(root, EngineOptions{Log: testLogger()})
	defer eng.Close()

	src := filepath.Join(root, "orphan.bin")
	writeFile(t, src, "unreferenced")
	h, err := eng.cas.InsertFile(src)
	require.NoError(t, err)

	freed, err := eng.GC(0)
	require.NoError(t, err)
	require.Positive(t, freed)
	require.False(t, eng.cas.Contains(h))
}

func TestEngineFilteredEdgesMatchesFilter(t *testing.T) {
	root := t.TempDir()
	eng := Open(root, EngineOptions{Log: testLogger()})
	defer eng.Close()

	require.NoError(t, eng.AddRule(Rule{Name: "app/compile"}))
	require.NoError(t, eng.AddRule(Rule{Name: "app/link", Dependencies: []string{"app/compile"}}))
	require.NoError(t, eng.AddRule(Rule{Name: "other/thing"}))

	order, deps, err := eng.FilteredEdges(map[string]bool{"app": true}, nil)
	require.NoError(t, err)
	require.Contains(t, order, "app/compile")
	require.Contains(t, order, "app/link")
	require.NotContains(t, order, "other/thing")
	require.Equal(t, []string{"app/compile"}, deps["app/link"])
}

func TestEngineCleanRemovesForgeOut(t *testing.T) {
	root := t.TempDir()
	eng := Open(root, EngineOptions{Log: testLogger()})
	require.NoError(t, eng.Close()) // flush creates forge-out/cache.json
	require.NoError(t, eng.Clean())
	_, err := os.Stat(filepath.Join(root, "forge-out"))
	require.True(t, os.IsNotExist(err))
}
