// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package prelude

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVarsExpandSimpleReference(t *testing.T) {
	v := NewVars()
	v.Set("name", "main")
	require.Equal(t, "build/main.o", v.Expand("build/$name.o"))
}

func TestVarsExpandBracedReference(t *testing.T) {
	v := NewVars()
	v.Set("name", "main")
	require.Equal(t, "build/main.o", v.Expand("build/${name}.o"))
}

func TestVarsExpandLiteralDollar(t *testing.T) {
	v := NewVars()
	require.Equal(t, "$5", v.Expand("$$5"))
}

func TestVarsExpandDirAndFileAccessors(t *testing.T) {
	v := NewVars()
	v.Set("in", "src/pkg/main.c")
	require.Equal(t, "src/pkg", v.Expand("$in.dir"))
	require.Equal(t, "main.c", v.Expand("$in.file"))
}

func TestVarsExpandPatsubstFunction(t *testing.T) {
	v := NewVars()
	v.Set("obj", "main.c")
	require.Equal(t, "main.o", v.Expand("$[patsubst %.c,%.o,$obj]"))
}

func TestVarsExpandSubstFunction(t *testing.T) {
	v := NewVars()
	require.Equal(t, "build-out", v.Expand("$[subst _,-,build_out]"))
}

func TestVarsExpandSortFunction(t *testing.T) {
	v := NewVars()
	require.Equal(t, "a b c", v.Expand("$[sort c a b]"))
}

func TestVarsExpandIfFunction(t *testing.T) {
	v := NewVars()
	require.Equal(t, "yes", v.Expand("$[if nonempty,yes,no]"))
	require.Equal(t, "no", v.Expand("$[if ,yes,no]"))
}

func TestVarsSnapshotReturnsCopy(t *testing.T) {
	v := NewVars()
	v.Set("a", "1")
	snap := v.Snapshot()
	v.Set("a", "2")
	require.Equal(t, "1", snap["a"])
	require.Equal(t, "2", v.Get("a"))
}
