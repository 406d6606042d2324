// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package forge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGraphAddRuleRejectsDuplicateName(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddRule(Rule{Name: "a", Outputs: []string{"a.out"}}))
	err := g.AddRule(Rule{Name: "a", Outputs: []string{"b.out"}})
	require.Error(t, err)
}

func TestGraphAddRuleRejectsOutputCollision(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddRule(Rule{Name: "a", Outputs: []string{"shared.out"}}))
	err := g.AddRule(Rule{Name: "b", Outputs: []string{"shared.out"}})
	require.Error(t, err)
}

func TestGraphValidateRejectsUnknownDependency(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddRule(Rule{Name: "a", Dependencies: []string{"ghost"}}))
	err := g.Validate()
	require.Error(t, err)
}

func TestGraphValidateDetectsCycle(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddRule(Rule{Name: "a", Dependencies: []string{"b"}}))
	require.NoError(t, g.AddRule(Rule{Name: "b", Dependencies: []string{"a"}}))
	err := g.Validate()
	require.Error(t, err)
}

func TestGraphValidateRequiresInputCoverage(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddRule(Rule{Name: "a", Inputs: []string{"/nonexistent/path/for/sure"}}))
	err := g.Validate()
	require.Error(t, err)
}

func TestGraphValidateAllowsOutputAsInput(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddRule(Rule{Name: "compile", Outputs: []string{"out.o"}}))
	require.NoError(t, g.AddRule(Rule{Name: "link", Dependencies: []string{"compile"}, Inputs: []string{"out.o"}}))
	require.NoError(t, g.Validate())
}

func TestGraphTopoOrderRespectsDependencies(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddRule(Rule{Name: "c", Dependencies: []string{"b"}}))
	require.NoError(t, g.AddRule(Rule{Name: "b", Dependencies: []string{"a"}}))
	require.NoError(t, g.AddRule(Rule{Name: "a"}))
	require.NoError(t, g.Validate())

	order := g.TopoOrder()
	require.Len(t, order, 3)
	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	require.Less(t, pos["a"], pos["b"])
	require.Less(t, pos["b"], pos["c"])
}

func TestGraphFilterIncludesTransitiveDependencies(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddRule(Rule{Name: "app/link", Dependencies: []string{"app/compile"}}))
	require.NoError(t, g.AddRule(Rule{Name: "app/compile"}))
	require.NoError(t, g.AddRule(Rule{Name: "other/thing"}))
	require.NoError(t, g.Validate())

	filtered := g.Filter(map[string]bool{"app": true}, nil)
	names := filtered.Names()
	require.Contains(t, names, "app/link")
	require.Contains(t, names, "app/compile")
	require.NotContains(t, names, "other/thing")
}

func TestGraphFilterByComponent(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddRule(Rule{Name: "app/frontend"}))
	require.NoError(t, g.AddRule(Rule{Name: "app/backend"}))
	require.NoError(t, g.Validate())

	filtered := g.Filter(nil, map[string]bool{"frontend": true})
	names := filtered.Names()
	require.Contains(t, names, "app/frontend")
	require.NotContains(t, names, "app/backend")
}

func TestGraphFilterEmptySelectorsMatchEverything(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddRule(Rule{Name: "a"}))
	require.NoError(t, g.AddRule(Rule{Name: "b"}))
	require.NoError(t, g.Validate())

	filtered := g.Filter(nil, nil)
	require.Len(t, filtered.Names(), 2)
}
