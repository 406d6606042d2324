// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package forge

import (
	"os"
	"sort"
	"strings"
)

// Graph is the in-memory DAG of rules. Builders populate it with AddRule
// calls, then call Validate once before any execution.
type Graph struct {
	rules   map[string]*Rule
	order   []string // registration order, for stable iteration
	byOutput map[string]string // output path -> owning rule name
}

// NewGraph returns an empty rule graph.
func NewGraph() *Graph {
	return &Graph{
		rules:    make(map[string]*Rule),
		byOutput: make(map[string]string),
	}
}

// AddRule registers r. Duplicate names are rejected immediately
// (invariant D1); output-path collisions are caught here too, since
// they can be detected incrementally without waiting for Validate.
func (g *Graph) AddRule(r Rule) error {
	if _, exists := g.rules[r.Name]; exists {
		return newConfigError("DuplicateRule", "rule %q already registered", r.Name)
	}
	for _, out := range r.Outputs {
		if owner, exists := g.byOutput[out]; exists {
			return newConfigError("OutputCollision", "output %q declared by both %q and %q", out, owner, r.Name)
		}
	}

	stored := r
	g.rules[r.Name] = &stored
	g.order = append(g.order, r.Name)
	for _, out := range r.Outputs {
		g.byOutput[out] = r.Name
	}
	return nil
}

// Rule returns the named rule, or nil if it isn't registered.
func (g *Graph) Rule(name string) *Rule { return g.rules[name] }

// Names returns every registered rule name in registration order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Validate performs the one-time checks required before any rule runs:
// dependency resolution, acyclicity (Kahn's algorithm), and input
// coverage. Output disjointness is enforced by AddRule and is not
// re-checked here.
func (g *Graph) Validate() error {
	for name, r := range g.rules {
		for _, dep := range r.Dependencies {
			if _, ok := g.rules[dep]; !ok {
				return newConfigError("UnknownDependency", "rule %q depends on unregistered rule %q", name, dep)
			}
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return newConfigError("CycleDetected", "dependency cycle: %s", strings.Join(cycle, " -> "))
	}

	if err := g.checkInputCoverage(); err != nil {
		return err
	}

	return nil
}

// findCycle runs Kahn's algorithm and, if the graph is not fully
// orderable, reconstructs one offending cycle for the error message.
func (g *Graph) findCycle() []string {
	indegree := make(map[string]int, len(g.rules))
	for name, r := range g.rules {
		indegree[name] = len(r.Dependencies)
	}

	var queue []string
	for _, name := range g.order {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	visited := make(map[string]bool)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		visited[name] = true
		for _, other := range g.order {
			if visited[other] {
				continue
			}
			for _, dep := range g.rules[other].Dependencies {
				if dep == name {
					indegree[other]--
				}
			}
			if indegree[other] == 0 && !contains(queue, other) {
				queue = append(queue, other)
			}
		}
	}

	if len(visited) == len(g.rules) {
		return nil
	}

	// Reconstruct a cycle among the unvisited rules by walking
	// dependency edges until a name repeats.
	var start string
	for _, name := range g.order {
		if !visited[name] {
			start = name
			break
		}
	}
	seen := map[string]int{}
	path := []string{start}
	cur := start
	for {
		seen[cur] = len(path) - 1
		var next string
		for _, dep := range g.rules[cur].Dependencies {
			if !visited[dep] {
				next = dep
				break
			}
		}
		if next == "" {
			return path
		}
		if idx, ok := seen[next]; ok {
			return append(path[idx:], next)
		}
		path = append(path, next)
		cur = next
	}
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// checkInputCoverage enforces invariant D4: every declared input either
// exists on disk already or is an output reachable via Dependencies.
func (g *Graph) checkInputCoverage() error {
	for name, r := range g.rules {
		reachableOutputs := g.reachableOutputs(name)
		for _, in := range r.Inputs {
			if reachableOutputs[in] {
				continue
			}
			if _, err := os.Stat(in); err == nil {
				continue
			}
			return newConfigError("MissingInput", "rule %q: input %q is neither an existing file nor an output of a declared dependency", name, in)
		}
	}
	return nil
}

func (g *Graph) reachableOutputs(name string) map[string]bool {
	out := make(map[string]bool)
	visited := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		if visited[n] {
			return
		}
		visited[n] = true
		r := g.rules[n]
		if r == nil {
			return
		}
		for _, o := range r.Outputs {
			out[o] = true
		}
		for _, dep := range r.Dependencies {
			walk(dep)
		}
	}
	for _, dep := range g.rules[name].Dependencies {
		walk(dep)
	}
	return out
}

// TopoOrder returns all rule names in an order where every rule follows
// all of its dependencies. Validate must have succeeded first.
func (g *Graph) TopoOrder() []string {
	indegree := make(map[string]int, len(g.rules))
	dependents := make(map[string][]string)
	for name := range g.rules {
		indegree[name] = 0
	}
	for name, r := range g.rules {
		indegree[name] = len(r.Dependencies)
		for _, dep := range r.Dependencies {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for _, name := range g.order {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	var result []string
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		result = append(result, name)
		deps := append([]string(nil), dependents[name]...)
		sort.Strings(deps)
		for _, dependent := range deps {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	return result
}

// Filter returns the smallest subgraph containing every rule selected by
// targets/components plus its transitive dependencies, per §4.4's
// filtering semantics. An empty set for either filter matches everything.
// target is derived from a rule's name prefix up to the first "/",
// mirroring the teacher's component-prefix convention; components match
// the component part or the full name exactly, or any prefix of the full
// name (a plain string prefix, not cut at "/").
func (g *Graph) Filter(targets, components map[string]bool) *Graph {
	selected := make(map[string]bool)
	for _, name := range g.order {
		if ruleSelected(name, targets, components) {
			selected[name] = true
		}
	}

	closure := make(map[string]bool)
	var walk func(string)
	walk = func(name string) {
		if closure[name] {
			return
		}
		closure[name] = true
		r := g.rules[name]
		if r == nil {
			return
		}
		for _, dep := range r.Dependencies {
			walk(dep)
		}
	}
	for name := range selected {
		walk(name)
	}

	out := NewGraph()
	for _, name := range g.order {
		if closure[name] {
			_ = out.AddRule(*g.rules[name])
		}
	}
	return out
}

func ruleSelected(name string, targets, components map[string]bool) bool {
	target, component := splitTargetComponent(name)

	targetOK := len(targets) == 0 || targets[target]
	if !targetOK {
		return false
	}

	if len(components) == 0 {
		return true
	}
	if components[component] || components[name] {
		return true
	}
	for c := range components {
		if strings.HasPrefix(name, c) {
			return true
		}
	}
	return false
}

// splitTargetComponent derives a rule's target and component from its
// name using the "<target>/<component>..." convention rule producers are
// expected to follow when they want target/component filtering to apply.
func splitTargetComponent(name string) (target, component string) {
	parts := strings.SplitN(name, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", name
}
