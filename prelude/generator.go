// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package prelude

import (
	"fmt"
	"path/filepath"
	"sort"

	forge "github.com/forgebuild/forge"
)

// RuleGenerator produces rules from a higher-level declaration — "every
// .c file under src/ compiles to build/{name}.o" — instead of a
// forgefile spelling each one out. Toolchains (cc, zig, ...) register
// one generator each; the configuration layer calls every generator
// whose kind matches a forgefile's generate: block.
type RuleGenerator interface {
	// Kind names the generator as forgefiles reference it, e.g. "cc".
	Kind() string
	// Generate expands spec into concrete rules.
	Generate(spec GeneratorSpec) ([]forge.Rule, error)
}

// GeneratorSpec is a generate: block's parsed content, handed to
// whichever RuleGenerator matches its Kind.
type GeneratorSpec struct {
	Kind    string
	NamePrefix string
	InputGlob  string
	OutputPattern string
	Command    string
	ExtraArgs  []string
	Workdir    string
	Dependencies []string
}

var registry = make(map[string]RuleGenerator)

// Register adds a generator under its own Kind(). It panics on a
// duplicate kind or a nil generator, mirroring the registration
// discipline toolchain plugins need at init time.
func Register(g RuleGenerator) {
	kind := g.Kind()
	if kind == "" {
		panic("prelude: generator kind must not be empty")
	}
	if _, dup := registry[kind]; dup {
		panic("prelude: generator registered twice for kind " + kind)
	}
	registry[kind] = g
}

// Lookup returns the generator registered for kind, if any.
func Lookup(kind string) (RuleGenerator, bool) {
	g, ok := registry[kind]
	return g, ok
}

// PatternGenerator is the built-in one-rule-per-matched-input
// generator: it globs InputGlob, matches each hit against
// a {name}-style input pattern derived from it, and expands
// OutputPattern against the captures and ExtraArgs against the captures
// plus $in/$out. Command is used as given.
type PatternGenerator struct {
	kind string
}

// NewPatternGenerator returns a PatternGenerator registered under kind.
func NewPatternGenerator(kind string) *PatternGenerator {
	return &PatternGenerator{kind: kind}
}

func (p *PatternGenerator) Kind() string { return p.kind }

// Generate expands spec into one Rule per file matched by spec.InputGlob.
func (p *PatternGenerator) Generate(spec GeneratorSpec) ([]forge.Rule, error) {
	inputs, err := wildcardGlob(spec.InputGlob)
	if err != nil {
		return nil, fmt.Errorf("prelude: glob %q: %w", spec.InputGlob, err)
	}
	sort.Strings(inputs)

	inPattern, _, err := ParsePattern(inputGlobToPattern(spec.InputGlob))
	if err != nil {
		return nil, err
	}
	outPattern, _, err := ParsePattern(spec.OutputPattern)
	if err != nil {
		return nil, err
	}

	rules := make([]forge.Rule, 0, len(inputs))
	for _, in := range inputs {
		captures, ok := inPattern.Match(in)
		if !ok {
			captures = map[string]string{"name": stem(in)}
		}

		v := NewVars()
		v.SetAll(captures)
		v.Set("in", in)

		out := outPattern.Expand(captures)
		v.Set("out", out)

		args := make([]string, 0, len(spec.ExtraArgs)+2)
		for _, a := range spec.ExtraArgs {
			args = append(args, v.Expand(a))
		}

		name := spec.NamePrefix + "/" + stem(in)
		rules = append(rules, forge.Rule{
			Name:         name,
			Command:      spec.Command,
			Args:         args,
			Workdir:      spec.Workdir,
			Inputs:       []string{in},
			Outputs:      []string{out},
			Dependencies: spec.Dependencies,
		})
	}
	return rules, nil
}

func inputGlobToPattern(glob string) string {
	return pathWithoutMeta(glob) + "{name/[^/]+}"
}

func pathWithoutMeta(glob string) string {
	dir := filepath.Dir(glob)
	if dir == "." {
		return ""
	}
	return dir + "/"
}

func stem(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}
