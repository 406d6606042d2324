// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package prelude

import (
	"fmt"
	"path/filepath"

	forge "github.com/forgebuild/forge"
)

// CCGenerator expands a "compile every .c/.cc/.cxx under a directory,
// then link" unit description into one rule per source file plus a
// final link rule — an illustrative generator, not a full C toolchain
// wrapper.
type CCGenerator struct{}

func init() { Register(CCGenerator{}) }

func (CCGenerator) Kind() string { return "cc" }

// sourceLangPattern classifies a matched source file by extension using
// a glob-constrained capture rather than a second filepath.Ext switch —
// the same constraint mechanism a forgefile's generate: block uses to
// scope an InputGlob, here driving which compiler dialect flag a
// recipe gets.
var sourceLangPattern = mustParsePattern("{base}.{ext:c}")
var cxxLangPattern = mustParsePattern("{base}.{ext:cc,cxx,cpp,mm}")

func mustParsePattern(raw string) Pattern {
	p, _, err := ParsePattern(raw)
	if err != nil {
		panic("prelude/cc: invalid built-in pattern " + raw + ": " + err.Error())
	}
	return p
}

// cxxDialectArgs returns the extra args needed to compile src as C++
// when its extension doesn't match the plain-C pattern, forcing the
// dialect explicitly rather than relying on the compiler's own
// extension sniffing (recipes may invoke a single cc-compatible
// driver for both languages).
func cxxDialectArgs(src string) []string {
	base := filepath.Base(src)
	if _, ok := sourceLangPattern.Match(base); ok {
		return nil
	}
	if _, ok := cxxLangPattern.Match(base); ok {
		return []string{"-x", "c++"}
	}
	return nil
}

// Generate produces one compile rule per matched source plus a link
// rule depending on all of them.
func (CCGenerator) Generate(spec GeneratorSpec) ([]forge.Rule, error) {
	inputs, err := wildcardGlob(spec.InputGlob)
	if err != nil {
		return nil, fmt.Errorf("prelude/cc: glob %q: %w", spec.InputGlob, err)
	}

	var objs []string
	var rules []forge.Rule
	for _, src := range inputs {
		obj := stem(src) + ".o"
		name := spec.NamePrefix + "/obj/" + stem(src)
		// -x applies to the files after it, so the dialect goes first.
		args := append(cxxDialectArgs(src), "-c", src, "-o", obj)
		args = append(args, spec.ExtraArgs...)
		rules = append(rules, forge.Rule{
			Name:    name,
			Command: spec.Command,
			Args:    args,
			Workdir: spec.Workdir,
			Inputs:  []string{src},
			Outputs: []string{obj},
		})
		objs = append(objs, obj)
	}

	linkName := spec.NamePrefix + "/link"
	linkDeps := make([]string, len(rules))
	for i, r := range rules {
		linkDeps[i] = r.Name
	}
	rules = append(rules, forge.Rule{
		Name:         linkName,
		Command:      spec.Command,
		Args:         append(append([]string{}, objs...), "-o", spec.OutputPattern),
		Workdir:      spec.Workdir,
		Inputs:       objs,
		Outputs:      []string{spec.OutputPattern},
		Dependencies: append(linkDeps, spec.Dependencies...),
	})

	return rules, nil
}
