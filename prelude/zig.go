// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package prelude

import (
	"fmt"

	forge "github.com/forgebuild/forge"
)

// ZigGenerator expands a unit description into a single `zig build-exe`
// rule — zig's single-invocation model needs no separate object-file
// stage, unlike CCGenerator.
type ZigGenerator struct{}

func init() { Register(ZigGenerator{}) }

func (ZigGenerator) Kind() string { return "zig" }

// Generate produces one rule compiling spec.InputGlob's matches into
// spec.OutputPattern via `zig build-exe`.
func (ZigGenerator) Generate(spec GeneratorSpec) ([]forge.Rule, error) {
	inputs, err := wildcardGlob(spec.InputGlob)
	if err != nil {
		return nil, fmt.Errorf("prelude/zig: glob %q: %w", spec.InputGlob, err)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("prelude/zig: no sources matched %q", spec.InputGlob)
	}

	command := spec.Command
	if command == "" {
		command = "zig"
	}
	args := append([]string{"build-exe"}, inputs...)
	args = append(args, "-femit-bin="+spec.OutputPattern)
	args = append(args, spec.ExtraArgs...)

	return []forge.Rule{{
		Name:         spec.NamePrefix,
		Command:      command,
		Args:         args,
		Workdir:      spec.Workdir,
		Inputs:       inputs,
		Outputs:      []string{spec.OutputPattern},
		Dependencies: spec.Dependencies,
	}}, nil
}
