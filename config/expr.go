// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// condEnv is the CEL environment every rule's `when:` expression
// compiles against. It exposes exactly one variable, vars, so
// forgefiles can gate rules on build-invocation parameters
// ("when: vars.os == 'linux'") without reaching into the filesystem or
// environment directly.
type condEnv struct {
	env *cel.Env
}

func newCondEnv() (*condEnv, error) {
	env, err := cel.NewEnv(
		cel.Variable("vars", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("config: build CEL environment: %w", err)
	}
	return &condEnv{env: env}, nil
}

// eval compiles and runs expression against vars, requiring a boolean
// result.
func (c *condEnv) eval(expression string, vars map[string]any) (bool, error) {
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return true, nil
	}
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("config: compile %q: %w", expr, issues.Err())
	}
	if t := ast.OutputType(); t != cel.BoolType && t != cel.DynType {
		return false, fmt.Errorf("config: %q must return bool, got %s", expr, cel.FormatCELType(t))
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("config: program %q: %w", expr, err)
	}
	val, _, err := prg.Eval(map[string]any{"vars": vars})
	if err != nil {
		return false, fmt.Errorf("config: eval %q: %w", expr, err)
	}
	b, ok := val.(types.Bool)
	if !ok {
		return false, fmt.Errorf("config: %q yielded non-bool result %T", expr, val)
	}
	return bool(b), nil
}
