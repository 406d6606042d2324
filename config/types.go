// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads forgefiles — the YAML/JSON/TOML documents that
// declare a project's rules — and turns them into the engine's Rule
// graph. It is deliberately kept outside package forge: the engine
// never reads a file itself, only ever receives Rules handed to it by
// a collaborator such as this one.
package config

import "time"

// RuleDef is a forgefile's on-disk shape for one rule. Field names are
// lowerCamelCase in YAML/JSON/TOML to match the rest of the document.
type RuleDef struct {
	Command      string            `koanf:"command"`
	Args         []string          `koanf:"args"`
	Env          map[string]string `koanf:"env"`
	EnvKeys      []string          `koanf:"envKeys"`
	Workdir      string            `koanf:"workdir"`
	Inputs       []string          `koanf:"inputs"`
	Outputs      []string          `koanf:"outputs"`
	Dependencies []string          `koanf:"dependencies"`
	Keep         bool              `koanf:"keep"`
	TimeoutSec   int               `koanf:"timeoutSeconds"`
	// When, if set, is a CEL expression evaluated against the loader's
	// vars; the rule is dropped from the graph unless it yields true.
	When string `koanf:"when"`
}

// Duration returns the rule's declared timeout, or zero for "no timeout".
func (d RuleDef) Duration() time.Duration {
	if d.TimeoutSec <= 0 {
		return 0
	}
	return time.Duration(d.TimeoutSec) * time.Second
}

// Document is a forgefile's top-level shape: a flat map of rule name to
// definition, any nested include paths pulled in before rules are
// resolved, and generate: blocks handed off to a RuleGenerator.
type Document struct {
	Rules    map[string]RuleDef `koanf:"rules"`
	Includes []string           `koanf:"includes"`
	Generate []GenerateDef      `koanf:"generate"`
}

// GenerateDef is one generate: block — a higher-level unit description
// a prelude.RuleGenerator expands into concrete rules.
type GenerateDef struct {
	Kind          string            `koanf:"kind"`
	Name          string            `koanf:"name"`
	Sources       string            `koanf:"sources"`
	Out           string            `koanf:"out"`
	Command       string            `koanf:"command"`
	Args          []string          `koanf:"args"`
	Workdir       string            `koanf:"workdir"`
	Dependencies  []string          `koanf:"dependencies"`
}

// DefinitionSkip records a rule dropped during loading, so `forge why`
// (or an equivalent diagnostic) can explain an unexpectedly empty graph
// instead of silently losing rules.
type DefinitionSkip struct {
	Name    string
	Reason  string
	Sources []string
}
