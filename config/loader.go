// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	forge "github.com/forgebuild/forge"
	"github.com/forgebuild/forge/prelude"
)

// Loader hydrates a Rule graph from one or more forgefiles, honoring
// includes and an optional environment override prefix.
type Loader struct {
	envPrefix string
	vars      map[string]any
}

// NewLoader returns a Loader that reads envPrefix_-prefixed environment
// variables (none when envPrefix is empty) over whatever forgefiles it's
// given, and evaluates `when:` expressions against vars.
func NewLoader(envPrefix string, vars map[string]any) *Loader {
	if vars == nil {
		vars = map[string]any{}
	}
	return &Loader{envPrefix: envPrefix, vars: vars}
}

// Load reads every forgefile reachable from roots (following Includes),
// applies environment overrides, evaluates each rule's `when:` clause,
// and returns the resulting Rules plus any that were skipped.
func (l *Loader) Load(roots ...string) ([]forge.Rule, []DefinitionSkip, error) {
	k := koanf.New(".")
	visited := map[string]bool{}

	var walk func(path string) error
	walk = func(path string) error {
		abs, err := filepath.Abs(path)
		if err != nil {
			return &forge.IoError{Op: "resolve", Path: path, Err: err}
		}
		if visited[abs] {
			return nil
		}
		visited[abs] = true

		parser, err := parserFor(abs)
		if err != nil {
			return err
		}
		if _, statErr := os.Stat(abs); statErr != nil {
			return &forge.IoError{Op: "stat", Path: abs, Err: statErr}
		}
		if err := k.Load(file.Provider(abs), parser); err != nil {
			return fmt.Errorf("config: load %s: %w", abs, err)
		}

		var doc Document
		if err := k.Unmarshal("", &doc); err != nil {
			return fmt.Errorf("config: decode %s: %w", abs, err)
		}
		dir := filepath.Dir(abs)
		for _, inc := range doc.Includes {
			incPath := inc
			if !filepath.IsAbs(incPath) {
				incPath = filepath.Join(dir, incPath)
			}
			if err := walk(incPath); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range roots {
		if err := walk(root); err != nil {
			return nil, nil, err
		}
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return nil, nil, fmt.Errorf("config: load env: %w", err)
		}
	}

	var doc Document
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, nil, fmt.Errorf("config: decode merged forgefile: %w", err)
	}

	cond, err := newCondEnv()
	if err != nil {
		return nil, nil, err
	}

	names := make([]string, 0, len(doc.Rules))
	for name := range doc.Rules {
		names = append(names, name)
	}
	sort.Strings(names)

	rules := make([]forge.Rule, 0, len(names))
	var skipped []DefinitionSkip
	for _, name := range names {
		def := doc.Rules[name]
		ok, err := cond.eval(def.When, l.vars)
		if err != nil {
			return nil, nil, fmt.Errorf("config: rule %q: %w", name, err)
		}
		if !ok {
			skipped = append(skipped, DefinitionSkip{Name: name, Reason: "when clause evaluated false"})
			continue
		}
		rules = append(rules, forge.Rule{
			Name:         name,
			Command:      def.Command,
			Args:         def.Args,
			Env:          def.Env,
			EnvKeys:      def.EnvKeys,
			Workdir:      def.Workdir,
			Inputs:       def.Inputs,
			Outputs:      def.Outputs,
			Dependencies: def.Dependencies,
			Keep:         def.Keep,
			Timeout:      def.Duration(),
		})
	}

	for _, gen := range doc.Generate {
		generated, err := expandGenerate(gen)
		if err != nil {
			return nil, nil, err
		}
		rules = append(rules, generated...)
	}

	return rules, skipped, nil
}

func expandGenerate(gen GenerateDef) ([]forge.Rule, error) {
	rg, ok := prelude.Lookup(gen.Kind)
	if !ok {
		return nil, fmt.Errorf("config: no rule generator registered for kind %q", gen.Kind)
	}
	return rg.Generate(prelude.GeneratorSpec{
		Kind:          gen.Kind,
		NamePrefix:    gen.Name,
		InputGlob:     gen.Sources,
		OutputPattern: gen.Out,
		Command:       gen.Command,
		ExtraArgs:     gen.Args,
		Workdir:       gen.Workdir,
		Dependencies:  gen.Dependencies,
	})
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported forgefile extension %q", filepath.Ext(path))
	}
}
