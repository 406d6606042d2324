// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package forge

import "fmt"

// ConfigError reports a problem found during graph validation, before any
// rule executes. It is always fatal and always user-facing.
type ConfigError struct {
	Kind string // DuplicateRule, CycleDetected, UnknownDependency, OutputCollision, MissingInput, OutputEscape
	Msg  string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Msg) }

func newConfigError(kind, format string, args ...any) *ConfigError {
	return &ConfigError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// IoError wraps a filesystem or CAS operation failure.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func (e *IoError) Error() string { return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err) }
func (e *IoError) Unwrap() error { return e.Err }

// CommandError reports a rule's recipe exiting with a non-zero status.
type CommandError struct {
	Rule       string
	ExitCode   int
	StderrTail string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("rule %q: command failed with exit code %d: %s", e.Rule, e.ExitCode, e.StderrTail)
}

// MissingOutputError reports a declared output that does not exist after
// the recipe ran.
type MissingOutputError struct {
	Rule string
	Path string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("rule %q: declared output %q was not produced", e.Rule, e.Path)
}

// TimeoutError reports a rule whose recipe exceeded its declared timeout.
type TimeoutError struct {
	Rule string
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("rule %q: timed out", e.Rule) }

// CasCorruptionError reports a CAS entry whose content no longer matches
// its hash-derived name. Only raised by explicit Verify calls.
type CasCorruptionError struct {
	Hash string
}

func (e *CasCorruptionError) Error() string {
	return fmt.Sprintf("cas entry %q is corrupt: content does not match hash", e.Hash)
}

// CancelledError marks a rule that never ran because the build was
// cancelled (graph-wide failure, or a cancelled dependency).
type CancelledError struct {
	Rule string
}

func (e *CancelledError) Error() string { return fmt.Sprintf("rule %q: cancelled", e.Rule) }
