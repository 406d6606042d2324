// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package prelude

import (
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Vars is the variable store a RuleGenerator expands its templates
// against — pattern captures plus whatever context the generator adds.
type Vars struct {
	vals map[string]string
}

// NewVars returns an empty variable store.
func NewVars() *Vars {
	return &Vars{vals: make(map[string]string)}
}

// Set sets a variable.
func (v *Vars) Set(name, value string) { v.vals[name] = value }

// SetAll copies every entry of m into v, e.g. a pattern's captures.
func (v *Vars) SetAll(m map[string]string) {
	for k, val := range m {
		v.vals[k] = val
	}
}

// Get retrieves a variable's value, or "" if unset.
func (v *Vars) Get(name string) string { return v.vals[name] }

// Expand substitutes variable references in s.
//
//	$name       value of name
//	${name}     same, delimited
//	$name.dir   / $name.file — path component of name's value (any other
//	            ".suffix" is left as literal text, so $name.o works)
//	$[func arg] built-in function call (wildcard, patsubst, subst, ...)
//	$$          literal $
func (v *Vars) Expand(s string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] != '$' {
			b.WriteByte(s[i])
			i++
			continue
		}
		i++
		if i >= len(s) {
			b.WriteByte('$')
			break
		}

		switch {
		case s[i] == '$':
			b.WriteByte('$')
			i++

		case s[i] == '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				b.WriteString("${")
				i++
			} else {
				b.WriteString(v.Get(s[i+1 : i+end]))
				i += end + 1
			}

		case s[i] == '[':
			end := findMatchingBracket(s[i:])
			if end < 0 {
				b.WriteString("$[")
				i++
			} else {
				b.WriteString(v.evalFunc(s[i+1 : i+end]))
				i += end + 1
			}

		case isIdentStart(s[i]):
			start := i
			for i < len(s) && isIdentCont(s[i]) {
				i++
			}
			name := s[start:i]
			val := v.Get(name)

			if i < len(s) && s[i] == '.' {
				j := i + 1
				for j < len(s) && isIdentCont(s[j]) {
					j++
				}
				if prop := s[i+1 : j]; prop == "dir" || prop == "file" {
					val = varProperty(val, prop)
					i = j
				}
			}
			b.WriteString(val)

		default:
			b.WriteByte('$')
		}
	}
	return b.String()
}

func varProperty(val, prop string) string {
	switch prop {
	case "dir":
		return filepath.Dir(val)
	case "file":
		return filepath.Base(val)
	default:
		return ""
	}
}

// Snapshot returns a copy of every variable.
func (v *Vars) Snapshot() map[string]string {
	snap := make(map[string]string, len(v.vals))
	for k, val := range v.vals {
		snap[k] = val
	}
	return snap
}

func (v *Vars) evalFunc(inner string) string {
	name, args, _ := strings.Cut(inner, " ")
	switch name {
	case "wildcard":
		return v.funcWildcard(strings.TrimSpace(args))
	case "shell":
		return v.funcShell(strings.TrimSpace(args))
	case "patsubst":
		return v.funcPatsubst(strings.TrimSpace(args))
	case "subst":
		return v.funcSubst(strings.TrimSpace(args))
	case "filter":
		return v.funcFilter(strings.TrimSpace(args))
	case "filter-out":
		return v.funcFilterOut(strings.TrimSpace(args))
	case "dir":
		return v.funcDir(strings.TrimSpace(args))
	case "notdir":
		return v.funcNotdir(strings.TrimSpace(args))
	case "basename":
		return v.funcBasename(strings.TrimSpace(args))
	case "suffix":
		return v.funcSuffix(strings.TrimSpace(args))
	case "addprefix":
		return v.funcAddprefix(strings.TrimSpace(args))
	case "addsuffix":
		return v.funcAddsuffix(strings.TrimSpace(args))
	case "sort":
		return v.funcSort(strings.TrimSpace(args))
	case "word":
		return v.funcWord(strings.TrimSpace(args))
	case "words":
		return v.funcWords(strings.TrimSpace(args))
	case "strip":
		return v.funcStrip(strings.TrimSpace(args))
	case "findstring":
		return v.funcFindstring(strings.TrimSpace(args))
	case "if":
		return v.funcIf(strings.TrimSpace(args))
	default:
		return ""
	}
}

func (v *Vars) funcWildcard(pattern string) string {
	pattern = v.Expand(pattern)
	matches, err := wildcardGlob(pattern)
	if err != nil {
		return ""
	}
	return strings.Join(matches, " ")
}

func (v *Vars) funcShell(cmd string) string {
	out, err := runShellCapture(v.Expand(cmd))
	if err != nil {
		return ""
	}
	return strings.ReplaceAll(strings.TrimSpace(out), "\n", " ")
}

func (v *Vars) funcPatsubst(args string) string {
	parts := strings.SplitN(args, ",", 3)
	if len(parts) != 3 {
		return ""
	}
	pattern := strings.TrimSpace(parts[0])
	replacement := strings.TrimSpace(parts[1])
	text := strings.TrimSpace(v.Expand(parts[2]))

	var result []string
	for _, w := range strings.Fields(text) {
		result = append(result, patsubstWord(pattern, replacement, w))
	}
	return strings.Join(result, " ")
}

func (v *Vars) funcSubst(args string) string {
	parts := strings.SplitN(args, ",", 3)
	if len(parts) != 3 {
		return ""
	}
	from := strings.TrimSpace(parts[0])
	to := strings.TrimSpace(parts[1])
	text := strings.TrimSpace(v.Expand(parts[2]))
	return strings.ReplaceAll(text, from, to)
}

func (v *Vars) funcFilter(args string) string {
	parts := strings.SplitN(args, ",", 2)
	if len(parts) != 2 {
		return ""
	}
	pattern := strings.TrimSpace(parts[0])
	text := strings.TrimSpace(v.Expand(parts[1]))
	var result []string
	for _, w := range strings.Fields(text) {
		if patsubstMatch(pattern, w) {
			result = append(result, w)
		}
	}
	return strings.Join(result, " ")
}

func (v *Vars) funcFilterOut(args string) string {
	parts := strings.SplitN(args, ",", 2)
	if len(parts) != 2 {
		return ""
	}
	pattern := strings.TrimSpace(parts[0])
	text := strings.TrimSpace(v.Expand(parts[1]))
	var result []string
	for _, w := range strings.Fields(text) {
		if !patsubstMatch(pattern, w) {
			result = append(result, w)
		}
	}
	return strings.Join(result, " ")
}

func (v *Vars) funcDir(args string) string {
	words := strings.Fields(v.Expand(args))
	var result []string
	for _, w := range words {
		d := filepath.Dir(w)
		if d == "." {
			result = append(result, "./")
		} else {
			result = append(result, d+"/")
		}
	}
	return strings.Join(result, " ")
}

func (v *Vars) funcNotdir(args string) string {
	words := strings.Fields(v.Expand(args))
	var result []string
	for _, w := range words {
		result = append(result, filepath.Base(w))
	}
	return strings.Join(result, " ")
}

func (v *Vars) funcBasename(args string) string {
	words := strings.Fields(v.Expand(args))
	var result []string
	for _, w := range words {
		ext := filepath.Ext(w)
		result = append(result, w[:len(w)-len(ext)])
	}
	return strings.Join(result, " ")
}

func (v *Vars) funcSuffix(args string) string {
	words := strings.Fields(v.Expand(args))
	var result []string
	for _, w := range words {
		if ext := filepath.Ext(w); ext != "" {
			result = append(result, ext)
		}
	}
	return strings.Join(result, " ")
}

func (v *Vars) funcAddprefix(args string) string {
	parts := strings.SplitN(args, ",", 2)
	if len(parts) != 2 {
		return ""
	}
	prefix := strings.TrimSpace(parts[0])
	words := strings.Fields(strings.TrimSpace(v.Expand(parts[1])))
	var result []string
	for _, w := range words {
		result = append(result, prefix+w)
	}
	return strings.Join(result, " ")
}

func (v *Vars) funcAddsuffix(args string) string {
	parts := strings.SplitN(args, ",", 2)
	if len(parts) != 2 {
		return ""
	}
	suffix := strings.TrimSpace(parts[0])
	words := strings.Fields(strings.TrimSpace(v.Expand(parts[1])))
	var result []string
	for _, w := range words {
		result = append(result, w+suffix)
	}
	return strings.Join(result, " ")
}

func (v *Vars) funcSort(args string) string {
	words := strings.Fields(v.Expand(args))
	sort.Strings(words)
	var result []string
	for i, w := range words {
		if i == 0 || w != words[i-1] {
			result = append(result, w)
		}
	}
	return strings.Join(result, " ")
}

func (v *Vars) funcWord(args string) string {
	parts := strings.SplitN(args, ",", 2)
	if len(parts) != 2 {
		return ""
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || n < 1 {
		return ""
	}
	words := strings.Fields(strings.TrimSpace(v.Expand(parts[1])))
	if n > len(words) {
		return ""
	}
	return words[n-1]
}

func (v *Vars) funcWords(args string) string {
	return strconv.Itoa(len(strings.Fields(v.Expand(args))))
}

func (v *Vars) funcStrip(args string) string {
	return strings.Join(strings.Fields(v.Expand(args)), " ")
}

func (v *Vars) funcFindstring(args string) string {
	parts := strings.SplitN(args, ",", 2)
	if len(parts) != 2 {
		return ""
	}
	find := strings.TrimSpace(parts[0])
	text := strings.TrimSpace(v.Expand(parts[1]))
	if strings.Contains(text, find) {
		return find
	}
	return ""
}

func (v *Vars) funcIf(args string) string {
	parts := strings.SplitN(args, ",", 3)
	if len(parts) < 2 {
		return ""
	}
	if strings.TrimSpace(v.Expand(parts[0])) != "" {
		return strings.TrimSpace(v.Expand(parts[1]))
	}
	if len(parts) == 3 {
		return strings.TrimSpace(v.Expand(parts[2]))
	}
	return ""
}

func patsubstWord(pattern, replacement, word string) string {
	if !strings.Contains(pattern, "%") {
		if word == pattern {
			return replacement
		}
		return word
	}
	prefix, suffix, _ := strings.Cut(pattern, "%")
	if strings.HasPrefix(word, prefix) && strings.HasSuffix(word, suffix) {
		stem := word[len(prefix) : len(word)-len(suffix)]
		return strings.ReplaceAll(replacement, "%", stem)
	}
	return word
}

func patsubstMatch(pattern, word string) bool {
	if !strings.Contains(pattern, "%") {
		return word == pattern
	}
	prefix, suffix, _ := strings.Cut(pattern, "%")
	return strings.HasPrefix(word, prefix) && strings.HasSuffix(word, suffix)
}

func findMatchingBracket(s string) int {
	depth := 0
	for i, c := range s {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentCont(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

func wildcardGlob(pattern string) ([]string, error) {
	var all []string
	for _, p := range strings.Fields(pattern) {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, err
		}
		all = append(all, matches...)
	}
	return all, nil
}

func runShellCapture(cmd string) (string, error) {
	out, err := exec.Command("sh", "-c", cmd).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
