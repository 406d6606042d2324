// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package forge

import (
	"path/filepath"
	"sort"
	"sync"
)

// fingerprintSalt versions the canonical encoding so a future change to
// what goes into a fingerprint can't silently collide with old ones.
const fingerprintSalt = "forge-v1"

// computeFingerprint implements §4.5: a rule's cache key is a hash over
// its command, args, the env subset named by EnvKeys, its inputs'
// content hashes keyed by workdir-relative path, its dependencies'
// fingerprints, and its output paths — all sorted where order is not
// semantically meaningful, so two equivalent rules always agree.
//
// depFingerprints must already hold every dependency's fingerprint;
// the scheduler guarantees this by only calling here once a rule's
// dependencies are terminal.
func computeFingerprint(r *Rule, depFingerprints map[string]string, hashCache *hashMemo) (string, error) {
	fields := [][]byte{[]byte(fingerprintSalt), []byte(r.Command)}

	for _, a := range r.Args {
		fields = append(fields, []byte(a))
	}

	envNames := append([]string(nil), r.EnvKeys...)
	sort.Strings(envNames)
	for _, name := range envNames {
		fields = append(fields, []byte(name+"="+r.Env[name]))
	}

	type inputPair struct{ rel, hash string }
	pairs := make([]inputPair, 0, len(r.Inputs))
	for _, p := range r.Inputs {
		rel, err := filepath.Rel(r.Workdir, p)
		if err != nil {
			rel = p
		}
		h, err := hashCache.hash(p)
		if err != nil {
			return "", err
		}
		pairs = append(pairs, inputPair{rel: rel, hash: h.String()})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].rel < pairs[j].rel })
	for _, p := range pairs {
		fields = append(fields, []byte(p.rel+"\x00"+p.hash))
	}

	deps := make([]string, 0, len(r.Dependencies))
	for _, d := range r.Dependencies {
		deps = append(deps, depFingerprints[d])
	}
	sort.Strings(deps)
	for _, d := range deps {
		fields = append(fields, []byte(d))
	}

	outputs := append([]string(nil), r.Outputs...)
	sort.Strings(outputs)
	for _, o := range outputs {
		fields = append(fields, []byte(o))
	}

	return HashRecord(fields...).String(), nil
}

// hashMemo memoizes HashFile results within a single build so a file
// shared as input to several rules is only read once.
type hashMemo struct {
	mu    sync.Mutex
	cache map[string]ContentHash
}

func newHashMemo() *hashMemo {
	return &hashMemo{cache: make(map[string]ContentHash)}
}

func (m *hashMemo) hash(path string) (ContentHash, error) {
	m.mu.Lock()
	if h, ok := m.cache[path]; ok {
		m.mu.Unlock()
		return h, nil
	}
	m.mu.Unlock()

	h, err := HashFile(path)
	if err != nil {
		return ContentHash{}, err
	}

	m.mu.Lock()
	m.cache[path] = h
	m.mu.Unlock()
	return h, nil
}
