// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package forge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const cacheIndexVersion = 1

// OutputManifest is the set of outputs a cache hit must be able to
// materialize, plus when it was recorded.
type OutputManifest struct {
	Outputs   map[string]ContentHash `json:"outputs"`
	CreatedAt int64                  `json:"created_at"`
}

// cacheIndexFile is the on-disk shape of cache.json.
type cacheIndexFile struct {
	Version int                        `json:"version"`
	Entries map[string]outputManifestJSON `json:"entries"`
}

type outputManifestJSON struct {
	Outputs   map[string]string `json:"outputs"`
	CreatedAt int64             `json:"created_at"`
}

// CacheIndex is the persistent mapping fingerprint -> OutputManifest,
// held in memory for the lifetime of one engine invocation and flushed
// to forge-out/cache.json on Close.
type CacheIndex struct {
	path string
	log  *logrus.Entry

	mu      sync.RWMutex
	entries map[string]OutputManifest
}

// LoadCacheIndex reads forge-out/cache.json. A missing file is an empty
// index; an unrecognized version discards the file's contents (with a
// warning) rather than failing the build.
func LoadCacheIndex(projectRoot string, log *logrus.Entry) *CacheIndex {
	idx := &CacheIndex{
		path:    filepath.Join(projectRoot, "forge-out", "cache.json"),
		log:     log,
		entries: make(map[string]OutputManifest),
	}

	data, err := os.ReadFile(idx.path)
	if err != nil {
		return idx
	}

	var onDisk cacheIndexFile
	if err := json.Unmarshal(data, &onDisk); err != nil {
		log.WithError(err).Warn("cache.json is not valid JSON; treating cache as empty")
		return idx
	}
	if onDisk.Version != cacheIndexVersion {
		log.WithField("version", onDisk.Version).Warn("cache.json has an unknown version; discarding")
		return idx
	}

	for fp, m := range onDisk.Entries {
		outputs := make(map[string]ContentHash, len(m.Outputs))
		for path, hexHash := range m.Outputs {
			h, err := ParseContentHash(hexHash)
			if err != nil {
				log.WithError(err).WithField("fingerprint", fp).Warn("dropping cache entry with unparseable hash")
				continue
			}
			outputs[path] = h
		}
		idx.entries[fp] = OutputManifest{Outputs: outputs, CreatedAt: m.CreatedAt}
	}
	return idx
}

// Lookup returns the manifest recorded for fp, if any.
func (c *CacheIndex) Lookup(fp string) (OutputManifest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.entries[fp]
	return m, ok
}

// Insert records manifest for fp, stamped with the current time.
func (c *CacheIndex) Insert(fp string, outputs map[string]ContentHash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fp] = OutputManifest{Outputs: outputs, CreatedAt: time.Now().Unix()}
}

// Invalidate drops fp, used when a cache hit fails post-validation (e.g.
// CasCorruption discovered on explicit verify).
func (c *CacheIndex) Invalidate(fp string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, fp)
}

// ReferencedHashes returns every ContentHash any entry's manifest
// points at, for GC to compare against what's actually on disk in the
// CAS.
func (c *CacheIndex) ReferencedHashes() map[ContentHash]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	referenced := make(map[ContentHash]bool)
	for _, m := range c.entries {
		for _, h := range m.Outputs {
			referenced[h] = true
		}
	}
	return referenced
}

// Flush serializes the index to forge-out/cache.json atomically
// (temp file + rename), the same commit discipline the CAS uses.
func (c *CacheIndex) Flush() error {
	c.mu.RLock()
	onDisk := cacheIndexFile{Version: cacheIndexVersion, Entries: make(map[string]outputManifestJSON, len(c.entries))}
	for fp, m := range c.entries {
		outputs := make(map[string]string, len(m.Outputs))
		for path, h := range m.Outputs {
			outputs[path] = h.String()
		}
		onDisk.Entries[fp] = outputManifestJSON{Outputs: outputs, CreatedAt: m.CreatedAt}
	}
	c.mu.RUnlock()

	data, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &IoError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp := filepath.Join(dir, "cache."+uuid.NewString()+".json.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &IoError{Op: "write", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return &IoError{Op: "rename", Path: c.path, Err: err}
	}
	return nil
}
