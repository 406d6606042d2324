// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package forge

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Cas is the content-addressed store under <project>/forge-out/cas/.
// Insertion is crash-atomic (temp file + rename); once present, an entry
// is never modified or deleted by the engine during a build.
type Cas struct {
	root string // <project>/forge-out/cas
}

// NewCas opens (without creating) the CAS rooted at <project>/forge-out/cas.
func NewCas(projectRoot string) *Cas {
	return &Cas{root: filepath.Join(projectRoot, "forge-out", "cas")}
}

func (c *Cas) pathFor(h ContentHash) string {
	hex := h.String()
	return filepath.Join(c.root, hex[:2], hex[2:])
}

// GetPath returns the CAS path for h. It does not verify presence.
func (c *Cas) GetPath(h ContentHash) string { return c.pathFor(h) }

// Contains reports whether h is present in the store.
func (c *Cas) Contains(h ContentHash) bool {
	_, err := os.Stat(c.pathFor(h))
	return err == nil
}

// InsertFile hashes src and, if the digest is absent from the store,
// copies it in under a temp name in the same directory, fsyncs, then
// renames it into place. Renaming is the commit point: two concurrent
// inserts of identical content race harmlessly on rename, since both
// produce the same bytes at the same final path.
func (c *Cas) InsertFile(src string) (ContentHash, error) {
	h, err := HashFile(src)
	if err != nil {
		return ContentHash{}, err
	}
	if c.Contains(h) {
		return h, nil
	}

	dest := c.pathFor(h)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ContentHash{}, &IoError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp := filepath.Join(dir, h.String()+"."+uuid.NewString()+".tmp")
	if err := copyFile(src, tmp); err != nil {
		os.Remove(tmp)
		return ContentHash{}, err
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		// Another writer may have already committed the same content.
		if c.Contains(h) {
			return h, nil
		}
		return ContentHash{}, &IoError{Op: "rename", Path: dest, Err: err}
	}
	return h, nil
}

// Materialize links or copies the CAS entry for h to dest, creating
// parent directories as needed. A hard link is preferred; copy is the
// fallback when source and destination do not share a filesystem.
func (c *Cas) Materialize(h ContentHash, dest string) error {
	src := c.pathFor(h)
	if _, err := os.Stat(src); err != nil {
		return &IoError{Op: "materialize", Path: src, Err: err}
	}

	dir := filepath.Dir(dest)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &IoError{Op: "mkdir", Path: dir, Err: err}
		}
	}

	os.Remove(dest) // materialize overwrites any stale file at dest

	if err := os.Link(src, dest); err == nil {
		return nil
	}
	// Cross-device or unsupported: fall back to a plain copy.
	if err := copyFile(src, dest); err != nil {
		return err
	}
	return nil
}

// Verify re-hashes the stored content for h and reports CasCorruptionError
// if it no longer matches. Reads elsewhere in the engine never pay this
// cost; it is opt-in for explicit integrity checks.
func (c *Cas) Verify(h ContentHash) error {
	path := c.pathFor(h)
	got, err := HashFile(path)
	if err != nil {
		return err
	}
	if got != h {
		return &CasCorruptionError{Hash: h.String()}
	}
	return nil
}

// Sweep deletes any CAS object older than maxAge whose hash is absent
// from referenced, returning the number of bytes freed. The CAS keeps
// no access log, so "unreferenced for longer than maxAge" is
// approximated by the object's file mtime, which InsertFile never
// updates after the initial commit.
func (c *Cas) Sweep(referenced map[ContentHash]bool, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	var freed int64

	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(c.root, path)
		if err != nil {
			return nil
		}
		hex := filepath.Dir(rel) + filepath.Base(rel)
		h, err := ParseContentHash(hex)
		if err != nil {
			return nil
		}
		if referenced[h] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}

		freed += info.Size()
		return os.Remove(path)
	})
	if err != nil {
		return freed, &IoError{Op: "walk", Path: c.root, Err: err}
	}
	return freed, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return &IoError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &IoError{Op: "create", Path: dest, Err: err}
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return &IoError{Op: "copy", Path: dest, Err: err}
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return &IoError{Op: "fsync", Path: dest, Err: err}
	}
	if err := out.Close(); err != nil {
		return &IoError{Op: "close", Path: dest, Err: err}
	}
	return nil
}
