// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package forge

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// ContentHash is a 32-byte BLAKE3 digest.
type ContentHash [32]byte

// String renders the digest as lowercase hex, the form used on disk.
func (h ContentHash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the unset digest.
func (h ContentHash) IsZero() bool { return h == ContentHash{} }

// ParseContentHash decodes a lowercase-hex digest produced by String.
func ParseContentHash(s string) (ContentHash, error) {
	var h ContentHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("content hash %q: want %d bytes, got %d", s, len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// hashChunkSize is the minimum read size used when streaming a file into
// the hasher; BLAKE3 benefits from large chunks and this keeps syscall
// count low for the files a build typically touches.
const hashChunkSize = 64 * 1024

// HashBytes returns the BLAKE3 digest of b.
func HashBytes(b []byte) ContentHash {
	var h ContentHash
	sum := blake3.Sum256(b)
	h = ContentHash(sum)
	return h
}

// HashFile streams path through BLAKE3 in chunks of at least
// hashChunkSize and returns its digest. Returns *IoError if the file
// cannot be read.
func HashFile(path string) (ContentHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return ContentHash{}, &IoError{Op: "hash", Path: path, Err: err}
	}
	defer f.Close()

	hasher := blake3.New()
	buf := make([]byte, hashChunkSize)
	// Wrap both ends so CopyBuffer cannot hand off to os.File.WriteTo
	// (or a ReaderFrom on the hasher) and must use buf.
	if _, err := io.CopyBuffer(struct{ io.Writer }{hasher}, struct{ io.Reader }{f}, buf); err != nil {
		return ContentHash{}, &IoError{Op: "hash", Path: path, Err: err}
	}

	var out ContentHash
	copy(out[:], hasher.Sum(nil))
	return out, nil
}

// HashRecord produces a collision-resistant, order-sensitive digest over
// a sequence of fields. Each field is length-prefixed (8-byte
// little-endian) before its bytes are fed to the hasher, so "ab","c" and
// "a","bc" never collide.
func HashRecord(fields ...[]byte) ContentHash {
	hasher := blake3.New()
	var lenBuf [8]byte
	for _, f := range fields {
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(f)))
		hasher.Write(lenBuf[:])
		hasher.Write(f)
	}
	var out ContentHash
	copy(out[:], hasher.Sum(nil))
	return out
}

// HashStrings is a convenience wrapper over HashRecord for string fields.
func HashStrings(fields ...string) ContentHash {
	b := make([][]byte, len(fields))
	for i, f := range fields {
		b[i] = []byte(f)
	}
	return HashRecord(b...)
}
