// Package cos (common OS) provides small low-level helpers shared across
// the node tracker: hashing, checksumming, and atomic file writes.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"crypto/rand"
	"encoding/hex"
	"hash/crc32"
	"io"
	"os"

	"github.com/OneOfOne/xxhash"
)

const (
	SizeofI64 = 8
	SizeofI32 = 4

	// MLCG32 seeds the 64-bit digest used for node/rack/host identity
	// hashing; same constant used to seed Snode digests with.
	MLCG32 = 1103515245
)

// HashString64 returns a 64-bit digest for a name used as a dense-index
// or set-membership hash (node address, rack name, host name).
func HashString64(s string) uint64 {
	return xxhash.ChecksumString64S(s, MLCG32)
}

// Cksum is a named checksum value (algorithm + hex digest), mirroring
// aistore's cmn/cos.Cksum used to validate jsp-persisted files.
type Cksum struct {
	ty    string
	value string
}

func NewCksum(ty, value string) *Cksum { return &Cksum{ty: ty, value: value} }

func (c *Cksum) Type() string  { return c.ty }
func (c *Cksum) Value() string { return c.value }

func (c *Cksum) Equal(o *Cksum) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.ty == o.ty && c.value == o.value
}

func (c *Cksum) String() string {
	if c == nil {
		return "cksum<nil>"
	}
	return c.ty + ":" + c.value
}

// ErrBadCksum is returned by a checksum-verifying reader on mismatch.
type ErrBadCksum struct {
	Expected *Cksum
	Actual   *Cksum
}

func (e *ErrBadCksum) Error() string {
	return "bad checksum: expected " + e.Expected.String() + ", got " + e.Actual.String()
}

func (e *ErrBadCksum) Is(target error) bool {
	_, ok := target.(*ErrBadCksum)
	return ok
}

// CksumHash wraps a crc32 hasher so snapshot writers can compute a running
// checksum while streaming bytes to disk, the same shape jsp.Save uses.
type CksumHash struct {
	h hash32
}

type hash32 = interface {
	io.Writer
	Sum32() uint32
}

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

func NewCksumHash() *CksumHash { return &CksumHash{h: crc32.New(castagnoliTable)} }

func (ch *CksumHash) Write(p []byte) (int, error) { return ch.h.Write(p) }

func (ch *CksumHash) Finalize() *Cksum {
	return NewCksum("crc32c", hex.EncodeToString(uint32ToBytes(ch.h.Sum32())))
}

func uint32ToBytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// GenTie produces a short random string used to namespace temp files during
// an atomic Save, the same role as aistore's cmn.GenTie.
func GenTie() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func CreateFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

func RemoveFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func FlushClose(f *os.File) error {
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func Close(f *os.File) { _ = f.Close() }
