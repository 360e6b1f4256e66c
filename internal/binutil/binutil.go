// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package binutil implements the low-level byte-slice primitives shared by
// every decoder in this module: varints, zigzag-encoded signed varints,
// bounds-checked fixed reads, and the compact little-endian integer
// encoding used by the IndexedDB key prefix.
package binutil

import (
	"github.com/cockroachdb/errors"
	"github.com/eli-fin/go-idbreader/internal/base"
)

// ReadVarint reads a little-endian base-128 varint from src, stopping at the
// first byte whose top bit is clear. It fails if maxBytes bytes are
// consumed without reaching a terminating byte. It returns the decoded
// value and the number of bytes consumed.
func ReadVarint(src []byte, maxBytes int) (uint64, int, error) {
	var result uint64
	for i := 0; i < maxBytes; i++ {
		if i >= len(src) {
			return 0, 0, errors.Wrapf(base.ErrUnexpectedEOF, "varint truncated after %d bytes", i)
		}
		b := src[i]
		result |= uint64(b&0x7f) << (7 * uint(i))
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
	}
	return 0, 0, errors.Wrapf(base.ErrUnexpectedEOF, "varint exceeds %d bytes", maxBytes)
}

// ReadVarint32 reads a varint that is known to fit in 32 bits; it allows at
// most the 5 bytes required to encode the full 32-bit range.
func ReadVarint32(src []byte) (uint32, int, error) {
	v, n, err := ReadVarint(src, 5)
	if err != nil {
		return 0, 0, err
	}
	return uint32(v), n, nil
}

// ReadVarint64 reads a varint that may use the full 64-bit range, which
// takes at most 10 bytes to encode.
func ReadVarint64(src []byte) (uint64, int, error) {
	return ReadVarint(src, 10)
}

// ReadSint32 reads a zigzag-encoded signed 32-bit varint: the wire value is
// first read as an ordinary varint32, then undone via
// (n >> 1) XOR -(n & 1), evaluated in 32-bit arithmetic.
func ReadSint32(src []byte) (int32, int, error) {
	n, consumed, err := ReadVarint32(src)
	if err != nil {
		return 0, 0, err
	}
	decoded := int32(n>>1) ^ -int32(n&1)
	return decoded, consumed, nil
}

// ReadExact returns the first n bytes of src, failing with ErrUnexpectedEOF
// if fewer than n bytes are available.
func ReadExact(src []byte, n int) ([]byte, error) {
	if n < 0 || len(src) < n {
		return nil, errors.Wrapf(base.ErrUnexpectedEOF, "need %d bytes, have %d", n, len(src))
	}
	return src[:n], nil
}

// Remaining returns the number of unread bytes in src. It exists mainly so
// call sites read like the reference decoder's bytes_left checks.
func Remaining(src []byte) int {
	return len(src)
}

// IntToCompactLE encodes v as 8 little-endian bytes, then trims trailing
// 0x00 bytes down to a minimum length of 1. This is the encoding used for
// each of the three IDs packed into an IndexedDB key prefix.
func IntToCompactLE(v uint64) []byte {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * uint(i)))
	}
	n := 8
	for n > 1 && buf[n-1] == 0 {
		n--
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out
}

// CompactLEToInt reconstructs the integer written by IntToCompactLE: it
// pads buf with zero bytes up to 8 bytes and reads it as little-endian.
func CompactLEToInt(buf []byte) (uint64, error) {
	if len(buf) == 0 || len(buf) > 8 {
		return 0, errors.Newf("idbreader: compact integer must be 1..8 bytes, got %d", len(buf))
	}
	var padded [8]byte
	copy(padded[:], buf)
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(padded[i])
	}
	return v, nil
}
