// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package crc implements the CRC32C (Castagnoli) checksum and the LevelDB
// "masked CRC" transform used by both the record log and the sstable block
// trailer. The Castagnoli polynomial is provided by the standard library's
// hash/crc32 package (hash/crc32.MakeTable(hash/crc32.Castagnoli)); no
// third-party checksum library in the retrieved corpus implements this
// specific masking scheme, so it is built directly on top of that table.
package crc

import "hash/crc32"

var table = crc32.MakeTable(crc32.Castagnoli)

const maskDelta = 0xa282ead8

// Checksum computes the CRC32C of a single byte slice.
func Checksum(b []byte) uint32 {
	return crc32.Checksum(b, table)
}

// Update continues an existing CRC32C computation with more data,
// mirroring the reference implementation's incremental crc_update.
func Update(prev uint32, b []byte) uint32 {
	return crc32.Update(prev, table, b)
}

// Mask applies LevelDB's CRC masking transform, used so that a CRC is never
// confused with an all-zero buffer in storage. See
// https://github.com/google/leveldb/blob/main/util/crc32c.h.
func Mask(crc uint32) uint32 {
	return rotateRight32(crc, 15) + maskDelta
}

// Unmask reverses Mask: rotate_right_32(masked - maskDelta, 17), all in
// unsigned 32-bit arithmetic.
func Unmask(masked uint32) uint32 {
	rot := masked - maskDelta
	return rotateRight32(rot, 17)
}

func rotateRight32(v uint32, n uint) uint32 {
	return (v >> n) | (v << (32 - n))
}
