// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eli-fin/go-idbreader/internal/crc"
)

func putVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

func makeInternalKey(userKey string, seq uint64, kind byte) []byte {
	trailer := (seq << 8) | uint64(kind)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], trailer)
	return append([]byte(userKey), buf[:]...)
}

// buildBlock encodes entries (assumed already in the desired on-disk order)
// with no shared-prefix compression (every entry is its own restart point),
// which is valid per the format even though it wastes space.
func buildBlock(entries [][2][]byte) []byte {
	var data []byte
	var restarts []uint32
	for _, e := range entries {
		restarts = append(restarts, uint32(len(data)))
		data = putVarint(data, 0) // shared
		data = putVarint(data, uint64(len(e[0])))
		data = putVarint(data, uint64(len(e[1])))
		data = append(data, e[0]...)
		data = append(data, e[1]...)
	}
	for _, r := range restarts {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], r)
		data = append(data, b[:]...)
	}
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(restarts)))
	data = append(data, count[:]...)
	return data
}

type blockWriter struct {
	buf []byte
}

// appendBlock appends a (possibly compressed-as-uncompressed) block plus
// its trailer to the file buffer, returning a handle to it.
func (w *blockWriter) appendBlock(payload []byte) handle {
	h := handle{Offset: uint64(len(w.buf)), Size: uint64(len(payload))}
	w.buf = append(w.buf, payload...)
	c := crc.Update(crc.Checksum(payload), []byte{noCompression})
	w.buf = append(w.buf, noCompression)
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc.Mask(c))
	w.buf = append(w.buf, crcBuf[:]...)
	return h
}

func encodeHandle(buf []byte, h handle) []byte {
	buf = putVarint(buf, h.Offset)
	buf = putVarint(buf, h.Size)
	return buf
}

// buildTable assembles a minimal, well-formed .ldb file containing a single
// data block with dataEntries (raw internal keys, already ordered), and an
// empty meta-index block.
func buildTable(t *testing.T, dataEntries [][2][]byte) string {
	var w blockWriter

	dataBlock := buildBlock(dataEntries)
	dataHandle := w.appendBlock(dataBlock)

	var dataHandleBuf []byte
	dataHandleBuf = encodeHandle(dataHandleBuf, dataHandle)
	indexBlock := buildBlock([][2][]byte{{[]byte("\xff\xff\xff\xff"), dataHandleBuf}})
	indexHandle := w.appendBlock(indexBlock)

	metaBlock := buildBlock(nil)
	metaHandle := w.appendBlock(metaBlock)

	var footer []byte
	footer = encodeHandle(footer, metaHandle)
	footer = encodeHandle(footer, indexHandle)
	for len(footer) < footerLen-8 {
		footer = append(footer, 0)
	}
	var magicBuf [8]byte
	binary.LittleEndian.PutUint64(magicBuf[:], magic)
	footer = append(footer, magicBuf[:]...)

	w.buf = append(w.buf, footer...)

	path := filepath.Join(t.TempDir(), "000006.ldb")
	require.NoError(t, os.WriteFile(path, w.buf, 0o644))
	return path
}

func TestTableBasic(t *testing.T) {
	entries := [][2][]byte{
		{makeInternalKey("alpha", 2, kindDeletion), []byte("")},
		{makeInternalKey("alpha", 1, kindValue), []byte("1")},
		{makeInternalKey("beta", 1, kindValue), []byte("2")},
	}
	path := buildTable(t, entries)

	table, err := Open(path, Options{})
	require.NoError(t, err)
	require.Equal(t, []byte("2"), table.Entries["beta"])
	require.Equal(t, []byte(""), table.DeletedEntries["alpha"])
	require.Equal(t, []byte("1"), table.Entries["alpha"], "table-level maps are not yet purged; that's the snapshot's job")
}

func TestTableBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.ldb")
	require.NoError(t, os.WriteFile(path, make([]byte, footerLen), 0o644))

	_, err := Open(path, Options{})
	require.Error(t, err)
}

func TestTableBlockTooLarge(t *testing.T) {
	entries := [][2][]byte{{makeInternalKey("alpha", 1, kindValue), []byte("1")}}
	path := buildTable(t, entries)

	_, err := Open(path, Options{MaxBlockSize: 1})
	require.Error(t, err)
}

func TestTableCorruptChecksum(t *testing.T) {
	entries := [][2][]byte{{makeInternalKey("alpha", 1, kindValue), []byte("1")}}
	path := buildTable(t, entries)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[0] ^= 0xff // corrupt the first data block byte without fixing its CRC
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = Open(path, Options{})
	require.Error(t, err)
}
