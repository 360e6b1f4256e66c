// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package wal

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eli-fin/go-idbreader/internal/crc"
	"github.com/eli-fin/go-idbreader/internal/record"
)

type batchBuilder struct {
	buf   []byte
	count uint32
}

func newBatch(sequence uint64) *batchBuilder {
	b := &batchBuilder{}
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], sequence)
	b.buf = append(b.buf, seqBuf[:]...)
	b.buf = append(b.buf, 0, 0, 0, 0) // count placeholder, patched in bytes()
	return b
}

func putVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

func (b *batchBuilder) put(key, value string) *batchBuilder {
	b.buf = append(b.buf, kindValue)
	b.buf = putVarint(b.buf, uint64(len(key)))
	b.buf = append(b.buf, key...)
	b.buf = putVarint(b.buf, uint64(len(value)))
	b.buf = append(b.buf, value...)
	b.count++
	return b
}

func (b *batchBuilder) delete(key string) *batchBuilder {
	b.buf = append(b.buf, kindDeletion)
	b.buf = putVarint(b.buf, uint64(len(key)))
	b.buf = append(b.buf, key...)
	b.count++
	return b
}

func (b *batchBuilder) bytes() []byte {
	binary.LittleEndian.PutUint32(b.buf[8:12], b.count)
	return b.buf
}

func writeAsChunks(t *testing.T, records ...[]byte) []byte {
	t.Helper()
	var out bytes.Buffer
	for _, rec := range records {
		require.NoError(t, writeFullChunk(&out, rec))
	}
	return out.Bytes()
}

// writeFullChunk wraps rec in a single FULL-type chunk; it is a minimal
// stand-in for the RecordLog writer this reader-only module doesn't need.
func writeFullChunk(w *bytes.Buffer, rec []byte) error {
	const fullChunkType = 1
	c := crc.Update(crc.Checksum([]byte{fullChunkType}), rec)

	var header [7]byte
	binary.LittleEndian.PutUint32(header[0:4], crc.Mask(c))
	binary.LittleEndian.PutUint16(header[4:6], uint16(len(rec)))
	header[6] = fullChunkType
	w.Write(header[:])
	w.Write(rec)
	return nil
}

func TestDecodeLiveAndTombstone(t *testing.T) {
	b := newBatch(1).put("alpha", "1").put("beta", "2").delete("alpha").bytes()

	data := writeAsChunks(t, b)
	records, err := record.ReadAll(bytes.NewReader(data))
	require.NoError(t, err)

	s, err := Decode(records)
	require.NoError(t, err)
	require.Equal(t, []byte("2"), s.Live["beta"])
	require.True(t, s.Tombstones["alpha"])
	_, stillLive := s.Live["alpha"]
	require.False(t, stillLive)
}

func TestDecodeMultipleBatchesLastWriterWins(t *testing.T) {
	b1 := newBatch(1).put("alpha", "1").bytes()
	b2 := newBatch(2).put("alpha", "2").bytes()

	data := writeAsChunks(t, b1, b2)
	records, err := record.ReadAll(bytes.NewReader(data))
	require.NoError(t, err)

	s, err := Decode(records)
	require.NoError(t, err)
	require.Equal(t, []byte("2"), s.Live["alpha"])
}

func TestDecodeUnknownKind(t *testing.T) {
	b := newBatch(1)
	b.buf = append(b.buf, 0x7) // bogus kind
	b.buf = putVarint(b.buf, 1)
	b.buf = append(b.buf, 'x')
	b.count++
	rec := b.bytes()

	_, err := Decode([][]byte{rec})
	require.Error(t, err)
}

func TestDecodeCountMismatch(t *testing.T) {
	b := newBatch(1).put("alpha", "1")
	b.count++ // claim one more op than is actually encoded
	rec := b.bytes()

	_, err := Decode([][]byte{rec})
	require.Error(t, err)
}
