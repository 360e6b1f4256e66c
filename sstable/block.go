// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"

	"github.com/eli-fin/go-idbreader/internal/base"
	"github.com/eli-fin/go-idbreader/internal/binutil"
	"github.com/eli-fin/go-idbreader/internal/crc"
)

const blockTrailerLen = 1 + 4 // block type (1) + masked crc32c (4)

const (
	noCompression     = 0x0
	snappyCompression  = 0x1
)

// handle is an offset+size pair addressing a block within the table file.
type handle struct {
	Offset uint64
	Size   uint64
}

// decodeHandle reads a handle's two varint64 fields and returns the number
// of bytes consumed.
func decodeHandle(src []byte) (handle, int, error) {
	off, n1, err := binutil.ReadVarint64(src)
	if err != nil {
		return handle{}, 0, errors.Wrap(err, "sstable: decoding block handle offset")
	}
	size, n2, err := binutil.ReadVarint64(src[n1:])
	if err != nil {
		return handle{}, 0, errors.Wrap(err, "sstable: decoding block handle size")
	}
	return handle{Offset: off, Size: size}, n1 + n2, nil
}

// readBlock fetches, checksum-verifies, and decompresses the block
// addressed by h. maxBlockSize bounds the allocation for the declared
// (compressed) payload, guarding against a corrupt or hostile handle
// claiming an enormous block.
func readBlock(r io.ReaderAt, h handle, maxBlockSize int) ([]byte, error) {
	total := h.Size + blockTrailerLen
	if total > uint64(maxBlockSize) {
		return nil, base.CorruptionErrorf(base.ErrBlockTooLarge, "block of %d bytes exceeds the %d byte ceiling", total, maxBlockSize)
	}

	buf := make([]byte, total)
	if _, err := r.ReadAt(buf, int64(h.Offset)); err != nil {
		return nil, base.CorruptionErrorf(base.ErrUnexpectedEOF, "reading block at offset %d: %s", h.Offset, err)
	}

	data := buf[:h.Size]
	blockType := buf[h.Size]
	maskedCRC := binary.LittleEndian.Uint32(buf[h.Size+1:])

	want := crc.Unmask(maskedCRC)
	got := crc.Update(crc.Checksum(data), []byte{blockType})
	if want != got {
		return nil, base.CorruptionErrorf(base.ErrCorruptChecksum, "block checksum mismatch at offset %d", h.Offset)
	}

	switch blockType {
	case noCompression:
		return data, nil
	case snappyCompression:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, errors.Wrap(err, "sstable: snappy decompression failed")
		}
		return out, nil
	default:
		return nil, base.CorruptionErrorf(base.ErrUnknownBlockCompression, "block compression code %d", blockType)
	}
}

// blockEntry is one decoded (key, value) pair from a block, in on-disk
// order.
type blockEntry struct {
	Key   []byte
	Value []byte
}

// decodeBlockEntries walks a decompressed block's key/value entries,
// expanding each key's shared-prefix-compressed encoding against the
// previous key. It validates the restart-point trailer but does not
// interpret the entries themselves (internal-key splitting happens in the
// caller, since index and meta blocks need it too).
func decodeBlockEntries(payload []byte) ([]blockEntry, error) {
	if len(payload) < 4 {
		return nil, base.CorruptionErrorf(base.ErrUnexpectedEOF, "sstable: block shorter than the restart-count trailer")
	}
	numRestarts := binary.LittleEndian.Uint32(payload[len(payload)-4:])
	maxRestarts := uint32((len(payload) - 4) / 4)
	if numRestarts > maxRestarts {
		return nil, base.CorruptionErrorf(base.ErrInvariantViolation, "block declares %d restarts, at most %d fit", numRestarts, maxRestarts)
	}
	restartOffset := len(payload) - 4*(int(numRestarts)+1)
	data := payload[:restartOffset]

	var entries []blockEntry
	var prevKey []byte
	pos := 0
	for pos < len(data) {
		shared, n1, err := binutil.ReadVarint32(data[pos:])
		if err != nil {
			return nil, errors.Wrap(err, "sstable: reading shared-prefix length")
		}
		pos += n1
		nonShared, n2, err := binutil.ReadVarint32(data[pos:])
		if err != nil {
			return nil, errors.Wrap(err, "sstable: reading non-shared key length")
		}
		pos += n2
		valLen, n3, err := binutil.ReadVarint32(data[pos:])
		if err != nil {
			return nil, errors.Wrap(err, "sstable: reading value length")
		}
		pos += n3

		if len(entries) == 0 && shared != 0 {
			return nil, base.CorruptionErrorf(base.ErrInvariantViolation, "sstable: first block entry has a nonzero shared prefix")
		}
		if prevKey == nil && shared != 0 {
			return nil, base.CorruptionErrorf(base.ErrInvariantViolation, "sstable: shared prefix with no previous key")
		}

		keyDelta, err := binutil.ReadExact(data[pos:], int(nonShared))
		if err != nil {
			return nil, errors.Wrap(err, "sstable: reading key delta")
		}
		pos += int(nonShared)
		value, err := binutil.ReadExact(data[pos:], int(valLen))
		if err != nil {
			return nil, errors.Wrap(err, "sstable: reading value")
		}
		pos += int(valLen)

		key := make([]byte, 0, int(shared)+int(nonShared))
		if shared > 0 {
			key = append(key, prevKey[:shared]...)
		}
		key = append(key, keyDelta...)

		// Copy into a non-nil slice so an empty stored value stays distinct
		// from an absent one.
		entries = append(entries, blockEntry{Key: key, Value: append([]byte{}, value...)})
		prevKey = key
	}
	return entries, nil
}
