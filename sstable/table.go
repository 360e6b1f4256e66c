// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package sstable decodes a LevelDB sorted-string table file (.ldb):
// footer, meta-index block, index block, and every data block it
// references. It is read-only; there is no writer, no iterator, and no
// compaction here, since this reader only ever looks at a closed, static
// snapshot of a table file (see the package-level Non-goals in the root
// leveldb package's documentation).
package sstable // import "github.com/eli-fin/go-idbreader/sstable"

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/eli-fin/go-idbreader/internal/base"
)

// magic is the trailing 8 bytes of every LevelDB table file footer.
const magic = 0xdb4775248b80fb57

const footerLen = 48

// kind is the low byte of an internal key's 8-byte trailer.
const (
	kindDeletion = 0x0
	kindValue    = 0x1
)

// Options configures how a table file is read.
type Options struct {
	// MaxBlockSize bounds the allocation made for any single block's
	// (offset, size) handle, guarding against a corrupt handle claiming an
	// implausibly large block. Zero means the default of 64 MiB.
	MaxBlockSize int
}

func (o Options) withDefaults() Options {
	if o.MaxBlockSize <= 0 {
		o.MaxBlockSize = 64 * 1024 * 1024
	}
	return o
}

// Table is the fully-decoded, in-memory content of one .ldb file.
type Table struct {
	// Entries holds every live (kind=VALUE) user-key/value pair found in
	// the table's data blocks.
	Entries map[string][]byte
	// DeletedEntries holds every tombstoned (kind=DELETION) user-key found
	// in the table's data blocks, keyed with whatever value bytes
	// accompanied the tombstone (typically empty, but preserved verbatim).
	DeletedEntries map[string][]byte
	// MetaEntries holds every (user-key, value) pair found in the
	// meta-index block, regardless of the kind encoded in its trailer:
	// these are LevelDB's own bookkeeping entries, not user data.
	MetaEntries map[string][]byte
}

// Open decodes the table file at path in full.
func Open(path string, opts Options) (*Table, error) {
	opts = opts.withDefaults()

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "sstable: opening %s", path)
	}
	defer f.Close()

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errors.Wrap(err, "sstable: seeking to end")
	}
	if size < footerLen {
		return nil, base.CorruptionErrorf(base.ErrNotATable, "%s is only %d bytes, shorter than the footer", path, size)
	}

	footerBuf := make([]byte, footerLen)
	if _, err := f.ReadAt(footerBuf, size-footerLen); err != nil {
		return nil, errors.Wrap(err, "sstable: reading footer")
	}

	gotMagic := binary.LittleEndian.Uint64(footerBuf[footerLen-8:])
	if gotMagic != magic {
		return nil, base.CorruptionErrorf(base.ErrNotATable, "%s has magic 0x%x, want 0x%x", path, gotMagic, magic)
	}

	metaHandle, n, err := decodeHandle(footerBuf)
	if err != nil {
		return nil, errors.Wrap(err, "sstable: decoding metaindex handle")
	}
	indexHandle, _, err := decodeHandle(footerBuf[n:])
	if err != nil {
		return nil, errors.Wrap(err, "sstable: decoding index handle")
	}

	t := &Table{
		Entries:        make(map[string][]byte),
		DeletedEntries: make(map[string][]byte),
		MetaEntries:    make(map[string][]byte),
	}

	metaPayload, err := readBlock(f, metaHandle, opts.MaxBlockSize)
	if err != nil {
		return nil, errors.Wrap(err, "sstable: reading meta-index block")
	}
	metaEntries, err := decodeBlockEntries(metaPayload)
	if err != nil {
		return nil, errors.Wrap(err, "sstable: decoding meta-index block")
	}
	for _, e := range metaEntries {
		userKey, _, err := splitInternalKey(e.Key)
		if err != nil {
			return nil, errors.Wrap(err, "sstable: meta-index entry")
		}
		t.MetaEntries[string(userKey)] = e.Value
	}

	indexPayload, err := readBlock(f, indexHandle, opts.MaxBlockSize)
	if err != nil {
		return nil, errors.Wrap(err, "sstable: reading index block")
	}
	indexEntries, err := decodeBlockEntries(indexPayload)
	if err != nil {
		return nil, errors.Wrap(err, "sstable: decoding index block")
	}

	for _, ie := range indexEntries {
		dataHandle, _, err := decodeHandle(ie.Value)
		if err != nil {
			return nil, errors.Wrap(err, "sstable: decoding data block handle from index")
		}
		dataPayload, err := readBlock(f, dataHandle, opts.MaxBlockSize)
		if err != nil {
			return nil, errors.Wrapf(err, "sstable: reading data block at offset %d", dataHandle.Offset)
		}
		dataEntries, err := decodeBlockEntries(dataPayload)
		if err != nil {
			return nil, errors.Wrapf(err, "sstable: decoding data block at offset %d", dataHandle.Offset)
		}
		for _, de := range dataEntries {
			userKey, kind, err := splitInternalKey(de.Key)
			if err != nil {
				return nil, errors.Wrap(err, "sstable: data block entry")
			}
			switch kind {
			case kindValue:
				t.Entries[string(userKey)] = de.Value
			case kindDeletion:
				t.DeletedEntries[string(userKey)] = de.Value
			default:
				return nil, base.CorruptionErrorf(base.ErrUnknownOpKind, "data block entry kind %d", kind)
			}
		}
	}

	return t, nil
}

// splitInternalKey separates an internal key's user-key prefix from its
// 8-byte trailer, returning the trailer's low byte (the kind).
func splitInternalKey(key []byte) (userKey []byte, kind byte, err error) {
	if len(key) < 8 {
		return nil, 0, base.CorruptionErrorf(base.ErrInvariantViolation, "internal key shorter than 8-byte trailer (%d bytes)", len(key))
	}
	return key[:len(key)-8], key[len(key)-8], nil
}
