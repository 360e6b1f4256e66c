// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package wal decodes the batches stored in a LevelDB write-ahead log
// (.log) file: each reassembled record is one write batch, and each batch
// is a sequence of individual put/delete operations. This reader only
// reduces a log to its final live/tombstone state; it never replays
// against a memtable and never rotates or truncates a log (see the
// root leveldb package's Non-goals).
package wal // import "github.com/eli-fin/go-idbreader/wal"

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/eli-fin/go-idbreader/internal/base"
	"github.com/eli-fin/go-idbreader/internal/binutil"
	"github.com/eli-fin/go-idbreader/internal/record"
)

// Operation kinds, matching the low trailer byte of an internal key.
const (
	kindDeletion = 0x0
	kindValue    = 0x1
)

const batchHeaderLen = 8 + 4 // sequence(8 le) + count(4 le)

// Summary is the fully-reduced content of a log file.
type Summary struct {
	// Live holds every key whose last-seen operation in the log was a put,
	// mapped to the value from that put.
	Live map[string][]byte
	// Tombstones holds every key whose last-seen operation in the log was a
	// delete.
	Tombstones map[string]bool
}

// ReadFile decodes every batch in the log stream from r, folding them in
// order so that later operations on a key supersede earlier ones.
func ReadFile(r io.Reader) (*Summary, error) {
	records, err := record.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "wal: reading record stream")
	}
	return Decode(records)
}

// Decode reduces a sequence of already-reassembled batch records into a
// Summary.
func Decode(records [][]byte) (*Summary, error) {
	s := &Summary{
		Live:       make(map[string][]byte),
		Tombstones: make(map[string]bool),
	}

	var declaredCount uint64

	for i, rec := range records {
		n, err := decodeBatch(rec, s)
		if err != nil {
			return nil, errors.Wrapf(err, "wal: decoding batch %d", errors.Safe(i))
		}
		declaredCount += n
	}

	// Each op touches one key and later ops on a key replace earlier ones,
	// so the distinct keys left can be fewer than the declared ops, never
	// more.
	seenCount := uint64(len(s.Live) + len(s.Tombstones))
	if seenCount > declaredCount {
		return nil, errors.Wrapf(base.ErrCountMismatch, "log declares %d total ops, but %d distinct keys remain live or tombstoned", declaredCount, seenCount)
	}

	return s, nil
}

// decodeBatch reads one batch's header and its declared count of
// operations, applying each to s in order, and returns the batch's
// declared operation count.
func decodeBatch(rec []byte, s *Summary) (uint64, error) {
	if len(rec) < batchHeaderLen {
		return 0, errors.Wrapf(base.ErrTruncatedRecord, "batch header needs %d bytes, got %d", batchHeaderLen, len(rec))
	}
	// sequence number (rec[:8]) is not otherwise consumed by this reader.
	count := binary.LittleEndian.Uint32(rec[8:12])

	pos := batchHeaderLen
	var applied uint32
	for applied < count {
		if pos >= len(rec) {
			return 0, errors.Wrapf(base.ErrTruncatedRecord, "batch declares %d ops, only %d applied before running out of bytes", count, applied)
		}
		kind := rec[pos]
		pos++

		keyLen, n, err := binutil.ReadVarint32(rec[pos:])
		if err != nil {
			return 0, errors.Wrap(err, "wal: reading key length")
		}
		pos += n
		key, err := binutil.ReadExact(rec[pos:], int(keyLen))
		if err != nil {
			return 0, errors.Wrap(err, "wal: reading key")
		}
		pos += int(keyLen)

		switch kind {
		case kindValue:
			valLen, n, err := binutil.ReadVarint32(rec[pos:])
			if err != nil {
				return 0, errors.Wrap(err, "wal: reading value length")
			}
			pos += n
			value, err := binutil.ReadExact(rec[pos:], int(valLen))
			if err != nil {
				return 0, errors.Wrap(err, "wal: reading value")
			}
			pos += int(valLen)

			k := string(key)
			s.Live[k] = append([]byte(nil), value...)
			delete(s.Tombstones, k)

		case kindDeletion:
			k := string(key)
			s.Tombstones[k] = true
			delete(s.Live, k)

		default:
			return 0, errors.Wrapf(base.ErrUnknownOpKind, "batch op kind %d", errors.Safe(kind))
		}

		applied++
	}

	return uint64(count), nil
}
