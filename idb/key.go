// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package idb interprets the LevelDB key/value bytes produced by
// Chromium's IndexedDB backing store: the (database, object store,
// index) key prefix, the recursive user-key tail, and the V8 structured
// clone grammar used for every stored value. None of this package writes
// or mutates a database; it only decodes a leveldb.Snapshot already in
// memory.
package idb // import "github.com/eli-fin/go-idbreader/idb"

import (
	"math"
	"unicode/utf16"

	"github.com/cockroachdb/errors"

	"github.com/eli-fin/go-idbreader/internal/base"
	"github.com/eli-fin/go-idbreader/internal/binutil"
)

// Key-tail tags, per the IndexedDB key encoding.
const (
	keyTagNull   = 0
	keyTagString = 1
	keyTagDate   = 2
	keyTagNumber = 3
	keyTagArray  = 4
	keyTagBinary = 6
)

// KeyKind discriminates the variant held by a Key.
type KeyKind int

const (
	KeyNumber KeyKind = iota
	KeyString
	KeyBinary
	KeyArray
)

// Key is a decoded IndexedDB user-key tail.
type Key struct {
	Kind   KeyKind
	Number float64
	String string
	Binary []byte
	Array  []Key
}

// EncodePrefix builds the (db, store, index) key prefix: a length-nibble
// header byte followed by each id's compact little-endian encoding.
func EncodePrefix(db, store, index uint64) []byte {
	dbBytes := binutil.IntToCompactLE(db)
	storeBytes := binutil.IntToCompactLE(store)
	indexBytes := binutil.IntToCompactLE(index)

	header := byte((len(dbBytes)-1)<<5 | (len(storeBytes)-1)<<2 | (len(indexBytes) - 1))

	out := make([]byte, 0, 1+len(dbBytes)+len(storeBytes)+len(indexBytes))
	out = append(out, header)
	out = append(out, dbBytes...)
	out = append(out, storeBytes...)
	out = append(out, indexBytes...)
	return out
}

// PrefixLengths decodes the header byte into the byte-length of each of the
// three packed ids, correcting the original source's bit-extraction bug
// (see the design notes): each field is shifted down to bit 0 and then
// masked to its own 3 (or 2) bits, so no field picks up its neighbours'
// bits.
func PrefixLengths(header byte) (dbLen, storeLen, indexLen int) {
	dbLen = int((header>>5)&0x7) + 1
	storeLen = int((header>>2)&0x7) + 1
	indexLen = int(header&0x3) + 1
	return
}

// DecodePrefix reads a key prefix from the front of src, returning the
// decoded (db, store, index) triple and the number of bytes consumed.
func DecodePrefix(src []byte) (db, store, index uint64, consumed int, err error) {
	header, err := binutil.ReadExact(src, 1)
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "idb: reading key prefix header")
	}
	dbLen, storeLen, indexLen := PrefixLengths(header[0])
	pos := 1

	dbBytes, err := binutil.ReadExact(src[pos:], dbLen)
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "idb: reading database id")
	}
	pos += dbLen
	db, err = binutil.CompactLEToInt(dbBytes)
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "idb: decoding database id")
	}

	storeBytes, err := binutil.ReadExact(src[pos:], storeLen)
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "idb: reading store id")
	}
	pos += storeLen
	store, err = binutil.CompactLEToInt(storeBytes)
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "idb: decoding store id")
	}

	indexBytes, err := binutil.ReadExact(src[pos:], indexLen)
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "idb: reading index id")
	}
	pos += indexLen
	index, err = binutil.CompactLEToInt(indexBytes)
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "idb: decoding index id")
	}

	return db, store, index, pos, nil
}

// DecodeKey parses a complete user-key tail, failing with ErrTrailingBytes
// if any input remains afterward.
func DecodeKey(src []byte) (Key, error) {
	k, n, err := decodeKeyTail(src)
	if err != nil {
		return Key{}, err
	}
	if n != len(src) {
		return Key{}, errors.Wrapf(base.ErrTrailingBytes, "%d bytes remain after the key tail", len(src)-n)
	}
	return k, nil
}

func decodeKeyTail(src []byte) (Key, int, error) {
	tagBuf, err := binutil.ReadExact(src, 1)
	if err != nil {
		return Key{}, 0, errors.Wrap(err, "idb: reading key tag")
	}
	pos := 1

	switch tagBuf[0] {
	case keyTagString:
		count, n, err := binutil.ReadVarint64(src[pos:])
		if err != nil {
			return Key{}, 0, errors.Wrap(err, "idb: reading key string length")
		}
		pos += n
		raw, err := binutil.ReadExact(src[pos:], int(count)*2)
		if err != nil {
			return Key{}, 0, errors.Wrap(err, "idb: reading key string body")
		}
		pos += int(count) * 2
		s, err := decodeUTF16BE(raw)
		if err != nil {
			return Key{}, 0, errors.Wrap(err, "idb: decoding key string")
		}
		return Key{Kind: KeyString, String: s}, pos, nil

	case keyTagNumber:
		raw, err := binutil.ReadExact(src[pos:], 8)
		if err != nil {
			return Key{}, 0, errors.Wrap(err, "idb: reading key number")
		}
		pos += 8
		return Key{Kind: KeyNumber, Number: decodeFloat64LE(raw)}, pos, nil

	case keyTagArray:
		n64, n, err := binutil.ReadVarint64(src[pos:])
		if err != nil {
			return Key{}, 0, errors.Wrap(err, "idb: reading key array length")
		}
		pos += n
		elems := make([]Key, 0, n64)
		for i := uint64(0); i < n64; i++ {
			elem, n, err := decodeKeyTail(src[pos:])
			if err != nil {
				return Key{}, 0, errors.Wrapf(err, "idb: reading key array element %d", errors.Safe(i))
			}
			pos += n
			elems = append(elems, elem)
		}
		return Key{Kind: KeyArray, Array: elems}, pos, nil

	case keyTagBinary:
		n64, n, err := binutil.ReadVarint64(src[pos:])
		if err != nil {
			return Key{}, 0, errors.Wrap(err, "idb: reading key binary length")
		}
		pos += n
		b, err := binutil.ReadExact(src[pos:], int(n64))
		if err != nil {
			return Key{}, 0, errors.Wrap(err, "idb: reading key binary body")
		}
		pos += int(n64)
		return Key{Kind: KeyBinary, Binary: append([]byte(nil), b...)}, pos, nil

	case keyTagNull, keyTagDate:
		return Key{}, 0, errors.Wrapf(base.ErrUnknownKeyTag, "key tag %d is reserved", tagBuf[0])

	default:
		return Key{}, 0, errors.Wrapf(base.ErrUnknownKeyTag, "key tag %d", tagBuf[0])
	}
}

func decodeFloat64LE(b []byte) float64 {
	bits := uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
	return math.Float64frombits(bits)
}

// decodeUTF16BE decodes raw (an even-length byte slice) as big-endian
// UTF-16 code units into a Go string.
func decodeUTF16BE(raw []byte) (string, error) {
	if len(raw)%2 != 0 {
		return "", errors.Newf("idb: UTF-16 string has odd byte length %d", len(raw))
	}
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = uint16(raw[2*i])<<8 | uint16(raw[2*i+1])
	}
	return string(utf16.Decode(units)), nil
}
