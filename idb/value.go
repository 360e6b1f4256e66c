// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package idb

import (
	"unicode/utf16"

	"github.com/cockroachdb/errors"

	"github.com/eli-fin/go-idbreader/internal/base"
	"github.com/eli-fin/go-idbreader/internal/binutil"
)

// Value body tags, ASCII bytes per the V8 structured-clone grammar.
const (
	tagPadding      = 0x00
	tagUndefined    = '_'
	tagNull         = '0'
	tagTrue         = 'T'
	tagFalse        = 'F'
	tagInt32        = 'I'
	tagDouble       = 'N'
	tagLatin1String = '"'
	tagUTF16String  = 'c'
	tagObjectStart  = 'o'
	tagObjectEnd    = '{'
	tagSparseStart  = 'a'
	tagSparseEnd    = '@'
	tagDenseStart   = 'A'
	tagDenseEnd     = '$'
)

// wrap header / framing bytes. minWrapVersion is the minimum wrap-version
// byte this reader accepts; anything lower is NotAV8Value.
const (
	wrapByte       = 0xff
	blobTag        = 0x01
	minWrapVersion = 0x11
)

// ValueKind discriminates the variant held by a Value.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueBool
	ValueInt
	ValueDouble
	ValueString
	ValueArray
	ValueObject
	ValueBlob
)

// ObjectEntry is one key/value pair of a decoded Object, in insertion
// order.
type ObjectEntry struct {
	Key   Value
	Value Value
}

// Value is a decoded V8 structured-clone value.
type Value struct {
	Kind    ValueKind
	Bool    bool
	Int     int32
	Double  float64
	String  string
	Array   []Value
	Object  []ObjectEntry
}

// DecodeValue parses a complete LevelDB-stored IndexedDB value: the
// db_version/wrap framing, then the structured-clone body.
func DecodeValue(src []byte) (Value, error) {
	pos := 0
	_, n, err := binutil.ReadVarint64(src[pos:])
	if err != nil {
		return Value{}, errors.Wrap(err, "idb: reading db_version")
	}
	pos += n

	hdr, err := binutil.ReadExact(src[pos:], 2)
	if err != nil {
		return Value{}, errors.Wrap(err, "idb: reading wrap header")
	}
	if hdr[0] != wrapByte || hdr[1] < minWrapVersion {
		return Value{}, errors.Wrapf(base.ErrNotAV8Value, "wrap header %#x %#x", hdr[0], hdr[1])
	}
	pos += 2

	tagByte, err := binutil.ReadExact(src[pos:], 1)
	if err != nil {
		return Value{}, errors.Wrap(err, "idb: reading value wrap tag")
	}
	pos++

	switch tagByte[0] {
	case blobTag:
		return Value{Kind: ValueBlob}, nil
	case wrapByte:
		// serializer-version byte: recorded nowhere since this reader does
		// not branch on serializer version, but still consumed.
		if _, err := binutil.ReadExact(src[pos:], 1); err != nil {
			return Value{}, errors.Wrap(err, "idb: reading serializer version byte")
		}
		pos++
	default:
		return Value{}, errors.Wrapf(base.ErrInvalidWrapTag, "wrap tag %#x", tagByte[0])
	}

	item, n, err := decodeItem(src[pos:])
	if err != nil {
		return Value{}, err
	}
	pos += n
	if item.isEnd {
		return Value{}, errors.Wrap(base.ErrUnknownValueTag, "idb: top-level value is an end marker")
	}
	if pos != len(src) {
		return Value{}, errors.Wrapf(base.ErrTrailingBytes, "%d bytes remain after the value body", len(src)-pos)
	}
	return item.value, nil
}

// decodedItem is either an ordinary Value or a container end marker; see
// the design notes on distinguishing the two without relying on dynamic
// typing.
type decodedItem struct {
	isEnd bool
	count uint64
	value Value
}

func decodeItem(src []byte) (decodedItem, int, error) {
	pos := 0
	for pos < len(src) && src[pos] == tagPadding {
		pos++
	}
	tagBuf, err := binutil.ReadExact(src[pos:], 1)
	if err != nil {
		return decodedItem{}, 0, errors.Wrap(err, "idb: reading value tag")
	}
	pos++
	tag := tagBuf[0]

	switch tag {
	case tagUndefined, tagNull:
		return decodedItem{value: Value{Kind: ValueNull}}, pos, nil

	case tagTrue:
		return decodedItem{value: Value{Kind: ValueBool, Bool: true}}, pos, nil

	case tagFalse:
		return decodedItem{value: Value{Kind: ValueBool, Bool: false}}, pos, nil

	case tagInt32:
		v, n, err := binutil.ReadSint32(src[pos:])
		if err != nil {
			return decodedItem{}, 0, errors.Wrap(err, "idb: reading int32")
		}
		pos += n
		return decodedItem{value: Value{Kind: ValueInt, Int: v}}, pos, nil

	case tagDouble:
		raw, err := binutil.ReadExact(src[pos:], 8)
		if err != nil {
			return decodedItem{}, 0, errors.Wrap(err, "idb: reading double")
		}
		pos += 8
		return decodedItem{value: Value{Kind: ValueDouble, Double: decodeFloat64LE(raw)}}, pos, nil

	case tagLatin1String:
		n32, n, err := binutil.ReadVarint32(src[pos:])
		if err != nil {
			return decodedItem{}, 0, errors.Wrap(err, "idb: reading latin1 string length")
		}
		pos += n
		raw, err := binutil.ReadExact(src[pos:], int(n32))
		if err != nil {
			return decodedItem{}, 0, errors.Wrap(err, "idb: reading latin1 string body")
		}
		pos += int(n32)
		return decodedItem{value: Value{Kind: ValueString, String: decodeLatin1(raw)}}, pos, nil

	case tagUTF16String:
		byteLen, n, err := binutil.ReadVarint64(src[pos:])
		if err != nil {
			return decodedItem{}, 0, errors.Wrap(err, "idb: reading utf16 string length")
		}
		pos += n
		raw, err := binutil.ReadExact(src[pos:], int(byteLen))
		if err != nil {
			return decodedItem{}, 0, errors.Wrap(err, "idb: reading utf16 string body")
		}
		pos += int(byteLen)
		s, err := decodeUTF16LE(raw)
		if err != nil {
			return decodedItem{}, 0, errors.Wrap(err, "idb: decoding utf16 string")
		}
		return decodedItem{value: Value{Kind: ValueString, String: s}}, pos, nil

	case tagObjectEnd:
		count, n, err := binutil.ReadVarint64(src[pos:])
		if err != nil {
			return decodedItem{}, 0, errors.Wrap(err, "idb: reading object end count")
		}
		pos += n
		return decodedItem{isEnd: true, count: count}, pos, nil

	case tagSparseEnd:
		count, n, err := binutil.ReadVarint64(src[pos:])
		if err != nil {
			return decodedItem{}, 0, errors.Wrap(err, "idb: reading sparse array end count")
		}
		pos += n
		return decodedItem{isEnd: true, count: count}, pos, nil

	case tagDenseEnd:
		count, n, err := binutil.ReadVarint64(src[pos:])
		if err != nil {
			return decodedItem{}, 0, errors.Wrap(err, "idb: reading dense array end count")
		}
		pos += n
		return decodedItem{isEnd: true, count: count}, pos, nil

	case tagObjectStart:
		v, n, err := decodeObjectBody(src[pos:])
		if err != nil {
			return decodedItem{}, 0, err
		}
		pos += n
		return decodedItem{value: v}, pos, nil

	case tagSparseStart:
		v, n, err := decodeSparseArrayBody(src[pos:])
		if err != nil {
			return decodedItem{}, 0, err
		}
		pos += n
		return decodedItem{value: v}, pos, nil

	case tagDenseStart:
		v, n, err := decodeDenseArrayBody(src[pos:])
		if err != nil {
			return decodedItem{}, 0, err
		}
		pos += n
		return decodedItem{value: v}, pos, nil

	default:
		return decodedItem{}, 0, errors.Wrapf(base.ErrUnknownValueTag, "value tag %#x", tag)
	}
}

// decodeObjectBody reads key/value pairs until an Object end marker,
// preserving insertion order. Duplicate keys are rejected: the target
// application indexes objects positionally, so a silently-overwritten key
// would desynchronize that indexing.
func decodeObjectBody(src []byte) (Value, int, error) {
	pos := 0
	var entries []ObjectEntry
	seen := make(map[string]bool)

	for {
		keyItem, n, err := decodeItem(src[pos:])
		if err != nil {
			return Value{}, 0, errors.Wrap(err, "idb: reading object entry key")
		}
		pos += n
		if keyItem.isEnd {
			if uint64(len(entries)) != keyItem.count {
				return Value{}, 0, errors.Wrapf(base.ErrCountMismatch, "object declares %d entries, decoded %d", keyItem.count, len(entries))
			}
			return Value{Kind: ValueObject, Object: entries}, pos, nil
		}
		if keyItem.value.Kind != ValueString {
			return Value{}, 0, errors.Wrap(base.ErrUnknownValueTag, "idb: object key is not a string")
		}

		valItem, n, err := decodeItem(src[pos:])
		if err != nil {
			return Value{}, 0, errors.Wrap(err, "idb: reading object entry value")
		}
		pos += n
		if valItem.isEnd {
			return Value{}, 0, errors.Wrap(base.ErrUnknownValueTag, "idb: object value position held an end marker")
		}

		if seen[keyItem.value.String] {
			return Value{}, 0, errors.Wrapf(base.ErrCountMismatch, "duplicate object key %q", keyItem.value.String)
		}
		seen[keyItem.value.String] = true
		entries = append(entries, ObjectEntry{Key: keyItem.value, Value: valItem.value})
	}
}

// decodeSparseArrayBody reads a declared length, then key/value pairs
// (keys may be strings or integers, since a sparse array may carry named
// properties alongside indexed elements) until a sparse-array end marker.
func decodeSparseArrayBody(src []byte) (Value, int, error) {
	pos := 0
	declaredLen, n, err := binutil.ReadVarint32(src[pos:])
	if err != nil {
		return Value{}, 0, errors.Wrap(err, "idb: reading sparse array declared length")
	}
	pos += n

	var entries []ObjectEntry
	for {
		keyItem, n, err := decodeItem(src[pos:])
		if err != nil {
			return Value{}, 0, errors.Wrap(err, "idb: reading sparse array key")
		}
		pos += n
		if keyItem.isEnd {
			trailerLen, n, err := binutil.ReadVarint32(src[pos:])
			if err != nil {
				return Value{}, 0, errors.Wrap(err, "idb: reading sparse array trailer length")
			}
			pos += n
			if trailerLen != declaredLen {
				return Value{}, 0, errors.Wrapf(base.ErrCountMismatch, "sparse array declared length %d, trailer says %d", declaredLen, trailerLen)
			}
			if uint64(len(entries)) != keyItem.count {
				return Value{}, 0, errors.Wrapf(base.ErrCountMismatch, "sparse array declares %d pairs, decoded %d", keyItem.count, len(entries))
			}
			return Value{Kind: ValueArray, Array: sparseEntriesToArray(entries, int(declaredLen))}, pos, nil
		}

		valItem, n, err := decodeItem(src[pos:])
		if err != nil {
			return Value{}, 0, errors.Wrap(err, "idb: reading sparse array value")
		}
		pos += n
		if valItem.isEnd {
			return Value{}, 0, errors.Wrap(base.ErrUnknownValueTag, "idb: sparse array value position held an end marker")
		}
		entries = append(entries, ObjectEntry{Key: keyItem.value, Value: valItem.value})
	}
}

// sparseEntriesToArray materializes a sparse array's (index, value) pairs
// into a dense Go slice of the declared length, leaving unset slots as
// Null, since this reader has no "hole" representation of its own.
func sparseEntriesToArray(entries []ObjectEntry, declaredLen int) []Value {
	out := make([]Value, declaredLen)
	for _, e := range entries {
		if e.Key.Kind == ValueInt && int(e.Key.Int) >= 0 && int(e.Key.Int) < declaredLen {
			out[e.Key.Int] = e.Value
		}
	}
	return out
}

// decodeDenseArrayBody reads n dense elements, then any trailing named
// properties identically to a sparse array, until a dense-array end
// marker.
func decodeDenseArrayBody(src []byte) (Value, int, error) {
	pos := 0
	n32, n, err := binutil.ReadVarint32(src[pos:])
	if err != nil {
		return Value{}, 0, errors.Wrap(err, "idb: reading dense array length")
	}
	pos += n

	elements := make([]Value, 0, n32)
	for i := uint32(0); i < n32; i++ {
		item, n, err := decodeItem(src[pos:])
		if err != nil {
			return Value{}, 0, errors.Wrapf(err, "idb: reading dense array element %d", errors.Safe(i))
		}
		pos += n
		if item.isEnd {
			return Value{}, 0, errors.Wrap(base.ErrUnknownValueTag, "idb: dense array element position held an end marker")
		}
		elements = append(elements, item.value)
	}

	for {
		keyItem, n, err := decodeItem(src[pos:])
		if err != nil {
			return Value{}, 0, errors.Wrap(err, "idb: reading dense array trailing key")
		}
		pos += n
		if keyItem.isEnd {
			trailerLen, n, err := binutil.ReadVarint32(src[pos:])
			if err != nil {
				return Value{}, 0, errors.Wrap(err, "idb: reading dense array trailer length")
			}
			pos += n
			if trailerLen != n32 {
				return Value{}, 0, errors.Wrapf(base.ErrCountMismatch, "dense array declared %d elements, trailer says %d", n32, trailerLen)
			}
			return Value{Kind: ValueArray, Array: elements}, pos, nil
		}

		valItem, n, err := decodeItem(src[pos:])
		if err != nil {
			return Value{}, 0, errors.Wrap(err, "idb: reading dense array trailing value")
		}
		pos += n
		if valItem.isEnd {
			return Value{}, 0, errors.Wrap(base.ErrUnknownValueTag, "idb: dense array trailing value position held an end marker")
		}
		_ = keyItem // trailing named properties are consumed for framing fidelity but not surfaced
	}
}

// decodeLatin1 decodes raw as Latin-1, replacing any byte above 0x7f with
// the Unicode replacement character since the source only ever emits
// ASCII into this tag.
func decodeLatin1(raw []byte) string {
	runes := make([]rune, len(raw))
	for i, b := range raw {
		if b > 0x7f {
			runes[i] = '�'
		} else {
			runes[i] = rune(b)
		}
	}
	return string(runes)
}

func decodeUTF16LE(raw []byte) (string, error) {
	if len(raw)%2 != 0 {
		return "", errors.Newf("idb: UTF-16 string has odd byte length %d", len(raw))
	}
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}
	return string(utf16.Decode(units)), nil
}
