// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package idb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// withFraming prepends a single-byte db_version(0) to a wrap+body sequence,
// since DecodeValue's contract always expects that leading varint64.
func withFraming(rest ...byte) []byte {
	return append([]byte{0x00}, rest...)
}

func TestDecodeValueObject(t *testing.T) {
	raw := withFraming(0xff, 0x11, 0xff, 0x0d, 0x6f, 0x22, 0x01, 0x61, 0x49, 0x04, 0x7b, 0x01)

	v, err := DecodeValue(raw)
	require.NoError(t, err)
	require.Equal(t, ValueObject, v.Kind)
	require.Len(t, v.Object, 1)
	require.Equal(t, "a", v.Object[0].Key.String)
	require.Equal(t, ValueInt, v.Object[0].Value.Kind)
	require.EqualValues(t, 2, v.Object[0].Value.Int)
}

func TestDecodeValueDenseArray(t *testing.T) {
	raw := withFraming(0xff, 0x11, 0xff, 0x0d, 0x41, 0x02, 0x49, 0x02, 0x49, 0x04, 0x24, 0x00, 0x02)

	v, err := DecodeValue(raw)
	require.NoError(t, err)
	require.Equal(t, ValueArray, v.Kind)
	require.Len(t, v.Array, 2)
	require.EqualValues(t, 1, v.Array[0].Int)
	require.EqualValues(t, 2, v.Array[1].Int)
}

func TestDecodeValueBlob(t *testing.T) {
	raw := withFraming(0xff, 0x11, 0x01)

	v, err := DecodeValue(raw)
	require.NoError(t, err)
	require.Equal(t, ValueBlob, v.Kind)
}

func TestDecodeValueBadWrapHeader(t *testing.T) {
	raw := withFraming(0xaa, 0x11, 0x6f)
	_, err := DecodeValue(raw)
	require.Error(t, err)
}

func TestDecodeValueWrapVersionTooLow(t *testing.T) {
	for _, v := range []byte{0x0f, 0x10} {
		raw := withFraming(0xff, v, 0x6f)
		_, err := DecodeValue(raw)
		require.Error(t, err)
	}
}

func TestDecodeValueInvalidWrapTag(t *testing.T) {
	raw := withFraming(0xff, 0x11, 0x99)
	_, err := DecodeValue(raw)
	require.Error(t, err)
}

func TestDecodeValueTrailingBytes(t *testing.T) {
	raw := withFraming(0xff, 0x11, 0xff, 0x0d, '_', 0xff)
	_, err := DecodeValue(raw)
	require.Error(t, err)
}

func TestDecodeValueDuplicateObjectKey(t *testing.T) {
	var body []byte
	body = append(body, 'o')
	body = append(body, '"', 0x01, 'a', 'I', 0x02) // "a": 1
	body = append(body, '"', 0x01, 'a', 'I', 0x04) // "a": 2 (duplicate key)
	body = append(body, '{', 0x02)

	raw := withFraming(append([]byte{0xff, 0x11, 0xff, 0x0d}, body...)...)
	_, err := DecodeValue(raw)
	require.Error(t, err)
}
