// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package idb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePrefixRoundTrip(t *testing.T) {
	prefix := EncodePrefix(1, 2, 1)
	require.Equal(t, []byte{0x00, 0x01, 0x02, 0x01}, prefix)

	db, store, index, n, err := DecodePrefix(prefix)
	require.NoError(t, err)
	require.Equal(t, uint64(1), db)
	require.Equal(t, uint64(2), store)
	require.Equal(t, uint64(1), index)
	require.Equal(t, len(prefix), n)
}

func TestEncodeDecodePrefixLargeIDs(t *testing.T) {
	prefix := EncodePrefix(300, 70000, 3)
	db, store, index, _, err := DecodePrefix(prefix)
	require.NoError(t, err)
	require.Equal(t, uint64(300), db)
	require.Equal(t, uint64(70000), store)
	require.Equal(t, uint64(3), index)
}

func TestDecodeKeyNumber(t *testing.T) {
	raw := []byte{keyTagNumber, 0, 0, 0, 0, 0, 0, 0x14, 0x40} // 5.0 little-endian
	k, err := DecodeKey(raw)
	require.NoError(t, err)
	require.Equal(t, KeyNumber, k.Kind)
	require.Equal(t, 5.0, k.Number)
}

func TestDecodeKeyString(t *testing.T) {
	var raw []byte
	raw = append(raw, keyTagString)
	raw = append(raw, 2) // char count, fits in one varint byte
	raw = append(raw, 0x00, 'h', 0x00, 'i')
	k, err := DecodeKey(raw)
	require.NoError(t, err)
	require.Equal(t, KeyString, k.Kind)
	require.Equal(t, "hi", k.String)
}

func TestDecodeKeyArray(t *testing.T) {
	var raw []byte
	raw = append(raw, keyTagArray, 2)
	raw = append(raw, keyTagNumber, 0, 0, 0, 0, 0, 0, 0xf0, 0x3f) // 1.0
	raw = append(raw, keyTagNumber, 0, 0, 0, 0, 0, 0, 0, 0x40)    // 2.0
	k, err := DecodeKey(raw)
	require.NoError(t, err)
	require.Equal(t, KeyArray, k.Kind)
	require.Len(t, k.Array, 2)
	require.Equal(t, 1.0, k.Array[0].Number)
	require.Equal(t, 2.0, k.Array[1].Number)
}

func TestDecodeKeyReservedTagRejected(t *testing.T) {
	_, err := DecodeKey([]byte{keyTagNull})
	require.Error(t, err)
	_, err = DecodeKey([]byte{keyTagDate})
	require.Error(t, err)
}

func TestDecodeKeyTrailingBytes(t *testing.T) {
	raw := []byte{keyTagNumber, 0, 0, 0, 0, 0, 0, 0, 0x3f, 0xff}
	_, err := DecodeKey(raw)
	require.Error(t, err)
}
