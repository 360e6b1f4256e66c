// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package binutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeVarint(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

func TestVarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 1 << 20, math.MaxUint32, math.MaxUint64}
	for _, v := range cases {
		enc := encodeVarint(v)
		require.LessOrEqual(t, len(enc), 10)
		got, n, err := ReadVarint64(enc)
		require.NoError(t, err)
		require.Equal(t, len(enc), n)
		require.Equal(t, v, got)
	}
}

func TestVarintTruncated(t *testing.T) {
	// A byte with the continuation bit set but nothing following.
	_, _, err := ReadVarint32([]byte{0x80})
	require.Error(t, err)
}

func TestSint32RoundTrip(t *testing.T) {
	cases := []int32{0, 1, -1, 2, -2, math.MaxInt32, math.MinInt32, 12345, -12345}
	for _, v := range cases {
		// zigzag-encode manually, mirroring the spec's (n << 1) ^ (n >> 31)
		zz := (uint32(v) << 1) ^ uint32(v>>31)
		enc := encodeVarint(uint64(zz))
		got, n, err := ReadSint32(enc)
		require.NoError(t, err)
		require.Equal(t, len(enc), n)
		require.Equal(t, v, got)
	}
}

func TestReadExact(t *testing.T) {
	got, err := ReadExact([]byte{1, 2, 3, 4}, 3)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, got)

	_, err = ReadExact([]byte{1, 2}, 3)
	require.Error(t, err)
}

func TestIntToCompactLE(t *testing.T) {
	cases := []struct {
		v      uint64
		length int
	}{
		{0, 1},
		{1, 1},
		{255, 1},
		{256, 2},
		{1 << 16, 3},
		{1 << 55, 7},
		{1 << 56, 8},
		{math.MaxUint64, 8},
	}
	for _, c := range cases {
		enc := IntToCompactLE(c.v)
		require.Equal(t, c.length, len(enc), "value %d", c.v)
		got, err := CompactLEToInt(enc)
		require.NoError(t, err)
		require.Equal(t, c.v, got)
	}
}
