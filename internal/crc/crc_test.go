// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package crc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskInvolution(t *testing.T) {
	cases := []uint32{0, 1, 12345, math.MaxUint32, 0xa282ead8}
	for _, x := range cases {
		require.Equal(t, x, Mask(Unmask(x)), "x=%d", x)
		require.Equal(t, x, Unmask(Mask(x)), "x=%d", x)
	}
}

func TestChecksumUpdate(t *testing.T) {
	data := []byte("hello world")
	full := Checksum(data)

	c := Checksum(data[:5])
	c = Update(c, data[5:])
	require.Equal(t, full, c)
}

func TestChecksumDiffers(t *testing.T) {
	require.NotEqual(t, Checksum([]byte("a")), Checksum([]byte("b")))
}
