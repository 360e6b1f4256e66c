// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package record reassembles the 32 KiB chunked record-log framing shared by
// both write-ahead-log (.log) files and the MANIFEST file. A logical record
// may be split across one or more physical blocks; Reader hides that from
// its caller, handing back whole, checksum-verified record payloads.
//
// This mirrors the wire format (and much of the structure) of the W&B fork
// of golang/leveldb's record package, minus its custom 7-byte file header:
// a stream of 32 KiB blocks, each holding tightly packed chunks of
// checksum(4) | length(2) | type(1) | payload.
package record

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/eli-fin/go-idbreader/internal/base"
	"github.com/eli-fin/go-idbreader/internal/crc"
)

const (
	blockSize = 32 * 1024

	fullChunkType   = 1
	firstChunkType  = 2
	middleChunkType = 3
	lastChunkType   = 4

	headerSize = 7 // checksum(4) + length(2) + type(1)
)

// Reader reassembles logical records out of a stream of fixed-size blocks.
type Reader struct {
	r     io.Reader
	block []byte // bytes of the current 32 KiB block not yet consumed from pos
	pos   int
	done  bool // underlying reader has been exhausted
}

// NewReader returns a Reader over r, which must be positioned at the start
// of the chunked record stream.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// hasRecords reports whether the current block has at least one more
// physical record. Fewer than headerSize remaining bytes cannot hold a
// chunk header, and a header whose type byte is zero (not a valid chunk
// type) marks zero padding that runs to the end of the block; in either
// case the rest of the block is skipped.
func (r *Reader) hasRecords() bool {
	rest := r.block[r.pos:]
	return len(rest) >= headerSize && rest[6] != 0
}

func (r *Reader) fillBlock() error {
	buf := make([]byte, blockSize)
	n, err := io.ReadFull(r.r, buf)
	switch {
	case err == nil:
		// full block
	case errors.Is(err, io.ErrUnexpectedEOF):
		buf = buf[:n]
	case errors.Is(err, io.EOF):
		r.done = true
		return io.EOF
	default:
		return err
	}
	if n == 0 {
		r.done = true
		return io.EOF
	}
	r.block = buf
	r.pos = 0
	return nil
}

// nextPhysical reads one physical chunk from the current block, advancing
// r.pos past it, and verifies its checksum. It assumes hasRecords() is true.
func (r *Reader) nextPhysical() (payload []byte, kind byte, err error) {
	b := r.block[r.pos:]
	maskedCRC := binary.LittleEndian.Uint32(b[0:4])
	length := int(binary.LittleEndian.Uint16(b[4:6]))
	kind = b[6]
	if len(b) < headerSize+length {
		return nil, 0, errors.Wrapf(base.ErrUnexpectedEOF, "chunk declares %d byte payload, only %d remain in block", length, len(b)-headerSize)
	}
	payload = b[headerSize : headerSize+length]

	want := crc.Unmask(maskedCRC)
	got := crc.Checksum([]byte{kind})
	got = crc.Update(got, payload)
	if want != got {
		return nil, 0, errors.Wrapf(base.ErrCorruptChecksum, "record chunk checksum mismatch (want %x, got %x)", want, got)
	}

	r.pos += headerSize + length
	return payload, kind, nil
}

// Next returns the next logical record, reassembling it across block
// boundaries if necessary. It returns io.EOF once the stream is exhausted
// between records.
func (r *Reader) Next() ([]byte, error) {
	if !r.hasRecords() {
		if err := r.advanceBlock(); err != nil {
			return nil, err
		}
	}

	payload, kind, err := r.nextPhysical()
	if err != nil {
		return nil, err
	}

	switch kind {
	case fullChunkType:
		return payload, nil
	case firstChunkType:
		full := append([]byte(nil), payload...)
		for {
			if !r.hasRecords() {
				if err := r.advanceBlock(); err != nil {
					if errors.Is(err, io.EOF) {
						return nil, errors.Wrap(base.ErrTruncatedRecord, "stream ended before a LAST chunk")
					}
					return nil, err
				}
			}
			p, k, err := r.nextPhysical()
			if err != nil {
				return nil, err
			}
			switch k {
			case middleChunkType:
				full = append(full, p...)
			case lastChunkType:
				full = append(full, p...)
				return full, nil
			default:
				return nil, errors.Wrapf(base.ErrInvalidRecordFraming, "expected MIDDLE or LAST after FIRST, got chunk type %d", k)
			}
		}
	default:
		return nil, errors.Wrapf(base.ErrInvalidRecordFraming, "unexpected chunk type %d outside a FIRST..LAST sequence", kind)
	}
}

// advanceBlock fetches the next 32 KiB block, treating any bytes left in the
// current block (see hasRecords) as zero padding to be skipped.
func (r *Reader) advanceBlock() error {
	if r.done {
		return io.EOF
	}
	return r.fillBlock()
}

// ReadAll reassembles and returns every logical record in r.
func ReadAll(r io.Reader) ([][]byte, error) {
	rr := NewReader(r)
	var out [][]byte
	for {
		rec, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}
