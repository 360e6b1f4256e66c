// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package manifest decodes the sequence of VersionEdit records stored in a
// LevelDB MANIFEST file into a single summary: the comparator name in use,
// the bookkeeping counters (log numbers, next file number, last sequence),
// and the set of table files that are live as of the last edit.
//
// Tag 8 was historically used for large-value references and is never
// emitted by current writers; like any other unrecognized tag, it is
// rejected with ErrUnknownTag rather than silently skipped.
package manifest

import (
	"io"

	"github.com/cockroachdb/errors"

	"github.com/eli-fin/go-idbreader/internal/base"
	"github.com/eli-fin/go-idbreader/internal/binutil"
	"github.com/eli-fin/go-idbreader/internal/record"
)

// Tags for the VersionEdit disk format. Tag 8 is reserved and rejected.
const (
	tagComparator     = 1
	tagLogNumber      = 2
	tagNextFileNumber = 3
	tagLastSequence   = 4
	tagCompactPointer = 5
	tagDeletedFile    = 6
	tagNewFile        = 7
	tagPrevLogNumber  = 9
)

// Missing marks an absent optional counter (comparator name instead uses
// the literal "<none>").
const Missing = -1

// NewFile is a VersionEdit's record of a table file becoming live.
type NewFile struct {
	Level    int
	Number   uint64
	Size     uint64
	Smallest []byte // user-key portion only; internal-key trailer stripped
	Largest  []byte
}

// DeletedFile is a VersionEdit's record of a table file being retired.
type DeletedFile struct {
	Level  int
	Number uint64
}

// CompactPointer records the last key compacted at a level; kept only for
// completeness, as this reader never compacts.
type CompactPointer struct {
	Level int
	Key   []byte
}

// Summary is the fully-reduced state of a MANIFEST file.
type Summary struct {
	ComparatorName  string
	LogNumber       int64
	PrevLogNumber   int64
	NextFileNumber  int64
	LastSequence    int64
	CompactPointers []CompactPointer
	NewFiles        []NewFile
	DeletedFiles    []DeletedFile

	// LiveFiles is {f.Number for f in NewFiles} - {f.Number for f in DeletedFiles}.
	LiveFiles map[uint64]bool
}

// ReadFile decodes the full manifest stream from r.
func ReadFile(r io.Reader) (*Summary, error) {
	records, err := record.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "manifest: reading record stream")
	}
	return Decode(records)
}

// Decode reduces a sequence of already-reassembled VersionEdit records into
// a Summary.
func Decode(records [][]byte) (*Summary, error) {
	s := &Summary{
		ComparatorName: "<none>",
		LogNumber:      Missing,
		PrevLogNumber:  Missing,
		NextFileNumber: Missing,
		LastSequence:   Missing,
	}
	for i, rec := range records {
		if err := s.decodeRecord(rec); err != nil {
			return nil, errors.Wrapf(err, "manifest: decoding record %d", errors.Safe(i))
		}
	}

	live := make(map[uint64]bool, len(s.NewFiles))
	for _, f := range s.NewFiles {
		live[f.Number] = true
	}
	for _, f := range s.DeletedFiles {
		delete(live, f.Number)
	}
	s.LiveFiles = live
	return s, nil
}

// cursor walks a single record's bytes, tracking how much has been
// consumed; it exists so every tag handler can call the binutil readers
// without manually threading an offset through each call.
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) remaining() []byte { return c.buf[c.pos:] }
func (c *cursor) bytesLeft() int    { return len(c.buf) - c.pos }

func (c *cursor) readByte() (byte, error) {
	b, err := binutil.ReadExact(c.remaining(), 1)
	if err != nil {
		return 0, err
	}
	c.pos++
	return b[0], nil
}

func (c *cursor) readVarint32() (uint32, error) {
	v, n, err := binutil.ReadVarint32(c.remaining())
	if err != nil {
		return 0, err
	}
	c.pos += n
	return v, nil
}

func (c *cursor) readVarint64() (uint64, error) {
	v, n, err := binutil.ReadVarint64(c.remaining())
	if err != nil {
		return 0, err
	}
	c.pos += n
	return v, nil
}

func (c *cursor) readBytes(n int) ([]byte, error) {
	b, err := binutil.ReadExact(c.remaining(), n)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), b...)
	c.pos += n
	return out, nil
}

// readInternalKey reads a varint32(len), len bytes field and strips the
// trailing 8-byte internal-key trailer, returning just the user-key.
func (c *cursor) readInternalKey() ([]byte, error) {
	n, err := c.readVarint32()
	if err != nil {
		return nil, err
	}
	data, err := c.readBytes(int(n))
	if err != nil {
		return nil, err
	}
	if len(data) < 8 {
		return nil, errors.Newf("manifest: internal key shorter than 8-byte trailer (%d bytes)", len(data))
	}
	return data[:len(data)-8], nil
}

func (s *Summary) decodeRecord(rec []byte) error {
	c := &cursor{buf: rec}
	for c.bytesLeft() > 0 {
		tag, err := c.readByte()
		if err != nil {
			return err
		}
		switch tag {
		case tagComparator:
			n, err := c.readVarint32()
			if err != nil {
				return err
			}
			name, err := c.readBytes(int(n))
			if err != nil {
				return err
			}
			s.ComparatorName = string(name)

		case tagLogNumber:
			v, err := c.readVarint64()
			if err != nil {
				return err
			}
			s.LogNumber = int64(v)

		case tagNextFileNumber:
			v, err := c.readVarint64()
			if err != nil {
				return err
			}
			s.NextFileNumber = int64(v)

		case tagLastSequence:
			v, err := c.readVarint64()
			if err != nil {
				return err
			}
			s.LastSequence = int64(v)

		case tagCompactPointer:
			level, err := c.readVarint32()
			if err != nil {
				return err
			}
			key, err := c.readInternalKey()
			if err != nil {
				return err
			}
			s.CompactPointers = append(s.CompactPointers, CompactPointer{Level: int(level), Key: key})

		case tagDeletedFile:
			level, err := c.readVarint32()
			if err != nil {
				return err
			}
			number, err := c.readVarint64()
			if err != nil {
				return err
			}
			s.DeletedFiles = append(s.DeletedFiles, DeletedFile{Level: int(level), Number: number})

		case tagNewFile:
			level, err := c.readVarint32()
			if err != nil {
				return err
			}
			number, err := c.readVarint64()
			if err != nil {
				return err
			}
			size, err := c.readVarint64()
			if err != nil {
				return err
			}
			smallest, err := c.readInternalKey()
			if err != nil {
				return err
			}
			largest, err := c.readInternalKey()
			if err != nil {
				return err
			}
			s.NewFiles = append(s.NewFiles, NewFile{
				Level: int(level), Number: number, Size: size,
				Smallest: smallest, Largest: largest,
			})

		case tagPrevLogNumber:
			v, err := c.readVarint64()
			if err != nil {
				return err
			}
			s.PrevLogNumber = int64(v)

		default:
			return errors.Wrapf(base.ErrUnknownTag, "manifest tag %d", errors.Safe(tag))
		}
	}
	return nil
}
