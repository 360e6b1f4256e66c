// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package base holds the error taxonomy and small shared primitives used
// across every decoding layer (record framing, manifest, sstable, wal, idb).
package base

import (
	"github.com/cockroachdb/errors"
)

// These sentinels classify every way a decode can fail. Layers wrap one of
// these with errors.Wrapf to add positional context; callers distinguish
// kinds with errors.Is.
var (
	ErrUnexpectedEOF           = errors.New("idbreader: unexpected EOF")
	ErrCorruptChecksum         = errors.New("idbreader: corrupt checksum")
	ErrInvalidRecordFraming    = errors.New("idbreader: invalid record framing")
	ErrTruncatedRecord         = errors.New("idbreader: truncated record")
	ErrUnknownOpKind           = errors.New("idbreader: unknown op kind")
	ErrUnknownTag              = errors.New("idbreader: unknown manifest tag")
	ErrUnknownBlockCompression = errors.New("idbreader: unknown block compression")
	ErrBlockTooLarge           = errors.New("idbreader: block too large")
	ErrNotATable               = errors.New("idbreader: not a table file")
	ErrInvalidCurrentFile      = errors.New("idbreader: invalid CURRENT file")
	ErrNotAV8Value             = errors.New("idbreader: not a v8 serialized value")
	ErrInvalidWrapTag          = errors.New("idbreader: invalid wrap tag")
	ErrUnknownValueTag         = errors.New("idbreader: unknown v8 value tag")
	ErrUnknownKeyTag           = errors.New("idbreader: unknown idb key tag")
	ErrTrailingBytes           = errors.New("idbreader: trailing bytes after decode")
	ErrCountMismatch           = errors.New("idbreader: declared count does not match observed count")
	ErrInvariantViolation      = errors.New("idbreader: internal invariant violated")
)

// CorruptionErrorf wraps one of the sentinels above with a formatted,
// redaction-safe detail message, mirroring the teacher's
// base.CorruptionErrorf helper used throughout sstable decoding.
func CorruptionErrorf(sentinel error, format string, args ...interface{}) error {
	return errors.Wrapf(sentinel, format, args...)
}
