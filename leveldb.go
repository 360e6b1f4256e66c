// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package leveldb opens a LevelDB database directory — the format used
// internally by Chromium's IndexedDB backing store — and reduces it to a
// single immutable Snapshot: every live key/value pair, every deleted key,
// and the table files' meta-index entries. It never writes, compacts,
// repairs, or locks; it is a forensic reader over a closed, static
// directory (see the idb package for interpreting the keys and values
// this snapshot exposes).
package leveldb // import "github.com/eli-fin/go-idbreader"

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/eli-fin/go-idbreader/internal/base"
	"github.com/eli-fin/go-idbreader/internal/manifest"
	"github.com/eli-fin/go-idbreader/sstable"
	"github.com/eli-fin/go-idbreader/wal"
)

// currentMaxLen bounds the CURRENT file: "MANIFEST-<digits>\n" must fit in
// 20 bytes including the newline.
const currentMaxLen = 20

// Snapshot is the fully-reduced, immutable state of one LevelDB directory.
type Snapshot struct {
	// Entries holds every live user-key/value pair visible after merging
	// every table file and overlaying the active log.
	Entries map[string][]byte
	// DeletedEntries holds every tombstoned user-key. A nil value means the
	// key's prior value is unknown (the tombstone came only from the log
	// and the key was never live). A non-nil (possibly empty) value is
	// either the value bytes stored with a table-file tombstone or, for a
	// key tombstoned by the log, the live value it displaced.
	DeletedEntries map[string][]byte
	// MetaEntries holds the meta-index bookkeeping entries from every
	// table file, keyed by user-key.
	MetaEntries map[string][]byte

	// Warnings lists directory entries that were not consumed while
	// building the snapshot (excluding LOCK, LOG, and LOG.old).
	Warnings []string
}

// Options configures how a directory is opened.
type Options struct {
	// MaxBlockSize bounds table-block allocations; see sstable.Options.
	MaxBlockSize int
}

// Open reduces the LevelDB directory at dir into a Snapshot, per the
// CURRENT file, its manifest, every live table file, and the active log
// file if any.
func Open(dir string, opts Options) (*Snapshot, error) {
	consumed := make(map[string]bool)

	manifestName, err := readCurrent(dir)
	if err != nil {
		return nil, errors.Wrap(err, "leveldb: reading CURRENT")
	}
	consumed["CURRENT"] = true
	consumed[manifestName] = true

	manifestFile, err := os.Open(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, errors.Wrapf(err, "leveldb: opening %s", manifestName)
	}
	summary, err := manifest.ReadFile(manifestFile)
	closeErr := manifestFile.Close()
	if err != nil {
		return nil, errors.Wrapf(err, "leveldb: decoding %s", manifestName)
	}
	if closeErr != nil {
		return nil, errors.Wrapf(closeErr, "leveldb: closing %s", manifestName)
	}

	s := &Snapshot{
		Entries:        make(map[string][]byte),
		DeletedEntries: make(map[string][]byte),
		MetaEntries:    make(map[string][]byte),
	}

	for number := range summary.LiveFiles {
		name := TableFileName(number)
		path := filepath.Join(dir, name)
		table, err := sstable.Open(path, sstable.Options{MaxBlockSize: opts.MaxBlockSize})
		if err != nil {
			return nil, errors.Wrapf(err, "leveldb: decoding table %s", name)
		}
		consumed[name] = true

		for k, v := range table.Entries {
			s.Entries[k] = v
		}
		for k, v := range table.DeletedEntries {
			s.DeletedEntries[k] = v
		}
		for k, v := range table.MetaEntries {
			s.MetaEntries[k] = v
		}
	}

	if summary.LogNumber != manifest.Missing {
		name := LogFileName(uint64(summary.LogNumber))
		path := filepath.Join(dir, name)
		logFile, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "leveldb: opening log %s", name)
		}
		logSummary, err := wal.ReadFile(logFile)
		closeErr := logFile.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "leveldb: decoding log %s", name)
		}
		if closeErr != nil {
			return nil, errors.Wrapf(closeErr, "leveldb: closing log %s", name)
		}
		consumed[name] = true

		for k, v := range logSummary.Live {
			s.Entries[k] = v
		}

		for k := range s.DeletedEntries {
			delete(s.Entries, k)
		}
		for k := range logSummary.Tombstones {
			if v, ok := s.Entries[k]; ok {
				s.DeletedEntries[k] = v
				delete(s.Entries, k)
			} else if _, ok := s.DeletedEntries[k]; !ok {
				s.DeletedEntries[k] = nil // absent-value marker
			}
		}
	}

	for k := range s.DeletedEntries {
		delete(s.Entries, k)
	}
	for k := range s.MetaEntries {
		if _, ok := s.Entries[k]; ok {
			return nil, errors.Wrapf(base.ErrInvariantViolation, "key %q is both a meta-index entry and a live entry", k)
		}
	}

	residue, err := residueFiles(dir, consumed)
	if err != nil {
		return nil, errors.Wrap(err, "leveldb: scanning directory residue")
	}
	s.Warnings = residue

	return s, nil
}

// TableFileName formats a table file's on-disk name, per the numbered-file
// convention shared by .ldb and .log files.
func TableFileName(number uint64) string {
	return fmt.Sprintf("%06d.ldb", number)
}

// LogFileName formats a log file's on-disk name.
func LogFileName(number uint64) string {
	return fmt.Sprintf("%06d.log", number)
}

// readCurrent parses the CURRENT file, returning the referenced manifest's
// filename.
func readCurrent(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "CURRENT"))
	if err != nil {
		return "", err
	}
	if len(data) == 0 || len(data) > currentMaxLen {
		return "", errors.Wrapf(base.ErrInvalidCurrentFile, "CURRENT is %d bytes, want 1..%d", len(data), currentMaxLen)
	}
	if data[len(data)-1] != '\n' {
		return "", errors.Wrap(base.ErrInvalidCurrentFile, "CURRENT does not end in a newline")
	}
	name := strings.TrimSuffix(string(data), "\n")
	if !strings.HasPrefix(name, "MANIFEST-") {
		return "", errors.Wrapf(base.ErrInvalidCurrentFile, "CURRENT names %q, not a MANIFEST-* file", name)
	}
	if _, err := strconv.ParseUint(strings.TrimPrefix(name, "MANIFEST-"), 10, 64); err != nil {
		return "", errors.Wrapf(base.ErrInvalidCurrentFile, "CURRENT names %q, suffix is not numeric", name)
	}
	return name, nil
}

// residueFiles lists every directory entry not present in consumed,
// excluding the unconditionally-ignored lock and textual log files.
func residueFiles(dir string, consumed map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	ignored := map[string]bool{"LOCK": true, "LOG": true, "LOG.old": true}

	var residue []string
	for _, e := range entries {
		name := e.Name()
		if consumed[name] || ignored[name] {
			continue
		}
		residue = append(residue, name)
	}
	return residue, nil
}
