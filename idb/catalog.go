// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package idb

import (
	"bytes"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/eli-fin/go-idbreader/internal/binutil"
)

// databaseNamePrefix is the 5-byte sentinel that precedes every
// database-name key in the global metadata object store.
var databaseNamePrefix = []byte{0x00, 0x00, 0x00, 0x00, 0xc9}

const storeInfoTypeByte = 50

// Database describes one IndexedDB database found in a snapshot.
type Database struct {
	ID     uint64
	Origin string
	Name   string
}

// Store describes one object store within a database.
type Store struct {
	ID   uint64
	Name string
}

// Entry is one decoded (key, value) pair from an object store, already
// passed through IDBKeyCodec and V8Deserializer.
type Entry struct {
	Key   Key
	Value Value
}

// Catalog is a read-only view over a leveldb snapshot's Entries and
// DeletedEntries maps, interpreted as an IndexedDB backing store.
type Catalog struct {
	Entries        map[string][]byte
	DeletedEntries map[string][]byte
}

// NewCatalog wraps the given entry maps, typically a leveldb.Snapshot's
// Entries and DeletedEntries fields.
func NewCatalog(entries, deletedEntries map[string][]byte) *Catalog {
	return &Catalog{Entries: entries, DeletedEntries: deletedEntries}
}

// ListDatabases scans for database-name entries and returns every
// database found, sorted by id.
func (c *Catalog) ListDatabases() ([]Database, error) {
	var out []Database
	for k, v := range c.Entries {
		key := []byte(k)
		if !bytes.HasPrefix(key, databaseNamePrefix) {
			continue
		}
		rest := key[len(databaseNamePrefix):]

		origin, n, err := readUTF16BEField(rest)
		if err != nil {
			return nil, errors.Wrap(err, "idb: decoding database name key origin")
		}
		rest = rest[n:]
		name, _, err := readUTF16BEField(rest)
		if err != nil {
			return nil, errors.Wrap(err, "idb: decoding database name key name")
		}

		id, _, err := binutil.ReadVarint64(v)
		if err != nil {
			return nil, errors.Wrap(err, "idb: decoding database id")
		}

		out = append(out, Database{ID: id, Origin: origin, Name: name})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListStores returns every object store belonging to dbID, sorted by id.
func (c *Catalog) ListStores(dbID uint64) ([]Store, error) {
	prefix := append(EncodePrefix(dbID, 0, 0), storeInfoTypeByte)

	var out []Store
	for k, v := range c.Entries {
		key := []byte(k)
		if !bytes.HasPrefix(key, prefix) || !bytes.HasSuffix(key, []byte{0}) {
			continue
		}
		rest := key[len(prefix) : len(key)-1]

		storeID, _, err := binutil.ReadVarint64(rest)
		if err != nil {
			return nil, errors.Wrap(err, "idb: decoding store id")
		}
		name, err := decodeUTF16BE(v)
		if err != nil {
			return nil, errors.Wrap(err, "idb: decoding store name")
		}
		out = append(out, Store{ID: storeID, Name: name})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListEntries returns the live and deleted entries of store storeID within
// database dbID, using the default (index_id=1) key space.
func (c *Catalog) ListEntries(dbID, storeID uint64) (live []Entry, deleted []Entry, err error) {
	prefix := EncodePrefix(dbID, storeID, 1)

	live, err = filterAndDecode(c.Entries, prefix, true)
	if err != nil {
		return nil, nil, errors.Wrap(err, "idb: decoding live entries")
	}
	// Only the keys of deleted entries are decoded: their stored values are
	// never passed to DecodeValue, so each deleted Entry's Value is the zero
	// Value.
	deleted, err = filterAndDecode(c.DeletedEntries, prefix, false)
	if err != nil {
		return nil, nil, errors.Wrap(err, "idb: decoding deleted entries")
	}
	return live, deleted, nil
}

func filterAndDecode(m map[string][]byte, prefix []byte, decodeValues bool) ([]Entry, error) {
	var out []Entry
	for k, v := range m {
		key := []byte(k)
		if !bytes.HasPrefix(key, prefix) {
			continue
		}
		tail := key[len(prefix):]
		decodedKey, err := DecodeKey(tail)
		if err != nil {
			return nil, errors.Wrapf(err, "idb: decoding entry key %x", key)
		}
		var decodedValue Value
		if decodeValues && v != nil {
			decodedValue, err = DecodeValue(v)
			if err != nil {
				return nil, errors.Wrapf(err, "idb: decoding entry value for key %x", key)
			}
		}
		out = append(out, Entry{Key: decodedKey, Value: decodedValue})
	}
	sort.Slice(out, func(i, j int) bool { return compareKeys(out[i].Key, out[j].Key) < 0 })
	return out, nil
}

// compareKeys orders keys for stable catalog listings; it is not the
// full IndexedDB key-ordering algorithm, only enough of one (by kind,
// then by value) to make ListEntries output deterministic.
func compareKeys(a, b Key) int {
	if a.Kind != b.Kind {
		return int(a.Kind) - int(b.Kind)
	}
	switch a.Kind {
	case KeyNumber:
		switch {
		case a.Number < b.Number:
			return -1
		case a.Number > b.Number:
			return 1
		default:
			return 0
		}
	case KeyString:
		return bytes.Compare([]byte(a.String), []byte(b.String))
	case KeyBinary:
		return bytes.Compare(a.Binary, b.Binary)
	case KeyArray:
		for i := 0; i < len(a.Array) && i < len(b.Array); i++ {
			if c := compareKeys(a.Array[i], b.Array[i]); c != 0 {
				return c
			}
		}
		return len(a.Array) - len(b.Array)
	default:
		return 0
	}
}

// readUTF16BEField reads a varint64(char_count) then 2*char_count bytes of
// big-endian UTF-16, returning the decoded string and bytes consumed.
func readUTF16BEField(src []byte) (string, int, error) {
	count, n, err := binutil.ReadVarint64(src)
	if err != nil {
		return "", 0, err
	}
	raw, err := binutil.ReadExact(src[n:], int(count)*2)
	if err != nil {
		return "", 0, err
	}
	s, err := decodeUTF16BE(raw)
	if err != nil {
		return "", 0, err
	}
	return s, n + int(count)*2, nil
}
