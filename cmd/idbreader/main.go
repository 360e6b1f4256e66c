// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Command idbreader is a bundled diagnostic driver over the three
// decoding layers in this module. It is a thin dispatcher, not part of
// the core: each subcommand calls exactly one layer and prints a summary,
// the same scope as the five subcommands of the original Python tool this
// module was rewritten from.
package main

import (
	"fmt"
	"os"

	"github.com/kr/pretty"
	"github.com/olekukonko/tablewriter"

	"github.com/eli-fin/go-idbreader"
	"github.com/eli-fin/go-idbreader/idb"
	"github.com/eli-fin/go-idbreader/internal/manifest"
	"github.com/eli-fin/go-idbreader/sstable"
	"github.com/eli-fin/go-idbreader/wal"
)

const usage = "idbreader <kind> <path>\n  kind in {db, idb, table, log, manifest}\n"

func main() {
	if len(os.Args) != 3 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	kind, path := os.Args[1], os.Args[2]

	var err error
	switch kind {
	case "db":
		err = runDB(path)
	case "idb":
		err = runIDB(path)
	case "table":
		err = runTable(path)
	case "log":
		err = runLog(path)
	case "manifest":
		err = runManifest(path)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "idbreader: %+v\n", err)
		os.Exit(1)
	}
}

// runDB decodes an entire LevelDB directory and summarizes its merged
// snapshot: the entry count of each map, any residue warnings, and a
// sample of the live and deleted keys.
func runDB(path string) error {
	snap, err := leveldb.Open(path, leveldb.Options{})
	if err != nil {
		return err
	}

	fmt.Printf("entries: %d, deleted: %d, meta: %d\n",
		len(snap.Entries), len(snap.DeletedEntries), len(snap.MetaEntries))
	for _, w := range snap.Warnings {
		fmt.Printf("warning: unconsumed directory entry %q\n", w)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"kind", "key", "value bytes"})
	appendSample(table, "live", snap.Entries, sampleLimit)
	appendDeletedSample(table, snap.DeletedEntries, sampleLimit)
	table.Render()
	return nil
}

// runIDB decodes a directory as an IndexedDB backing store and lists its
// databases, object stores, and a sample of each store's entries.
func runIDB(path string) error {
	snap, err := leveldb.Open(path, leveldb.Options{})
	if err != nil {
		return err
	}
	cat := idb.NewCatalog(snap.Entries, snap.DeletedEntries)

	dbs, err := cat.ListDatabases()
	if err != nil {
		return err
	}
	for _, d := range dbs {
		fmt.Printf("database %d: origin=%q name=%q\n", d.ID, d.Origin, d.Name)

		stores, err := cat.ListStores(d.ID)
		if err != nil {
			return err
		}
		storeTable := tablewriter.NewWriter(os.Stdout)
		storeTable.SetHeader([]string{"store id", "name"})
		for _, s := range stores {
			storeTable.Append([]string{fmt.Sprint(s.ID), s.Name})
		}
		storeTable.Render()

		for _, s := range stores {
			live, deleted, err := cat.ListEntries(d.ID, s.ID)
			if err != nil {
				return err
			}
			fmt.Printf("  store %d (%s): %d live, %d deleted\n", s.ID, s.Name, len(live), len(deleted))
			for i, e := range live {
				if i >= sampleLimit {
					fmt.Printf("  ... %d more\n", len(live)-sampleLimit)
					break
				}
				fmt.Printf("  %# v -> %# v\n", pretty.Formatter(e.Key), pretty.Formatter(e.Value))
			}
		}
	}
	return nil
}

// runTable decodes a single .ldb file in isolation.
func runTable(path string) error {
	t, err := sstable.Open(path, sstable.Options{})
	if err != nil {
		return err
	}
	fmt.Printf("entries: %d, deleted: %d, meta: %d\n", len(t.Entries), len(t.DeletedEntries), len(t.MetaEntries))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"kind", "key", "value bytes"})
	appendSample(table, "live", t.Entries, sampleLimit)
	appendDeletedSample(table, t.DeletedEntries, sampleLimit)
	appendSample(table, "meta", t.MetaEntries, sampleLimit)
	table.Render()
	return nil
}

// runLog decodes a single .log file in isolation.
func runLog(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	s, err := wal.ReadFile(f)
	if err != nil {
		return err
	}
	fmt.Printf("live: %d, tombstones: %d\n", len(s.Live), len(s.Tombstones))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"kind", "key", "value bytes"})
	appendSample(table, "live", s.Live, sampleLimit)
	i := 0
	for k := range s.Tombstones {
		if i >= sampleLimit {
			break
		}
		table.Append([]string{"tombstone", fmt.Sprintf("%x", k), "-"})
		i++
	}
	table.Render()
	return nil
}

// runManifest decodes a single MANIFEST-* file in isolation and prints its
// derived bookkeeping fields.
func runManifest(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	s, err := manifest.ReadFile(f)
	if err != nil {
		return err
	}
	fmt.Printf("comparator: %s\n", s.ComparatorName)
	fmt.Printf("log_number: %d\n", s.LogNumber)
	fmt.Printf("prev_log_number: %d\n", s.PrevLogNumber)
	fmt.Printf("next_file_number: %d\n", s.NextFileNumber)
	fmt.Printf("last_sequence: %d\n", s.LastSequence)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"level", "number", "size"})
	for _, nf := range s.NewFiles {
		if _, deleted := deletedSet(s.DeletedFiles)[nf.Number]; deleted {
			continue
		}
		table.Append([]string{fmt.Sprint(nf.Level), fmt.Sprint(nf.Number), fmt.Sprint(nf.Size)})
	}
	table.Render()
	return nil
}

const sampleLimit = 20

func appendSample(table *tablewriter.Table, kind string, m map[string][]byte, limit int) {
	i := 0
	for k, v := range m {
		if i >= limit {
			break
		}
		table.Append([]string{kind, fmt.Sprintf("%x", k), fmt.Sprint(len(v))})
		i++
	}
}

func appendDeletedSample(table *tablewriter.Table, m map[string][]byte, limit int) {
	i := 0
	for k, v := range m {
		if i >= limit {
			break
		}
		size := "unknown"
		if v != nil {
			size = fmt.Sprint(len(v))
		}
		table.Append([]string{"deleted", fmt.Sprintf("%x", k), size})
		i++
	}
}

func deletedSet(files []manifest.DeletedFile) map[uint64]bool {
	out := make(map[uint64]bool, len(files))
	for _, f := range files {
		out[f.Number] = true
	}
	return out
}
