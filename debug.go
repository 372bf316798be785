package objdb

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
)

type DumpFlags uint64

const (
	DumpStoreHeaders = DumpFlags(1 << iota)
	DumpKeys
	DumpIndexes
	DumpIndexEntries
	DumpTypes

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the in-memory state of the database for debugging and tests.
// Keys and index entries are printed in slot order.
func (db *DB) Dump(ctx context.Context, f DumpFlags) string {
	var buf strings.Builder
	if f.Contains(DumpTypes) {
		fmt.Fprintln(&buf, dumpSep1)
		for code, name := range db.drv.Types(ctx) {
			fmt.Fprintf(&buf, "type %d = %s\n", code, name)
		}
	}
	for _, def := range db.storeList() {
		def.dump(&buf, f)
	}
	return buf.String()
}

func (def *storeDef) dump(w *strings.Builder, f DumpFlags) {
	def.mu.RLock()
	defer def.mu.RUnlock()

	keys := def.keys.sorted()
	if f.Contains(DumpStoreHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d keys, type %s, key %s)\n", def.id, len(keys), def.cls.name, def.keyType)
	}
	if f.Contains(DumpKeys) {
		for _, ks := range keys {
			fmt.Fprintf(w, "%s/%v @%d\n", def.id, ks.key, ks.slot)
		}
	}
	if f.Contains(DumpIndexes) {
		for _, idx := range def.indexes {
			fmt.Fprintln(w, dumpSep2)
			fmt.Fprintf(w, "%s.%s (%d entries)\n", def.id, idx.name, idx.coll.Len())
			if !f.Contains(DumpIndexEntries) {
				continue
			}
			items := idx.coll.snapshot()
			slices.SortFunc(items, func(a, b indexItem) int {
				sa, _ := def.keys.slotOf(a.key)
				sb, _ := def.keys.slotOf(b.key)
				return cmp.Compare(sa, sb)
			})
			for _, item := range items {
				if idx.arity == 2 {
					fmt.Fprintf(w, "%s.%s: %v, %v => %v\n", def.id, idx.name, item.value, item.value2, item.key)
				} else {
					fmt.Fprintf(w, "%s.%s: %v => %v\n", def.id, idx.name, item.value, item.key)
				}
			}
		}
	}
}
