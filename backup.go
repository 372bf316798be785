package objdb

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/google/uuid"
)

// backupFormatToken opens every backup stream. Bump it whenever the layout
// below changes.
var backupFormatToken = [16]byte{'o', 'b', 'j', 'd', 'b', '-', 'b', 'a', 'c', 'k', 'u', 'p', 0, 0, 0, 1}

// Backup layout, all integers 4-byte big-endian:
//
//	token [16]byte
//	type count, then per type: name length, name
//	per store in registration order:
//	    key count, then per key: key length, key, slot, record length, record
//
// Records are written exactly as stored, after interceptors.

// Backup writes the type table and the raw records of every registered store
// to w.
func (db *DB) Backup(ctx context.Context, w io.Writer) error {
	if err := db.checkActive(); err != nil {
		return err
	}
	defer db.begin()()
	db.mu.Lock()
	defer db.mu.Unlock()

	bw := bufio.NewWriter(w)
	bw.Write(backupFormatToken[:])

	types := db.drv.Types(ctx)
	writeUint32(bw, len(types))
	for _, name := range types {
		writeBlock(bw, []byte(name))
	}

	var records int
	for _, def := range db.storeList() {
		def.mu.RLock()
		keys := def.keys.sorted()
		def.mu.RUnlock()

		writeUint32(bw, len(keys))
		for _, ks := range keys {
			kb, err := def.encodeKey(ks.key)
			if err != nil {
				return storeErrf(def.id, "", ks.key, err, "backup: encoding key")
			}
			if ks.slot > math.MaxUint32 {
				return storeErrf(def.id, "", ks.key, nil, "backup: slot %d does not fit the backup format", ks.slot)
			}
			raw, err := db.drv.LoadRaw(ctx, def.id, ks.slot)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return storeErrf(def.id, "", ks.key, err, "backup: reading slot %d", ks.slot)
			}
			writeBlock(bw, kb)
			writeUint32(bw, int(ks.slot))
			writeBlock(bw, raw)
			records++
		}
	}
	err := bw.Flush()
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	db.logger.LogAttrs(ctx, slog.LevelInfo, "db: BACKUP", slog.Int("types", len(types)), slog.Int("records", records))
	return nil
}

type backupRecord struct {
	key  []byte
	k    any
	slot int64
	data []byte
}

// Restore replaces the contents of every registered store with the data of
// a backup produced by Backup. The stream is fully read and validated before
// anything is changed. Indexes are rebuilt by loading every restored entity.
func (db *DB) Restore(ctx context.Context, r io.Reader) error {
	if err := db.checkActive(); err != nil {
		return err
	}
	end, err := db.beginExclusive()
	if err != nil {
		return err
	}
	defer end()
	db.mu.Lock()
	defer db.mu.Unlock()

	br := bufio.NewReader(r)
	var token [16]byte
	if _, err := io.ReadFull(br, token[:]); err != nil {
		return fmt.Errorf("%w: reading token: %v", ErrVersionMismatch, err)
	}
	if !bytes.Equal(token[:], backupFormatToken[:]) {
		return fmt.Errorf("%w: got token %x", ErrVersionMismatch, token)
	}

	n, err := readUint32(br)
	if err != nil {
		return fmt.Errorf("restore: type count: %w", err)
	}
	types := make([]string, n)
	for i := range types {
		b, err := readBlock(br)
		if err != nil {
			return fmt.Errorf("restore: type %d: %w", i, err)
		}
		types[i] = string(b)
	}

	stores := db.storeList()
	records := make([][]backupRecord, len(stores))
	for si, def := range stores {
		n, err := readUint32(br)
		if err != nil {
			return storeErrf(def.id, "", nil, err, "restore: key count")
		}
		recs := make([]backupRecord, n)
		for i := range recs {
			rec := &recs[i]
			if rec.key, err = readBlock(br); err == nil {
				var slot int
				if slot, err = readUint32(br); err == nil {
					rec.slot = int64(slot)
					rec.data, err = readBlock(br)
				}
			}
			if err != nil {
				return storeErrf(def.id, "", nil, err, "restore: record %d", i)
			}
			rec.k, err = def.decodeKey(rec.key)
			if err != nil {
				return storeErrf(def.id, "", nil, err, "restore: decoding key %x", rec.key)
			}
		}
		records[si] = recs
	}

	err = db.drv.RestoreTypes(ctx, types)
	if err != nil {
		return fmt.Errorf("restore: types: %w", err)
	}
	db.typesChecked.Store(false)

	var total int
	for si, def := range stores {
		err := def.truncate(ctx)
		if err != nil {
			return err
		}
		def.mu.Lock()
		for _, rec := range records[si] {
			if len(rec.data) > 0 {
				err = db.drv.SaveRaw(ctx, def.id, rec.slot, rec.data)
				if err != nil {
					def.mu.Unlock()
					return storeErrf(def.id, "", rec.k, err, "restore: writing slot %d", rec.slot)
				}
			}
			def.keys.set(rec.k, rec.slot)
			total++
		}
		def.keys.dirty = true
		err = def.flush_locked(ctx)
		def.mu.Unlock()
		if err != nil {
			return err
		}
	}

	for _, def := range stores {
		err := db.reindex(ctx, def)
		if err != nil {
			return err
		}
	}
	err = db.flush_locked(ctx)
	if err != nil {
		return err
	}

	db.logger.LogAttrs(ctx, slog.LevelInfo, "db: RESTORE", slog.Int("types", len(types)), slog.Int("records", total))
	db.events.emit(ctx, Event{Op: OpRestore, OpID: uuid.New()})
	return nil
}

// reindex rebuilds every index of def by loading all of its entities.
func (db *DB) reindex(ctx context.Context, def *storeDef) error {
	def.mu.RLock()
	hasIndexes := len(def.indexes) > 0
	def.mu.RUnlock()
	if !hasIndexes {
		return nil
	}
	for _, key := range def.Keys() {
		op := db.newOp(ctx)
		obj, found, err := db.loadEntity(op.ctx, op, def, key)
		if werr := op.wait(); err == nil {
			err = werr
		}
		if err != nil {
			return storeErrf(def.id, "", key, err, "reindexing")
		}
		if found {
			def.indexObject(key, obj)
		}
	}
	return nil
}

func writeUint32(w *bufio.Writer, v int) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.Write(b[:])
}

func writeBlock(w *bufio.Writer, data []byte) {
	writeUint32(w, len(data))
	w.Write(data)
}

func readUint32(r io.Reader) (int, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint32(b[:])), nil
}

func readBlock(r io.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	data := make([]byte, n)
	_, err = io.ReadFull(r, data)
	return data, err
}
