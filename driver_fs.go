package objdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/objdb/diskio"
)

const (
	fsTypesFile    = "types.msgpack"
	fsManifestFile = "manifest.msgpack"
	fsStoresDir    = "stores"
	fsKeysFile     = "keys.msgpack"
	fsRecordsDir   = "records"
	fsRecordExt    = ".rec"
	fsIndexPrefix  = "index-"
)

type FileOptions struct {
	// NoSync skips fdatasync on writes. Useful for tests and scratch data.
	NoSync bool

	Logger *slog.Logger
}

type fsKeysFileData struct {
	KeyType string `msgpack:"type"`
	KeySet  `msgpack:",inline"`
}

type fsDriver struct {
	dir    string
	wopt   diskio.Options
	logger *slog.Logger
	locks  *pathLocks

	// structMu is held exclusively by operations that remove whole store
	// directories, and shared by everything else.
	structMu sync.RWMutex

	manifestMu sync.Mutex
	types      *TypeTable
}

// NewFileDriver returns a Driver keeping every record in its own file under
// dir. Writes replace files atomically.
func NewFileDriver(dir string, opt FileOptions) (Driver, error) {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, err
	}
	d := &fsDriver{
		dir:    dir,
		logger: opt.Logger,
		locks:  newPathLocks(),
	}
	if opt.NoSync {
		d.wopt |= diskio.NoSync
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}

	var names []string
	err = d.readMsgpack(filepath.Join(dir, fsTypesFile), &names)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading type table: %w", err)
	}
	d.types = NewTypeTable(names, d.writeTypes)
	return d, nil
}

func (d *fsDriver) storeDir(store StoreID) string {
	return filepath.Join(d.dir, fsStoresDir, escapeFileName(string(store)))
}

func (d *fsDriver) recordPath(store StoreID, slot int64) string {
	return filepath.Join(d.storeDir(store), fsRecordsDir, strconv.FormatInt(slot, 10)+fsRecordExt)
}

func (d *fsDriver) readMsgpack(path string, v any) error {
	unlock := d.locks.lock(path)
	data, err := diskio.ReadFile(path)
	unlock()
	if err != nil {
		return err
	}
	err = msgpack.Unmarshal(data, v)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func (d *fsDriver) writeMsgpack(path string, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	unlock := d.locks.lock(path)
	defer unlock()
	return diskio.WriteFile(path, data, 0o644, d.wopt|diskio.MkdirAll)
}

func (d *fsDriver) writeTypes(names []string) error {
	return d.writeMsgpack(filepath.Join(d.dir, fsTypesFile), names)
}

func (d *fsDriver) SaveRaw(ctx context.Context, store StoreID, slot int64, data []byte) error {
	d.structMu.RLock()
	defer d.structMu.RUnlock()
	path := d.recordPath(store, slot)
	unlock := d.locks.lock(path)
	defer unlock()
	return diskio.WriteFile(path, data, 0o644, d.wopt|diskio.MkdirAll)
}

func (d *fsDriver) LoadRaw(ctx context.Context, store StoreID, slot int64) ([]byte, error) {
	d.structMu.RLock()
	defer d.structMu.RUnlock()
	path := d.recordPath(store, slot)
	unlock := d.locks.lock(path)
	defer unlock()
	data, err := diskio.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (d *fsDriver) DeleteRaw(ctx context.Context, store StoreID, slot int64) error {
	d.structMu.RLock()
	defer d.structMu.RUnlock()
	path := d.recordPath(store, slot)
	unlock := d.locks.lock(path)
	defer unlock()
	existed, err := diskio.Remove(path, d.wopt)
	if err != nil {
		return err
	}
	if !existed {
		return ErrNotFound
	}
	return nil
}

func (d *fsDriver) Truncate(ctx context.Context, store StoreID) error {
	d.structMu.Lock()
	defer d.structMu.Unlock()
	return diskio.RemoveAll(d.storeDir(store), d.wopt)
}

func (d *fsDriver) Purge(ctx context.Context) error {
	d.structMu.Lock()
	defer d.structMu.Unlock()
	err := diskio.RemoveAll(filepath.Join(d.dir, fsStoresDir), d.wopt)
	if err != nil {
		return err
	}
	d.logger.LogAttrs(ctx, slog.LevelInfo, "objdb: fs driver purged", slog.String("dir", d.dir))
	return nil
}

func (d *fsDriver) SerializeKeys(ctx context.Context, store StoreID, keyType string, keys KeySet) error {
	d.structMu.RLock()
	defer d.structMu.RUnlock()
	return d.writeMsgpack(filepath.Join(d.storeDir(store), fsKeysFile), &fsKeysFileData{
		KeyType: keyType,
		KeySet:  keys,
	})
}

func (d *fsDriver) DeserializeKeys(ctx context.Context, store StoreID, keyType string) (KeySet, error) {
	d.structMu.RLock()
	defer d.structMu.RUnlock()
	var kf fsKeysFileData
	err := d.readMsgpack(filepath.Join(d.storeDir(store), fsKeysFile), &kf)
	if errors.Is(err, os.ErrNotExist) {
		return KeySet{}, nil
	} else if err != nil {
		return KeySet{}, err
	}
	if kf.KeyType != keyType {
		return KeySet{}, storeErrf(store, "", nil, ErrTypeResolution, "keys persisted as %q, wanted %q", kf.KeyType, keyType)
	}
	return kf.KeySet, nil
}

func (d *fsDriver) indexPath(store StoreID, index string) string {
	return filepath.Join(d.storeDir(store), fsIndexPrefix+escapeFileName(index)+".msgpack")
}

func (d *fsDriver) SerializeIndex(ctx context.Context, store StoreID, index string, entries []IndexEntry) error {
	d.structMu.RLock()
	defer d.structMu.RUnlock()
	return d.writeMsgpack(d.indexPath(store, index), entries)
}

func (d *fsDriver) DeserializeIndex(ctx context.Context, store StoreID, index string) ([]IndexEntry, error) {
	d.structMu.RLock()
	defer d.structMu.RUnlock()
	var entries []IndexEntry
	err := d.readMsgpack(d.indexPath(store, index), &entries)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return entries, err
}

func (d *fsDriver) PublishStores(ctx context.Context, live []StoreInfo, resolves func(string) bool) error {
	d.manifestMu.Lock()
	defer d.manifestMu.Unlock()
	path := filepath.Join(d.dir, fsManifestFile)
	persisted, err := d.Manifest(ctx)
	if err != nil {
		return err
	}
	m, err := reconcileManifest(persisted, live, resolves)
	if err != nil {
		return err
	}
	return d.writeMsgpack(path, m)
}

func (d *fsDriver) Manifest(ctx context.Context) ([]StoreInfo, error) {
	var m []StoreInfo
	err := d.readMsgpack(filepath.Join(d.dir, fsManifestFile), &m)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return m, err
}

func (d *fsDriver) SerializeTypes(ctx context.Context) error {
	return d.types.Save()
}

func (d *fsDriver) TypeIndexOf(ctx context.Context, typeName string) (int, error) {
	return d.types.CodeOf(typeName)
}

func (d *fsDriver) TypeAtIndex(ctx context.Context, code int) (string, error) {
	return d.types.NameAt(code)
}

func (d *fsDriver) Types(ctx context.Context) []string {
	return d.types.Names()
}

func (d *fsDriver) RestoreTypes(ctx context.Context, names []string) error {
	return d.types.Restore(names)
}

func (d *fsDriver) Close() error {
	d.locks.clear()
	return nil
}

// escapeFileName keeps ASCII letters, digits, '_', '-' and non-leading dots,
// and hex-escapes every other byte as %XX.
func escapeFileName(s string) string {
	var buf strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			buf.WriteByte(c)
		case c == '.' && i > 0:
			buf.WriteByte(c)
		default:
			fmt.Fprintf(&buf, "%%%02X", c)
		}
	}
	return buf.String()
}
