package objdb

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

type sqliteDriver struct {
	db    *sql.DB
	types *TypeTable
}

// NewSQLiteDriver opens (creating if needed) a SQLite database at path.
// Use ":memory:" for a throwaway database.
func NewSQLiteDriver(path string) (Driver, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// SQLite has a single writer; more connections only buy SQLITE_BUSY.
	// A single connection also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &sqliteDriver{db: db}
	err = d.init()
	if err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *sqliteDriver) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := d.db.Exec(pragma); err != nil {
			return fmt.Errorf("sqlite: %q: %w", pragma, err)
		}
	}
	if _, err := d.db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("sqlite: schema: %w", err)
	}

	rows, err := d.db.Query("SELECT code, name FROM types ORDER BY code")
	if err != nil {
		return fmt.Errorf("sqlite: reading type table: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var code int
		var name string
		if err := rows.Scan(&code, &name); err != nil {
			return err
		}
		if code != len(names) {
			return fmt.Errorf("sqlite: type table has a gap at code %d", len(names))
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	d.types = NewTypeTable(names, d.writeTypes)
	return nil
}

func (d *sqliteDriver) inTx(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	err = f(tx)
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (d *sqliteDriver) writeTypes(names []string) error {
	return d.inTx(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM types"); err != nil {
			return err
		}
		for code, name := range names {
			if _, err := tx.Exec("INSERT INTO types (code, name) VALUES (?, ?)", code, name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *sqliteDriver) SaveRaw(ctx context.Context, store StoreID, slot int64, data []byte) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO records (store, slot, data) VALUES (?, ?, ?) ON CONFLICT (store, slot) DO UPDATE SET data = excluded.data",
		string(store), slot, data)
	return err
}

func (d *sqliteDriver) LoadRaw(ctx context.Context, store StoreID, slot int64) ([]byte, error) {
	var data []byte
	err := d.db.QueryRowContext(ctx, "SELECT data FROM records WHERE store = ? AND slot = ?", string(store), slot).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return data, err
}

func (d *sqliteDriver) DeleteRaw(ctx context.Context, store StoreID, slot int64) error {
	res, err := d.db.ExecContext(ctx, "DELETE FROM records WHERE store = ? AND slot = ?", string(store), slot)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *sqliteDriver) Truncate(ctx context.Context, store StoreID) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			"DELETE FROM records WHERE store = ?",
			"DELETE FROM keylists WHERE store = ?",
			"DELETE FROM key_types WHERE store = ?",
			"DELETE FROM index_entries WHERE store = ?",
		} {
			if _, err := tx.ExecContext(ctx, q, string(store)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *sqliteDriver) Purge(ctx context.Context) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			"DELETE FROM records",
			"DELETE FROM keylists",
			"DELETE FROM key_types",
			"DELETE FROM index_entries",
		} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *sqliteDriver) SerializeKeys(ctx context.Context, store StoreID, keyType string, keys KeySet) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM keylists WHERE store = ?", string(store)); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO keylists (store, key, slot) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, ke := range keys.Entries {
			if _, err := stmt.ExecContext(ctx, string(store), ke.Key, ke.Slot); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO key_types (store, key_type, next_slot) VALUES (?, ?, ?) ON CONFLICT (store) DO UPDATE SET key_type = excluded.key_type, next_slot = excluded.next_slot",
			string(store), keyType, keys.Next)
		return err
	})
}

func (d *sqliteDriver) DeserializeKeys(ctx context.Context, store StoreID, keyType string) (KeySet, error) {
	var keys KeySet
	var persistedType string
	err := d.db.QueryRowContext(ctx, "SELECT key_type, next_slot FROM key_types WHERE store = ?", string(store)).Scan(&persistedType, &keys.Next)
	if errors.Is(err, sql.ErrNoRows) {
		return KeySet{}, nil
	} else if err != nil {
		return KeySet{}, err
	}
	if persistedType != keyType {
		return KeySet{}, storeErrf(store, "", nil, ErrTypeResolution, "keys persisted as %q, wanted %q", persistedType, keyType)
	}

	rows, err := d.db.QueryContext(ctx, "SELECT key, slot FROM keylists WHERE store = ?", string(store))
	if err != nil {
		return KeySet{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var ke KeyEntry
		if err := rows.Scan(&ke.Key, &ke.Slot); err != nil {
			return KeySet{}, err
		}
		keys.Entries = append(keys.Entries, ke)
	}
	return keys, rows.Err()
}

func (d *sqliteDriver) SerializeIndex(ctx context.Context, store StoreID, index string, entries []IndexEntry) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM index_entries WHERE store = ? AND name = ?", string(store), index); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO index_entries (store, name, seq, value, value2, key) VALUES (?, ?, ?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, e := range entries {
			if _, err := stmt.ExecContext(ctx, string(store), index, i, e.Value, e.Value2, e.Key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *sqliteDriver) DeserializeIndex(ctx context.Context, store StoreID, index string) ([]IndexEntry, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT value, value2, key FROM index_entries WHERE store = ? AND name = ? ORDER BY seq", string(store), index)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []IndexEntry
	for rows.Next() {
		var e IndexEntry
		if err := rows.Scan(&e.Value, &e.Value2, &e.Key); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (d *sqliteDriver) PublishStores(ctx context.Context, live []StoreInfo, resolves func(string) bool) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		persisted, err := queryManifest(ctx, tx)
		if err != nil {
			return err
		}
		m, err := reconcileManifest(persisted, live, resolves)
		if err != nil {
			return err
		}
		for _, si := range m {
			_, err = tx.ExecContext(ctx,
				"INSERT INTO manifest (store, type_name, key_type) VALUES (?, ?, ?) ON CONFLICT (store) DO UPDATE SET type_name = excluded.type_name, key_type = excluded.key_type",
				string(si.ID), si.TypeName, si.KeyType)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryManifest(ctx context.Context, q sqlQuerier) ([]StoreInfo, error) {
	rows, err := q.QueryContext(ctx, "SELECT store, type_name, key_type FROM manifest ORDER BY store")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var m []StoreInfo
	for rows.Next() {
		var si StoreInfo
		var id string
		if err := rows.Scan(&id, &si.TypeName, &si.KeyType); err != nil {
			return nil, err
		}
		si.ID = StoreID(id)
		m = append(m, si)
	}
	return m, rows.Err()
}

func (d *sqliteDriver) Manifest(ctx context.Context) ([]StoreInfo, error) {
	return queryManifest(ctx, d.db)
}

func (d *sqliteDriver) SerializeTypes(ctx context.Context) error {
	return d.types.Save()
}

func (d *sqliteDriver) TypeIndexOf(ctx context.Context, typeName string) (int, error) {
	return d.types.CodeOf(typeName)
}

func (d *sqliteDriver) TypeAtIndex(ctx context.Context, code int) (string, error) {
	return d.types.NameAt(code)
}

func (d *sqliteDriver) Types(ctx context.Context) []string {
	return d.types.Names()
}

func (d *sqliteDriver) RestoreTypes(ctx context.Context, names []string) error {
	return d.types.Restore(names)
}

func (d *sqliteDriver) Close() error {
	return d.db.Close()
}
