// Package sqlitestore provides a SQLite implementation of the storage.Store
// interface. Records are kept as JSON in a shared table keyed by id and entity
// type, or in a dedicated table per model once InitModel has been called.
//
//	store, err := sqlitestore.New("mindease.db", sqlitestore.WithPrefix("me_"))
//	store, err := sqlitestore.New(":memory:")
//
//nolint:gosec // Reports on G202. SQL string concat used to parameterize table.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/storage"
)

// Option is a functional option for configuring the store.
type Option func(*store)

// WithPrefix overides the default prefix for table names.
func WithPrefix(prefix string) Option {
	return func(s *store) {
		s.prefix = prefix
	}
}

// New opens the database and creates the shared table.
func New(conn string, opts ...Option) (storage.Store, error) {
	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		return nil, errors.WrapPrefix(err, "sqlitestore: open", 0)
	}
	// SQLite allows a single writer, and each connection to ":memory:" is its
	// own database.
	db.SetMaxOpenConns(1)

	s := &store{
		db:     db,
		prefix: "mindease_",
		tables: map[string]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureTable(context.Background(), s.prefix+"default", true); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// MustNew is like New but panics on error.
func MustNew(conn string, opts ...Option) storage.Store {
	s, err := New(conn, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

type store struct {
	db     *sql.DB
	prefix string

	mu     sync.RWMutex
	tables map[string]bool
}

// InitModel implements storage.ModelInitializer, giving the model its own
// table.
func (s *store) InitModel(ctx context.Context, model storage.Model) error {
	name := storage.Name(model)
	if err := s.ensureTable(ctx, s.prefix+name, false); err != nil {
		return err
	}
	s.mu.Lock()
	s.tables[name] = true
	s.mu.Unlock()
	return nil
}

// Close releases the underlying database.
func (s *store) Close() error {
	return s.db.Close()
}

func (s *store) Create(ctx context.Context, models ...storage.Model) error {
	return s.insert(ctx, false, models...)
}

func (s *store) Upsert(ctx context.Context, models ...storage.Model) error {
	return s.insert(ctx, true, models...)
}

func (s *store) Read(ctx context.Context, id string, model storage.Model) error {
	if err := storage.ValidateReceiver(model); err != nil {
		return err
	}

	where, args := s.whereID(model, id)
	row := s.db.QueryRowContext(ctx, "SELECT value FROM "+s.tableName(model)+where, args...)

	var value []byte
	if err := row.Scan(&value); err != nil {
		return translateError(err)
	}
	if err := json.Unmarshal(value, model); err != nil {
		return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
	}
	return nil
}

func (s *store) Update(ctx context.Context, models ...storage.Model) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translateError(err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit.

	for _, model := range models {
		value, err := json.Marshal(model)
		if err != nil {
			return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
		}
		where, args := s.whereID(model, model.PK())
		res, err := tx.ExecContext(ctx,
			"UPDATE "+s.tableName(model)+" SET value = ?, updated_at = CURRENT_TIMESTAMP"+where,
			append([]any{value}, args...)...)
		if err != nil {
			return translateError(err)
		}
		if i, err := res.RowsAffected(); i == 0 || err != nil {
			return errors.Mark(storage.ErrNotFound, 0).Append(model.PK())
		}
	}
	return translateError(tx.Commit())
}

func (s *store) Delete(ctx context.Context, model storage.Model) error {
	where, args := s.whereID(model, model.PK())
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+s.tableName(model)+where, args...)
	if err != nil {
		return translateError(err)
	}
	if i, err := res.RowsAffected(); i == 0 || err != nil {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	return nil
}

func (s *store) Exists(ctx context.Context, id string, model storage.Model) (bool, error) {
	where, args := s.whereID(model, id)
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.tableName(model)+where, args...).Scan(&count)
	if err != nil {
		return false, translateError(err)
	}
	return count > 0, nil
}

func (s *store) List(ctx context.Context, models any, filter storage.Model) error {
	modelsVal := reflect.ValueOf(models)
	if modelsVal.Kind() != reflect.Ptr || modelsVal.Elem().Kind() != reflect.Slice {
		return errors.Mark(storage.ErrSliceRequired, 0)
	}
	sliceVal := modelsVal.Elem()
	elemType := sliceVal.Type().Elem()
	if elemType != reflect.TypeOf(filter) {
		return errors.Mark(storage.ErrTypeMismatch, 0)
	}

	query, args := s.buildListQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return translateError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return translateError(err)
		}
		elem := reflect.New(elemType)
		if err := json.Unmarshal(value, elem.Interface()); err != nil {
			return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
		}
		sliceVal.Set(reflect.Append(sliceVal, elem.Elem()))
	}
	return translateError(rows.Err())
}

func (s *store) insert(ctx context.Context, upsert bool, models ...storage.Model) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translateError(err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit.

	for _, model := range models {
		value, err := json.Marshal(model)
		if err != nil {
			return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
		}

		var query string
		var args []any
		if s.isDedicated(model) {
			query = "INSERT INTO " + s.tableName(model) + " (id, value) VALUES (?, ?)"
			args = []any{model.PK(), value}
			if upsert {
				query += " ON CONFLICT(id) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP"
			}
		} else {
			query = "INSERT INTO " + s.tableName(model) + " (id, entity_type, value) VALUES (?, ?, ?)"
			args = []any{model.PK(), storage.Name(model), value}
			if upsert {
				query += " ON CONFLICT(id, entity_type) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP"
			}
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return translateError(err)
		}
	}
	return translateError(tx.Commit())
}

func (s *store) isDedicated(model storage.Model) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables[storage.Name(model)]
}

func (s *store) tableName(model storage.Model) string {
	if s.isDedicated(model) {
		return s.prefix + storage.Name(model)
	}
	return s.prefix + "default"
}

func (s *store) whereID(model storage.Model, id string) (string, []any) {
	if s.isDedicated(model) {
		return " WHERE id = ?", []any{id}
	}
	return " WHERE id = ? AND entity_type = ?", []any{id, storage.Name(model)}
}

func (s *store) ensureTable(ctx context.Context, table string, shared bool) error {
	var ddl string
	if shared {
		ddl = `CREATE TABLE IF NOT EXISTS ` + table + ` (
			id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			value BLOB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (id, entity_type)
		);`
	} else {
		ddl = `CREATE TABLE IF NOT EXISTS ` + table + ` (
			id TEXT NOT NULL PRIMARY KEY,
			value BLOB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return errors.WrapPrefix(err, "sqlitestore: create table "+table, 0)
	}
	return nil
}

func (s *store) buildListQuery(filter storage.Model) (string, []any) {
	var where []string
	var params []any
	if !s.isDedicated(filter) {
		where = append(where, "entity_type = ?")
		params = append(params, storage.Name(filter))
	}
	for _, f := range storage.FilterFields(filter) {
		where = append(where, fmt.Sprintf("json_extract(value, '$.%s') = ?", f.Key))
		params = append(params, f.Value.Interface())
	}

	query := "SELECT value FROM " + s.tableName(filter)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return query + " ORDER BY id", params
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Mark(storage.ErrNotFound, 1)
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code {
		case sqlite3.ErrNotFound:
			return errors.Mark(storage.ErrNotFound, 1)
		case sqlite3.ErrConstraint:
			return errors.Mark(storage.ErrAlreadyExists, 1)
		}
	}
	return errors.Wrap(err, 1)
}
