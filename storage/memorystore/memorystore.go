// Package memorystore implements storage.Store in a purely in-memory manner.
// Records are kept as JSON so that values round trip exactly as they would
// through the SQL stores.
package memorystore

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"sync"

	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/storage"
)

// New returns a store that provides transient, in-memory storage.
func New() storage.Store {
	return &store{
		data: map[string]map[string][]byte{},
	}
}

type store struct {
	// data[tableName][entityID] = JSON
	data map[string]map[string][]byte
	mu   sync.RWMutex
}

func (s *store) Create(_ context.Context, models ...storage.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := encode(models)
	if err != nil {
		return err
	}
	for _, m := range models {
		if s.data[storage.Name(m)][m.PK()] != nil {
			return errors.Mark(storage.ErrAlreadyExists, 0).Append(m.PK())
		}
	}
	s.put(models, encoded)
	return nil
}

func (s *store) Read(_ context.Context, id string, model storage.Model) error {
	if err := storage.ValidateReceiver(model); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b := s.data[storage.Name(model)][id]
	if b == nil {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	if err := json.Unmarshal(b, model); err != nil {
		return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
	}
	return nil
}

func (s *store) Update(_ context.Context, models ...storage.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := encode(models)
	if err != nil {
		return err
	}
	for _, m := range models {
		if s.data[storage.Name(m)][m.PK()] == nil {
			return errors.Mark(storage.ErrNotFound, 0).Append(m.PK())
		}
	}
	s.put(models, encoded)
	return nil
}

func (s *store) Upsert(_ context.Context, models ...storage.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := encode(models)
	if err != nil {
		return err
	}
	s.put(models, encoded)
	return nil
}

func (s *store) Delete(_ context.Context, model storage.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := storage.Name(model)
	if s.data[n][model.PK()] == nil {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	delete(s.data[n], model.PK())
	return nil
}

func (s *store) Exists(_ context.Context, id string, model storage.Model) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[storage.Name(model)][id] != nil, nil
}

// List always performs a full scan of all items.
func (s *store) List(_ context.Context, models any, filter storage.Model) error {
	modelsVal := reflect.ValueOf(models)
	if modelsVal.Kind() != reflect.Ptr || modelsVal.Elem().Kind() != reflect.Slice {
		return errors.Mark(storage.ErrSliceRequired, 0)
	}
	sliceVal := modelsVal.Elem()
	elemType := sliceVal.Type().Elem()
	if elemType != reflect.TypeOf(filter) {
		return errors.Mark(storage.ErrTypeMismatch, 0)
	}

	want := map[string][]byte{}
	for _, f := range storage.FilterFields(filter) {
		b, err := json.Marshal(f.Value.Interface())
		if err != nil {
			return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
		}
		want[f.Key] = b
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	table := s.data[storage.Name(filter)]
	pks := make([]string, 0, len(table))
	for pk := range table {
		pks = append(pks, pk)
	}
	sort.Strings(pks)

	for _, pk := range pks {
		ok, err := matches(table[pk], want)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		elem := reflect.New(elemType)
		if err := json.Unmarshal(table[pk], elem.Interface()); err != nil {
			return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
		}
		sliceVal.Set(reflect.Append(sliceVal, elem.Elem()))
	}
	return nil
}

func (s *store) put(models []storage.Model, encoded [][]byte) {
	for i, m := range models {
		n := storage.Name(m)
		if s.data[n] == nil {
			s.data[n] = map[string][]byte{}
		}
		s.data[n][m.PK()] = encoded[i]
	}
}

// encode marshals every model up front so that a bad model leaves the store
// untouched.
func encode(models []storage.Model) ([][]byte, error) {
	out := make([][]byte, len(models))
	for i, m := range models {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
		}
		out[i] = b
	}
	return out, nil
}

func matches(record []byte, want map[string][]byte) (bool, error) {
	if len(want) == 0 {
		return true, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(record, &fields); err != nil {
		return false, errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
	}
	for k, v := range want {
		if !bytes.Equal(fields[k], v) {
			return false, nil
		}
	}
	return true, nil
}
