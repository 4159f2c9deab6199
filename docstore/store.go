package docstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/storage"
)

// record is how documents are persisted in a storage.Store.
type record struct {
	Key        string   `json:"key"`
	Collection string   `json:"collection"`
	ID         string   `json:"id"`
	Data       Document `json:"data"`
}

func (r record) PK() string {
	return r.Key
}

func (record) Name() string {
	return "documents"
}

// New returns a document store that keeps documents as records in s. Read
// modify write operations are serialized, so the store must not be shared
// with another docstore instance.
func New(s storage.Store) Store {
	return &recordStore{store: s}
}

type recordStore struct {
	store storage.Store
	mu    sync.Mutex
}

func key(collection, id string) string {
	return collection + "/" + id
}

func (r *recordStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var rec record
	if err := r.store.Read(ctx, key(collection, id), &rec); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errors.Mark(ErrNotFound, 0).Append(key(collection, id))
		}
		return nil, err
	}
	if rec.Data == nil {
		rec.Data = Document{}
	}
	return rec.Data, nil
}

func (r *recordStore) Set(ctx context.Context, collection, id string, data Document, opts ...SetOption) error {
	data, err := Normalize(data)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ResolveSetOptions(opts...).Merge {
		existing, err := r.Get(ctx, collection, id)
		switch {
		case err == nil:
			MergeInto(existing, data)
			data = existing
		case !errors.Is(err, ErrNotFound):
			return err
		}
	}
	return r.store.Upsert(ctx, record{Key: key(collection, id), Collection: collection, ID: id, Data: data})
}

func (r *recordStore) Update(ctx context.Context, collection, id string, fields Document) error {
	fields, err := Normalize(fields)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	for k, v := range fields {
		existing[k] = v
	}
	return r.store.Update(ctx, record{Key: key(collection, id), Collection: collection, ID: id, Data: existing})
}

func (r *recordStore) Add(ctx context.Context, collection string, data Document) (string, error) {
	data, err := Normalize(data)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := r.store.Create(ctx, record{Key: key(collection, id), Collection: collection, ID: id, Data: data}); err != nil {
		return "", err
	}
	return id, nil
}

func (r *recordStore) Delete(ctx context.Context, collection, id string) error {
	err := r.store.Delete(ctx, record{Key: key(collection, id)})
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func (r *recordStore) List(ctx context.Context, collection string) ([]Snapshot, error) {
	var recs []record
	if err := r.store.List(ctx, &recs, record{Collection: collection}); err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(recs))
	for _, rec := range recs {
		if rec.Data == nil {
			rec.Data = Document{}
		}
		out = append(out, Snapshot{ID: rec.ID, Data: rec.Data})
	}
	return out, nil
}
