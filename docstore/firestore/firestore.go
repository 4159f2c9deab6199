// Package firestore implements docstore.Store on Cloud Firestore.
//
//	app, _ := firebase.NewApp(ctx, &firebase.Config{ProjectID: "mindease"})
//	client, _ := app.Firestore(ctx)
//	docs := firestore.New(client)
package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/mindease/mindease/docstore"
	"github.com/mindease/mindease/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// New returns a document store backed by the client.
func New(client *firestore.Client) *Store {
	return &Store{client: client}
}

// Store implements docstore.Store.
type Store struct {
	client *firestore.Client
}

var _ docstore.Store = (*Store)(nil)

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	data := snap.Data()
	if data == nil {
		return docstore.Document{}, nil
	}
	return docstore.Normalize(data)
}

func (s *Store) Set(ctx context.Context, collection, id string, data docstore.Document, opts ...docstore.SetOption) error {
	data, err := docstore.Normalize(data)
	if err != nil {
		return err
	}
	var fsOpts []firestore.SetOption
	if docstore.ResolveSetOptions(opts...).Merge {
		fsOpts = append(fsOpts, firestore.MergeAll)
	}
	_, err = s.client.Collection(collection).Doc(id).Set(ctx, map[string]any(data), fsOpts...)
	return translateError(err)
}

func (s *Store) Update(ctx context.Context, collection, id string, fields docstore.Document) error {
	fields, err := docstore.Normalize(fields)
	if err != nil {
		return err
	}
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		// FieldPath keeps keys containing dots from being read as paths.
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
	}
	if len(updates) == 0 {
		_, err := s.Get(ctx, collection, id)
		return err
	}
	_, err = s.client.Collection(collection).Doc(id).Update(ctx, updates)
	return translateError(err)
}

func (s *Store) Add(ctx context.Context, collection string, data docstore.Document) (string, error) {
	data, err := docstore.Normalize(data)
	if err != nil {
		return "", err
	}
	ref, _, err := s.client.Collection(collection).Add(ctx, map[string]any(data))
	if err != nil {
		return "", translateError(err)
	}
	return ref.ID, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.client.Collection(collection).Doc(id).Delete(ctx)
	return translateError(err)
}

func (s *Store) List(ctx context.Context, collection string) ([]docstore.Snapshot, error) {
	iter := s.client.Collection(collection).OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []docstore.Snapshot
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, translateError(err)
		}
		data, err := docstore.Normalize(snap.Data())
		if err != nil {
			return nil, err
		}
		out = append(out, docstore.Snapshot{ID: snap.Ref.ID, Data: data})
	}
	return out, nil
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return errors.Mark(docstore.ErrNotFound, 1).Append(err.Error())
	}
	return errors.WithCode(err, status.Code(err))
}
