// Package docstore is a small document database abstraction shaped after
// Firestore: named collections of schemaless documents addressed by id.
//
// Two implementations are provided. New adapts any storage.Store, which is
// what tests and single machine deployments use, and the firestore
// subpackage talks to Cloud Firestore.
//
// Values are JSON compatible. Set and Update normalize data through JSON, so
// numbers read back as float64 and time.Time values as RFC 3339 strings
// regardless of the backend.
package docstore

import (
	"context"
	"encoding/json"

	"github.com/mindease/mindease/errors"
	"google.golang.org/grpc/codes"
)

var (
	// Returned when a document does not exist.
	ErrNotFound = errors.NewC("document not found", codes.NotFound)

	// Returned when a document can not be encoded.
	ErrInvalidDocument = errors.NewC("invalid document", codes.InvalidArgument)
)

// Document is the content of a single document.
type Document map[string]any

// Snapshot is a document together with its id, as returned by List.
type Snapshot struct {
	ID   string
	Data Document
}

// Store reads and writes documents.
type Store interface {
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Set writes the document, replacing it unless Merge is passed.
	Set(ctx context.Context, collection, id string, data Document, opts ...SetOption) error

	// Update overwrites the given top level fields of an existing document. It
	// fails with ErrNotFound if the document is missing.
	Update(ctx context.Context, collection, id string, fields Document) error

	// Add creates a document with a generated id.
	Add(ctx context.Context, collection string, data Document) (string, error)

	// Delete removes the document. Deleting a missing document is not an
	// error.
	Delete(ctx context.Context, collection, id string) error

	// List returns every document in the collection ordered by id.
	List(ctx context.Context, collection string) ([]Snapshot, error)
}

// SetOption configures Set.
type SetOption func(*SetOptions)

// SetOptions are the resolved options for a Set call.
type SetOptions struct {
	Merge bool
}

// Merge makes Set keep fields that are not present in data. Nested maps are
// merged recursively.
func Merge() SetOption {
	return func(o *SetOptions) {
		o.Merge = true
	}
}

// ResolveSetOptions applies opts.
func ResolveSetOptions(opts ...SetOption) SetOptions {
	var o SetOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Normalize converts data into its JSON representation.
func Normalize(data Document) (Document, error) {
	if data == nil {
		return Document{}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Mark(ErrInvalidDocument, 0).Append(err.Error())
	}
	var out Document
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, errors.Mark(ErrInvalidDocument, 0).Append(err.Error())
	}
	return out, nil
}

// Encode converts a struct into a Document using its json tags.
func Encode(v any) (Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Mark(ErrInvalidDocument, 0).Append(err.Error())
	}
	var out Document
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, errors.Mark(ErrInvalidDocument, 0).Append(err.Error())
	}
	return out, nil
}

// Decode populates v, a pointer to a struct, from a document.
func Decode(doc Document, v any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return errors.Mark(ErrInvalidDocument, 0).Append(err.Error())
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errors.Mark(ErrInvalidDocument, 0).Append(err.Error())
	}
	return nil
}

// MergeInto copies src into dst, recursing into nested maps.
func MergeInto(dst, src Document) {
	for k, v := range src {
		sm, ok := asDocument(v)
		if !ok {
			dst[k] = v
			continue
		}
		dm, ok := asDocument(dst[k])
		if !ok {
			dm = Document{}
		}
		MergeInto(dm, sm)
		dst[k] = dm
	}
}

func asDocument(v any) (Document, bool) {
	switch m := v.(type) {
	case Document:
		return m, true
	case map[string]any:
		return Document(m), true
	}
	return nil, false
}
