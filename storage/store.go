// Package storage defines a small persistence interface used by the record
// oriented parts of mindease: local password accounts, reset tokens, support
// tickets, the durable cache and the storage backed document store.
//
// Models are structs with a `PK() string` method and are persisted as JSON.
//
//	type Account struct {
//	    ID    string `json:"id"`
//	    Email string `json:"email"`
//	}
//
//	func (a Account) PK() string { return a.ID }
//
//	err := store.Create(ctx, Account{ID: "u1", Email: "a@b.c"})
package storage

import (
	"context"

	"github.com/mindease/mindease/errors"
	"google.golang.org/grpc/codes"
)

var (
	// Returned when a record does not exist.
	ErrNotFound = errors.NewC("record not found", codes.NotFound)

	// Returned when a record conficts with an existing key.
	ErrAlreadyExists = errors.NewC("primary key already exists", codes.AlreadyExists)

	// Returned when List is called with a non-slice.
	ErrSliceRequired = errors.NewC("pointer slice required", codes.InvalidArgument)

	// Returned when a store can not marshal/unmarshal a model.
	ErrInvalidModel = errors.NewC("invalid model", codes.InvalidArgument)

	// Returned when List is called with a filter and slice of mismatching types.
	ErrTypeMismatch = errors.NewC("type mismatch", codes.InvalidArgument)

	// Returned when a store is passed an uninitialized pointer.
	ErrNilModel = errors.NewC("uninitialized pointer passed as model", codes.InvalidArgument)
)

// Store offers a basic CRUUDLE (Create Read Update Upsert Delete List Exists)
// interface.
type Store interface {
	// Create multiple entities. Fails with ErrAlreadyExists if any exist.
	Create(ctx context.Context, models ...Model) error

	// Read a record with the given id.
	Read(ctx context.Context, id string, model Model) error

	// Update multiple entities. Fails with ErrNotFound if any are missing.
	Update(ctx context.Context, models ...Model) error

	// Update or insert multiple entities.
	Upsert(ctx context.Context, models ...Model) error

	// Delete a record. Only the primary key needs to be populated.
	Delete(ctx context.Context, model Model) error

	// List populates the slice of models with records that have fields which
	// match the fields of filter. Zero-value fields will be ignored, unless the
	// field is a pointer. Results are ordered by primary key.
	List(ctx context.Context, models any, filter Model) error

	// Exists returns true if a record with the given id exists.
	Exists(ctx context.Context, id string, model Model) (bool, error)
}

// ModelInitializer is implemented by stores that support per-model
// configuration, for example a table per model in SQL databases.
type ModelInitializer interface {
	// InitModel is called before a model is used. Stores still work without
	// initialization, however data will be stored in a shared table.
	InitModel(ctx context.Context, model Model) error
}

// InitModels initializes each model if the store supports it.
func InitModels(ctx context.Context, s Store, models ...Model) error {
	i, ok := s.(ModelInitializer)
	if !ok {
		return nil
	}
	for _, m := range models {
		if err := i.InitModel(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
