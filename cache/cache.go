// Package cache is the device local durable cache. It keeps small JSON values
// under string keys and survives restarts when backed by a file based store,
// which is what lets a returning user see their profile while offline.
package cache

import (
	"context"
	"encoding/json"

	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/storage"
)

// Well known keys.
const (
	// KeyAuthUser holds the last reconciled profile of the signed in user.
	KeyAuthUser = "authUser"

	// KeyIdentitySession holds the identity provider's persisted session.
	KeyIdentitySession = "identitySession"
)

// Cache is a synchronous key value store.
type Cache interface {
	// Get decodes the value stored under key into v. It reports false when
	// nothing is stored.
	Get(key string, v any) (bool, error)

	// Set stores v under key.
	Set(key string, v any) error

	// Remove deletes the key. Removing a missing key is not an error.
	Remove(key string) error
}

type entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (e entry) PK() string {
	return e.Key
}

func (entry) Name() string {
	return "cache_entries"
}

// New returns a cache that persists entries in s.
func New(s storage.Store) Cache {
	return &storeCache{store: s}
}

type storeCache struct {
	store storage.Store
}

func (c *storeCache) Get(key string, v any) (bool, error) {
	var e entry
	err := c.store.Read(context.Background(), key, &e)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(e.Value, v); err != nil {
		return false, errors.WrapPrefix(err, "cache: decoding "+key, 0)
	}
	return true, nil
}

func (c *storeCache) Set(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.WrapPrefix(err, "cache: encoding "+key, 0)
	}
	return c.store.Upsert(context.Background(), entry{Key: key, Value: b})
}

func (c *storeCache) Remove(key string) error {
	err := c.store.Delete(context.Background(), entry{Key: key})
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}
