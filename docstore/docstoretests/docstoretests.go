// Package docstoretests provides common acceptance tests for docstore.Store
// implementations.
package docstoretests

import (
	"context"
	"testing"
	"time"

	"github.com/mindease/mindease/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run executes the suite. newStore returns a store together with a prefix for
// collection names, which lets shared backends isolate each subtest.
//
//nolint:funlen // This is a test helper.
func Run(t *testing.T, newStore func() (docstore.Store, string)) {
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		s, p := newStore()
		_, err := s.Get(ctx, p+"users", "nobody")
		assert.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("SetGetRoundTrip", func(t *testing.T) {
		s, p := newStore()
		created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
		require.NoError(t, s.Set(ctx, p+"users", "u1", docstore.Document{
			"displayName": "Ada",
			"isAdmin":     false,
			"sessions":    3,
			"createdAt":   created,
			"prefs":       map[string]any{"theme": "dark"},
		}))

		doc, err := s.Get(ctx, p+"users", "u1")
		require.NoError(t, err)
		assert.Equal(t, "Ada", doc["displayName"])
		assert.Equal(t, false, doc["isAdmin"])
		assert.EqualValues(t, 3, doc["sessions"])
		assert.Equal(t, created.Format(time.RFC3339), doc["createdAt"])
		assert.Equal(t, map[string]any{"theme": "dark"}, doc["prefs"])
	})

	t.Run("SetReplaces", func(t *testing.T) {
		s, p := newStore()
		require.NoError(t, s.Set(ctx, p+"users", "u1", docstore.Document{"a": "1", "b": "2"}))
		require.NoError(t, s.Set(ctx, p+"users", "u1", docstore.Document{"a": "3"}))

		doc, err := s.Get(ctx, p+"users", "u1")
		require.NoError(t, err)
		assert.Equal(t, docstore.Document{"a": "3"}, doc)
	})

	t.Run("SetMerge", func(t *testing.T) {
		s, p := newStore()
		require.NoError(t, s.Set(ctx, p+"users", "u1", docstore.Document{
			"displayName": "Ada",
			"phone":       "555",
			"prefs":       map[string]any{"theme": "dark", "lang": "en"},
		}))
		require.NoError(t, s.Set(ctx, p+"users", "u1", docstore.Document{
			"phone": "777",
			"prefs": map[string]any{"lang": "fr"},
		}, docstore.Merge()))

		doc, err := s.Get(ctx, p+"users", "u1")
		require.NoError(t, err)
		assert.Equal(t, "Ada", doc["displayName"])
		assert.Equal(t, "777", doc["phone"])
		assert.Equal(t, map[string]any{"theme": "dark", "lang": "fr"}, doc["prefs"])
	})

	t.Run("SetMergeCreates", func(t *testing.T) {
		s, p := newStore()
		require.NoError(t, s.Set(ctx, p+"users", "u2", docstore.Document{"phone": "1"}, docstore.Merge()))

		doc, err := s.Get(ctx, p+"users", "u2")
		require.NoError(t, err)
		assert.Equal(t, docstore.Document{"phone": "1"}, doc)
	})

	t.Run("Update", func(t *testing.T) {
		s, p := newStore()
		require.NoError(t, s.Set(ctx, p+"users", "u1", docstore.Document{"isBanned": false, "role": "user"}))
		require.NoError(t, s.Update(ctx, p+"users", "u1", docstore.Document{"isBanned": true, "banReason": "spam"}))

		doc, err := s.Get(ctx, p+"users", "u1")
		require.NoError(t, err)
		assert.Equal(t, docstore.Document{"isBanned": true, "banReason": "spam", "role": "user"}, doc)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		s, p := newStore()
		err := s.Update(ctx, p+"users", "ghost", docstore.Document{"isBanned": true})
		assert.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		s, p := newStore()
		require.NoError(t, s.Set(ctx, p+"users", "u1", docstore.Document{"a": "b"}))
		require.NoError(t, s.Delete(ctx, p+"users", "u1"))

		_, err := s.Get(ctx, p+"users", "u1")
		assert.ErrorIs(t, err, docstore.ErrNotFound)

		assert.NoError(t, s.Delete(ctx, p+"users", "u1"), "deleting twice is fine")
	})

	t.Run("AddAndList", func(t *testing.T) {
		s, p := newStore()
		id1, err := s.Add(ctx, p+"adminAuditLog", docstore.Document{"action": "ban_user"})
		require.NoError(t, err)
		id2, err := s.Add(ctx, p+"adminAuditLog", docstore.Document{"action": "unban_user"})
		require.NoError(t, err)
		assert.NotEqual(t, id1, id2)

		require.NoError(t, s.Set(ctx, p+"users", "u1", docstore.Document{"a": "b"}))

		snaps, err := s.List(ctx, p+"adminAuditLog")
		require.NoError(t, err)
		require.Len(t, snaps, 2)

		actions := map[string]any{}
		for i, snap := range snaps {
			actions[snap.ID] = snap.Data["action"]
			if i > 0 {
				assert.Less(t, snaps[i-1].ID, snap.ID, "ordered by id")
			}
		}
		assert.Equal(t, map[string]any{id1: "ban_user", id2: "unban_user"}, actions)
	})

	t.Run("ListEmpty", func(t *testing.T) {
		s, p := newStore()
		snaps, err := s.List(ctx, p+"nothing")
		require.NoError(t, err)
		assert.Empty(t, snaps)
	})

	t.Run("InvalidDocument", func(t *testing.T) {
		s, p := newStore()
		err := s.Set(ctx, p+"users", "u1", docstore.Document{"bad": make(chan int)})
		assert.ErrorIs(t, err, docstore.ErrInvalidDocument)
	})
}
