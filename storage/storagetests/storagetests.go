// Package storagetests provides common acceptance tests for storage.Store
// implementations.
package storagetests

import (
	"context"
	"testing"

	"github.com/mindease/mindease/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Category int

const (
	CategorySleep    Category = 1
	CategoryMovement Category = 2
	CategoryJournal  Category = 3
	CategoryBreath   Category = 4
)

// Habit is a model without json tags, fields are stored under their Go names.
type Habit struct {
	ID       string
	Title    string
	Category Category
	Streak   *int // Ptr fields allow filtering on zero values.
}

func (h Habit) PK() string {
	return h.ID
}

// Reminder is a model with json tags.
type Reminder struct {
	ID      string `json:"id"`
	HabitID string `json:"habitId"`
	Enabled bool   `json:"enabled,omitempty"`
}

func (r Reminder) PK() string {
	return r.ID
}

type BadModel struct {
	ID      string
	Channel chan int
}

func (b BadModel) PK() string {
	return b.ID
}

func pint(i int) *int {
	return &i
}

// Run executes the acceptance suite, newStore must return an empty store.
//
//nolint:funlen // This is a test helper.
func Run(t *testing.T, newStore func() storage.Store) {
	ctx := context.Background()

	t.Run("CreateReadRoundTrip", func(t *testing.T) {
		sleep := Habit{ID: "1", Title: "Lights out by 11", Category: CategorySleep}
		walk := Habit{ID: "2", Title: "Evening walk", Category: CategoryMovement, Streak: pint(3)}

		store := newStore()
		require.NoError(t, store.Create(ctx, sleep, &walk))

		var sleep2, walk2 Habit
		require.NoError(t, store.Read(ctx, "1", &sleep2))
		assert.Equal(t, sleep, sleep2)

		require.NoError(t, store.Read(ctx, "2", &walk2))
		assert.Equal(t, walk, walk2)
	})

	t.Run("CreateConflict", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx, Habit{ID: "1", Title: "Stretch"}))

		err := store.Create(ctx, Habit{ID: "1", Title: "Stretch again"})
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)

		var h Habit
		require.NoError(t, store.Read(ctx, "1", &h))
		assert.Equal(t, "Stretch", h.Title, "conflicting create must not overwrite")
	})

	t.Run("SameIDDifferentModels", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx, Habit{ID: "1", Title: "Breathe"}, Reminder{ID: "1", HabitID: "1"}))

		var r Reminder
		require.NoError(t, store.Read(ctx, "1", &r))
		assert.Equal(t, "1", r.HabitID)
	})

	t.Run("CreateBadModel", func(t *testing.T) {
		store := newStore()
		err := store.Create(ctx, BadModel{ID: "XXX", Channel: make(chan int)})
		assert.ErrorIs(t, err, storage.ErrInvalidModel)
	})

	t.Run("ReadNotFound", func(t *testing.T) {
		store := newStore()
		err := store.Read(ctx, "1", &Habit{})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ReadWithNilPointer", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx, Habit{ID: "1"}))

		var h *Habit
		err := store.Read(ctx, "1", h)
		assert.ErrorIs(t, err, storage.ErrNilModel)
	})

	t.Run("Update", func(t *testing.T) {
		h := Habit{ID: "1", Title: "Journal", Category: CategoryJournal}

		store := newStore()
		require.NoError(t, store.Create(ctx, h))

		h.Streak = pint(10)
		require.NoError(t, store.Update(ctx, h))

		var h2 Habit
		require.NoError(t, store.Read(ctx, "1", &h2))
		assert.Equal(t, h, h2)
	})

	t.Run("UpdateNotExists", func(t *testing.T) {
		store := newStore()
		err := store.Update(ctx, Habit{ID: "1"})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("UpdateBadModel", func(t *testing.T) {
		store := newStore()
		err := store.Update(ctx, BadModel{ID: "XXX", Channel: make(chan int)})
		assert.ErrorIs(t, err, storage.ErrInvalidModel)
	})

	t.Run("Upsert", func(t *testing.T) {
		h := Habit{ID: "1", Title: "Box breathing", Category: CategoryBreath}

		store := newStore()
		require.NoError(t, store.Create(ctx, h))

		h.Streak = pint(1)
		other := Habit{ID: "2", Title: "Sunlight", Category: CategoryMovement}
		require.NoError(t, store.Upsert(ctx, h, other))

		var h2, other2 Habit
		require.NoError(t, store.Read(ctx, "1", &h2))
		assert.Equal(t, h, h2)
		require.NoError(t, store.Read(ctx, "2", &other2))
		assert.Equal(t, other, other2)
	})

	t.Run("UpsertBadModel", func(t *testing.T) {
		store := newStore()
		err := store.Upsert(ctx, BadModel{ID: "XXX", Channel: make(chan int)})
		assert.ErrorIs(t, err, storage.ErrInvalidModel)
	})

	t.Run("Delete", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx, &Habit{ID: "4", Title: "Meditate"}))

		exists, err := store.Exists(ctx, "4", &Habit{})
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, store.Delete(ctx, &Habit{ID: "4"}))

		exists, err = store.Exists(ctx, "4", &Habit{})
		require.NoError(t, err)
		assert.False(t, exists)

		err = store.Delete(ctx, &Habit{ID: "4"})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListErrorCases", func(t *testing.T) {
		store := newStore()
		out := []Habit{}

		tests := []struct {
			name    string
			models  any
			filter  storage.Model
			wantErr error
		}{
			{"Ok", &out, Habit{}, nil},
			{"Not a slice", Habit{}, Habit{}, storage.ErrSliceRequired},
			{"Not a pointer", out, Habit{}, storage.ErrSliceRequired},
			{"Mismatched type", &out, Reminder{}, storage.ErrTypeMismatch},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := store.List(ctx, tt.models, tt.filter)
				if tt.wantErr == nil {
					assert.NoError(t, err)
				} else {
					assert.ErrorIs(t, err, tt.wantErr)
				}
			})
		}
	})

	t.Run("List", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx,
			Habit{"3", "Journal", CategoryJournal, nil},
			Habit{"1", "Lights out", CategorySleep, nil},
			Habit{"2", "Walk", CategoryMovement, nil},
		))

		actual := []Habit{}
		require.NoError(t, store.List(ctx, &actual, Habit{}))

		assert.Equal(t, []Habit{
			{"1", "Lights out", CategorySleep, nil},
			{"2", "Walk", CategoryMovement, nil},
			{"3", "Journal", CategoryJournal, nil},
		}, actual)
	})

	t.Run("ListFilter", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx,
			Habit{"1", "Walk", CategoryMovement, nil},
			Habit{"2", "Lights out", CategorySleep, nil},
			Habit{"3", "Journal", CategoryJournal, nil},
			Habit{"4", "Yoga", CategoryMovement, nil},
			Habit{"5", "No screens", CategorySleep, nil},
		))

		actual := []Habit{}
		require.NoError(t, store.List(ctx, &actual, Habit{Category: CategoryMovement}))

		assert.Equal(t, []Habit{
			{"1", "Walk", CategoryMovement, nil},
			{"4", "Yoga", CategoryMovement, nil},
		}, actual)
	})

	t.Run("ListFilterZero", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx,
			Habit{"1", "Walk", CategoryMovement, pint(4)},
			Habit{"2", "Lights out", CategorySleep, pint(0)},
			Habit{"3", "Journal", CategoryJournal, pint(0)},
			Habit{"4", "Yoga", CategoryMovement, nil},
		))

		actual := []Habit{}
		require.NoError(t, store.List(ctx, &actual, Habit{Streak: pint(0)}))

		assert.Equal(t, []Habit{
			{"2", "Lights out", CategorySleep, pint(0)},
			{"3", "Journal", CategoryJournal, pint(0)},
		}, actual)
	})

	t.Run("ListFilterJSONTags", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx,
			Reminder{ID: "a", HabitID: "1", Enabled: true},
			Reminder{ID: "b", HabitID: "2", Enabled: true},
			Reminder{ID: "c", HabitID: "1"},
		))

		actual := []Reminder{}
		require.NoError(t, store.List(ctx, &actual, Reminder{HabitID: "1"}))
		assert.Equal(t, []Reminder{
			{ID: "a", HabitID: "1", Enabled: true},
			{ID: "c", HabitID: "1"},
		}, actual)

		actual = []Reminder{}
		require.NoError(t, store.List(ctx, &actual, Reminder{HabitID: "1", Enabled: true}))
		assert.Equal(t, []Reminder{{ID: "a", HabitID: "1", Enabled: true}}, actual)
	})

	t.Run("Exists", func(t *testing.T) {
		store := newStore()
		exists, err := store.Exists(ctx, "3", &Habit{})
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, store.Create(ctx, &Habit{ID: "3", Title: "Journal"}))

		exists, err = store.Exists(ctx, "3", &Habit{})
		require.NoError(t, err)
		assert.True(t, exists)
	})
}
