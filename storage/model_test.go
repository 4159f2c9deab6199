package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Journal struct {
	ID   string
	Name string
}

func (j Journal) PK() string {
	return j.ID
}

type MoodEntry struct {
	ID    string `json:"id"`
	Mood  string `json:"mood,omitempty"`
	Score *int   `json:"score"`
	Note  string `json:"-"`
	count int
}

func (m MoodEntry) PK() string {
	return m.ID
}

type Device struct {
	ID string
}

func (d Device) PK() string {
	return d.ID
}

func (d Device) Name() string {
	return "trusted_devices"
}

func TestName(t *testing.T) {
	tests := []struct {
		name  string
		model any
		want  string
	}{
		{name: "single word struct", model: Journal{}, want: "journals"},
		{name: "multi word struct", model: MoodEntry{}, want: "mood_entries"},
		{name: "manual override", model: Device{}, want: "trusted_devices"},
		{name: "slice", model: []Journal{}, want: "journals"},
		{name: "pointer to slice", model: &[]MoodEntry{}, want: "mood_entries"},
	}
	for i := 0; i < 3; i++ {
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.want, Name(tt.model), "iteration %d", i)
			})
		}
	}
}

func TestValidateReceiver(t *testing.T) {
	var nilJournal *Journal
	assert.ErrorIs(t, ValidateReceiver(nilJournal), ErrNilModel)
	assert.ErrorIs(t, ValidateReceiver(nil), ErrNilModel)
	assert.NoError(t, ValidateReceiver(&Journal{}))
}

func TestFilterFields(t *testing.T) {
	zero := 0
	fields := FilterFields(MoodEntry{Mood: "calm", Score: &zero, Note: "ignored", count: 3})
	require.Len(t, fields, 2)
	assert.Equal(t, "mood", fields[0].Key)
	assert.Equal(t, "calm", fields[0].Value.Interface())
	assert.Equal(t, "score", fields[1].Key)

	assert.Empty(t, FilterFields(MoodEntry{}))
	assert.Len(t, FilterFields(&Journal{Name: "x"}), 1)
}
