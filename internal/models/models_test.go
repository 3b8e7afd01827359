package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordStampAssignsIdentifier(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var class Class
	class.Stamp(now)

	require.NotEmpty(t, class.ID)
	require.Equal(t, now, class.CreatedAt)
	require.Equal(t, now, class.UpdatedAt)

	id := class.ID
	later := now.Add(time.Hour)
	class.Touch(later)
	require.Equal(t, id, class.ID)
	require.Equal(t, now, class.CreatedAt)
	require.Equal(t, later, class.UpdatedAt)
}

func TestClassEndsAt(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	class := Class{StartsAt: start, DurationMinutes: 45}
	require.Equal(t, start.Add(45*time.Minute), class.EndsAt())
}

func TestEntityExposesRecord(t *testing.T) {
	var entity Entity = &Recording{}
	entity.Base().ID = "rec-1"
	require.Equal(t, "rec-1", entity.(*Recording).ID)
}
