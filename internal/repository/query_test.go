package repository

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFieldsOfFlattensEmbeddedRecord(t *testing.T) {
	set := fieldsOf(reflect.TypeOf(lesson{}))

	require.Contains(t, set.byName, "id")
	require.Contains(t, set.byName, "createdAt")
	require.Contains(t, set.byName, "dueAt")
	require.ElementsMatch(t, []string{"id", "title", "status"}, set.strings)
}

func TestFieldValue(t *testing.T) {
	due := time.Date(2024, 9, 10, 0, 0, 0, 0, time.UTC)
	item := lesson{Title: "A", DueAt: &due}
	item.ID = "l-1"

	value, ok := fieldValue(reflect.ValueOf(&item), "id")
	require.True(t, ok)
	require.Equal(t, "l-1", value)

	value, ok = fieldValue(reflect.ValueOf(item), "dueAt")
	require.True(t, ok)
	require.Equal(t, due, value)

	item.DueAt = nil
	_, ok = fieldValue(reflect.ValueOf(item), "dueAt")
	require.False(t, ok)

	_, ok = fieldValue(reflect.ValueOf(item), "unknown")
	require.False(t, ok)
}

func TestCompareValues(t *testing.T) {
	day := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		a, b any
		want int
		ok   bool
	}{
		{"ints", 1, 2, -1, true},
		{"mixed numbers", 2, 2.0, 0, true},
		{"strings", "b", "a", 1, true},
		{"bools", false, true, -1, true},
		{"time vs time", day, day.Add(time.Hour), -1, true},
		{"time vs rfc3339", day, "2024-09-01T00:00:00Z", 0, true},
		{"time vs date", day.Add(time.Hour), "2024-09-01", 1, true},
		{"number vs string", 1, "1", 0, false},
		{"nil", nil, nil, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := compareValues(tc.a, tc.b)
			require.Equal(t, tc.ok, ok)
			if ok {
				require.Equal(t, tc.want, got)
			}
		})
	}
}

func TestEqualValuesMatchesPrintedForm(t *testing.T) {
	require.True(t, equalValues(45, "45"))
	require.True(t, equalValues(float64(4.5), "4.5"))
	require.True(t, equalValues(true, "true"))
	require.True(t, equalValues("false", false))
	require.False(t, equalValues(45, "46"))
	require.False(t, equalValues(true, "yes"))
	require.False(t, equalValues(nil, "<nil>"))
}

func TestApplyRejectsMalformedIn(t *testing.T) {
	_, err := apply([]lesson{{Title: "A"}}, ListOptions{Filters: map[string]any{"level": map[string]any{"in": 3}}})
	require.Error(t, err)
}
