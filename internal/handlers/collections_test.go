package handlers_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/campusync/internal/handlers/testutil"
	"github.com/charlesng35/campusync/internal/models"
	"github.com/charlesng35/campusync/internal/repository"
	"github.com/charlesng35/campusync/internal/services"
)

func classPayload(title string, startsAt time.Time) map[string]any {
	return map[string]any{
		"title":           title,
		"teacherId":       "teacher-1",
		"startsAt":        startsAt.UTC().Format(time.RFC3339),
		"durationMinutes": 45,
		"status":          "scheduled",
	}
}

func createClass(t *testing.T, env *testutil.Env, title string, startsAt time.Time) models.Class {
	t.Helper()
	resp := env.MustSucceed(http.MethodPost, "/api/collections/classes", classPayload(title, startsAt), http.StatusCreated)
	var class models.Class
	testutil.DecodeInto(t, resp.Data, &class)
	require.NotEmpty(t, class.ID)
	return class
}

func TestCollectionLifecycle(t *testing.T) {
	env := testutil.NewEnv(t)
	start := time.Now().Add(24 * time.Hour)

	class := createClass(t, env, "Algebra", start)
	require.Equal(t, "Algebra", class.Title)
	require.False(t, class.CreatedAt.IsZero())

	resp := env.MustSucceed(http.MethodGet, "/api/collections/classes", nil, http.StatusOK)
	var listed []models.Class
	testutil.DecodeInto(t, resp.Data, &listed)
	require.Len(t, listed, 1)
	require.NotNil(t, resp.Meta)
	require.Equal(t, 1, resp.Meta.Count)

	resp = env.MustSucceed(http.MethodGet, "/api/collections/classes/"+class.ID, nil, http.StatusOK)
	var fetched models.Class
	testutil.DecodeInto(t, resp.Data, &fetched)
	require.Equal(t, class.ID, fetched.ID)

	resp = env.MustSucceed(http.MethodPatch, "/api/collections/classes/"+class.ID, map[string]any{"status": "live"}, http.StatusOK)
	var updated models.Class
	testutil.DecodeInto(t, resp.Data, &updated)
	require.Equal(t, "live", updated.Status)
	require.Equal(t, class.CreatedAt.Unix(), updated.CreatedAt.Unix())

	resp = env.MustSucceed(http.MethodGet, "/api/collections/classes?status=live", nil, http.StatusOK)
	testutil.DecodeInto(t, resp.Data, &listed)
	require.Len(t, listed, 1)
	resp = env.MustSucceed(http.MethodGet, "/api/collections/classes?status=scheduled", nil, http.StatusOK)
	testutil.DecodeInto(t, resp.Data, &listed)
	require.Empty(t, listed)

	resp = env.MustSucceed(http.MethodDelete, "/api/collections/classes/"+class.ID, nil, http.StatusOK)
	var deleted struct {
		Deleted bool `json:"deleted"`
	}
	testutil.DecodeInto(t, resp.Data, &deleted)
	require.True(t, deleted.Deleted)

	resp = env.MustSucceed(http.MethodDelete, "/api/collections/classes/"+class.ID, nil, http.StatusOK)
	testutil.DecodeInto(t, resp.Data, &deleted)
	require.False(t, deleted.Deleted)

	w := env.Request(http.MethodGet, "/api/collections/classes/"+class.ID, nil)
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
}

func TestCollectionErrors(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/api/collections/unknown", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	resp := testutil.DecodeResponse(t, w)
	require.False(t, resp.Success)
	require.Contains(t, resp.Error.Message, "collection unknown not found")

	w = env.Request(http.MethodPost, "/api/collections/classes", map[string]any{"teacherId": "t-1"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	resp = testutil.DecodeResponse(t, w)
	require.Equal(t, "VALIDATION_FAILED", resp.Error.Code)

	w = env.Request(http.MethodPatch, "/api/collections/classes/missing", map[string]any{"status": "live"})
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())

	w = env.Request(http.MethodPost, "/api/collections/classes/bulk", map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestCollectionQueryAndStats(t *testing.T) {
	env := testutil.NewEnv(t)
	base := time.Now().Add(time.Hour)

	createClass(t, env, "Chemistry", base.Add(2*time.Hour))
	createClass(t, env, "Biology", base)
	createClass(t, env, "Physics", base.Add(time.Hour))

	body := map[string]any{
		"pagination": map[string]any{"orderBy": "startsAt", "order": "asc", "limit": 2},
	}
	resp := env.MustSucceed(http.MethodPost, "/api/collections/classes/query", body, http.StatusOK)
	var page []models.Class
	testutil.DecodeInto(t, resp.Data, &page)
	require.Len(t, page, 2)
	require.Equal(t, "Biology", page[0].Title)
	require.Equal(t, "Physics", page[1].Title)
	require.Equal(t, 2, resp.Meta.Limit)

	resp = env.MustSucceed(http.MethodGet, "/api/collections/classes?q=chem&fields=title", nil, http.StatusOK)
	testutil.DecodeInto(t, resp.Data, &page)
	require.Len(t, page, 1)
	require.Equal(t, "Chemistry", page[0].Title)

	resp = env.MustSucceed(http.MethodGet, "/api/collections/classes/stats", nil, http.StatusOK)
	var stats repository.Stats
	testutil.DecodeInto(t, resp.Data, &stats)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 3, stats.CreatedToday)
	require.Positive(t, stats.StorageSize)

	resp = env.MustSucceed(http.MethodGet, "/api/collections", nil, http.StatusOK)
	var names []string
	testutil.DecodeInto(t, resp.Data, &names)
	require.Contains(t, names, models.CollectionClasses)
	require.Contains(t, names, models.CollectionAttendance)
}

func TestCollectionListFiltersOnTypedFields(t *testing.T) {
	env := testutil.NewEnv(t)
	start := time.Now().Add(24 * time.Hour)

	createClass(t, env, "Algebra", start)
	long := classPayload("Geometry", start.Add(time.Hour))
	long["durationMinutes"] = 90
	env.MustSucceed(http.MethodPost, "/api/collections/classes", long, http.StatusCreated)

	resp := env.MustSucceed(http.MethodGet, "/api/collections/classes?durationMinutes=45", nil, http.StatusOK)
	var classes []models.Class
	testutil.DecodeInto(t, resp.Data, &classes)
	require.Len(t, classes, 1)
	require.Equal(t, "Algebra", classes[0].Title)

	for _, available := range []bool{true, false} {
		env.MustSucceed(http.MethodPost, "/api/collections/recordings", map[string]any{
			"classId":         classes[0].ID,
			"title":           "Lesson recording",
			"url":             "https://media.example.edu/rec.mp4",
			"durationSeconds": 2700,
			"available":       available,
		}, http.StatusCreated)
	}

	resp = env.MustSucceed(http.MethodGet, "/api/collections/recordings?available=true", nil, http.StatusOK)
	var recordings []models.Recording
	testutil.DecodeInto(t, resp.Data, &recordings)
	require.Len(t, recordings, 1)
	require.True(t, recordings[0].Available)

	resp = env.MustSucceed(http.MethodGet, "/api/collections/recordings?durationSeconds=2700", nil, http.StatusOK)
	testutil.DecodeInto(t, resp.Data, &recordings)
	require.Len(t, recordings, 2)
}

func TestCollectionBulkOperations(t *testing.T) {
	env := testutil.NewEnv(t)
	start := time.Now().Add(time.Hour)

	resp := env.MustSucceed(http.MethodPost, "/api/collections/classes/bulk", map[string]any{
		"items": []any{classPayload("One", start), classPayload("Two", start)},
	}, http.StatusCreated)
	var created []models.Class
	testutil.DecodeInto(t, resp.Data, &created)
	require.Len(t, created, 2)
	require.Equal(t, 2, resp.Meta.Count)

	resp = env.MustSucceed(http.MethodPatch, "/api/collections/classes/bulk", map[string]any{
		"patches": []map[string]any{
			{"id": created[0].ID, "changes": map[string]any{"status": "cancelled"}},
			{"id": "missing", "changes": map[string]any{"status": "cancelled"}},
		},
	}, http.StatusOK)
	var updated []models.Class
	testutil.DecodeInto(t, resp.Data, &updated)
	require.Len(t, updated, 1)
	require.Equal(t, "cancelled", updated[0].Status)

	resp = env.MustSucceed(http.MethodDelete, "/api/collections/classes/bulk", map[string]any{
		"ids": []string{created[0].ID, created[1].ID, "missing"},
	}, http.StatusOK)
	var deleted struct {
		Deleted int `json:"deleted"`
	}
	testutil.DecodeInto(t, resp.Data, &deleted)
	require.Equal(t, 2, deleted.Deleted)

	resp = env.MustSucceed(http.MethodGet, "/api/collections/classes", nil, http.StatusOK)
	require.Equal(t, 0, resp.Meta.Count)
}

func TestMirroredCollectionQueuesRemoteWrite(t *testing.T) {
	env := testutil.NewEnv(t)

	env.MustSucceed(http.MethodPost, "/api/collections/attendance", map[string]any{
		"classId":   "class-9",
		"studentId": "student-3",
		"status":    "present",
	}, http.StatusCreated)

	resp := env.MustSucceed(http.MethodGet, "/api/queue", nil, http.StatusOK)
	var items []struct {
		Type   string `json:"type"`
		URL    string `json:"url"`
		Method string `json:"method"`
	}
	testutil.DecodeInto(t, resp.Data, &items)
	require.Len(t, items, 1)
	require.Equal(t, services.TypeAttendance, items[0].Type)
	require.Equal(t, "/classes/class-9/attendance", items[0].URL)
	require.Equal(t, http.MethodPost, items[0].Method)
}
