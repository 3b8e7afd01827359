package services

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/campusync/internal/connectivity"
	"github.com/charlesng35/campusync/internal/events"
	"github.com/charlesng35/campusync/internal/models"
	"github.com/charlesng35/campusync/internal/offline"
	"github.com/charlesng35/campusync/internal/queue"
	"github.com/charlesng35/campusync/internal/repository"
	"github.com/charlesng35/campusync/internal/store"
	apperrors "github.com/charlesng35/campusync/pkg/errors"
)

var testNow = time.Date(2024, 9, 2, 9, 30, 0, 0, time.UTC)

func newTestPortal(t *testing.T) (*Portal, *offline.Runtime) {
	t.Helper()
	ctx := context.Background()

	sender := queue.SenderFunc(func(context.Context, queue.Item) error { return nil })
	rt, err := offline.NewRuntime(ctx, store.NewMemoryStore(), sender, offline.Options{
		Queue:        queue.DefaultConfig(),
		Connectivity: []connectivity.Option{connectivity.WithInitialStatus(connectivity.Status{IsOnline: false})},
		QueueOptions: []queue.Option{queue.WithClock(func() time.Time { return testNow })},
	})
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	portal, err := NewPortal(rt, PortalOptions{Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	return portal, rt
}

func queued(t *testing.T, rt *offline.Runtime) []queue.Item {
	t.Helper()
	items, err := rt.Queue.GetQueue(context.Background())
	require.NoError(t, err)
	return items
}

func TestNewPortalRequiresRuntime(t *testing.T) {
	_, err := NewPortal(nil, PortalOptions{})
	require.Error(t, err)
}

func TestPortalRegistersCollections(t *testing.T) {
	portal, _ := newTestPortal(t)

	require.Equal(t, []string{
		models.CollectionAttendance,
		models.CollectionClasses,
		models.CollectionExamResults,
		models.CollectionExerciseResults,
		models.CollectionExercises,
		models.CollectionNotificationPreferences,
		models.CollectionRecordings,
	}, portal.CollectionNames())

	_, ok := portal.Collection("lessons")
	require.False(t, ok)
}

func TestMarkAttendanceUpsertsAndMirrors(t *testing.T) {
	ctx := context.Background()
	portal, rt := newTestPortal(t)

	first, err := portal.MarkAttendance(ctx, "class-1", "stu-1", "late", "")
	require.NoError(t, err)
	require.Equal(t, testNow, first.MarkedAt)

	second, err := portal.MarkAttendance(ctx, "class-1", "stu-1", "present", "arrived at 9:05")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "present", second.Status)

	all, err := portal.Attendance.GetAll(ctx, repository.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 1)

	items := queued(t, rt)
	require.Len(t, items, 2)
	require.Equal(t, TypeAttendance, items[0].Type)
	require.Equal(t, http.MethodPost, items[0].Method)
	require.Equal(t, "/classes/class-1/attendance", items[0].URL)
	require.Equal(t, http.MethodPut, items[1].Method)

	var payload models.AttendanceRecord
	require.NoError(t, json.Unmarshal(items[1].Data, &payload))
	require.Equal(t, "arrived at 9:05", payload.Note)
}

func TestMarkAttendanceRejectsUnknownStatus(t *testing.T) {
	portal, rt := newTestPortal(t)

	_, err := portal.MarkAttendance(context.Background(), "class-1", "stu-1", "sleeping", "")
	require.ErrorIs(t, err, apperrors.ErrValidationFailed)
	require.Empty(t, queued(t, rt))
}

func TestRecordExamResult(t *testing.T) {
	ctx := context.Background()
	portal, rt := newTestPortal(t)

	_, err := portal.RecordExamResult(ctx, models.ExamResult{ExamID: "exam-1", StudentID: "stu-1", Score: 12, MaxScore: 10})
	require.ErrorIs(t, err, apperrors.ErrValidationFailed)

	result, err := portal.RecordExamResult(ctx, models.ExamResult{ExamID: "exam-1", StudentID: "stu-1", Score: 8, MaxScore: 10})
	require.NoError(t, err)
	require.Equal(t, testNow, result.SubmittedAt)

	items := queued(t, rt)
	require.Len(t, items, 1)
	require.Equal(t, TypeExamResult, items[0].Type)
	require.Equal(t, "/exams/exam-1/results", items[0].URL)
}

func TestRecordExerciseResultHonoursExerciseMaxScore(t *testing.T) {
	ctx := context.Background()
	portal, rt := newTestPortal(t)

	exercise, err := portal.Exercises.Create(ctx, models.Exercise{ClassID: "class-1", Title: "Fractions", MaxScore: 10})
	require.NoError(t, err)

	_, err = portal.RecordExerciseResult(ctx, models.ExerciseResult{ExerciseID: exercise.ID, StudentID: "stu-1", Score: 11})
	require.ErrorIs(t, err, apperrors.ErrValidationFailed)

	result, err := portal.RecordExerciseResult(ctx, models.ExerciseResult{ExerciseID: exercise.ID, StudentID: "stu-1", Score: 9})
	require.NoError(t, err)
	require.Equal(t, testNow, result.CompletedAt)

	items := queued(t, rt)
	require.Len(t, items, 1)
	require.Equal(t, TypeExerciseResult, items[0].Type)
}

func TestSaveNotificationPreferenceUpserts(t *testing.T) {
	ctx := context.Background()
	portal, rt := newTestPortal(t)

	created, err := portal.SaveNotificationPreference(ctx, models.NotificationPreference{
		UserID: "user-1", Channel: "push", Enabled: true, Topics: []string{"classes", "grades"},
	})
	require.NoError(t, err)

	updated, err := portal.SaveNotificationPreference(ctx, models.NotificationPreference{
		UserID: "user-1", Channel: "push", Enabled: false,
	})
	require.NoError(t, err)
	require.Equal(t, created.ID, updated.ID)
	require.False(t, updated.Enabled)
	require.Empty(t, updated.Topics)

	_, err = portal.SaveNotificationPreference(ctx, models.NotificationPreference{UserID: "user-1", Channel: "email", Enabled: true})
	require.NoError(t, err)

	all, err := portal.NotificationPreferences.GetAll(ctx, repository.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	items := queued(t, rt)
	require.Len(t, items, 3)
	require.Equal(t, "/users/user-1/notification-preferences/push", items[0].URL)
	require.Equal(t, http.MethodPut, items[1].Method)
}

func TestUpcomingClasses(t *testing.T) {
	ctx := context.Background()
	portal, rt := newTestPortal(t)

	class := func(title string, offset time.Duration, status string) models.Class {
		return models.Class{Title: title, TeacherID: "t-1", StartsAt: testNow.Add(offset), DurationMinutes: 45, Status: status}
	}
	_, err := portal.Classes.BulkCreate(ctx, []models.Class{
		class("later", 3*time.Hour, "scheduled"),
		class("past", -time.Hour, "ended"),
		class("cancelled", 2*time.Hour, "cancelled"),
		class("next", time.Hour, ""),
	})
	require.NoError(t, err)

	upcoming, err := portal.UpcomingClasses(ctx, 10)
	require.NoError(t, err)
	require.Len(t, upcoming, 2)
	require.Equal(t, "next", upcoming[0].Title)
	require.Equal(t, "later", upcoming[1].Title)

	upcoming, err = portal.UpcomingClasses(ctx, 1)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)

	keys, err := store.KeysWithPrefix(ctx, rt.Store, models.CollectionClasses+"_all_")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestCollectionAdapterAnnouncesChanges(t *testing.T) {
	ctx := context.Background()
	portal, rt := newTestPortal(t)

	var mu sync.Mutex
	var changes []ChangeEvent
	rt.Bus.Subscribe(events.CollectionChanged, func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, e.Payload.(ChangeEvent))
	})

	recordings, ok := portal.Collection(models.CollectionRecordings)
	require.True(t, ok)

	created, err := recordings.Create(ctx, json.RawMessage(`{"classId":"class-1","title":"Week 1","url":"https://cdn.example.com/w1.mp4"}`))
	require.NoError(t, err)
	id := created.(models.Recording).ID

	got, found, err := recordings.Get(ctx, id, true)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Week 1", got.(models.Recording).Title)

	_, found, err = recordings.Update(ctx, "missing", map[string]any{"title": "x"})
	require.NoError(t, err)
	require.False(t, found)

	deleted, err := recordings.Delete(ctx, id)
	require.NoError(t, err)
	require.True(t, deleted)
	deleted, err = recordings.Delete(ctx, id)
	require.NoError(t, err)
	require.False(t, deleted)

	mu.Lock()
	require.Equal(t, []ChangeEvent{
		{Collection: models.CollectionRecordings, Action: "created", IDs: []string{id}},
		{Collection: models.CollectionRecordings, Action: "deleted", IDs: []string{id}},
	}, changes)
	mu.Unlock()

	_, err = recordings.Create(ctx, json.RawMessage(`{"title":`))
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = recordings.BulkCreate(ctx, []json.RawMessage{json.RawMessage(`{}`), json.RawMessage(`[]`)})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = recordings.Create(ctx, json.RawMessage(`{"classId":"class-1","title":"Bad","url":"not a url"}`))
	require.ErrorIs(t, err, apperrors.ErrValidationFailed)
}
