package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/campusync/internal/models"
	"github.com/charlesng35/campusync/internal/offline"
	"github.com/charlesng35/campusync/internal/repository"
	apperrors "github.com/charlesng35/campusync/pkg/errors"
	"github.com/charlesng35/campusync/pkg/logger"
)

// Queue item types for writes mirrored to the remote API.
const (
	TypeAttendance             = "attendance"
	TypeExamResult             = "exam-result"
	TypeExerciseResult         = "exercise-result"
	TypeNotificationPreference = "notification-preference"
)

// PortalOptions tune NewPortal.
type PortalOptions struct {
	// CacheTTL overrides repository.DefaultTTL when positive.
	CacheTTL time.Duration
	// Now overrides the clock used for timestamps.
	Now func() time.Time
}

// Portal owns one repository per domain collection.
type Portal struct {
	Classes                 *repository.Repository[models.Class, *models.Class]
	Recordings              *repository.Repository[models.Recording, *models.Recording]
	Exercises               *repository.Repository[models.Exercise, *models.Exercise]
	Attendance              *repository.Repository[models.AttendanceRecord, *models.AttendanceRecord]
	ExamResults             *repository.Repository[models.ExamResult, *models.ExamResult]
	ExerciseResults         *repository.Repository[models.ExerciseResult, *models.ExerciseResult]
	NotificationPreferences *repository.Repository[models.NotificationPreference, *models.NotificationPreference]

	collections map[string]Collection
	now         func() time.Time
	log         *zap.Logger
}

// NewPortal registers the domain repositories on the runtime's store and cache and
// mirrors student submissions to the remote API through the runtime's queue.
func NewPortal(rt *offline.Runtime, opts PortalOptions) (*Portal, error) {
	if rt == nil {
		return nil, fmt.Errorf("portal: runtime is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	repoOpts := []repository.Option{repository.WithClock(now)}
	if opts.CacheTTL > 0 {
		repoOpts = append(repoOpts, repository.WithTTL(opts.CacheTTL))
	}

	p := &Portal{
		Classes:                 repository.New[models.Class](models.CollectionClasses, rt.Store, rt.Cache, repoOpts...),
		Recordings:              repository.New[models.Recording](models.CollectionRecordings, rt.Store, rt.Cache, repoOpts...),
		Exercises:               repository.New[models.Exercise](models.CollectionExercises, rt.Store, rt.Cache, repoOpts...),
		Attendance:              repository.New[models.AttendanceRecord](models.CollectionAttendance, rt.Store, rt.Cache, repoOpts...),
		ExamResults:             repository.New[models.ExamResult](models.CollectionExamResults, rt.Store, rt.Cache, repoOpts...),
		ExerciseResults:         repository.New[models.ExerciseResult](models.CollectionExerciseResults, rt.Store, rt.Cache, repoOpts...),
		NotificationPreferences: repository.New[models.NotificationPreference](models.CollectionNotificationPreferences, rt.Store, rt.Cache, repoOpts...),
		now:                     now,
		log:                     logger.WithModule("portal"),
	}

	p.Attendance.WithRemote(rt.Queue, repository.RemoteSpec[models.AttendanceRecord]{
		Type:         TypeAttendance,
		Method:       http.MethodPost,
		UpdateMethod: http.MethodPut,
		URL: func(r models.AttendanceRecord) string {
			return "/classes/" + url.PathEscape(r.ClassID) + "/attendance"
		},
	})
	p.ExamResults.WithRemote(rt.Queue, repository.RemoteSpec[models.ExamResult]{
		Type:   TypeExamResult,
		Method: http.MethodPost,
		URL: func(r models.ExamResult) string {
			return "/exams/" + url.PathEscape(r.ExamID) + "/results"
		},
	})
	p.ExerciseResults.WithRemote(rt.Queue, repository.RemoteSpec[models.ExerciseResult]{
		Type:   TypeExerciseResult,
		Method: http.MethodPost,
		URL: func(r models.ExerciseResult) string {
			return "/exercises/" + url.PathEscape(r.ExerciseID) + "/results"
		},
	})
	p.NotificationPreferences.WithRemote(rt.Queue, repository.RemoteSpec[models.NotificationPreference]{
		Type:   TypeNotificationPreference,
		Method: http.MethodPut,
		URL: func(r models.NotificationPreference) string {
			return "/users/" + url.PathEscape(r.UserID) + "/notification-preferences/" + url.PathEscape(r.Channel)
		},
	})

	p.collections = make(map[string]Collection)
	for _, c := range []Collection{
		Adapt(p.Classes, rt.Bus),
		Adapt(p.Recordings, rt.Bus),
		Adapt(p.Exercises, rt.Bus),
		Adapt(p.Attendance, rt.Bus),
		Adapt(p.ExamResults, rt.Bus),
		Adapt(p.ExerciseResults, rt.Bus),
		Adapt(p.NotificationPreferences, rt.Bus),
	} {
		p.collections[c.Name()] = c
	}
	return p, nil
}

// Collection looks a collection up by name.
func (p *Portal) Collection(name string) (Collection, bool) {
	c, ok := p.collections[strings.TrimSpace(name)]
	return c, ok
}

// CollectionNames lists the registered collections in name order.
func (p *Portal) CollectionNames() []string {
	names := make([]string, 0, len(p.collections))
	for name := range p.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarkAttendance records a student's status in a class, updating an earlier mark
// for the same class and student rather than adding a second one.
func (p *Portal) MarkAttendance(ctx context.Context, classID, studentID, status, note string) (models.AttendanceRecord, error) {
	ctx = ensureContext(ctx)
	classID = strings.TrimSpace(classID)
	studentID = strings.TrimSpace(studentID)

	existing, err := p.Attendance.GetAll(ctx, repository.ListOptions{
		Filters: map[string]any{"classId": classID, "studentId": studentID},
	})
	if err != nil {
		return models.AttendanceRecord{}, err
	}

	markedAt := p.now()
	if len(existing) > 0 {
		found, err := p.Attendance.Update(ctx, existing[0].ID, map[string]any{
			"status":   status,
			"note":     note,
			"markedAt": markedAt,
		})
		if err != nil {
			return models.AttendanceRecord{}, err
		}
		if found.OK {
			return found.Entity, nil
		}
	}

	return p.Attendance.Create(ctx, models.AttendanceRecord{
		ClassID:   classID,
		StudentID: studentID,
		Status:    status,
		Note:      note,
		MarkedAt:  markedAt,
	})
}

// RecordExamResult stores a graded exam. The score may not exceed the maximum.
func (p *Portal) RecordExamResult(ctx context.Context, result models.ExamResult) (models.ExamResult, error) {
	if result.MaxScore > 0 && result.Score > result.MaxScore {
		return models.ExamResult{}, apperrors.NewValidation("score exceeds max score", nil)
	}
	if result.SubmittedAt.IsZero() {
		result.SubmittedAt = p.now()
	}
	return p.ExamResults.Create(ensureContext(ctx), result)
}

// RecordExerciseResult stores a completed exercise. When the exercise is known
// locally its max score bounds the result.
func (p *Portal) RecordExerciseResult(ctx context.Context, result models.ExerciseResult) (models.ExerciseResult, error) {
	ctx = ensureContext(ctx)
	if result.ExerciseID != "" {
		exercise, err := p.Exercises.GetByID(ctx, result.ExerciseID, true)
		if err != nil {
			return models.ExerciseResult{}, err
		}
		if exercise.OK && exercise.Entity.MaxScore > 0 && result.Score > exercise.Entity.MaxScore {
			return models.ExerciseResult{}, apperrors.NewValidation("score exceeds max score", nil)
		}
	}
	if result.CompletedAt.IsZero() {
		result.CompletedAt = p.now()
	}
	return p.ExerciseResults.Create(ctx, result)
}

// SaveNotificationPreference creates or replaces the preference for a user and channel.
func (p *Portal) SaveNotificationPreference(ctx context.Context, pref models.NotificationPreference) (models.NotificationPreference, error) {
	ctx = ensureContext(ctx)
	existing, err := p.NotificationPreferences.GetAll(ctx, repository.ListOptions{
		Filters: map[string]any{"userId": pref.UserID, "channel": pref.Channel},
	})
	if err != nil {
		return models.NotificationPreference{}, err
	}
	if len(existing) == 0 {
		return p.NotificationPreferences.Create(ctx, pref)
	}

	topics := pref.Topics
	if topics == nil {
		topics = []string{}
	}
	found, err := p.NotificationPreferences.Update(ctx, existing[0].ID, map[string]any{
		"enabled": pref.Enabled,
		"topics":  topics,
	})
	if err != nil {
		return models.NotificationPreference{}, err
	}
	if !found.OK {
		p.log.Debug("preference removed concurrently, recreating", zap.String("user_id", pref.UserID))
		return p.NotificationPreferences.Create(ctx, pref)
	}
	return found.Entity, nil
}

// UpcomingClasses returns up to limit classes starting from the current minute,
// soonest first. Cancelled classes are left out. The operand moves every minute, so
// the result bypasses the list cache.
func (p *Portal) UpcomingClasses(ctx context.Context, limit int) ([]models.Class, error) {
	useCache := false
	return p.Classes.GetAll(ensureContext(ctx), repository.ListOptions{
		UseCache: &useCache,
		Filters: map[string]any{
			"startsAt": map[string]any{"gte": p.now().UTC().Truncate(time.Minute).Format(time.RFC3339)},
			"status":   map[string]any{"ne": "cancelled"},
		},
		Pagination: &repository.Pagination{OrderBy: "startsAt", Order: repository.OrderAsc, Limit: limit},
	})
}
