package models

import "time"

// Collection names used by the portal repositories.
const (
	CollectionClasses                 = "classes"
	CollectionRecordings              = "recordings"
	CollectionExercises               = "exercises"
	CollectionAttendance              = "attendance"
	CollectionExamResults             = "exam_results"
	CollectionExerciseResults         = "exercise_results"
	CollectionNotificationPreferences = "notification_preferences"
)

// Class is a scheduled live lesson.
type Class struct {
	Record

	Title           string    `json:"title" validate:"required,max=200"`
	Subject         string    `json:"subject,omitempty"`
	TeacherID       string    `json:"teacherId" validate:"required"`
	StartsAt        time.Time `json:"startsAt" validate:"required"`
	DurationMinutes int       `json:"durationMinutes" validate:"gt=0"`
	MeetingID       string    `json:"meetingId,omitempty"`
	Status          string    `json:"status,omitempty" validate:"omitempty,oneof=scheduled live ended cancelled"`
}

// EndsAt returns the scheduled end of the class.
func (c Class) EndsAt() time.Time {
	return c.StartsAt.Add(time.Duration(c.DurationMinutes) * time.Minute)
}

// Recording references a stored class recording.
type Recording struct {
	Record

	ClassID         string `json:"classId" validate:"required"`
	Title           string `json:"title" validate:"required"`
	URL             string `json:"url" validate:"required,url"`
	DurationSeconds int    `json:"durationSeconds" validate:"gte=0"`
	Available       bool   `json:"available"`
}

// Exercise is homework or practice attached to a class.
type Exercise struct {
	Record

	ClassID     string     `json:"classId" validate:"required"`
	Title       string     `json:"title" validate:"required"`
	Description string     `json:"description,omitempty"`
	DueAt       *time.Time `json:"dueAt,omitempty"`
	MaxScore    float64    `json:"maxScore" validate:"gte=0"`
}

// AttendanceRecord marks a student's presence in a class.
type AttendanceRecord struct {
	Record

	ClassID   string    `json:"classId" validate:"required"`
	StudentID string    `json:"studentId" validate:"required"`
	Status    string    `json:"status" validate:"required,oneof=present absent late excused"`
	MarkedAt  time.Time `json:"markedAt"`
	Note      string    `json:"note,omitempty" validate:"max=500"`
}

// ExamResult stores a graded exam submission.
type ExamResult struct {
	Record

	ExamID      string    `json:"examId" validate:"required"`
	StudentID   string    `json:"studentId" validate:"required"`
	Score       float64   `json:"score" validate:"gte=0"`
	MaxScore    float64   `json:"maxScore" validate:"gt=0"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// ExerciseResult stores a completed exercise.
type ExerciseResult struct {
	Record

	ExerciseID  string         `json:"exerciseId" validate:"required"`
	StudentID   string         `json:"studentId" validate:"required"`
	Score       float64        `json:"score" validate:"gte=0"`
	Answers     map[string]any `json:"answers,omitempty"`
	CompletedAt time.Time      `json:"completedAt"`
}

// NotificationPreference captures how a user wants to be notified.
type NotificationPreference struct {
	Record

	UserID  string   `json:"userId" validate:"required"`
	Channel string   `json:"channel" validate:"required,oneof=email push sms"`
	Enabled bool     `json:"enabled"`
	Topics  []string `json:"topics,omitempty"`
}
