// reconciler.go: attendance state transitions driven by recognition events,
// manual overrides and session finalization
package recognition

import (
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/classtrack/classtrack-go/internal/datastore"
	"github.com/classtrack/classtrack-go/internal/errors"
	"github.com/classtrack/classtrack-go/internal/logging"
)

// Reconciler owns the attendance state machine. Every mutation for a
// (session, student) key is serialized under a key-scoped lock so that
// concurrent frames, manual overrides and finalize cannot race a
// check-then-insert into duplicate rows.
type Reconciler struct {
	ds     datastore.Interface
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewReconciler creates a reconciler over the given datastore.
func NewReconciler(ds datastore.Interface) *Reconciler {
	return &Reconciler{
		ds:     ds,
		logger: logging.ForService("reconciler"),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (r *Reconciler) keyLock(sessionID string, studentID uint) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionID + ":" + strconv.Itoa(int(studentID))
	lock, exists := r.locks[key]
	if !exists {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}

// RecordRecognition applies one recognition sighting of the student. The
// session must be active; callers drop events against other states before
// reaching here. The first sighting fixes arrival delay and lateness; repeat
// sightings only extend the seen window and grant the hour's credit. Returns
// the updated record so the caller can build a notification from it.
func (r *Reconciler) RecordRecognition(session *datastore.ClassSession, course *datastore.Course, studentID uint, eventTime time.Time) (*datastore.AttendanceRecord, error) {
	lock := r.keyLock(session.ID, studentID)
	lock.Lock()
	defer lock.Unlock()

	delay := int(math.Floor(eventTime.Sub(session.StartedAt).Minutes()))
	if delay < 0 {
		delay = 0
	}
	isLate := delay > course.LateGraceMinutes

	record, err := r.ds.GetAttendanceRecord(session.ID, studentID)
	if err != nil {
		return nil, err
	}

	if record == nil {
		d := delay
		t := eventTime
		record = &datastore.AttendanceRecord{
			SessionID:           session.ID,
			StudentID:           studentID,
			FirstSeenAt:         &t,
			LastSeenAt:          &t,
			IsPresent:           true,
			IsLate:              isLate,
			ArrivalDelayMinutes: &d,
		}
	} else {
		if record.FirstSeenAt == nil || eventTime.Before(*record.FirstSeenAt) {
			t := eventTime
			record.FirstSeenAt = &t
		}
		if record.LastSeenAt == nil || eventTime.After(*record.LastSeenAt) {
			t := eventTime
			record.LastSeenAt = &t
		}
		record.IsPresent = true
		if record.ArrivalDelayMinutes == nil {
			// Resurfacing after a manual absence counts as a fresh arrival.
			d := delay
			record.ArrivalDelayMinutes = &d
			record.IsLate = isLate
		}
	}

	if err := r.ds.SaveAttendanceRecord(record); err != nil {
		return nil, err
	}

	hourIndex := delay / 60
	entry := &datastore.HourLog{
		SessionID: session.ID,
		StudentID: studentID,
		HourIndex: hourIndex,
		HourStart: session.StartedAt.Add(time.Duration(hourIndex) * time.Hour),
		IsPresent: true,
		Source:    datastore.SourceRecognizer,
	}
	if err := r.ds.UpsertHourLog(entry); err != nil {
		return nil, err
	}
	return record, nil
}

// ManualOverride describes an administrative attendance correction.
type ManualOverride struct {
	Present      bool
	IsLate       *bool      // explicit lateness; nil derives it from delay vs grace
	DelayMinutes *int       // explicit arrival delay; nil computes from the timestamp
	Timestamp    *time.Time // event time for the correction; nil means now
}

// SetManual applies a manual present/absent correction. Unlike recognition
// events it is not gated on session status, but it fails with a not-found
// error when the session does not exist or the student is not enrolled in
// the session's course. Manual values always win over recognizer-derived
// lateness and delay.
func (r *Reconciler) SetManual(sessionID string, studentID uint, override ManualOverride) (*datastore.AttendanceRecord, error) {
	session, err := r.ds.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errors.Newf("session %s not found", sessionID).
			Component("reconciler").
			Category(errors.CategoryNotFound).
			Build()
	}

	enrollment, err := r.ds.GetEnrollment(session.CourseID, studentID)
	if err != nil {
		return nil, err
	}
	if enrollment == nil {
		return nil, errors.Newf("student %d is not enrolled in course %d", studentID, session.CourseID).
			Component("reconciler").
			Category(errors.CategoryNotFound).
			Build()
	}

	lock := r.keyLock(sessionID, studentID)
	lock.Lock()
	defer lock.Unlock()

	if override.Present {
		return r.setManualPresent(session, studentID, override)
	}
	return r.setManualAbsent(session, studentID)
}

func (r *Reconciler) setManualPresent(session *datastore.ClassSession, studentID uint, override ManualOverride) (*datastore.AttendanceRecord, error) {
	eventTime := time.Now().UTC()
	if override.Timestamp != nil {
		eventTime = *override.Timestamp
	}

	delay := int(math.Floor(eventTime.Sub(session.StartedAt).Minutes()))
	if delay < 0 {
		delay = 0
	}
	if override.DelayMinutes != nil {
		delay = *override.DelayMinutes
	}

	course, err := r.ds.GetCourse(session.CourseID)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, errors.Newf("course %d not found", session.CourseID).
			Component("reconciler").
			Category(errors.CategoryNotFound).
			Build()
	}

	record, err := r.ds.GetAttendanceRecord(session.ID, studentID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &datastore.AttendanceRecord{
			SessionID: session.ID,
			StudentID: studentID,
		}
	}

	if record.FirstSeenAt == nil || eventTime.Before(*record.FirstSeenAt) {
		t := eventTime
		record.FirstSeenAt = &t
	}
	if record.LastSeenAt == nil || eventTime.After(*record.LastSeenAt) {
		t := eventTime
		record.LastSeenAt = &t
	}
	record.IsPresent = true
	d := delay
	record.ArrivalDelayMinutes = &d
	record.IsLate = delay > course.LateGraceMinutes
	if override.IsLate != nil {
		record.IsLate = *override.IsLate
	}

	if err := r.ds.SaveAttendanceRecord(record); err != nil {
		return nil, err
	}

	hourIndex := delay / 60
	entry := &datastore.HourLog{
		SessionID: session.ID,
		StudentID: studentID,
		HourIndex: hourIndex,
		HourStart: session.StartedAt.Add(time.Duration(hourIndex) * time.Hour),
		IsPresent: true,
		Source:    datastore.SourceManual,
	}
	if err := r.ds.UpsertHourLog(entry); err != nil {
		return nil, err
	}
	return record, nil
}

// setManualAbsent hard-resets the record. Only the entry hour's log is
// forced absent; later hour entries stay untouched.
func (r *Reconciler) setManualAbsent(session *datastore.ClassSession, studentID uint) (*datastore.AttendanceRecord, error) {
	record, err := r.ds.GetAttendanceRecord(session.ID, studentID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &datastore.AttendanceRecord{
			SessionID: session.ID,
			StudentID: studentID,
		}
	}

	record.FirstSeenAt = nil
	record.LastSeenAt = nil
	record.IsPresent = false
	record.IsLate = false
	record.ArrivalDelayMinutes = nil

	if err := r.ds.SaveAttendanceRecord(record); err != nil {
		return nil, err
	}

	entry := &datastore.HourLog{
		SessionID: session.ID,
		StudentID: studentID,
		HourIndex: 0,
		HourStart: session.StartedAt,
		IsPresent: false,
		Source:    datastore.SourceManual,
	}
	if err := r.ds.UpsertHourLog(entry); err != nil {
		return nil, err
	}
	return record, nil
}

// FinalizeSummary reports what one finalize call did.
type FinalizeSummary struct {
	SessionID        string `json:"session_id"`
	TotalHours       int    `json:"total_hours"`
	Students         int    `json:"students"`
	AlreadyFinalized bool   `json:"already_finalized"`
}

// Finalize ends the session, back-fills absence rows and adds each
// enrolled student's absent hours to their cumulative total. Idempotent: a
// repeat call finds the session already finalized and changes nothing.
func (r *Reconciler) Finalize(sessionID string, now time.Time) (*FinalizeSummary, error) {
	session, err := r.ds.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errors.Newf("session %s not found", sessionID).
			Component("reconciler").
			Category(errors.CategoryNotFound).
			Build()
	}

	transitioned, err := r.ds.MarkSessionFinalized(sessionID, now)
	if err != nil {
		return nil, err
	}

	endedAt := now
	if !transitioned {
		// Lost the transition to an earlier call; report its outcome.
		session, err = r.ds.GetSession(sessionID)
		if err != nil {
			return nil, err
		}
		if session.EndedAt != nil {
			endedAt = *session.EndedAt
		}
		return &FinalizeSummary{
			SessionID:        sessionID,
			TotalHours:       totalSessionHours(session.StartedAt, endedAt),
			AlreadyFinalized: true,
		}, nil
	}

	totalHours := totalSessionHours(session.StartedAt, endedAt)

	entries, err := r.ds.ListEnrollments(session.CourseID)
	if err != nil {
		return nil, err
	}

	for i := range entries {
		studentID := entries[i].StudentID

		lock := r.keyLock(sessionID, studentID)
		lock.Lock()
		err := r.backfillStudent(session, studentID, totalHours)
		lock.Unlock()
		if err != nil {
			return nil, err
		}

		absent, err := r.ds.CountAbsentHours(sessionID, studentID, totalHours)
		if err != nil {
			return nil, err
		}
		if absent > 0 {
			if err := r.ds.AddEnrollmentAbsence(session.CourseID, studentID, float64(absent), now); err != nil {
				return nil, err
			}
		}
	}

	r.logger.Info("session finalized",
		"session_id", sessionID,
		"course_id", session.CourseID,
		"total_hours", totalHours,
		"students", len(entries))

	return &FinalizeSummary{
		SessionID:  sessionID,
		TotalHours: totalHours,
		Students:   len(entries),
	}, nil
}

func (r *Reconciler) backfillStudent(session *datastore.ClassSession, studentID uint, totalHours int) error {
	record, err := r.ds.GetAttendanceRecord(session.ID, studentID)
	if err != nil {
		return err
	}
	if record == nil {
		record = &datastore.AttendanceRecord{
			SessionID: session.ID,
			StudentID: studentID,
			IsPresent: false,
		}
		if err := r.ds.SaveAttendanceRecord(record); err != nil {
			return err
		}
	}

	for hourIndex := 0; hourIndex < totalHours; hourIndex++ {
		entry := &datastore.HourLog{
			SessionID: session.ID,
			StudentID: studentID,
			HourIndex: hourIndex,
			HourStart: session.StartedAt.Add(time.Duration(hourIndex) * time.Hour),
			IsPresent: false,
			Source:    datastore.SourceSystem,
		}
		if _, err := r.ds.EnsureHourLog(entry); err != nil {
			return err
		}
	}
	return nil
}

// totalSessionHours derives the billable hour count from the session's
// duration: whole minutes floored with a one minute minimum, then rounded
// up to full hours with a one hour minimum.
func totalSessionHours(startedAt, endedAt time.Time) int {
	minutes := int(math.Floor(endedAt.Sub(startedAt).Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	hours := (minutes + 59) / 60
	if hours < 1 {
		hours = 1
	}
	return hours
}
