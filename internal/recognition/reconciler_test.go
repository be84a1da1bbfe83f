package recognition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classtrack/classtrack-go/internal/conf"
	"github.com/classtrack/classtrack-go/internal/datastore"
	"github.com/classtrack/classtrack-go/internal/errors"
)

// newTestStore opens a temporary SQLite datastore for engine-level tests.
func newTestStore(t *testing.T) datastore.Interface {
	t.Helper()

	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = t.TempDir() + "/test.db"

	ds := datastore.New(settings)
	require.NoError(t, ds.Open(), "Failed to open database")
	t.Cleanup(func() {
		assert.NoError(t, ds.Close(), "Failed to close datastore")
	})
	return ds
}

type fixture struct {
	ds      datastore.Interface
	course  *datastore.Course
	student *datastore.Student
	session *datastore.ClassSession
}

// newFixture seeds a course with one enrolled student and an active session
// started at the given time.
func newFixture(t *testing.T, startedAt time.Time) *fixture {
	t.Helper()
	ds := newTestStore(t)

	course := &datastore.Course{
		Code:                  "CS101",
		Name:                  "Introduction to Computing",
		LateGraceMinutes:      10,
		MaxAllowedAbsentHours: 8,
		IsActive:              true,
	}
	require.NoError(t, ds.CreateCourse(course))

	student := &datastore.Student{Code: "S-1001", FullName: "Dana Rowe", Email: "dana@example.edu"}
	require.NoError(t, ds.CreateStudentAndEnroll(student, &datastore.Enrollment{CourseID: course.ID}))

	session := &datastore.ClassSession{
		ID:        "aaaaaaaa-0000-0000-0000-000000000001",
		CourseID:  course.ID,
		StartedAt: startedAt,
		Status:    datastore.SessionActive,
	}
	require.NoError(t, ds.CreateSession(session))

	return &fixture{ds: ds, course: course, student: student, session: session}
}

func TestRecordRecognitionFirstSightingSetsArrival(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)
	r := NewReconciler(f.ds)

	record, err := r.RecordRecognition(f.session, f.course, f.student.ID, t0.Add(5*time.Minute))
	require.NoError(t, err)

	assert.True(t, record.IsPresent)
	assert.False(t, record.IsLate, "5 minutes is inside the 10 minute grace")
	require.NotNil(t, record.ArrivalDelayMinutes)
	assert.Equal(t, 5, *record.ArrivalDelayMinutes)

	logs, err := f.ds.ListHourLogs(f.session.ID, f.student.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 0, logs[0].HourIndex)
	assert.True(t, logs[0].IsPresent)
	assert.Equal(t, datastore.SourceRecognizer, logs[0].Source)
	assert.Equal(t, t0, logs[0].HourStart.UTC())
}

func TestRecordRecognitionRepeatSightingKeepsArrival(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)
	r := NewReconciler(f.ds)

	_, err := r.RecordRecognition(f.session, f.course, f.student.ID, t0.Add(5*time.Minute))
	require.NoError(t, err)

	record, err := r.RecordRecognition(f.session, f.course, f.student.ID, t0.Add(65*time.Minute))
	require.NoError(t, err)

	// Only the first sighting governs arrival.
	require.NotNil(t, record.ArrivalDelayMinutes)
	assert.Equal(t, 5, *record.ArrivalDelayMinutes)
	assert.False(t, record.IsLate)
	assert.Equal(t, t0.Add(5*time.Minute), record.FirstSeenAt.UTC())
	assert.Equal(t, t0.Add(65*time.Minute), record.LastSeenAt.UTC())

	// But the second hour's credit is granted.
	logs, err := f.ds.ListHourLogs(f.session.ID, f.student.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, 1, logs[1].HourIndex)
	assert.True(t, logs[1].IsPresent)
	assert.Equal(t, t0.Add(time.Hour), logs[1].HourStart.UTC())
}

func TestRecordRecognitionLateArrival(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)
	r := NewReconciler(f.ds)

	record, err := r.RecordRecognition(f.session, f.course, f.student.ID, t0.Add(11*time.Minute))
	require.NoError(t, err)
	assert.True(t, record.IsLate, "11 minutes exceeds the 10 minute grace")
}

func TestRecordRecognitionClampsNegativeDelay(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)
	r := NewReconciler(f.ds)

	// A camera clock slightly ahead of the server produces a pre-start event.
	record, err := r.RecordRecognition(f.session, f.course, f.student.ID, t0.Add(-2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, record.ArrivalDelayMinutes)
	assert.Equal(t, 0, *record.ArrivalDelayMinutes)
	assert.False(t, record.IsLate)
}

func TestSetManualAbsentResetsRecord(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)
	r := NewReconciler(f.ds)

	_, err := r.RecordRecognition(f.session, f.course, f.student.ID, t0.Add(5*time.Minute))
	require.NoError(t, err)

	record, err := r.SetManual(f.session.ID, f.student.ID, ManualOverride{Present: false})
	require.NoError(t, err)

	assert.False(t, record.IsPresent)
	assert.False(t, record.IsLate)
	assert.Nil(t, record.FirstSeenAt)
	assert.Nil(t, record.LastSeenAt)
	assert.Nil(t, record.ArrivalDelayMinutes)

	logs, err := f.ds.ListHourLogs(f.session.ID, f.student.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].IsPresent)
	assert.Equal(t, datastore.SourceManual, logs[0].Source)
}

func TestSetManualPresentOverridesArrival(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)
	r := NewReconciler(f.ds)

	_, err := r.RecordRecognition(f.session, f.course, f.student.ID, t0.Add(30*time.Minute))
	require.NoError(t, err)

	delay := 3
	record, err := r.SetManual(f.session.ID, f.student.ID, ManualOverride{
		Present:      true,
		DelayMinutes: &delay,
	})
	require.NoError(t, err)

	// Manual corrections win over recognizer-derived values.
	require.NotNil(t, record.ArrivalDelayMinutes)
	assert.Equal(t, 3, *record.ArrivalDelayMinutes)
	assert.False(t, record.IsLate)

	// An explicit is_late wins over the delay-derived value, in both
	// directions.
	late := true
	record, err = r.SetManual(f.session.ID, f.student.ID, ManualOverride{
		Present:      true,
		IsLate:       &late,
		DelayMinutes: &delay,
	})
	require.NoError(t, err)
	assert.True(t, record.IsLate, "forced late despite delay within grace")
	require.NotNil(t, record.ArrivalDelayMinutes)
	assert.Equal(t, 3, *record.ArrivalDelayMinutes)

	notLate := false
	bigDelay := 45
	record, err = r.SetManual(f.session.ID, f.student.ID, ManualOverride{
		Present:      true,
		IsLate:       &notLate,
		DelayMinutes: &bigDelay,
	})
	require.NoError(t, err)
	assert.False(t, record.IsLate, "forced on-time despite delay past grace")
}

func TestSetManualUnknownSessionIsNotFound(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)
	r := NewReconciler(f.ds)

	_, err := r.SetManual("ffffffff-0000-0000-0000-000000000000", f.student.ID, ManualOverride{Present: true})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestSetManualUnenrolledStudentIsNotFound(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)
	r := NewReconciler(f.ds)

	_, err := r.SetManual(f.session.ID, f.student.ID+99, ManualOverride{Present: true})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestFinalizeNoSightings(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)
	r := NewReconciler(f.ds)

	// 150 minute session: ceil(150/60) = 3 hours.
	summary, err := r.Finalize(f.session.ID, t0.Add(150*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalHours)
	assert.Equal(t, 1, summary.Students)
	assert.False(t, summary.AlreadyFinalized)

	logs, err := f.ds.ListHourLogs(f.session.ID, f.student.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	for i, entry := range logs {
		assert.Equal(t, i, entry.HourIndex)
		assert.False(t, entry.IsPresent)
		assert.Equal(t, datastore.SourceSystem, entry.Source)
	}

	enrollment, err := f.ds.GetEnrollment(f.course.ID, f.student.ID)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, enrollment.HoursAbsentTotal, 0.001)

	record, err := f.ds.GetAttendanceRecord(f.session.ID, f.student.ID)
	require.NoError(t, err)
	require.NotNil(t, record, "finalize creates an absent record for unseen students")
	assert.False(t, record.IsPresent)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)
	r := NewReconciler(f.ds)

	_, err := r.Finalize(f.session.ID, t0.Add(150*time.Minute))
	require.NoError(t, err)

	summary, err := r.Finalize(f.session.ID, t0.Add(200*time.Minute))
	require.NoError(t, err)
	assert.True(t, summary.AlreadyFinalized)
	assert.Equal(t, 3, summary.TotalHours, "repeat call reports the original duration")

	logs, err := f.ds.ListHourLogs(f.session.ID, f.student.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 3, "no extra hour rows on repeat finalize")

	enrollment, err := f.ds.GetEnrollment(f.course.ID, f.student.ID)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, enrollment.HoursAbsentTotal, 0.001, "absence total added exactly once")
}

func TestFinalizePreservesEarnedHours(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)
	r := NewReconciler(f.ds)

	// Present in hour 1 only.
	_, err := r.RecordRecognition(f.session, f.course, f.student.ID, t0.Add(65*time.Minute))
	require.NoError(t, err)

	_, err = r.Finalize(f.session.ID, t0.Add(150*time.Minute))
	require.NoError(t, err)

	logs, err := f.ds.ListHourLogs(f.session.ID, f.student.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3, "hour rows are contiguous 0..total_hours-1")

	assert.False(t, logs[0].IsPresent)
	assert.True(t, logs[1].IsPresent, "recognizer credit survives back-fill")
	assert.Equal(t, datastore.SourceRecognizer, logs[1].Source)
	assert.False(t, logs[2].IsPresent)

	enrollment, err := f.ds.GetEnrollment(f.course.ID, f.student.ID)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, enrollment.HoursAbsentTotal, 0.001)
}

func TestFinalizeShortSessionHasOneHour(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)
	r := NewReconciler(f.ds)

	summary, err := r.Finalize(f.session.ID, t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalHours, "duration floors to one billable hour")
}

func TestFinalizeUnknownSessionIsNotFound(t *testing.T) {
	ds := newTestStore(t)
	r := NewReconciler(ds)

	_, err := r.Finalize("ffffffff-0000-0000-0000-000000000000", time.Now().UTC())
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}
