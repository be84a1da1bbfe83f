package mailer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classtrack/classtrack-go/internal/conf"
	"github.com/classtrack/classtrack-go/internal/datastore"
)

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

// seedAbsentee creates a finalized session with one absent enrolled student.
func seedAbsentee(t *testing.T, ds datastore.Interface, email string) (sessionID string, studentID uint) {
	t.Helper()

	course := &datastore.Course{
		Code:                  "CS101",
		Name:                  "Introduction to Computing",
		LateGraceMinutes:      10,
		MaxAllowedAbsentHours: 8,
		IsActive:              true,
	}
	require.NoError(t, ds.CreateCourse(course))

	student := &datastore.Student{Code: "S-1001", FullName: "Dana Rowe", Email: email}
	require.NoError(t, ds.CreateStudentAndEnroll(student, &datastore.Enrollment{CourseID: course.ID, HoursAbsentTotal: 3}))

	session := &datastore.ClassSession{
		ID:        "aaaaaaaa-0000-0000-0000-000000000001",
		CourseID:  course.ID,
		StartedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Status:    datastore.SessionActive,
	}
	require.NoError(t, ds.CreateSession(session))

	require.NoError(t, ds.SaveAttendanceRecord(&datastore.AttendanceRecord{
		SessionID: session.ID,
		StudentID: student.ID,
		IsPresent: false,
	}))

	_, err := ds.MarkSessionFinalized(session.ID, session.StartedAt.Add(2*time.Hour))
	require.NoError(t, err)

	return session.ID, student.ID
}

func dispatchRows(t *testing.T, ds datastore.Interface, sessionID string) []datastore.EmailDispatchLog {
	t.Helper()
	store, ok := ds.(*datastore.SQLiteStore)
	require.True(t, ok)

	var rows []datastore.EmailDispatchLog
	require.NoError(t, store.DB.Where("session_id = ?", sessionID).Find(&rows).Error)
	return rows
}

func TestSendAbsenteeReportsDryRun(t *testing.T) {
	ds := newTestStore(t)
	sessionID, studentID := seedAbsentee(t, ds, "dana@example.edu")

	m := New(&conf.MailSettings{Enabled: true, DryRun: true, From: "reports@example.edu"}, ds)

	sent, failed := m.SendAbsenteeReports(context.Background(), sessionID)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 0, failed)

	rows := dispatchRows(t, ds, sessionID)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusDryRun, rows[0].Status)
	assert.Equal(t, studentID, rows[0].StudentID)
	assert.Equal(t, "dana@example.edu", rows[0].RecipientEmail)
	assert.Contains(t, rows[0].SubjectLine, "Introduction to Computing")
}

func TestSendAbsenteeReportsMissingEmailFails(t *testing.T) {
	ds := newTestStore(t)
	sessionID, _ := seedAbsentee(t, ds, "")

	m := New(&conf.MailSettings{Enabled: true, DryRun: true}, ds)

	sent, failed := m.SendAbsenteeReports(context.Background(), sessionID)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 1, failed)

	rows := dispatchRows(t, ds, sessionID)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusFailed, rows[0].Status)
	assert.NotEmpty(t, rows[0].ErrorMessage)
}

func TestSendAbsenteeReportsDisabled(t *testing.T) {
	ds := newTestStore(t)
	sessionID, _ := seedAbsentee(t, ds, "dana@example.edu")

	m := New(&conf.MailSettings{Enabled: false}, ds)

	sent, failed := m.SendAbsenteeReports(context.Background(), sessionID)
	assert.Zero(t, sent)
	assert.Zero(t, failed)
	assert.Empty(t, dispatchRows(t, ds, sessionID))
}

func TestBuildReportMentionsPolicyRisk(t *testing.T) {
	ds := newTestStore(t)
	m := New(&conf.MailSettings{}, ds)

	course := &datastore.Course{Name: "Introduction to Computing", MaxAllowedAbsentHours: 8}
	session := &datastore.ClassSession{StartedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	entry := &datastore.EnrollmentEntry{
		Enrollment: datastore.Enrollment{HoursAbsentTotal: 9},
		FullName:   "Dana Rowe",
	}

	body := m.buildReport(course, session, entry)
	assert.Contains(t, body, "Dana Rowe")
	assert.Contains(t, body, "at risk")
}
