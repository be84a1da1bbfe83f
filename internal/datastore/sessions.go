// sessions.go: class session, attendance, hour log and audit log operations
package datastore

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateSession inserts a new class session.
func (ds *DataStore) CreateSession(session *ClassSession) error {
	if err := ds.DB.Create(session).Error; err != nil {
		return fmt.Errorf("creating session for course %d: %w", session.CourseID, err)
	}
	return nil
}

// GetSession retrieves a session by its UUID. Returns (nil, nil) when missing.
func (ds *DataStore) GetSession(id string) (*ClassSession, error) {
	var session ClassSession
	if err := ds.DB.Where("id = ?", id).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return &session, nil
}

// MarkSessionFinalized stamps the session finalized and reports whether this
// call performed the transition. The status guard in the WHERE clause makes
// the operation idempotent under concurrent finalize requests.
func (ds *DataStore) MarkSessionFinalized(id string, endedAt time.Time) (bool, error) {
	result := ds.DB.Model(&ClassSession{}).
		Where("id = ? AND status = ?", id, SessionActive).
		Updates(map[string]any{
			"status":   SessionFinalized,
			"ended_at": endedAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("finalizing session %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SessionAttendance lists every active student enrolled in the session's
// course with their attendance record, or empty sighting fields when no
// record exists yet.
func (ds *DataStore) SessionAttendance(sessionID string) ([]AttendanceRow, error) {
	var rows []AttendanceRow
	err := ds.DB.Model(&Enrollment{}).
		Select(`students.id AS student_id, students.code AS student_code,
			students.full_name,
			attendance_records.first_seen_at, attendance_records.last_seen_at,
			attendance_records.is_present, attendance_records.is_late,
			attendance_records.arrival_delay_minutes`).
		Joins("INNER JOIN class_sessions ON class_sessions.course_id = enrollments.course_id AND class_sessions.id = ?",
			sessionID).
		Joins("INNER JOIN students ON students.id = enrollments.student_id").
		Joins("LEFT JOIN attendance_records ON attendance_records.student_id = students.id AND attendance_records.session_id = ?",
			sessionID).
		Where("students.is_active = ?", true).
		Order("students.full_name").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing attendance for session %s: %w", sessionID, err)
	}
	return rows, nil
}

// GetAttendanceRecord retrieves the record for (session, student).
// Returns (nil, nil) when the student has not been sighted or marked.
func (ds *DataStore) GetAttendanceRecord(sessionID string, studentID uint) (*AttendanceRecord, error) {
	var record AttendanceRecord
	err := ds.DB.Where("session_id = ? AND student_id = ?", sessionID, studentID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting attendance record (session %s, student %d): %w",
			sessionID, studentID, err)
	}
	return &record, nil
}

// SaveAttendanceRecord creates or updates an attendance record.
func (ds *DataStore) SaveAttendanceRecord(record *AttendanceRecord) error {
	if err := ds.DB.Save(record).Error; err != nil {
		return fmt.Errorf("saving attendance record (session %s, student %d): %w",
			record.SessionID, record.StudentID, err)
	}
	return nil
}

// EnsureHourLog creates the hour log row if it does not exist yet, never
// overwriting an existing one. Reports whether a row was created.
func (ds *DataStore) EnsureHourLog(entry *HourLog) (bool, error) {
	result := ds.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "session_id"}, {Name: "student_id"}, {Name: "hour_index"},
		},
		DoNothing: true,
	}).Create(entry)
	if result.Error != nil {
		return false, fmt.Errorf("ensuring hour log (session %s, student %d, hour %d): %w",
			entry.SessionID, entry.StudentID, entry.HourIndex, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// UpsertHourLog creates or replaces the hour log row for its key. Manual
// overrides use this to win over recognizer rows.
func (ds *DataStore) UpsertHourLog(entry *HourLog) error {
	err := ds.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "session_id"}, {Name: "student_id"}, {Name: "hour_index"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"hour_start", "is_present", "source"}),
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("upserting hour log (session %s, student %d, hour %d): %w",
			entry.SessionID, entry.StudentID, entry.HourIndex, err)
	}
	return nil
}

// ListHourLogs returns the student's hour logs for the session ordered by hour.
func (ds *DataStore) ListHourLogs(sessionID string, studentID uint) ([]HourLog, error) {
	var logs []HourLog
	err := ds.DB.Where("session_id = ? AND student_id = ?", sessionID, studentID).
		Order("hour_index").Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("listing hour logs (session %s, student %d): %w",
			sessionID, studentID, err)
	}
	return logs, nil
}

// CountAbsentHours returns how many of the session's totalHours the student
// was not credited for. Hours with no log row count as absent, so the result
// is valid before and after the finalizer back-fills system rows.
func (ds *DataStore) CountAbsentHours(sessionID string, studentID uint, totalHours int) (int, error) {
	var present int64
	err := ds.DB.Model(&HourLog{}).
		Where("session_id = ? AND student_id = ? AND is_present = ? AND hour_index < ?",
			sessionID, studentID, true, totalHours).
		Count(&present).Error
	if err != nil {
		return 0, fmt.Errorf("counting absent hours (session %s, student %d): %w",
			sessionID, studentID, err)
	}
	absent := totalHours - int(present)
	if absent < 0 {
		absent = 0
	}
	return absent, nil
}

// AddRecognitionEvent appends an entry to the recognition audit trail.
func (ds *DataStore) AddRecognitionEvent(event *RecognitionLog) error {
	if err := ds.DB.Create(event).Error; err != nil {
		return fmt.Errorf("logging recognition event for session %s: %w", event.SessionID, err)
	}
	return nil
}

// InsertEmailLog records the outcome of one absentee report dispatch.
func (ds *DataStore) InsertEmailLog(entry *EmailDispatchLog) error {
	if err := ds.DB.Create(entry).Error; err != nil {
		return fmt.Errorf("logging email dispatch to %q: %w", entry.RecipientEmail, err)
	}
	return nil
}

// AbsenteesForSession lists the enrollments of students marked not present in
// the session, joined with the student identity for report dispatch.
func (ds *DataStore) AbsenteesForSession(sessionID string) ([]EnrollmentEntry, error) {
	var entries []EnrollmentEntry
	err := ds.DB.Model(&Enrollment{}).
		Select("enrollments.*, students.code AS student_code, students.full_name, students.email").
		Joins("INNER JOIN class_sessions ON class_sessions.course_id = enrollments.course_id AND class_sessions.id = ?",
			sessionID).
		Joins("INNER JOIN students ON students.id = enrollments.student_id").
		Joins(`INNER JOIN attendance_records ON attendance_records.student_id = students.id
			AND attendance_records.session_id = ? AND attendance_records.is_present = ?`,
			sessionID, false).
		Where("students.is_active = ?", true).
		Order("students.full_name").
		Scan(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("listing absentees for session %s: %w", sessionID, err)
	}
	return entries, nil
}
