// model.go this code defines the data model for the application
package datastore

import "time"

// ClassSession status values.
const (
	SessionActive    = "active"
	SessionFinalized = "finalized"
)

// HourLog source values.
const (
	SourceRecognizer = "recognizer"
	SourceManual     = "manual"
	SourceSystem     = "system"
)

// Course represents one taught course with its attendance policy fields.
type Course struct {
	ID                    uint   `gorm:"primaryKey"`
	Code                  string `gorm:"uniqueIndex;size:30"`
	Name                  string
	ScheduledStartTime    string // wall-clock start, "09:00:00"
	LateGraceMinutes      int
	MaxAllowedAbsentHours int
	IsActive              bool
}

// Student represents an enrolled person.
type Student struct {
	ID              uint   `gorm:"primaryKey"`
	Code            string `gorm:"uniqueIndex;size:30"`
	FullName        string `gorm:"index:idx_students_fullname"`
	Email           string
	ProfilePhotoURL string
	IsActive        bool
	CreatedAt       time.Time
}

// Enrollment links a student to a course and carries the six raw grade
// components plus the cumulative absence total the finalizer adds to.
type Enrollment struct {
	ID               uint `gorm:"primaryKey"`
	StudentID        uint `gorm:"uniqueIndex:idx_enrollments_student_course;not null"`
	CourseID         uint `gorm:"uniqueIndex:idx_enrollments_student_course;index:idx_enrollments_course;not null"`
	Quiz1            float64
	Quiz2            float64
	ProjectGrade     float64
	AssignmentGrade  float64
	MidtermGrade     float64
	FinalExamGrade   float64
	HoursAbsentTotal float64
	UpdatedAt        time.Time
}

// FaceEmbedding stores one embedding vector for a (student, model) pair.
// At most one row per pair has IsPrimary set; registering a new embedding
// demotes the prior primary.
type FaceEmbedding struct {
	ID        uint   `gorm:"primaryKey"`
	StudentID uint   `gorm:"index:idx_embeddings_student_model;not null"`
	ModelName string `gorm:"index:idx_embeddings_student_model;size:40;not null"`
	Embedding []byte // little-endian float32 vector
	IsPrimary bool
	CreatedAt time.Time
}

// ClassSession represents one timed class meeting.
type ClassSession struct {
	ID        string `gorm:"primaryKey;size:36"`
	CourseID  uint   `gorm:"index;not null"`
	StartedAt time.Time
	EndedAt   *time.Time
	Status    string `gorm:"size:16;index"`
}

// AttendanceRecord is the per-(session, student) presence row. Absence is a
// hard reset: IsPresent false implies the seen timestamps and delay are nil.
type AttendanceRecord struct {
	ID                  uint   `gorm:"primaryKey"`
	SessionID           string `gorm:"uniqueIndex:idx_attendance_session_student;size:36;not null"`
	StudentID           uint   `gorm:"uniqueIndex:idx_attendance_session_student;not null"`
	FirstSeenAt         *time.Time
	LastSeenAt          *time.Time
	IsPresent           bool
	IsLate              bool
	ArrivalDelayMinutes *int
}

// HourLog grants or denies one hour of presence credit.
type HourLog struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"uniqueIndex:idx_hourlog_session_student_hour;size:36;not null"`
	StudentID uint   `gorm:"uniqueIndex:idx_hourlog_session_student_hour;not null"`
	HourIndex int    `gorm:"uniqueIndex:idx_hourlog_session_student_hour;not null"`
	HourStart time.Time
	IsPresent bool
	Source    string `gorm:"size:16"`
}

// RecognitionLog is the append-only diagnostic trail of engine events.
// Rows are never mutated after insert.
type RecognitionLog struct {
	ID           uint   `gorm:"primaryKey"`
	SessionID    string `gorm:"index;size:36;not null"`
	StudentID    *uint
	RecognizedAt time.Time `gorm:"index"`
	Confidence   *float64
	EngineMode   string `gorm:"size:16"`
	Notes        string
}

// EmailDispatchLog records every absentee report dispatch attempt.
type EmailDispatchLog struct {
	ID             uint   `gorm:"primaryKey"`
	SessionID      string `gorm:"index;size:36;not null"`
	StudentID      uint
	RecipientEmail string
	SubjectLine    string
	Status         string `gorm:"size:16"` // SENT, FAILED or DRY_RUN
	ErrorMessage   string
	SentAt         time.Time
}

// KnownEmbedding is the joined row the recognition engine matches against:
// the primary embedding of one enrolled, active student.
type KnownEmbedding struct {
	StudentID uint
	FullName  string
	ModelName string
	Embedding []byte
}

// AttendanceRow is the per-student session attendance listing, including
// enrolled students with no attendance record yet.
type AttendanceRow struct {
	StudentID           uint
	StudentCode         string
	FullName            string
	FirstSeenAt         *time.Time
	LastSeenAt          *time.Time
	IsPresent           bool
	IsLate              bool
	ArrivalDelayMinutes *int
}

// EnrollmentEntry joins an enrollment with its student identity, used for
// gradebook and absentee listings.
type EnrollmentEntry struct {
	Enrollment
	StudentCode string
	FullName    string
	Email       string
}
