// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/classtrack/classtrack-go/internal/conf"
)

// Interface abstracts the underlying database implementation and defines the
// operations the engine and the HTTP layer need. All calls may fail with a
// transient storage error; callers decide retry policy.
type Interface interface {
	Open() error
	Close() error

	// courses, students, enrollments
	ListCourses() ([]Course, error)
	GetCourse(id uint) (*Course, error)
	CreateCourse(course *Course) error
	GetStudent(id uint) (*Student, error)
	CreateStudentAndEnroll(student *Student, enrollment *Enrollment) error
	GetEnrollment(courseID, studentID uint) (*Enrollment, error)
	SaveEnrollment(enrollment *Enrollment) error
	AddEnrollmentAbsence(courseID, studentID uint, hours float64, at time.Time) error
	ListEnrollments(courseID uint) ([]EnrollmentEntry, error)

	// embeddings
	UpsertFaceEmbedding(studentID uint, modelName string, embedding []byte) error
	ListKnownEmbeddings(courseID uint, modelName string) ([]KnownEmbedding, error)

	// sessions
	CreateSession(session *ClassSession) error
	GetSession(id string) (*ClassSession, error)
	MarkSessionFinalized(id string, endedAt time.Time) (bool, error)
	SessionAttendance(sessionID string) ([]AttendanceRow, error)

	// attendance state
	GetAttendanceRecord(sessionID string, studentID uint) (*AttendanceRecord, error)
	SaveAttendanceRecord(record *AttendanceRecord) error
	EnsureHourLog(entry *HourLog) (bool, error)
	UpsertHourLog(entry *HourLog) error
	ListHourLogs(sessionID string, studentID uint) ([]HourLog, error)
	CountAbsentHours(sessionID string, studentID uint, totalHours int) (int, error)

	// diagnostic and dispatch logs
	AddRecognitionEvent(event *RecognitionLog) error
	InsertEmailLog(entry *EmailDispatchLog) error
	AbsenteesForSession(sessionID string) ([]EnrollmentEntry, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore instance based on the provided settings.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// performAutoMigration automates database migrations with error handling.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(
		&Course{},
		&Student{},
		&Enrollment{},
		&FaceEmbedding{},
		&ClassSession{},
		&AttendanceRecord{},
		&HourLog{},
		&RecognitionLog{},
		&EmailDispatchLog{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}

	if debug {
		log.Printf("%s database connection initialized: %s", dbType, connectionInfo)
	}

	return nil
}

// createGormLogger configures and returns a new GORM logger instance.
func createGormLogger() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      logger.Warn,
			Colorful:      true,
		},
	)
}
