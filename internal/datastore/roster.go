// roster.go: course, student, enrollment and embedding operations
package datastore

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ListCourses returns all active courses ordered by code.
func (ds *DataStore) ListCourses() ([]Course, error) {
	var courses []Course
	if err := ds.DB.Where("is_active = ?", true).Order("code").Find(&courses).Error; err != nil {
		return nil, fmt.Errorf("error listing courses: %w", err)
	}
	return courses, nil
}

// GetCourse retrieves a course by its ID. Returns (nil, nil) when missing.
func (ds *DataStore) GetCourse(id uint) (*Course, error) {
	var course Course
	if err := ds.DB.First(&course, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting course %d: %w", id, err)
	}
	return &course, nil
}

// CreateCourse inserts a new course.
func (ds *DataStore) CreateCourse(course *Course) error {
	if err := ds.DB.Create(course).Error; err != nil {
		return fmt.Errorf("creating course %q: %w", course.Code, err)
	}
	return nil
}

// GetStudent retrieves a student by ID. Returns (nil, nil) when missing.
func (ds *DataStore) GetStudent(id uint) (*Student, error) {
	var student Student
	if err := ds.DB.First(&student, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting student %d: %w", id, err)
	}
	return &student, nil
}

// CreateStudentAndEnroll inserts the student and their enrollment as a single
// transaction. The enrollment's StudentID is filled in from the created row.
func (ds *DataStore) CreateStudentAndEnroll(student *Student, enrollment *Enrollment) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		student.IsActive = true
		if err := tx.Create(student).Error; err != nil {
			return fmt.Errorf("creating student %q: %w", student.Code, err)
		}

		enrollment.StudentID = student.ID
		enrollment.UpdatedAt = time.Now().UTC()
		if err := tx.Create(enrollment).Error; err != nil {
			return fmt.Errorf("enrolling student %d in course %d: %w",
				student.ID, enrollment.CourseID, err)
		}
		return nil
	})
}

// GetEnrollment retrieves the enrollment for (course, student).
// Returns (nil, nil) when missing.
func (ds *DataStore) GetEnrollment(courseID, studentID uint) (*Enrollment, error) {
	var enrollment Enrollment
	err := ds.DB.Where("course_id = ? AND student_id = ?", courseID, studentID).
		First(&enrollment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting enrollment (course %d, student %d): %w",
			courseID, studentID, err)
	}
	return &enrollment, nil
}

// SaveEnrollment persists grade edits on an existing enrollment.
func (ds *DataStore) SaveEnrollment(enrollment *Enrollment) error {
	enrollment.UpdatedAt = time.Now().UTC()
	if err := ds.DB.Save(enrollment).Error; err != nil {
		return fmt.Errorf("saving enrollment %d: %w", enrollment.ID, err)
	}
	return nil
}

// AddEnrollmentAbsence adds hours to the cumulative absence total atomically.
// Finalize is additive across sessions, never a recompute.
func (ds *DataStore) AddEnrollmentAbsence(courseID, studentID uint, hours float64, at time.Time) error {
	result := ds.DB.Model(&Enrollment{}).
		Where("course_id = ? AND student_id = ?", courseID, studentID).
		Updates(map[string]any{
			"hours_absent_total": gorm.Expr("hours_absent_total + ?", hours),
			"updated_at":         at,
		})
	if result.Error != nil {
		return fmt.Errorf("adding absence for (course %d, student %d): %w",
			courseID, studentID, result.Error)
	}
	return nil
}

// ListEnrollments returns every enrollment of the course joined with the
// student identity, ordered by student name.
func (ds *DataStore) ListEnrollments(courseID uint) ([]EnrollmentEntry, error) {
	var entries []EnrollmentEntry
	err := ds.DB.Model(&Enrollment{}).
		Select("enrollments.*, students.code AS student_code, students.full_name, students.email").
		Joins("INNER JOIN students ON students.id = enrollments.student_id").
		Where("enrollments.course_id = ? AND students.is_active = ?", courseID, true).
		Order("students.full_name").
		Scan(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("listing enrollments for course %d: %w", courseID, err)
	}
	return entries, nil
}

// UpsertFaceEmbedding stores a new primary embedding for (student, model),
// demoting any prior primary in the same transaction.
func (ds *DataStore) UpsertFaceEmbedding(studentID uint, modelName string, embedding []byte) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&FaceEmbedding{}).
			Where("student_id = ? AND model_name = ?", studentID, modelName).
			Update("is_primary", false).Error
		if err != nil {
			return fmt.Errorf("demoting prior embeddings: %w", err)
		}

		row := FaceEmbedding{
			StudentID: studentID,
			ModelName: modelName,
			Embedding: embedding,
			IsPrimary: true,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("saving embedding for student %d: %w", studentID, err)
		}
		return nil
	})
}

// ListKnownEmbeddings returns the primary embeddings of all active students
// enrolled in the course for the given model.
func (ds *DataStore) ListKnownEmbeddings(courseID uint, modelName string) ([]KnownEmbedding, error) {
	var rows []KnownEmbedding
	err := ds.DB.Model(&FaceEmbedding{}).
		Select("face_embeddings.student_id, students.full_name, face_embeddings.model_name, face_embeddings.embedding").
		Joins("INNER JOIN students ON students.id = face_embeddings.student_id").
		Joins("INNER JOIN enrollments ON enrollments.student_id = face_embeddings.student_id").
		Where("enrollments.course_id = ? AND face_embeddings.model_name = ? AND face_embeddings.is_primary = ? AND students.is_active = ?",
			courseID, modelName, true, true).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing known embeddings for course %d: %w", courseID, err)
	}
	return rows, nil
}
