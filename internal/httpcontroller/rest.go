// rest.go: JSON API handlers
package httpcontroller

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/classtrack/classtrack-go/internal/datastore"
	"github.com/classtrack/classtrack-go/internal/errors"
	"github.com/classtrack/classtrack-go/internal/grades"
	"github.com/classtrack/classtrack-go/internal/recognition"
)

// Uploaded face images larger than this are rejected outright.
const maxFaceImageBytes = 10 << 20

func (s *Server) handleHealth(c echo.Context) error {
	dbOK := true
	if _, err := s.DS.ListCourses(); err != nil {
		dbOK = false
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"database":    dbOK,
		"engine_mode": s.Engine.Mode(),
		"model":       s.Engine.ModelName(),
	})
}

func (s *Server) handleListCourses(c echo.Context) error {
	courses, err := s.DS.ListCourses()
	if err != nil {
		return s.serverError(c, err)
	}
	return c.JSON(http.StatusOK, courses)
}

type createStudentRequest struct {
	Code            string  `json:"code"`
	FullName        string  `json:"full_name"`
	Email           string  `json:"email"`
	ProfilePhotoURL string  `json:"profile_photo_url"`
	CourseID        uint    `json:"course_id"`
	Quiz1           float64 `json:"quiz1"`
	Quiz2           float64 `json:"quiz2"`
	ProjectGrade    float64 `json:"project_grade"`
	AssignmentGrade float64 `json:"assignment_grade"`
	MidtermGrade    float64 `json:"midterm_grade"`
	FinalExamGrade  float64 `json:"final_exam_grade"`
}

func (s *Server) handleCreateStudent(c echo.Context) error {
	var req createStudentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Code == "" || req.FullName == "" || req.CourseID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "code, full_name and course_id are required")
	}

	course, err := s.DS.GetCourse(req.CourseID)
	if err != nil {
		return s.serverError(c, err)
	}
	if course == nil {
		return echo.NewHTTPError(http.StatusNotFound, "course not found")
	}

	student := &datastore.Student{
		Code:            req.Code,
		FullName:        req.FullName,
		Email:           req.Email,
		ProfilePhotoURL: req.ProfilePhotoURL,
		CreatedAt:       time.Now().UTC(),
	}
	enrollment := &datastore.Enrollment{
		CourseID:        req.CourseID,
		Quiz1:           req.Quiz1,
		Quiz2:           req.Quiz2,
		ProjectGrade:    req.ProjectGrade,
		AssignmentGrade: req.AssignmentGrade,
		MidtermGrade:    req.MidtermGrade,
		FinalExamGrade:  req.FinalExamGrade,
	}

	if err := s.DS.CreateStudentAndEnroll(student, enrollment); err != nil {
		return s.serverError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"student_id":    student.ID,
		"enrollment_id": enrollment.ID,
	})
}

func (s *Server) handleRegisterFace(c echo.Context) error {
	studentID, err := paramUint(c, "id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid student id")
	}

	student, err := s.DS.GetStudent(studentID)
	if err != nil {
		return s.serverError(c, err)
	}
	if student == nil {
		return echo.NewHTTPError(http.StatusNotFound, "student not found")
	}

	file, err := c.FormFile("image")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "image file is required")
	}
	if file.Size > maxFaceImageBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "image too large")
	}

	src, err := file.Open()
	if err != nil {
		return s.serverError(c, err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			s.logger.Warn("failed to close upload", "error", err)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(src, maxFaceImageBytes))
	if err != nil {
		return s.serverError(c, err)
	}

	prepared, _, _, err := s.Engine.PrepareFrame(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not decode image")
	}

	detections, err := s.Engine.Detector().Detect(c.Request().Context(), prepared)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "face detector unavailable")
	}

	face, found := recognition.LargestFace(detections)
	if !found {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "no face found in image")
	}

	encoded := recognition.EncodeEmbedding(face.Embedding)
	if err := s.DS.UpsertFaceEmbedding(studentID, s.Engine.ModelName(), encoded); err != nil {
		return s.serverError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"student_id": studentID,
		"model":      s.Engine.ModelName(),
		"dimensions": len(face.Embedding),
	})
}

func (s *Server) handleGradebook(c echo.Context) error {
	courseID, err := paramUint(c, "id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid course id")
	}

	course, err := s.DS.GetCourse(courseID)
	if err != nil {
		return s.serverError(c, err)
	}
	if course == nil {
		return echo.NewHTTPError(http.StatusNotFound, "course not found")
	}

	entries, err := s.DS.ListEnrollments(courseID)
	if err != nil {
		return s.serverError(c, err)
	}

	type gradebookRow struct {
		StudentID   uint           `json:"student_id"`
		StudentCode string         `json:"student_code"`
		FullName    string         `json:"full_name"`
		Metrics     grades.Metrics `json:"metrics"`
	}

	rows := make([]gradebookRow, 0, len(entries))
	for i := range entries {
		rows = append(rows, gradebookRow{
			StudentID:   entries[i].StudentID,
			StudentCode: entries[i].StudentCode,
			FullName:    entries[i].FullName,
			Metrics:     grades.Compute(&entries[i].Enrollment, course.MaxAllowedAbsentHours),
		})
	}
	return c.JSON(http.StatusOK, rows)
}

type updateGradesRequest struct {
	Quiz1           *float64 `json:"quiz1"`
	Quiz2           *float64 `json:"quiz2"`
	ProjectGrade    *float64 `json:"project_grade"`
	AssignmentGrade *float64 `json:"assignment_grade"`
	MidtermGrade    *float64 `json:"midterm_grade"`
	FinalExamGrade  *float64 `json:"final_exam_grade"`
}

func (s *Server) handleUpdateGrades(c echo.Context) error {
	courseID, err := paramUint(c, "id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid course id")
	}
	studentID, err := paramUint(c, "sid")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid student id")
	}

	var req updateGradesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	enrollment, err := s.DS.GetEnrollment(courseID, studentID)
	if err != nil {
		return s.serverError(c, err)
	}
	if enrollment == nil {
		return echo.NewHTTPError(http.StatusNotFound, "enrollment not found")
	}

	if req.Quiz1 != nil {
		enrollment.Quiz1 = *req.Quiz1
	}
	if req.Quiz2 != nil {
		enrollment.Quiz2 = *req.Quiz2
	}
	if req.ProjectGrade != nil {
		enrollment.ProjectGrade = *req.ProjectGrade
	}
	if req.AssignmentGrade != nil {
		enrollment.AssignmentGrade = *req.AssignmentGrade
	}
	if req.MidtermGrade != nil {
		enrollment.MidtermGrade = *req.MidtermGrade
	}
	if req.FinalExamGrade != nil {
		enrollment.FinalExamGrade = *req.FinalExamGrade
	}

	if err := s.DS.SaveEnrollment(enrollment); err != nil {
		return s.serverError(c, err)
	}

	course, err := s.DS.GetCourse(courseID)
	if err != nil {
		return s.serverError(c, err)
	}
	maxAbsent := 0
	if course != nil {
		maxAbsent = course.MaxAllowedAbsentHours
	}
	return c.JSON(http.StatusOK, grades.Compute(enrollment, maxAbsent))
}

func (s *Server) handleEmbeddingCount(c echo.Context) error {
	courseID, err := paramUint(c, "id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid course id")
	}

	rows, err := s.DS.ListKnownEmbeddings(courseID, s.Engine.ModelName())
	if err != nil {
		return s.serverError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"course_id": courseID,
		"model":     s.Engine.ModelName(),
		"count":     len(rows),
	})
}

// handleFlushEmbeddings drops the engine's cached embeddings so the next
// frame reloads them, for use after bulk roster imports. Registration never
// flushes; normal churn waits out the TTL.
func (s *Server) handleFlushEmbeddings(c echo.Context) error {
	s.Engine.FlushCache()
	s.logger.Info("embedding cache flushed")
	return c.JSON(http.StatusOK, map[string]any{"flushed": true})
}

type startSessionRequest struct {
	CourseID uint `json:"course_id"`
}

func (s *Server) handleStartSession(c echo.Context) error {
	var req startSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	course, err := s.DS.GetCourse(req.CourseID)
	if err != nil {
		return s.serverError(c, err)
	}
	if course == nil {
		return echo.NewHTTPError(http.StatusNotFound, "course not found")
	}

	session := &datastore.ClassSession{
		ID:        uuid.NewString(),
		CourseID:  req.CourseID,
		StartedAt: time.Now().UTC(),
		Status:    datastore.SessionActive,
	}
	if err := s.DS.CreateSession(session); err != nil {
		return s.serverError(c, err)
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"session_id": session.ID,
		"course_id":  session.CourseID,
		"started_at": session.StartedAt,
		"status":     session.Status,
	})
}

func (s *Server) handleSessionAttendance(c echo.Context) error {
	sessionID := c.Param("id")

	session, err := s.DS.GetSession(sessionID)
	if err != nil {
		return s.serverError(c, err)
	}
	if session == nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	rows, err := s.DS.SessionAttendance(sessionID)
	if err != nil {
		return s.serverError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id": sessionID,
		"status":     session.Status,
		"students":   rows,
	})
}

type manualAttendanceRequest struct {
	Present      bool       `json:"present"`
	IsLate       *bool      `json:"is_late"`
	DelayMinutes *int       `json:"delay_minutes"`
	Timestamp    *time.Time `json:"timestamp"`
}

func (s *Server) handleManualAttendance(c echo.Context) error {
	sessionID := c.Param("id")
	studentID, err := paramUint(c, "sid")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid student id")
	}

	var req manualAttendanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	record, err := s.Engine.Reconciler().SetManual(sessionID, studentID, recognition.ManualOverride{
		Present:      req.Present,
		IsLate:       req.IsLate,
		DelayMinutes: req.DelayMinutes,
		Timestamp:    req.Timestamp,
	})
	if err != nil {
		if errors.IsNotFound(err) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return s.serverError(c, err)
	}

	s.Hub.BroadcastDashboard(sessionID, envelope{
		Type: "presence",
		Payload: map[string]any{
			"student_id":            studentID,
			"event_type":            "manual",
			"is_late":               record.IsLate,
			"arrival_delay_minutes": record.ArrivalDelayMinutes,
			"is_present":            record.IsPresent,
		},
	})
	return c.JSON(http.StatusOK, record)
}

func (s *Server) handleFinalizeSession(c echo.Context) error {
	sessionID := c.Param("id")

	summary, err := s.Engine.Reconciler().Finalize(sessionID, time.Now().UTC())
	if err != nil {
		if errors.IsNotFound(err) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return s.serverError(c, err)
	}

	s.Engine.ClearSession(sessionID)

	sent, failed := 0, 0
	if !summary.AlreadyFinalized {
		sent, failed = s.Mailer.SendAbsenteeReports(c.Request().Context(), sessionID)
		s.Hub.BroadcastDashboard(sessionID, envelope{
			Type:    "info",
			Payload: map[string]any{"message": "session finalized"},
		})
		s.Hub.BroadcastCameras(sessionID, envelope{
			Type:    "info",
			Payload: map[string]any{"message": "session finalized"},
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"session_id":        summary.SessionID,
		"total_hours":       summary.TotalHours,
		"students":          summary.Students,
		"already_finalized": summary.AlreadyFinalized,
		"emails_sent":       sent,
		"emails_failed":     failed,
	})
}

func (s *Server) serverError(c echo.Context, err error) error {
	s.logger.Error("request failed",
		"method", c.Request().Method,
		"path", c.Path(),
		"error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func paramUint(c echo.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}
