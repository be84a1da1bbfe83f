// pipeline.go: the frame processing engine tying detector, matcher, cache,
// cooldown and reconciler together
package recognition

import (
	"bytes"
	"context"
	"image/jpeg"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"

	"github.com/classtrack/classtrack-go/internal/conf"
	"github.com/classtrack/classtrack-go/internal/datastore"
	"github.com/classtrack/classtrack-go/internal/errors"
	"github.com/classtrack/classtrack-go/internal/logging"
)

// Frames wider than this are downscaled before the detector call.
const maxDetectorWidth = 1280

// Event types carried in overlays and notifications.
const (
	EventRecognized = "recognized"
	EventUnknown    = "unknown"
)

// Overlay is one bounding box for the live view. Every detection in a frame
// produces an overlay, suppressed or not.
type Overlay struct {
	EventType  string  `json:"event_type"`
	StudentID  *uint   `json:"student_id,omitempty"`
	FullName   string  `json:"full_name,omitempty"`
	Confidence float64 `json:"confidence"`
	Left       int     `json:"left"`
	Top        int     `json:"top"`
	Right      int     `json:"right"`
	Bottom     int     `json:"bottom"`
	EngineMode string  `json:"engine_mode"`
}

// Notification is one cooldown-surviving presence event for dashboards.
type Notification struct {
	StudentID           *uint     `json:"student_id,omitempty"`
	EventType           string    `json:"event_type"`
	FullName            string    `json:"full_name,omitempty"`
	Confidence          float64   `json:"confidence"`
	IsLate              bool      `json:"is_late"`
	ArrivalDelayMinutes *int      `json:"arrival_delay_minutes,omitempty"`
	RecognizedAt        time.Time `json:"recognized_at"`
	EngineMode          string    `json:"engine_mode"`
}

// FrameResult is the outcome of one processed frame. Overlays cover every
// detection; Notifications only the events that passed the cooldown gate.
type FrameResult struct {
	FrameWidth    int
	FrameHeight   int
	Overlays      []Overlay
	Notifications []Notification

	// NoKnownFaces is set when the course has zero primary embeddings, so
	// the caller can warn viewers instead of staying silent.
	NoKnownFaces bool
}

// Engine processes camera frames for active sessions. One engine instance
// owns all recognition state (cache, cooldowns, reconciler locks); nothing
// is process-global.
type Engine struct {
	settings   *conf.RecognitionSettings
	ds         datastore.Interface
	detector   Detector
	matcher    Matcher
	cache      *EmbeddingCache
	cooldown   *CooldownTracker
	reconciler *Reconciler

	logger        *slog.Logger
	eventLog      *slog.Logger
	closeEventLog func() error
}

// NewEngine wires an engine from configuration. The detector is injected so
// tests can substitute a fake.
func NewEngine(settings *conf.Settings, ds datastore.Interface, detector Detector) (*Engine, error) {
	rec := &settings.Recognition

	engine := &Engine{
		settings:   rec,
		ds:         ds,
		detector:   detector,
		matcher:    NewMatcher(rec),
		cache:      NewEmbeddingCache(ds, rec.ModelName(), rec.CacheTTL),
		cooldown:   NewCooldownTracker(rec.Cooldown),
		reconciler: NewReconciler(ds),
		logger:     logging.ForService("recognition"),
	}

	if rec.EventLog.Enabled {
		eventLog, closeFn, err := logging.NewFileLogger(rec.EventLog.Path, "recognition-events", slog.LevelInfo)
		if err != nil {
			return nil, errors.New(err).
				Component("recognition").
				Category(errors.CategoryFileIO).
				Context("path", rec.EventLog.Path).
				Build()
		}
		engine.eventLog = eventLog
		engine.closeEventLog = closeFn
	}

	return engine, nil
}

// Mode returns the active matching mode.
func (e *Engine) Mode() string { return e.settings.Mode }

// ModelName returns the embedding model the engine matches against.
func (e *Engine) ModelName() string { return e.settings.ModelName() }

// Reconciler exposes the attendance state machine for the HTTP layer's
// manual override and finalize endpoints.
func (e *Engine) Reconciler() *Reconciler { return e.reconciler }

// Detector exposes the detection capability for the registration endpoint.
func (e *Engine) Detector() Detector { return e.detector }

// FlushCache drops cached embeddings, forcing the next frame to reload.
func (e *Engine) FlushCache() { e.cache.Flush() }

// Close releases the event log file handle.
func (e *Engine) Close() error {
	if e.closeEventLog != nil {
		return e.closeEventLog()
	}
	return nil
}

// ClearSession drops per-session cooldown state after finalize.
func (e *Engine) ClearSession(sessionID string) {
	e.cooldown.ClearSession(sessionID)
}

// PrepareFrame decodes an encoded camera frame and downscales it for the
// detector. Returns the detector-ready JPEG plus the original dimensions the
// overlays are expressed in.
func (e *Engine) PrepareFrame(frame []byte) ([]byte, int, int, error) {
	img, err := imaging.Decode(bytes.NewReader(frame), imaging.AutoOrientation(true))
	if err != nil {
		return nil, 0, 0, errors.New(err).
			Component("recognition").
			Category(errors.CategoryImageDecode).
			Build()
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if width > maxDetectorWidth {
		img = imaging.Resize(img, maxDetectorWidth, 0, imaging.Linear)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpeg.DefaultQuality)); err != nil {
		return nil, 0, 0, errors.New(err).
			Component("recognition").
			Category(errors.CategoryImageDecode).
			Build()
	}
	return buf.Bytes(), width, height, nil
}

// ProcessFrame runs the full recognition pipeline on one camera frame.
// Returns (nil, nil) when the session is missing or no longer active; the
// camera feed may legitimately outlive finalization briefly, so this is a
// silent drop rather than an error.
func (e *Engine) ProcessFrame(ctx context.Context, sessionID string, frame []byte, recognizedAt time.Time) (*FrameResult, error) {
	session, err := e.ds.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.Status != datastore.SessionActive {
		return nil, nil
	}

	course, err := e.ds.GetCourse(session.CourseID)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, errors.Newf("course %d not found for session %s", session.CourseID, sessionID).
			Component("recognition").
			Category(errors.CategoryNotFound).
			Build()
	}

	prepared, width, height, err := e.PrepareFrame(frame)
	if err != nil {
		return nil, err
	}

	detections, err := e.detector.Detect(ctx, prepared)
	if err != nil {
		return nil, err
	}

	result := &FrameResult{FrameWidth: width, FrameHeight: height}
	if len(detections) == 0 {
		return result, nil
	}

	known, err := e.cache.Known(session.CourseID)
	if err != nil {
		return nil, err
	}
	result.NoKnownFaces = len(known) == 0

	// Detector coordinates refer to the downscaled frame; map them back to
	// the original dimensions the viewers render at.
	scale := 1.0
	if width > maxDetectorWidth {
		scale = float64(width) / float64(maxDetectorWidth)
	}

	for i := range detections {
		det := scaleDetection(detections[i], scale)

		match, ok := e.matcher.Match(detections[i].Embedding, known)
		if !ok {
			result.Overlays = append(result.Overlays, Overlay{
				EventType:  EventUnknown,
				Left:       det.Left,
				Top:        det.Top,
				Right:      det.Right,
				Bottom:     det.Bottom,
				EngineMode: e.settings.Mode,
			})
			if e.cooldown.TrackUnknown(sessionID, recognizedAt) {
				e.logUnknown(sessionID, recognizedAt)
				result.Notifications = append(result.Notifications, Notification{
					EventType:    EventUnknown,
					FullName:     "Unknown Face",
					RecognizedAt: recognizedAt,
					EngineMode:   e.settings.Mode,
				})
			}
			continue
		}

		studentID := match.StudentID
		result.Overlays = append(result.Overlays, Overlay{
			EventType:  EventRecognized,
			StudentID:  &studentID,
			FullName:   match.FullName,
			Confidence: match.Confidence,
			Left:       det.Left,
			Top:        det.Top,
			Right:      det.Right,
			Bottom:     det.Bottom,
			EngineMode: e.settings.Mode,
		})

		record, err := e.reconciler.RecordRecognition(session, course, studentID, recognizedAt)
		if err != nil {
			// A transient storage failure skips this detection's state
			// update and notification; the overlay above already stands
			// and the frame's other detections still process.
			e.logger.Error("attendance update failed",
				"session_id", sessionID,
				"student_id", studentID,
				"error", err)
			continue
		}

		if !e.cooldown.TrackStudent(sessionID, studentID, recognizedAt) {
			continue
		}

		e.logRecognition(sessionID, studentID, match, recognizedAt)
		result.Notifications = append(result.Notifications, Notification{
			StudentID:           &studentID,
			EventType:           EventRecognized,
			FullName:            match.FullName,
			Confidence:          match.Confidence,
			IsLate:              record.IsLate,
			ArrivalDelayMinutes: record.ArrivalDelayMinutes,
			RecognizedAt:        recognizedAt,
			EngineMode:          e.settings.Mode,
		})
	}

	return result, nil
}

func scaleDetection(det Detection, scale float64) Detection {
	if scale == 1.0 {
		return det
	}
	det.Left = int(float64(det.Left) * scale)
	det.Top = int(float64(det.Top) * scale)
	det.Right = int(float64(det.Right) * scale)
	det.Bottom = int(float64(det.Bottom) * scale)
	return det
}

func (e *Engine) logRecognition(sessionID string, studentID uint, match MatchResult, at time.Time) {
	confidence := match.Confidence
	event := &datastore.RecognitionLog{
		SessionID:    sessionID,
		StudentID:    &studentID,
		RecognizedAt: at,
		Confidence:   &confidence,
		EngineMode:   e.settings.Mode,
	}
	if err := e.ds.AddRecognitionEvent(event); err != nil {
		e.logger.Error("failed to log recognition event",
			"session_id", sessionID,
			"student_id", studentID,
			"error", err)
	}

	if e.eventLog != nil {
		e.eventLog.Info("recognized",
			"session_id", sessionID,
			"student_id", studentID,
			"full_name", match.FullName,
			"confidence", match.Confidence,
			"mode", e.settings.Mode)
	}
}

func (e *Engine) logUnknown(sessionID string, at time.Time) {
	event := &datastore.RecognitionLog{
		SessionID:    sessionID,
		RecognizedAt: at,
		EngineMode:   e.settings.Mode,
		Notes:        "unrecognized face",
	}
	if err := e.ds.AddRecognitionEvent(event); err != nil {
		e.logger.Error("failed to log unknown-face event",
			"session_id", sessionID,
			"error", err)
	}

	if e.eventLog != nil {
		e.eventLog.Info("unknown face",
			"session_id", sessionID,
			"mode", e.settings.Mode)
	}
}
