package recognition

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classtrack/classtrack-go/internal/conf"
	"github.com/classtrack/classtrack-go/internal/datastore"
)

// stubDetector returns a fixed detection list for every frame.
type stubDetector struct {
	detections []Detection
	err        error
	calls      int
}

func (d *stubDetector) Detect(_ context.Context, _ []byte) ([]Detection, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.detections, nil
}

func testFrame(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func engineSettings() *conf.Settings {
	settings := &conf.Settings{}
	settings.Recognition = conf.RecognitionSettings{
		Mode:              conf.ModeDistance,
		DistanceThreshold: 0.45,
		Cooldown:          20 * time.Second,
		CacheTTL:          60 * time.Second,
		FrameStride:       1,
	}
	return settings
}

func newTestEngine(t *testing.T, f *fixture, detector Detector) *Engine {
	t.Helper()
	engine, err := NewEngine(engineSettings(), f.ds, detector)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, engine.Close())
	})
	return engine
}

func registerEmbedding(t *testing.T, f *fixture, vector []float32) {
	t.Helper()
	require.NoError(t, f.ds.UpsertFaceEmbedding(f.student.ID, "hog-128", EncodeEmbedding(vector)))
}

func TestProcessFrameRecognizesKnownFace(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)
	registerEmbedding(t, f, []float32{0, 0, 0})

	detector := &stubDetector{detections: []Detection{
		{Left: 10, Top: 10, Right: 60, Bottom: 60, Embedding: []float32{0.1, 0, 0}},
	}}
	engine := newTestEngine(t, f, detector)

	result, err := engine.ProcessFrame(context.Background(), f.session.ID, testFrame(t, 320, 240), t0.Add(5*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, result)

	require.Len(t, result.Overlays, 1)
	assert.Equal(t, EventRecognized, result.Overlays[0].EventType)
	assert.Equal(t, "Dana Rowe", result.Overlays[0].FullName)
	assert.InDelta(t, 0.9, result.Overlays[0].Confidence, 1e-6)

	require.Len(t, result.Notifications, 1)
	notif := result.Notifications[0]
	assert.False(t, notif.IsLate)
	require.NotNil(t, notif.ArrivalDelayMinutes)
	assert.Equal(t, 5, *notif.ArrivalDelayMinutes)

	record, err := f.ds.GetAttendanceRecord(f.session.ID, f.student.ID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.IsPresent)
}

func TestProcessFrameCooldownSuppressesNotificationNotState(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)
	registerEmbedding(t, f, []float32{0, 0, 0})

	detector := &stubDetector{detections: []Detection{
		{Left: 10, Top: 10, Right: 60, Bottom: 60, Embedding: []float32{0.1, 0, 0}},
	}}
	engine := newTestEngine(t, f, detector)
	frame := testFrame(t, 320, 240)

	first, err := engine.ProcessFrame(context.Background(), f.session.ID, frame, t0.Add(5*time.Minute))
	require.NoError(t, err)
	second, err := engine.ProcessFrame(context.Background(), f.session.ID, frame, t0.Add(5*time.Minute+10*time.Second))
	require.NoError(t, err)

	assert.Len(t, first.Notifications, 1)
	assert.Empty(t, second.Notifications, "second sighting inside the cooldown is suppressed")
	assert.Len(t, second.Overlays, 1, "overlays are never suppressed")

	// Presence state still advanced.
	record, err := f.ds.GetAttendanceRecord(f.session.ID, f.student.ID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(5*time.Minute+10*time.Second), record.LastSeenAt.UTC())
}

func TestProcessFrameUnknownFace(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)

	detector := &stubDetector{detections: []Detection{
		{Left: 10, Top: 10, Right: 60, Bottom: 60, Embedding: []float32{0.1, 0, 0}},
	}}
	engine := newTestEngine(t, f, detector)

	result, err := engine.ProcessFrame(context.Background(), f.session.ID, testFrame(t, 320, 240), t0.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.NoKnownFaces, "no embeddings registered for the course")
	require.Len(t, result.Overlays, 1)
	assert.Equal(t, EventUnknown, result.Overlays[0].EventType)
	assert.Nil(t, result.Overlays[0].StudentID)

	require.Len(t, result.Notifications, 1)
	assert.Equal(t, EventUnknown, result.Notifications[0].EventType)
	assert.Equal(t, "Unknown Face", result.Notifications[0].FullName, "dashboards need a label")
	assert.Nil(t, result.Notifications[0].StudentID)

	record, err := f.ds.GetAttendanceRecord(f.session.ID, f.student.ID)
	require.NoError(t, err)
	assert.Nil(t, record, "unknown faces never touch attendance")
}

func TestFlushCachePicksUpNewEmbeddings(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)

	detector := &stubDetector{detections: []Detection{
		{Left: 10, Top: 10, Right: 60, Bottom: 60, Embedding: []float32{0.1, 0, 0}},
	}}
	engine := newTestEngine(t, f, detector)

	result, err := engine.ProcessFrame(context.Background(), f.session.ID, testFrame(t, 320, 240), t0.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, result.NoKnownFaces)

	registerEmbedding(t, f, []float32{0, 0, 0})

	// The cached empty set is still served until the TTL or a flush.
	result, err = engine.ProcessFrame(context.Background(), f.session.ID, testFrame(t, 320, 240), t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, result.NoKnownFaces)

	engine.FlushCache()

	result, err = engine.ProcessFrame(context.Background(), f.session.ID, testFrame(t, 320, 240), t0.Add(3*time.Minute))
	require.NoError(t, err)
	assert.False(t, result.NoKnownFaces)
	require.Len(t, result.Overlays, 1)
	assert.Equal(t, EventRecognized, result.Overlays[0].EventType)
}

func TestProcessFrameInactiveSessionIsDropped(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)

	_, err := f.ds.MarkSessionFinalized(f.session.ID, t0.Add(time.Hour))
	require.NoError(t, err)

	detector := &stubDetector{detections: []Detection{
		{Left: 10, Top: 10, Right: 60, Bottom: 60, Embedding: []float32{0.1, 0, 0}},
	}}
	engine := newTestEngine(t, f, detector)

	result, err := engine.ProcessFrame(context.Background(), f.session.ID, testFrame(t, 320, 240), t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, result, "events against a finalized session are silently dropped")
	assert.Zero(t, detector.calls, "inactive sessions never reach the detector")
}

func TestProcessFrameNoDetections(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)

	engine := newTestEngine(t, f, &stubDetector{})

	result, err := engine.ProcessFrame(context.Background(), f.session.ID, testFrame(t, 320, 240), t0.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Empty(t, result.Overlays)
	assert.Equal(t, 320, result.FrameWidth)
	assert.Equal(t, 240, result.FrameHeight)
}

func TestPrepareFrameRejectsGarbage(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)
	engine := newTestEngine(t, f, &stubDetector{})

	_, _, _, err := engine.PrepareFrame([]byte("not an image"))
	assert.Error(t, err)
}

func TestLargestFace(t *testing.T) {
	detections := []Detection{
		{Left: 0, Top: 0, Right: 10, Bottom: 10},
		{Left: 0, Top: 0, Right: 50, Bottom: 40},
		{Left: 5, Top: 5, Right: 20, Bottom: 20},
	}

	face, found := LargestFace(detections)
	require.True(t, found)
	assert.Equal(t, 50, face.Right)

	_, found = LargestFace(nil)
	assert.False(t, found)
}
