// detector.go: face detection capability and its HTTP implementation
package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/classtrack/classtrack-go/internal/errors"
	"github.com/classtrack/classtrack-go/internal/logging"
)

// Detection is one face found in a frame: its bounding box in frame pixel
// coordinates and the embedding vector the detector extracted.
type Detection struct {
	Left      int       `json:"left"`
	Top       int       `json:"top"`
	Right     int       `json:"right"`
	Bottom    int       `json:"bottom"`
	Embedding []float32 `json:"embedding"`
}

// Detector extracts faces from an encoded image. A frame with no faces
// returns an empty slice, not an error.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]Detection, error)
}

// HTTPDetector calls an external face detection service over HTTP. The
// service receives the JPEG body and answers a JSON detection list.
type HTTPDetector struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPDetector creates a detector client for the given endpoint.
func NewHTTPDetector(url string, timeout time.Duration) *HTTPDetector {
	return &HTTPDetector{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logging.ForService("detector"),
	}
}

type detectorResponse struct {
	Faces []Detection `json:"faces"`
}

// Detect posts the frame to the detection service and decodes its response.
func (d *HTTPDetector) Detect(ctx context.Context, image []byte) ([]Detection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(image))
	if err != nil {
		return nil, errors.New(err).
			Component("detector").
			Category(errors.CategoryDetector).
			Build()
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errors.New(err).
			Component("detector").
			Category(errors.CategoryDetector).
			Context("url", d.url).
			Build()
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			d.logger.Warn("failed to close detector response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Newf("detector returned status %d: %s", resp.StatusCode, body).
			Component("detector").
			Category(errors.CategoryDetector).
			Context("url", d.url).
			Build()
	}

	var decoded detectorResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.New(fmt.Errorf("decoding detector response: %w", err)).
			Component("detector").
			Category(errors.CategoryDetector).
			Build()
	}
	return decoded.Faces, nil
}

// LargestFace picks the detection with the largest bounding box area. Used
// at registration time, where the subject is expected to dominate the frame.
func LargestFace(detections []Detection) (Detection, bool) {
	if len(detections) == 0 {
		return Detection{}, false
	}

	best := detections[0]
	bestArea := area(best)
	for _, det := range detections[1:] {
		if a := area(det); a > bestArea {
			best = det
			bestArea = a
		}
	}
	return best, true
}

func area(d Detection) int {
	width := d.Right - d.Left
	height := d.Bottom - d.Top
	if width < 0 || height < 0 {
		return 0
	}
	return width * height
}
