package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"guardian/internal/models"
)

var ErrDetectorFailure = errors.New("detector failure")

// Detector turns a frame into labelled boxes. Implementations should not
// return detections below confidenceFloor.
type Detector interface {
	Detect(ctx context.Context, frame models.Frame, confidenceFloor float64) ([]models.Detection, error)
}

type DetectorFunc func(ctx context.Context, frame models.Frame, confidenceFloor float64) ([]models.Detection, error)

func (f DetectorFunc) Detect(ctx context.Context, frame models.Frame, confidenceFloor float64) ([]models.Detection, error) {
	return f(ctx, frame, confidenceFloor)
}

// Client posts frames to an HTTP inference service at {URL}/predict.
type Client struct {
	config models.DetectorConfig
	iou    float64
	client *http.Client
}

func NewClient(cfg models.DetectorConfig, iouThreshold float64) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		config: cfg,
		iou:    iouThreshold,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// apiDetection reflects one entry of the inference response
type apiDetection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
}

type apiResponse struct {
	Detections []apiDetection `json:"detections"`
}

func (c *Client) Detect(ctx context.Context, frame models.Frame, confidenceFloor float64) ([]models.Detection, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("%w: create form part: %v", ErrDetectorFailure, err)
	}
	if _, err := part.Write(frame.Data); err != nil {
		return nil, fmt.Errorf("%w: write image data: %v", ErrDetectorFailure, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%w: close writer: %v", ErrDetectorFailure, err)
	}

	url := fmt.Sprintf("%s/predict?conf=%s&iou=%s", c.config.URL,
		strconv.FormatFloat(confidenceFloor, 'f', -1, 64),
		strconv.FormatFloat(c.iou, 'f', -1, 64))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrDetectorFailure, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %v", ErrDetectorFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: bad status: %s, error: %s", ErrDetectorFailure, resp.Status, body)
	}

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrDetectorFailure, err)
	}

	detections := make([]models.Detection, 0, len(out.Detections))
	for _, d := range out.Detections {
		box := models.BoundingBox{X1: d.X1, Y1: d.Y1, X2: d.X2, Y2: d.Y2}
		// degenerate boxes cannot be tracked
		if !box.Valid() || d.Confidence < 0 || d.Confidence > 1 {
			continue
		}
		detections = append(detections, models.NewDetection(d.Label, d.Confidence, box, frame.Timestamp))
	}
	return detections, nil
}
