// Package httpembed calls an external face embedding server over HTTP.
package httpembed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/MarcDasilva/MyClientData/internal/face"
)

const facePath = "/embed/face"

// Client posts images to {baseURL}/embed/face.
type Client struct {
	baseURL string
	client  *http.Client
}

// New returns a client with the given request timeout (0 means none).
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Detection is a single face returned by the server.
type Detection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// Response is the body of a successful /embed/face call.
type Response struct {
	FacesCount int         `json:"faces_count"`
	Faces      []Detection `json:"faces"`
	Model      string      `json:"model"`
}

// Extract returns the embedding of the first face reported by the server.
func (c *Client) Extract(ctx context.Context, jpegData []byte) (face.Embedding, error) {
	resp, err := c.Detect(ctx, jpegData)
	if err != nil {
		return nil, err
	}
	if len(resp.Faces) == 0 || len(resp.Faces[0].Embedding) == 0 {
		return nil, face.ErrNoFaceDetected
	}
	return face.Embedding(resp.Faces[0].Embedding), nil
}

// Detect returns the raw server response.
func (c *Client) Detect(ctx context.Context, jpegData []byte) (*Response, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(jpegData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+facePath, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding server error (status %d): %s", resp.StatusCode, string(body))
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &out, nil
}
