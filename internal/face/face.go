package face

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DescriptorSize is the length of the dlib ResNet face descriptor.
const DescriptorSize = 128

// Placeholders returned when no stored face is close enough.
const (
	UnknownName  = "Unknown"
	UnknownInfo  = "No additional info"
	DefaultImage = "default.jpg"
)

// ErrNoFaceDetected is returned by extractors when the image holds no face.
var ErrNoFaceDetected = errors.New("no face detected")

// Embedding is a fixed-length face descriptor.
type Embedding []float32

// Record is a registered face as held by the face store.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Info      string    `json:"info"`
	Embedding Embedding `json:"-"`
	ImageName string    `json:"imageName"`
	CreatedAt time.Time `json:"-"`
}

// EuclideanDistance returns the L2 distance between two embeddings.
func EuclideanDistance(a, b Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("face: embedding dimension mismatch: %d vs %d", len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}
