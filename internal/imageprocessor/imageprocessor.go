// Package imageprocessor turns uploads into JPEG images and defines the
// face embedding extractor contract.
package imageprocessor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/MarcDasilva/MyClientData/internal/face"
)

// JPEGQuality is used when re-encoding uploads for the archive.
const JPEGQuality = 95

// ErrInvalidImage is returned when an upload cannot be decoded.
var ErrInvalidImage = errors.New("invalid image")

// Extractor computes the descriptor of the primary face in a JPEG image.
// Implementations return face.ErrNoFaceDetected when no face is present.
type Extractor interface {
	Extract(ctx context.Context, jpegData []byte) (face.Embedding, error)
}

// Image is a decoded upload re-encoded as JPEG.
type Image struct {
	JPEG   []byte
	Format string
	Width  int
	Height int
}

// Normalize decodes data in any registered format and re-encodes it as JPEG.
func Normalize(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrInvalidImage
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	bounds := img.Bounds()
	return &Image{
		JPEG:   buf.Bytes(),
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}
