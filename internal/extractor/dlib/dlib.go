//go:build dlib

package dlib

import (
	"context"
	"fmt"
	"sync"

	goface "github.com/Kagami/go-face"
	"go.uber.org/zap"

	"github.com/MarcDasilva/MyClientData/internal/face"
)

// Extractor wraps a go-face recognizer. The native recognizer is not safe
// for concurrent use, so calls are serialised.
type Extractor struct {
	mu     sync.Mutex
	rec    *goface.Recognizer
	logger *zap.Logger
}

// New loads the dlib models from modelDir.
func New(modelDir string, logger *zap.Logger) (*Extractor, error) {
	rec, err := goface.NewRecognizer(modelDir)
	if err != nil {
		return nil, fmt.Errorf("load dlib models from %s: %w", modelDir, err)
	}
	logger.Info("dlib face models loaded", zap.String("model_dir", modelDir))
	return &Extractor{rec: rec, logger: logger.Named("dlib_extractor")}, nil
}

// Extract returns the descriptor of the primary face. Images with several
// faces use the first one dlib reports.
func (e *Extractor) Extract(ctx context.Context, jpegData []byte) (face.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec == nil {
		return nil, errClosed
	}

	faces, err := e.rec.Recognize(jpegData)
	if err != nil {
		return nil, fmt.Errorf("dlib recognize: %w", err)
	}

	descriptors := make([][face.DescriptorSize]float32, len(faces))
	for i, f := range faces {
		descriptors[i] = f.Descriptor
	}
	out, err := primaryDescriptor(descriptors)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("face descriptor computed", zap.Int("faces", len(faces)), zap.Any("rect", faces[0].Rectangle))
	return out, nil
}

// Close frees the native recognizer.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec != nil {
		e.rec.Close()
		e.rec = nil
	}
	return nil
}
