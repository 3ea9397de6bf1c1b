//go:build !dlib

package dlib

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MarcDasilva/MyClientData/internal/face"
)

// ErrUnavailable is returned by New in builds without the dlib tag.
var ErrUnavailable = errors.New("dlib extractor not compiled in; rebuild with -tags dlib or choose another extractor backend")

// Extractor is a placeholder in builds without dlib support.
type Extractor struct{}

// New always fails in builds without the dlib tag.
func New(modelDir string, logger *zap.Logger) (*Extractor, error) {
	logger.Error("dlib extractor requested but not compiled in", zap.String("model_dir", modelDir))
	return nil, ErrUnavailable
}

func (e *Extractor) Extract(context.Context, []byte) (face.Embedding, error) {
	return nil, ErrUnavailable
}

func (e *Extractor) Close() error {
	return nil
}
