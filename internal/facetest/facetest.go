// Package facetest provides deterministic stand-ins for face extraction in tests.
package facetest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"sync"
	"testing"

	"github.com/MarcDasilva/MyClientData/internal/face"
)

// Dim is the embedding length produced by ColorExtractor.
const Dim = 3

// SolidPNG encodes a 16x16 PNG filled with c.
func SolidPNG(t testing.TB, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

// ColorExtractor maps the centre pixel colour of an image to a 3-dimensional
// embedding in [0,1]. Near-black images have "no face".
type ColorExtractor struct {
	mu    sync.Mutex
	calls int
	Err   error
}

func (e *ColorExtractor) Extract(_ context.Context, data []byte) (face.Embedding, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	r, g, bl, _ := img.At(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2).RGBA()
	if r>>8+g>>8+bl>>8 < 30 {
		return nil, face.ErrNoFaceDetected
	}
	return face.Embedding{float32(r>>8) / 255, float32(g>>8) / 255, float32(bl>>8) / 255}, nil
}

// Calls reports how many times Extract ran.
func (e *ColorExtractor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
