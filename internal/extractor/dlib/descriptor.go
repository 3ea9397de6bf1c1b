// Package dlib extracts face descriptors in-process with dlib's ResNet model
// through github.com/Kagami/go-face.
//
// The backend is compiled only with the "dlib" build tag, since go-face needs
// cgo and the dlib libraries. Without the tag New reports ErrUnavailable.
//
// The model directory must contain shape_predictor_5_face_landmarks.dat,
// dlib_face_recognition_resnet_model_v1.dat and mmod_human_face_detector.dat.
package dlib

import (
	"errors"

	"github.com/MarcDasilva/MyClientData/internal/face"
)

var errClosed = errors.New("dlib extractor closed")

// primaryDescriptor picks the first face in detector order, as the
// registration flow has always done for group photos.
func primaryDescriptor(descriptors [][face.DescriptorSize]float32) (face.Embedding, error) {
	if len(descriptors) == 0 {
		return nil, face.ErrNoFaceDetected
	}
	out := make(face.Embedding, face.DescriptorSize)
	copy(out, descriptors[0][:])
	return out, nil
}
