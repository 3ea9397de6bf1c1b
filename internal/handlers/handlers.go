// Package handlers exposes the face service over HTTP.
package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcDasilva/MyClientData/internal/archive"
	"github.com/MarcDasilva/MyClientData/internal/auth"
	"github.com/MarcDasilva/MyClientData/internal/face"
	"github.com/MarcDasilva/MyClientData/internal/imageprocessor"
	"github.com/MarcDasilva/MyClientData/internal/logging"
	"github.com/MarcDasilva/MyClientData/internal/usecase"
)

// MaxUploadSize is the default cap on an uploaded image in bytes.
const MaxUploadSize = 10 << 20

// formOverhead leaves room for multipart boundaries and text fields on top
// of the image itself.
const formOverhead = 64 << 10

const (
	msgNoFace        = "No face detected"
	msgImageNotFound = "Image not found"
	msgInternal      = "internal error"
)

// FaceService is the use case surface served by the routes.
type FaceService interface {
	Register(ctx context.Context, name, info string, imageBytes []byte) (*face.Record, error)
	Recognize(ctx context.Context, imageBytes []byte) (face.Recognition, error)
	ListEntries(ctx context.Context) ([]face.Record, error)
	Image(ctx context.Context, ref string) ([]byte, error)
	GetStoreSummary(ctx context.Context) (*usecase.StoreSummary, error)
}

// Option customises route registration.
type Option func(*routes)

// WithMaxUploadBytes overrides MaxUploadSize.
func WithMaxUploadBytes(n int64) Option {
	return func(r *routes) {
		if n > 0 {
			r.maxUpload = n
		}
	}
}

type routes struct {
	svc       FaceService
	logger    *zap.Logger
	maxUpload int64
}

// RegisterRoutes wires the HTTP handlers to the Gin router. guard protects
// the registration endpoint.
func RegisterRoutes(router *gin.Engine, svc FaceService, guard gin.HandlerFunc, logger *zap.Logger, opts ...Option) {
	if guard == nil {
		guard = auth.Guard("", "")
	}
	r := &routes{svc: svc, logger: logger.Named("http"), maxUpload: MaxUploadSize}
	for _, opt := range opts {
		opt(r)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/register", guard, r.register)
	router.POST("/recognize", r.recognize)
	router.GET("/list_entries", r.listEntries)
	router.GET("/get_image/*path", r.getImage)
	router.GET("/stats", r.stats)
}

func (r *routes) register(c *gin.Context) {
	data, ok := r.readUpload(c)
	if !ok {
		return
	}
	name, ok := c.GetPostForm("name")
	if !ok || strings.TrimSpace(name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	info, ok := c.GetPostForm("info")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "info is required"})
		return
	}

	rec, err := r.svc.Register(c.Request.Context(), name, info, data)
	if err != nil {
		r.fail(c, "handlers.register", err)
		return
	}

	fields := []zap.Field{zap.String("name", rec.Name), zap.String("image", rec.ImageName)}
	if subject, ok := auth.GetSubject(c.Request.Context()); ok {
		fields = append(fields, zap.String("subject", subject))
	}
	logging.WithOperation(r.logger, "handlers.register", logging.RequestIDFromContext(c.Request.Context())).Info("registered face", fields...)

	c.JSON(http.StatusOK, gin.H{
		"message": "Face registered for " + rec.Name,
		"info":    rec.Info,
	})
}

func (r *routes) recognize(c *gin.Context) {
	data, ok := r.readUpload(c)
	if !ok {
		return
	}

	result, err := r.svc.Recognize(c.Request.Context(), data)
	if err != nil {
		r.fail(c, "handlers.recognize", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name":       result.Name,
		"info":       result.Info,
		"image_name": result.ImageName,
	})
}

func (r *routes) listEntries(c *gin.Context) {
	entries, err := r.svc.ListEntries(c.Request.Context())
	if err != nil {
		r.fail(c, "handlers.list_entries", err)
		return
	}
	if entries == nil {
		entries = []face.Record{}
	}
	c.JSON(http.StatusOK, entries)
}

func (r *routes) getImage(c *gin.Context) {
	data, err := r.svc.Image(c.Request.Context(), c.Param("path"))
	if err != nil {
		r.fail(c, "handlers.get_image", err)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (r *routes) stats(c *gin.Context) {
	summary, err := r.svc.GetStoreSummary(c.Request.Context())
	if err != nil {
		r.fail(c, "handlers.stats", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// readUpload returns the bytes of the "file" part, writing the error
// response itself when the upload is unusable.
func (r *routes) readUpload(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, r.maxUpload+formOverhead)

	file, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		}
		return nil, false
	}
	if file.Size > r.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return nil, false
	}
	if !isImageContentType(file) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content type"})
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		r.fail(c, "handlers.read_upload", err)
		return nil, false
	}
	return data, true
}

// isImageContentType accepts parts without a declared type and generic
// binary parts; anything else must be image/*.
func isImageContentType(file *multipart.FileHeader) bool {
	ct := strings.ToLower(strings.TrimSpace(file.Header.Get("Content-Type")))
	if ct == "" || strings.HasPrefix(ct, "application/octet-stream") {
		return true
	}
	return strings.HasPrefix(ct, "image/")
}

// fail maps domain errors to responses. No-face and not-found keep a 200
// status with an error body.
func (r *routes) fail(c *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, face.ErrNoFaceDetected):
		c.JSON(http.StatusOK, gin.H{"error": msgNoFace})
	case errors.Is(err, archive.ErrNotFound):
		c.JSON(http.StatusOK, gin.H{"error": msgImageNotFound})
	case errors.Is(err, usecase.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid name"})
	case errors.Is(err, imageprocessor.ErrInvalidImage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image"})
	default:
		requestID := logging.RequestIDFromContext(c.Request.Context())
		logging.WithOperation(r.logger, operation, requestID).Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
	}
}
