package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarcDasilva/MyClientData/internal/archive"
	"github.com/MarcDasilva/MyClientData/internal/face"
	"github.com/MarcDasilva/MyClientData/internal/imageprocessor"
	"github.com/MarcDasilva/MyClientData/internal/logging"
	"github.com/MarcDasilva/MyClientData/internal/retry"
)

const generationKey = "recognition:generation"

var (
	// ErrInvalidName is returned when a registration name cannot name an image file.
	ErrInvalidName = archive.ErrInvalidName
	// ErrDimensionMismatch is returned when the extractor output has the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// FaceRepository defines the persistence operations needed by the use case.
type FaceRepository interface {
	Insert(ctx context.Context, rec *face.Record) error
	All(ctx context.Context) ([]face.Record, error)
}

// ImageArchive stores and serves registration images.
type ImageArchive interface {
	Save(name string, data []byte) (string, error)
	Read(ref string) ([]byte, error)
}

// Options tunes matching and caching.
type Options struct {
	Threshold float64
	Dim       int           // expected embedding length; 0 disables the check
	CacheTTL  time.Duration // lifetime of memoised recognitions
}

// FaceUseCase encapsulates registration, recognition and listing.
type FaceUseCase struct {
	repo      FaceRepository
	extractor imageprocessor.Extractor
	archive   ImageArchive
	cache     Cache
	matcher   face.Matcher
	dim       int
	cacheTTL  time.Duration
	logger    *zap.Logger
	policy    retry.Policy
}

type cachedRecognition struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name"`
	Info      string   `json:"info"`
	ImageName string   `json:"image_name"`
	Matched   bool     `json:"matched"`
	Distance  *float64 `json:"distance,omitempty"`
}

// NewFaceUseCase constructs a new use case instance. A nil cache disables memoisation.
func NewFaceUseCase(repo FaceRepository, extractor imageprocessor.Extractor, images ImageArchive, cache Cache, opts Options, logger *zap.Logger) *FaceUseCase {
	if cache == nil {
		cache = NoopCache{}
	}
	return &FaceUseCase{
		repo:      repo,
		extractor: extractor,
		archive:   images,
		cache:     cache,
		matcher:   face.NewMatcher(opts.Threshold),
		dim:       opts.Dim,
		cacheTTL:  opts.CacheTTL,
		logger:    logger.Named("face_usecase"),
		policy:    retry.DefaultPolicy,
	}
}

// Register stores the face found in imageBytes under name. It returns
// face.ErrNoFaceDetected, leaving archive and store untouched, when the image
// holds no face. An existing image with the same name is overwritten and a
// new record is appended regardless.
func (uc *FaceUseCase) Register(ctx context.Context, name, info string, imageBytes []byte) (*face.Record, error) {
	requestID := requestIDFrom(ctx)
	opLogger := logging.WithOperation(uc.logger, "usecase.register", requestID)

	if err := archive.ValidateName(name); err != nil {
		return nil, err
	}

	embedding, img, err := uc.extract(ctx, requestID, imageBytes)
	if err != nil {
		return nil, err
	}

	ref, err := uc.archive.Save(name, img.JPEG)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.archive_save", requestID, err)
		opLogger.Error("failed to archive image", zap.Error(wrapped))
		return nil, wrapped
	}

	rec := &face.Record{
		Name:      name,
		Info:      info,
		Embedding: embedding,
		ImageName: ref,
	}
	if err := uc.repo.Insert(ctx, rec); err != nil {
		wrapped := logging.NewOperationError("usecase.insert_face", requestID, err)
		opLogger.Error("failed to persist face", zap.Error(wrapped), zap.String("image", ref))
		return nil, wrapped
	}

	if err := retry.Do(ctx, uc.policy, uc.logger, "cache.incr.generation", requestID, func() error {
		_, err := uc.cache.Incr(ctx, generationKey)
		return err
	}); err != nil {
		opLogger.Warn("failed to invalidate recognition cache", zap.Error(err))
	}

	opLogger.Info("face registered", zap.String("name", name), zap.String("id", rec.ID))
	return rec, nil
}

// Recognize identifies the face in imageBytes against every stored face.
// It returns face.ErrNoFaceDetected when the image holds no face and the
// Unknown placeholders when nothing is close enough.
func (uc *FaceUseCase) Recognize(ctx context.Context, imageBytes []byte) (face.Recognition, error) {
	requestID := requestIDFrom(ctx)
	opLogger := logging.WithOperation(uc.logger, "usecase.recognize", requestID)

	hash := sha1.Sum(imageBytes)
	cacheKey := uc.recognitionKey(ctx, requestID, hex.EncodeToString(hash[:]))
	if cached, ok := uc.cachedRecognition(ctx, requestID, cacheKey); ok {
		opLogger.Debug("recognition served from cache", zap.String("name", cached.Name))
		return cached, nil
	}

	embedding, _, err := uc.extract(ctx, requestID, imageBytes)
	if err != nil {
		return face.Recognition{}, err
	}

	records, err := uc.repo.All(ctx)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.load_faces", requestID, err)
		opLogger.Error("failed to load faces", zap.Error(wrapped))
		return face.Recognition{}, wrapped
	}

	result := uc.matcher.Match(embedding, records)
	opLogger.Info("recognition complete",
		zap.String("name", result.Name),
		zap.Bool("matched", result.Matched),
		zap.Int("candidates", len(records)),
	)

	uc.storeRecognition(ctx, requestID, cacheKey, result)
	return result, nil
}

// ListEntries returns every stored record in store order; never nil.
func (uc *FaceUseCase) ListEntries(ctx context.Context) ([]face.Record, error) {
	records, err := uc.repo.All(ctx)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.list_entries", requestIDFrom(ctx), err)
		uc.logger.Error("failed to list faces", zap.Error(wrapped))
		return nil, wrapped
	}
	if records == nil {
		records = []face.Record{}
	}
	return records, nil
}

// Image returns the archived JPEG addressed by ref, or archive.ErrNotFound.
func (uc *FaceUseCase) Image(ctx context.Context, ref string) ([]byte, error) {
	data, err := uc.archive.Read(ref)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			return nil, err
		}
		wrapped := logging.NewOperationError("usecase.read_image", requestIDFrom(ctx), err)
		uc.logger.Error("failed to read image", zap.Error(wrapped))
		return nil, wrapped
	}
	return data, nil
}

func (uc *FaceUseCase) extract(ctx context.Context, requestID string, imageBytes []byte) (face.Embedding, *imageprocessor.Image, error) {
	img, err := imageprocessor.Normalize(imageBytes)
	if err != nil {
		return nil, nil, err
	}

	embedding, err := uc.extractor.Extract(ctx, img.JPEG)
	if err != nil {
		if errors.Is(err, face.ErrNoFaceDetected) {
			return nil, nil, err
		}
		wrapped := logging.NewOperationError("usecase.extract_embedding", requestID, err)
		uc.logger.Error("embedding extraction failed", zap.Error(wrapped))
		return nil, nil, wrapped
	}
	if uc.dim > 0 && len(embedding) != uc.dim {
		return nil, nil, logging.NewOperationError("usecase.extract_embedding", requestID,
			fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), uc.dim))
	}
	return embedding, img, nil
}

// recognitionKey scopes cached results to the current registration
// generation so that any registration invalidates them.
func (uc *FaceUseCase) recognitionKey(ctx context.Context, requestID, hash string) string {
	generation := "0"
	value, found, err := uc.cacheGet(ctx, requestID, "cache.get.generation", generationKey)
	switch {
	case err != nil:
		uc.logger.Warn("failed to read cache generation", zap.Error(err))
	case found:
		generation = value
	}
	return fmt.Sprintf("recognition:%s:%s", generation, hash)
}

func (uc *FaceUseCase) cachedRecognition(ctx context.Context, requestID, key string) (face.Recognition, bool) {
	raw, found, err := uc.cacheGet(ctx, requestID, "cache.get.recognition", key)
	if err != nil {
		uc.logger.Warn("failed to read recognition cache", zap.Error(err))
		return face.Recognition{}, false
	}
	if !found {
		return face.Recognition{}, false
	}

	var payload cachedRecognition
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		logging.WithOperation(uc.logger, "usecase.recognize", requestID).Warn("failed to decode cached recognition", zap.Error(err))
		return face.Recognition{}, false
	}

	result := face.Recognition{
		ID:        payload.ID,
		Name:      payload.Name,
		Info:      payload.Info,
		ImageName: payload.ImageName,
		Matched:   payload.Matched,
		Distance:  math.Inf(1),
	}
	if payload.Distance != nil {
		result.Distance = *payload.Distance
	}
	return result, true
}

// cacheGet reads key with retries. A miss (redis.Nil) is reported through
// found and never reaches the retry loop as a failure.
func (uc *FaceUseCase) cacheGet(ctx context.Context, requestID, operation, key string) (value string, found bool, err error) {
	err = retry.Do(ctx, uc.policy, uc.logger, operation, requestID, func() error {
		v, err := uc.cache.Get(ctx, key)
		if errors.Is(err, redis.Nil) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		value, found = v, true
		return nil
	})
	return value, found, err
}

func (uc *FaceUseCase) storeRecognition(ctx context.Context, requestID, key string, result face.Recognition) {
	payload := cachedRecognition{
		ID:        result.ID,
		Name:      result.Name,
		Info:      result.Info,
		ImageName: result.ImageName,
		Matched:   result.Matched,
	}
	if result.Matched {
		d := result.Distance
		payload.Distance = &d
	}
	serialized, err := json.Marshal(payload)
	if err != nil {
		uc.logger.Warn("failed to serialize recognition", zap.Error(err))
		return
	}
	if err := retry.Do(ctx, uc.policy, uc.logger, "cache.set.recognition", requestID, func() error {
		return uc.cache.Set(ctx, key, string(serialized), uc.cacheTTL)
	}); err != nil {
		uc.logger.Warn("failed to cache recognition", zap.Error(err))
	}
}

func requestIDFrom(ctx context.Context) string {
	if id := logging.RequestIDFromContext(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}
