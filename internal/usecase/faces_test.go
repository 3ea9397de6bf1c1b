package usecase

import (
	"context"
	"errors"
	"image/color"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarcDasilva/MyClientData/internal/archive"
	"github.com/MarcDasilva/MyClientData/internal/face"
	"github.com/MarcDasilva/MyClientData/internal/facetest"
	"github.com/MarcDasilva/MyClientData/internal/imageprocessor"
	"github.com/MarcDasilva/MyClientData/internal/retry"
)

var (
	annColor   = color.RGBA{R: 200, G: 30, B: 30, A: 255}
	bobColor   = color.RGBA{R: 30, G: 30, B: 200, A: 255}
	blackColor = color.RGBA{A: 255}
)

type stubRepository struct {
	mu        sync.Mutex
	records   []face.Record
	insertErr error
	allErr    error
	allCalls  int
	nextID    int
}

func (s *stubRepository) Insert(ctx context.Context, rec *face.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.nextID++
	rec.ID = strconv.Itoa(s.nextID)
	s.records = append(s.records, *rec)
	return nil
}

func (s *stubRepository) All(ctx context.Context) ([]face.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allCalls++
	if s.allErr != nil {
		return nil, s.allErr
	}
	out := make([]face.Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

type memoryCache struct {
	mu      sync.Mutex
	values  map[string]string
	getErrs []error
	setKeys []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string]string{}}
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setKeys = append(c.setKeys, key)
	c.values[key] = value.(string)
	return nil
}

func (c *memoryCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.getErrs) > 0 {
		err := c.getErrs[0]
		c.getErrs = c.getErrs[1:]
		return "", err
	}
	v, ok := c.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (c *memoryCache) Incr(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, _ := strconv.ParseInt(c.values[key], 10, 64)
	n++
	c.values[key] = strconv.FormatInt(n, 10)
	return n, nil
}

type fixture struct {
	uc        *FaceUseCase
	repo      *stubRepository
	extractor *facetest.ColorExtractor
	archive   *archive.Archive
	cache     *memoryCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	images, err := archive.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	t.Cleanup(func() { images.Close() })

	f := &fixture{
		repo:      &stubRepository{},
		extractor: &facetest.ColorExtractor{},
		archive:   images,
		cache:     newMemoryCache(),
	}
	f.uc = NewFaceUseCase(f.repo, f.extractor, images, f.cache, Options{Dim: facetest.Dim, CacheTTL: time.Minute}, zap.NewNop())
	f.uc.policy = retry.Policy{Attempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	return f
}

func TestRegisterStoresRecordAndImage(t *testing.T) {
	f := newFixture(t)

	rec, err := f.uc.Register(context.Background(), "Ann", "engineer", facetest.SolidPNG(t, annColor))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ImageName != "images/Ann.jpg" {
		t.Fatalf("unexpected image reference %q", rec.ImageName)
	}
	if len(rec.Embedding) != facetest.Dim {
		t.Fatalf("unexpected embedding length %d", len(rec.Embedding))
	}
	if len(f.repo.records) != 1 || f.repo.records[0].Info != "engineer" {
		t.Fatalf("record not persisted: %+v", f.repo.records)
	}

	data, err := f.archive.Read(rec.ImageName)
	if err != nil {
		t.Fatalf("archived image missing: %v", err)
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Fatal("archived image is not a JPEG")
	}
	if f.cache.values[generationKey] != "1" {
		t.Fatalf("expected generation bump, got %q", f.cache.values[generationKey])
	}
}

func TestRegisterWithoutFaceLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)

	_, err := f.uc.Register(context.Background(), "Nobody", "", facetest.SolidPNG(t, blackColor))
	if !errors.Is(err, face.ErrNoFaceDetected) {
		t.Fatalf("expected ErrNoFaceDetected, got %v", err)
	}
	if len(f.repo.records) != 0 {
		t.Fatal("no record should be stored")
	}
	if _, err := f.archive.Read("Nobody.jpg"); !errors.Is(err, archive.ErrNotFound) {
		t.Fatalf("no image should be archived, got %v", err)
	}
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)

	if _, err := f.uc.Register(context.Background(), "../evil", "", facetest.SolidPNG(t, annColor)); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if _, err := f.uc.Register(context.Background(), "Ann", "", []byte("not an image")); !errors.Is(err, imageprocessor.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
	if f.extractor.Calls() != 0 {
		t.Fatalf("extractor should not run for invalid input, ran %d times", f.extractor.Calls())
	}
}

func TestRegisterRejectsWrongDimension(t *testing.T) {
	f := newFixture(t)
	f.uc.dim = face.DescriptorSize

	_, err := f.uc.Register(context.Background(), "Ann", "", facetest.SolidPNG(t, annColor))
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if len(f.repo.records) != 0 {
		t.Fatal("no record should be stored")
	}
}

func TestRecognizeReturnsClosestRegisteredFace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.uc.Register(ctx, "Ann", "engineer", facetest.SolidPNG(t, annColor)); err != nil {
		t.Fatalf("register Ann: %v", err)
	}
	if _, err := f.uc.Register(ctx, "Bob", "designer", facetest.SolidPNG(t, bobColor)); err != nil {
		t.Fatalf("register Bob: %v", err)
	}

	got, err := f.uc.Recognize(ctx, facetest.SolidPNG(t, annColor))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Matched || got.Name != "Ann" || got.Info != "engineer" || got.ImageName != "images/Ann.jpg" {
		t.Fatalf("unexpected recognition %+v", got)
	}
}

func TestRecognizeUnknownWhenStoreEmpty(t *testing.T) {
	f := newFixture(t)

	got, err := f.uc.Recognize(context.Background(), facetest.SolidPNG(t, annColor))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Matched || got.Name != face.UnknownName || got.Info != face.UnknownInfo || got.ImageName != face.DefaultImage {
		t.Fatalf("expected unknown placeholders, got %+v", got)
	}
}

func TestRecognizeWithoutFace(t *testing.T) {
	f := newFixture(t)

	_, err := f.uc.Recognize(context.Background(), facetest.SolidPNG(t, blackColor))
	if !errors.Is(err, face.ErrNoFaceDetected) {
		t.Fatalf("expected ErrNoFaceDetected, got %v", err)
	}
	if len(f.cache.setKeys) != 0 {
		t.Fatal("failed recognitions must not be cached")
	}
}

func TestRecognizeServesRepeatFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.uc.Register(ctx, "Ann", "", facetest.SolidPNG(t, annColor)); err != nil {
		t.Fatalf("register: %v", err)
	}
	query := facetest.SolidPNG(t, annColor)

	first, err := f.uc.Recognize(ctx, query)
	if err != nil {
		t.Fatalf("first recognize: %v", err)
	}
	calls := f.extractor.Calls()

	second, err := f.uc.Recognize(ctx, query)
	if err != nil {
		t.Fatalf("second recognize: %v", err)
	}
	if f.extractor.Calls() != calls {
		t.Fatal("expected cached recognition to skip extraction")
	}
	if second.Name != first.Name || second.Matched != first.Matched || math.Abs(second.Distance-first.Distance) > 1e-9 {
		t.Fatalf("cached result differs: %+v vs %+v", second, first)
	}
}

func TestRegisterInvalidatesCachedRecognition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	query := facetest.SolidPNG(t, annColor)

	got, err := f.uc.Recognize(ctx, query)
	if err != nil || got.Matched {
		t.Fatalf("expected unknown before registration, got %+v, %v", got, err)
	}

	if _, err := f.uc.Register(ctx, "Ann", "", facetest.SolidPNG(t, annColor)); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err = f.uc.Recognize(ctx, query)
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if got.Name != "Ann" {
		t.Fatalf("expected Ann after registration, got %+v", got)
	}
}

func TestRecognizeToleratesCacheFailure(t *testing.T) {
	f := newFixture(t)
	f.cache.getErrs = []error{errors.New("boom"), errors.New("boom")}

	got, err := f.uc.Recognize(context.Background(), facetest.SolidPNG(t, annColor))
	if err != nil {
		t.Fatalf("cache faults must not fail recognition: %v", err)
	}
	if got.Name != face.UnknownName {
		t.Fatalf("expected unknown, got %+v", got)
	}
}

func TestRecognizeReturnsStoreError(t *testing.T) {
	f := newFixture(t)
	f.repo.allErr = errors.New("db down")

	if _, err := f.uc.Recognize(context.Background(), facetest.SolidPNG(t, annColor)); err == nil {
		t.Fatal("expected store error")
	}
}

func TestListEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entries, err := f.uc.ListEntries(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", entries)
	}

	if _, err := f.uc.Register(ctx, "Ann", "engineer", facetest.SolidPNG(t, annColor)); err != nil {
		t.Fatalf("register: %v", err)
	}
	entries, err = f.uc.ListEntries(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "Ann" || entries[0].ImageName != "images/Ann.jpg" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.uc.Register(ctx, "Ann", "", facetest.SolidPNG(t, annColor)); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := f.uc.Image(ctx, "images/Ann.jpg"); err != nil {
		t.Fatalf("expected image, got %v", err)
	}
	if _, err := f.uc.Image(ctx, "missing.jpg"); !errors.Is(err, archive.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.uc.Image(ctx, "../../etc/passwd"); !errors.Is(err, archive.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for traversal, got %v", err)
	}
}

func TestGetStoreSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, reg := range []struct {
		name string
		c    color.RGBA
	}{{"Bob", bobColor}, {"Ann", annColor}, {"Bob", bobColor}} {
		if _, err := f.uc.Register(ctx, reg.name, "", facetest.SolidPNG(t, reg.c)); err != nil {
			t.Fatalf("register %s: %v", reg.name, err)
		}
	}

	summary, err := f.uc.GetStoreSummary(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.TotalFaces != 3 || summary.DistinctNames != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(summary.DuplicateNames) != 1 || summary.DuplicateNames[0] != "Bob" {
		t.Fatalf("expected Bob as duplicate, got %v", summary.DuplicateNames)
	}
}

func TestRecognizeCacheMissLogsNoErrors(t *testing.T) {
	images, err := archive.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	defer images.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	for _, cache := range []Cache{nil, newMemoryCache()} {
		uc := NewFaceUseCase(&stubRepository{}, &facetest.ColorExtractor{}, images, cache, Options{Dim: facetest.Dim}, zap.New(core))

		if _, err := uc.Recognize(context.Background(), facetest.SolidPNG(t, annColor)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if n := logs.FilterLevelExact(zapcore.ErrorLevel).Len(); n != 0 {
		t.Fatalf("expected no error logs on cache miss, got %d: %v", n, logs.FilterLevelExact(zapcore.ErrorLevel).All())
	}
	if n := logs.FilterLevelExact(zapcore.WarnLevel).Len(); n != 0 {
		t.Fatalf("expected no warnings on cache miss, got %d", n)
	}
}
