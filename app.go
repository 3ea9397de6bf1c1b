package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/MarcDasilva/MyClientData/internal/archive"
	"github.com/MarcDasilva/MyClientData/internal/config"
	"github.com/MarcDasilva/MyClientData/internal/extractor/dlib"
	"github.com/MarcDasilva/MyClientData/internal/extractor/httpembed"
	"github.com/MarcDasilva/MyClientData/internal/grpcclient"
	"github.com/MarcDasilva/MyClientData/internal/imageprocessor"
	"github.com/MarcDasilva/MyClientData/internal/logging"
	"github.com/MarcDasilva/MyClientData/internal/repository"
	"github.com/MarcDasilva/MyClientData/internal/usecase"
)

// app holds the process-wide handles shared by the subcommands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  repository.Store
	images *archive.Archive
	uc     *usecase.FaceUseCase

	closers []func(context.Context) error
}

func loadConfigAndLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(logging.Options{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newApp connects the store, archive, extractor and cache selected by cfg.
// Whatever was opened before a failure is closed again.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	a.store, err = repository.Open(initCtx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	a.closers = append(a.closers, a.store.Close)

	a.images, err = archive.Open(cfg.Archive.Dir)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.images.Close() })

	extractor, err := initExtractor(initCtx, cfg.Extractor, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := extractor.(io.Closer); ok {
		a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	}

	var cache usecase.Cache
	if cfg.Cache.RedisAddr != "" {
		redisCache := initRedis(initCtx, cfg.Cache.RedisAddr, logger)
		a.closers = append(a.closers, func(context.Context) error { return redisCache.Close() })
		cache = redisCache
	}

	a.uc = usecase.NewFaceUseCase(a.store, extractor, a.images, cache, usecase.Options{
		Threshold: cfg.Match.Threshold,
		Dim:       cfg.Extractor.Dim,
		CacheTTL:  cfg.Cache.TTL,
	}, logger)

	logger.Info("face service initialised",
		zap.String("store", cfg.Store.Driver),
		zap.String("extractor", cfg.Extractor.Backend),
		zap.String("images_dir", a.images.Dir()),
		zap.Bool("cache", cache != nil),
		zap.Float64("threshold", cfg.Match.Threshold),
	)
	return a, nil
}

// Close releases handles in reverse order of acquisition.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
}

func initExtractor(ctx context.Context, cfg config.ExtractorConfig, logger *zap.Logger) (imageprocessor.Extractor, error) {
	switch cfg.Backend {
	case config.BackendDlib:
		ex, err := dlib.New(cfg.ModelDir, logger)
		if err != nil {
			return nil, err
		}
		return ex, nil
	case config.BackendHTTP:
		logger.Info("using HTTP embedding server", zap.String("url", cfg.URL))
		return httpembed.New(cfg.URL, cfg.Timeout), nil
	case config.BackendGRPC:
		ex, err := grpcclient.Dial(ctx, cfg.GRPCAddr, cfg.Timeout, logger)
		if err != nil {
			return nil, err
		}
		return ex, nil
	default:
		return nil, fmt.Errorf("unknown extractor backend %q", cfg.Backend)
	}
}

// initRedis never fails: an unreachable cache only disables memoisation.
func initRedis(ctx context.Context, addr string, logger *zap.Logger) *usecase.RedisCache {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable, recognitions will not be cached until it is", zap.String("addr", addr), zap.Error(err))
	}
	return usecase.NewRedisCache(client)
}
