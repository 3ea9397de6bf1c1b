package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MarcDasilva/MyClientData/internal/auth"
	"github.com/MarcDasilva/MyClientData/internal/config"
	"github.com/MarcDasilva/MyClientData/internal/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialise service", zap.Error(err))
		return err
	}
	defer a.Close()

	router := newRouter(a, cfg, logger)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("face API listening", zap.String("addr", cfg.Server.Addr))
	return serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger)
}

func newRouter(a *app, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(logger))
	r.MaxMultipartMemory = cfg.Server.MaxUploadBytes

	guard := auth.Guard(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, registration is unauthenticated")
	}
	handlers.RegisterRoutes(r, a.uc, guard, logger, handlers.WithMaxUploadBytes(cfg.Server.MaxUploadBytes))
	return r
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithListener(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, listener, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
