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
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/tumor-detect/internal/config"
	"github.com/example/tumor-detect/internal/handlers"
	"github.com/example/tumor-detect/internal/inference"
	"github.com/example/tumor-detect/internal/logging"
	"github.com/example/tumor-detect/internal/repository"
	"github.com/example/tumor-detect/internal/session"
	"github.com/example/tumor-detect/internal/usecase"
)

func main() {
	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	states := initStateRepository(ctx, cfg, logger)

	client := inference.NewHTTPClient(cfg.InferenceBaseURL, nil, cfg.InferenceTimeout, logger)
	uc := usecase.NewDetectionUseCase(states, client, cfg.InferenceTimeout, logger)

	issuer, err := session.NewIssuer(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		logger.Fatal("invalid session configuration", zap.Error(err))
	}

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(r, uc, session.Middleware(issuer))

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("tumor detection UI listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("inference_endpoint", client.Endpoint()),
		zap.Bool("redis_sessions", cfg.RedisAddr != ""),
	)
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initStateRepository(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) repository.StateRepository {
	if cfg.RedisAddr == "" {
		zapLogger.Info("REDIS_ADDR not set, keeping session state in memory")
		return repository.NewMemoryStateRepository(cfg.SessionTTL)
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(redisCtx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err), zap.String("addr", cfg.RedisAddr))
	}
	return repository.NewRedisStateRepository(repository.NewRedisStateCache(client), cfg.SessionTTL, zapLogger)
}

// serveOptions lets tests supply their own listener and signal source.
type serveOptions struct {
	listener net.Listener
	signals  <-chan os.Signal
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveWithOptions(server, shutdownTimeout, logger, serveOptions{})
}

// serveWithOptions blocks until the server fails or a shutdown signal arrives. On a signal
// in-flight requests, including pending detections, get shutdownTimeout to finish.
func serveWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, opts serveOptions) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if opts.listener != nil {
			err = server.Serve(opts.listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := opts.signals
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

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
