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

	"github.com/example/spoof-check/internal/auth"
	"github.com/example/spoof-check/internal/checkpoint"
	"github.com/example/spoof-check/internal/config"
	"github.com/example/spoof-check/internal/grpcserver"
	"github.com/example/spoof-check/internal/handlers"
	"github.com/example/spoof-check/internal/inference"
	"github.com/example/spoof-check/internal/logging"
	"github.com/example/spoof-check/internal/metrics"
	"github.com/example/spoof-check/internal/model"
	"github.com/example/spoof-check/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	health := grpcserver.New(logger)
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("failed to listen for gRPC", zap.Error(err), zap.String("addr", cfg.GRPCAddr))
		}
		go func() {
			if err := health.Serve(lis); err != nil {
				logger.Error("gRPC server failed", zap.Error(err))
			}
		}()
	}

	predictor, err := inference.LoadPredictor(cfg.CheckpointPath, model.Default(), logger,
		inference.WithMaxPixels(cfg.MaxPixels))
	if err != nil {
		logger.Fatal("failed to load model", zap.Error(err))
	}
	modelID, err := checkpoint.Fingerprint(cfg.CheckpointPath)
	if err != nil {
		logger.Fatal("failed to fingerprint checkpoint", zap.Error(err))
	}

	var cache usecase.Cache
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(context.Background(), 5*time.Second)
		client := initRedis(redisCtx, cfg.RedisAddr, logger)
		redisCancel()
		if client != nil {
			defer client.Close()
			cache = usecase.NewRedisCache(client, "prediction:")
		}
	}

	recorder := metrics.New()
	uc := usecase.NewPredictionUseCase(predictor, cache, recorder, logger, usecase.Options{
		ModelID:  modelID[:12],
		CacheTTL: cfg.CacheTTL,
		Workers:  cfg.WorkerCount,
	})

	r := newRouter(cfg, uc, recorder, logger)
	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}
	server.RegisterOnShutdown(func() {
		health.SetServing(false)
		health.Stop()
	})

	health.SetServing(true)
	logger.Info("spoof-check API listening", zap.String("addr", cfg.Addr), zap.String("model", modelID[:12]))
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newRouter(cfg *config.Config, svc handlers.PredictionService, recorder *metrics.Recorder, logger *zap.Logger) *gin.Engine {
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxUploadBytes

	handlers.RegisterRoutes(r, svc, handlers.Options{
		Auth:           auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience),
		Metrics:        recorder,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger,
	})
	return r
}

// initRedis connects to the cache. The cache is optional, so an unreachable
// server is logged and yields nil.
func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Warn("redis unavailable, prediction cache disabled", zap.Error(err), zap.String("addr", addr))
		client.Close()
		return nil
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
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
