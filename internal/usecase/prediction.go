package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/spoof-check/internal/inference"
	"github.com/example/spoof-check/internal/logging"
	"github.com/example/spoof-check/internal/metrics"
)

// Predictor is the inference surface used by the use case.
type Predictor interface {
	Predict(data []byte, filename string) (inference.Result, error)
}

// Prediction is the outcome of one prediction request.
type Prediction struct {
	RequestID     string         `json:"request_id"`
	Filename      string         `json:"filename"`
	Label         string         `json:"label"`
	Confidence    float64        `json:"confidence"`
	Probabilities []float64      `json:"probabilities"`
	Details       map[string]any `json:"details"`
	Cached        bool           `json:"cached"`
}

type cachedPrediction struct {
	Label         string    `json:"label"`
	Confidence    float64   `json:"confidence"`
	Probabilities []float64 `json:"probabilities"`
	Hash          string    `json:"sha1_hash"`
	CreatedAt     time.Time `json:"created_at"`
}

// Options tunes a PredictionUseCase.
type Options struct {
	// ModelID scopes cache keys to one set of weights.
	ModelID string
	// CacheTTL is the lifetime of a cached prediction.
	CacheTTL time.Duration
	// Workers caps concurrent predictions per batch.
	Workers int
}

// PredictionUseCase wraps the predictor with request identifiers, a result
// cache and metrics. The cache is optional.
type PredictionUseCase struct {
	predictor      Predictor
	cache          Cache
	metrics        *metrics.Recorder
	logger         *zap.Logger
	modelID        string
	cacheTTL       time.Duration
	workers        int
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewPredictionUseCase constructs a use case. cache may be nil.
func NewPredictionUseCase(predictor Predictor, cache Cache, recorder *metrics.Recorder, logger *zap.Logger, opts Options) *PredictionUseCase {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	return &PredictionUseCase{
		predictor:      predictor,
		cache:          cache,
		metrics:        recorder,
		logger:         logger.Named("prediction_usecase"),
		modelID:        opts.ModelID,
		cacheTTL:       opts.CacheTTL,
		workers:        workers,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Predict classifies one upload, serving a cached result when the same bytes
// were classified by the same model before. Decode failures match
// inference.ErrDecode.
func (uc *PredictionUseCase) Predict(ctx context.Context, filename string, data []byte) (*Prediction, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.predict", requestID)

	sum := sha1.Sum(data)
	hash := hex.EncodeToString(sum[:])
	cacheKey := fmt.Sprintf("%s:%s", uc.modelID, hash)

	if cached, ok := uc.lookup(ctx, requestID, cacheKey); ok {
		uc.metrics.ObserveCache(true)
		return &Prediction{
			RequestID:     requestID,
			Filename:      filename,
			Label:         cached.Label,
			Confidence:    cached.Confidence,
			Probabilities: cached.Probabilities,
			Details:       map[string]any{"model": uc.modelID},
			Cached:        true,
		}, nil
	} else if uc.cache != nil {
		uc.metrics.ObserveCache(false)
	}

	start := time.Now()
	result, err := uc.predictor.Predict(data, filename)
	elapsed := time.Since(start)
	if err != nil {
		reason := "internal"
		if errors.Is(err, inference.ErrDecode) {
			reason = "decode"
		}
		uc.metrics.ObserveFailure(reason)
		wrapped := logging.NewOperationError("usecase.predict", requestID, err)
		opLogger.Warn("prediction failed", zap.String("filename", filename), zap.Error(wrapped))
		return nil, wrapped
	}
	uc.metrics.ObservePrediction(result.Label, elapsed)

	details := make(map[string]any, len(result.Details)+2)
	for k, v := range result.Details {
		details[k] = v
	}
	details["model"] = uc.modelID
	details["latency_ms"] = elapsed.Milliseconds()

	opLogger.Info("prediction complete",
		zap.String("filename", filename),
		zap.String("label", result.Label),
		zap.Float64("confidence", result.Confidence),
		zap.Duration("elapsed", elapsed),
	)

	uc.store(ctx, requestID, cacheKey, cachedPrediction{
		Label:         result.Label,
		Confidence:    result.Confidence,
		Probabilities: result.Probabilities,
		Hash:          hash,
		CreatedAt:     time.Now().UTC(),
	})

	return &Prediction{
		RequestID:     requestID,
		Filename:      filename,
		Label:         result.Label,
		Confidence:    result.Confidence,
		Probabilities: result.Probabilities,
		Details:       details,
	}, nil
}

// lookup reads a cached prediction. Cache trouble is logged and treated as a
// miss; inference is the source of truth.
func (uc *PredictionUseCase) lookup(ctx context.Context, requestID, key string) (*cachedPrediction, bool) {
	if uc.cache == nil {
		return nil, false
	}
	var raw []byte
	err := uc.withCacheRetry(ctx, requestID, "cache.get.prediction", func() error {
		value, err := uc.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			logging.WithOperation(uc.logger, "usecase.predict", requestID).Warn("failed to read cache", zap.Error(err))
		}
		return nil, false
	}

	var payload cachedPrediction
	if err := json.Unmarshal(raw, &payload); err != nil {
		logging.WithOperation(uc.logger, "usecase.predict", requestID).Warn("failed to decode cached prediction", zap.Error(err))
		return nil, false
	}
	return &payload, true
}

func (uc *PredictionUseCase) store(ctx context.Context, requestID, key string, value cachedPrediction) {
	if uc.cache == nil || uc.cacheTTL <= 0 {
		return
	}
	serialized, err := json.Marshal(value)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.predict", requestID).Error("failed to serialize prediction", zap.Error(err))
		return
	}
	if err := uc.withCacheRetry(ctx, requestID, "cache.set.prediction", func() error {
		return uc.cache.Set(ctx, key, serialized, uc.cacheTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.predict", requestID).Warn("failed to cache prediction", zap.Error(err))
	}
}

// withCacheRetry retries transient cache errors with exponential backoff.
// Cache misses and other errors return immediately.
func (uc *PredictionUseCase) withCacheRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < max(uc.retryAttempts, 1); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("cache operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, ErrCacheMiss) {
			return err
		}
		if !isTransientError(err) {
			break
		}
		opLogger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
