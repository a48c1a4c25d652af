// Package handlers exposes the prediction use case over HTTP.
package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/spoof-check/internal/inference"
	"github.com/example/spoof-check/internal/logging"
	"github.com/example/spoof-check/internal/metrics"
	"github.com/example/spoof-check/internal/usecase"
)

const (
	// MaxUploadSize is the default cap on one request body.
	MaxUploadSize = 32 << 20
	// MaxBatchFiles caps the number of files in one batch request.
	MaxBatchFiles = 64
)

var errUnsupportedMedia = errors.New("unsupported content type")

// PredictionService is the use case surface the routes depend on.
type PredictionService interface {
	Predict(ctx context.Context, filename string, data []byte) (*usecase.Prediction, error)
	PredictBatch(ctx context.Context, uploads []usecase.Upload) *usecase.BatchReport
}

// Options configures RegisterRoutes.
type Options struct {
	// Auth guards the prediction routes. Nil leaves them open.
	Auth gin.HandlerFunc
	// Metrics records HTTP traffic and serves /metrics. Nil disables both.
	Metrics *metrics.Recorder
	// MaxUploadBytes caps one request body; zero means MaxUploadSize.
	MaxUploadBytes int64
	Logger         *zap.Logger
}

type api struct {
	uc        PredictionService
	maxUpload int64
	logger    *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc PredictionService, opts Options) {
	a := &api{uc: uc, maxUpload: opts.MaxUploadBytes, logger: opts.Logger}
	if a.maxUpload <= 0 {
		a.maxUpload = MaxUploadSize
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}

	if opts.Metrics != nil {
		router.Use(observe(opts.Metrics))
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	predict := router.Group("/predict")
	if opts.Auth != nil {
		predict.Use(opts.Auth)
	}
	predict.POST("", a.predict)
	predict.POST("/batch", a.predictBatch)
}

func (a *api) predict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxUpload)

	file, err := c.FormFile("image")
	if err != nil {
		if tooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}

	data, err := readUpload(file)
	if err != nil {
		a.writeUploadError(c, file.Filename, err)
		return
	}

	pred, err := a.uc.Predict(c.Request.Context(), file.Filename, data)
	if err != nil {
		if errors.Is(err, inference.ErrDecode) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		a.logger.Error("prediction failed",
			zap.String("filename", file.Filename),
			zap.String("operation", logging.OperationOf(err)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prediction failed"})
		return
	}

	c.JSON(http.StatusOK, pred)
}

func (a *api) predictBatch(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxUpload)

	form, err := c.MultipartForm()
	if err != nil {
		if tooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}

	files := form.File["images"]
	switch {
	case len(files) == 0:
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one image is required"})
		return
	case len(files) > MaxBatchFiles:
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many images", "max": MaxBatchFiles})
		return
	}

	uploads := make([]usecase.Upload, 0, len(files))
	for _, file := range files {
		data, err := readUpload(file)
		if err != nil {
			a.writeUploadError(c, file.Filename, err)
			return
		}
		uploads = append(uploads, usecase.Upload{Filename: file.Filename, Data: data})
	}

	c.JSON(http.StatusOK, a.uc.PredictBatch(c.Request.Context(), uploads))
}

func (a *api) writeUploadError(c *gin.Context, filename string, err error) {
	if errors.Is(err, errUnsupportedMedia) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error(), "filename": filename})
		return
	}
	a.logger.Warn("failed to read upload", zap.String("filename", filename), zap.Error(err))
	c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read image", "filename": filename})
}

// readUpload rejects parts whose declared type is not an image and returns
// the file bytes. Untyped parts are accepted and left to the decoder.
func readUpload(file *multipart.FileHeader) ([]byte, error) {
	if ct := file.Header.Get("Content-Type"); !acceptedType(ct) {
		return nil, errUnsupportedMedia
	}
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

func acceptedType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct == "" || ct == "application/octet-stream" || strings.HasPrefix(ct, "image/")
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

func observe(recorder *metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		recorder.ObserveHTTP(route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
