// Package inference runs the end-to-end spoof prediction for one image.
package inference

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/spoof-check/internal/checkpoint"
	"github.com/example/spoof-check/internal/frequency"
	"github.com/example/spoof-check/internal/imageprocessor"
	"github.com/example/spoof-check/internal/model"
	"github.com/example/spoof-check/internal/tensor"
)

// Labels in class-index order.
const (
	LabelReal  = "real"
	LabelSpoof = "spoof"
)

var labels = []string{LabelReal, LabelSpoof}

// ErrDecode marks input bytes that are not a supported image.
var ErrDecode = errors.New("image decode failed")

// DecodeError reports an upload that could not be decoded. It matches
// ErrDecode with errors.Is.
type DecodeError struct {
	Filename string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Filename != "" {
		return fmt.Sprintf("decode %s: %v", e.Filename, e.Err)
	}
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is reports ErrDecode as a match.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Result is the outcome of one prediction.
type Result struct {
	Label         string
	Confidence    float64
	Probabilities []float64
	Details       map[string]any
}

// Predictor owns a loaded model and the preprocessing around it. It holds no
// per-call state, so Predict may be called concurrently.
type Predictor struct {
	model     *model.Model
	highPass  frequency.HighPass
	maxPixels int64
	logger    *zap.Logger
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithMaxPixels caps the declared pixel count of accepted uploads. Larger
// images fail with a *DecodeError wrapping imageprocessor.ErrImageTooLarge.
func WithMaxPixels(n int64) Option {
	return func(p *Predictor) { p.maxPixels = n }
}

// NewPredictor wraps an already loaded model. The model must produce one
// logit per label.
func NewPredictor(m *model.Model, logger *zap.Logger, opts ...Option) (*Predictor, error) {
	if n := m.Architecture().Classes; n != len(labels) {
		return nil, fmt.Errorf("model has %d classes, labels cover %d", n, len(labels))
	}
	p := &Predictor{
		model:     m,
		highPass:  frequency.NewHighPass(),
		maxPixels: imageprocessor.DefaultMaxPixels,
		logger:    logger.Named("predictor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// LoadPredictor reads a PyTorch checkpoint and builds a predictor for arch.
// Failures are *checkpoint.LoadError values and are not worth retrying.
func LoadPredictor(path string, arch model.Architecture, logger *zap.Logger, opts ...Option) (*Predictor, error) {
	sd, err := checkpoint.LoadPyTorch(path)
	if err != nil {
		return nil, err
	}
	m, err := model.Load(arch, sd)
	if err != nil {
		var loadErr *checkpoint.LoadError
		if errors.As(err, &loadErr) && loadErr.Path == "" {
			loadErr.Path = path
		}
		return nil, err
	}
	p, err := NewPredictor(m, logger, opts...)
	if err != nil {
		return nil, &checkpoint.LoadError{Path: path, Err: err}
	}
	logger.Info("model loaded",
		zap.String("checkpoint", path),
		zap.Int("input_size", arch.InputSize),
		zap.Int("embedding_dim", arch.EmbeddingDim()),
	)
	return p, nil
}

// Predict classifies one encoded image. The filename is only used in error
// messages. Decode failures return a *DecodeError before any tensor work.
func (p *Predictor) Predict(data []byte, filename string) (Result, error) {
	decoded, err := imageprocessor.DecodeLimited(data, p.maxPixels)
	if err != nil {
		return Result{}, &DecodeError{Filename: filename, Err: err}
	}

	rgb, fft := p.Tensors(decoded)
	out := p.model.Forward(rgb, fft)
	probs := tensor.Softmax(out.Logits)

	best := 0
	for i, v := range probs {
		if v > probs[best] {
			best = i
		}
	}

	p.logger.Debug("prediction",
		zap.String("filename", filename),
		zap.String("format", decoded.Format),
		zap.String("label", labels[best]),
		zap.Float64("confidence", probs[best]),
	)
	return Result{
		Label:         labels[best],
		Confidence:    probs[best],
		Probabilities: probs,
		Details:       map[string]any{},
	}, nil
}

// Tensors builds the standardized RGB and frequency tensors for a decoded
// image. Both come from the same stretched, model-sized RGB image.
func (p *Predictor) Tensors(decoded *imageprocessor.Decoded) (rgb, fft *tensor.Tensor) {
	resized := imageprocessor.Resize(decoded.Image, p.model.Architecture().InputSize)
	rgb = imageprocessor.ToTensor(resized)
	fft = imageprocessor.Standardize(p.highPass.Apply(resized))
	return rgb, fft
}
