package model

import (
	"errors"
	"fmt"

	"github.com/example/spoof-check/internal/checkpoint"
	"github.com/example/spoof-check/internal/tensor"
)

// Mode selects how stochastic and normalization layers behave.
type Mode int

const (
	// ModeEval disables dropout and uses frozen batch-norm statistics.
	ModeEval Mode = iota
	// ModeTrain is recognised so callers can ask for it explicitly; this
	// package cannot run it.
	ModeTrain
)

func (m Mode) String() string {
	switch m {
	case ModeEval:
		return "eval"
	case ModeTrain:
		return "train"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ErrUnsupportedMode is returned by Load for any mode but ModeEval.
var ErrUnsupportedMode = errors.New("unsupported model mode")

// Model is the full classifier. It is immutable after Load and safe for
// concurrent Forward calls.
type Model struct {
	arch   Architecture
	mode   Mode
	rgb    *FeatureExtractor
	fft    *FeatureExtractor
	fusion *CrossAttentionFusion
	head   *ClassifierHead
}

// Option configures Load.
type Option func(*Model)

// WithMode sets the execution mode. The default is ModeEval.
func WithMode(mode Mode) Option {
	return func(m *Model) { m.mode = mode }
}

// Output carries the logits and the intermediate embedding of one forward
// pass.
type Output struct {
	Embedding []float64
	Logits    []float64
}

// Load builds a model from a state dict, checking every parameter against
// the architecture. The two branches receive separate copies of their
// weights. Every failure is a *checkpoint.LoadError.
func Load(arch Architecture, sd checkpoint.StateDict, opts ...Option) (*Model, error) {
	m := &Model{arch: arch, mode: ModeEval}
	for _, opt := range opts {
		opt(m)
	}
	if m.mode != ModeEval {
		return nil, &checkpoint.LoadError{Err: fmt.Errorf("%w: %s", ErrUnsupportedMode, m.mode)}
	}
	if err := arch.Validate(); err != nil {
		return nil, &checkpoint.LoadError{Err: err}
	}

	l := &paramLoader{sd: sd, shapes: arch.ParameterShapes()}
	m.rgb = loadExtractor(l, arch, rgbPrefix)
	m.fft = loadExtractor(l, arch, fftPrefix)
	m.fusion = loadFusion(l, arch)
	m.head = loadHead(l, arch)
	if l.err != nil {
		return nil, l.err
	}
	return m, nil
}

// Architecture returns the layout the model was built with.
func (m *Model) Architecture() Architecture { return m.arch }

// Mode returns the execution mode.
func (m *Model) Mode() Mode { return m.mode }

// Forward runs both branches, the fusion and the head on one image's RGB and
// frequency tensors, each shaped (3, S, S).
func (m *Model) Forward(rgb, fft *tensor.Tensor) Output {
	fRGB := m.rgb.Forward(rgb)
	fFFT := m.fft.Forward(fft)
	emb := m.fusion.Forward(fRGB, fFFT)
	logits := m.head.Forward(emb)
	return Output{Embedding: emb, Logits: logits}
}

// paramLoader pulls shape-checked tensors from a state dict and keeps the
// first error.
type paramLoader struct {
	sd     checkpoint.StateDict
	shapes map[string][]int
	err    error
}

func (l *paramLoader) take(name string) *tensor.Tensor {
	if l.err != nil {
		return nil
	}
	want, ok := l.shapes[name]
	if !ok {
		l.err = &checkpoint.LoadError{Param: name, Err: errors.New("not part of the architecture")}
		return nil
	}
	t, err := l.sd.Tensor(name)
	if err != nil {
		var loadErr *checkpoint.LoadError
		if !errors.As(err, &loadErr) {
			err = &checkpoint.LoadError{Param: name, Err: err}
		}
		l.err = err
		return nil
	}
	if !t.HasShape(want...) {
		l.err = &checkpoint.LoadError{Param: name, Err: fmt.Errorf("shape %v, want %v", t.Shape, want)}
		return nil
	}
	return t
}
