package model

import (
	"fmt"

	"github.com/example/spoof-check/internal/tensor"
)

const (
	rgbPrefix = "vgg_rgb"
	fftPrefix = "vgg_fft"
)

type stage struct {
	pool         bool
	weight, bias *tensor.Tensor
}

// FeatureExtractor is a truncated VGG backbone: 3x3 same convolutions with
// ReLU, and 2x2 max-pools. Each instance owns its parameters.
type FeatureExtractor struct {
	stages    []stage
	inputSize int
	channels  int
}

func loadExtractor(l *paramLoader, arch Architecture, prefix string) *FeatureExtractor {
	fe := &FeatureExtractor{inputSize: arch.InputSize, channels: arch.Channels()}
	convs := arch.convLayers()
	next := 0
	for _, layer := range arch.Backbone {
		if layer == Pool {
			fe.stages = append(fe.stages, stage{pool: true})
			continue
		}
		conv := convs[next]
		next++
		fe.stages = append(fe.stages, stage{
			weight: l.take(fmt.Sprintf("%s.%d.weight", prefix, conv.index)),
			bias:   l.take(fmt.Sprintf("%s.%d.bias", prefix, conv.index)),
		})
	}
	return fe
}

// Forward maps a (3, S, S) tensor to a (C, S/8, S/8) feature map for the
// default layout.
func (fe *FeatureExtractor) Forward(x *tensor.Tensor) *tensor.Tensor {
	x.MustHaveShape("feature extractor input", 3, fe.inputSize, fe.inputSize)
	for _, s := range fe.stages {
		if s.pool {
			x = tensor.MaxPool2D(x, 2)
			continue
		}
		x = tensor.ReLU(tensor.Conv2D(x, s.weight, s.bias))
	}
	return x
}
