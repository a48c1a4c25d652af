// Package model implements the dual-branch spoof classifier: two VGG-style
// feature extractors, bidirectional cross-attention fusion and an MLP head.
package model

import (
	"fmt"
)

// Pool marks a 2x2 max-pool in a backbone layout.
const Pool = -1

// Architecture fixes every shape in the network. Default returns the
// production layout; smaller layouts exercise the same code paths.
type Architecture struct {
	// InputSize is the square input side length.
	InputSize int
	// Backbone lists conv output channels in order, with Pool for max-pools.
	// Each conv occupies two layer indices (conv, ReLU), each pool one.
	Backbone []int
	// Heads is the number of attention heads in each fusion block.
	Heads int
	// Hidden lists the classifier's hidden widths.
	Hidden []int
	// Classes is the number of output logits.
	Classes int
}

// Default is VGG16 features[:17] on 224x224 inputs, 16-head fusion and a
// 512-256-128-2 head.
func Default() Architecture {
	return Architecture{
		InputSize: 224,
		Backbone:  []int{64, 64, Pool, 128, 128, Pool, 256, 256, 256, Pool},
		Heads:     16,
		Hidden:    []int{256, 128},
		Classes:   2,
	}
}

// Channels is the channel count of a feature map.
func (a Architecture) Channels() int {
	c := 3
	for _, l := range a.Backbone {
		if l != Pool {
			c = l
		}
	}
	return c
}

// FeatureSize is the spatial side length of a feature map.
func (a Architecture) FeatureSize() int {
	s := a.InputSize
	for _, l := range a.Backbone {
		if l == Pool {
			s /= 2
		}
	}
	return s
}

// EmbeddingDim is the fused embedding length: both streams concatenated.
func (a Architecture) EmbeddingDim() int { return 2 * a.Channels() }

// Validate rejects layouts the kernels cannot run.
func (a Architecture) Validate() error {
	if a.InputSize <= 0 {
		return fmt.Errorf("input size must be positive, got %d", a.InputSize)
	}
	if a.FeatureSize() == 0 {
		return fmt.Errorf("backbone pools %d px input down to nothing", a.InputSize)
	}
	if a.Heads <= 0 || a.Channels()%a.Heads != 0 {
		return fmt.Errorf("%d channels cannot be split into %d heads", a.Channels(), a.Heads)
	}
	if a.Classes < 2 {
		return fmt.Errorf("need at least 2 classes, got %d", a.Classes)
	}
	return nil
}

// ParameterShapes lists every checkpoint entry the architecture needs, keyed
// by state-dict name.
func (a Architecture) ParameterShapes() map[string][]int {
	shapes := make(map[string][]int)
	for _, prefix := range []string{rgbPrefix, fftPrefix} {
		for _, conv := range a.convLayers() {
			shapes[fmt.Sprintf("%s.%d.weight", prefix, conv.index)] = []int{conv.out, conv.in, 3, 3}
			shapes[fmt.Sprintf("%s.%d.bias", prefix, conv.index)] = []int{conv.out}
		}
	}

	c := a.Channels()
	for _, name := range []string{rgbFromFFTName, fftFromRGBName} {
		shapes[name+".in_proj_weight"] = []int{3 * c, c}
		shapes[name+".in_proj_bias"] = []int{3 * c}
		shapes[name+".out_proj.weight"] = []int{c, c}
		shapes[name+".out_proj.bias"] = []int{c}
	}

	in := a.EmbeddingDim()
	for i, width := range a.Hidden {
		block := fmt.Sprintf("%s.fc%d", headPrefix, i+1)
		shapes[block+".0.weight"] = []int{width, in}
		shapes[block+".0.bias"] = []int{width}
		for _, stat := range []string{"weight", "bias", "running_mean", "running_var"} {
			shapes[block+".1."+stat] = []int{width}
		}
		in = width
	}
	out := fmt.Sprintf("%s.fc%d", headPrefix, len(a.Hidden)+1)
	shapes[out+".weight"] = []int{a.Classes, in}
	shapes[out+".bias"] = []int{a.Classes}
	return shapes
}

type convLayer struct {
	index   int
	in, out int
}

// convLayers maps the backbone layout onto torch Sequential indices.
func (a Architecture) convLayers() []convLayer {
	var convs []convLayer
	in, idx := 3, 0
	for _, l := range a.Backbone {
		if l == Pool {
			idx++
			continue
		}
		convs = append(convs, convLayer{index: idx, in: in, out: l})
		in = l
		idx += 2
	}
	return convs
}
