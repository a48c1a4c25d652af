package model

import (
	"fmt"
	"math"

	"github.com/example/spoof-check/internal/tensor"
)

const (
	headPrefix = "head"
	// batchNormEps matches torch.nn.BatchNorm1d.
	batchNormEps = 1e-5
)

// hiddenBlock is Linear -> BatchNorm1d -> ReLU -> Dropout. With frozen
// statistics the norm is a per-feature affine map, and dropout is the
// identity.
type hiddenBlock struct {
	weight, bias *tensor.Tensor
	scale, shift []float64
}

// ClassifierHead maps a fused embedding to class logits.
type ClassifierHead struct {
	blocks  []hiddenBlock
	weight  *tensor.Tensor
	bias    *tensor.Tensor
	inputs  int
	classes int
}

func loadHead(l *paramLoader, arch Architecture) *ClassifierHead {
	h := &ClassifierHead{inputs: arch.EmbeddingDim(), classes: arch.Classes}
	for i := range arch.Hidden {
		block := fmt.Sprintf("%s.fc%d", headPrefix, i+1)
		hb := hiddenBlock{
			weight: l.take(block + ".0.weight"),
			bias:   l.take(block + ".0.bias"),
		}
		gamma := l.take(block + ".1.weight")
		beta := l.take(block + ".1.bias")
		mean := l.take(block + ".1.running_mean")
		variance := l.take(block + ".1.running_var")
		if l.err == nil {
			hb.scale, hb.shift = foldBatchNorm(gamma.Data, beta.Data, mean.Data, variance.Data)
		}
		h.blocks = append(h.blocks, hb)
	}
	out := fmt.Sprintf("%s.fc%d", headPrefix, len(arch.Hidden)+1)
	h.weight = l.take(out + ".weight")
	h.bias = l.take(out + ".bias")
	return h
}

// foldBatchNorm turns gamma*(x-mean)/sqrt(var+eps)+beta into scale*x+shift.
func foldBatchNorm(gamma, beta, mean, variance []float64) (scale, shift []float64) {
	scale = make([]float64, len(gamma))
	shift = make([]float64, len(gamma))
	for i := range gamma {
		scale[i] = gamma[i] / math.Sqrt(variance[i]+batchNormEps)
		shift[i] = beta[i] - mean[i]*scale[i]
	}
	return scale, shift
}

// Forward returns raw logits for one embedding.
func (h *ClassifierHead) Forward(z []float64) []float64 {
	if len(z) != h.inputs {
		panic(fmt.Sprintf("model: classifier input length %d, want %d", len(z), h.inputs))
	}
	for _, b := range h.blocks {
		z = tensor.Linear(z, b.weight, b.bias)
		for i, v := range z {
			v = v*b.scale[i] + b.shift[i]
			if v < 0 {
				v = 0
			}
			z[i] = v
		}
	}
	return tensor.Linear(z, h.weight, h.bias)
}
