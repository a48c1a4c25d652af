package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ReLU clamps negative values to zero in place and returns t.
func ReLU(t *Tensor) *Tensor {
	for i, v := range t.Data {
		if v < 0 {
			t.Data[i] = 0
		}
	}
	return t
}

// MaxPool2D applies a k x k max-pool with stride k to a (C, H, W) tensor.
// Trailing rows and columns that do not fill a window are dropped.
func MaxPool2D(in *Tensor, k int) *Tensor {
	if len(in.Shape) != 3 || k <= 0 {
		panic(fmt.Sprintf("tensor: maxpool2d: input %v, kernel %d", in.Shape, k))
	}
	c, h, w := in.Shape[0], in.Shape[1], in.Shape[2]
	oh, ow := h/k, w/k
	out := New(c, oh, ow)
	for ci := 0; ci < c; ci++ {
		plane := in.Data[ci*h*w : (ci+1)*h*w]
		dst := out.Data[ci*oh*ow : (ci+1)*oh*ow]
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				best := math.Inf(-1)
				for dy := 0; dy < k; dy++ {
					row := plane[(y*k+dy)*w+x*k : (y*k+dy)*w+x*k+k]
					if m := floats.Max(row); m > best {
						best = m
					}
				}
				dst[y*ow+x] = best
			}
		}
	}
	return out
}

// Linear computes weight·x + bias for a (out, in) weight.
func Linear(x []float64, weight, bias *Tensor) []float64 {
	if len(weight.Shape) != 2 {
		panic(fmt.Sprintf("tensor: linear: weight %v", weight.Shape))
	}
	o, n := weight.Shape[0], weight.Shape[1]
	if len(x) != n {
		panic(fmt.Sprintf("tensor: linear: input length %d, weight %v", len(x), weight.Shape))
	}
	bias.MustHaveShape("linear bias", o)

	y := mat.NewVecDense(o, nil)
	y.MulVec(mat.NewDense(o, n, weight.Data), mat.NewVecDense(n, x))
	out := y.RawVector().Data
	floats.Add(out, bias.Data)
	return out
}

// Softmax returns exp(x_i) / sum_j exp(x_j), computed through log-sum-exp so
// large logits do not overflow.
func Softmax(x []float64) []float64 {
	lse := floats.LogSumExp(x)
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Exp(v - lse)
	}
	return out
}

// SoftmaxInPlace is Softmax writing into x.
func SoftmaxInPlace(x []float64) {
	lse := floats.LogSumExp(x)
	for i, v := range x {
		x[i] = math.Exp(v - lse)
	}
}
