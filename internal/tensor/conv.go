package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// convBandRows bounds the im2col scratch buffer: output rows are lowered and
// multiplied in bands of this height.
const convBandRows = 8

// Conv2D computes a stride-1 "same" convolution of a (C, H, W) input with a
// (O, C, KH, KW) kernel and an (O) bias, returning (O, H, W). Kernel sizes
// must be odd; padding is KH/2 and KW/2 zeros.
func Conv2D(in, weight, bias *Tensor) *Tensor {
	if len(in.Shape) != 3 || len(weight.Shape) != 4 {
		panic(fmt.Sprintf("tensor: conv2d: input %v, weight %v", in.Shape, weight.Shape))
	}
	c, h, w := in.Shape[0], in.Shape[1], in.Shape[2]
	o, kh, kw := weight.Shape[0], weight.Shape[2], weight.Shape[3]
	weight.MustHaveShape("conv2d weight", o, c, kh, kw)
	bias.MustHaveShape("conv2d bias", o)
	if kh%2 == 0 || kw%2 == 0 {
		panic(fmt.Sprintf("tensor: conv2d: even kernel %dx%d", kh, kw))
	}

	out := New(o, h, w)
	depth := c * kh * kw
	kernel := mat.NewDense(o, depth, weight.Data)

	band := min(convBandRows, h)
	cols := make([]float64, depth*band*w)
	res := make([]float64, o*band*w)

	for y0 := 0; y0 < h; y0 += band {
		rows := min(band, h-y0)
		n := rows * w
		patch := cols[:depth*n]
		im2col(in, y0, rows, kh, kw, patch)

		prod := mat.NewDense(o, n, res[:o*n])
		prod.Mul(kernel, mat.NewDense(depth, n, patch))

		for oc := 0; oc < o; oc++ {
			off := oc*h*w + y0*w
			dst := out.Data[off : off+n]
			b := bias.Data[oc]
			for i, v := range prod.RawRowView(oc) {
				dst[i] = v + b
			}
		}
	}
	return out
}

// im2col lowers output rows [y0, y0+rows) into dst laid out as a
// (C*KH*KW) x (rows*W) matrix.
func im2col(in *Tensor, y0, rows, kh, kw int, dst []float64) {
	c, h, w := in.Shape[0], in.Shape[1], in.Shape[2]
	padY, padX := kh/2, kw/2
	n := rows * w
	r := 0
	for ci := 0; ci < c; ci++ {
		plane := in.Data[ci*h*w : (ci+1)*h*w]
		for ky := 0; ky < kh; ky++ {
			for kx := 0; kx < kw; kx++ {
				row := dst[r*n : (r+1)*n]
				for dy := 0; dy < rows; dy++ {
					sy := y0 + dy + ky - padY
					seg := row[dy*w : (dy+1)*w]
					if sy < 0 || sy >= h {
						clear(seg)
						continue
					}
					src := plane[sy*w : (sy+1)*w]
					for x := 0; x < w; x++ {
						sx := x + kx - padX
						if sx < 0 || sx >= w {
							seg[x] = 0
							continue
						}
						seg[x] = src[sx]
					}
				}
				r++
			}
		}
	}
}
