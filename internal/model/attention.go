package model

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/example/spoof-check/internal/tensor"
)

const (
	fusionPrefix   = "fusion"
	rgbFromFFTName = fusionPrefix + ".attn_rgb_from_fft"
	fftFromRGBName = fusionPrefix + ".attn_fft_from_rgb"
)

// attention is multi-head scaled dot-product attention with packed input
// projections, laid out like torch.nn.MultiheadAttention. Dropout is not
// modelled; it is the identity at inference.
type attention struct {
	heads          int
	wq, wk, wv, wo *mat.Dense
	bq, bk, bv, bo []float64
}

func loadAttention(l *paramLoader, name string, channels, heads int) *attention {
	inW := l.take(name + ".in_proj_weight")
	inB := l.take(name + ".in_proj_bias")
	outW := l.take(name + ".out_proj.weight")
	outB := l.take(name + ".out_proj.bias")
	if l.err != nil {
		return nil
	}

	n := channels * channels
	return &attention{
		heads: heads,
		wq:    mat.NewDense(channels, channels, inW.Data[:n]),
		wk:    mat.NewDense(channels, channels, inW.Data[n:2*n]),
		wv:    mat.NewDense(channels, channels, inW.Data[2*n:]),
		wo:    mat.NewDense(channels, channels, outW.Data),
		bq:    inB.Data[:channels],
		bk:    inB.Data[channels : 2*channels],
		bv:    inB.Data[2*channels:],
		bo:    outB.Data,
	}
}

// forward attends query tokens (L x C) over context tokens (S x C) and
// returns L x C.
func (a *attention) forward(query, context mat.Matrix) *mat.Dense {
	q := project(query, a.wq, a.bq)
	k := project(context, a.wk, a.bk)
	v := project(context, a.wv, a.bv)

	l, c := q.Dims()
	s, _ := k.Dims()
	d := c / a.heads
	scale := 1 / math.Sqrt(float64(d))

	concat := mat.NewDense(l, c, nil)
	scores := mat.NewDense(l, s, nil)
	head := mat.NewDense(l, d, nil)
	for h := 0; h < a.heads; h++ {
		lo, hi := h*d, (h+1)*d
		scores.Mul(q.Slice(0, l, lo, hi), k.Slice(0, s, lo, hi).T())
		scores.Scale(scale, scores)
		for i := 0; i < l; i++ {
			tensor.SoftmaxInPlace(scores.RawRowView(i))
		}
		head.Mul(scores, v.Slice(0, s, lo, hi))
		concat.Slice(0, l, lo, hi).(*mat.Dense).Copy(head)
	}
	return project(concat, a.wo, a.bo)
}

// project computes x·wᵀ + b row-wise.
func project(x mat.Matrix, w *mat.Dense, b []float64) *mat.Dense {
	var out mat.Dense
	out.Mul(x, w.T())
	r, _ := out.Dims()
	for i := 0; i < r; i++ {
		floats.Add(out.RawRowView(i), b)
	}
	return &out
}

// CrossAttentionFusion lets each branch's tokens attend to the other branch,
// keeps a residual path, and mean-pools the concatenated streams.
type CrossAttentionFusion struct {
	rgbFromFFT *attention
	fftFromRGB *attention
	channels   int
	size       int
}

func loadFusion(l *paramLoader, arch Architecture) *CrossAttentionFusion {
	c := arch.Channels()
	return &CrossAttentionFusion{
		rgbFromFFT: loadAttention(l, rgbFromFFTName, c, arch.Heads),
		fftFromRGB: loadAttention(l, fftFromRGBName, c, arch.Heads),
		channels:   c,
		size:       arch.FeatureSize(),
	}
}

// Forward fuses two (C, H, W) feature maps into a 2C embedding laid out as
// [rgb stream, fft stream].
func (f *CrossAttentionFusion) Forward(rgb, fft *tensor.Tensor) []float64 {
	rgb.MustHaveShape("fusion rgb features", f.channels, f.size, f.size)
	fft.MustHaveShape("fusion fft features", f.channels, f.size, f.size)

	tokens := f.size * f.size
	// A (C, H*W) channel-first map read transposed is the (H*W, C) token sequence.
	rgbTok := mat.NewDense(f.channels, tokens, rgb.Data).T()
	fftTok := mat.NewDense(f.channels, tokens, fft.Data).T()

	zRGB := f.rgbFromFFT.forward(rgbTok, fftTok)
	zRGB.Add(zRGB, rgbTok)
	zFFT := f.fftFromRGB.forward(fftTok, rgbTok)
	zFFT.Add(zFFT, fftTok)

	emb := make([]float64, 2*f.channels)
	meanRows(zRGB, emb[:f.channels])
	meanRows(zFFT, emb[f.channels:])
	return emb
}

func meanRows(m *mat.Dense, dst []float64) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		floats.Add(dst, m.RawRowView(i))
	}
	floats.Scale(1/float64(r), dst)
}
