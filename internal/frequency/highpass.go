// Package frequency turns an RGB image into a high-pass "texture" image that
// makes recapture artifacts (moiré, sensor noise, compression grids) explicit.
package frequency

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"

	"github.com/example/spoof-check/internal/tensor"
)

const (
	// DefaultRadius is the radius, in frequency bins, of the suppressed
	// low-frequency disc.
	DefaultRadius = 8
	// Epsilon keeps min-max normalization finite for constant images.
	Epsilon = 1e-8
)

// HighPass configures the ideal circular high-pass filter.
type HighPass struct {
	Radius  int
	Epsilon float64
}

// NewHighPass returns a filter with the default radius and epsilon.
func NewHighPass() HighPass {
	return HighPass{Radius: DefaultRadius, Epsilon: Epsilon}
}

// Apply filters img and returns a (3, H, W) tensor in [0, 1] where all three
// channels hold the same high-pass log-magnitude.
func (p HighPass) Apply(img image.Image) *tensor.Tensor {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	if h == 0 || w == 0 {
		panic(fmt.Sprintf("frequency: empty image %v", b))
	}

	freq := make([]complex128, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			freq[y*w+x] = complex(Luma(img.At(b.Min.X+x, b.Min.Y+y)), 0)
		}
	}

	fft2(freq, h, w, false)
	p.mask(freq, h, w)
	fft2(freq, h, w, true)

	mag := make([]float64, h*w)
	for i, v := range freq {
		mag[i] = math.Log1p(cmplx.Abs(v))
	}
	lo, hi := floats.Min(mag), floats.Max(mag)
	floats.AddConst(-lo, mag)
	floats.Scale(1/(hi-lo+p.Epsilon), mag)

	out := tensor.New(3, h, w)
	for c := 0; c < 3; c++ {
		copy(out.Data[c*h*w:(c+1)*h*w], mag)
	}
	return out
}

// mask zeroes every coefficient whose centred position lies strictly inside
// the radius. Coefficients are kept in natural FFT order; position k maps to
// (k + n/2) mod n after a centre shift, so masking here is the same as
// shift, mask, inverse shift.
func (p HighPass) mask(freq []complex128, h, w int) {
	cy, cx := h/2, w/2
	r2 := p.Radius * p.Radius
	for y := 0; y < h; y++ {
		dy := (y+h/2)%h - cy
		for x := 0; x < w; x++ {
			dx := (x+w/2)%w - cx
			if dy*dy+dx*dx < r2 {
				freq[y*w+x] = 0
			}
		}
	}
}

// fft2 transforms a row-major h x w grid in place. The inverse is scaled by
// 1/(h*w) so a forward/inverse round trip is the identity.
func fft2(data []complex128, h, w int, inverse bool) {
	rowFFT := fourier.NewCmplxFFT(w)
	row := make([]complex128, w)
	for y := 0; y < h; y++ {
		src := data[y*w : (y+1)*w]
		if inverse {
			rowFFT.Sequence(row, src)
		} else {
			rowFFT.Coefficients(row, src)
		}
		copy(src, row)
	}

	colFFT := fourier.NewCmplxFFT(h)
	col := make([]complex128, h)
	out := make([]complex128, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = data[y*w+x]
		}
		if inverse {
			colFFT.Sequence(out, col)
		} else {
			colFFT.Coefficients(out, col)
		}
		for y := 0; y < h; y++ {
			data[y*w+x] = out[y]
		}
	}

	if inverse {
		scale := complex(1/float64(h*w), 0)
		for i := range data {
			data[i] *= scale
		}
	}
}

// Luma converts a colour to 8-bit BT.601 luminance using the fixed-point
// weights OpenCV applies to 8-bit RGB input, so results are whole numbers.
func Luma(c color.Color) float64 {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	v := (uint32(n.R)*4899 + uint32(n.G)*9617 + uint32(n.B)*1868 + 8192) >> 14
	return float64(v)
}
