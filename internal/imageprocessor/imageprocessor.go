// Package imageprocessor decodes uploaded images and turns them into the
// fixed-size, normalized tensors consumed by the model.
package imageprocessor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp" // register WEBP decoder

	"github.com/example/spoof-check/internal/tensor"
)

const (
	// InputSize is the square side length every image is resized to.
	InputSize = 224
	// DefaultMaxPixels caps the declared width*height Decode will allocate for.
	DefaultMaxPixels = 50_000_000
)

// ImageNet channel statistics.
var (
	Mean = [3]float64{0.485, 0.456, 0.406}
	Std  = [3]float64{0.229, 0.224, 0.225}
)

var (
	// ErrEmptyImage is returned for zero-length uploads.
	ErrEmptyImage = errors.New("image data is empty")
	// ErrUnsupportedFormat is returned for decodable formats outside the allow-list.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrImageTooLarge is returned when the header declares more pixels than allowed.
	ErrImageTooLarge = errors.New("image dimensions too large")
)

// SupportedFormats lists the encodings accepted by Decode, keyed by the name
// the image package reports.
var SupportedFormats = map[string]bool{
	"png":  true,
	"jpeg": true,
	"webp": true,
}

// Decoded is a decoded upload together with its source metadata.
type Decoded struct {
	Image  image.Image
	Format string
	Width  int
	Height int
}

// Decode parses PNG, JPEG or WEBP bytes of at most DefaultMaxPixels pixels.
func Decode(data []byte) (*Decoded, error) {
	return DecodeLimited(data, DefaultMaxPixels)
}

// DecodeLimited is Decode with a caller-chosen pixel cap. The header is read
// first so oversized images are rejected before any pixel buffer exists.
// A non-positive maxPixels means DefaultMaxPixels.
func DecodeLimited(data []byte, maxPixels int64) (*Decoded, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if !SupportedFormats[format] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("image has no pixels: %dx%d", cfg.Width, cfg.Height)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("image has no pixels: %v", b)
	}
	return &Decoded{Image: img, Format: format, Width: b.Dx(), Height: b.Dy()}, nil
}

// Resize scales img to size x size with bicubic interpolation and converts it
// to 8-bit RGB with alpha dropped. Aspect ratio is not preserved: non-square
// inputs are stretched, which can distort frequency content.
func Resize(img image.Image, size int) *image.NRGBA {
	scaled := resize.Resize(uint(size), uint(size), img, resize.Bicubic)
	b := scaled.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := color.NRGBAModel.Convert(scaled.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			c.A = 0xff
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

// ToTensor converts an RGB image to a (3, H, W) tensor scaled to [0, 1] and
// standardized with the ImageNet channel statistics.
func ToTensor(img *image.NRGBA) *tensor.Tensor {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	out := tensor.New(3, h, w)
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.NRGBAAt(b.Min.X+x, b.Min.Y+y)
			i := y*w + x
			out.Data[i] = float64(c.R) / 255
			out.Data[plane+i] = float64(c.G) / 255
			out.Data[2*plane+i] = float64(c.B) / 255
		}
	}
	return Standardize(out)
}

// Standardize applies (x - mean) / std per channel to a (3, H, W) tensor in
// place and returns it.
func Standardize(t *tensor.Tensor) *tensor.Tensor {
	if len(t.Shape) != 3 || t.Shape[0] != 3 {
		panic(fmt.Sprintf("imageprocessor: standardize: shape %v", t.Shape))
	}
	plane := t.Shape[1] * t.Shape[2]
	for c := 0; c < 3; c++ {
		ch := t.Data[c*plane : (c+1)*plane]
		for i, v := range ch {
			ch[i] = (v - Mean[c]) / Std[c]
		}
	}
	return t
}
