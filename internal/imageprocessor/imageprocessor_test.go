package imageprocessor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func TestDecodeAcceptsPNGAndJPEG(t *testing.T) {
	var pngBuf, jpgBuf bytes.Buffer
	if err := png.Encode(&pngBuf, gradient(40, 30)); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	if err := jpeg.Encode(&jpgBuf, gradient(40, 30), nil); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}

	for name, data := range map[string][]byte{"png": pngBuf.Bytes(), "jpeg": jpgBuf.Bytes()} {
		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if decoded.Format != name {
			t.Fatalf("expected format %s, got %s", name, decoded.Format)
		}
		if decoded.Width != 40 || decoded.Height != 30 {
			t.Fatalf("%s: unexpected dimensions %dx%d", name, decoded.Width, decoded.Height)
		}
	}
}

func TestDecodeRejectsEmptyAndGarbage(t *testing.T) {
	if _, err := Decode(nil); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}
	if _, err := Decode([]byte("definitely not an image")); err == nil {
		t.Fatal("expected error for garbage bytes")
	}
}

func TestDecodeRejectsUnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	pal := image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{color.Black, color.White})
	if err := gif.Encode(&buf, pal, nil); err != nil {
		t.Fatalf("gif encode: %v", err)
	}

	_, err := Decode(buf.Bytes())
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

// pngHeader returns a PNG signature and IHDR chunk declaring a w x h 8-bit
// gray image with no pixel data behind it.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	chunk := make([]byte, 0, 17)
	chunk = append(chunk, "IHDR"...)
	chunk = binary.BigEndian.AppendUint32(chunk, w)
	chunk = binary.BigEndian.AppendUint32(chunk, h)
	chunk = append(chunk, 8, 0, 0, 0, 0)

	_ = binary.Write(&buf, binary.BigEndian, uint32(len(chunk)-4))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeRejectsOversizedDimensionsBeforeDecoding(t *testing.T) {
	_, err := Decode(pngHeader(60000, 60000))
	if !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}
}

func TestDecodeLimitedCapsPixels(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, gradient(40, 30)); err != nil {
		t.Fatalf("png encode: %v", err)
	}

	if _, err := DecodeLimited(buf.Bytes(), 1199); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge at 1199 pixels, got %v", err)
	}
	decoded, err := DecodeLimited(buf.Bytes(), 1200)
	if err != nil {
		t.Fatalf("expected 40x30 image to fit 1200 pixels, got %v", err)
	}
	if decoded.Width != 40 || decoded.Height != 30 {
		t.Fatalf("unexpected dimensions %dx%d", decoded.Width, decoded.Height)
	}
}

func TestResizeStretchesToSquare(t *testing.T) {
	for _, size := range [][2]int{{640, 480}, {31, 500}, {3, 2}} {
		out := Resize(gradient(size[0], size[1]), InputSize)
		b := out.Bounds()
		if b.Dx() != InputSize || b.Dy() != InputSize {
			t.Fatalf("%v: expected %dx%d, got %v", size, InputSize, InputSize, b)
		}
		if a := out.NRGBAAt(10, 10).A; a != 0xff {
			t.Fatalf("%v: expected opaque output, got alpha %d", size, a)
		}
	}
}

func TestToTensorStandardizesChannels(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < 4; i++ {
		img.SetNRGBA(i%2, i/2, color.NRGBA{R: 255, G: 0, B: 51, A: 255})
	}

	out := ToTensor(img)

	if out.Shape[0] != 3 || out.Shape[1] != 2 || out.Shape[2] != 2 {
		t.Fatalf("unexpected shape %v", out.Shape)
	}
	want := [3]float64{(1 - Mean[0]) / Std[0], (0 - Mean[1]) / Std[1], (0.2 - Mean[2]) / Std[2]}
	for c := 0; c < 3; c++ {
		got := out.Data[c*4]
		if diff := got - want[c]; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("channel %d: expected %f, got %f", c, want[c], got)
		}
	}
}
