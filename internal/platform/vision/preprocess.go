// Package vision prepares images for the chest X-ray classifier and runs
// inference against a lazily loaded model.
package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrDecode means the input bytes are not a decodable image. The caller
	// should ask for a different file.
	ErrDecode = errors.New("image could not be decoded")

	// ErrModelUnavailable means the classifier model could not be loaded.
	// The next call retries the load.
	ErrModelUnavailable = errors.New("classifier model unavailable")

	ErrTensorShape = errors.New("tensor shape does not match model input")
)

// InputSize is the square edge length the classifier expects.
const InputSize = 224

// Tensor is a dense HWC float32 image with values in [0,1].
type Tensor struct {
	Height   int
	Width    int
	Channels int
	Data     []float32
}

// At returns the value at row y, column x, channel c.
func (t Tensor) At(y, x, c int) float32 {
	return t.Data[(y*t.Width+x)*t.Channels+c]
}

// Validate checks that Data matches the declared shape.
func (t Tensor) Validate() error {
	if t.Height <= 0 || t.Width <= 0 || t.Channels <= 0 {
		return fmt.Errorf("%w: %dx%dx%d", ErrTensorShape, t.Height, t.Width, t.Channels)
	}
	if len(t.Data) != t.Height*t.Width*t.Channels {
		return fmt.Errorf("%w: %d values for %dx%dx%d", ErrTensorShape, len(t.Data), t.Height, t.Width, t.Channels)
	}
	return nil
}

// Preprocessor decodes raw image bytes into the classifier input tensor.
// It holds no mutable state and is safe for concurrent use.
type Preprocessor struct {
	size int
}

func NewPreprocessor() *Preprocessor {
	return &Preprocessor{size: InputSize}
}

// Preprocess decodes raw, resizes it to size x size with bilinear
// interpolation (aspect ratio is not preserved) and scales each RGB channel
// to [0,1]. Grayscale sources yield three identical channels.
func (p *Preprocessor) Preprocess(raw []byte) (Tensor, error) {
	if len(raw) == 0 {
		return Tensor{}, fmt.Errorf("%w: empty input", ErrDecode)
	}
	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Tensor{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Tensor{}, fmt.Errorf("%w: %s image has no pixels", ErrDecode, format)
	}

	size := p.size
	if size <= 0 {
		size = InputSize
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	t := Tensor{Height: size, Width: size, Channels: 3, Data: make([]float32, size*size*3)}
	for y := 0; y < size; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+size*4]
		for x := 0; x < size; x++ {
			i := (y*size + x) * 3
			t.Data[i] = float32(row[x*4]) / 255
			t.Data[i+1] = float32(row[x*4+1]) / 255
			t.Data[i+2] = float32(row[x*4+2]) / 255
		}
	}
	return t, nil
}
