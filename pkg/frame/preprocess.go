package frame

import (
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"
)

// ColorSpace selects the channel encoding of the tensor.
type ColorSpace string

const (
	ColorRGB ColorSpace = "rgb"
	ColorYUV ColorSpace = "yuv"
)

// Tensor is the canonical model input in HWC order.
type Tensor struct {
	Height   int
	Width    int
	Channels int
	Data     []float64
}

// Len returns the number of elements.
func (t Tensor) Len() int {
	return t.Height * t.Width * t.Channels
}

// At returns the element at row y, column x, channel c.
func (t Tensor) At(y, x, c int) float64 {
	return t.Data[(y*t.Width+x)*t.Channels+c]
}

// Nested returns the tensor as [height][width][channels] for JSON encoding.
func (t Tensor) Nested() [][][]float64 {
	out := make([][][]float64, t.Height)
	for y := range out {
		row := make([][]float64, t.Width)
		for x := range row {
			o := (y*t.Width + x) * t.Channels
			row[x] = t.Data[o : o+t.Channels]
		}
		out[y] = row
	}
	return out
}

// PreprocessConfig describes the crop, resize and color conversion.
type PreprocessConfig struct {
	CropTop    int
	CropBottom int
	Width      int
	Height     int
	ColorSpace ColorSpace
}

// DefaultPreprocessConfig matches the 66x200 YUV input of the steering model.
func DefaultPreprocessConfig() PreprocessConfig {
	return PreprocessConfig{
		CropTop:    60,
		CropBottom: 25,
		Width:      200,
		Height:     66,
		ColorSpace: ColorYUV,
	}
}

// Preprocessor turns decoded frames into tensors.
type Preprocessor struct {
	cfg PreprocessConfig
}

// NewPreprocessor validates cfg and returns a Preprocessor.
func NewPreprocessor(cfg PreprocessConfig) (*Preprocessor, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid tensor size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.CropTop < 0 || cfg.CropBottom < 0 {
		return nil, fmt.Errorf("crop must not be negative")
	}
	switch cfg.ColorSpace {
	case "":
		cfg.ColorSpace = ColorYUV
	case ColorRGB, ColorYUV:
	default:
		return nil, fmt.Errorf("unknown color space %q", cfg.ColorSpace)
	}
	return &Preprocessor{cfg: cfg}, nil
}

// Shape returns the tensor shape produced by Apply.
func (p *Preprocessor) Shape() (height, width, channels int) {
	return p.cfg.Height, p.cfg.Width, 3
}

// Apply crops, resizes and converts the buffer.
func (p *Preprocessor) Apply(buf *PixelBuffer) (Tensor, error) {
	top, bottom := p.cfg.CropTop, buf.Height-p.cfg.CropBottom
	if bottom-top <= 0 {
		return Tensor{}, &DecodeError{
			Op:  "crop",
			Err: fmt.Errorf("frame height %d leaves no rows after crop %d/%d", buf.Height, p.cfg.CropTop, p.cfg.CropBottom),
		}
	}

	src := buf.Image().SubImage(image.Rect(0, top, buf.Width, bottom))
	dst := image.NewRGBA(image.Rect(0, 0, p.cfg.Width, p.cfg.Height))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	t := Tensor{
		Height:   p.cfg.Height,
		Width:    p.cfg.Width,
		Channels: 3,
		Data:     make([]float64, p.cfg.Height*p.cfg.Width*3),
	}
	for i, j := 0, 0; j < len(t.Data); i, j = i+4, j+3 {
		r, g, b := float64(dst.Pix[i]), float64(dst.Pix[i+1]), float64(dst.Pix[i+2])
		if p.cfg.ColorSpace == ColorYUV {
			r, g, b = rgbToYUV(r, g, b)
		}
		t.Data[j], t.Data[j+1], t.Data[j+2] = r, g, b
	}
	return t, nil
}

// rgbToYUV uses the BT.601 constants of OpenCV's COLOR_RGB2YUV.
func rgbToYUV(r, g, b float64) (y, u, v float64) {
	y = 0.299*r + 0.587*g + 0.114*b
	u = clamp8((b-y)*0.492 + 128)
	v = clamp8((r-y)*0.877 + 128)
	return clamp8(y), u, v
}

func clamp8(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
