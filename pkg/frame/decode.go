// Package frame decodes camera frames from telemetry and turns them into the
// canonical tensor the steering model consumes.
package frame

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"strings"
)

// DecodeError reports a malformed image payload.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "frame " + e.Op
	}
	return fmt.Sprintf("frame %s: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// PixelBuffer is a decoded frame in packed RGB order.
type PixelBuffer struct {
	Width  int
	Height int
	Pix    []uint8
}

// At returns the RGB triple at (x, y).
func (p *PixelBuffer) At(x, y int) (r, g, b uint8) {
	i := (y*p.Width + x) * 3
	return p.Pix[i], p.Pix[i+1], p.Pix[i+2]
}

// Image returns the buffer as an *image.RGBA for encoders and resamplers.
func (p *PixelBuffer) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	for i, j := 0, 0; i < len(p.Pix); i, j = i+3, j+4 {
		img.Pix[j] = p.Pix[i]
		img.Pix[j+1] = p.Pix[i+1]
		img.Pix[j+2] = p.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// FromImage copies any image into a PixelBuffer.
func FromImage(src image.Image) *PixelBuffer {
	b := src.Bounds()
	rgba, ok := src.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)
	}

	w, h := rgba.Bounds().Dx(), rgba.Bounds().Dy()
	pix := make([]uint8, w*h*3)
	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+w*4]
		for x := 0; x < w; x++ {
			o := (y*w + x) * 3
			pix[o] = row[x*4]
			pix[o+1] = row[x*4+1]
			pix[o+2] = row[x*4+2]
		}
	}
	return &PixelBuffer{Width: w, Height: h, Pix: pix}
}

// Decode turns a base64 encoded JPEG or PNG payload into a PixelBuffer.
func Decode(payload string) (*PixelBuffer, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, &DecodeError{Op: "decode", Err: fmt.Errorf("empty image payload")}
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, &DecodeError{Op: "base64", Err: err}
		}
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Op: "image", Err: err}
	}
	if img.Bounds().Empty() {
		return nil, &DecodeError{Op: "image", Err: fmt.Errorf("empty image")}
	}

	return FromImage(img), nil
}
