package frame

import (
	"image/jpeg"
	"io"
)

// EncodeJPEG writes the buffer as a JPEG.
func EncodeJPEG(w io.Writer, buf *PixelBuffer, quality int) error {
	if quality <= 0 {
		quality = jpeg.DefaultQuality
	}
	return jpeg.Encode(w, buf.Image(), &jpeg.Options{Quality: quality})
}
