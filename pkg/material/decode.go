package material

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder

	_ "github.com/ftrvxmtrx/tga" // Register TGA decoder
	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp" // Register BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// DefaultMaxTextureSize bounds the longest texture edge after decoding.
const DefaultMaxTextureSize = 1024

// DecodeError reports a texture that could not be turned into pixels. It is
// always recovered by binding the default material.
type DecodeError struct {
	URL    string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("texture %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("texture %s: %s", e.URL, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodeTexture decodes image bytes fetched from url. Images larger than
// maxSize on their longest edge are downscaled; maxSize <= 0 disables the
// limit.
func DecodeTexture(url string, data []byte, maxSize int) (*Texture, error) {
	if len(data) == 0 {
		return nil, &DecodeError{URL: url, Reason: "empty payload"}
	}
	// TGA has no magic number, so only reject payloads that filetype
	// positively identifies as something other than an image.
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown && !filetype.IsImage(data) {
		return nil, &DecodeError{URL: url, Reason: "not an image: " + kind.MIME.Value}
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{URL: url, Reason: "decode", Err: err}
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, &DecodeError{URL: url, Reason: "zero-sized " + format + " image"}
	}

	img = downscale(img, maxSize)
	tex := TextureFromImage(img)
	tex.Source = url
	return tex, nil
}

// downscale fits img into a maxSize square, preserving aspect ratio.
func downscale(img image.Image, maxSize int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSize <= 0 || (w <= maxSize && h <= maxSize) {
		return img
	}
	if w >= h {
		h = max(1, h*maxSize/w)
		w = maxSize
	} else {
		w = max(1, w*maxSize/h)
		h = maxSize
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
