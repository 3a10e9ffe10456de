// Package filter holds the fixed "Trojan view" transform: grayscale, then a
// nearest-neighbour downscale that fits inside a small square, the way the
// original Trojan Room coffee pot camera looked.
package filter

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// FitWithin returns the size of a w×h image scaled to fit inside size×size
// with its aspect ratio preserved. Neither side drops below 1.
func FitWithin(w, h, size int) (int, int) {
	if w <= 0 || h <= 0 || size <= 0 {
		return 0, 0
	}

	aspect := float64(w) / float64(h)

	var nw, nh int
	if aspect > 1 {
		nw, nh = size, int(float64(size)/aspect)
	} else {
		nw, nh = int(float64(size)*aspect), size
	}

	return max(nw, 1), max(nh, 1)
}

// Grayscale converts img to 8-bit luma using Rec.709 weights.
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}

	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := gray.Pix[(y-b.Min.Y)*gray.Stride:]
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			row[x-b.Min.X] = uint8((2126*r + 7152*g + 722*bl) / 10000 >> 8)
		}
	}
	return gray
}

// Trojan applies the grayscale + downscale transform. It returns nil for an
// empty image.
func Trojan(img image.Image, size int) *image.Gray {
	b := img.Bounds()
	w, h := FitWithin(b.Dx(), b.Dy(), size)
	if w == 0 || h == 0 {
		return nil
	}

	gray := Grayscale(img)
	out := image.NewGray(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(out, out.Bounds(), gray, gray.Bounds(), draw.Src, nil)
	return out
}

// Vintage is Trojan followed by a JPEG pass at quality, which adds the
// compression artefacts of the old camera.
func Vintage(img image.Image, size, quality int) (image.Image, error) {
	data, err := encodeTrojan(img, size, quality)
	if err != nil {
		return nil, err
	}

	out, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode filtered frame: %w", err)
	}
	return out, nil
}

// TrojanJPEG decodes a JPEG, applies Trojan and re-encodes at quality.
func TrojanJPEG(data []byte, size, quality int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	return encodeTrojan(img, size, quality)
}

func encodeTrojan(img image.Image, size, quality int) ([]byte, error) {
	out := Trojan(img, size)
	if out == nil {
		return nil, fmt.Errorf("frame has no pixels")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	return buf.Bytes(), nil
}
