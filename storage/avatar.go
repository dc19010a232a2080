// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package storage

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io"

	_ "image/gif"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"
)

// AvatarSize is the edge length of stored avatars
const AvatarSize = 512

// NormalizeAvatar decodes an uploaded image, crops it to a centred square,
// scales it to AvatarSize and re-encodes it as JPEG.
func NormalizeAvatar(r io.Reader) ([]byte, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	img = resizeAndCrop(img, AvatarSize)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode avatar: %w", err)
	}
	return buf.Bytes(), nil
}

func resizeAndCrop(img image.Image, size int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	// Crop the larger dimension first so the thumbnail fills the square
	side := w
	if h < side {
		side = h
	}
	x := b.Min.X + (w-side)/2
	y := b.Min.Y + (h-side)/2

	square := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(square, square.Bounds(), img, image.Point{X: x, Y: y}, draw.Src)

	if side <= size {
		return square
	}
	return resize.Resize(uint(size), uint(size), square, resize.Lanczos3)
}
