package imagecache

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"

	// Registered decoders.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Placeholder defaults.
const (
	DefaultPlaceholderSize = 45
)

// DefaultPlaceholderColor is a mid gray.
var DefaultPlaceholderColor = color.Gray{Y: 0x80}

// Decode decodes PNG, JPEG, GIF or WebP bytes.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return img, nil
}

// Placeholder builds a solid size×size image of color c.
func Placeholder(size int, c color.Color) image.Image {
	if size <= 0 {
		size = DefaultPlaceholderSize
	}
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// DefaultPlaceholder returns the default gray square.
func DefaultPlaceholder() image.Image {
	return Placeholder(DefaultPlaceholderSize, DefaultPlaceholderColor)
}

// ParseColor parses "#rrggbb" or "#rgb".
func ParseColor(s string) (color.Color, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return nil, fmt.Errorf("invalid color %q: expected #rrggbb", s)
	}

	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid color %q: %w", s, err)
	}

	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
