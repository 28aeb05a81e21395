// Package placeholder renders the labelled card used in place of a chapter
// illustration the image provider could not produce.
package placeholder

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const size = 512

var (
	background = color.RGBA{R: 0xF4, G: 0xEE, B: 0xE1, A: 0xFF}
	border     = color.RGBA{R: 0xC9, G: 0xB8, B: 0x96, A: 0xFF}
	ink        = color.RGBA{R: 0x5A, G: 0x4A, B: 0x3A, A: 0xFF}
)

// PNG returns a square PNG labelled with the chapter number.
func PNG(chapter int) ([]byte, error) {
	return Card(fmt.Sprintf("Chapter %d", chapter), "Illustration coming soon")
}

// Card renders the given lines centred on a square PNG.
func Card(lines ...string) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: border}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(8, 8, size-8, size-8), &image.Uniform{C: background}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	y := size/2 - face.Height
	for _, line := range lines {
		d := &font.Drawer{Dst: img, Src: image.NewUniform(ink), Face: face}
		width := d.MeasureString(line).Ceil()
		d.Dot = fixed.P((size-width)/2, y)
		d.DrawString(line)
		y += face.Height * 2
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode placeholder: %w", err)
	}
	return buf.Bytes(), nil
}
