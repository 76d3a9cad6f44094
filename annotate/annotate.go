// Package annotate draws detection boxes onto a copy of the source image.
package annotate

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/Mystic-Gaurab/text-detection-pt/models"
)

const borderThickness = 3

var boxColor = color.RGBA{0, 255, 0, 255}

// Render returns a copy of src with each detection box drawn on it. The
// source image is never modified.
func Render(src image.Image, detections []models.Detection) *image.RGBA {
	bounds := src.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, src, bounds.Min, draw.Src)

	for _, det := range detections {
		drawRect(out,
			int(det.Box[0]), int(det.Box[1]),
			int(det.Box[2]), int(det.Box[3]),
			boxColor)
	}
	return out
}

func drawRect(img *image.RGBA, x1, y1, x2, y2 int, col color.Color) {
	bounds := img.Bounds()

	setPixel := func(x, y int) {
		if x >= bounds.Min.X && x < bounds.Max.X && y >= bounds.Min.Y && y < bounds.Max.Y {
			img.Set(x, y, col)
		}
	}

	for t := 0; t < borderThickness; t++ {
		for x := x1; x <= x2; x++ {
			setPixel(x, y1+t)
			setPixel(x, y2-t)
		}
		for y := y1; y <= y2; y++ {
			setPixel(x1+t, y)
			setPixel(x2-t, y)
		}
	}
}
