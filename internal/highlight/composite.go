package highlight

import (
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
)

// Highlight styling. The fill is translucent so the UI under it stays readable.
var (
	FillColor    = color.NRGBA{R: 255, G: 214, B: 0, A: 80} // ~31% opacity
	OutlineColor = color.NRGBA{R: 230, G: 40, B: 40, A: 230}
)

// OutlineWidth is the stroke width in pixels. The stroke is drawn inside the
// box so nothing outside the box changes.
const OutlineWidth = 3.0

// Composite draws the highlight box onto a copy of img and returns the copy.
//
// An unusable box (non-positive size, negative origin, origin outside the
// image, NaN) is not an error: img itself is returned untouched. A box that
// runs past the edge is shrunk to fit.
//
// HOW THE OVERLAY IS MERGED:
// The box is rendered with gg onto a fully transparent layer the size of the
// image, then merged with draw.Over. Transparent overlay pixels leave the
// screenshot bit-for-bit identical, and translucent ones blend with it.
func Composite(img image.Image, box Box) image.Image {
	bounds := img.Bounds()
	rect, ok := clampToImage(bounds.Dx(), bounds.Dy(), box)
	if !ok {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)

	dc := gg.NewContext(bounds.Dx(), bounds.Dy())
	x, y := float64(rect.Min.X), float64(rect.Min.Y)
	w, h := float64(rect.Dx()), float64(rect.Dy())

	dc.DrawRectangle(x, y, w, h)
	dc.SetColor(FillColor)
	dc.Fill()

	if w > OutlineWidth && h > OutlineWidth {
		inset := OutlineWidth / 2
		dc.SetLineWidth(OutlineWidth)
		dc.DrawRectangle(x+inset, y+inset, w-OutlineWidth, h-OutlineWidth)
		dc.SetColor(OutlineColor)
		dc.Stroke()
	}

	draw.Draw(dst, dst.Bounds(), dc.Image(), image.Point{}, draw.Over)
	return dst
}

// Valid reports whether Composite would draw anything for box on an image of
// the given size.
func Valid(size image.Point, box Box) bool {
	_, ok := clampToImage(size.X, size.Y, box)
	return ok
}

// clampToImage converts box to whole pixels inside a width x height image.
func clampToImage(width, height int, box Box) (image.Rectangle, bool) {
	for _, v := range []float64{box.X, box.Y, box.Width, box.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return image.Rectangle{}, false
		}
	}
	if box.Width <= 0 || box.Height <= 0 || box.X < 0 || box.Y < 0 {
		return image.Rectangle{}, false
	}
	if box.X >= float64(width) || box.Y >= float64(height) {
		return image.Rectangle{}, false
	}

	x0 := int(math.Floor(box.X))
	y0 := int(math.Floor(box.Y))
	x1 := int(math.Ceil(math.Min(box.X+box.Width, float64(width))))
	y1 := int(math.Ceil(math.Min(box.Y+box.Height, float64(height))))

	rect := image.Rect(x0, y0, x1, y1)
	if rect.Empty() {
		return image.Rectangle{}, false
	}
	return rect, true
}
