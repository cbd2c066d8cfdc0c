// Package highlight turns a caller-supplied highlight rectangle into image
// pixel space and bakes it into a screenshot.
//
// WHY IS SCALING NEEDED AT ALL?
// Browser extensions report element positions in CSS pixels, but the captured
// screenshot is in device pixels. On a 2x display the screenshot is twice as
// wide as the CSS viewport, so a box at x=100 in CSS space is at x=200 in the
// image. Clients do not always tell us the ratio, so Normalize falls back to
// progressively weaker signals. It never fails; when in doubt it leaves the
// box unscaled.
package highlight

import (
	"image"
	"math"

	"github.com/sakif/stepguide/internal/model"
)

// Box is a rectangle in image pixel space.
type Box struct {
	X, Y, Width, Height float64
}

// Scale multiplies every field by ratio.
func (b Box) Scale(ratio float64) Box {
	return Box{
		X:      b.X * ratio,
		Y:      b.Y * ratio,
		Width:  b.Width * ratio,
		Height: b.Height * ratio,
	}
}

// Viewport widths and ratios tried, in order, when the client sent no hints.
// Ties keep the first pair found, so the order matters.
var (
	commonViewportWidths = []float64{1920, 1680, 1440, 1366, 1280, 1024, 800}
	candidateRatios      = []float64{1.0, 1.25, 1.5, 1.75, 2.0, 2.5, 3.0}
)

const (
	minRatio = 1.0
	maxRatio = 3.0

	// A viewport hint is trusted only when the image is clearly wider than it.
	viewportHintFactor = 1.5

	// Auto-detected ratios at or below this are treated as "no scaling".
	autoScaleThreshold = 1.25
)

// Normalize maps a highlight descriptor into the pixel space of an image of
// the given size. Rules, first match wins:
//
//  1. DevicePixelRatio > 0: the client already converted, the box is used as is.
//  2. ViewportWidth > 0 and the image is more than 1.5x wider: ratio is
//     imageWidth / (viewportWidth * 2), clamped to [1, 3].
//  3. Otherwise the ratio is guessed from common viewport widths and scaling
//     happens only when the guess is above 1.25.
func Normalize(size image.Point, in model.HighlightInput) Box {
	raw := Box{X: in.X, Y: in.Y, Width: in.Width, Height: in.Height}

	if in.DevicePixelRatio > 0 {
		return raw
	}

	imageWidth := float64(size.X)
	if in.ViewportWidth > 0 && imageWidth > viewportHintFactor*in.ViewportWidth {
		ratio := clamp(imageWidth/(in.ViewportWidth*2), minRatio, maxRatio)
		return raw.Scale(ratio)
	}

	if ratio := DetectRatio(size.X); ratio > autoScaleThreshold {
		return raw.Scale(ratio)
	}
	return raw
}

// DetectRatio picks the (viewport width, ratio) pair whose product is closest
// to imageWidth and returns the ratio.
func DetectRatio(imageWidth int) float64 {
	target := float64(imageWidth)
	best := candidateRatios[0]
	bestDiff := math.Inf(1)

	for _, w := range commonViewportWidths {
		for _, r := range candidateRatios {
			if diff := math.Abs(w*r - target); diff < bestDiff {
				bestDiff = diff
				best = r
			}
		}
	}
	return best
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
