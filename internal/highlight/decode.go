package highlight

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	// Registered decoders: screenshots arrive as PNG from most browsers,
	// JPEG or WebP from some capture APIs.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const (
	// MaxScreenshotBytes bounds the encoded image size of a single screenshot.
	MaxScreenshotBytes = 20 << 20

	// MaxScreenshotPixels bounds width*height, checked from the header before
	// the pixels are decoded.
	MaxScreenshotPixels = 8000 * 8000
)

// ErrEmptyScreenshot is returned for a blank screenshot string.
var ErrEmptyScreenshot = errors.New("highlight: empty screenshot")

// DecodeScreenshot decodes a base64 screenshot. Data URLs
// ("data:image/png;base64,....") are accepted; everything up to the first
// comma is dropped.
func DecodeScreenshot(encoded string) (image.Image, error) {
	raw := strings.TrimSpace(encoded)
	if i := strings.IndexByte(raw, ','); i >= 0 {
		raw = raw[i+1:]
	}
	if raw == "" {
		return nil, ErrEmptyScreenshot
	}
	if base64.StdEncoding.DecodedLen(len(raw)) > MaxScreenshotBytes {
		return nil, fmt.Errorf("highlight: screenshot exceeds %d bytes", MaxScreenshotBytes)
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		// Some clients strip the padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(raw, "="))
		if err != nil {
			return nil, fmt.Errorf("highlight: decoding base64: %w", err)
		}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("highlight: reading image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > MaxScreenshotPixels {
		return nil, fmt.Errorf("highlight: screenshot is %dx%d, outside the accepted size", cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("highlight: decoding image: %w", err)
	}
	return img, nil
}
