package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Preset bounds an optimization pass: images are scaled to fit within
// MaxWidth x MaxHeight (aspect ratio preserved, never upscaled) and
// re-encoded in Format.
type Preset struct {
	Name      string
	MaxWidth  int
	MaxHeight int
	Format    string // "jpeg" or "png"
	Quality   int    // jpeg only
}

var (
	// Hero matches the dashboard hero-image slot
	Hero = Preset{Name: "hero", MaxWidth: 1920, MaxHeight: 1080, Format: "jpeg", Quality: 85}
	// Logo matches the square tool logo slot
	Logo = Preset{Name: "logo", MaxWidth: 512, MaxHeight: 512, Format: "png", Quality: 90}
)

// Result describes an optimized image
type Result struct {
	Data             []byte
	ContentType      string
	Width            int
	Height           int
	InputBytes       int
	OutputBytes      int
	ReductionPercent float64
}

// Extension returns the file extension matching the encoded format
func (r *Result) Extension() string {
	if r.ContentType == "image/png" {
		return ".png"
	}
	return ".jpg"
}

// Optimize decodes an image, scales it to fit the preset bounds and
// re-encodes it. The caller gets the byte savings for display.
func Optimize(r io.Reader, preset Preset) (*Result, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	width, height := fitWithin(bounds.Dx(), bounds.Dy(), preset.MaxWidth, preset.MaxHeight)

	dst := src
	if width != bounds.Dx() || height != bounds.Dy() {
		scaled := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, bounds, draw.Over, nil)
		dst = scaled
	}

	var buf bytes.Buffer
	var contentType string
	switch preset.Format {
	case "jpeg":
		contentType = "image/jpeg"
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: preset.Quality}); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg: %w", err)
		}
	case "png":
		contentType = "image/png"
		if err := png.Encode(&buf, dst); err != nil {
			return nil, fmt.Errorf("failed to encode png: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output format: %q", preset.Format)
	}

	out := buf.Bytes()
	reduction := 0.0
	if len(raw) > 0 {
		reduction = (1 - float64(len(out))/float64(len(raw))) * 100
	}

	return &Result{
		Data:             out,
		ContentType:      contentType,
		Width:            width,
		Height:           height,
		InputBytes:       len(raw),
		OutputBytes:      len(out),
		ReductionPercent: reduction,
	}, nil
}

// fitWithin computes the largest size that fits in maxW x maxH while
// preserving aspect ratio. Images already inside the bounds keep their size.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}

	scaleW := float64(maxW) / float64(w)
	scaleH := float64(maxH) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}

	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}
	return newW, newH
}
