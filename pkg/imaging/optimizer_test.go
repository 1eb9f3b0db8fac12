package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(t *testing.T, w, h int) *bytes.Buffer {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return &buf
}

func TestOptimizeHeroDownscales(t *testing.T) {
	src := testImage(t, 3840, 2160)

	result, err := Optimize(src, Hero)
	require.NoError(t, err)

	assert.Equal(t, 1920, result.Width)
	assert.Equal(t, 1080, result.Height)
	assert.Equal(t, "image/jpeg", result.ContentType)
	assert.Equal(t, ".jpg", result.Extension())
	assert.NotEmpty(t, result.Data)
	assert.Equal(t, len(result.Data), result.OutputBytes)
}

func TestOptimizeHeroPreservesAspectRatio(t *testing.T) {
	// Tall portrait image: height is the binding constraint
	src := testImage(t, 1080, 2160)

	result, err := Optimize(src, Hero)
	require.NoError(t, err)

	assert.Equal(t, 1080, result.Height)
	assert.Equal(t, 540, result.Width)
}

func TestOptimizeLogoKeepsPNG(t *testing.T) {
	src := testImage(t, 1024, 1024)

	result, err := Optimize(src, Logo)
	require.NoError(t, err)

	assert.Equal(t, 512, result.Width)
	assert.Equal(t, 512, result.Height)
	assert.Equal(t, "image/png", result.ContentType)
	assert.Equal(t, ".png", result.Extension())

	// Output must decode as PNG
	decoded, err := png.Decode(bytes.NewReader(result.Data))
	require.NoError(t, err)
	assert.Equal(t, 512, decoded.Bounds().Dx())
}

func TestOptimizeNeverUpscales(t *testing.T) {
	src := testImage(t, 300, 200)

	result, err := Optimize(src, Hero)
	require.NoError(t, err)

	assert.Equal(t, 300, result.Width)
	assert.Equal(t, 200, result.Height)
}

func TestOptimizeRejectsGarbage(t *testing.T) {
	_, err := Optimize(bytes.NewReader([]byte("definitely not an image")), Hero)
	assert.Error(t, err)
}

func TestOptimizeRejectsUnknownFormat(t *testing.T) {
	src := testImage(t, 10, 10)
	_, err := Optimize(src, Preset{Name: "bad", MaxWidth: 10, MaxHeight: 10, Format: "bmp"})
	assert.Error(t, err)
}

func TestFitWithin(t *testing.T) {
	cases := []struct {
		w, h, maxW, maxH int
		wantW, wantH     int
	}{
		{3840, 2160, 1920, 1080, 1920, 1080},
		{1920, 1080, 1920, 1080, 1920, 1080},
		{100, 100, 1920, 1080, 100, 100},
		{2160, 3840, 1920, 1080, 607, 1080},
		{1, 10000, 512, 512, 1, 512},
	}
	for _, c := range cases {
		gotW, gotH := fitWithin(c.w, c.h, c.maxW, c.maxH)
		assert.Equal(t, c.wantW, gotW, "%dx%d in %dx%d", c.w, c.h, c.maxW, c.maxH)
		assert.Equal(t, c.wantH, gotH, "%dx%d in %dx%d", c.w, c.h, c.maxW, c.maxH)
	}
}
