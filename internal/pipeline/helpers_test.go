package pipeline

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func gradientPNG(t *testing.T, width, height int, reversed bool) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		gray := uint8(x * 255 / width)
		if reversed {
			gray = 255 - gray
		}
		for y := range height {
			img.Set(x, y, color.RGBA{gray, gray, gray, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
