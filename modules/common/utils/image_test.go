package utils

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestDecodeBase64Image(t *testing.T) {
	png, err := EncodePNG(solid(4, 4, color.White))
	require.NoError(t, err)
	b64 := ConvertImageToBase64(png)

	got, err := DecodeBase64Image(b64)
	require.NoError(t, err)
	assert.Equal(t, png, got)

	got, err = DecodeBase64Image("data:image/png;base64," + b64)
	require.NoError(t, err)
	assert.Equal(t, png, got)

	_, err = DecodeBase64Image("   ")
	assert.Error(t, err)
	_, err = DecodeBase64Image("data:image/png;base64")
	assert.Error(t, err)
	_, err = DecodeBase64Image("!!not base64!!")
	assert.Error(t, err)
}

func TestConvertToWebP(t *testing.T) {
	png, err := EncodePNG(solid(32, 24, color.NRGBA{R: 200, G: 40, B: 40, A: 255}))
	require.NoError(t, err)

	webpData, err := ConvertToWebP(png, DefaultWebPQuality)
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(webpData))
	require.NoError(t, err)
	assert.Equal(t, "webp", format)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 24, img.Bounds().Dy())

	_, err = ConvertToWebP([]byte("nope"), DefaultWebPQuality)
	assert.Error(t, err)
}
