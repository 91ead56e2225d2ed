package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quel-tryon-server/modules/tryon/geometry"
)

// pattern draws a deterministic gradient with a dark blob, different per seed.
func pattern(w, h, seed int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x*(seed+1) + y*(3-seed%3)) % 256)
			if (x-w/3*(1+seed%2))*(x-w/3*(1+seed%2))+(y-h/2)*(y-h/2) < (w/6)*(w/6) {
				v /= 4
			}
			img.Set(x, y, color.NRGBA{R: v, G: v / 2, B: 255 - v, A: 255})
		}
	}
	return img
}

func flat(w, h int, v uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return img
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float64{1}, []float64{1, 2}))
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{1, 1}))
}

func TestPixelEmbedder(t *testing.T) {
	e := NewPixelEmbedder()
	ctx := context.Background()

	same, err := e.Similarity(ctx, pattern(96, 96, 1), pattern(96, 96, 1))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, same, 1e-6)

	other, err := e.Similarity(ctx, pattern(96, 96, 1), pattern(96, 96, 2))
	require.NoError(t, err)
	assert.Less(t, other, same)
	assert.GreaterOrEqual(t, other, 0.0)

	flatSim, err := e.Similarity(ctx, flat(20, 20, 100), flat(20, 20, 100))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, flatSim, 1e-9)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = e.Similarity(cancelled, flat(4, 4, 0), flat(4, 4, 0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Image)
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float64{0.6, 0.8}})
	}))
	defer srv.Close()

	sim, err := NewHTTPEmbedder(srv.URL, time.Second).Similarity(context.Background(), flat(8, 8, 10), flat(8, 8, 200))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)
}

func TestHTTPEmbedderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPEmbedder(srv.URL, time.Second).Similarity(context.Background(), flat(4, 4, 1), flat(4, 4, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":[]}`))
	}))
	defer empty.Close()
	_, err = NewHTTPEmbedder(empty.URL, time.Second).Similarity(context.Background(), flat(4, 4, 1), flat(4, 4, 1))
	assert.Error(t, err)
}

func TestOllamaGarmentChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llava:13b", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "llava:13b",
			"message": map[string]string{
				"role":    "assistant",
				"content": "```json\n{\"applied\": false, \"reason\": \"shirt is still blue\",}\n```",
			},
			"done": true,
		})
	}))
	defer srv.Close()

	checker, err := NewOllamaGarmentChecker(srv.URL+"/api/chat", "llava:13b", nil)
	require.NoError(t, err)

	applied, reason, err := checker.GarmentApplied(context.Background(), []byte("out"), []byte("garment"))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "shirt is still blue", reason)
}

func TestOllamaGarmentCheckerBadURL(t *testing.T) {
	_, err := NewOllamaGarmentChecker("localhost", "m", nil)
	assert.Error(t, err)
}

func TestAlwaysApplied(t *testing.T) {
	applied, _, err := AlwaysApplied{}.GarmentApplied(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestDecodeAndCrop(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, pattern(100, 80, 0)))

	img, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 80), img.Bounds())

	crop := CropFace(img, geometry.BoundingBox{X: 10, Y: 10, Width: 40, Height: 40}, 0.25)
	assert.Equal(t, 60, crop.Bounds().Dx())
	assert.Equal(t, 60, crop.Bounds().Dy())

	edge := CropFace(img, geometry.BoundingBox{X: 80, Y: 60, Width: 20, Height: 20}, 0.5)
	assert.Equal(t, 30, edge.Bounds().Dx())
	assert.Equal(t, 30, edge.Bounds().Dy())

	_, err = Decode([]byte("not an image"))
	assert.Error(t, err)
}

func TestLoadPigoDetectorMissingCascade(t *testing.T) {
	_, err := LoadPigoDetector(filepath.Join(t.TempDir(), "facefinder"), "", nil)
	assert.Error(t, err)
}

func TestPigoDetectorMeasuresFaceWidth(t *testing.T) {
	d, err := LoadPigoDetector(filepath.Join("testdata", "facefinder"), filepath.Join("testdata", "puploc"), nil)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join("testdata", "sample.jpg"))
	require.NoError(t, err)
	img, err := Decode(data)
	require.NoError(t, err)

	face, found, err := d.Detect(context.Background(), img)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, face.ScaleOnly)
	assert.Equal(t, face.Box.Width, face.Box.Height, "pigo windows are square")
	require.Positive(t, face.MeasuredWidth)
	assert.Less(t, face.MeasuredWidth, face.Box.Width)

	b := img.Bounds()
	ex, err := geometry.ExtractWithFaceWidth(b.Dx(), b.Dy(), face.Box, face.Width())
	require.NoError(t, err)
	aspect := ex.Proportions.Relative().FaceAspect
	assert.False(t, ex.Proportions.AspectUnknown)
	assert.Greater(t, aspect, 0.55)
	assert.Less(t, aspect, 0.95)
	assert.NotEqual(t, geometry.BodyHeavy, ex.Proportions.BodyType)
}

func TestPigoDetectorNoFace(t *testing.T) {
	d, err := LoadPigoDetector(filepath.Join("testdata", "facefinder"), "", nil)
	require.NoError(t, err)
	_, found, err := d.Detect(context.Background(), flat(160, 160, 200))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMeasureFaceWidth(t *testing.T) {
	skin := color.NRGBA{R: 224, G: 172, B: 150, A: 255}
	window := image.Rect(40, 40, 160, 160)
	paint := func(img *image.NRGBA, x0, x1 int, c color.NRGBA) {
		for y := 0; y < img.Bounds().Dy(); y++ {
			for x := x0; x <= x1; x++ {
				img.SetNRGBA(x, y, c)
			}
		}
	}

	t.Run("skin run inside the window", func(t *testing.T) {
		img := flat(200, 200, 255)
		paint(img, 60, 139, skin)
		// a two-pixel dark line at the centre column is bridged
		paint(img, 99, 100, color.NRGBA{R: 40, G: 40, B: 40, A: 255})
		l, r, ok := measureFaceWidth(img, window)
		require.True(t, ok)
		assert.Equal(t, 60, l)
		assert.Equal(t, 139, r)
	})

	t.Run("skin across the whole window", func(t *testing.T) {
		img := flat(200, 200, 255)
		paint(img, 0, 199, skin)
		_, _, ok := measureFaceWidth(img, window)
		assert.False(t, ok)
	})

	t.Run("no skin", func(t *testing.T) {
		_, _, ok := measureFaceWidth(flat(200, 200, 128), window)
		assert.False(t, ok)
	})

	t.Run("run too narrow", func(t *testing.T) {
		img := flat(200, 200, 255)
		paint(img, 90, 109, skin)
		_, _, ok := measureFaceWidth(img, window)
		assert.False(t, ok)
	})
}

func TestFaceWidth(t *testing.T) {
	box := geometry.BoundingBox{X: 10, Y: 10, Width: 100, Height: 100}
	assert.Equal(t, 100.0, Face{Box: box}.Width())
	assert.Equal(t, 78.0, Face{Box: box, ScaleOnly: true, MeasuredWidth: 78}.Width())
	assert.Equal(t, 0.0, Face{Box: box, ScaleOnly: true}.Width())
}
