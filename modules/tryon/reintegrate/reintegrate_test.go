package reintegrate

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quel-tryon-server/modules/common/telemetry"
	"quel-tryon-server/modules/tryon/geometry"
	"quel-tryon-server/modules/tryon/vision"
)

const size = 200

type stubDetector struct {
	face  vision.Face
	found bool
	err   error
}

func (s stubDetector) Detect(context.Context, image.Image) (vision.Face, bool, error) {
	return s.face, s.found, s.err
}

func solid(c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func faceAt(box geometry.BoundingBox) vision.Face {
	return vision.Face{Box: box, Confidence: 10, Landmarks: geometry.TemplateLandmarks(box, size, size)}
}

// transformed moves every landmark of f by s (pixel space).
func transformed(f vision.Face, s Similarity) vision.Face {
	pts := pixels(f.Landmarks, size, size)
	for i := range pts {
		p := s.Apply(pts[i])
		pts[i] = geometry.Point{X: p.X / size, Y: p.Y / size}
	}
	f.Landmarks = geometry.FaceLandmarks{
		LeftEye: pts[0], RightEye: pts[1], NoseTip: pts[2],
		MouthLeft: pts[3], MouthRight: pts[4], Chin: pts[5],
	}
	return f
}

func TestEstimateSimilarityRecoversTransform(t *testing.T) {
	want := Similarity{Scale: 1.2, Rotation: 10 * math.Pi / 180, TX: 5, TY: -3}
	src := pixels(faceAt(geometry.BoundingBox{X: 60, Y: 60, Width: 80, Height: 80}).Landmarks, size, size)
	dst := make([]geometry.Point, len(src))
	for i, p := range src {
		dst[i] = want.Apply(p)
	}

	got := EstimateSimilarity(src, dst)
	assert.InDelta(t, want.Scale, got.Scale, 1e-9)
	assert.InDelta(t, want.Rotation, got.Rotation, 1e-9)
	assert.InDelta(t, want.TX, got.TX, 1e-6)
	assert.InDelta(t, want.TY, got.TY, 1e-6)
}

func TestTranslation(t *testing.T) {
	src := []geometry.Point{{X: 0, Y: 0}, {X: 10, Y: 0}}
	dst := []geometry.Point{{X: 5, Y: 2}, {X: 15, Y: 2}}
	assert.Equal(t, Similarity{Scale: 1, TX: 5, TY: 2}, Translation(src, dst))
}

func TestAngleDiff(t *testing.T) {
	assert.InDelta(t, 2.0, angleDiff(179, -179), 1e-9)
	assert.InDelta(t, 3.0, angleDiff(1, -2), 1e-9)
}

func TestClampFeather(t *testing.T) {
	assert.Equal(t, DefaultFeather, ClampFeather(0))
	assert.Equal(t, MinFeather, ClampFeather(3))
	assert.Equal(t, MaxFeather, ClampFeather(40))
	assert.Equal(t, 13, ClampFeather(13))
}

func TestEllipseMask(t *testing.T) {
	bounds := image.Rect(0, 0, size, size)
	mask := EllipseMask(bounds, image.Rect(60, 60, 140, 140), 12)

	assert.Equal(t, uint8(255), mask.AlphaAt(100, 100).A)
	assert.Equal(t, uint8(0), mask.AlphaAt(5, 5).A)
	edge := mask.AlphaAt(140, 100).A
	assert.Less(t, edge, uint8(128))
	inner := mask.AlphaAt(125, 100).A
	assert.Greater(t, inner, edge)
}

func TestMatchColors(t *testing.T) {
	warped := solid(color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	for x := 0; x < size; x += 2 {
		for y := 0; y < size; y++ {
			warped.SetNRGBA(x, y, color.NRGBA{R: 120, G: 120, B: 120, A: 255})
		}
	}
	target := solid(color.NRGBA{R: 200, G: 40, B: 90, A: 255})
	mask := EllipseMask(warped.Bounds(), image.Rect(50, 50, 150, 150), 10)

	require.True(t, MatchColors(warped, target, mask))
	s, ok := statsUnder(warped, mask)
	require.True(t, ok)
	assert.InDelta(t, 200, s.mean[0], 1)
	assert.InDelta(t, 40, s.mean[1], 1)
	assert.InDelta(t, 90, s.mean[2], 1)

	assert.False(t, MatchColors(warped, target, image.NewAlpha(warped.Bounds())))
}

func TestReintegrateNeverFails(t *testing.T) {
	source := solid(color.NRGBA{R: 255, A: 255})
	sourceFace := faceAt(geometry.BoundingBox{X: 60, Y: 60, Width: 80, Height: 80})
	generated := encode(t, solid(color.NRGBA{B: 255, A: 255}))

	cases := map[string]struct {
		detector stubDetector
		image    []byte
	}{
		"no face":          {stubDetector{}, generated},
		"detector failure": {stubDetector{err: errors.New("boom")}, generated},
		"undecodable":      {stubDetector{found: true, face: sourceFace}, []byte("not a png")},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := telemetry.NewRecorder()
			r := New(tc.detector, 0, 0, nil)

			out, res := r.Reintegrate(context.Background(), source, sourceFace, tc.image, 0.5, telemetry.NewScoped(rec, "r", "reintegrate"))
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.Reason)
			assert.Equal(t, tc.image, out)
			assert.Equal(t, TransformNone, res.Transform)
			assert.Len(t, rec.Find("reintegration_skipped"), 1)
		})
	}
}

func TestReintegrateTranslatesSmallOffsets(t *testing.T) {
	source := solid(color.NRGBA{R: 255, A: 255})
	sourceFace := faceAt(geometry.BoundingBox{X: 60, Y: 60, Width: 80, Height: 80})
	targetFace := faceAt(geometry.BoundingBox{X: 70, Y: 66, Width: 80, Height: 80})
	generated := encode(t, solid(color.NRGBA{B: 255, A: 255}))

	r := New(stubDetector{face: targetFace, found: true}, 12, 0, nil)
	out, res := r.Reintegrate(context.Background(), source, sourceFace, generated, 0.95, nil)

	require.True(t, res.Success)
	assert.Equal(t, TransformTranslation, res.Transform)
	assert.InDelta(t, 10, res.Warp.TX, 1e-9)
	assert.InDelta(t, 6, res.Warp.TY, 1e-9)
	assert.False(t, res.ColorMatched)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	center := color.NRGBAModel.Convert(img.At(110, 106)).(color.NRGBA)
	assert.Equal(t, uint8(255), center.R)
	assert.Equal(t, uint8(0), center.B)
	corner := color.NRGBAModel.Convert(img.At(2, 2)).(color.NRGBA)
	assert.Equal(t, uint8(255), corner.B)
}

func TestReintegrateWarpsRotatedFaces(t *testing.T) {
	source := solid(color.NRGBA{R: 255, G: 128, A: 255})
	sourceFace := faceAt(geometry.BoundingBox{X: 60, Y: 60, Width: 80, Height: 80})
	rotation := Similarity{Scale: 1, Rotation: 8 * math.Pi / 180}
	center := geometry.Point{X: 100, Y: 100}
	rotation.TX = center.X - rotation.Apply(center).X
	rotation.TY = center.Y - rotation.Apply(center).Y
	targetFace := transformed(sourceFace, rotation)

	r := New(stubDetector{face: targetFace, found: true}, 12, 0, nil)
	_, res := r.Reintegrate(context.Background(), source, sourceFace, encode(t, solid(color.NRGBA{G: 255, A: 255})), 0.6, nil)

	require.True(t, res.Success)
	assert.Equal(t, TransformSimilarity, res.Transform)
	assert.InDelta(t, 8, res.RotationDelta, 1e-6)
	assert.InDelta(t, 8*math.Pi/180, res.Warp.Rotation, 1e-6)
	assert.True(t, res.ColorMatched)
}
