// Package reintegrate pastes the source face back onto a generated image
// whose face drifted out of alignment.
package reintegrate

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"

	"quel-tryon-server/modules/common/logger"
	"quel-tryon-server/modules/common/telemetry"
	"quel-tryon-server/modules/tryon/vision"
)

const (
	// AlignmentThreshold below which reintegration and colour matching run.
	AlignmentThreshold = 0.9
	// RotationTolerance in degrees and ScaleTolerance as a ratio decide
	// between a full similarity warp and a plain translation.
	RotationTolerance = 2.0
	ScaleTolerance    = 0.05

	MinFeather     = 10
	MaxFeather     = 15
	DefaultFeather = 12
)

// Transform kinds reported in Result.
const (
	TransformNone        = "none"
	TransformTranslation = "translation"
	TransformSimilarity  = "similarity"
)

// Result describes a reintegration. Success=false always comes with the
// generated image untouched.
type Result struct {
	Success       bool       `json:"success"`
	Reason        string     `json:"reason,omitempty"`
	Transform     string     `json:"transform"`
	Warp          Similarity `json:"warp"`
	RotationDelta float64    `json:"rotationDelta"`
	ScaleRatio    float64    `json:"scaleRatio"`
	ColorMatched  bool       `json:"colorMatched"`
	FeatherPx     int        `json:"featherPx"`
}

type Reintegrator struct {
	detector vision.FaceDetector
	feather  int
	timeout  time.Duration
	log      *zap.Logger
}

func New(detector vision.FaceDetector, feather int, timeout time.Duration, log *zap.Logger) *Reintegrator {
	return &Reintegrator{
		detector: detector,
		feather:  ClampFeather(feather),
		timeout:  timeout,
		log:      logger.OrNop(log),
	}
}

// ClampFeather keeps the mask feather in [MinFeather, MaxFeather]; zero
// selects the default.
func ClampFeather(px int) int {
	if px == 0 {
		return DefaultFeather
	}
	return max(MinFeather, min(MaxFeather, px))
}

// Reintegrate warps the source face onto the face found in generated. It
// never fails: every problem yields the generated bytes and Success=false.
func (r *Reintegrator) Reintegrate(ctx context.Context, source image.Image, sourceFace vision.Face, generated []byte, alignment float64, events *telemetry.Scoped) ([]byte, Result) {
	res := Result{Transform: TransformNone, FeatherPx: r.feather}
	fail := func(reason string) ([]byte, Result) {
		res.Success = false
		res.Reason = reason
		r.log.Warn("⚠️  [Reintegrate] Skipped, keeping generated image", zap.String("reason", reason))
		if events != nil {
			events.Event("reintegration_skipped", map[string]interface{}{"reason": reason})
		}
		return generated, res
	}

	target, err := vision.Decode(generated)
	if err != nil {
		return fail(err.Error())
	}

	dctx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	face, found, err := r.detector.Detect(dctx, target)
	if err != nil {
		return fail(fmt.Sprintf("face detection failed: %v", err))
	}
	if !found {
		return fail("no face detected in generated image")
	}

	sb, tb := source.Bounds(), target.Bounds()
	srcPts := pixels(sourceFace.Landmarks, sb.Dx(), sb.Dy())
	dstPts := pixels(face.Landmarks, tb.Dx(), tb.Dy())
	if eyeSpan(srcPts) == 0 || eyeSpan(dstPts) == 0 {
		return fail("degenerate landmarks")
	}

	res.RotationDelta = angleDiff(eyeAngle(dstPts), eyeAngle(srcPts))
	res.ScaleRatio = eyeSpan(dstPts) / eyeSpan(srcPts)
	if res.RotationDelta > RotationTolerance || math.Abs(res.ScaleRatio-1) > ScaleTolerance {
		res.Transform = TransformSimilarity
		res.Warp = EstimateSimilarity(srcPts, dstPts)
	} else {
		res.Transform = TransformTranslation
		res.Warp = Translation(srcPts, dstPts)
	}

	canvas := imaging.Clone(target)
	src := imaging.Clone(source)
	warped := image.NewNRGBA(canvas.Bounds())
	xdraw.BiLinear.Transform(warped, res.Warp.Aff3(), src, src.Bounds(), xdraw.Src, nil)

	mask := EllipseMask(canvas.Bounds(), face.Box.Rect(), r.feather)

	if alignment < AlignmentThreshold {
		res.ColorMatched = MatchColors(warped, canvas, mask)
	}

	draw.DrawMask(canvas, canvas.Bounds(), warped, image.Point{}, mask, image.Point{}, draw.Over)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return fail(fmt.Sprintf("encode: %v", err))
	}

	res.Success = true
	r.log.Info("✅ [Reintegrate] Face reintegrated",
		zap.String("transform", res.Transform),
		zap.Float64("rotation_delta", res.RotationDelta),
		zap.Float64("scale_ratio", res.ScaleRatio),
		zap.Bool("color_matched", res.ColorMatched))
	if events != nil {
		events.Event("reintegration_applied", map[string]interface{}{
			"transform":     res.Transform,
			"rotationDelta": res.RotationDelta,
			"scaleRatio":    res.ScaleRatio,
			"colorMatched":  res.ColorMatched,
			"featherPx":     res.FeatherPx,
		})
	}
	return buf.Bytes(), res
}

// EllipseMask is an opaque ellipse inscribed in face, shrunk by the feather
// and blurred so the edge falls off over roughly feather pixels.
func EllipseMask(bounds, face image.Rectangle, feather int) *image.Alpha {
	hard := image.NewGray(bounds)
	cx := float64(face.Min.X+face.Max.X) / 2
	cy := float64(face.Min.Y+face.Max.Y) / 2
	rx := math.Max(1, float64(face.Dx())/2-float64(feather)/2)
	ry := math.Max(1, float64(face.Dy())/2-float64(feather)/2)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		dy := (float64(y) + 0.5 - cy) / ry
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dx := (float64(x) + 0.5 - cx) / rx
			if dx*dx+dy*dy <= 1 {
				hard.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}

	soft := imaging.Blur(hard, float64(feather)/3)
	mask := image.NewAlpha(bounds)
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			mask.Pix[y*mask.Stride+x] = soft.Pix[y*soft.Stride+x*4]
		}
	}
	return mask
}

type channelStats struct {
	mean, std [3]float64
}

func statsUnder(img *image.NRGBA, mask *image.Alpha) (channelStats, bool) {
	var sum, sq [3]float64
	var n float64
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if mask.Pix[y*mask.Stride+x] < 128 {
				continue
			}
			i := y*img.Stride + x*4
			if img.Pix[i+3] == 0 {
				continue
			}
			for c := 0; c < 3; c++ {
				v := float64(img.Pix[i+c])
				sum[c] += v
				sq[c] += v * v
			}
			n++
		}
	}
	var s channelStats
	if n == 0 {
		return s, false
	}
	for c := 0; c < 3; c++ {
		s.mean[c] = sum[c] / n
		s.std[c] = math.Sqrt(math.Max(0, sq[c]/n-s.mean[c]*s.mean[c]))
	}
	return s, true
}

// MatchColors shifts warped's per-channel mean and spread under the mask to
// those of target (Reinhard transfer in RGB). It reports whether anything
// was changed.
func MatchColors(warped, target *image.NRGBA, mask *image.Alpha) bool {
	ws, ok := statsUnder(warped, mask)
	if !ok {
		return false
	}
	ts, ok := statsUnder(target, mask)
	if !ok {
		return false
	}

	var gain [3]float64
	for c := 0; c < 3; c++ {
		gain[c] = 1
		if ws.std[c] > 1e-6 {
			gain[c] = ts.std[c] / ws.std[c]
		}
	}

	b := warped.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if mask.Pix[y*mask.Stride+x] == 0 {
				continue
			}
			i := y*warped.Stride + x*4
			for c := 0; c < 3; c++ {
				v := (float64(warped.Pix[i+c])-ws.mean[c])*gain[c] + ts.mean[c]
				warped.Pix[i+c] = uint8(math.Max(0, math.Min(255, math.Round(v))))
			}
		}
	}
	return true
}
