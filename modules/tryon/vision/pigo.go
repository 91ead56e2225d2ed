package vision

import (
	"context"
	"fmt"
	"image"
	"os"
	"sort"

	"github.com/disintegration/imaging"
	pigo "github.com/esimov/pigo/core"
	"go.uber.org/zap"

	"quel-tryon-server/modules/common/logger"
	"quel-tryon-server/modules/tryon/geometry"
)

// PigoDetector runs the pigo face cascade and, when a pupil cascade is
// loaded, localizes both eyes inside the detection.
type PigoDetector struct {
	classifier *pigo.Pigo
	puploc     *pigo.PuplocCascade

	MinSize     int
	ShiftFactor float64
	ScaleFactor float64
	IoU         float64
	MinScore    float32

	log *zap.Logger
}

// NewPigoDetector unpacks the facefinder cascade and the optional puploc
// cascade.
func NewPigoDetector(faceFinder, puplocCascade []byte, log *zap.Logger) (*PigoDetector, error) {
	classifier, err := pigo.NewPigo().Unpack(faceFinder)
	if err != nil {
		return nil, fmt.Errorf("unpack face finder: %w", err)
	}
	d := &PigoDetector{
		classifier:  classifier,
		MinSize:     40,
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		IoU:         0.2,
		MinScore:    5,
		log:         logger.OrNop(log),
	}
	if len(puplocCascade) > 0 {
		plc, err := pigo.NewPuplocCascade().UnpackCascade(puplocCascade)
		if err != nil {
			return nil, fmt.Errorf("unpack puploc: %w", err)
		}
		d.puploc = plc
	}
	return d, nil
}

// LoadPigoDetector reads the cascades from disk. An empty puploc path skips
// eye localization.
func LoadPigoDetector(cascadePath, puplocPath string, log *zap.Logger) (*PigoDetector, error) {
	faceFinder, err := os.ReadFile(cascadePath)
	if err != nil {
		return nil, fmt.Errorf("read face cascade: %w", err)
	}
	var plc []byte
	if puplocPath != "" {
		if plc, err = os.ReadFile(puplocPath); err != nil {
			return nil, fmt.Errorf("read puploc cascade: %w", err)
		}
	}
	return NewPigoDetector(faceFinder, plc, log)
}

func (d *PigoDetector) Detect(ctx context.Context, img image.Image) (Face, bool, error) {
	if err := ctx.Err(); err != nil {
		return Face{}, false, err
	}

	src := imaging.Clone(img)
	cols, rows := src.Bounds().Dx(), src.Bounds().Dy()
	imgParams := pigo.ImageParams{
		Pixels: pigo.RgbToGrayscale(src),
		Rows:   rows,
		Cols:   cols,
		Dim:    cols,
	}
	params := pigo.CascadeParams{
		MinSize:     d.MinSize,
		MaxSize:     min(cols, rows),
		ShiftFactor: d.ShiftFactor,
		ScaleFactor: d.ScaleFactor,
		ImageParams: imgParams,
	}

	dets := d.classifier.RunCascade(params, 0)
	dets = d.classifier.ClusterDetections(dets, d.IoU)
	if err := ctx.Err(); err != nil {
		return Face{}, false, err
	}

	var kept []pigo.Detection
	for _, det := range dets {
		if det.Q >= d.MinScore {
			kept = append(kept, det)
		}
	}
	if len(kept) == 0 {
		d.log.Debug("🙈 [Vision] No face detected", zap.Int("candidates", len(dets)))
		return Face{}, false, nil
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Q > kept[j].Q })
	det := kept[0]

	half := det.Scale / 2
	window := image.Rect(det.Col-half, det.Row-half, det.Col+half, det.Row+half)
	box := geometry.FromRect(window.Intersect(image.Rect(0, 0, cols, rows)))

	// pigo windows are square, so the width has to be measured separately
	face := Face{Box: box, Confidence: float64(det.Q), ScaleOnly: true}
	if l, r, ok := measureFaceWidth(src, window); ok {
		face.MeasuredWidth = r - l + 1
	} else {
		d.log.Debug("📏 [Vision] Face width not measurable, aspect unknown", zap.Any("box", box))
	}
	if eyes, ok := d.locateEyes(det, imgParams); ok {
		face.Landmarks = geometry.TemplateLandmarks(box, cols, rows, eyes[0], eyes[1])
		face.EyesLocated = true
	} else {
		face.Landmarks = geometry.TemplateLandmarks(box, cols, rows)
	}

	d.log.Debug("🙂 [Vision] Face detected",
		zap.Any("box", box), zap.Float32("score", det.Q), zap.Bool("eyes", face.EyesLocated),
		zap.Int("measuredWidth", face.MeasuredWidth))
	return face, true, nil
}

// locateEyes starts a puploc search at the expected position of each eye
// within the detection.
func (d *PigoDetector) locateEyes(det pigo.Detection, imgParams pigo.ImageParams) ([2]geometry.Point, bool) {
	var eyes [2]geometry.Point
	if d.puploc == nil {
		return eyes, false
	}
	scale := float32(det.Scale)
	offsets := [2]int{-int(0.175 * scale), int(0.185 * scale)}
	for i, dx := range offsets {
		seed := pigo.Puploc{
			Row:      det.Row - int(0.075*scale),
			Col:      det.Col + dx,
			Scale:    scale * 0.25,
			Perturbs: 63,
		}
		found := d.puploc.RunDetector(seed, imgParams, 0, false)
		if found == nil || found.Row <= 0 || found.Col <= 0 {
			return eyes, false
		}
		eyes[i] = geometry.Point{X: float64(found.Col), Y: float64(found.Row)}
	}
	return eyes, true
}
