// Package geometry derives the locked face region and the body proportion
// reference from a detected face box.
package geometry

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/webp"

	"quel-tryon-server/modules/tryon/tryonerr"
)

// BoundingBox is a pixel rectangle in source-image space.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// FromRect converts an image.Rectangle.
func FromRect(r image.Rectangle) BoundingBox {
	return BoundingBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Validate checks the box is non-degenerate and inside a w×h image.
func (b BoundingBox) Validate(w, h int) error {
	if b.Width <= 0 || b.Height <= 0 {
		return tryonerr.New(tryonerr.InvalidGeometry, "geometry",
			fmt.Sprintf("degenerate face box %dx%d", b.Width, b.Height))
	}
	if b.X < 0 || b.Y < 0 || b.X+b.Width > w || b.Y+b.Height > h {
		return tryonerr.New(tryonerr.InvalidGeometry, "geometry",
			fmt.Sprintf("face box %+v outside %dx%d image", b, w, h))
	}
	return nil
}

// BodyType is the coarse build class inferred from facial width.
type BodyType string

const (
	BodySlim    BodyType = "slim"
	BodyAverage BodyType = "average"
	BodyFull    BodyType = "full"
	BodyHeavy   BodyType = "heavy"
)

// BMICategory is the build estimate surfaced to the constraint compiler.
type BMICategory string

const (
	BMILean       BMICategory = "lean"
	BMINormal     BMICategory = "normal"
	BMIOverweight BMICategory = "overweight"
	BMIObese      BMICategory = "obese"
)

// Multipliers against face height (torso, arm) and face width (shoulder, hip).
const (
	torsoPerFaceHeight = 2.0
	armPerFaceHeight   = 3.0
	lockMargin         = 0.10
	// face width assumed when none could be measured
	nominalFaceAspect = 0.80
)

type widthFactors struct {
	shoulder float64
	hip      float64
}

var bodyWidthFactors = map[BodyType]widthFactors{
	BodySlim:    {shoulder: 2.0, hip: 1.7},
	BodyAverage: {shoulder: 2.1, hip: 1.8},
	BodyFull:    {shoulder: 2.25, hip: 2.0},
	BodyHeavy:   {shoulder: 2.4, hip: 2.2},
}

var bmiByBody = map[BodyType]BMICategory{
	BodySlim:    BMILean,
	BodyAverage: BMINormal,
	BodyFull:    BMIOverweight,
	BodyHeavy:   BMIObese,
}

// ClassifyBody maps the face width/height ratio to a body type.
func ClassifyBody(faceAspect float64) BodyType {
	switch {
	case faceAspect < 0.75:
		return BodySlim
	case faceAspect <= 0.88:
		return BodyAverage
	case faceAspect <= 0.95:
		return BodyFull
	default:
		return BodyHeavy
	}
}

// BodyProportions is the authoritative body reference for one request.
// Pixel measures are kept for the reintegrator; Relative gives the
// scale-invariant form the constraints use.
type BodyProportions struct {
	FaceWidth            float64     `json:"faceWidth"`
	FaceHeight           float64     `json:"faceHeight"`
	ShoulderWidth        float64     `json:"shoulderWidth"`
	TorsoLength          float64     `json:"torsoLength"`
	HipWidth             float64     `json:"hipWidth"`
	ArmLength            float64     `json:"armLength"`
	BodyType             BodyType    `json:"bodyType"`
	EstimatedBMICategory BMICategory `json:"estimatedBMICategory"`
	// AspectUnknown marks a nominal FaceWidth; the build is then average
	// and nothing may be read from the face aspect.
	AspectUnknown bool `json:"aspectUnknown,omitempty"`
}

// Ratios are proportions divided by face height.
type Ratios struct {
	FaceAspect float64 `json:"faceAspect"`
	Shoulder   float64 `json:"shoulder"`
	Torso      float64 `json:"torso"`
	Hip        float64 `json:"hip"`
	Arm        float64 `json:"arm"`
}

func (p BodyProportions) Relative() Ratios {
	h := p.FaceHeight
	return Ratios{
		FaceAspect: p.FaceWidth / h,
		Shoulder:   p.ShoulderWidth / h,
		Torso:      p.TorsoLength / h,
		Hip:        p.HipWidth / h,
		Arm:        p.ArmLength / h,
	}
}

// Extraction is the output of the geometry stage.
type Extraction struct {
	Proportions BodyProportions `json:"proportions"`
	FaceBox     BoundingBox     `json:"faceBox"`
	LockedBox   BoundingBox     `json:"lockedBox"`
	ImageWidth  int             `json:"imageWidth"`
	ImageHeight int             `json:"imageHeight"`
}

// Extract reads the image dimensions from imageData and derives proportions
// and the locked region for face.
func Extract(imageData []byte, face BoundingBox) (Extraction, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(imageData))
	if err != nil {
		return Extraction{}, tryonerr.Wrap(tryonerr.InvalidGeometry, "geometry", fmt.Errorf("decode image header: %w", err))
	}
	return ExtractFromSize(cfg.Width, cfg.Height, face)
}

// ExtractFromSize is Extract for known dimensions, taking the face width
// from the box.
func ExtractFromSize(w, h int, face BoundingBox) (Extraction, error) {
	return ExtractWithFaceWidth(w, h, face, float64(face.Width))
}

// ExtractWithFaceWidth is ExtractFromSize for detectors whose box width is
// not the face width. faceWidth <= 0 means unknown.
func ExtractWithFaceWidth(w, h int, face BoundingBox, faceWidth float64) (Extraction, error) {
	if w <= 0 || h <= 0 {
		return Extraction{}, tryonerr.New(tryonerr.InvalidGeometry, "geometry", fmt.Sprintf("invalid image size %dx%d", w, h))
	}
	if err := face.Validate(w, h); err != nil {
		return Extraction{}, err
	}

	fw, fh := faceWidth, float64(face.Height)
	aspectUnknown := fw <= 0
	var bodyType BodyType
	if aspectUnknown {
		fw = round2(fh * nominalFaceAspect)
		bodyType = BodyAverage
	} else {
		bodyType = ClassifyBody(fw / fh)
	}
	factors := bodyWidthFactors[bodyType]

	props := BodyProportions{
		FaceWidth:            fw,
		FaceHeight:           fh,
		ShoulderWidth:        round2(fw * factors.shoulder),
		TorsoLength:          round2(fh * torsoPerFaceHeight),
		HipWidth:             round2(fw * factors.hip),
		ArmLength:            round2(fh * armPerFaceHeight),
		BodyType:             bodyType,
		EstimatedBMICategory: bmiByBody[bodyType],
		AspectUnknown:        aspectUnknown,
	}

	return Extraction{
		Proportions: props,
		FaceBox:     face,
		LockedBox:   LockBox(face, w, h),
		ImageWidth:  w,
		ImageHeight: h,
	}, nil
}

// LockBox expands face vertically by 10% of its height on each side,
// clamped to the image.
func LockBox(face BoundingBox, w, h int) BoundingBox {
	margin := int(math.Round(float64(face.Height) * lockMargin))
	top := max(face.Y-margin, 0)
	bottom := min(face.Y+face.Height+margin, h)
	left := max(face.X, 0)
	right := min(face.X+face.Width, w)
	return BoundingBox{X: left, Y: top, Width: right - left, Height: bottom - top}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
