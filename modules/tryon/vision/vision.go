// Package vision holds the face detection, face similarity and garment
// presence capabilities used before and after synthesis.
package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"quel-tryon-server/modules/tryon/geometry"
)

// Face is one detected face in pixel space plus normalized landmarks.
//
// Detectors that only report a scale (square windows) set ScaleOnly; the
// face width then comes from MeasuredWidth, or is unknown when that is 0.
type Face struct {
	Box           geometry.BoundingBox   `json:"box"`
	Confidence    float64                `json:"confidence"`
	Landmarks     geometry.FaceLandmarks `json:"landmarks"`
	EyesLocated   bool                   `json:"eyesLocated"`
	ScaleOnly     bool                   `json:"scaleOnly,omitempty"`
	MeasuredWidth int                    `json:"measuredWidth,omitempty"`
}

// Width is the face width in pixels, 0 when the detector could not tell.
func (f Face) Width() float64 {
	if f.ScaleOnly {
		return float64(f.MeasuredWidth)
	}
	return float64(f.Box.Width)
}

// FaceDetector finds the dominant face. found is false when the image has
// no face; err is reserved for detector failures.
type FaceDetector interface {
	Detect(ctx context.Context, img image.Image) (face Face, found bool, err error)
}

// Embedder scores how likely two face crops show the same person, in [0,1].
type Embedder interface {
	Similarity(ctx context.Context, a, b image.Image) (float64, error)
}

// GarmentChecker decides whether the garment reference was applied to the
// person in the output.
type GarmentChecker interface {
	GarmentApplied(ctx context.Context, output, garment []byte) (applied bool, reason string, err error)
}

// AlwaysApplied is the garment checker used when no vision model is
// configured.
type AlwaysApplied struct{}

func (AlwaysApplied) GarmentApplied(context.Context, []byte, []byte) (bool, string, error) {
	return true, "garment check disabled", nil
}

// Decode reads any supported raster format, honouring EXIF orientation.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// CropFace cuts the face box out of img, grown by margin (fraction of the
// box) on every side and clipped to the image.
func CropFace(img image.Image, box geometry.BoundingBox, margin float64) *image.NRGBA {
	mx := int(float64(box.Width) * margin)
	my := int(float64(box.Height) * margin)
	r := image.Rect(box.X-mx, box.Y-my, box.X+box.Width+mx, box.Y+box.Height+my)
	return imaging.Crop(img, r.Intersect(img.Bounds()))
}
