package geometry

import "math"

// Point is a normalized [0,1] image-fraction coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// FaceLandmarks are the six named points tracked per face.
type FaceLandmarks struct {
	LeftEye    Point `json:"leftEye"`
	RightEye   Point `json:"rightEye"`
	NoseTip    Point `json:"noseTip"`
	MouthLeft  Point `json:"mouthLeft"`
	MouthRight Point `json:"mouthRight"`
	Chin       Point `json:"chin"`
}

// Points in fixed order.
func (l FaceLandmarks) Points() []Point {
	return []Point{l.LeftEye, l.RightEye, l.NoseTip, l.MouthLeft, l.MouthRight, l.Chin}
}

// Valid reports whether every point lies in [0,1].
func (l FaceLandmarks) Valid() bool {
	for _, p := range l.Points() {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			return false
		}
	}
	return true
}

// EyeCenter is the midpoint between the eyes.
func (l FaceLandmarks) EyeCenter() Point {
	return Point{X: (l.LeftEye.X + l.RightEye.X) / 2, Y: (l.LeftEye.Y + l.RightEye.Y) / 2}
}

// Interocular is the eye-to-eye distance.
func (l FaceLandmarks) Interocular() float64 {
	return l.LeftEye.dist(l.RightEye)
}

// RotationDegrees is the tilt of the eye line.
func (l FaceLandmarks) RotationDegrees() float64 {
	return math.Atan2(l.RightEye.Y-l.LeftEye.Y, l.RightEye.X-l.LeftEye.X) * 180 / math.Pi
}

// MouthToEye is mouth width over interocular distance.
func (l FaceLandmarks) MouthToEye() float64 {
	io := l.Interocular()
	if io == 0 {
		return 0
	}
	return l.MouthLeft.dist(l.MouthRight) / io
}

// ChinDrop is eye-to-chin over eye-to-nose, measured vertically.
func (l FaceLandmarks) ChinDrop() float64 {
	ec := l.EyeCenter()
	nose := l.NoseTip.Y - ec.Y
	if nose <= 0 {
		return 0
	}
	return (l.Chin.Y - ec.Y) / nose
}

// MeanDistance is the mean Euclidean distance between corresponding points.
func MeanDistance(a, b FaceLandmarks) float64 {
	pa, pb := a.Points(), b.Points()
	var sum float64
	for i := range pa {
		sum += pa[i].dist(pb[i])
	}
	return sum / float64(len(pa))
}

// Alignment is 1 - mean distance / 0.1, clamped to [0,1].
func Alignment(source, generated FaceLandmarks) float64 {
	return clamp01(1 - MeanDistance(source, generated)/0.1)
}

// template positions inside a face box, as fractions of the box
var landmarkTemplate = FaceLandmarks{
	LeftEye:    Point{0.30, 0.40},
	RightEye:   Point{0.70, 0.40},
	NoseTip:    Point{0.50, 0.60},
	MouthLeft:  Point{0.35, 0.78},
	MouthRight: Point{0.65, 0.78},
	Chin:       Point{0.50, 0.98},
}

// TemplateLandmarks places the anthropometric template in box and normalizes
// to a w×h image. When eyes are known (pixel space) the template is fitted
// to them instead of the box.
func TemplateLandmarks(box BoundingBox, w, h int, eyes ...Point) FaceLandmarks {
	bx, by := float64(box.X), float64(box.Y)
	bw, bh := float64(box.Width), float64(box.Height)

	place := func(p Point) Point {
		return Point{X: (bx + p.X*bw) / float64(w), Y: (by + p.Y*bh) / float64(h)}
	}
	lm := FaceLandmarks{
		LeftEye:    place(landmarkTemplate.LeftEye),
		RightEye:   place(landmarkTemplate.RightEye),
		NoseTip:    place(landmarkTemplate.NoseTip),
		MouthLeft:  place(landmarkTemplate.MouthLeft),
		MouthRight: place(landmarkTemplate.MouthRight),
		Chin:       place(landmarkTemplate.Chin),
	}
	if len(eyes) == 2 {
		left, right := eyes[0], eyes[1]
		if left.X > right.X {
			left, right = right, left
		}
		lm.LeftEye = Point{X: left.X / float64(w), Y: left.Y / float64(h)}
		lm.RightEye = Point{X: right.X / float64(w), Y: right.Y / float64(h)}
	}
	return lm
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
