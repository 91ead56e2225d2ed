package reintegrate

import (
	"math"

	"golang.org/x/image/math/f64"

	"quel-tryon-server/modules/tryon/geometry"
)

// Similarity is a rotation + uniform scale + translation.
type Similarity struct {
	Scale    float64 `json:"scale"`
	Rotation float64 `json:"rotation"` // radians
	TX       float64 `json:"tx"`
	TY       float64 `json:"ty"`
}

// Aff3 is the source-to-destination matrix for x/image/draw.
func (s Similarity) Aff3() f64.Aff3 {
	c, n := s.Scale*math.Cos(s.Rotation), s.Scale*math.Sin(s.Rotation)
	return f64.Aff3{c, -n, s.TX, n, c, s.TY}
}

// Apply maps a point.
func (s Similarity) Apply(p geometry.Point) geometry.Point {
	m := s.Aff3()
	return geometry.Point{X: m[0]*p.X + m[1]*p.Y + m[2], Y: m[3]*p.X + m[4]*p.Y + m[5]}
}

func pixels(lm geometry.FaceLandmarks, w, h int) []geometry.Point {
	pts := lm.Points()
	for i := range pts {
		pts[i].X *= float64(w)
		pts[i].Y *= float64(h)
	}
	return pts
}

func centroid(pts []geometry.Point) geometry.Point {
	var c geometry.Point
	for _, p := range pts {
		c.X += p.X
		c.Y += p.Y
	}
	c.X /= float64(len(pts))
	c.Y /= float64(len(pts))
	return c
}

// EstimateSimilarity is the least-squares similarity mapping src onto dst.
func EstimateSimilarity(src, dst []geometry.Point) Similarity {
	sc, dc := centroid(src), centroid(dst)

	var srcNorm, dstNorm, a11, a12, a21, a22 float64
	for i := range src {
		sx, sy := src[i].X-sc.X, src[i].Y-sc.Y
		dx, dy := dst[i].X-dc.X, dst[i].Y-dc.Y
		srcNorm += sx*sx + sy*sy
		dstNorm += dx*dx + dy*dy
		a11 += sx * dx
		a12 += sx * dy
		a21 += sy * dx
		a22 += sy * dy
	}

	scale := 1.0
	if srcNorm > 0 {
		scale = math.Sqrt(dstNorm / srcNorm)
	}
	theta := math.Atan2(a12-a21, a11+a22)

	s := Similarity{Scale: scale, Rotation: theta}
	m := s.Aff3()
	s.TX = dc.X - (m[0]*sc.X + m[1]*sc.Y)
	s.TY = dc.Y - (m[3]*sc.X + m[4]*sc.Y)
	return s
}

// Translation moves src's centroid onto dst's.
func Translation(src, dst []geometry.Point) Similarity {
	sc, dc := centroid(src), centroid(dst)
	return Similarity{Scale: 1, TX: dc.X - sc.X, TY: dc.Y - sc.Y}
}

// eyeAngle in degrees, measured in pixel space.
func eyeAngle(pts []geometry.Point) float64 {
	return math.Atan2(pts[1].Y-pts[0].Y, pts[1].X-pts[0].X) * 180 / math.Pi
}

func eyeSpan(pts []geometry.Point) float64 {
	return math.Hypot(pts[1].X-pts[0].X, pts[1].Y-pts[0].Y)
}

// angleDiff is the absolute difference folded into [0,180].
func angleDiff(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}
