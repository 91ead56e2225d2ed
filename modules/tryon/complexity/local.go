package complexity

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// LocalScorer estimates complexity from edge density and colour spread
// without any remote call.
type LocalScorer struct {
	// SampleWidth is the width images are reduced to before measuring.
	SampleWidth int
	// EdgeThreshold is the gradient magnitude counted as an edge.
	EdgeThreshold float64
}

func NewLocalScorer() *LocalScorer {
	return &LocalScorer{SampleWidth: 256, EdgeThreshold: 48}
}

func (s *LocalScorer) Score(ctx context.Context, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode image: %w", err)
	}
	return s.ScoreImage(img), nil
}

// ScoreImage scores an already decoded image: 60 points from edge density
// (saturating at 25% edge pixels) and 40 from colour standard deviation
// (saturating at 64).
func (s *LocalScorer) ScoreImage(img image.Image) int {
	small := imaging.Resize(img, s.SampleWidth, 0, imaging.Box)
	edges := edgeDensity(imaging.Grayscale(small), s.EdgeThreshold)
	spread := colorSpread(small)

	score := math.Min(edges/0.25, 1)*60 + math.Min(spread/64, 1)*40
	return Clamp(int(math.Round(score)))
}

func edgeDensity(gray *image.NRGBA, threshold float64) float64 {
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}
	lum := func(x, y int) float64 {
		return float64(gray.Pix[y*gray.Stride+x*4])
	}
	var edges, total int
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := lum(x+1, y-1) + 2*lum(x+1, y) + lum(x+1, y+1) - lum(x-1, y-1) - 2*lum(x-1, y) - lum(x-1, y+1)
			gy := lum(x-1, y+1) + 2*lum(x, y+1) + lum(x+1, y+1) - lum(x-1, y-1) - 2*lum(x, y-1) - lum(x+1, y-1)
			if math.Hypot(gx, gy)/4 > threshold {
				edges++
			}
			total++
		}
	}
	return float64(edges) / float64(total)
}

func colorSpread(img *image.NRGBA) float64 {
	n := float64(len(img.Pix) / 4)
	if n == 0 {
		return 0
	}
	var sum, sq [3]float64
	for i := 0; i < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := float64(img.Pix[i+c])
			sum[c] += v
			sq[c] += v * v
		}
	}
	var std float64
	for c := 0; c < 3; c++ {
		mean := sum[c] / n
		std += math.Sqrt(math.Max(sq[c]/n-mean*mean, 0))
	}
	return std / 3
}
