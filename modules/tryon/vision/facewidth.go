package vision

import (
	"image"
	"image/color"
	"sort"
)

// Lower-face band scanned for the cheek-to-cheek extent, as fractions of
// the detection window from its top edge. It sits below the ears.
const (
	widthBandTop    = 0.66
	widthBandBottom = 0.86
	// a row counts only if its skin run is at least this share of the window
	minWidthShare = 0.40
	// non-skin pixels tolerated inside a run (nostrils, lip line), share of the window
	skinGapShare = 0.03
)

// isSkin is the usual YCbCr chroma box for skin, independent of luma.
func isSkin(c color.NRGBA) bool {
	_, cb, cr := color.RGBToYCbCr(c.R, c.G, c.B)
	return cb >= 77 && cb <= 127 && cr >= 133 && cr <= 173
}

// measureFaceWidth walks outwards from the window centre along each row of
// the lower-face band and returns the median skin extent [left, right].
// ok is false when too few rows give a run that ends inside the window,
// which is what a skin-coloured background or a non-skin face looks like.
func measureFaceWidth(img *image.NRGBA, window image.Rectangle) (left, right int, ok bool) {
	window = window.Intersect(img.Bounds())
	size := window.Dy()
	if size <= 0 || window.Dx() <= 0 {
		return 0, 0, false
	}
	cx := (window.Min.X + window.Max.X) / 2
	y0 := window.Min.Y + int(float64(size)*widthBandTop)
	y1 := window.Min.Y + int(float64(size)*widthBandBottom)
	maxGap := max(2, int(float64(size)*skinGapShare))
	seedReach := window.Dx() / 8

	var lefts, rights []int
	rows := 0
	for y := y0; y < y1 && y < window.Max.Y; y++ {
		rows++
		seed, found := -1, false
		for d := 0; d <= seedReach && !found; d++ {
			for _, x := range [2]int{cx - d, cx + d} {
				if x >= window.Min.X && x < window.Max.X && isSkin(img.NRGBAAt(x, y)) {
					seed, found = x, true
					break
				}
			}
		}
		if !found {
			continue
		}
		l := skinRun(img, y, seed, -1, window.Min.X, maxGap)
		r := skinRun(img, y, seed, 1, window.Max.X-1, maxGap)
		if l <= window.Min.X && r >= window.Max.X-1 {
			continue
		}
		if float64(r-l+1) < float64(size)*minWidthShare {
			continue
		}
		lefts = append(lefts, l)
		rights = append(rights, r)
	}
	if rows == 0 || len(lefts)*3 < rows {
		return 0, 0, false
	}
	return median(lefts), median(rights), true
}

// skinRun follows skin from x in direction step until more than maxGap
// non-skin pixels in a row or the limit, returning the last skin column.
func skinRun(img *image.NRGBA, y, x, step, limit, maxGap int) int {
	last, gap := x, 0
	for x != limit {
		x += step
		if isSkin(img.NRGBAAt(x, y)) {
			last, gap = x, 0
			continue
		}
		gap++
		if gap > maxGap {
			break
		}
	}
	return last
}

func median(v []int) int {
	s := append([]int(nil), v...)
	sort.Ints(s)
	return s[len(s)/2]
}
