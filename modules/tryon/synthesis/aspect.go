package synthesis

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"net/http"

	_ "golang.org/x/image/webp"
)

// aspectRatios the image models accept.
var aspectRatios = []struct {
	label string
	value float64
}{
	{"1:1", 1},
	{"2:3", 2.0 / 3},
	{"3:2", 3.0 / 2},
	{"3:4", 3.0 / 4},
	{"4:3", 4.0 / 3},
	{"4:5", 4.0 / 5},
	{"5:4", 5.0 / 4},
	{"9:16", 9.0 / 16},
	{"16:9", 16.0 / 9},
	{"21:9", 21.0 / 9},
}

// AspectRatioFor returns the supported ratio closest to the source image so
// the engine keeps the original framing. Unreadable images give "".
func AspectRatioFor(img []byte) string {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return ""
	}
	r := float64(cfg.Width) / float64(cfg.Height)

	best, bestDiff := "", math.Inf(1)
	for _, ar := range aspectRatios {
		if d := math.Abs(math.Log(r / ar.value)); d < bestDiff {
			best, bestDiff = ar.label, d
		}
	}
	return best
}

func mimeType(data []byte) string {
	switch ct := http.DetectContentType(data); ct {
	case "image/png", "image/jpeg", "image/webp":
		return ct
	default:
		return "image/png"
	}
}

// mimeFormat is the genai.ImageData format for data.
func mimeFormat(data []byte) string {
	return mimeType(data)[len("image/"):]
}
