package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"
)

// Cosine similarity of two equal-length vectors. Mismatched or zero
// vectors give 0.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// PixelEmbedder compares normalized grayscale thumbnails of two crops. It
// needs no model and serves as the offline fallback.
type PixelEmbedder struct {
	Size int
}

func NewPixelEmbedder() *PixelEmbedder { return &PixelEmbedder{Size: 32} }

func (p *PixelEmbedder) vector(img image.Image) []float64 {
	thumb := imaging.Grayscale(imaging.Resize(img, p.Size, p.Size, imaging.Lanczos))
	v := make([]float64, 0, p.Size*p.Size)
	var mean float64
	for y := 0; y < p.Size; y++ {
		for x := 0; x < p.Size; x++ {
			g := float64(thumb.Pix[y*thumb.Stride+x*4])
			v = append(v, g)
			mean += g
		}
	}
	mean /= float64(len(v))
	for i := range v {
		v[i] -= mean
	}
	return v
}

// Similarity is the zero-mean cosine of the thumbnails clamped to [0,1].
// Two flat crops are treated as identical only when their brightness
// matches.
func (p *PixelEmbedder) Similarity(ctx context.Context, a, b image.Image) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	va, vb := p.vector(a), p.vector(b)
	if isZero(va) && isZero(vb) {
		return 1 - math.Abs(meanGray(a)-meanGray(b))/255, nil
	}
	return clamp01(Cosine(va, vb)), nil
}

func isZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func meanGray(img image.Image) float64 {
	g := imaging.Grayscale(imaging.Resize(img, 8, 8, imaging.Box))
	var sum float64
	for i := 0; i < len(g.Pix); i += 4 {
		sum += float64(g.Pix[i])
	}
	return sum / float64(len(g.Pix)/4)
}

// HTTPEmbedder calls an embedding service (ArcFace-style) that returns one
// vector per face crop:
//
//	POST {url}  {"image": "<base64 png>"}  ->  {"embedding": [...]}
type HTTPEmbedder struct {
	URL    string
	Client *http.Client
}

func NewHTTPEmbedder(url string, timeout time.Duration) *HTTPEmbedder {
	return &HTTPEmbedder{URL: strings.TrimRight(url, "/"), Client: &http.Client{Timeout: timeout}}
}

type embedRequest struct {
	Image string `json:"image"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Similarity embeds both crops concurrently and compares the vectors.
func (h *HTTPEmbedder) Similarity(ctx context.Context, a, b image.Image) (float64, error) {
	var ea, eb []float64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		ea, err = h.embed(gctx, a)
		return err
	})
	g.Go(func() (err error) {
		eb, err = h.embed(gctx, b)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}
	if len(ea) != len(eb) {
		return 0, fmt.Errorf("embedding size mismatch: %d vs %d", len(ea), len(eb))
	}
	return clamp01(Cosine(ea, eb)), nil
}

func (h *HTTPEmbedder) embed(ctx context.Context, img image.Image) ([]float64, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode face crop: %w", err)
	}
	body, err := json.Marshal(embedRequest{Image: base64.StdEncoding.EncodeToString(buf.Bytes())})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embedding service returned an empty vector")
	}
	return out.Embedding, nil
}
