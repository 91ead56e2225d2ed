package complexity

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quel-tryon-server/modules/common/telemetry"
	"quel-tryon-server/modules/tryon/constraints"
)

func TestSelectBoundaries(t *testing.T) {
	scores := []int{0, 39, 40, 69, 70, 100}
	want := []constraints.Mode{
		constraints.ModeFull, constraints.ModeFull,
		constraints.ModeBalanced, constraints.ModeBalanced,
		constraints.ModeSimplified, constraints.ModeSimplified,
	}
	for i, s := range scores {
		assert.Equal(t, want[i], Select(s), "score %d", s)
	}
}

func TestSelectIsMonotonicAndTotal(t *testing.T) {
	rank := map[constraints.Mode]int{constraints.ModeFull: 0, constraints.ModeBalanced: 1, constraints.ModeSimplified: 2}
	prev := -1
	for s := -10; s <= 110; s++ {
		r := rank[Select(s)]
		assert.GreaterOrEqual(t, r, prev, "score %d", s)
		prev = r
	}
	assert.Equal(t, constraints.ModeFull, Select(-5))
	assert.Equal(t, constraints.ModeSimplified, Select(250))
}

func TestDecide(t *testing.T) {
	d := Decide(85, nil, false)
	assert.Equal(t, constraints.ModeSimplified, d.Mode)
	assert.True(t, d.Scored)

	d = Decide(0, errors.New("quota"), false)
	assert.Equal(t, constraints.ModeBalanced, d.Mode)
	assert.False(t, d.Scored)
	assert.Contains(t, d.Reason, "quota")

	d = Decide(10, nil, true)
	assert.Equal(t, constraints.ModeSimplified, d.Mode)
	assert.Equal(t, "forced", d.Reason)
}

type slowScorer struct{}

func (slowScorer) Score(ctx context.Context, _ []byte) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestSelectorScoreHonoursTimeout(t *testing.T) {
	s := NewSelector(slowScorer{}, 10*time.Millisecond, nil)
	_, err := s.Score(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSelectorChooseEmitsEvent(t *testing.T) {
	rec := telemetry.NewRecorder()
	s := NewSelector(nil, 0, nil)

	d := s.Choose(55, nil, false, telemetry.NewScoped(rec, "r1", "mode"))
	assert.Equal(t, constraints.ModeBalanced, d.Mode)

	events := rec.Find("mode_selected")
	require.Len(t, events, 1)
	assert.Equal(t, "balanced", events[0].Fields["mode"])
	assert.Equal(t, 55, events[0].Fields["score"])
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLocalScorerRanksPlainBelowBusy(t *testing.T) {
	plain := image.NewRGBA(image.Rect(0, 0, 200, 200))
	for i := range plain.Pix {
		plain.Pix[i] = 200
	}

	busy := image.NewRGBA(image.Rect(0, 0, 200, 200))
	rng := rand.New(rand.NewSource(7))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			busy.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}

	s := NewLocalScorer()
	plainScore, err := s.Score(context.Background(), encodePNG(t, plain))
	require.NoError(t, err)
	busyScore, err := s.Score(context.Background(), encodePNG(t, busy))
	require.NoError(t, err)

	assert.Less(t, plainScore, BalancedFrom)
	assert.GreaterOrEqual(t, busyScore, SimplifiedFrom)
}

func TestLocalScorerRejectsGarbage(t *testing.T) {
	_, err := NewLocalScorer().Score(context.Background(), []byte("nope"))
	assert.Error(t, err)
}
