package synthesis

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quel-tryon-server/modules/common/telemetry"
	"quel-tryon-server/modules/tryon/tryonerr"
)

type fakeEngine struct {
	out   []byte
	err   error
	delay time.Duration
	calls int
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Generate(ctx context.Context, _ string, _, _ []byte) ([]byte, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.out, f.err
}

func TestInvokeSuccess(t *testing.T) {
	rec := telemetry.NewRecorder()
	engine := &fakeEngine{out: []byte("img")}
	inv := NewInvoker(engine, time.Second, nil)

	out, err := inv.Invoke(context.Background(), "prompt", []byte("a"), []byte("b"), telemetry.NewScoped(rec, "r1", stage))
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), out)
	assert.Equal(t, 1, engine.calls)
	assert.Equal(t, []string{"synthesis_started", "synthesis_completed"}, rec.Names())
}

func TestInvokeFailuresAreSynthesisFailed(t *testing.T) {
	cases := map[string]*fakeEngine{
		"engine error": {err: errors.New("500 internal")},
		"empty image":  {},
		"timeout":      {out: []byte("late"), delay: time.Second},
	}
	for name, engine := range cases {
		t.Run(name, func(t *testing.T) {
			rec := telemetry.NewRecorder()
			inv := NewInvoker(engine, 20*time.Millisecond, nil)

			_, err := inv.Invoke(context.Background(), "p", nil, nil, telemetry.NewScoped(rec, "r", stage))
			require.Error(t, err)
			assert.ErrorIs(t, err, tryonerr.SynthesisFailed)
			assert.Equal(t, 1, engine.calls)
			assert.Len(t, rec.Find("synthesis_failed"), 1)
		})
	}
}

func TestInvokeHonoursCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := telemetry.NewRecorder()
	_, err := NewInvoker(&fakeEngine{delay: time.Second}, time.Minute, nil).Invoke(ctx, "p", nil, nil, telemetry.NewScoped(rec, "r", stage))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, tryonerr.SynthesisFailed)
	assert.Len(t, rec.Find("synthesis_cancelled"), 1)
	assert.Empty(t, rec.Find("synthesis_failed"))
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestAspectRatioFor(t *testing.T) {
	assert.Equal(t, "1:1", AspectRatioFor(encodePNG(t, 64, 64)))
	assert.Equal(t, "4:5", AspectRatioFor(encodePNG(t, 80, 100)))
	assert.Equal(t, "16:9", AspectRatioFor(encodePNG(t, 160, 90)))
	assert.Equal(t, "9:16", AspectRatioFor(encodePNG(t, 90, 160)))
	assert.Equal(t, "", AspectRatioFor([]byte("nope")))
}

func TestMimeType(t *testing.T) {
	assert.Equal(t, "image/png", mimeType(encodePNG(t, 2, 2)))
	assert.Equal(t, "image/png", mimeType([]byte("text")))
	assert.Equal(t, "png", mimeFormat(encodePNG(t, 2, 2)))
}
