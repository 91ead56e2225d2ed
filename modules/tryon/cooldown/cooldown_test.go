package cooldown

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedStore() (*MemoryStore, *clock) {
	c := &clock{t: time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStore()
	s.now = c.now
	return s, c
}

func TestCooldownBetweenGenerations(t *testing.T) {
	store, clk := newClockedStore()
	l := New(store, Policy{Cooldown: 20 * time.Second, MaxRegenerations: 5, Window: time.Hour}, nil)
	ctx := context.Background()

	d, err := l.Allow(ctx, "user-1", "src")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Generation)

	clk.advance(5 * time.Second)
	d, err = l.Allow(ctx, "user-1", "src")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 15*time.Second, d.RetryAfter)

	other, err := l.Allow(ctx, "user-2", "src")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	clk.advance(15 * time.Second)
	d, err = l.Allow(ctx, "user-1", "src")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(2), d.Generation)
}

func TestRegenerationCap(t *testing.T) {
	store, clk := newClockedStore()
	l := New(store, Policy{Cooldown: time.Second, MaxRegenerations: 2, Window: time.Hour}, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := l.Allow(ctx, "u", "photo")
		require.NoError(t, err)
		require.True(t, d.Allowed, "generation %d", i)
		clk.advance(2 * time.Second)
	}

	d, err := l.Allow(ctx, "u", "photo")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "regeneration limit")
	assert.Equal(t, time.Hour-6*time.Second, d.RetryAfter)

	fresh, err := l.Allow(ctx, "u", "another-photo")
	require.NoError(t, err)
	assert.True(t, fresh.Allowed)

	clk.advance(time.Hour)
	d, err = l.Allow(ctx, "u", "photo")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRefundReleasesCooldownAndRegeneration(t *testing.T) {
	store, clk := newClockedStore()
	l := New(store, Policy{Cooldown: time.Minute, MaxRegenerations: 1, Window: time.Hour}, nil)
	ctx := context.Background()

	d, err := l.Allow(ctx, "u", "photo")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.NoError(t, l.Refund(ctx, "u", "photo"))

	// neither the cooldown nor the generation count survive the refund
	d, err = l.Allow(ctx, "u", "photo")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Generation)

	clk.advance(time.Minute)
	d, err = l.Allow(ctx, "u", "photo")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Equal(t, int64(2), d.Generation)

	clk.advance(time.Minute)
	d, err = l.Allow(ctx, "u", "photo")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "regeneration limit")
}

func TestRefundNeverGoesNegative(t *testing.T) {
	store, _ := newClockedStore()
	l := New(store, Policy{Window: time.Hour, MaxRegenerations: 1}, nil)
	ctx := context.Background()

	require.NoError(t, l.Refund(ctx, "u", "photo"))
	require.NoError(t, l.Refund(ctx, "", "photo"))
	n, _, err := store.Count(ctx, regenKey("u", "photo"))
	require.NoError(t, err)
	assert.Zero(t, n)

	d, err := l.Allow(ctx, "u", "photo")
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Generation)
}

func TestAnonymousRequestsAreNotLimited(t *testing.T) {
	l := New(nil, Policy{Cooldown: time.Hour, MaxRegenerations: 1, Window: time.Hour}, nil)
	for i := 0; i < 3; i++ {
		d, err := l.Allow(context.Background(), "", "src")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}

func TestRedisFailureFallsBackToMemory(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	l := New(NewRedisStore(rdb), Policy{Cooldown: time.Minute, MaxRegenerations: 3, Window: time.Hour}, nil)
	ctx := context.Background()

	d, err := l.Allow(ctx, "u", "src")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, "u", "src")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestSourceKey(t *testing.T) {
	assert.Equal(t, SourceKey([]byte("a")), SourceKey([]byte("a")))
	assert.NotEqual(t, SourceKey([]byte("a")), SourceKey([]byte("b")))
	assert.Len(t, SourceKey(nil), 16)
}
