package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aadhaar-velocity/internal/model"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "series:Kerala/Kochi:ab12:SMA", Key("Kerala/Kochi", "ab12", "SMA"))
	assert.Equal(t, "series:Kerala/Kochi:*", locationPattern("Kerala/Kochi"))
}

func TestCache_UnreachableTripsBreaker(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewWithClient(client, zerolog.Nop())
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < breakerFailures; i++ {
		_, err := c.Get(ctx, "series:x:y:z")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCacheMiss)
	}
	assert.Equal(t, StateOpen, c.Breaker().CurrentState())

	_, err := c.Get(ctx, "series:x:y:z")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, c.Set(ctx, "k", model.IndicatorResult{}, time.Minute), ErrCircuitOpen)
	assert.ErrorIs(t, c.Invalidate(ctx, "x"), ErrCircuitOpen)
}

// TestCache_RoundTrip runs against a live server when
// VELOCITY_TEST_REDIS_ADDR is set.
func TestCache_RoundTrip(t *testing.T) {
	addr := os.Getenv("VELOCITY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VELOCITY_TEST_REDIS_ADDR not set")
	}
	c, err := New(Config{Addr: addr, DB: 15}, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	res := model.IndicatorResult{Name: "SMA", Kind: model.KindOverlay, Status: model.StatusOK,
		Points: []model.SeriesPoint{{Time: 100, Value: 1.5}}}
	key := Key("Test/Loc", "fp", "SMA")
	other := Key("Test/Other", "fp", "SMA")

	_, err = c.Get(ctx, key)
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, key, res, time.Minute))
	require.NoError(t, c.Set(ctx, other, res, time.Minute))
	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, res, got)

	require.NoError(t, c.Invalidate(ctx, "Test/Loc"))
	_, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, other)
	assert.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, "Test/Other"))
	assert.Equal(t, StateClosed, c.Breaker().CurrentState())
}
