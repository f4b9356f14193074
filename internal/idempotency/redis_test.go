package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, exp time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	f.ttls[key] = exp
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, exp time.Duration) *redis.StatusCmd {
	f.values[key] = value.(string)
	if exp != redis.KeepTTL {
		f.ttls[key] = exp
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	n := 0
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			delete(f.ttls, k)
			n++
		}
	}
	return redis.NewIntResult(int64(n), nil)
}

func TestRedisStore_ClaimOnce(t *testing.T) {
	fr := newFakeRedis()
	s := NewRedisStoreWithClient(fr, "", 48*time.Hour)
	ctx := context.Background()

	ok, err := s.Claim(ctx, "d1", "products/update")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 48*time.Hour, fr.ttls["relay:delivery:d1"])

	ok, err = s.Claim(ctx, "d1", "products/update")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.MarkDone(ctx, "d1"))
	assert.Equal(t, StatusDone, fr.values["relay:delivery:d1"])
	assert.Equal(t, 48*time.Hour, fr.ttls["relay:delivery:d1"], "ttl kept")

	require.NoError(t, s.Release(ctx, "d1"))
	ok, err = s.Claim(ctx, "d1", "products/update")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStore_ClaimError(t *testing.T) {
	fr := newFakeRedis()
	fr.err = errors.New("connection refused")
	s := NewRedisStoreWithClient(fr, "p:", time.Hour)

	_, err := s.Claim(context.Background(), "d1", "")
	assert.ErrorIs(t, err, fr.err)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := s.Claim(ctx, "a", "")
	assert.True(t, ok)
	ok, _ = s.Claim(ctx, "a", "")
	assert.False(t, ok)

	require.NoError(t, s.MarkDone(ctx, "a"))
	ok, _ = s.Claim(ctx, "a", "")
	assert.False(t, ok, "done deliveries stay remembered")

	now = now.Add(2 * time.Hour)
	ok, _ = s.Claim(ctx, "a", "")
	assert.True(t, ok, "expired entries are forgotten")

	require.NoError(t, s.Release(ctx, "a"))
	assert.Equal(t, 0, s.Len())
}
