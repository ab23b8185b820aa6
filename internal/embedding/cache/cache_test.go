package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (c *countingEmbedder) Name() string   { return "counting" }
func (c *countingEmbedder) Dimension() int { return 2 }
func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func TestLocalCacheHit(t *testing.T) {
	next := &countingEmbedder{}
	e, err := New(next, Config{Size: 4}, nil)
	require.NoError(t, err)

	a, err := e.Embed(context.Background(), "abc")
	require.NoError(t, err)
	a[0] = 99 // callers must not be able to poison the cache
	b, err := e.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, b)
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, 1, e.Len())
}

func TestErrorsAreNotCached(t *testing.T) {
	next := &countingEmbedder{err: errors.New("down")}
	e, err := New(next, Config{}, nil)
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "x")
	assert.Error(t, err)
	_, err = e.Embed(context.Background(), "x")
	assert.Error(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestRedisTierSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	first := &countingEmbedder{}
	e1, err := New(first, Config{Redis: client}, nil)
	require.NoError(t, err)
	_, err = e1.Embed(context.Background(), "hello")
	require.NoError(t, err)

	second := &countingEmbedder{}
	e2, err := New(second, Config{Redis: client}, nil)
	require.NoError(t, err)
	v, err := e2.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 1}, v)
	assert.Equal(t, 0, second.calls)
	assert.Len(t, mr.Keys(), 1)
}

func TestRedisDownFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	next := &countingEmbedder{}
	e, err := New(next, Config{Redis: client}, nil)
	require.NoError(t, err)
	v, err := e.Embed(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 1}, v)
	assert.Equal(t, 1, next.calls)
}
