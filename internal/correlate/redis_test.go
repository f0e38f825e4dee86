package correlate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisCorrelatorDeliversReply(t *testing.T) {
	client := newTestRedis(t)
	c, err := NewRedisCorrelator(client, NewRegistry(0))
	require.NoError(t, err)

	ctx := context.Background()
	p, err := c.Register(ctx, "tok_r1")
	require.NoError(t, err)

	c.Received(ctx, "tok_r1", &Reply{ContentType: "text/plain", Payload: "aGVsbG8="})

	awaitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	got, err := p.Await(awaitCtx)
	require.NoError(t, err)
	assert.Equal(t, "aGVsbG8=", got.Payload)
	assert.Equal(t, "text/plain", got.ContentType)
}

func TestRedisCorrelatorUnknownTokenNoOp(t *testing.T) {
	client := newTestRedis(t)
	c, err := NewRedisCorrelator(client, NewRegistry(0))
	require.NoError(t, err)

	// No subscriber for this token; publish lands nowhere.
	c.Received(context.Background(), "tok_nobody", &Reply{Payload: "eA=="})
}

func TestRedisCorrelatorDeadlineStillApplies(t *testing.T) {
	client := newTestRedis(t)
	c, err := NewRedisCorrelator(client, NewRegistry(20*time.Millisecond))
	require.NoError(t, err)

	p, err := c.Register(context.Background(), "tok_r2")
	require.NoError(t, err)

	_, err = p.Await(context.Background())
	assert.ErrorIs(t, err, ErrReplyTimeout)
}

func TestRedisCorrelatorRequiresClient(t *testing.T) {
	_, err := NewRedisCorrelator(nil, NewRegistry(0))
	assert.Error(t, err)
	client := newTestRedis(t)
	_, err = NewRedisCorrelator(client, nil)
	assert.Error(t, err)
}
