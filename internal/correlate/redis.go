package correlate

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix is the Redis pub/sub channel prefix for reply tokens.
const DefaultChannelPrefix = "agentuity:reply:"

// RedisCorrelator bridges reply delivery across replicas. A reply callback
// can land on any replica behind a load balancer; publishing it on the
// token's channel lets the replica that owns the waiting invocation pick it
// up through its subscription.
//
// Local bookkeeping still lives in a Registry, so deadlines and single
// resolution behave exactly as in the single-process case.
type RedisCorrelator struct {
	client *redis.Client
	local  *Registry
	prefix string
}

// RedisOption configures a RedisCorrelator.
type RedisOption func(*RedisCorrelator)

// WithChannelPrefix overrides the pub/sub channel prefix.
func WithChannelPrefix(prefix string) RedisOption {
	return func(c *RedisCorrelator) {
		c.prefix = prefix
	}
}

// NewRedisCorrelator wraps local with a Redis pub/sub bridge.
func NewRedisCorrelator(client *redis.Client, local *Registry, opts ...RedisOption) (*RedisCorrelator, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if local == nil {
		return nil, errors.New("local registry is required")
	}
	c := &RedisCorrelator{
		client: client,
		local:  local,
		prefix: DefaultChannelPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Register stores the pending invocation locally and subscribes to the
// token's channel. The subscription is released once the entry settles.
func (c *RedisCorrelator) Register(ctx context.Context, token string) (*Pending, error) {
	p, err := c.local.Register(ctx, token)
	if err != nil {
		return nil, err
	}

	sub := c.client.Subscribe(ctx, c.prefix+token)
	// Force the SUBSCRIBE to complete before the caller dispatches the
	// invocation, so the reply cannot race past the subscription.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	go c.listen(token, p, sub)
	return p, nil
}

// Received publishes the reply to the token's channel. The owning replica's
// subscriber delivers it to the local registry. Publishing to a channel with
// no subscriber (unknown or already-resolved token) is a silent no-op.
func (c *RedisCorrelator) Received(ctx context.Context, token string, reply *Reply) {
	payload, err := json.Marshal(reply)
	if err != nil {
		log.Printf("[Correlate] failed to marshal reply for token %s: %v", token, err)
		return
	}
	if err := c.client.Publish(ctx, c.prefix+token, payload).Err(); err != nil {
		log.Printf("[Correlate] failed to publish reply for token %s: %v", token, err)
	}
}

func (c *RedisCorrelator) listen(token string, p *Pending, sub *redis.PubSub) {
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var reply Reply
			if err := json.Unmarshal([]byte(msg.Payload), &reply); err != nil {
				log.Printf("[Correlate] malformed reply on channel %s: %v", msg.Channel, err)
				continue
			}
			c.local.Received(context.Background(), token, &reply)
			return
		case <-p.Settled():
			return
		}
	}
}
