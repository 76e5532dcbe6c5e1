package redis

import (
	"context"
	"fmt"
	"time"
)

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c.cmd == nil {
		return errNotInitialized
	}
	return c.cmd.Set(ctx, key, value, ttl).Err()
}

// Get returns Nil for a missing key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c.cmd == nil {
		return "", errNotInitialized
	}
	return c.cmd.Get(ctx, key).Result()
}

// SetNX reports whether this call created the key.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if c.cmd == nil {
		return false, errNotInitialized
	}
	return c.cmd.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c.cmd == nil {
		return errNotInitialized
	}
	return c.cmd.Del(ctx, keys...).Err()
}

// IncrWithTTL increments key and pushes its expiry out to ttl, so a counter
// lives until it has been idle for ttl.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if c.cmd == nil {
		return 0, errNotInitialized
	}
	n, err := c.cmd.Incr(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return n, err
	}
	return n, c.cmd.Expire(ctx, key, ttl).Err()
}

func (c *Client) Publish(ctx context.Context, channel string, message any) error {
	if c.cmd == nil {
		return errNotInitialized
	}
	return c.cmd.Publish(ctx, channel, message).Err()
}

// Subscribe relays payloads published on channel until ctx ends or the
// returned func closes the subscription. The channel closes with it.
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error) {
	if c.conn == nil {
		return nil, nil, errNotInitialized
	}
	sub := c.conn.Subscribe(ctx, channel)
	// wait for the subscribe confirmation so nothing published after we
	// return is missed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	out := make(chan string)
	go func() {
		defer close(out)
		in := sub.Channel()
		for {
			var payload string
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				payload = msg.Payload
			}
			select {
			case out <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, sub.Close, nil
}
