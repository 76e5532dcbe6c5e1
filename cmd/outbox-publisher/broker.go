package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/storefront-checkout/pkg/outbox/registry"
)

const jitterWindow = 250 * time.Millisecond

// broker delivers one message and waits for the server ack.
type broker interface {
	Ping(context.Context) error
	Send(ctx context.Context, topic string, msg *gcppubsub.Message) error
}

type pubsubPublishers interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type pubsubBroker struct {
	client pubsubPublishers
}

func newPubSubBroker(client pubsubPublishers) *pubsubBroker {
	return &pubsubBroker{client: client}
}

func (b *pubsubBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx)
}

func (b *pubsubBroker) Send(ctx context.Context, topic string, msg *gcppubsub.Message) error {
	pub := b.client.Publisher(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))
	}
	_, err := pub.Publish(ctx, msg).Get(ctx)
	return err
}

// pollBackoff doubles the wait after each failed batch up to max and falls
// back to base, with jitter, once batches succeed.
type pollBackoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
	rnd     *rand.Rand
}

func newPollBackoff(base, max time.Duration) *pollBackoff {
	return &pollBackoff{base: base, max: max, current: base, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (b *pollBackoff) failed() time.Duration {
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return b.jitter(b.current)
}

func (b *pollBackoff) idle() time.Duration {
	b.reset()
	return b.jitter(b.base)
}

func (b *pollBackoff) reset() {
	b.current = b.base
}

func (b *pollBackoff) jitter(d time.Duration) time.Duration {
	return d + time.Duration(b.rnd.Int63n(int64(jitterWindow)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
