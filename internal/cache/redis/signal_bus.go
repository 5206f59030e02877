package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// defaultStreamMaxLen caps the durable event stream; XADD trims with MAXLEN ~
// so old entries age out as new lifecycle events arrive.
const defaultStreamMaxLen int64 = 10000

// payloadField is the single field each stream entry carries.
const payloadField = "payload"

// subscribeBuffer is the per-subscription delivery buffer.
const subscribeBuffer = 128

// SignalBus implements domain.SignalBus. Pub/Sub carries live lifecycle
// events to other processes; a capped stream keeps a replayable tail for
// consumers that connect late.
type SignalBus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewSignalBus creates a SignalBus with the default stream cap.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying(), maxLen: defaultStreamMaxLen}
}

// Publish sends payload to a Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a Pub/Sub subscription on channel and returns a channel of
// raw payloads. Both the subscription and the returned channel close when ctx
// is cancelled. Payloads that arrive faster than the consumer drains are
// dropped rather than blocking the pump.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := sb.rdb.Subscribe(ctx, channel)

	// Wait for the subscription confirmation so a caller that publishes
	// immediately after Subscribe returns does not lose the message.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscribeBuffer)
	go func() {
		defer close(out)
		defer sub.Close()

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
				}
			}
		}
	}()
	return out, nil
}

// StreamAppend appends payload to the durable stream, trimming it to the
// configured approximate cap.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: sb.maxLen,
		Approx: true,
		Values: map[string]any{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID ("0" reads from the
// beginning, "$" only new entries). No pending entries is not an error; the
// result is simply nil.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	res, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var out []domain.StreamMessage
	for _, s := range res {
		for _, entry := range s.Messages {
			data, ok := entryPayload(entry)
			if !ok {
				continue
			}
			out = append(out, domain.StreamMessage{ID: entry.ID, Payload: data})
		}
	}
	return out, nil
}

func entryPayload(entry redis.XMessage) ([]byte, bool) {
	switch v := entry.Values[payloadField].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)
